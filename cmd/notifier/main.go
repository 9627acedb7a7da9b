// Copyright 2018-present Skroutz S.A.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/urfave/cli"

	"github.com/appfoundry/buildfleet/pkg/backend"
	"github.com/appfoundry/buildfleet/pkg/config"
	"github.com/appfoundry/buildfleet/pkg/filesystem"
	_ "github.com/appfoundry/buildfleet/pkg/filesystem/btrfs"
	_ "github.com/appfoundry/buildfleet/pkg/filesystem/plainfs"
	"github.com/appfoundry/buildfleet/pkg/lifecycle"
	"github.com/appfoundry/buildfleet/pkg/metrics"
	"github.com/appfoundry/buildfleet/pkg/notifier"
	"github.com/appfoundry/buildfleet/pkg/queue"
	"github.com/appfoundry/buildfleet/pkg/types"
	"github.com/appfoundry/buildfleet/pkg/utils"
)

const Version = "0.1.0"

var VersionSuffix string

func main() {
	app := cli.NewApp()
	app.Name = "notifier"
	app.Usage = "Drains the durable notification queue and uploads job results"
	app.Version = Version
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "config, c", Value: "config.json", Usage: "Load configuration from `FILE`"},
		cli.StringFlag{Name: "env", Value: "production", Usage: "Environment: develop, testing or production"},
		cli.StringFlag{Name: "filesystem", Value: "plain", Usage: "Which filesystem adapter to use"},
		cli.BoolFlag{Name: "daemon", Usage: "Run as a long-lived daemon instead of a single pass"},
		cli.StringFlag{Name: "queue-path", Value: "queue.db", Usage: "path to the durable notification queue"},
		cli.StringFlag{Name: "metrics-addr", Value: ":9103", Usage: "Address to serve the Prometheus /metrics endpoint on"},
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	envTag, err := types.ParseEnvironment(c.String("env"))
	if err != nil {
		return err
	}
	fs, err := filesystem.Get(c.String("filesystem"))
	if err != nil {
		return err
	}
	cfg, err := config.ParseFile(c.String("config"), envTag, fs)
	if err != nil {
		return err
	}

	paths := types.NewPaths(cfg.WorkspaceRoot)

	logger, logCloser, err := utils.ServiceLogger("[notifier] ", paths.LogFile("notifier"))
	if err != nil {
		return err
	}
	defer logCloser.Close()

	if err := utils.WritePIDFile(paths.PidFile("notifier")); err != nil {
		logger.Printf("could not write pid file (continuing): %s", err)
	}
	defer utils.RemovePIDFile(paths.PidFile("notifier"))

	q, err := queue.Open(c.String("queue-path"))
	if err != nil {
		return fmt.Errorf("open queue: %w", err)
	}
	defer q.Close()

	rec := metrics.NewRecorder(logger)
	go func() {
		if err := http.ListenAndServe(c.String("metrics-addr"), rec.Handler()); err != nil {
			logger.Printf("metrics server stopped: %s", err)
		}
	}()

	bc := backend.New(cfg.Backend.BaseURL, cfg.Backend.Token)
	n := &notifier.Notifier{Log: logger, Paths: paths, Queue: q, Backend: bc, Env: envTag, Metrics: rec}

	if !c.Bool("daemon") {
		return n.Iterate(context.Background())
	}

	svc := &lifecycle.Service{
		Log:          logger,
		ID:           "notifier",
		Env:          envTag,
		Paths:        paths,
		LoopInterval: 5 * time.Second,
		Daemon:       true,
		Backend:      bc,
		Iterate:      n.Iterate,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go utils.WaitForSignal(func() { svc.Stop(ctx) })
	return svc.Start(ctx)
}
