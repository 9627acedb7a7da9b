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
	"path/filepath"
	"time"

	"github.com/urfave/cli"

	"github.com/appfoundry/buildfleet/pkg/backend"
	"github.com/appfoundry/buildfleet/pkg/builder"
	"github.com/appfoundry/buildfleet/pkg/config"
	"github.com/appfoundry/buildfleet/pkg/filesystem"
	_ "github.com/appfoundry/buildfleet/pkg/filesystem/btrfs"
	_ "github.com/appfoundry/buildfleet/pkg/filesystem/plainfs"
	"github.com/appfoundry/buildfleet/pkg/lifecycle"
	"github.com/appfoundry/buildfleet/pkg/metrics"
	"github.com/appfoundry/buildfleet/pkg/queue"
	"github.com/appfoundry/buildfleet/pkg/types"
	"github.com/appfoundry/buildfleet/pkg/utils"
)

const Version = "0.1.0"

var (
	VersionSuffix string

	// localPlatforms are the platforms this host's build child can
	// produce, advertised on every FetchJob call (spec.md §4.3 step 3).
	localPlatforms = []string{"android", "ios", "osx", "windows", "ubuntu"}
)

func main() {
	app := cli.NewApp()
	app.Name = "builder"
	app.Usage = "Fetches and runs build jobs"
	app.Version = Version
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "config, c", Value: "config.json", Usage: "Load configuration from `FILE`"},
		cli.StringFlag{Name: "env", Value: "production", Usage: "Environment: develop, testing or production"},
		cli.StringFlag{Name: "filesystem", Value: "plain", Usage: "Which filesystem adapter to use"},
		cli.StringFlag{Name: "log-level", Value: "info"},
		cli.BoolFlag{Name: "daemon", Usage: "Run as a long-lived daemon instead of a single job"},
		cli.StringFlag{Name: "path", Usage: "one-shot mode: path to a config.json to build"},
		cli.StringFlag{Name: "queue-path", Value: "queue.db", Usage: "path to the durable notification queue"},
		cli.StringFlag{Name: "child-command", Value: "buildchild", Usage: "path to the buildchild binary"},
		cli.StringFlag{Name: "metrics-addr", Value: ":9102", Usage: "Address to serve the Prometheus /metrics endpoint on"},
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

	logger, logCloser, err := utils.ServiceLogger("[builder] ", paths.LogFile("builder"))
	if err != nil {
		return err
	}
	defer logCloser.Close()

	if err := utils.WritePIDFile(paths.PidFile("builder")); err != nil {
		logger.Printf("could not write pid file (continuing): %s", err)
	}
	defer utils.RemovePIDFile(paths.PidFile("builder"))

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

	b := &builder.Builder{
		Log:          logger,
		Paths:        paths,
		ConfigRoot:   filepath.Dir(c.String("config")),
		Queue:        q,
		ChildCommand: c.String("child-command"),
		Env:          envTag,
		LogLevel:     c.String("log-level"),
		Metrics:      rec,
	}

	if !c.Bool("daemon") {
		path := c.String("path")
		if path == "" {
			return fmt.Errorf("one-shot mode requires --path")
		}
		b.Source = &builder.FileSource{Path: path}
		ctx := context.Background()
		if err := b.Iterate(ctx); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(-1)
		}
		return nil
	}

	b.Source = &builder.DaemonSource{
		Backend:   backend.New(cfg.Backend.BaseURL, cfg.Backend.Token),
		Platforms: localPlatforms,
	}

	svc := &lifecycle.Service{
		Log:          logger,
		ID:           "builder",
		Env:          envTag,
		Paths:        paths,
		LoopInterval: 5 * time.Second,
		Daemon:       true,
		Backend:      backend.New(cfg.Backend.BaseURL, cfg.Backend.Token),
		Iterate:      b.Iterate,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go utils.WaitForSignal(func() { svc.Stop(ctx) })
	return svc.Start(ctx)
}
