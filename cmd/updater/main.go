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
	"log"
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
	"github.com/appfoundry/buildfleet/pkg/objectstore"
	"github.com/appfoundry/buildfleet/pkg/types"
	"github.com/appfoundry/buildfleet/pkg/updater"
	"github.com/appfoundry/buildfleet/pkg/utils"
)

// Version adheres to SemVer; VersionSuffix is populated at build time
// with -ldflags from the Git SHA1.
const Version = "0.1.0"

var VersionSuffix string

func main() {
	app := cli.NewApp()
	app.Name = "updater"
	app.Usage = "Reconciles the local dependency cache with the remote object store"
	app.Version = Version
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "config, c", Value: "config.json", Usage: "Load configuration from `FILE`"},
		cli.StringFlag{Name: "env", Value: "production", Usage: "Environment: develop, testing or production"},
		cli.StringFlag{Name: "filesystem", Value: "plain", Usage: "Which filesystem adapter to use"},
		cli.BoolFlag{Name: "daemon", Usage: "Run as a long-lived daemon instead of a single pass"},
		cli.StringFlag{Name: "metrics-addr", Value: ":9101", Usage: "Address to serve the Prometheus /metrics endpoint on"},
	}
	app.Action = run
	app.Commands = []cli.Command{
		{
			Name:      "prune-cache",
			Usage:     "Force a redownload of one or more cache subtrees on the next pass",
			ArgsUsage: "[PROJECT...]",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "config, c", Value: "config.json", Usage: "Load configuration from `FILE`"},
				cli.StringFlag{Name: "env", Value: "production", Usage: "Environment: develop, testing or production"},
				cli.StringFlag{Name: "filesystem", Value: "plain", Usage: "Which filesystem adapter to use"},
			},
			Action: pruneCache,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// pruneCache is the `updater prune-cache` subcommand: it edits the
// persisted manifest directly, so it must not run concurrently with a
// live updater daemon sharing the same workspace root.
func pruneCache(c *cli.Context) error {
	logger := log.New(os.Stderr, "[updater] ", log.LstdFlags)

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

	u := &updater.Updater{Log: logger, Paths: types.NewPaths(cfg.WorkspaceRoot), FileSystem: fs}
	if err := u.PruneCache(c.Args()); err != nil {
		return fmt.Errorf("prune cache: %w", err)
	}
	return nil
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

	logger, logCloser, err := utils.ServiceLogger("[updater] ", paths.LogFile("updater"))
	if err != nil {
		return err
	}
	defer logCloser.Close()

	if err := utils.WritePIDFile(paths.PidFile("updater")); err != nil {
		logger.Printf("could not write pid file (continuing): %s", err)
	}
	defer utils.RemovePIDFile(paths.PidFile("updater"))

	store, err := objectstore.New(context.Background(),
		cfg.ObjectStore.Endpoint, cfg.ObjectStore.Region, cfg.EnvConfig.BucketName,
		cfg.ObjectStore.AccessKey, cfg.ObjectStore.SecretKey)
	if err != nil {
		return fmt.Errorf("connect to object store: %w", err)
	}

	rec := metrics.NewRecorder(logger)
	go func() {
		if err := http.ListenAndServe(c.String("metrics-addr"), rec.Handler()); err != nil {
			logger.Printf("metrics server stopped: %s", err)
		}
	}()

	u := &updater.Updater{Log: logger, Paths: paths, Store: store, FileSystem: fs, Metrics: rec}

	svc := &lifecycle.Service{
		Log:          logger,
		ID:           "updater",
		Env:          envTag,
		Paths:        paths,
		LoopInterval: 60 * time.Second,
		Daemon:       c.Bool("daemon"),
		Iterate:      u.Iterate,
	}
	if cfg.Backend.BaseURL != "" {
		svc.Backend = backend.New(cfg.Backend.BaseURL, cfg.Backend.Token)
	}

	if !c.Bool("daemon") {
		return u.Iterate(context.Background())
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go utils.WaitForSignal(func() { svc.Stop(ctx) })
	return svc.Start(ctx)
}
