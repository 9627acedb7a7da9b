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
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/urfave/cli"

	"github.com/appfoundry/buildfleet/pkg/adminapi"
	"github.com/appfoundry/buildfleet/pkg/broker"
	"github.com/appfoundry/buildfleet/pkg/config"
	"github.com/appfoundry/buildfleet/pkg/filesystem"
	_ "github.com/appfoundry/buildfleet/pkg/filesystem/btrfs"
	_ "github.com/appfoundry/buildfleet/pkg/filesystem/plainfs"
	"github.com/appfoundry/buildfleet/pkg/metrics"
	"github.com/appfoundry/buildfleet/pkg/types"
)

const Version = "0.1.0"

var (
	VersionSuffix string

	// siblingServices are the other three long-lived daemons this
	// process reports on (spec.md §4.6 "list all supervised sibling
	// services"). Each is expected to have written {id}.pid under the
	// workspace root on startup.
	siblingServices = []types.ServiceID{"updater", "builder", "notifier"}
)

func main() {
	app := cli.NewApp()
	app.Name = "adminapi"
	app.Usage = "Local HTTPS supervision endpoint for the sibling services"
	app.Version = Version
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "config, c", Value: "config.json", Usage: "Load configuration from `FILE`"},
		cli.StringFlag{Name: "env", Value: "production", Usage: "Environment: develop, testing or production"},
		cli.StringFlag{Name: "filesystem", Value: "plain", Usage: "Which filesystem adapter to use"},
		cli.StringFlag{Name: "cert", Usage: "TLS certificate path; a self-signed one is generated if omitted"},
		cli.StringFlag{Name: "key", Usage: "TLS key path; required if --cert is given"},
		cli.StringFlag{Name: "metrics-addr", Value: ":9104", Usage: "Address to serve the Prometheus /metrics endpoint on"},
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	logger := log.New(os.Stderr, "[adminapi] ", log.LstdFlags)

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

	rec := metrics.NewRecorder(logger)
	go func() {
		if err := http.ListenAndServe(c.String("metrics-addr"), rec.Handler()); err != nil {
			logger.Printf("metrics server stopped: %s", err)
		}
	}()

	br := broker.NewBroker(logger)
	go br.ListenForClients()

	srv := &adminapi.Server{
		Log:    logger,
		Paths:  paths,
		Token:  cfg.Backend.Token,
		Self:   types.ServiceID("adminapi"),
		Broker: br,
	}
	for _, id := range siblingServices {
		srv.Services = append(srv.Services, adminapi.Service{
			ID:      id,
			Version: Version,
			PID:     readPID(paths.PidFile(id)),
			LogPath: paths.LogFile(id),
		})
	}

	certPath, keyPath := c.String("cert"), c.String("key")
	if certPath == "" {
		certPath, keyPath, err = ensureSelfSignedCert(cfg.WorkspaceRoot)
		if err != nil {
			return fmt.Errorf("generate self-signed certificate: %w", err)
		}
	}

	logger.Printf("listening on %s", adminapi.Addr)
	return startTLSServer(adminapi.Addr, certPath, keyPath, srv.Handler())
}

func readPID(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	pid := 0
	fmt.Sscanf(string(data), "%d", &pid)
	return pid
}
