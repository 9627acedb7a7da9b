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
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/urfave/cli"

	"github.com/appfoundry/buildfleet/pkg/ipc"
	"github.com/appfoundry/buildfleet/pkg/pipeline"
	"github.com/appfoundry/buildfleet/pkg/pipeline/platform"
	"github.com/appfoundry/buildfleet/pkg/types"
	"github.com/appfoundry/buildfleet/pkg/utils"
)

// ipcFD is the file descriptor the Builder inherits its pipe's write end
// onto (spec.md §4.3 step 4, §9 "single structured message on an
// inherited pipe").
const ipcFD = 3

func main() {
	app := cli.NewApp()
	app.Name = "buildchild"
	app.Usage = "Runs a single build-pipeline job; spawned by the builder service"
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "env", Value: "production"},
		cli.StringFlag{Name: "log-level", Value: "info"},
		cli.BoolFlag{Name: "json"},
		cli.StringFlag{Name: "path", Usage: "path to the job's config.json"},
		cli.StringFlag{Name: "config-root", Value: "", Usage: "base path jobs' relative config/source URLs are resolved against"},
		cli.StringFlag{Name: "data-dir", Value: "data", Usage: "dependency cache root populated by the updater"},
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	logger := log.New(os.Stderr, "[buildchild] ", log.LstdFlags)

	se := buildOne(c, logger)
	if err := sendResult(se); err != nil {
		logger.Printf("could not send IPC result: %s", err)
	}
	if se != nil {
		logger.Printf("build failed: %s", se.Message)
		os.Exit(1)
	}
	return nil
}

func buildOne(c *cli.Context, logger *log.Logger) *types.StageError {
	path := c.String("path")
	if path == "" {
		return types.NewStageError("buildchild: missing --path", "Internal build configuration error.")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return types.NewStageError("buildchild: read config.json: "+err.Error(), "Could not read the job configuration.")
	}

	jr := types.JobRequest{}
	if err := json.Unmarshal(data, &jr); err != nil {
		return types.NewStageError("buildchild: parse config.json: "+err.Error(), "The job configuration was malformed.")
	}
	if err := jr.Validate(); err != nil {
		return types.NewStageError("buildchild: "+err.Error(), "The job configuration was incomplete.")
	}

	platformName, err := types.ParsePlatform(jr.Platforms[0])
	if err != nil {
		return types.NewStageError("buildchild: "+err.Error(), "Unknown target platform.")
	}

	rootPath := filepath.Dir(path)
	_, startTime, err := types.ParseDirName(filepath.Base(rootPath))
	if err != nil {
		return types.NewStageError("buildchild: "+err.Error(), "Internal build configuration error.")
	}

	job, err := types.NewJobAt(jr, platformName, startTime, rootPath)
	if err != nil {
		return types.NewStageError("buildchild: resolve job: "+err.Error(), "Could not resolve the job.")
	}

	backend, err := backendFor(job, c.String("data-dir"))
	if err != nil {
		return types.NewStageError("buildchild: "+err.Error(), "Unsupported target platform.")
	}

	return pipeline.Run(context.Background(), job, backend, c.String("config-root"))
}

// backendFor selects the PlatformBackend for job.Platform, tarring the
// Docker build context from the Updater-populated SDK cache for the
// two container-based platforms (spec.md §4.4, SPEC_FULL.md §6.6).
func backendFor(job *types.Job, dataDir string) (pipeline.PlatformBackend, error) {
	switch job.Platform {
	case types.Android:
		sdkDir := filepath.Join(dataDir, types.SDKsDir, "android-"+job.LibVersion)
		tar, err := utils.Tar(sdkDir)
		if err != nil {
			return nil, fmt.Errorf("tar android sdk: %w", err)
		}
		return &platform.Android{ImageTar: tar, CacheDir: filepath.Join(dataDir, types.LibsDir, job.LibVersion)}, nil
	case types.Ubuntu:
		sdkDir := filepath.Join(dataDir, types.SDKsDir, "ubuntu-"+job.LibVersion)
		tar, err := utils.Tar(sdkDir)
		if err != nil {
			return nil, fmt.Errorf("tar ubuntu sdk: %w", err)
		}
		return &platform.Ubuntu{ImageTar: tar, CacheDir: filepath.Join(dataDir, types.LibsDir, job.LibVersion)}, nil
	case types.IOS, types.OSX:
		return &platform.Apple{TargetPlatform: job.Platform}, nil
	case types.Windows:
		return &platform.Windows{}, nil
	default:
		return nil, fmt.Errorf("unsupported platform %q", job.Platform)
	}
}

func sendResult(se *types.StageError) error {
	f := os.NewFile(uintptr(ipcFD), "ipc")
	if f == nil {
		return fmt.Errorf("ipc file descriptor %d not available", ipcFD)
	}
	defer f.Close()
	return ipc.Send(f, ipc.FromStageError(se))
}
