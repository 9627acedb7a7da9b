// Package config loads the Config every service binary needs, the way
// the teacher's ParseConfig does: a JSON file merged with CLI flags, plus
// environment-tag-dependent settings resolved from BUILDFLEET_*
// environment variables.
package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/caarlos0/env/v11"

	"github.com/appfoundry/buildfleet/pkg/filesystem"
	"github.com/appfoundry/buildfleet/pkg/types"
	"github.com/appfoundry/buildfleet/pkg/utils"
)

// Config holds the configuration values every service needs in order to
// function (spec.md §6 "CLI surface", §3 Environment).
type Config struct {
	Env       types.Environment
	LogLevel  string
	Daemon    bool
	ServiceID string

	WorkspaceRoot string            `json:"workspace_root"`
	FileSystem    filesystem.FileSystem

	Backend struct {
		BaseURL string `json:"base_url"`
		Token   string `json:"token"`
	} `json:"backend"`

	ObjectStore struct {
		Endpoint  string `json:"endpoint"`
		Region    string `json:"region"`
		AccessKey string `json:"access_key"`
		SecretKey string `json:"secret_key"`
	} `json:"object_store"`

	AdminAddr string `json:"admin_addr"`

	// Env-driven settings, resolved separately via ResolveEnvConfig.
	EnvConfig types.EnvConfig
}

// Parse accepts the already-resolved Environment, a
// filesystem adapter and a reader from which to parse the JSON
// configuration document, and returns a valid Config or an error
// (grounded on the teacher's ParseConfig).
func Parse(envTag types.Environment, fs filesystem.FileSystem, r io.Reader) (*Config, error) {
	cfg := new(Config)
	cfg.Env = envTag
	cfg.FileSystem = fs

	dec := json.NewDecoder(r)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if cfg.WorkspaceRoot == "" {
		return nil, fmt.Errorf("workspace_root must be provided")
	}
	if err := utils.PathIsDir(cfg.WorkspaceRoot); err != nil {
		return nil, err
	}

	envCfg, err := ResolveEnvConfig()
	if err != nil {
		return nil, err
	}
	cfg.EnvConfig = envCfg

	return cfg, nil
}

// ResolveEnvConfig reads BUILDFLEET_* environment variables into an
// EnvConfig, the pattern k11v-brick uses for environment-driven
// configuration (its cmd/server Config, parsed with caarlos0/env).
func ResolveEnvConfig() (types.EnvConfig, error) {
	cfg := types.EnvConfig{}
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: "BUILDFLEET_"}); err != nil {
		return cfg, fmt.Errorf("resolve env config: %w", err)
	}
	return cfg, nil
}

// ParseFile opens path and delegates to Parse.
func ParseFile(path string, envTag types.Environment, fs filesystem.FileSystem) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("cannot open configuration file: %w", err)
	}
	defer f.Close()
	return Parse(envTag, fs, f)
}
