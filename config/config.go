// Package config loads the notebook server's configuration surface:
// bind address, REPL command, preprocessor, and the run/fork/callback/
// sidechannel templates, decoded from TOML. The command in cmd/notebookd
// overlays its CLI flags on the loaded Config.
package config

import (
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"golang.org/x/xerrors"

	"github.com/brandonshearin/notebookd/worker"
)

// Config mirrors the server's recognized option table.
type Config struct {
	Addr string `toml:"addr"`
	Port int    `toml:"port"`

	ReplCommand   string   `toml:"repl_command"`
	ReplArguments []string `toml:"repl_arguments"`

	Preproc string `toml:"preproc"`

	BeforeRun string `toml:"before_run"`
	AfterRun  string `toml:"after_run"`

	Fork     string `toml:"fork"`
	ForkAddr string `toml:"fork_addr"`

	Callback        string `toml:"callback"`
	CallbackURL     string `toml:"callback_url"`
	CallbackPayload string `toml:"callback_payload"`

	Sidechannel string `toml:"sidechannel"`

	FromfilePrefix string `toml:"fromfile_prefix"`
}

// Default returns the configuration's documented defaults (spec
// section 6's option table).
func Default() Config {
	return Config{
		Addr:           "0.0.0.0",
		Port:           8000,
		FromfilePrefix: "@",
	}
}

// Load reads and decodes a TOML configuration file, overlaying it on
// top of Default(). An empty path returns Default() unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, xerrors.Errorf("config: read %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, xerrors.Errorf("config: parse %s: %w", path, err)
	}
	if cfg.FromfilePrefix == "" {
		cfg.FromfilePrefix = "@"
	}

	if err := cfg.resolveFromfile(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// resolveFromfile replaces every string option that starts with
// FromfilePrefix with the contents of the file named by the remainder
// of the value.
func (c *Config) resolveFromfile() error {
	fields := []*string{
		&c.ReplCommand, &c.Preproc, &c.BeforeRun, &c.AfterRun,
		&c.Fork, &c.ForkAddr, &c.Callback, &c.CallbackURL,
		&c.CallbackPayload, &c.Sidechannel,
	}
	for _, f := range fields {
		resolved, err := c.resolveValue(*f)
		if err != nil {
			return err
		}
		*f = resolved
	}
	for i, arg := range c.ReplArguments {
		resolved, err := c.resolveValue(arg)
		if err != nil {
			return err
		}
		c.ReplArguments[i] = resolved
	}
	return nil
}

func (c *Config) resolveValue(v string) (string, error) {
	if v == "" || !strings.HasPrefix(v, c.FromfilePrefix) {
		return v, nil
	}
	path := strings.TrimPrefix(v, c.FromfilePrefix)
	data, err := os.ReadFile(path)
	if err != nil {
		return "", xerrors.Errorf("config: fromfile %s: %w", path, err)
	}
	return string(data), nil
}

// ReplConfig projects the subset of Config the worker package needs to
// spawn a root worker's subprocess.
func (c Config) ReplConfig() worker.ReplConfig {
	return worker.ReplConfig{Command: c.ReplCommand, Arguments: c.ReplArguments}
}

// RunTemplates projects the subset of Config the worker package needs
// to compose a run snippet.
func (c Config) RunTemplates() worker.RunTemplates {
	return worker.RunTemplates{
		BeforeRun:        c.BeforeRun,
		AfterRun:         c.AfterRun,
		CallbackTemplate: c.Callback,
	}
}
