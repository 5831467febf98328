// File: internal/config/config.go
// Brief: Flag plumbing and runtime options shared by stackd commands.

// Package config translates Cobra/Viper flag values into the strongly typed
// options the lifecycle core consumes.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Options holds the CLI and daemon configuration.
type Options struct {
	StatePath       string
	LogLevel        string
	RuntimeEndpoint string
	StopTimeoutRaw  string
	StopTimeout     time.Duration
	EnvironmentID   string
}

// NewOptions returns Options with defaults applied.
func NewOptions() *Options {
	return &Options{
		StatePath:       filepath.Join(".stackd", "state.sqlite"),
		LogLevel:        "info",
		RuntimeEndpoint: "unix:///var/run/docker.sock",
		StopTimeoutRaw:  "30s",
		EnvironmentID:   "default",
	}
}

// BindFlags attaches the shared flags to a FlagSet.
func (o *Options) BindFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.StatePath, "state", o.StatePath, "Path to the sqlite state database")
	fs.StringVar(&o.LogLevel, "log-level", o.LogLevel, "Log level: debug, info, warn, or error")
	fs.StringVar(&o.RuntimeEndpoint, "runtime", o.RuntimeEndpoint, "Container runtime endpoint")
	fs.StringVar(&o.StopTimeoutRaw, "stop-timeout", o.StopTimeoutRaw, "Grace period when stopping containers")
	fs.StringVar(&o.EnvironmentID, "environment", o.EnvironmentID, "Environment the deployments belong to")
}

// BindEnv layers STACKD_* environment variables and an optional config file
// over flag defaults.
func (o *Options) BindEnv(v *viper.Viper, configFile string) error {
	v.SetEnvPrefix("STACKD")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config file %s: %w", configFile, err)
		}
	}
	if val := v.GetString("state"); val != "" {
		o.StatePath = val
	}
	if val := v.GetString("log_level"); val != "" {
		o.LogLevel = val
	}
	if val := v.GetString("runtime"); val != "" {
		o.RuntimeEndpoint = val
	}
	if val := v.GetString("stop_timeout"); val != "" {
		o.StopTimeoutRaw = val
	}
	if val := v.GetString("environment"); val != "" {
		o.EnvironmentID = val
	}
	return nil
}

// Validate checks coherence and parses derived values.
func (o *Options) Validate() error {
	if strings.TrimSpace(o.StatePath) == "" {
		return fmt.Errorf("--state cannot be empty")
	}
	dur, err := time.ParseDuration(o.StopTimeoutRaw)
	if err != nil {
		return fmt.Errorf("invalid --stop-timeout %q: %w", o.StopTimeoutRaw, err)
	}
	if dur <= 0 {
		return fmt.Errorf("--stop-timeout must be positive")
	}
	o.StopTimeout = dur
	return nil
}
