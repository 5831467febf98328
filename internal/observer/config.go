// File: internal/observer/config.go
// Brief: Maintenance observer configuration.

// Package observer runs background reconciliation loops that mirror external
// system state into a deployment's operation mode. Observers only ever
// request mode transitions through the same command path the API layer uses;
// they never touch container state directly.
package observer

import (
	"fmt"
	"time"

	"github.com/example/stackd/pkg/manifest"
)

// Type selects the probe implementation of an observer.
type Type string

const (
	TypeSQLExtendedProperty Type = "sqlExtendedProperty"
	TypeSQLQuery            Type = "sqlQuery"
	TypeHTTP                Type = "http"
	TypeFile                Type = "file"
)

// FileMode selects how a file observer derives its value.
type FileMode string

const (
	FileModeExists  FileMode = "exists"
	FileModeContent FileMode = "content"
)

const (
	defaultPollingInterval = 30 * time.Second
	defaultProbeTimeout    = 10 * time.Second
)

// Config is one observer attached to a deployment. It is created with the
// deployment's manifest, polled while Enabled, and discarded when the
// deployment is removed.
type Config struct {
	Name             string            `json:"name"`
	Type             Type              `json:"type"`
	Enabled          bool              `json:"enabled"`
	PollingInterval  time.Duration     `json:"pollingInterval"`
	Timeout          time.Duration     `json:"timeout"`
	MaintenanceValue string            `json:"maintenanceValue"`
	NormalValue      string            `json:"normalValue"`
	Connection       string            `json:"connection,omitempty"`
	Driver           string            `json:"driver,omitempty"`
	Property         string            `json:"property,omitempty"`
	Query            string            `json:"query,omitempty"`
	URL              string            `json:"url,omitempty"`
	Method           string            `json:"method,omitempty"`
	Headers          map[string]string `json:"headers,omitempty"`
	JSONPath         string            `json:"jsonPath,omitempty"`
	FilePath         string            `json:"filePath,omitempty"`
	FileMode         FileMode          `json:"fileMode,omitempty"`
	ContentPattern   string            `json:"contentPattern,omitempty"`
}

// FromManifest converts a manifest observer definition, applying defaults.
func FromManifest(def manifest.ObserverDef) (Config, error) {
	cfg := Config{
		Name:             def.Name,
		Type:             Type(def.Type),
		Enabled:          def.Enabled,
		PollingInterval:  defaultPollingInterval,
		Timeout:          defaultProbeTimeout,
		MaintenanceValue: def.MaintenanceValue,
		NormalValue:      def.NormalValue,
		Connection:       def.Connection,
		Property:         def.Property,
		Query:            def.Query,
		URL:              def.URL,
		Method:           def.Method,
		Headers:          def.Headers,
		JSONPath:         def.JSONPath,
		FilePath:         def.FilePath,
		FileMode:         FileMode(def.FileMode),
		ContentPattern:   def.ContentPattern,
	}
	if def.PollingInterval != "" {
		d, err := time.ParseDuration(def.PollingInterval)
		if err != nil {
			return Config{}, fmt.Errorf("observer %s: invalid pollingInterval: %w", def.Name, err)
		}
		cfg.PollingInterval = d
	}
	if def.Timeout != "" {
		d, err := time.ParseDuration(def.Timeout)
		if err != nil {
			return Config{}, fmt.Errorf("observer %s: invalid timeout: %w", def.Name, err)
		}
		cfg.Timeout = d
	}
	return cfg, cfg.Validate()
}

// Validate checks the type-specific required fields.
func (c Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("observer name is required")
	}
	switch c.Type {
	case TypeSQLExtendedProperty:
		if c.Connection == "" || c.Property == "" {
			return fmt.Errorf("observer %s: sqlExtendedProperty requires connection and property", c.Name)
		}
	case TypeSQLQuery:
		if c.Connection == "" || c.Query == "" {
			return fmt.Errorf("observer %s: sqlQuery requires connection and query", c.Name)
		}
	case TypeHTTP:
		if c.URL == "" {
			return fmt.Errorf("observer %s: http requires url", c.Name)
		}
	case TypeFile:
		if c.FilePath == "" {
			return fmt.Errorf("observer %s: file requires filePath", c.Name)
		}
		switch c.FileMode {
		case FileModeExists, FileModeContent, "":
		default:
			return fmt.Errorf("observer %s: unknown file mode %q", c.Name, c.FileMode)
		}
	default:
		return fmt.Errorf("observer %s: unknown type %q", c.Name, c.Type)
	}
	if c.MaintenanceValue == "" {
		return fmt.Errorf("observer %s: maintenanceValue is required", c.Name)
	}
	return nil
}
