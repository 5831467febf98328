// File: pkg/manifest/manifest.go
// Brief: Manifest document model and parsing.

// Package manifest parses the declarative stack manifest format and resolves
// include-composed, variable-templated documents into concrete stacks ready
// for plan compilation.
package manifest

import (
	"gopkg.in/yaml.v3"
)

// Lifecycle distinguishes long-running services from run-to-completion init tasks.
type Lifecycle string

const (
	LifecycleService Lifecycle = "service"
	LifecycleInit    Lifecycle = "init"
)

// Metadata names and classifies a manifest.
type Metadata struct {
	Name           string   `yaml:"name"`
	ProductVersion string   `yaml:"productVersion,omitempty"`
	Category       string   `yaml:"category,omitempty"`
	Tags           []string `yaml:"tags,omitempty"`
}

// HealthCheck mirrors the runtime-level container health probe settings.
type HealthCheck struct {
	Test     []string `yaml:"test,omitempty"`
	Interval string   `yaml:"interval,omitempty"`
	Timeout  string   `yaml:"timeout,omitempty"`
	Retries  int      `yaml:"retries,omitempty"`
}

// ServiceDef declares one container of a stack.
type ServiceDef struct {
	Image                   string            `yaml:"image"`
	ContainerName           string            `yaml:"containerName,omitempty"`
	Lifecycle               Lifecycle         `yaml:"lifecycle,omitempty"`
	Environment             map[string]string `yaml:"environment,omitempty"`
	Ports                   []string          `yaml:"ports,omitempty"`
	Volumes                 []string          `yaml:"volumes,omitempty"`
	Networks                []string          `yaml:"networks,omitempty"`
	DependsOn               []string          `yaml:"dependsOn,omitempty"`
	Restart                 string            `yaml:"restart,omitempty"`
	HealthCheck             *HealthCheck      `yaml:"healthCheck,omitempty"`
	IgnoreDuringMaintenance bool              `yaml:"ignoreDuringMaintenance,omitempty"`
}

// NetworkDef declares a logical network of a stack.
type NetworkDef struct {
	External bool   `yaml:"external,omitempty"`
	Name     string `yaml:"name,omitempty"`
	Driver   string `yaml:"driver,omitempty"`
}

// VolumeDef declares a named volume of a stack.
type VolumeDef struct {
	External bool   `yaml:"external,omitempty"`
	Name     string `yaml:"name,omitempty"`
	Driver   string `yaml:"driver,omitempty"`
}

// ObserverDef configures one maintenance observer shipped with a stack.
// Type-specific fields are flattened; only those matching Type are read.
type ObserverDef struct {
	Name             string            `yaml:"name"`
	Type             string            `yaml:"type"`
	Enabled          bool              `yaml:"enabled"`
	PollingInterval  string            `yaml:"pollingInterval,omitempty"`
	Timeout          string            `yaml:"timeout,omitempty"`
	MaintenanceValue string            `yaml:"maintenanceValue"`
	NormalValue      string            `yaml:"normalValue"`
	Connection       string            `yaml:"connection,omitempty"`
	Property         string            `yaml:"property,omitempty"`
	Query            string            `yaml:"query,omitempty"`
	URL              string            `yaml:"url,omitempty"`
	Method           string            `yaml:"method,omitempty"`
	Headers          map[string]string `yaml:"headers,omitempty"`
	JSONPath         string            `yaml:"jsonPath,omitempty"`
	FilePath         string            `yaml:"filePath,omitempty"`
	FileMode         string            `yaml:"fileMode,omitempty"`
	ContentPattern   string            `yaml:"contentPattern,omitempty"`
}

// StackEntry is one entry of a multi-stack manifest: either an include
// reference to a fragment file or an inline stack body.
type StackEntry struct {
	Include   string                 `yaml:"include,omitempty"`
	Variables map[string]VariableDef `yaml:"variables,omitempty"`
	Services  map[string]ServiceDef  `yaml:"services,omitempty"`
	Networks  map[string]NetworkDef  `yaml:"networks,omitempty"`
	Volumes   map[string]VolumeDef   `yaml:"volumes,omitempty"`
	Observers []ObserverDef          `yaml:"observers,omitempty"`
}

// Manifest is the parsed document. A document is auto-detected as the
// multi-stack form when it declares Stacks, and as the single-stack form when
// it declares Services directly.
type Manifest struct {
	Version         string                 `yaml:"version,omitempty"`
	Metadata        Metadata               `yaml:"metadata"`
	SharedVariables map[string]VariableDef `yaml:"sharedVariables,omitempty"`
	Stacks          map[string]StackEntry  `yaml:"stacks,omitempty"`

	// Single-stack form.
	Variables map[string]VariableDef `yaml:"variables,omitempty"`
	Services  map[string]ServiceDef  `yaml:"services,omitempty"`
	Networks  map[string]NetworkDef  `yaml:"networks,omitempty"`
	Volumes   map[string]VolumeDef   `yaml:"volumes,omitempty"`
	Observers []ObserverDef          `yaml:"observers,omitempty"`
}

// IsProduct reports whether the manifest is directly deployable. A manifest
// without a product version is a fragment, loadable only through include.
func (m *Manifest) IsProduct() bool {
	return m.Metadata.ProductVersion != ""
}

// Parse decodes a manifest document. Location is used for error reporting only.
func Parse(doc []byte, location string) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(doc, &m); err != nil {
		return nil, &ParseError{Location: location, Err: err}
	}
	return &m, nil
}
