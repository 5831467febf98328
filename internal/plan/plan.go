// File: internal/plan/plan.go
// Brief: Compiled deployment plan model.

// Package plan compiles a resolved stack into a dependency-ordered,
// name-scoped execution plan.
package plan

import "github.com/example/stackd/pkg/manifest"

// NetworkDefinition is a plan-level network with its runtime name resolved.
type NetworkDefinition struct {
	External     bool   `json:"external"`
	ResolvedName string `json:"resolvedName"`
	Driver       string `json:"driver,omitempty"`
}

// VolumeMount is one resolved volume attachment of a step.
type VolumeMount struct {
	Source   string `json:"source"`
	Target   string `json:"target"`
	ReadOnly bool   `json:"readOnly,omitempty"`
	// Named is true when Source is a stack-scoped named volume rather than
	// a bind-mount path.
	Named bool `json:"named,omitempty"`
}

// DeploymentStep is one container to create and start. Steps are ordered;
// Order is strictly increasing and unique and respects DependsOn.
type DeploymentStep struct {
	ContextName             string                `json:"contextName"`
	Image                   string                `json:"image"`
	Version                 string                `json:"version,omitempty"`
	ContainerName           string                `json:"containerName"`
	Lifecycle               manifest.Lifecycle    `json:"lifecycle"`
	Networks                []string              `json:"networks"`
	EnvVars                 map[string]string     `json:"envVars,omitempty"`
	Ports                   []string              `json:"ports,omitempty"`
	Volumes                 []VolumeMount         `json:"volumes,omitempty"`
	DependsOn               []string              `json:"dependsOn,omitempty"`
	Restart                 string                `json:"restart,omitempty"`
	HealthCheck             *manifest.HealthCheck `json:"healthCheck,omitempty"`
	IgnoreDuringMaintenance bool                  `json:"ignoreDuringMaintenance,omitempty"`
	Order                   int                   `json:"order"`
}

// DeploymentPlan is the compiled, ordered execution recipe for one stack.
type DeploymentPlan struct {
	StackName     string                       `json:"stackName"`
	StackVersion  string                       `json:"stackVersion"`
	GlobalEnvVars map[string]string            `json:"globalEnvVars,omitempty"`
	Networks      map[string]NetworkDefinition `json:"networks"`
	Steps         []DeploymentStep             `json:"steps"`
}

// Step returns the step with the given context name, or nil.
func (p *DeploymentPlan) Step(contextName string) *DeploymentStep {
	for i := range p.Steps {
		if p.Steps[i].ContextName == contextName {
			return &p.Steps[i]
		}
	}
	return nil
}
