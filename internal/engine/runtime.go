// File: internal/engine/runtime.go
// Brief: Capability-style container runtime client interface.

// Package engine applies compiled deployment plans against a container
// runtime endpoint, with partial-failure aggregation instead of rollback.
package engine

import (
	"context"
	"time"

	"github.com/example/stackd/internal/plan"
	"github.com/example/stackd/pkg/manifest"
)

// ContainerSpec is the runtime-level description of one container to create.
type ContainerSpec struct {
	Name        string
	Image       string
	Env         map[string]string
	Ports       []string
	Volumes     []plan.VolumeMount
	Networks    []string
	Restart     string
	HealthCheck *manifest.HealthCheck
	Labels      map[string]string
}

// ContainerState is the coarse runtime state of a container.
type ContainerState string

const (
	StateRunning ContainerState = "running"
	StateExited  ContainerState = "exited"
	StateCreated ContainerState = "created"
	StateUnknown ContainerState = "unknown"
)

// ContainerStatus is the result of inspecting a container.
type ContainerStatus struct {
	ID       string
	State    ContainerState
	ExitCode int
}

// ContainerRuntime is the narrow client contract this core needs from a
// container runtime endpoint. Implementations wrap a concrete engine API;
// tests use a fake.
type ContainerRuntime interface {
	PullImage(ctx context.Context, ref string) error
	ImageExists(ctx context.Context, ref string) (bool, error)
	EnsureNetwork(ctx context.Context, name string, external bool) error
	CreateContainer(ctx context.Context, spec ContainerSpec) (string, error)
	StartContainer(ctx context.Context, id string) error
	StopContainer(ctx context.Context, nameOrID string, timeout time.Duration) error
	WaitContainer(ctx context.Context, id string) (int, error)
	RemoveContainer(ctx context.Context, nameOrID string, force bool) error
	InspectStatus(ctx context.Context, nameOrID string) (ContainerStatus, error)
}
