// File: internal/control/events.go
// Brief: Domain events published by the lifecycle core.

package control

import (
	"context"

	"github.com/example/stackd/internal/deployment"
	"go.uber.org/zap"
)

// Event is a plain-data domain event. Delivery (push transport, polling,
// logging) is a collaborator concern; the core only publishes.
type Event interface {
	eventName() string
}

// DeploymentStarted fires when an execution begins.
type DeploymentStarted struct {
	DeploymentID string
	StackName    string
	StackVersion string
}

// DeploymentSucceeded fires when an execution completes with no step errors.
type DeploymentSucceeded struct {
	DeploymentID string
	StackName    string
	Warnings     []string
}

// DeploymentFailed fires when at least one step failed.
type DeploymentFailed struct {
	DeploymentID string
	StackName    string
	Errors       []string
}

// ModeChanged fires on every committed operation-mode transition.
type ModeChanged struct {
	DeploymentID string
	From         deployment.Mode
	To           deployment.Mode
	Reason       string
}

// ObserverTriggered fires when an observer-driven transition is committed.
type ObserverTriggered struct {
	DeploymentID string
	Observer     string
	Mode         deployment.Mode
}

// ObserverFailing fires after repeated consecutive probe failures.
type ObserverFailing struct {
	DeploymentID string
	Observer     string
	Consecutive  int
	LastError    string
}

func (DeploymentStarted) eventName() string   { return "deployment.started" }
func (DeploymentSucceeded) eventName() string { return "deployment.succeeded" }
func (DeploymentFailed) eventName() string    { return "deployment.failed" }
func (ModeChanged) eventName() string         { return "deployment.mode_changed" }
func (ObserverTriggered) eventName() string   { return "observer.triggered" }
func (ObserverFailing) eventName() string     { return "observer.failing" }

// Publisher delivers events somewhere. Implementations must not block on
// slow consumers.
type Publisher interface {
	Publish(ctx context.Context, ev Event)
}

// LogPublisher writes events to the structured log; the default when no push
// channel is wired.
type LogPublisher struct {
	Log *zap.Logger
}

func (p LogPublisher) Publish(_ context.Context, ev Event) {
	if p.Log == nil {
		return
	}
	p.Log.Info("event", zap.String("type", ev.eventName()), zap.Any("event", ev))
}
