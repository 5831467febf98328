// File: internal/deployment/deployment.go
// Brief: Deployment aggregate owned by the lifecycle core.

// Package deployment holds the persistent deployment aggregate and its
// operation-mode state machine. All mutation goes through aggregate methods;
// there is no ambient mode state.
package deployment

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status is the technical install state of a deployment, distinct from its
// operation mode.
type Status string

const (
	StatusInstalling Status = "installing"
	StatusRunning    Status = "running"
	StatusFailed     Status = "failed"
	StatusRemoved    Status = "removed"
)

// Deployment is the persistent aggregate for one deployed stack. Rows are
// never deleted; StatusRemoved is a terminal marker.
type Deployment struct {
	ID            string
	EnvironmentID string
	StackID       string
	StackName     string
	Status        Status
	OperationMode Mode
	Variables     map[string]string
	StackVersion  string
	TargetVersion string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// New creates a deployment aggregate for a first deployment request.
func New(environmentID, stackID, stackName, stackVersion string, variables map[string]string) *Deployment {
	now := time.Now().UTC()
	return &Deployment{
		ID:            uuid.NewString(),
		EnvironmentID: environmentID,
		StackID:       stackID,
		StackName:     stackName,
		Status:        StatusInstalling,
		OperationMode: ModeNormal,
		Variables:     variables,
		StackVersion:  stackVersion,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func (d *Deployment) touch() { d.UpdatedAt = time.Now().UTC() }

// MarkRunning records a successful execution.
func (d *Deployment) MarkRunning() {
	d.Status = StatusRunning
	d.touch()
}

// MarkFailed records a failed execution.
func (d *Deployment) MarkFailed() {
	d.Status = StatusFailed
	d.touch()
}

// MarkRemoved terminally marks the deployment as removed.
func (d *Deployment) MarkRemoved() {
	d.Status = StatusRemoved
	d.touch()
}

// SetMode transitions the operation mode, enforcing the legal transition table.
func (d *Deployment) SetMode(target Mode) error {
	next, err := NextMode(d.OperationMode, target)
	if err != nil {
		return err
	}
	d.OperationMode = next
	d.touch()
	return nil
}

// BeginMigration enters Migrating and records the version being migrated to.
func (d *Deployment) BeginMigration(targetVersion string) error {
	if targetVersion == "" {
		return fmt.Errorf("target version is required")
	}
	if err := d.SetMode(ModeMigrating); err != nil {
		return err
	}
	d.TargetVersion = targetVersion
	return nil
}

// CompleteMigration commits the target version and returns to Normal.
func (d *Deployment) CompleteMigration() error {
	if err := d.SetMode(ModeNormal); err != nil {
		return err
	}
	d.StackVersion = d.TargetVersion
	d.TargetVersion = ""
	return nil
}

// FailMigration moves to Failed, preserving the prior stack version for
// rollback reference.
func (d *Deployment) FailMigration() error {
	return d.SetMode(ModeFailed)
}

// Recover is the explicit operator action returning a Failed deployment to
// Normal without altering the stack version.
func (d *Deployment) Recover() error {
	if d.OperationMode != ModeFailed {
		return &IllegalTransitionError{From: d.OperationMode, To: ModeNormal}
	}
	if err := d.SetMode(ModeNormal); err != nil {
		return err
	}
	d.TargetVersion = ""
	return nil
}
