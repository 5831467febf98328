// File: internal/control/service.go
// Brief: Command service tying resolver, compiler, engine, store, and observers together.

// Package control implements the command contract the web/API collaborator
// calls into: deploy, upgrade, remove, change-operation-mode, and observer
// toggling. It owns per-deployment execution serialization and is
// transport-agnostic.
package control

import (
	"context"
	"fmt"
	"sync"

	"github.com/example/stackd/internal/deployment"
	"github.com/example/stackd/internal/engine"
	"github.com/example/stackd/internal/observer"
	"github.com/example/stackd/internal/plan"
	"github.com/example/stackd/internal/store"
	"github.com/example/stackd/pkg/manifest"
	"go.uber.org/zap"
)

// CommandResult is the transport-agnostic outcome of one command: success or
// failure plus a human-readable message the caller can show directly.
type CommandResult struct {
	OK           bool
	Message      string
	DeploymentID string
	Warnings     []string
	Errors       []string
}

func failure(format string, args ...any) CommandResult {
	return CommandResult{Message: fmt.Sprintf(format, args...)}
}

// DeployRequest carries everything a deploy command needs. Document is the
// manifest text as delivered by the stack-source sync collaborator.
type DeployRequest struct {
	StackID       string
	StackName     string
	EnvironmentID string
	Document      []byte
	BaseLocation  string
	StackKey      string
	Variables     map[string]string
}

// UpgradeRequest migrates an existing deployment to a new manifest version.
type UpgradeRequest struct {
	DeploymentID string
	TargetStack  string
	Document     []byte
	BaseLocation string
	StackKey     string
	Variables    map[string]string
}

// Service is the single mutation entry point for deployments. Observer loops
// and the API layer both funnel mode transitions through it, and all
// container side effects go through the engine.
type Service struct {
	resolver  *manifest.Resolver
	engine    *engine.Engine
	store     *store.Store
	observers *observer.Manager
	publisher Publisher
	log       *zap.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewService wires the core together. The returned service owns the observer
// manager lifecycle; call Close on shutdown.
func NewService(resolver *manifest.Resolver, eng *engine.Engine, st *store.Store, publisher Publisher, connResolver observer.ConnectionResolver, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	if publisher == nil {
		publisher = LogPublisher{Log: log}
	}
	s := &Service{
		resolver:  resolver,
		engine:    eng,
		store:     st,
		publisher: publisher,
		log:       log,
		locks:     map[string]*sync.Mutex{},
	}
	s.observers = observer.NewManager(s, s, connResolver, log)
	return s
}

// Close stops every observer loop.
func (s *Service) Close() { s.observers.Close() }

// lockDeployment serializes executions per deployment: a redeploy or upgrade
// against a stack with an execution in flight queues behind it. Different
// deployments proceed independently.
func (s *Service) lockDeployment(id string) func() {
	s.mu.Lock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	s.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// Deploy resolves, validates, compiles, and executes a first deployment.
func (s *Service) Deploy(ctx context.Context, req DeployRequest) CommandResult {
	if req.StackName == "" {
		return failure("stack name is required")
	}
	rs, values, err := s.resolveAndValidate(req.Document, req.BaseLocation, req.StackKey, req.Variables)
	if err != nil {
		return failure("%v", err)
	}
	parsed, _ := manifest.Parse(req.Document, req.BaseLocation)
	p, err := plan.Compile(rs, values, req.StackName)
	if err != nil {
		return failure("compile plan: %v", err)
	}
	p.StackVersion = parsed.Metadata.ProductVersion

	obsConfigs, err := observerConfigs(rs, values)
	if err != nil {
		return failure("%v", err)
	}

	d := deployment.New(req.EnvironmentID, req.StackID, req.StackName, parsed.Metadata.ProductVersion, values)
	rec := &store.Record{Deployment: d, Plan: p, Observers: obsConfigs}
	if err := s.store.Save(ctx, rec); err != nil {
		return failure("persist deployment: %v", err)
	}

	unlock := s.lockDeployment(d.ID)
	s.publisher.Publish(ctx, DeploymentStarted{DeploymentID: d.ID, StackName: d.StackName, StackVersion: d.StackVersion})
	res := s.engine.Execute(ctx, p)
	out := s.finishExecution(ctx, rec, res)
	unlock()

	if out.OK {
		s.startObservers(rec)
	}
	return out
}

// Upgrade serializes behind any in-flight execution, enters Migrating, and
// applies the new manifest. Success commits the target version; failure moves
// to Failed and preserves the prior version for rollback reference.
func (s *Service) Upgrade(ctx context.Context, req UpgradeRequest) CommandResult {
	rec, err := s.store.Get(ctx, req.DeploymentID)
	if err != nil {
		return failure("load deployment %s: %v", req.DeploymentID, err)
	}
	d := rec.Deployment
	if d.Status == deployment.StatusRemoved {
		return failure("deployment %s is removed", d.ID)
	}

	input := d.Variables
	if req.Variables != nil {
		input = req.Variables
	}
	rs, values, err := s.resolveAndValidate(req.Document, req.BaseLocation, req.StackKey, input)
	if err != nil {
		return failure("%v", err)
	}
	parsed, _ := manifest.Parse(req.Document, req.BaseLocation)
	targetVersion := parsed.Metadata.ProductVersion
	newPlan, err := plan.Compile(rs, values, d.StackName)
	if err != nil {
		return failure("compile plan: %v", err)
	}
	newPlan.StackVersion = targetVersion
	obsConfigs, err := observerConfigs(rs, values)
	if err != nil {
		return failure("%v", err)
	}

	// Observer loops must be down before the lock is taken: a mid-tick
	// observer transition waits on the same per-deployment lock.
	s.observers.Stop(d.ID)

	out := func() CommandResult {
		unlock := s.lockDeployment(d.ID)
		defer unlock()

		prevMode := d.OperationMode
		if err := d.BeginMigration(targetVersion); err != nil {
			return failure("begin migration: %v", err)
		}
		s.publishModeChange(ctx, d.ID, prevMode, d.OperationMode, "upgrade to "+targetVersion)
		if err := s.store.Save(ctx, rec); err != nil {
			return failure("persist deployment: %v", err)
		}

		// Old containers come down before the new plan goes up; failures here
		// are surfaced but do not preserve half the old stack.
		if rec.Plan != nil {
			if down := s.engine.RemoveStack(ctx, rec.Plan); !down.Success {
				s.log.Warn("removing previous containers reported errors", zap.Strings("errors", down.Errors))
			}
		}

		res := s.engine.Execute(ctx, newPlan)
		if res.Success {
			d.Variables = values
			if req.TargetStack != "" {
				d.StackID = req.TargetStack
			}
			_ = d.CompleteMigration()
			d.MarkRunning()
			rec.Plan = newPlan
			rec.Observers = obsConfigs
			s.publishModeChange(ctx, d.ID, deployment.ModeMigrating, d.OperationMode, "migration completed")
		} else {
			_ = d.FailMigration()
			d.MarkFailed()
			s.publishModeChange(ctx, d.ID, deployment.ModeMigrating, d.OperationMode, "migration failed")
		}
		return s.finishExecution(ctx, rec, res)
	}()
	if out.OK {
		s.startObservers(rec)
	}
	return out
}

// Redeploy re-executes the stored plan, serialized behind any execution in flight.
func (s *Service) Redeploy(ctx context.Context, deploymentID string) CommandResult {
	rec, err := s.store.Get(ctx, deploymentID)
	if err != nil {
		return failure("load deployment %s: %v", deploymentID, err)
	}
	if rec.Plan == nil {
		return failure("deployment %s has no stored plan", deploymentID)
	}
	if rec.Deployment.Status == deployment.StatusRemoved {
		return failure("deployment %s is removed", deploymentID)
	}

	// Same ordering as Remove: observer loops come down before the lock.
	s.observers.Stop(deploymentID)

	unlock := s.lockDeployment(deploymentID)
	s.publisher.Publish(ctx, DeploymentStarted{DeploymentID: deploymentID, StackName: rec.Deployment.StackName, StackVersion: rec.Deployment.StackVersion})
	res := s.engine.Execute(ctx, rec.Plan)
	out := s.finishExecution(ctx, rec, res)
	unlock()

	if out.OK {
		s.startObservers(rec)
	}
	return out
}

// finishExecution persists the outcome and publishes its event. It runs while
// the per-deployment lock is held, so it must never touch observer loops: a
// runner mid-tick blocks on that same lock, and waiting it out here would
// deadlock. Callers start observers after releasing the lock.
func (s *Service) finishExecution(ctx context.Context, rec *store.Record, res *engine.Result) CommandResult {
	d := rec.Deployment
	if res.Success {
		d.MarkRunning()
	} else {
		d.MarkFailed()
	}
	if err := s.store.Save(ctx, rec); err != nil {
		return failure("persist deployment: %v", err)
	}

	if res.Success {
		s.publisher.Publish(ctx, DeploymentSucceeded{DeploymentID: d.ID, StackName: d.StackName, Warnings: res.Warnings})
		return CommandResult{
			OK:           true,
			Message:      fmt.Sprintf("stack %s deployed (%d containers)", d.StackName, len(res.DeployedContexts)),
			DeploymentID: d.ID,
			Warnings:     res.Warnings,
		}
	}
	s.publisher.Publish(ctx, DeploymentFailed{DeploymentID: d.ID, StackName: d.StackName, Errors: res.Errors})
	return CommandResult{
		Message:      fmt.Sprintf("stack %s deployment failed", d.StackName),
		DeploymentID: d.ID,
		Warnings:     res.Warnings,
		Errors:       res.Errors,
	}
}

func (s *Service) startObservers(rec *store.Record) {
	d := rec.Deployment
	if err := s.observers.Start(context.Background(), d.ID, rec.Observers); err != nil {
		s.log.Warn("starting observers failed", zap.String("deployment", d.ID), zap.Error(err))
	}
}

// Remove stops observers, removes containers, and terminally marks the row.
func (s *Service) Remove(ctx context.Context, deploymentID string) CommandResult {
	rec, err := s.store.Get(ctx, deploymentID)
	if err != nil {
		return failure("load deployment %s: %v", deploymentID, err)
	}
	// Observer loops must be down before the lock is taken: a mid-tick
	// observer transition waits on the same per-deployment lock.
	s.observers.Stop(deploymentID)

	unlock := s.lockDeployment(deploymentID)
	defer unlock()

	if rec.Plan != nil {
		if res := s.engine.RemoveStack(ctx, rec.Plan); !res.Success {
			s.log.Warn("container removal reported errors", zap.Strings("errors", res.Errors))
		}
	}
	rec.Deployment.MarkRemoved()
	if err := s.store.Save(ctx, rec); err != nil {
		return failure("persist deployment: %v", err)
	}
	return CommandResult{OK: true, Message: fmt.Sprintf("deployment %s removed", deploymentID), DeploymentID: deploymentID}
}

// ChangeOperationMode applies a mode transition with its container side
// effects. Entering Maintenance stops all non-ignored containers; leaving it
// starts them again. Ignored containers are untouched in both directions.
func (s *Service) ChangeOperationMode(ctx context.Context, deploymentID string, target deployment.Mode, reason string) CommandResult {
	rec, err := s.store.Get(ctx, deploymentID)
	if err != nil {
		return failure("load deployment %s: %v", deploymentID, err)
	}
	unlock := s.lockDeployment(deploymentID)
	defer unlock()

	d := rec.Deployment
	from := d.OperationMode
	if from == deployment.ModeFailed && target == deployment.ModeNormal {
		err = d.Recover()
	} else {
		err = d.SetMode(target)
	}
	if err != nil {
		return failure("%v", err)
	}

	switch {
	case from == deployment.ModeNormal && target == deployment.ModeMaintenance:
		if rec.Plan != nil {
			if res := s.engine.StopStack(ctx, rec.Plan, true); !res.Success {
				s.log.Warn("maintenance stop reported errors", zap.Strings("errors", res.Errors))
			}
		}
	case from == deployment.ModeMaintenance && target == deployment.ModeNormal:
		if rec.Plan != nil {
			if res := s.engine.StartStack(ctx, rec.Plan, true); !res.Success {
				s.log.Warn("maintenance start reported errors", zap.Strings("errors", res.Errors))
			}
		}
	case from == deployment.ModeStopped && target == deployment.ModeNormal:
		if rec.Plan != nil {
			if res := s.engine.StartStack(ctx, rec.Plan, false); !res.Success {
				s.log.Warn("start reported errors", zap.Strings("errors", res.Errors))
			}
		}
	}

	if err := s.store.Save(ctx, rec); err != nil {
		return failure("persist deployment: %v", err)
	}
	s.publishModeChange(ctx, deploymentID, from, d.OperationMode, reason)
	return CommandResult{OK: true, Message: fmt.Sprintf("operation mode changed from %s to %s", from, d.OperationMode), DeploymentID: deploymentID}
}

// SetObserversEnabled toggles every observer of a deployment. Disabling
// suspends polling entirely, leaving manual control only.
func (s *Service) SetObserversEnabled(ctx context.Context, deploymentID string, enabled bool) CommandResult {
	rec, err := s.store.Get(ctx, deploymentID)
	if err != nil {
		return failure("load deployment %s: %v", deploymentID, err)
	}
	for i := range rec.Observers {
		rec.Observers[i].Enabled = enabled
	}
	if err := s.store.Save(ctx, rec); err != nil {
		return failure("persist deployment: %v", err)
	}
	if enabled {
		if err := s.observers.Start(context.Background(), deploymentID, rec.Observers); err != nil {
			return failure("start observers: %v", err)
		}
		return CommandResult{OK: true, Message: fmt.Sprintf("%d observers enabled", len(rec.Observers)), DeploymentID: deploymentID}
	}
	s.observers.Stop(deploymentID)
	return CommandResult{OK: true, Message: "observers disabled", DeploymentID: deploymentID}
}

// Get loads one deployment record.
func (s *Service) Get(ctx context.Context, deploymentID string) (*store.Record, error) {
	return s.store.Get(ctx, deploymentID)
}

// List returns all deployment records, newest first.
func (s *Service) List(ctx context.Context) ([]*store.Record, error) {
	return s.store.List(ctx)
}

// Resume restarts observer loops for every live deployment, called once after
// process start.
func (s *Service) Resume(ctx context.Context) error {
	recs, err := s.store.List(ctx)
	if err != nil {
		return err
	}
	for _, rec := range recs {
		if rec.Deployment.Status == deployment.StatusRemoved {
			continue
		}
		if err := s.observers.Start(context.Background(), rec.Deployment.ID, rec.Observers); err != nil {
			s.log.Warn("resume observers failed", zap.String("deployment", rec.Deployment.ID), zap.Error(err))
		}
	}
	return nil
}

// CurrentMode implements observer.Transitioner.
func (s *Service) CurrentMode(ctx context.Context, deploymentID string) (deployment.Mode, error) {
	rec, err := s.store.Get(ctx, deploymentID)
	if err != nil {
		return "", err
	}
	return rec.Deployment.OperationMode, nil
}

// RequestMode implements observer.Transitioner: observers use the same
// command path as the API layer.
func (s *Service) RequestMode(ctx context.Context, deploymentID string, mode deployment.Mode, reason string) error {
	res := s.ChangeOperationMode(ctx, deploymentID, mode, reason)
	if !res.OK {
		return fmt.Errorf("%s", res.Message)
	}
	s.publisher.Publish(ctx, ObserverTriggered{DeploymentID: deploymentID, Observer: reason, Mode: mode})
	return nil
}

// ObserverFailing implements observer.Escalator: repeated probe failures
// raise a critical notification without changing mode.
func (s *Service) ObserverFailing(deploymentID, observerName string, consecutive int, lastErr error) {
	s.publisher.Publish(context.Background(), ObserverFailing{
		DeploymentID: deploymentID,
		Observer:     observerName,
		Consecutive:  consecutive,
		LastError:    lastErr.Error(),
	})
}

func (s *Service) publishModeChange(ctx context.Context, id string, from, to deployment.Mode, reason string) {
	if from == to {
		return
	}
	s.publisher.Publish(ctx, ModeChanged{DeploymentID: id, From: from, To: to, Reason: reason})
}

func (s *Service) resolveAndValidate(doc []byte, baseLocation, stackKey string, input map[string]string) (*manifest.ResolvedStack, map[string]string, error) {
	resolved, err := s.resolver.Resolve(doc, baseLocation)
	if err != nil {
		return nil, nil, err
	}
	rs, err := resolved.Stack(stackKey)
	if err != nil {
		return nil, nil, err
	}
	values := manifest.ResolveValues(rs.Variables, input)
	if err := manifest.ValidateValues(rs.Variables, values); err != nil {
		return nil, nil, err
	}
	return rs, values, nil
}

// observerConfigs converts manifest observer definitions, resolving a
// connection reference against the deployment's typed connection-string
// variables so the SQL probers know both driver and DSN.
func observerConfigs(rs *manifest.ResolvedStack, values map[string]string) ([]observer.Config, error) {
	configs := make([]observer.Config, 0, len(rs.Observers))
	for _, def := range rs.Observers {
		cfg, err := observer.FromManifest(def)
		if err != nil {
			return nil, err
		}
		if cfg.Connection != "" {
			if vdef, ok := rs.Variables[cfg.Connection]; ok && vdef.Type.IsConnectionString() {
				cfg.Driver = sqlDriverFor(vdef.Type)
				cfg.Connection = values[cfg.Connection]
			}
		}
		configs = append(configs, cfg)
	}
	return configs, nil
}

func sqlDriverFor(t manifest.VariableType) string {
	switch t {
	case manifest.TypeConnMSSQL:
		return "sqlserver"
	case manifest.TypeConnMySQL:
		return "mysql"
	case manifest.TypeConnPostgres:
		return "postgres"
	case manifest.TypeConnOracle:
		return "oracle"
	case manifest.TypeConnMongo:
		return "mongodb"
	}
	return ""
}
