// File: internal/engine/execute.go
// Brief: Sequential plan execution with per-step outcome aggregation.

package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/example/stackd/internal/plan"
	"github.com/example/stackd/pkg/manifest"
	"go.uber.org/zap"
)

const defaultStopTimeout = 30 * time.Second

// Result accumulates per-step outcomes of one execution. A late step's
// failure never erases earlier successful step outcomes; overall Success is
// true only when no step failed.
type Result struct {
	Success          bool
	Errors           []string
	Warnings         []string
	DeployedContexts []string
}

func (r *Result) addErrorf(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func (r *Result) addWarningf(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// Engine walks deployment plans against one runtime endpoint. It is the sole
// writer of runtime container state.
type Engine struct {
	runtime     ContainerRuntime
	log         *zap.Logger
	stopTimeout time.Duration
}

// New returns an engine bound to the given runtime client.
func New(rt ContainerRuntime, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{runtime: rt, log: log, stopTimeout: defaultStopTimeout}
}

// SetStopTimeout overrides the grace period used when stopping containers.
func (e *Engine) SetStopTimeout(d time.Duration) {
	if d > 0 {
		e.stopTimeout = d
	}
}

// Execute applies the plan step by step in order. Image pull failures degrade
// to a warning when a local copy of the exact reference exists, and fail only
// that step otherwise; sibling steps whose dependencies are unaffected are
// still attempted, while steps depending on a failed step are skipped.
// Cancellation is cooperative and checked between steps, never mid-step.
func (e *Engine) Execute(ctx context.Context, p *plan.DeploymentPlan) *Result {
	res := &Result{}

	for logical, nw := range p.Networks {
		if err := e.runtime.EnsureNetwork(ctx, nw.ResolvedName, nw.External); err != nil {
			res.addErrorf("network %s (%s): %v", logical, nw.ResolvedName, err)
		}
	}
	if len(res.Errors) > 0 {
		return res
	}

	failed := map[string]bool{}
	for i := range p.Steps {
		step := &p.Steps[i]
		if err := ctx.Err(); err != nil {
			res.addErrorf("execution canceled before step %s", step.ContextName)
			break
		}
		if dep := firstFailedDependency(step, failed); dep != "" {
			failed[step.ContextName] = true
			res.addErrorf("step %s skipped: dependency %s failed", step.ContextName, dep)
			continue
		}
		if err := e.executeStep(ctx, p, step, res); err != nil {
			failed[step.ContextName] = true
			res.addErrorf("step %s: %v", step.ContextName, err)
			continue
		}
		res.DeployedContexts = append(res.DeployedContexts, step.ContextName)
	}

	res.Success = len(res.Errors) == 0
	return res
}

func (e *Engine) executeStep(ctx context.Context, p *plan.DeploymentPlan, step *plan.DeploymentStep, res *Result) error {
	log := e.log.With(zap.String("stack", p.StackName), zap.String("step", step.ContextName))

	if err := e.runtime.PullImage(ctx, step.Image); err != nil {
		exists, existsErr := e.runtime.ImageExists(ctx, step.Image)
		if existsErr != nil || !exists {
			return fmt.Errorf("image %s could not be pulled and no local copy exists: %v", step.Image, err)
		}
		log.Warn("image pull failed, falling back to local copy", zap.String("image", step.Image), zap.Error(err))
		res.addWarningf("image %s could not be pulled (%v): using existing local image", step.Image, err)
	}

	spec := ContainerSpec{
		Name:        step.ContainerName,
		Image:       step.Image,
		Env:         mergeEnv(p.GlobalEnvVars, step.EnvVars),
		Ports:       step.Ports,
		Volumes:     step.Volumes,
		Networks:    resolveNetworks(p, step.Networks),
		Restart:     step.Restart,
		HealthCheck: step.HealthCheck,
		Labels: map[string]string{
			"stackd.stack":   p.StackName,
			"stackd.context": step.ContextName,
		},
	}

	id, err := e.runtime.CreateContainer(ctx, spec)
	if err != nil {
		return fmt.Errorf("create container %s: %w", step.ContainerName, err)
	}
	if err := e.runtime.StartContainer(ctx, id); err != nil {
		return fmt.Errorf("start container %s: %w", step.ContainerName, err)
	}

	if step.Lifecycle == manifest.LifecycleInit {
		// Init tasks run to completion before any later step starts.
		code, err := e.runtime.WaitContainer(ctx, id)
		if err != nil {
			return fmt.Errorf("wait for init container %s: %w", step.ContainerName, err)
		}
		if code != 0 {
			return fmt.Errorf("init container %s exited with code %d", step.ContainerName, code)
		}
		log.Info("init step completed", zap.String("container", step.ContainerName))
		return nil
	}

	log.Info("step started", zap.String("container", step.ContainerName), zap.String("image", step.Image))
	return nil
}

// StopStack stops every service container of the plan in reverse order,
// skipping containers flagged to be ignored during maintenance when
// skipIgnored is set.
func (e *Engine) StopStack(ctx context.Context, p *plan.DeploymentPlan, skipIgnored bool) *Result {
	res := &Result{}
	for i := len(p.Steps) - 1; i >= 0; i-- {
		step := &p.Steps[i]
		if step.Lifecycle == manifest.LifecycleInit {
			continue
		}
		if skipIgnored && step.IgnoreDuringMaintenance {
			continue
		}
		if err := e.runtime.StopContainer(ctx, step.ContainerName, e.stopTimeout); err != nil {
			res.addErrorf("stop container %s: %v", step.ContainerName, err)
			continue
		}
		res.DeployedContexts = append(res.DeployedContexts, step.ContextName)
	}
	res.Success = len(res.Errors) == 0
	return res
}

// StartStack starts previously stopped service containers in plan order.
// Ignored containers were never stopped, so they are untouched here too.
func (e *Engine) StartStack(ctx context.Context, p *plan.DeploymentPlan, skipIgnored bool) *Result {
	res := &Result{}
	for i := range p.Steps {
		step := &p.Steps[i]
		if step.Lifecycle == manifest.LifecycleInit {
			continue
		}
		if skipIgnored && step.IgnoreDuringMaintenance {
			continue
		}
		status, err := e.runtime.InspectStatus(ctx, step.ContainerName)
		if err != nil {
			res.addErrorf("inspect container %s: %v", step.ContainerName, err)
			continue
		}
		if status.State == StateRunning {
			continue
		}
		if err := e.runtime.StartContainer(ctx, status.ID); err != nil {
			res.addErrorf("start container %s: %v", step.ContainerName, err)
			continue
		}
		res.DeployedContexts = append(res.DeployedContexts, step.ContextName)
	}
	res.Success = len(res.Errors) == 0
	return res
}

// RemoveStack stops and removes every container of the plan in reverse order.
func (e *Engine) RemoveStack(ctx context.Context, p *plan.DeploymentPlan) *Result {
	res := &Result{}
	for i := len(p.Steps) - 1; i >= 0; i-- {
		step := &p.Steps[i]
		if err := e.runtime.RemoveContainer(ctx, step.ContainerName, true); err != nil {
			res.addErrorf("remove container %s: %v", step.ContainerName, err)
		}
	}
	res.Success = len(res.Errors) == 0
	return res
}

func firstFailedDependency(step *plan.DeploymentStep, failed map[string]bool) string {
	for _, dep := range step.DependsOn {
		if failed[dep] {
			return dep
		}
	}
	return ""
}

func mergeEnv(global, step map[string]string) map[string]string {
	merged := make(map[string]string, len(global)+len(step))
	for k, v := range global {
		merged[k] = v
	}
	for k, v := range step {
		merged[k] = v
	}
	return merged
}

func resolveNetworks(p *plan.DeploymentPlan, logical []string) []string {
	out := make([]string, 0, len(logical))
	for _, name := range logical {
		if nw, ok := p.Networks[name]; ok {
			out = append(out, nw.ResolvedName)
			continue
		}
		out = append(out, name)
	}
	return out
}
