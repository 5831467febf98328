// File: internal/observer/runner.go
// Brief: Polling loop and mode-transition arbitration for one observer.

package observer

import (
	"context"
	"time"

	"github.com/example/stackd/internal/deployment"
	"go.uber.org/zap"
)

// consecutiveFailureLimit is the escalation threshold: a single probe failure
// retains the last known mode; this many in a row raise a critical event.
const consecutiveFailureLimit = 3

// Transitioner is the command path observers share with the API layer. It is
// the only way an observer influences a deployment.
type Transitioner interface {
	CurrentMode(ctx context.Context, deploymentID string) (deployment.Mode, error)
	RequestMode(ctx context.Context, deploymentID string, mode deployment.Mode, reason string) error
}

// Escalator receives the critical signal after repeated probe failures.
type Escalator interface {
	ObserverFailing(deploymentID, observerName string, consecutive int, lastErr error)
}

// Runner polls one observer config and arbitrates with manual mode changes:
// on a maintenance signal the observer wins, re-entering Maintenance even
// after a manual return to Normal; on a normal signal the observer only exits
// a Maintenance it requested itself, so a manual Maintenance is left alone.
type Runner struct {
	deploymentID string
	cfg          Config
	prober       Prober
	transitions  Transitioner
	escalator    Escalator
	log          *zap.Logger

	observerHolds bool
	failures      int
}

// NewRunner wires a runner for one enabled observer.
func NewRunner(deploymentID string, cfg Config, prober Prober, transitions Transitioner, escalator Escalator, log *zap.Logger) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{
		deploymentID: deploymentID,
		cfg:          cfg,
		prober:       prober,
		transitions:  transitions,
		escalator:    escalator,
		log: log.With(
			zap.String("deployment", deploymentID),
			zap.String("observer", cfg.Name),
		),
	}
}

// Run polls until ctx is canceled. It ticks once immediately so a freshly
// attached observer converges without waiting a full interval.
func (r *Runner) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.PollingInterval)
	defer ticker.Stop()

	r.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

func (r *Runner) tick(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	value, err := r.prober.Probe(probeCtx)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		r.failures++
		r.log.Warn("observer probe failed", zap.Int("consecutive", r.failures), zap.Error(err))
		if r.failures == consecutiveFailureLimit && r.escalator != nil {
			r.escalator.ObserverFailing(r.deploymentID, r.cfg.Name, r.failures, err)
		}
		return
	}
	r.failures = 0

	switch value {
	case r.cfg.MaintenanceValue:
		r.signalMaintenance(ctx)
	case r.cfg.NormalValue:
		r.signalNormal(ctx)
	default:
		r.log.Debug("observer value matched neither state", zap.String("value", value))
	}
}

func (r *Runner) signalMaintenance(ctx context.Context) {
	mode, err := r.transitions.CurrentMode(ctx, r.deploymentID)
	if err != nil {
		r.log.Warn("read current mode", zap.Error(err))
		return
	}
	if mode == deployment.ModeMaintenance {
		// Already there. The hold stays as-is: a manual maintenance is
		// never claimed by the observer.
		return
	}
	if mode != deployment.ModeNormal {
		// Migrating/Failed/Stopped are not the observer's to interrupt.
		return
	}
	reason := "observer " + r.cfg.Name + " signaled maintenance"
	if err := r.transitions.RequestMode(ctx, r.deploymentID, deployment.ModeMaintenance, reason); err != nil {
		r.log.Warn("maintenance transition rejected", zap.Error(err))
		return
	}
	r.observerHolds = true
	r.log.Info("entered maintenance on observer signal")
}

func (r *Runner) signalNormal(ctx context.Context) {
	mode, err := r.transitions.CurrentMode(ctx, r.deploymentID)
	if err != nil {
		r.log.Warn("read current mode", zap.Error(err))
		return
	}
	if mode != deployment.ModeMaintenance {
		r.observerHolds = false
		return
	}
	if !r.observerHolds {
		// Manual maintenance: the human wins.
		return
	}
	reason := "observer " + r.cfg.Name + " signaled normal"
	if err := r.transitions.RequestMode(ctx, r.deploymentID, deployment.ModeNormal, reason); err != nil {
		r.log.Warn("normal transition rejected", zap.Error(err))
		return
	}
	r.observerHolds = false
	r.log.Info("returned to normal on observer signal")
}
