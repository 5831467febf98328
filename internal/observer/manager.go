// File: internal/observer/manager.go
// Brief: Lifecycle of observer polling loops, keyed by deployment.

package observer

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Manager owns one cancellable polling task per enabled observer, keyed by
// deployment ID. Loops stop cleanly when the owning deployment is removed.
type Manager struct {
	transitions Transitioner
	escalator   Escalator
	resolver    ConnectionResolver
	httpClient  *http.Client
	log         *zap.Logger

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	groups  map[string]*errgroup.Group
}

// NewManager returns an empty manager.
func NewManager(transitions Transitioner, escalator Escalator, resolver ConnectionResolver, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		transitions: transitions,
		escalator:   escalator,
		resolver:    resolver,
		httpClient:  &http.Client{},
		log:         log,
		cancels:     map[string]context.CancelFunc{},
		groups:      map[string]*errgroup.Group{},
	}
}

// Start launches a polling loop for every enabled config of the deployment,
// replacing any loops already running for it. Disabled configs suspend
// polling entirely.
func (m *Manager) Start(ctx context.Context, deploymentID string, configs []Config) error {
	m.Stop(deploymentID)

	runners := make([]*Runner, 0, len(configs))
	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}
		prober, err := NewProber(cfg, m.resolver, m.httpClient)
		if err != nil {
			return err
		}
		runners = append(runners, NewRunner(deploymentID, cfg, prober, m.transitions, m.escalator, m.log))
	}
	if len(runners) == 0 {
		return nil
	}

	loopCtx, cancel := context.WithCancel(ctx)
	g, loopCtx := errgroup.WithContext(loopCtx)
	for _, r := range runners {
		r := r
		g.Go(func() error {
			err := r.Run(loopCtx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	m.mu.Lock()
	m.cancels[deploymentID] = cancel
	m.groups[deploymentID] = g
	m.mu.Unlock()
	m.log.Info("observers started", zap.String("deployment", deploymentID), zap.Int("count", len(runners)))
	return nil
}

// Stop cancels and waits out every loop of one deployment.
func (m *Manager) Stop(deploymentID string) {
	m.mu.Lock()
	cancel, ok := m.cancels[deploymentID]
	g := m.groups[deploymentID]
	delete(m.cancels, deploymentID)
	delete(m.groups, deploymentID)
	m.mu.Unlock()
	if !ok {
		return
	}
	cancel()
	_ = g.Wait()
	m.log.Info("observers stopped", zap.String("deployment", deploymentID))
}

// Close stops every deployment's loops.
func (m *Manager) Close() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.cancels))
	for id := range m.cancels {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	for _, id := range ids {
		m.Stop(id)
	}
}
