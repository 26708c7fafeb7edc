// Streamwarden - Media Server Session Monitoring and Policy Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamwarden

/*
Package poller drives the session pipeline once per tick.

A tick loads the active rules, reads the cache snapshot, then processes every
configured server in parallel (bounded by MaxParallel). Each server runs its
stages in order:

	fetch -> resolve identities -> reconcile -> evaluate rules -> record violations

A failing stage drops only that server's contribution. After all servers
finish, the synchronizer writes the cache and publishes lifecycle events once.

Ticks never overlap. TriggerTick waits for an in-flight tick to finish and
then runs its own.
*/
package poller

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/tomtom215/streamwarden/internal/identity"
	"github.com/tomtom215/streamwarden/internal/livesync"
	"github.com/tomtom215/streamwarden/internal/logging"
	"github.com/tomtom215/streamwarden/internal/models"
	"github.com/tomtom215/streamwarden/internal/reconcile"
	"github.com/tomtom215/streamwarden/internal/sources"
)

var (
	// ErrPollerRunning is returned by Start on a running poller.
	ErrPollerRunning = errors.New("poller already running")
	// ErrInvalidInterval is returned by Start when the interval is not positive.
	ErrInvalidInterval = errors.New("poll interval must be positive")
)

// Trigger labels for tick metrics.
const (
	TriggerScheduled = "scheduled"
	TriggerManual    = "manual"
	TriggerStartup   = "startup"
)

// Config is the control-surface configuration.
type Config struct {
	Enabled  bool
	Interval time.Duration
}

// Store is the persistence the poller reads directly.
type Store interface {
	ActiveRules(ctx context.Context) ([]*models.Rule, error)
	AllActiveSessions(ctx context.Context) ([]*models.Session, error)
	UsersByIDs(ctx context.Context, ids []string) (map[string]*models.User, error)
}

// IdentityResolver maps backend user ids to internal users.
type IdentityResolver interface {
	Resolve(ctx context.Context, serverID string, obs []identity.Observation) (map[string]*models.User, error)
}

// Reconciler commits one server's live list.
type Reconciler interface {
	Reconcile(ctx context.Context, server models.Server, live []models.ProcessedSession, users map[string]*models.User, now time.Time) (*reconcile.Result, error)
}

// Detector evaluates rules for new sessions and records violations.
type Detector interface {
	Run(ctx context.Context, sessions []*models.Session, users map[string]*models.User, rules []*models.Rule, now time.Time) ([]*models.Violation, error)
}

// Deps wires the pipeline stages. Detector may be nil to disable detection;
// a nil Sync skips caching and publishing.
type Deps struct {
	Adapters    []sources.Adapter
	Store       Store
	Identity    IdentityResolver
	Engine      Reconciler
	Detector    Detector
	Sync        *livesync.Synchronizer
	MaxParallel int
}

// Poller owns the tick timer and serializes ticks.
type Poller struct {
	deps Deps
	cfg  Config
	now  func() time.Time

	// tickSem holds one token; whoever holds it runs a tick.
	tickSem chan struct{}
	warmed  bool

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a poller. cfg is used by Serve; Start takes its own.
func New(cfg Config, deps Deps) *Poller {
	if deps.MaxParallel <= 0 {
		deps.MaxParallel = 1
	}
	if deps.Sync == nil {
		deps.Sync = livesync.New(nil, nil)
	}
	return &Poller{
		deps:    deps,
		cfg:     cfg,
		now:     time.Now,
		tickSem: make(chan struct{}, 1),
	}
}

// Start begins the tick loop in the background. A disabled config is a
// no-op. The first tick runs immediately.
func (p *Poller) Start(cfg Config) error {
	if !cfg.Enabled {
		logging.Info().Msg("Session poller disabled")
		return nil
	}
	if cfg.Interval <= 0 {
		return ErrInvalidInterval
	}

	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return ErrPollerRunning
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.running = true
	p.cfg = cfg
	p.cancel = cancel
	p.mu.Unlock()

	logging.Info().Dur("interval", cfg.Interval).Int("servers", len(p.deps.Adapters)).Msg("Starting session poller")

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.loop(ctx, cfg.Interval)
	}()
	return nil
}

// Stop ends the loop started by Start and waits for an in-flight tick.
// Calling Stop on a stopped poller does nothing.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.cancel()
	p.mu.Unlock()

	p.wg.Wait()
	logging.Info().Msg("Session poller stopped")
}

// Serve implements suture.Service using the config given to New.
func (p *Poller) Serve(ctx context.Context) error {
	if !p.cfg.Enabled {
		logging.Info().Msg("Session poller disabled")
		<-ctx.Done()
		return ctx.Err()
	}
	if p.cfg.Interval <= 0 {
		return ErrInvalidInterval
	}
	p.loop(ctx, p.cfg.Interval)
	return ctx.Err()
}

// String implements fmt.Stringer for suture logs.
func (p *Poller) String() string {
	return "session-poller"
}

// TriggerTick runs one tick now, waiting for any in-flight tick first.
// It fails only if ctx ends before the tick can start.
func (p *Poller) TriggerTick(ctx context.Context) (TickSummary, error) {
	return p.runTick(ctx, TriggerManual)
}

func (p *Poller) loop(ctx context.Context, interval time.Duration) {
	if _, err := p.runTick(ctx, TriggerStartup); err != nil {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.runTick(ctx, TriggerScheduled); err != nil {
				return
			}
		}
	}
}

func (p *Poller) runTick(ctx context.Context, trigger string) (TickSummary, error) {
	select {
	case p.tickSem <- struct{}{}:
	case <-ctx.Done():
		return TickSummary{}, ctx.Err()
	}
	defer func() { <-p.tickSem }()

	// A started tick runs to completion; adapters bound their own requests.
	ctx = logging.ContextWithNewCorrelationID(context.WithoutCancel(ctx))
	if !p.warmed {
		p.warm(ctx)
		p.warmed = true
	}
	return p.tick(ctx, trigger), nil
}
