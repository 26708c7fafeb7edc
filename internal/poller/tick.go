// Streamwarden - Media Server Session Monitoring and Policy Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamwarden

package poller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tomtom215/streamwarden/internal/detection"
	"github.com/tomtom215/streamwarden/internal/identity"
	"github.com/tomtom215/streamwarden/internal/logging"
	"github.com/tomtom215/streamwarden/internal/metrics"
	"github.com/tomtom215/streamwarden/internal/models"
	"github.com/tomtom215/streamwarden/internal/reconcile"
	"github.com/tomtom215/streamwarden/internal/sources"
)

// Failure stages for metrics and logs.
const (
	stageFetch     = "fetch"
	stageIdentity  = "identity"
	stageReconcile = "reconcile"
	stageDetection = "detection"
)

// TickSummary reports what one tick did.
type TickSummary struct {
	CorrelationID string
	Trigger       string
	Servers       int
	FailedServers []string
	New           int
	Updated       int
	Stopped       int
	Violations    int
	Duration      time.Duration
}

// serverOutcome is one server's contribution. result is nil when the server
// failed before its session writes committed.
type serverOutcome struct {
	result     *reconcile.Result
	violations int
}

// stageError records where a server's pipeline stopped.
type stageError struct {
	stage string
	err   error
}

func (e *stageError) Error() string {
	return fmt.Sprintf("%s: %v", e.stage, e.err)
}

func (e *stageError) Unwrap() error {
	return e.err
}

func (p *Poller) tick(ctx context.Context, trigger string) TickSummary {
	start := time.Now()
	now := p.now()
	log := logging.Ctx(ctx)

	summary := TickSummary{
		CorrelationID: logging.CorrelationIDFromContext(ctx),
		Trigger:       trigger,
		Servers:       len(p.deps.Adapters),
	}

	rules := p.loadRules(ctx)
	previous := p.deps.Sync.Snapshot(ctx)

	outcomes := make([]serverOutcome, len(p.deps.Adapters))
	failed := make([]bool, len(p.deps.Adapters))

	var g errgroup.Group
	g.SetLimit(p.deps.MaxParallel)
	for i, adapter := range p.deps.Adapters {
		g.Go(func() error {
			out, err := p.processServer(ctx, adapter, rules, now)
			if err != nil {
				server := adapter.Server()
				stage := stageFetch
				var se *stageError
				if errors.As(err, &se) {
					stage = se.stage
				}
				metrics.PollServerFailures.WithLabelValues(server.ID, stage).Inc()
				log.Error().Err(err).Str("server_id", server.ID).Str("stage", stage).
					Msg("Server skipped this tick")
				failed[i] = true
			}
			outcomes[i] = out
			return nil
		})
	}
	_ = g.Wait()

	results := make([]*reconcile.Result, 0, len(outcomes))
	for i, out := range outcomes {
		if failed[i] {
			summary.FailedServers = append(summary.FailedServers, p.deps.Adapters[i].Server().ID)
		}
		summary.Violations += out.violations
		if out.result == nil {
			continue
		}
		results = append(results, out.result)
		summary.New += len(out.result.New)
		summary.Updated += len(out.result.Updated)
		summary.Stopped += len(out.result.Stopped)
	}

	p.deps.Sync.Sync(ctx, previous, results)

	summary.Duration = time.Since(start)
	metrics.RecordTick(trigger, summary.Duration)

	log.Info().
		Str("trigger", trigger).
		Int("servers", summary.Servers).
		Int("failed", len(summary.FailedServers)).
		Int("new", summary.New).
		Int("updated", summary.Updated).
		Int("stopped", summary.Stopped).
		Int("violations", summary.Violations).
		Dur("duration", summary.Duration).
		Msg("Poll tick completed")
	return summary
}

// processServer runs one server's stages. A detection failure still returns
// the committed result alongside the error.
func (p *Poller) processServer(ctx context.Context, adapter sources.Adapter, rules []*models.Rule, now time.Time) (serverOutcome, error) {
	server := adapter.Server()

	live, err := adapter.FetchLive(ctx)
	if err != nil {
		return serverOutcome{}, &stageError{stage: stageFetch, err: err}
	}
	metrics.LiveSessions.WithLabelValues(server.ID).Set(float64(len(live)))

	users, err := p.deps.Identity.Resolve(ctx, server.ID, identity.ObservationsFrom(live))
	if err != nil {
		return serverOutcome{}, &stageError{stage: stageIdentity, err: err}
	}

	res, err := p.deps.Engine.Reconcile(ctx, server, live, users, now)
	if err != nil {
		return serverOutcome{}, &stageError{stage: stageReconcile, err: err}
	}
	out := serverOutcome{result: res}

	// Only sessions created this tick are evaluated.
	if p.deps.Detector == nil || len(rules) == 0 || len(res.New) == 0 {
		return out, nil
	}
	violations, err := p.deps.Detector.Run(ctx, res.New, res.Users, rules, now)
	out.violations = len(violations)
	if err != nil {
		return out, &stageError{stage: stageDetection, err: err}
	}
	return out, nil
}

func (p *Poller) loadRules(ctx context.Context) []*models.Rule {
	if p.deps.Detector == nil {
		return nil
	}
	rules, err := p.deps.Store.ActiveRules(ctx)
	if err != nil {
		logging.Ctx(ctx).Error().Err(err).Msg("Failed to load rules, detection skipped this tick")
		return nil
	}
	for _, t := range detection.UnknownTypes(rules) {
		logging.Ctx(ctx).Warn().Str("rule_type", string(t)).Msg("Ignoring rules of unknown type")
	}
	return rules
}

// warm rebuilds the cache from the database's active rows before the first
// tick, so a restart starts from persisted state.
func (p *Poller) warm(ctx context.Context) {
	log := logging.Ctx(ctx)

	rows, err := p.deps.Store.AllActiveSessions(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Cache warm-up skipped: failed to load active sessions")
		return
	}

	ids := make([]string, 0, len(rows))
	seen := make(map[string]struct{}, len(rows))
	for _, s := range rows {
		if _, ok := seen[s.UserID]; !ok {
			seen[s.UserID] = struct{}{}
			ids = append(ids, s.UserID)
		}
	}
	users, err := p.deps.Store.UsersByIDs(ctx, ids)
	if err != nil {
		log.Warn().Err(err).Msg("Cache warm-up skipped: failed to load session owners")
		return
	}

	servers := make(map[string]models.Server, len(p.deps.Adapters))
	for _, a := range p.deps.Adapters {
		s := a.Server()
		servers[s.ID] = s
	}

	views := make([]models.ActiveSession, 0, len(rows))
	for _, s := range rows {
		srv, ok := servers[s.ServerID]
		if !ok {
			srv = models.Server{ID: s.ServerID}
		}
		views = append(views, models.NewActiveSession(s, users[s.UserID], &srv))
	}

	stats := p.deps.Sync.Warm(ctx, views)
	log.Info().Int("sessions", len(views)).Int("cache_errors", stats.CacheErrors).Msg("Active-session cache warmed from database")
}
