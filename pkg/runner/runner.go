// Package runner assembles a full match run from configuration:
// strategies, agents, coordinator, observability, and the trace
// consumer that turns events into logs.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net"
	"net/http"
	"time"

	"github.com/kadirpekel/dilemma/pkg/agent"
	"github.com/kadirpekel/dilemma/pkg/config"
	"github.com/kadirpekel/dilemma/pkg/game"
	"github.com/kadirpekel/dilemma/pkg/logger"
	"github.com/kadirpekel/dilemma/pkg/match"
	"github.com/kadirpekel/dilemma/pkg/observability"
	"github.com/kadirpekel/dilemma/pkg/strategy"
)

// Summary is the outcome of a completed run. Totals come from the
// coordinator's trace; FinalScores are the agents' own authoritative
// counts, which a correct run keeps in agreement.
type Summary struct {
	MatchID     string            `json:"match_id"`
	Rounds      uint32            `json:"rounds"`
	Totals      map[string]uint64 `json:"totals"`
	FinalScores map[string]uint64 `json:"final_scores"`
	Elapsed     time.Duration     `json:"elapsed"`
}

// Runner owns the lifecycle of one match run.
type Runner struct {
	cfg     *config.Config
	obs     *observability.Manager
	log     *slog.Logger
	onEvent func(match.Event)
}

// Option configures a Runner.
type Option func(*Runner)

// WithEventHook registers a callback invoked for every trace event,
// after the runner's own logging. Used by callers that want to render
// the trace themselves.
func WithEventHook(fn func(match.Event)) Option {
	return func(r *Runner) {
		r.onEvent = fn
	}
}

// New creates a runner for the given configuration. The configuration
// must already have passed its pipeline.
func New(cfg *config.Config, opts ...Option) *Runner {
	r := &Runner{
		cfg: cfg,
		obs: observability.NewManager(cfg.Observability),
		log: logger.GetLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run plays the configured match to completion and returns its
// summary. Agents are always stopped before returning, so their
// goroutines never outlive the run even when the match fails.
func (r *Runner) Run(ctx context.Context) (*Summary, error) {
	if err := r.obs.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize observability: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.obs.Shutdown(shutdownCtx); err != nil {
			r.log.Warn("observability shutdown failed", "error", err)
		}
	}()

	metrics := r.obs.GetMetrics()
	if r.cfg.Observability.Metrics.Enabled {
		stop, err := r.serveMetrics(r.cfg.Observability.Metrics.Port, metrics.Handler())
		if err != nil {
			return nil, err
		}
		defer stop()
	}

	first, second, err := r.buildAgents()
	if err != nil {
		return nil, err
	}
	defer first.Stop()
	defer second.Stop()

	coordinator, err := match.New(
		match.Config{
			Iterations:      r.cfg.Match.Iterations,
			ResponseTimeout: r.cfg.Match.ResponseTimeout.Duration(),
			Table:           r.cfg.Payoffs.ToTable(),
		},
		first, second,
		match.WithTracer(r.obs.GetTracer("dilemma/match")),
		match.WithMetrics(metrics),
	)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	events, err := coordinator.RunStreaming(ctx)
	if err != nil {
		return nil, err
	}

	for event := range events {
		r.logEvent(event)
		if r.onEvent != nil {
			r.onEvent(event)
		}
	}

	if err := coordinator.Err(); err != nil {
		return nil, err
	}

	first.Stop()
	second.Stop()

	scores := map[string]uint64{
		first.ID():  first.FinalScore(),
		second.ID(): second.FinalScore(),
	}
	for id, score := range scores {
		metrics.RecordFinalScore(ctx, id, score)
		r.log.Info("final score", "agent", id, "score", score)
	}

	result := coordinator.Result()
	return &Summary{
		MatchID:     result.MatchID,
		Rounds:      result.Rounds,
		Totals:      result.Totals,
		FinalScores: scores,
		Elapsed:     time.Since(start),
	}, nil
}

func (r *Runner) buildAgents() (*agent.Prisoner, *agent.Prisoner, error) {
	var prisoners []*agent.Prisoner

	for i, agentCfg := range r.cfg.Agents {
		opts := strategy.Options{}
		if agentCfg.Action != "" {
			action, err := game.ParseAction(agentCfg.Action)
			if err != nil {
				return nil, nil, fmt.Errorf("agent %q: %w", agentCfg.Name, err)
			}
			opts.Action = action
		}
		if r.cfg.Match.Seed != 0 {
			// Each agent gets its own source: Choose runs concurrently
			// across agents every round.
			opts.Rand = rand.New(rand.NewSource(r.cfg.Match.Seed + int64(i)))
		}

		strat, err := strategy.New(agentCfg.Strategy, opts)
		if err != nil {
			return nil, nil, fmt.Errorf("agent %q: %w", agentCfg.Name, err)
		}

		prisoner, err := agent.NewPrisoner(agentCfg.Name, strat)
		if err != nil {
			for _, p := range prisoners {
				p.Stop()
			}
			return nil, nil, err
		}
		prisoners = append(prisoners, prisoner)
	}

	return prisoners[0], prisoners[1], nil
}

func (r *Runner) logEvent(event match.Event) {
	switch event.Type {
	case match.EventMatchStart:
		r.log.Info("match started", "match_id", event.MatchID,
			"iterations", r.cfg.Match.Iterations,
			"first", r.cfg.Agents[0].Name, "second", r.cfg.Agents[1].Name)
	case match.EventRound:
		r.log.Debug("round resolved", "sequence", event.Sequence,
			"agent", event.AgentID, "action", event.Action.String(),
			"payoff", event.Kind.String(), "amount", event.Amount)
	case match.EventMatchEnd:
		r.log.Info("match completed", "match_id", event.MatchID, "totals", fmt.Sprintf("%v", event.Totals))
	case match.EventMatchFailed:
		r.log.Error("match failed", "match_id", event.MatchID,
			"sequence", event.Sequence, "agent", event.AgentID, "error", event.Error)
	}
}

// serveMetrics exposes the metrics handler on /metrics and returns a
// function that stops the server.
func (r *Runner) serveMetrics(port int, handler http.Handler) (func(), error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("failed to bind metrics port %d: %w", port, err)
	}

	server := &http.Server{Handler: mux}
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.log.Error("metrics server failed", "error", err)
		}
	}()
	r.log.Info("metrics server listening", "addr", listener.Addr().String())

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			r.log.Warn("metrics server shutdown failed", "error", err)
		}
	}, nil
}
