// Package match provides the round coordinator: it drives a fixed
// number of rounds between two agents, dispatching concurrent
// invitations under a strict per-round barrier, resolving payoffs
// through the payoff table, and streaming an ordered trace of events.
package match

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/kadirpekel/dilemma/pkg/agent"
	"github.com/kadirpekel/dilemma/pkg/game"
	"github.com/kadirpekel/dilemma/pkg/observability"
)

// State is the coordinator lifecycle state.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Responder answers round invitations. *agent.Prisoner is the
// production implementation; tests substitute instrumented fakes.
type Responder interface {
	ID() string
	Ask(ctx context.Context, inv agent.Invitation) (game.Action, error)

	// Settle delivers the final round's feedback without asking for
	// an action, so end-of-run scores cover every completed round.
	Settle(ctx context.Context, feedback game.Feedback) error
}

// Config carries the coordinator construction inputs.
type Config struct {
	// Iterations is the number of rounds to drive. Must be > 0.
	Iterations uint32

	// ResponseTimeout bounds each round's invitation round-trip.
	// Zero disables the timeout; expiry is treated as a
	// communication fault.
	ResponseTimeout time.Duration

	// Table is the payoff table, fixed for the whole match.
	Table game.PayoffTable
}

// Option configures optional coordinator collaborators.
type Option func(*Coordinator)

// WithTracer sets the tracer used for match and round spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(c *Coordinator) {
		c.tracer = tracer
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(metrics observability.Metrics) Option {
	return func(c *Coordinator) {
		c.metrics = metrics
	}
}

const eventBufferSize = 64

// Coordinator drives the rounds of one match. It owns handles to both
// agents but never their internal state; per-agent feedback from the
// previous round is the only game state it keeps between rounds.
//
// Lifecycle: Idle -> Running -> Completed | Failed. Terminal states do
// not restart.
type Coordinator struct {
	id     string
	cfg    Config
	first  Responder
	second Responder

	// Touched only by the driving goroutine while running.
	firstFeedback  game.Feedback
	secondFeedback game.Feedback
	totals         map[string]uint64

	mu       sync.RWMutex
	state    State
	sequence uint32
	runErr   error

	tracer  trace.Tracer
	metrics observability.Metrics
}

// New creates an idle coordinator. Construction rejects a zero
// iteration count and a payoff table violating the dilemma ordering,
// before any round runs.
func New(cfg Config, first, second Responder, opts ...Option) (*Coordinator, error) {
	if first == nil || second == nil {
		return nil, &ConfigurationError{Field: "agents", Message: "both agents are required"}
	}
	if first.ID() == second.ID() {
		return nil, &ConfigurationError{Field: "agents",
			Message: fmt.Sprintf("agents must have distinct identities, both are '%s'", first.ID())}
	}
	if cfg.Iterations == 0 {
		return nil, &ConfigurationError{Field: "iterations", Message: "iteration count must be > 0"}
	}
	if err := cfg.Table.Validate(); err != nil {
		return nil, &ConfigurationError{Field: "payoffs", Message: "payoff table rejected", Err: err}
	}

	c := &Coordinator{
		id:     uuid.NewString(),
		cfg:    cfg,
		first:  first,
		second: second,
		totals: map[string]uint64{first.ID(): 0, second.ID(): 0},
		state:  StateIdle,
		// Defaults to the process-wide recorder and tracer, which are
		// no-ops until observability is initialized.
		tracer:  observability.GetTracer("dilemma/match"),
		metrics: observability.GetGlobalMetrics(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// ID returns the match identifier.
func (c *Coordinator) ID() string {
	return c.id
}

// State returns the current lifecycle state.
func (c *Coordinator) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Sequence returns the number of fully resolved rounds.
func (c *Coordinator) Sequence() uint32 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sequence
}

// Err returns the fatal run error, nil unless the match failed.
func (c *Coordinator) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.runErr
}

// Result summarizes a finished match. Totals are the sums of awarded
// payoff amounts per agent, derived from the trace; the agents' own
// final scores remain the authoritative per-agent results.
type Result struct {
	MatchID string            `json:"match_id"`
	Rounds  uint32            `json:"rounds"`
	Totals  map[string]uint64 `json:"totals"`
}

// RunStreaming starts the match and returns its trace: an ordered,
// finite, non-restartable event channel, closed after the terminal
// event. A coordinator runs exactly once.
func (c *Coordinator) RunStreaming(ctx context.Context) (<-chan Event, error) {
	c.mu.Lock()
	if c.state != StateIdle {
		state := c.state
		c.mu.Unlock()
		return nil, NewMatchError("Coordinator", "RunStreaming",
			fmt.Sprintf("match already %s, coordinators do not restart", state), nil)
	}
	c.state = StateRunning
	c.mu.Unlock()

	events := make(chan Event, eventBufferSize)
	go func() {
		defer close(events)
		c.drive(ctx, events)
	}()
	return events, nil
}

// Run drives the match to completion, discarding the trace, and
// returns the result or the fatal error.
func (c *Coordinator) Run(ctx context.Context) (*Result, error) {
	events, err := c.RunStreaming(ctx)
	if err != nil {
		return nil, err
	}
	for range events {
	}
	if err := c.Err(); err != nil {
		return nil, err
	}
	return c.Result(), nil
}

// Result returns the match summary, nil while the match has not
// completed.
func (c *Coordinator) Result() *Result {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.state != StateCompleted {
		return nil
	}

	totals := make(map[string]uint64, len(c.totals))
	for id, total := range c.totals {
		totals[id] = total
	}
	return &Result{MatchID: c.id, Rounds: c.sequence, Totals: totals}
}

func (c *Coordinator) drive(ctx context.Context, events chan<- Event) {
	ctx, span := c.tracer.Start(ctx, "match.run",
		trace.WithAttributes(
			attribute.String("match.id", c.id),
			attribute.Int64("match.iterations", int64(c.cfg.Iterations)),
		))
	defer span.End()

	events <- Event{Timestamp: time.Now(), Type: EventMatchStart, MatchID: c.id}

	for seq := uint32(0); seq < c.cfg.Iterations; seq++ {
		start := time.Now()
		firstAction, secondAction, err := c.playRound(ctx, seq)
		c.metrics.RecordRound(ctx, time.Since(start), err)

		if err != nil {
			c.fail(seq, err, span, events)
			return
		}

		firstKind, secondKind := game.Resolve(firstAction, secondAction)
		c.firstFeedback = game.Feedback{Kind: firstKind, Amount: c.cfg.Table.Lookup(firstKind)}
		c.secondFeedback = game.Feedback{Kind: secondKind, Amount: c.cfg.Table.Lookup(secondKind)}
		c.totals[c.first.ID()] += c.firstFeedback.Amount
		c.totals[c.second.ID()] += c.secondFeedback.Amount

		now := time.Now()
		events <- Event{
			Timestamp: now, Type: EventRound, MatchID: c.id, Sequence: seq,
			AgentID: c.first.ID(), Action: firstAction,
			Kind: firstKind, Amount: c.firstFeedback.Amount,
		}
		events <- Event{
			Timestamp: now, Type: EventRound, MatchID: c.id, Sequence: seq,
			AgentID: c.second.ID(), Action: secondAction,
			Kind: secondKind, Amount: c.secondFeedback.Amount,
		}
		c.metrics.RecordPayoff(ctx, c.first.ID(), firstKind, c.firstFeedback.Amount)
		c.metrics.RecordPayoff(ctx, c.second.ID(), secondKind, c.secondFeedback.Amount)

		c.mu.Lock()
		c.sequence = seq + 1
		c.mu.Unlock()
	}

	// The last round's payoff was computed but never travelled as a
	// next-round feedback; deliver it so agent scores match the trace.
	if err := c.settle(ctx); err != nil {
		c.fail(c.cfg.Iterations-1, err, span, events)
		return
	}

	c.mu.Lock()
	c.state = StateCompleted
	totals := make(map[string]uint64, len(c.totals))
	for id, total := range c.totals {
		totals[id] = total
	}
	c.mu.Unlock()

	events <- Event{Timestamp: time.Now(), Type: EventMatchEnd, MatchID: c.id, Totals: totals}
}

// playRound dispatches both invitations concurrently and waits for
// both actions before returning: the per-round barrier. The previous
// round's feedback is delivered as-is; round 0 delivers {None, 0}.
func (c *Coordinator) playRound(ctx context.Context, seq uint32) (game.Action, game.Action, error) {
	if c.cfg.ResponseTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.ResponseTimeout)
		defer cancel()
	}

	ctx, span := c.tracer.Start(ctx, "match.round",
		trace.WithAttributes(attribute.Int64("round.sequence", int64(seq))))
	defer span.End()

	var firstAction, secondAction game.Action
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		action, err := c.first.Ask(gctx, agent.Invitation{Sequence: seq, Feedback: c.firstFeedback})
		if err != nil {
			return &CommunicationError{AgentID: c.first.ID(), Sequence: seq, Err: err}
		}
		firstAction = action
		return nil
	})
	g.Go(func() error {
		action, err := c.second.Ask(gctx, agent.Invitation{Sequence: seq, Feedback: c.secondFeedback})
		if err != nil {
			return &CommunicationError{AgentID: c.second.ID(), Sequence: seq, Err: err}
		}
		secondAction = action
		return nil
	})
	// Wait releases only after both dispatches returned, faulted or not.
	if err := g.Wait(); err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
		return game.Cooperate, game.Cooperate, err
	}
	return firstAction, secondAction, nil
}

func (c *Coordinator) settle(ctx context.Context) error {
	if c.cfg.ResponseTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.ResponseTimeout)
		defer cancel()
	}

	lastSeq := c.cfg.Iterations - 1
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := c.first.Settle(gctx, c.firstFeedback); err != nil {
			return &CommunicationError{AgentID: c.first.ID(), Sequence: lastSeq, Err: err}
		}
		return nil
	})
	g.Go(func() error {
		if err := c.second.Settle(gctx, c.secondFeedback); err != nil {
			return &CommunicationError{AgentID: c.second.ID(), Sequence: lastSeq, Err: err}
		}
		return nil
	})
	return g.Wait()
}

func (c *Coordinator) fail(seq uint32, err error, span trace.Span, events chan<- Event) {
	c.mu.Lock()
	c.state = StateFailed
	c.runErr = err
	c.mu.Unlock()

	span.SetStatus(codes.Error, err.Error())
	span.RecordError(err)

	event := Event{Timestamp: time.Now(), Type: EventMatchFailed, MatchID: c.id, Sequence: seq, Error: err.Error()}
	var commErr *CommunicationError
	if errors.As(err, &commErr) {
		event.AgentID = commErr.AgentID
	}
	events <- event
}
