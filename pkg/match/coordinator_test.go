package match

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/kadirpekel/dilemma/pkg/agent"
	"github.com/kadirpekel/dilemma/pkg/game"
	"github.com/kadirpekel/dilemma/pkg/observability"
)

// fakeResponder is a scripted agent stand-in that records every
// invitation it receives.
type fakeResponder struct {
	id     string
	action game.Action
	failAt int64         // sequence at which Ask fails; -1 never
	delay  time.Duration // artificial response latency
	block  bool          // never respond, only honor ctx

	mu        sync.Mutex
	asks      []uint32
	feedbacks []game.Feedback
}

func newFakeResponder(id string, action game.Action) *fakeResponder {
	return &fakeResponder{id: id, action: action, failAt: -1}
}

func (f *fakeResponder) ID() string { return f.id }

func (f *fakeResponder) Ask(ctx context.Context, inv agent.Invitation) (game.Action, error) {
	if f.block {
		<-ctx.Done()
		return game.Cooperate, ctx.Err()
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return game.Cooperate, ctx.Err()
		}
	}

	f.mu.Lock()
	f.asks = append(f.asks, inv.Sequence)
	f.feedbacks = append(f.feedbacks, inv.Feedback)
	f.mu.Unlock()

	if f.failAt >= 0 && int64(inv.Sequence) >= f.failAt {
		return game.Cooperate, fmt.Errorf("scripted fault")
	}
	return f.action, nil
}

func (f *fakeResponder) Settle(ctx context.Context, feedback game.Feedback) error {
	if f.block {
		<-ctx.Done()
		return ctx.Err()
	}
	f.mu.Lock()
	f.feedbacks = append(f.feedbacks, feedback)
	f.mu.Unlock()
	return nil
}

func (f *fakeResponder) askCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.asks)
}

func testConfig(iterations uint32) Config {
	return Config{
		Iterations: iterations,
		Table:      game.DefaultPayoffTable(),
	}
}

func TestNewRejectsZeroIterations(t *testing.T) {
	_, err := New(testConfig(0), newFakeResponder("red", game.Cooperate), newFakeResponder("blue", game.Cooperate))
	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("New() error = %v, want ConfigurationError", err)
	}
	if cfgErr.Field != "iterations" {
		t.Errorf("ConfigurationError.Field = %s, want iterations", cfgErr.Field)
	}
}

func TestNewRejectsInvalidTable(t *testing.T) {
	cfg := Config{
		Iterations: 10,
		Table: game.NewPayoffTable(map[game.PayoffKind]uint64{
			game.Reward: 9, game.Temptation: 4, game.Punishment: 2, game.Sucker: 1,
		}),
	}
	_, err := New(cfg, newFakeResponder("red", game.Cooperate), newFakeResponder("blue", game.Cooperate))
	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("New() error = %v, want ConfigurationError", err)
	}
}

func TestNewRejectsMissingOrDuplicateAgents(t *testing.T) {
	red := newFakeResponder("red", game.Cooperate)
	if _, err := New(testConfig(1), red, nil); err == nil {
		t.Error("New() with nil agent expected error")
	}
	if _, err := New(testConfig(1), red, newFakeResponder("red", game.Defect)); err == nil {
		t.Error("New() with duplicate agent ids expected error")
	}
}

func TestMutualCooperation(t *testing.T) {
	red := newFakeResponder("red", game.Cooperate)
	blue := newFakeResponder("blue", game.Cooperate)

	c, err := New(testConfig(100), red, blue)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	events, err := c.RunStreaming(context.Background())
	if err != nil {
		t.Fatalf("RunStreaming() error = %v", err)
	}

	for event := range events {
		if event.Type == EventRound && event.Kind != game.Reward {
			t.Fatalf("round %d agent %s resolved to %v, want reward every round",
				event.Sequence, event.AgentID, event.Kind)
		}
	}

	if c.State() != StateCompleted {
		t.Fatalf("State() = %v, want completed", c.State())
	}

	result := c.Result()
	reward := game.DefaultPayoffTable().Lookup(game.Reward)
	for _, id := range []string{"red", "blue"} {
		if got := result.Totals[id]; got != 100*reward {
			t.Errorf("total for %s = %d, want %d", id, got, 100*reward)
		}
	}
	if result.Rounds != 100 {
		t.Errorf("Rounds = %d, want 100", result.Rounds)
	}
}

func TestMutualDefection(t *testing.T) {
	red := newFakeResponder("red", game.Defect)
	blue := newFakeResponder("blue", game.Defect)

	c, err := New(testConfig(10), red, blue)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	result, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	punishment := game.DefaultPayoffTable().Lookup(game.Punishment)
	for _, id := range []string{"red", "blue"} {
		if got := result.Totals[id]; got != 10*punishment {
			t.Errorf("total for %s = %d, want %d", id, got, 10*punishment)
		}
	}
}

// Under the canonical resolution table a committed cooperator facing a
// committed defector is awarded Temptation and the defector Sucker,
// every round, with no alternation.
func TestAsymmetricFixedPair(t *testing.T) {
	cooperator := newFakeResponder("cooperator", game.Cooperate)
	defector := newFakeResponder("defector", game.Defect)

	c, err := New(testConfig(5), cooperator, defector)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	events, err := c.RunStreaming(context.Background())
	if err != nil {
		t.Fatalf("RunStreaming() error = %v", err)
	}

	for event := range events {
		if event.Type != EventRound {
			continue
		}
		switch event.AgentID {
		case "cooperator":
			if event.Kind != game.Temptation {
				t.Errorf("round %d: cooperator kind = %v, want temptation", event.Sequence, event.Kind)
			}
		case "defector":
			if event.Kind != game.Sucker {
				t.Errorf("round %d: defector kind = %v, want sucker", event.Sequence, event.Kind)
			}
		}
	}

	table := game.DefaultPayoffTable()
	result := c.Result()
	if got := result.Totals["cooperator"]; got != 5*table.Lookup(game.Temptation) {
		t.Errorf("cooperator total = %d, want %d", got, 5*table.Lookup(game.Temptation))
	}
	if got := result.Totals["defector"]; got != 5*table.Lookup(game.Sucker) {
		t.Errorf("defector total = %d, want %d", got, 5*table.Lookup(game.Sucker))
	}
}

func TestFeedbackDelivery(t *testing.T) {
	red := newFakeResponder("red", game.Cooperate)
	blue := newFakeResponder("blue", game.Defect)

	c, err := New(testConfig(3), red, blue)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	// Round 0 feedback is the zero value; later rounds carry the
	// previous round's resolved payoff.
	if red.feedbacks[0] != (game.Feedback{}) {
		t.Errorf("red round 0 feedback = %+v, want zero value", red.feedbacks[0])
	}
	table := game.DefaultPayoffTable()
	wantRed := game.Feedback{Kind: game.Temptation, Amount: table.Lookup(game.Temptation)}
	wantBlue := game.Feedback{Kind: game.Sucker, Amount: table.Lookup(game.Sucker)}
	for seq := 1; seq < 3; seq++ {
		if red.feedbacks[seq] != wantRed {
			t.Errorf("red round %d feedback = %+v, want %+v", seq, red.feedbacks[seq], wantRed)
		}
		if blue.feedbacks[seq] != wantBlue {
			t.Errorf("blue round %d feedback = %+v, want %+v", seq, blue.feedbacks[seq], wantBlue)
		}
	}

	// The final round's payoff arrives as a settlement.
	if len(red.feedbacks) != 4 || red.feedbacks[3] != wantRed {
		t.Errorf("red settlement feedback = %+v, want %+v", red.feedbacks[len(red.feedbacks)-1], wantRed)
	}
}

// barrierRecorder observes the global order of invitations across both
// agents to verify the per-round barrier.
type barrierRecorder struct {
	mu    sync.Mutex
	order []uint32
}

type barrierResponder struct {
	id       string
	recorder *barrierRecorder
	delay    time.Duration
}

func (b *barrierResponder) ID() string { return b.id }

func (b *barrierResponder) Ask(_ context.Context, inv agent.Invitation) (game.Action, error) {
	if b.delay > 0 {
		time.Sleep(b.delay)
	}
	b.recorder.mu.Lock()
	b.recorder.order = append(b.recorder.order, inv.Sequence)
	b.recorder.mu.Unlock()
	return game.Cooperate, nil
}

func (b *barrierResponder) Settle(context.Context, game.Feedback) error { return nil }

func TestRoundBarrier(t *testing.T) {
	recorder := &barrierRecorder{}
	// Asymmetric latency makes round skew observable if the barrier
	// were broken.
	red := &barrierResponder{id: "red", recorder: recorder, delay: 2 * time.Millisecond}
	blue := &barrierResponder{id: "blue", recorder: recorder}

	c, err := New(testConfig(20), red, blue)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(recorder.order) != 40 {
		t.Fatalf("recorded %d invitations, want 40", len(recorder.order))
	}
	// Both round-k invitations must be observed before any round-k+1
	// invitation: the order is exactly k, k, k+1, k+1, ...
	for i, seq := range recorder.order {
		if want := uint32(i / 2); seq != want {
			t.Fatalf("invitation %d carries sequence %d, want %d: round barrier violated (order %v)",
				i, seq, want, recorder.order)
		}
	}
}

func TestFaultPropagation(t *testing.T) {
	red := newFakeResponder("red", game.Cooperate)
	blue := newFakeResponder("blue", game.Cooperate)
	blue.failAt = 3

	c, err := New(testConfig(10), red, blue)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	_, err = c.Run(context.Background())
	var commErr *CommunicationError
	if !errors.As(err, &commErr) {
		t.Fatalf("Run() error = %v, want CommunicationError", err)
	}
	if commErr.AgentID != "blue" {
		t.Errorf("CommunicationError.AgentID = %s, want blue", commErr.AgentID)
	}
	if commErr.Sequence != 3 {
		t.Errorf("CommunicationError.Sequence = %d, want 3", commErr.Sequence)
	}

	if c.State() != StateFailed {
		t.Errorf("State() = %v, want failed", c.State())
	}
	if c.Sequence() != 3 {
		t.Errorf("Sequence() = %d, want 3 completed rounds", c.Sequence())
	}
	if c.Result() != nil {
		t.Error("Result() should be nil for a failed match")
	}
	// No further rounds: the healthy agent saw at most rounds 0..3.
	if red.askCount() > 4 {
		t.Errorf("healthy agent received %d invitations, want at most 4", red.askCount())
	}
}

func TestFailedTraceCarriesAgentAndSequence(t *testing.T) {
	red := newFakeResponder("red", game.Cooperate)
	red.failAt = 0
	blue := newFakeResponder("blue", game.Cooperate)

	c, err := New(testConfig(5), red, blue)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	events, err := c.RunStreaming(context.Background())
	if err != nil {
		t.Fatalf("RunStreaming() error = %v", err)
	}

	var last Event
	for event := range events {
		last = event
	}
	if last.Type != EventMatchFailed {
		t.Fatalf("terminal event type = %s, want match_failed", last.Type)
	}
	if last.AgentID != "red" || last.Sequence != 0 {
		t.Errorf("terminal event = %+v, want agent red at sequence 0", last)
	}
}

func TestResponseTimeoutIsFatal(t *testing.T) {
	red := newFakeResponder("red", game.Cooperate)
	blue := newFakeResponder("blue", game.Cooperate)
	blue.block = true

	cfg := testConfig(10)
	cfg.ResponseTimeout = 25 * time.Millisecond

	c, err := New(cfg, red, blue)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	_, err = c.Run(context.Background())
	var commErr *CommunicationError
	if !errors.As(err, &commErr) {
		t.Fatalf("Run() error = %v, want CommunicationError", err)
	}
	if commErr.AgentID != "blue" {
		t.Errorf("CommunicationError.AgentID = %s, want blue", commErr.AgentID)
	}
}

func TestCoordinatorDoesNotRestart(t *testing.T) {
	c, err := New(testConfig(1), newFakeResponder("red", game.Cooperate), newFakeResponder("blue", game.Cooperate))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if _, err := c.RunStreaming(context.Background()); err == nil {
		t.Error("RunStreaming() on a completed coordinator expected error")
	}
}

func TestTraceShape(t *testing.T) {
	c, err := New(testConfig(4), newFakeResponder("red", game.Cooperate), newFakeResponder("blue", game.Defect))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	events, err := c.RunStreaming(context.Background())
	if err != nil {
		t.Fatalf("RunStreaming() error = %v", err)
	}

	var collected []Event
	for event := range events {
		collected = append(collected, event)
	}

	// start + 2 per round + end
	if len(collected) != 1+2*4+1 {
		t.Fatalf("trace has %d events, want %d", len(collected), 1+2*4+1)
	}
	if collected[0].Type != EventMatchStart {
		t.Errorf("first event = %s, want match_start", collected[0].Type)
	}
	last := collected[len(collected)-1]
	if last.Type != EventMatchEnd {
		t.Errorf("last event = %s, want match_end", last.Type)
	}
	if last.Totals["red"] != c.Result().Totals["red"] {
		t.Errorf("terminal totals %v disagree with Result() %v", last.Totals, c.Result().Totals)
	}

	// Round events arrive in sequence order, first agent before second.
	for i := 0; i < 4; i++ {
		first := collected[1+2*i]
		second := collected[2+2*i]
		if first.Sequence != uint32(i) || second.Sequence != uint32(i) {
			t.Errorf("round %d events carry sequences %d, %d", i, first.Sequence, second.Sequence)
		}
		if first.AgentID != "red" || second.AgentID != "blue" {
			t.Errorf("round %d events ordered %s, %s; want red, blue", i, first.AgentID, second.AgentID)
		}
	}
}

// countingMetrics counts recorder calls; used to observe the
// process-wide recorder path.
type countingMetrics struct {
	mu     sync.Mutex
	rounds int
	faults int
}

func (m *countingMetrics) RecordRound(_ context.Context, _ time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rounds++
	if err != nil {
		m.faults++
	}
}

func (m *countingMetrics) RecordPayoff(_ context.Context, _ string, _ game.PayoffKind, _ uint64) {}
func (m *countingMetrics) RecordFinalScore(_ context.Context, _ string, _ uint64)                {}
func (m *countingMetrics) Handler() http.Handler                                                 { return nil }

func TestDefaultMetricsIsGlobalRecorder(t *testing.T) {
	recorder := &countingMetrics{}
	observability.SetGlobalMetrics(recorder)
	defer observability.SetGlobalMetrics(nil)

	c, err := New(testConfig(5),
		newFakeResponder("red", game.Cooperate),
		newFakeResponder("blue", game.Cooperate))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	recorder.mu.Lock()
	defer recorder.mu.Unlock()
	if recorder.rounds != 5 {
		t.Errorf("global recorder saw %d rounds, want 5", recorder.rounds)
	}
	if recorder.faults != 0 {
		t.Errorf("global recorder saw %d faults, want 0", recorder.faults)
	}
}
