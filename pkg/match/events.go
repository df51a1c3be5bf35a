package match

import (
	"time"

	"github.com/kadirpekel/dilemma/pkg/game"
)

// EventType identifies a match trace event.
type EventType string

const (
	// EventMatchStart opens the trace.
	EventMatchStart EventType = "match_start"

	// EventRound reports one agent's resolved outcome for one round.
	// Two round events are emitted per round, first agent first.
	EventRound EventType = "round"

	// EventMatchEnd closes the trace of a completed match.
	EventMatchEnd EventType = "match_end"

	// EventMatchFailed closes the trace of an aborted match.
	EventMatchFailed EventType = "match_failed"
)

// Event is one element of the per-match trace: a lazy, ordered, finite
// stream consumed by an external observer and not retained by the core.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"type"`
	MatchID   string    `json:"match_id"`

	// Round fields (EventRound, and EventMatchFailed for AgentID).
	Sequence uint32          `json:"sequence,omitempty"`
	AgentID  string          `json:"agent_id,omitempty"`
	Action   game.Action     `json:"action,omitempty"`
	Kind     game.PayoffKind `json:"kind,omitempty"`
	Amount   uint64          `json:"amount,omitempty"`

	// Terminal fields.
	Totals map[string]uint64 `json:"totals,omitempty"`
	Error  string            `json:"error,omitempty"`
}
