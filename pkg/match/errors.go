package match

import (
	"fmt"
	"time"
)

// MatchError represents errors in the match system.
type MatchError struct {
	Component string
	Operation string
	Message   string
	Err       error
	Timestamp time.Time
}

func (e *MatchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Component, e.Operation, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Component, e.Operation, e.Message)
}

func (e *MatchError) Unwrap() error {
	return e.Err
}

// NewMatchError creates a new match error.
func NewMatchError(component, operation, message string, err error) *MatchError {
	return &MatchError{
		Component: component,
		Operation: operation,
		Message:   message,
		Err:       err,
		Timestamp: time.Now(),
	}
}

// ConfigurationError reports an invalid match construction input:
// a zero iteration count or a payoff table violating the dilemma
// ordering. Detected before any round runs.
type ConfigurationError struct {
	Field   string
	Message string
	Err     error
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid configuration (%s): %s: %v", e.Field, e.Message, e.Err)
	}
	return fmt.Sprintf("invalid configuration (%s): %s", e.Field, e.Message)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// CommunicationError reports that an agent did not produce an action
// for a dispatched invitation. Fatal: the run aborts without retrying
// and without assuming a default action, which would corrupt the
// payoff record for the round.
type CommunicationError struct {
	AgentID  string
	Sequence uint32
	Err      error
}

func (e *CommunicationError) Error() string {
	return fmt.Sprintf("agent %s failed to respond at sequence %d: %v", e.AgentID, e.Sequence, e.Err)
}

func (e *CommunicationError) Unwrap() error {
	return e.Err
}
