// Package game provides the payoff model for the iterated prisoner's
// dilemma: actions, payoff kinds, the payoff table, and the resolution
// rule mapping a pair of actions to a pair of payoff kinds.
package game

// Action is a player's move in a single round.
type Action int

const (
	Cooperate Action = iota
	Defect
)

func (a Action) String() string {
	switch a {
	case Cooperate:
		return "cooperate"
	case Defect:
		return "defect"
	default:
		return "unknown"
	}
}

// ParseAction converts a string to an Action. Used by configuration
// and CLI surfaces; the core never produces invalid actions.
func ParseAction(s string) (Action, error) {
	switch s {
	case "cooperate":
		return Cooperate, nil
	case "defect":
		return Defect, nil
	default:
		return Cooperate, &InvalidActionError{Value: s}
	}
}

// InvalidActionError reports an unrecognized action name.
type InvalidActionError struct {
	Value string
}

func (e *InvalidActionError) Error() string {
	return "invalid action '" + e.Value + "' (valid: cooperate, defect)"
}
