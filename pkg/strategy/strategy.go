// Package strategy provides the pluggable decision capability for
// prisoner agents. A strategy maps the feedback from the agent's own
// previous round to the action for the next round; implementations may
// also track history internally across calls.
package strategy

import "github.com/kadirpekel/dilemma/pkg/game"

// Strategy defines how an agent decides its next action.
//
// Choose receives the feedback from the agent's own immediately-prior
// round ({None, 0} before the first round). Baseline strategies may
// ignore it; history-aware strategies derive the opponent's previous
// action from the payoff kind. Choose is always called from a single
// goroutine per strategy instance, so implementations need no internal
// locking.
type Strategy interface {
	// Name returns the strategy name.
	Name() string

	// Choose returns the action for the next round. It is total:
	// there is no failure mode.
	Choose(last game.Feedback) game.Action
}

// Info describes an available strategy for listing surfaces.
type Info struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// OpponentCooperated reports whether the opponent cooperated in the
// round the feedback describes. Under the canonical resolution table
// the own-payoff kind fully determines the opponent's action: Reward
// and Sucker follow an opponent cooperation, Punishment and Temptation
// follow an opponent defection. The second return is false for None,
// when there is no prior round.
func OpponentCooperated(last game.Feedback) (bool, bool) {
	switch last.Kind {
	case game.Reward, game.Sucker:
		return true, true
	case game.Punishment, game.Temptation:
		return false, true
	default:
		return false, false
	}
}
