package strategy

import (
	"math/rand"

	"github.com/kadirpekel/dilemma/pkg/game"
)

// Fixed always plays the same action, modeling a committed cooperator
// or defector.
type Fixed struct {
	action game.Action
}

// NewFixed creates a strategy that always plays the given action.
func NewFixed(action game.Action) *Fixed {
	return &Fixed{action: action}
}

func (s *Fixed) Name() string {
	return "fixed-" + s.action.String()
}

func (s *Fixed) Choose(_ game.Feedback) game.Action {
	return s.action
}

// Random plays cooperate or defect with uniform probability,
// independent of history.
type Random struct {
	rng *rand.Rand
}

// NewRandom creates a uniformly random strategy. A nil source falls
// back to a time-seeded one; tests pass a fixed-seed source for
// reproducible runs.
func NewRandom(rng *rand.Rand) *Random {
	if rng == nil {
		rng = rand.New(rand.NewSource(rand.Int63()))
	}
	return &Random{rng: rng}
}

func (s *Random) Name() string {
	return "random"
}

func (s *Random) Choose(_ game.Feedback) game.Action {
	if s.rng.Intn(2) == 0 {
		return game.Cooperate
	}
	return game.Defect
}

// TitForTat cooperates on the first round and then mirrors the
// opponent's previous action, inferred from the own-payoff kind.
type TitForTat struct{}

// NewTitForTat creates a tit-for-tat strategy.
func NewTitForTat() *TitForTat {
	return &TitForTat{}
}

func (s *TitForTat) Name() string {
	return "tit-for-tat"
}

func (s *TitForTat) Choose(last game.Feedback) game.Action {
	cooperated, known := OpponentCooperated(last)
	if !known || cooperated {
		return game.Cooperate
	}
	return game.Defect
}
