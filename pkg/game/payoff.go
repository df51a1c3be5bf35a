package game

import "fmt"

// PayoffKind classifies a round's outcome for one player. None is the
// kind fed back before the first round, when there is no prior outcome.
type PayoffKind int

const (
	None PayoffKind = iota
	Reward
	Punishment
	Temptation
	Sucker
)

func (k PayoffKind) String() string {
	switch k {
	case None:
		return "none"
	case Reward:
		return "reward"
	case Punishment:
		return "punishment"
	case Temptation:
		return "temptation"
	case Sucker:
		return "sucker"
	default:
		return "unknown"
	}
}

// Feedback is what a player is told about its own immediately-prior
// round before choosing its next action. The zero value is the initial
// feedback {None, 0}.
type Feedback struct {
	Kind   PayoffKind
	Amount uint64
}

// PayoffTable maps payoff kinds to reward amounts. It is fixed for a
// whole match and read-only during play, so concurrent lookups need no
// synchronization.
type PayoffTable struct {
	values map[PayoffKind]uint64
}

// NewPayoffTable builds a table from the given kind-to-amount mapping.
// The mapping is copied; later mutation of the argument has no effect.
func NewPayoffTable(values map[PayoffKind]uint64) PayoffTable {
	copied := make(map[PayoffKind]uint64, len(values))
	for kind, amount := range values {
		copied[kind] = amount
	}
	return PayoffTable{values: copied}
}

// DefaultPayoffTable returns the canonical table (R=3, T=4, P=2, S=1).
func DefaultPayoffTable() PayoffTable {
	return NewPayoffTable(map[PayoffKind]uint64{
		Reward:     3,
		Temptation: 4,
		Punishment: 2,
		Sucker:     1,
	})
}

// Lookup returns the reward amount for a payoff kind. None and any
// kind absent from the table yield 0. Lookups are total; there is no
// error path.
func (t PayoffTable) Lookup(kind PayoffKind) uint64 {
	if kind == None {
		return 0
	}
	return t.values[kind]
}

// Validate checks the dilemma ordering invariants:
// temptation > reward > punishment > sucker, and 2*reward >
// temptation + sucker so that sustained cooperation outscores
// alternating exploitation.
func (t PayoffTable) Validate() error {
	r := t.Lookup(Reward)
	tt := t.Lookup(Temptation)
	p := t.Lookup(Punishment)
	s := t.Lookup(Sucker)

	if !(tt > r && r > p && p > s) {
		return fmt.Errorf(
			"payoff ordering violated: require temptation > reward > punishment > sucker, got T=%d R=%d P=%d S=%d",
			tt, r, p, s)
	}
	if 2*r <= tt+s {
		return fmt.Errorf(
			"payoff balance violated: require 2*reward > temptation + sucker, got R=%d T=%d S=%d",
			r, tt, s)
	}
	return nil
}

// Resolve maps a pair of actions to the pair of payoff kinds awarded,
// in the same order as the arguments.
//
// The labeling follows the canonical table: the kind names the outcome
// for the first-named player of each ordered pair, so a defector facing
// a cooperator is awarded Sucker while the cooperator is awarded
// Temptation. Callers must keep the argument order fixed across rounds;
// swapping it swaps which player each kind describes.
func Resolve(own, opponent Action) (PayoffKind, PayoffKind) {
	switch {
	case own == Cooperate && opponent == Cooperate:
		return Reward, Reward
	case own == Defect && opponent == Defect:
		return Punishment, Punishment
	case own == Defect && opponent == Cooperate:
		return Sucker, Temptation
	default: // own == Cooperate && opponent == Defect
		return Temptation, Sucker
	}
}
