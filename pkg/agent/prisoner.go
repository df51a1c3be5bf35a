// Package agent provides the prisoner actor: one goroutine exclusively
// owning a strategy and a cumulative score, answering round invitations
// delivered through its mailbox.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/kadirpekel/dilemma/pkg/game"
	"github.com/kadirpekel/dilemma/pkg/strategy"
)

// Invitation asks a prisoner for its action for one round. Feedback
// describes the prisoner's own previous round ({None, 0} for round 0).
type Invitation struct {
	Sequence uint32
	Feedback game.Feedback
}

type envelope struct {
	invitation Invitation
	settle     bool
	reply      chan game.Action
}

// Prisoner holds one strategy and one running score. Its state is
// mutated only by its own goroutine, in response to invitations; the
// coordinator serializes invitations per prisoner, though two
// prisoners may be invited concurrently with respect to each other.
type Prisoner struct {
	id    string
	strat strategy.Strategy

	mailbox chan envelope
	quit    chan struct{}
	stopped chan struct{}

	// score belongs to the run goroutine; readable by others only
	// after stopped is closed.
	score uint64

	stopOnce sync.Once
}

// NewPrisoner creates a prisoner with a zero score and starts its
// actor goroutine. The prisoner lives until Stop is called.
func NewPrisoner(id string, strat strategy.Strategy) (*Prisoner, error) {
	if id == "" {
		return nil, fmt.Errorf("prisoner id is required")
	}
	if strat == nil {
		return nil, fmt.Errorf("prisoner strategy is required")
	}

	p := &Prisoner{
		id:      id,
		strat:   strat,
		mailbox: make(chan envelope),
		quit:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go p.run()
	return p, nil
}

// ID returns the prisoner's identity.
func (p *Prisoner) ID() string {
	return p.id
}

// Ask delivers an invitation and waits for the chosen action. It fails
// only when the prisoner has stopped or the context ends before a
// reply arrives; a live prisoner always answers.
func (p *Prisoner) Ask(ctx context.Context, inv Invitation) (game.Action, error) {
	env := envelope{invitation: inv, reply: make(chan game.Action, 1)}

	select {
	case p.mailbox <- env:
	case <-p.stopped:
		return game.Cooperate, fmt.Errorf("prisoner %s is stopped", p.id)
	case <-ctx.Done():
		return game.Cooperate, fmt.Errorf("prisoner %s: %w", p.id, ctx.Err())
	}

	select {
	case action := <-env.reply:
		return action, nil
	case <-p.stopped:
		return game.Cooperate, fmt.Errorf("prisoner %s stopped before replying", p.id)
	case <-ctx.Done():
		return game.Cooperate, fmt.Errorf("prisoner %s: %w", p.id, ctx.Err())
	}
}

// Settle credits the feedback of the final round without asking for an
// action, so the end-of-run score covers every completed round. The
// coordinator calls it once, after the last round resolves.
func (p *Prisoner) Settle(ctx context.Context, feedback game.Feedback) error {
	env := envelope{
		invitation: Invitation{Feedback: feedback},
		settle:     true,
		reply:      make(chan game.Action, 1),
	}

	select {
	case p.mailbox <- env:
	case <-p.stopped:
		return fmt.Errorf("prisoner %s is stopped", p.id)
	case <-ctx.Done():
		return fmt.Errorf("prisoner %s: %w", p.id, ctx.Err())
	}

	select {
	case <-env.reply:
		return nil
	case <-p.stopped:
		return fmt.Errorf("prisoner %s stopped before settling", p.id)
	case <-ctx.Done():
		return fmt.Errorf("prisoner %s: %w", p.id, ctx.Err())
	}
}

// Stop tears the actor down and waits for its goroutine to exit.
// Idempotent; invitations delivered after Stop fail.
func (p *Prisoner) Stop() {
	p.stopOnce.Do(func() {
		close(p.quit)
	})
	<-p.stopped
}

// FinalScore blocks until the prisoner has stopped and returns the
// authoritative end-of-run score.
func (p *Prisoner) FinalScore() uint64 {
	<-p.stopped
	return p.score
}

func (p *Prisoner) run() {
	slog.Debug("prisoner starts", "id", p.id)
	defer close(p.stopped)

	for {
		select {
		case <-p.quit:
			slog.Debug("prisoner stops", "id", p.id, "final_score", p.score)
			return
		case env := <-p.mailbox:
			// The score reflects all completed rounds up to and
			// including the one just fed back, before choosing.
			p.score += env.invitation.Feedback.Amount

			if env.settle {
				slog.Debug("final feedback settled",
					"id", p.id,
					"payoff", env.invitation.Feedback.Kind.String(),
					"amount", env.invitation.Feedback.Amount,
					"score", p.score,
				)
				env.reply <- game.Cooperate
				continue
			}

			action := p.strat.Choose(env.invitation.Feedback)

			slog.Debug("invitation received",
				"id", p.id,
				"sequence", env.invitation.Sequence,
				"prev_payoff", env.invitation.Feedback.Kind.String(),
				"prev_amount", env.invitation.Feedback.Amount,
				"score", p.score,
				"action", action.String(),
			)

			env.reply <- action
		}
	}
}
