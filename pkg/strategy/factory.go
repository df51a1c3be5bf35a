package strategy

import (
	"fmt"
	"math/rand"
	"strings"
	"sync"

	"github.com/kadirpekel/dilemma/pkg/game"
	"github.com/kadirpekel/dilemma/pkg/registry"
)

// Options carries construction parameters for strategies that need
// them. Strategies ignore fields they have no use for.
type Options struct {
	// Action is the constant action for the fixed strategy.
	Action game.Action

	// Rand is the random source for the random strategy. Nil means a
	// time-seeded source.
	Rand *rand.Rand
}

// Builder constructs a strategy instance from options.
type Builder func(opts Options) (Strategy, error)

type entry struct {
	info    Info
	builder Builder
}

var (
	builders     = registry.NewBaseRegistry[entry]()
	registerOnce sync.Once
)

func registerBuiltins() {
	builtins := []struct {
		info    Info
		builder Builder
	}{
		{
			info: Info{
				Name:        "cooperate",
				Description: "Always cooperates, regardless of history",
			},
			builder: func(_ Options) (Strategy, error) {
				return NewFixed(game.Cooperate), nil
			},
		},
		{
			info: Info{
				Name:        "defect",
				Description: "Always defects, regardless of history",
			},
			builder: func(_ Options) (Strategy, error) {
				return NewFixed(game.Defect), nil
			},
		},
		{
			info: Info{
				Name:        "fixed",
				Description: "Always plays the configured action",
			},
			builder: func(opts Options) (Strategy, error) {
				return NewFixed(opts.Action), nil
			},
		},
		{
			info: Info{
				Name:        "random",
				Description: "Cooperates or defects with uniform 50/50 probability",
			},
			builder: func(opts Options) (Strategy, error) {
				return NewRandom(opts.Rand), nil
			},
		},
		{
			info: Info{
				Name:        "tit-for-tat",
				Description: "Cooperates first, then mirrors the opponent's previous action",
			},
			builder: func(_ Options) (Strategy, error) {
				return NewTitForTat(), nil
			},
		},
	}

	for _, b := range builtins {
		// Registration cannot fail for the built-in set.
		_ = builders.Register(b.info.Name, entry{info: b.info, builder: b.builder})
	}
}

// Register makes a custom strategy available to New under the given
// name. Names are stored in the same normalized form New looks them
// up with. Built-in names cannot be overridden.
func Register(info Info, builder Builder) error {
	registerOnce.Do(registerBuiltins)

	if builder == nil {
		return fmt.Errorf("builder cannot be nil")
	}
	name := strings.ToLower(strings.TrimSpace(info.Name))
	if name == "" {
		return fmt.Errorf("strategy name is required")
	}
	return builders.Register(name, entry{info: info, builder: builder})
}

// New creates a strategy by name. Names are matched case-insensitively.
func New(name string, opts Options) (Strategy, error) {
	registerOnce.Do(registerBuiltins)

	name = strings.ToLower(strings.TrimSpace(name))
	e, ok := builders.Get(name)
	if !ok {
		return nil, fmt.Errorf("unsupported strategy '%s' (available: %s)",
			name, strings.Join(builders.Names(), ", "))
	}
	return e.builder(opts)
}

// List returns the available strategies in name order.
func List() []Info {
	registerOnce.Do(registerBuiltins)

	names := builders.Names()
	infos := make([]Info, 0, len(names))
	for _, name := range names {
		if e, ok := builders.Get(name); ok {
			infos = append(infos, e.info)
		}
	}
	return infos
}
