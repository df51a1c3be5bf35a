package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kadirpekel/dilemma/pkg/game"
	"github.com/kadirpekel/dilemma/pkg/observability"
	"github.com/kadirpekel/dilemma/pkg/strategy"
	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for a match run.
//
// Example:
//
//	match:
//	  iterations: 100
//	  response_timeout: 5s
//	payoffs:
//	  reward: 3
//	  temptation: 4
//	  punishment: 2
//	  sucker: 1
//	agents:
//	  - name: blue
//	    strategy: tit-for-tat
//	  - name: red
//	    strategy: random
type Config struct {
	Match         MatchConfig          `yaml:"match,omitempty"`
	Payoffs       PayoffConfig         `yaml:"payoffs,omitempty"`
	Agents        []AgentConfig        `yaml:"agents,omitempty"`
	Logger        LoggerConfig         `yaml:"logger,omitempty"`
	Observability observability.Config `yaml:"observability,omitempty"`
}

// Duration wraps time.Duration so YAML values like "5s" decode.
type Duration time.Duration

// UnmarshalYAML accepts either a duration string ("500ms", "5s") or a
// bare number of nanoseconds.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw any
	if err := node.Decode(&raw); err != nil {
		return err
	}

	switch v := raw.(type) {
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", v, err)
		}
		*d = Duration(parsed)
	case int:
		*d = Duration(time.Duration(v))
	case float64:
		*d = Duration(time.Duration(v))
	default:
		return fmt.Errorf("invalid duration value %v", raw)
	}

	return nil
}

// MarshalYAML renders the duration in its string form.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// MatchConfig configures the round loop.
type MatchConfig struct {
	// Iterations is the number of rounds to play.
	// Default: 100
	Iterations uint32 `yaml:"iterations,omitempty"`

	// ResponseTimeout bounds how long the coordinator waits for an
	// agent's action each round.
	// Default: 5s
	ResponseTimeout Duration `yaml:"response_timeout,omitempty"`

	// Seed seeds the random strategies. Zero means time-seeded.
	Seed int64 `yaml:"seed,omitempty"`
}

// SetDefaults applies default values to MatchConfig.
func (c *MatchConfig) SetDefaults() {
	if c.Iterations == 0 {
		c.Iterations = 100
	}
	if c.ResponseTimeout == 0 {
		c.ResponseTimeout = Duration(5 * time.Second)
	}
}

// Validate checks the match configuration.
func (c *MatchConfig) Validate() error {
	if c.Iterations == 0 {
		return fmt.Errorf("match: iterations must be positive")
	}
	if c.ResponseTimeout < 0 {
		return fmt.Errorf("match: response_timeout must not be negative")
	}
	return nil
}

// PayoffConfig holds the four payoff amounts.
type PayoffConfig struct {
	Reward     uint64 `yaml:"reward,omitempty"`
	Temptation uint64 `yaml:"temptation,omitempty"`
	Punishment uint64 `yaml:"punishment,omitempty"`
	Sucker     uint64 `yaml:"sucker,omitempty"`
}

// SetDefaults applies the standard payoff amounts when the whole
// section is omitted. A partially filled section is left alone so
// validation can report it.
func (c *PayoffConfig) SetDefaults() {
	if c.Reward == 0 && c.Temptation == 0 && c.Punishment == 0 && c.Sucker == 0 {
		table := game.DefaultPayoffTable()
		c.Reward = table.Lookup(game.Reward)
		c.Temptation = table.Lookup(game.Temptation)
		c.Punishment = table.Lookup(game.Punishment)
		c.Sucker = table.Lookup(game.Sucker)
	}
}

// Validate checks the payoff ordering constraints.
func (c *PayoffConfig) Validate() error {
	if err := c.ToTable().Validate(); err != nil {
		return fmt.Errorf("payoffs: %w", err)
	}
	return nil
}

// ToTable builds a game.PayoffTable from the configured amounts.
func (c *PayoffConfig) ToTable() game.PayoffTable {
	return game.NewPayoffTable(map[game.PayoffKind]uint64{
		game.Reward:     c.Reward,
		game.Temptation: c.Temptation,
		game.Punishment: c.Punishment,
		game.Sucker:     c.Sucker,
	})
}

// AgentConfig declares one participant. Exactly two agents are
// required; list order decides which agent is reported first in the
// match trace.
type AgentConfig struct {
	// Name identifies the agent in logs, events and metrics.
	Name string `yaml:"name"`

	// Strategy selects the decision rule (see strategy.List).
	// Default: random
	Strategy string `yaml:"strategy,omitempty"`

	// Action pins the move for the "fixed" strategy.
	// Values: cooperate, defect. Ignored by other strategies.
	Action string `yaml:"action,omitempty"`
}

// SetDefaults applies default values to AgentConfig.
func (c *AgentConfig) SetDefaults() {
	if c.Strategy == "" {
		c.Strategy = "random"
	}
}

// Validate checks a single agent declaration.
func (c *AgentConfig) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("agent: name is required")
	}
	if c.Action != "" {
		if _, err := game.ParseAction(c.Action); err != nil {
			return fmt.Errorf("agent %q: %w", c.Name, err)
		}
	}

	known := false
	for _, info := range strategy.List() {
		if strings.EqualFold(c.Strategy, info.Name) {
			known = true
			break
		}
	}
	if !known {
		return fmt.Errorf("agent %q: unknown strategy %q", c.Name, c.Strategy)
	}

	return nil
}

// SetDefaults applies default values to all sections.
func (c *Config) SetDefaults() {
	c.Match.SetDefaults()
	c.Payoffs.SetDefaults()

	if len(c.Agents) == 0 {
		c.Agents = []AgentConfig{
			{Name: "blue"},
			{Name: "red"},
		}
	}
	for i := range c.Agents {
		c.Agents[i].SetDefaults()
	}

	c.Logger.SetDefaults()
	c.Observability.SetDefaults()
}

// Validate checks the whole configuration.
func (c *Config) Validate() error {
	if err := c.Match.Validate(); err != nil {
		return err
	}
	if err := c.Payoffs.Validate(); err != nil {
		return err
	}

	if len(c.Agents) != 2 {
		return fmt.Errorf("agents: exactly two agents are required, got %d", len(c.Agents))
	}
	names := make(map[string]bool, len(c.Agents))
	for i := range c.Agents {
		if err := c.Agents[i].Validate(); err != nil {
			return err
		}
		name := c.Agents[i].Name
		if names[name] {
			return fmt.Errorf("agents: duplicate agent name %q", name)
		}
		names[name] = true
	}

	return c.Logger.Validate()
}

// ProcessConfigPipeline applies defaults then validates, in that order.
func (c *Config) ProcessConfigPipeline() error {
	c.SetDefaults()
	return c.Validate()
}
