// Package testutils provides shared fixtures for match tests.
package testutils

import (
	"time"

	"github.com/kadirpekel/dilemma/pkg/config"
	"github.com/kadirpekel/dilemma/pkg/game"
)

// TestConfig returns a small, fully valid configuration for testing:
// ten rounds between two always-cooperating agents.
func TestConfig() *config.Config {
	cfg := config.Default()
	cfg.Match.Iterations = 10
	cfg.Match.ResponseTimeout = config.Duration(time.Second)
	cfg.Agents[0].Strategy = "cooperate"
	cfg.Agents[1].Strategy = "cooperate"
	return cfg
}

// TestPayoffTable returns the standard payoff table used across tests.
func TestPayoffTable() game.PayoffTable {
	return game.DefaultPayoffTable()
}

// TestAgentConfig returns a minimal valid agent declaration.
func TestAgentConfig(name string) config.AgentConfig {
	return config.AgentConfig{Name: name, Strategy: "cooperate"}
}
