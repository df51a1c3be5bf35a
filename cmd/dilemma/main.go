// Command dilemma plays an iterated prisoner's dilemma match between
// two configured agents.
//
// Usage:
//
//	dilemma play --iterations 100 --first tit-for-tat --second random
//	dilemma play --config match.yaml
//	dilemma validate --config match.yaml
//	dilemma strategies
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/kadirpekel/dilemma/pkg/config"
	"github.com/kadirpekel/dilemma/pkg/runner"
	"github.com/kadirpekel/dilemma/pkg/strategy"
)

// CLI defines the command-line interface.
type CLI struct {
	Play       PlayCmd       `cmd:"" default:"1" help:"Play a match."`
	Validate   ValidateCmd   `cmd:"" help:"Validate configuration file."`
	Strategies StrategiesCmd `cmd:"" help:"List available strategies."`
	Version    VersionCmd    `cmd:"" help:"Show version information."`

	Config    string `short:"c" help:"Path to config file." type:"path"`
	LogLevel  string `help:"Log level (debug, info, warn, error)." default:"info"`
	LogFile   string `help:"Log file path (empty = stderr)."`
	LogFormat string `help:"Log format (simple, verbose, or custom)." default:"simple"`
}

// PlayCmd plays a match to completion.
type PlayCmd struct {
	Iterations uint32 `help:"Number of rounds to play (overrides config)."`
	First      string `help:"Strategy for the first agent (overrides config)."`
	Second     string `help:"Strategy for the second agent (overrides config)."`
	Seed       int64  `help:"Seed for random strategies; 0 means time-seeded."`
	Observe    bool   `help:"Enable observability (Prometheus metrics + OTLP tracing)."`
	JSON       bool   `name:"json" help:"Print the match summary as JSON."`
}

func (c *PlayCmd) Run(cli *CLI) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := loadConfig(cli.Config)
	if err != nil {
		return err
	}

	if c.Iterations > 0 {
		cfg.Match.Iterations = c.Iterations
	}
	if c.First != "" {
		cfg.Agents[0].Strategy = c.First
	}
	if c.Second != "" {
		cfg.Agents[1].Strategy = c.Second
	}
	if c.Seed != 0 {
		cfg.Match.Seed = c.Seed
	}
	if c.Observe {
		cfg.Observability.Tracing.Enabled = true
		cfg.Observability.Metrics.Enabled = true
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	summary, err := runner.New(cfg).Run(ctx)
	if err != nil {
		return err
	}

	if c.JSON {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(summary)
	}

	fmt.Printf("\nMatch %s: %d rounds in %s\n", summary.MatchID, summary.Rounds, summary.Elapsed)
	for _, agentCfg := range cfg.Agents {
		fmt.Printf("  %-12s %-12s score: %d\n",
			agentCfg.Name, agentCfg.Strategy, summary.FinalScores[agentCfg.Name])
	}
	return nil
}

// ValidateCmd validates a configuration file without playing.
type ValidateCmd struct{}

func (c *ValidateCmd) Run(cli *CLI) error {
	if cli.Config == "" {
		return fmt.Errorf("--config is required for validate command")
	}

	cfg, err := config.LoadFile(cli.Config)
	if err != nil {
		return err
	}

	fmt.Printf("Configuration OK: %d iterations, %s vs %s\n",
		cfg.Match.Iterations, cfg.Agents[0].Strategy, cfg.Agents[1].Strategy)
	return nil
}

// StrategiesCmd lists the registered strategies.
type StrategiesCmd struct{}

func (c *StrategiesCmd) Run() error {
	fmt.Println("Available strategies:")
	for _, info := range strategy.List() {
		fmt.Printf("  %-12s %s\n", info.Name, info.Description)
	}
	return nil
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("dilemma version %s\n", version)
	return nil
}

// loadConfig loads configuration from file, or defaults when no file
// is given.
func loadConfig(configPath string) (*config.Config, error) {
	if configPath != "" {
		cfg, err := config.LoadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		return cfg, nil
	}
	return config.Default(), nil
}

func main() {
	_ = config.LoadEnvFiles()

	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("dilemma"),
		kong.Description("Iterated prisoner's dilemma between concurrent agents"),
		kong.UsageOnError(),
	)

	cleanup, err := initLoggerFromCLI(cli.LogLevel, cli.LogFile, cli.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	if cleanup != nil {
		defer cleanup()
	}

	err = ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
}
