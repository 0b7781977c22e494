package main

import (
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/urfave/cli/v2"
)

var (
	// Version information (set via ldflags during build)
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	_ = godotenv.Load()

	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "solstake",
		Usage: "Solana stake account discovery, rewards and yield CLI",
		Description: `A command-line tool for inspecting a wallet's stake accounts.

Ledger commands (scan, rewards, epoch, seed) talk to Solana RPC directly.
Session commands drive a running solstake server.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		Commands: []*cli.Command{
			// Direct ledger commands
			scanCommand(),
			rewardsCommand(),
			epochCommand(),
			seedCommands(),
			// Server session commands (HTTP API)
			sessionCommands(),
			streamCommand(),
			// Temporal report schedules
			scheduleCommands(),
			// NATS event streaming
			{
				Name:  "nats",
				Usage: "NATS stake event commands",
				Subcommands: []*cli.Command{
					subscribeCommand(),
				},
			},
			// Server utility commands
			{
				Name:  "server",
				Usage: "Server utility commands",
				Subcommands: []*cli.Command{
					healthCommand(),
					versionCommand(),
				},
			},
		},
		// Global flags available to all commands
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:    "rpc-url",
				Usage:   "Solana RPC endpoint (repeatable; one is chosen at random)",
				EnvVars: []string{"SOLANA_RPC_URLS"},
				Value:   cli.NewStringSlice("https://api.mainnet-beta.solana.com"),
			},
			&cli.StringFlag{
				Name:    "commitment",
				Usage:   "Commitment level for ledger reads (processed, confirmed, finalized)",
				EnvVars: []string{"SOLANA_COMMITMENT"},
				Value:   "confirmed",
			},
			&cli.Float64Flag{
				Name:    "rate-limit",
				Usage:   "Maximum RPC requests per second (0 = unlimited)",
				EnvVars: []string{"RPC_RATE_LIMIT"},
			},
			&cli.StringFlag{
				Name:    "server-url",
				Usage:   "solstake server URL",
				EnvVars: []string{"SOLSTAKE_SERVER_URL", "SERVER_URL"},
				Value:   "http://localhost:8080",
			},
			&cli.StringFlag{
				Name:    "temporal-host",
				Usage:   "Temporal server address",
				EnvVars: []string{"TEMPORAL_HOST"},
				Value:   "localhost:7233",
			},
			&cli.StringFlag{
				Name:    "temporal-namespace",
				Usage:   "Temporal namespace",
				EnvVars: []string{"TEMPORAL_NAMESPACE"},
				Value:   "default",
			},
			&cli.StringFlag{
				Name:    "temporal-task-queue",
				Usage:   "Temporal task queue for stake reports",
				EnvVars: []string{"TEMPORAL_TASK_QUEUE"},
				Value:   "solstake-reports",
			},
			&cli.StringFlag{
				Name:    "nats-url",
				Usage:   "NATS server URL",
				EnvVars: []string{"NATS_URL"},
				Value:   "nats://localhost:4222",
			},
			&cli.BoolFlag{
				Name:    "json",
				Aliases: []string{"j"},
				Usage:   "Output in JSON format",
			},
			&cli.StringSliceFlag{
				Name:    "jq",
				Aliases: []string{"must-jq"},
				Usage:   "jq filter each record must satisfy (can be specified multiple times, all must match)",
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level for diagnostics on stderr",
				EnvVars: []string{"LOG_LEVEL"},
				Value:   "warn",
			},
		},
	}
}

// cliLogger writes colored diagnostics to the app's error writer.
func cliLogger(c *cli.Context) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.String("log-level"))); err != nil {
		level = slog.LevelWarn
	}
	w := c.App.ErrWriter
	if w == nil {
		w = os.Stderr
	}
	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
	}))
}
