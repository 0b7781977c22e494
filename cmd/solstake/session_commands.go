package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/brojonat/solstake/client"
	"github.com/brojonat/solstake/service/stake"
	"github.com/urfave/cli/v2"
)

func newClient(c *cli.Context) *client.Client {
	return client.NewClient(c.String("server-url"), nil, cliLogger(c))
}

func walletArg(c *cli.Context) (string, error) {
	if c.NArg() < 1 {
		return "", fmt.Errorf("wallet address is required")
	}
	return c.Args().First(), nil
}

func sessionCommands() *cli.Command {
	return &cli.Command{
		Name:  "session",
		Usage: "Manage wallet sessions on a solstake server",
		Subcommands: []*cli.Command{
			sessionStartCommand(),
			sessionStopCommand(),
			sessionListCommand(),
			sessionAccountsCommand(),
			sessionAddCommand(),
			sessionNextSeedCommand(),
			sessionYieldsCommand(),
			sessionSummaryCommand(),
		},
	}
}

func sessionStartCommand() *cli.Command {
	return &cli.Command{
		Name:      "start",
		Usage:     "Start tracking a wallet's stake accounts",
		ArgsUsage: "WALLET_ADDRESS",
		Action: func(c *cli.Context) error {
			out, err := newOutput(c)
			if err != nil {
				return err
			}
			wallet, err := walletArg(c)
			if err != nil {
				return err
			}
			sess, err := newClient(c).StartSession(c.Context, wallet)
			if err != nil {
				return fmt.Errorf("failed to start session: %w", err)
			}
			if out.json {
				return out.printJSON(sess)
			}
			if sess.Created {
				fmt.Fprintf(out.w, "✓ Session started for %s\n", sess.Wallet)
			} else {
				fmt.Fprintf(out.w, "✓ Session already running for %s\n", sess.Wallet)
			}
			fmt.Fprintf(out.w, "  ID:        %s\n", sess.ID)
			fmt.Fprintf(out.w, "  Accounts:  %d\n", sess.Accounts)
			fmt.Fprintf(out.w, "  Started:   %s\n", sess.StartedAt.Format(time.RFC3339))
			return nil
		},
	}
}

func sessionStopCommand() *cli.Command {
	return &cli.Command{
		Name:      "stop",
		Usage:     "Stop tracking a wallet",
		ArgsUsage: "WALLET_ADDRESS",
		Action: func(c *cli.Context) error {
			out, err := newOutput(c)
			if err != nil {
				return err
			}
			wallet, err := walletArg(c)
			if err != nil {
				return err
			}
			if err := newClient(c).StopSession(c.Context, wallet); err != nil {
				return fmt.Errorf("failed to stop session: %w", err)
			}
			if out.json {
				return out.printJSON(map[string]string{"wallet": wallet, "status": "stopped"})
			}
			fmt.Fprintf(out.w, "✓ Session stopped for %s\n", wallet)
			return nil
		},
	}
}

func sessionListCommand() *cli.Command {
	return &cli.Command{
		Name:    "list",
		Aliases: []string{"ls"},
		Usage:   "List running sessions",
		Action: func(c *cli.Context) error {
			out, err := newOutput(c)
			if err != nil {
				return err
			}
			sessions, err := newClient(c).ListSessions(c.Context)
			if err != nil {
				return fmt.Errorf("failed to list sessions: %w", err)
			}
			sessions, err = filterItems(out.filters, sessions)
			if err != nil {
				return err
			}
			if out.json {
				return out.printJSON(sessions)
			}
			w := out.table()
			fmt.Fprintln(w, "WALLET\tID\tACCOUNTS\tSTARTED")
			for _, s := range sessions {
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", s.Wallet, s.ID, s.Accounts, s.StartedAt.Format(time.RFC3339))
			}
			return w.Flush()
		},
	}
}

func sessionAccountsCommand() *cli.Command {
	return &cli.Command{
		Name:      "accounts",
		Usage:     "List a session's tracked stake accounts",
		ArgsUsage: "WALLET_ADDRESS",
		Action: func(c *cli.Context) error {
			out, err := newOutput(c)
			if err != nil {
				return err
			}
			wallet, err := walletArg(c)
			if err != nil {
				return err
			}
			accounts, err := newClient(c).StakeAccounts(c.Context, wallet)
			if err != nil {
				return fmt.Errorf("failed to list stake accounts: %w", err)
			}
			accounts, err = filterItems(out.filters, accounts)
			if err != nil {
				return err
			}
			if out.json {
				return out.printJSON(accounts)
			}
			printRecords(out, accounts)
			return nil
		},
	}
}

func sessionAddCommand() *cli.Command {
	return &cli.Command{
		Name:      "add",
		Usage:     "Insert a just-created stake account into a session",
		ArgsUsage: "WALLET_ADDRESS STAKE_ADDRESS SEED",
		Action: func(c *cli.Context) error {
			out, err := newOutput(c)
			if err != nil {
				return err
			}
			if c.NArg() != 3 {
				return fmt.Errorf("requires exactly three arguments: wallet, stake address and seed")
			}
			rec, err := newClient(c).AddStakeAccount(c.Context, c.Args().Get(0), c.Args().Get(1), c.Args().Get(2))
			if err != nil {
				return fmt.Errorf("failed to add stake account: %w", err)
			}
			if out.json {
				return out.printJSON(rec)
			}
			printRecords(out, []stake.RecordView{*rec})
			return nil
		},
	}
}

func sessionNextSeedCommand() *cli.Command {
	return &cli.Command{
		Name:      "next-seed",
		Usage:     "Suggest the seed for a session's next stake account",
		ArgsUsage: "WALLET_ADDRESS",
		Action: func(c *cli.Context) error {
			out, err := newOutput(c)
			if err != nil {
				return err
			}
			wallet, err := walletArg(c)
			if err != nil {
				return err
			}
			next, err := newClient(c).NextSeed(c.Context, wallet)
			if err != nil {
				return fmt.Errorf("failed to get next seed: %w", err)
			}
			if out.json {
				return out.printJSON(next)
			}
			fmt.Fprintf(out.w, "Seed:     %s\n", next.Seed)
			fmt.Fprintf(out.w, "Address:  %s\n", next.Address)
			return nil
		},
	}
}

func sessionYieldsCommand() *cli.Command {
	return &cli.Command{
		Name:      "yields",
		Usage:     "Show the APY of a session's stake accounts",
		ArgsUsage: "WALLET_ADDRESS",
		Action: func(c *cli.Context) error {
			out, err := newOutput(c)
			if err != nil {
				return err
			}
			wallet, err := walletArg(c)
			if err != nil {
				return err
			}
			resp, err := newClient(c).Yields(c.Context, wallet)
			if err != nil {
				return fmt.Errorf("failed to get yields: %w", err)
			}
			yields, err := filterItems(out.filters, resp.Yields)
			if err != nil {
				return err
			}
			if out.json {
				return out.printJSON(yields)
			}
			fmt.Fprintf(out.w, "Epoch %d\n\n", resp.Epoch)
			printYields(out, yields)
			return nil
		},
	}
}

func sessionSummaryCommand() *cli.Command {
	return &cli.Command{
		Name:      "summary",
		Usage:     "Show staked versus liquid balance",
		ArgsUsage: "WALLET_ADDRESS",
		Action: func(c *cli.Context) error {
			out, err := newOutput(c)
			if err != nil {
				return err
			}
			wallet, err := walletArg(c)
			if err != nil {
				return err
			}
			summary, err := newClient(c).Summary(c.Context, wallet)
			if err != nil {
				return fmt.Errorf("failed to get summary: %w", err)
			}
			if out.json {
				return out.printJSON(summary)
			}
			printSummary(out, *summary)
			return nil
		},
	}
}

func streamCommand() *cli.Command {
	return &cli.Command{
		Name:      "stream",
		Usage:     "Stream a wallet's stake events via SSE (HTTP)",
		ArgsUsage: "WALLET_ADDRESS",
		Action: func(c *cli.Context) error {
			out, err := newOutput(c)
			if err != nil {
				return err
			}
			wallet, err := walletArg(c)
			if err != nil {
				return err
			}

			ctx, cancel := signalContext(c)
			defer cancel()

			out.infof("Streaming stake events for %s... (Ctrl+C to stop)\n\n", wallet)
			return newClient(c).Stream(ctx, wallet, func(ev client.Event) error {
				return handleStreamEvent(out, ev)
			})
		},
	}
}

// handleStreamEvent prints one SSE event. In JSON mode each event is one
// line; --jq filters apply to the event payload.
func handleStreamEvent(out *output, ev client.Event) error {
	var payload interface{}
	if err := json.Unmarshal(ev.Data, &payload); err != nil {
		return fmt.Errorf("invalid %s event: %w", ev.Kind, err)
	}
	if ev.Kind != "connected" && len(out.filters) > 0 {
		ok, err := out.filters.match(payload)
		if err != nil {
			return fmt.Errorf("jq filter error: %w", err)
		}
		if !ok {
			return nil
		}
	}

	if out.json {
		line, err := json.Marshal(map[string]interface{}{"event": ev.Kind, "data": payload})
		if err != nil {
			return err
		}
		fmt.Fprintln(out.w, string(line))
		return nil
	}

	switch ev.Kind {
	case "connected":
		out.infof("✓ Subscribed to wallet\n\n")
	case "accounts":
		var event struct {
			Accounts []stake.RecordView `json:"accounts"`
		}
		if err := json.Unmarshal(ev.Data, &event); err != nil {
			return err
		}
		fmt.Fprintf(out.w, "── accounts changed (%d tracked) ──\n", len(event.Accounts))
		printRecords(out, event.Accounts)
	case "rewards":
		var event struct {
			Completed int `json:"completed"`
			Total     int `json:"total"`
		}
		if err := json.Unmarshal(ev.Data, &event); err != nil {
			return err
		}
		fmt.Fprintf(out.w, "── rewards: %d/%d epochs ──\n", event.Completed, event.Total)
	case "report":
		var event struct {
			Summary stake.SummaryView `json:"summary"`
			Yields  []stake.YieldView `json:"yields"`
		}
		if err := json.Unmarshal(ev.Data, &event); err != nil {
			return err
		}
		fmt.Fprintln(out.w, "── stake report ──")
		printSummary(out, event.Summary)
		printYields(out, event.Yields)
	}
	return nil
}
