package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/brojonat/solstake/service/solana"
	"github.com/brojonat/solstake/service/stake"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/urfave/cli/v2"
)

// ledgerFactory builds the ledger a command reads from. Tests replace it.
var ledgerFactory = func(c *cli.Context, logger *slog.Logger) (stake.Ledger, error) {
	blockTimes, err := solana.NewBlockTimeCache(1024, nil, nil, logger)
	if err != nil {
		return nil, err
	}
	client, _, err := solana.Dial(solana.DialConfig{
		Endpoints:  c.StringSlice("rpc-url"),
		Commitment: rpc.CommitmentType(c.String("commitment")),
		RateLimit:  c.Float64("rate-limit"),
		BlockTimes: blockTimes,
	}, nil, logger)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// signalContext is cancelled on interrupt so long scans stop cleanly.
func signalContext(c *cli.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
}

func parseWallet(c *cli.Context) (solanago.PublicKey, error) {
	if c.NArg() < 1 {
		return solanago.PublicKey{}, fmt.Errorf("wallet address is required")
	}
	owner, err := solanago.PublicKeyFromBase58(c.Args().First())
	if err != nil {
		return solanago.PublicKey{}, fmt.Errorf("invalid wallet address: %w", err)
	}
	return owner, nil
}

// progressNotifier reports reward batches on stderr.
type progressNotifier struct {
	out *output
}

func (n progressNotifier) AccountsChanged(ctx context.Context, owner solanago.PublicKey, records []*stake.Record) error {
	return nil
}

func (n progressNotifier) RewardsProgressed(ctx context.Context, owner solanago.PublicKey, p stake.RewardsProgress) error {
	n.out.infof("  fetched %d/%d epochs\n", p.Completed, p.Total)
	return nil
}

// startSession scans the wallet once with a session that never subscribes.
func startSession(ctx context.Context, c *cli.Context, out *output) (*stake.Session, error) {
	owner, err := parseWallet(c)
	if err != nil {
		return nil, err
	}
	logger := cliLogger(c)
	ledger, err := ledgerFactory(c, logger)
	if err != nil {
		return nil, err
	}
	sess, err := stake.NewSession(stake.SessionConfig{
		Owner:            owner,
		Ledger:           ledger,
		Notifier:         progressNotifier{out: out},
		BlockTimeBackoff: stake.DefaultBlockTimeBackoff(),
		Logger:           logger,
	})
	if err != nil {
		return nil, err
	}
	out.infof("Scanning stake accounts for %s...\n", owner)
	if err := sess.Start(ctx); err != nil {
		sess.Close()
		return nil, fmt.Errorf("failed to scan stake accounts: %w", err)
	}
	return sess, nil
}

func scanCommand() *cli.Command {
	return &cli.Command{
		Name:      "scan",
		Usage:     "List a wallet's stake accounts",
		ArgsUsage: "WALLET_ADDRESS",
		Action: func(c *cli.Context) error {
			out, err := newOutput(c)
			if err != nil {
				return err
			}
			ctx, cancel := signalContext(c)
			defer cancel()

			sess, err := startSession(ctx, c, out)
			if err != nil {
				return err
			}
			defer sess.Close()

			records, err := filterItems(out.filters, stake.RecordViews(sess.Accounts()))
			if err != nil {
				return err
			}
			if out.json {
				return out.printJSON(records)
			}
			printRecords(out, records)
			return nil
		},
	}
}

func rewardsCommand() *cli.Command {
	return &cli.Command{
		Name:      "rewards",
		Usage:     "Fetch reward history and APY for a wallet's stake accounts",
		ArgsUsage: "WALLET_ADDRESS",
		Action: func(c *cli.Context) error {
			out, err := newOutput(c)
			if err != nil {
				return err
			}
			ctx, cancel := signalContext(c)
			defer cancel()

			sess, err := startSession(ctx, c, out)
			if err != nil {
				return err
			}
			defer sess.Close()

			out.infof("Fetching reward history...\n")
			if err := sess.RefreshRewards(ctx); err != nil {
				return fmt.Errorf("failed to fetch rewards: %w", err)
			}
			yields, err := sess.Yields(ctx)
			if err != nil {
				return fmt.Errorf("failed to compute yields: %w", err)
			}

			rows := make([]rewardRow, 0, len(yields))
			byAddress := make(map[solanago.PublicKey]*stake.Record)
			for _, rec := range sess.Accounts() {
				byAddress[rec.Address] = rec
			}
			for _, y := range yields {
				row := rewardRow{YieldView: y.View()}
				if rec, ok := byAddress[y.Address]; ok {
					row.Rewards = rec.View().Rewards
				}
				rows = append(rows, row)
			}

			rows, err = filterItems(out.filters, rows)
			if err != nil {
				return err
			}
			if out.json {
				return out.printJSON(rows)
			}

			w := out.table()
			fmt.Fprintln(w, "SEED\tADDRESS\tEPOCHS\tREWARDS (SOL)\tAPY")
			for _, row := range rows {
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
					row.Seed, row.Address, len(row.Rewards), stake.FormatSOL(row.TotalRewards), formatAPY(row.APY))
			}
			return w.Flush()
		},
	}
}

// rewardRow is one account's reward history with its yield.
type rewardRow struct {
	stake.YieldView
	Rewards []stake.RewardView `json:"rewards"`
}

func epochCommand() *cli.Command {
	return &cli.Command{
		Name:  "epoch",
		Usage: "Show the current epoch and its progress",
		Action: func(c *cli.Context) error {
			out, err := newOutput(c)
			if err != nil {
				return err
			}
			ctx, cancel := signalContext(c)
			defer cancel()

			logger := cliLogger(c)
			ledger, err := ledgerFactory(c, logger)
			if err != nil {
				return err
			}
			resolver := stake.NewBlockTimeResolver(ledger, stake.DefaultBlockTimeBackoff(), nil, logger)
			snap, err := stake.NewEpochEstimator(ledger, resolver, logger).Snapshot(ctx)
			if err != nil {
				return fmt.Errorf("failed to read epoch: %w", err)
			}

			view := snap.View()
			if out.json {
				return out.printJSON(view)
			}
			printEpoch(out, view)
			return nil
		},
	}
}

func seedCommands() *cli.Command {
	return &cli.Command{
		Name:  "seed",
		Usage: "Stake account seed helpers",
		Subcommands: []*cli.Command{
			{
				Name:      "next",
				Usage:     "Suggest the seed and address for a wallet's next stake account",
				ArgsUsage: "WALLET_ADDRESS",
				Action: func(c *cli.Context) error {
					out, err := newOutput(c)
					if err != nil {
						return err
					}
					ctx, cancel := signalContext(c)
					defer cancel()

					sess, err := startSession(ctx, c, out)
					if err != nil {
						return err
					}
					defer sess.Close()

					seed, addr, err := sess.NextAccount()
					if err != nil {
						return err
					}
					return printSeed(out, sess.Owner(), seed, addr)
				},
			},
			{
				Name:      "derive",
				Usage:     "Derive the stake account address for a wallet and seed",
				ArgsUsage: "WALLET_ADDRESS SEED",
				Action: func(c *cli.Context) error {
					out, err := newOutput(c)
					if err != nil {
						return err
					}
					owner, err := parseWallet(c)
					if err != nil {
						return err
					}
					if c.NArg() < 2 {
						return fmt.Errorf("seed is required")
					}
					seed := c.Args().Get(1)
					addr, err := stake.DeriveAddress(owner, seed, solana.StakeProgramID)
					if err != nil {
						return err
					}
					return printSeed(out, owner, seed, addr)
				},
			},
		},
	}
}

func printSeed(out *output, owner solanago.PublicKey, seed string, addr solanago.PublicKey) error {
	if out.json {
		return out.printJSON(map[string]string{
			"wallet":  owner.String(),
			"seed":    seed,
			"address": addr.String(),
		})
	}
	fmt.Fprintf(out.w, "Seed:     %s\n", seed)
	fmt.Fprintf(out.w, "Address:  %s\n", addr)
	return nil
}
