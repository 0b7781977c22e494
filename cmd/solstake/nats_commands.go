package main

import (
	"fmt"

	"github.com/brojonat/solstake/client"
	natspkg "github.com/brojonat/solstake/service/nats"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/urfave/cli/v2"
)

// subscribeCommand streams a wallet's stake events from NATS JetStream.
func subscribeCommand() *cli.Command {
	return &cli.Command{
		Name:      "subscribe",
		Usage:     "Subscribe to stake events for a wallet",
		ArgsUsage: "WALLET_ADDRESS",
		Description: `Subscribe to stake events published to NATS JetStream.

Events are published to the subjects stake.{wallet}.accounts,
stake.{wallet}.rewards and stake.{wallet}.report.

Example:
  solstake nats subscribe 9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM --json`,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "durable",
				Aliases: []string{"d"},
				Usage:   "Create a durable consumer (survives restarts)",
			},
			&cli.StringFlag{
				Name:  "consumer-name",
				Usage: "Consumer name (used with --durable)",
				Value: "solstake-cli",
			},
			&cli.BoolFlag{
				Name:  "new-only",
				Usage: "Skip events already in the stream",
			},
		},
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

			nc, err := natspkg.Connect(c.String("nats-url"), "solstake-cli")
			if err != nil {
				return err
			}
			defer nc.Close()

			js, err := jetstream.New(nc)
			if err != nil {
				return fmt.Errorf("failed to create JetStream context: %w", err)
			}

			cfg := jetstream.ConsumerConfig{
				FilterSubject: natspkg.WalletSubjects(wallet),
				AckPolicy:     jetstream.AckExplicitPolicy,
			}
			if c.Bool("new-only") {
				cfg.DeliverPolicy = jetstream.DeliverNewPolicy
			}
			if c.Bool("durable") {
				cfg.Durable = c.String("consumer-name")
			}
			cons, err := js.CreateOrUpdateConsumer(ctx, natspkg.StreamName, cfg)
			if err != nil {
				return fmt.Errorf("failed to create consumer: %w", err)
			}

			errs := make(chan error, 1)
			cc, err := cons.Consume(func(msg jetstream.Msg) {
				ev := client.Event{Kind: natspkg.KindFromSubject(msg.Subject()), Data: msg.Data()}
				if err := handleStreamEvent(out, ev); err != nil {
					select {
					case errs <- err:
					default:
					}
					_ = msg.Nak()
					return
				}
				_ = msg.Ack()
			})
			if err != nil {
				return fmt.Errorf("failed to start consuming: %w", err)
			}
			defer cc.Stop()

			out.infof("📡 Subscribed to %s (Ctrl+C to stop)\n\n", cfg.FilterSubject)

			select {
			case <-ctx.Done():
				return nil
			case err := <-errs:
				return err
			}
		},
	}
}
