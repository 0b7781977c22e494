package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/brojonat/solstake/service/temporal"
	"github.com/urfave/cli/v2"
	"go.temporal.io/sdk/client"
)

func scheduleCommands() *cli.Command {
	return &cli.Command{
		Name:  "schedule",
		Usage: "Manage Temporal stake report schedules",
		Subcommands: []*cli.Command{
			listSchedulesCommand(),
			describeScheduleCommand(),
			createScheduleCommand(),
			deleteScheduleCommand(),
		},
	}
}

func getTemporalClient(c *cli.Context) (*temporal.Client, error) {
	tc, err := temporal.NewClient(
		c.String("temporal-host"),
		c.String("temporal-namespace"),
		c.String("temporal-task-queue"),
		cliLogger(c),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Temporal: %w", err)
	}
	return tc, nil
}

type scheduleRow struct {
	ID       string      `json:"id"`
	Wallet   string      `json:"wallet"`
	Paused   bool        `json:"paused"`
	NextRuns []time.Time `json:"next_runs,omitempty"`
}

func listSchedulesCommand() *cli.Command {
	return &cli.Command{
		Name:    "list",
		Usage:   "List stake report schedules",
		Aliases: []string{"ls"},
		Action: func(c *cli.Context) error {
			out, err := newOutput(c)
			if err != nil {
				return err
			}
			tc, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer tc.Close()

			iter, err := tc.SDKClient().ScheduleClient().List(c.Context, client.ScheduleListOptions{
				PageSize: 100,
			})
			if err != nil {
				return fmt.Errorf("failed to list schedules: %w", err)
			}

			rows := []scheduleRow{}
			for iter.HasNext() {
				entry, err := iter.Next()
				if err != nil {
					return fmt.Errorf("failed to iterate schedules: %w", err)
				}
				if !strings.HasPrefix(entry.ID, temporal.ScheduleIDPrefix) {
					continue
				}
				rows = append(rows, scheduleRow{
					ID:       entry.ID,
					Wallet:   strings.TrimPrefix(entry.ID, temporal.ScheduleIDPrefix),
					Paused:   entry.Paused,
					NextRuns: entry.NextActionTimes,
				})
			}

			if rows, err = filterItems(out.filters, rows); err != nil {
				return err
			}
			if out.json {
				return out.printJSON(rows)
			}

			w := out.table()
			fmt.Fprintln(w, "WALLET\tSCHEDULE ID\tPAUSED\tNEXT RUN")
			for _, r := range rows {
				next := "-"
				if len(r.NextRuns) > 0 {
					next = r.NextRuns[0].Format(time.RFC3339)
				}
				fmt.Fprintf(w, "%s\t%s\t%v\t%s\n", r.Wallet, r.ID, r.Paused, next)
			}
			w.Flush()
			fmt.Fprintf(out.errw, "\nTotal: %d schedules\n", len(rows))
			return nil
		},
	}
}

func describeScheduleCommand() *cli.Command {
	return &cli.Command{
		Name:      "describe",
		Usage:     "Describe a wallet's stake report schedule",
		Aliases:   []string{"desc"},
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
			tc, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer tc.Close()

			id := temporal.ScheduleIDPrefix + wallet
			desc, err := tc.SDKClient().ScheduleClient().GetHandle(c.Context, id).Describe(c.Context)
			if err != nil {
				return fmt.Errorf("failed to describe schedule: %w", err)
			}

			var intervals []time.Duration
			if desc.Schedule.Spec != nil {
				for _, iv := range desc.Schedule.Spec.Intervals {
					intervals = append(intervals, iv.Every)
				}
			}

			if out.json {
				return out.printJSON(map[string]interface{}{
					"id":             id,
					"wallet":         wallet,
					"paused":         desc.Schedule.State.Paused,
					"intervals":      intervals,
					"recent_actions": len(desc.Info.RecentActions),
				})
			}

			fmt.Fprintf(out.w, "Schedule ID:    %s\n", id)
			fmt.Fprintf(out.w, "Wallet:         %s\n", wallet)
			fmt.Fprintf(out.w, "Paused:         %v\n", desc.Schedule.State.Paused)
			if wa, ok := desc.Schedule.Action.(*client.ScheduleWorkflowAction); ok {
				fmt.Fprintf(out.w, "\nWorkflow:\n")
				fmt.Fprintf(out.w, "  Workflow:     %v\n", wa.Workflow)
				fmt.Fprintf(out.w, "  Task Queue:   %s\n", wa.TaskQueue)
			}
			for i, every := range intervals {
				fmt.Fprintf(out.w, "  Interval %d:   Every %v\n", i+1, every)
			}
			fmt.Fprintf(out.w, "\nRecent Actions: %d\n", len(desc.Info.RecentActions))
			if n := len(desc.Info.RecentActions); n > 0 {
				fmt.Fprintf(out.w, "Last Action:  %s\n", desc.Info.RecentActions[n-1].ActualTime.Format(time.RFC3339))
			}
			return nil
		},
	}
}

func createScheduleCommand() *cli.Command {
	return &cli.Command{
		Name:      "create",
		Usage:     "Create or update a wallet's stake report schedule",
		ArgsUsage: "WALLET_ADDRESS",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "interval",
				Usage: "How often the report runs",
				Value: time.Hour,
			},
		},
		Action: func(c *cli.Context) error {
			wallet, err := walletArg(c)
			if err != nil {
				return err
			}
			interval := c.Duration("interval")
			if interval < time.Minute {
				return fmt.Errorf("interval must be at least 1m, got %s", interval)
			}
			tc, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer tc.Close()

			if err := tc.UpsertReportSchedule(c.Context, wallet, interval); err != nil {
				return fmt.Errorf("failed to create schedule: %w", err)
			}

			out, err := newOutput(c)
			if err != nil {
				return err
			}
			fmt.Fprintf(out.w, "✓ Schedule ready: %s%s\n", temporal.ScheduleIDPrefix, wallet)
			fmt.Fprintf(out.w, "  Interval:   %v\n", interval)
			fmt.Fprintf(out.w, "  Task Queue: %s\n", tc.TaskQueue())
			return nil
		},
	}
}

func deleteScheduleCommand() *cli.Command {
	return &cli.Command{
		Name:      "delete",
		Usage:     "Delete a wallet's stake report schedule",
		ArgsUsage: "WALLET_ADDRESS",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "force",
				Usage: "Skip confirmation prompt",
			},
		},
		Action: func(c *cli.Context) error {
			wallet, err := walletArg(c)
			if err != nil {
				return err
			}
			out, err := newOutput(c)
			if err != nil {
				return err
			}

			if !c.Bool("force") {
				fmt.Fprintf(out.w, "Are you sure you want to delete the report schedule for %s? (yes/no): ", wallet)
				in := c.App.Reader
				if in == nil {
					in = os.Stdin
				}
				var response string
				fmt.Fscanln(in, &response)
				if response != "yes" {
					fmt.Fprintln(out.w, "Cancelled")
					return nil
				}
			}

			tc, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer tc.Close()

			if err := tc.DeleteReportSchedule(c.Context, wallet); err != nil {
				return fmt.Errorf("failed to delete schedule: %w", err)
			}
			fmt.Fprintf(out.w, "✓ Schedule deleted: %s%s\n", temporal.ScheduleIDPrefix, wallet)
			return nil
		},
	}
}
