package main

import (
	"fmt"
	"time"

	"github.com/brojonat/solstake/service/stake"
)

func printRecords(out *output, records []stake.RecordView) {
	if len(records) == 0 {
		fmt.Fprintln(out.w, "No stake accounts found")
		return
	}
	w := out.table()
	fmt.Fprintln(w, "SEED\tADDRESS\tSTATE\tBALANCE (SOL)\tVOTER\tACTIVATION")
	for _, r := range records {
		voter, activation := "-", "-"
		if d := r.Delegation; d != nil {
			voter = d.Voter
			activation = fmt.Sprintf("%d", d.ActivationEpoch)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", r.Seed, r.Address, r.State, r.SOL, voter, activation)
	}
	w.Flush()
	fmt.Fprintf(out.errw, "\nTotal: %d stake accounts\n", len(records))
}

func printEpoch(out *output, v stake.EpochView) {
	fmt.Fprintf(out.w, "Epoch:      %d\n", v.Epoch)
	fmt.Fprintf(out.w, "Slot:       %d / %d\n", v.SlotIndex, v.SlotsInEpoch)
	fmt.Fprintf(out.w, "Progress:   %.2f%%\n", v.Progress*100)
	fmt.Fprintf(out.w, "Remaining:  %s\n", v.TimeRemaining)
	if v.StartTime != nil {
		fmt.Fprintf(out.w, "Started:    %s\n", v.StartTime.Format(time.RFC3339))
	}
}

func printSummary(out *output, v stake.SummaryView) {
	fmt.Fprintf(out.w, "Staked:    %s SOL (%d accounts)\n", v.TotalStakedSOL, v.Accounts)
	fmt.Fprintf(out.w, "Wallet:    %s SOL\n", v.WalletSOL)
	fmt.Fprintf(out.w, "Staked %%:  %d%%\n", v.StakedPercent)
}

func printYields(out *output, yields []stake.YieldView) {
	w := out.table()
	fmt.Fprintln(w, "SEED\tADDRESS\tREWARDS (SOL)\tAPY")
	for _, y := range yields {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", y.Seed, y.Address, stake.FormatSOL(y.TotalRewards), formatAPY(y.APY))
	}
	w.Flush()
}

// formatAPY renders a fractional APY as a percentage, or "-" when unknown.
func formatAPY(apy *float64) string {
	if apy == nil {
		return "-"
	}
	return fmt.Sprintf("%.2f%%", *apy*100)
}
