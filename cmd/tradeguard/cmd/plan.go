package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/tradeguard/manage"
	"github.com/rustyeddy/tradeguard/risk"
)

var (
	planXP    int
	planEntry float64
	planStop  float64
	planTP    float64
)

var planCmd = &cobra.Command{
	Use:   "plan <symbol>",
	Short: "Show the management plan a trader's experience unlocks",
	Long: `Build the breakeven, trailing, partial-close and runner plans for a trade.

Examples:
  tradeguard plan EUR_USD --xp 1200 --entry 1.1000 --stop 1.0950 --tp 1.1100`,
	Args: cobra.ExactArgs(1),
	RunE: runPlan,
}

func init() {
	rootCmd.AddCommand(planCmd)
	planCmd.Flags().IntVar(&planXP, "xp", 0, "experience points")
	planCmd.Flags().Float64Var(&planEntry, "entry", 0, "entry price (required)")
	planCmd.Flags().Float64Var(&planStop, "stop", 0, "stop loss price (required)")
	planCmd.Flags().Float64Var(&planTP, "tp", 0, "take profit price")
	planCmd.MarkFlagRequired("entry")
	planCmd.MarkFlagRequired("stop")
}

func runPlan(cmd *cobra.Command, args []string) error {
	reg, err := cfg.Registry()
	if err != nil {
		return err
	}
	p := risk.DefaultProfile("cli", risk.TierBase, planXP)
	plans, err := manage.NewPlanner(reg).BuildPlan(p, planEntry, planStop, planTP, args[0])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Unlocked: %s\n", manage.UnlockedFeatures(planXP))
	if next, ok := manage.NextUnlock(planXP); ok {
		fmt.Fprintf(out, "Next:     %s at %d XP\n", next.Feature, next.Experience)
	}
	renderPlans(out, plans)
	return nil
}
