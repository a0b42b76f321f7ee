package cmd

import (
	"github.com/spf13/cobra"

	"github.com/rustyeddy/tradeguard/risk"
)

var (
	sizeFlags traderFlags
	sizeEntry float64
	sizeStop  float64
	sizeMode  string
)

var sizeCmd = &cobra.Command{
	Use:   "size <symbol>",
	Short: "Size a position from a stop distance",
	Long: `Gate the trade and compute the lot size that risks the tier-adjusted
percentage of the balance between entry and stop.

Examples:
  tradeguard size EUR_USD --entry 1.1000 --stop 1.0950
  tradeguard size USD_JPY --entry 150.00 --stop 149.50 --mode kelly --xp 2500 --win-rate 0.55`,
	Args: cobra.ExactArgs(1),
	RunE: runSize,
}

func init() {
	rootCmd.AddCommand(sizeCmd)
	sizeFlags.register(sizeCmd.Flags())
	sizeCmd.Flags().Float64Var(&sizeEntry, "entry", 0, "entry price (required)")
	sizeCmd.Flags().Float64Var(&sizeStop, "stop", 0, "stop loss price (required)")
	sizeCmd.Flags().StringVar(&sizeMode, "mode", "percentage", "sizing mode (fixed|percentage|kelly|anti_martingale)")
	sizeCmd.MarkFlagRequired("entry")
	sizeCmd.MarkFlagRequired("stop")
}

func runSize(cmd *cobra.Command, args []string) error {
	mode, err := risk.ParseSizingMode(sizeMode)
	if err != nil {
		return err
	}
	m, p, acct, err := sizeFlags.manager()
	if err != nil {
		return err
	}
	reg, err := cfg.Registry()
	if err != nil {
		return err
	}

	res, err := risk.NewSizer(m, reg, log).CalculatePositionSize(acct, p, args[0], sizeEntry, sizeStop, mode)
	if err != nil {
		return err
	}
	renderSize(cmd.OutOrStdout(), res)
	return nil
}
