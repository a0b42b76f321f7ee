package cmd

import (
	"github.com/spf13/cobra"
)

var checkFlags traderFlags

var checkCmd = &cobra.Command{
	Use:   "check <symbol>",
	Short: "Check whether a trader may open a position",
	Long: `Run the risk gate for one trader, account and symbol.

Hard stops (daily loss limit, tilt lockout, news lockout) reject the trade;
soft limits (weekend mode, medic mode) reduce the allowed risk.

Examples:
  tradeguard check EUR_USD --tier advanced --balance 9300 --start-balance 10000
  tradeguard check GBP_USD --losses 4 --at 2024-03-06T10:00:00Z`,
	Args: cobra.ExactArgs(1),
	RunE: runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)
	checkFlags.register(checkCmd.Flags())
}

func runCheck(cmd *cobra.Command, args []string) error {
	m, p, acct, err := checkFlags.manager()
	if err != nil {
		return err
	}
	d := m.CheckTradingRestrictions(p, acct, args[0])
	renderDecision(cmd.OutOrStdout(), d)
	return nil
}
