package cmd

import (
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/rustyeddy/tradeguard/journal"
	"github.com/rustyeddy/tradeguard/service"
)

var (
	simFile    string
	simJournal bool
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Play a scripted trade through the gate, paper broker and monitor",
	Long: `Run a scenario file: the trade is gated and sized at the first quote,
filled on the paper broker, planned from the trader's experience and then
managed through every following quote.

Example:
  tradeguard simulate -f examples/scenarios/breakeven.yaml`,
	RunE: runSimulate,
}

func init() {
	rootCmd.AddCommand(simulateCmd)
	simulateCmd.Flags().StringVarP(&simFile, "file", "f", "", "scenario file (YAML or JSON) (required)")
	simulateCmd.Flags().BoolVar(&simJournal, "journal", false, "write to the configured journal")
	simulateCmd.MarkFlagRequired("file")
}

func runSimulate(cmd *cobra.Command, args []string) error {
	sc, err := service.LoadScenario(simFile)
	if err != nil {
		return err
	}

	var opts []service.Option
	if !simJournal {
		opts = append(opts, service.WithJournal(journal.Nop{}))
	}
	rep, err := service.RunScenario(cmd.Context(), cfg, log, sc, opts...)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if rep.Name != "" {
		fmt.Fprintf(out, "Scenario: %s\n", rep.Name)
	}
	renderSize(out, rep.Size)
	if !rep.Size.CanTrade {
		renderSession(out, rep.Session)
		return nil
	}
	renderPlans(out, rep.Plans)
	renderSteps(out, rep)
	renderNotifications(out, rep)
	keyValue(out, "RESULT", []table.Row{
		{"Entry", price(rep.Position.EntryPrice)},
		{"Exit", price(rep.Position.ClosePrice)},
		{"Close reason", rep.Position.CloseReason},
		{"Realized P/L", fmt.Sprintf("%.2f", rep.Position.RealizedPnL)},
		{"Balance", fmt.Sprintf("%.2f", rep.Balance)},
		{"Equity", fmt.Sprintf("%.2f", rep.Equity)},
	})
	renderSession(out, rep.Session)
	return nil
}

func renderSteps(w io.Writer, rep service.Report) {
	t := newTable(w, "QUOTES")
	t.AppendHeader(table.Row{"Time", "Bid", "Ask", "Actions", "Stop", "Volume", "Open"})
	for _, s := range rep.Steps {
		t.AppendRow(table.Row{
			s.Time.UTC().Format("15:04:05"), price(s.Bid), price(s.Ask), s.Actions,
			price(s.SL), fmt.Sprintf("%.2f", s.Volume), yesNo(s.Open),
		})
	}
	t.Render()
}

func renderNotifications(w io.Writer, rep service.Report) {
	t := newTable(w, "NOTIFICATIONS")
	t.AppendHeader(table.Row{"Time", "Kind", "Message"})
	for _, n := range rep.Notifications {
		t.AppendRow(table.Row{n.Time.UTC().Format("15:04:05"), n.Kind, n.Message})
	}
	t.Render()
}
