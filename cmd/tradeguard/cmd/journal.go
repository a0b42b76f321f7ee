package cmd

import (
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/rustyeddy/tradeguard/journal"
)

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Query the SQLite journal",
	Long: `Query management actions and closed-trade results from the SQLite journal.

Subcommands:
  actions  - List management actions, optionally for one trade
  results  - List trades closed on a day
  summary  - Win rate and profit factor for a day

Examples:
  tradeguard journal actions --trade 01HV...
  tradeguard journal results --day 2024-03-06
  tradeguard journal summary`,
}

var journalActionsCmd = &cobra.Command{
	Use:   "actions",
	Short: "List management actions",
	Args:  cobra.NoArgs,
	RunE:  runJournalActions,
}

var journalResultsCmd = &cobra.Command{
	Use:   "results",
	Short: "List trades closed on a day",
	Args:  cobra.NoArgs,
	RunE:  runJournalResults,
}

var journalSummaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Summarize trades closed on a day",
	Args:  cobra.NoArgs,
	RunE:  runJournalSummary,
}

var (
	journalDBPath  string
	journalTradeID string
	journalDay     string
)

func init() {
	rootCmd.AddCommand(journalCmd)
	journalCmd.AddCommand(journalActionsCmd)
	journalCmd.AddCommand(journalResultsCmd)
	journalCmd.AddCommand(journalSummaryCmd)

	journalCmd.PersistentFlags().StringVarP(&journalDBPath, "db", "d", "", "path to SQLite journal (default journal.path from config)")
	journalCmd.PersistentFlags().StringVar(&journalDay, "day", "", "day as YYYY-MM-DD in the risk timezone (default today)")
	journalActionsCmd.Flags().StringVar(&journalTradeID, "trade", "", "trade id (default all trades)")
}

func openJournal() (*journal.SQLite, error) {
	path := journalDBPath
	if path == "" {
		if cfg.Journal.Backend != "sqlite" {
			return nil, fmt.Errorf("journal backend is %q; pass --db to read a SQLite file", cfg.Journal.Backend)
		}
		path = cfg.Journal.Path
	}
	j, err := journal.NewSQLite(path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	return j, nil
}

func runJournalActions(cmd *cobra.Command, args []string) error {
	j, err := openJournal()
	if err != nil {
		return err
	}
	defer j.Close()

	recs, err := j.ListActions(journalTradeID)
	if err != nil {
		return fmt.Errorf("query actions: %w", err)
	}

	t := newTable(cmd.OutOrStdout(), "ACTIONS")
	t.AppendHeader(table.Row{"Time", "Trade", "User", "Instrument", "Kind", "Stop", "Volume", "Closed %", "Message"})
	for _, a := range recs {
		t.AppendRow(table.Row{
			a.Time.UTC().Format(time.RFC3339), a.TradeID, a.UserID, a.Instrument, a.Kind,
			price(a.StopLoss), fmt.Sprintf("%.2f", a.Volume), pct(a.PartialClosed), a.Message,
		})
	}
	t.Render()
	return nil
}

func dayResults() ([]journal.ResultRecord, error) {
	limits, err := cfg.Limits()
	if err != nil {
		return nil, err
	}
	day := journalDay
	if day == "" {
		day = time.Now().In(limits.Location).Format("2006-01-02")
	}
	start, end, err := dayBounds(limits.Location, day)
	if err != nil {
		return nil, fmt.Errorf("date: %w", err)
	}

	j, err := openJournal()
	if err != nil {
		return nil, err
	}
	defer j.Close()

	recs, err := j.ListResultsBetween(start, end)
	if err != nil {
		return nil, fmt.Errorf("query results: %w", err)
	}
	return recs, nil
}

func runJournalResults(cmd *cobra.Command, args []string) error {
	recs, err := dayResults()
	if err != nil {
		return err
	}

	t := newTable(cmd.OutOrStdout(), "RESULTS")
	t.AppendHeader(table.Row{"Closed", "Trade", "User", "Instrument", "Volume", "Entry", "Exit", "P/L", "Reason"})
	for _, r := range recs {
		t.AppendRow(table.Row{
			r.CloseTime.UTC().Format(time.RFC3339), r.TradeID, r.UserID, r.Instrument,
			fmt.Sprintf("%.2f", r.Volume), price(r.EntryPrice), price(r.ExitPrice),
			fmt.Sprintf("%.2f", r.PnL), r.Reason,
		})
	}
	t.Render()
	return nil
}

func runJournalSummary(cmd *cobra.Command, args []string) error {
	recs, err := dayResults()
	if err != nil {
		return err
	}
	s := journal.Summarize(recs)
	keyValue(cmd.OutOrStdout(), "SUMMARY", []table.Row{
		{"Trades", s.Trades},
		{"Wins", s.Wins},
		{"Win rate", fmt.Sprintf("%.1f%%", s.WinRate*100)},
		{"Net P/L", fmt.Sprintf("%.2f", s.NetPnL)},
		{"Profit factor", fmt.Sprintf("%.2f", s.ProfitFactor)},
	})
	return nil
}

func dayBounds(loc *time.Location, day string) (time.Time, time.Time, error) {
	t, err := time.ParseInLocation("2006-01-02", day, loc)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
	end := start.AddDate(0, 0, 1)
	return start, end, nil
}
