package cmd

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/tradeguard/service"
)

var (
	serveTicks   string
	servePace    time.Duration
	serveBalance float64
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the trade monitor against the paper broker",
	Long: `Start the monitor loop, the daily rollover schedule and (when enabled)
the Prometheus endpoint. With --ticks, a recorded tick file is replayed
into the paper broker; OPEN, CLOSE, CLOSE_ALL and NEWS events in the file
drive trades for the users listed in the config.

Example:
  tradeguard serve -c tradeguard.yaml --ticks examples/ticks.csv --pace 1s`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveTicks, "ticks", "", "CSV tick file to replay (time,instrument,bid,ask[,event,args...])")
	serveCmd.Flags().DurationVar(&servePace, "pace", time.Second, "delay between replayed rows")
	serveCmd.Flags().Float64Var(&serveBalance, "balance", service.DefaultBalance, "paper account balance")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := []service.Option{service.WithBalance(serveBalance)}
	if serveTicks != "" {
		opts = append(opts, service.WithTickClock(service.NewClock(time.Time{})))
	}
	svc, err := service.New(cfg, log, opts...)
	if err != nil {
		return err
	}
	defer svc.Close()

	if serveTicks != "" {
		go func() {
			if _, err := svc.Replay(ctx, serveTicks, servePace); err != nil && ctx.Err() == nil {
				log.Error().Err(err).Str("file", serveTicks).Msg("replay failed")
			}
		}()
	}

	return svc.Run(ctx)
}
