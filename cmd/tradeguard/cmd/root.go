package cmd

import (
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/rustyeddy/tradeguard/config"
	"github.com/rustyeddy/tradeguard/pkg/logger"
)

var (
	cfgFile  string
	envFile  string
	logLevel string

	cfg       *config.Config
	log       zerolog.Logger
	logCloser io.Closer
)

var rootCmd = &cobra.Command{
	Use:   "tradeguard",
	Short: "Risk gate and trade manager for retail FX accounts",
	Long: `Tradeguard decides whether a trader may open a position, sizes it, and
manages it once open.

It provides tools for:
  - Checking a trade against daily loss, tilt, news and weekend limits
  - Risk-based position sizing (fixed, percentage, kelly, anti-martingale)
  - Building experience-gated management plans
  - Simulating a trade through the paper broker and trade monitor
  - Serving the monitor over a recorded tick stream with metrics
  - Querying the action, decision and result journal`,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
	PersistentPostRunE: func(*cobra.Command, []string) error {
		if logCloser != nil {
			return logCloser.Close()
		}
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (YAML or JSON); defaults when empty")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the config")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log.level")
}

func loadConfig(cmd *cobra.Command, _ []string) error {
	c, err := config.LoadWithEnv(cfgFile, envFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if logLevel != "" {
		c.Log.Level = logLevel
	}
	l, closer, err := logger.New(c.Log)
	if err != nil {
		return err
	}
	cfg, log, logCloser = c, l, closer
	return nil
}
