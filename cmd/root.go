package cmd

import (
	"fmt"
	"os"

	"github.com/gift_custody/config"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	cfgFile string

	appConfig *config.Config
	logger    *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:               "giftd",
	Short:             "Custodial ledger of vesting gifts",
	SilenceUsage:      true,
	PersistentPreRunE: initializeApp,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default ./config.yaml)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(custodyAddressCmd)
}

func initializeApp(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	log, err := newLogger(cfg.Log)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	appConfig = cfg
	logger = log
	return nil
}

func newLogger(c config.LogConfig) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if c.Development {
		zc = zap.NewDevelopmentConfig()
	}
	if c.Level != "" {
		if err := zc.Level.UnmarshalText([]byte(c.Level)); err != nil {
			return nil, err
		}
	}
	return zc.Build()
}
