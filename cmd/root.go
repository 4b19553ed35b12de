// Package cmd defines and implements the CLI commands for the
// collectofdevices executable.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dshkereda/CollectOfDevices/internal/config"
)

var cfgFile string

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "collectofdevices",
		Short: "Resumable crawler for the all-pribors.ru verification-results listing.",
		Long: `collectofdevices walks the paginated verification-results listing for a
device registration number, extracts every result card into a CSV record
store, and keeps a progress ledger alongside so an interrupted crawl can
resume without refetching complete pages or trusting truncated ones.`,
	}

	cobra.OnInitialize(func() {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		}
		if err := config.InitConfig(); err != nil {
			fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
			os.Exit(1)
		}
	})

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")

	cmd.AddCommand(newCrawlCmd())
	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
