package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/dshkereda/CollectOfDevices/internal/api"
	"github.com/dshkereda/CollectOfDevices/internal/browser"
	"github.com/dshkereda/CollectOfDevices/internal/crawler"
	"github.com/dshkereda/CollectOfDevices/internal/database"
	"github.com/dshkereda/CollectOfDevices/internal/logging"
	"github.com/dshkereda/CollectOfDevices/internal/progress"
	"github.com/dshkereda/CollectOfDevices/internal/progress/sinks"
	"github.com/dshkereda/CollectOfDevices/internal/store"
)

// newCrawlCmd creates the crawl command.
func newCrawlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Crawl verification results for a registration number.",
		Long: `Crawl fetches every listing page for the configured registration number,
resuming from the progress ledger next to the output file. Records from
pages that were cut short by a previous crash are discarded and the pages
refetched, so reruns converge on a complete, duplicate-free record set.`,
		RunE: runCrawl,
	}

	cmd.Flags().String("rn", "", "registration number to crawl (required)")
	cmd.Flags().String("out", "", "path of the CSV record store")
	cmd.Flags().Bool("headless", true, "run the browser headless")
	cmd.Flags().String("date", "", "restrict the crawl to a single verification date (YYYY-MM-DD)")
	cmd.Flags().String("date-range", "", "restrict the crawl to a date range (YYYY-MM-DD:YYYY-MM-DD)")
	cmd.Flags().String("status-addr", "", "listen address for the status HTTP server (disabled when empty)")

	viper.BindPFlag("crawler.rn", cmd.Flags().Lookup("rn"))
	viper.BindPFlag("crawler.out", cmd.Flags().Lookup("out"))
	viper.BindPFlag("crawler.headless", cmd.Flags().Lookup("headless"))
	viper.BindPFlag("crawler.date", cmd.Flags().Lookup("date"))
	viper.BindPFlag("crawler.date_range", cmd.Flags().Lookup("date-range"))
	viper.BindPFlag("server.status_addr", cmd.Flags().Lookup("status-addr"))

	return cmd
}

func runCrawl(cmd *cobra.Command, _ []string) error {
	logger, err := logging.New(viper.GetBool("logging.development"))
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync()

	cfg, err := crawler.LoadConfig(viper.GetViper())
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if cfg.Date != "" && cfg.DateRange != "" {
		logger.Warn("Both a single date and a date range are set, the range takes precedence",
			zap.String("date", cfg.Date),
			zap.String("date_range", cfg.DateRange))
	}
	scope, err := crawler.ResolveScope(cfg.Date, cfg.DateRange)
	if err != nil {
		return fmt.Errorf("invalid date scope: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	records, err := store.OpenRecordStore(cfg.OutputPath, cfg.Target, logger)
	if err != nil {
		return fmt.Errorf("failed to open record store: %w", err)
	}
	defer records.Close()

	ledger := store.LoadLedger(store.LedgerPath(cfg.OutputPath), logger)

	registry := prometheus.NewRegistry()
	promSink, err := sinks.NewPrometheusSink(registry)
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}
	hub := progress.NewHub(progress.Config{Logger: logger}, sinks.NewLogSink(logger), promSink)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		hub.Close(closeCtx)
	}()

	var mirror crawler.RecordMirror
	if cfg.DatabaseDSN != "" {
		m, err := database.NewMirror(ctx, database.Config{DSN: cfg.DatabaseDSN, Table: cfg.DatabaseTable})
		if err != nil {
			return fmt.Errorf("failed to connect record mirror: %w", err)
		}
		defer m.Close()
		mirror = m
		logger.Info("Mirroring records to Postgres", zap.String("table", cfg.DatabaseTable))
	}

	session, err := browser.NewChromeSession(browser.Config{
		Headless:  cfg.Headless,
		UserAgent: cfg.UserAgent,
		OpTimeout: cfg.WaitTimeout,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to start browser session: %w", err)
	}
	defer session.Close(context.Background())

	engine := crawler.NewEngine(cfg, scope, session, records, ledger, hub, mirror, logger)

	if cfg.StatusAddr != "" {
		srv := api.NewServer(ledger, cfg.Target, engine.RunID(), registry, logger)
		srv.Start(cfg.StatusAddr)
		defer func() {
			shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutCtx)
		}()
	}

	if err := engine.Run(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Info("Crawl interrupted, progress saved")
			return nil
		}
		return fmt.Errorf("crawl failed: %w", err)
	}
	return nil
}
