package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"

	"crypto-trading-bot-go/internal/config"
	"crypto-trading-bot-go/internal/database"
	"crypto-trading-bot-go/internal/repository"
	"crypto-trading-bot-go/internal/service"
	"crypto-trading-bot-go/internal/trader"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const defaultConfigDir = "./configs"

// newRootCmd creates the root command. Without a subcommand it serves.
func newRootCmd() *cobra.Command {
	var configDir string
	var startBot bool

	rootCmd := &cobra.Command{
		Use:           "server",
		Short:         "Crypto trading bot backend",
		Long:          "REST and WebSocket backend for the crypto trading bot: trades, settings, exchange data, logs and bot control.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configDir, startBot)
		},
	}

	rootCmd.PersistentFlags().StringVar(&configDir, "config", defaultConfigDir, "Directory containing config.yml")
	rootCmd.Flags().BoolVar(&startBot, "start-bot", false, "Start the trading bot as soon as the server is up")

	rootCmd.AddCommand(newServeCmd(&configDir))
	rootCmd.AddCommand(newMigrateCmd(&configDir))
	rootCmd.AddCommand(newExportCmd(&configDir))
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

func newServeCmd(configDir *string) *cobra.Command {
	var startBot bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, WebSocket stream and bot controller",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, *configDir, startBot)
		},
	}
	cmd.Flags().BoolVar(&startBot, "start-bot", false, "Start the trading bot as soon as the server is up")
	return cmd
}

func runServe(cmd *cobra.Command, configDir string, startBot bool) error {
	cfg, err := config.LoadConfig(configDir)
	if err != nil {
		return fmt.Errorf("could not load config: %w", err)
	}

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.serve(ctx, startBot); err != nil {
		a.log.Error("Server stopped with error", zap.Error(err))
		return err
	}
	return nil
}

func newMigrateCmd(configDir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema and seed the settings row",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(*configDir)
			if err != nil {
				return fmt.Errorf("could not load config: %w", err)
			}
			// The spill file belongs to the serve process.
			cfg.Logger.SpillFile = ""
			log, logs, _, err := newLogging(cfg.Logger)
			if err != nil {
				return err
			}
			defer func() {
				_ = log.Sync()
				_ = logs.Close()
			}()

			db, err := database.NewDatabase(cfg.Database, cfg.Trading, log)
			if err != nil {
				return err
			}
			defer database.Close(db)

			log.Info("Database schema is up to date", zap.String("driver", cfg.Database.Driver))
			return nil
		},
	}
}

func newExportCmd(configDir *string) *cobra.Command {
	var (
		format string
		out    string
		symbol string
		status string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export trade records as CSV or JSON",
		Example: `  server export --format csv --out trades.csv
  server export --format json --symbol BTCUSDT --status CLOSED`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(*configDir)
			if err != nil {
				return fmt.Errorf("could not load config: %w", err)
			}
			// Only warnings while exporting, and never into the server's spill file.
			cfg.Logger.Level = "warn"
			cfg.Logger.SpillFile = ""
			log, logs, _, err := newLogging(cfg.Logger)
			if err != nil {
				return err
			}
			defer func() {
				_ = log.Sync()
				_ = logs.Close()
			}()

			db, err := database.NewDatabase(cfg.Database, cfg.Trading, log)
			if err != nil {
				return err
			}
			defer database.Close(db)

			var w io.Writer = cmd.OutOrStdout()
			if out != "" && out != "-" {
				f, err := os.Create(out)
				if err != nil {
					return fmt.Errorf("failed to create %s: %w", out, err)
				}
				defer f.Close()
				w = f
			}

			trades := service.NewTradeService(repository.NewTradeRepository(db), noopPublisher{}, log)
			filter := repository.TradeFilter{Symbol: symbol, Status: strings.ToUpper(status)}
			if err := trades.Export(cmd.Context(), w, format, filter); err != nil {
				return err
			}
			if out != "" && out != "-" {
				fmt.Fprintf(cmd.ErrOrStderr(), "Exported trades to %s\n", out)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&format, "format", service.ExportCSV, "Output format: csv or json")
	cmd.Flags().StringVarP(&out, "out", "o", "", "Output file (stdout when empty)")
	cmd.Flags().StringVar(&symbol, "symbol", "", "Only export trades for this symbol")
	cmd.Flags().StringVar(&status, "status", "", "Only export trades with this status (OPEN, CLOSED, CANCELLED)")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "server %s (%s, %s/%s)\n", version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
			fmt.Fprintf(cmd.OutOrStdout(), "strategies: %v\n", trader.StrategyNames())
		},
	}
}

// noopPublisher discards events for one-shot commands that run without a bus.
type noopPublisher struct{}

func (noopPublisher) Publish(string, interface{}) bool { return true }
