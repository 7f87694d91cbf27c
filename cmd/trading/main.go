package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/shopspring/decimal"
	"github.com/stratalab/dcacycle/internal/cycle"
	"github.com/stratalab/dcacycle/internal/exchange"
	"github.com/stratalab/dcacycle/internal/history"
	"github.com/stratalab/dcacycle/internal/logger"
	"github.com/stratalab/dcacycle/internal/types"
	"github.com/stratalab/dcacycle/pkg/utils"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// runAction loads the configuration, wires the exchange and starts the
// trading cycle until interrupted. The first interrupt requests a soft stop
// (the current cycle finishes), the second aborts immediately.
func runAction(ctx context.Context, cmd *cli.Command) error {
	appLogger, err := logger.NewLogger()
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer appLogger.Sync()

	config, err := cycle.LoadConfig(cmd.String("config"))
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	ex, err := buildExchange(cmd, config, appLogger)
	if err != nil {
		return err
	}

	if err := ex.CheckConnection(ctx); err != nil {
		return fmt.Errorf("exchange connection check failed: %w", err)
	}

	callbacks := cycle.Callbacks{
		OnPositionUpdate: func(position types.Position) {
			appLogger.Info("position update",
				zap.String("symbol", position.Symbol),
				zap.String("size", position.Size.String()),
				zap.String("avg_price", position.AvgPrice.String()),
				zap.String("realized_pnl", position.RealizedPnL.String()))
		},
	}

	engine, err := cycle.NewEngine(config, ex, callbacks, appLogger)
	if err != nil {
		return fmt.Errorf("failed to create cycle engine: %w", err)
	}

	if historyPath := cmd.String("history"); historyPath != "" {
		store, storeErr := history.NewStore(historyPath)
		if storeErr != nil {
			return fmt.Errorf("failed to open history store: %w", storeErr)
		}
		defer store.Close()

		engine.SetHistoryStore(store)
	}

	if err := engine.Start(ctx); err != nil {
		return fmt.Errorf("failed to start cycle engine: %w", err)
	}

	signals := make(chan os.Signal, 2)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	softStopped := false

	for {
		select {
		case <-engine.Done():
			return nil
		case <-signals:
			if !softStopped {
				softStopped = true

				engine.Stop()
				appLogger.Info("finishing current cycle, interrupt again to abort")

				continue
			}

			engine.HardStop()
		}
	}
}

// buildExchange picks the live Binance adapter or the in-memory simulator.
func buildExchange(cmd *cli.Command, config cycle.Config, appLogger *logger.Logger) (exchange.Exchange, error) {
	if cmd.Bool("simulate") {
		sim := exchange.NewSimulator(appLogger)
		sim.SetBalance(config.QuoteAsset, decimal.NewFromFloat(cmd.Float("sim-balance")))
		sim.SetPrice(config.Symbol, decimal.NewFromFloat(cmd.Float("sim-price")))

		return sim, nil
	}

	data, err := os.ReadFile(cmd.String("binance-config"))
	if err != nil {
		return nil, fmt.Errorf("failed to read binance config: %w", err)
	}

	var binanceConfig exchange.BinanceConfig
	if err := yaml.Unmarshal(data, &binanceConfig); err != nil {
		return nil, fmt.Errorf("failed to parse binance config: %w", err)
	}

	return exchange.NewBinanceExchange(binanceConfig, appLogger)
}

// schemaAction prints the JSON schema of the cycle configuration.
func schemaAction(_ context.Context, _ *cli.Command) error {
	schema, err := utils.SchemaFromConfig(cycle.Config{})
	if err != nil {
		return fmt.Errorf("failed to generate schema: %w", err)
	}

	fmt.Println(schema)

	return nil
}

func main() {
	cmd := &cli.Command{
		Name:  "dcacycle",
		Usage: "Martingale DCA spot-trading cycle engine",
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "Run trading cycles until interrupted",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "config",
						Aliases:  []string{"c"},
						Usage:    "Path to the cycle configuration YAML file",
						Required: true,
					},
					&cli.BoolFlag{
						Name:  "simulate",
						Usage: "Trade against the in-memory simulator instead of Binance",
					},
					&cli.StringFlag{
						Name:  "binance-config",
						Usage: "Path to the Binance credentials YAML file",
						Value: "binance.yaml",
					},
					&cli.StringFlag{
						Name:  "history",
						Usage: "Path to a DuckDB file for the order journal (disabled when empty)",
					},
					&cli.FloatFlag{
						Name:  "sim-balance",
						Usage: "Initial quote balance in simulate mode",
						Value: 1000,
					},
					&cli.FloatFlag{
						Name:  "sim-price",
						Usage: "Initial mark price in simulate mode",
						Value: 50000,
					},
				},
				Action: runAction,
			},
			{
				Name:   "schema",
				Usage:  "Print the JSON schema of the configuration file",
				Action: schemaAction,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}
