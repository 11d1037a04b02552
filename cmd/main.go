// Command arbi runs the cross-exchange arbitrage execution engine.
// It buys on the cheap venue, monitors the spread and sells under a
// fail-safe policy (target, stop-loss or timeout).
//
// Usage:
//
//	arbi --config config.yaml
//	arbi setup            (interactive configuration wizard)
//	arbi (uses CLI arguments)
//
// Required environment variables:
//
//	For Binance: BINANCE_API_KEY, BINANCE_API_SECRET
//	For Bybit: BYBIT_API_KEY, BYBIT_API_SECRET
//	For Hyperliquid: HYPERLIQUID_PRIVATE_KEY
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/arbi/config"
	"github.com/vadiminshakov/arbi/internal/clients"
	"github.com/vadiminshakov/arbi/internal/detector"
	"github.com/vadiminshakov/arbi/internal/domain"
	"github.com/vadiminshakov/arbi/internal/engine"
	"github.com/vadiminshakov/arbi/internal/gateway"
	"github.com/vadiminshakov/arbi/internal/ledger"
	"github.com/vadiminshakov/arbi/internal/setup"
	"github.com/vadiminshakov/arbi/internal/storage/runs"
	"github.com/vadiminshakov/arbi/internal/web"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const hyperliquidMainnetURL = "https://api.hyperliquid.xyz"

func main() {
	if len(os.Args) > 1 && os.Args[1] == "setup" {
		if err := setup.RunTUI(); err != nil {
			log.Fatal(err)
		}
		os.Args = []string{os.Args[0], "--config", "config.gen.yaml"}
	}

	cfg, err := config.Get()
	if err != nil {
		log.Fatal(err)
	}

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	registry := gateway.NewRegistry()
	if err := registerGateways(registry, cfg.Exchanges, cfg.Policy.LiveMode, logger); err != nil {
		logger.Fatal("failed to set up exchange gateways", zap.Error(err))
	}

	capital := ledger.New()
	for _, d := range cfg.Deposits {
		capital.Deposit(d.Exchange, d.Asset, d.Amount)
	}

	archive, err := runs.NewWALStore(cfg.ArchiveDir)
	if err != nil {
		logger.Fatal("failed to open run archive", zap.Error(err))
	}
	defer archive.Close()

	coord := engine.NewCoordinator(logger, registry, capital,
		engine.WithArchiver(archive),
		engine.WithFeeAsset(cfg.FeeAsset),
	)
	defer coord.Close()

	det := detector.New(logger, registry, cfg.Pairs, cfg.MinDetectSpread, cfg.DetectInterval)
	server := web.NewServer(cfg.WebAddr, coord, archive, det, capital, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := det.Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		if len(cfg.TLSDomains) > 0 {
			return server.StartWithAutoTLS(ctx, cfg.TLSDomains, "./certs")
		}
		return server.Start(ctx)
	})

	if cfg.AutoExecute {
		g.Go(func() error {
			autoExecute(ctx, logger, coord, det, cfg.Policy)
			return nil
		})
	}

	logger.Info("engine started",
		zap.Strings("exchanges", cfg.Exchanges),
		zap.String("web_addr", cfg.WebAddr),
		zap.Bool("live_mode", cfg.Policy.LiveMode),
		zap.Bool("auto_execute", cfg.AutoExecute))

	if err := g.Wait(); err != nil {
		logger.Error("engine stopped with error", zap.Error(err))
	}
}

// autoExecute submits every detected opportunity under the configured
// policy. Duplicate-run and insufficient-capital rejections are
// expected here and only logged.
func autoExecute(ctx context.Context, logger *zap.Logger, coord *engine.Coordinator, det *detector.Detector, policy domain.FailSafePolicy) {
	for {
		select {
		case <-ctx.Done():
			return
		case opp, ok := <-det.Opportunities():
			if !ok {
				return
			}
			runID, err := coord.Submit(ctx, opp, policy)
			if err != nil {
				logger.Info("opportunity skipped",
					zap.String("pair", opp.Pair.String()),
					zap.Error(err))
				continue
			}
			logger.Info("opportunity submitted",
				zap.String("pair", opp.Pair.String()),
				zap.String("run_id", runID))
		}
	}
}

// registerGateways builds a gateway per configured exchange name.
// Unknown names become simulated venues quoting binance public prices
// with a per-venue offset, so dry runs actually see spreads.
func registerGateways(registry *gateway.Registry, exchanges []string, liveMode bool, logger *zap.Logger) error {
	simOffset := decimal.Zero
	for _, name := range exchanges {
		switch name {
		case "binance":
			apiKey, apiSecret := os.Getenv("BINANCE_API_KEY"), os.Getenv("BINANCE_API_SECRET")
			if liveMode && (apiKey == "" || apiSecret == "") {
				return fmt.Errorf("BINANCE_API_KEY and BINANCE_API_SECRET environment variables must be set")
			}
			registry.Register(gateway.NewBinanceGateway(clients.NewBinanceClient(apiKey, apiSecret)))
		case "bybit":
			apiKey, apiSecret := os.Getenv("BYBIT_API_KEY"), os.Getenv("BYBIT_API_SECRET")
			if liveMode && (apiKey == "" || apiSecret == "") {
				return fmt.Errorf("BYBIT_API_KEY and BYBIT_API_SECRET environment variables must be set")
			}
			registry.Register(gateway.NewBybitGateway(clients.NewBybitClient(apiKey, apiSecret)))
		case "hyperliquid":
			privateKey := os.Getenv("HYPERLIQUID_PRIVATE_KEY")
			if privateKey == "" {
				return fmt.Errorf("HYPERLIQUID_PRIVATE_KEY environment variable must be set")
			}
			ex, err := clients.NewHyperliquidExchange(privateKey, hyperliquidMainnetURL)
			if err != nil {
				return fmt.Errorf("failed to create hyperliquid client: %w", err)
			}
			gw, err := gateway.NewHyperliquidGateway(ex)
			if err != nil {
				return err
			}
			registry.Register(gw)
		default:
			gw, err := gateway.NewSimulateGateway(name, binancePriceSource(), simOffset, logger)
			if err != nil {
				return err
			}
			registry.Register(gw)
			simOffset = simOffset.Add(decimal.NewFromFloat(0.7))
		}
	}
	return nil
}

func binancePriceSource() gateway.PriceSource {
	public := gateway.NewBinanceGateway(clients.NewBinancePublicClient())
	return func(ctx context.Context, pair domain.Pair) (decimal.Decimal, error) {
		quote, err := public.Quote(ctx, pair)
		if err != nil {
			return decimal.Decimal{}, err
		}
		return quote.Price, nil
	}
}
