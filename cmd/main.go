// Command perptrack tracks realised trading performance of a Binance USDT-M
// futures account: it ingests income events into a durable ledger, folds
// them into daily and lifetime aggregates and serves them over HTTP.
//
// Usage:
//
//	perptrack --config config.yaml
//	perptrack -setup        (interactive configuration wizard)
//	perptrack -refresh      (trigger one ingestion run and exit)
//
// Required environment variables:
//
//	BINANCE_API_KEY, BINANCE_API_SECRET
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/perptrack/perptrack/config"
	"github.com/perptrack/perptrack/internal/clients"
	"github.com/perptrack/perptrack/internal/domain"
	"github.com/perptrack/perptrack/internal/services/tracker"
	"github.com/perptrack/perptrack/internal/setup"
	"github.com/perptrack/perptrack/internal/storage/ledger"
	"github.com/perptrack/perptrack/internal/storage/live"
	trackstore "github.com/perptrack/perptrack/internal/storage/tracker"
	"github.com/perptrack/perptrack/internal/web"
	"github.com/perptrack/perptrack/pkg/retrier"
)

func main() {
	setupFlag := flag.Bool("setup", false, "run the interactive configuration wizard")
	refreshOnce := flag.Bool("refresh", false, "trigger one refresh and exit")

	cfg, err := config.Get()
	if err != nil {
		log.Fatal(err)
	}

	if *setupFlag {
		if err := setup.RunTUI(); err != nil {
			log.Fatal(err)
		}
		return
	}

	apiKey := os.Getenv("BINANCE_API_KEY")
	apiSecret := os.Getenv("BINANCE_API_SECRET")
	if apiKey == "" || apiSecret == "" {
		log.Fatal("BINANCE_API_KEY and BINANCE_API_SECRET environment variables must be set")
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	ledgerStore, err := ledger.NewStore(filepath.Join(cfg.DataDir, "ledger"))
	if err != nil {
		log.Fatal(err)
	}
	defer ledgerStore.Close()

	stateStore, err := trackstore.NewStore(cfg.DataDir)
	if err != nil {
		log.Fatal(err)
	}

	liveStore, err := live.NewStore(cfg.DataDir)
	if err != nil {
		log.Fatal(err)
	}

	client := clients.NewFuturesIncomeClient(clients.NewBinanceFuturesClient(apiKey, apiSecret))
	svc := tracker.NewService(logger, client, ledgerStore, stateStore, liveStore, cfg.Asset)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *refreshOnce {
		// one-shot trigger; the retry-on-throttle policy lives here, on the
		// caller side, never inside the engine
		r := retrier.New(retrier.WithRetryIf(func(err error) bool {
			return errors.Is(err, domain.ErrRateLimited)
		}))
		result, err := retrier.DoWithData(r, ctx, func(ctx context.Context) (tracker.RefreshResult, error) {
			return svc.Refresh(ctx)
		})
		if err != nil {
			log.Fatal(err)
		}
		logger.Info("refresh finished",
			zap.String("run_id", result.RunID),
			zap.Int("new_events", result.NewEvents),
			zap.Int64("cursor_ms", result.CursorMs))
		return
	}

	server := web.NewServer(cfg.ListenAddr, cfg.AuthToken, svc, liveStore, stateStore, ledgerStore, logger)

	logger.Info("starting api server",
		zap.String("addr", cfg.ListenAddr),
		zap.String("asset", cfg.Asset))

	if len(cfg.TLSDomains) > 0 {
		err = server.StartWithAutoTLS(ctx, cfg.TLSDomains, cfg.CertCacheDir)
	} else {
		err = server.Start(ctx)
	}
	if err != nil {
		log.Fatal(err)
	}
}
