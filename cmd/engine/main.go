// Command engine runs the perpetual-futures multi-strategy trading core:
// scheduler, order manager, risk gate, and health monitor wired against a
// live Binance USDT-perpetual adapter and the on-disk persistence layout.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"perpengine/internal/alert"
	"perpengine/internal/bootstrap"
	"perpengine/internal/config"
	"perpengine/internal/core"
	"perpengine/internal/engine"
	"perpengine/internal/exchange/binance"
	"perpengine/internal/health"
	"perpengine/internal/ordermanager"
	"perpengine/internal/persistence"
	"perpengine/internal/risk"
	"perpengine/internal/strategy/bolgrid"
	"perpengine/internal/strategy/dca"
	"perpengine/internal/strategy/grid"
	"perpengine/pkg/logging"
	"perpengine/pkg/telemetry"
)

const minRequestInterval = 500 * time.Millisecond

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.NewZapLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	tel, err := telemetry.Setup("perpengine")
	if err != nil {
		logger.Warn("telemetry setup failed, continuing without it", "error", err)
	} else {
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = tel.Shutdown(ctx)
		}()
	}

	if cfg.ReadOnly {
		logger.Warn("no exchange credentials configured, running read-only: order actions will fail")
	}

	store, err := persistence.NewStore(cfg.StrategyDataDir)
	if err != nil {
		return fmt.Errorf("init persistence: %w", err)
	}

	exchangeAdapter := binance.New(cfg.BinanceAPIKey, cfg.BinanceAPISecret, minRequestInterval, logger)

	alerts := alert.NewAlertManager(logger)
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != "" {
		alerts.AddChannel(alert.NewTelegramChannel(cfg.TelegramBotToken, cfg.TelegramChatID))
	}

	handlers := map[core.StrategyType]core.IStrategyHandler{
		core.GridOTT: grid.New(),
		core.DCAOTT:  dca.New(),
		core.BolGrid: bolgrid.New(),
	}

	orderManager := ordermanager.New(store, exchangeAdapter, logger, alerts, handlers, ordermanager.DefaultConfig())
	riskGate := risk.New(store, exchangeAdapter, logger)
	healthMonitor := health.New(logger)

	eng := engine.New(engine.Deps{
		Store:         store,
		Exchange:      exchangeAdapter,
		OrderManager:  orderManager,
		RiskGate:      riskGate,
		HealthMonitor: healthMonitor,
		Handlers:      handlers,
		Alerts:        alerts,
		Logger:        logger,
	})
	scheduler := engine.NewScheduler(eng, store, logger)

	app := bootstrap.New(logger)
	return app.Run(scheduler)
}
