// Command selectivedca performs one run of the selective DCA bot: it revises
// the scalp sells of open positions, buys the most undervalued eligible market
// and prints the portfolio reports. Schedule it with cron or a systemd timer.
//
// Usage:
//
//	selectivedca --config config.yaml --buy 0.0005 --update-orders
//	selectivedca --config config.yaml --buy 0.0005 --update-orders --live
//	selectivedca --config config.yaml --performance-report
//	selectivedca --setup
//
// Without --live orders are simulated against real market data.
//
// Required environment variables for --live:
//
//	For Binance: BINANCE_API_KEY, BINANCE_API_SECRET
//	For Bybit: BYBIT_API_KEY, BYBIT_API_SECRET
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/vadiminshakov/selectivedca/config"
	"github.com/vadiminshakov/selectivedca/internal"
	"github.com/vadiminshakov/selectivedca/internal/setup"
	"go.uber.org/zap"
)

func main() {
	flags, err := config.ParseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		log.Fatal(err)
	}

	if flags.Setup {
		path, err := setup.RunTUI()
		if err != nil {
			log.Fatal(err)
		}
		flags.ConfigPath = path
	}

	cfg, err := config.Load(flags)
	if err != nil {
		log.Fatal(err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()
	logger = logger.With(zap.String("mode", cfg.Mode()))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bot, err := internal.NewTradingBot(ctx, logger, cfg, os.Stdout)
	if err != nil {
		logger.Fatal("failed to create trading bot", zap.Error(err))
	}

	runErr := bot.Run(ctx)
	bot.Close()
	if runErr != nil {
		logger.Fatal("run failed", zap.Error(runErr))
	}
}
