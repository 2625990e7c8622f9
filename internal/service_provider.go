package internal

import (
	"context"
	"fmt"
	"time"

	"github.com/adshao/go-binance/v2/common"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/selectivedca/config"
	"github.com/vadiminshakov/selectivedca/internal/archive"
	"github.com/vadiminshakov/selectivedca/internal/clients"
	"github.com/vadiminshakov/selectivedca/internal/domain"
	"github.com/vadiminshakov/selectivedca/internal/lock"
	"github.com/vadiminshakov/selectivedca/internal/notify"
	"github.com/vadiminshakov/selectivedca/internal/services/strategy/selectivedca"
	"github.com/vadiminshakov/selectivedca/internal/services/trader"
	"github.com/vadiminshakov/selectivedca/internal/storage/positions"
	"github.com/vadiminshakov/selectivedca/internal/storage/postgres"
	"github.com/vadiminshakov/selectivedca/internal/storage/simstate"
	"github.com/vadiminshakov/selectivedca/pkg/retrier"
)

// newRetrier is shared by every exchange call of a run. Requests the exchange
// answered with an API error are not repeated.
func newRetrier(l *zap.Logger) *retrier.Retrier {
	return retrier.New(
		retrier.WithInitialInterval(500*time.Millisecond),
		retrier.WithMaxInterval(10*time.Second),
		retrier.WithMaxRetries(4),
		retrier.WithRetryIf(retryable),
		retrier.WithOnRetry(func(attempt int, err error) {
			l.Warn("retrying exchange request", zap.Int("attempt", attempt), zap.Error(err))
		}),
	)
}

func retryable(err error) bool {
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		return false
	}
	return !errors.Is(err, domain.ErrExchangeUnimplemented)
}

// newGateways creates one gateway per configured exchange. Without --live the
// real exchange only provides public market data and a simulator fills orders.
func newGateways(l *zap.Logger, cfg config.Config, r *retrier.Retrier) ([]selectivedca.Gateway, error) {
	out := make([]selectivedca.Gateway, 0, len(cfg.Exchanges))
	for _, e := range cfg.Exchanges {
		gw, err := newGateway(l, cfg, e, r)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to create %s gateway", e)
		}
		out = append(out, gw)
	}
	return out, nil
}

func newGateway(l *zap.Logger, cfg config.Config, e domain.Exchange, r *retrier.Retrier) (selectivedca.Gateway, error) {
	var source trader.MarketSource
	switch e {
	case domain.ExchangeBinance:
		if cfg.Live {
			client := clients.NewBinanceClient(cfg.Credentials.BinanceKey, cfg.Credentials.BinanceSecret)
			return trader.NewBinanceGateway(l, client, r), nil
		}
		source = trader.NewBinanceGateway(l, clients.NewPublicBinanceClient(), r)
	case domain.ExchangeBybit:
		if cfg.Live {
			client := clients.NewBybitClient(cfg.Credentials.BybitKey, cfg.Credentials.BybitSecret)
			return trader.NewBybitGateway(l, client, r), nil
		}
		source = trader.NewBybitGateway(l, clients.NewPublicBybitClient(), r)
	case domain.ExchangeBittrex:
		// no market data to simulate against
		return trader.NewBittrexGateway(), nil
	default:
		return nil, fmt.Errorf("unsupported exchange: %s", e)
	}

	store, err := simstate.NewStore(cfg.Dir("simulate"), string(e))
	if err != nil {
		return nil, err
	}
	gw, err := trader.NewSimulateGateway(l, source, store, cfg.Simulate.Balances, trader.WithFeeRate(cfg.Simulate.FeeRate))
	if err != nil {
		return nil, err
	}
	return gw, nil
}

// openStore opens the position store. Paper runs always keep positions in the
// local WAL so they never mix with live records in a shared database.
func openStore(ctx context.Context, l *zap.Logger, cfg config.Config) (Store, func(), error) {
	if cfg.Storage.Driver == config.StoragePostgres && cfg.Live {
		client, err := postgres.New(ctx, postgres.ClientConfig{DSN: cfg.Storage.PostgresDSN})
		if err != nil {
			return nil, nil, err
		}
		if err := client.RunMigrations(ctx); err != nil {
			client.Close()
			return nil, nil, err
		}
		l.Info("using postgres position store")
		return postgres.NewStore(client.Pool()), client.Close, nil
	}

	if cfg.Storage.Driver == config.StoragePostgres {
		l.Warn("postgres storage is used for live runs only, paper positions stay in the local WAL")
	}
	store, err := positions.NewWALStore(cfg.Dir("positions"))
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to open position store")
	}
	return store, func() {
		if err := store.Close(); err != nil {
			l.Error("failed to close position store", zap.Error(err))
		}
	}, nil
}

func openLocker(ctx context.Context, l *zap.Logger, cfg config.Config) (lock.Locker, func(), error) {
	if cfg.Redis.Addr == "" {
		return lock.NopLocker{}, func() {}, nil
	}
	locker, err := lock.NewRedisLocker(ctx, l.Named("lock"), lock.ClientConfig{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		return nil, nil, err
	}
	return locker, func() {
		if err := locker.Close(); err != nil {
			l.Error("failed to close redis", zap.Error(err))
		}
	}, nil
}

func newNotifier(l *zap.Logger, cfg config.NotifyConfig) *notify.Notifier {
	var senders []notify.Sender
	if cfg.TelegramToken != "" && cfg.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.TelegramToken, cfg.TelegramChatID))
	}
	if cfg.DiscordWebhook != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.DiscordWebhook))
	}
	return notify.NewNotifier(l, senders...)
}

// newArchiver returns nil when no bucket is configured.
func newArchiver(ctx context.Context, cfg config.ArchiveConfig) (Archiver, error) {
	if cfg.Bucket == "" {
		return nil, nil
	}
	a, err := archive.New(ctx, archive.ClientConfig{
		Endpoint:       cfg.Endpoint,
		Region:         cfg.Region,
		Bucket:         cfg.Bucket,
		Prefix:         cfg.Prefix,
		AccessKey:      cfg.AccessKey,
		SecretKey:      cfg.SecretKey,
		ForcePathStyle: cfg.ForcePathStyle,
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}
