package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/selectivedca/internal/domain"
	"github.com/vadiminshakov/selectivedca/internal/services/lifecycle"
	"github.com/vadiminshakov/selectivedca/internal/services/selector"
	"gopkg.in/yaml.v3"
)

const (
	StorageWAL      = "wal"
	StoragePostgres = "postgres"

	defaultBase               = "BTC"
	defaultStateDir           = "./wal"
	defaultMaxConsecutiveBuys = 3
	defaultMaxHoldingsPct     = "0.25"
	defaultLockTTL            = 10 * time.Minute
	defaultSimulateFee        = "0.001"
	defaultPerformanceRuns    = 10000
)

var defaultMAPeriods = []int{200}

// Config is one fully parsed invocation.
type Config struct {
	Exchanges []domain.Exchange
	Base      string
	// BuyAmount is in Base units. Zero means report only.
	BuyAmount decimal.Decimal
	Watchlist map[domain.Exchange][]string

	Strategy    StrategyConfig
	StateDir    string
	Storage     StorageConfig
	Simulate    SimulateConfig
	Credentials Credentials
	Redis       RedisConfig
	Notify      NotifyConfig
	Archive     ArchiveConfig
	Telemetry   TelemetryConfig
	Performance PerformanceConfig

	Live              bool
	UpdateOrders      bool
	PerformanceReport bool
	RecheckParams     bool
	// Liquidate is the id of a position to market sell, zero when unset.
	Liquidate int64
}

type StrategyConfig struct {
	Policy             lifecycle.Policy
	MaxConsecutiveBuys int
	MaxHoldingsPct     decimal.Decimal
	RecentBuys         selector.RecentBuysPolicy
	MAPeriods          []int
	Interval           string
	MetricsConcurrency int
}

type StorageConfig struct {
	Driver      string
	PostgresDSN string
}

type SimulateConfig struct {
	FeeRate  decimal.Decimal
	Balances map[string]decimal.Decimal
}

type Credentials struct {
	BinanceKey    string
	BinanceSecret string
	BybitKey      string
	BybitSecret   string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	LockTTL  time.Duration
}

type NotifyConfig struct {
	TelegramToken  string
	TelegramChatID string
	DiscordWebhook string
}

type ArchiveConfig struct {
	Bucket         string
	Region         string
	Endpoint       string
	Prefix         string
	AccessKey      string
	SecretKey      string
	ForcePathStyle bool
}

type TelemetryConfig struct {
	PushgatewayURL string
	Instance       string
}

type PerformanceConfig struct {
	Iterations int
	Seed       int64
}

// Mode names the state namespace: paper and live runs never share positions.
func (c Config) Mode() string {
	if c.Live {
		return "live"
	}
	return "paper"
}

// Dir returns a state directory of the current mode.
func (c Config) Dir(name string) string {
	return filepath.Join(c.StateDir, c.Mode(), name)
}

// Markets returns the watchlist markets of every configured exchange.
func (c Config) Markets() []domain.MarketRef {
	var out []domain.MarketRef
	for _, e := range c.Exchanges {
		for _, p := range domain.Markets(c.Watchlist[e], c.Base) {
			out = append(out, domain.MarketRef{Exchange: e, Pair: p})
		}
	}
	return out
}

// ConfigTmp is the on-disk shape. Numbers that feed decimal math stay strings
// so no precision is lost before parsing.
type ConfigTmp struct {
	Exchanges []string            `yaml:"exchanges,omitempty" toml:"exchanges"`
	Base      string              `yaml:"base,omitempty" toml:"base"`
	BuyAmount string              `yaml:"buy_amount,omitempty" toml:"buy_amount"`
	Watchlist map[string][]string `yaml:"watchlist" toml:"watchlist"`

	ProfitThreshold    string `yaml:"profit_threshold,omitempty" toml:"profit_threshold"`
	MaxConsecutiveBuys *int  `yaml:"max_consecutive_buys,omitempty" toml:"max_consecutive_buys"`
	MaxHoldingsPct     string `yaml:"max_holdings_pct,omitempty" toml:"max_holdings_pct"`
	HoldPercentile     string `yaml:"hold_percentile,omitempty" toml:"hold_percentile"`
	RevisionTolerance  string `yaml:"revision_tolerance,omitempty" toml:"revision_tolerance"`
	BandSafety         string `yaml:"band_safety,omitempty" toml:"band_safety"`
	MAPeriods          []int  `yaml:"ma_periods,omitempty" toml:"ma_periods"`
	Interval           string `yaml:"interval,omitempty" toml:"interval"`
	InitialSellPolicy  string `yaml:"initial_sell_policy,omitempty" toml:"initial_sell_policy"`
	RecentBuysPolicy   string `yaml:"recent_buys_policy,omitempty" toml:"recent_buys_policy"`
	MetricsConcurrency int    `yaml:"metrics_concurrency,omitempty" toml:"metrics_concurrency"`

	StateDir string `yaml:"state_dir,omitempty" toml:"state_dir"`
	Storage  struct {
		Driver      string `yaml:"driver,omitempty" toml:"driver"`
		PostgresDSN string `yaml:"postgres_dsn,omitempty" toml:"postgres_dsn"`
	} `yaml:"storage,omitempty" toml:"storage"`
	Simulate struct {
		FeeRate  string            `yaml:"fee_rate,omitempty" toml:"fee_rate"`
		Balances map[string]string `yaml:"balances,omitempty" toml:"balances"`
	} `yaml:"simulate,omitempty" toml:"simulate"`
	Redis struct {
		Addr     string `yaml:"addr,omitempty" toml:"addr"`
		Password string `yaml:"password,omitempty" toml:"password"`
		DB       int    `yaml:"db,omitempty" toml:"db"`
		LockTTL  string `yaml:"lock_ttl,omitempty" toml:"lock_ttl"`
	} `yaml:"redis,omitempty" toml:"redis"`
	Notify struct {
		TelegramToken  string `yaml:"telegram_token,omitempty" toml:"telegram_token"`
		TelegramChatID string `yaml:"telegram_chat_id,omitempty" toml:"telegram_chat_id"`
		DiscordWebhook string `yaml:"discord_webhook,omitempty" toml:"discord_webhook"`
	} `yaml:"notify,omitempty" toml:"notify"`
	Archive struct {
		Bucket         string `yaml:"bucket,omitempty" toml:"bucket"`
		Region         string `yaml:"region,omitempty" toml:"region"`
		Endpoint       string `yaml:"endpoint,omitempty" toml:"endpoint"`
		Prefix         string `yaml:"prefix,omitempty" toml:"prefix"`
		ForcePathStyle bool   `yaml:"force_path_style,omitempty" toml:"force_path_style"`
	} `yaml:"archive,omitempty" toml:"archive"`
	Telemetry struct {
		PushgatewayURL string `yaml:"pushgateway_url,omitempty" toml:"pushgateway_url"`
		Instance       string `yaml:"instance,omitempty" toml:"instance"`
	} `yaml:"telemetry,omitempty" toml:"telemetry"`
	Performance struct {
		Iterations int   `yaml:"iterations,omitempty" toml:"iterations"`
		Seed       int64 `yaml:"seed,omitempty" toml:"seed"`
	} `yaml:"performance,omitempty" toml:"performance"`
}

// Load builds the config from flags, the optional config file, .env and the
// environment, in increasing order of precedence except for flags, which win.
func Load(flags Flags) (Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return Config{}, errors.Wrap(err, "failed to load .env")
	}

	var tmp ConfigTmp
	if flags.ConfigPath != "" {
		var err error
		tmp, err = ReadFile(flags.ConfigPath)
		if err != nil {
			return Config{}, err
		}
	}

	cfg, err := parse(tmp)
	if err != nil {
		return Config{}, err
	}
	applyEnv(&cfg, os.Getenv)
	if err := applyFlags(&cfg, flags); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ReadFile decodes a YAML or, for .toml files, a TOML config.
func ReadFile(path string) (ConfigTmp, error) {
	var tmp ConfigTmp
	data, err := os.ReadFile(path)
	if err != nil {
		return tmp, errors.Wrapf(err, "failed to read config %s", path)
	}

	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.NewDecoder(bytes.NewReader(data)).Decode(&tmp); err != nil {
			return tmp, errors.Wrapf(err, "failed to decode toml config %s", path)
		}
		return tmp, nil
	}

	if err := yaml.Unmarshal(data, &tmp); err != nil {
		return tmp, errors.Wrapf(err, "failed to decode yaml config %s", path)
	}
	return tmp, nil
}

func parseDecimal(key, raw, def string) (decimal.Decimal, error) {
	if raw == "" {
		raw = def
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("incorrect '%s' param in yaml config (must be a decimal), error: %w", key, err)
	}
	return d, nil
}

func parse(c ConfigTmp) (Config, error) {
	cfg := Config{
		Base:      strings.ToUpper(strings.TrimSpace(c.Base)),
		Watchlist: make(map[domain.Exchange][]string),
		StateDir:  c.StateDir,
	}
	if cfg.Base == "" {
		cfg.Base = defaultBase
	}
	if cfg.StateDir == "" {
		cfg.StateDir = defaultStateDir
	}

	exchanges := c.Exchanges
	if len(exchanges) == 0 {
		exchanges = []string{string(domain.ExchangeBinance)}
	}
	for _, name := range exchanges {
		e, err := domain.ParseExchange(name)
		if err != nil {
			return cfg, fmt.Errorf("incorrect 'exchanges' param in yaml config: %s, error: %w", name, err)
		}
		cfg.Exchanges = append(cfg.Exchanges, e)
	}

	for name, assets := range c.Watchlist {
		e, err := domain.ParseExchange(name)
		if err != nil {
			return cfg, fmt.Errorf("incorrect 'watchlist' param in yaml config: %s, error: %w", name, err)
		}
		cfg.Watchlist[e] = domain.NormalizeAssets(assets)
	}

	var err error
	if cfg.BuyAmount, err = parseDecimal("buy_amount", c.BuyAmount, "0"); err != nil {
		return cfg, err
	}

	policy := lifecycle.DefaultPolicy()
	if policy.ProfitThreshold, err = parseDecimal("profit_threshold", c.ProfitThreshold, policy.ProfitThreshold.String()); err != nil {
		return cfg, err
	}
	if policy.HoldPercentile, err = parseDecimal("hold_percentile", c.HoldPercentile, policy.HoldPercentile.String()); err != nil {
		return cfg, err
	}
	if policy.RevisionTolerance, err = parseDecimal("revision_tolerance", c.RevisionTolerance, policy.RevisionTolerance.String()); err != nil {
		return cfg, err
	}
	if policy.BandSafety, err = parseDecimal("band_safety", c.BandSafety, policy.BandSafety.String()); err != nil {
		return cfg, err
	}
	if policy.InitialSell, err = lifecycle.ParseInitialSellPolicy(c.InitialSellPolicy); err != nil {
		return cfg, fmt.Errorf("incorrect 'initial_sell_policy' param in yaml config, error: %w", err)
	}
	cfg.Strategy.Policy = policy

	cfg.Strategy.MaxConsecutiveBuys = defaultMaxConsecutiveBuys
	if c.MaxConsecutiveBuys != nil {
		cfg.Strategy.MaxConsecutiveBuys = *c.MaxConsecutiveBuys
	}
	if cfg.Strategy.MaxHoldingsPct, err = parseDecimal("max_holdings_pct", c.MaxHoldingsPct, defaultMaxHoldingsPct); err != nil {
		return cfg, err
	}
	if cfg.Strategy.RecentBuys, err = selector.ParseRecentBuysPolicy(c.RecentBuysPolicy); err != nil {
		return cfg, fmt.Errorf("incorrect 'recent_buys_policy' param in yaml config, error: %w", err)
	}
	cfg.Strategy.MAPeriods = c.MAPeriods
	if len(cfg.Strategy.MAPeriods) == 0 {
		cfg.Strategy.MAPeriods = append([]int(nil), defaultMAPeriods...)
	}
	cfg.Strategy.Interval = c.Interval
	if cfg.Strategy.Interval == "" {
		cfg.Strategy.Interval = domain.DefaultInterval
	}
	cfg.Strategy.MetricsConcurrency = c.MetricsConcurrency

	cfg.Storage.Driver = strings.ToLower(c.Storage.Driver)
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = StorageWAL
	}
	cfg.Storage.PostgresDSN = c.Storage.PostgresDSN

	if cfg.Simulate.FeeRate, err = parseDecimal("simulate.fee_rate", c.Simulate.FeeRate, defaultSimulateFee); err != nil {
		return cfg, err
	}
	if len(c.Simulate.Balances) > 0 {
		cfg.Simulate.Balances = make(map[string]decimal.Decimal, len(c.Simulate.Balances))
		for asset, raw := range c.Simulate.Balances {
			d, err := parseDecimal("simulate.balances."+asset, raw, "")
			if err != nil {
				return cfg, err
			}
			cfg.Simulate.Balances[strings.ToUpper(asset)] = d
		}
	}

	cfg.Redis = RedisConfig{Addr: c.Redis.Addr, Password: c.Redis.Password, DB: c.Redis.DB, LockTTL: defaultLockTTL}
	if c.Redis.LockTTL != "" {
		ttl, err := time.ParseDuration(c.Redis.LockTTL)
		if err != nil {
			return cfg, fmt.Errorf("incorrect 'redis.lock_ttl' param in yaml config (correct format is 10m), error: %w", err)
		}
		cfg.Redis.LockTTL = ttl
	}

	cfg.Notify = NotifyConfig{
		TelegramToken:  c.Notify.TelegramToken,
		TelegramChatID: c.Notify.TelegramChatID,
		DiscordWebhook: c.Notify.DiscordWebhook,
	}
	cfg.Archive = ArchiveConfig{
		Bucket:         c.Archive.Bucket,
		Region:         c.Archive.Region,
		Endpoint:       c.Archive.Endpoint,
		Prefix:         c.Archive.Prefix,
		ForcePathStyle: c.Archive.ForcePathStyle,
	}
	cfg.Telemetry = TelemetryConfig{PushgatewayURL: c.Telemetry.PushgatewayURL, Instance: c.Telemetry.Instance}
	cfg.Performance = PerformanceConfig{Iterations: c.Performance.Iterations, Seed: c.Performance.Seed}
	if cfg.Performance.Iterations == 0 {
		cfg.Performance.Iterations = defaultPerformanceRuns
	}

	return cfg, nil
}

func applyEnv(cfg *Config, getenv func(string) string) {
	set := func(dst *string, key string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}

	set(&cfg.Credentials.BinanceKey, "BINANCE_API_KEY")
	set(&cfg.Credentials.BinanceSecret, "BINANCE_API_SECRET")
	set(&cfg.Credentials.BybitKey, "BYBIT_API_KEY")
	set(&cfg.Credentials.BybitSecret, "BYBIT_API_SECRET")
	set(&cfg.Storage.PostgresDSN, "SDCA_POSTGRES_DSN")
	set(&cfg.Redis.Addr, "SDCA_REDIS_ADDR")
	set(&cfg.Redis.Password, "SDCA_REDIS_PASSWORD")
	set(&cfg.Notify.TelegramToken, "SDCA_TELEGRAM_TOKEN")
	set(&cfg.Notify.TelegramChatID, "SDCA_TELEGRAM_CHAT_ID")
	set(&cfg.Notify.DiscordWebhook, "SDCA_DISCORD_WEBHOOK")
	set(&cfg.Archive.AccessKey, "SDCA_S3_ACCESS_KEY")
	set(&cfg.Archive.SecretKey, "SDCA_S3_SECRET_KEY")
	set(&cfg.Telemetry.PushgatewayURL, "SDCA_PUSHGATEWAY_URL")
	set(&cfg.StateDir, "SDCA_STATE_DIR")
}

func applyFlags(cfg *Config, f Flags) error {
	cfg.Live = f.Live
	cfg.UpdateOrders = f.UpdateOrders
	cfg.PerformanceReport = f.PerformanceReport
	cfg.RecheckParams = f.RecheckParams
	cfg.Liquidate = f.Liquidate

	if f.Base != "" {
		cfg.Base = strings.ToUpper(strings.TrimSpace(f.Base))
	}
	if f.Buy != "" {
		amount, err := decimal.NewFromString(f.Buy)
		if err != nil {
			return fmt.Errorf("invalid --buy provided, --buy=%s: %w", f.Buy, err)
		}
		cfg.BuyAmount = amount
	}
	if f.Exchanges != "" {
		cfg.Exchanges = cfg.Exchanges[:0]
		for _, name := range strings.Split(f.Exchanges, ",") {
			e, err := domain.ParseExchange(name)
			if err != nil {
				return fmt.Errorf("invalid --exchanges provided, --exchanges=%s: %w", f.Exchanges, err)
			}
			cfg.Exchanges = append(cfg.Exchanges, e)
		}
	}
	return nil
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	if c.BuyAmount.IsNegative() {
		return fmt.Errorf("buy amount must not be negative, got %s", c.BuyAmount)
	}
	if c.Base == "" {
		return errors.New("base currency is required")
	}
	if len(c.Markets()) == 0 {
		return errors.New("watchlist is empty for every configured exchange")
	}
	if err := c.Strategy.Policy.Validate(); err != nil {
		return err
	}
	if c.Strategy.MaxConsecutiveBuys < 0 {
		return fmt.Errorf("max_consecutive_buys must not be negative, got %d", c.Strategy.MaxConsecutiveBuys)
	}
	if !c.Strategy.MaxHoldingsPct.IsPositive() || c.Strategy.MaxHoldingsPct.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("max_holdings_pct must be in (0, 1], got %s", c.Strategy.MaxHoldingsPct)
	}
	for _, p := range c.Strategy.MAPeriods {
		if p <= 0 {
			return fmt.Errorf("ma_periods must be positive, got %d", p)
		}
	}
	switch c.Storage.Driver {
	case StorageWAL:
	case StoragePostgres:
		if c.Storage.PostgresDSN == "" {
			return errors.New("storage driver postgres requires a DSN (storage.postgres_dsn or SDCA_POSTGRES_DSN)")
		}
	default:
		return fmt.Errorf("unsupported storage driver %q", c.Storage.Driver)
	}
	if c.Live {
		for _, e := range c.Exchanges {
			if err := c.Credentials.check(e); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c Credentials) check(e domain.Exchange) error {
	switch e {
	case domain.ExchangeBinance:
		if c.BinanceKey == "" || c.BinanceSecret == "" {
			return errors.New("BINANCE_API_KEY and BINANCE_API_SECRET environment variables must be set")
		}
	case domain.ExchangeBybit:
		if c.BybitKey == "" || c.BybitSecret == "" {
			return errors.New("BYBIT_API_KEY and BYBIT_API_SECRET environment variables must be set")
		}
	}
	return nil
}

// WatchedExchanges returns the configured exchanges that have a watchlist, sorted.
func (c Config) WatchedExchanges() []domain.Exchange {
	var out []domain.Exchange
	for _, e := range c.Exchanges {
		if len(c.Watchlist[e]) > 0 {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
