package setup

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/selectivedca/config"
	"github.com/vadiminshakov/selectivedca/internal/domain"
	"gopkg.in/yaml.v3"
)

// DefaultPath is where the wizard writes its config.
const DefaultPath = "config.gen.yaml"

var (
	subtle    = lipgloss.AdaptiveColor{Light: "#D9DCCF", Dark: "#383838"}
	highlight = lipgloss.AdaptiveColor{Light: "#874BFD", Dark: "#7D56F4"}
	special   = lipgloss.AdaptiveColor{Light: "#43BF6D", Dark: "#73F59F"}

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Background(highlight).
			Padding(1, 2).
			Bold(true).
			MarginBottom(1)

	stepStyle = lipgloss.NewStyle().
			Foreground(special).
			Bold(true).
			MarginTop(1).
			MarginBottom(0)
)

type answers struct {
	exchanges          []string
	base               string
	watchlist          string
	buyAmount          string
	profitThreshold    string
	maxConsecutiveBuys string
	maxHoldingsPct     string
	storage            string
	postgresDSN        string
	telegramToken      string
	telegramChatID     string
}

func defaults() answers {
	return answers{
		exchanges:          []string{string(domain.ExchangeBinance)},
		base:               "BTC",
		buyAmount:          "0.0005",
		profitThreshold:    "1.05",
		maxConsecutiveBuys: "3",
		maxHoldingsPct:     "0.25",
		storage:            config.StorageWAL,
	}
}

func screen(step string) {
	fmt.Print("\033[H\033[2J") // clear screen
	fmt.Println(headerStyle.Render("SELECTIVE DCA CONFIG WIZARD"))
	fmt.Println(stepStyle.Render(step))
}

// RunTUI launches the terminal configuration wizard and returns the path of
// the written config.
func RunTUI() (string, error) {
	a := defaults()
	var confirm bool

	screen("STEP 1: EXCHANGES")
	fmt.Println(lipgloss.NewStyle().Foreground(subtle).Render("Buys rotate over the markets you watch.\n"))
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewMultiSelect[string]().
				Title("Exchanges to trade on").
				Options(
					huh.NewOption("Binance", string(domain.ExchangeBinance)).Selected(true),
					huh.NewOption("Bybit", string(domain.ExchangeBybit)),
				).
				Value(&a.exchanges).
				Validate(func(v []string) error {
					if len(v) == 0 {
						return fmt.Errorf("select at least one exchange")
					}
					return nil
				}),
		),
	).Run()
	if err != nil {
		return "", err
	}

	screen("STEP 2: MARKETS")
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Base currency").
				Description("Currency every buy spends (e.g. BTC, USDT)").
				Value(&a.base).
				Validate(validateTicker),
			huh.NewInput().
				Title("Watchlist").
				Description("Comma-separated assets (e.g. ETH, ADA, XLM)").
				Value(&a.watchlist).
				Validate(validateWatchlist),
			huh.NewInput().
				Title("Buy amount").
				Description("Base currency spent per run, 0 only prints reports").
				Value(&a.buyAmount).
				Validate(validateNonNegative),
		),
	).Run()
	if err != nil {
		return "", err
	}

	screen("STEP 3: STRATEGY")
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Profit threshold").
				Description("Minimum sell price as a multiple of the buy price (e.g. 1.05)").
				Value(&a.profitThreshold).
				Validate(validateThreshold),
			huh.NewInput().
				Title("Max consecutive buys").
				Description("Open lots per market before it leaves the lottery").
				Value(&a.maxConsecutiveBuys).
				Validate(validateCount),
			huh.NewInput().
				Title("Max holdings share").
				Description("Fraction of the portfolio one market may hold (0-1]").
				Value(&a.maxHoldingsPct).
				Validate(validateFraction),
		),
	).Run()
	if err != nil {
		return "", err
	}

	screen("STEP 4: STORAGE AND NOTIFICATIONS")
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Position storage").
				Options(
					huh.NewOption("Local write-ahead log", config.StorageWAL),
					huh.NewOption("PostgreSQL", config.StoragePostgres),
				).
				Value(&a.storage),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("PostgreSQL DSN").
				Description("Can also be set with SDCA_POSTGRES_DSN").
				Value(&a.postgresDSN),
		).WithHideFunc(func() bool { return a.storage != config.StoragePostgres }),
		huh.NewGroup(
			huh.NewInput().
				Title("Telegram bot token").
				Description("Leave empty to disable notifications").
				Value(&a.telegramToken).
				EchoMode(huh.EchoModePassword),
			huh.NewInput().
				Title("Telegram chat id").
				Value(&a.telegramChatID),
		),
	).Run()
	if err != nil {
		return "", err
	}

	screen("FINAL CONFIRMATION")
	summary := fmt.Sprintf(
		"Exchanges: %s\nBase: %s\nWatchlist: %s\nBuy amount: %s\nStorage: %s\n",
		strings.Join(a.exchanges, ", "), a.base, a.watchlist, a.buyAmount, a.storage,
	)
	fmt.Println(lipgloss.NewStyle().Border(lipgloss.NormalBorder()).Padding(1).Render(summary))

	err = huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Save Configuration?").
				Affirmative("Yes, save").
				Negative("No, exit").
				Value(&confirm),
		),
	).Run()
	if err != nil {
		return "", err
	}
	if !confirm {
		return "", fmt.Errorf("setup cancelled by user")
	}

	tmp, err := build(a)
	if err != nil {
		return "", err
	}
	if err := Write(DefaultPath, tmp); err != nil {
		return "", err
	}

	fmt.Println(lipgloss.NewStyle().Foreground(special).Render(fmt.Sprintf("\n✓ Configuration saved to %s", DefaultPath)))
	time.Sleep(1500 * time.Millisecond) // small pause to read success message
	return DefaultPath, nil
}

// build turns wizard answers into the on-disk config shape. Every exchange
// watches the same assets.
func build(a answers) (config.ConfigTmp, error) {
	var tmp config.ConfigTmp
	if len(a.exchanges) == 0 {
		return tmp, fmt.Errorf("no exchange selected")
	}
	if err := validateWatchlist(a.watchlist); err != nil {
		return tmp, err
	}
	maxBuys, err := strconv.Atoi(a.maxConsecutiveBuys)
	if err != nil {
		return tmp, fmt.Errorf("max consecutive buys: %w", err)
	}

	assets := splitAssets(a.watchlist)
	tmp.Exchanges = a.exchanges
	tmp.Base = strings.ToUpper(strings.TrimSpace(a.base))
	tmp.BuyAmount = a.buyAmount
	tmp.Watchlist = make(map[string][]string, len(a.exchanges))
	for _, e := range a.exchanges {
		tmp.Watchlist[e] = assets
	}
	tmp.ProfitThreshold = a.profitThreshold
	tmp.MaxConsecutiveBuys = &maxBuys
	tmp.MaxHoldingsPct = a.maxHoldingsPct
	tmp.Storage.Driver = a.storage
	if a.storage == config.StoragePostgres {
		tmp.Storage.PostgresDSN = a.postgresDSN
	}
	tmp.Notify.TelegramToken = a.telegramToken
	tmp.Notify.TelegramChatID = a.telegramChatID
	return tmp, nil
}

// Write stores a config as YAML.
func Write(path string, tmp config.ConfigTmp) error {
	data, err := yaml.Marshal(tmp)
	if err != nil {
		return fmt.Errorf("failed to generate yaml: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to save config file: %w", err)
	}
	return nil
}

func splitAssets(s string) []string {
	return domain.NormalizeAssets(strings.Split(s, ","))
}

func validateTicker(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return fmt.Errorf("ticker cannot be empty")
	}
	for _, r := range s {
		if !(r >= 'A' && r <= 'Z' || r >= 'a' && r <= 'z' || r >= '0' && r <= '9') {
			return fmt.Errorf("ticker must be alphanumeric")
		}
	}
	return nil
}

func validateWatchlist(s string) error {
	assets := splitAssets(s)
	if len(assets) == 0 {
		return fmt.Errorf("watchlist cannot be empty")
	}
	for _, a := range assets {
		if err := validateTicker(a); err != nil {
			return fmt.Errorf("%s: %w", a, err)
		}
	}
	return nil
}

func validateNonNegative(s string) error {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("must be a valid number")
	}
	if d.IsNegative() {
		return fmt.Errorf("must not be negative")
	}
	return nil
}

func validateThreshold(s string) error {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("must be a valid number")
	}
	if d.LessThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("must be greater than 1")
	}
	return nil
}

func validateFraction(s string) error {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("must be a valid number")
	}
	if !d.IsPositive() || d.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("must be in (0, 1]")
	}
	return nil
}

func validateCount(s string) error {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("must be an integer")
	}
	if n < 0 {
		return fmt.Errorf("must not be negative")
	}
	return nil
}
