package config

import (
	"flag"
	"fmt"
	"io"
)

// Flags are the command line switches of one invocation.
type Flags struct {
	ConfigPath        string
	Live              bool
	UpdateOrders      bool
	Buy               string
	Base              string
	Exchanges         string
	PerformanceReport bool
	RecheckParams     bool
	Liquidate         int64
	Setup             bool
}

// ParseFlags parses args without the program name.
func ParseFlags(args []string, output io.Writer) (Flags, error) {
	var f Flags
	fs := flag.NewFlagSet("selectivedca", flag.ContinueOnError)
	fs.SetOutput(output)

	fs.StringVar(&f.ConfigPath, "config", "", "path to yaml or toml config")
	fs.BoolVar(&f.Live, "live", false, "submit live orders; without it the run is simulated")
	fs.BoolVar(&f.UpdateOrders, "update-orders", false, "check limit sell statuses and revise sell targets")
	fs.StringVar(&f.Buy, "buy", "", "amount of the base currency to spend, 0 prints reports only")
	fs.StringVar(&f.Base, "base", "", "ticker of the currency to spend, example: BTC")
	fs.StringVar(&f.Exchanges, "exchanges", "", "comma-separated exchanges to include, example: binance,bybit")
	fs.BoolVar(&f.PerformanceReport, "performance-report", false, "compare past buys against random picks and exit")
	fs.BoolVar(&f.RecheckParams, "recheck-params", false, "refresh quantization params of every watched market")
	fs.Int64Var(&f.Liquidate, "liquidate", 0, "market sell the open position with this id and exit")
	fs.BoolVar(&f.Setup, "setup", false, "run the interactive config wizard")

	if err := fs.Parse(args); err != nil {
		return f, err
	}
	if fs.NArg() > 0 {
		return f, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	if f.Liquidate < 0 {
		return f, fmt.Errorf("invalid --liquidate provided, --liquidate=%d", f.Liquidate)
	}
	return f, nil
}
