package config

import (
	"fmt"
	"os"

	"github.com/Aidin1998/pincex_arbfinder/internal/arbitrage"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// FeeSchedule is the standalone fee file format:
//
//	venues:
//	  binance: {maker: "0.001", taker: "0.001"}
//	  kraken:  {maker: "0.0016", taker: "0.0026"}
type FeeSchedule struct {
	Venues map[string]VenueFee `yaml:"venues"`
}

// LoadFeeSchedule reads a fee schedule file.
func LoadFeeSchedule(path string) (*FeeSchedule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fee schedule %s: %w", path, err)
	}
	var fs FeeSchedule
	if err := yaml.Unmarshal(data, &fs); err != nil {
		return nil, fmt.Errorf("failed to parse fee schedule %s: %w", path, err)
	}
	return &fs, nil
}

// Rates resolves the fee table: entries from the schedule file first, then
// inline venues on top. A venue giving only one side uses it for both.
func (c FeesConfig) Rates() (map[string]arbitrage.FeeRate, error) {
	merged := make(map[string]VenueFee)
	if c.FeeScheduleFile != "" {
		fs, err := LoadFeeSchedule(c.FeeScheduleFile)
		if err != nil {
			return nil, err
		}
		for v, f := range fs.Venues {
			merged[v] = f
		}
	}
	for v, f := range c.Venues {
		merged[v] = f
	}

	out := make(map[string]arbitrage.FeeRate, len(merged))
	for venue, f := range merged {
		rate, err := f.rate()
		if err != nil {
			return nil, fmt.Errorf("fees.venues.%s: %w", venue, err)
		}
		out[venue] = rate
	}
	return out, nil
}

func (f VenueFee) rate() (arbitrage.FeeRate, error) {
	maker, taker := f.Maker, f.Taker
	switch {
	case maker == "" && taker == "":
		return arbitrage.FeeRate{}, fmt.Errorf("no maker or taker rate")
	case maker == "":
		maker = taker
	case taker == "":
		taker = maker
	}
	m, err := decimal.NewFromString(maker)
	if err != nil {
		return arbitrage.FeeRate{}, fmt.Errorf("maker: %w", err)
	}
	t, err := decimal.NewFromString(taker)
	if err != nil {
		return arbitrage.FeeRate{}, fmt.Errorf("taker: %w", err)
	}
	if m.IsNegative() || t.IsNegative() || m.GreaterThanOrEqual(decimal.NewFromInt(1)) || t.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return arbitrage.FeeRate{}, fmt.Errorf("rates must be in [0, 1)")
	}
	return arbitrage.FeeRate{Maker: m, Taker: t}, nil
}
