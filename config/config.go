package config

import (
	"fmt"
	"io/ioutil"

	"github.com/gookit/validate"
	yaml "gopkg.in/yaml.v2"
)

// TickRule is one band of the piecewise tick grid. MaxPrice 0 means
// "unbounded above".
type TickRule struct {
	MinPrice int64 `yaml:"min_price" validate:"min:0"`
	MaxPrice int64 `yaml:"max_price"`
	TickSize int64 `yaml:"tick_size" validate:"min:1"`
}

// LimitsConfig carries the per-trader risk limits applied to the owner
// range [OwnerFrom, OwnerTo].
type LimitsConfig struct {
	OwnerFrom         uint32  `yaml:"owner_from" validate:"min:1"`
	OwnerTo           uint32  `yaml:"owner_to" validate:"min:1"`
	MaxPosition       int64   `yaml:"max_position" validate:"min:1"`
	MaxOrderQty       int64   `yaml:"max_order_qty" validate:"min:1"`
	MaxOrderValue     int64   `yaml:"max_order_value" validate:"min:1"`
	DailyLossLimit    int64   `yaml:"daily_loss_limit" validate:"min:1"`
	MaxPriceDeviation float64 `yaml:"max_price_deviation"`
	MaxOrdersPerSec   int32   `yaml:"max_orders_per_sec" validate:"min:1"`
	MaxDailyVolume    int64   `yaml:"max_daily_volume" validate:"min:1"`
}

// BreakerConfig parameterizes the price-band circuit breaker.
type BreakerConfig struct {
	Reference  int64   `yaml:"reference" validate:"min:1"`
	Percentage float64 `yaml:"percentage"`
}

// EngineConfig is the YAML configuration of one engine instance.
type EngineConfig struct {
	Symbol        string         `yaml:"symbol" validate:"required"`
	RefillToBack  bool           `yaml:"refill_to_back"`
	TickRules     []TickRule     `yaml:"tick_rules"`
	Limits        []LimitsConfig `yaml:"limits"`
	Breaker       *BreakerConfig `yaml:"breaker"`
	MarkToMarket  int64          `yaml:"mark_to_market"`
	ListenAddress string         `yaml:"listen_address"`
}

// InitializeConfig sets up the services every binary needs.
func InitializeConfig() error {
	NewLoggerService()
	return nil
}

// LoadEngineConfig reads and validates a YAML engine configuration.
func LoadEngineConfig(path string) (*EngineConfig, error) {
	raw, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &EngineConfig{RefillToBack: true}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, err
	}

	v := validate.Struct(cfg)
	if !v.Validate() {
		return nil, fmt.Errorf("invalid engine config: %s", v.Errors.One())
	}

	for _, l := range cfg.Limits {
		if l.MaxPriceDeviation <= 0 || l.MaxPriceDeviation > 1.0 {
			return nil, fmt.Errorf("invalid engine config: max_price_deviation must be in (0,1]")
		}
		if l.OwnerTo < l.OwnerFrom {
			return nil, fmt.Errorf("invalid engine config: owner range %d..%d", l.OwnerFrom, l.OwnerTo)
		}
	}

	return cfg, nil
}

// DefaultEngineConfig mirrors the demo setup used by the benchmark
// driver: institutional limits for owners 1..100 and a ±20% breaker
// around 100000.
func DefaultEngineConfig() *EngineConfig {
	return &EngineConfig{
		Symbol:       "SIM",
		RefillToBack: true,
		Limits: []LimitsConfig{{
			OwnerFrom:         1,
			OwnerTo:           100,
			MaxPosition:       100000,
			MaxOrderQty:       10000,
			MaxOrderValue:     50000000,
			DailyLossLimit:    1000000,
			MaxPriceDeviation: 0.10,
			MaxOrdersPerSec:   1000,
			MaxDailyVolume:    1000000,
		}},
		Breaker: &BreakerConfig{
			Reference:  100000,
			Percentage: 0.20,
		},
		MarkToMarket:  1000,
		ListenAddress: ":9200",
	}
}
