// Package config loads the engine configuration from a YAML file or
// CLI flags.
package config

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/arbi/internal/domain"
	"gopkg.in/yaml.v3"
)

// Deposit seeds the capital ledger at startup.
type Deposit struct {
	Exchange string
	Asset    string
	Amount   decimal.Decimal
}

type Config struct {
	Exchanges []string
	Pairs     []domain.Pair
	Policy    domain.FailSafePolicy
	FeeAsset  string

	DetectInterval  time.Duration
	MinDetectSpread decimal.Decimal
	AutoExecute     bool

	Deposits []Deposit

	WebAddr    string
	TLSDomains []string

	ArchiveDir string
}

// ConfigTmp mirrors the YAML layout; decimal fields arrive as strings
// and are validated during conversion.
type ConfigTmp struct {
	Exchanges []string `yaml:"exchanges"`
	Pairs     []string `yaml:"pairs"`

	LiveMode             bool          `yaml:"live_mode"`
	TargetSellSpreadStr  string        `yaml:"target_sell_spread,omitempty"`
	StopLossSpreadStr    string        `yaml:"stop_loss_spread,omitempty"`
	CheckInterval        time.Duration `yaml:"check_interval,omitempty"`
	MaxWait              time.Duration `yaml:"max_wait,omitempty"`
	SlippageToleranceStr string        `yaml:"slippage_tolerance,omitempty"`
	MinReserveStr        string        `yaml:"min_reserve_for_fees,omitempty"`
	FeeAsset             string        `yaml:"fee_asset,omitempty"`

	DetectInterval     time.Duration `yaml:"detect_interval,omitempty"`
	MinDetectSpreadStr string        `yaml:"min_detect_spread,omitempty"`
	AutoExecute        bool          `yaml:"auto_execute"`

	Deposits []struct {
		Exchange string `yaml:"exchange"`
		Asset    string `yaml:"asset"`
		Amount   string `yaml:"amount"`
	} `yaml:"deposits"`

	WebAddr    string   `yaml:"web_addr,omitempty"`
	TLSDomains []string `yaml:"tls_domains,omitempty"`

	ArchiveDir string `yaml:"archive_dir,omitempty"`
}

// Get loads configuration from --config, falling back to CLI flags for
// a single pair across two exchanges.
func Get() (Config, error) {
	configPath := flag.String("config", "", "path to yaml config")
	pairFlag := flag.String("pair", "BTC_USDT", "trade pair, example: BTC_USDT")
	buyFlag := flag.String("buy", "binance", "buy exchange")
	sellFlag := flag.String("sell", "bybit", "sell exchange")
	flag.Parse()

	if *configPath != "" {
		return getYaml(*configPath)
	}

	pair, err := PairFromString(*pairFlag)
	if err != nil {
		return Config{}, fmt.Errorf("invalid --pair provided, --pair=%s", *pairFlag)
	}

	cfg := Config{
		Exchanges:       []string{*buyFlag, *sellFlag},
		Pairs:           []domain.Pair{pair},
		Policy:          DefaultPolicy(),
		DetectInterval:  30 * time.Second,
		MinDetectSpread: decimal.NewFromFloat(0.5),
		WebAddr:         ":8080",
	}
	return cfg, nil
}

// DefaultPolicy returns the fail-safe defaults applied when a field is
// absent from the config.
func DefaultPolicy() domain.FailSafePolicy {
	return domain.FailSafePolicy{
		TargetSellSpread:  decimal.NewFromInt(2),
		StopLossSpread:    decimal.NewFromInt(-2),
		CheckInterval:     10 * time.Second,
		MaxWait:           10 * time.Minute,
		SlippageTolerance: decimal.NewFromFloat(0.5),
		MinReserveForFees: decimal.Zero,
		LiveMode:          false,
	}
}

func getYaml(path string) (Config, error) {
	f, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	var tmp ConfigTmp
	if err := yaml.Unmarshal(f, &tmp); err != nil {
		return Config{}, err
	}

	return FromTmp(tmp)
}

// FromTmp converts the raw YAML layout into a validated Config.
func FromTmp(tmp ConfigTmp) (Config, error) {
	if len(tmp.Exchanges) < 2 {
		return Config{}, fmt.Errorf("at least two exchanges are required, got %d", len(tmp.Exchanges))
	}
	if len(tmp.Pairs) == 0 {
		return Config{}, fmt.Errorf("at least one pair is required")
	}

	pairs := make([]domain.Pair, 0, len(tmp.Pairs))
	for _, p := range tmp.Pairs {
		pair, err := PairFromString(p)
		if err != nil {
			return Config{}, fmt.Errorf("incorrect 'pairs' entry in yaml config: %s, error: %w", p, err)
		}
		pairs = append(pairs, pair)
	}

	policy := DefaultPolicy()
	policy.LiveMode = tmp.LiveMode
	if tmp.CheckInterval > 0 {
		policy.CheckInterval = tmp.CheckInterval
	}
	if tmp.MaxWait > 0 {
		policy.MaxWait = tmp.MaxWait
	}

	var err error
	if policy.TargetSellSpread, err = decimalOrDefault(tmp.TargetSellSpreadStr, policy.TargetSellSpread); err != nil {
		return Config{}, fmt.Errorf("incorrect 'target_sell_spread' param in yaml config: %w", err)
	}
	if policy.StopLossSpread, err = decimalOrDefault(tmp.StopLossSpreadStr, policy.StopLossSpread); err != nil {
		return Config{}, fmt.Errorf("incorrect 'stop_loss_spread' param in yaml config: %w", err)
	}
	if policy.SlippageTolerance, err = decimalOrDefault(tmp.SlippageToleranceStr, policy.SlippageTolerance); err != nil {
		return Config{}, fmt.Errorf("incorrect 'slippage_tolerance' param in yaml config: %w", err)
	}
	if policy.MinReserveForFees, err = decimalOrDefault(tmp.MinReserveStr, policy.MinReserveForFees); err != nil {
		return Config{}, fmt.Errorf("incorrect 'min_reserve_for_fees' param in yaml config: %w", err)
	}

	if err := policy.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid fail-safe policy in yaml config: %w", err)
	}

	cfg := Config{
		Exchanges:      tmp.Exchanges,
		Pairs:          pairs,
		Policy:         policy,
		FeeAsset:       tmp.FeeAsset,
		DetectInterval: 30 * time.Second,
		AutoExecute:    tmp.AutoExecute,
		WebAddr:        tmp.WebAddr,
		TLSDomains:     tmp.TLSDomains,
		ArchiveDir:     tmp.ArchiveDir,
	}
	if tmp.DetectInterval > 0 {
		cfg.DetectInterval = tmp.DetectInterval
	}
	if cfg.MinDetectSpread, err = decimalOrDefault(tmp.MinDetectSpreadStr, decimal.NewFromFloat(0.5)); err != nil {
		return Config{}, fmt.Errorf("incorrect 'min_detect_spread' param in yaml config: %w", err)
	}

	for _, d := range tmp.Deposits {
		amount, err := decimal.NewFromString(d.Amount)
		if err != nil {
			return Config{}, fmt.Errorf("incorrect deposit amount %q for %s %s: %w", d.Amount, d.Exchange, d.Asset, err)
		}
		cfg.Deposits = append(cfg.Deposits, Deposit{Exchange: d.Exchange, Asset: d.Asset, Amount: amount})
	}

	return cfg, nil
}

func decimalOrDefault(s string, def decimal.Decimal) (decimal.Decimal, error) {
	if s == "" {
		return def, nil
	}
	return decimal.NewFromString(s)
}

// PairFromString parses BASE_QUOTE notation.
func PairFromString(pairStr string) (domain.Pair, error) {
	pairElements := strings.Split(pairStr, "_")
	if len(pairElements) != 2 {
		return domain.Pair{}, fmt.Errorf("invalid pair param")
	}
	return domain.Pair{Base: pairElements[0], Quote: pairElements[1]}, nil
}
