package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/arbi/internal/domain"
)

func validTmp() ConfigTmp {
	return ConfigTmp{
		Exchanges: []string{"binance", "bybit"},
		Pairs:     []string{"BTC_USDT", "ETH_USDT"},
	}
}

func TestFromTmpDefaults(t *testing.T) {
	cfg, err := FromTmp(validTmp())
	require.NoError(t, err)

	assert.Equal(t, []string{"binance", "bybit"}, cfg.Exchanges)
	require.Len(t, cfg.Pairs, 2)
	assert.Equal(t, domain.Pair{Base: "BTC", Quote: "USDT"}, cfg.Pairs[0])

	// omitted policy fields fall back to defaults
	assert.True(t, cfg.Policy.TargetSellSpread.Equal(decimal.NewFromInt(2)))
	assert.True(t, cfg.Policy.StopLossSpread.Equal(decimal.NewFromInt(-2)))
	assert.Equal(t, 10*time.Second, cfg.Policy.CheckInterval)
	assert.Equal(t, 10*time.Minute, cfg.Policy.MaxWait)
	assert.False(t, cfg.Policy.LiveMode)
	assert.Equal(t, 30*time.Second, cfg.DetectInterval)
	assert.True(t, cfg.MinDetectSpread.Equal(decimal.NewFromFloat(0.5)))
}

func TestFromTmpOverrides(t *testing.T) {
	tmp := validTmp()
	tmp.LiveMode = true
	tmp.TargetSellSpreadStr = "1.5"
	tmp.StopLossSpreadStr = "-3"
	tmp.CheckInterval = 5 * time.Second
	tmp.MaxWait = time.Hour
	tmp.SlippageToleranceStr = "0.2"
	tmp.MinReserveStr = "0.1"
	tmp.FeeAsset = "BNB"
	tmp.DetectInterval = time.Minute
	tmp.MinDetectSpreadStr = "1"
	tmp.AutoExecute = true
	tmp.Deposits = []struct {
		Exchange string `yaml:"exchange"`
		Asset    string `yaml:"asset"`
		Amount   string `yaml:"amount"`
	}{
		{Exchange: "binance", Asset: "USDT", Amount: "5000"},
	}

	cfg, err := FromTmp(tmp)
	require.NoError(t, err)

	assert.True(t, cfg.Policy.LiveMode)
	assert.True(t, cfg.Policy.TargetSellSpread.Equal(decimal.NewFromFloat(1.5)))
	assert.True(t, cfg.Policy.StopLossSpread.Equal(decimal.NewFromInt(-3)))
	assert.Equal(t, 5*time.Second, cfg.Policy.CheckInterval)
	assert.Equal(t, time.Hour, cfg.Policy.MaxWait)
	assert.Equal(t, "BNB", cfg.FeeAsset)
	assert.Equal(t, time.Minute, cfg.DetectInterval)
	assert.True(t, cfg.MinDetectSpread.Equal(decimal.NewFromInt(1)))
	assert.True(t, cfg.AutoExecute)

	require.Len(t, cfg.Deposits, 1)
	assert.Equal(t, "binance", cfg.Deposits[0].Exchange)
	assert.True(t, cfg.Deposits[0].Amount.Equal(decimal.NewFromInt(5000)))
}

func TestFromTmpValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*ConfigTmp)
		wantErr string
	}{
		{
			name:    "one exchange is not enough",
			mutate:  func(c *ConfigTmp) { c.Exchanges = []string{"binance"} },
			wantErr: "at least two exchanges",
		},
		{
			name:    "no pairs",
			mutate:  func(c *ConfigTmp) { c.Pairs = nil },
			wantErr: "at least one pair",
		},
		{
			name:    "malformed pair",
			mutate:  func(c *ConfigTmp) { c.Pairs = []string{"BTCUSDT"} },
			wantErr: "incorrect 'pairs'",
		},
		{
			name:    "bad decimal",
			mutate:  func(c *ConfigTmp) { c.TargetSellSpreadStr = "two" },
			wantErr: "incorrect 'target_sell_spread'",
		},
		{
			name:    "policy invariant broken",
			mutate:  func(c *ConfigTmp) { c.StopLossSpreadStr = "5" },
			wantErr: "invalid fail-safe policy",
		},
		{
			name: "bad deposit amount",
			mutate: func(c *ConfigTmp) {
				c.Deposits = []struct {
					Exchange string `yaml:"exchange"`
					Asset    string `yaml:"asset"`
					Amount   string `yaml:"amount"`
				}{
					{Exchange: "binance", Asset: "USDT", Amount: "lots"},
				}
			},
			wantErr: "incorrect deposit amount",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmp := validTmp()
			tt.mutate(&tmp)
			_, err := FromTmp(tmp)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestPairFromString(t *testing.T) {
	pair, err := PairFromString("ETH_USDT")
	require.NoError(t, err)
	assert.Equal(t, "ETH", pair.Base)
	assert.Equal(t, "USDT", pair.Quote)

	_, err = PairFromString("ETHUSDT")
	require.Error(t, err)

	_, err = PairFromString("ETH_USDT_EXTRA")
	require.Error(t, err)
}
