package setup

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/arbi/config"
	"gopkg.in/yaml.v3"
)

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

// RunTUI launches the terminal configuration wizard.
func RunTUI() error {
	var (
		exchanges        []string
		pairsStr         string
		liveMode         bool
		targetStr        string
		stopLossStr      string
		checkIntervalStr string
		maxWaitStr       string
		slippageStr      string
		autoExecute      bool
		confirm          bool
	)

	// defaults
	targetStr = "2"
	stopLossStr = "-2"
	checkIntervalStr = "10s"
	maxWaitStr = "10m"
	slippageStr = "0.5"

	// step 1: welcome
	fmt.Print("\033[H\033[2J") // Clear screen
	fmt.Println(headerStyle.Render("ARBI CONFIG WIZARD"))
	fmt.Println(lipgloss.NewStyle().Foreground(subtle).Render("Cross-exchange arbitrage with fail-safe exits.\n"))

	// exchanges
	fmt.Println(stepStyle.Render("STEP 1: EXCHANGES"))
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewMultiSelect[string]().
				Title("Select at least two exchanges").
				Options(
					huh.NewOption("Binance", "binance"),
					huh.NewOption("Bybit", "bybit"),
					huh.NewOption("Hyperliquid", "hyperliquid"),
					huh.NewOption("Simulation", "simulate"),
				).
				Value(&exchanges).
				Validate(func(selected []string) error {
					if len(selected) < 2 {
						return fmt.Errorf("arbitrage needs at least two venues")
					}
					return nil
				}),
		),
	).Run()
	if err != nil {
		return err
	}

	// pairs
	fmt.Print("\033[H\033[2J")
	fmt.Println(headerStyle.Render("ARBI CONFIG WIZARD"))
	fmt.Println(stepStyle.Render("STEP 2: PAIRS"))
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Trading Pairs").
				Description("Comma-separated BASE_QUOTE (e.g. BTC_USDT,ETH_USDT)").
				Value(&pairsStr).
				Validate(func(s string) error {
					if s == "" {
						return fmt.Errorf("at least one pair is required")
					}
					for _, p := range strings.Split(s, ",") {
						if _, err := config.PairFromString(strings.TrimSpace(p)); err != nil {
							return fmt.Errorf("invalid pair %q: must be BASE_QUOTE", p)
						}
					}
					return nil
				}),
		),
	).Run()
	if err != nil {
		return err
	}

	// fail-safe policy
	fmt.Print("\033[H\033[2J")
	fmt.Println(headerStyle.Render("ARBI CONFIG WIZARD"))
	fmt.Println(stepStyle.Render("STEP 3: FAIL-SAFE POLICY"))
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Target Sell Spread %").
				Description("Spread at which the position is sold with profit (e.g. 2)").
				Value(&targetStr).
				Validate(validatePositiveDecimal),
			huh.NewInput().
				Title("Stop-Loss Spread %").
				Description("Spread at which the position is dumped (zero or negative, e.g. -2)").
				Value(&stopLossStr).
				Validate(validateNonPositiveDecimal),
			huh.NewInput().
				Title("Check Interval").
				Description("Spread poll period, duration string (e.g. 10s, 1m)").
				Value(&checkIntervalStr).
				Validate(validateDuration),
			huh.NewInput().
				Title("Max Wait").
				Description("Hard deadline before a forced sell (e.g. 10m, 1h)").
				Value(&maxWaitStr).
				Validate(validateDuration),
			huh.NewInput().
				Title("Slippage Tolerance %").
				Description("Max fill deviation from the quoted price (e.g. 0.5)").
				Value(&slippageStr),
		),
	).Run()
	if err != nil {
		return err
	}

	// execution mode
	fmt.Print("\033[H\033[2J")
	fmt.Println(headerStyle.Render("ARBI CONFIG WIZARD"))
	fmt.Println(stepStyle.Render("STEP 4: EXECUTION MODE"))
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Place real orders?").
				Description("Off = fills are synthesized at the quoted price").
				Affirmative("Live trading").
				Negative("Dry run").
				Value(&liveMode),
			huh.NewConfirm().
				Title("Auto-execute detected opportunities?").
				Affirmative("Yes").
				Negative("No, manual only").
				Value(&autoExecute),
		),
	).Run()
	if err != nil {
		return err
	}

	// confirmation
	fmt.Print("\033[H\033[2J")
	fmt.Println(headerStyle.Render("ARBI CONFIG WIZARD"))
	fmt.Println(stepStyle.Render("FINAL CONFIRMATION"))

	mode := "dry run"
	if liveMode {
		mode = "LIVE"
	}
	summary := fmt.Sprintf(
		"Exchanges: %s\nPairs: %s\nTarget: %s%% / Stop-Loss: %s%%\nInterval: %s / Max Wait: %s\nMode: %s\n",
		strings.Join(exchanges, ", "), pairsStr, targetStr, stopLossStr, checkIntervalStr, maxWaitStr, mode,
	)
	fmt.Println(lipgloss.NewStyle().Border(lipgloss.NormalBorder()).Padding(1).Render(summary))

	err = huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Save Configuration?").
				Affirmative("Yes, save and start").
				Negative("No, exit").
				Value(&confirm),
		),
	).Run()
	if err != nil {
		return err
	}

	if !confirm {
		return fmt.Errorf("setup cancelled by user")
	}

	// generate config
	checkInterval, _ := time.ParseDuration(checkIntervalStr)
	maxWait, _ := time.ParseDuration(maxWaitStr)

	pairs := make([]string, 0)
	for _, p := range strings.Split(pairsStr, ",") {
		pairs = append(pairs, strings.TrimSpace(p))
	}

	cfgTmp := config.ConfigTmp{
		Exchanges:            exchanges,
		Pairs:                pairs,
		LiveMode:             liveMode,
		TargetSellSpreadStr:  targetStr,
		StopLossSpreadStr:    stopLossStr,
		CheckInterval:        checkInterval,
		MaxWait:              maxWait,
		SlippageToleranceStr: slippageStr,
		AutoExecute:          autoExecute,
		WebAddr:              ":8080",
	}

	data, err := yaml.Marshal(cfgTmp)
	if err != nil {
		return fmt.Errorf("failed to generate yaml: %w", err)
	}

	// write to config.gen.yaml
	filename := "config.gen.yaml"
	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to save config file: %w", err)
	}

	fmt.Println(lipgloss.NewStyle().Foreground(special).Render(fmt.Sprintf("\n✓ Configuration saved to %s\nStarting engine...", filename)))
	time.Sleep(1500 * time.Millisecond) // small pause to read success message
	return nil
}

func validatePositiveDecimal(s string) error {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return fmt.Errorf("must be a valid number")
	}
	if d.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("must be greater than zero")
	}
	return nil
}

func validateNonPositiveDecimal(s string) error {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return fmt.Errorf("must be a valid number")
	}
	if d.GreaterThan(decimal.Zero) {
		return fmt.Errorf("must be zero or negative")
	}
	return nil
}

func validateDuration(s string) error {
	_, err := time.ParseDuration(s)
	return err
}
