package setup

import (
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/shopspring/decimal"
	"github.com/stellar/go/strkey"
	"gopkg.in/yaml.v3"

	"github.com/dandalion98/mirrorbot/config"
	"github.com/dandalion98/mirrorbot/internal/services/sizing"
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

// Answers values collected by the wizard.
type Answers struct {
	Network       string
	SourceAddress string
	Target        string
	BuyMode       string
	BuyMax        string
	BuyPremium    string
	SellMode      string
	SellMax       string
	SellDiscount  string
	DryRun        bool
}

func defaultAnswers() Answers {
	return Answers{
		Network:      config.NetworkPublic,
		BuyMode:      string(sizing.ModeProportional),
		BuyPremium:   sizing.DefaultSlippage.String(),
		SellMode:     string(sizing.ModeProportional),
		SellDiscount: sizing.DefaultSlippage.String(),
	}
}

func header(step string) {
	fmt.Print("\033[H\033[2J")
	fmt.Println(headerStyle.Render("MIRRORBOT CONFIG WIZARD"))
	fmt.Println(stepStyle.Render(step))
}

func modeSelect(title string, value *string) *huh.Select[string] {
	return huh.NewSelect[string]().
		Title(title).
		Options(
			huh.NewOption("Proportional (same share of holdings as the target)", string(sizing.ModeProportional)),
			huh.NewOption("Fixed (up to a max amount)", string(sizing.ModeFixed)),
			huh.NewOption("All (whole available balance)", string(sizing.ModeAll)),
		).
		Value(value)
}

// RunTUI launches the terminal configuration wizard and writes the result to path.
// The source seed is never written; it is read from MIRROR_SOURCE_SEED at startup.
func RunTUI(path string) error {
	a := defaultAnswers()
	var confirm bool

	// step 1: welcome + network
	header("STEP 1: NETWORK")
	fmt.Println(lipgloss.NewStyle().Foreground(subtle).Render("Mirror another account's DEX trades.\n"))
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Stellar network").
				Options(
					huh.NewOption("Public", config.NetworkPublic),
					huh.NewOption("Testnet", config.NetworkTestnet),
				).
				Value(&a.Network),
		),
	).Run()
	if err != nil {
		return err
	}

	// accounts
	header("STEP 2: ACCOUNTS")
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Source account").
				Description("Your account that places the mirrored offers (G...)").
				Value(&a.SourceAddress).
				Validate(validateAddress),
			huh.NewInput().
				Title("Target account").
				Description("The account to mirror (G...)").
				Value(&a.Target).
				Validate(validateAddress),
		),
	).Run()
	if err != nil {
		return err
	}

	// buy side
	header("STEP 3: BUYING")
	err = huh.NewForm(
		huh.NewGroup(
			modeSelect("How much to buy when the target buys", &a.BuyMode),
			huh.NewInput().
				Title("Max amount").
				Description("Native units per order, required for fixed mode").
				Value(&a.BuyMax).
				Validate(validateOptionalAmount),
			huh.NewInput().
				Title("Max premium").
				Description("Fraction above the target's price (e.g. 0.005)").
				Value(&a.BuyPremium).
				Validate(validateSlippage),
		),
	).Run()
	if err != nil {
		return err
	}

	// sell side
	header("STEP 4: SELLING")
	err = huh.NewForm(
		huh.NewGroup(
			modeSelect("How much to sell when the target sells", &a.SellMode),
			huh.NewInput().
				Title("Max amount").
				Description("Asset units per order, required for fixed mode").
				Value(&a.SellMax).
				Validate(validateOptionalAmount),
			huh.NewInput().
				Title("Max discount").
				Description("Fraction below the target's price (e.g. 0.005)").
				Value(&a.SellDiscount).
				Validate(validateSlippage),
			huh.NewConfirm().
				Title("Dry run?").
				Description("Log offers instead of submitting them").
				Value(&a.DryRun),
		),
	).Run()
	if err != nil {
		return err
	}

	// confirmation
	header("FINAL CONFIRMATION")
	summary := fmt.Sprintf(
		"Network: %s\nSource: %s\nTarget: %s\nBuy: %s\nSell: %s\nDry run: %t\n",
		a.Network, a.SourceAddress, a.Target, a.BuyMode, a.SellMode, a.DryRun,
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

	if err := Write(path, a); err != nil {
		return err
	}

	fmt.Println(lipgloss.NewStyle().Foreground(special).Render(fmt.Sprintf("\n✓ Configuration saved to %s\nStarting bot...", path)))
	time.Sleep(1500 * time.Millisecond) // small pause to read success message
	return nil
}

// Write renders answers as a config file at path.
func Write(path string, a Answers) error {
	data, err := yaml.Marshal(a.configTmp())
	if err != nil {
		return fmt.Errorf("failed to generate yaml: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to save config file: %w", err)
	}
	return nil
}

func (a Answers) configTmp() config.ConfigTmp {
	return config.ConfigTmp{
		Network: a.Network,
		Source:  config.SourceTmp{Address: a.SourceAddress},
		Target:  a.Target,
		Buy: config.SideTmp{
			Mode:       a.BuyMode,
			MaxAmount:  a.BuyMax,
			MaxPremium: a.BuyPremium,
		},
		Sell: &config.SideTmp{
			Mode:        a.SellMode,
			MaxAmount:   a.SellMax,
			MaxDiscount: a.SellDiscount,
		},
		DryRun: a.DryRun,
	}
}

func validateAddress(s string) error {
	if !strkey.IsValidEd25519PublicKey(s) {
		return fmt.Errorf("must be a Stellar account address (G...)")
	}
	return nil
}

func validateOptionalAmount(s string) error {
	if s == "" {
		return nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return fmt.Errorf("must be a valid number")
	}
	if !d.IsPositive() {
		return fmt.Errorf("must be positive")
	}
	return nil
}

func validateSlippage(s string) error {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return fmt.Errorf("must be a valid number")
	}
	if d.IsNegative() || d.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("must be between 0 and 1")
	}
	return nil
}
