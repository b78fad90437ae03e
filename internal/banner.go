package internal

import (
	"fmt"
	"io"

	"github.com/olekukonko/tablewriter"

	"github.com/dandalion98/mirrorbot/config"
	"github.com/dandalion98/mirrorbot/internal/services/sizing"
)

// PrintBanner writes the startup summary of conf to w.
func PrintBanner(w io.Writer, conf config.Config) error {
	table := tablewriter.NewWriter(w)
	table.Header("Setting", "Value")

	rows := [][]string{
		{"network", conf.Network},
		{"horizon", conf.HorizonURL},
		{"source", conf.SourceAddress},
		{"target", conf.Target},
		{"buy", policyLabel(conf.Buy, "premium")},
		{"sell", policyLabel(conf.Sell, "discount")},
		{"cleanup delay", conf.CleanupDelay.String()},
		{"stale after", staleLabel(conf)},
		{"dry run", fmt.Sprintf("%t", conf.DryRun)},
	}
	for _, row := range rows {
		if err := table.Append(row[0], row[1]); err != nil {
			return err
		}
	}

	return table.Render()
}

func policyLabel(p sizing.Policy, slippage string) string {
	label := string(p.Mode)
	if p.Mode == sizing.ModeFixed {
		label += " max " + p.MaxAmount.String()
	}
	return fmt.Sprintf("%s, %s %s%%", label, slippage, p.Slippage.Shift(2).String())
}

func staleLabel(conf config.Config) string {
	if conf.StaleAfter == 0 {
		return "disabled"
	}
	return conf.StaleAfter.String()
}
