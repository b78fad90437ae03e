package domain

import (
	"sort"

	"github.com/shopspring/decimal"
)

// BalanceScale number of fractional digits Stellar amounts carry.
const BalanceScale int32 = 7

// BalanceSnapshot account balances per asset, each value rounded to BalanceScale
// digits after every mutation. Copy with Clone, never share between effects.
type BalanceSnapshot struct {
	balances map[Asset]decimal.Decimal
}

// NewBalanceSnapshot creates a snapshot from the given balances.
func NewBalanceSnapshot(balances map[Asset]decimal.Decimal) BalanceSnapshot {
	s := BalanceSnapshot{balances: make(map[Asset]decimal.Decimal, len(balances))}
	for asset, amount := range balances {
		s.balances[asset] = RoundBalance(amount)
	}
	return s
}

// RoundBalance rounds an amount to BalanceScale digits, half away from zero.
func RoundBalance(d decimal.Decimal) decimal.Decimal {
	return d.Round(BalanceScale)
}

// TruncateAmount cuts an amount down to BalanceScale digits.
// Used for order amounts and prices so an order never needs more than is held.
func TruncateAmount(d decimal.Decimal) decimal.Decimal {
	return d.Truncate(BalanceScale)
}

// Get returns the balance for asset and whether the asset is held at all.
func (s BalanceSnapshot) Get(asset Asset) (decimal.Decimal, bool) {
	amount, ok := s.balances[asset]
	return amount, ok
}

// Set overwrites the balance for asset.
func (s *BalanceSnapshot) Set(asset Asset, amount decimal.Decimal) {
	if s.balances == nil {
		s.balances = make(map[Asset]decimal.Decimal)
	}
	s.balances[asset] = RoundBalance(amount)
}

// Add increases the balance for asset; a missing asset starts from zero.
func (s *BalanceSnapshot) Add(asset Asset, amount decimal.Decimal) {
	current, _ := s.Get(asset)
	s.Set(asset, current.Add(amount))
}

// Sub decreases the balance for asset; a missing asset starts from zero.
func (s *BalanceSnapshot) Sub(asset Asset, amount decimal.Decimal) {
	current, _ := s.Get(asset)
	s.Set(asset, current.Sub(amount))
}

// Clone returns an independent copy.
func (s BalanceSnapshot) Clone() BalanceSnapshot {
	clone := BalanceSnapshot{balances: make(map[Asset]decimal.Decimal, len(s.balances))}
	for asset, amount := range s.balances {
		clone.balances[asset] = amount
	}
	return clone
}

// Assets returns held assets sorted by their string form.
func (s BalanceSnapshot) Assets() []Asset {
	assets := make([]Asset, 0, len(s.balances))
	for asset := range s.balances {
		assets = append(assets, asset)
	}
	sort.Slice(assets, func(i, j int) bool {
		return assets[i].String() < assets[j].String()
	})
	return assets
}

// Len number of held assets.
func (s BalanceSnapshot) Len() int {
	return len(s.balances)
}

// Equal reports whether both snapshots hold the same assets with equal balances.
func (s BalanceSnapshot) Equal(other BalanceSnapshot) bool {
	if len(s.balances) != len(other.balances) {
		return false
	}
	for asset, amount := range s.balances {
		otherAmount, ok := other.balances[asset]
		if !ok || !amount.Equal(otherAmount) {
			return false
		}
	}
	return true
}

// Map returns a copy of the balances keyed by asset string, for logging and JSON.
func (s BalanceSnapshot) Map() map[string]string {
	out := make(map[string]string, len(s.balances))
	for asset, amount := range s.balances {
		out[asset.String()] = amount.StringFixed(BalanceScale)
	}
	return out
}
