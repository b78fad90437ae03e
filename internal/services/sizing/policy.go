// Package sizing computes the amount and price of a mirrored offer.
package sizing

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	entity "github.com/dandalion98/mirrorbot/internal/domain"
)

// Mode how much of the available balance a mirrored order uses.
type Mode string

const (
	// ModeAll uses the whole available balance.
	ModeAll Mode = "all"
	// ModeFixed uses min(MaxAmount, available).
	ModeFixed Mode = "fixed"
	// ModeProportional moves the same share of holdings the target moved.
	ModeProportional Mode = "proportional"
)

var (
	// ErrNoPriorBalance target's pre-trade balance is unknown or zero, proportional sizing impossible.
	ErrNoPriorBalance = errors.New("no prior balance for proportional sizing")
	// ErrDust order truncates to zero amount or price.
	ErrDust = errors.New("order too small after truncation")
)

// DefaultSlippage premium/discount applied when none is configured (0.5%).
var DefaultSlippage = decimal.RequireFromString("0.005")

// ParseMode parses a mode name, empty means proportional.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "":
		return ModeProportional, nil
	case ModeAll, ModeFixed, ModeProportional:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("unknown sizing mode %q, expected all, fixed or proportional", s)
	}
}

// Policy sizing rules for one direction.
type Policy struct {
	Mode Mode
	// MaxAmount cap for fixed mode, in units of the asset being sold.
	MaxAmount decimal.Decimal
	// Slippage premium when buying, discount when selling, as a fraction.
	Slippage decimal.Decimal
}

// NewPolicy validates and returns a policy. Fixed mode without a positive max
// amount is a configuration error.
func NewPolicy(mode Mode, maxAmount, slippage decimal.Decimal) (Policy, error) {
	if mode == "" {
		mode = ModeProportional
	}
	if _, err := ParseMode(string(mode)); err != nil {
		return Policy{}, err
	}
	if mode == ModeFixed && !maxAmount.IsPositive() {
		return Policy{}, fmt.Errorf("fixed mode requires a positive max amount, got %s", maxAmount.String())
	}
	if slippage.IsNegative() || slippage.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return Policy{}, fmt.Errorf("slippage must be in [0, 1), got %s", slippage.String())
	}

	return Policy{Mode: mode, MaxAmount: maxAmount, Slippage: slippage}, nil
}

// DefaultPolicy proportional sizing with DefaultSlippage.
func DefaultPolicy() Policy {
	return Policy{Mode: ModeProportional, Slippage: DefaultSlippage}
}

// NeedsHistory reports whether sizing needs the target's pre-trade balance.
func (p Policy) NeedsHistory() bool {
	return p.Mode == ModeProportional
}

// SizeClose sizes a sell of the asset the target sold back into native.
// available is the source's balance of that asset, prior the target's balance
// right before the trade (only read in proportional mode).
func (p Policy) SizeClose(e entity.Effect, available decimal.Decimal, prior *entity.BalanceSnapshot) (entity.OrderSpec, error) {
	soldPrice, err := e.SoldPrice()
	if err != nil {
		return entity.OrderSpec{}, err
	}

	amount, err := p.amount(available, e.SoldAmount, e.SoldAsset, prior)
	if err != nil {
		return entity.OrderSpec{}, err
	}

	one := decimal.NewFromInt(1)
	price := soldPrice.Mul(one.Sub(p.Slippage))

	return finalize(entity.OrderSpec{
		Selling: e.SoldAsset,
		Buying:  entity.NativeAsset(),
		Price:   price,
		Amount:  amount,
	})
}

// SizeOpen sizes a buy of the asset the target acquired with native.
// The offer sells native, so price is the inverse of the premium-adjusted
// price the target paid.
func (p Policy) SizeOpen(e entity.Effect, available decimal.Decimal, prior *entity.BalanceSnapshot) (entity.OrderSpec, error) {
	boughtPrice, err := e.BoughtPrice()
	if err != nil {
		return entity.OrderSpec{}, err
	}

	amount, err := p.amount(available, e.SoldAmount, e.SoldAsset, prior)
	if err != nil {
		return entity.OrderSpec{}, err
	}

	one := decimal.NewFromInt(1)
	price := one.Div(boughtPrice.Mul(one.Add(p.Slippage)))

	return finalize(entity.OrderSpec{
		Selling: entity.NativeAsset(),
		Buying:  e.BoughtAsset,
		Price:   price,
		Amount:  amount,
	})
}

func (p Policy) amount(available, traded decimal.Decimal, tradedAsset entity.Asset, prior *entity.BalanceSnapshot) (decimal.Decimal, error) {
	switch p.Mode {
	case ModeAll:
		return available, nil
	case ModeFixed:
		return decimal.Min(p.MaxAmount, available), nil
	default:
		if prior == nil {
			return decimal.Zero, ErrNoPriorBalance
		}
		priorBalance, ok := prior.Get(tradedAsset)
		if !ok || !priorBalance.IsPositive() {
			return decimal.Zero, errors.Wrapf(ErrNoPriorBalance, "target held %s of %s", priorBalance.String(), tradedAsset)
		}
		ratio := traded.Div(priorBalance)
		// history gaps (fees, unmodelled effects) must never push us past our own balance
		if ratio.GreaterThan(decimal.NewFromInt(1)) {
			ratio = decimal.NewFromInt(1)
		}
		return available.Mul(ratio), nil
	}
}

func finalize(order entity.OrderSpec) (entity.OrderSpec, error) {
	order.Amount = entity.TruncateAmount(order.Amount)
	order.Price = entity.TruncateAmount(order.Price)
	if !order.Amount.IsPositive() || !order.Price.IsPositive() {
		return entity.OrderSpec{}, errors.Wrapf(ErrDust, "amount %s price %s", order.Amount.String(), order.Price.String())
	}
	return order, nil
}
