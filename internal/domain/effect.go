package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// ErrInvalidEffect effect cannot be priced or applied (zero amount, malformed data).
var ErrInvalidEffect = errors.New("invalid effect")

// EffectKind type of balance-changing event.
type EffectKind int

const (
	EffectOther EffectKind = iota
	EffectTrade
	EffectCredited
	EffectDebited
	EffectAccountCreated
)

// String returns the Horizon effect type name.
func (k EffectKind) String() string {
	switch k {
	case EffectTrade:
		return "trade"
	case EffectCredited:
		return "account_credited"
	case EffectDebited:
		return "account_debited"
	case EffectAccountCreated:
		return "account_created"
	default:
		return "other"
	}
}

// Effect one balance-changing event on an account.
type Effect struct {
	// ID Horizon effect id.
	ID string
	// PagingToken cursor used for ordering and stream resumption.
	PagingToken string
	Kind        EffectKind
	Account     string
	ClosedAt    time.Time

	// trade fields, from the account's point of view.
	SoldAsset    Asset
	SoldAmount   decimal.Decimal
	BoughtAsset  Asset
	BoughtAmount decimal.Decimal

	// credit/debit/account-created fields.
	Asset  Asset
	Amount decimal.Decimal
}

// String returns a human-readable string representation.
func (e Effect) String() string {
	if e.Kind == EffectTrade {
		return fmt.Sprintf("%s %s sold %s %s bought %s %s", e.ID, e.Kind, e.SoldAmount, e.SoldAsset, e.BoughtAmount, e.BoughtAsset)
	}
	return fmt.Sprintf("%s %s %s %s", e.ID, e.Kind, e.Amount, e.Asset)
}

// Validate rejects trades with non-positive amounts.
func (e Effect) Validate() error {
	if e.Kind != EffectTrade {
		return nil
	}
	if !e.SoldAmount.IsPositive() {
		return errors.Wrapf(ErrInvalidEffect, "effect %s: sold amount must be positive, got %s", e.ID, e.SoldAmount)
	}
	if !e.BoughtAmount.IsPositive() {
		return errors.Wrapf(ErrInvalidEffect, "effect %s: bought amount must be positive, got %s", e.ID, e.BoughtAmount)
	}
	return nil
}

// SoldPrice price of the sold asset in units of the bought asset (bought / sold).
func (e Effect) SoldPrice() (decimal.Decimal, error) {
	if err := e.Validate(); err != nil {
		return decimal.Zero, err
	}
	if e.Kind != EffectTrade {
		return decimal.Zero, errors.Wrapf(ErrInvalidEffect, "effect %s is not a trade", e.ID)
	}
	return e.BoughtAmount.Div(e.SoldAmount), nil
}

// BoughtPrice price of the bought asset in units of the sold asset (sold / bought).
func (e Effect) BoughtPrice() (decimal.Decimal, error) {
	if err := e.Validate(); err != nil {
		return decimal.Zero, err
	}
	if e.Kind != EffectTrade {
		return decimal.Zero, errors.Wrapf(ErrInvalidEffect, "effect %s is not a trade", e.ID)
	}
	return e.SoldAmount.Div(e.BoughtAmount), nil
}

// Apply moves the balance forward across this effect.
func (e Effect) Apply(balance *BalanceSnapshot) {
	switch e.Kind {
	case EffectTrade:
		balance.Sub(e.SoldAsset, e.SoldAmount)
		balance.Add(e.BoughtAsset, e.BoughtAmount)
	case EffectCredited, EffectAccountCreated:
		balance.Add(e.Asset, e.Amount)
	case EffectDebited:
		balance.Sub(e.Asset, e.Amount)
	}
}

// Reverse moves the balance backward across this effect, yielding the balance
// the account had right before it.
func (e Effect) Reverse(balance *BalanceSnapshot) {
	switch e.Kind {
	case EffectTrade:
		balance.Add(e.SoldAsset, e.SoldAmount)
		balance.Sub(e.BoughtAsset, e.BoughtAmount)
	case EffectCredited, EffectAccountCreated:
		balance.Sub(e.Asset, e.Amount)
	case EffectDebited:
		balance.Add(e.Asset, e.Amount)
	}
}

// ComparePagingTokens orders Horizon paging tokens of the form "<op id>-<index>".
// Returns -1, 0 or 1. Unparseable tokens fall back to string comparison.
func ComparePagingTokens(a, b string) int {
	aOp, aIdx, aErr := parsePagingToken(a)
	bOp, bIdx, bErr := parsePagingToken(b)
	if aErr != nil || bErr != nil {
		return strings.Compare(a, b)
	}
	switch {
	case aOp < bOp:
		return -1
	case aOp > bOp:
		return 1
	case aIdx < bIdx:
		return -1
	case aIdx > bIdx:
		return 1
	default:
		return 0
	}
}

func parsePagingToken(token string) (int64, int64, error) {
	opPart, idxPart, found := strings.Cut(token, "-")
	op, err := strconv.ParseInt(opPart, 10, 64)
	if err != nil {
		return 0, 0, err
	}
	if !found {
		return op, 0, nil
	}
	idx, err := strconv.ParseInt(idxPart, 10, 64)
	if err != nil {
		return 0, 0, err
	}
	return op, idx, nil
}

// EffectSubscription live, ordered, at-least-once stream of one account's effects.
type EffectSubscription interface {
	// Effects delivers effects one at a time; closed when the subscription ends.
	Effects() <-chan Effect
	// Close stops new deliveries and waits for the delivering goroutine to exit.
	Close() error
}
