package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// OrderSpec offer to place on the order book.
type OrderSpec struct {
	// Selling asset offered.
	Selling Asset
	// Buying asset wanted in exchange.
	Buying Asset
	// Price units of Buying per unit of Selling, truncated to BalanceScale.
	Price decimal.Decimal
	// Amount units of Selling, truncated to BalanceScale.
	Amount decimal.Decimal
}

// PriceString price formatted for submission.
func (o OrderSpec) PriceString() string {
	return o.Price.StringFixed(BalanceScale)
}

// AmountString amount formatted for submission.
func (o OrderSpec) AmountString() string {
	return o.Amount.StringFixed(BalanceScale)
}

// String returns a human-readable string representation.
func (o OrderSpec) String() string {
	return fmt.Sprintf("sell %s %s for %s at %s", o.AmountString(), o.Selling, o.Buying, o.PriceString())
}

// OfferResult outcome of an offer submission.
type OfferResult struct {
	TxHash string
	// OfferID zero when the offer filled immediately or is unknown.
	OfferID int64
}

// MirrorEvent a mirrored order, published after submission.
type MirrorEvent struct {
	EffectID string    `json:"effect_id"`
	Action   Action    `json:"-"`
	Order    OrderSpec `json:"-"`
	TxHash   string    `json:"tx_hash,omitempty"`
	Time     time.Time `json:"time"`
}

// String returns a human-readable string representation.
func (m *MirrorEvent) String() string {
	return fmt.Sprintf("%s effect %s: %s", m.Action, m.EffectID, m.Order.String())
}

// order intent statuses
const (
	OrderIntentPending = "pending"
	OrderIntentDone    = "done"
	OrderIntentFailed  = "failed"
)

// OrderIntent journaled offer submission for a target effect.
type OrderIntent struct {
	ID       string          `json:"id"`
	Status   string          `json:"status"`
	EffectID string          `json:"effect_id"`
	Action   string          `json:"action"`
	Selling  string          `json:"selling"`
	Buying   string          `json:"buying"`
	Price    decimal.Decimal `json:"price"`
	Amount   decimal.Decimal `json:"amount"`
	Time     time.Time       `json:"time"`
	TxHash   string          `json:"tx_hash,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// OrderIntentRecord bundles an intent with its journal index.
type OrderIntentRecord struct {
	Index  uint64
	Intent OrderIntent
}
