package trader

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	entity "github.com/dandalion98/mirrorbot/internal/domain"
)

// SimulateTrader keeps offers in memory instead of submitting them. Used for dry runs.
type SimulateTrader struct {
	mu     sync.RWMutex
	logger *zap.Logger
	offers map[int64]entity.OrderSpec
	nextID int64
	placed int
}

// NewSimulateTrader creates a new SimulateTrader.
func NewSimulateTrader(logger *zap.Logger) *SimulateTrader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SimulateTrader{
		logger: logger,
		offers: make(map[int64]entity.OrderSpec),
	}
}

// CreateOffer records order as an open offer.
func (t *SimulateTrader) CreateOffer(ctx context.Context, order entity.OrderSpec) (entity.OfferResult, error) {
	if err := ctx.Err(); err != nil {
		return entity.OfferResult{}, err
	}
	if !order.Amount.IsPositive() {
		return entity.OfferResult{}, fmt.Errorf("offer amount must be positive, got %s", order.AmountString())
	}
	if !order.Price.IsPositive() {
		return entity.OfferResult{}, fmt.Errorf("offer price must be positive, got %s", order.PriceString())
	}
	if order.Selling == order.Buying {
		return entity.OfferResult{}, fmt.Errorf("offer sells and buys the same asset %s", order.Selling)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.nextID++
	t.placed++
	t.offers[t.nextID] = order

	result := entity.OfferResult{TxHash: "simulated-" + uuid.New().String(), OfferID: t.nextID}
	t.logger.Info("Simulated offer placed",
		zap.Int64("offer_id", result.OfferID),
		zap.String("selling", order.Selling.String()),
		zap.String("buying", order.Buying.String()),
		zap.String("amount", order.AmountString()),
		zap.String("price", order.PriceString()))

	return result, nil
}

// DeleteAllOffers drops every open simulated offer.
func (t *SimulateTrader) DeleteAllOffers(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	count := len(t.offers)
	t.offers = make(map[int64]entity.OrderSpec)
	t.logger.Info("Simulated offers deleted", zap.Int("count", count))

	return nil
}

// OpenOffers returns the open offers in placement order.
func (t *SimulateTrader) OpenOffers() []entity.OrderSpec {
	t.mu.RLock()
	defer t.mu.RUnlock()

	ids := make([]int64, 0, len(t.offers))
	for id := range t.offers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]entity.OrderSpec, 0, len(ids))
	for _, id := range ids {
		out = append(out, t.offers[id])
	}
	return out
}

// Placed returns how many offers were placed since start.
func (t *SimulateTrader) Placed() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.placed
}
