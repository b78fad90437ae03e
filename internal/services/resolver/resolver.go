// Package resolver reconstructs what an account held right before a past effect.
package resolver

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	entity "github.com/dandalion98/mirrorbot/internal/domain"
)

const (
	// defaultScanLimit mirrored effects are recent, so the match should sit near the top of the cache.
	defaultScanLimit = 50
	// maxRefreshAttempts bounds balance re-reads when effects land between listing and the balance query.
	maxRefreshAttempts = 3
)

// ErrNotFound prior balance cannot be determined from cached or fetched history.
var ErrNotFound = errors.New("prior balance not found")

type effectsFeed interface {
	// ListEffects returns effects strictly newer than afterCursor, newest first.
	// An empty cursor returns the most recent page.
	ListEffects(ctx context.Context, address, afterCursor string) ([]entity.Effect, error)
	BalanceFull(ctx context.Context, address string) (entity.BalanceSnapshot, error)
}

// Resolver caches an account's annotated effect history, newest first.
// The cache only grows by prepending newer effects and is never evicted.
type Resolver struct {
	address   string
	feed      effectsFeed
	l         *zap.Logger
	scanLimit int

	mu      sync.Mutex
	history []AnnotatedEffect
}

// NewResolver creates a resolver for address.
func NewResolver(l *zap.Logger, address string, feed effectsFeed) (*Resolver, error) {
	if address == "" {
		return nil, errors.New("resolver address is required")
	}
	if feed == nil {
		return nil, errors.New("resolver feed is required")
	}
	if l == nil {
		l = zap.NewNop()
	}

	return &Resolver{
		address:   address,
		feed:      feed,
		l:         l,
		scanLimit: defaultScanLimit,
	}, nil
}

// ResolvePriorBalance returns the balance the account had right before effectID.
// Only the cache is consulted first; on a miss newer effects are fetched and
// the lookup is retried once. ErrNotFound is a per-event, recoverable failure.
func (r *Resolver) ResolvePriorBalance(ctx context.Context, effectID string) (entity.BalanceSnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	balance, found, err := r.findPrior(effectID)
	if err != nil {
		return entity.BalanceSnapshot{}, err
	}
	if found {
		return balance, nil
	}

	if err := r.refresh(ctx); err != nil {
		return entity.BalanceSnapshot{}, errors.Wrapf(err, "refresh effect history for %s", r.address)
	}

	balance, found, err = r.findPrior(effectID)
	if err != nil {
		return entity.BalanceSnapshot{}, err
	}
	if !found {
		return entity.BalanceSnapshot{}, errors.Wrapf(ErrNotFound, "effect %s not in the %d most recent effects", effectID, r.scanLimit)
	}

	return balance, nil
}

// findPrior scans the newest scanLimit entries. It returns an error when the
// effect is cached but is the oldest known entry: there is nothing older to read.
func (r *Resolver) findPrior(effectID string) (entity.BalanceSnapshot, bool, error) {
	for i := 0; i < len(r.history) && i < r.scanLimit; i++ {
		if r.history[i].ID != effectID {
			continue
		}
		if i+1 >= len(r.history) {
			return entity.BalanceSnapshot{}, false, errors.Wrapf(ErrNotFound, "effect %s is the oldest cached effect", effectID)
		}
		return r.history[i+1].EndBalance.Clone(), true, nil
	}

	return entity.BalanceSnapshot{}, false, nil
}

// refresh fetches effects newer than the cache head, annotates them against the
// current balance and prepends them.
func (r *Resolver) refresh(ctx context.Context) error {
	head := ""
	if len(r.history) > 0 {
		head = r.history[0].PagingToken
	}

	fresh, err := r.feed.ListEffects(ctx, r.address, head)
	if err != nil {
		return errors.Wrap(err, "list effects")
	}
	fresh = newerThan(fresh, head)
	if len(fresh) == 0 {
		return nil
	}

	balance, err := r.feed.BalanceFull(ctx, r.address)
	if err != nil {
		return errors.Wrap(err, "get balance")
	}

	// effects landing between the two calls are already in the balance and must be annotated too
	settled := false
	for attempt := 0; attempt < maxRefreshAttempts; attempt++ {
		late, err := r.feed.ListEffects(ctx, r.address, fresh[0].PagingToken)
		if err != nil {
			return errors.Wrap(err, "list late effects")
		}
		if len(late) == 0 {
			settled = true
			break
		}
		r.l.Debug("effects arrived during refresh, re-fetching balance", zap.Int("late", len(late)))
		fresh = newerThan(append(late, fresh...), head)
		if balance, err = r.feed.BalanceFull(ctx, r.address); err != nil {
			return errors.Wrap(err, "get balance")
		}
	}
	if !settled {
		return errors.Errorf("effects still arriving after %d balance reads", maxRefreshAttempts+1)
	}

	annotated := Annotate(fresh, balance)
	r.history = append(annotated, r.history...)

	r.l.Debug("effect history refreshed",
		zap.String("account", r.address),
		zap.Int("fetched", len(annotated)),
		zap.Int("cached", len(r.history)))

	return nil
}

// newerThan keeps effects strictly newer than head, sorted newest first.
func newerThan(effects []entity.Effect, head string) []entity.Effect {
	out := make([]entity.Effect, 0, len(effects))
	seen := make(map[string]struct{}, len(effects))
	for _, e := range effects {
		if head != "" && entity.ComparePagingTokens(e.PagingToken, head) <= 0 {
			continue
		}
		if _, dup := seen[e.PagingToken]; dup {
			continue
		}
		seen[e.PagingToken] = struct{}{}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return entity.ComparePagingTokens(out[i].PagingToken, out[j].PagingToken) > 0
	})
	return out
}

// History returns a copy of the cached history, newest first.
func (r *Resolver) History() []AnnotatedEffect {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]AnnotatedEffect, len(r.history))
	copy(out, r.history)
	return out
}
