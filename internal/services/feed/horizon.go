// Package feed reads balances and effects of Stellar accounts from Horizon.
package feed

import (
	"context"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stellar/go/clients/horizonclient"
	hProtocol "github.com/stellar/go/protocols/horizon"
	"github.com/stellar/go/protocols/horizon/effects"
	"go.uber.org/zap"

	entity "github.com/dandalion98/mirrorbot/internal/domain"
	"github.com/dandalion98/mirrorbot/pkg/retrier"
)

const (
	// pageLimit Horizon's maximum page size.
	pageLimit = 200
	// healthyStreamAge a connection that stayed up this long resets the reconnect budget.
	healthyStreamAge = time.Minute
	streamMaxRetries = 8
)

var (
	// baseReserve lumens locked per ledger entry.
	baseReserve = decimal.RequireFromString("0.5")

	errStreamEnded = errors.New("effect stream ended")
)

type horizonAPI interface {
	AccountDetail(request horizonclient.AccountRequest) (hProtocol.Account, error)
	Effects(request horizonclient.EffectRequest) (effects.EffectsPage, error)
	StreamEffects(ctx context.Context, request horizonclient.EffectRequest, handler horizonclient.EffectHandler) error
}

// Horizon adapts a Horizon client to the balance and effect queries of the mirror.
type Horizon struct {
	api       horizonAPI
	reads     *retrier.Retrier
	reconnect *retrier.Retrier
	l         *zap.Logger
}

// NewHorizon creates a feed over api. Reads are retried on transport errors,
// rate limiting and server errors; client errors fail at once.
func NewHorizon(l *zap.Logger, api horizonAPI, opts ...retrier.Option) (*Horizon, error) {
	if api == nil {
		return nil, errors.New("horizon client is required")
	}
	if l == nil {
		l = zap.NewNop()
	}

	readOpts := append([]retrier.Option{
		retrier.WithMaxRetries(3),
		retrier.WithRetryIf(isRetryable),
		retrier.WithOnRetry(func(attempt int, err error) {
			l.Warn("horizon request failed, retrying", zap.Int("attempt", attempt), zap.Error(err))
		}),
	}, opts...)
	streamOpts := append([]retrier.Option{
		retrier.WithMaxRetries(streamMaxRetries),
		retrier.WithOnRetry(func(attempt int, err error) {
			l.Warn("effect stream disconnected, reconnecting", zap.Int("attempt", attempt), zap.Error(err))
		}),
	}, opts...)

	return &Horizon{
		api:       api,
		reads:     retrier.New(readOpts...),
		reconnect: retrier.New(streamOpts...),
		l:         l,
	}, nil
}

func isRetryable(err error) bool {
	herr := horizonclient.GetError(err)
	if herr == nil {
		return true
	}
	status := herr.Problem.Status
	return status == http.StatusTooManyRequests || status >= http.StatusInternalServerError
}

func (h *Horizon) account(ctx context.Context, address string) (hProtocol.Account, error) {
	acct, err := retrier.DoWithData(h.reads, ctx, func(ctx context.Context) (hProtocol.Account, error) {
		return h.api.AccountDetail(horizonclient.AccountRequest{AccountID: address})
	})
	return acct, errors.Wrapf(err, "load account %s", address)
}

// BalanceFull returns every balance of address, including zero balances of
// trusted assets. Liquidity pool shares are left out.
func (h *Horizon) BalanceFull(ctx context.Context, address string) (entity.BalanceSnapshot, error) {
	acct, err := h.account(ctx, address)
	if err != nil {
		return entity.BalanceSnapshot{}, err
	}

	balances := make(map[entity.Asset]decimal.Decimal, len(acct.Balances))
	for _, b := range acct.Balances {
		if b.Type == "liquidity_pool_shares" {
			continue
		}
		amount, err := decimal.NewFromString(b.Balance)
		if err != nil {
			return entity.BalanceSnapshot{}, errors.Wrapf(err, "parse %s balance %q", b.Code, b.Balance)
		}
		balances[toAsset(b.Type, b.Code, b.Issuer)] = amount
	}

	return entity.NewBalanceSnapshot(balances), nil
}

// NativeBalance returns spendable lumens: the balance minus the minimum
// reserve and lumens locked in open sell offers. Never negative.
func (h *Horizon) NativeBalance(ctx context.Context, address string) (decimal.Decimal, error) {
	return h.SpendableBalance(ctx, address, entity.NativeAsset())
}

// SpendableBalance returns how much of asset address can still put into a new
// offer: the balance minus selling liabilities, and for lumens also minus the
// minimum reserve. Never negative, zero when the asset is not held.
func (h *Horizon) SpendableBalance(ctx context.Context, address string, asset entity.Asset) (decimal.Decimal, error) {
	acct, err := h.account(ctx, address)
	if err != nil {
		return decimal.Zero, err
	}
	return spendable(acct, asset)
}

func spendable(acct hProtocol.Account, asset entity.Asset) (decimal.Decimal, error) {
	for _, b := range acct.Balances {
		if b.Type == "liquidity_pool_shares" || toAsset(b.Type, b.Code, b.Issuer) != asset {
			continue
		}
		balance, err := parseAmount("balance", b.Balance)
		if err != nil {
			return decimal.Zero, err
		}
		locked := decimal.Zero
		if b.SellingLiabilities != "" {
			if locked, err = parseAmount("selling liabilities", b.SellingLiabilities); err != nil {
				return decimal.Zero, err
			}
		}
		if asset.IsNative() {
			entries := 2 + int64(acct.SubentryCount) + int64(acct.NumSponsoring) - int64(acct.NumSponsored)
			locked = locked.Add(baseReserve.Mul(decimal.NewFromInt(entries)))
		}

		available := balance.Sub(locked)
		if available.IsNegative() {
			return decimal.Zero, nil
		}
		return available, nil
	}

	return decimal.Zero, nil
}

// ListEffects returns effects of address strictly newer than afterCursor,
// newest first. An empty cursor returns the most recent page.
func (h *Horizon) ListEffects(ctx context.Context, address, afterCursor string) ([]entity.Effect, error) {
	if afterCursor == "" {
		records, err := h.effectsPage(ctx, horizonclient.EffectRequest{
			ForAccount: address,
			Order:      horizonclient.OrderDesc,
			Limit:      pageLimit,
		})
		if err != nil {
			return nil, err
		}
		mapped, err := mapEffects(records)
		return mapped, errors.Wrapf(err, "list effects for %s", address)
	}

	// walk forward from the cursor, then flip to newest first
	var out []entity.Effect
	cursor := afterCursor
	for {
		records, err := h.effectsPage(ctx, horizonclient.EffectRequest{
			ForAccount: address,
			Cursor:     cursor,
			Order:      horizonclient.OrderAsc,
			Limit:      pageLimit,
		})
		if err != nil {
			return nil, err
		}
		mapped, err := mapEffects(records)
		if err != nil {
			return nil, errors.Wrapf(err, "list effects for %s", address)
		}
		out = append(out, mapped...)
		if len(records) < pageLimit {
			break
		}
		cursor = records[len(records)-1].PagingToken()
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (h *Horizon) effectsPage(ctx context.Context, req horizonclient.EffectRequest) ([]effects.Effect, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	page, err := retrier.DoWithData(h.reads, ctx, func(ctx context.Context) (effects.EffectsPage, error) {
		return h.api.Effects(req)
	})
	if err != nil {
		return nil, errors.Wrapf(err, "list effects for %s", req.ForAccount)
	}
	return page.Embedded.Records, nil
}

// SubscribeEffects streams effects of address after cursor ("now" for live
// only). Dropped connections resume after the last delivered effect.
func (h *Horizon) SubscribeEffects(ctx context.Context, address, cursor string) (entity.EffectSubscription, error) {
	if address == "" {
		return nil, errors.New("subscription address is required")
	}
	if cursor == "" {
		cursor = "now"
	}

	ctx, cancel := context.WithCancel(ctx)
	sub := &subscription{
		effects: make(chan entity.Effect),
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	go func() {
		defer close(sub.done)
		defer close(sub.effects)
		h.stream(ctx, address, cursor, sub.effects)
	}()

	return sub, nil
}

func (h *Horizon) stream(ctx context.Context, address, cursor string, out chan<- entity.Effect) {
	l := h.l.With(zap.String("account", address))

	handler := func(e effects.Effect) {
		mapped, err := mapEffect(e)
		if err != nil {
			l.Warn("dropping malformed effect", zap.String("effect_id", e.GetID()), zap.Error(err))
		} else {
			select {
			case out <- mapped:
			case <-ctx.Done():
				return
			}
		}
		cursor = e.PagingToken()
	}

	connect := func(ctx context.Context) error {
		started := time.Now()
		startCursor := cursor
		err := h.api.StreamEffects(ctx, horizonclient.EffectRequest{ForAccount: address, Cursor: cursor}, handler)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err == nil {
			err = errStreamEnded
		}
		if cursor != startCursor || time.Since(started) > healthyStreamAge {
			// progress was made, start over with a fresh retry budget
			l.Warn("effect stream dropped", zap.String("cursor", cursor), zap.Error(err))
			return nil
		}
		return err
	}

	for {
		err := h.reconnect.Do(ctx, connect)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			l.Error("effect stream failed, giving up", zap.String("cursor", cursor), zap.Error(err))
			return
		}
	}
}

type subscription struct {
	effects chan entity.Effect
	cancel  context.CancelFunc
	done    chan struct{}
}

func (s *subscription) Effects() <-chan entity.Effect {
	return s.effects
}

func (s *subscription) Close() error {
	s.cancel()
	<-s.done
	return nil
}
