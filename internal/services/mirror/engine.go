// Package mirror replays a target account's DEX trades on a source account.
package mirror

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	entity "github.com/dandalion98/mirrorbot/internal/domain"
	"github.com/dandalion98/mirrorbot/internal/services/sizing"
)

// DefaultCleanupDelay how long a mirrored offer may rest before all offers are deleted.
const DefaultCleanupDelay = 5 * time.Second

// DefaultResubscribeDelay pause before subscribing again after the effect stream ends.
const DefaultResubscribeDelay = 10 * time.Second

// streamFromNow cursor that starts the stream at the current ledger.
const streamFromNow = "now"

var (
	// ErrSkipped effect was understood but produces no order.
	ErrSkipped = errors.New("effect skipped")
	// ErrDuplicate effect was already processed.
	ErrDuplicate = errors.New("effect already processed")
)

// skip reasons, used as metric labels
const (
	reasonStale     = "stale"
	reasonUntrusted = "untrusted"
	reasonNoBalance = "no_balance"
	reasonNoHistory = "no_history"
	reasonDust      = "dust"
	reasonInvalid   = "invalid"
)

type accountFeed interface {
	BalanceFull(ctx context.Context, address string) (entity.BalanceSnapshot, error)
	NativeBalance(ctx context.Context, address string) (decimal.Decimal, error)
	SpendableBalance(ctx context.Context, address string, asset entity.Asset) (decimal.Decimal, error)
	SubscribeEffects(ctx context.Context, address, cursor string) (entity.EffectSubscription, error)
}

type offerTrader interface {
	CreateOffer(ctx context.Context, order entity.OrderSpec) (entity.OfferResult, error)
	DeleteAllOffers(ctx context.Context) error
}

type priorBalanceResolver interface {
	ResolvePriorBalance(ctx context.Context, effectID string) (entity.BalanceSnapshot, error)
}

type orderJournal interface {
	Prepare(effectID string, action entity.Action, order entity.OrderSpec, at time.Time) (*entity.OrderIntent, error)
	MarkDone(intent *entity.OrderIntent, txHash string) error
	MarkFailed(intent *entity.OrderIntent, cause error) error
}

type cursorStore interface {
	Load() (string, error)
	Save(cursor string) error
}

type recorder interface {
	EffectReceived()
	EffectSkipped(reason string)
	OrderSubmitted(action entity.Action)
	OrderFailed()
	CleanupFinished(err error)
}

type nopRecorder struct{}

func (nopRecorder) EffectReceived()              {}
func (nopRecorder) EffectSkipped(string)         {}
func (nopRecorder) OrderSubmitted(entity.Action) {}
func (nopRecorder) OrderFailed()                 {}
func (nopRecorder) CleanupFinished(error)        {}

// State engine processing phase.
type State int32

const (
	StateIdle State = iota
	StateSizing
	StateSubmitting
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateSizing:
		return "sizing"
	case StateSubmitting:
		return "submitting"
	default:
		return "idle"
	}
}

// Config pair and policies the engine mirrors with.
type Config struct {
	Source string
	Target string
	Buy    sizing.Policy
	Sell   sizing.Policy
	// CleanupDelay defaults to DefaultCleanupDelay.
	CleanupDelay time.Duration
	// StaleAfter effects older than this are ignored, zero disables the check.
	StaleAfter time.Duration
}

// Option configures optional engine collaborators.
type Option func(*Engine)

// WithJournal records every submission in j.
func WithJournal(j orderJournal) Option {
	return func(e *Engine) {
		e.journal = j
	}
}

// WithCursorStore resumes the stream from, and persists progress to, c.
func WithCursorStore(c cursorStore) Option {
	return func(e *Engine) {
		e.cursors = c
	}
}

// WithRecorder reports pipeline counters to r.
func WithRecorder(r recorder) Option {
	return func(e *Engine) {
		e.recorder = r
	}
}

// WithClock overrides the time source used for the stale check and journal.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithResubscribeDelay overrides DefaultResubscribeDelay.
func WithResubscribeDelay(d time.Duration) Option {
	return func(e *Engine) {
		e.resubscribeDelay = d
	}
}

// Engine mirrors one target account onto one source account.
type Engine struct {
	conf             Config
	feed             accountFeed
	trader           offerTrader
	resolver         priorBalanceResolver
	journal          orderJournal
	cursors          cursorStore
	recorder         recorder
	cleanup          *cleanupScheduler
	resubscribeDelay time.Duration
	now              func() time.Time
	l                *zap.Logger

	state atomic.Int32

	mu        sync.Mutex
	lastToken string
}

// NewEngine validates conf and wires the engine.
func NewEngine(l *zap.Logger, conf Config, feed accountFeed, trader offerTrader, resolver priorBalanceResolver, opts ...Option) (*Engine, error) {
	if conf.Source == "" || conf.Target == "" {
		return nil, errors.New("source and target addresses are required")
	}
	if conf.Source == conf.Target {
		return nil, errors.New("source and target must be different accounts")
	}
	if feed == nil || trader == nil || resolver == nil {
		return nil, errors.New("feed, trader and resolver are required")
	}
	if conf.CleanupDelay <= 0 {
		conf.CleanupDelay = DefaultCleanupDelay
	}
	if l == nil {
		l = zap.NewNop()
	}

	e := &Engine{
		conf:             conf,
		feed:             feed,
		trader:           trader,
		resolver:         resolver,
		recorder:         nopRecorder{},
		resubscribeDelay: DefaultResubscribeDelay,
		now:              time.Now,
		l:                l.With(zap.String("source", conf.Source), zap.String("target", conf.Target)),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.cleanup = newCleanupScheduler(e.l, conf.CleanupDelay, trader.DeleteAllOffers, e.recorder.CleanupFinished)

	return e, nil
}

// State returns the current processing phase.
func (e *Engine) State() State {
	return State(e.state.Load())
}

func (e *Engine) setState(s State) {
	e.state.Store(int32(s))
}

// Run streams the target's effects and handles them one at a time until ctx
// is cancelled. Per-effect failures are logged and never stop the stream.
// When the stream ends on its own, Run subscribes again after the last
// processed effect.
func (e *Engine) Run(ctx context.Context) error {
	cursor, err := e.resumeCursor()
	if err != nil {
		return err
	}

	e.l.Info("mirroring started", zap.String("cursor", cursor))

	for {
		sub, err := e.feed.SubscribeEffects(ctx, e.conf.Target, cursor)
		if err != nil {
			return errors.Wrap(err, "subscribe to target effects")
		}

		e.consume(ctx, sub)
		if err := sub.Close(); err != nil {
			e.l.Warn("failed to close effect subscription", zap.Error(err))
		}
		if ctx.Err() != nil {
			e.l.Info("context done, stopping mirror loop")
			return ctx.Err()
		}

		cursor = e.streamCursor()
		e.l.Warn("effect stream closed, resubscribing",
			zap.String("cursor", cursor), zap.Duration("delay", e.resubscribeDelay))

		timer := time.NewTimer(e.resubscribeDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			e.l.Info("context done, stopping mirror loop")
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// consume handles effects until the subscription closes or ctx is done.
func (e *Engine) consume(ctx context.Context, sub entity.EffectSubscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case effect, ok := <-sub.Effects():
			if !ok {
				return
			}
			e.dispatch(ctx, effect)
		}
	}
}

func (e *Engine) dispatch(ctx context.Context, effect entity.Effect) {
	event, err := e.HandleEffect(ctx, effect)
	switch {
	case err == nil && event != nil:
		e.l.Info("order mirrored", zap.String("event", event.String()), zap.String("tx", event.TxHash))
	case err == nil:
		e.l.Debug("effect ignored", zap.String("effect", effect.String()))
	case errors.Is(err, ErrDuplicate):
		e.l.Debug("duplicate effect", zap.String("effect_id", effect.ID))
	case errors.Is(err, ErrSkipped), errors.Is(err, entity.ErrInvalidEffect):
		e.l.Warn("effect skipped", zap.String("effect_id", effect.ID), zap.Error(err))
	default:
		e.l.Error("failed to mirror effect", zap.String("effect_id", effect.ID), zap.Error(err))
	}
}

// Close cancels a pending cleanup and waits for a running one.
func (e *Engine) Close() {
	e.cleanup.Close()
}

// HandleEffect mirrors a single target effect. It returns the submitted order,
// nil for effects that need no order, or an error describing why nothing was
// submitted.
func (e *Engine) HandleEffect(ctx context.Context, effect entity.Effect) (*entity.MirrorEvent, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.lastToken != "" && effect.PagingToken != "" && entity.ComparePagingTokens(effect.PagingToken, e.lastToken) <= 0 {
		return nil, errors.Wrapf(ErrDuplicate, "effect %s at %s", effect.ID, effect.PagingToken)
	}
	defer e.advanceCursor(effect.PagingToken)

	e.recorder.EffectReceived()

	if e.conf.StaleAfter > 0 && !effect.ClosedAt.IsZero() {
		if age := e.now().Sub(effect.ClosedAt); age > e.conf.StaleAfter {
			return nil, e.skipf(reasonStale, "effect %s is %s old", effect.ID, age.Round(time.Second))
		}
	}

	action, err := entity.Classify(effect)
	if err != nil {
		e.recorder.EffectSkipped(reasonInvalid)
		return nil, err
	}

	switch action {
	case entity.ActionOpenPosition:
		return e.openPosition(ctx, effect)
	case entity.ActionClosePosition:
		return e.closePosition(ctx, effect)
	default:
		return nil, nil
	}
}

func (e *Engine) openPosition(ctx context.Context, effect entity.Effect) (*entity.MirrorEvent, error) {
	e.setState(StateSizing)
	defer e.setState(StateIdle)

	balances, err := e.feed.BalanceFull(ctx, e.conf.Source)
	if err != nil {
		return nil, errors.Wrap(err, "get source balances")
	}
	if _, trusted := balances.Get(effect.BoughtAsset); !trusted {
		return nil, e.skipf(reasonUntrusted, "source does not trust %s", effect.BoughtAsset)
	}

	available, err := e.feed.NativeBalance(ctx, e.conf.Source)
	if err != nil {
		return nil, errors.Wrap(err, "get source native balance")
	}
	if !available.IsPositive() {
		return nil, e.skipf(reasonNoBalance, "source has no spendable native balance")
	}

	prior, err := e.priorBalance(ctx, e.conf.Buy, effect)
	if err != nil {
		return nil, err
	}

	order, err := e.conf.Buy.SizeOpen(effect, available, prior)
	if err != nil {
		return nil, e.sizingError(err)
	}

	return e.submit(ctx, effect, entity.ActionOpenPosition, order)
}

func (e *Engine) closePosition(ctx context.Context, effect entity.Effect) (*entity.MirrorEvent, error) {
	e.setState(StateSizing)
	defer e.setState(StateIdle)

	balances, err := e.feed.BalanceFull(ctx, e.conf.Source)
	if err != nil {
		return nil, errors.Wrap(err, "get source balances")
	}
	if _, trusted := balances.Get(effect.SoldAsset); !trusted {
		return nil, e.skipf(reasonUntrusted, "source does not trust %s", effect.SoldAsset)
	}

	// amounts already offered by a resting mirrored offer are not available again
	available, err := e.feed.SpendableBalance(ctx, e.conf.Source, effect.SoldAsset)
	if err != nil {
		return nil, errors.Wrapf(err, "get source %s balance", effect.SoldAsset)
	}
	if !available.IsPositive() {
		return nil, e.skipf(reasonNoBalance, "source has no spendable %s", effect.SoldAsset)
	}

	prior, err := e.priorBalance(ctx, e.conf.Sell, effect)
	if err != nil {
		return nil, err
	}

	order, err := e.conf.Sell.SizeClose(effect, available, prior)
	if err != nil {
		return nil, e.sizingError(err)
	}

	return e.submit(ctx, effect, entity.ActionClosePosition, order)
}

// priorBalance returns nil when the policy does not size from history.
func (e *Engine) priorBalance(ctx context.Context, policy sizing.Policy, effect entity.Effect) (*entity.BalanceSnapshot, error) {
	if !policy.NeedsHistory() {
		return nil, nil
	}

	prior, err := e.resolver.ResolvePriorBalance(ctx, effect.ID)
	if err != nil {
		return nil, e.skipf(reasonNoHistory, "resolve target balance before %s: %v", effect.ID, err)
	}
	return &prior, nil
}

func (e *Engine) sizingError(err error) error {
	switch {
	case errors.Is(err, sizing.ErrNoPriorBalance):
		return e.skipf(reasonNoHistory, "%v", err)
	case errors.Is(err, sizing.ErrDust):
		return e.skipf(reasonDust, "%v", err)
	case errors.Is(err, entity.ErrInvalidEffect):
		e.recorder.EffectSkipped(reasonInvalid)
		return err
	default:
		return errors.Wrap(err, "size order")
	}
}

func (e *Engine) submit(ctx context.Context, effect entity.Effect, action entity.Action, order entity.OrderSpec) (*entity.MirrorEvent, error) {
	e.setState(StateSubmitting)

	now := e.now()
	var intent *entity.OrderIntent
	if e.journal != nil {
		var err error
		if intent, err = e.journal.Prepare(effect.ID, action, order, now); err != nil {
			return nil, errors.Wrap(err, "journal order intent")
		}
	}

	e.l.Info("submitting offer", zap.String("effect_id", effect.ID), zap.String("action", action.String()),
		zap.String("selling", order.Selling.String()), zap.String("buying", order.Buying.String()),
		zap.String("amount", order.AmountString()), zap.String("price", order.PriceString()))

	result, err := e.trader.CreateOffer(ctx, order)
	if err != nil {
		e.recorder.OrderFailed()
		if e.journal != nil {
			if jerr := e.journal.MarkFailed(intent, err); jerr != nil {
				e.l.Error("failed to journal failed intent", zap.Error(jerr))
			}
		}
		return nil, errors.Wrapf(err, "submit offer for effect %s", effect.ID)
	}

	if e.journal != nil {
		if jerr := e.journal.MarkDone(intent, result.TxHash); jerr != nil {
			e.l.Error("failed to journal done intent", zap.Error(jerr))
		}
	}

	e.recorder.OrderSubmitted(action)
	e.cleanup.Arm()

	return &entity.MirrorEvent{
		EffectID: effect.ID,
		Action:   action,
		Order:    order,
		TxHash:   result.TxHash,
		Time:     now,
	}, nil
}

func (e *Engine) skipf(reason, format string, args ...any) error {
	e.recorder.EffectSkipped(reason)
	return errors.Wrapf(ErrSkipped, format, args...)
}

func (e *Engine) resumeCursor() (string, error) {
	if e.cursors == nil {
		return streamFromNow, nil
	}

	cursor, err := e.cursors.Load()
	if err != nil {
		return "", errors.Wrap(err, "load stream cursor")
	}
	if cursor == "" {
		return streamFromNow, nil
	}

	e.mu.Lock()
	e.lastToken = cursor
	e.mu.Unlock()

	return cursor, nil
}

// streamCursor where a new subscription should start.
func (e *Engine) streamCursor() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.lastToken == "" {
		return streamFromNow
	}
	return e.lastToken
}

// advanceCursor must be called with e.mu held.
func (e *Engine) advanceCursor(token string) {
	if token == "" {
		return
	}
	e.lastToken = token
	if e.cursors == nil {
		return
	}
	if err := e.cursors.Save(token); err != nil {
		e.l.Warn("failed to persist stream cursor", zap.String("cursor", token), zap.Error(err))
	}
}
