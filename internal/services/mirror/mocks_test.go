package mirror

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"

	entity "github.com/dandalion98/mirrorbot/internal/domain"
)

type feedMock struct {
	mock.Mock
}

func (m *feedMock) BalanceFull(ctx context.Context, address string) (entity.BalanceSnapshot, error) {
	args := m.Called(ctx, address)
	return args.Get(0).(entity.BalanceSnapshot), args.Error(1)
}

func (m *feedMock) NativeBalance(ctx context.Context, address string) (decimal.Decimal, error) {
	args := m.Called(ctx, address)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

func (m *feedMock) SpendableBalance(ctx context.Context, address string, asset entity.Asset) (decimal.Decimal, error) {
	args := m.Called(ctx, address, asset)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

func (m *feedMock) SubscribeEffects(ctx context.Context, address, cursor string) (entity.EffectSubscription, error) {
	args := m.Called(ctx, address, cursor)
	sub, _ := args.Get(0).(entity.EffectSubscription)
	return sub, args.Error(1)
}

type traderMock struct {
	mock.Mock
}

func (m *traderMock) CreateOffer(ctx context.Context, order entity.OrderSpec) (entity.OfferResult, error) {
	args := m.Called(ctx, order)
	return args.Get(0).(entity.OfferResult), args.Error(1)
}

func (m *traderMock) DeleteAllOffers(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

type resolverMock struct {
	mock.Mock
}

func (m *resolverMock) ResolvePriorBalance(ctx context.Context, effectID string) (entity.BalanceSnapshot, error) {
	args := m.Called(ctx, effectID)
	return args.Get(0).(entity.BalanceSnapshot), args.Error(1)
}

type memoryJournal struct {
	intents []*entity.OrderIntent
}

func (j *memoryJournal) Prepare(effectID string, action entity.Action, order entity.OrderSpec, at time.Time) (*entity.OrderIntent, error) {
	intent := &entity.OrderIntent{
		ID:       effectID,
		Status:   entity.OrderIntentPending,
		EffectID: effectID,
		Action:   action.String(),
		Price:    order.Price,
		Amount:   order.Amount,
		Time:     at,
	}
	j.intents = append(j.intents, intent)
	return intent, nil
}

func (j *memoryJournal) MarkDone(intent *entity.OrderIntent, txHash string) error {
	intent.Status = entity.OrderIntentDone
	intent.TxHash = txHash
	return nil
}

func (j *memoryJournal) MarkFailed(intent *entity.OrderIntent, cause error) error {
	intent.Status = entity.OrderIntentFailed
	intent.Error = cause.Error()
	return nil
}

type memoryCursor struct {
	mu     sync.Mutex
	cursor string
}

func (c *memoryCursor) Load() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cursor, nil
}

func (c *memoryCursor) Save(cursor string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cursor = cursor
	return nil
}

type fakeTimer struct {
	delay   time.Duration
	fire    func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	wasActive := !t.stopped
	t.stopped = true
	return wasActive
}

// manualTimers records scheduled callbacks; tests fire them explicitly.
type manualTimers struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (m *manualTimers) afterFunc(d time.Duration, f func()) stopper {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := &fakeTimer{delay: d, fire: f}
	m.timers = append(m.timers, t)
	return t
}

func (m *manualTimers) all() []*fakeTimer {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*fakeTimer, len(m.timers))
	copy(out, m.timers)
	return out
}

type chanSubscription struct {
	ch     chan entity.Effect
	closed bool
	mu     sync.Mutex
}

func newChanSubscription() *chanSubscription {
	return &chanSubscription{ch: make(chan entity.Effect)}
}

func (s *chanSubscription) Effects() <-chan entity.Effect {
	return s.ch
}

func (s *chanSubscription) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *chanSubscription) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
