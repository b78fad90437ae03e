package resolver

import (
	"context"
	"fmt"
	"testing"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	entity "github.com/dandalion98/mirrorbot/internal/domain"
)

const (
	targetAddress = "GBTARGETXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXX"
	issuer        = "GDUKMGUGDZQK6YHYA5Z6AY2G4XDSZPSZ3SW5UN3ARVMO6QSRDWP5YLEX"
)

var usd = entity.CreditAsset("USD", issuer)

type feedMock struct {
	mock.Mock
}

func (m *feedMock) ListEffects(ctx context.Context, address, afterCursor string) ([]entity.Effect, error) {
	args := m.Called(ctx, address, afterCursor)
	effects, _ := args.Get(0).([]entity.Effect)
	return effects, args.Error(1)
}

func (m *feedMock) BalanceFull(ctx context.Context, address string) (entity.BalanceSnapshot, error) {
	args := m.Called(ctx, address)
	return args.Get(0).(entity.BalanceSnapshot), args.Error(1)
}

func token(n int) string {
	return fmt.Sprintf("%d-1", n)
}

func sellUSD(n int, amount string, native string) entity.Effect {
	return entity.Effect{
		ID:           fmt.Sprintf("effect-%d", n),
		PagingToken:  token(n),
		Kind:         entity.EffectTrade,
		SoldAsset:    usd,
		SoldAmount:   decimal.RequireFromString(amount),
		BoughtAsset:  entity.NativeAsset(),
		BoughtAmount: decimal.RequireFromString(native),
	}
}

func creditUSD(n int, amount string) entity.Effect {
	return entity.Effect{
		ID:          fmt.Sprintf("effect-%d", n),
		PagingToken: token(n),
		Kind:        entity.EffectCredited,
		Asset:       usd,
		Amount:      decimal.RequireFromString(amount),
	}
}

func snapshot(native, usdAmount string) entity.BalanceSnapshot {
	return entity.NewBalanceSnapshot(map[entity.Asset]decimal.Decimal{
		entity.NativeAsset(): decimal.RequireFromString(native),
		usd:                  decimal.RequireFromString(usdAmount),
	})
}

func newTestResolver(t *testing.T, feed *feedMock) *Resolver {
	r, err := NewResolver(zap.NewNop(), targetAddress, feed)
	require.NoError(t, err)
	return r
}

func TestResolvePriorBalance_OnlyEffectIsOldest(t *testing.T) {
	feed := &feedMock{}
	e1 := sellUSD(1, "10", "20")
	feed.On("ListEffects", mock.Anything, targetAddress, "").Return([]entity.Effect{e1}, nil).Once()
	feed.On("BalanceFull", mock.Anything, targetAddress).Return(snapshot("20", "0"), nil).Once()
	feed.On("ListEffects", mock.Anything, targetAddress, token(1)).Return(nil, nil).Once()

	r := newTestResolver(t, feed)
	_, err := r.ResolvePriorBalance(context.Background(), e1.ID)
	require.True(t, errors.Is(err, ErrNotFound))
	feed.AssertExpectations(t)
}

func TestResolvePriorBalance_ReconstructsPreTradeBalance(t *testing.T) {
	feed := &feedMock{}
	// newest first: sold 100 USD, before that credited 400 USD, before that sold 50
	effects := []entity.Effect{
		sellUSD(3, "100", "250"),
		creditUSD(2, "400"),
		sellUSD(1, "50", "100"),
	}
	feed.On("ListEffects", mock.Anything, targetAddress, "").Return(effects, nil).Once()
	feed.On("BalanceFull", mock.Anything, targetAddress).Return(snapshot("1000", "900"), nil).Once()
	feed.On("ListEffects", mock.Anything, targetAddress, token(3)).Return(nil, nil).Once()

	r := newTestResolver(t, feed)
	prior, err := r.ResolvePriorBalance(context.Background(), "effect-3")
	require.NoError(t, err)

	gotUSD, ok := prior.Get(usd)
	require.True(t, ok)
	require.Equal(t, "1000", gotUSD.String())
	gotNative, _ := prior.Get(entity.NativeAsset())
	require.Equal(t, "750", gotNative.String())

	// before the credit
	prior, err = r.ResolvePriorBalance(context.Background(), "effect-2")
	require.NoError(t, err)
	gotUSD, _ = prior.Get(usd)
	require.Equal(t, "600", gotUSD.String())

	feed.AssertExpectations(t)
}

func TestResolvePriorBalance_CacheHitIsDeterministic(t *testing.T) {
	feed := &feedMock{}
	effects := []entity.Effect{sellUSD(2, "10", "30"), creditUSD(1, "100")}
	feed.On("ListEffects", mock.Anything, targetAddress, "").Return(effects, nil).Once()
	feed.On("BalanceFull", mock.Anything, targetAddress).Return(snapshot("30", "90"), nil).Once()
	feed.On("ListEffects", mock.Anything, targetAddress, token(2)).Return(nil, nil).Once()

	r := newTestResolver(t, feed)
	first, err := r.ResolvePriorBalance(context.Background(), "effect-2")
	require.NoError(t, err)
	second, err := r.ResolvePriorBalance(context.Background(), "effect-2")
	require.NoError(t, err)

	require.True(t, first.Equal(second))
	feed.AssertNumberOfCalls(t, "BalanceFull", 1)

	// callers cannot corrupt the cache through the returned snapshot
	first.Add(usd, decimal.NewFromInt(1))
	third, err := r.ResolvePriorBalance(context.Background(), "effect-2")
	require.NoError(t, err)
	require.True(t, second.Equal(third))
}

func TestResolvePriorBalance_RefreshPrependsNewerEffects(t *testing.T) {
	feed := &feedMock{}
	feed.On("ListEffects", mock.Anything, targetAddress, "").Return([]entity.Effect{creditUSD(1, "100")}, nil).Once()
	feed.On("BalanceFull", mock.Anything, targetAddress).Return(snapshot("0", "100"), nil).Once()
	feed.On("ListEffects", mock.Anything, targetAddress, token(1)).Return(nil, nil).Once()

	r := newTestResolver(t, feed)
	_, err := r.ResolvePriorBalance(context.Background(), "effect-1")
	require.True(t, errors.Is(err, ErrNotFound))

	// a new trade shows up on the stream
	trade := sellUSD(5, "25", "50")
	feed.On("ListEffects", mock.Anything, targetAddress, token(1)).Return([]entity.Effect{trade}, nil).Once()
	feed.On("BalanceFull", mock.Anything, targetAddress).Return(snapshot("50", "75"), nil).Once()
	feed.On("ListEffects", mock.Anything, targetAddress, token(5)).Return(nil, nil).Once()

	prior, err := r.ResolvePriorBalance(context.Background(), trade.ID)
	require.NoError(t, err)
	gotUSD, _ := prior.Get(usd)
	require.Equal(t, "100", gotUSD.String())

	history := r.History()
	require.Len(t, history, 2)
	require.Equal(t, trade.ID, history[0].ID)
	feed.AssertExpectations(t)
}

func TestResolvePriorBalance_LateEffectsAreAnnotated(t *testing.T) {
	feed := &feedMock{}
	trade := sellUSD(2, "10", "20")
	late := creditUSD(3, "5")
	feed.On("ListEffects", mock.Anything, targetAddress, "").Return([]entity.Effect{trade, creditUSD(1, "100")}, nil).Once()
	// first balance already includes the late credit
	feed.On("BalanceFull", mock.Anything, targetAddress).Return(snapshot("20", "95"), nil).Once()
	feed.On("ListEffects", mock.Anything, targetAddress, token(2)).Return([]entity.Effect{late}, nil).Once()
	feed.On("BalanceFull", mock.Anything, targetAddress).Return(snapshot("20", "95"), nil).Once()
	feed.On("ListEffects", mock.Anything, targetAddress, token(3)).Return(nil, nil).Once()

	r := newTestResolver(t, feed)
	prior, err := r.ResolvePriorBalance(context.Background(), trade.ID)
	require.NoError(t, err)
	gotUSD, _ := prior.Get(usd)
	require.Equal(t, "100", gotUSD.String())
	feed.AssertExpectations(t)
}

func TestResolvePriorBalance_NotFoundAfterRefresh(t *testing.T) {
	feed := &feedMock{}
	feed.On("ListEffects", mock.Anything, targetAddress, "").Return([]entity.Effect{creditUSD(1, "100")}, nil).Once()
	feed.On("BalanceFull", mock.Anything, targetAddress).Return(snapshot("0", "100"), nil).Once()
	feed.On("ListEffects", mock.Anything, targetAddress, token(1)).Return(nil, nil)

	r := newTestResolver(t, feed)
	_, err := r.ResolvePriorBalance(context.Background(), "effect-unknown")
	require.True(t, errors.Is(err, ErrNotFound))
}

func TestResolvePriorBalance_ScanStopsAtLimit(t *testing.T) {
	feed := &feedMock{}
	effects := make([]entity.Effect, 0, 60)
	for n := 60; n >= 1; n-- {
		effects = append(effects, creditUSD(n, "1"))
	}
	feed.On("ListEffects", mock.Anything, targetAddress, "").Return(effects, nil).Once()
	feed.On("BalanceFull", mock.Anything, targetAddress).Return(snapshot("0", "60"), nil).Once()
	feed.On("ListEffects", mock.Anything, targetAddress, token(60)).Return(nil, nil)

	r := newTestResolver(t, feed)

	// index 5 is within the window
	_, err := r.ResolvePriorBalance(context.Background(), "effect-55")
	require.NoError(t, err)

	// index 55 is cached but outside the scan window
	_, err = r.ResolvePriorBalance(context.Background(), "effect-5")
	require.True(t, errors.Is(err, ErrNotFound))
}

func TestResolvePriorBalance_FeedError(t *testing.T) {
	feed := &feedMock{}
	feed.On("ListEffects", mock.Anything, targetAddress, "").Return(nil, errors.New("horizon unavailable")).Once()

	r := newTestResolver(t, feed)
	_, err := r.ResolvePriorBalance(context.Background(), "effect-1")
	require.Error(t, err)
	require.False(t, errors.Is(err, ErrNotFound))
	require.Empty(t, r.History())
}

func TestAnnotate_EachEffectOwnsItsSnapshot(t *testing.T) {
	effects := []entity.Effect{sellUSD(2, "10", "20"), sellUSD(1, "5", "10")}
	annotated := Annotate(effects, snapshot("30", "0"))
	require.Len(t, annotated, 2)

	newest, _ := annotated[0].EndBalance.Get(usd)
	older, _ := annotated[1].EndBalance.Get(usd)
	require.Equal(t, "0", newest.String())
	require.Equal(t, "10", older.String())

	annotated[0].EndBalance.Add(usd, decimal.NewFromInt(1))
	older, _ = annotated[1].EndBalance.Get(usd)
	require.Equal(t, "10", older.String())

	require.Nil(t, Annotate(nil, snapshot("1", "1")))
}

func TestResolvePriorBalance_FailsWhileEffectsKeepArriving(t *testing.T) {
	feed := &feedMock{}
	feed.On("ListEffects", mock.Anything, targetAddress, "").Return([]entity.Effect{sellUSD(2, "10", "20"), creditUSD(1, "100")}, nil).Once()
	feed.On("BalanceFull", mock.Anything, targetAddress).Return(snapshot("20", "90"), nil)
	for n := 2; n < 2+maxRefreshAttempts; n++ {
		feed.On("ListEffects", mock.Anything, targetAddress, token(n)).Return([]entity.Effect{creditUSD(n+1, "1")}, nil).Once()
	}

	r := newTestResolver(t, feed)
	_, err := r.ResolvePriorBalance(context.Background(), "effect-2")
	require.Error(t, err)
	require.False(t, errors.Is(err, ErrNotFound))
	require.Empty(t, r.History(), "nothing is cached from an unsettled refresh")

	feed.AssertNumberOfCalls(t, "BalanceFull", 1+maxRefreshAttempts)
	feed.AssertExpectations(t)
}
