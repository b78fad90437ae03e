package internal

import (
	"context"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/stellar/go/clients/horizonclient"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dandalion98/mirrorbot/config"
	"github.com/dandalion98/mirrorbot/internal/clients"
	entity "github.com/dandalion98/mirrorbot/internal/domain"
	"github.com/dandalion98/mirrorbot/internal/metrics"
	"github.com/dandalion98/mirrorbot/internal/services/feed"
	"github.com/dandalion98/mirrorbot/internal/services/mirror"
	"github.com/dandalion98/mirrorbot/internal/services/resolver"
	"github.com/dandalion98/mirrorbot/internal/services/trader"
	"github.com/dandalion98/mirrorbot/internal/storage/cursor"
	"github.com/dandalion98/mirrorbot/internal/storage/orders"
	"github.com/dandalion98/mirrorbot/internal/web"
)

// MirrorBot wires one source/target pair: Horizon feed, resolver, trader,
// journals, metrics, mirror engine and the status server.
type MirrorBot struct {
	Config  config.Config
	Engine  *mirror.Engine
	Metrics *metrics.Mirror

	web     *web.Server
	orders  *orders.WALStore
	cursors *cursor.WALStore
	l       *zap.Logger
}

// NewMirrorBot creates a bot talking to the configured Horizon server.
func NewMirrorBot(l *zap.Logger, conf config.Config) (*MirrorBot, error) {
	return newMirrorBot(l, conf, clients.NewHorizonClient(conf.HorizonURL, conf.RateLimit))
}

func newMirrorBot(l *zap.Logger, conf config.Config, api horizonclient.ClientInterface) (bot *MirrorBot, err error) {
	if l == nil {
		l = zap.NewNop()
	}
	l = l.With(zap.String("target", conf.Target))

	horizonFeed, err := feed.NewHorizon(l.Named("feed"), api)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create horizon feed")
	}

	res, err := resolver.NewResolver(l.Named("resolver"), conf.Target, horizonFeed)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create resolver")
	}

	offerTrader, err := newTrader(l.Named("trader"), conf, api)
	if err != nil {
		return nil, err
	}

	orderStore, err := orders.NewWALStore(filepath.Join(conf.WALDir, "orders"))
	if err != nil {
		return nil, errors.Wrap(err, "failed to open order journal")
	}
	defer func() {
		if err != nil {
			_ = orderStore.Close()
		}
	}()

	cursorStore, err := cursor.NewWALStore(filepath.Join(conf.WALDir, "cursor"), conf.Target)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open cursor store")
	}
	defer func() {
		if err != nil {
			_ = cursorStore.Close()
		}
	}()

	recorder := metrics.NewMirror()

	engine, err := mirror.NewEngine(l.Named("mirror"), mirror.Config{
		Source:       conf.SourceAddress,
		Target:       conf.Target,
		Buy:          conf.Buy,
		Sell:         conf.Sell,
		CleanupDelay: conf.CleanupDelay,
		StaleAfter:   conf.StaleAfter,
	}, horizonFeed, offerTrader, res,
		mirror.WithJournal(orderStore),
		mirror.WithCursorStore(cursorStore),
		mirror.WithRecorder(recorder),
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create mirror engine")
	}

	status := web.Status{
		Source:  conf.SourceAddress,
		Target:  conf.Target,
		Network: conf.Network,
		DryRun:  conf.DryRun,
	}

	return &MirrorBot{
		Config:  conf,
		Engine:  engine,
		Metrics: recorder,
		web:     web.NewServer(l.Named("web"), conf.WebAddr, status, orderStore, engine, recorder.Handler()),
		orders:  orderStore,
		cursors: cursorStore,
		l:       l,
	}, nil
}

type offerTrader interface {
	CreateOffer(ctx context.Context, order entity.OrderSpec) (entity.OfferResult, error)
	DeleteAllOffers(ctx context.Context) error
}

func newTrader(l *zap.Logger, conf config.Config, api horizonclient.ClientInterface) (offerTrader, error) {
	if conf.DryRun {
		l.Info("dry run: offers are logged, not submitted")
		return trader.NewSimulateTrader(l), nil
	}

	t, err := trader.NewStellarTrader(l, api, conf.SourceSeed, conf.Passphrase)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create stellar trader")
	}
	if t.Address() != conf.SourceAddress {
		return nil, errors.Errorf("source seed belongs to %s, not %s", t.Address(), conf.SourceAddress)
	}
	return t, nil
}

// Run mirrors until ctx is cancelled. The status server runs alongside the
// engine and both stop when either fails.
func (b *MirrorBot) Run(ctx context.Context) error {
	for _, intent := range b.orders.Pending() {
		b.l.Warn("order left pending by a previous run, check the source account",
			zap.String("intent", intent.ID),
			zap.String("effect_id", intent.EffectID),
			zap.String("action", intent.Action),
			zap.String("amount", intent.Amount.String()),
			zap.String("price", intent.Price.String()))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return b.Engine.Run(gctx)
	})
	if b.Config.WebAddr != "" {
		g.Go(func() error {
			return b.web.Start(gctx)
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return nil
	}
	return err
}

// Close stops the pending cleanup and closes the journals.
func (b *MirrorBot) Close() error {
	b.Engine.Close()

	ordersErr := b.orders.Close()
	if err := b.cursors.Close(); err != nil {
		return errors.Wrap(err, "close cursor store")
	}
	return errors.Wrap(ordersErr, "close order journal")
}
