// Package orders journals mirrored offer submissions in a WAL.
package orders

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/vadiminshakov/gowal"

	entity "github.com/dandalion98/mirrorbot/internal/domain"
)

const (
	defaultOrdersDir  = "./wal/orders"
	orderSegmentLimit = 1000
	orderMaxSegments  = 100
	intentKeyPrefix   = "order_intent_"
)

// WALStore records every submission as a pending intent before it is sent and
// settles it as done or failed afterwards. Each state change is a new WAL entry.
type WALStore struct {
	wal *gowal.Wal
	mu  sync.RWMutex

	// latest state per intent id, rebuilt from the WAL on open
	intents map[string]*entity.OrderIntent
}

// NewWALStore opens or creates the journal under dir.
func NewWALStore(dir string) (*WALStore, error) {
	if dir == "" {
		dir = defaultOrdersDir
	}

	cfg := gowal.Config{
		Dir:              dir,
		Prefix:           "orders_",
		SegmentThreshold: orderSegmentLimit,
		MaxSegments:      orderMaxSegments,
		IsInSyncDiskMode: true,
	}

	wal, err := gowal.NewWAL(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "init order journal WAL")
	}

	s := &WALStore{wal: wal, intents: make(map[string]*entity.OrderIntent)}
	for msg := range wal.Iterator() {
		if !strings.HasPrefix(msg.Key, intentKeyPrefix) {
			continue
		}
		var intent entity.OrderIntent
		if err := json.Unmarshal(msg.Value, &intent); err != nil {
			return nil, errors.Wrapf(err, "decode order intent %s", msg.Key)
		}
		s.intents[intent.ID] = &intent
	}

	return s, nil
}

// Prepare journals a pending intent for order before it is submitted.
func (s *WALStore) Prepare(effectID string, action entity.Action, order entity.OrderSpec, at time.Time) (*entity.OrderIntent, error) {
	if s == nil || s.wal == nil {
		return nil, errors.New("order journal is not initialized")
	}

	intent := &entity.OrderIntent{
		ID:       uuid.New().String(),
		Status:   entity.OrderIntentPending,
		EffectID: effectID,
		Action:   action.String(),
		Selling:  order.Selling.String(),
		Buying:   order.Buying.String(),
		Price:    order.Price,
		Amount:   order.Amount,
		Time:     at,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.persist(intent); err != nil {
		return nil, err
	}
	s.intents[intent.ID] = intent

	return intent, nil
}

// MarkDone settles intent as submitted.
func (s *WALStore) MarkDone(intent *entity.OrderIntent, txHash string) error {
	if intent == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	intent.Status = entity.OrderIntentDone
	intent.TxHash = txHash
	intent.Error = ""
	return s.persist(intent)
}

// MarkFailed settles intent as rejected or unsent.
func (s *WALStore) MarkFailed(intent *entity.OrderIntent, cause error) error {
	if intent == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	intent.Status = entity.OrderIntentFailed
	if cause != nil {
		intent.Error = cause.Error()
	} else {
		intent.Error = ""
	}
	return s.persist(intent)
}

// Pending returns intents that were never settled, oldest first. These are
// submissions interrupted by a crash whose outcome is unknown.
func (s *WALStore) Pending() []entity.OrderIntent {
	if s == nil {
		return nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []entity.OrderIntent
	for _, intent := range s.intents {
		if intent.Status == entity.OrderIntentPending {
			out = append(out, *intent)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out
}

// RecordsAfter returns all intent entries written after the provided WAL index.
func (s *WALStore) RecordsAfter(index uint64) ([]entity.OrderIntentRecord, error) {
	if s == nil || s.wal == nil {
		return nil, errors.New("order journal is not initialized")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	current := s.wal.CurrentIndex()
	if current <= index {
		return nil, nil
	}

	records := make([]entity.OrderIntentRecord, 0, current-index)
	for idx := index + 1; idx <= current; idx++ {
		key, payload, ok := s.wal.Get(idx)
		if !ok || !strings.HasPrefix(key, intentKeyPrefix) {
			continue
		}
		var intent entity.OrderIntent
		if err := json.Unmarshal(payload, &intent); err != nil {
			return nil, errors.Wrap(err, "decode order intent")
		}
		records = append(records, entity.OrderIntentRecord{Index: idx, Intent: intent})
	}

	return records, nil
}

// CurrentIndex returns the latest WAL index stored.
func (s *WALStore) CurrentIndex() uint64 {
	if s == nil || s.wal == nil {
		return 0
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.wal.CurrentIndex()
}

// Close closes the underlying WAL.
func (s *WALStore) Close() error {
	if s == nil || s.wal == nil {
		return errors.New("order journal is not initialized")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.wal.Close()
}

// persist must be called with s.mu held.
func (s *WALStore) persist(intent *entity.OrderIntent) error {
	payload, err := json.Marshal(intent)
	if err != nil {
		return errors.Wrap(err, "marshal order intent")
	}

	key := fmt.Sprintf("%s%s", intentKeyPrefix, intent.ID)
	nextIndex := s.wal.CurrentIndex() + 1
	return errors.Wrapf(s.wal.Write(nextIndex, key, payload), "write order intent %s", intent.ID)
}
