// Package cursor persists the last processed stream position per account.
package cursor

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/gowal"
)

const (
	defaultCursorDir   = "./wal/cursor"
	cursorSegmentLimit = 1000
	cursorMaxSegments  = 5
	cursorKeyPrefix    = "stream_cursor_"
)

// WALStore keeps the latest paging token for one account.
type WALStore struct {
	wal *gowal.Wal
	key string

	mu     sync.Mutex
	cursor string
}

// NewWALStore opens the cursor log under dir for account and loads the last saved cursor.
func NewWALStore(dir, account string) (*WALStore, error) {
	if account == "" {
		return nil, errors.New("cursor account is required")
	}
	if dir == "" {
		dir = defaultCursorDir
	}

	cfg := gowal.Config{
		Dir:              dir,
		Prefix:           "cursor_",
		SegmentThreshold: cursorSegmentLimit,
		MaxSegments:      cursorMaxSegments,
		IsInSyncDiskMode: true,
	}

	wal, err := gowal.NewWAL(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "init cursor WAL")
	}

	s := &WALStore{wal: wal, key: cursorKeyPrefix + account}
	for msg := range wal.Iterator() {
		if msg.Key == s.key {
			s.cursor = string(msg.Value)
		}
	}

	return s, nil
}

// Load returns the last saved cursor, empty when none was saved.
func (s *WALStore) Load() (string, error) {
	if s == nil || s.wal == nil {
		return "", errors.New("cursor store is not initialized")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.cursor, nil
}

// Save records cursor. Saving the current value again writes nothing.
func (s *WALStore) Save(cursor string) error {
	if s == nil || s.wal == nil {
		return errors.New("cursor store is not initialized")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if cursor == s.cursor {
		return nil
	}

	nextIndex := s.wal.CurrentIndex() + 1
	if err := s.wal.Write(nextIndex, s.key, []byte(cursor)); err != nil {
		return errors.Wrapf(err, "write cursor %s", cursor)
	}
	s.cursor = cursor

	return nil
}

// Close closes the underlying WAL.
func (s *WALStore) Close() error {
	if s == nil || s.wal == nil {
		return errors.New("cursor store is not initialized")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.wal.Close()
}
