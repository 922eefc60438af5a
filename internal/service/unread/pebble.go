package unread

import (
	"errors"
	"fmt"
	"time"

	"github.com/cockroachdb/pebble"
)

// PebbleStore persists watermarks in an embedded Pebble database so unread
// state survives process restarts.
type PebbleStore struct {
	db *pebble.DB
}

// OpenPebbleStore opens (or creates) the watermark database at path.
func OpenPebbleStore(path string) (*PebbleStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open watermark db at %s: %w", path, err)
	}
	return &PebbleStore{db: db}, nil
}

// Key format: watermark:<viewer>:<conversation>
func watermarkKey(viewerID, conversationID string) []byte {
	return []byte(fmt.Sprintf("watermark:%s:%s", viewerID, conversationID))
}

func (s *PebbleStore) Get(viewerID, conversationID string) (time.Time, bool, error) {
	value, closer, err := s.db.Get(watermarkKey(viewerID, conversationID))
	if errors.Is(err, pebble.ErrNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to read watermark: %w", err)
	}
	defer closer.Close()

	at, err := time.Parse(time.RFC3339Nano, string(value))
	if err != nil {
		return time.Time{}, false, fmt.Errorf("corrupt watermark value: %w", err)
	}
	return at, true, nil
}

func (s *PebbleStore) Set(viewerID, conversationID string, at time.Time) error {
	value := []byte(at.UTC().Format(time.RFC3339Nano))
	if err := s.db.Set(watermarkKey(viewerID, conversationID), value, pebble.Sync); err != nil {
		return fmt.Errorf("failed to write watermark: %w", err)
	}
	return nil
}

func (s *PebbleStore) Close() error {
	return s.db.Close()
}
