package store

import (
	"context"

	"github.com/puzpuzpuz/xsync/v3"

	"keeper/codec"
)

// MemoryStore keeps encoded values in process memory. Values go through the
// same JSON encoding as the SQL backends so callers see identical types.
type MemoryStore struct {
	values *xsync.MapOf[string, []byte]
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: xsync.NewMapOf[string, []byte]()}
}

func (s *MemoryStore) Put(ctx context.Context, key string, value map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	encoded, err := codec.JSONMarshal(value)
	if err != nil {
		return err
	}
	s.values.Store(key, encoded)
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, key string) (map[string]any, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	encoded, ok := s.values.Load(key)
	if !ok {
		return nil, false, nil
	}
	value, err := codec.JSONUnmarshalFields(encoded)
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

// Len returns the number of stored keys
func (s *MemoryStore) Len() int {
	return s.values.Size()
}
