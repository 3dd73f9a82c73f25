package checkpoint

import (
	"context"
	"sync"

	"backend-bravely/internal/tracking"
)

// MemoryStore keeps the encoded snapshot in process memory. It survives
// nothing and exists for tests and local runs.
type MemoryStore struct {
	codec Codec
	mu    sync.Mutex
	data  []byte
}

func NewMemoryStore(codec Codec) *MemoryStore {
	if codec == nil {
		codec = JSONCodec{}
	}
	return &MemoryStore{codec: codec}
}

func (s *MemoryStore) Save(_ context.Context, snap tracking.SessionSnapshot) error {
	data, err := s.codec.Marshal(snap)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.data = data
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Load(_ context.Context) (*tracking.SessionSnapshot, error) {
	s.mu.Lock()
	data := s.data
	s.mu.Unlock()
	if data == nil {
		return nil, nil
	}
	return decode(s.codec, data)
}

func (s *MemoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	s.data = nil
	s.mu.Unlock()
	return nil
}

// Raw returns the encoded record, or nil when the slot is empty.
func (s *MemoryStore) Raw() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data
}

// SetRaw replaces the stored bytes, bypassing the codec.
func (s *MemoryStore) SetRaw(data []byte) {
	s.mu.Lock()
	s.data = data
	s.mu.Unlock()
}
