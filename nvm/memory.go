package nvm

import (
	"context"
	"sync"
)

// MemStorage is a volatile Storage, erased to zero.
type MemStorage struct {
	mu     sync.Mutex
	banks  map[Bank][]byte
	writes int
}

// NewMemStorage returns an empty MemStorage.
func NewMemStorage() *MemStorage {
	return &MemStorage{banks: make(map[Bank][]byte)}
}

// Read returns length bytes at offset, unwritten bytes read as zero.
func (s *MemStorage) Read(ctx context.Context, bank Bank, offset, length uint32) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]byte, length)
	data := s.banks[bank]
	if int(offset) < len(data) {
		copy(out, data[offset:])
	}
	return out, nil
}

// Write stores data at offset.
func (s *MemStorage) Write(ctx context.Context, bank Bank, offset uint32, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	end := int(offset) + len(data)
	buf := s.banks[bank]
	if len(buf) < end {
		grown := make([]byte, end)
		copy(grown, buf)
		buf = grown
	}
	copy(buf[offset:], data)
	s.banks[bank] = buf
	s.writes++
	return nil
}

// Writes returns the number of Write calls.
func (s *MemStorage) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}
