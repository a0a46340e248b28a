package entitytest

import (
	"encoding/json"
	"sync"
)

// MemoryStore is an in-memory entity.Store
type MemoryStore struct {
	mu    sync.Mutex
	data  map[string]json.RawMessage
	Saves int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]json.RawMessage)}
}

func (s *MemoryStore) Records() (map[string]json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	records := make(map[string]json.RawMessage, len(s.data))
	for id, raw := range s.data {
		records[id] = raw
	}
	return records, nil
}

func (s *MemoryStore) Put(id string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[id] = raw
	return nil
}

func (s *MemoryStore) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, id)
}

func (s *MemoryStore) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Saves++
	return nil
}

// The stored record of an id, nil if absent
func (s *MemoryStore) Get(id string) json.RawMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data[id]
}
