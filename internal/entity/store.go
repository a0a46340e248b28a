package entity

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/schollz/jsonstore"
)

// Store persists entity snapshots by id
type Store interface {
	Records() (map[string]json.RawMessage, error)
	Put(id string, data any) error
	Delete(id string)
	Save() error
}

// JSONStore keeps snapshots in a single JSON file.
// A filename ending in .gz is gzipped
type JSONStore struct {
	mu       sync.Mutex
	filename string
	store    *jsonstore.JSONStore
}

func OpenJSONStore(filename string) (*JSONStore, error) {
	ks, err := jsonstore.Open(filename)
	if errors.Is(err, fs.ErrNotExist) {
		ks = new(jsonstore.JSONStore)
	} else if err != nil {
		return nil, fmt.Errorf("could not open entity store %s: %w", filename, err)
	}
	return &JSONStore{filename: filename, store: ks}, nil
}

func (s *JSONStore) Records() (map[string]json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	records := make(map[string]json.RawMessage)
	for _, key := range s.store.Keys() {
		var raw json.RawMessage
		if err := s.store.Get(key, &raw); err != nil {
			return nil, fmt.Errorf("could not read entity %s: %w", key, err)
		}
		records[key] = raw
	}
	return records, nil
}

func (s *JSONStore) Put(id string, data any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Set(id, data)
}

func (s *JSONStore) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.store.Delete(id)
}

func (s *JSONStore) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(s.filename), 0o755); err != nil {
		return err
	}
	return jsonstore.Save(s.store, s.filename)
}
