// Package settings is the persistent key/value provider used for per-guild
// configuration such as the starboard channel.
package settings

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/schollz/jsonstore"
)

// Scope for values that do not belong to a guild
const Global = "global"

type Settings struct {
	mu       sync.Mutex
	filename string
	store    *jsonstore.JSONStore
}

func Open(filename string) (*Settings, error) {
	ks, err := jsonstore.Open(filename)
	if errors.Is(err, fs.ErrNotExist) {
		ks = new(jsonstore.JSONStore)
	} else if err != nil {
		return nil, fmt.Errorf("could not open settings %s: %w", filename, err)
	}
	return &Settings{filename: filename, store: ks}, nil
}

func key(scope, name string) string {
	return scope + "/" + name
}

// Decode the value of a setting into out.
// Returns false if the setting is not present
func (s *Settings) Get(scope, name string, out any) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.store.Get(key(scope, name), out)
	var noSuchKey jsonstore.NoSuchKeyError
	if errors.As(err, &noSuchKey) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("setting %s in %s is not correctly formatted: %w", name, scope, err)
	}
	return true, nil
}

func (s *Settings) GetString(scope, name, fallback string) string {
	var value string
	found, err := s.Get(scope, name, &value)
	if err != nil {
		log.Warn().Err(err).Msg("Using default setting")
	}
	if !found || err != nil {
		return fallback
	}
	return value
}

func (s *Settings) GetStrings(scope, name string) []string {
	var values []string
	if _, err := s.Get(scope, name, &values); err != nil {
		log.Warn().Err(err).Msg("Ignoring setting")
		return nil
	}
	return values
}

// Set a value and write the settings to disk
func (s *Settings) Set(scope, name string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.store.Set(key(scope, name), value); err != nil {
		return err
	}
	return s.saveLocked()
}

func (s *Settings) Delete(scope, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.store.Delete(key(scope, name))
	return s.saveLocked()
}

func (s *Settings) saveLocked() error {
	if err := os.MkdirAll(filepath.Dir(s.filename), 0o755); err != nil {
		return err
	}
	if err := jsonstore.Save(s.store, s.filename); err != nil {
		return fmt.Errorf("could not save settings %s: %w", s.filename, err)
	}
	return nil
}
