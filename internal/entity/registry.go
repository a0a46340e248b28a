package entity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
)

var (
	ErrDuplicateType = errors.New("entity type already registered")
	ErrUnknownType   = errors.New("unknown entity type")
)

// Factory builds an entity from its saved data, with access to the client
// handle of type C
type Factory[C any] func(ctx context.Context, client C, data json.RawMessage) (Entity, error)

// Summary describes a live entity
type Summary struct {
	ID   string
	Type string
}

// Registry owns every live entity. An id is in the map iff its entity is alive
type Registry[C any] struct {
	client C
	store  Store

	mu          sync.Mutex
	types       map[string]Factory[C]
	entities    map[string]Entity
	dirty       map[string]struct{}
	pendingSave bool
}

func NewRegistry[C any](client C, store Store) *Registry[C] {
	return &Registry[C]{
		client:   client,
		store:    store,
		types:    make(map[string]Factory[C]),
		entities: make(map[string]Entity),
		dirty:    make(map[string]struct{}),
	}
}

func (r *Registry[C]) RegisterEntityType(name string, factory Factory[C]) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.types[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateType, name)
	}
	log.Debug().Msg(fmt.Sprintf("Registering entity type %s", name))
	r.types[name] = factory
	return nil
}

func (r *Registry[C]) EntityTypes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.types))
	for name := range r.types {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Create an entity from saved data and make it live.
// An entity already alive with the same id is killed first,
// transferring ownership to the new one
func (r *Registry[C]) NewEntity(ctx context.Context, data json.RawMessage) (Entity, error) {
	return r.create(ctx, data, true)
}

func (r *Registry[C]) create(ctx context.Context, data json.RawMessage, markDirty bool) (Entity, error) {
	var header Data
	if err := json.Unmarshal(data, &header); err != nil {
		return nil, fmt.Errorf("entity data is not correctly formatted: %w", err)
	}

	r.mu.Lock()
	factory, ok := r.types[header.Type]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, header.Type)
	}

	e, err := factory(ctx, r.client, data)
	if err != nil {
		return nil, fmt.Errorf("could not create entity of type %s: %w", header.Type, err)
	}

	r.mu.Lock()
	old := r.entities[e.ID()]
	r.entities[e.ID()] = e
	if markDirty {
		r.dirty[e.ID()] = struct{}{}
	}
	r.mu.Unlock()

	if old != nil {
		log.Info().Str("entity", e.ID()).Msg("Replacing live entity")
		old.Kill(true)
	}
	e.base().attach(r)
	log.Info().Str("entity", e.ID()).Str("type", e.Type()).Msg("Entity created")
	return e, nil
}

func (r *Registry[C]) GetEntity(id string) (Entity, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entities[id]
	return e, ok
}

// Get a live entity of a concrete type
func Get[T Entity, C any](r *Registry[C], id string) (T, bool) {
	var zero T
	e, ok := r.GetEntity(id)
	if !ok {
		return zero, false
	}
	typed, ok := e.(T)
	if !ok {
		return zero, false
	}
	return typed, true
}

// Kill an entity and remove it from the live map.
// With transferOwnership its final snapshot is kept in the store,
// otherwise the snapshot is deleted. Unknown ids are ignored
func (r *Registry[C]) KillEntity(id string, transferOwnership bool) {
	r.mu.Lock()
	e, ok := r.entities[id]
	if !ok {
		r.mu.Unlock()
		log.Debug().Msg(fmt.Sprintf("Not killing entity %s: it is not alive", id))
		return
	}
	delete(r.entities, id)
	delete(r.dirty, id)
	r.pendingSave = true
	r.mu.Unlock()

	e.Kill(transferOwnership)
	if transferOwnership {
		if err := r.store.Put(id, e.SaveData()); err != nil {
			log.Error().Err(err).Str("entity", id).Msg("Could not store final snapshot")
		}
	} else {
		r.store.Delete(id)
	}
}

func (r *Registry[C]) KillAll(transferOwnership bool) {
	for _, summary := range r.Entities() {
		r.KillEntity(summary.ID, transferOwnership)
	}
}

// Live entities sorted by id
func (r *Registry[C]) Entities() []Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	summaries := make([]Summary, 0, len(r.entities))
	for id, e := range r.entities {
		summaries = append(summaries, Summary{ID: id, Type: e.Type()})
	}
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].ID < summaries[j].ID })
	return summaries
}

func (r *Registry[C]) MarkUpdated(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entities[id]; ok {
		r.dirty[id] = struct{}{}
	}
}

func (r *Registry[C]) expire(b *Base) {
	r.mu.Lock()
	e, ok := r.entities[b.id]
	r.mu.Unlock()
	if !ok || e.base() != b {
		return
	}
	r.KillEntity(b.id, false)
}

// Write the snapshots of the updated entities and save the store
func (r *Registry[C]) Flush() error {
	r.mu.Lock()
	updated := make([]Entity, 0, len(r.dirty))
	for id := range r.dirty {
		if e, ok := r.entities[id]; ok {
			updated = append(updated, e)
		}
	}
	r.dirty = make(map[string]struct{})
	pending := r.pendingSave || len(updated) > 0
	r.pendingSave = false
	r.mu.Unlock()

	if !pending {
		return nil
	}
	var errs []error
	for _, e := range updated {
		if err := r.store.Put(e.ID(), e.SaveData()); err != nil {
			errs = append(errs, fmt.Errorf("could not store entity %s: %w", e.ID(), err))
		}
	}
	if err := r.store.Save(); err != nil {
		errs = append(errs, fmt.Errorf("could not save entity store: %w", err))
	}
	log.Debug().Msg(fmt.Sprintf("Flushed %d entities", len(updated)))
	return errors.Join(errs...)
}

// Instantiate every record of the store. Records that cannot be loaded are
// reported and left in the store, the rest become live
func (r *Registry[C]) LoadAll(ctx context.Context) (int, error) {
	records, err := r.store.Records()
	if err != nil {
		return 0, err
	}
	ids := make([]string, 0, len(records))
	for id := range records {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	loaded := 0
	var errs []error
	for _, id := range ids {
		e, err := r.create(ctx, records[id], false)
		if err != nil {
			log.Error().Err(err).Str("entity", id).Msg("Rejecting saved entity")
			errs = append(errs, fmt.Errorf("entity %s: %w", id, err))
			continue
		}
		if e.ID() != id {
			// Saved under a stale id, move it
			r.store.Delete(id)
			r.MarkUpdated(e.ID())
		}
		loaded++
	}
	log.Info().Msg(fmt.Sprintf("Loaded %d of %d saved entities", loaded, len(ids)))
	return loaded, errors.Join(errs...)
}

func (r *Registry[C]) Client() C {
	return r.client
}
