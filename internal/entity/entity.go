// Package entity implements the lifecycle shared by every long-lived bot
// object: creation from saved data, optional self-expiry, persistence and
// teardown, plus the Watcher that polls on a timer.
package entity

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Data holds the fields every saved entity carries.
// KillTime is a unix timestamp in milliseconds, KillTimeout a duration in
// milliseconds. Both are optional
type Data struct {
	Type        string `json:"type"`
	KillTime    int64  `json:"killTime,omitempty"`
	KillTimeout int64  `json:"killTimeout,omitempty"`
}

// Entity is a registry-managed object.
// Implementations embed *Base, which is the only way to satisfy base()
type Entity interface {
	ID() string
	Type() string
	Killed() bool
	// SaveData returns a snapshot that, marshalled to JSON and given
	// back to the factory, recreates an equivalent entity
	SaveData() any
	// Kill is invoked by the registry. Teardown hooks run once
	Kill(transferOwnership bool)
	base() *Base
}

// What an entity sees of the registry that owns it
type owner interface {
	expire(b *Base)
	MarkUpdated(id string)
}

type Base struct {
	id    string
	typ   string
	clock Clock

	mu          sync.Mutex
	killed      bool
	killTime    time.Time
	killTimeout time.Duration
	deathTimer  Timer
	hooks       []func(transferOwnership bool)
	startHooks  []func()
	owner       owner
}

func NewBase(id string, data Data, clock Clock) *Base {
	if clock == nil {
		clock = RealClock()
	}
	b := &Base{id: id, typ: data.Type, clock: clock}
	if data.KillTime > 0 {
		b.killTime = time.UnixMilli(data.KillTime)
	}
	if data.KillTimeout > 0 {
		b.killTimeout = time.Duration(data.KillTimeout) * time.Millisecond
	}
	return b
}

func (b *Base) base() *Base { return b }

func (b *Base) ID() string { return b.id }

func (b *Base) Type() string { return b.typ }

func (b *Base) Clock() Clock { return b.clock }

func (b *Base) Killed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.killed
}

// The base part of the save data
func (b *Base) Data() Data {
	b.mu.Lock()
	defer b.mu.Unlock()
	data := Data{Type: b.typ, KillTimeout: b.killTimeout.Milliseconds()}
	if !b.killTime.IsZero() {
		data.KillTime = b.killTime.UnixMilli()
	}
	return data
}

// Register a teardown hook. Hooks run in reverse order of registration
func (b *Base) OnKill(hook func(transferOwnership bool)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.hooks = append(b.hooks, hook)
}

// Register a hook that runs once the registry owns the entity
func (b *Base) OnStart(hook func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.startHooks = append(b.startHooks, hook)
}

func (b *Base) Kill(transferOwnership bool) {
	b.mu.Lock()
	if b.killed {
		b.mu.Unlock()
		return
	}
	b.killed = true
	if b.deathTimer != nil {
		b.deathTimer.Stop()
		b.deathTimer = nil
	}
	hooks := b.hooks
	b.hooks = nil
	b.mu.Unlock()

	for i := len(hooks) - 1; i >= 0; i-- {
		hooks[i](transferOwnership)
	}
	log.Debug().Str("entity", b.id).Bool("transfer", transferOwnership).Msg("Entity killed")
}

// Signal that the save data changed and should be persisted
func (b *Base) Updated() {
	b.mu.Lock()
	o := b.owner
	b.mu.Unlock()
	if o != nil {
		o.MarkUpdated(b.id)
	}
}

// Defer the self-expiry of this entity, if it has one, and
// signal that its save data changed
func (b *Base) PostponeDeathAndUpdate() {
	b.mu.Lock()
	if b.killTimeout > 0 && !b.killed {
		b.killTime = b.clock.Now().Add(b.killTimeout)
		b.armDeathLocked()
	}
	b.mu.Unlock()
	b.Updated()
}

// Called by the registry once the entity is in the live map
func (b *Base) attach(o owner) {
	b.mu.Lock()
	if b.killed {
		b.mu.Unlock()
		return
	}
	b.owner = o
	if b.killTime.IsZero() && b.killTimeout > 0 {
		b.killTime = b.clock.Now().Add(b.killTimeout)
	}
	b.armDeathLocked()
	hooks := b.startHooks
	b.startHooks = nil
	b.mu.Unlock()

	for _, hook := range hooks {
		hook()
	}
}

func (b *Base) armDeathLocked() {
	if b.killTime.IsZero() || b.owner == nil {
		return
	}
	if b.deathTimer != nil {
		b.deathTimer.Stop()
	}
	o := b.owner
	wait := max(b.killTime.Sub(b.clock.Now()), 0)
	b.deathTimer = b.clock.AfterFunc(wait, func() {
		log.Info().Str("entity", b.id).Msg("Entity reached its kill time")
		o.expire(b)
	})
}
