package entity

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type WatcherData struct {
	Data
	RefreshMs int64 `json:"refreshMs"`
}

// One poll-and-react cycle. The context is cancelled when the watcher is
// killed and carries a logger tagged with the entity and tick ids
type TickFunc func(ctx context.Context) error

// Watcher is an entity that calls its tick function every refresh period.
// The next tick is only armed once the previous one returned, so at most
// one tick per watcher is in flight
type Watcher struct {
	*Base
	refresh time.Duration
	tick    TickFunc
	ctx     context.Context
	cancel  context.CancelFunc

	mu            sync.Mutex
	timer         Timer
	lastError     error
	lastErrorTime time.Time
}

// Create a watcher. The first tick fires as soon as the registry owns it
func NewWatcher(id string, data WatcherData, clock Clock, tick TickFunc) (*Watcher, error) {
	if data.RefreshMs <= 0 {
		return nil, fmt.Errorf("watcher %s: refreshMs must be positive, got %d", id, data.RefreshMs)
	}
	if tick == nil {
		return nil, fmt.Errorf("watcher %s: no tick function", id)
	}
	ctx, cancel := context.WithCancel(context.Background())
	w := &Watcher{
		Base:    NewBase(id, data.Data, clock),
		refresh: time.Duration(data.RefreshMs) * time.Millisecond,
		tick:    tick,
		ctx:     ctx,
		cancel:  cancel,
	}
	w.OnStart(w.arm)
	w.OnKill(w.disarm)
	return w, nil
}

func (w *Watcher) Refresh() time.Duration { return w.refresh }

// The watcher part of the save data
func (w *Watcher) WatcherData() WatcherData {
	return WatcherData{Data: w.Base.Data(), RefreshMs: w.refresh.Milliseconds()}
}

func (w *Watcher) LastError() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastError
}

func (w *Watcher) LastErrorString() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.lastError == nil {
		return ""
	}
	return fmt.Sprintf("Last error (%s): %s", w.lastErrorTime.UTC().Format(time.RFC3339), w.lastError)
}

func (w *Watcher) arm() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.Killed() {
		return
	}
	w.timer = w.Clock().AfterFunc(0, w.fire)
}

func (w *Watcher) disarm(bool) {
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.mu.Unlock()
	w.cancel()
}

func (w *Watcher) fire() {
	w.mu.Lock()
	w.timer = nil
	w.mu.Unlock()
	if w.Killed() {
		return
	}

	w.runTick()

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.Killed() {
		return
	}
	w.timer = w.Clock().AfterFunc(w.refresh, w.fire)
}

func (w *Watcher) runTick() {
	logger := log.With().Str("entity", w.ID()).Str("tick", uuid.NewString()).Logger()
	ctx := logger.WithContext(w.ctx)

	err := w.safeTick(ctx)

	w.mu.Lock()
	w.lastError = err
	if err != nil {
		w.lastErrorTime = w.Clock().Now()
	}
	w.mu.Unlock()

	if err != nil && !w.Killed() {
		logger.Error().Err(err).Msg("Watcher tick failed, retrying next cycle")
	}
}

func (w *Watcher) safeTick(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during tick: %v", r)
		}
	}()
	zerolog.Ctx(ctx).Debug().Msg("Tick")
	return w.tick(ctx)
}
