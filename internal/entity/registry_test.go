package entity_test

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"keeper/internal/entity"
	"keeper/internal/entity/entitytest"

	"github.com/stretchr/testify/require"
)

// Stands in for the client handle given to factories
type env struct {
	clock *entitytest.Clock
	fail  error
	ticks map[string]int
}

type counterData struct {
	entity.WatcherData
	Name  string `json:"name"`
	Count int    `json:"count,omitempty"`
}

type counter struct {
	*entity.Watcher
	env   *env
	name  string
	count int
	tick  func(ctx context.Context, c *counter) error
}

func (c *counter) SaveData() any {
	return counterData{WatcherData: c.WatcherData(), Name: c.name, Count: c.count}
}

func newCounter(_ context.Context, e *env, raw json.RawMessage) (entity.Entity, error) {
	var data counterData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, err
	}
	if data.Name == "" {
		return nil, errors.New("counter needs a name")
	}
	c := &counter{env: e, name: data.Name, count: data.Count}
	w, err := entity.NewWatcher("counter-"+data.Name, data.WatcherData, e.clock, func(ctx context.Context) error {
		e.ticks[c.name]++
		if c.tick != nil {
			return c.tick(ctx, c)
		}
		if e.fail != nil {
			return e.fail
		}
		c.count++
		c.PostponeDeathAndUpdate()
		return nil
	})
	if err != nil {
		return nil, err
	}
	c.Watcher = w
	return c, nil
}

func newTestRegistry(t *testing.T) (*entity.Registry[*env], *env, *entitytest.MemoryStore) {
	t.Helper()
	e := &env{clock: entitytest.NewClock(time.Unix(1700000000, 0)), ticks: map[string]int{}}
	store := entitytest.NewMemoryStore()
	r := entity.NewRegistry(e, store)
	require.NoError(t, r.RegisterEntityType("counter", newCounter))
	return r, e, store
}

func spawn(t *testing.T, r *entity.Registry[*env], raw string) *counter {
	t.Helper()
	e, err := r.NewEntity(context.Background(), json.RawMessage(raw))
	require.NoError(t, err)
	c, ok := e.(*counter)
	require.True(t, ok)
	return c
}

func TestRegisterEntityTypeTwiceFails(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	err := r.RegisterEntityType("counter", newCounter)
	require.ErrorIs(t, err, entity.ErrDuplicateType)
	require.Equal(t, []string{"counter"}, r.EntityTypes())
}

func TestUnknownIdsAreHarmless(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	_, ok := r.GetEntity("nope")
	require.False(t, ok)
	require.NotPanics(t, func() { r.KillEntity("nope", false) })
	require.NotPanics(t, func() { r.KillEntity("nope", true) })
}

func TestNewEntityUnknownType(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	_, err := r.NewEntity(context.Background(), json.RawMessage(`{"type":"ghost"}`))
	require.ErrorIs(t, err, entity.ErrUnknownType)

	_, err = r.NewEntity(context.Background(), json.RawMessage(`not json`))
	require.Error(t, err)
}

func TestNewEntityFactoryError(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	_, err := r.NewEntity(context.Background(), json.RawMessage(`{"type":"counter","refreshMs":1000}`))
	require.ErrorContains(t, err, "counter needs a name")
	require.Empty(t, r.Entities())
}

func TestWatcherRejectsNonPositiveRefresh(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	_, err := r.NewEntity(context.Background(), json.RawMessage(`{"type":"counter","name":"a","refreshMs":0}`))
	require.ErrorContains(t, err, "refreshMs must be positive")
}

func TestSaveDataRoundTrip(t *testing.T) {
	e := &env{clock: entitytest.NewClock(time.Unix(0, 0)), ticks: map[string]int{}}
	inputs := []string{
		`{"type":"counter","refreshMs":1000,"name":"a"}`,
		`{"type":"counter","refreshMs":250,"name":"b","count":7}`,
		`{"type":"counter","refreshMs":60000,"name":"c","killTime":1700000005000,"killTimeout":5000}`,
	}
	for _, input := range inputs {
		built, err := newCounter(context.Background(), e, json.RawMessage(input))
		require.NoError(t, err)
		output, err := json.Marshal(built.SaveData())
		require.NoError(t, err)
		require.JSONEq(t, input, string(output))
	}
}

func TestWatcherTicksEveryPeriod(t *testing.T) {
	r, e, _ := newTestRegistry(t)
	c := spawn(t, r, `{"type":"counter","name":"a","refreshMs":1000}`)

	// First tick fires right away
	e.clock.Advance(0)
	require.Equal(t, 1, e.ticks["a"])

	e.clock.Advance(999 * time.Millisecond)
	require.Equal(t, 1, e.ticks["a"])
	e.clock.Advance(time.Millisecond)
	require.Equal(t, 2, e.ticks["a"])

	e.clock.Advance(3 * time.Second)
	require.Equal(t, 5, e.ticks["a"])
	require.Equal(t, 5, c.count)
	require.Equal(t, time.Second, c.Refresh())
}

func TestWatcherSurvivesFailingTick(t *testing.T) {
	r, e, _ := newTestRegistry(t)
	e.fail = errors.New("upstream down")
	c := spawn(t, r, `{"type":"counter","name":"a","refreshMs":1000}`)

	e.clock.Advance(0)
	require.Equal(t, 1, e.ticks["a"])
	require.False(t, c.Killed())
	require.ErrorContains(t, c.LastError(), "upstream down")
	require.Contains(t, c.LastErrorString(), "upstream down")
	require.Equal(t, 1, e.clock.Pending())

	e.clock.Advance(time.Second)
	require.Equal(t, 2, e.ticks["a"])
	_, alive := r.GetEntity("counter-a")
	require.True(t, alive)

	// Recovers once upstream is back
	e.fail = nil
	e.clock.Advance(time.Second)
	require.NoError(t, c.LastError())
	require.Equal(t, 1, c.count)
}

func TestWatcherRecoversPanics(t *testing.T) {
	r, e, _ := newTestRegistry(t)
	c := spawn(t, r, `{"type":"counter","name":"a","refreshMs":1000}`)
	c.tick = func(context.Context, *counter) error { panic("boom") }

	require.NotPanics(t, func() { e.clock.Advance(0) })
	require.ErrorContains(t, c.LastError(), "boom")
	require.False(t, c.Killed())
	require.Equal(t, 1, e.clock.Pending())
}

func TestWatcherHasOneTickInFlight(t *testing.T) {
	r, e, _ := newTestRegistry(t)
	c := spawn(t, r, `{"type":"counter","name":"a","refreshMs":1000}`)
	pendingDuringTick := -1
	c.tick = func(context.Context, *counter) error {
		pendingDuringTick = e.clock.Pending()
		return nil
	}
	e.clock.Advance(0)
	require.Equal(t, 0, pendingDuringTick)
	require.Equal(t, 1, e.clock.Pending())
}

func TestKillStopsTicks(t *testing.T) {
	r, e, store := newTestRegistry(t)
	c := spawn(t, r, `{"type":"counter","name":"a","refreshMs":1000}`)
	e.clock.Advance(0)
	require.Equal(t, 1, e.ticks["a"])

	r.KillEntity("counter-a", false)
	require.True(t, c.Killed())
	_, alive := r.GetEntity("counter-a")
	require.False(t, alive)

	e.clock.Advance(10 * time.Second)
	require.Equal(t, 1, e.ticks["a"])
	require.Equal(t, 0, e.clock.Pending())
	require.Nil(t, store.Get("counter-a"))
}

func TestKillDuringTickCancelsContext(t *testing.T) {
	r, e, _ := newTestRegistry(t)
	c := spawn(t, r, `{"type":"counter","name":"a","refreshMs":1000}`)
	var ctxErr error
	c.tick = func(ctx context.Context, c *counter) error {
		r.KillEntity(c.ID(), false)
		ctxErr = ctx.Err()
		return nil
	}
	e.clock.Advance(0)
	require.ErrorIs(t, ctxErr, context.Canceled)
	require.Equal(t, 0, e.clock.Pending())
	e.clock.Advance(5 * time.Second)
	require.Equal(t, 1, e.ticks["a"])
}

func TestKillWithTransferKeepsSnapshot(t *testing.T) {
	r, e, store := newTestRegistry(t)
	spawn(t, r, `{"type":"counter","name":"a","refreshMs":1000}`)
	e.clock.Advance(2 * time.Second)

	r.KillEntity("counter-a", true)
	require.JSONEq(t, `{"type":"counter","name":"a","refreshMs":1000,"count":3}`, string(store.Get("counter-a")))
}

func TestTeardownHooksRunOnceInReverse(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	c := spawn(t, r, `{"type":"counter","name":"a","refreshMs":1000}`)
	var order []string
	c.OnKill(func(bool) { order = append(order, "first") })
	c.OnKill(func(transfer bool) {
		require.True(t, transfer)
		order = append(order, "second")
	})
	r.KillEntity("counter-a", true)
	c.Kill(true)
	require.Equal(t, []string{"second", "first"}, order)
}

func TestNewEntityReplacesSameId(t *testing.T) {
	r, e, _ := newTestRegistry(t)
	first := spawn(t, r, `{"type":"counter","name":"a","refreshMs":1000}`)
	second := spawn(t, r, `{"type":"counter","name":"a","refreshMs":2000}`)

	require.True(t, first.Killed())
	require.False(t, second.Killed())
	live, ok := entity.Get[*counter](r, "counter-a")
	require.True(t, ok)
	require.Same(t, second, live)

	e.clock.Advance(0)
	require.Equal(t, 1, e.ticks["a"])
}

func TestSelfExpiryAndPostpone(t *testing.T) {
	r, e, store := newTestRegistry(t)
	c := spawn(t, r, `{"type":"counter","name":"a","refreshMs":1000,"killTimeout":2500}`)
	c.tick = func(context.Context, *counter) error { return nil }
	e.clock.Advance(0)

	// Postponing ticks keep it alive past the original deadline
	c.tick = func(_ context.Context, c *counter) error {
		c.PostponeDeathAndUpdate()
		return nil
	}
	e.clock.Advance(2 * time.Second)
	c.tick = func(context.Context, *counter) error { return nil }
	e.clock.Advance(2 * time.Second)
	_, alive := r.GetEntity("counter-a")
	require.True(t, alive)

	e.clock.Advance(time.Second)
	_, alive = r.GetEntity("counter-a")
	require.False(t, alive)
	require.True(t, c.Killed())
	require.Nil(t, store.Get("counter-a"))
}

func TestFlushAndLoadAll(t *testing.T) {
	r, e, store := newTestRegistry(t)
	spawn(t, r, `{"type":"counter","name":"a","refreshMs":1000}`)
	spawn(t, r, `{"type":"counter","name":"b","refreshMs":1000,"count":4}`)
	e.clock.Advance(0)
	require.NoError(t, r.Flush())
	require.Equal(t, 1, store.Saves)

	// Nothing changed, nothing written
	require.NoError(t, r.Flush())
	require.Equal(t, 1, store.Saves)

	require.NoError(t, store.Put("broken", json.RawMessage(`{"type":"ghost"}`)))

	reloaded := entity.NewRegistry(&env{clock: entitytest.NewClock(time.Unix(0, 0)), ticks: map[string]int{}}, store)
	require.NoError(t, reloaded.RegisterEntityType("counter", newCounter))
	loaded, err := reloaded.LoadAll(context.Background())
	require.Equal(t, 2, loaded)
	require.ErrorIs(t, err, entity.ErrUnknownType)
	require.Equal(t, []entity.Summary{{ID: "counter-a", Type: "counter"}, {ID: "counter-b", Type: "counter"}}, reloaded.Entities())

	b, ok := entity.Get[*counter](reloaded, "counter-b")
	require.True(t, ok)
	require.Equal(t, 5, b.count)
	require.NotNil(t, store.Get("broken"))
}

func TestKillAll(t *testing.T) {
	r, _, store := newTestRegistry(t)
	spawn(t, r, `{"type":"counter","name":"a","refreshMs":1000}`)
	spawn(t, r, `{"type":"counter","name":"b","refreshMs":1000}`)
	r.KillAll(true)
	require.Empty(t, r.Entities())
	require.NotNil(t, store.Get("counter-a"))
	require.NotNil(t, store.Get("counter-b"))
}

func TestJSONStorePersists(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "data", "entities.json")
	store, err := entity.OpenJSONStore(filename)
	require.NoError(t, err)
	records, err := store.Records()
	require.NoError(t, err)
	require.Empty(t, records)

	require.NoError(t, store.Put("counter-a", map[string]any{"type": "counter", "refreshMs": 1000}))
	require.NoError(t, store.Put("counter-b", map[string]any{"type": "counter"}))
	store.Delete("counter-b")
	require.NoError(t, store.Save())

	reopened, err := entity.OpenJSONStore(filename)
	require.NoError(t, err)
	records, err = reopened.Records()
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.JSONEq(t, `{"type":"counter","refreshMs":1000}`, string(records["counter-a"]))
}
