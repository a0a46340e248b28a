package entities_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"keeper/internal/client/clienttest"
	"keeper/internal/entities"
	"keeper/internal/entity"

	"github.com/stretchr/testify/require"
)

// upstream serves canned bodies per path
type upstream struct {
	mu      sync.Mutex
	bodies  map[string]string
	status  int
	headers  http.Header
	requests int
	url      string
}

func newUpstream(t *testing.T) *upstream {
	t.Helper()
	u := &upstream{bodies: map[string]string{}, status: http.StatusOK}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u.mu.Lock()
		defer u.mu.Unlock()
		u.requests++
		u.headers = r.Header.Clone()
		body, ok := u.bodies[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(u.status)
		w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	u.url = server.URL
	return u
}

func (u *upstream) set(path, body string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.bodies[path] = body
}

func (u *upstream) fail(status int) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.status = status
}

func (u *upstream) count() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.requests
}

func (u *upstream) header(key string) string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.headers.Get(key)
}

func setup(t *testing.T) *clienttest.Env {
	t.Helper()
	env := clienttest.New(t)
	require.NoError(t, entities.RegisterAll(env.Client.Entities))
	return env
}

func spawn(t *testing.T, env *clienttest.Env, data map[string]any) entity.Entity {
	t.Helper()
	e, err := create(env, data)
	require.NoError(t, err)
	return e
}

func create(env *clienttest.Env, data map[string]any) (entity.Entity, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return env.Client.Entities.NewEntity(context.Background(), raw)
}

func TestRegisterAllTwiceFails(t *testing.T) {
	env := setup(t)
	require.ErrorIs(t, entities.RegisterAll(env.Client.Entities), entity.ErrDuplicateType)
	require.Len(t, env.Client.Entities.EntityTypes(), 9)
}
