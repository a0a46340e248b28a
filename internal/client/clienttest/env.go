package clienttest

import (
	"path/filepath"
	"testing"
	"time"

	"keeper/internal/client"
	"keeper/internal/common"
	"keeper/internal/entity/entitytest"
	"keeper/internal/settings"

	"github.com/stretchr/testify/require"
)

const Owner = "owner"

// Env is a client wired to in-memory fakes
type Env struct {
	Client  *client.Client
	Session *Session
	Clock   *entitytest.Clock
	Store   *entitytest.MemoryStore
}

func New(t testing.TB) *Env {
	t.Helper()
	s, err := settings.Open(filepath.Join(t.TempDir(), "settings.json"))
	require.NoError(t, err)
	env := &Env{
		Session: NewSession(),
		Clock:   entitytest.NewClock(time.Unix(1700000000, 0)),
		Store:   entitytest.NewMemoryStore(),
	}
	env.Client = client.New(client.Options{
		Session:   env.Session,
		Proxy:     common.NewProxy(nil, nil, 5*time.Second),
		Settings:  s,
		Store:     env.Store,
		Clock:     env.Clock,
		Owners:    []string{Owner},
		UserAgent: "keeper-test",
	})
	t.Cleanup(func() { env.Client.Entities.KillAll(false) })
	return env
}
