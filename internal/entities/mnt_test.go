package entities_test

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"keeper/internal/client/clienttest"
	"keeper/internal/common"
	"keeper/internal/entities"

	"github.com/stretchr/testify/require"
)

func TestMntTrackerNotifiesOwner(t *testing.T) {
	env := setup(t)
	u := newUpstream(t)
	u.set("/version", " 1.0.0\n")
	e := spawn(t, env, map[string]any{"type": "mnt-tracker", "refreshMs": 1000, "endpoint": u.url + "/version"})
	tracker := e.(*entities.MntTracker)

	env.Clock.Advance(0)
	sent := env.Session.Drain()
	require.Len(t, sent, 1)
	require.Equal(t, "dm-"+clienttest.Owner, sent[0].ChannelID)
	require.Equal(t, "Version not yet stored. Entity likely just started, current version is `1.0.0`.", sent[0].Content)
	require.Equal(t, "1.0.0", tracker.Version())

	env.Clock.Advance(time.Second)
	require.Empty(t, env.Session.Drain())

	u.set("/version", "1.1.0")
	env.Clock.Advance(time.Second)
	sent = env.Session.Drain()
	require.Len(t, sent, 1)
	require.Equal(t, "New version released.\n`1.0.0` -> `1.1.0`", sent[0].Content)

	require.NoError(t, env.Client.Entities.Flush())
	var saved entities.MntTrackerData
	require.NoError(t, json.Unmarshal(env.Store.Get(entities.MntTrackerID), &saved))
	require.Equal(t, "1.1.0", saved.Version)
}

func TestMntTrackerRetriesFailedNotification(t *testing.T) {
	env := setup(t)
	u := newUpstream(t)
	u.set("/version", "2.0.0")
	e := spawn(t, env, map[string]any{"type": "mnt-tracker", "refreshMs": 1000, "endpoint": u.url + "/version", "version": "1.0.0"})
	tracker := e.(*entities.MntTracker)

	env.Session.SendErr = errDiscord
	env.Clock.Advance(0)
	require.ErrorIs(t, tracker.LastError(), errDiscord)
	require.Equal(t, "1.0.0", tracker.Version())

	env.Session.SendErr = nil
	env.Clock.Advance(time.Second)
	require.Len(t, env.Session.Drain(), 1)
	require.Equal(t, "2.0.0", tracker.Version())
}

func TestMntTrackerBacksOffAfterRateLimit(t *testing.T) {
	env := setup(t)
	u := newUpstream(t)
	u.set("/version", "1.0.0")
	u.fail(http.StatusTooManyRequests)
	e := spawn(t, env, map[string]any{"type": "mnt-tracker", "refreshMs": 1000, "endpoint": u.url + "/version"})
	tracker := e.(*entities.MntTracker)

	env.Clock.Advance(0)
	var statusErr *common.StatusError
	require.ErrorAs(t, tracker.LastError(), &statusErr)
	require.Equal(t, http.StatusTooManyRequests, statusErr.StatusCode)

	// Polls are not vital, they are refused while the proxy backs off
	u.fail(http.StatusOK)
	env.Clock.Advance(time.Second)
	require.ErrorIs(t, tracker.LastError(), common.ErrRateLimited)
	require.Equal(t, 1, u.count())
	require.Empty(t, env.Session.Drain())
	require.Empty(t, tracker.Version())
}
