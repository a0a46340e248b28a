package entities

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"keeper/internal/client"
	"keeper/internal/entity"

	"github.com/rs/zerolog"
)

const MntTrackerID = "mnt-tracker"

type MntTrackerData struct {
	entity.WatcherData
	Endpoint string `json:"endpoint"`
	Version  string `json:"version,omitempty"`
}

// MntTracker tells the first owner when a plain text version string changes
type MntTracker struct {
	*entity.Watcher
	client   *client.Client
	endpoint string

	mu      sync.Mutex
	version string
}

func NewMntTracker(ctx context.Context, c *client.Client, raw json.RawMessage) (entity.Entity, error) {
	var data MntTrackerData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("mnt tracker data is not correctly formatted: %w", err)
	}
	if data.Endpoint == "" {
		return nil, fmt.Errorf("mnt tracker needs an endpoint")
	}
	t := &MntTracker{client: c, endpoint: data.Endpoint, version: data.Version}
	w, err := entity.NewWatcher(MntTrackerID, data.WatcherData, c.Clock, t.tick)
	if err != nil {
		return nil, err
	}
	t.Watcher = w
	return t, nil
}

func (t *MntTracker) SaveData() any {
	t.mu.Lock()
	defer t.mu.Unlock()
	return MntTrackerData{WatcherData: t.WatcherData(), Endpoint: t.endpoint, Version: t.version}
}

func (t *MntTracker) Version() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.version
}

func (t *MntTracker) tick(ctx context.Context) error {
	body, err := t.client.Proxy.Request(ctx, t.endpoint, map[string]string{"User-Agent": t.client.UserAgent}, false)
	if err != nil {
		return err
	}
	version := strings.TrimSpace(string(body))
	old := t.Version()
	if version == old {
		return nil
	}

	message := fmt.Sprintf("New version released.\n`%s` -> `%s`", old, version)
	if old == "" {
		message = fmt.Sprintf("Version not yet stored. Entity likely just started, current version is `%s`.", version)
	}
	if t.Killed() {
		return nil
	}
	if err := t.client.NotifyOwner(ctx, client.NewResponseString(message)); err != nil {
		return err
	}
	zerolog.Ctx(ctx).Info().Str("version", version).Msg("New version")

	t.mu.Lock()
	t.version = version
	t.mu.Unlock()
	t.PostponeDeathAndUpdate()
	return nil
}
