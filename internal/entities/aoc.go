package entities

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"keeper/internal/client"
	"keeper/internal/common"
	"keeper/internal/entity"

	"github.com/rs/zerolog"
)

const AOCViewerID = "aoc-viewer"

type AOCMember struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Stars       int    `json:"stars"`
	GlobalScore int    `json:"global_score"`
	LocalScore  int    `json:"local_score"`
	LastStarTs  int64  `json:"last_star_ts"`
}

func (m AOCMember) DisplayName() string {
	if m.Name == "" {
		return "Anonymous"
	}
	return m.Name
}

type AOCLeaderboard struct {
	Members map[string]AOCMember `json:"members"`
}

// Members by stars, then local score, then global score
func (l AOCLeaderboard) Ranking() []AOCMember {
	members := make([]AOCMember, 0, len(l.Members))
	for _, member := range l.Members {
		members = append(members, member)
	}
	sort.Slice(members, func(i, j int) bool {
		a, b := members[i], members[j]
		if a.Stars != b.Stars {
			return a.Stars > b.Stars
		}
		if a.LocalScore != b.LocalScore {
			return a.LocalScore > b.LocalScore
		}
		if a.GlobalScore != b.GlobalScore {
			return a.GlobalScore > b.GlobalScore
		}
		return a.ID < b.ID
	})
	return members
}

type AOCViewerData struct {
	entity.WatcherData
	Endpoint          string `json:"endpoint"`
	Cookie            string `json:"cookie"`
	ChannelID         string `json:"channelId"`
	AnnounceChannelID string `json:"announceChannelId,omitempty"`
}

// AOCViewer keeps a single leaderboard message up to date
type AOCViewer struct {
	*entity.Watcher
	client            *client.Client
	endpoint          string
	cookie            string
	channelID         string
	announceChannelID string

	mu      sync.Mutex
	members []AOCMember
	fetched bool
}

func NewAOCViewer(ctx context.Context, c *client.Client, raw json.RawMessage) (entity.Entity, error) {
	var data AOCViewerData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("aoc viewer data is not correctly formatted: %w", err)
	}
	if data.Endpoint == "" || data.Cookie == "" {
		return nil, fmt.Errorf("aoc viewer needs an endpoint and a session cookie")
	}
	if _, err := c.TextChannel(data.ChannelID); err != nil {
		return nil, err
	}
	if data.AnnounceChannelID != "" {
		if _, err := c.TextChannel(data.AnnounceChannelID); err != nil {
			return nil, err
		}
	}
	v := &AOCViewer{
		client:            c,
		endpoint:          data.Endpoint,
		cookie:            data.Cookie,
		channelID:         data.ChannelID,
		announceChannelID: data.AnnounceChannelID,
	}
	w, err := entity.NewWatcher(AOCViewerID, data.WatcherData, c.Clock, v.tick)
	if err != nil {
		return nil, err
	}
	v.Watcher = w
	return v, nil
}

func (v *AOCViewer) SaveData() any {
	return AOCViewerData{
		WatcherData:       v.WatcherData(),
		Endpoint:          v.endpoint,
		Cookie:            v.cookie,
		ChannelID:         v.channelID,
		AnnounceChannelID: v.announceChannelID,
	}
}

func (v *AOCViewer) tick(ctx context.Context) error {
	leaderboard, err := common.GetJSON[AOCLeaderboard](ctx, v.client.Proxy, v.endpoint+".json", map[string]string{
		"Cookie":     "session=" + v.cookie,
		"User-Agent": v.client.UserAgent,
		"Accept":     "application/json",
	}, false)
	if err != nil {
		return err
	}
	members := leaderboard.Ranking()

	// The snapshot moves only once the leaderboard is up to date, so a
	// failed upsert is announced by the next tick
	if err := v.upsert(ctx, members); err != nil {
		return err
	}

	v.mu.Lock()
	old, fetched := v.members, v.fetched
	v.members = members
	v.fetched = true
	v.mu.Unlock()

	if fetched && v.announceChannelID != "" {
		v.announce(ctx, common.DiffArrays(old, members, func(m AOCMember) int64 { return m.ID }))
	}
	return nil
}

// Everything but the last updated line, which changes on every tick
func (v *AOCViewer) body(members []AOCMember) string {
	var builder strings.Builder
	builder.WriteString("**⭐ Advent of Code Leaderboard ⭐**\n\n")
	fmt.Fprintf(&builder, "Leaderboard: %s\n", v.endpoint)
	if len(members) == 0 {
		builder.WriteString("\nNobody has joined yet.\n")
		return builder.String()
	}

	var lastTs int64
	lastUser := "Noone"
	for _, member := range members {
		if member.LastStarTs > lastTs {
			lastTs = member.LastStarTs
			lastUser = member.DisplayName()
		}
	}
	fmt.Fprintf(&builder, "Last Submission: <t:%d> by %s\n\n", lastTs, lastUser)

	digits := len(strconv.Itoa(members[0].Stars))
	rows := make([][]string, 0, len(members))
	for i, member := range members {
		rows = append(rows, []string{
			strconv.Itoa(i + 1),
			fmt.Sprintf("%*d⭐", digits, member.Stars),
			member.DisplayName(),
			fmt.Sprintf("(%d points)", member.LocalScore),
		})
	}
	fmt.Fprintf(&builder, "```\n%s```\n", common.FormatTable(rows))
	return builder.String()
}

// Edit the latest message of the bot in the channel, or post a new one
func (v *AOCViewer) upsert(ctx context.Context, members []AOCMember) error {
	body := v.body(members)
	content := fmt.Sprintf("%sLast Updated: <t:%d>", body, v.Clock().Now().Unix())

	selfID, err := v.client.SelfID()
	if err != nil {
		return err
	}
	messages, err := v.client.Session.ChannelMessages(v.channelID, 1, "", "", "")
	if err != nil {
		return fmt.Errorf("could not fetch the messages of channel %s: %w", v.channelID, err)
	}
	if v.Killed() {
		return nil
	}
	if len(messages) > 0 && messages[0].Author != nil && messages[0].Author.ID == selfID {
		latest := messages[0]
		if strings.HasPrefix(latest.Content, body) {
			zerolog.Ctx(ctx).Debug().Msg("Leaderboard unchanged")
			return nil
		}
		if _, err := v.client.Session.ChannelMessageEdit(v.channelID, latest.ID, content); err != nil {
			return fmt.Errorf("could not edit the leaderboard message: %w", err)
		}
		return nil
	}
	if _, err := v.client.Session.ChannelMessageSend(v.channelID, content); err != nil {
		return fmt.Errorf("could not send the leaderboard message: %w", err)
	}
	return nil
}

func (v *AOCViewer) announce(ctx context.Context, diff common.Diff[AOCMember]) {
	var lines []string
	for _, member := range diff.Additions {
		lines = append(lines, fmt.Sprintf("**%s** joined the leaderboard with %d⭐", member.DisplayName(), member.Stars))
	}
	for _, member := range diff.Removals {
		lines = append(lines, fmt.Sprintf("**%s** left the leaderboard", member.DisplayName()))
	}
	for _, change := range diff.Changes {
		before, after := change.Before, change.After
		switch {
		case after.Stars != before.Stars:
			lines = append(lines, fmt.Sprintf("**%s** now has %d⭐ (%+d), %d points", after.DisplayName(), after.Stars, after.Stars-before.Stars, after.LocalScore))
		case after.LocalScore != before.LocalScore:
			lines = append(lines, fmt.Sprintf("**%s** now has %d points", after.DisplayName(), after.LocalScore))
		}
	}
	for _, line := range lines {
		if v.Killed() {
			return
		}
		v.client.Send(ctx, v.announceChannelID, client.NewResponseString(line))
	}
}
