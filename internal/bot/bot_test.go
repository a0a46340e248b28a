package bot_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"keeper/internal/bot"
	"keeper/internal/client/clienttest"
	"keeper/internal/entities"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) (*bot.Bot, *clienttest.Env) {
	t.Helper()
	env := clienttest.New(t)
	require.NoError(t, entities.RegisterAll(env.Client.Entities))
	env.Session.AddChannel("g", "chat")
	return bot.New(env.Client, ".cc", time.Minute, time.Second), env
}

func say(b *bot.Bot, author string, content string) {
	b.Receive(nil, &discordgo.MessageCreate{Message: &discordgo.Message{
		ID:        "incoming",
		GuildID:   "g",
		ChannelID: "chat",
		Content:   content,
		Author:    &discordgo.User{ID: author},
	}})
}

func contents(sent []clienttest.Sent) []string {
	result := []string{}
	for _, s := range sent {
		result = append(result, s.Content)
	}
	return result
}

func modServer(t *testing.T, body string) string {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server.URL
}

func TestIgnoresOtherMessages(t *testing.T) {
	b, env := setup(t)
	say(b, "user", "hello")
	say(b, "bot", ".cc help")
	require.Empty(t, env.Session.Drain())

	say(b, "user", ".cc dance")
	require.Equal(t, []string{"Input not valid: \n> Command `dance` not recognised"}, contents(env.Session.Drain()))
}

func TestHelp(t *testing.T) {
	b, env := setup(t)
	say(b, "user", ".cc help")
	sent := env.Session.Drain()
	require.Len(t, sent, 1)
	require.Equal(t, "Commands available", sent[0].Embeds[0].Title)
	require.Equal(t, "`.cc mods`", sent[0].Embeds[0].Fields[0].Name)
}

func TestModsCommand(t *testing.T) {
	b, env := setup(t)
	say(b, "user", ".cc mods")
	require.Equal(t, []string{"ooo! you haven't added the initial entities! (no mod-database-manager)"}, contents(env.Session.Drain()))

	url := modServer(t, `{"a": {"metadataCCMod": {"id": "a", "version": "1.0.0", "title": "Alpha", "authors": "me"}, "installation": [{"type": "zip"}]}}`)
	say(b, clienttest.Owner, `.cc spawn {"type": "mod-database", "refreshMs": 60000, "endpoint": "`+url+`"}`)
	require.Equal(t, []string{"Entity `mod-database-manager` is alive"}, contents(env.Session.Drain()))

	// Nothing fetched yet
	say(b, "user", ".cc mods")
	sent := contents(env.Session.Drain())
	require.Len(t, sent, 1)
	require.Contains(t, sent[0], "Mod information isn't available")

	env.Clock.Advance(0)
	say(b, "user", ".cc mods")
	sent = contents(env.Session.Drain())
	require.Len(t, sent, 1)
	require.Contains(t, sent[0], "**Alpha** **(1.0.0)** by ***me***")
	require.True(t, strings.HasSuffix(sent[0], "From CCModDB"))
}

func TestDatabaseErrorIsShown(t *testing.T) {
	b, env := setup(t)
	url := modServer(t, `not json`)
	say(b, clienttest.Owner, `.cc spawn {"type": "plugin-database", "refreshMs": 60000, "endpoint": "`+url+`"}`)
	env.Session.Drain()
	env.Clock.Advance(0)

	say(b, "user", ".cc plugins alpha")
	sent := contents(env.Session.Drain())
	require.Len(t, sent, 1)
	require.Contains(t, sent[0], "Plugin information isn't available")
	require.Contains(t, sent[0], "not correctly formatted")
}

func TestOwnerCommands(t *testing.T) {
	b, env := setup(t)
	say(b, "user", `.cc spawn {"type": "starboard", "guild": "g"}`)
	say(b, "user", ".cc kill starboard-g")
	say(b, "user", ".cc config starboard-channel chat")
	require.Equal(t, []string{
		"Only the owners of the bot can do that",
		"Only the owners of the bot can do that",
		"Only the owners of the bot can do that",
	}, contents(env.Session.Drain()))

	say(b, clienttest.Owner, `.cc spawn {"type": "starboard", "guild": "g"}`)
	say(b, clienttest.Owner, `.cc spawn {"type": "ghost"}`)
	say(b, clienttest.Owner, ".cc config starboard-channel chat")
	say(b, clienttest.Owner, ".cc status")
	sent := contents(env.Session.Drain())
	require.Len(t, sent, 4)
	require.Equal(t, "Entity `starboard-g` is alive", sent[0])
	require.Contains(t, sent[1], "Could not create the entity")
	require.Contains(t, sent[1], "unknown entity type")
	require.Equal(t, "Setting `starboard-channel` changed", sent[2])
	require.Contains(t, sent[3], "starboard-g starboard ok")
	require.Equal(t, "chat", env.Client.Settings.GetString("g", "starboard-channel", ""))

	// Spawning flushes right away
	require.NotNil(t, env.Store.Get("starboard-g"))

	say(b, clienttest.Owner, ".cc kill starboard-g")
	say(b, clienttest.Owner, ".cc kill starboard-g")
	require.Equal(t, []string{"Entity `starboard-g` has been killed", "Entity `starboard-g` is not alive"}, contents(env.Session.Drain()))
	require.Nil(t, env.Store.Get("starboard-g"))
}

func TestLoadSeedsOnlyEmptyStore(t *testing.T) {
	b, env := setup(t)
	url := modServer(t, `{}`)
	seeds := []json.RawMessage{
		json.RawMessage(`{"type": "tool-database", "refreshMs": 60000, "endpoint": "` + url + `"}`),
		json.RawMessage(`{"type": "ghost"}`),
	}
	require.NoError(t, b.Load(context.Background(), seeds))
	require.Len(t, env.Client.Entities.Entities(), 1)
	require.NotNil(t, env.Store.Get(entities.ToolDatabaseID))

	// A second start restores the saved entity instead
	require.NoError(t, b.Shutdown())
	require.Empty(t, env.Client.Entities.Entities())
	require.NoError(t, b.Load(context.Background(), []json.RawMessage{json.RawMessage(`{"type": "starboard", "guild": "g"}`)}))
	summaries := env.Client.Entities.Entities()
	require.Len(t, summaries, 1)
	require.Equal(t, entities.ToolDatabaseID, summaries[0].ID)
}

func TestRunShutsDownWithContext(t *testing.T) {
	b, env := setup(t)
	say(b, clienttest.Owner, `.cc spawn {"type": "starboard", "guild": "g", "messages": {"m": 2}}`)
	env.Session.Drain()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()
	require.Eventually(t, func() bool { return env.Session.Handlers() == 3 }, time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	require.Empty(t, env.Client.Entities.Entities())
	require.Equal(t, 0, env.Session.Handlers())
	var saved entities.StarboardData
	require.NoError(t, json.Unmarshal(env.Store.Get("starboard-g"), &saved))
	require.Equal(t, map[string]int{"m": 2}, saved.Messages)
}

func TestListingChunks(t *testing.T) {
	elements := []string{}
	for i := 0; i < 50; i++ {
		elements = append(elements, strings.Repeat("x", 99))
	}
	responses := bot.Listing(elements, "footer")
	require.Len(t, responses, 3)
	last, ok := responses[2].(interface{ Content() string })
	require.True(t, ok)
	require.True(t, strings.HasSuffix(last.Content(), "\nfooter"))
	for _, response := range responses {
		require.LessOrEqual(t, len(response.(interface{ Content() string }).Content()), 2000)
	}
}
