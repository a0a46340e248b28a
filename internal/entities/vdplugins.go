package entities

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"slices"
	"sort"
	"strings"
	"sync"

	"keeper/internal/client"
	"keeper/internal/common"
	"keeper/internal/entity"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	PluginDatabaseID = "plugin-database-manager"
	QuickLinksID     = "quicklinks-listener"

	defaultTags        = `\[\[(.*?)\]\]`
	defaultInstallBase = "https://vd-plugins.github.io/proxy/"
	blacklistSetting   = "quicklinks-blacklist"
)

type PluginAuthor struct {
	Name string `json:"name"`
	ID   string `json:"id,omitempty"`
}

type Plugin struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Authors     []PluginAuthor `json:"authors"`
	Main        string         `json:"main,omitempty"`
	Hash        string         `json:"hash,omitempty"`
	Vendetta    struct {
		Icon     string `json:"icon,omitempty"`
		Original string `json:"original"`
	} `json:"vendetta"`
	URL string `json:"url,omitempty"`
}

func (p Plugin) AuthorNames() string {
	names := make([]string, 0, len(p.Authors))
	for _, author := range p.Authors {
		names = append(names, author.Name)
	}
	return strings.Join(names, ", ")
}

// Listing entry used by the plugins command
func (p Plugin) Describe() string {
	components := []string{fmt.Sprintf("**%s** (by %s)", p.Name, p.AuthorNames())}
	if p.Description != "" {
		components = append(components, p.Description)
	}
	components = append(components, fmt.Sprintf("[Link](%s)", p.URL), "")
	return strings.Join(components, "\n")
}

var whitespace = regexp.MustCompile(`\s+`)

func normalize(s string) string {
	return whitespace.ReplaceAllString(strings.TrimSpace(strings.ToLower(s)), " ")
}

// Plugins matching the query in their name, description or authors.
// Name matches come first, then names starting with the query,
// then description matches. The order is otherwise kept
func SearchPlugins(plugins []Plugin, query string) []Plugin {
	query = normalize(query)
	if query == "" {
		return slices.Clone(plugins)
	}
	type candidate struct {
		plugin Plugin
		rank   [3]bool
	}
	var candidates []candidate
	for _, plugin := range plugins {
		fields := []string{plugin.Name, plugin.Description}
		for _, author := range plugin.Authors {
			fields = append(fields, author.Name)
		}
		if !slices.ContainsFunc(fields, func(field string) bool { return strings.Contains(normalize(field), query) }) {
			continue
		}
		name := normalize(plugin.Name)
		candidates = append(candidates, candidate{plugin, [3]bool{
			strings.Contains(name, query),
			strings.HasPrefix(name, query),
			strings.Contains(normalize(plugin.Description), query),
		}})
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		for k := range candidates[i].rank {
			if candidates[i].rank[k] != candidates[j].rank[k] {
				return candidates[i].rank[k]
			}
		}
		return false
	})
	result := make([]Plugin, 0, len(candidates))
	for _, c := range candidates {
		result = append(result, c.plugin)
	}
	return result
}

type PluginDatabaseData struct {
	entity.WatcherData
	Endpoint  string `json:"endpoint"`
	ChannelID string `json:"channelId,omitempty"`
}

// PluginDatabase polls a Vendetta plugin manifest list
type PluginDatabase struct {
	*entity.Watcher
	client    *client.Client
	endpoint  *url.URL
	channelID string

	mu      sync.Mutex
	plugins []Plugin
	fetched bool
}

func NewPluginDatabase(ctx context.Context, c *client.Client, raw json.RawMessage) (entity.Entity, error) {
	var data PluginDatabaseData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("plugin database data is not correctly formatted: %w", err)
	}
	endpoint, err := url.Parse(data.Endpoint)
	if err != nil || data.Endpoint == "" {
		return nil, fmt.Errorf("plugin database endpoint %q is not valid", data.Endpoint)
	}
	if data.ChannelID != "" {
		if _, err := c.TextChannel(data.ChannelID); err != nil {
			return nil, err
		}
	}
	db := &PluginDatabase{client: c, endpoint: endpoint, channelID: data.ChannelID}
	w, err := entity.NewWatcher(PluginDatabaseID, data.WatcherData, c.Clock, db.tick)
	if err != nil {
		return nil, err
	}
	db.Watcher = w
	return db, nil
}

func (db *PluginDatabase) SaveData() any {
	return PluginDatabaseData{WatcherData: db.WatcherData(), Endpoint: db.endpoint.String(), ChannelID: db.channelID}
}

// Plugins of the last successful fetch, newest first
func (db *PluginDatabase) Plugins() []Plugin {
	db.mu.Lock()
	defer db.mu.Unlock()
	return slices.Clone(db.plugins)
}

func (db *PluginDatabase) tick(ctx context.Context) error {
	response, err := common.GetJSON[[]Plugin](ctx, db.client.Proxy, db.endpoint.String(), nil, true)
	if err != nil {
		return err
	}
	slices.Reverse(response)
	for i := range response {
		original, err := url.Parse(response[i].Vendetta.Original)
		if err != nil {
			return fmt.Errorf("plugin %s has an invalid location %q: %w", response[i].Name, response[i].Vendetta.Original, err)
		}
		response[i].URL = db.endpoint.ResolveReference(original).String()
	}

	db.mu.Lock()
	old, fetched := db.plugins, db.fetched
	db.plugins = response
	db.fetched = true
	db.mu.Unlock()

	zerolog.Ctx(ctx).Debug().Int("plugins", len(response)).Msg("Plugin database refreshed")
	if fetched && db.channelID != "" {
		db.announce(ctx, common.DiffArrays(old, response, func(p Plugin) string { return p.Vendetta.Original }))
	}
	return nil
}

func (db *PluginDatabase) announce(ctx context.Context, diff common.Diff[Plugin]) {
	var embeds []*discordgo.MessageEmbed
	for _, plugin := range diff.Additions {
		embeds = append(embeds, pluginEmbed("Plugin added", plugin, colourAdded))
	}
	for _, plugin := range diff.Removals {
		embeds = append(embeds, pluginEmbed("Plugin removed", plugin, colourRemoved))
	}
	for _, change := range diff.Changes {
		embeds = append(embeds, pluginEmbed("Plugin updated", change.After, colourChanged))
	}
	for _, embed := range embeds {
		if db.Killed() {
			return
		}
		db.client.Send(ctx, db.channelID, client.ResponseEmbed{MessageEmbed: *embed})
	}
}

func pluginEmbed(title string, plugin Plugin, colour int) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Author:      &discordgo.MessageEmbedAuthor{Name: title},
		Title:       plugin.Name,
		URL:         plugin.URL,
		Description: plugin.Description,
		Color:       colour,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Author(s)", Value: plugin.AuthorNames()},
		},
	}
}

type QuickLinksData struct {
	entity.Data
	Guild       string   `json:"guild"`
	Tags        string   `json:"tags,omitempty"`
	Blacklist   []string `json:"blacklist,omitempty"`
	InstallBase string   `json:"installBase,omitempty"`
}

// QuickLinks answers [[plugin name]] mentions with the best matching plugin
type QuickLinks struct {
	*entity.Base
	client      *client.Client
	guild       string
	tags        *regexp.Regexp
	blacklist   []string
	installBase string
}

func NewQuickLinks(ctx context.Context, c *client.Client, raw json.RawMessage) (entity.Entity, error) {
	var data QuickLinksData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("quicklinks data is not correctly formatted: %w", err)
	}
	if data.Guild == "" {
		return nil, fmt.Errorf("quicklinks needs a guild")
	}
	if data.Tags == "" {
		data.Tags = defaultTags
	}
	tags, err := regexp.Compile(data.Tags)
	if err != nil {
		return nil, fmt.Errorf("quicklinks tags %q are not a valid expression: %w", data.Tags, err)
	}
	if data.InstallBase == "" {
		data.InstallBase = defaultInstallBase
	}
	q := &QuickLinks{
		Base:        entity.NewBase(QuickLinksID, data.Data, c.Clock),
		client:      c,
		guild:       data.Guild,
		tags:        tags,
		blacklist:   data.Blacklist,
		installBase: data.InstallBase,
	}
	q.OnStart(func() { c.Listen(q.Base, q.onMessage) })
	return q, nil
}

func (q *QuickLinks) SaveData() any {
	data := QuickLinksData{Data: q.Data(), Guild: q.guild, Tags: q.tags.String(), Blacklist: q.blacklist}
	if q.installBase != defaultInstallBase {
		data.InstallBase = q.installBase
	}
	return data
}

func (q *QuickLinks) onMessage(_ *discordgo.Session, m *discordgo.MessageCreate) {
	if q.Killed() || m.GuildID != q.guild || m.Author == nil || m.Author.Bot {
		return
	}
	if slices.Contains(q.blacklist, m.ChannelID) || slices.Contains(q.client.Settings.GetStrings(q.guild, blacklistSetting), m.ChannelID) {
		return
	}
	matches := q.tags.FindStringSubmatch(m.Content)
	if len(matches) < 2 || normalize(matches[1]) == "" {
		return
	}

	reply := q.reply(matches[1])
	if reply == nil {
		return
	}
	reply.Reference = m.Reference()
	if _, err := q.client.Session.ChannelMessageSendComplex(m.ChannelID, reply); err != nil {
		log.Error().Err(err).Str("entity", q.ID()).Str("channel", m.ChannelID).Msg("Could not send quick link")
	}
}

func (q *QuickLinks) reply(query string) *discordgo.MessageSend {
	db, ok := entity.Get[*PluginDatabase](q.client.Entities, PluginDatabaseID)
	if !ok {
		return &discordgo.MessageSend{Content: fmt.Sprintf("ooo! you haven't started the plugin database entity! (no %s found)", PluginDatabaseID)}
	}
	plugins := db.Plugins()
	if len(plugins) == 0 {
		return nil
	}
	found := SearchPlugins(plugins, query)
	if len(found) == 0 {
		return &discordgo.MessageSend{Content: "No plugins found with that query"}
	}
	plugin := found[0]
	return &discordgo.MessageSend{
		Embeds: []*discordgo.MessageEmbed{{
			Title:       plugin.Name,
			Description: plugin.Description,
			Fields: []*discordgo.MessageEmbedField{
				{Name: "Author(s)", Value: plugin.AuthorNames()},
			},
		}},
		Components: []discordgo.MessageComponent{
			discordgo.ActionsRow{Components: []discordgo.MessageComponent{
				discordgo.Button{Label: "Install Plugin", Style: discordgo.LinkButton, URL: q.installBase + plugin.Vendetta.Original},
			}},
		},
	}
}
