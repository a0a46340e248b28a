// Package entities holds the concrete bot entities: the watchers polling
// remote data and the listeners reacting to gateway events.
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
)

const (
	ModDatabaseID  = "mod-database-manager"
	ToolDatabaseID = "tool-database-manager"
)

// A string that may come localised, in which case the en_US version is used
type LocalizedString string

var crossCodeMarkup = regexp.MustCompile(`\\[csi]\[[^\]]*\]`)

func (s *LocalizedString) UnmarshalJSON(data []byte) error {
	var plain string
	if err := json.Unmarshal(data, &plain); err == nil {
		*s = LocalizedString(crossCodeMarkup.ReplaceAllString(plain, ""))
		return nil
	}
	var localised map[string]string
	if err := json.Unmarshal(data, &localised); err != nil {
		return fmt.Errorf("localised string is not correctly formatted: %w", err)
	}
	english, ok := localised["en_US"]
	if !ok {
		return fmt.Errorf("no en_US string found")
	}
	*s = LocalizedString(crossCodeMarkup.ReplaceAllString(english, ""))
	return nil
}

// One or several author names
type Authors []string

func (a *Authors) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*a = Authors{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("authors are not correctly formatted: %w", err)
	}
	*a = many
	return nil
}

type ModMetadata struct {
	ID          string          `json:"id"`
	Version     string          `json:"version"`
	Title       LocalizedString `json:"title"`
	Description LocalizedString `json:"description"`
	Authors     Authors         `json:"authors"`
	Tags        []string        `json:"tags,omitempty"`
	Homepage    string          `json:"homepage,omitempty"`
	Repository  string          `json:"repository,omitempty"`
}

type Installation struct {
	Type string `json:"type"`
	URL  string `json:"url,omitempty"`
}

type Package struct {
	ID            string         `json:"-"`
	MetadataCCMod *ModMetadata   `json:"metadataCCMod,omitempty"`
	Installation  []Installation `json:"installation"`
	Stars         int            `json:"stars,omitempty"`
}

func (p Package) installable() bool {
	return slices.ContainsFunc(p.Installation, func(i Installation) bool { return i.Type == "zip" })
}

// Human readable name of a package, falling back to its id
func (p Package) Title() string {
	if p.MetadataCCMod != nil && p.MetadataCCMod.Title != "" {
		return string(p.MetadataCCMod.Title)
	}
	return p.ID
}

// Listing entry used by the mods and tools commands
func (p Package) Describe() string {
	metadata := p.MetadataCCMod
	if metadata == nil {
		return fmt.Sprintf("**%s**\n", p.ID)
	}
	components := []string{}
	header := fmt.Sprintf("**%s** **(%s)** by ***%s***", p.Title(), metadata.Version, strings.Join(metadata.Authors, ", "))
	if p.Stars > 0 {
		header += fmt.Sprintf(" (⭐**%d**)", p.Stars)
	}
	components = append(components, header)
	if metadata.Description != "" {
		components = append(components, string(metadata.Description))
	}
	tags := slices.DeleteFunc(slices.Clone(metadata.Tags), func(tag string) bool { return tag == "externaltool" })
	if len(tags) > 0 {
		components = append(components, fmt.Sprintf("Tags: *%s*", strings.Join(tags, ", ")))
	}
	for _, link := range []string{metadata.Homepage, metadata.Repository} {
		if link == "" {
			continue
		}
		components = append(components, fmt.Sprintf("[View at %s](%s)", repositoryName(link), link))
	}
	components = append(components, "")
	return strings.Join(components, "\n")
}

func repositoryName(link string) string {
	parsed, err := url.Parse(link)
	if err != nil {
		return "mod's homepage"
	}
	switch parsed.Hostname() {
	case "github.com":
		return "GitHub"
	case "gitlab.com":
		return "GitLab"
	default:
		return "mod's homepage"
	}
}

type PackageDatabaseData struct {
	entity.WatcherData
	Endpoint  string `json:"endpoint"`
	ChannelID string `json:"channelId,omitempty"`
}

// PackageDatabase polls a CCModDB package database. The mod flavour keeps
// installable mods only, the tool flavour keeps everything
type PackageDatabase struct {
	*entity.Watcher
	client    *client.Client
	endpoint  string
	channelID string
	tools     bool

	mu       sync.Mutex
	packages []Package
	fetched  bool
}

func NewModDatabase(ctx context.Context, c *client.Client, raw json.RawMessage) (entity.Entity, error) {
	return newPackageDatabase(c, raw, ModDatabaseID, false)
}

func NewToolDatabase(ctx context.Context, c *client.Client, raw json.RawMessage) (entity.Entity, error) {
	return newPackageDatabase(c, raw, ToolDatabaseID, true)
}

func newPackageDatabase(c *client.Client, raw json.RawMessage, id string, tools bool) (*PackageDatabase, error) {
	var data PackageDatabaseData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("package database data is not correctly formatted: %w", err)
	}
	if data.Endpoint == "" {
		return nil, fmt.Errorf("package database needs an endpoint")
	}
	if data.ChannelID != "" {
		if _, err := c.TextChannel(data.ChannelID); err != nil {
			return nil, err
		}
	}
	db := &PackageDatabase{client: c, endpoint: data.Endpoint, channelID: data.ChannelID, tools: tools}
	w, err := entity.NewWatcher(id, data.WatcherData, c.Clock, db.tick)
	if err != nil {
		return nil, err
	}
	db.Watcher = w
	return db, nil
}

func (db *PackageDatabase) SaveData() any {
	return PackageDatabaseData{WatcherData: db.WatcherData(), Endpoint: db.endpoint, ChannelID: db.channelID}
}

// Packages of the last successful fetch, sorted by id
func (db *PackageDatabase) Packages() []Package {
	db.mu.Lock()
	defer db.mu.Unlock()
	return slices.Clone(db.packages)
}

func (db *PackageDatabase) tick(ctx context.Context) error {
	response, err := common.GetJSON[map[string]Package](ctx, db.client.Proxy, db.endpoint, nil, true)
	if err != nil {
		return err
	}
	packages, err := db.filter(response)
	if err != nil {
		return err
	}

	db.mu.Lock()
	old, fetched := db.packages, db.fetched
	db.packages = packages
	db.fetched = true
	db.mu.Unlock()

	zerolog.Ctx(ctx).Debug().Int("packages", len(packages)).Msg("Package database refreshed")
	if fetched && db.channelID != "" {
		db.announce(ctx, common.DiffArrays(old, packages, func(p Package) string { return p.ID }))
	}
	return nil
}

func (db *PackageDatabase) filter(response map[string]Package) ([]Package, error) {
	ids := make([]string, 0, len(response))
	for id := range response {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	packages := make([]Package, 0, len(ids))
	for _, id := range ids {
		pkg := response[id]
		pkg.ID = id
		if !db.tools {
			if pkg.MetadataCCMod == nil {
				return nil, fmt.Errorf("mod %s has no ccmod.json metadata", id)
			}
			if slices.ContainsFunc(pkg.MetadataCCMod.Tags, func(tag string) bool { return tag == "base" || tag == "externaltool" }) {
				continue
			}
			if !pkg.installable() {
				continue
			}
		}
		packages = append(packages, pkg)
	}
	return packages, nil
}

func (db *PackageDatabase) announce(ctx context.Context, diff common.Diff[Package]) {
	kind := "Mod"
	if db.tools {
		kind = "Tool"
	}
	var embeds []*discordgo.MessageEmbed
	for _, pkg := range diff.Additions {
		embeds = append(embeds, packageEmbed(fmt.Sprintf("%s added", kind), pkg, colourAdded))
	}
	for _, pkg := range diff.Removals {
		embeds = append(embeds, packageEmbed(fmt.Sprintf("%s removed", kind), pkg, colourRemoved))
	}
	for _, change := range diff.Changes {
		embeds = append(embeds, packageEmbed(fmt.Sprintf("%s updated", kind), change.After, colourChanged))
	}
	for _, embed := range embeds {
		if db.Killed() {
			return
		}
		db.client.Send(ctx, db.channelID, client.ResponseEmbed{MessageEmbed: *embed})
	}
}

func packageEmbed(title string, pkg Package, colour int) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Author: &discordgo.MessageEmbedAuthor{Name: title},
		Title:  pkg.Title(),
		Color:  colour,
	}
	if metadata := pkg.MetadataCCMod; metadata != nil {
		embed.Description = string(metadata.Description)
		if metadata.Version != "" {
			embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: "Version", Value: metadata.Version, Inline: true})
		}
	}
	return embed
}
