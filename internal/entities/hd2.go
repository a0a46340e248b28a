package entities

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"keeper/internal/client"
	"keeper/internal/common"
	"keeper/internal/entity"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"
)

const (
	colourAdded   = 0x2DB610
	colourChanged = 0xE0A313
	colourRemoved = 0xE01D13
)

type GalacticWarEffect struct {
	ID                 int64     `json:"id"`
	GameplayEffectID32 int64     `json:"gameplayEffectId32"`
	EffectType         int64     `json:"effectType"`
	NameHash           int64     `json:"nameHash"`
	Values             []float64 `json:"values"`
	ValueTypes         []int64   `json:"valueTypes"`
}

type WarStatus struct {
	StoryBeatID32 int64 `json:"storyBeatId32"`
}

type HD2TrackerData struct {
	entity.WatcherData
	ChannelID     string              `json:"channelId"`
	BaseURL       string              `json:"baseUrl"`
	APIType       string              `json:"apiType"`
	WarID         string              `json:"warId"`
	Colour        string              `json:"colour"`
	Effects       []GalacticWarEffect `json:"effects"`
	StoryBeatID32 int64               `json:"storyBeatId32"`
}

// HD2Tracker reports changes of the galactic war effects and story beat of
// a Helldivers 2 API
type HD2Tracker struct {
	*entity.Watcher
	client    *client.Client
	channelID string
	baseURL   string
	apiType   string
	warID     string
	colour    string

	mu            sync.Mutex
	effects       []GalacticWarEffect
	storyBeatID32 int64
}

func NewHD2Tracker(ctx context.Context, c *client.Client, raw json.RawMessage) (entity.Entity, error) {
	var data HD2TrackerData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("hd2 tracker data is not correctly formatted: %w", err)
	}
	if _, err := c.TextChannel(data.ChannelID); err != nil {
		return nil, err
	}
	t := &HD2Tracker{
		client:        c,
		channelID:     data.ChannelID,
		baseURL:       data.BaseURL,
		apiType:       data.APIType,
		warID:         data.WarID,
		colour:        data.Colour,
		effects:       data.Effects,
		storyBeatID32: data.StoryBeatID32,
	}
	w, err := entity.NewWatcher(fmt.Sprintf("hd2-tracker-%s-%s", data.APIType, data.ChannelID), data.WatcherData, c.Clock, t.tick)
	if err != nil {
		return nil, err
	}
	t.Watcher = w
	return t, nil
}

func (t *HD2Tracker) SaveData() any {
	t.mu.Lock()
	defer t.mu.Unlock()
	return HD2TrackerData{
		WatcherData:   t.WatcherData(),
		ChannelID:     t.channelID,
		BaseURL:       t.baseURL,
		APIType:       t.apiType,
		WarID:         t.warID,
		Colour:        t.colour,
		Effects:       t.effects,
		StoryBeatID32: t.storyBeatID32,
	}
}

func (t *HD2Tracker) effectsURL() string {
	return strings.TrimSuffix(t.baseURL, "/") + "/api/WarSeason/GalacticWarEffects"
}

func (t *HD2Tracker) statusURL() string {
	return fmt.Sprintf("%s/api/WarSeason/%s/Status", strings.TrimSuffix(t.baseURL, "/"), t.warID)
}

func (t *HD2Tracker) header() map[string]string {
	return map[string]string{"User-Agent": t.client.UserAgent}
}

func (t *HD2Tracker) tick(ctx context.Context) error {
	effects, err := common.GetJSON[[]GalacticWarEffect](ctx, t.client.Proxy, t.effectsURL(), t.header(), false)
	if err != nil {
		return err
	}
	t.handleEffects(ctx, effects)

	status, err := common.GetJSON[WarStatus](ctx, t.client.Proxy, t.statusURL(), t.header(), false)
	if err != nil {
		return err
	}
	t.handleStatus(ctx, status)

	t.PostponeDeathAndUpdate()
	return nil
}

func (t *HD2Tracker) handleEffects(ctx context.Context, fetched []GalacticWarEffect) {
	t.mu.Lock()
	old := t.effects
	t.effects = fetched
	t.mu.Unlock()

	if len(old) == 0 {
		zerolog.Ctx(ctx).Info().Int("effects", len(fetched)).Msg("Storing the first set of effects")
		return
	}

	diff := common.DiffArrays(old, fetched, func(e GalacticWarEffect) int64 { return e.ID })
	for _, addition := range diff.Additions {
		t.send(ctx, t.effectEmbed("added", addition))
	}
	for _, removal := range diff.Removals {
		t.send(ctx, t.effectEmbed("removed", removal))
	}
	for _, change := range diff.Changes {
		t.send(ctx, t.effectEmbed("changed", change.After), effectChangesEmbed(change.Before, change.After))
	}
}

func (t *HD2Tracker) handleStatus(ctx context.Context, status WarStatus) {
	t.mu.Lock()
	old := t.storyBeatID32
	t.storyBeatID32 = status.StoryBeatID32
	t.mu.Unlock()

	if old == status.StoryBeatID32 {
		return
	}
	t.send(ctx, &discordgo.MessageEmbed{
		Author: &discordgo.MessageEmbedAuthor{
			Name:    fmt.Sprintf("storyBeatId32 changed on %s", t.apiType),
			IconURL: colourIconURL(t.colour),
		},
		Title: fmt.Sprintf("`%d` → `%d`", old, status.StoryBeatID32),
		Color: colourChanged,
	})
}

func (t *HD2Tracker) send(ctx context.Context, embeds ...*discordgo.MessageEmbed) {
	if t.Killed() {
		return
	}
	t.client.Send(ctx, t.channelID, client.ResponseEmbeds(embeds))
}

func (t *HD2Tracker) effectEmbed(kind string, effect GalacticWarEffect) *discordgo.MessageEmbed {
	colour := colourRemoved
	switch kind {
	case "added":
		colour = colourAdded
	case "changed":
		colour = colourChanged
	}
	fields := []*discordgo.MessageEmbedField{
		{Name: "`nameHash`", Value: fmt.Sprintf("`%d`", effect.NameHash), Inline: true},
		{Name: "`gameplayEffectId32`", Value: fmt.Sprintf("`%d`", effect.GameplayEffectID32), Inline: true},
	}
	for i := 0; i < 2; i++ {
		value := "none"
		if i < len(effect.Values) {
			value = formatNumber(effect.Values[i])
		}
		valueType := "none"
		if i < len(effect.ValueTypes) {
			valueType = strconv.FormatInt(effect.ValueTypes[i], 10)
		}
		fields = append(fields, &discordgo.MessageEmbedField{
			Name:  fmt.Sprintf("Value %d", i+1),
			Value: fmt.Sprintf("Type `%s`: %s", valueType, value),
		})
	}
	return &discordgo.MessageEmbed{
		Author: &discordgo.MessageEmbedAuthor{
			Name:    fmt.Sprintf("Galactic War Effect %s on %s", kind, t.apiType),
			IconURL: colourIconURL(t.colour),
		},
		Title:  fmt.Sprintf("%d `effectType %d`", effect.ID, effect.EffectType),
		Fields: fields,
		Color:  colour,
	}
}

// One field per JSON property that differs between the two effects
func effectChangesEmbed(before, after GalacticWarEffect) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Author: &discordgo.MessageEmbedAuthor{Name: "Effect Changes"},
		Color:  colourChanged,
	}
	b, a := reflect.ValueOf(before), reflect.ValueOf(after)
	for i := 0; i < b.NumField(); i++ {
		name, _, _ := strings.Cut(b.Type().Field(i).Tag.Get("json"), ",")
		prev, next := b.Field(i).Interface(), a.Field(i).Interface()
		if common.SameJSON(prev, next) {
			continue
		}
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:   name,
			Value:  fmt.Sprintf("`%s` → `%s`", formatValue(prev), formatValue(next)),
			Inline: true,
		})
	}
	return embed
}

func formatValue(v any) string {
	switch v := v.(type) {
	case []float64:
		parts := make([]string, len(v))
		for i, f := range v {
			parts[i] = formatNumber(f)
		}
		return strings.Join(parts, ",")
	case []int64:
		parts := make([]string, len(v))
		for i, n := range v {
			parts[i] = strconv.FormatInt(n, 10)
		}
		return strings.Join(parts, ",")
	default:
		return fmt.Sprint(v)
	}
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func colourIconURL(hex string) string {
	return "https://colours.alyxia.dev/" + strings.TrimPrefix(hex, "#")
}
