package entities

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"regexp"
	"strconv"
	"sync"

	"keeper/internal/client"
	"keeper/internal/entity"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog/log"
)

const (
	star               = "⭐"
	starboardSetting   = "starboard-channel"
	noStarboardChannel = "0"
)

// Only the count prefix of a starboard message, never the quoted content
var starCount = regexp.MustCompile(`^` + star + ` \d+`)

type StarboardData struct {
	entity.Data
	Guild     string            `json:"guild"`
	Messages  map[string]int    `json:"messages,omitempty"`
	StarBinds map[string]string `json:"starBinds,omitempty"`
}

// Starboard mirrors starred messages of a guild into its starboard channel
type Starboard struct {
	*entity.Base
	client *client.Client
	guild  string

	mu sync.Mutex
	// Stars per message
	messages map[string]int
	// Starred message to starboard message
	starBinds map[string]string
}

func NewStarboard(ctx context.Context, c *client.Client, raw json.RawMessage) (entity.Entity, error) {
	var data StarboardData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("starboard data is not correctly formatted: %w", err)
	}
	guild, err := c.Session.Guild(data.Guild)
	if err != nil {
		return nil, fmt.Errorf("unable to find the guild %s: %w", data.Guild, err)
	}
	s := &Starboard{
		Base:      entity.NewBase("starboard-"+guild.ID, data.Data, c.Clock),
		client:    c,
		guild:     guild.ID,
		messages:  data.Messages,
		starBinds: data.StarBinds,
	}
	if s.messages == nil {
		s.messages = map[string]int{}
	}
	if s.starBinds == nil {
		s.starBinds = map[string]string{}
	}
	s.OnStart(func() {
		c.Listen(s.Base, func(_ *discordgo.Session, r *discordgo.MessageReactionAdd) { s.onReaction(r.MessageReaction, true) })
		c.Listen(s.Base, func(_ *discordgo.Session, r *discordgo.MessageReactionRemove) { s.onReaction(r.MessageReaction, false) })
	})
	return s, nil
}

func (s *Starboard) SaveData() any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return StarboardData{
		Data:      s.Data(),
		Guild:     s.guild,
		Messages:  maps.Clone(s.messages),
		StarBinds: maps.Clone(s.starBinds),
	}
}

func (s *Starboard) Stars(messageID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.messages[messageID]
}

func (s *Starboard) onReaction(r *discordgo.MessageReaction, add bool) {
	if s.Killed() || r == nil || r.GuildID != s.guild || r.Emoji.Name != star {
		return
	}
	channelID := s.client.Settings.GetString(s.guild, starboardSetting, noStarboardChannel)
	if channelID == noStarboardChannel {
		return
	}
	if err := s.count(r, add, channelID); err != nil {
		log.Error().Err(err).Str("entity", s.ID()).Str("message", r.MessageID).Msg("Could not update the starboard")
	}
}

// Handlers run concurrently, the whole update happens under the lock
func (s *Starboard) count(r *discordgo.MessageReaction, add bool, channelID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !add {
		if s.messages[r.MessageID] == 0 {
			return nil
		}
		s.messages[r.MessageID]--
		s.Updated()
		return s.editCountLocked(r.MessageID, channelID)
	}

	s.messages[r.MessageID]++
	s.Updated()
	if s.messages[r.MessageID] > 1 {
		return s.editCountLocked(r.MessageID, channelID)
	}
	starred, err := s.client.Session.ChannelMessage(r.ChannelID, r.MessageID)
	if err != nil {
		return fmt.Errorf("could not fetch the starred message: %w", err)
	}
	posted, err := s.client.Session.ChannelMessageSend(channelID, fmt.Sprintf("%s %d: %s", star, s.messages[r.MessageID], starred.Content))
	if err != nil {
		return fmt.Errorf("could not post to the starboard: %w", err)
	}
	s.starBinds[starred.ID] = posted.ID
	return nil
}

func (s *Starboard) editCountLocked(messageID, channelID string) error {
	bound, ok := s.starBinds[messageID]
	if !ok {
		return nil
	}
	posted, err := s.client.Session.ChannelMessage(channelID, bound)
	if err != nil {
		return fmt.Errorf("could not fetch the starboard message: %w", err)
	}
	content := starCount.ReplaceAllString(posted.Content, star+" "+strconv.Itoa(s.messages[messageID]))
	if _, err := s.client.Session.ChannelMessageEdit(channelID, bound, content); err != nil {
		return fmt.Errorf("could not edit the starboard message: %w", err)
	}
	return nil
}
