package entities

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"keeper/internal/client"
	"keeper/internal/entity"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog/log"
)

const (
	AuditorID = "auditor-manager"

	// Guild settings holding the report channels
	banLogSetting  = "channel-ban-log"
	editLogSetting = "channel-editlog"

	colourDeleted = 0xFF0000
	colourUpdated = 0xFFFF00

	// Bulk events list their message ids up to this count
	maxListedIDs = 50
)

// Zero width space keeps quoted code fences from closing ours
const fenceBreak = "`\u200b``"

var markdownEscaper = strings.NewReplacer(`\`, `\\`, "*", `\*`, "_", `\_`, "`", "\\`", "~", `\~`, "|", `\|`, ">", `\>`)

// Auditor reports bans, message edits and message deletions of every guild
// to the channels configured in the guild settings
type Auditor struct {
	*entity.Base
	client *client.Client
}

func NewAuditor(ctx context.Context, c *client.Client, raw json.RawMessage) (entity.Entity, error) {
	var data entity.Data
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("auditor data is not correctly formatted: %w", err)
	}
	a := &Auditor{
		Base:   entity.NewBase(AuditorID, data, c.Clock),
		client: c,
	}
	a.OnStart(func() {
		c.Listen(a.Base, func(_ *discordgo.Session, b *discordgo.GuildBanAdd) { a.onBan(b.GuildID, b.User, true) })
		c.Listen(a.Base, func(_ *discordgo.Session, b *discordgo.GuildBanRemove) { a.onBan(b.GuildID, b.User, false) })
		c.Listen(a.Base, func(_ *discordgo.Session, m *discordgo.MessageUpdate) { a.onMessage(m.Message, m.BeforeUpdate, false) })
		c.Listen(a.Base, func(_ *discordgo.Session, m *discordgo.MessageDelete) { a.onMessage(m.Message, m.BeforeDelete, true) })
		c.Listen(a.Base, a.onBulkDelete)
	})
	return a, nil
}

func (a *Auditor) SaveData() any {
	return a.Data()
}

// Report channel of a guild, empty when the guild has none
func (a *Auditor) reportChannel(guildID, setting string) string {
	if guildID == "" {
		return ""
	}
	return a.client.Settings.GetString(guildID, setting, "")
}

func (a *Auditor) timestamp() string {
	return a.Clock().Now().UTC().Format(time.RFC3339)
}

func (a *Auditor) onBan(guildID string, user *discordgo.User, added bool) {
	if a.Killed() || user == nil {
		return
	}
	channelID := a.reportChannel(guildID, banLogSetting)
	if channelID == "" {
		return
	}

	title := "Ban Removed"
	reason := ""
	if added {
		title = "Ban Added"
		if ban, err := a.client.Session.GuildBan(guildID, user.ID); err == nil {
			reason = markdownEscaper.Replace(ban.Reason)
		} else {
			log.Debug().Err(err).Str("entity", a.ID()).Str("user", user.ID).Msg("Ban reason unavailable")
		}
	}
	a.report(channelID, &discordgo.MessageEmbed{
		Title:       title,
		Description: reason,
		Timestamp:   a.timestamp(),
		Footer: &discordgo.MessageEmbedFooter{
			Text:    fmt.Sprintf("%s (%s)", user.String(), user.ID),
			IconURL: user.AvatarURL(""),
		},
	})
}

func (a *Auditor) onMessage(message, before *discordgo.Message, deletion bool) {
	if a.Killed() || message == nil {
		return
	}
	channelID := a.reportChannel(message.GuildID, editLogSetting)
	// Reports about the report channel would feed themselves
	if channelID == "" || channelID == message.ChannelID {
		return
	}
	selfID, _ := a.client.SelfID()

	title := "Message Updated"
	colour := colourUpdated
	if deletion {
		title = "Message Deleted"
		colour = colourDeleted
	}
	embed := &discordgo.MessageEmbed{
		Title:     fmt.Sprintf("%s (%s, %s)", title, a.channelName(message.ChannelID), message.ID),
		Color:     colour,
		Timestamp: a.timestamp(),
	}

	unknown := before == nil || before.Author == nil
	if !unknown {
		// Our own embeds cause edits
		if before.Author.ID == selfID {
			return
		}
		embed.Description = "Information on the message before changes:\n" + summarizeMessage(before)
	} else {
		if message.Author != nil && message.Author.ID == selfID {
			return
		}
		embed.Description = "Further information about the old version of the message is unavailable."
	}
	a.report(channelID, embed)

	if !unknown || deletion {
		return
	}
	current := message
	if current.Author == nil {
		fetched, err := a.client.Session.ChannelMessage(message.ChannelID, message.ID)
		if err != nil {
			return
		}
		current = fetched
	}
	if _, err := a.client.Session.ChannelMessageSend(channelID, fmt.Sprintf("Current (after edits) information on %s:%s", message.ID, summarizeMessage(current))); err != nil {
		log.Error().Err(err).Str("entity", a.ID()).Str("channel", channelID).Msg("Could not report the current message")
	}
}

func (a *Auditor) onBulkDelete(_ *discordgo.Session, m *discordgo.MessageDeleteBulk) {
	if a.Killed() {
		return
	}
	channelID := a.reportChannel(m.GuildID, editLogSetting)
	if channelID == "" || channelID == m.ChannelID {
		return
	}
	description := "Too many messages to show IDs"
	if len(m.Messages) <= maxListedIDs {
		description = "IDs:\n" + strings.Join(m.Messages, ", ")
	}
	a.report(channelID, &discordgo.MessageEmbed{
		Title:       fmt.Sprintf("Bulk Delete (%d messages in %s)", len(m.Messages), a.channelName(m.ChannelID)),
		Description: description,
		Color:       colourDeleted,
		Timestamp:   a.timestamp(),
	})
}

func (a *Auditor) channelName(channelID string) string {
	if channel, err := a.client.Session.Channel(channelID); err == nil && channel.Name != "" {
		return "#" + channel.Name
	}
	return "#" + channelID
}

// Send the embed, falling back to plain text when Discord refuses it
func (a *Auditor) report(channelID string, embed *discordgo.MessageEmbed) {
	_, err := a.client.Session.ChannelMessageSendEmbeds(channelID, []*discordgo.MessageEmbed{embed})
	if err == nil {
		return
	}
	log.Warn().Err(err).Str("entity", a.ID()).Str("channel", channelID).Msg("Could not send the audit embed")
	if _, err := a.client.Session.ChannelMessageSend(channelID, fmt.Sprintf("Unable to state details on %s\n%s", embed.Title, err)); err != nil {
		log.Error().Err(err).Str("entity", a.ID()).Str("channel", channelID).Msg("Could not send the audit report")
	}
}

func summarizeMessage(message *discordgo.Message) string {
	var builder strings.Builder
	if message.Author != nil {
		fmt.Fprintf(&builder, "\nAuthor: %s (%s)", message.Author.String(), message.Author.ID)
	}
	fmt.Fprintf(&builder, "\nContent:\n```\n%s\n```", strings.ReplaceAll(message.Content, "```", fenceBreak))
	for _, attachment := range message.Attachments {
		name := attachment.Filename
		if name == "" {
			name = "unknown"
		}
		fmt.Fprintf(&builder, "\nHad attachment: %s `%s`", markdownEscaper.Replace(name), strings.ReplaceAll(attachment.URL, "`", ""))
	}
	for range message.Embeds {
		builder.WriteString("\nHad embed")
	}
	if message.GuildID != "" {
		fmt.Fprintf(&builder, "\nFor current details, see https://discord.com/channels/%s/%s/%s", message.GuildID, message.ChannelID, message.ID)
	}
	return builder.String()
}
