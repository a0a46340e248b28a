// Package clienttest provides an in-memory Discord session for tests.
package clienttest

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/bwmarrin/discordgo"
)

// Sent is a message recorded by the fake session
type Sent struct {
	ChannelID string
	MessageID string
	Content   string
	Embeds    []*discordgo.MessageEmbed
	Complex   *discordgo.MessageSend
	Edited    bool
}

type handler struct {
	id int
	fn reflect.Value
}

// Session implements client.Session in memory
type Session struct {
	mu       sync.Mutex
	Self     *discordgo.User
	Channels map[string]*discordgo.Channel
	Guilds   map[string]*discordgo.Guild
	Messages map[string]*discordgo.Message
	// Bans by guild id and user id, joined with a slash
	Bans map[string]*discordgo.GuildBan
	Sent []Sent
	// When set, every send fails with this error
	SendErr error

	handlers []handler
	nextID   int
	order    []string
	calls    int
	failAt   map[int]error
}

func NewSession() *Session {
	return &Session{
		Self:     &discordgo.User{ID: "bot", Username: "keeper", Bot: true},
		Channels: map[string]*discordgo.Channel{},
		Guilds:   map[string]*discordgo.Guild{},
		Messages: map[string]*discordgo.Message{},
		Bans:     map[string]*discordgo.GuildBan{},
	}
}

// Make the nth send or edit from now on fail with err, counting from 1
func (s *Session) FailAt(n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAt == nil {
		s.failAt = map[int]error{}
	}
	s.failAt[s.calls+n] = err
}

func (s *Session) failureLocked() error {
	s.calls++
	if err, ok := s.failAt[s.calls]; ok {
		delete(s.failAt, s.calls)
		return err
	}
	return s.SendErr
}

// Add a text channel, and its guild if it is not known yet
func (s *Session) AddChannel(guildID, channelID string) *discordgo.Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	channel := &discordgo.Channel{ID: channelID, GuildID: guildID, Type: discordgo.ChannelTypeGuildText, Name: channelID}
	s.Channels[channelID] = channel
	if guildID != "" {
		if _, ok := s.Guilds[guildID]; !ok {
			s.Guilds[guildID] = &discordgo.Guild{ID: guildID, Name: guildID}
		}
	}
	return channel
}

// Add a message as if a user had posted it
func (s *Session) AddMessage(message *discordgo.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Messages[message.ID] = message
	s.order = append(s.order, message.ID)
}

func (s *Session) AddHandler(fn interface{}) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := s.nextID
	s.handlers = append(s.handlers, handler{id: id, fn: reflect.ValueOf(fn)})
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, h := range s.handlers {
			if h.id == id {
				s.handlers = append(s.handlers[:i], s.handlers[i+1:]...)
				return
			}
		}
	}
}

// Number of registered gateway handlers
func (s *Session) Handlers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handlers)
}

// Call every handler whose event parameter matches the type of event.
// Handlers receive a nil *discordgo.Session, as they should only use the
// client handle
func (s *Session) Dispatch(event interface{}) {
	s.mu.Lock()
	handlers := append([]handler(nil), s.handlers...)
	s.mu.Unlock()

	value := reflect.ValueOf(event)
	for _, h := range handlers {
		t := h.fn.Type()
		if t.NumIn() != 2 || t.In(1) != value.Type() {
			continue
		}
		h.fn.Call([]reflect.Value{reflect.Zero(t.In(0)), value})
	}
}

// Messages sent so far, emptying the record
func (s *Session) Drain() []Sent {
	s.mu.Lock()
	defer s.mu.Unlock()
	sent := s.Sent
	s.Sent = nil
	return sent
}

func (s *Session) User(userID string, options ...discordgo.RequestOption) (*discordgo.User, error) {
	if userID == "@me" {
		return s.Self, nil
	}
	return &discordgo.User{ID: userID, Username: userID}, nil
}

func (s *Session) Channel(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	channel, ok := s.Channels[channelID]
	if !ok {
		return nil, notFound("channel", channelID)
	}
	return channel, nil
}

func (s *Session) Guild(guildID string, options ...discordgo.RequestOption) (*discordgo.Guild, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	guild, ok := s.Guilds[guildID]
	if !ok {
		return nil, notFound("guild", guildID)
	}
	return guild, nil
}

func (s *Session) GuildBan(guildID, userID string, options ...discordgo.RequestOption) (*discordgo.GuildBan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ban, ok := s.Bans[guildID+"/"+userID]
	if !ok {
		return nil, notFound("ban", userID)
	}
	return ban, nil
}

func (s *Session) UserChannelCreate(recipientID string, options ...discordgo.RequestOption) (*discordgo.Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := "dm-" + recipientID
	channel, ok := s.Channels[id]
	if !ok {
		channel = &discordgo.Channel{ID: id, Type: discordgo.ChannelTypeDM}
		s.Channels[id] = channel
	}
	return channel, nil
}

func (s *Session) ChannelMessage(channelID, messageID string, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	message, ok := s.Messages[messageID]
	if !ok || message.ChannelID != channelID {
		return nil, notFound("message", messageID)
	}
	return message, nil
}

// Messages of a channel, newest first
func (s *Session) ChannelMessages(channelID string, limit int, beforeID, afterID, aroundID string, options ...discordgo.RequestOption) ([]*discordgo.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var messages []*discordgo.Message
	for i := len(s.order) - 1; i >= 0; i-- {
		message := s.Messages[s.order[i]]
		if message.ChannelID == channelID {
			messages = append(messages, message)
		}
		if limit > 0 && len(messages) == limit {
			break
		}
	}
	return messages, nil
}

func (s *Session) ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	return s.record(Sent{ChannelID: channelID, Content: content})
}

func (s *Session) ChannelMessageSendEmbeds(channelID string, embeds []*discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	return s.record(Sent{ChannelID: channelID, Embeds: embeds})
}

func (s *Session) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	return s.record(Sent{ChannelID: channelID, Content: data.Content, Embeds: data.Embeds, Complex: data})
}

func (s *Session) ChannelMessageEdit(channelID, messageID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failureLocked(); err != nil {
		return nil, err
	}
	message, ok := s.Messages[messageID]
	if !ok || message.ChannelID != channelID {
		return nil, notFound("message", messageID)
	}
	message.Content = content
	s.Sent = append(s.Sent, Sent{ChannelID: channelID, MessageID: messageID, Content: content, Edited: true})
	return message, nil
}

func (s *Session) record(sent Sent) (*discordgo.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failureLocked(); err != nil {
		return nil, err
	}
	if _, ok := s.Channels[sent.ChannelID]; !ok {
		return nil, notFound("channel", sent.ChannelID)
	}
	s.nextID++
	sent.MessageID = fmt.Sprintf("m%d", s.nextID)
	message := &discordgo.Message{
		ID:        sent.MessageID,
		ChannelID: sent.ChannelID,
		Content:   sent.Content,
		Embeds:    sent.Embeds,
		Author:    s.Self,
	}
	s.Messages[message.ID] = message
	s.order = append(s.order, message.ID)
	s.Sent = append(s.Sent, sent)
	return message, nil
}

func notFound(kind, id string) error {
	return fmt.Errorf("unknown %s %s", kind, id)
}
