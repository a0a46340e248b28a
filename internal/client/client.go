// Package client holds the handle every entity receives at construction:
// the Discord session, the HTTP proxy, the settings and the registry.
package client

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"keeper/internal/common"
	"keeper/internal/entity"
	"keeper/internal/settings"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Client struct {
	Session   Session
	Proxy     *common.Proxy
	Settings  *settings.Settings
	Entities  *entity.Registry[*Client]
	Clock     entity.Clock
	Owners    []string
	UserAgent string

	mu     sync.Mutex
	selfID string
}

type Options struct {
	Session   Session
	Proxy     *common.Proxy
	Settings  *settings.Settings
	Store     entity.Store
	Clock     entity.Clock
	Owners    []string
	UserAgent string
}

func New(options Options) *Client {
	c := &Client{
		Session:   options.Session,
		Proxy:     options.Proxy,
		Settings:  options.Settings,
		Clock:     options.Clock,
		Owners:    options.Owners,
		UserAgent: options.UserAgent,
	}
	if c.Clock == nil {
		c.Clock = entity.RealClock()
	}
	c.Entities = entity.NewRegistry(c, options.Store)
	return c
}

// The id of the bot user
func (c *Client) SelfID() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.selfID != "" {
		return c.selfID, nil
	}
	user, err := c.Session.User("@me")
	if err != nil {
		return "", fmt.Errorf("could not find the bot user: %w", err)
	}
	c.selfID = user.ID
	return c.selfID, nil
}

func (c *Client) SetSelfID(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.selfID = id
}

func (c *Client) IsOwner(userID string) bool {
	return slices.Contains(c.Owners, userID)
}

// Resolve a channel that messages can be sent to
func (c *Client) TextChannel(channelID string) (*discordgo.Channel, error) {
	channel, err := c.Session.Channel(channelID)
	if err != nil {
		return nil, fmt.Errorf("unable to find the channel %s: %w", channelID, err)
	}
	switch channel.Type {
	case discordgo.ChannelTypeGuildText, discordgo.ChannelTypeGuildNews, discordgo.ChannelTypeDM,
		discordgo.ChannelTypeGroupDM, discordgo.ChannelTypeGuildPublicThread,
		discordgo.ChannelTypeGuildPrivateThread, discordgo.ChannelTypeGuildNewsThread:
		return channel, nil
	default:
		return nil, fmt.Errorf("channel %s is not a text channel", channelID)
	}
}

// Register a gateway handler for the lifetime of an entity
func (c *Client) Listen(b *entity.Base, handler interface{}) {
	remove := c.Session.AddHandler(handler)
	b.OnKill(func(bool) { remove() })
}

// Send a response and log the failure, if any.
// The logger of the context is used when present
func (c *Client) Send(ctx context.Context, channelID string, response Response) (*discordgo.Message, error) {
	message, err := response.Send(channelID, c.Session)
	if err != nil {
		logger := zerolog.Ctx(ctx)
		if logger.GetLevel() == zerolog.Disabled {
			logger = &log.Logger
		}
		logger.Error().Err(err).Str("channel", channelID).Msg("Could not send message")
		return nil, err
	}
	return message, nil
}

// Send a direct message to the first owner
func (c *Client) NotifyOwner(ctx context.Context, response Response) error {
	if len(c.Owners) == 0 {
		return fmt.Errorf("no owner configured")
	}
	channel, err := c.Session.UserChannelCreate(c.Owners[0])
	if err != nil {
		return fmt.Errorf("could not open a direct message channel with %s: %w", c.Owners[0], err)
	}
	_, err = c.Send(ctx, channel.ID, response)
	return err
}
