package bot

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"keeper/internal/client"
	"keeper/internal/common"
	"keeper/internal/entities"
	"keeper/internal/entity"
	"keeper/internal/settings"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog/log"
)

type Bot struct {
	client        *client.Client
	prefix        string
	flushExecutor *common.TimedExecutor
	mainCycle     time.Duration
}

func New(c *client.Client, prefix string, flushInterval time.Duration, mainCycle time.Duration) *Bot {
	bot := &Bot{client: c, prefix: prefix, mainCycle: mainCycle}
	bot.flushExecutor = common.NewTimedExecutor(flushInterval, bot.flush)
	return bot
}

// Restore the saved entities, or create the seeds when nothing was saved
func (bot *Bot) Load(ctx context.Context, seeds []json.RawMessage) error {
	registry := bot.client.Entities
	loaded, err := registry.LoadAll(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Some saved entities could not be loaded")
		return nil
	}
	if loaded > 0 {
		return nil
	}
	log.Info().Msg(fmt.Sprintf("No saved entities, creating %d seeds", len(seeds)))
	for _, seed := range seeds {
		if _, err := registry.NewEntity(ctx, seed); err != nil {
			log.Error().Err(err).Msg("Could not create seed entity")
		}
	}
	return registry.Flush()
}

// Listen for commands and flush the entities until the context is done.
// Every entity is then killed with its data kept, and flushed one last time
func (bot *Bot) Run(ctx context.Context) error {
	remove := bot.client.Session.AddHandler(bot.Receive)
	defer remove()

	log.Info().Msg("Starting main loop")
	ticker := time.NewTicker(bot.mainCycle)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return bot.Shutdown()
		case <-ticker.C:
			bot.flushExecutor.Execute()
		}
	}
}

func (bot *Bot) Shutdown() error {
	log.Info().Msg("Shutting down, keeping the data of every entity")
	bot.client.Entities.KillAll(true)
	return bot.client.Entities.Flush()
}

func (bot *Bot) flush() {
	if err := bot.client.Entities.Flush(); err != nil {
		log.Error().Err(err).Msg("Could not flush entities")
	}
}

func (bot *Bot) Receive(_ *discordgo.Session, message *discordgo.MessageCreate) {

	// Reject my own messages and those of other bots
	if message.Author == nil || message.Author.Bot {
		return
	}
	if selfID, err := bot.client.SelfID(); err == nil && message.Author.ID == selfID {
		return
	}

	// Parse the input provided and call the appropriate function
	parseResult := Parse(bot.prefix, message.Content)
	switch parseResult.parseid {
	case PARSEID_NO_BOT_PREFIX:
		return
	case PARSEID_OK:
		log.Info().Str("user", message.Author.ID).Msg(fmt.Sprintf("Command understood: %s", message.Content))
		ctx := log.With().Str("channel", message.ChannelID).Logger().WithContext(context.Background())
		var responses []client.Response
		switch parseResult.command {
		case COMMAND_HELP:
			responses = HelpMessage(bot.prefix)
		case COMMAND_MODS:
			responses = bot.packages(entities.ModDatabaseID, "Mod", "\nNote: All mods require a mod loader to work.")
		case COMMAND_TOOLS:
			responses = bot.packages(entities.ToolDatabaseID, "Tool", "\nNote: Tools require their own installation procedures. Check their pages for details.")
		case COMMAND_PLUGINS:
			search, _ := parseResult.arguments.(string)
			responses = bot.plugins(search)
		case COMMAND_STATUS:
			responses = bot.status()
		case COMMAND_SPAWN, COMMAND_KILL, COMMAND_CONFIG:
			if !bot.client.IsOwner(message.Author.ID) {
				responses = OwnersOnly()
				break
			}
			responses = bot.ownerCommand(ctx, parseResult, message.GuildID)
		default:
			panic(fmt.Sprintf("Command %d is not one of the possible ones", parseResult.command))
		}
		bot.sendResponses(ctx, message.ChannelID, responses)
	default:
		// The command is invalid input, so it contains an error message
		errorMessage := parseResult.errorMessage
		log.Info().Msg(fmt.Sprintf("Wrong input: '%s'. Reason: %s", message.Content, errorMessage))
		bot.sendResponses(context.Background(), message.ChannelID, InputNotValid(errorMessage))
	}
}

func (bot *Bot) ownerCommand(ctx context.Context, parseResult ParseResult, guildID string) []client.Response {
	switch parseResult.command {
	case COMMAND_SPAWN:
		switch data := parseResult.arguments.(type) {
		default:
			panic(fmt.Sprintf("unexpected type of entity data %T", data))
		case json.RawMessage:
			return bot.spawn(ctx, data)
		}
	case COMMAND_KILL:
		switch id := parseResult.arguments.(type) {
		default:
			panic(fmt.Sprintf("unexpected type of entity id %T", id))
		case string:
			return bot.kill(id)
		}
	default:
		switch setting := parseResult.arguments.(type) {
		default:
			panic(fmt.Sprintf("unexpected type of setting %T", setting))
		case Setting:
			return bot.config(guildID, setting)
		}
	}
}

func (bot *Bot) sendResponses(ctx context.Context, channelID string, responses []client.Response) {
	for _, response := range responses {
		bot.client.Send(ctx, channelID, response)
	}
}

func (bot *Bot) packages(id string, what string, footer string) []client.Response {
	db, ok := entity.Get[*entities.PackageDatabase](bot.client.Entities, id)
	if !ok {
		return EntityMissing(id)
	}
	packages := db.Packages()
	if len(packages) == 0 {
		return DatabaseUnavailable(what, "https://c2dl.info/cc/mods", db.LastErrorString())
	}
	elements := make([]string, 0, len(packages))
	for _, pkg := range packages {
		elements = append(elements, pkg.Describe())
	}
	return Listing(elements, footer+"\nFrom CCModDB")
}

func (bot *Bot) plugins(search string) []client.Response {
	db, ok := entity.Get[*entities.PluginDatabase](bot.client.Entities, entities.PluginDatabaseID)
	if !ok {
		return EntityMissing(entities.PluginDatabaseID)
	}
	plugins := db.Plugins()
	if len(plugins) == 0 {
		return DatabaseUnavailable("Plugin", "https://vd-plugins.github.io/web/", db.LastErrorString())
	}
	if search != "" {
		plugins = entities.SearchPlugins(plugins, search)
	}
	elements := make([]string, 0, len(plugins))
	for _, plugin := range plugins {
		elements = append(elements, plugin.Describe())
	}
	return Listing(elements, "From Vendetta's plugin proxy")
}

func (bot *Bot) status() []client.Response {
	registry := bot.client.Entities
	summaries := registry.Entities()
	statuses := make([]EntityStatus, 0, len(summaries))
	for _, summary := range summaries {
		status := EntityStatus{Summary: summary}
		if e, ok := registry.GetEntity(summary.ID); ok {
			if w, ok := e.(interface{ LastError() error }); ok {
				status.LastError = w.LastError()
			}
		}
		statuses = append(statuses, status)
	}
	return StatusMessage(statuses)
}

func (bot *Bot) spawn(ctx context.Context, data json.RawMessage) []client.Response {
	e, err := bot.client.Entities.NewEntity(ctx, data)
	if err != nil {
		log.Error().Err(err).Msg("Could not spawn entity")
		return EntityNotSpawned(err)
	}
	bot.flushExecutor.Force()
	return EntitySpawned(e.ID())
}

func (bot *Bot) kill(id string) []client.Response {
	if _, ok := bot.client.Entities.GetEntity(id); !ok {
		return EntityNotAlive(id)
	}
	bot.client.Entities.KillEntity(id, false)
	bot.flushExecutor.Force()
	return EntityKilled(id)
}

func (bot *Bot) config(guildID string, setting Setting) []client.Response {
	scope := guildID
	if scope == "" {
		scope = settings.Global
	}
	if err := bot.client.Settings.Set(scope, setting.Key, setting.Value); err != nil {
		log.Error().Err(err).Str("key", setting.Key).Msg("Could not change setting")
		return SettingNotChanged(setting.Key, err)
	}
	return SettingChanged(setting.Key)
}
