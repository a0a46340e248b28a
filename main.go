package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"keeper/internal/bot"
	"keeper/internal/client"
	"keeper/internal/common"
	"keeper/internal/config"
	"keeper/internal/entities"
	"keeper/internal/entity"
	"keeper/internal/settings"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const mainCycle = time.Second

func initLogger(level zerolog.Level) {
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	log.Logger = zerolog.New(output).With().Timestamp().Str("app", "keeper").Logger()
	zerolog.SetGlobalLevel(level)
}

func main() {
	configPath := flag.String("config", "config.toml", "path to the configuration file")
	envPath := flag.String("env", ".env", "path to the .env file")
	flag.Parse()

	initLogger(zerolog.InfoLevel)
	cfg, err := config.Load(*configPath, *envPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Could not load configuration")
	}
	initLogger(cfg.LogLevel)

	if err := run(cfg); err != nil {
		log.Fatal().Err(err).Msg("Bot stopped")
	}
}

func run(cfg config.Config) error {
	// Create session
	discord, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return fmt.Errorf("could not create discord session: %w", err)
	}
	discord.Identify.Intents = discordgo.IntentGuilds |
		discordgo.IntentGuildMessages |
		discordgo.IntentGuildMessageReactions |
		discordgo.IntentGuildBans |
		discordgo.IntentDirectMessages |
		discordgo.IntentMessageContent
	// Edits and deletions are reported with the cached copy of the message
	discord.State.MaxMessageCount = 200

	store, err := entity.OpenJSONStore(cfg.EntitiesFile())
	if err != nil {
		return err
	}
	s, err := settings.Open(cfg.SettingsFile())
	if err != nil {
		return err
	}

	c := client.New(client.Options{
		Session:   discord,
		Proxy:     common.NewProxy(map[string]string{"User-Agent": cfg.UserAgent}, cfg.Restrictions, cfg.HTTPTimeout),
		Settings:  s,
		Store:     store,
		Owners:    cfg.Owners,
		UserAgent: cfg.UserAgent,
	})
	if err := entities.RegisterAll(c.Entities); err != nil {
		return err
	}
	discord.AddHandler(func(_ *discordgo.Session, ready *discordgo.Ready) {
		c.SetSelfID(ready.User.ID)
		log.Info().Str("user", ready.User.Username).Msg("Connected to the gateway")
	})

	// Open session
	if err := discord.Open(); err != nil {
		return fmt.Errorf("could not open discord session: %w", err)
	}
	defer discord.Close()

	// Keep the bot running until there is an interruption
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	b := bot.New(c, cfg.Prefix, cfg.FlushInterval, mainCycle)
	if err := b.Load(ctx, cfg.Seeds); err != nil {
		log.Error().Err(err).Msg("Could not save the seed entities")
	}
	return b.Run(ctx)
}
