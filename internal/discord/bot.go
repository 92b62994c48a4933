package discord

import (
	"context"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"
)

// Bot bridges the chat server to a Discord guild: it answers prefix
// commands and mirrors admin announcements into one Discord channel.
type Bot struct {
	session   *discordgo.Session
	channelID string
	commands  *CommandHandler
	log       zerolog.Logger
}

// NewBot returns nil when no token is configured.
func NewBot(token, channelID string, hub HubStats, channels ChannelLister, log zerolog.Logger) (*Bot, error) {
	log = log.With().Str("component", "discord").Logger()
	if token == "" {
		log.Info().Msg("no bot token configured, bot disabled")
		return nil, nil
	}

	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, err
	}
	s.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentMessageContent

	bot := &Bot{
		session:   s,
		channelID: channelID,
		commands:  NewCommandHandler(hub, channels),
		log:       log,
	}
	s.AddHandler(bot.onMessageCreate)
	return bot, nil
}

// Start opens the Discord gateway connection.
func (b *Bot) Start() error {
	if b == nil || b.session == nil {
		return nil
	}
	if err := b.session.Open(); err != nil {
		return err
	}
	b.log.Info().Msg("bot connected to Discord")
	return nil
}

// Stop closes the Discord gateway connection.
func (b *Bot) Stop() {
	if b == nil || b.session == nil {
		return
	}
	_ = b.session.Close()
	b.log.Info().Msg("bot disconnected")
}

// Announce mirrors an admin announcement to the configured channel. It
// does not block the caller.
func (b *Bot) Announce(message string) {
	if b == nil || b.session == nil || b.channelID == "" {
		return
	}
	embed := announcementEmbed(message, time.Now())
	go func() {
		if _, err := b.session.ChannelMessageSendEmbed(b.channelID, embed); err != nil {
			b.log.Warn().Err(err).Msg("mirror announcement")
		}
	}()
}

func (b *Bot) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot || (s.State != nil && s.State.User != nil && m.Author.ID == s.State.User.ID) {
		return
	}
	if len(m.Content) == 0 || m.Content[0] != '!' {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	reply := b.commands.Respond(ctx, m.Content)
	if reply == nil {
		return
	}
	if _, err := s.ChannelMessageSendComplex(m.ChannelID, reply); err != nil {
		b.log.Warn().Err(err).Str("channel", m.ChannelID).Msg("send command reply")
	}
}
