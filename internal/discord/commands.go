package discord

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"chatgenius-backend/internal/model"
	"chatgenius-backend/internal/realtime"

	"github.com/bwmarrin/discordgo"
)

const (
	colorInfo     = 0x2ECC71
	colorAnnounce = 0x3498DB
	footer        = "ChatGenius"
	maxListed     = 20
)

// HubStats is satisfied by *realtime.Hub.
type HubStats interface {
	Stats(ctx context.Context) (realtime.Stats, error)
}

type ChannelLister interface {
	ListPublic(ctx context.Context, limit int) ([]*model.Channel, error)
}

// CommandHandler builds replies to prefix commands.
type CommandHandler struct {
	hub      HubStats
	channels ChannelLister
	now      func() time.Time
}

func NewCommandHandler(hub HubStats, channels ChannelLister) *CommandHandler {
	return &CommandHandler{hub: hub, channels: channels, now: time.Now}
}

// Respond returns the reply to content, or nil when it is not a command.
func (h *CommandHandler) Respond(ctx context.Context, content string) *discordgo.MessageSend {
	parts := strings.Fields(content)
	if len(parts) == 0 {
		return nil
	}

	switch strings.ToLower(parts[0]) {
	case "!online":
		return h.cmdOnline(ctx)
	case "!channels":
		return h.cmdChannels(ctx)
	case "!help":
		return h.cmdHelp()
	}
	return nil
}

func (h *CommandHandler) cmdOnline(ctx context.Context) *discordgo.MessageSend {
	stats, err := h.hub.Stats(ctx)
	if err != nil {
		return &discordgo.MessageSend{Content: "Chat server is unavailable."}
	}

	ids := make([]string, 0, len(stats.Online))
	for _, p := range stats.Online {
		ids = append(ids, p.UserID.String())
	}
	sort.Strings(ids)
	who := "nobody"
	if len(ids) > 0 {
		who = strings.Join(truncate(ids, maxListed), ", ")
	}

	return &discordgo.MessageSend{Embeds: []*discordgo.MessageEmbed{{
		Title: "Who's online",
		Color: colorInfo,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Users", Value: fmt.Sprintf("%d", stats.OnlineUsers), Inline: true},
			{Name: "Connections", Value: fmt.Sprintf("%d", stats.Connections), Inline: true},
			{Name: "Active rooms", Value: fmt.Sprintf("%d", stats.Rooms), Inline: true},
			{Name: "Online", Value: who},
		},
		Timestamp: h.now().UTC().Format(time.RFC3339),
		Footer:    &discordgo.MessageEmbedFooter{Text: footer},
	}}}
}

func (h *CommandHandler) cmdChannels(ctx context.Context) *discordgo.MessageSend {
	channels, err := h.channels.ListPublic(ctx, maxListed)
	if err != nil {
		return &discordgo.MessageSend{Content: "Could not list channels."}
	}
	if len(channels) == 0 {
		return &discordgo.MessageSend{Content: "No public channels yet."}
	}

	var b strings.Builder
	for _, ch := range channels {
		fmt.Fprintf(&b, "**#%s** (%d members)", ch.Name, ch.MemberCount)
		if ch.Description != "" {
			b.WriteString(" - " + ch.Description)
		}
		b.WriteByte('\n')
	}
	return &discordgo.MessageSend{Embeds: []*discordgo.MessageEmbed{{
		Title:       "Public channels",
		Description: b.String(),
		Color:       colorInfo,
		Footer:      &discordgo.MessageEmbedFooter{Text: footer},
	}}}
}

func (h *CommandHandler) cmdHelp() *discordgo.MessageSend {
	return &discordgo.MessageSend{Content: "`!online` who is connected\n`!channels` public channels\n`!help` this message"}
}

func announcementEmbed(message string, at time.Time) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       "Announcement",
		Description: message,
		Color:       colorAnnounce,
		Timestamp:   at.UTC().Format(time.RFC3339),
		Footer:      &discordgo.MessageEmbedFooter{Text: footer},
	}
}

func truncate(ids []string, n int) []string {
	if len(ids) <= n {
		return ids
	}
	out := append([]string(nil), ids[:n]...)
	return append(out, fmt.Sprintf("and %d more", len(ids)-n))
}
