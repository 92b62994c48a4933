package discord

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"chatgenius-backend/internal/model"
	"chatgenius-backend/internal/realtime"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHub struct {
	stats realtime.Stats
	err   error
}

func (f fakeHub) Stats(context.Context) (realtime.Stats, error) { return f.stats, f.err }

type fakeChannels []*model.Channel

func (f fakeChannels) ListPublic(context.Context, int) ([]*model.Channel, error) { return f, nil }

func TestRespond_Online(t *testing.T) {
	h := NewCommandHandler(fakeHub{stats: realtime.Stats{
		Connections: 3,
		OnlineUsers: 2,
		Rooms:       1,
		Online:      []model.PresenceChange{{UserID: "zed"}, {UserID: "amy"}},
	}}, fakeChannels{})
	h.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

	reply := h.Respond(context.Background(), "!ONLINE please")
	require.NotNil(t, reply)
	require.Len(t, reply.Embeds, 1)
	fields := reply.Embeds[0].Fields
	assert.Equal(t, "2", fields[0].Value)
	assert.Equal(t, "3", fields[1].Value)
	assert.Equal(t, "amy, zed", fields[3].Value)
	assert.Equal(t, "2026-01-02T03:04:05Z", reply.Embeds[0].Timestamp)
}

func TestRespond_OnlineHubDown(t *testing.T) {
	h := NewCommandHandler(fakeHub{err: errors.New("stopped")}, fakeChannels{})
	reply := h.Respond(context.Background(), "!online")
	require.NotNil(t, reply)
	assert.Contains(t, reply.Content, "unavailable")
}

func TestRespond_Channels(t *testing.T) {
	h := NewCommandHandler(fakeHub{}, fakeChannels{
		{Name: "general", MemberCount: 4, Description: "everything"},
		{Name: "random", MemberCount: 1},
	})
	reply := h.Respond(context.Background(), "!channels")
	require.NotNil(t, reply)
	require.Len(t, reply.Embeds, 1)
	assert.Equal(t, "**#general** (4 members) - everything\n**#random** (1 members)\n", reply.Embeds[0].Description)

	empty := NewCommandHandler(fakeHub{}, fakeChannels{})
	assert.Equal(t, "No public channels yet.", empty.Respond(context.Background(), "!channels").Content)
}

func TestRespond_IgnoresUnknown(t *testing.T) {
	h := NewCommandHandler(fakeHub{}, fakeChannels{})
	assert.Nil(t, h.Respond(context.Background(), "!dance"))
	assert.Nil(t, h.Respond(context.Background(), "   "))
	assert.NotNil(t, h.Respond(context.Background(), "!help"))
}

func TestTruncate(t *testing.T) {
	ids := make([]string, 25)
	for i := range ids {
		ids[i] = fmt.Sprintf("u%02d", i)
	}
	out := truncate(ids, maxListed)
	assert.Len(t, out, maxListed+1)
	assert.Equal(t, "and 5 more", out[maxListed])
}

func TestAnnounceOnDisabledBot(t *testing.T) {
	var b *Bot
	b.Announce("hello")
	b.Stop()
	assert.NoError(t, b.Start())

	bot, err := NewBot("", "", fakeHub{}, fakeChannels{}, zerolog.Nop())
	require.NoError(t, err)
	assert.Nil(t, bot)

	embed := announcementEmbed("maintenance at noon", time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC))
	assert.Equal(t, "maintenance at noon", embed.Description)
}
