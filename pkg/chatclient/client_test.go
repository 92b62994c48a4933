package chatclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatgenius-backend/internal/model"
)

// fakeServer accepts one connection, hands every client frame to respond
// and writes back whatever envelopes it returns.
func fakeServer(t *testing.T, respond func(ev model.WSEvent) []model.Envelope) (string, <-chan string) {
	t.Helper()
	auth := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth <- r.Header.Get("Authorization")
		ws, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer ws.CloseNow()
		ctx := r.Context()
		for {
			var ev model.WSEvent
			if err := wsjson.Read(ctx, ws, &ev); err != nil {
				return
			}
			for _, env := range respond(ev) {
				if err := wsjson.Write(ctx, ws, env); err != nil {
					return
				}
			}
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http"), auth
}

func dial(t *testing.T, url string) *Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := Dial(ctx, Config{URL: url, Token: "alice-token", Identity: "alice"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestClient_SendMessageConfirmedByBatch(t *testing.T) {
	url, auth := fakeServer(t, func(ev model.WSEvent) []model.Envelope {
		if ev.Type != model.EventMessageCreate {
			return nil
		}
		var p model.MessageCreatePayload
		_ = json.Unmarshal(ev.Data, &p)
		msg := &model.Message{ID: "m1", ChannelID: p.ChannelID, UserID: "alice", Content: p.Content}
		inner := model.NewEnvelope(model.KindMessageCreated, p.ChannelID, "alice", msg)
		return []model.Envelope{
			model.NewEnvelope(model.KindMessagesBatch, p.ChannelID, model.SystemIdentity, []model.Envelope{inner}),
		}
	})
	c := dial(t, url)
	assert.Equal(t, "Bearer alice-token", <-auth)

	p, err := c.SendMessage(context.Background(), "general", "hello")
	require.NoError(t, err)
	assert.NotEmpty(t, p.TempID)

	require.Eventually(t, func() bool {
		return c.Timeline().PendingCount("general") == 0
	}, 2*time.Second, 10*time.Millisecond)

	entries := c.Timeline().Entries("general")
	require.Len(t, entries, 1)
	confirmed, ok := entries[0].(*Confirmed)
	require.True(t, ok)
	assert.Equal(t, "m1", confirmed.ServerID)
	assert.Equal(t, "hello", confirmed.Content)
}

func TestClient_ErrorNoticeRevertsPending(t *testing.T) {
	url, _ := fakeServer(t, func(ev model.WSEvent) []model.Envelope {
		return []model.Envelope{
			model.NewEnvelope(model.KindError, "", model.SystemIdentity, model.Notice{
				Code:    "upstream_failure",
				Message: "could not store message",
				Ref:     ev.Ref,
			}),
		}
	})
	c := dial(t, url)

	notices := make(chan model.Notice, 1)
	c.OnNotice(func(n model.Notice) { notices <- n })

	p, err := c.SendMessage(context.Background(), "general", "hello")
	require.NoError(t, err)

	select {
	case n := <-notices:
		assert.Equal(t, p.TempID, n.Ref)
		assert.Equal(t, "upstream_failure", n.Code)
	case <-time.After(2 * time.Second):
		t.Fatal("no notice received")
	}
	assert.Empty(t, c.Timeline().Entries("general"))
}

func TestClient_OtherEventsReachCallback(t *testing.T) {
	url, _ := fakeServer(t, func(ev model.WSEvent) []model.Envelope {
		if ev.Type != model.EventChannelJoin {
			return nil
		}
		return []model.Envelope{
			model.NewEnvelope(model.KindChannelJoined, "general", model.SystemIdentity, model.ChannelAck{ChannelID: "general"}),
		}
	})
	c := dial(t, url)

	kinds := make(chan string, 1)
	c.OnEvent(func(kind, room string, _ json.RawMessage) { kinds <- kind + "@" + room })

	require.NoError(t, c.Join(context.Background(), "general"))
	select {
	case got := <-kinds:
		assert.Equal(t, model.KindChannelJoined+"@general", got)
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
	}
}

func TestClient_FailedWriteReverts(t *testing.T) {
	url, _ := fakeServer(t, func(model.WSEvent) []model.Envelope { return nil })
	c := dial(t, url)
	require.NoError(t, c.Close())
	<-c.Done()

	_, err := c.SendMessage(context.Background(), "general", "hello")
	require.Error(t, err)
	assert.Empty(t, c.Timeline().Entries("general"))
}

func TestDial_EmptyURL(t *testing.T) {
	_, err := Dial(context.Background(), Config{})
	assert.Error(t, err)
}

func TestClient_PingsWhileIdle(t *testing.T) {
	pings := make(chan struct{}, 16)
	url, _ := fakeServer(t, func(ev model.WSEvent) []model.Envelope {
		if ev.Type != model.EventPing {
			return nil
		}
		select {
		case pings <- struct{}{}:
		default:
		}
		return []model.Envelope{model.NewEnvelope(model.KindPong, "", model.SystemIdentity, nil)}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := Dial(ctx, Config{URL: url, Identity: "alice", PingInterval: 20 * time.Millisecond})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	events := make(chan string, 1)
	c.OnEvent(func(kind, _ string, _ json.RawMessage) { events <- kind })

	for i := 0; i < 3; i++ {
		select {
		case <-pings:
		case <-time.After(2 * time.Second):
			t.Fatalf("ping %d not sent", i+1)
		}
	}
	assert.Empty(t, events, "pong must not reach the event callback")
}

func TestClient_SendReplyConfirmedInThread(t *testing.T) {
	url, _ := fakeServer(t, func(ev model.WSEvent) []model.Envelope {
		if ev.Type != model.EventThreadMessageCreate {
			return nil
		}
		var p model.ThreadMessagePayload
		_ = json.Unmarshal(ev.Data, &p)
		parent := p.ParentMessageID
		msg := &model.Message{ID: "r1", ChannelID: "general", ThreadID: &parent, UserID: "alice", Content: p.Content}
		inner := model.NewEnvelope(model.KindThreadMessageCreated, "general", "alice", msg)
		return []model.Envelope{
			model.NewEnvelope(model.KindMessagesBatch, "general", model.SystemIdentity, []model.Envelope{inner}),
		}
	})
	c := dial(t, url)
	c.Timeline().AddPending("general", "alice", "ok")

	p, err := c.SendReply(context.Background(), "general", "p1", "ok")
	require.NoError(t, err)
	assert.Equal(t, "p1", p.ThreadID)

	require.Eventually(t, func() bool {
		return c.Timeline().PendingCount("general") == 1
	}, 2*time.Second, 10*time.Millisecond)

	entries := c.Timeline().Entries("general")
	require.Len(t, entries, 2)
	top, ok := entries[0].(*Pending)
	require.True(t, ok)
	assert.Empty(t, top.ThreadID)
	reply, ok := entries[1].(*Confirmed)
	require.True(t, ok)
	assert.Equal(t, "r1", reply.ServerID)
}
