package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"chatgenius-backend/internal/middleware"
	"chatgenius-backend/internal/model"
	"chatgenius-backend/internal/realtime"
	"chatgenius-backend/internal/service"
	"chatgenius-backend/internal/service/servicetest"
	"chatgenius-backend/pkg/chatclient"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// tokenVerifier accepts the user id itself as the bearer token.
type tokenVerifier struct{}

func (tokenVerifier) Verify(_ context.Context, token string) (*realtime.Claims, error) {
	switch token {
	case "alice", "bob", "carol":
		return &realtime.Claims{Identity: model.Identity(token), Username: token, ExpiresAt: time.Now().Add(time.Hour)}, nil
	}
	return nil, errors.New("unknown token")
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

type testApp struct {
	app      *fiber.App
	channels *servicetest.Channels
	pub      *servicetest.Publisher
	hub      *realtime.Hub
	db       *fakePinger
	mirror   *recordingMirror
	ws       *WSHandler
}

type recordingMirror struct{ messages []string }

func (m *recordingMirror) Announce(message string) { m.messages = append(m.messages, message) }

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	log := zerolog.Nop()

	channels := servicetest.NewChannels()
	channels.Add(&model.Channel{ID: "general", Name: "general", OwnerID: "alice"})
	channels.Add(&model.Channel{ID: "secret", Name: "secret", OwnerID: "alice", IsPrivate: true})
	messages := servicetest.NewMessages(channels)
	users := servicetest.NewUsers("alice", "bob", "carol")
	pub := servicetest.NewPublisher()

	messageSvc := service.NewMessageService(messages, &servicetest.Reactions{Messages: messages}, channels)
	messageSvc.SetPublisher(pub)
	channelSvc := service.NewChannelService(channels)
	userSvc := service.NewUserService(users)
	userSvc.SetStatusSetter(pub)
	fileSvc := service.NewFileService(&servicetest.Files{}, channels, &servicetest.Blobs{}, 1024)
	fileSvc.SetPublisher(pub)

	cfg := realtime.DefaultConfig()
	hub := realtime.NewHub(cfg, messageSvc, log)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-hub.Done()
	})
	gate := realtime.NewGate(tokenVerifier{}, 100, 100, nil, log)

	db := &fakePinger{}
	mirror := &recordingMirror{}
	ws := NewWSHandler(hub, gate, userSvc, log)
	app := fiber.New()
	Mount(app, Routes{
		Auth:     middleware.Auth(tokenVerifier{}),
		AdminKey: middleware.AdminKey("admin-key"),
		Health:   NewHealthHandler(db, nil),
		Admin:    NewAdminHandler(hub, nil, mirror),
		Channels: NewChannelHandler(channelSvc, log),
		Messages: NewMessageHandler(messageSvc, log),
		Files:    NewFileHandler(fileSvc, log),
		Users:    NewUserHandler(userSvc, log),
		WS:       ws,
	})
	return &testApp{app: app, channels: channels, pub: pub, hub: hub, db: db, mirror: mirror, ws: ws}
}

func (ta *testApp) do(t *testing.T, method, path, user string, body any) (*http.Response, []byte) {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if user != "" {
		req.Header.Set("Authorization", "Bearer "+user)
	}
	resp, err := ta.app.Test(req, -1)
	require.NoError(t, err)
	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, out
}

func TestHealth(t *testing.T) {
	ta := newTestApp(t)

	resp, _ := ta.do(t, "GET", "/health", "", nil)
	assert.Equal(t, 200, resp.StatusCode)

	resp, _ = ta.do(t, "GET", "/ready", "", nil)
	assert.Equal(t, 200, resp.StatusCode)

	ta.db.err = errors.New("down")
	resp, _ = ta.do(t, "GET", "/ready", "", nil)
	assert.Equal(t, 503, resp.StatusCode)
}

func TestChannels(t *testing.T) {
	ta := newTestApp(t)

	resp, _ := ta.do(t, "GET", "/api/v1/channels", "", nil)
	assert.Equal(t, 401, resp.StatusCode)

	resp, body := ta.do(t, "POST", "/api/v1/channels/", "bob", model.CreateChannelRequest{Name: "random"})
	require.Equal(t, 201, resp.StatusCode, string(body))
	var ch model.Channel
	require.NoError(t, json.Unmarshal(body, &ch))
	assert.Equal(t, "bob", ch.OwnerID)

	resp, _ = ta.do(t, "POST", "/api/v1/channels/", "carol", model.CreateChannelRequest{Name: "random"})
	assert.Equal(t, 409, resp.StatusCode)

	resp, _ = ta.do(t, "POST", "/api/v1/channels/", "carol", model.CreateChannelRequest{Name: ""})
	assert.Equal(t, 400, resp.StatusCode)

	resp, _ = ta.do(t, "GET", "/api/v1/channels/secret", "bob", nil)
	assert.Equal(t, 403, resp.StatusCode)

	resp, _ = ta.do(t, "POST", "/api/v1/channels/secret/join", "bob", nil)
	assert.Equal(t, 403, resp.StatusCode)

	resp, _ = ta.do(t, "POST", "/api/v1/channels/general/leave", "alice", nil)
	assert.Equal(t, 409, resp.StatusCode)

	resp, _ = ta.do(t, "DELETE", "/api/v1/channels/general", "bob", nil)
	assert.Equal(t, 403, resp.StatusCode)

	resp, _ = ta.do(t, "GET", "/api/v1/channels/nope", "bob", nil)
	assert.Equal(t, 404, resp.StatusCode)
}

func TestMessagesAndReactions(t *testing.T) {
	ta := newTestApp(t)

	resp, body := ta.do(t, "POST", "/api/v1/channels/general/messages", "bob", model.CreateMessageRequest{Content: "hello"})
	require.Equal(t, 201, resp.StatusCode, string(body))
	var msg model.Message
	require.NoError(t, json.Unmarshal(body, &msg))
	assert.Equal(t, "general", msg.ChannelID)

	resp, _ = ta.do(t, "POST", "/api/v1/channels/general/messages", "bob", model.CreateMessageRequest{Content: strings.Repeat("x", 4001)})
	assert.Equal(t, 400, resp.StatusCode)

	resp, body = ta.do(t, "POST", "/api/v1/messages/"+msg.ID+"/thread", "carol", model.CreateThreadReplyRequest{Content: "reply"})
	require.Equal(t, 201, resp.StatusCode, string(body))

	resp, body = ta.do(t, "GET", "/api/v1/messages/"+msg.ID+"/thread", "carol", nil)
	require.Equal(t, 200, resp.StatusCode)
	var thread model.Thread
	require.NoError(t, json.Unmarshal(body, &thread))
	assert.Len(t, thread.Replies, 1)

	resp, _ = ta.do(t, "POST", "/api/v1/messages/"+msg.ID+"/reactions", "carol", model.AddReactionRequest{Emoji: "🎉"})
	assert.Equal(t, 201, resp.StatusCode)
	resp, _ = ta.do(t, "POST", "/api/v1/messages/"+msg.ID+"/reactions", "carol", model.AddReactionRequest{Emoji: "🎉"})
	assert.Equal(t, 409, resp.StatusCode)

	resp, body = ta.do(t, "GET", "/api/v1/channels/general/messages?limit=10", "carol", nil)
	require.Equal(t, 200, resp.StatusCode)
	var page []model.Message
	require.NoError(t, json.Unmarshal(body, &page))
	require.Len(t, page, 1)
	assert.Len(t, page[0].Reactions, 1)

	resp, _ = ta.do(t, "DELETE", "/api/v1/messages/"+msg.ID+"/reactions/"+url.PathEscape("🎉"), "carol", nil)
	assert.Equal(t, 200, resp.StatusCode)

	resp, _ = ta.do(t, "PUT", "/api/v1/messages/"+msg.ID, "carol", model.UpdateMessageRequest{Content: "mine now"})
	assert.Equal(t, 403, resp.StatusCode)

	resp, _ = ta.do(t, "GET", "/api/v1/channels/general/messages?before=yesterday", "carol", nil)
	assert.Equal(t, 400, resp.StatusCode)

	kinds := ta.pub.Kinds()
	assert.Equal(t, []string{"message", "message", model.KindReactionAdded, model.KindReactionRemoved}, kinds)
}

func TestFiles(t *testing.T) {
	ta := newTestApp(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "hello.txt")
	require.NoError(t, err)
	_, _ = part.Write([]byte("hello world"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest("POST", "/api/v1/channels/general/files", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer bob")
	resp, err := ta.app.Test(req, -1)
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	require.Equal(t, 201, resp.StatusCode, string(body))

	var f model.File
	require.NoError(t, json.Unmarshal(body, &f))
	assert.Equal(t, "hello.txt", f.Name)

	resp, raw := ta.do(t, "GET", "/api/v1/files/"+f.ID+"/raw", "", nil)
	require.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "hello world", string(raw))

	resp, _ = ta.do(t, "GET", "/api/v1/files/"+f.ID, "", nil)
	assert.Equal(t, 401, resp.StatusCode, "metadata needs a token")

	resp, _ = ta.do(t, "GET", "/api/v1/files/missing/raw", "", nil)
	assert.Equal(t, 404, resp.StatusCode)

	assert.Contains(t, ta.pub.Kinds(), model.KindFileUploaded)
}

func TestUserStatus(t *testing.T) {
	ta := newTestApp(t)

	resp, _ := ta.do(t, "PUT", "/api/v1/users/me/status", "bob", model.UpdateStatusRequest{Status: "lunch"})
	assert.Equal(t, 200, resp.StatusCode)

	resp, _ = ta.do(t, "PUT", "/api/v1/users/me/status", "bob", model.UpdateStatusRequest{Status: strings.Repeat("s", 101)})
	assert.Equal(t, 400, resp.StatusCode)

	resp, body := ta.do(t, "GET", "/api/v1/users/me", "bob", nil)
	require.Equal(t, 200, resp.StatusCode)
	var u model.User
	require.NoError(t, json.Unmarshal(body, &u))
	assert.Equal(t, "bob", u.ID)

	resp, _ = ta.do(t, "GET", "/api/v1/users/ghost", "bob", nil)
	assert.Equal(t, 404, resp.StatusCode)
}

func TestAdmin(t *testing.T) {
	ta := newTestApp(t)

	resp, _ := ta.do(t, "GET", "/api/v1/admin/stats", "", nil)
	assert.Equal(t, 403, resp.StatusCode)

	req := httptest.NewRequest("GET", "/api/v1/admin/stats", nil)
	req.Header.Set("X-Admin-Key", "admin-key")
	resp, err := ta.app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, 200, resp.StatusCode)
	var stats map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	assert.EqualValues(t, 0, stats["connections"])

	req = httptest.NewRequest("POST", "/api/v1/admin/announce", strings.NewReader(`{"message":"  "}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Admin-Key", "admin-key")
	resp, err = ta.app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, 400, resp.StatusCode)

	req = httptest.NewRequest("POST", "/api/v1/admin/announce", strings.NewReader(`{"message":" deploy at 5 "}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Admin-Key", "admin-key")
	resp, err = ta.app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, []string{"deploy at 5"}, ta.mirror.messages)
}

func TestWSUpgradeRejectsBadToken(t *testing.T) {
	ta := newTestApp(t)

	resp, _ := ta.do(t, "GET", "/ws", "", nil)
	assert.Equal(t, fiber.StatusUpgradeRequired, resp.StatusCode)

	for _, token := range []string{"", "mallory"} {
		req := httptest.NewRequest("GET", "/ws?token="+token, nil)
		req.Header.Set("Connection", "Upgrade")
		req.Header.Set("Upgrade", "websocket")
		req.Header.Set("Sec-WebSocket-Version", "13")
		req.Header.Set("Sec-WebSocket-Key", "dGhlIHNhbXBsZSBub25jZQ==")
		resp, err := ta.app.Test(req, -1)
		require.NoError(t, err)
		assert.Equal(t, 401, resp.StatusCode, "token %q", token)
	}
}

// listen serves the test app on a loopback port and returns its ws URL.
func (ta *testApp) listen(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = ta.app.Listener(ln) }()
	t.Cleanup(func() { _ = ta.app.ShutdownWithTimeout(time.Second) })
	return "ws://" + ln.Addr().String() + "/ws"
}

func (ta *testApp) connections(t *testing.T) int {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	stats, err := ta.hub.Stats(ctx)
	require.NoError(t, err)
	return stats.Connections
}

func TestWSIdleClientKeptAliveByPings(t *testing.T) {
	ta := newTestApp(t)
	ta.ws.SetReadTimeout(200 * time.Millisecond)
	url := ta.listen(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := chatclient.Dial(ctx, chatclient.Config{
		URL:          url,
		Token:        "alice",
		Identity:     "alice",
		PingInterval: 50 * time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	require.Eventually(t, func() bool { return ta.connections(t) == 1 }, 2*time.Second, 10*time.Millisecond)

	select {
	case <-c.Done():
		t.Fatal("idle client was disconnected")
	case <-time.After(time.Second):
	}
	assert.Equal(t, 1, ta.connections(t))
}

func TestWSSilentClientTimesOut(t *testing.T) {
	ta := newTestApp(t)
	ta.ws.SetReadTimeout(200 * time.Millisecond)
	url := ta.listen(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := chatclient.Dial(ctx, chatclient.Config{
		URL:          url,
		Token:        "alice",
		Identity:     "alice",
		PingInterval: -1,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	select {
	case <-c.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("silent client was not disconnected")
	}
	require.Eventually(t, func() bool { return ta.connections(t) == 0 }, 2*time.Second, 10*time.Millisecond)
}
