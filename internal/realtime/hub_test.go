package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"chatgenius-backend/internal/model"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu       sync.Mutex
	seq      int
	fail     error
	messages map[string]*model.Message
}

func newMemStore() *memStore {
	return &memStore{messages: make(map[string]*model.Message)}
}

func (s *memStore) CreateMessage(_ context.Context, in model.NewMessage) (*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return nil, s.fail
	}
	s.seq++
	msg := &model.Message{
		ID:        fmt.Sprintf("msg-%d", s.seq),
		ChannelID: in.ChannelID,
		ThreadID:  in.ThreadID,
		UserID:    in.UserID,
		Username:  in.UserID,
		Content:   in.Content,
		CreatedAt: time.Now(),
	}
	s.messages[msg.ID] = msg
	return msg, nil
}

func (s *memStore) CreateThreadReply(ctx context.Context, parentID, userID, content string) (*model.Message, error) {
	s.mu.Lock()
	parent, ok := s.messages[parentID]
	s.mu.Unlock()
	if !ok {
		return nil, invalidErr{"parent message not found"}
	}
	return s.CreateMessage(ctx, model.NewMessage{ChannelID: parent.ChannelID, ThreadID: &parentID, UserID: userID, Content: content})
}

func (s *memStore) AddReaction(_ context.Context, messageID, userID, emoji string) (*model.Reaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[messageID]
	if !ok {
		return nil, invalidErr{"message not found"}
	}
	return &model.Reaction{ID: "r-" + messageID, MessageID: messageID, ChannelID: msg.ChannelID, UserID: userID, Emoji: emoji}, nil
}

func (s *memStore) RemoveReaction(ctx context.Context, messageID, userID, emoji string) (*model.Reaction, error) {
	return s.AddReaction(ctx, messageID, userID, emoji)
}

func (s *memStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

type failingStatusStore struct {
	mu    sync.Mutex
	calls int
}

func (s *failingStatusStore) UpdatePresence(context.Context, string, bool) error {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return errors.New("connection refused")
}

func (s *failingStatusStore) UpdateStatus(ctx context.Context, userID, _ string) error {
	return s.UpdatePresence(ctx, userID, true)
}

type observerFunc func(msg *model.Message)

func (f observerFunc) MessageCreated(msg *model.Message) { f(msg) }

type wireEnvelope struct {
	Kind    string          `json:"kind"`
	Room    string          `json:"room"`
	Sender  string          `json:"sender"`
	Payload json.RawMessage `json:"payload"`
}

type testHub struct {
	*Hub
	store   *memStore
	metrics *Metrics
	cancel  context.CancelFunc
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.BatchInterval = 20 * time.Millisecond
	cfg.SendBuffer = 64
	return cfg
}

func startHub(t *testing.T, cfg Config, opts ...Option) *testHub {
	t.Helper()
	store := newMemStore()
	metrics := NewMetrics(prometheus.NewRegistry())
	opts = append(opts, WithMetrics(metrics))
	h := NewHub(cfg, store, zerolog.Nop(), opts...)

	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	th := &testHub{Hub: h, store: store, metrics: metrics, cancel: cancel}
	t.Cleanup(func() {
		cancel()
		<-h.Done()
	})
	return th
}

func (th *testHub) connect(t *testing.T, id model.Identity) *Conn {
	t.Helper()
	c, err := th.Connect(&Claims{Identity: id, Username: id.String()})
	require.NoError(t, err)
	th.sync(t)
	return c
}

func (th *testHub) send(t *testing.T, c *Conn, typ string, data any, ref string) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	th.Receive(c, model.WSEvent{Type: typ, Data: raw, Ref: ref})
}

func (th *testHub) join(t *testing.T, c *Conn, channelID string) {
	t.Helper()
	th.send(t, c, model.EventChannelJoin, model.ChannelRef{ChannelID: channelID}, "")
	env := recv(t, c)
	require.Equal(t, model.KindChannelJoined, env.Kind)
}

// sync waits until every command posted so far has been applied.
func (th *testHub) sync(t *testing.T) Stats {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s, err := th.Stats(ctx)
	require.NoError(t, err)
	return s
}

func recv(t *testing.T, c *Conn) wireEnvelope {
	t.Helper()
	select {
	case data, ok := <-c.Outbound():
		require.True(t, ok, "connection closed")
		var env wireEnvelope
		require.NoError(t, json.Unmarshal(data, &env))
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for envelope")
	}
	return wireEnvelope{}
}

func assertQuiet(t *testing.T, c *Conn) {
	t.Helper()
	assert.Len(t, c.send, 0, "unexpected envelope queued")
}

func decodeBatch(t *testing.T, env wireEnvelope) []wireEnvelope {
	t.Helper()
	require.Equal(t, model.KindMessagesBatch, env.Kind)
	var batch []wireEnvelope
	require.NoError(t, json.Unmarshal(env.Payload, &batch))
	return batch
}

func decodeNotice(t *testing.T, env wireEnvelope) model.Notice {
	t.Helper()
	require.Equal(t, model.KindError, env.Kind)
	var n model.Notice
	require.NoError(t, json.Unmarshal(env.Payload, &n))
	return n
}

func TestHub_MessagesBatchedInSendOrder(t *testing.T) {
	cfg := testConfig()
	cfg.BatchInterval = 200 * time.Millisecond
	th := startHub(t, cfg)
	bob := th.connect(t, "bob")
	alice := th.connect(t, "alice")
	require.Equal(t, model.KindUserStatusChanged, recv(t, bob).Kind)

	th.join(t, alice, "general")
	th.join(t, bob, "general")

	for i := 0; i < 3; i++ {
		th.send(t, alice, model.EventMessageCreate, model.MessageCreatePayload{
			ChannelID: "general",
			Content:   fmt.Sprintf("hello %d", i),
		}, fmt.Sprintf("tmp-%d", i))
	}

	env := recv(t, bob)
	assert.Equal(t, "general", env.Room)
	assert.Equal(t, model.SystemIdentity.String(), env.Sender)

	batch := decodeBatch(t, env)
	require.Len(t, batch, 3)
	for i, inner := range batch {
		assert.Equal(t, model.KindMessageCreated, inner.Kind)
		assert.Equal(t, "alice", inner.Sender)
		var msg model.Message
		require.NoError(t, json.Unmarshal(inner.Payload, &msg))
		assert.Equal(t, fmt.Sprintf("hello %d", i), msg.Content)
	}

	// the sender receives the authoritative batch too
	assert.Len(t, decodeBatch(t, recv(t, alice)), 3)
}

func TestHub_CapacityFlushWithoutWaiting(t *testing.T) {
	cfg := testConfig()
	cfg.BatchInterval = time.Hour
	th := startHub(t, cfg)
	alice := th.connect(t, "alice")
	th.join(t, alice, "general")

	for i := 0; i < cfg.BatchCapacity; i++ {
		th.send(t, alice, model.EventMessageCreate, model.MessageCreatePayload{ChannelID: "general", Content: "x"}, "")
	}

	assert.Len(t, decodeBatch(t, recv(t, alice)), cfg.BatchCapacity)
	assert.Equal(t, 1.0, testutil.ToFloat64(th.metrics.Flushes.WithLabelValues(string(FlushCapacity))))
}

func TestHub_ThreadReplyRoutedToParentRoom(t *testing.T) {
	th := startHub(t, testConfig())
	alice := th.connect(t, "alice")
	th.join(t, alice, "general")

	th.send(t, alice, model.EventMessageCreate, model.MessageCreatePayload{ChannelID: "general", Content: "parent"}, "")
	parent := decodeBatch(t, recv(t, alice))[0]
	var msg model.Message
	require.NoError(t, json.Unmarshal(parent.Payload, &msg))

	th.send(t, alice, model.EventThreadMessageCreate, model.ThreadMessagePayload{ParentMessageID: msg.ID, Content: "reply"}, "")
	env := recv(t, alice)
	assert.Equal(t, "general", env.Room)
	batch := decodeBatch(t, env)
	require.Len(t, batch, 1)
	assert.Equal(t, model.KindThreadMessageCreated, batch[0].Kind)
}

func TestHub_RateLimitedNoticeOnlyToOffender(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimitEvents = 2
	th := startHub(t, cfg)
	bob := th.connect(t, "bob")
	alice := th.connect(t, "alice")
	recv(t, bob) // alice online

	th.join(t, alice, "a")
	th.join(t, alice, "b")
	th.send(t, alice, model.EventChannelJoin, "c", "join-c")

	n := decodeNotice(t, recv(t, alice))
	assert.Equal(t, string(RateLimited), n.Code)
	assert.Equal(t, "join-c", n.Ref)

	th.sync(t)
	assertQuiet(t, bob)
	th.join(t, bob, "a")
}

func TestHub_PingAnsweredOutsideBudget(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimitEvents = 1
	th := startHub(t, cfg)
	alice := th.connect(t, "alice")

	for i := 0; i < 3; i++ {
		th.send(t, alice, model.EventPing, nil, "")
		env := recv(t, alice)
		assert.Equal(t, model.KindPong, env.Kind)
		assert.Equal(t, string(model.SystemIdentity), env.Sender)
	}
	th.join(t, alice, "general")
}

func TestHub_ValidationNotices(t *testing.T) {
	th := startHub(t, testConfig())
	alice := th.connect(t, "alice")

	th.send(t, alice, model.EventMessageCreate, model.MessageCreatePayload{ChannelID: "general", Content: "   "}, "tmp-1")
	n := decodeNotice(t, recv(t, alice))
	assert.Equal(t, string(ValidationFailure), n.Code)
	assert.Equal(t, "tmp-1", n.Ref)

	th.send(t, alice, "dance", nil, "")
	assert.Equal(t, string(ValidationFailure), decodeNotice(t, recv(t, alice)).Code)

	th.send(t, alice, model.EventThreadMessageCreate, model.ThreadMessagePayload{ParentMessageID: "missing", Content: "hi"}, "tmp-2")
	n = decodeNotice(t, recv(t, alice))
	assert.Equal(t, string(ValidationFailure), n.Code)
	assert.Equal(t, "tmp-2", n.Ref)
	assert.Zero(t, th.store.count())
}

func TestHub_UpstreamFailureCarriesRef(t *testing.T) {
	th := startHub(t, testConfig())
	th.store.fail = errors.New("database is down")
	alice := th.connect(t, "alice")
	th.join(t, alice, "general")

	th.send(t, alice, model.EventMessageCreate, model.MessageCreatePayload{ChannelID: "general", Content: "hi"}, "tmp-9")

	n := decodeNotice(t, recv(t, alice))
	assert.Equal(t, string(UpstreamFailure), n.Code)
	assert.Equal(t, "tmp-9", n.Ref)
}

func TestHub_PresenceExactlyOnce(t *testing.T) {
	th := startHub(t, testConfig())
	bob := th.connect(t, "bob")

	a1 := th.connect(t, "alice")
	env := recv(t, bob)
	require.Equal(t, model.KindUserStatusChanged, env.Kind)
	var change model.PresenceChange
	require.NoError(t, json.Unmarshal(env.Payload, &change))
	assert.Equal(t, model.Identity("alice"), change.UserID)
	assert.True(t, change.Online)

	a2 := th.connect(t, "alice")
	assertQuiet(t, bob)
	assertQuiet(t, a1)
	assertQuiet(t, a2)

	th.Disconnect(a1)
	th.sync(t)
	assertQuiet(t, bob)

	th.Disconnect(a2)
	th.Disconnect(a2)
	th.sync(t)
	env = recv(t, bob)
	require.NoError(t, json.Unmarshal(env.Payload, &change))
	assert.False(t, change.Online)
	assert.Equal(t, PresenceOffline, change.Presence)
	assertQuiet(t, bob)

	s := th.sync(t)
	assert.Equal(t, 1, s.Connections)
	assert.Equal(t, 1, s.OnlineUsers)
}

func TestHub_StatusUpdateBroadcastAndPersistFailures(t *testing.T) {
	statuses := &failingStatusStore{}
	th := startHub(t, testConfig(), WithStatusStore(statuses))
	bob := th.connect(t, "bob")
	alice := th.connect(t, "alice")
	recv(t, bob)

	th.send(t, alice, model.EventStatusUpdate, model.StatusPayload{Status: "lunch"}, "")
	env := recv(t, bob)
	var change model.PresenceChange
	require.NoError(t, json.Unmarshal(env.Payload, &change))
	assert.Equal(t, "lunch", change.Status)
	assert.True(t, change.Online)

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(th.metrics.StatusFailed) >= 3
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHub_UpdateStatusFromOutside(t *testing.T) {
	th := startHub(t, testConfig())
	bob := th.connect(t, "bob")
	th.connect(t, "alice")
	recv(t, bob)

	th.UpdateStatus("alice", "in a meeting")
	env := recv(t, bob)
	assert.Equal(t, model.KindUserStatusChanged, env.Kind)
	var change model.PresenceChange
	require.NoError(t, json.Unmarshal(env.Payload, &change))
	assert.Equal(t, model.Identity("alice"), change.UserID)
	assert.Equal(t, "in a meeting", change.Status)
}

func TestHub_AssistantExcludedFromPresence(t *testing.T) {
	cfg := testConfig()
	cfg.AssistantID = "assistant"
	th := startHub(t, cfg)
	bob := th.connect(t, "bob")

	th.connect(t, "assistant")
	assertQuiet(t, bob)
	assert.Equal(t, 1, th.sync(t).OnlineUsers)
}

func TestHub_ReactionExcludesSenderConnection(t *testing.T) {
	th := startHub(t, testConfig())
	alice := th.connect(t, "alice")
	bob := th.connect(t, "bob")
	recv(t, alice)
	th.join(t, alice, "general")
	th.join(t, bob, "general")

	th.send(t, alice, model.EventMessageCreate, model.MessageCreatePayload{ChannelID: "general", Content: "hi"}, "")
	recv(t, alice)
	inner := decodeBatch(t, recv(t, bob))[0]
	var msg model.Message
	require.NoError(t, json.Unmarshal(inner.Payload, &msg))

	th.send(t, bob, model.EventReactionAdd, model.ReactionPayload{MessageID: msg.ID, Emoji: "👍"}, "")
	env := recv(t, alice)
	assert.Equal(t, model.KindReactionAdded, env.Kind)
	assert.Equal(t, "bob", env.Sender)
	th.sync(t)
	assertQuiet(t, bob)
}

func TestHub_TypingIsDirect(t *testing.T) {
	cfg := testConfig()
	cfg.BatchInterval = time.Hour
	th := startHub(t, cfg)
	alice := th.connect(t, "alice")
	bob := th.connect(t, "bob")
	recv(t, alice)
	th.join(t, alice, "general")
	th.join(t, bob, "general")

	th.send(t, alice, model.EventTypingStart, model.ChannelRef{ChannelID: "general"}, "")
	env := recv(t, bob)
	assert.Equal(t, model.KindUserTyping, env.Kind)
	th.sync(t)
	assertQuiet(t, alice)
}

func TestHub_DisconnectFlushesPendingBatch(t *testing.T) {
	cfg := testConfig()
	cfg.BatchInterval = time.Hour
	accepted := make(chan string, 1)
	th := startHub(t, cfg, WithObserver(observerFunc(func(msg *model.Message) { accepted <- msg.ID })))
	alice := th.connect(t, "alice")
	bob := th.connect(t, "bob")
	recv(t, alice)
	th.join(t, alice, "general")
	th.join(t, bob, "general")

	th.send(t, alice, model.EventMessageCreate, model.MessageCreatePayload{ChannelID: "general", Content: "bye"}, "")
	select {
	case <-accepted:
	case <-time.After(2 * time.Second):
		t.Fatal("message was not accepted")
	}

	th.Disconnect(alice)
	batch := decodeBatch(t, recv(t, bob))
	require.Len(t, batch, 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(th.metrics.Flushes.WithLabelValues(string(FlushDisconnect))))
}

func TestHub_ShutdownFlushesAndCloses(t *testing.T) {
	cfg := testConfig()
	cfg.BatchInterval = time.Hour
	th := startHub(t, cfg)
	alice := th.connect(t, "alice")
	th.join(t, alice, "general")

	th.PublishMessage(&model.Message{ID: "m1", ChannelID: "general", UserID: "assistant", Content: "hi"})
	th.sync(t)
	th.cancel()
	<-th.Done()

	assert.Len(t, decodeBatch(t, recv(t, alice)), 1)
	_, ok := <-alice.Outbound()
	assert.False(t, ok)

	_, err := th.Connect(&Claims{Identity: "late"})
	assert.ErrorIs(t, err, ErrHubStopped)
}

func TestHub_SlowConsumerDropped(t *testing.T) {
	cfg := testConfig()
	cfg.SendBuffer = 1
	th := startHub(t, cfg)
	bob := th.connect(t, "bob")
	th.send(t, bob, model.EventChannelJoin, "general", "")
	th.sync(t) // bob's only slot now holds the join ack

	th.connect(t, "alice")

	require.Equal(t, model.KindChannelJoined, recv(t, bob).Kind)
	_, ok := <-bob.Outbound()
	assert.False(t, ok, "slow consumer is disconnected")
	assert.Equal(t, 1.0, testutil.ToFloat64(th.metrics.SlowConsumers))
	assert.Equal(t, 1, th.sync(t).Connections)
}

func TestHub_TokenExpiryDisconnects(t *testing.T) {
	th := startHub(t, testConfig())
	c, err := th.Connect(&Claims{Identity: "alice", ExpiresAt: time.Now().Add(30 * time.Millisecond)})
	require.NoError(t, err)

	assert.Equal(t, model.KindTokenExpired, recv(t, c).Kind)
	_, ok := <-c.Outbound()
	assert.False(t, ok)
}

func TestHub_Announce(t *testing.T) {
	th := startHub(t, testConfig())
	alice := th.connect(t, "alice")

	th.Announce(model.NewEnvelope(model.KindServerAnnounce, "", model.SystemIdentity, model.WSAnnounce{Message: "maintenance"}))
	assert.Equal(t, model.KindServerAnnounce, recv(t, alice).Kind)
}
