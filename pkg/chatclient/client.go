package chatclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"chatgenius-backend/internal/model"
)

var ErrClosed = errors.New("client closed")

type Config struct {
	// URL is the websocket endpoint, e.g. ws://localhost:3000/ws.
	URL      string
	Token    string
	Identity model.Identity

	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	// PingInterval is how often an idle connection sends a ping so the
	// server keeps it open. Zero means 30s; negative disables pings.
	PingInterval time.Duration

	// Logger defaults to a no-op logger.
	Logger *zerolog.Logger
}

// wireEnvelope is an envelope as read off the socket, before its payload
// kind is known.
type wireEnvelope struct {
	Kind      string          `json:"kind"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Room      string          `json:"room,omitempty"`
	Sender    model.Identity  `json:"sender"`
	CreatedAt time.Time       `json:"createdAt"`
}

// Client keeps one websocket connection and the reconciled timeline of the
// rooms it receives.
type Client struct {
	cfg      Config
	ws       *websocket.Conn
	timeline *Timeline
	log      zerolog.Logger

	mu       sync.Mutex
	onNotice func(model.Notice)
	onEvent  func(kind string, room string, payload json.RawMessage)

	cancel context.CancelFunc
	done   chan struct{}
}

// Dial connects to the server and starts reading. The bearer token is sent
// in the Authorization header.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("empty URL")
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.PingInterval == 0 {
		cfg.PingInterval = 30 * time.Second
	}
	timeline, err := NewTimeline()
	if err != nil {
		return nil, err
	}

	dialCtx := ctx
	if cfg.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, cfg.HandshakeTimeout)
		defer cancel()
	}
	header := http.Header{}
	if cfg.Token != "" {
		header.Set("Authorization", "Bearer "+cfg.Token)
	}
	ws, _, err := websocket.Dial(dialCtx, cfg.URL, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	log := zerolog.Nop()
	if cfg.Logger != nil {
		log = *cfg.Logger
	}

	runCtx, cancel := context.WithCancel(context.Background())
	c := &Client{
		cfg:      cfg,
		ws:       ws,
		timeline: timeline,
		log:      log.With().Str("component", "chatclient").Logger(),
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go c.readLoop(runCtx)
	if cfg.PingInterval > 0 {
		go c.keepalive(runCtx)
	}
	return c, nil
}

func (c *Client) Timeline() *Timeline { return c.timeline }

// OnNotice registers a callback for error notices addressed to this client.
func (c *Client) OnNotice(fn func(model.Notice)) {
	c.mu.Lock()
	c.onNotice = fn
	c.mu.Unlock()
}

// OnEvent registers a callback for envelopes the timeline does not consume.
func (c *Client) OnEvent(fn func(kind, room string, payload json.RawMessage)) {
	c.mu.Lock()
	c.onEvent = fn
	c.mu.Unlock()
}

func (c *Client) Join(ctx context.Context, channelID string) error {
	return c.write(ctx, model.EventChannelJoin, model.ChannelRef{ChannelID: channelID}, "")
}

func (c *Client) Leave(ctx context.Context, channelID string) error {
	return c.write(ctx, model.EventChannelLeave, model.ChannelRef{ChannelID: channelID}, "")
}

func (c *Client) SetStatus(ctx context.Context, status string) error {
	return c.write(ctx, model.EventStatusUpdate, model.StatusPayload{Status: status}, "")
}

// SendMessage shows content in channelID immediately and asks the server
// to store it. The pending entry is removed again when the write fails or
// the server answers with an error notice for it.
func (c *Client) SendMessage(ctx context.Context, channelID, content string) (*Pending, error) {
	p := c.timeline.AddPending(channelID, c.cfg.Identity, content)
	payload := model.MessageCreatePayload{ChannelID: channelID, Content: content}
	if err := c.write(ctx, model.EventMessageCreate, payload, p.TempID); err != nil {
		c.timeline.Revert(p.TempID)
		return nil, err
	}
	return p, nil
}

// SendReply shows a reply to parentID in the thread immediately and asks the
// server to store it. channelID is the parent's channel, whose room carries
// the confirmation.
func (c *Client) SendReply(ctx context.Context, channelID, parentID, content string) (*Pending, error) {
	p := c.timeline.AddPendingReply(channelID, parentID, c.cfg.Identity, content)
	payload := model.ThreadMessagePayload{ParentMessageID: parentID, Content: content}
	if err := c.write(ctx, model.EventThreadMessageCreate, payload, p.TempID); err != nil {
		c.timeline.Revert(p.TempID)
		return nil, err
	}
	return p, nil
}

// Done is closed when the read loop has exited.
func (c *Client) Done() <-chan struct{} { return c.done }

func (c *Client) Close() error {
	c.cancel()
	return c.ws.Close(websocket.StatusNormalClosure, "client close")
}

func (c *Client) write(ctx context.Context, kind string, payload any, ref string) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", kind, err)
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.WriteTimeout)
	defer cancel()
	if err := wsjson.Write(ctx, c.ws, model.WSEvent{Type: kind, Data: data, Ref: ref}); err != nil {
		return fmt.Errorf("write %s: %w", kind, err)
	}
	return nil
}

func (c *Client) keepalive(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.write(ctx, model.EventPing, nil, ""); err != nil {
				c.log.Debug().Err(err).Msg("ping")
			}
		}
	}
}

func (c *Client) readLoop(ctx context.Context) {
	defer close(c.done)
	for {
		var env wireEnvelope
		if err := wsjson.Read(ctx, c.ws, &env); err != nil {
			if !expectedDisconnect(ctx, err) {
				c.log.Warn().Err(err).Msg("read loop exit")
			}
			return
		}
		c.handle(env)
	}
}

func (c *Client) handle(env wireEnvelope) {
	switch env.Kind {
	case model.KindMessagesBatch:
		var batch []wireEnvelope
		if err := json.Unmarshal(env.Payload, &batch); err != nil {
			c.log.Warn().Err(err).Msg("decode batch")
			return
		}
		for _, item := range batch {
			c.handle(item)
		}
	case model.KindMessageCreated, model.KindThreadMessageCreated:
		var msg model.Message
		if err := json.Unmarshal(env.Payload, &msg); err != nil {
			c.log.Warn().Err(err).Str("kind", env.Kind).Msg("decode message")
			return
		}
		c.timeline.Confirm(model.Envelope{
			Kind:      env.Kind,
			Payload:   &msg,
			Room:      env.Room,
			Sender:    env.Sender,
			CreatedAt: env.CreatedAt,
		})
	case model.KindPong:
	case model.KindError:
		var n model.Notice
		if err := json.Unmarshal(env.Payload, &n); err != nil {
			c.log.Warn().Err(err).Msg("decode notice")
			return
		}
		if n.Ref != "" {
			c.timeline.Revert(n.Ref)
		}
		c.mu.Lock()
		fn := c.onNotice
		c.mu.Unlock()
		if fn != nil {
			fn(n)
		}
	default:
		c.mu.Lock()
		fn := c.onEvent
		c.mu.Unlock()
		if fn != nil {
			fn(env.Kind, env.Room, env.Payload)
		}
	}
}

func expectedDisconnect(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return true
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
		return true
	}
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return true
	default:
		return false
	}
}
