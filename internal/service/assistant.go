package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"chatgenius-backend/internal/model"
	"chatgenius-backend/internal/realtime"
)

const (
	AssistantMention = "@assistant"
	assistantApology = "I apologize, but I'm having trouble processing your request at the moment. Please try again later."
)

// AssistantConfig configures the HTTP client for the assistant and document
// service.
type AssistantConfig struct {
	BaseURL string
	UserID  model.Identity
	Rate    float64
	Queue   int
	Workers int
	Timeout time.Duration
}

// AssistantClient answers @assistant mentions and forwards uploaded files
// for document ingestion. Both are fire-and-forget: requests are queued on
// a bounded worker pool and paced by a token bucket.
type AssistantClient struct {
	cfg      AssistantConfig
	client   *http.Client
	pacer    *rate.Limiter
	pool     *WorkerPool
	store    realtime.MessageStore
	channels Channels
	hub      Publisher
	log      zerolog.Logger
}

func NewAssistantClient(cfg AssistantConfig, store realtime.MessageStore, channels Channels, hub Publisher, log zerolog.Logger) *AssistantClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Rate <= 0 {
		cfg.Rate = 1
	}
	if cfg.Workers < 1 {
		cfg.Workers = 2
	}
	log = log.With().Str("component", "assistant").Logger()
	return &AssistantClient{
		cfg:      cfg,
		client:   &http.Client{Timeout: cfg.Timeout},
		pacer:    rate.NewLimiter(rate.Limit(cfg.Rate), cfg.Workers),
		pool:     NewWorkerPool(cfg.Workers, cfg.Queue, log),
		store:    store,
		channels: channels,
		hub:      hub,
		log:      log,
	}
}

// SetPublisher binds the hub once it exists; the hub itself observes this
// client, so the two cannot be built in one step.
func (a *AssistantClient) SetPublisher(p Publisher) { a.hub = p }

func (a *AssistantClient) Start(ctx context.Context) { a.pool.Start(ctx) }

func (a *AssistantClient) Stop() { a.pool.Stop() }

// Dropped counts requests discarded because the queue was full.
func (a *AssistantClient) Dropped() int64 { return a.pool.Dropped() }

var mentionPattern = regexp.MustCompile(`(?i)` + regexp.QuoteMeta(AssistantMention))

// Mentioned reports whether content addresses the assistant.
func Mentioned(content string) bool {
	return mentionPattern.MatchString(content)
}

// MessageCreated runs on the hub goroutine and only queues work.
func (a *AssistantClient) MessageCreated(msg *model.Message) {
	if model.Identity(msg.UserID) == a.cfg.UserID || !Mentioned(msg.Content) {
		return
	}
	req := model.AssistantRequest{
		Requester: model.Identity(msg.UserID),
		ChannelID: msg.ChannelID,
		Message:   msg,
	}
	if msg.ThreadID != nil {
		req.ThreadID = *msg.ThreadID
	}
	if !a.pool.Submit(func(ctx context.Context) { a.answer(ctx, req) }) {
		a.log.Warn().Str("message", msg.ID).Msg("assistant queue full, mention dropped")
	}
}

// Ingest queues f for document processing.
func (a *AssistantClient) Ingest(f *model.File) {
	req := model.AssistantRequest{
		Requester: model.Identity(f.UserID),
		ChannelID: f.ChannelID,
		File:      f,
	}
	if !a.pool.Submit(func(ctx context.Context) { a.ingest(ctx, req) }) {
		a.log.Warn().Str("file", f.ID).Msg("assistant queue full, document dropped")
	}
}

type assistRequest struct {
	Message     string `json:"message"`
	ChannelID   string `json:"channel_id"`
	UserID      string `json:"user_id"`
	ChannelType string `json:"channel_type"`
	ThreadID    string `json:"thread_id,omitempty"`
}

type assistResponse struct {
	Response string `json:"response"`
}

type documentRequest struct {
	FileID     string `json:"file_id"`
	FileURL    string `json:"file_url"`
	ChannelID  string `json:"channel_id"`
	UploaderID string `json:"uploader_id"`
	FileName   string `json:"file_name"`
	FileType   string `json:"file_type"`
}

func (a *AssistantClient) answer(ctx context.Context, req model.AssistantRequest) {
	room := realtime.RoomForChannel(req.ChannelID)
	a.typing(room, req.ChannelID, true)
	defer a.typing(room, req.ChannelID, false)

	content, err := a.ask(ctx, req)
	if err != nil {
		a.log.Error().Err(err).Str("channel", req.ChannelID).Str("user", req.Requester.String()).Msg("assistant request failed")
		content = assistantApology
	}

	in := model.NewMessage{
		ChannelID: req.ChannelID,
		UserID:    a.cfg.UserID.String(),
		Content:   content,
	}
	if req.ThreadID != "" {
		threadID := req.ThreadID
		in.ThreadID = &threadID
	}
	reply, err := a.store.CreateMessage(ctx, in)
	if err != nil {
		a.log.Error().Err(err).Str("channel", req.ChannelID).Msg("store assistant reply")
		return
	}
	a.hub.PublishMessage(reply)
}

func (a *AssistantClient) ask(ctx context.Context, req model.AssistantRequest) (string, error) {
	channelType := "public"
	if ch, err := a.channels.GetByID(ctx, req.ChannelID); err == nil && (ch.IsPrivate || ch.IsDM) {
		channelType = "private"
	}
	body := assistRequest{
		Message:     strings.TrimSpace(stripMention(req.Message.Content)),
		ChannelID:   req.ChannelID,
		UserID:      req.Requester.String(),
		ChannelType: channelType,
		ThreadID:    req.ThreadID,
	}
	var out assistResponse
	if err := a.post(ctx, "/assist", body, &out); err != nil {
		return "", err
	}
	if strings.TrimSpace(out.Response) == "" {
		return "", fmt.Errorf("assistant returned an empty response")
	}
	return out.Response, nil
}

func (a *AssistantClient) ingest(ctx context.Context, req model.AssistantRequest) {
	f := req.File
	body := documentRequest{
		FileID:     f.ID,
		FileURL:    f.URL,
		ChannelID:  f.ChannelID,
		UploaderID: f.UserID,
		FileName:   f.Name,
		FileType:   f.ContentType,
	}
	if err := a.post(ctx, "/document/process", body, nil); err != nil {
		a.log.Error().Err(err).Str("file", f.ID).Msg("document ingestion failed")
		return
	}
	a.log.Debug().Str("file", f.ID).Msg("document queued for ingestion")
}

func (a *AssistantClient) post(ctx context.Context, path string, in, out any) error {
	if err := a.pacer.Wait(ctx); err != nil {
		return err
	}
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(a.cfg.BaseURL, "/")+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("post %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("post %s: HTTP %d", path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func (a *AssistantClient) typing(room, channelID string, on bool) {
	kind := model.KindUserStoppedTyping
	if on {
		kind = model.KindUserTyping
	}
	a.hub.Publish(room, model.NewEnvelope(kind, room, a.cfg.UserID, model.TypingPayload{
		ChannelID: channelID,
		UserID:    a.cfg.UserID,
		Typing:    on,
	}))
}

func stripMention(content string) string {
	return mentionPattern.ReplaceAllString(content, "")
}
