package realtime

import (
	"context"
	"errors"
	"time"

	"chatgenius-backend/internal/model"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

var ErrHubStopped = errors.New("hub stopped")

type Config struct {
	RateLimitEvents int
	RateLimitWindow time.Duration
	BatchCapacity   int
	BatchInterval   time.Duration
	SendBuffer      int
	// AssistantID is excluded from presence tracking.
	AssistantID    model.Identity
	PersistTimeout time.Duration
	SweepInterval  time.Duration
	DrainTimeout   time.Duration
}

func DefaultConfig() Config {
	return Config{
		RateLimitEvents: 30,
		RateLimitWindow: 10 * time.Second,
		BatchCapacity:   10,
		BatchInterval:   100 * time.Millisecond,
		SendBuffer:      256,
		PersistTimeout:  5 * time.Second,
		SweepInterval:   time.Minute,
		DrainTimeout:    5 * time.Second,
	}
}

// statusFailureThreshold is the number of consecutive presence persistence
// failures after which they are reported as errors.
const statusFailureThreshold = 3

// Hub is the real-time coordinator. All router, coalescer, limiter and
// presence state is owned by the goroutine running Run; every other
// goroutine talks to it by posting commands to the inbox.
type Hub struct {
	cfg      Config
	log      zerolog.Logger
	metrics  *Metrics
	store    MessageStore
	statuses StatusStore
	observer MessageObserver

	router    *Router
	coalescer *Coalescer
	limiter   *Limiter
	presence  *Presence

	conns    map[string]*Conn
	drops    []*Conn
	inflight int
	stopping bool

	statusFailures int

	inbox chan command
	done  chan struct{}
}

type Option func(*Hub)

func WithStatusStore(s StatusStore) Option {
	return func(h *Hub) { h.statuses = s }
}

func WithObserver(o MessageObserver) Option {
	return func(h *Hub) { h.observer = o }
}

func WithMetrics(m *Metrics) Option {
	return func(h *Hub) { h.metrics = m }
}

func NewHub(cfg Config, store MessageStore, log zerolog.Logger, opts ...Option) *Hub {
	h := &Hub{
		cfg:   cfg,
		log:   log,
		store: store,
		conns: make(map[string]*Conn),
		inbox: make(chan command, 1024),
		done:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.metrics == nil {
		h.metrics = NewMetrics(prometheus.NewRegistry())
	}

	h.router = NewRouter(log)
	h.router.slow = func(c *Conn) { h.drops = append(h.drops, c) }
	h.coalescer = NewCoalescer(cfg.BatchCapacity, cfg.BatchInterval, h.schedule, h.emitBatch)
	h.limiter = NewLimiter(cfg.RateLimitEvents, cfg.RateLimitWindow)
	if cfg.AssistantID != "" {
		h.presence = NewPresence(cfg.AssistantID)
	} else {
		h.presence = NewPresence()
	}
	return h
}

// Run processes commands until ctx is cancelled. On shutdown it waits up to
// DrainTimeout for in-flight store writes, flushes every pending batch and
// closes all connections.
func (h *Hub) Run(ctx context.Context) {
	sweep := time.NewTicker(h.sweepInterval())
	defer sweep.Stop()

	h.log.Info().Msg("hub started")
	for {
		select {
		case cmd := <-h.inbox:
			h.apply(cmd)
		case <-sweep.C:
			if n := h.limiter.Sweep(); n > 0 {
				h.log.Debug().Int("identities", n).Msg("rate budgets swept")
			}
			h.metrics.Rooms.Set(float64(h.router.RoomCount()))
		case <-ctx.Done():
			h.shutdown()
			return
		}
	}
}

// Done is closed once Run has returned.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

func (h *Hub) apply(cmd command) {
	cmd.apply(h)
	for len(h.drops) > 0 {
		c := h.drops[0]
		h.drops = h.drops[1:]
		if _, ok := h.conns[c.ID]; ok {
			h.metrics.SlowConsumers.Inc()
			h.log.Warn().Str("conn", c.ID).Str("user", c.Identity.String()).Msg("dropping slow consumer")
			h.disconnect(c)
		}
	}
}

func (h *Hub) shutdown() {
	h.stopping = true
	deadline := time.NewTimer(h.drainTimeout())
	defer deadline.Stop()

drain:
	for h.inflight > 0 {
		select {
		case cmd := <-h.inbox:
			h.apply(cmd)
		case <-deadline.C:
			h.log.Warn().Int("inflight", h.inflight).Msg("drain timed out")
			break drain
		}
	}

	h.coalescer.FlushAll(FlushShutdown)
	for _, c := range h.conns {
		h.router.LeaveAll(c)
		c.close()
	}
	h.conns = make(map[string]*Conn)
	close(h.done)
	h.log.Info().Msg("hub stopped")
}

func (h *Hub) post(cmd command) bool {
	select {
	case <-h.done:
		return false
	default:
	}
	select {
	case h.inbox <- cmd:
		return true
	case <-h.done:
		return false
	}
}

// schedule is the coalescer's timer source. Expiry is re-posted to the
// dispatch goroutine.
func (h *Hub) schedule(d time.Duration, fire func()) func() bool {
	t := time.AfterFunc(d, func() { h.post(dueCmd{fire: fire}) })
	return t.Stop
}

func (h *Hub) emitBatch(room string, batch []model.Envelope, reason FlushReason) {
	env := model.NewEnvelope(model.KindMessagesBatch, room, model.SystemIdentity, batch)
	h.router.Broadcast(room, env, "")
	h.metrics.Flushes.WithLabelValues(string(reason)).Inc()
	h.metrics.BatchSize.Observe(float64(len(batch)))
}

// Connect registers an admitted connection. Presence turns online on the
// identity's first connection.
func (h *Hub) Connect(claims *Claims) (*Conn, error) {
	c := newConn(claims.Identity, claims.Username, h.sendBuffer())
	c.ExpiresAt = claims.ExpiresAt
	if !h.post(connectCmd{conn: c}) {
		return nil, ErrHubStopped
	}
	return c, nil
}

// Disconnect unregisters c. It is safe to call more than once.
func (h *Hub) Disconnect(c *Conn) {
	h.post(disconnectCmd{conn: c})
}

// Receive hands an inbound frame from c to the dispatcher.
func (h *Hub) Receive(c *Conn, ev model.WSEvent) {
	h.post(frameCmd{conn: c, event: ev})
}

// PublishMessage feeds a message persisted outside the real-time path (REST,
// assistant replies) into the coalescer of its room.
func (h *Hub) PublishMessage(msg *model.Message) {
	h.post(publishMessageCmd{msg: msg})
}

// Publish broadcasts env to room immediately, bypassing the coalescer.
func (h *Hub) Publish(room string, env model.Envelope) {
	h.post(publishCmd{room: room, env: env})
}

// UpdateStatus sets id's free-form status as if it had sent status:update.
func (h *Hub) UpdateStatus(id model.Identity, status string) {
	h.post(statusCmd{identity: id, status: status})
}

// Announce broadcasts env to every connection.
func (h *Hub) Announce(env model.Envelope) {
	h.post(announceCmd{env: env})
}

type Stats struct {
	Connections int                    `json:"connections"`
	OnlineUsers int                    `json:"onlineUsers"`
	Rooms       int                    `json:"rooms"`
	Online      []model.PresenceChange `json:"online"`
}

// Stats snapshots the hub state from the dispatch goroutine.
func (h *Hub) Stats(ctx context.Context) (Stats, error) {
	reply := make(chan Stats, 1)
	if !h.post(statsCmd{reply: reply}) {
		return Stats{}, ErrHubStopped
	}
	select {
	case s := <-reply:
		return s, nil
	case <-ctx.Done():
		return Stats{}, ctx.Err()
	case <-h.done:
		return Stats{}, ErrHubStopped
	}
}

func (h *Hub) register(c *Conn) {
	h.conns[c.ID] = c
	h.metrics.Connections.Set(float64(len(h.conns)))

	if !c.ExpiresAt.IsZero() {
		c.expiry = time.AfterFunc(time.Until(c.ExpiresAt), func() {
			h.post(expireCmd{conn: c})
		})
	}

	if change, ok := h.presence.Connect(c.Identity); ok {
		h.metrics.Online.Set(float64(h.presence.OnlineCount()))
		h.broadcastPresence(change)
		h.persistPresence(c.Identity, true)
	}
	h.log.Debug().Str("conn", c.ID).Str("user", c.Identity.String()).Int("total", len(h.conns)).Msg("connected")
}

// disconnect flushes pending batches before membership is torn down so that
// accepted writes are never discarded.
func (h *Hub) disconnect(c *Conn) {
	if _, ok := h.conns[c.ID]; !ok {
		return
	}
	h.coalescer.FlushConn(c.ID, h.router.Rooms(c), FlushDisconnect)
	h.router.LeaveAll(c)
	delete(h.conns, c.ID)
	c.close()
	h.metrics.Connections.Set(float64(len(h.conns)))

	if change, ok := h.presence.Disconnect(c.Identity); ok {
		h.metrics.Online.Set(float64(h.presence.OnlineCount()))
		h.broadcastPresence(change)
		h.persistPresence(c.Identity, false)
	}
	h.log.Debug().Str("conn", c.ID).Str("user", c.Identity.String()).Int("total", len(h.conns)).Msg("disconnected")
}

// broadcastPresence sends change to every connection of every other
// identity. Presence is never batched.
func (h *Hub) broadcastPresence(change model.PresenceChange) {
	env := model.NewEnvelope(model.KindUserStatusChanged, "", change.UserID, change)
	data, err := env.Encode()
	if err != nil {
		h.log.Error().Err(err).Msg("encode presence")
		return
	}
	for _, c := range h.conns {
		if c.Identity == change.UserID {
			continue
		}
		if !c.deliver(data) {
			h.drops = append(h.drops, c)
		}
	}
}

func (h *Hub) persistPresence(id model.Identity, online bool) {
	if h.statuses == nil {
		return
	}
	h.goAsync(func(ctx context.Context) command {
		err := h.statuses.UpdatePresence(ctx, id.String(), online)
		return statusResultCmd{identity: id, err: err}
	})
}

func (h *Hub) persistStatus(id model.Identity, status string) {
	if h.statuses == nil {
		return
	}
	h.goAsync(func(ctx context.Context) command {
		err := h.statuses.UpdateStatus(ctx, id.String(), status)
		return statusResultCmd{identity: id, err: err}
	})
}

// goAsync runs work off the dispatch goroutine and posts its result back.
// The in-flight count is owned by the dispatch goroutine.
func (h *Hub) goAsync(work func(ctx context.Context) command) {
	h.inflight++
	timeout := h.cfg.PersistTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		h.post(work(ctx))
	}()
}

// submit runs a store write for c once its earlier writes have completed.
func (h *Hub) submit(c *Conn, work func(ctx context.Context) command) {
	if c.writing {
		c.writes = append(c.writes, work)
		return
	}
	c.writing = true
	h.goAsync(work)
}

// writeDone starts c's next queued write. Queued writes still run after c
// has been dropped; they were accepted before it went away.
func (h *Hub) writeDone(c *Conn) {
	if len(c.writes) == 0 {
		c.writing = false
		return
	}
	next := c.writes[0]
	c.writes = c.writes[1:]
	h.goAsync(next)
}

func (h *Hub) recordStatusResult(id model.Identity, err error) {
	if err == nil {
		h.statusFailures = 0
		return
	}
	h.statusFailures++
	h.metrics.StatusFailed.Inc()
	if h.statusFailures >= statusFailureThreshold {
		h.log.Error().Err(err).Str("user", id.String()).Int("consecutive", h.statusFailures).Msg("presence persistence keeps failing")
		return
	}
	h.log.Warn().Err(err).Str("user", id.String()).Msg("presence persistence failed")
}

func (h *Hub) sweepInterval() time.Duration {
	if h.cfg.SweepInterval > 0 {
		return h.cfg.SweepInterval
	}
	return time.Minute
}

func (h *Hub) drainTimeout() time.Duration {
	if h.cfg.DrainTimeout > 0 {
		return h.cfg.DrainTimeout
	}
	return 5 * time.Second
}

func (h *Hub) sendBuffer() int {
	if h.cfg.SendBuffer > 0 {
		return h.cfg.SendBuffer
	}
	return 256
}
