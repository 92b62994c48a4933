package realtime

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Handshake is the admission data of a connection attempt.
type Handshake struct {
	Authorization string // Authorization header value
	Token         string // token query parameter
	RemoteAddr    string
}

// Credential returns the bearer credential, preferring the header.
func (h Handshake) Credential() string {
	raw := h.Authorization
	if raw == "" {
		raw = h.Token
	}
	raw = strings.TrimSpace(raw)
	if len(raw) > 7 && strings.EqualFold(raw[:7], "bearer ") {
		raw = strings.TrimSpace(raw[7:])
	}
	return raw
}

// Gate admits or rejects connections before any event handler exists.
// It is called from transport goroutines, so its guard state is locked.
type Gate struct {
	verifier Verifier
	log      zerolog.Logger

	mu      sync.Mutex
	guards  map[string]*handshakeGuard
	rate    rate.Limit
	burst   int
	ttl     time.Duration
	now     func() time.Time
	metrics *Metrics
}

type handshakeGuard struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewGate builds a gate that allows each remote address handshakeRate
// attempts per second with the given burst.
func NewGate(verifier Verifier, handshakeRate float64, burst int, metrics *Metrics, log zerolog.Logger) *Gate {
	return &Gate{
		verifier: verifier,
		log:      log,
		guards:   make(map[string]*handshakeGuard),
		rate:     rate.Limit(handshakeRate),
		burst:    burst,
		ttl:      5 * time.Minute,
		now:      time.Now,
		metrics:  metrics,
	}
}

// Admit verifies the handshake credential. Every rejection is an
// AuthFailure; the caller must close the connection attempt.
func (g *Gate) Admit(ctx context.Context, hs Handshake) (*Claims, error) {
	if !g.allow(hs.RemoteAddr) {
		g.reject("throttled")
		return nil, newFailure(AuthFailure, "too many connection attempts", nil)
	}

	credential := hs.Credential()
	if credential == "" {
		g.reject("missing_credential")
		return nil, newFailure(AuthFailure, "authentication token is required", nil)
	}

	claims, err := g.verifier.Verify(ctx, credential)
	if err != nil {
		g.reject("invalid_credential")
		g.log.Debug().Err(err).Str("remote", hs.RemoteAddr).Msg("handshake rejected")
		return nil, newFailure(AuthFailure, "invalid authentication token", err)
	}
	if claims == nil || claims.Identity == "" {
		g.reject("invalid_credential")
		return nil, newFailure(AuthFailure, "invalid authentication token", nil)
	}
	if !claims.ExpiresAt.IsZero() && !claims.ExpiresAt.After(g.now()) {
		g.reject("expired_credential")
		return nil, newFailure(AuthFailure, "token has expired", nil)
	}
	return claims, nil
}

func (g *Gate) allow(addr string) bool {
	if addr == "" {
		return true
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	guard, ok := g.guards[addr]
	if !ok {
		guard = &handshakeGuard{limiter: rate.NewLimiter(g.rate, g.burst)}
		g.guards[addr] = guard
	}
	guard.lastSeen = now
	return guard.limiter.AllowN(now, 1)
}

// SweepGuards forgets addresses idle for longer than the guard TTL.
func (g *Gate) SweepGuards() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	removed := 0
	for addr, guard := range g.guards {
		if now.Sub(guard.lastSeen) > g.ttl {
			delete(g.guards, addr)
			removed++
		}
	}
	return removed
}

func (g *Gate) reject(reason string) {
	if g.metrics != nil {
		g.metrics.Rejections.WithLabelValues(reason).Inc()
	}
}
