package middleware

import (
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/rs/zerolog"
)

// Logger returns a Fiber middleware that only logs slow or failed requests.
func Logger(log zerolog.Logger) fiber.Handler {
	return logger.New(logger.Config{
		Format:     "${status}|${latency}|${method}|${path}|${ip}\n",
		TimeFormat: time.RFC3339,
		Output: &filteredWriter{
			log:              log.With().Str("component", "http").Logger(),
			slowThreshold:    500 * time.Millisecond,
			errorStatusFloor: 400,
		},
	})
}

// filteredWriter turns Fiber's access lines into zerolog events and drops
// the ones for fast, successful requests. Lines look like
//
//	"200|1.23ms|GET|/path|127.0.0.1\n"
type filteredWriter struct {
	log              zerolog.Logger
	slowThreshold    time.Duration
	errorStatusFloor int
}

func (w *filteredWriter) Write(p []byte) (int, error) {
	parts := strings.Split(strings.TrimSpace(string(p)), "|")
	if len(parts) < 5 {
		w.log.Info().Msg(strings.TrimSpace(string(p)))
		return len(p), nil
	}

	status, _ := strconv.Atoi(parts[0])
	latency, _ := time.ParseDuration(strings.ReplaceAll(parts[1], "µs", "us"))

	var ev *zerolog.Event
	switch {
	case status >= 500:
		ev = w.log.Error()
	case status >= w.errorStatusFloor:
		ev = w.log.Warn()
	case latency >= w.slowThreshold:
		ev = w.log.Info()
	default:
		return len(p), nil
	}
	ev.Int("status", status).
		Dur("latency", latency).
		Str("method", parts[2]).
		Str("path", parts[3]).
		Str("ip", parts[4]).
		Msg("request")
	return len(p), nil
}
