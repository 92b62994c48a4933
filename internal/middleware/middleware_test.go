package middleware

import (
	"bytes"
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"chatgenius-backend/internal/model"
	"chatgenius-backend/internal/realtime"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubVerifier map[string]string

func (v stubVerifier) Verify(_ context.Context, token string) (*realtime.Claims, error) {
	id, ok := v[token]
	if !ok {
		return nil, errors.New("bad token")
	}
	return &realtime.Claims{Identity: model.Identity(id), Username: id}, nil
}

func TestAuth(t *testing.T) {
	app := fiber.New()
	app.Get("/me", Auth(stubVerifier{"good": "alice"}), func(c *fiber.Ctx) error {
		assert.Equal(t, "alice", UserID(c))
		return c.SendString(UserID(c))
	})

	tests := map[string]struct {
		header string
		status int
	}{
		"missing":   {"", 401},
		"no scheme": {"good", 401},
		"bad":       {"Bearer nope", 401},
		"ok":        {"Bearer good", 200},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/me", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tc.status, resp.StatusCode)
		})
	}
}

func TestAdminKey(t *testing.T) {
	app := fiber.New()
	app.Get("/admin", AdminKey("k"), func(c *fiber.Ctx) error { return c.SendStatus(204) })

	req := httptest.NewRequest("GET", "/admin", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, 403, resp.StatusCode)

	req.Header.Set("X-Admin-Key", "k")
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, 204, resp.StatusCode)
}

func TestFilteredWriter(t *testing.T) {
	var buf bytes.Buffer
	w := &filteredWriter{log: zerolog.New(&buf), slowThreshold: 500 * time.Millisecond, errorStatusFloor: 400}

	_, _ = w.Write([]byte("200|1.2ms|GET|/fast|1.1.1.1\n"))
	assert.Empty(t, buf.String())

	_, _ = w.Write([]byte("200|750ms|GET|/slow|1.1.1.1\n"))
	assert.Contains(t, buf.String(), `"path":"/slow"`)

	buf.Reset()
	_, _ = w.Write([]byte("404|3µs|GET|/missing|1.1.1.1\n"))
	assert.Contains(t, buf.String(), `"level":"warn"`)
	assert.Contains(t, buf.String(), `"status":404`)
}

func TestRateLimit(t *testing.T) {
	app := fiber.New()
	app.Get("/", RateLimit(2, time.Minute, nil), func(c *fiber.Ctx) error { return c.SendStatus(200) })

	for i := 0; i < 2; i++ {
		resp, err := app.Test(httptest.NewRequest("GET", "/", nil))
		require.NoError(t, err)
		assert.Equal(t, 200, resp.StatusCode)
	}
	resp, err := app.Test(httptest.NewRequest("GET", "/", nil))
	require.NoError(t, err)
	assert.Equal(t, 429, resp.StatusCode)
}

func TestRedisStorageBadURL(t *testing.T) {
	for _, url := range []string{
		"http://not-redis:6379",
		"redis://127.0.0.1:1/0",
	} {
		storage, err := RedisStorage(url)
		assert.Error(t, err, url)
		assert.Nil(t, storage, url)
	}
}
