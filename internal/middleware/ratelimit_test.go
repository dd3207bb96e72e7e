package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rental-marketplace/backend/internal/auth"
	"github.com/rental-marketplace/backend/internal/config"
	"github.com/rental-marketplace/backend/internal/rbac"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestRateLimitSeparatesPaths(t *testing.T) {
	mr, rdb := newTestRedis(t)

	app := fiber.New()
	api := app.Group("/api/v1")
	api.Use(RateLimitMiddleware(rdb, 1, time.Minute))
	ok := func(c *fiber.Ctx) error { return c.SendStatus(http.StatusNoContent) }
	api.Get("/a", ok)
	api.Get("/b", ok)

	call := func(path string) int {
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, path, nil))
		require.NoError(t, err)
		defer resp.Body.Close()
		return resp.StatusCode
	}

	assert.Equal(t, http.StatusNoContent, call("/api/v1/a"))
	assert.Equal(t, http.StatusNoContent, call("/api/v1/b"))
	assert.Equal(t, http.StatusTooManyRequests, call("/api/v1/a"))

	keys := mr.Keys()
	assert.Len(t, keys, 2)
	assert.Contains(t, keys, "rl:/api/v1/a:ip:0.0.0.0")
	assert.Contains(t, keys, "rl:/api/v1/b:ip:0.0.0.0")
	assert.Greater(t, mr.TTL("rl:/api/v1/a:ip:0.0.0.0"), time.Duration(0))
}

func TestRateLimitKeysAuthenticatedCallersByUser(t *testing.T) {
	mr, rdb := newTestRedis(t)
	cfg := &config.Config{JWTSecret: "test-secret"}

	app := fiber.New()
	protected := app.Group("/api/v1", AuthMiddleware(cfg, zap.NewNop()), RateLimitMiddleware(rdb, 1, time.Minute))
	protected.Get("/escrow", func(c *fiber.Ctx) error { return c.SendStatus(http.StatusNoContent) })

	call := func(userID uuid.UUID) int {
		token, err := auth.GenerateJWT(cfg.JWTSecret, userID, rbac.RoleTenant, time.Hour)
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodGet, "/api/v1/escrow", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		resp, err := app.Test(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		return resp.StatusCode
	}

	alice, bob := uuid.New(), uuid.New()
	assert.Equal(t, http.StatusNoContent, call(alice))
	assert.Equal(t, http.StatusNoContent, call(bob))
	assert.Equal(t, http.StatusTooManyRequests, call(alice))

	assert.True(t, mr.Exists("rl:/api/v1/escrow:user:"+alice.String()))
	assert.True(t, mr.Exists("rl:/api/v1/escrow:user:"+bob.String()))
}

func TestRateLimitFailsOpen(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })

	app := fiber.New()
	app.Use(RateLimitMiddleware(rdb, 1, time.Minute))
	app.Get("/", func(c *fiber.Ctx) error { return c.SendStatus(http.StatusNoContent) })

	for i := 0; i < 3; i++ {
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil))
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	}
}
