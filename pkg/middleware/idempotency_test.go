package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redismock/v9"
	redisclient "github.com/ridepulse/ridepulse/pkg/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newIdempotencyRouter(t *testing.T) (*gin.Engine, redismock.ClientMock, *int) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db, mock := redismock.NewClientMock()

	calls := 0
	router := gin.New()
	router.Use(Idempotency(redisclient.Wrap(db)))
	router.POST("/rides", func(c *gin.Context) {
		calls++
		c.JSON(http.StatusCreated, gin.H{"ok": true})
	})
	return router, mock, &calls
}

func postRides(router *gin.Engine, key, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/rides", strings.NewReader(body))
	if key != "" {
		req.Header.Set(IdempotencyKeyHeader, key)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func cachedEntry(t *testing.T, body string) string {
	t.Helper()
	entry := idempotencyEntry{
		StatusCode:  http.StatusCreated,
		Headers:     map[string]string{"Content-Type": "application/json; charset=utf-8"},
		Body:        json.RawMessage(`{"ok":true}`),
		RequestHash: hashRequest(http.MethodPost, "/rides", []byte(body)),
	}
	data, err := json.Marshal(entry)
	require.NoError(t, err)
	return string(data)
}

func TestIdempotencyCachesFirstResponse(t *testing.T) {
	router, mock, calls := newIdempotencyRouter(t)

	body := `{"rider_id":"r1"}`
	stored := cachedEntry(t, body)

	mock.ExpectGet("idempotency:default:ik-1").RedisNil()
	mock.ExpectSet("idempotency:default:ik-1", []byte(stored), 24*time.Hour).SetVal("OK")

	w := postRides(router, "ik-1", body)

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, 1, *calls)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIdempotencyReplaysCachedResponse(t *testing.T) {
	router, mock, calls := newIdempotencyRouter(t)

	body := `{"rider_id":"r1"}`
	stored := cachedEntry(t, body)

	mock.ExpectGet("idempotency:default:ik-1").SetVal(stored)

	w := postRides(router, "ik-1", body)

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.JSONEq(t, `{"ok":true}`, w.Body.String())
	assert.Equal(t, "true", w.Header().Get("Idempotent-Replayed"))
	// Handler never ran; the response came from the cache.
	assert.Equal(t, 0, *calls)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIdempotencyRejectsReusedKeyWithDifferentBody(t *testing.T) {
	router, mock, calls := newIdempotencyRouter(t)

	stored := cachedEntry(t, `{"rider_id":"r1"}`)

	mock.ExpectGet("idempotency:default:ik-1").SetVal(stored)

	w := postRides(router, "ik-1", `{"rider_id":"someone-else"}`)

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "IDEMPOTENCY_KEY_MISMATCH")
	assert.Equal(t, 0, *calls)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIdempotencyScopesKeysByTenant(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db, mock := redismock.NewClientMock()

	router := gin.New()
	router.Use(Tenant(), Idempotency(redisclient.Wrap(db)))
	router.POST("/rides", func(c *gin.Context) {
		c.JSON(http.StatusCreated, gin.H{"ok": true})
	})

	body := `{"rider_id":"r1"}`
	stored := cachedEntry(t, body)

	// Same key under another tenant hits that tenant's slot, not acme's.
	mock.ExpectGet("idempotency:acme:ik-1").RedisNil()
	mock.ExpectSet("idempotency:acme:ik-1", []byte(stored), 24*time.Hour).SetVal("OK")

	req := httptest.NewRequest(http.MethodPost, "/rides", strings.NewReader(body))
	req.Header.Set(IdempotencyKeyHeader, "ik-1")
	req.Header.Set(TenantIDHeader, "acme")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusCreated, w.Code)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIdempotencySkipsRequestsWithoutKey(t *testing.T) {
	router, mock, calls := newIdempotencyRouter(t)

	w := postRides(router, "", `{"rider_id":"r1"}`)

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, 1, *calls)
	// No key, no Redis traffic.
	require.NoError(t, mock.ExpectationsWereMet())
}
