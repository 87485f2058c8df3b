package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"furnish-be/internal/utils"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRedis is a map-backed RedisClient.
type fakeRedis struct {
	data   map[string]string
	ttls   map[string]time.Duration
	setErr error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{data: map[string]string{}, ttls: map[string]time.Duration{}}
}

func toString(v interface{}) string {
	switch x := v.(type) {
	case []byte:
		return string(x)
	case string:
		return x
	}
	return ""
}

func (f *fakeRedis) SetNX(_ context.Context, key string, value interface{}, exp time.Duration) *redis.BoolCmd {
	if f.setErr != nil {
		return redis.NewBoolResult(false, f.setErr)
	}
	if _, ok := f.data[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	f.data[key] = toString(value)
	f.ttls[key] = exp
	return redis.NewBoolResult(true, nil)
}

func (f *fakeRedis) Get(_ context.Context, key string) *redis.StringCmd {
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) Set(_ context.Context, key string, value interface{}, exp time.Duration) *redis.StatusCmd {
	f.data[key] = toString(value)
	f.ttls[key] = exp
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Del(_ context.Context, keys ...string) *redis.IntCmd {
	var n int64
	for _, k := range keys {
		if _, ok := f.data[k]; ok {
			delete(f.data, k)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func TestRedisStore(t *testing.T) {
	ctx := context.Background()

	t.Run("ReserveCompleteReplay", func(t *testing.T) {
		fr := newFakeRedis()
		s := NewRedisStore(fr)

		rec, fresh, err := s.Reserve(ctx, "k1", "fp", time.Hour)
		require.NoError(t, err)
		assert.True(t, fresh)
		assert.Equal(t, StatusPending, rec.Status)
		assert.Equal(t, time.Hour, fr.ttls["idem:order:k1"])

		rec, fresh, err = s.Reserve(ctx, "k1", "fp", time.Hour)
		require.NoError(t, err)
		assert.False(t, fresh)
		assert.Equal(t, StatusPending, rec.Status)

		require.NoError(t, s.Complete(ctx, "k1", Record{Fingerprint: "fp", ResponseStatus: 201, Body: []byte(`{"ok":true}`)}, time.Hour))

		rec, fresh, err = s.Reserve(ctx, "k1", "fp", time.Hour)
		require.NoError(t, err)
		assert.False(t, fresh)
		assert.Equal(t, StatusCompleted, rec.Status)
		assert.Equal(t, 201, rec.ResponseStatus)
		assert.JSONEq(t, `{"ok":true}`, string(rec.Body))
	})

	t.Run("FingerprintMismatch", func(t *testing.T) {
		s := NewRedisStore(newFakeRedis())
		_, _, err := s.Reserve(ctx, "k2", "a", time.Hour)
		require.NoError(t, err)

		_, _, err = s.Reserve(ctx, "k2", "b", time.Hour)
		assert.ErrorIs(t, err, ErrFingerprintMismatch)
	})

	t.Run("Release", func(t *testing.T) {
		fr := newFakeRedis()
		s := NewRedisStore(fr)
		_, _, err := s.Reserve(ctx, "k3", "a", time.Hour)
		require.NoError(t, err)

		require.NoError(t, s.Release(ctx, "k3"))
		assert.Empty(t, fr.data)
	})

	t.Run("ClientError", func(t *testing.T) {
		fr := newFakeRedis()
		fr.setErr = errors.New("connection refused")

		_, _, err := NewRedisStore(fr).Reserve(ctx, "k4", "a", time.Hour)
		assert.ErrorContains(t, err, "connection refused")
	})

	t.Run("StoredRecordIsJSON", func(t *testing.T) {
		fr := newFakeRedis()
		_, _, err := NewRedisStore(fr).Reserve(ctx, "k5", "fp", time.Hour)
		require.NoError(t, err)

		var rec Record
		require.NoError(t, json.Unmarshal([]byte(fr.data["idem:order:k5"]), &rec))
		assert.Equal(t, "fp", rec.Fingerprint)
	})
}

func TestMemoryStore_Expiry(t *testing.T) {
	s := NewMemoryStore()
	now := time.Now()
	s.now = func() time.Time { return now }

	_, fresh, err := s.Reserve(context.Background(), "k", "a", time.Minute)
	require.NoError(t, err)
	assert.True(t, fresh)

	_, fresh, _ = s.Reserve(context.Background(), "k", "a", time.Minute)
	assert.False(t, fresh)

	now = now.Add(2 * time.Minute)
	_, fresh, err = s.Reserve(context.Background(), "k", "b", time.Minute)
	require.NoError(t, err)
	assert.True(t, fresh)
}

func TestMiddleware(t *testing.T) {
	var calls int32
	handler := Middleware(NewMemoryStore(), time.Hour)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		body, _ := io.ReadAll(r.Body)
		if strings.Contains(string(body), "fail") {
			utils.WriteJSONError(w, "boom", http.StatusInternalServerError)
			return
		}
		utils.WriteJSON(w, http.StatusCreated, map[string]any{"success": true, "call": n})
	}))

	do := func(key, body string, userID uint) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/order/", strings.NewReader(body))
		if key != "" {
			req.Header.Set(Header, key)
		}
		req = req.WithContext(utils.SetUserContext(req.Context(), userID, "", "USER"))
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w
	}

	t.Run("ReplaysFirstResponse", func(t *testing.T) {
		atomic.StoreInt32(&calls, 0)

		first := do("key-1", `{"items":[1]}`, 7)
		second := do("key-1", `{"items":[1]}`, 7)

		assert.Equal(t, http.StatusCreated, first.Code)
		assert.Equal(t, http.StatusCreated, second.Code)
		assert.Equal(t, first.Body.String(), second.Body.String())
		assert.Equal(t, "true", second.Header().Get(ReplayHeader))
		assert.Equal(t, "application/json", second.Header().Get("Content-Type"))
		assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	})

	t.Run("KeysAreScopedPerUser", func(t *testing.T) {
		atomic.StoreInt32(&calls, 0)

		do("key-2", `{}`, 7)
		do("key-2", `{}`, 8)
		assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	})

	t.Run("DifferentBodySameKey", func(t *testing.T) {
		do("key-3", `{"a":1}`, 7)
		w := do("key-3", `{"a":2}`, 7)
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	})

	t.Run("ServerErrorsAreNotCached", func(t *testing.T) {
		atomic.StoreInt32(&calls, 0)

		assert.Equal(t, http.StatusInternalServerError, do("key-4", `fail`, 7).Code)
		assert.Equal(t, http.StatusInternalServerError, do("key-4", `fail`, 7).Code)
		assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	})

	t.Run("NoKeyPassesThrough", func(t *testing.T) {
		atomic.StoreInt32(&calls, 0)

		do("", `{}`, 7)
		do("", `{}`, 7)
		assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	})

	t.Run("InFlight", func(t *testing.T) {
		store := NewMemoryStore()
		_, _, err := store.Reserve(context.Background(), "user:7:key-5", fingerprintFor(t, `{}`), time.Hour)
		require.NoError(t, err)

		h := Middleware(store, time.Hour)(http.NotFoundHandler())
		req := httptest.NewRequest(http.MethodPost, "/api/order/", strings.NewReader(`{}`))
		req.Header.Set(Header, "key-5")
		req = req.WithContext(utils.SetUserContext(req.Context(), 7, "", "USER"))
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)

		assert.Equal(t, http.StatusConflict, w.Code)
	})
}

// ctxStore fails bookkeeping on a cancelled context, like a network-backed store.
type ctxStore struct {
	*MemoryStore
}

func (s ctxStore) Complete(ctx context.Context, key string, rec Record, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.MemoryStore.Complete(ctx, key, rec, ttl)
}

func (s ctxStore) Release(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.MemoryStore.Release(ctx, key)
}

func TestMiddleware_KeyIsNeverLeftPending(t *testing.T) {
	newRequest := func(ctx context.Context, key string) *http.Request {
		req := httptest.NewRequest(http.MethodPost, "/api/order/", strings.NewReader(`{"items":[1]}`))
		req.Header.Set(Header, key)
		return req.WithContext(utils.SetUserContext(ctx, 7, "", "USER"))
	}

	t.Run("PanicReleasesKey", func(t *testing.T) {
		var calls int32
		h := Middleware(NewMemoryStore(), time.Hour)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if atomic.AddInt32(&calls, 1) == 1 {
				panic("handler blew up")
			}
			utils.WriteJSON(w, http.StatusCreated, map[string]any{"success": true})
		}))

		assert.Panics(t, func() {
			h.ServeHTTP(httptest.NewRecorder(), newRequest(context.Background(), "key-panic"))
		})

		retry := httptest.NewRecorder()
		h.ServeHTTP(retry, newRequest(context.Background(), "key-panic"))

		assert.Equal(t, http.StatusCreated, retry.Code)
		assert.Empty(t, retry.Header().Get(ReplayHeader))
		assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	})

	t.Run("CancelledRequestStillCompletes", func(t *testing.T) {
		var calls int32
		ctx, cancel := context.WithCancel(context.Background())
		h := Middleware(ctxStore{NewMemoryStore()}, time.Hour)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&calls, 1)
			// The client goes away while the order is being placed.
			cancel()
			utils.WriteJSON(w, http.StatusCreated, map[string]any{"success": true})
		}))

		first := httptest.NewRecorder()
		h.ServeHTTP(first, newRequest(ctx, "key-cancel"))
		require.Equal(t, http.StatusCreated, first.Code)

		retry := httptest.NewRecorder()
		h.ServeHTTP(retry, newRequest(context.Background(), "key-cancel"))

		assert.Equal(t, http.StatusCreated, retry.Code)
		assert.Equal(t, "true", retry.Header().Get(ReplayHeader))
		assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	})

	t.Run("CancelledRequestStillReleasesOnServerError", func(t *testing.T) {
		var calls int32
		ctx, cancel := context.WithCancel(context.Background())
		h := Middleware(ctxStore{NewMemoryStore()}, time.Hour)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if atomic.AddInt32(&calls, 1) == 1 {
				cancel()
				utils.WriteJSONError(w, "database unavailable", http.StatusInternalServerError)
				return
			}
			utils.WriteJSON(w, http.StatusCreated, map[string]any{"success": true})
		}))

		first := httptest.NewRecorder()
		h.ServeHTTP(first, newRequest(ctx, "key-5xx"))
		require.Equal(t, http.StatusInternalServerError, first.Code)

		retry := httptest.NewRecorder()
		h.ServeHTTP(retry, newRequest(context.Background(), "key-5xx"))

		assert.Equal(t, http.StatusCreated, retry.Code)
		assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	})
}

func fingerprintFor(t *testing.T, body string) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/order/", nil)
	return fingerprint(req, []byte(body))
}
