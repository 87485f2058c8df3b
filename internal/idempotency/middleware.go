package idempotency

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"furnish-be/internal/logger"
	"furnish-be/internal/utils"

	"go.uber.org/zap"
)

const (
	Header       = "Idempotency-Key"
	ReplayHeader = "X-Idempotent-Replay"

	maxKeyLength = 255
)

func Key(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(Header))
}

// Middleware makes requests carrying an Idempotency-Key replay the first
// response for the same caller and key within ttl. Requests without the
// header pass through untouched.
func Middleware(store Store, ttl time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if store == nil {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := Key(r)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}
			if len(key) > maxKeyLength {
				utils.WriteJSONError(w, "idempotency key is too long", http.StatusBadRequest)
				return
			}

			log := logger.FromCtx(r.Context()).With(zap.String("idempotency_key", key))

			body, err := io.ReadAll(r.Body)
			if err != nil {
				utils.WriteJSONError(w, "unable to read request body", http.StatusBadRequest)
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			scoped := scope(r, key)
			rec, fresh, err := store.Reserve(r.Context(), scoped, fingerprint(r, body), ttl)
			switch {
			case errors.Is(err, ErrFingerprintMismatch):
				utils.WriteJSONError(w, "idempotency key was already used for a different request", http.StatusUnprocessableEntity)
				return
			case err != nil:
				log.Warn("idempotency store unavailable, continuing without it", zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}

			if !fresh {
				if rec.Status == StatusCompleted {
					log.Info("replaying idempotent response", zap.Int("status", rec.ResponseStatus))
					replay(w, rec)
					return
				}
				utils.WriteJSONError(w, "a request with this idempotency key is still in progress", http.StatusConflict)
				return
			}

			// Bookkeeping outlives the request: a timed out or disconnected
			// request must still release or complete its key.
			storeCtx := context.WithoutCancel(r.Context())

			finished := false
			defer func() {
				if finished {
					return
				}
				if err := store.Release(storeCtx, scoped); err != nil {
					log.Warn("failed to release idempotency key after panic", zap.Error(err))
				}
			}()

			cw := &captureWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(cw, r)
			finished = true

			// Server errors are not cached so the client can retry.
			if cw.status >= http.StatusInternalServerError {
				if err := store.Release(storeCtx, scoped); err != nil {
					log.Warn("failed to release idempotency key", zap.Error(err))
				}
				return
			}

			done := Record{
				Fingerprint:    rec.Fingerprint,
				ResponseStatus: cw.status,
				ContentType:    cw.Header().Get("Content-Type"),
				Body:           cw.body.Bytes(),
			}
			if err := store.Complete(storeCtx, scoped, done, ttl); err != nil {
				log.Warn("failed to store idempotent response", zap.Error(err))
			}
		})
	}
}

// scope keeps keys from different callers apart.
func scope(r *http.Request, key string) string {
	if id, ok := utils.GetUserIDFromContext(r.Context()); ok {
		return fmt.Sprintf("user:%d:%s", id, key)
	}
	return "anon:" + key
}

func fingerprint(r *http.Request, body []byte) string {
	h := sha256.New()
	h.Write([]byte(r.Method))
	h.Write([]byte{0})
	h.Write([]byte(r.URL.Path))
	h.Write([]byte{0})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

func replay(w http.ResponseWriter, rec Record) {
	if rec.ContentType != "" {
		w.Header().Set("Content-Type", rec.ContentType)
	}
	w.Header().Set(ReplayHeader, "true")
	w.WriteHeader(rec.ResponseStatus)
	_, _ = w.Write(rec.Body)
}

type captureWriter struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (c *captureWriter) WriteHeader(code int) {
	c.status = code
	c.ResponseWriter.WriteHeader(code)
}

func (c *captureWriter) Write(b []byte) (int, error) {
	c.body.Write(b)
	return c.ResponseWriter.Write(b)
}
