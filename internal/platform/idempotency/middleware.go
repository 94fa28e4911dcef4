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
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/clinic/internal/platform/auth"
)

const (
	HeaderKey      = "Idempotency-Key"
	HeaderKeyAlt   = "X-Idempotency-Key"
	HeaderReplayed = "X-Idempotency-Replayed"

	// MaxBodyBytes caps the body buffered for hashing and replay.
	MaxBodyBytes = 1 << 20
)

// Middleware guards POST, PUT and PATCH requests carrying an idempotency
// key. Keys are scoped to the authenticated user.
//
//   - The first request reserves the key and runs. Only a response the
//     handler writes itself with a status below 500 is stored. A returned
//     error releases the key, including 4xx domain errors that the error
//     handler renders later, and so does a written 5xx.
//   - Bodies over MaxBodyBytes get 413 before the key is reserved.
//   - A retry with the same method, path and body replays the stored
//     response with X-Idempotency-Replayed: true.
//   - A retry with a different body or route gets 422.
//   - A retry while the first request is still running gets 409.
//
// When the store fails the request runs unguarded.
func Middleware(store Store, ttl time.Duration, logger zerolog.Logger) echo.MiddlewareFunc {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			switch req.Method {
			case http.MethodPost, http.MethodPut, http.MethodPatch:
			default:
				return next(c)
			}
			key := req.Header.Get(HeaderKey)
			if key == "" {
				key = req.Header.Get(HeaderKeyAlt)
			}
			if key == "" {
				return next(c)
			}

			body, err := io.ReadAll(io.LimitReader(req.Body, MaxBodyBytes+1))
			if err != nil {
				var he *echo.HTTPError
				if errors.As(err, &he) {
					return he
				}
				return echo.NewHTTPError(http.StatusBadRequest, "unreadable request body")
			}
			if len(body) > MaxBodyBytes {
				return echo.NewHTTPError(http.StatusRequestEntityTooLarge,
					fmt.Sprintf("request body exceeds the maximum of %d bytes", MaxBodyBytes))
			}
			req.Body = io.NopCloser(bytes.NewReader(body))
			sum := sha256.Sum256(body)

			ctx := req.Context()
			scoped := auth.UserIDFromContext(ctx) + ":" + key
			rec := &Record{
				State:       StateProcessing,
				Method:      req.Method,
				Path:        req.URL.Path,
				RequestHash: hex.EncodeToString(sum[:]),
				CreatedAt:   time.Now().UTC(),
			}

			ok, existing, err := store.Reserve(ctx, scoped, rec, ttl)
			if err != nil {
				logger.Warn().Err(err).Str("idempotency_key", key).Msg("idempotency store unavailable")
				return next(c)
			}
			if !ok {
				return replay(c, rec, existing)
			}

			origWriter := c.Response().Writer
			capture := &recorder{ResponseWriter: origWriter, body: &bytes.Buffer{}, statusCode: http.StatusOK, headers: make(http.Header)}
			c.Response().Writer = capture
			err = next(c)
			c.Response().Writer = origWriter

			if err != nil || capture.statusCode >= http.StatusInternalServerError {
				release(context.WithoutCancel(ctx), store, scoped, logger)
				if err != nil {
					return err
				}
			} else {
				rec.State = StateCompleted
				rec.StatusCode = capture.statusCode
				rec.Headers = capture.headers.Clone()
				rec.Body = capture.body.Bytes()
				if err := store.Complete(context.WithoutCancel(ctx), scoped, rec, ttl); err != nil {
					logger.Warn().Err(err).Str("idempotency_key", key).Msg("idempotency response not stored")
				}
			}

			for k, vals := range capture.headers {
				origWriter.Header()[k] = vals
			}
			origWriter.WriteHeader(capture.statusCode)
			_, err = origWriter.Write(capture.body.Bytes())
			return err
		}
	}
}

func replay(c echo.Context, current, stored *Record) error {
	if stored == nil || stored.State == StateProcessing {
		return echo.NewHTTPError(http.StatusConflict, "a request with this idempotency key is still in progress")
	}
	if stored.Method != current.Method || stored.Path != current.Path || stored.RequestHash != current.RequestHash {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, "idempotency key was already used for a different request")
	}
	resp := c.Response()
	for k, vals := range stored.Headers {
		resp.Header()[k] = vals
	}
	resp.Header().Set(HeaderReplayed, "true")
	resp.WriteHeader(stored.StatusCode)
	_, err := resp.Write(stored.Body)
	return err
}

func release(ctx context.Context, store Store, key string, logger zerolog.Logger) {
	if err := store.Release(ctx, key); err != nil {
		logger.Warn().Err(err).Str("idempotency_key", key).Msg("idempotency key not released")
	}
}

// recorder buffers the downstream response so it can be stored before it is
// sent.
type recorder struct {
	http.ResponseWriter
	body       *bytes.Buffer
	statusCode int
	headers    http.Header
	wroteHead  bool
}

func (r *recorder) Header() http.Header {
	return r.headers
}

func (r *recorder) WriteHeader(code int) {
	if r.wroteHead {
		return
	}
	r.statusCode = code
	r.wroteHead = true
}

func (r *recorder) Write(b []byte) (int, error) {
	if !r.wroteHead {
		r.WriteHeader(http.StatusOK)
	}
	return r.body.Write(b)
}
