package idempotency

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/findmyvet/vetbook/libs/httpx"
)

const (
	Header         = "Idempotency-Key"
	ReplayedHeader = "Idempotent-Replayed"
	maxKeyLength   = 128
)

// Middleware applies idempotency to requests that carry the header. scope
// returns the namespace for a request (the caller's user id) so two users
// cannot collide on the same key.
func Middleware(store Store, scope func(*http.Request) string, logger *slog.Logger) httpx.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := strings.TrimSpace(r.Header.Get(Header))
			if key == "" || store == nil {
				next.ServeHTTP(w, r)
				return
			}
			if len(key) > maxKeyLength {
				httpx.WriteError(w, http.StatusBadRequest, "validation_error", "Idempotency-Key is too long")
				return
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				httpx.WriteError(w, http.StatusBadRequest, "validation_error", "could not read request body")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))
			sum := sha256.Sum256(append([]byte(r.Method+" "+r.URL.Path+"\n"), body...))
			fingerprint := hex.EncodeToString(sum[:])
			fullKey := scope(r) + ":" + key

			ctx := r.Context()
			rec, err := store.Begin(ctx, fullKey, fingerprint)
			switch {
			case errors.Is(err, ErrInFlight):
				httpx.WriteError(w, http.StatusConflict, "conflict", err.Error())
				return
			case err != nil:
				// Idempotency is best effort; serve the request rather than fail it.
				logger.WarnContext(ctx, "idempotency store unavailable", "err", err)
				next.ServeHTTP(w, r)
				return
			case rec != nil:
				if rec.Fingerprint != fingerprint {
					httpx.WriteError(w, http.StatusUnprocessableEntity, "validation_error", "Idempotency-Key was used with a different request")
					return
				}
				if rec.ContentType != "" {
					w.Header().Set("Content-Type", rec.ContentType)
				}
				w.Header().Set(ReplayedHeader, "true")
				w.WriteHeader(rec.Status)
				_, _ = w.Write(rec.Body)
				return
			}

			cw := &capturingWriter{ResponseWriter: w}
			next.ServeHTTP(cw, r)

			if cw.status >= 200 && cw.status < 300 {
				err = store.Complete(ctx, fullKey, Record{
					Fingerprint: fingerprint,
					Status:      cw.status,
					ContentType: cw.Header().Get("Content-Type"),
					Body:        cw.body.Bytes(),
				})
			} else {
				// Failures are not remembered so the client can retry.
				err = store.Release(ctx, fullKey)
			}
			if err != nil {
				logger.WarnContext(ctx, "idempotency record not saved", "err", err)
			}
		})
	}
}

type capturingWriter struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (w *capturingWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *capturingWriter) Write(p []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	w.body.Write(p)
	return w.ResponseWriter.Write(p)
}
