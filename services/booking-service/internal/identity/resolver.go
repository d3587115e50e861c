// Package identity turns a bearer token into the internal user id the
// booking core works with.
package identity

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/findmyvet/vetbook/libs/auth"
	"github.com/findmyvet/vetbook/libs/httpx"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrConflict        = errors.New("email is linked to another identity")
)

type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*auth.Claims, error)
}

type UserStore interface {
	Upsert(ctx context.Context, c auth.Claims, allowRelink bool) (User, error)
}

type Resolver struct {
	verifier    TokenVerifier
	users       UserStore
	allowRelink bool

	// subject -> internal user id
	cache *expirable.LRU[string, string]
}

func NewResolver(verifier TokenVerifier, users UserStore, allowRelink bool, cacheTTL time.Duration) *Resolver {
	if cacheTTL <= 0 {
		cacheTTL = 10 * time.Minute
	}
	return &Resolver{
		verifier:    verifier,
		users:       users,
		allowRelink: allowRelink,
		cache:       expirable.NewLRU[string, string](4096, nil, cacheTTL),
	}
}

// Resolve verifies credential and returns the internal user id of its subject.
func (r *Resolver) Resolve(ctx context.Context, credential string) (string, error) {
	claims, err := r.verifier.Verify(ctx, credential)
	if err != nil {
		return "", ErrUnauthenticated
	}
	if id, ok := r.cache.Get(claims.Sub); ok {
		return id, nil
	}
	user, err := r.users.Upsert(ctx, *claims, r.allowRelink)
	if err != nil {
		return "", err
	}
	r.cache.Add(claims.Sub, user.ID)
	return user.ID, nil
}

type ctxKey struct{}

func UserIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(ctxKey{}).(string)
	return v
}

func ContextWithUserID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// Middleware rejects requests without a valid bearer token and stores the
// caller's user id in the request context.
func (r *Resolver) Middleware(logger *slog.Logger) httpx.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			token, ok := auth.BearerToken(req.Header.Get("Authorization"))
			if !ok {
				w.Header().Set("WWW-Authenticate", `Bearer realm="vetbook"`)
				httpx.WriteError(w, http.StatusUnauthorized, "unauthenticated", "missing bearer token")
				return
			}
			userID, err := r.Resolve(req.Context(), token)
			switch {
			case err == nil:
			case errors.Is(err, ErrUnauthenticated):
				w.Header().Set("WWW-Authenticate", `Bearer realm="vetbook", error="invalid_token"`)
				httpx.WriteError(w, http.StatusUnauthorized, "unauthenticated", "invalid or expired token")
				return
			case errors.Is(err, ErrConflict):
				httpx.WriteError(w, http.StatusConflict, "identity_conflict", err.Error())
				return
			default:
				logger.ErrorContext(req.Context(), "identity resolution failed", "err", err)
				httpx.WriteError(w, http.StatusInternalServerError, "internal", "could not resolve identity")
				return
			}
			httpx.AnnotateLog(req.Context(), "user_id", userID)
			next.ServeHTTP(w, req.WithContext(ContextWithUserID(req.Context(), userID)))
		})
	}
}
