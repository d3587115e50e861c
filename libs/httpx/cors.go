package httpx

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"
)

// CORSPolicy lists what browser clients on AllowedOrigins may do. An origin
// entry may be "*" or carry a leading subdomain wildcard such as
// "https://*.findmyvet.com".
type CORSPolicy struct {
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	ExposedHeaders   []string
	AllowCredentials bool
	MaxAge           time.Duration
}

// WithCORS answers preflights itself and decorates other responses for
// allowed origins. With no AllowedOrigins it does nothing.
func WithCORS(policy CORSPolicy) Middleware {
	origins := cleanList(policy.AllowedOrigins)
	if len(origins) == 0 {
		return func(next http.Handler) http.Handler { return next }
	}

	static := http.Header{}
	setJoined(static, "Access-Control-Allow-Methods", policy.AllowedMethods)
	setJoined(static, "Access-Control-Allow-Headers", policy.AllowedHeaders)
	setJoined(static, "Access-Control-Expose-Headers", policy.ExposedHeaders)
	if policy.AllowCredentials {
		static.Set("Access-Control-Allow-Credentials", "true")
	}
	if secs := int(policy.MaxAge / time.Second); secs > 0 {
		static.Set("Access-Control-Max-Age", strconv.Itoa(secs))
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			allow := allowedOrigin(origin, origins, policy.AllowCredentials)
			if allow == "" {
				next.ServeHTTP(w, r)
				return
			}

			h := w.Header()
			h.Set("Access-Control-Allow-Origin", allow)
			for k := range static {
				h.Set(k, static.Get(k))
			}
			h.Add("Vary", "Origin")

			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				h.Add("Vary", "Access-Control-Request-Method")
				h.Add("Vary", "Access-Control-Request-Headers")
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// allowedOrigin returns the Access-Control-Allow-Origin value for origin, or
// "" when origin is not allowed. Credentialed responses never use "*".
func allowedOrigin(origin string, allowed []string, credentials bool) string {
	if origin == "" {
		return ""
	}
	for _, pattern := range allowed {
		switch {
		case pattern == "*":
			if credentials {
				return origin
			}
			return "*"
		case strings.EqualFold(pattern, origin):
			return origin
		case wildcardMatch(pattern, origin):
			return origin
		}
	}
	return ""
}

func wildcardMatch(pattern, origin string) bool {
	scheme, host, ok := strings.Cut(pattern, "://*.")
	if !ok {
		return false
	}
	prefix := strings.ToLower(scheme) + "://"
	origin = strings.ToLower(origin)
	return strings.HasPrefix(origin, prefix) && strings.HasSuffix(origin, "."+strings.ToLower(host))
}

func cleanList(values []string) []string {
	return lo.Compact(lo.Map(values, func(v string, _ int) string { return strings.TrimSpace(v) }))
}

func setJoined(h http.Header, key string, values []string) {
	if joined := strings.Join(cleanList(values), ", "); joined != "" {
		h.Set(key, joined)
	}
}
