package auth

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"strings"
	"time"
)

// KeySource resolves an RS256 verification key by kid.
type KeySource interface {
	Key(ctx context.Context, kid string) (*rsa.PublicKey, error)
}

type VerifierConfig struct {
	// Keys verifies RS256 tokens. Either Keys or HMACSecret must be set.
	Keys       KeySource
	HMACSecret string

	// Issuer and Audience are checked only when non-empty.
	Issuer   string
	Audience string
	Leeway   time.Duration
}

type Verifier struct {
	cfg VerifierConfig
	now func() time.Time
}

func NewVerifier(cfg VerifierConfig) (*Verifier, error) {
	if cfg.Keys == nil && cfg.HMACSecret == "" {
		return nil, errors.New("auth: a JWKS source or an HMAC secret is required")
	}
	if cfg.Leeway <= 0 {
		cfg.Leeway = 30 * time.Second
	}
	return &Verifier{cfg: cfg, now: time.Now}, nil
}

// Verify checks the signature and the registered claims of a bearer token and
// returns its claims. Every failure wraps ErrInvalidToken.
func (v *Verifier) Verify(ctx context.Context, token string) (*Claims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, ErrInvalidToken
	}
	header, err := ParseHeader(token)
	if err != nil {
		return nil, err
	}

	switch header.Alg {
	case "RS256":
		if v.cfg.Keys == nil {
			return nil, fmt.Errorf("%w: RS256 not accepted", ErrInvalidToken)
		}
		key, err := v.cfg.Keys.Key(ctx, header.Kid)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
		}
		if err := verifyRS256(parts, key); err != nil {
			return nil, err
		}
	case "HS256":
		if v.cfg.HMACSecret == "" {
			return nil, fmt.Errorf("%w: HS256 not accepted", ErrInvalidToken)
		}
		if err := verifyHS256(parts, v.cfg.HMACSecret); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: unsupported alg %q", ErrInvalidToken, header.Alg)
	}

	claims, err := decodeClaims(parts[1], v.cfg.Audience)
	if err != nil {
		return nil, err
	}
	if !claims.validTimes(v.now(), v.cfg.Leeway) {
		return nil, fmt.Errorf("%w: expired or not yet valid", ErrInvalidToken)
	}
	if v.cfg.Issuer != "" && claims.Iss != v.cfg.Issuer {
		return nil, fmt.Errorf("%w: issuer mismatch", ErrInvalidToken)
	}
	if v.cfg.Audience != "" && claims.Aud != v.cfg.Audience {
		return nil, fmt.Errorf("%w: audience mismatch", ErrInvalidToken)
	}
	if strings.TrimSpace(claims.Sub) == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return claims, nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, bool) {
	const prefix = "bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	return token, token != ""
}
