package auth

import (
	"crypto"
	"crypto/hmac"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

var ErrInvalidToken = errors.New("invalid token")

// Claims are the identity provider claims the booking core reads.
type Claims struct {
	Sub        string `json:"sub"`
	Email      string `json:"email,omitempty"`
	GivenName  string `json:"given_name,omitempty"`
	FamilyName string `json:"family_name,omitempty"`
	Iss        string `json:"iss,omitempty"`
	Aud        string `json:"aud,omitempty"`
	Exp        int64  `json:"exp"`
	Nbf        int64  `json:"nbf,omitempty"`
	Iat        int64  `json:"iat"`
}

type Header struct {
	Alg string `json:"alg"`
	Typ string `json:"typ"`
	Kid string `json:"kid"`
}

type rawClaims struct {
	Claims
	Aud json.RawMessage `json:"aud,omitempty"`
}

// decodeClaims accepts "aud" as a string or an array and keeps the first value
// that matches want, or the first value when want is empty.
func decodeClaims(segment string, wantAud string) (*Claims, error) {
	payload, err := base64.RawURLEncoding.DecodeString(segment)
	if err != nil {
		return nil, ErrInvalidToken
	}
	var raw rawClaims
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, ErrInvalidToken
	}
	claims := raw.Claims
	if len(raw.Aud) > 0 {
		var single string
		if err := json.Unmarshal(raw.Aud, &single); err == nil {
			claims.Aud = single
		} else {
			var many []string
			if err := json.Unmarshal(raw.Aud, &many); err != nil {
				return nil, ErrInvalidToken
			}
			for _, a := range many {
				if wantAud == "" || a == wantAud {
					claims.Aud = a
					break
				}
			}
		}
	}
	return &claims, nil
}

func (c *Claims) validTimes(now time.Time, leeway time.Duration) bool {
	if c.Exp > 0 && now.Add(-leeway).Unix() > c.Exp {
		return false
	}
	if c.Nbf > 0 && now.Add(leeway).Unix() < c.Nbf {
		return false
	}
	return true
}

func ParseHeader(token string) (*Header, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, ErrInvalidToken
	}
	raw, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, ErrInvalidToken
	}
	var header Header
	if err := json.Unmarshal(raw, &header); err != nil {
		return nil, ErrInvalidToken
	}
	return &header, nil
}

// SignHS256 mints a token with a shared secret. Local development and tests
// use it in place of the identity provider.
func SignHS256(claims Claims, secret string) (string, error) {
	return sign(claims, "HS256", "", func(unsigned string) (string, error) {
		return hmacSHA256(unsigned, secret), nil
	})
}

// SignRS256 mints an RS256 token carrying kid in its header.
func SignRS256(claims Claims, key *rsa.PrivateKey, kid string) (string, error) {
	return sign(claims, "RS256", kid, func(unsigned string) (string, error) {
		hash := sha256.Sum256([]byte(unsigned))
		sig, err := rsa.SignPKCS1v15(nil, key, crypto.SHA256, hash[:])
		if err != nil {
			return "", err
		}
		return base64.RawURLEncoding.EncodeToString(sig), nil
	})
}

func sign(claims Claims, alg, kid string, signer func(string) (string, error)) (string, error) {
	header := Header{Alg: alg, Typ: "JWT", Kid: kid}
	headerJSON, err := json.Marshal(header)
	if err != nil {
		return "", err
	}
	payloadJSON, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}
	unsigned := base64.RawURLEncoding.EncodeToString(headerJSON) + "." + base64.RawURLEncoding.EncodeToString(payloadJSON)
	sig, err := signer(unsigned)
	if err != nil {
		return "", err
	}
	return unsigned + "." + sig, nil
}

func verifyHS256(parts []string, secret string) error {
	unsigned := parts[0] + "." + parts[1]
	if !hmac.Equal([]byte(parts[2]), []byte(hmacSHA256(unsigned, secret))) {
		return ErrInvalidToken
	}
	return nil
}

func hmacSHA256(data, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(data))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

func verifyRS256(parts []string, key *rsa.PublicKey) error {
	sig, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return ErrInvalidToken
	}
	hash := sha256.Sum256([]byte(parts[0] + "." + parts[1]))
	if err := rsa.VerifyPKCS1v15(key, crypto.SHA256, hash[:], sig); err != nil {
		return ErrInvalidToken
	}
	return nil
}
