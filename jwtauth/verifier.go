// Package jwtauth verifies bearer tokens signed with a shared HMAC secret or
// with RSA keys published by an OIDC issuer.
package jwtauth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Supported signing algorithms
const (
	AlgorithmHS256 = "HS256"
	AlgorithmRS256 = "RS256"
)

// DefaultClockSkew is the tolerance applied to exp, nbf and iat
const DefaultClockSkew = 30 * time.Second

// Options configures a Verifier
type Options struct {
	Algorithms   []string
	SharedSecret string
	// Issuers, when non-empty, must contain the token's iss
	Issuers []string
	// Audiences, when non-empty, must intersect the token's aud
	Audiences []string
	Keys      KeySource
	ClockSkew time.Duration
}

// Verifier checks token signatures and registered claims
type Verifier struct {
	opts Options
	now  func() time.Time
}

// NewVerifier creates a verifier. RS256 is assumed when no algorithm is listed.
func NewVerifier(opts Options) *Verifier {
	if len(opts.Algorithms) == 0 {
		opts.Algorithms = []string{AlgorithmRS256}
	}
	if opts.ClockSkew == 0 {
		opts.ClockSkew = DefaultClockSkew
	}
	return &Verifier{opts: opts, now: time.Now}
}

// Verify validates raw and returns its claims
func (v *Verifier) Verify(ctx context.Context, raw string) (jwt.MapClaims, error) {
	raw = strings.TrimSpace(raw)
	if !wellFormed(raw) {
		return nil, fmt.Errorf("%w: malformed JWT", ErrInvalidToken)
	}

	unverified, _, err := jwt.NewParser().ParseUnverified(raw, jwt.MapClaims{})
	if err != nil {
		return nil, fmt.Errorf("%w: cannot decode JWT", ErrInvalidToken)
	}
	alg, _ := unverified.Header["alg"].(string)
	if !contains(v.opts.Algorithms, alg) {
		return nil, fmt.Errorf("%w: algorithm %s is not allowed", ErrInvalidToken, alg)
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods(v.opts.Algorithms),
		jwt.WithoutClaimsValidation(),
	)
	token, err := parser.Parse(raw, func(token *jwt.Token) (interface{}, error) {
		switch token.Method.Alg() {
		case AlgorithmHS256:
			if v.opts.SharedSecret == "" {
				return nil, fmt.Errorf("%w: AUTH_JWT_SHARED_SECRET is required for HMAC tokens", ErrNotConfigured)
			}
			return []byte(v.opts.SharedSecret), nil
		case AlgorithmRS256:
			if v.opts.Keys == nil {
				return nil, fmt.Errorf("%w: no key source for RS256 tokens", ErrNotConfigured)
			}
			kid, _ := token.Header["kid"].(string)
			return v.opts.Keys.Key(ctx, kid)
		default:
			return nil, fmt.Errorf("%w: unsupported algorithm %s", ErrInvalidToken, token.Method.Alg())
		}
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrNotConfigured), errors.Is(err, ErrKeyUnavailable), errors.Is(err, ErrInvalidToken):
			return nil, err
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, fmt.Errorf("%w: bad signature", ErrInvalidToken)
		default:
			return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
		}
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("%w: invalid JWT sections", ErrInvalidToken)
	}
	if err := v.checkRegisteredClaims(claims); err != nil {
		return nil, err
	}
	return claims, nil
}

// checkRegisteredClaims applies exp, nbf, iat, iss and aud rules with the
// configured skew, comparing whole seconds.
func (v *Verifier) checkRegisteredClaims(claims jwt.MapClaims) error {
	now := v.now().Unix()
	skew := int64(v.opts.ClockSkew / time.Second)

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return fmt.Errorf("%w: missing exp", ErrInvalidToken)
	}
	if now > exp.Unix()+skew {
		return fmt.Errorf("%w: %w", ErrInvalidToken, ErrTokenExpired)
	}

	if nbf, err := claims.GetNotBefore(); err == nil && nbf != nil && now+skew < nbf.Unix() {
		return fmt.Errorf("%w: not yet valid", ErrInvalidToken)
	}

	if iat, err := claims.GetIssuedAt(); err == nil && iat != nil && iat.Unix() > now+skew {
		return fmt.Errorf("%w: issued in future", ErrInvalidToken)
	}

	if len(v.opts.Issuers) > 0 {
		iss, _ := claims["iss"].(string)
		if !contains(v.opts.Issuers, iss) {
			return fmt.Errorf("%w: issuer mismatch", ErrInvalidToken)
		}
	}

	if len(v.opts.Audiences) > 0 {
		audiences := NormalizeAudience(claims["aud"])
		if len(audiences) == 0 {
			return fmt.Errorf("%w: audience missing", ErrInvalidToken)
		}
		matched := false
		for _, aud := range audiences {
			if contains(v.opts.Audiences, aud) {
				matched = true
				break
			}
		}
		if !matched {
			return fmt.Errorf("%w: audience mismatch", ErrInvalidToken)
		}
	}

	return nil
}

// NormalizeAudience reads an aud claim given as a string or a list of
// strings, dropping blanks.
func NormalizeAudience(raw interface{}) []string {
	switch v := raw.(type) {
	case string:
		if s := strings.TrimSpace(v); s != "" {
			return []string{s}
		}
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				if s = strings.TrimSpace(s); s != "" {
					out = append(out, s)
				}
			}
		}
		return out
	case []string:
		out := make([]string, 0, len(v))
		for _, s := range v {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func wellFormed(raw string) bool {
	parts := strings.Split(raw, ".")
	if len(parts) != 3 {
		return false
	}
	for _, p := range parts {
		if p == "" {
			return false
		}
	}
	return true
}

func contains(list []string, value string) bool {
	for _, item := range list {
		if item == value {
			return true
		}
	}
	return false
}
