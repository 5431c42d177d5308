package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken indicates the token failed signature checks or had malformed structure.
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken signals that the token's expiry is in the past.
	ErrExpiredToken = errors.New("token expired")
	// ErrMissingToken is returned when a request carries no token at all.
	ErrMissingToken = errors.New("missing auth token")
)

// TokenClaims captures the subset of the JWT payload the arena relies on.
type TokenClaims struct {
	Subject   string
	ExpiresAt time.Time
	IssuedAt  time.Time
}

// TokenVerifier validates HS256 signed JWTs for presentation connections.
type TokenVerifier struct {
	secret []byte
	now    func() time.Time
	leeway time.Duration
}

// NewTokenVerifier constructs a verifier for the supplied shared secret and clock skew allowance.
func NewTokenVerifier(secret string, leeway time.Duration) (*TokenVerifier, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("hmac secret must not be empty")
	}
	return &TokenVerifier{secret: []byte(secret), now: time.Now, leeway: max(leeway, 0)}, nil
}

// WithClock overrides the verifier clock, enabling deterministic unit tests.
func (v *TokenVerifier) WithClock(clock func() time.Time) {
	if v == nil || clock == nil {
		return
	}
	v.now = clock
}

// Verify parses the token and validates the signature and expiry, returning the embedded claims.
func (v *TokenVerifier) Verify(token string) (*TokenClaims, error) {
	if v == nil || len(v.secret) == 0 {
		return nil, errors.New("verifier not initialised")
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrMissingToken
	}

	//1.- Pin the algorithm so a token cannot choose its own verification method.
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(v.leeway),
		jwt.WithTimeFunc(v.now),
		jwt.WithExpirationRequired(),
	)
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, ErrExpiredToken
	case err != nil:
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	//2.- Every connection needs a subject to key its command sequencing.
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	out := &TokenClaims{Subject: claims.Subject}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time
	}
	if claims.IssuedAt != nil {
		out.IssuedAt = claims.IssuedAt.Time
	}
	return out, nil
}

// Issue signs a token for subject valid for ttl. It backs local tooling and tests.
func Issue(secret, subject string, issuedAt time.Time, ttl time.Duration) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", errors.New("hmac secret must not be empty")
	}
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(issuedAt),
		ExpiresAt: jwt.NewNumericDate(issuedAt.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(strings.TrimSpace(secret)))
}

// Authenticator resolves the client identity of an upgrade request.
type Authenticator interface {
	Authenticate(r *http.Request) (string, error)
}

// AllowAll accepts every request without an identity.
type AllowAll struct{}

// Authenticate implements Authenticator.
func (AllowAll) Authenticate(*http.Request) (string, error) { return "", nil }

// RequestAuthenticator reads a token from the auth_token query parameter, the
// X-Auth-Token header or a bearer Authorization header.
type RequestAuthenticator struct {
	verifier *TokenVerifier
}

// NewRequestAuthenticator wraps a verifier for HTTP requests.
func NewRequestAuthenticator(verifier *TokenVerifier) *RequestAuthenticator {
	return &RequestAuthenticator{verifier: verifier}
}

// Authenticate validates the incoming token and returns the logical client identifier.
func (a *RequestAuthenticator) Authenticate(r *http.Request) (string, error) {
	if a == nil || a.verifier == nil {
		return "", errors.New("verifier not configured")
	}
	token := strings.TrimSpace(r.URL.Query().Get("auth_token"))
	if token == "" {
		token = strings.TrimSpace(r.Header.Get("X-Auth-Token"))
	}
	if token == "" {
		if header := r.Header.Get("Authorization"); len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
			token = strings.TrimSpace(header[7:])
		}
	}
	claims, err := a.verifier.Verify(token)
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}
