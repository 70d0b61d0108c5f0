package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	ScopeRead     = "quotes:read"
	ScopeWrite    = "quotes:write"
	ScopeIngest   = "quotes:ingest"
	ScopeModerate = "quotes:moderate"

	tokenAudience   = "quotegallery"
	defaultTokenTTL = time.Hour
)

// OwnerScopes are granted to a gallery user acting on their own artifacts.
var OwnerScopes = []string{ScopeRead, ScopeWrite}

// Claims is the bearer token payload. Subject is the owner id.
type Claims struct {
	jwt.RegisteredClaims
	Scopes []string `json:"scopes"`
}

func (c *Claims) HasScope(scope string) bool {
	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

type authError struct {
	status  int
	code    string
	message string
}

func (e *authError) Error() string {
	return e.message
}

func unauthorized(message string) *authError {
	return &authError{status: http.StatusUnauthorized, code: "unauthorized", message: message}
}

func forbidden(message string) *authError {
	return &authError{status: http.StatusForbidden, code: "forbidden", message: message}
}

// Signer mints HS256 bearer tokens. It satisfies quotesapi.TokenSource so a
// client holding the shared secret can authenticate as any owner.
type Signer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewSigner(secret string, ttl time.Duration) *Signer {
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	return &Signer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

func (s *Signer) Mint(subject string, scopes ...string) (string, error) {
	if strings.TrimSpace(subject) == "" {
		return "", errors.New("token subject is required")
	}
	now := s.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Audience:  jwt.ClaimStrings{tokenAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
		Scopes: scopes,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Token returns an owner-scoped token for ownerID.
func (s *Signer) Token(ownerID string) (string, error) {
	return s.Mint(ownerID, OwnerScopes...)
}

func parseToken(raw, secret string) (*Claims, *authError) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	}, jwt.WithAudience(tokenAudience), jwt.WithExpirationRequired())
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, unauthorized("token expired")
		}
		return nil, unauthorized("invalid bearer token")
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, unauthorized("missing sub claim")
	}
	if len(claims.Scopes) == 0 {
		return nil, forbidden("no scopes granted")
	}
	return claims, nil
}

func bearerToken(r *http.Request, allowQuery bool) string {
	header := r.Header.Get("Authorization")
	if parts := strings.Fields(header); len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
		return parts[1]
	}
	if allowQuery {
		return strings.TrimSpace(r.URL.Query().Get("access_token"))
	}
	return ""
}

type claimsKey struct{}

func withClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, claims)
}

func claimsFrom(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(claimsKey{}).(*Claims)
	return claims, ok
}

// requireScope authenticates the request and checks one scope. Browser
// websocket clients cannot set headers, so allowQuery also accepts an
// access_token query parameter.
func (s *Server) requireScope(scope string, allowQuery bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := bearerToken(r, allowQuery)
			if raw == "" {
				writeError(w, r, http.StatusUnauthorized, "unauthorized", "missing or invalid bearer token")
				return
			}
			claims, authErr := parseToken(raw, s.cfg.JWTSecret)
			if authErr != nil {
				writeError(w, r, authErr.status, authErr.code, authErr.message)
				return
			}
			if !claims.HasScope(scope) {
				writeError(w, r, http.StatusForbidden, "forbidden", "missing required scope: "+scope)
				return
			}
			if s.limiter != nil && !s.limiter.allow(claims.Subject, s.now()) {
				w.Header().Set("Retry-After", s.limiter.retryAfter())
				writeError(w, r, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r.WithContext(withClaims(r.Context(), claims)))
		})
	}
}
