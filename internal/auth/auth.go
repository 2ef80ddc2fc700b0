package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/mlhmz/dockermc-dashboard/internal/config"
)

// ErrInvalidToken is returned for tokens that fail verification
var ErrInvalidToken = errors.New("invalid token")

// User is the authenticated caller
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Owner is the key every server record is scoped by
func (u *User) Owner() string {
	if u.Email != "" {
		return strings.ToLower(u.Email)
	}
	return u.ID
}

// Claims are the token claims the dashboard reads
type Claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// Verifier turns a bearer token into a user
type Verifier interface {
	Verify(token string) (*User, error)
}

// JWTProvider verifies HMAC-signed tokens issued by the identity service
type JWTProvider struct {
	secret []byte
	issuer string
}

// NewJWTProvider creates a verifier for cfg
func NewJWTProvider(cfg config.AuthConfig) (*JWTProvider, error) {
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("AUTH_JWT_SECRET is required")
	}
	return &JWTProvider{secret: []byte(cfg.JWTSecret), issuer: cfg.Issuer}, nil
}

// Verify validates signature, expiry and issuer and returns the token's user
func (p *JWTProvider) Verify(tokenString string) (*User, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg(), jwt.SigningMethodHS384.Alg(), jwt.SigningMethodHS512.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if p.issuer != "" {
		opts = append(opts, jwt.WithIssuer(p.issuer))
	}

	var claims Claims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		return p.secret, nil
	}, opts...)
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	user := &User{ID: claims.Subject, Email: claims.Email}
	if user.Owner() == "" {
		return nil, fmt.Errorf("%w: token carries no subject or email", ErrInvalidToken)
	}
	return user, nil
}

type contextKey string

const userKey contextKey = "user"

// WithUser returns a context carrying user
func WithUser(ctx context.Context, user *User) context.Context {
	return context.WithValue(ctx, userKey, user)
}

// UserFromContext returns the authenticated user, or nil
func UserFromContext(ctx context.Context) *User {
	user, _ := ctx.Value(userKey).(*User)
	return user
}

// Middleware rejects requests without a valid bearer token. Websocket
// upgrades may pass the token as the access_token query parameter.
func Middleware(v Verifier, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString := bearerToken(r)
			if tokenString == "" {
				writeUnauthorized(w, "Authorization header required")
				return
			}

			user, err := v.Verify(tokenString)
			if err != nil {
				logger.DebugContext(r.Context(), "Rejected token", "error", err, "path", r.URL.Path)
				writeUnauthorized(w, "Invalid token")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
		})
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(header, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		return r.URL.Query().Get("access_token")
	}
	return ""
}

func writeUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	fmt.Fprintf(w, `{"error":%q,"kind":"unauthorized"}`+"\n", msg)
}
