package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/fastprodman/coinchat/internal/config"
	"github.com/fastprodman/coinchat/internal/infra/logging"
	"github.com/fastprodman/coinchat/internal/services/purchase"
	"github.com/golang-jwt/jwt/v5"
)

var ErrAuthenticationRequired = errors.New("authentication required")

const bearerSchema = "Bearer "

type identityKey struct{}

// Claims are the identity-provider token claims the API relies on.
type Claims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// Authenticator verifies HS256 bearer tokens issued by the identity provider.
type Authenticator struct {
	secret []byte
	opts   []jwt.ParserOption
}

func NewAuthenticator(cfg config.AuthConfig) *Authenticator {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}

	return &Authenticator{secret: []byte(cfg.JWTSecret), opts: opts}
}

// Identify parses the Authorization header into an identity.
func (a *Authenticator) Identify(r *http.Request) (purchase.Identity, error) {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, bearerSchema) {
		return purchase.Identity{}, fmt.Errorf("%w: missing bearer token", ErrAuthenticationRequired)
	}

	var claims Claims

	_, err := jwt.ParseWithClaims(strings.TrimPrefix(header, bearerSchema), &claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, a.opts...)
	if err != nil {
		return purchase.Identity{}, fmt.Errorf("%w: %w", ErrAuthenticationRequired, err)
	}

	if claims.Subject == "" {
		return purchase.Identity{}, fmt.Errorf("%w: token has no subject", ErrAuthenticationRequired)
	}

	return purchase.Identity{UserID: claims.Subject, Email: claims.Email}, nil
}

// Middleware rejects unauthenticated requests with 401 and stores the
// identity in the request context.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := a.Identify(r)
		if err != nil {
			logging.FromContext(r.Context()).Debug("request not authenticated", "error", err)
			writeError(w, http.StatusUnauthorized, "authentication required")

			return
		}

		ctx := context.WithValue(r.Context(), identityKey{}, id)
		ctx = logging.WithLogger(ctx, logging.FromContext(ctx).With("user_id", id.UserID))

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// IdentityFromContext returns the identity stored by Middleware.
func IdentityFromContext(ctx context.Context) (purchase.Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(purchase.Identity)
	return id, ok
}
