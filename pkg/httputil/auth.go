package httputil

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/bjyoucef/inaya-project-sub001/pkg/actor"
	"github.com/bjyoucef/inaya-project-sub001/pkg/config"
	apperrors "github.com/bjyoucef/inaya-project-sub001/pkg/errors"
	"github.com/bjyoucef/inaya-project-sub001/pkg/logger"
	"github.com/bjyoucef/inaya-project-sub001/pkg/permissions"
)

// Claims are the access token claims issued by the hospital identity provider.
type Claims struct {
	jwt.RegisteredClaims
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Role      string `json:"role"`

	// Permissions overrides the role's default permissions when present
	Permissions []string `json:"permissions,omitempty"`
}

// IssueToken signs an HS256 access token. Used by integration tooling and tests.
func IssueToken(cfg config.JWTConfig, c Claims, ttl time.Duration) (string, error) {
	now := time.Now()
	c.Issuer = cfg.Issuer
	c.IssuedAt = jwt.NewNumericDate(now)
	c.NotBefore = jwt.NewNumericDate(now)
	c.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString([]byte(cfg.Secret))
}

// Authenticate validates the bearer token and attaches the user and actor
// to the request context. /health is always let through.
func Authenticate(cfg config.JWTConfig, log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/health" {
				next.ServeHTTP(w, r)
				return
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				ErrorLocalized(w, r, apperrors.Unauthorized("missing authorization header"))
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				ErrorLocalized(w, r, apperrors.Unauthorized("invalid authorization header format"))
				return
			}

			claims := &Claims{}
			opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
			if cfg.Issuer != "" {
				opts = append(opts, jwt.WithIssuer(cfg.Issuer))
			}
			token, err := jwt.ParseWithClaims(parts[1], claims, func(*jwt.Token) (interface{}, error) {
				return []byte(cfg.Secret), nil
			}, opts...)
			if err != nil || !token.Valid {
				log.Debug().Err(err).Msg("token validation failed")
				if errors.Is(err, jwt.ErrTokenExpired) {
					ErrorLocalized(w, r, apperrors.TokenExpired())
				} else {
					ErrorLocalized(w, r, apperrors.TokenInvalid())
				}
				return
			}

			a := &actor.Actor{
				ID:        claims.Subject,
				FirstName: claims.FirstName,
				LastName:  claims.LastName,
				Email:     claims.Email,
				RoleName:  claims.Role,

				Permissions: permissions.Effective(claims.Role, claims.Permissions),
			}
			recordActor(r.Context(), a)
			ctx := actor.WithActor(r.Context(), a)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAccess rejects requests whose actor lacks the read or write
// permission on resource, depending on the HTTP method.
func RequireAccess(resource string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			required := permissions.ForRequest(resource, r.Method)
			a := actor.FromContext(r.Context())
			if a == nil || !permissions.HasPermission(a.Permissions, required) {
				ErrorLocalized(w, r, apperrors.Forbidden("missing permission "+required))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
