/**
 * @description
 * This file contains custom middleware for the HTTP router. Middlewares are used
 * to process requests before they reach the final handler: donor authentication
 * and request logging.
 *
 * @dependencies
 * - github.com/golang-jwt/jwt/v5: HS256 bearer token verification.
 * - github.com/go-chi/chi/v5/middleware: response wrapping and request ids.
 */

package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	errMissingToken    = errors.New("authorization header required")
	errMalformedHeader = errors.New("invalid authorization header format")
	errNoDonorClaim    = errors.New("donor id not found in token")
	errAuthDisabled    = errors.New("token verification is not configured")
)

// donorIDContextKey is a custom type for the context key to avoid collisions.
type donorIDContextKey struct{}

// Authenticator verifies donor bearer tokens signed with the shared JWT secret.
type Authenticator struct {
	secret []byte
	logger *slog.Logger
}

func NewAuthenticator(secret string, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Authenticator{
		secret: []byte(strings.TrimSpace(secret)),
		logger: logger.With("component", "auth"),
	}
}

// donorFromRequest returns the donor id carried by the bearer token.
// The "id" claim is preferred over "sub".
func (a *Authenticator) donorFromRequest(r *http.Request) (uuid.UUID, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return uuid.Nil, errMissingToken
	}
	tokenString := strings.TrimPrefix(authHeader, "Bearer ")
	if tokenString == authHeader || strings.TrimSpace(tokenString) == "" {
		return uuid.Nil, errMalformedHeader
	}
	if len(a.secret) == 0 {
		return uuid.Nil, errAuthDisabled
	}

	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithLeeway(30*time.Second))
	if err != nil {
		return uuid.Nil, err
	}

	for _, key := range []string{"id", "sub"} {
		raw, ok := claims[key].(string)
		if !ok || raw == "" {
			continue
		}
		donorID, err := uuid.Parse(raw)
		if err != nil {
			return uuid.Nil, fmt.Errorf("%w: %s is not a uuid", errNoDonorClaim, key)
		}
		return donorID, nil
	}
	return uuid.Nil, errNoDonorClaim
}

// RequireDonor rejects requests without a valid donor token.
func (a *Authenticator) RequireDonor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		donorID, err := a.donorFromRequest(r)
		if err != nil {
			a.logger.Warn("donor authentication failed", "path", r.URL.Path, "err", err)
			writeError(w, http.StatusUnauthorized, "unauthorized", "A valid donor token is required")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), donorIDContextKey{}, donorID)))
	})
}

// OptionalDonor attaches the donor id when a token is present. A token that is
// present but invalid is still rejected.
func (a *Authenticator) OptionalDonor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		donorID, err := a.donorFromRequest(r)
		switch {
		case errors.Is(err, errMissingToken):
			next.ServeHTTP(w, r)
		case err != nil:
			a.logger.Warn("donor token rejected", "path", r.URL.Path, "err", err)
			writeError(w, http.StatusUnauthorized, "unauthorized", "The donor token is invalid")
		default:
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), donorIDContextKey{}, donorID)))
		}
	})
}

// DonorIDFromContext retrieves the authenticated donor id, if any.
func DonorIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	donorID, ok := ctx.Value(donorIDContextKey{}).(uuid.UUID)
	return donorID, ok
}

// requestLogger writes one structured line per request.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	logger = logger.With("component", "http")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				logger.Info("request",
					"method", r.Method,
					"path", r.URL.Path,
					"status", ww.Status(),
					"bytes", ww.BytesWritten(),
					"duration_ms", time.Since(start).Milliseconds(),
					"request_id", middleware.GetReqID(r.Context()),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
