package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/isdelr/usermgmt-be/internal/common"
	"github.com/isdelr/usermgmt-be/internal/httpx"
	"github.com/isdelr/usermgmt-be/internal/models"
	"github.com/rs/zerolog/hlog"
)

// contextKey is the type of the context key for user claims.
type contextKey string

// UserClaimsKey is the context key for user claims.
const UserClaimsKey = contextKey("userClaims")

// AccountLookup loads the live account behind a token.
type AccountLookup interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

// Gate authenticates requests by their bearer token.
type Gate struct {
	tokens   *TokenService
	accounts AccountLookup
}

// NewGate creates a Gate. When accounts is non-nil every authenticated
// request also re-reads the account and rejects it if it was deleted or
// deactivated after the token was issued. With a nil lookup the active
// flag embedded in the token is trusted until the token expires.
func NewGate(tokens *TokenService, accounts AccountLookup) *Gate {
	return &Gate{tokens: tokens, accounts: accounts}
}

// Require rejects requests without a valid token.
func (g *Gate) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenStr := bearerToken(r)
		if tokenStr == "" {
			httpx.Message(w, http.StatusUnauthorized, "Missing auth token")
			return
		}
		g.serveAuthenticated(w, r, tokenStr, next)
	})
}

// Optional lets anonymous requests through but still rejects a token that
// is present and invalid.
func (g *Gate) Optional(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "" {
			next.ServeHTTP(w, r)
			return
		}
		tokenStr := bearerToken(r)
		if tokenStr == "" {
			httpx.Message(w, http.StatusUnauthorized, "Invalid auth token")
			return
		}
		g.serveAuthenticated(w, r, tokenStr, next)
	})
}

func (g *Gate) serveAuthenticated(w http.ResponseWriter, r *http.Request, tokenStr string, next http.Handler) {
	claims, err := g.tokens.Verify(tokenStr)
	if err != nil {
		httpx.Message(w, http.StatusUnauthorized, "Invalid auth token")
		return
	}

	if g.accounts != nil {
		user, err := g.accounts.FindByID(r.Context(), claims.UserID)
		switch {
		case errors.Is(err, common.ErrNotFound):
			httpx.Message(w, http.StatusUnauthorized, "Invalid auth token")
			return
		case err != nil:
			hlog.FromRequest(r).Error().Err(err).Str("user_id", claims.UserID).Msg("Failed to re-check account for token")
			httpx.Message(w, http.StatusInternalServerError, "Server error")
			return
		case !user.Active:
			httpx.Message(w, http.StatusUnauthorized, "Invalid auth token")
			return
		}
		// The live role wins over the snapshot.
		claims.Role = user.Role
		claims.Active = user.Active
	}

	ctx := WithClaims(r.Context(), claims)
	hlog.FromRequest(r).Debug().Str("user_id", claims.UserID).Str("role", string(claims.Role)).Msg("Authenticated request")
	next.ServeHTTP(w, r.WithContext(ctx))
}

// ClaimsFromContext returns the claims attached by the Gate, if any.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(UserClaimsKey).(*Claims)
	return claims, ok && claims != nil
}

// WithClaims returns a copy of ctx carrying claims.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, UserClaimsKey, claims)
}

func bearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}
	scheme, token, ok := strings.Cut(authHeader, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
