package auth

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/frahmantamala/approval-workflow/internal"
	"github.com/frahmantamala/approval-workflow/internal/transport"
	"github.com/frahmantamala/approval-workflow/internal/user"
	"github.com/frahmantamala/approval-workflow/pkg/logger"
)

// UserLookup resolves the token subject against the directory.
type UserLookup interface {
	GetByID(ctx context.Context, id string) (*user.User, error)
}

type Handler struct {
	*transport.BaseHandler
	Tokens TokenGenerator
	Users  UserLookup
}

func NewHandler(tokens TokenGenerator, users UserLookup) *Handler {
	lg := logger.LoggerWrapper()
	if lg == nil {
		lg = slog.Default()
	}
	return &Handler{
		BaseHandler: transport.NewBaseHandler(lg),
		Tokens:      tokens,
		Users:       users,
	}
}

// AuthMiddleware verifies the bearer token and puts the user id and directory role on
// the request context. The role comes from the directory, not the token, so role
// changes apply without reissuing tokens.
func (h *Handler) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := ExtractTokenFromHeader(r)
		if token == "" {
			h.HandleServiceError(w, internal.ErrMissingToken)
			return
		}

		claims, err := h.Tokens.ValidateToken(token)
		if err != nil {
			h.Logger.Warn("token validation failed", "error", err, "path", r.URL.Path)
			h.HandleServiceError(w, err)
			return
		}

		u, err := h.Users.GetByID(r.Context(), claims.UserID)
		if err != nil {
			h.Logger.Warn("auth middleware: token subject not found", "user_id", claims.UserID, "error", err)
			h.HandleServiceError(w, internal.ErrInvalidToken)
			return
		}
		if !u.IsActive {
			h.HandleServiceError(w, internal.ErrUserInactive)
			return
		}

		ctx := internal.ContextWithUserID(r.Context(), u.ID)
		ctx = internal.ContextWithRole(ctx, string(u.Role))
		ctx = logger.With(ctx, "user_id", u.ID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func ExtractTokenFromHeader(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
