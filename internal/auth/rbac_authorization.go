package auth

import (
	"log/slog"
	"net/http"

	"github.com/frahmantamala/approval-workflow/internal"
	"github.com/frahmantamala/approval-workflow/internal/transport"
	"github.com/frahmantamala/approval-workflow/internal/user"
)

// RBACAuthorization gates routes on the role placed in the context by AuthMiddleware.
// Workflow permissions (who may act on which record) are decided by the engine, not here.
type RBACAuthorization struct {
	*transport.BaseHandler
}

func NewRBACAuthorization(logger *slog.Logger) *RBACAuthorization {
	return &RBACAuthorization{BaseHandler: transport.NewBaseHandler(logger)}
}

func (ra *RBACAuthorization) RequireRole(roles ...user.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := internal.UserIDFromContext(r.Context())
			if userID == "" {
				ra.HandleServiceError(w, internal.ErrMissingToken)
				return
			}

			role := user.Role(internal.RoleFromContext(r.Context()))
			for _, allowed := range roles {
				if role == allowed {
					next.ServeHTTP(w, r)
					return
				}
			}

			ra.Logger.WarnContext(r.Context(), "access denied: insufficient role",
				"user_id", userID,
				"role", role,
				"required_roles", roles)
			ra.HandleServiceError(w, internal.NewForbiddenError("Insufficient role for this operation", internal.ErrCodeInsufficientRole))
		})
	}
}

// RequireApprover admits every role that can hold an approval record.
func (ra *RBACAuthorization) RequireApprover() func(http.Handler) http.Handler {
	return ra.RequireRole(user.ApproverRoles...)
}
