package user

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/frahmantamala/approval-workflow/internal"
	"github.com/frahmantamala/approval-workflow/internal/transport"
	"github.com/frahmantamala/approval-workflow/pkg/logger"
)

type ServiceAPI interface {
	GetByID(ctx context.Context, id string) (*User, error)
	ListByRole(ctx context.Context, role Role, activeOnly bool) ([]*User, error)
}

type Handler struct {
	*transport.BaseHandler
	Service ServiceAPI
}

func NewHandler(svc ServiceAPI) *Handler {
	lg := logger.LoggerWrapper()
	if lg == nil {
		lg = slog.Default()
	}
	return &Handler{
		BaseHandler: transport.NewBaseHandler(lg),
		Service:     svc,
	}
}

// GetCurrentUser handles GET /users/me
func (h *Handler) GetCurrentUser(w http.ResponseWriter, r *http.Request) {
	userID := internal.UserIDFromContext(r.Context())
	if userID == "" {
		h.HandleServiceError(w, internal.ErrMissingToken)
		return
	}

	u, err := h.Service.GetByID(r.Context(), userID)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, u)
}

// ListApprovers handles GET /users/approvers?role=
func (h *Handler) ListApprovers(w http.ResponseWriter, r *http.Request) {
	roleParam := r.URL.Query().Get("role")
	role, ok := ParseRole(roleParam)
	if !ok || !isApproverRole(role) {
		h.HandleServiceError(w, internal.NewValidationFieldError("role",
			"role must be one of FACTORY_MANAGER, DIRECTOR, MANAGER, CEO", internal.ErrCodeValidationFailed))
		return
	}

	users, err := h.Service.ListByRole(r.Context(), role, true)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"role":  role,
		"users": users,
	})
}

func isApproverRole(role Role) bool {
	for _, r := range ApproverRoles {
		if r == role {
			return true
		}
	}
	return false
}
