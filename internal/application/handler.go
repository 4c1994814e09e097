package application

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/frahmantamala/approval-workflow/internal"
	"github.com/frahmantamala/approval-workflow/internal/transport"
	"github.com/frahmantamala/approval-workflow/internal/user"
	"github.com/frahmantamala/approval-workflow/internal/workflow"
	"github.com/frahmantamala/approval-workflow/pkg/logger"
	"github.com/go-chi/chi"
)

type ServiceAPI interface {
	CreateApplication(ctx context.Context, applicantID string, dto CreateApplicationDTO) (*Application, error)
	UpdateApplication(ctx context.Context, actorID, id string, dto UpdateApplicationDTO) (*Application, error)
	DeleteApplication(ctx context.Context, actorID, id string) error
	SubmitApplication(ctx context.Context, actorID, id string) (*ActResult, error)
	ActOnApproval(ctx context.Context, cmd ActCommand) (*ActResult, error)
	WithdrawApplication(ctx context.Context, actorID string, isAdmin bool, id string, atLevel workflow.Level) (*ActResult, error)
	ResubmitApplication(ctx context.Context, actorID, id string) (*Application, error)
	GetApplication(ctx context.Context, viewer Viewer, id string) (*Application, error)
	GetApprovalHistory(ctx context.Context, viewer Viewer, id string) ([]*ApprovalRecord, error)
	GetCurrentApprovers(ctx context.Context, id string) ([]string, error)
	ListApplications(ctx context.Context, applicantID string, filter ListFilter) ([]*Application, error)
	ListPendingApprovals(ctx context.Context, approverID string, limit, offset int) ([]*Application, error)
}

type Handler struct {
	*transport.BaseHandler
	Service ServiceAPI
}

func NewHandler(service ServiceAPI) *Handler {
	lg := logger.LoggerWrapper()
	if lg == nil {
		lg = slog.Default()
	}
	return &Handler{
		BaseHandler: transport.NewBaseHandler(lg),
		Service:     service,
	}
}

func (h *Handler) CreateApplication(w http.ResponseWriter, r *http.Request) {
	viewer, ok := h.viewer(w, r)
	if !ok {
		return
	}

	var dto CreateApplicationDTO
	if err := h.DecodeJSON(r, &dto); err != nil {
		h.HandleServiceError(w, err)
		return
	}

	app, err := h.Service.CreateApplication(r.Context(), viewer.ID, dto)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusCreated, app)
}

func (h *Handler) ListApplications(w http.ResponseWriter, r *http.Request) {
	viewer, ok := h.viewer(w, r)
	if !ok {
		return
	}

	limit, offset := h.Pagination(r)
	q := r.URL.Query()
	filter := ListFilter{
		Status:   workflow.Status(q.Get("status")),
		Priority: workflow.Priority(q.Get("priority")),
		Limit:    limit,
		Offset:   offset,
	}

	apps, err := h.Service.ListApplications(r.Context(), viewer.ID, filter)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, ListResponse{Items: nonNilApps(apps), Limit: limit, Offset: offset})
}

func (h *Handler) GetApplication(w http.ResponseWriter, r *http.Request) {
	viewer, ok := h.viewer(w, r)
	if !ok {
		return
	}

	app, err := h.Service.GetApplication(r.Context(), viewer, chi.URLParam(r, "id"))
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, app)
}

func (h *Handler) UpdateApplication(w http.ResponseWriter, r *http.Request) {
	viewer, ok := h.viewer(w, r)
	if !ok {
		return
	}

	var dto UpdateApplicationDTO
	if err := h.DecodeJSON(r, &dto); err != nil {
		h.HandleServiceError(w, err)
		return
	}

	app, err := h.Service.UpdateApplication(r.Context(), viewer.ID, chi.URLParam(r, "id"), dto)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, app)
}

func (h *Handler) DeleteApplication(w http.ResponseWriter, r *http.Request) {
	viewer, ok := h.viewer(w, r)
	if !ok {
		return
	}

	if err := h.Service.DeleteApplication(r.Context(), viewer.ID, chi.URLParam(r, "id")); err != nil {
		h.HandleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) SubmitApplication(w http.ResponseWriter, r *http.Request) {
	viewer, ok := h.viewer(w, r)
	if !ok {
		return
	}

	result, err := h.Service.SubmitApplication(r.Context(), viewer.ID, chi.URLParam(r, "id"))
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) WithdrawApplication(w http.ResponseWriter, r *http.Request) {
	viewer, ok := h.viewer(w, r)
	if !ok {
		return
	}

	var dto WithdrawRequestDTO
	if err := h.DecodeJSON(r, &dto); err != nil {
		h.HandleServiceError(w, err)
		return
	}
	var level workflow.Level
	if dto.Level != "" {
		parsed, valid := workflow.ParseLevel(dto.Level)
		if !valid {
			h.HandleServiceError(w, internal.NewValidationFieldError("level", "unknown approval level", internal.ErrCodeValidationFailed))
			return
		}
		level = parsed
	}

	isAdmin := user.Role(viewer.Role) == user.RoleAdmin
	result, err := h.Service.WithdrawApplication(r.Context(), viewer.ID, isAdmin, chi.URLParam(r, "id"), level)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) ResubmitApplication(w http.ResponseWriter, r *http.Request) {
	viewer, ok := h.viewer(w, r)
	if !ok {
		return
	}

	app, err := h.Service.ResubmitApplication(r.Context(), viewer.ID, chi.URLParam(r, "id"))
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusCreated, app)
}

func (h *Handler) GetApprovalHistory(w http.ResponseWriter, r *http.Request) {
	viewer, ok := h.viewer(w, r)
	if !ok {
		return
	}

	id := chi.URLParam(r, "id")
	records, err := h.Service.GetApprovalHistory(r.Context(), viewer, id)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	if records == nil {
		records = []*ApprovalRecord{}
	}
	h.WriteJSON(w, http.StatusOK, HistoryResponse{ApplicationID: id, Records: records})
}

func (h *Handler) GetCurrentApprovers(w http.ResponseWriter, r *http.Request) {
	viewer, ok := h.viewer(w, r)
	if !ok {
		return
	}

	id := chi.URLParam(r, "id")
	app, err := h.Service.GetApplication(r.Context(), viewer, id)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	approvers, err := h.Service.GetCurrentApprovers(r.Context(), id)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, ApproversResponse{ApplicationID: id, Status: string(app.Status), ApproverIDs: approvers})
}

func (h *Handler) ListPendingApprovals(w http.ResponseWriter, r *http.Request) {
	viewer, ok := h.viewer(w, r)
	if !ok {
		return
	}

	limit, offset := h.Pagination(r)
	apps, err := h.Service.ListPendingApprovals(r.Context(), viewer.ID, limit, offset)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, ListResponse{Items: nonNilApps(apps), Limit: limit, Offset: offset})
}

// ActOnApproval handles POST /approvals/{level}/{id}
func (h *Handler) ActOnApproval(w http.ResponseWriter, r *http.Request) {
	viewer, ok := h.viewer(w, r)
	if !ok {
		return
	}

	id := chi.URLParam(r, "id")
	level, valid := workflow.ParseLevel(chi.URLParam(r, "level"))
	if !valid {
		h.HandleServiceError(w, internal.NewInvalidTransitionError("unknown approval level",
			internal.WorkflowErrorDetails{ApplicationID: id, Level: chi.URLParam(r, "level")}))
		return
	}

	var dto ActRequestDTO
	if err := h.DecodeJSON(r, &dto); err != nil {
		h.HandleServiceError(w, err)
		return
	}
	if err := dto.Validate(); err != nil {
		h.HandleServiceError(w, err)
		return
	}
	action, _ := workflow.ParseAction(dto.Action)

	result, err := h.Service.ActOnApproval(r.Context(), ActCommand{
		Level:         level,
		ApplicationID: id,
		ActorID:       viewer.ID,
		Action:        action,
		Comment:       dto.Comment,
		Selection:     dto.Selection(),
	})
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	h.Logger.Info("approval recorded",
		"application_id", id,
		"level", level,
		"actor_id", viewer.ID,
		"action", action,
		"status", result.Application.Status)
	h.WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) viewer(w http.ResponseWriter, r *http.Request) (Viewer, bool) {
	id := internal.UserIDFromContext(r.Context())
	if id == "" {
		h.HandleServiceError(w, internal.ErrMissingToken)
		return Viewer{}, false
	}
	return Viewer{ID: id, Role: internal.RoleFromContext(r.Context())}, true
}

func nonNilApps(apps []*Application) []*Application {
	if apps == nil {
		return []*Application{}
	}
	return apps
}
