package application_test

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	"github.com/frahmantamala/approval-workflow/internal"
	"github.com/frahmantamala/approval-workflow/internal/application"
	"github.com/frahmantamala/approval-workflow/internal/guard"
	"github.com/frahmantamala/approval-workflow/internal/routing"
	"github.com/frahmantamala/approval-workflow/internal/user"
	"github.com/frahmantamala/approval-workflow/internal/workflow"
	"github.com/go-chi/chi"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// asUser stands in for the auth middleware in handler tests.
func asUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if id := r.Header.Get("X-Test-User"); id != "" {
			ctx = internal.ContextWithUserID(ctx, id)
			ctx = internal.ContextWithRole(ctx, r.Header.Get("X-Test-Role"))
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

var _ = Describe("Handler", func() {
	var router *chi.Mux

	BeforeEach(func() {
		logger := slog.New(slog.NewTextHandler(io.Discard, nil))
		dir := newMockDirectory(
			&user.User{ID: "u1", Role: user.RoleUser, IsActive: true},
			&user.User{ID: "u2", Role: user.RoleUser, IsActive: true},
			&user.User{ID: "f1", Role: user.RoleFactoryManager, IsActive: true},
			&user.User{ID: "d1", Role: user.RoleDirector, IsActive: true},
			&user.User{ID: "c1", Role: user.RoleCEO, IsActive: true},
		)
		svc := application.NewService(newMemoryRepo(), guard.New(guard.Config{MaxRetries: 1, Backoff: time.Millisecond}, logger),
			routing.NewResolver(dir, logger), &recordingPublisher{}, logger, application.Config{ApplicationNoPrefix: "APP"})
		h := application.NewHandler(svc)

		router = chi.NewRouter()
		router.Use(asUser)
		router.Post("/applications", h.CreateApplication)
		router.Get("/applications", h.ListApplications)
		router.Get("/applications/{id}", h.GetApplication)
		router.Put("/applications/{id}", h.UpdateApplication)
		router.Delete("/applications/{id}", h.DeleteApplication)
		router.Post("/applications/{id}/submit", h.SubmitApplication)
		router.Post("/applications/{id}/withdraw", h.WithdrawApplication)
		router.Get("/applications/{id}/history", h.GetApprovalHistory)
		router.Get("/applications/{id}/approvers", h.GetCurrentApprovers)
		router.Get("/approvals/pending", h.ListPendingApprovals)
		router.Post("/approvals/{level}/{id}", h.ActOnApproval)
	})

	do := func(method, path, userID, role, body string) *httptest.ResponseRecorder {
		var reader io.Reader
		if body != "" {
			reader = strings.NewReader(body)
		}
		req := httptest.NewRequest(method, path, reader)
		req.Header.Set("Content-Type", "application/json")
		if userID != "" {
			req.Header.Set("X-Test-User", userID)
			req.Header.Set("X-Test-Role", role)
		}
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	errorCode := func(rec *httptest.ResponseRecorder) string {
		var body struct {
			Error struct {
				Code string `json:"code"`
			} `json:"error"`
		}
		Expect(json.Unmarshal(rec.Body.Bytes(), &body)).To(Succeed())
		return body.Error.Code
	}

	create := func() application.Application {
		rec := do(http.MethodPost, "/applications", "u1", "USER",
			`{"title":"Forklift service","content":"Annual","amount":4200,"factory_manager_ids":["f1"]}`)
		Expect(rec.Code).To(Equal(http.StatusCreated))
		var app application.Application
		Expect(json.Unmarshal(rec.Body.Bytes(), &app)).To(Succeed())
		return app
	}

	It("rejects requests without a user", func() {
		rec := do(http.MethodGet, "/applications", "", "", "")
		Expect(rec.Code).To(Equal(http.StatusUnauthorized))
	})

	It("creates a draft", func() {
		app := create()
		Expect(app.Status).To(Equal(workflow.StatusDraft))
		Expect(app.FactoryManagerIDs).To(Equal([]string{"f1"}))
	})

	It("reports field validation errors", func() {
		rec := do(http.MethodPost, "/applications", "u1", "USER", `{"title":""}`)
		Expect(rec.Code).To(Equal(http.StatusBadRequest))
	})

	It("rejects unknown body fields", func() {
		rec := do(http.MethodPost, "/applications", "u1", "USER", `{"title":"x","colour":"red"}`)
		Expect(rec.Code).To(Equal(http.StatusBadRequest))
		Expect(errorCode(rec)).To(Equal("VALIDATION_FAILED"))
	})

	It("walks an application through submit and approval", func() {
		app := create()

		rec := do(http.MethodPost, "/applications/"+app.ID+"/submit", "u1", "USER", "")
		Expect(rec.Code).To(Equal(http.StatusOK))

		rec = do(http.MethodGet, "/applications/"+app.ID+"/approvers", "u1", "USER", "")
		Expect(rec.Code).To(Equal(http.StatusOK))
		var approvers application.ApproversResponse
		Expect(json.Unmarshal(rec.Body.Bytes(), &approvers)).To(Succeed())
		Expect(approvers.ApproverIDs).To(Equal([]string{"f1"}))

		rec = do(http.MethodGet, "/approvals/pending", "f1", "FACTORY_MANAGER", "")
		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(ContainSubstring(app.ID))

		rec = do(http.MethodPost, "/approvals/factory/"+app.ID, "f1", "FACTORY_MANAGER", `{"action":"APPROVE"}`)
		Expect(rec.Code).To(Equal(http.StatusOK))
		var result application.ActResult
		Expect(json.Unmarshal(rec.Body.Bytes(), &result)).To(Succeed())
		Expect(result.Application.Status).To(Equal(workflow.StatusPendingDirector))

		rec = do(http.MethodGet, "/applications/"+app.ID+"/history", "u1", "USER", "")
		Expect(rec.Code).To(Equal(http.StatusOK))
		var history application.HistoryResponse
		Expect(json.Unmarshal(rec.Body.Bytes(), &history)).To(Succeed())
		Expect(len(history.Records)).To(BeNumerically(">=", 2))
	})

	It("maps workflow errors to their status codes", func() {
		app := create()
		Expect(do(http.MethodPost, "/applications/"+app.ID+"/submit", "u1", "USER", "").Code).To(Equal(http.StatusOK))

		rec := do(http.MethodPost, "/approvals/factory/"+app.ID, "d1", "DIRECTOR", `{"action":"APPROVE"}`)
		Expect(rec.Code).To(Equal(http.StatusForbidden))
		Expect(errorCode(rec)).To(Equal("NOT_AUTHORIZED"))

		rec = do(http.MethodPost, "/approvals/director/"+app.ID, "d1", "DIRECTOR", `{"action":"APPROVE","flow_type":"COMPLETE"}`)
		Expect(rec.Code).To(Equal(http.StatusConflict))
		Expect(errorCode(rec)).To(Equal("INVALID_STATE"))

		rec = do(http.MethodPut, "/applications/"+app.ID, "u1", "USER", `{"title":"Changed"}`)
		Expect(rec.Code).To(Equal(http.StatusConflict))
	})

	It("rejects unknown approval levels and actions", func() {
		app := create()
		rec := do(http.MethodPost, "/approvals/board/"+app.ID, "f1", "FACTORY_MANAGER", `{"action":"APPROVE"}`)
		Expect(rec.Code).To(Equal(http.StatusBadRequest))
		Expect(errorCode(rec)).To(Equal("INVALID_TRANSITION"))

		rec = do(http.MethodPost, "/approvals/factory/"+app.ID, "f1", "FACTORY_MANAGER", `{"action":"MAYBE"}`)
		Expect(rec.Code).To(Equal(http.StatusBadRequest))
	})

	It("hides applications from unrelated users", func() {
		app := create()
		rec := do(http.MethodGet, "/applications/"+app.ID, "u2", "USER", "")
		Expect(rec.Code).To(Equal(http.StatusForbidden))

		rec = do(http.MethodGet, "/applications/missing", "u1", "USER", "")
		Expect(rec.Code).To(Equal(http.StatusNotFound))
	})

	It("withdraws a pending application and deletes drafts", func() {
		app := create()
		Expect(do(http.MethodPost, "/applications/"+app.ID+"/submit", "u1", "USER", "").Code).To(Equal(http.StatusOK))

		rec := do(http.MethodPost, "/applications/"+app.ID+"/withdraw", "u1", "USER", `{"level":"nowhere"}`)
		Expect(rec.Code).To(Equal(http.StatusBadRequest))

		rec = do(http.MethodPost, "/applications/"+app.ID+"/withdraw", "u1", "USER", "")
		Expect(rec.Code).To(Equal(http.StatusOK))

		other := create()
		rec = do(http.MethodDelete, "/applications/"+other.ID, "u1", "USER", "")
		Expect(rec.Code).To(Equal(http.StatusNoContent))
	})

	It("lists the applicant's own applications", func() {
		create()
		create()
		rec := do(http.MethodGet, "/applications?status=DRAFT&limit=10", "u1", "USER", "")
		Expect(rec.Code).To(Equal(http.StatusOK))

		var list application.ListResponse
		Expect(json.Unmarshal(rec.Body.Bytes(), &list)).To(Succeed())
		Expect(list.Items).To(HaveLen(2))
		Expect(list.Limit).To(Equal(10))
	})
})
