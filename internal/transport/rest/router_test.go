package rest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/frahmantamala/approval-workflow/internal"
	"github.com/frahmantamala/approval-workflow/internal/application"
	"github.com/frahmantamala/approval-workflow/internal/auth"
	"github.com/frahmantamala/approval-workflow/internal/user"
	"github.com/go-chi/chi"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestRest(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "REST Router Suite")
}

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

type directory map[string]*user.User

func (d directory) GetByID(ctx context.Context, id string) (*user.User, error) {
	if u, ok := d[id]; ok {
		return u, nil
	}
	return nil, internal.NewUserNotFoundError(id)
}

func (d directory) ListByRole(ctx context.Context, role user.Role, activeOnly bool) ([]*user.User, error) {
	var out []*user.User
	for _, u := range d {
		if u.Role == role && (!activeOnly || u.IsActive) {
			out = append(out, u)
		}
	}
	return out, nil
}

// pendingOnly implements the one service call the approval inbox needs.
type pendingOnly struct {
	application.ServiceAPI
	calledWith string
}

func (p *pendingOnly) ListPendingApprovals(ctx context.Context, approverID string, limit, offset int) ([]*application.Application, error) {
	p.calledWith = approverID
	return []*application.Application{{ID: "a1", ApplicationNo: "APP-20260314-0001"}}, nil
}

var _ = Describe("Router", func() {
	var (
		router  *chi.Mux
		tokens  *auth.JWTTokenGenerator
		service *pendingOnly
		dbErr   error
	)

	BeforeEach(func() {
		dbErr = nil
		dir := directory{
			"u1": {ID: "u1", Name: "Applicant", Role: user.RoleUser, IsActive: true},
			"d1": {ID: "d1", Name: "Director", Role: user.RoleDirector, IsActive: true},
		}
		tokens = auth.NewJWTTokenGenerator("test-secret", "approval-workflow", 0)
		service = &pendingOnly{}

		router = chi.NewRouter()
		RegisterAllRoutes(router, Handlers{
			Auth:        auth.NewHandler(tokens, dir),
			RBAC:        auth.NewRBACAuthorization(quiet),
			User:        user.NewHandler(dir),
			Application: application.NewHandler(service),
			Health: NewHealthHandler(map[string]Checker{
				"postgres": CheckerFunc(func(ctx context.Context) error { return dbErr }),
			}),
		}, Options{AllowedOrigins: "*"}, quiet)
	})

	do := func(method, path, userID string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, nil)
		if userID != "" {
			token, err := tokens.GenerateAccessToken(userID, "")
			Expect(err).NotTo(HaveOccurred())
			req.Header.Set("Authorization", "Bearer "+token)
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

	It("answers ping without a token", func() {
		rec := do(http.MethodGet, "/api/v1/ping", "")
		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Header().Get("X-Trace-ID")).NotTo(BeEmpty())
	})

	It("reports component health", func() {
		Expect(do(http.MethodGet, "/api/v1/health", "").Code).To(Equal(http.StatusOK))

		dbErr = errors.New("connection refused")
		rec := do(http.MethodGet, "/api/v1/health", "")
		Expect(rec.Code).To(Equal(http.StatusServiceUnavailable))

		var resp HealthResponse
		Expect(json.Unmarshal(rec.Body.Bytes(), &resp)).To(Succeed())
		Expect(resp.Components["postgres"].Message).To(Equal("connection refused"))
	})

	It("requires a bearer token for application routes", func() {
		rec := do(http.MethodGet, "/api/v1/applications", "")
		Expect(rec.Code).To(Equal(http.StatusUnauthorized))
		Expect(errorCode(rec)).To(Equal("MISSING_TOKEN"))
	})

	It("returns the caller from the directory", func() {
		rec := do(http.MethodGet, "/api/v1/users/me", "d1")
		Expect(rec.Code).To(Equal(http.StatusOK))

		var u user.User
		Expect(json.Unmarshal(rec.Body.Bytes(), &u)).To(Succeed())
		Expect(u.Role).To(Equal(user.RoleDirector))
	})

	It("keeps the approval inbox to approver roles", func() {
		rec := do(http.MethodGet, "/api/v1/approvals/pending", "u1")
		Expect(rec.Code).To(Equal(http.StatusForbidden))
		Expect(errorCode(rec)).To(Equal("INSUFFICIENT_ROLE"))
		Expect(service.calledWith).To(BeEmpty())
	})

	It("lists pending approvals for approvers", func() {
		rec := do(http.MethodGet, "/api/v1/approvals/pending", "d1")
		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(service.calledWith).To(Equal("d1"))
		Expect(rec.Body.String()).To(ContainSubstring("APP-20260314-0001"))
	})
})
