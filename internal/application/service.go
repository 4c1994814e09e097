package application

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/frahmantamala/approval-workflow/internal"
	"github.com/frahmantamala/approval-workflow/internal/core/events"
	"github.com/frahmantamala/approval-workflow/internal/user"
	"github.com/frahmantamala/approval-workflow/internal/workflow"
	"github.com/google/uuid"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// Locker serializes work per key. *guard.Guard satisfies it.
type Locker interface {
	Do(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

// ApproverResolver validates and expands approver sets against the directory.
type ApproverResolver interface {
	ResolveFactoryApprovers(ctx context.Context, ids []string) ([]string, error)
	ResolveManagerApprovers(ctx context.Context, ids []string) ([]string, error)
	ResolveDirectorApprovers(ctx context.Context) ([]string, error)
	ResolveCEOApprovers(ctx context.Context) ([]string, error)
}

type EventPublisher interface {
	Publish(ctx context.Context, event events.Event) error
}

type Config struct {
	ApplicationNoPrefix string
}

type Service struct {
	repo     Repository
	locker   Locker
	resolver ApproverResolver
	events   EventPublisher
	logger   *slog.Logger
	cfg      Config
	now      func() time.Time
	newID    func() string
}

func NewService(repo Repository, locker Locker, resolver ApproverResolver, publisher EventPublisher, logger *slog.Logger, cfg Config) *Service {
	if cfg.ApplicationNoPrefix == "" {
		cfg.ApplicationNoPrefix = "APP"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:     repo,
		locker:   locker,
		resolver: resolver,
		events:   publisher,
		logger:   logger,
		cfg:      cfg,
		now:      time.Now,
		newID:    func() string { return uuid.New().String() },
	}
}

// WithClock replaces the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) CreateApplication(ctx context.Context, applicantID string, dto CreateApplicationDTO) (*Application, error) {
	if err := dto.Validate(); err != nil {
		s.logger.Warn("application validation failed", "error", err, "applicant_id", applicantID)
		return nil, err
	}

	priority := workflow.Priority(dto.Priority)
	if priority == "" {
		priority = workflow.PriorityMedium
	}

	now := s.now()
	app := &Application{
		ID:                 s.newID(),
		ApplicantID:        applicantID,
		Title:              strings.TrimSpace(dto.Title),
		Content:            dto.Content,
		Amount:             dto.Amount,
		Priority:           priority,
		Status:             workflow.StatusDraft,
		FactoryManagerIDs:  workflow.Dedupe(dto.FactoryManagerIDs),
		SelectedManagerIDs: []string{},
		Version:            1,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	if err := s.createWithNumber(ctx, app); err != nil {
		s.logger.Error("failed to create application", "error", err, "applicant_id", applicantID)
		return nil, err
	}

	s.logger.Info("application created",
		"application_id", app.ID,
		"application_no", app.ApplicationNo,
		"applicant_id", applicantID,
		"priority", app.Priority)

	return app, nil
}

func (s *Service) UpdateApplication(ctx context.Context, actorID, id string, dto UpdateApplicationDTO) (*Application, error) {
	if err := dto.Validate(); err != nil {
		s.logger.Warn("application update validation failed", "error", err, "application_id", id)
		return nil, err
	}

	var updated *Application
	err := s.locker.Do(ctx, id, func(ctx context.Context) error {
		return s.repo.Transaction(ctx, func(tx Tx) error {
			app, _, err := tx.GetForUpdate(ctx, id)
			if err != nil {
				return err
			}
			if err := ensureDraftOwner(app, actorID, "updated"); err != nil {
				return err
			}

			if dto.Title != nil {
				app.Title = strings.TrimSpace(*dto.Title)
			}
			if dto.Content != nil {
				app.Content = *dto.Content
			}
			if dto.Amount != nil {
				app.Amount = dto.Amount
			}
			if dto.Priority != nil && *dto.Priority != "" {
				app.Priority = workflow.Priority(*dto.Priority)
			}
			if dto.FactoryManagerIDs != nil {
				app.FactoryManagerIDs = workflow.Dedupe(dto.FactoryManagerIDs)
			}

			expected := app.Version
			app.Version++
			app.UpdatedAt = s.now()
			if err := tx.Update(ctx, app, expected); err != nil {
				return err
			}
			updated = app
			return nil
		})
	})
	if err != nil {
		s.logFailure("update application", id, actorID, err)
		return nil, err
	}

	s.logger.Info("application updated", "application_id", id, "actor_id", actorID, "version", updated.Version)
	return updated, nil
}

func (s *Service) DeleteApplication(ctx context.Context, actorID, id string) error {
	err := s.locker.Do(ctx, id, func(ctx context.Context) error {
		return s.repo.Transaction(ctx, func(tx Tx) error {
			app, _, err := tx.GetForUpdate(ctx, id)
			if err != nil {
				return err
			}
			if err := ensureDraftOwner(app, actorID, "deleted"); err != nil {
				return err
			}
			return tx.Delete(ctx, id)
		})
	})
	if err != nil {
		s.logFailure("delete application", id, actorID, err)
		return err
	}

	s.logger.Info("application deleted", "application_id", id, "actor_id", actorID)
	return nil
}

// SubmitApplication moves a draft into the factory stage, creating one PENDING record
// per validated factory manager.
func (s *Service) SubmitApplication(ctx context.Context, actorID, id string) (*ActResult, error) {
	return s.mutate(ctx, "submit", id, actorID, func(app *Application, records []*ApprovalRecord) (*workflow.Decision, error) {
		if app.ApplicantID != actorID {
			return nil, internal.NewNotAuthorizedError("only the applicant can submit this application",
				internal.WorkflowErrorDetails{ApplicationID: app.ID, ActualStatus: string(app.Status)})
		}
		d, err := workflow.Submit(Snapshot(app, records))
		if err != nil {
			return nil, err
		}
		d.ActorID = actorID
		return d, nil
	})
}

func (s *Service) ActOnApproval(ctx context.Context, cmd ActCommand) (*ActResult, error) {
	return s.mutate(ctx, "act on approval", cmd.ApplicationID, cmd.ActorID, func(app *Application, records []*ApprovalRecord) (*workflow.Decision, error) {
		snap := Snapshot(app, records)
		slot, err := workflow.Authorize(snap, cmd.Level, cmd.ActorID)
		if err != nil {
			return nil, err
		}
		return workflow.Transition(snap, *slot, workflow.Command{
			Level:     cmd.Level,
			ActorID:   cmd.ActorID,
			Action:    cmd.Action,
			Comment:   cmd.Comment,
			Selection: cmd.Selection,
		})
	})
}

// WithdrawApplication cancels a pending application. atLevel is optional; when set it
// must name the level the application is waiting on.
func (s *Service) WithdrawApplication(ctx context.Context, actorID string, isAdmin bool, id string, atLevel workflow.Level) (*ActResult, error) {
	return s.mutate(ctx, "withdraw", id, actorID, func(app *Application, records []*ApprovalRecord) (*workflow.Decision, error) {
		if !isAdmin && app.ApplicantID != actorID {
			return nil, internal.NewNotAuthorizedError("only the applicant or an admin can withdraw this application",
				internal.WorkflowErrorDetails{ApplicationID: app.ID, ActualStatus: string(app.Status)})
		}
		d, err := workflow.Withdraw(Snapshot(app, records), atLevel)
		if err != nil {
			return nil, err
		}
		d.ActorID = actorID
		return d, nil
	})
}

// ResubmitApplication starts a new draft lineage from a rejected or withdrawn application.
// The original stays untouched.
func (s *Service) ResubmitApplication(ctx context.Context, actorID, id string) (*Application, error) {
	orig, err := s.repo.GetByID(ctx, id)
	if err != nil {
		s.logFailure("resubmit application", id, actorID, err)
		return nil, err
	}
	details := internal.WorkflowErrorDetails{
		ApplicationID:  orig.ID,
		ExpectedStatus: []string{string(workflow.StatusRejected), string(workflow.StatusWithdrawn)},
		ActualStatus:   string(orig.Status),
	}
	if orig.ApplicantID != actorID {
		return nil, internal.NewNotAuthorizedError("only the applicant can resubmit this application", details)
	}
	if orig.Status != workflow.StatusRejected && orig.Status != workflow.StatusWithdrawn {
		s.logger.Warn("resubmit rejected: application still active", "application_id", id, "status", orig.Status)
		return nil, internal.NewInvalidStateError("only rejected or withdrawn applications can be resubmitted", details)
	}

	now := s.now()
	parentID := orig.ID
	app := &Application{
		ID:                 s.newID(),
		ApplicantID:        actorID,
		ParentID:           &parentID,
		Title:              orig.Title,
		Content:            orig.Content,
		Amount:             orig.Amount,
		Priority:           orig.Priority,
		Status:             workflow.StatusDraft,
		FactoryManagerIDs:  append([]string{}, orig.FactoryManagerIDs...),
		SelectedManagerIDs: []string{},
		Version:            1,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := s.createWithNumber(ctx, app); err != nil {
		s.logger.Error("failed to create resubmitted application", "error", err, "parent_id", id)
		return nil, err
	}

	s.logger.Info("application resubmitted as new draft",
		"application_id", app.ID,
		"parent_id", id,
		"application_no", app.ApplicationNo)
	return app, nil
}

func (s *Service) GetApplication(ctx context.Context, viewer Viewer, id string) (*Application, error) {
	app, _, err := s.loadVisible(ctx, viewer, id)
	if err != nil {
		return nil, err
	}
	return app, nil
}

// GetApprovalHistory returns the records of the application in chronological
// order. Slots of a director or CEO round that another holder decided are left out.
func (s *Service) GetApprovalHistory(ctx context.Context, viewer Viewer, id string) ([]*ApprovalRecord, error) {
	_, records, err := s.loadVisible(ctx, viewer, id)
	if err != nil {
		return nil, err
	}
	records = VisibleHistory(records)
	SortHistory(records)
	return records, nil
}

func (s *Service) GetCurrentApprovers(ctx context.Context, id string) ([]string, error) {
	app, err := s.repo.GetByID(ctx, id)
	if err != nil {
		s.logFailure("get current approvers", id, "", err)
		return nil, err
	}
	records, err := s.repo.ListRecords(ctx, id)
	if err != nil {
		s.logger.Error("failed to list approval records", "error", err, "application_id", id)
		return nil, err
	}
	return nonNil(Snapshot(app, records).CurrentApprovers()), nil
}

func (s *Service) ListApplications(ctx context.Context, applicantID string, filter ListFilter) ([]*Application, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, internal.NewValidationFieldError("status", fmt.Sprintf("unknown status %q", filter.Status), internal.ErrCodeValidationFailed)
	}
	if filter.Priority != "" && !filter.Priority.Valid() {
		return nil, internal.NewValidationFieldError("priority", fmt.Sprintf("unknown priority %q", filter.Priority), internal.ErrCodeInvalidPriority)
	}
	filter.ApplicantID = applicantID
	filter.Limit, filter.Offset = normalizePage(filter.Limit, filter.Offset)

	apps, err := s.repo.List(ctx, filter)
	if err != nil {
		s.logger.Error("failed to list applications", "error", err, "applicant_id", applicantID)
		return nil, err
	}
	return apps, nil
}

// ListPendingApprovals returns applications on which the approver holds an actionable record.
func (s *Service) ListPendingApprovals(ctx context.Context, approverID string, limit, offset int) ([]*Application, error) {
	limit, offset = normalizePage(limit, offset)
	apps, err := s.repo.ListPendingForApprover(ctx, approverID, limit, offset)
	if err != nil {
		s.logger.Error("failed to list pending approvals", "error", err, "approver_id", approverID)
		return nil, err
	}
	return apps, nil
}

type decideFunc func(app *Application, records []*ApprovalRecord) (*workflow.Decision, error)

// mutate runs read, decide and write for one application under its lease and inside
// one transaction. The transition event is published only after commit.
func (s *Service) mutate(ctx context.Context, op, id, actorID string, decide decideFunc) (*ActResult, error) {
	var (
		result   *ActResult
		decision *workflow.Decision
	)

	err := s.locker.Do(ctx, id, func(ctx context.Context) error {
		return s.repo.Transaction(ctx, func(tx Tx) error {
			app, records, err := tx.GetForUpdate(ctx, id)
			if err != nil {
				return err
			}
			d, err := decide(app, records)
			if err != nil {
				return err
			}
			res, err := s.apply(ctx, tx, app, records, d)
			if err != nil {
				return err
			}
			result, decision = res, d
			return nil
		})
	})
	if err != nil {
		s.logFailure(op, id, actorID, err)
		return nil, err
	}

	s.logger.Info("workflow operation applied",
		"operation", op,
		"application_id", id,
		"actor_id", actorID,
		"level", decision.Level,
		"from_status", decision.From,
		"to_status", decision.To)

	if decision.Advanced() {
		s.publishTransition(ctx, result.Application, decision)
	}
	return result, nil
}

func (s *Service) apply(ctx context.Context, tx Tx, app *Application, records []*ApprovalRecord, d *workflow.Decision) (*ActResult, error) {
	now := s.now()
	byID := make(map[string]*ApprovalRecord, len(records))
	for _, r := range records {
		byID[r.ID] = r
	}
	var touched []*ApprovalRecord

	if res := d.Resolve; res != nil {
		rec, ok := byID[res.RecordID]
		if !ok {
			return nil, internal.NewInternalError("approval record vanished during transition", nil)
		}
		rec.Action = res.Action
		if res.Comment != "" {
			comment := res.Comment
			rec.Comment = &comment
		}
		rec.ApprovedAt = &now
		rec.UpdatedAt = now
		if sel := res.Selection; sel != nil {
			flow := sel.FlowType
			skip := sel.SkipManager
			rec.FlowType = &flow
			rec.SkipManager = &skip
			rec.SelectedManagerIDs = append([]string{}, sel.SelectedManagerIDs...)
			app.SelectedManagerIDs = nonNil(append([]string{}, sel.SelectedManagerIDs...))
			app.SkipManager = sel.SkipManager
		}
		if err := tx.ResolveRecord(ctx, rec); err != nil {
			return nil, err
		}
		touched = append(touched, rec)
	}

	if len(d.Supersede) > 0 {
		if err := tx.SupersedeRecords(ctx, d.Supersede, now); err != nil {
			return nil, err
		}
		for _, id := range d.Supersede {
			if rec, ok := byID[id]; ok {
				rec.SupersededAt = &now
				rec.UpdatedAt = now
				touched = append(touched, rec)
			}
		}
	}

	if a := d.Assign; a != nil {
		approvers, err := s.resolveAssignees(ctx, app, a)
		if err != nil {
			return nil, err
		}
		created := make([]*ApprovalRecord, 0, len(approvers))
		for _, approverID := range approvers {
			created = append(created, &ApprovalRecord{
				ID:            s.newID(),
				ApplicationID: app.ID,
				Level:         a.Level,
				Round:         a.Round,
				ApproverID:    approverID,
				Action:        workflow.ActionPending,
				CreatedAt:     now,
				UpdatedAt:     now,
			})
		}
		if err := tx.AppendRecords(ctx, created); err != nil {
			return nil, err
		}
		touched = append(touched, created...)
	}

	if d.Advanced() {
		app.Status = d.To
		if d.From == workflow.StatusDraft {
			app.SubmittedAt = &now
		}
		if d.To.IsTerminal() {
			app.CompletedAt = &now
		}
	}

	expected := app.Version
	app.Version++
	app.UpdatedAt = now
	if err := tx.Update(ctx, app, expected); err != nil {
		return nil, err
	}

	return &ActResult{Application: app, Records: touched}, nil
}

func (s *Service) resolveAssignees(ctx context.Context, app *Application, a *workflow.Assignment) ([]string, error) {
	switch a.Level {
	case workflow.LevelFactory:
		ids, err := s.resolver.ResolveFactoryApprovers(ctx, a.ApproverIDs)
		if err != nil {
			return nil, withApplication(err, app.ID)
		}
		app.FactoryManagerIDs = ids
		return ids, nil
	case workflow.LevelManager:
		ids, err := s.resolver.ResolveManagerApprovers(ctx, a.ApproverIDs)
		return ids, withApplication(err, app.ID)
	case workflow.LevelDirector:
		ids, err := s.resolver.ResolveDirectorApprovers(ctx)
		return ids, withApplication(err, app.ID)
	case workflow.LevelCEO:
		ids, err := s.resolver.ResolveCEOApprovers(ctx)
		return ids, withApplication(err, app.ID)
	}
	return nil, internal.NewInvalidTransitionError(fmt.Sprintf("cannot assign approvers at level %q", a.Level),
		internal.WorkflowErrorDetails{ApplicationID: app.ID, Level: string(a.Level)})
}

func (s *Service) publishTransition(ctx context.Context, app *Application, d *workflow.Decision) {
	if s.events == nil {
		return
	}
	event := events.NewApplicationTransitionEvent(
		app.ID, app.ApplicationNo, app.ApplicantID,
		string(d.From), string(d.To), d.ActorID, string(d.Level), app.Amount)

	// handlers run after the request is gone
	if err := s.events.Publish(context.WithoutCancel(ctx), event); err != nil {
		s.logger.Warn("failed to publish transition event",
			"error", err,
			"application_id", app.ID,
			"to_status", d.To)
	}
}

// createWithNumber allocates the next daily number after the highest one in
// storage. The lock only covers this process; a number taken by another
// instance comes back from Create as a concurrency conflict and the guard
// allocates again.
func (s *Service) createWithNumber(ctx context.Context, app *Application) error {
	prefix := fmt.Sprintf("%s-%s-", s.cfg.ApplicationNoPrefix, app.CreatedAt.Format("20060102"))
	return s.locker.Do(ctx, "application_no:"+prefix, func(ctx context.Context) error {
		last, err := s.repo.LastNumberWithPrefix(ctx, prefix)
		if err != nil {
			return err
		}
		seq := 0
		if last != "" {
			if seq, err = strconv.Atoi(strings.TrimPrefix(last, prefix)); err != nil {
				return fmt.Errorf("parse application number %q: %w", last, err)
			}
		}
		app.ApplicationNo = fmt.Sprintf("%s%04d", prefix, seq+1)
		return s.repo.Create(ctx, app)
	})
}

func (s *Service) loadVisible(ctx context.Context, viewer Viewer, id string) (*Application, []*ApprovalRecord, error) {
	app, err := s.repo.GetByID(ctx, id)
	if err != nil {
		s.logFailure("get application", id, viewer.ID, err)
		return nil, nil, err
	}
	records, err := s.repo.ListRecords(ctx, id)
	if err != nil {
		s.logger.Error("failed to list approval records", "error", err, "application_id", id)
		return nil, nil, err
	}
	if !canView(viewer, app, records) {
		s.logger.Warn("application access denied", "application_id", id, "viewer_id", viewer.ID, "role", viewer.Role)
		return nil, nil, internal.NewNotAuthorizedError("you cannot view this application",
			internal.WorkflowErrorDetails{ApplicationID: id})
	}
	return app, records, nil
}

func (s *Service) logFailure(op, id, actorID string, err error) {
	if _, ok := internal.IsAppError(err); ok {
		s.logger.Warn(op+" rejected", "error", err, "application_id", id, "actor_id", actorID)
		return
	}
	s.logger.Error(op+" failed", "error", err, "application_id", id, "actor_id", actorID)
}

func canView(viewer Viewer, app *Application, records []*ApprovalRecord) bool {
	if viewer.ID == app.ApplicantID {
		return true
	}
	switch user.Role(viewer.Role) {
	case user.RoleAdmin, user.RoleReadonly:
		return true
	}
	for _, r := range records {
		if r.ApproverID == viewer.ID {
			return true
		}
	}
	return false
}

func ensureDraftOwner(app *Application, actorID, verb string) error {
	details := internal.WorkflowErrorDetails{
		ApplicationID:  app.ID,
		ExpectedStatus: []string{string(workflow.StatusDraft)},
		ActualStatus:   string(app.Status),
	}
	if app.ApplicantID != actorID {
		return internal.NewNotAuthorizedError(fmt.Sprintf("only the applicant can have this application %s", verb), details)
	}
	if app.Status != workflow.StatusDraft {
		return internal.NewInvalidStateError(fmt.Sprintf("only draft applications can be %s", verb), details)
	}
	return nil
}

// withApplication fills in the application id on workflow errors raised by the resolver.
func withApplication(err error, id string) error {
	if err == nil {
		return nil
	}
	if appErr, ok := internal.IsAppError(err); ok {
		if details, ok := appErr.Details.(internal.WorkflowErrorDetails); ok && details.ApplicationID == "" {
			details.ApplicationID = id
			appErr.Details = details
		}
	}
	return err
}

func normalizePage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
