package application

import (
	"context"
	"sort"
	"time"

	appDatamodel "github.com/frahmantamala/approval-workflow/internal/core/datamodel/application"
	"github.com/frahmantamala/approval-workflow/internal/workflow"
)

type Application struct {
	ID                 string            `json:"id"`
	ApplicationNo      string            `json:"application_no"`
	ApplicantID        string            `json:"applicant_id"`
	ParentID           *string           `json:"parent_id,omitempty"`
	Title              string            `json:"title"`
	Content            string            `json:"content"`
	Amount             *float64          `json:"amount,omitempty"`
	Priority           workflow.Priority `json:"priority"`
	Status             workflow.Status   `json:"status"`
	FactoryManagerIDs  []string          `json:"factory_manager_ids"`
	SelectedManagerIDs []string          `json:"selected_manager_ids"`
	SkipManager        bool              `json:"skip_manager"`
	Version            int64             `json:"version"`
	SubmittedAt        *time.Time        `json:"submitted_at,omitempty"`
	CompletedAt        *time.Time        `json:"completed_at,omitempty"`
	CreatedAt          time.Time         `json:"created_at"`
	UpdatedAt          time.Time         `json:"updated_at"`
}

// ApprovalRecord is one approver's slot at one level and round. Once Action leaves
// PENDING the record is never written again.
type ApprovalRecord struct {
	ID                 string             `json:"id"`
	ApplicationID      string             `json:"application_id"`
	Level              workflow.Level     `json:"level"`
	Round              int                `json:"round"`
	ApproverID         string             `json:"approver_id"`
	Action             workflow.Action    `json:"action"`
	Comment            *string            `json:"comment,omitempty"`
	ApprovedAt         *time.Time         `json:"approved_at,omitempty"`
	SelectedManagerIDs []string           `json:"selected_manager_ids,omitempty"`
	SkipManager        *bool              `json:"skip_manager,omitempty"`
	FlowType           *workflow.FlowType `json:"flow_type,omitempty"`
	SupersededAt       *time.Time         `json:"superseded_at,omitempty"`
	CreatedAt          time.Time          `json:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at"`
}

func (r *ApprovalRecord) Superseded() bool {
	return r.SupersededAt != nil
}

func (r *ApprovalRecord) Slot() workflow.Slot {
	return workflow.Slot{
		RecordID:   r.ID,
		Level:      r.Level,
		Round:      r.Round,
		ApproverID: r.ApproverID,
		Action:     r.Action,
		Superseded: r.Superseded(),
	}
}

// ListFilter narrows ListApplications. Empty fields are ignored.
type ListFilter struct {
	ApplicantID string
	Status      workflow.Status
	Priority    workflow.Priority
	Limit       int
	Offset      int
}

// Viewer is the identity a read is performed for.
type Viewer struct {
	ID   string
	Role string
}

// ActCommand is one approver acting on the application at a level.
type ActCommand struct {
	Level         workflow.Level
	ApplicationID string
	ActorID       string
	Action        workflow.Action
	Comment       string
	Selection     workflow.Selection
}

// ActResult is the committed application plus every record the operation touched.
type ActResult struct {
	Application *Application      `json:"application"`
	Records     []*ApprovalRecord `json:"records"`
}

type Repository interface {
	Create(ctx context.Context, app *Application) error
	GetByID(ctx context.Context, id string) (*Application, error)
	List(ctx context.Context, filter ListFilter) ([]*Application, error)
	ListPendingForApprover(ctx context.Context, approverID string, limit, offset int) ([]*Application, error)
	ListRecords(ctx context.Context, applicationID string) ([]*ApprovalRecord, error)
	LastNumberWithPrefix(ctx context.Context, prefix string) (string, error)
	Transaction(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the write side of the persistence boundary. Everything done through one Tx
// commits or rolls back together.
type Tx interface {
	GetForUpdate(ctx context.Context, id string) (*Application, []*ApprovalRecord, error)
	Update(ctx context.Context, app *Application, expectedVersion int64) error
	AppendRecords(ctx context.Context, records []*ApprovalRecord) error
	ResolveRecord(ctx context.Context, record *ApprovalRecord) error
	SupersedeRecords(ctx context.Context, ids []string, at time.Time) error
	Delete(ctx context.Context, id string) error
}

// Snapshot is the engine's view of the application and its records.
func Snapshot(app *Application, records []*ApprovalRecord) workflow.Snapshot {
	slots := make([]workflow.Slot, 0, len(records))
	for _, r := range records {
		slots = append(slots, r.Slot())
	}
	return workflow.Snapshot{
		ApplicationID:     app.ID,
		Status:            app.Status,
		FactoryManagerIDs: app.FactoryManagerIDs,
		Slots:             slots,
	}
}

// VisibleHistory drops the untouched slots of a first-actor level once another
// holder decided it. Slots closed by a withdraw or by a unanimous-level reject
// are kept.
func VisibleHistory(records []*ApprovalRecord) []*ApprovalRecord {
	type stage struct {
		level workflow.Level
		round int
	}
	decided := make(map[stage]bool)
	for _, r := range records {
		if r.Action != workflow.ActionPending {
			decided[stage{r.Level, r.Round}] = true
		}
	}

	out := make([]*ApprovalRecord, 0, len(records))
	for _, r := range records {
		if r.Action == workflow.ActionPending && r.Superseded() &&
			!r.Level.Unanimous() && decided[stage{r.Level, r.Round}] {
			continue
		}
		out = append(out, r)
	}
	return out
}

// SortHistory orders records by creation time, then chain position, then id.
func SortHistory(records []*ApprovalRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		if a.Level.Order() != b.Level.Order() {
			return a.Level.Order() < b.Level.Order()
		}
		if a.Round != b.Round {
			return a.Round < b.Round
		}
		return a.ID < b.ID
	})
}

func ToDataModel(a *Application) *appDatamodel.Application {
	return &appDatamodel.Application{
		ID:                 a.ID,
		ApplicationNo:      a.ApplicationNo,
		ApplicantID:        a.ApplicantID,
		ParentID:           a.ParentID,
		Title:              a.Title,
		Content:            a.Content,
		Amount:             a.Amount,
		Priority:           string(a.Priority),
		Status:             string(a.Status),
		FactoryManagerIDs:  nonNil(a.FactoryManagerIDs),
		SelectedManagerIDs: nonNil(a.SelectedManagerIDs),
		SkipManager:        a.SkipManager,
		Version:            a.Version,
		SubmittedAt:        a.SubmittedAt,
		CompletedAt:        a.CompletedAt,
		CreatedAt:          a.CreatedAt,
		UpdatedAt:          a.UpdatedAt,
	}
}

func FromDataModel(a *appDatamodel.Application) *Application {
	return &Application{
		ID:                 a.ID,
		ApplicationNo:      a.ApplicationNo,
		ApplicantID:        a.ApplicantID,
		ParentID:           a.ParentID,
		Title:              a.Title,
		Content:            a.Content,
		Amount:             a.Amount,
		Priority:           workflow.Priority(a.Priority),
		Status:             workflow.Status(a.Status),
		FactoryManagerIDs:  nonNil(a.FactoryManagerIDs),
		SelectedManagerIDs: nonNil(a.SelectedManagerIDs),
		SkipManager:        a.SkipManager,
		Version:            a.Version,
		SubmittedAt:        a.SubmittedAt,
		CompletedAt:        a.CompletedAt,
		CreatedAt:          a.CreatedAt,
		UpdatedAt:          a.UpdatedAt,
	}
}

func RecordToDataModel(r *ApprovalRecord) *appDatamodel.ApprovalRecord {
	row := &appDatamodel.ApprovalRecord{
		ID:                 r.ID,
		ApplicationID:      r.ApplicationID,
		Level:              string(r.Level),
		Round:              r.Round,
		ApproverID:         r.ApproverID,
		Action:             string(r.Action),
		Comment:            r.Comment,
		ApprovedAt:         r.ApprovedAt,
		SelectedManagerIDs: nonNil(r.SelectedManagerIDs),
		SkipManager:        r.SkipManager,
		SupersededAt:       r.SupersededAt,
		CreatedAt:          r.CreatedAt,
		UpdatedAt:          r.UpdatedAt,
	}
	if r.FlowType != nil {
		ft := string(*r.FlowType)
		row.FlowType = &ft
	}
	return row
}

func RecordFromDataModel(r *appDatamodel.ApprovalRecord) *ApprovalRecord {
	rec := &ApprovalRecord{
		ID:            r.ID,
		ApplicationID: r.ApplicationID,
		Level:         workflow.Level(r.Level),
		Round:         r.Round,
		ApproverID:    r.ApproverID,
		Action:        workflow.Action(r.Action),
		Comment:       r.Comment,
		ApprovedAt:    r.ApprovedAt,
		SkipManager:   r.SkipManager,
		SupersededAt:  r.SupersededAt,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
	if len(r.SelectedManagerIDs) > 0 {
		rec.SelectedManagerIDs = []string(r.SelectedManagerIDs)
	}
	if r.FlowType != nil {
		ft := workflow.FlowType(*r.FlowType)
		rec.FlowType = &ft
	}
	return rec
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
