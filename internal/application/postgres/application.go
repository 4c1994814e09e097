package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/frahmantamala/approval-workflow/internal"
	"github.com/frahmantamala/approval-workflow/internal/application"
	appDatamodel "github.com/frahmantamala/approval-workflow/internal/core/datamodel/application"
	"github.com/frahmantamala/approval-workflow/internal/workflow"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ApplicationRepository implements application.Repository using GORM
type ApplicationRepository struct {
	db *gorm.DB
}

func NewApplicationRepository(db *gorm.DB) *ApplicationRepository {
	return &ApplicationRepository{db: db}
}

// Create inserts the application. A taken application number surfaces as a
// concurrency conflict so the caller can allocate again.
func (r *ApplicationRepository) Create(ctx context.Context, app *application.Application) error {
	err := r.db.WithContext(ctx).Create(application.ToDataModel(app)).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return internal.NewConcurrencyConflictError("application number already taken: "+app.ApplicationNo,
			internal.WorkflowErrorDetails{ApplicationID: app.ID})
	}
	return err
}

func (r *ApplicationRepository) GetByID(ctx context.Context, id string) (*application.Application, error) {
	var row appDatamodel.Application
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, internal.NewApplicationNotFoundError(id)
		}
		return nil, err
	}
	return application.FromDataModel(&row), nil
}

func (r *ApplicationRepository) List(ctx context.Context, filter application.ListFilter) ([]*application.Application, error) {
	q := r.db.WithContext(ctx).Model(&appDatamodel.Application{})
	if filter.ApplicantID != "" {
		q = q.Where("applicant_id = ?", filter.ApplicantID)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", string(filter.Status))
	}
	if filter.Priority != "" {
		q = q.Where("priority = ?", string(filter.Priority))
	}

	var rows []appDatamodel.Application
	err := q.Order("created_at DESC").Order("id").
		Limit(filter.Limit).
		Offset(filter.Offset).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return toApplications(rows), nil
}

// ListPendingForApprover returns applications where the approver holds a PENDING,
// non-superseded record. Oldest submissions first.
func (r *ApplicationRepository) ListPendingForApprover(ctx context.Context, approverID string, limit, offset int) ([]*application.Application, error) {
	sub := r.db.Model(&appDatamodel.ApprovalRecord{}).
		Select("application_id").
		Where("approver_id = ? AND action = ? AND superseded_at IS NULL", approverID, string(workflow.ActionPending))

	var rows []appDatamodel.Application
	err := r.db.WithContext(ctx).
		Where("id IN (?)", sub).
		Where("status IN ?", pendingStatuses()).
		Order("submitted_at ASC").Order("id").
		Limit(limit).
		Offset(offset).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return toApplications(rows), nil
}

func (r *ApplicationRepository) ListRecords(ctx context.Context, applicationID string) ([]*application.ApprovalRecord, error) {
	return listRecords(r.db.WithContext(ctx), applicationID)
}

// LastNumberWithPrefix returns the highest application number starting with
// prefix, or "" when none exists.
func (r *ApplicationRepository) LastNumberWithPrefix(ctx context.Context, prefix string) (string, error) {
	var numbers []string
	err := r.db.WithContext(ctx).Model(&appDatamodel.Application{}).
		Where("application_no LIKE ?", prefix+"%").
		Order("application_no DESC").
		Limit(1).
		Pluck("application_no", &numbers).Error
	if err != nil || len(numbers) == 0 {
		return "", err
	}
	return numbers[0], nil
}

func (r *ApplicationRepository) Transaction(ctx context.Context, fn func(tx application.Tx) error) error {
	return r.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		return fn(&txRepository{db: db})
	})
}

// txRepository is the write side bound to one database transaction.
type txRepository struct {
	db *gorm.DB
}

// GetForUpdate locks the application row until the transaction ends. Drivers without
// row locks (sqlite) ignore the clause; the version check in Update still applies.
func (t *txRepository) GetForUpdate(ctx context.Context, id string) (*application.Application, []*application.ApprovalRecord, error) {
	var row appDatamodel.Application
	err := t.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, internal.NewApplicationNotFoundError(id)
		}
		return nil, nil, err
	}

	records, err := listRecords(t.db.WithContext(ctx), id)
	if err != nil {
		return nil, nil, err
	}
	return application.FromDataModel(&row), records, nil
}

func (t *txRepository) Update(ctx context.Context, app *application.Application, expectedVersion int64) error {
	row := application.ToDataModel(app)
	res := t.db.WithContext(ctx).Model(&appDatamodel.Application{}).
		Where("id = ? AND version = ?", app.ID, expectedVersion).
		Updates(map[string]interface{}{
			"title":                row.Title,
			"content":              row.Content,
			"amount":               row.Amount,
			"priority":             row.Priority,
			"status":               row.Status,
			"factory_manager_ids":  row.FactoryManagerIDs,
			"selected_manager_ids": row.SelectedManagerIDs,
			"skip_manager":         row.SkipManager,
			"version":              row.Version,
			"submitted_at":         row.SubmittedAt,
			"completed_at":         row.CompletedAt,
			"updated_at":           row.UpdatedAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return internal.NewConcurrencyConflictError("application was modified concurrently",
			internal.WorkflowErrorDetails{ApplicationID: app.ID, ActualStatus: string(app.Status)})
	}
	return nil
}

func (t *txRepository) AppendRecords(ctx context.Context, records []*application.ApprovalRecord) error {
	if len(records) == 0 {
		return nil
	}
	rows := make([]*appDatamodel.ApprovalRecord, 0, len(records))
	for _, rec := range records {
		rows = append(rows, application.RecordToDataModel(rec))
	}
	return t.db.WithContext(ctx).Create(&rows).Error
}

// ResolveRecord writes the single terminal edit. It only matches a record that is still
// PENDING and not superseded, so a second resolution can never overwrite the first.
func (t *txRepository) ResolveRecord(ctx context.Context, rec *application.ApprovalRecord) error {
	row := application.RecordToDataModel(rec)
	res := t.db.WithContext(ctx).Model(&appDatamodel.ApprovalRecord{}).
		Where("id = ? AND action = ? AND superseded_at IS NULL", rec.ID, string(workflow.ActionPending)).
		Updates(map[string]interface{}{
			"action":               row.Action,
			"comment":              row.Comment,
			"approved_at":          row.ApprovedAt,
			"selected_manager_ids": row.SelectedManagerIDs,
			"skip_manager":         row.SkipManager,
			"flow_type":            row.FlowType,
			"updated_at":           row.UpdatedAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return internal.NewConcurrencyConflictError("approval record was resolved concurrently",
			internal.WorkflowErrorDetails{ApplicationID: rec.ApplicationID, Level: string(rec.Level)})
	}
	return nil
}

func (t *txRepository) SupersedeRecords(ctx context.Context, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	return t.db.WithContext(ctx).Model(&appDatamodel.ApprovalRecord{}).
		Where("id IN ? AND action = ? AND superseded_at IS NULL", ids, string(workflow.ActionPending)).
		Updates(map[string]interface{}{
			"superseded_at": at,
			"updated_at":    at,
		}).Error
}

// Delete removes the application and its records.
func (t *txRepository) Delete(ctx context.Context, id string) error {
	db := t.db.WithContext(ctx)
	if err := db.Where("application_id = ?", id).Delete(&appDatamodel.ApprovalRecord{}).Error; err != nil {
		return err
	}
	res := db.Where("id = ?", id).Delete(&appDatamodel.Application{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return internal.NewApplicationNotFoundError(id)
	}
	return nil
}

func listRecords(db *gorm.DB, applicationID string) ([]*application.ApprovalRecord, error) {
	var rows []appDatamodel.ApprovalRecord
	err := db.Where("application_id = ?", applicationID).
		Order("created_at ASC").Order("round ASC").Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	records := make([]*application.ApprovalRecord, 0, len(rows))
	for i := range rows {
		records = append(records, application.RecordFromDataModel(&rows[i]))
	}
	return records, nil
}

func toApplications(rows []appDatamodel.Application) []*application.Application {
	apps := make([]*application.Application, 0, len(rows))
	for i := range rows {
		apps = append(apps, application.FromDataModel(&rows[i]))
	}
	return apps
}

func pendingStatuses() []string {
	out := make([]string, 0, len(workflow.PendingStatuses))
	for _, s := range workflow.PendingStatuses {
		out = append(out, string(s))
	}
	return out
}
