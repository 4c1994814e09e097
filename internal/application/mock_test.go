package application_test

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/frahmantamala/approval-workflow/internal"
	"github.com/frahmantamala/approval-workflow/internal/application"
	"github.com/frahmantamala/approval-workflow/internal/core/events"
	"github.com/frahmantamala/approval-workflow/internal/user"
	"github.com/frahmantamala/approval-workflow/internal/workflow"
)

// memoryRepo stages every transaction on a copy of the store and swaps it in on success.
type memoryRepo struct {
	mu      sync.Mutex
	apps    map[string]*application.Application
	records map[string][]*application.ApprovalRecord

	// conflicts makes the next n Update calls fail with a version conflict.
	conflicts int
	// rivalNumbers are stored by another instance right after the next
	// LastNumberWithPrefix read.
	rivalNumbers []string
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		apps:    make(map[string]*application.Application),
		records: make(map[string][]*application.ApprovalRecord),
	}
}

func cloneApp(a *application.Application) *application.Application {
	c := *a
	c.FactoryManagerIDs = append([]string{}, a.FactoryManagerIDs...)
	c.SelectedManagerIDs = append([]string{}, a.SelectedManagerIDs...)
	return &c
}

func cloneRecord(r *application.ApprovalRecord) *application.ApprovalRecord {
	c := *r
	if r.SelectedManagerIDs != nil {
		c.SelectedManagerIDs = append([]string{}, r.SelectedManagerIDs...)
	}
	return &c
}

func cloneRecords(rs []*application.ApprovalRecord) []*application.ApprovalRecord {
	out := make([]*application.ApprovalRecord, 0, len(rs))
	for _, r := range rs {
		out = append(out, cloneRecord(r))
	}
	return out
}

func (m *memoryRepo) Create(ctx context.Context, app *application.Application) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.apps {
		if a.ApplicationNo == app.ApplicationNo {
			return internal.NewConcurrencyConflictError("application number already taken: "+app.ApplicationNo,
				internal.WorkflowErrorDetails{ApplicationID: app.ID})
		}
	}
	m.apps[app.ID] = cloneApp(app)
	return nil
}

func (m *memoryRepo) GetByID(ctx context.Context, id string) (*application.Application, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.apps[id]
	if !ok {
		return nil, internal.NewApplicationNotFoundError(id)
	}
	return cloneApp(a), nil
}

func (m *memoryRepo) List(ctx context.Context, filter application.ListFilter) ([]*application.Application, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*application.Application
	for _, a := range m.apps {
		if filter.ApplicantID != "" && a.ApplicantID != filter.ApplicantID {
			continue
		}
		if filter.Status != "" && a.Status != filter.Status {
			continue
		}
		if filter.Priority != "" && a.Priority != filter.Priority {
			continue
		}
		out = append(out, cloneApp(a))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ApplicationNo < out[j].ApplicationNo })
	return out, nil
}

func (m *memoryRepo) ListPendingForApprover(ctx context.Context, approverID string, limit, offset int) ([]*application.Application, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*application.Application
	for id, rs := range m.records {
		for _, r := range rs {
			if r.ApproverID == approverID && r.Action == workflow.ActionPending && !r.Superseded() {
				out = append(out, cloneApp(m.apps[id]))
				break
			}
		}
	}
	return out, nil
}

func (m *memoryRepo) ListRecords(ctx context.Context, applicationID string) ([]*application.ApprovalRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneRecords(m.records[applicationID]), nil
}

func (m *memoryRepo) LastNumberWithPrefix(ctx context.Context, prefix string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	last := ""
	for _, a := range m.apps {
		if strings.HasPrefix(a.ApplicationNo, prefix) && a.ApplicationNo > last {
			last = a.ApplicationNo
		}
	}
	for _, no := range m.rivalNumbers {
		m.apps["rival-"+no] = &application.Application{ID: "rival-" + no, ApplicationNo: no}
	}
	m.rivalNumbers = nil
	return last, nil
}

func (m *memoryRepo) Transaction(ctx context.Context, fn func(tx application.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memoryTx{
		repo:    m,
		apps:    make(map[string]*application.Application, len(m.apps)),
		records: make(map[string][]*application.ApprovalRecord, len(m.records)),
	}
	for id, a := range m.apps {
		tx.apps[id] = cloneApp(a)
	}
	for id, rs := range m.records {
		tx.records[id] = cloneRecords(rs)
	}

	if err := fn(tx); err != nil {
		return err
	}
	m.apps, m.records = tx.apps, tx.records
	return nil
}

func (m *memoryRepo) countRecords(appID string, level workflow.Level) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.records[appID] {
		if r.Level == level {
			n++
		}
	}
	return n
}

type memoryTx struct {
	repo    *memoryRepo
	apps    map[string]*application.Application
	records map[string][]*application.ApprovalRecord
}

func (t *memoryTx) GetForUpdate(ctx context.Context, id string) (*application.Application, []*application.ApprovalRecord, error) {
	a, ok := t.apps[id]
	if !ok {
		return nil, nil, internal.NewApplicationNotFoundError(id)
	}
	return cloneApp(a), cloneRecords(t.records[id]), nil
}

func (t *memoryTx) Update(ctx context.Context, app *application.Application, expectedVersion int64) error {
	if t.repo.conflicts > 0 {
		t.repo.conflicts--
		return internal.NewConcurrencyConflictError("version changed", internal.WorkflowErrorDetails{ApplicationID: app.ID})
	}
	cur, ok := t.apps[app.ID]
	if !ok || cur.Version != expectedVersion {
		return internal.NewConcurrencyConflictError("version changed", internal.WorkflowErrorDetails{ApplicationID: app.ID})
	}
	t.apps[app.ID] = cloneApp(app)
	return nil
}

func (t *memoryTx) AppendRecords(ctx context.Context, records []*application.ApprovalRecord) error {
	for _, r := range records {
		t.records[r.ApplicationID] = append(t.records[r.ApplicationID], cloneRecord(r))
	}
	return nil
}

func (t *memoryTx) ResolveRecord(ctx context.Context, rec *application.ApprovalRecord) error {
	for i, r := range t.records[rec.ApplicationID] {
		if r.ID == rec.ID {
			if r.Action != workflow.ActionPending || r.Superseded() {
				return internal.NewConcurrencyConflictError("already resolved", internal.WorkflowErrorDetails{})
			}
			t.records[rec.ApplicationID][i] = cloneRecord(rec)
			return nil
		}
	}
	return internal.NewConcurrencyConflictError("record not found", internal.WorkflowErrorDetails{})
}

func (t *memoryTx) SupersedeRecords(ctx context.Context, ids []string, at time.Time) error {
	for _, rs := range t.records {
		for _, r := range rs {
			for _, id := range ids {
				if r.ID == id && r.Action == workflow.ActionPending && r.SupersededAt == nil {
					ts := at
					r.SupersededAt = &ts
				}
			}
		}
	}
	return nil
}

func (t *memoryTx) Delete(ctx context.Context, id string) error {
	if _, ok := t.apps[id]; !ok {
		return internal.NewApplicationNotFoundError(id)
	}
	delete(t.apps, id)
	delete(t.records, id)
	return nil
}

type mockDirectory struct {
	users map[string]*user.User
}

func newMockDirectory(users ...*user.User) *mockDirectory {
	d := &mockDirectory{users: make(map[string]*user.User)}
	for _, u := range users {
		d.users[u.ID] = u
	}
	return d
}

func (d *mockDirectory) GetByIDs(ctx context.Context, ids []string) ([]*user.User, error) {
	var out []*user.User
	for _, id := range ids {
		if u, ok := d.users[id]; ok {
			out = append(out, u)
		}
	}
	return out, nil
}

func (d *mockDirectory) ListByRole(ctx context.Context, role user.Role, activeOnly bool) ([]*user.User, error) {
	var out []*user.User
	for _, u := range d.users {
		if u.Role == role && (!activeOnly || u.IsActive) {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []*events.ApplicationTransitionEvent
	err    error
}

func (p *recordingPublisher) Publish(ctx context.Context, event events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := event.(*events.ApplicationTransitionEvent); ok {
		p.events = append(p.events, e)
	}
	return p.err
}

func (p *recordingPublisher) transitionsTo(status workflow.Status) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e.ToStatus == string(status) {
			n++
		}
	}
	return n
}

// tickingClock hands out strictly increasing timestamps.
type tickingClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *tickingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}
