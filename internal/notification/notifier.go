package notification

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/frahmantamala/approval-workflow/internal/core/events"
	"github.com/frahmantamala/approval-workflow/internal/user"
	"github.com/frahmantamala/approval-workflow/internal/workflow"
)

const DefaultLargeAmountThreshold = 100000

type Directory interface {
	ListByRole(ctx context.Context, role user.Role, activeOnly bool) ([]*user.User, error)
}

type Queue interface {
	Enqueue(env Envelope) bool
}

// Notifier turns workflow events into queued notifications. Approvals above the
// threshold additionally notify every active READONLY user.
type Notifier struct {
	queue     Queue
	directory Directory
	threshold float64
	logger    *slog.Logger
}

func NewNotifier(queue Queue, directory Directory, threshold float64, logger *slog.Logger) *Notifier {
	if threshold <= 0 {
		threshold = DefaultLargeAmountThreshold
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		queue:     queue,
		directory: directory,
		threshold: threshold,
		logger:    logger,
	}
}

func (n *Notifier) Register(bus *events.EventBus) {
	bus.Subscribe(events.EventTypeApplicationTransition, n.HandleTransition)
}

func (n *Notifier) HandleTransition(ctx context.Context, e events.Event) error {
	n.queue.Enqueue(FromEvent(e))

	t, ok := e.(*events.ApplicationTransitionEvent)
	if !ok || t.ToStatus != string(workflow.StatusApproved) || t.Amount == nil || *t.Amount <= n.threshold {
		return nil
	}

	readers, err := n.directory.ListByRole(ctx, user.RoleReadonly, true)
	if err != nil {
		return fmt.Errorf("failed to list readonly recipients: %w", err)
	}
	if len(readers) == 0 {
		n.logger.Debug("no readonly recipients for large amount notice", "application_id", t.ApplicationID)
		return nil
	}

	ids := make([]string, 0, len(readers))
	for _, u := range readers {
		ids = append(ids, u.ID)
	}
	notice := events.NewLargeAmountApprovedEvent(t.ApplicationID, t.ApplicationNo, *t.Amount, n.threshold, ids)
	n.queue.Enqueue(FromEvent(notice))

	n.logger.Info("large amount approval notice queued",
		"application_id", t.ApplicationID,
		"amount", *t.Amount,
		"recipients", len(ids))
	return nil
}
