package workflow

import (
	"fmt"

	"github.com/frahmantamala/approval-workflow/internal"
)

// Submit moves a DRAFT application into the factory stage.
func Submit(snap Snapshot) (*Decision, error) {
	details := internal.WorkflowErrorDetails{
		ApplicationID:  snap.ApplicationID,
		ExpectedStatus: statusNames(StatusDraft),
		ActualStatus:   string(snap.Status),
	}
	if snap.Status != StatusDraft {
		return nil, internal.NewInvalidStateError("only draft applications can be submitted", details)
	}

	factory := dedupe(snap.FactoryManagerIDs)
	if len(factory) == 0 {
		return nil, internal.NewInvalidStateError("at least one factory manager is required to submit", details)
	}

	return &Decision{
		ApplicationID: snap.ApplicationID,
		Level:         LevelFactory,
		From:          StatusDraft,
		To:            StatusPendingFactory,
		Assign: &Assignment{
			Level:       LevelFactory,
			Round:       snap.round(LevelFactory) + 1,
			ApproverIDs: factory,
		},
	}, nil
}

// Authorize finds the actor's open slot for the level. It runs before Transition
// and fails with InvalidState, AlreadyActed or NotAuthorized.
func Authorize(snap Snapshot, level Level, actorID string) (*Slot, error) {
	details := internal.WorkflowErrorDetails{
		ApplicationID: snap.ApplicationID,
		Level:         string(level),
		ActualStatus:  string(snap.Status),
	}
	if !level.Valid() {
		return nil, internal.NewInvalidTransitionError(fmt.Sprintf("unknown approval level %q", level), details)
	}

	details.ExpectedStatus = statusNames(level.PendingStatus())
	if snap.Status != level.PendingStatus() {
		return nil, internal.NewInvalidStateError(
			fmt.Sprintf("application is %s, not awaiting %s approval", snap.Status, level), details)
	}

	details.RequiredApprovers = snap.CurrentApprovers()
	for _, slot := range snap.CurrentSlots() {
		if slot.ApproverID != actorID {
			continue
		}
		if slot.Action != ActionPending {
			return nil, internal.NewAlreadyActedError(
				fmt.Sprintf("approver has already recorded %s at %s level", slot.Action, level), details)
		}
		s := slot
		return &s, nil
	}

	return nil, internal.NewNotAuthorizedError(
		fmt.Sprintf("user is not a required %s approver for this application", level), details)
}

// Transition computes the effect of an authorized approver acting on their slot.
func Transition(snap Snapshot, slot Slot, cmd Command) (*Decision, error) {
	details := internal.WorkflowErrorDetails{
		ApplicationID:     snap.ApplicationID,
		Level:             string(cmd.Level),
		ExpectedStatus:    statusNames(cmd.Level.PendingStatus()),
		ActualStatus:      string(snap.Status),
		RequiredApprovers: snap.CurrentApprovers(),
	}

	if cmd.Action != ActionApprove && cmd.Action != ActionReject {
		return nil, internal.NewInvalidTransitionError(fmt.Sprintf("unsupported action %q", cmd.Action), details)
	}
	if snap.Status != cmd.Level.PendingStatus() {
		return nil, internal.NewInvalidStateError(
			fmt.Sprintf("application is %s, not awaiting %s approval", snap.Status, cmd.Level), details)
	}
	if slot.Level != cmd.Level || slot.ApproverID != cmd.ActorID {
		return nil, internal.NewNotAuthorizedError("approval slot does not belong to the acting user", details)
	}
	if !slot.Actionable() {
		return nil, internal.NewAlreadyActedError("approval slot is already resolved", details)
	}

	d := &Decision{
		ApplicationID: snap.ApplicationID,
		Level:         cmd.Level,
		ActorID:       cmd.ActorID,
		From:          snap.Status,
		To:            snap.Status,
		Resolve: &Resolution{
			RecordID: slot.RecordID,
			Action:   cmd.Action,
			Comment:  cmd.Comment,
		},
	}
	others := openSlotsExcept(snap, slot.RecordID)

	if cmd.Action == ActionReject {
		// first rejection closes the round
		d.To = StatusRejected
		d.Supersede = others
		return checked(d, details)
	}

	switch cmd.Level {
	case LevelFactory:
		if len(others) > 0 {
			return checked(d, details)
		}
		d.To = StatusPendingDirector
		d.Assign = &Assignment{Level: LevelDirector, Round: snap.round(LevelDirector) + 1}

	case LevelDirector:
		sel, err := NormalizeSelection(cmd.Selection, details)
		if err != nil {
			return nil, err
		}
		d.Resolve.Selection = &sel
		d.Supersede = others
		switch sel.FlowType {
		case FlowToManager:
			d.To = StatusPendingManager
			d.Assign = &Assignment{
				Level:       LevelManager,
				Round:       snap.round(LevelManager) + 1,
				ApproverIDs: sel.SelectedManagerIDs,
			}
		case FlowToCEO:
			d.To = StatusPendingCEO
			d.Assign = &Assignment{Level: LevelCEO, Round: snap.round(LevelCEO) + 1}
		case FlowComplete:
			d.To = StatusApproved
		}

	case LevelManager:
		if len(others) > 0 {
			return checked(d, details)
		}
		d.To = StatusPendingCEO
		d.Assign = &Assignment{Level: LevelCEO, Round: snap.round(LevelCEO) + 1}

	case LevelCEO:
		d.To = StatusApproved
		d.Supersede = others
	}

	return checked(d, details)
}

// Withdraw cancels a pending application. Who may withdraw is decided by the caller.
func Withdraw(snap Snapshot, atLevel Level) (*Decision, error) {
	details := internal.WorkflowErrorDetails{
		ApplicationID:  snap.ApplicationID,
		Level:          string(atLevel),
		ExpectedStatus: statusNames(PendingStatuses...),
		ActualStatus:   string(snap.Status),
	}
	level, ok := snap.Status.Level()
	if !ok {
		return nil, internal.NewInvalidStateError("only pending applications can be withdrawn", details)
	}
	if atLevel != "" && atLevel != level {
		details.ExpectedStatus = statusNames(atLevel.PendingStatus())
		return nil, internal.NewInvalidStateError(
			fmt.Sprintf("application is awaiting %s approval, not %s", level, atLevel), details)
	}

	d := &Decision{
		ApplicationID: snap.ApplicationID,
		Level:         level,
		From:          snap.Status,
		To:            StatusWithdrawn,
		Supersede:     openSlotsExcept(snap, ""),
	}
	return checked(d, details)
}

// NormalizeSelection validates the director's routing choice and fills in the flow type
// when only the legacy skipManager/selectedManagerIds fields were supplied.
func NormalizeSelection(sel Selection, details internal.WorkflowErrorDetails) (Selection, error) {
	ids := dedupe(sel.SelectedManagerIDs)

	if sel.SkipManager && len(ids) > 0 {
		return Selection{}, internal.NewInvalidTransitionError(
			"skipManager and selectedManagerIds cannot be combined", details)
	}

	flow := sel.FlowType
	if flow == "" {
		switch {
		case sel.SkipManager:
			flow = FlowToCEO
		case len(ids) > 0:
			flow = FlowToManager
		default:
			return Selection{}, internal.NewInvalidTransitionError("flowType is required for director approval", details)
		}
	}

	switch flow {
	case FlowToManager:
		if len(ids) == 0 {
			return Selection{}, internal.NewInvalidTransitionError(
				"flowType TO_MANAGER requires at least one selected manager", details)
		}
		return Selection{FlowType: FlowToManager, SelectedManagerIDs: ids}, nil
	case FlowToCEO:
		if len(ids) > 0 {
			return Selection{}, internal.NewInvalidTransitionError(
				"flowType TO_CEO cannot carry selected managers", details)
		}
		return Selection{FlowType: FlowToCEO, SkipManager: true}, nil
	case FlowComplete:
		if len(ids) > 0 || sel.SkipManager {
			return Selection{}, internal.NewInvalidTransitionError(
				"flowType COMPLETE cannot carry a manager selection", details)
		}
		return Selection{FlowType: FlowComplete}, nil
	}

	return Selection{}, internal.NewInvalidTransitionError(fmt.Sprintf("unknown flowType %q", flow), details)
}

func openSlotsExcept(snap Snapshot, recordID string) []string {
	var ids []string
	for _, s := range snap.CurrentSlots() {
		if s.Actionable() && s.RecordID != recordID {
			ids = append(ids, s.RecordID)
		}
	}
	return ids
}

func checked(d *Decision, details internal.WorkflowErrorDetails) (*Decision, error) {
	if d.Advanced() && !CanTransition(d.From, d.To) {
		return nil, internal.NewInvalidTransitionError(
			fmt.Sprintf("transition %s -> %s is not allowed", d.From, d.To), details)
	}
	return d, nil
}
