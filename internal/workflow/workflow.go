// Package workflow holds the approval state machine. It performs no I/O: callers
// load a Snapshot, ask for a Decision and persist it themselves.
package workflow

import (
	"strings"
)

type Status string

const (
	StatusDraft           Status = "DRAFT"
	StatusPendingFactory  Status = "PENDING_FACTORY"
	StatusPendingDirector Status = "PENDING_DIRECTOR"
	StatusPendingManager  Status = "PENDING_MANAGER"
	StatusPendingCEO      Status = "PENDING_CEO"
	StatusApproved        Status = "APPROVED"
	StatusRejected        Status = "REJECTED"
	StatusWithdrawn       Status = "WITHDRAWN"
)

var AllStatuses = []Status{
	StatusDraft,
	StatusPendingFactory,
	StatusPendingDirector,
	StatusPendingManager,
	StatusPendingCEO,
	StatusApproved,
	StatusRejected,
	StatusWithdrawn,
}

var PendingStatuses = []Status{
	StatusPendingFactory,
	StatusPendingDirector,
	StatusPendingManager,
	StatusPendingCEO,
}

func (s Status) Valid() bool {
	for _, st := range AllStatuses {
		if st == s {
			return true
		}
	}
	return false
}

func (s Status) IsPending() bool {
	_, ok := s.Level()
	return ok
}

func (s Status) IsTerminal() bool {
	return s == StatusApproved || s == StatusRejected || s == StatusWithdrawn
}

// Level returns the approval level a pending status waits on.
func (s Status) Level() (Level, bool) {
	switch s {
	case StatusPendingFactory:
		return LevelFactory, true
	case StatusPendingDirector:
		return LevelDirector, true
	case StatusPendingManager:
		return LevelManager, true
	case StatusPendingCEO:
		return LevelCEO, true
	}
	return "", false
}

// transitions is the complete edge set of the status graph.
var transitions = map[Status][]Status{
	StatusDraft:           {StatusPendingFactory},
	StatusPendingFactory:  {StatusPendingDirector, StatusRejected, StatusWithdrawn},
	StatusPendingDirector: {StatusPendingManager, StatusPendingCEO, StatusApproved, StatusRejected, StatusWithdrawn},
	StatusPendingManager:  {StatusPendingCEO, StatusRejected, StatusWithdrawn},
	StatusPendingCEO:      {StatusApproved, StatusRejected, StatusWithdrawn},
}

func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type Level string

const (
	LevelFactory  Level = "FACTORY"
	LevelDirector Level = "DIRECTOR"
	LevelManager  Level = "MANAGER"
	LevelCEO      Level = "CEO"
)

var AllLevels = []Level{LevelFactory, LevelDirector, LevelManager, LevelCEO}

func ParseLevel(s string) (Level, bool) {
	l := Level(strings.ToUpper(strings.TrimSpace(s)))
	return l, l.Valid()
}

func (l Level) Valid() bool {
	switch l {
	case LevelFactory, LevelDirector, LevelManager, LevelCEO:
		return true
	}
	return false
}

func (l Level) PendingStatus() Status {
	switch l {
	case LevelFactory:
		return StatusPendingFactory
	case LevelDirector:
		return StatusPendingDirector
	case LevelManager:
		return StatusPendingManager
	case LevelCEO:
		return StatusPendingCEO
	}
	return ""
}

// Order is the position of the level in the chain, used to sort history.
func (l Level) Order() int {
	switch l {
	case LevelFactory:
		return 1
	case LevelDirector:
		return 2
	case LevelManager:
		return 3
	case LevelCEO:
		return 4
	}
	return 0
}

// Unanimous reports whether every assigned approver must approve before the level
// completes. Director and CEO levels complete on the first action.
func (l Level) Unanimous() bool {
	return l == LevelFactory || l == LevelManager
}

type Action string

const (
	ActionPending Action = "PENDING"
	ActionApprove Action = "APPROVE"
	ActionReject  Action = "REJECT"
)

func ParseAction(s string) (Action, bool) {
	a := Action(strings.ToUpper(strings.TrimSpace(s)))
	return a, a == ActionApprove || a == ActionReject
}

type FlowType string

const (
	FlowToManager FlowType = "TO_MANAGER"
	FlowToCEO     FlowType = "TO_CEO"
	FlowComplete  FlowType = "COMPLETE"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

func (p Priority) Label() string {
	switch p {
	case PriorityLow:
		return "Low"
	case PriorityMedium:
		return "Medium"
	case PriorityHigh:
		return "High"
	case PriorityUrgent:
		return "Urgent"
	}
	return "Unknown"
}

// Slot is an approval record as the engine sees it.
type Slot struct {
	RecordID   string
	Level      Level
	Round      int
	ApproverID string
	Action     Action
	Superseded bool
}

func (s Slot) Actionable() bool {
	return s.Action == ActionPending && !s.Superseded
}

// Snapshot is the application state a transition is computed against. It must be
// read under the same lock the resulting Decision is written with.
type Snapshot struct {
	ApplicationID     string
	Status            Status
	FactoryManagerIDs []string
	Slots             []Slot
}

func (s Snapshot) round(level Level) int {
	max := 0
	for _, slot := range s.Slots {
		if slot.Level == level && slot.Round > max {
			max = slot.Round
		}
	}
	return max
}

// CurrentSlots returns the non-superseded slots of the active level's latest round.
func (s Snapshot) CurrentSlots() []Slot {
	level, ok := s.Status.Level()
	if !ok {
		return nil
	}
	round := s.round(level)
	var out []Slot
	for _, slot := range s.Slots {
		if slot.Level == level && slot.Round == round && !slot.Superseded {
			out = append(out, slot)
		}
	}
	return out
}

// CurrentApprovers lists approvers still expected to act at the active level.
func (s Snapshot) CurrentApprovers() []string {
	var ids []string
	for _, slot := range s.CurrentSlots() {
		if slot.Actionable() {
			ids = append(ids, slot.ApproverID)
		}
	}
	return ids
}

type Selection struct {
	FlowType           FlowType `json:"flow_type,omitempty"`
	SelectedManagerIDs []string `json:"selected_manager_ids,omitempty"`
	SkipManager        bool     `json:"skip_manager"`
}

type Command struct {
	Level     Level
	ActorID   string
	Action    Action
	Comment   string
	Selection Selection
}

// Assignment asks the caller to create one PENDING record per approver at Level.
// A nil ApproverIDs means every active holder of the level's role.
type Assignment struct {
	Level       Level
	Round       int
	ApproverIDs []string
}

// Resolution is the single terminal edit applied to the acting approver's record.
type Resolution struct {
	RecordID  string
	Action    Action
	Comment   string
	Selection *Selection
}

type Decision struct {
	ApplicationID string
	Level         Level
	ActorID       string
	From          Status
	To            Status
	Resolve       *Resolution
	Supersede     []string
	Assign        *Assignment
}

// Advanced reports whether the decision moves the application to another status.
func (d *Decision) Advanced() bool {
	return d.From != d.To
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// Dedupe trims blanks and duplicates while keeping the first occurrence order.
func Dedupe(ids []string) []string {
	return dedupe(ids)
}

func statusNames(statuses ...Status) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
