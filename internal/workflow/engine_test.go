package workflow_test

import (
	"fmt"
	"math/rand"

	"github.com/frahmantamala/approval-workflow/internal"
	"github.com/frahmantamala/approval-workflow/internal/workflow"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// simulator applies decisions to an in-memory snapshot the way the service does.
type simulator struct {
	snap      workflow.Snapshot
	seq       int
	directors []string
	ceos      []string
}

func newSimulator(factory ...string) *simulator {
	return &simulator{
		snap: workflow.Snapshot{
			ApplicationID:     "app-1",
			Status:            workflow.StatusDraft,
			FactoryManagerIDs: factory,
		},
		directors: []string{"D1"},
		ceos:      []string{"C1"},
	}
}

func (s *simulator) apply(d *workflow.Decision) {
	s.snap.Status = d.To
	for i := range s.snap.Slots {
		slot := &s.snap.Slots[i]
		if d.Resolve != nil && slot.RecordID == d.Resolve.RecordID {
			slot.Action = d.Resolve.Action
		}
		for _, id := range d.Supersede {
			if slot.RecordID == id {
				slot.Superseded = true
			}
		}
	}
	if d.Assign == nil {
		return
	}
	ids := d.Assign.ApproverIDs
	if ids == nil {
		switch d.Assign.Level {
		case workflow.LevelDirector:
			ids = s.directors
		case workflow.LevelCEO:
			ids = s.ceos
		}
	}
	for _, id := range ids {
		s.seq++
		s.snap.Slots = append(s.snap.Slots, workflow.Slot{
			RecordID:   fmt.Sprintf("r%d", s.seq),
			Level:      d.Assign.Level,
			Round:      d.Assign.Round,
			ApproverID: id,
			Action:     workflow.ActionPending,
		})
	}
}

func (s *simulator) submit() (*workflow.Decision, error) {
	d, err := workflow.Submit(s.snap)
	if err != nil {
		return nil, err
	}
	s.apply(d)
	return d, nil
}

func (s *simulator) act(level workflow.Level, actor string, action workflow.Action, sel workflow.Selection) (*workflow.Decision, error) {
	slot, err := workflow.Authorize(s.snap, level, actor)
	if err != nil {
		return nil, err
	}
	d, err := workflow.Transition(s.snap, *slot, workflow.Command{
		Level:     level,
		ActorID:   actor,
		Action:    action,
		Selection: sel,
	})
	if err != nil {
		return nil, err
	}
	s.apply(d)
	return d, nil
}

func (s *simulator) slotsAt(level workflow.Level) []workflow.Slot {
	var out []workflow.Slot
	for _, slot := range s.snap.Slots {
		if slot.Level == level {
			out = append(out, slot)
		}
	}
	return out
}

func workflowDetails(err error) internal.WorkflowErrorDetails {
	appErr, ok := internal.IsAppError(err)
	Expect(ok).To(BeTrue())
	details, ok := appErr.Details.(internal.WorkflowErrorDetails)
	Expect(ok).To(BeTrue())
	return details
}

var toManager = func(ids ...string) workflow.Selection {
	return workflow.Selection{FlowType: workflow.FlowToManager, SelectedManagerIDs: ids}
}

var _ = Describe("Status graph", func() {
	DescribeTable("CanTransition",
		func(from, to workflow.Status, allowed bool) {
			Expect(workflow.CanTransition(from, to)).To(Equal(allowed))
		},
		Entry("draft to factory", workflow.StatusDraft, workflow.StatusPendingFactory, true),
		Entry("factory to director", workflow.StatusPendingFactory, workflow.StatusPendingDirector, true),
		Entry("director to manager", workflow.StatusPendingDirector, workflow.StatusPendingManager, true),
		Entry("director to ceo", workflow.StatusPendingDirector, workflow.StatusPendingCEO, true),
		Entry("director to approved", workflow.StatusPendingDirector, workflow.StatusApproved, true),
		Entry("manager to ceo", workflow.StatusPendingManager, workflow.StatusPendingCEO, true),
		Entry("ceo to approved", workflow.StatusPendingCEO, workflow.StatusApproved, true),
		Entry("manager withdrawn", workflow.StatusPendingManager, workflow.StatusWithdrawn, true),
		Entry("factory rejected", workflow.StatusPendingFactory, workflow.StatusRejected, true),
		Entry("draft cannot be approved", workflow.StatusDraft, workflow.StatusApproved, false),
		Entry("manager cannot skip ceo", workflow.StatusPendingManager, workflow.StatusApproved, false),
		Entry("no going back to factory", workflow.StatusPendingDirector, workflow.StatusPendingFactory, false),
		Entry("approved is terminal", workflow.StatusApproved, workflow.StatusRejected, false),
		Entry("withdrawn is terminal", workflow.StatusWithdrawn, workflow.StatusPendingFactory, false),
	)

	It("maps pending statuses to levels", func() {
		for _, level := range workflow.AllLevels {
			st := level.PendingStatus()
			Expect(st.IsPending()).To(BeTrue())
			got, ok := st.Level()
			Expect(ok).To(BeTrue())
			Expect(got).To(Equal(level))
		}
		Expect(workflow.StatusDraft.IsPending()).To(BeFalse())
		Expect(workflow.StatusApproved.IsTerminal()).To(BeTrue())
		Expect(workflow.Status("PAUSED").Valid()).To(BeFalse())
	})

	It("parses levels and actions case-insensitively", func() {
		l, ok := workflow.ParseLevel("ceo")
		Expect(ok).To(BeTrue())
		Expect(l).To(Equal(workflow.LevelCEO))

		_, ok = workflow.ParseLevel("board")
		Expect(ok).To(BeFalse())

		a, ok := workflow.ParseAction("approve")
		Expect(ok).To(BeTrue())
		Expect(a).To(Equal(workflow.ActionApprove))

		_, ok = workflow.ParseAction("PENDING")
		Expect(ok).To(BeFalse())
	})
})

var _ = Describe("Engine", func() {
	Describe("Submit", func() {
		It("moves a draft to the factory stage with one slot per distinct manager", func() {
			sim := newSimulator("M1", "M2", "M1", " ")
			d, err := sim.submit()
			Expect(err).NotTo(HaveOccurred())
			Expect(d.From).To(Equal(workflow.StatusDraft))
			Expect(d.To).To(Equal(workflow.StatusPendingFactory))
			Expect(d.Assign.Level).To(Equal(workflow.LevelFactory))
			Expect(d.Assign.Round).To(Equal(1))
			Expect(d.Assign.ApproverIDs).To(Equal([]string{"M1", "M2"}))
			Expect(sim.snap.CurrentApprovers()).To(ConsistOf("M1", "M2"))
		})

		It("requires at least one factory manager", func() {
			sim := newSimulator()
			_, err := sim.submit()
			Expect(err).To(MatchError(internal.ErrInvalidState))
			Expect(sim.snap.Status).To(Equal(workflow.StatusDraft))
		})

		It("fails when submitted twice", func() {
			sim := newSimulator("M1")
			_, err := sim.submit()
			Expect(err).NotTo(HaveOccurred())

			_, err = sim.submit()
			Expect(err).To(MatchError(internal.ErrInvalidState))
			details := workflowDetails(err)
			Expect(details.ExpectedStatus).To(Equal([]string{"DRAFT"}))
			Expect(details.ActualStatus).To(Equal("PENDING_FACTORY"))
			Expect(sim.slotsAt(workflow.LevelFactory)).To(HaveLen(1))
		})
	})

	Describe("factory stage", func() {
		It("advances a single-manager application to the director", func() {
			sim := newSimulator("M1")
			_, err := sim.submit()
			Expect(err).NotTo(HaveOccurred())
			Expect(sim.snap.Status).To(Equal(workflow.StatusPendingFactory))

			d, err := sim.act(workflow.LevelFactory, "M1", workflow.ActionApprove, workflow.Selection{})
			Expect(err).NotTo(HaveOccurred())
			Expect(d.To).To(Equal(workflow.StatusPendingDirector))
			Expect(sim.slotsAt(workflow.LevelDirector)).To(HaveLen(1))
			Expect(sim.slotsAt(workflow.LevelDirector)[0].Action).To(Equal(workflow.ActionPending))
		})

		It("waits for every factory manager before advancing", func() {
			sim := newSimulator("M1", "M2")
			_, _ = sim.submit()

			d, err := sim.act(workflow.LevelFactory, "M1", workflow.ActionApprove, workflow.Selection{})
			Expect(err).NotTo(HaveOccurred())
			Expect(d.Advanced()).To(BeFalse())
			Expect(d.Assign).To(BeNil())
			Expect(sim.snap.CurrentApprovers()).To(Equal([]string{"M2"}))

			d, err = sim.act(workflow.LevelFactory, "M2", workflow.ActionApprove, workflow.Selection{})
			Expect(err).NotTo(HaveOccurred())
			Expect(d.To).To(Equal(workflow.StatusPendingDirector))
		})

		It("rejects on the first REJECT and supersedes the open slots", func() {
			sim := newSimulator("M1", "M2", "M3")
			_, _ = sim.submit()

			_, err := sim.act(workflow.LevelFactory, "M1", workflow.ActionApprove, workflow.Selection{})
			Expect(err).NotTo(HaveOccurred())

			d, err := sim.act(workflow.LevelFactory, "M2", workflow.ActionReject, workflow.Selection{})
			Expect(err).NotTo(HaveOccurred())
			Expect(d.To).To(Equal(workflow.StatusRejected))
			Expect(d.Supersede).To(HaveLen(1))

			_, err = sim.act(workflow.LevelFactory, "M3", workflow.ActionApprove, workflow.Selection{})
			Expect(err).To(MatchError(internal.ErrInvalidState))
		})

		It("refuses a second action by the same approver", func() {
			sim := newSimulator("M1", "M2")
			_, _ = sim.submit()
			_, err := sim.act(workflow.LevelFactory, "M1", workflow.ActionApprove, workflow.Selection{})
			Expect(err).NotTo(HaveOccurred())

			_, err = sim.act(workflow.LevelFactory, "M1", workflow.ActionApprove, workflow.Selection{})
			Expect(err).To(MatchError(internal.ErrAlreadyActed))
			Expect(sim.slotsAt(workflow.LevelFactory)).To(HaveLen(2))
		})

		It("refuses users who hold no slot and lists who is required", func() {
			sim := newSimulator("M1", "M2")
			_, _ = sim.submit()

			_, err := sim.act(workflow.LevelFactory, "intruder", workflow.ActionApprove, workflow.Selection{})
			Expect(err).To(MatchError(internal.ErrNotAuthorized))
			details := workflowDetails(err)
			Expect(details.Level).To(Equal("FACTORY"))
			Expect(details.RequiredApprovers).To(ConsistOf("M1", "M2"))
		})

		It("refuses acting at a level the application is not waiting on", func() {
			sim := newSimulator("M1")
			_, _ = sim.submit()

			_, err := sim.act(workflow.LevelCEO, "C1", workflow.ActionApprove, workflow.Selection{})
			Expect(err).To(MatchError(internal.ErrInvalidState))
			Expect(workflowDetails(err).ExpectedStatus).To(Equal([]string{"PENDING_CEO"}))
		})

		It("rejects unsupported actions", func() {
			sim := newSimulator("M1")
			_, _ = sim.submit()
			slot, err := workflow.Authorize(sim.snap, workflow.LevelFactory, "M1")
			Expect(err).NotTo(HaveOccurred())

			_, err = workflow.Transition(sim.snap, *slot, workflow.Command{
				Level: workflow.LevelFactory, ActorID: "M1", Action: workflow.ActionPending,
			})
			Expect(err).To(MatchError(internal.ErrInvalidTransition))
		})
	})

	Describe("director stage", func() {
		var sim *simulator

		BeforeEach(func() {
			sim = newSimulator("M1")
			_, err := sim.submit()
			Expect(err).NotTo(HaveOccurred())
			_, err = sim.act(workflow.LevelFactory, "M1", workflow.ActionApprove, workflow.Selection{})
			Expect(err).NotTo(HaveOccurred())
		})

		It("refuses TO_MANAGER without managers", func() {
			_, err := sim.act(workflow.LevelDirector, "D1", workflow.ActionApprove, toManager())
			Expect(err).To(MatchError(internal.ErrInvalidTransition))
			Expect(sim.snap.Status).To(Equal(workflow.StatusPendingDirector))
			Expect(sim.snap.CurrentApprovers()).To(Equal([]string{"D1"}))
		})

		It("refuses skipManager combined with selected managers", func() {
			_, err := sim.act(workflow.LevelDirector, "D1", workflow.ActionApprove, workflow.Selection{
				SelectedManagerIDs: []string{"G1"},
				SkipManager:        true,
			})
			Expect(err).To(MatchError(internal.ErrInvalidTransition))
		})

		It("refuses COMPLETE carrying a selection", func() {
			_, err := sim.act(workflow.LevelDirector, "D1", workflow.ActionApprove, workflow.Selection{
				FlowType:           workflow.FlowComplete,
				SelectedManagerIDs: []string{"G1"},
			})
			Expect(err).To(MatchError(internal.ErrInvalidTransition))
		})

		It("routes to the selected managers and snapshots the selection", func() {
			d, err := sim.act(workflow.LevelDirector, "D1", workflow.ActionApprove, toManager("G1", "G2", "G1"))
			Expect(err).NotTo(HaveOccurred())
			Expect(d.To).To(Equal(workflow.StatusPendingManager))
			Expect(d.Assign.ApproverIDs).To(Equal([]string{"G1", "G2"}))
			Expect(d.Resolve.Selection).NotTo(BeNil())
			Expect(d.Resolve.Selection.SelectedManagerIDs).To(Equal([]string{"G1", "G2"}))
			Expect(d.Resolve.Selection.SkipManager).To(BeFalse())
		})

		It("routes straight to the CEO with TO_CEO", func() {
			d, err := sim.act(workflow.LevelDirector, "D1", workflow.ActionApprove, workflow.Selection{FlowType: workflow.FlowToCEO})
			Expect(err).NotTo(HaveOccurred())
			Expect(d.To).To(Equal(workflow.StatusPendingCEO))
			Expect(d.Assign.Level).To(Equal(workflow.LevelCEO))
			Expect(d.Assign.ApproverIDs).To(BeNil())
			Expect(d.Resolve.Selection.SkipManager).To(BeTrue())
		})

		It("derives the flow from skipManager when flowType is absent", func() {
			d, err := sim.act(workflow.LevelDirector, "D1", workflow.ActionApprove, workflow.Selection{SkipManager: true})
			Expect(err).NotTo(HaveOccurred())
			Expect(d.To).To(Equal(workflow.StatusPendingCEO))
			Expect(d.Resolve.Selection.FlowType).To(Equal(workflow.FlowToCEO))
		})

		It("completes the application with COMPLETE", func() {
			d, err := sim.act(workflow.LevelDirector, "D1", workflow.ActionApprove, workflow.Selection{FlowType: workflow.FlowComplete})
			Expect(err).NotTo(HaveOccurred())
			Expect(d.To).To(Equal(workflow.StatusApproved))
			Expect(d.Assign).To(BeNil())
			Expect(sim.slotsAt(workflow.LevelManager)).To(BeEmpty())
			Expect(sim.slotsAt(workflow.LevelCEO)).To(BeEmpty())
		})

		It("rejects without needing a selection", func() {
			d, err := sim.act(workflow.LevelDirector, "D1", workflow.ActionReject, workflow.Selection{})
			Expect(err).NotTo(HaveOccurred())
			Expect(d.To).To(Equal(workflow.StatusRejected))
			Expect(d.Resolve.Selection).To(BeNil())
		})
	})

	Describe("any-one-of levels", func() {
		It("lets the first director decide and supersedes the rest", func() {
			sim := newSimulator("M1")
			sim.directors = []string{"D1", "D2"}
			_, _ = sim.submit()
			_, _ = sim.act(workflow.LevelFactory, "M1", workflow.ActionApprove, workflow.Selection{})
			Expect(sim.snap.CurrentApprovers()).To(ConsistOf("D1", "D2"))

			d, err := sim.act(workflow.LevelDirector, "D2", workflow.ActionApprove, workflow.Selection{FlowType: workflow.FlowToCEO})
			Expect(err).NotTo(HaveOccurred())
			Expect(d.Supersede).To(HaveLen(1))

			_, err = sim.act(workflow.LevelDirector, "D1", workflow.ActionApprove, workflow.Selection{FlowType: workflow.FlowComplete})
			Expect(err).To(MatchError(internal.ErrInvalidState))
		})
	})

	Describe("manager and CEO stages", func() {
		var sim *simulator

		BeforeEach(func() {
			sim = newSimulator("M1")
			_, _ = sim.submit()
			_, _ = sim.act(workflow.LevelFactory, "M1", workflow.ActionApprove, workflow.Selection{})
			_, err := sim.act(workflow.LevelDirector, "D1", workflow.ActionApprove, toManager("G1", "G2"))
			Expect(err).NotTo(HaveOccurred())
		})

		It("requires every selected manager before the CEO", func() {
			d, err := sim.act(workflow.LevelManager, "G2", workflow.ActionApprove, workflow.Selection{})
			Expect(err).NotTo(HaveOccurred())
			Expect(d.Advanced()).To(BeFalse())

			d, err = sim.act(workflow.LevelManager, "G1", workflow.ActionApprove, workflow.Selection{})
			Expect(err).NotTo(HaveOccurred())
			Expect(d.To).To(Equal(workflow.StatusPendingCEO))

			d, err = sim.act(workflow.LevelCEO, "C1", workflow.ActionApprove, workflow.Selection{})
			Expect(err).NotTo(HaveOccurred())
			Expect(d.To).To(Equal(workflow.StatusApproved))
		})

		It("rejects when one manager rejects", func() {
			d, err := sim.act(workflow.LevelManager, "G1", workflow.ActionReject, workflow.Selection{})
			Expect(err).NotTo(HaveOccurred())
			Expect(d.To).To(Equal(workflow.StatusRejected))
		})

		It("rejects at the CEO", func() {
			_, _ = sim.act(workflow.LevelManager, "G1", workflow.ActionApprove, workflow.Selection{})
			_, _ = sim.act(workflow.LevelManager, "G2", workflow.ActionApprove, workflow.Selection{})
			d, err := sim.act(workflow.LevelCEO, "C1", workflow.ActionReject, workflow.Selection{})
			Expect(err).NotTo(HaveOccurred())
			Expect(d.To).To(Equal(workflow.StatusRejected))
		})
	})

	Describe("Withdraw", func() {
		It("withdraws during the manager stage and blocks later approvals", func() {
			sim := newSimulator("M1")
			_, _ = sim.submit()
			_, _ = sim.act(workflow.LevelFactory, "M1", workflow.ActionApprove, workflow.Selection{})
			_, _ = sim.act(workflow.LevelDirector, "D1", workflow.ActionApprove, toManager("G1"))
			Expect(sim.snap.Status).To(Equal(workflow.StatusPendingManager))

			d, err := workflow.Withdraw(sim.snap, "")
			Expect(err).NotTo(HaveOccurred())
			Expect(d.To).To(Equal(workflow.StatusWithdrawn))
			Expect(d.Supersede).To(HaveLen(1))
			sim.apply(d)

			_, err = sim.act(workflow.LevelManager, "G1", workflow.ActionApprove, workflow.Selection{})
			Expect(err).To(MatchError(internal.ErrInvalidState))
			Expect(sim.slotsAt(workflow.LevelManager)[0].Action).To(Equal(workflow.ActionPending))
			Expect(sim.slotsAt(workflow.LevelManager)[0].Superseded).To(BeTrue())
		})

		It("refuses to withdraw a draft", func() {
			sim := newSimulator("M1")
			_, err := workflow.Withdraw(sim.snap, "")
			Expect(err).To(MatchError(internal.ErrInvalidState))
		})

		It("refuses a stale level", func() {
			sim := newSimulator("M1")
			_, _ = sim.submit()
			_, err := workflow.Withdraw(sim.snap, workflow.LevelDirector)
			Expect(err).To(MatchError(internal.ErrInvalidState))
		})
	})

	Describe("random walks", func() {
		It("never leaves the status graph", func() {
			rng := rand.New(rand.NewSource(42))
			actors := []string{"M1", "M2", "D1", "G1", "G2", "C1", "X"}
			selections := []workflow.Selection{
				{},
				{FlowType: workflow.FlowComplete},
				{FlowType: workflow.FlowToCEO},
				toManager(),
				toManager("G1"),
				toManager("G1", "G2"),
				{SkipManager: true, SelectedManagerIDs: []string{"G1"}},
			}

			for i := 0; i < 300; i++ {
				sim := newSimulator("M1", "M2")
				if rng.Intn(10) > 0 {
					_, err := sim.submit()
					Expect(err).NotTo(HaveOccurred())
				}

				for step := 0; step < 12; step++ {
					before := sim.snap.Status
					var d *workflow.Decision
					var err error
					if rng.Intn(15) == 0 {
						d, err = workflow.Withdraw(sim.snap, "")
						if err == nil {
							sim.apply(d)
						}
					} else {
						level := workflow.AllLevels[rng.Intn(len(workflow.AllLevels))]
						action := workflow.ActionApprove
						if rng.Intn(5) == 0 {
							action = workflow.ActionReject
						}
						d, err = sim.act(level, actors[rng.Intn(len(actors))], action, selections[rng.Intn(len(selections))])
					}

					Expect(sim.snap.Status.Valid()).To(BeTrue())
					if err != nil {
						Expect(sim.snap.Status).To(Equal(before))
						continue
					}
					if d.Advanced() {
						Expect(workflow.CanTransition(before, d.To)).To(BeTrue(),
							"illegal edge %s -> %s", before, d.To)
					}
					if before.IsTerminal() {
						Fail(fmt.Sprintf("terminal status %s accepted a change", before))
					}
				}
			}
		})
	})
})
