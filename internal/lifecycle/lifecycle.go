// Package lifecycle guards the status transitions of EDA results, training
// jobs and prediction jobs.
package lifecycle

import (
	"context"

	"github.com/looplab/fsm"

	"github.com/KaramelBytes/tabforge/internal/domain"
	"github.com/KaramelBytes/tabforge/internal/errs"
)

const (
	// Run is picked up by a worker.
	EventStart = "Start"

	// Run finished successfully.
	EventComplete = "Complete"

	// Run failed.
	EventFail = "Fail"

	// Run was cancelled.
	EventCancel = "Cancel"
)

// New returns a state machine positioned at from.
func New(from domain.RunStatus) *fsm.FSM {
	pending := string(domain.StatusPending)
	running := string(domain.StatusRunning)
	return fsm.NewFSM(
		string(from),
		fsm.Events{
			{Name: EventStart, Src: []string{pending}, Dst: running},
			{Name: EventComplete, Src: []string{running}, Dst: string(domain.StatusCompleted)},
			{Name: EventFail, Src: []string{pending, running}, Dst: string(domain.StatusError)},
			{Name: EventCancel, Src: []string{pending, running}, Dst: string(domain.StatusCancelled)},
		},
		fsm.Callbacks{},
	)
}

// Next fires event from status and returns the resulting status. An illegal
// transition returns status unchanged and an INTERNAL_ERROR. Transitions are
// applied even when ctx is already done, so failures and cancellations of a
// run can still be recorded.
func Next(ctx context.Context, status domain.RunStatus, event string) (domain.RunStatus, error) {
	m := New(status)
	if err := m.Event(context.WithoutCancel(ctx), event); err != nil {
		return status, errs.Wrap(errs.CodeUnknown, err, "illegal status transition "+event+" from "+string(status))
	}
	return domain.RunStatus(m.Current()), nil
}

// Can reports whether event is legal from status.
func Can(status domain.RunStatus, event string) bool {
	return New(status).Can(event)
}
