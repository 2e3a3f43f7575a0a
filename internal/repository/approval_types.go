package repository

import (
	"time"

	"github.com/pesio-ai/be-itsm-approvals/internal/platform/errors"
)

// ── Domain types for the approval workflow ────────────────────────────────────

// ApprovalType identifies which external domain a TargetID refers to.
type ApprovalType string

const (
	ApprovalTypeRequest        ApprovalType = "REQUEST"
	ApprovalTypeSpecification  ApprovalType = "SPECIFICATION"
	ApprovalTypeRelease        ApprovalType = "RELEASE"
	ApprovalTypeDataExtraction ApprovalType = "DATA_EXTRACTION"
)

// Valid reports whether t is a known approval type.
func (t ApprovalType) Valid() bool {
	switch t {
	case ApprovalTypeRequest, ApprovalTypeSpecification, ApprovalTypeRelease, ApprovalTypeDataExtraction:
		return true
	}
	return false
}

// ApprovalStatus is the aggregate status.
type ApprovalStatus string

const (
	ApprovalStatusPending   ApprovalStatus = "PENDING"
	ApprovalStatusApproved  ApprovalStatus = "APPROVED"
	ApprovalStatusRejected  ApprovalStatus = "REJECTED"
	ApprovalStatusCancelled ApprovalStatus = "CANCELLED"
)

// Terminal reports whether no further transition is possible.
func (s ApprovalStatus) Terminal() bool {
	return s == ApprovalStatusApproved || s == ApprovalStatusRejected || s == ApprovalStatusCancelled
}

// Valid reports whether s is a known aggregate status.
func (s ApprovalStatus) Valid() bool {
	return s == ApprovalStatusPending || s.Terminal()
}

// ApprovalLineStatus is the per-step outcome.
type ApprovalLineStatus string

const (
	LineStatusPending  ApprovalLineStatus = "PENDING"
	LineStatusApproved ApprovalLineStatus = "APPROVED"
	LineStatusRejected ApprovalLineStatus = "REJECTED"
)

// Approval is the aggregate tracking a sequential multi-step sign-off for one
// target entity. Lines are owned by the aggregate: created with it, mutated
// in place, deleted with it.
type Approval struct {
	ID             int64
	ApprovalNumber string
	ApprovalType   ApprovalType
	TargetID       int64
	Status         ApprovalStatus
	CurrentStep    int
	TotalSteps     int
	RequesterID    int64
	RequesterName  string
	RequestedAt    time.Time
	CompletedAt    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
	Lines          []*ApprovalLine
}

// ApprovalLine is one step in the approval chain: an ordered position, an
// assigned approver, a per-step outcome.
type ApprovalLine struct {
	ID           int64
	ApprovalID   int64
	StepOrder    int
	ApproverID   int64
	ApproverName string
	Status       ApprovalLineStatus
	Comment      *string
	ApprovedAt   *time.Time
	CreatedAt    time.Time
}

// CurrentLine returns the line whose step order equals the current step.
// A miss means corrupt data, reported as INVALID_STEP.
func (a *Approval) CurrentLine() (*ApprovalLine, error) {
	for _, line := range a.Lines {
		if line.StepOrder == a.CurrentStep {
			return line, nil
		}
	}
	return nil, errors.Newf(errors.ErrCodeInvalidStep,
		"approval %s has no line for step %d", a.ApprovalNumber, a.CurrentStep)
}

// Approve records the current approver's sign-off. On a non-final step the
// cursor advances; on the final step the aggregate resolves to APPROVED.
// Either the whole effect applies or nothing changes.
func (a *Approval) Approve(approverID int64, comment *string, now time.Time) error {
	line, err := a.actionableLine(approverID)
	if err != nil {
		return err
	}

	line.Status = LineStatusApproved
	line.Comment = comment
	line.ApprovedAt = &now

	if a.CurrentStep < a.TotalSteps {
		a.CurrentStep++
	} else {
		a.Status = ApprovalStatusApproved
		a.CompletedAt = &now
	}
	return nil
}

// Reject records a rejection at the current step and terminates the whole
// chain. Lines after the rejecting one stay PENDING forever.
func (a *Approval) Reject(approverID int64, comment *string, now time.Time) error {
	line, err := a.actionableLine(approverID)
	if err != nil {
		return err
	}

	line.Status = LineStatusRejected
	line.Comment = comment
	line.ApprovedAt = &now

	a.Status = ApprovalStatusRejected
	a.CompletedAt = &now
	return nil
}

// Cancel terminates a pending chain without touching any line.
func (a *Approval) Cancel(now time.Time) error {
	if a.Status.Terminal() {
		return errors.Newf(errors.ErrCodeAlreadyProcessed,
			"approval %s is already %s", a.ApprovalNumber, a.Status)
	}
	a.Status = ApprovalStatusCancelled
	a.CompletedAt = &now
	return nil
}

// NextPendingApprover returns the approver id of the line at the current
// step while the chain is still PENDING, or 0 when the chain is resolved.
func (a *Approval) NextPendingApprover() int64 {
	if a.Status != ApprovalStatusPending {
		return 0
	}
	if line, err := a.CurrentLine(); err == nil {
		return line.ApproverID
	}
	return 0
}

// actionableLine verifies the aggregate is still PENDING and that approverID
// owns the currently active step.
func (a *Approval) actionableLine(approverID int64) (*ApprovalLine, error) {
	if a.Status.Terminal() {
		return nil, errors.Newf(errors.ErrCodeAlreadyProcessed,
			"approval %s is already %s", a.ApprovalNumber, a.Status)
	}

	line, err := a.CurrentLine()
	if err != nil {
		return nil, err
	}
	if line.ApproverID != approverID {
		return nil, errors.New(errors.ErrCodeNotAuthorized,
			"user is not the approver of the current step")
	}
	return line, nil
}
