package repository

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-itsm-approvals/internal/platform/errors"
)

func newTestApproval(approverIDs ...int64) *Approval {
	a := &Approval{
		ID:             1,
		ApprovalNumber: "APP2501-0001",
		ApprovalType:   ApprovalTypeRequest,
		TargetID:       42,
		Status:         ApprovalStatusPending,
		CurrentStep:    1,
		TotalSteps:     len(approverIDs),
		RequesterID:    100,
		RequesterName:  "requester",
		RequestedAt:    time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC),
	}
	for i, id := range approverIDs {
		a.Lines = append(a.Lines, &ApprovalLine{
			ID:         int64(i + 1),
			ApprovalID: a.ID,
			StepOrder:  i + 1,
			ApproverID: id,
			Status:     LineStatusPending,
		})
	}
	return a
}

func strPtr(s string) *string { return &s }

func TestApproval_LinearApprove(t *testing.T) {
	a := newTestApproval(1, 2)
	now := time.Date(2025, 1, 11, 10, 0, 0, 0, time.UTC)

	require.NoError(t, a.Approve(1, strPtr("lgtm"), now))

	assert.Equal(t, ApprovalStatusPending, a.Status)
	assert.Equal(t, 2, a.CurrentStep)
	assert.Nil(t, a.CompletedAt)
	assert.Equal(t, LineStatusApproved, a.Lines[0].Status)
	assert.Equal(t, "lgtm", *a.Lines[0].Comment)
	assert.Equal(t, now, *a.Lines[0].ApprovedAt)
	assert.Equal(t, LineStatusPending, a.Lines[1].Status)

	later := now.Add(time.Hour)
	require.NoError(t, a.Approve(2, nil, later))

	assert.Equal(t, ApprovalStatusApproved, a.Status)
	assert.Equal(t, 2, a.CurrentStep)
	require.NotNil(t, a.CompletedAt)
	assert.Equal(t, later, *a.CompletedAt)
	assert.Equal(t, LineStatusApproved, a.Lines[1].Status)
}

func TestApproval_RejectShortCircuits(t *testing.T) {
	a := newTestApproval(1, 2, 3)
	now := time.Now()

	require.NoError(t, a.Approve(1, nil, now))
	require.NoError(t, a.Reject(2, strPtr("not like this"), now))

	assert.Equal(t, ApprovalStatusRejected, a.Status)
	require.NotNil(t, a.CompletedAt)
	assert.Equal(t, LineStatusApproved, a.Lines[0].Status)
	assert.Equal(t, LineStatusRejected, a.Lines[1].Status)
	// Steps after the rejecting one are never reached.
	assert.Equal(t, LineStatusPending, a.Lines[2].Status)
}

func TestApproval_CancelThenApproveFails(t *testing.T) {
	a := newTestApproval(1)
	now := time.Now()

	require.NoError(t, a.Cancel(now))
	assert.Equal(t, ApprovalStatusCancelled, a.Status)
	require.NotNil(t, a.CompletedAt)
	// Cancel leaves lines untouched.
	assert.Equal(t, LineStatusPending, a.Lines[0].Status)

	err := a.Approve(1, nil, now)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeAlreadyProcessed, errors.CodeOf(err))
}

func TestApproval_CancelTerminalFails(t *testing.T) {
	a := newTestApproval(1)
	now := time.Now()

	require.NoError(t, a.Approve(1, nil, now))
	err := a.Cancel(now)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeAlreadyProcessed, errors.CodeOf(err))
	assert.Equal(t, ApprovalStatusApproved, a.Status)
}

func TestApproval_WrongApproverLeavesStateUnchanged(t *testing.T) {
	a := newTestApproval(1, 2)
	now := time.Now()

	// User 2 acts while step 1 is active.
	err := a.Approve(2, strPtr("jumping the queue"), now)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeNotAuthorized, errors.CodeOf(err))

	assert.Equal(t, ApprovalStatusPending, a.Status)
	assert.Equal(t, 1, a.CurrentStep)
	assert.Nil(t, a.CompletedAt)
	for _, line := range a.Lines {
		assert.Equal(t, LineStatusPending, line.Status)
		assert.Nil(t, line.Comment)
		assert.Nil(t, line.ApprovedAt)
	}

	err = a.Reject(2, nil, now)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeNotAuthorized, errors.CodeOf(err))
	assert.Equal(t, ApprovalStatusPending, a.Status)
}

func TestApproval_SecondActionOnTerminalFails(t *testing.T) {
	a := newTestApproval(1)
	now := time.Now()

	require.NoError(t, a.Approve(1, nil, now))
	completedAt := *a.CompletedAt

	for _, act := range []func() error{
		func() error { return a.Approve(1, nil, now.Add(time.Minute)) },
		func() error { return a.Reject(1, nil, now.Add(time.Minute)) },
	} {
		err := act()
		require.Error(t, err)
		assert.Equal(t, errors.ErrCodeAlreadyProcessed, errors.CodeOf(err))
		assert.Equal(t, ApprovalStatusApproved, a.Status)
		assert.Equal(t, completedAt, *a.CompletedAt)
	}
}

func TestApproval_StepInvariantsHoldWhilePending(t *testing.T) {
	a := newTestApproval(1, 2, 3, 4)
	now := time.Now()

	for step := 1; step < a.TotalSteps; step++ {
		require.NoError(t, a.Approve(int64(step), nil, now))

		assert.Equal(t, ApprovalStatusPending, a.Status)
		assert.GreaterOrEqual(t, a.CurrentStep, 1)
		assert.LessOrEqual(t, a.CurrentStep, a.TotalSteps)

		current := 0
		for _, line := range a.Lines {
			switch {
			case line.StepOrder < a.CurrentStep:
				assert.Equal(t, LineStatusApproved, line.Status)
			case line.StepOrder == a.CurrentStep:
				current++
				assert.Equal(t, LineStatusPending, line.Status)
			default:
				assert.Equal(t, LineStatusPending, line.Status)
			}
		}
		assert.Equal(t, 1, current, "exactly one line at the current step")
	}
}

func TestApproval_TerminalImpliesCompletedAt(t *testing.T) {
	now := time.Now()

	approved := newTestApproval(1)
	require.NoError(t, approved.Approve(1, nil, now))

	rejected := newTestApproval(1)
	require.NoError(t, rejected.Reject(1, nil, now))

	cancelled := newTestApproval(1)
	require.NoError(t, cancelled.Cancel(now))

	for _, a := range []*Approval{approved, rejected, cancelled} {
		assert.True(t, a.Status.Terminal())
		assert.NotNil(t, a.CompletedAt)
	}

	pending := newTestApproval(1, 2)
	require.NoError(t, pending.Approve(1, nil, now))
	assert.False(t, pending.Status.Terminal())
	assert.Nil(t, pending.CompletedAt)
}

func TestApproval_CurrentLineMissingIsInvalidStep(t *testing.T) {
	a := newTestApproval(1, 2)
	a.Lines = a.Lines[:1]
	a.CurrentStep = 2

	_, err := a.CurrentLine()
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeInvalidStep, errors.CodeOf(err))

	err = a.Approve(2, nil, time.Now())
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeInvalidStep, errors.CodeOf(err))
}

func TestApprovalType_Valid(t *testing.T) {
	assert.True(t, ApprovalTypeRequest.Valid())
	assert.True(t, ApprovalTypeDataExtraction.Valid())
	assert.False(t, ApprovalType("INCIDENT").Valid())
	assert.False(t, ApprovalType("").Valid())
}

func TestApproval_NextPendingApprover(t *testing.T) {
	a := newTestApproval(7, 8)
	assert.Equal(t, int64(7), a.NextPendingApprover())

	require.NoError(t, a.Approve(7, nil, time.Now()))
	assert.Equal(t, int64(8), a.NextPendingApprover())

	require.NoError(t, a.Approve(8, nil, time.Now()))
	assert.Equal(t, int64(0), a.NextPendingApprover())
}
