package service

import (
	"context"
	"fmt"
	"time"

	"github.com/pesio-ai/be-itsm-approvals/internal/platform/errors"
	"github.com/pesio-ai/be-itsm-approvals/internal/platform/logger"
	"github.com/pesio-ai/be-itsm-approvals/internal/repository"
)

// ApprovalStore is the persistence surface the engine needs. Implemented by
// repository.ApprovalRepository; tests substitute an in-memory fake.
type ApprovalStore interface {
	Create(ctx context.Context, approval *repository.Approval) error
	GetByID(ctx context.Context, id int64) (*repository.Approval, error)
	GetByNumber(ctx context.Context, number string) (*repository.Approval, error)
	FindOpenByTarget(ctx context.Context, approvalType repository.ApprovalType, targetID int64) (*repository.Approval, error)
	Search(ctx context.Context, filter repository.SearchFilter) ([]*repository.Approval, int64, error)
	PendingForUser(ctx context.Context, userID int64) ([]*repository.Approval, error)
	RequestedBy(ctx context.Context, userID int64) ([]*repository.Approval, error)
	Transition(ctx context.Context, id int64, apply func(*repository.Approval) error) (*repository.Approval, error)
	SoftDelete(ctx context.Context, id int64) error
}

// DirectoryUser is the identity projection the engine needs from the user
// directory.
type DirectoryUser struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// UserDirectory resolves user identities. The real implementation calls the
// platform directory service over HTTP.
type UserDirectory interface {
	ResolveUser(ctx context.Context, id int64) (*DirectoryUser, error)
}

// Notifier publishes approval lifecycle events. Publishing is best-effort:
// implementations never return an error to the caller.
type Notifier interface {
	PublishApprovalEvent(ctx context.Context, eventType string, approval *repository.Approval, actorID int64, recipients []int64)
}

// Event types published on approval transitions.
const (
	EventApprovalRequested    = "approval_requested"
	EventApprovalStepApproved = "approval_step_approved"
	EventApprovalApproved     = "approval_approved"
	EventApprovalRejected     = "approval_rejected"
	EventApprovalCancelled    = "approval_cancelled"
)

// ApprovalService is the approval workflow engine: it opens approval chains,
// advances them on approve, terminates them on reject or cancel, and answers
// the query surface. Every operation takes the acting user explicitly; there
// is no ambient current-user state.
type ApprovalService struct {
	store     ApprovalStore
	directory UserDirectory
	numbering *NumberingService
	notifier  Notifier
	log       *logger.Logger
	now       func() time.Time
}

// NewApprovalService creates the engine. notifier may be nil when event
// publishing is disabled.
func NewApprovalService(
	store ApprovalStore,
	directory UserDirectory,
	numbering *NumberingService,
	notifier Notifier,
	log *logger.Logger,
) *ApprovalService {
	return &ApprovalService{
		store:     store,
		directory: directory,
		numbering: numbering,
		notifier:  notifier,
		log:       log,
		now:       time.Now,
	}
}

// OpenApprovalRequest carries everything needed to open an approval chain.
type OpenApprovalRequest struct {
	ApprovalType repository.ApprovalType
	TargetID     int64
	RequesterID  int64
	ApproverIDs  []int64
}

// Open allocates an approval number and creates the approval with one line
// per approver, in list order, all inside one transaction. It does not check
// for an existing open approval on the same target; callers that need
// at-most-one use FindOpenByTarget first.
func (s *ApprovalService) Open(ctx context.Context, req *OpenApprovalRequest) (*repository.Approval, error) {
	if !req.ApprovalType.Valid() {
		return nil, errors.InvalidInput("approval_type", fmt.Sprintf("unknown approval type %q", req.ApprovalType))
	}
	if req.TargetID <= 0 {
		return nil, errors.InvalidInput("target_id", "target id is required")
	}
	if len(req.ApproverIDs) == 0 {
		return nil, errors.InvalidInput("approver_ids", "at least one approver is required")
	}

	requester, err := s.directory.ResolveUser(ctx, req.RequesterID)
	if err != nil {
		return nil, err
	}

	number, err := s.numbering.NextApprovalNumber(ctx)
	if err != nil {
		return nil, err
	}

	approval := &repository.Approval{
		ApprovalNumber: number,
		ApprovalType:   req.ApprovalType,
		TargetID:       req.TargetID,
		Status:         repository.ApprovalStatusPending,
		CurrentStep:    1,
		TotalSteps:     len(req.ApproverIDs),
		RequesterID:    requester.ID,
		RequesterName:  requester.Name,
		RequestedAt:    s.now(),
	}

	for i, approverID := range req.ApproverIDs {
		approver, err := s.directory.ResolveUser(ctx, approverID)
		if err != nil {
			return nil, err
		}
		approval.Lines = append(approval.Lines, &repository.ApprovalLine{
			StepOrder:    i + 1,
			ApproverID:   approver.ID,
			ApproverName: approver.Name,
			Status:       repository.LineStatusPending,
		})
	}

	if err := s.store.Create(ctx, approval); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("approval_number", approval.ApprovalNumber).
		Str("approval_type", string(approval.ApprovalType)).
		Int64("target_id", approval.TargetID).
		Int("total_steps", approval.TotalSteps).
		Msg("approval opened")

	s.publish(ctx, EventApprovalRequested, approval, requester.ID, []int64{approval.Lines[0].ApproverID})

	return approval, nil
}

// FindOpenByTarget returns the pending approval for a target, or nil.
func (s *ApprovalService) FindOpenByTarget(ctx context.Context, approvalType repository.ApprovalType, targetID int64) (*repository.Approval, error) {
	if !approvalType.Valid() {
		return nil, errors.InvalidInput("approval_type", fmt.Sprintf("unknown approval type %q", approvalType))
	}
	return s.store.FindOpenByTarget(ctx, approvalType, targetID)
}

// Approve records the acting user's sign-off on the current step. The chain
// advances to the next approver, or resolves to APPROVED on the final step.
func (s *ApprovalService) Approve(ctx context.Context, id, actingUserID int64, comment *string) (*repository.Approval, error) {
	approval, err := s.store.Transition(ctx, id, func(a *repository.Approval) error {
		return a.Approve(actingUserID, comment, s.now())
	})
	if err != nil {
		return nil, err
	}

	if approval.Status == repository.ApprovalStatusApproved {
		s.log.Info().
			Str("approval_number", approval.ApprovalNumber).
			Msg("approval chain resolved")
		s.publish(ctx, EventApprovalApproved, approval, actingUserID, []int64{approval.RequesterID})
	} else {
		s.log.Info().
			Str("approval_number", approval.ApprovalNumber).
			Int("current_step", approval.CurrentStep).
			Msg("approval advanced to next step")
		if next := approval.NextPendingApprover(); next != 0 {
			s.publish(ctx, EventApprovalStepApproved, approval, actingUserID, []int64{next})
		}
	}

	return approval, nil
}

// Reject records a rejection at the current step and terminates the chain.
func (s *ApprovalService) Reject(ctx context.Context, id, actingUserID int64, comment *string) (*repository.Approval, error) {
	approval, err := s.store.Transition(ctx, id, func(a *repository.Approval) error {
		return a.Reject(actingUserID, comment, s.now())
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("approval_number", approval.ApprovalNumber).
		Int64("rejected_by", actingUserID).
		Msg("approval rejected")
	s.publish(ctx, EventApprovalRejected, approval, actingUserID, []int64{approval.RequesterID})

	return approval, nil
}

// Cancel terminates a pending chain. Lines keep their state.
func (s *ApprovalService) Cancel(ctx context.Context, id, actingUserID int64) (*repository.Approval, error) {
	approval, err := s.store.Transition(ctx, id, func(a *repository.Approval) error {
		return a.Cancel(s.now())
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("approval_number", approval.ApprovalNumber).
		Int64("cancelled_by", actingUserID).
		Msg("approval cancelled")
	s.publish(ctx, EventApprovalCancelled, approval, actingUserID, []int64{approval.RequesterID})

	return approval, nil
}

// Delete soft-deletes an approval; reads exclude it afterwards.
func (s *ApprovalService) Delete(ctx context.Context, id int64) error {
	return s.store.SoftDelete(ctx, id)
}

// GetByID returns the approval with its lines.
func (s *ApprovalService) GetByID(ctx context.Context, id int64) (*repository.Approval, error) {
	return s.store.GetByID(ctx, id)
}

// GetByNumber returns the approval with the given business number.
func (s *ApprovalService) GetByNumber(ctx context.Context, number string) (*repository.Approval, error) {
	return s.store.GetByNumber(ctx, number)
}

// Search filters approvals by type, status and requester with pagination.
func (s *ApprovalService) Search(ctx context.Context, filter repository.SearchFilter) ([]*repository.Approval, int64, error) {
	if filter.Type != nil && !filter.Type.Valid() {
		return nil, 0, errors.InvalidInput("approval_type", fmt.Sprintf("unknown approval type %q", *filter.Type))
	}
	if filter.Status != nil && !filter.Status.Valid() {
		return nil, 0, errors.InvalidInput("status", fmt.Sprintf("unknown status %q", *filter.Status))
	}
	return s.store.Search(ctx, filter)
}

// PendingForUser returns all pending approvals awaiting the given user.
func (s *ApprovalService) PendingForUser(ctx context.Context, userID int64) ([]*repository.Approval, error) {
	return s.store.PendingForUser(ctx, userID)
}

// RequestedBy returns all approvals the given user opened.
func (s *ApprovalService) RequestedBy(ctx context.Context, userID int64) ([]*repository.Approval, error) {
	return s.store.RequestedBy(ctx, userID)
}

// publish forwards an event to the notifier when one is configured.
func (s *ApprovalService) publish(ctx context.Context, eventType string, approval *repository.Approval, actorID int64, recipients []int64) {
	if s.notifier == nil {
		return
	}
	s.notifier.PublishApprovalEvent(ctx, eventType, approval, actorID, recipients)
}
