package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-itsm-approvals/internal/platform/database"
	"github.com/pesio-ai/be-itsm-approvals/internal/platform/errors"
)

// ApprovalRepository persists the Approval aggregate and its lines.
// Aggregate and lines are always written together in a single transaction;
// soft-deleted rows are excluded from every read.
type ApprovalRepository struct {
	db *database.DB
}

// NewApprovalRepository creates a new ApprovalRepository.
func NewApprovalRepository(db *database.DB) *ApprovalRepository {
	return &ApprovalRepository{db: db}
}

const approvalColumns = `
	id, approval_number, approval_type, target_id, status,
	current_step, total_steps,
	requester_id, requester_name,
	requested_at, completed_at,
	created_at, updated_at`

// SearchFilter narrows a Search call. Nil fields are not applied.
type SearchFilter struct {
	Type        *ApprovalType
	Status      *ApprovalStatus
	RequesterID *int64
	Limit       int
	Offset      int
}

// Create inserts an approval and its lines in one transaction. A collision on
// the unique approval number is reported as CONFLICT so the caller can re-run
// number allocation and insert as a unit.
func (r *ApprovalRepository) Create(ctx context.Context, approval *Approval) error {
	err := r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		query := `
			INSERT INTO approvals
			    (approval_number, approval_type, target_id, status,
			     current_step, total_steps,
			     requester_id, requester_name, requested_at)
			VALUES ($1, $2::approval_type, $3, $4::approval_status,
			        $5, $6, $7, $8, $9)
			RETURNING id, created_at, updated_at
		`

		err := tx.QueryRow(ctx, query,
			approval.ApprovalNumber,
			approval.ApprovalType,
			approval.TargetID,
			approval.Status,
			approval.CurrentStep,
			approval.TotalSteps,
			approval.RequesterID,
			approval.RequesterName,
			approval.RequestedAt,
		).Scan(&approval.ID, &approval.CreatedAt, &approval.UpdatedAt)
		if err != nil {
			return err
		}

		lineQuery := `
			INSERT INTO approval_lines
			    (approval_id, step_order, approver_id, approver_name, status)
			VALUES ($1, $2, $3, $4, $5::approval_line_status)
			RETURNING id, created_at
		`

		for _, line := range approval.Lines {
			line.ApprovalID = approval.ID

			err := tx.QueryRow(ctx, lineQuery,
				line.ApprovalID,
				line.StepOrder,
				line.ApproverID,
				line.ApproverName,
				line.Status,
			).Scan(&line.ID, &line.CreatedAt)
			if err != nil {
				return err
			}
		}

		return nil
	})

	if err != nil {
		if database.IsUniqueViolation(err) {
			return errors.Wrap(err, errors.ErrCodeConflict,
				"approval number already exists, retry the operation")
		}
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create approval")
	}
	return nil
}

// GetByID retrieves an approval with its lines.
func (r *ApprovalRepository) GetByID(ctx context.Context, id int64) (*Approval, error) {
	query := `SELECT ` + approvalColumns + `
		FROM approvals
		WHERE id = $1 AND deleted_at IS NULL`

	approval, err := r.scanApproval(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("approval", fmt.Sprintf("%d", id))
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get approval")
	}

	if err := r.loadLines(ctx, []*Approval{approval}); err != nil {
		return nil, err
	}
	return approval, nil
}

// GetByNumber retrieves an approval by its business number.
func (r *ApprovalRepository) GetByNumber(ctx context.Context, number string) (*Approval, error) {
	query := `SELECT ` + approvalColumns + `
		FROM approvals
		WHERE approval_number = $1 AND deleted_at IS NULL`

	approval, err := r.scanApproval(r.db.QueryRow(ctx, query, number))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("approval", number)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get approval by number")
	}

	if err := r.loadLines(ctx, []*Approval{approval}); err != nil {
		return nil, err
	}
	return approval, nil
}

// FindOpenByTarget returns the pending approval attached to a target, or nil
// when none exists. Callers that require at-most-one open approval per target
// check here before opening a new one.
func (r *ApprovalRepository) FindOpenByTarget(ctx context.Context, approvalType ApprovalType, targetID int64) (*Approval, error) {
	query := `SELECT ` + approvalColumns + `
		FROM approvals
		WHERE approval_type = $1::approval_type
		  AND target_id = $2
		  AND status = 'PENDING'
		  AND deleted_at IS NULL
		ORDER BY requested_at DESC
		LIMIT 1`

	approval, err := r.scanApproval(r.db.QueryRow(ctx, query, approvalType, targetID))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to find approval by target")
	}

	if err := r.loadLines(ctx, []*Approval{approval}); err != nil {
		return nil, err
	}
	return approval, nil
}

// Search returns approvals matching the filter, newest first, plus the total
// match count for pagination.
func (r *ApprovalRepository) Search(ctx context.Context, filter SearchFilter) ([]*Approval, int64, error) {
	where := " WHERE deleted_at IS NULL"
	args := []any{}
	argCount := 1

	if filter.Type != nil {
		where += fmt.Sprintf(" AND approval_type = $%d::approval_type", argCount)
		args = append(args, *filter.Type)
		argCount++
	}
	if filter.Status != nil {
		where += fmt.Sprintf(" AND status = $%d::approval_status", argCount)
		args = append(args, *filter.Status)
		argCount++
	}
	if filter.RequesterID != nil {
		where += fmt.Sprintf(" AND requester_id = $%d", argCount)
		args = append(args, *filter.RequesterID)
		argCount++
	}

	var total int64
	countQuery := `SELECT COUNT(*) FROM approvals` + where
	if err := r.db.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, errors.ErrCodeInternal, "failed to count approvals")
	}

	query := `SELECT ` + approvalColumns + ` FROM approvals` + where +
		fmt.Sprintf(" ORDER BY requested_at DESC LIMIT $%d OFFSET $%d", argCount, argCount+1)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, errors.Wrap(err, errors.ErrCodeInternal, "failed to search approvals")
	}
	defer rows.Close()

	approvals, err := r.scanRows(rows)
	if err != nil {
		return nil, 0, err
	}

	if err := r.loadLines(ctx, approvals); err != nil {
		return nil, 0, err
	}
	return approvals, total, nil
}

// PendingForUser returns all pending approvals whose currently active step is
// assigned to the given user.
func (r *ApprovalRepository) PendingForUser(ctx context.Context, userID int64) ([]*Approval, error) {
	query := `
		SELECT DISTINCT a.id, a.approval_number, a.approval_type, a.target_id, a.status,
		       a.current_step, a.total_steps,
		       a.requester_id, a.requester_name,
		       a.requested_at, a.completed_at,
		       a.created_at, a.updated_at
		FROM approvals a
		JOIN approval_lines al ON al.approval_id = a.id
		WHERE al.approver_id = $1
		  AND a.status = 'PENDING'
		  AND al.step_order = a.current_step
		  AND a.deleted_at IS NULL
		ORDER BY a.requested_at ASC
	`

	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get pending approvals")
	}
	defer rows.Close()

	approvals, err := r.scanRows(rows)
	if err != nil {
		return nil, err
	}

	if err := r.loadLines(ctx, approvals); err != nil {
		return nil, err
	}
	return approvals, nil
}

// RequestedBy returns all approvals created by the given user, newest first.
func (r *ApprovalRepository) RequestedBy(ctx context.Context, userID int64) ([]*Approval, error) {
	query := `SELECT ` + approvalColumns + `
		FROM approvals
		WHERE requester_id = $1 AND deleted_at IS NULL
		ORDER BY requested_at DESC`

	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get requested approvals")
	}
	defer rows.Close()

	approvals, err := r.scanRows(rows)
	if err != nil {
		return nil, err
	}

	if err := r.loadLines(ctx, approvals); err != nil {
		return nil, err
	}
	return approvals, nil
}

// Transition loads an approval with a row lock, applies a domain mutation and
// persists the result, all in one transaction. Concurrent transitions on the
// same aggregate serialize on the lock; the loser observes the updated state
// and fails its own precondition check inside apply.
func (r *ApprovalRepository) Transition(ctx context.Context, id int64, apply func(*Approval) error) (*Approval, error) {
	var approval *Approval

	err := r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		query := `SELECT ` + approvalColumns + `
			FROM approvals
			WHERE id = $1 AND deleted_at IS NULL
			FOR UPDATE`

		a, err := r.scanApproval(tx.QueryRow(ctx, query, id))
		if err == pgx.ErrNoRows {
			return errors.NotFound("approval", fmt.Sprintf("%d", id))
		}
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to lock approval")
		}

		a.Lines, err = r.linesFor(ctx, tx, a.ID)
		if err != nil {
			return err
		}

		stepBefore := a.CurrentStep
		if err := apply(a); err != nil {
			return err
		}

		updateQuery := `
			UPDATE approvals
			SET status       = $2::approval_status,
			    current_step = $3,
			    completed_at = $4,
			    updated_at   = NOW()
			WHERE id = $1
			RETURNING updated_at
		`
		if err := tx.QueryRow(ctx, updateQuery, a.ID, a.Status, a.CurrentStep, a.CompletedAt).Scan(&a.UpdatedAt); err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to update approval")
		}

		// Only the line at the pre-transition cursor can have changed.
		for _, line := range a.Lines {
			if line.StepOrder != stepBefore || line.Status == LineStatusPending {
				continue
			}
			lineQuery := `
				UPDATE approval_lines
				SET status      = $2::approval_line_status,
				    comment     = $3,
				    approved_at = $4
				WHERE id = $1
			`
			if _, err := tx.Exec(ctx, lineQuery, line.ID, line.Status, line.Comment, line.ApprovedAt); err != nil {
				return errors.Wrap(err, errors.ErrCodeInternal, "failed to update approval line")
			}
		}

		approval = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return approval, nil
}

// SoftDelete marks an approval deleted. Its lines go with it: every read
// resolves lines through the aggregate.
func (r *ApprovalRepository) SoftDelete(ctx context.Context, id int64) error {
	query := `
		UPDATE approvals
		SET deleted_at = NOW(),
		    updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL
		RETURNING id
	`

	var returnedID int64
	err := r.db.QueryRow(ctx, query, id).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return errors.NotFound("approval", fmt.Sprintf("%d", id))
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to delete approval")
	}
	return nil
}

// CountByYearMonth counts non-deleted approvals requested in a calendar
// month. The numbering generator derives the next sequence from this count,
// so cancelled and rejected approvals still count and numbers are never
// reused.
func (r *ApprovalRepository) CountByYearMonth(ctx context.Context, year, month int) (int64, error) {
	query := `
		SELECT COUNT(*)
		FROM approvals
		WHERE EXTRACT(YEAR FROM requested_at)  = $1
		  AND EXTRACT(MONTH FROM requested_at) = $2
		  AND deleted_at IS NULL
	`

	var count int64
	if err := r.db.QueryRow(ctx, query, year, month).Scan(&count); err != nil {
		return 0, errors.Wrap(err, errors.ErrCodeInternal, "failed to count approvals")
	}
	return count, nil
}

// ── scan helpers ──────────────────────────────────────────────────────────────

type approvalScanner interface {
	Scan(dest ...any) error
}

func (r *ApprovalRepository) scanApproval(row approvalScanner) (*Approval, error) {
	a := &Approval{}
	err := row.Scan(
		&a.ID,
		&a.ApprovalNumber,
		&a.ApprovalType,
		&a.TargetID,
		&a.Status,
		&a.CurrentStep,
		&a.TotalSteps,
		&a.RequesterID,
		&a.RequesterName,
		&a.RequestedAt,
		&a.CompletedAt,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (r *ApprovalRepository) scanRows(rows pgx.Rows) ([]*Approval, error) {
	approvals := make([]*Approval, 0)
	for rows.Next() {
		a, err := r.scanApproval(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan approval")
		}
		approvals = append(approvals, a)
	}
	return approvals, nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// loadLines attaches lines to each approval with one batch query.
func (r *ApprovalRepository) loadLines(ctx context.Context, approvals []*Approval) error {
	if len(approvals) == 0 {
		return nil
	}

	ids := make([]int64, 0, len(approvals))
	byID := make(map[int64]*Approval, len(approvals))
	for _, a := range approvals {
		ids = append(ids, a.ID)
		byID[a.ID] = a
		a.Lines = nil
	}

	lines, err := r.queryLines(ctx, r.db, ids)
	if err != nil {
		return err
	}

	for _, line := range lines {
		if a, ok := byID[line.ApprovalID]; ok {
			a.Lines = append(a.Lines, line)
		}
	}
	return nil
}

// linesFor loads the lines of one approval inside a transaction.
func (r *ApprovalRepository) linesFor(ctx context.Context, tx pgx.Tx, approvalID int64) ([]*ApprovalLine, error) {
	return r.queryLines(ctx, tx, []int64{approvalID})
}

func (r *ApprovalRepository) queryLines(ctx context.Context, q querier, approvalIDs []int64) ([]*ApprovalLine, error) {
	query := `
		SELECT id, approval_id, step_order, approver_id, approver_name,
		       status, comment, approved_at, created_at
		FROM approval_lines
		WHERE approval_id = ANY($1)
		ORDER BY approval_id, step_order ASC
	`

	rows, err := q.Query(ctx, query, approvalIDs)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get approval lines")
	}
	defer rows.Close()

	lines := make([]*ApprovalLine, 0)
	for rows.Next() {
		line := &ApprovalLine{}
		err := rows.Scan(
			&line.ID,
			&line.ApprovalID,
			&line.StepOrder,
			&line.ApproverID,
			&line.ApproverName,
			&line.Status,
			&line.Comment,
			&line.ApprovedAt,
			&line.CreatedAt,
		)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan approval line")
		}
		lines = append(lines, line)
	}
	return lines, nil
}
