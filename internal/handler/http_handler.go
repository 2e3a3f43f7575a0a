package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pesio-ai/be-itsm-approvals/internal/platform/errors"
	"github.com/pesio-ai/be-itsm-approvals/internal/platform/logger"
	"github.com/pesio-ai/be-itsm-approvals/internal/repository"
	"github.com/pesio-ai/be-itsm-approvals/internal/service"
)

// userIDHeader carries the acting user's id, set by the API gateway after
// authentication. Operations never read the acting user from anywhere else.
const userIDHeader = "X-User-ID"

// HTTPHandler exposes the approval engine over REST.
type HTTPHandler struct {
	service *service.ApprovalService
	log     *logger.Logger
}

// NewHTTPHandler creates a new HTTP handler.
func NewHTTPHandler(svc *service.ApprovalService, log *logger.Logger) *HTTPHandler {
	return &HTTPHandler{service: svc, log: log}
}

// Routes mounts the approval API.
func (h *HTTPHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/", h.CreateApproval)
	r.Get("/", h.SearchApprovals)
	r.Get("/my-pending", h.MyPendingApprovals)
	r.Get("/my-requested", h.MyRequestedApprovals)
	r.Get("/number/{approvalNumber}", h.GetApprovalByNumber)
	r.Get("/{id}", h.GetApproval)
	r.Put("/{id}/approve", h.ApproveApproval)
	r.Put("/{id}/reject", h.RejectApproval)
	r.Put("/{id}/cancel", h.CancelApproval)
	r.Delete("/{id}", h.DeleteApproval)

	return r
}

// ── request / response DTOs ───────────────────────────────────────────────────

// CreateApprovalRequest opens a new approval chain.
type CreateApprovalRequest struct {
	ApprovalType string  `json:"approval_type"`
	TargetID     int64   `json:"target_id"`
	ApproverIDs  []int64 `json:"approver_ids"`
}

// ProcessApprovalRequest carries the optional comment on approve/reject.
type ProcessApprovalRequest struct {
	Comment *string `json:"comment,omitempty"`
}

// ApprovalLineResponse is one step of an approval chain.
type ApprovalLineResponse struct {
	ID           int64      `json:"id"`
	StepOrder    int        `json:"step_order"`
	ApproverID   int64      `json:"approver_id"`
	ApproverName string     `json:"approver_name"`
	Status       string     `json:"status"`
	Comment      *string    `json:"comment,omitempty"`
	ApprovedAt   *time.Time `json:"approved_at,omitempty"`
}

// ApprovalResponse is the approval projection returned by every endpoint.
type ApprovalResponse struct {
	ID             int64                  `json:"id"`
	ApprovalNumber string                 `json:"approval_number"`
	ApprovalType   string                 `json:"approval_type"`
	TargetID       int64                  `json:"target_id"`
	Status         string                 `json:"status"`
	CurrentStep    int                    `json:"current_step"`
	TotalSteps     int                    `json:"total_steps"`
	RequesterID    int64                  `json:"requester_id"`
	RequesterName  string                 `json:"requester_name"`
	RequestedAt    time.Time              `json:"requested_at"`
	CompletedAt    *time.Time             `json:"completed_at,omitempty"`
	Lines          []ApprovalLineResponse `json:"approval_lines"`
}

func toApprovalResponse(a *repository.Approval) ApprovalResponse {
	resp := ApprovalResponse{
		ID:             a.ID,
		ApprovalNumber: a.ApprovalNumber,
		ApprovalType:   string(a.ApprovalType),
		TargetID:       a.TargetID,
		Status:         string(a.Status),
		CurrentStep:    a.CurrentStep,
		TotalSteps:     a.TotalSteps,
		RequesterID:    a.RequesterID,
		RequesterName:  a.RequesterName,
		RequestedAt:    a.RequestedAt,
		CompletedAt:    a.CompletedAt,
		Lines:          make([]ApprovalLineResponse, 0, len(a.Lines)),
	}
	for _, line := range a.Lines {
		resp.Lines = append(resp.Lines, ApprovalLineResponse{
			ID:           line.ID,
			StepOrder:    line.StepOrder,
			ApproverID:   line.ApproverID,
			ApproverName: line.ApproverName,
			Status:       string(line.Status),
			Comment:      line.Comment,
			ApprovedAt:   line.ApprovedAt,
		})
	}
	return resp
}

func toApprovalResponses(approvals []*repository.Approval) []ApprovalResponse {
	out := make([]ApprovalResponse, 0, len(approvals))
	for _, a := range approvals {
		out = append(out, toApprovalResponse(a))
	}
	return out
}

// ── handlers ──────────────────────────────────────────────────────────────────

// CreateApproval opens an approval chain for a target entity.
func (h *HTTPHandler) CreateApproval(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.actingUser(w, r)
	if !ok {
		return
	}

	var req CreateApprovalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, errors.InvalidInput("body", "invalid request body"))
		return
	}

	approval, err := h.service.Open(r.Context(), &service.OpenApprovalRequest{
		ApprovalType: repository.ApprovalType(req.ApprovalType),
		TargetID:     req.TargetID,
		RequesterID:  userID,
		ApproverIDs:  req.ApproverIDs,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, toApprovalResponse(approval))
}

// GetApproval returns one approval by id.
func (h *HTTPHandler) GetApproval(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	approval, err := h.service.GetByID(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, toApprovalResponse(approval))
}

// GetApprovalByNumber returns one approval by business number.
func (h *HTTPHandler) GetApprovalByNumber(w http.ResponseWriter, r *http.Request) {
	number := chi.URLParam(r, "approvalNumber")

	approval, err := h.service.GetByNumber(r.Context(), number)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, toApprovalResponse(approval))
}

// SearchApprovals filters approvals by type, status and requester.
func (h *HTTPHandler) SearchApprovals(w http.ResponseWriter, r *http.Request) {
	filter := repository.SearchFilter{}

	if v := r.URL.Query().Get("approval_type"); v != "" {
		t := repository.ApprovalType(v)
		filter.Type = &t
	}
	if v := r.URL.Query().Get("status"); v != "" {
		s := repository.ApprovalStatus(v)
		filter.Status = &s
	}
	if v := r.URL.Query().Get("requester_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			h.writeError(w, r, errors.InvalidInput("requester_id", "must be an integer"))
			return
		}
		filter.RequesterID = &id
	}

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	filter.Limit = pageSize
	filter.Offset = (page - 1) * pageSize

	approvals, total, err := h.service.Search(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"approvals": toApprovalResponses(approvals),
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// MyPendingApprovals lists pending approvals awaiting the acting user.
func (h *HTTPHandler) MyPendingApprovals(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.actingUser(w, r)
	if !ok {
		return
	}

	approvals, err := h.service.PendingForUser(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, toApprovalResponses(approvals))
}

// MyRequestedApprovals lists approvals opened by the acting user.
func (h *HTTPHandler) MyRequestedApprovals(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.actingUser(w, r)
	if !ok {
		return
	}

	approvals, err := h.service.RequestedBy(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, toApprovalResponses(approvals))
}

// ApproveApproval records the acting user's sign-off on the current step.
func (h *HTTPHandler) ApproveApproval(w http.ResponseWriter, r *http.Request) {
	h.process(w, r, h.service.Approve)
}

// RejectApproval records a rejection and terminates the chain.
func (h *HTTPHandler) RejectApproval(w http.ResponseWriter, r *http.Request) {
	h.process(w, r, h.service.Reject)
}

// CancelApproval cancels a pending approval.
func (h *HTTPHandler) CancelApproval(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	userID, ok := h.actingUser(w, r)
	if !ok {
		return
	}

	approval, err := h.service.Cancel(r.Context(), id, userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, toApprovalResponse(approval))
}

// DeleteApproval soft-deletes an approval.
func (h *HTTPHandler) DeleteApproval(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	if _, ok := h.actingUser(w, r); !ok {
		return
	}

	if err := h.service.Delete(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ── helpers ───────────────────────────────────────────────────────────────────

type processFunc func(ctx context.Context, id, actingUserID int64, comment *string) (*repository.Approval, error)

// process is the shared approve/reject path: path id, acting user, optional
// comment body, one service call.
func (h *HTTPHandler) process(w http.ResponseWriter, r *http.Request, op processFunc) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	userID, ok := h.actingUser(w, r)
	if !ok {
		return
	}

	// An absent body is allowed; io.EOF covers empty chunked bodies, which
	// carry no ContentLength.
	var req ProcessApprovalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		h.writeError(w, r, errors.InvalidInput("body", "invalid request body"))
		return
	}

	approval, err := op(r.Context(), id, userID, req.Comment)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, toApprovalResponse(approval))
}

// actingUser reads the authenticated user id from the request headers,
// writing a 401 on failure.
func (h *HTTPHandler) actingUser(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := r.Header.Get(userIDHeader)
	if raw == "" {
		h.writeError(w, r, errors.New(errors.ErrCodeUnauthorized, "missing X-User-ID header"))
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		h.writeError(w, r, errors.New(errors.ErrCodeUnauthorized, "invalid X-User-ID header"))
		return 0, false
	}
	return id, true
}

// pathID parses the {id} path parameter, writing a 400 on failure.
func (h *HTTPHandler) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		h.writeError(w, r, errors.InvalidInput("id", "must be a positive integer"))
		return 0, false
	}
	return id, true
}

func (h *HTTPHandler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.log.Error().Err(err).Msg("failed to encode response")
	}
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := errors.CodeOf(err)
	status := errors.HTTPStatus(code)

	if status >= 500 {
		h.log.Error().Err(err).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Msg("request failed")
	}

	h.writeJSON(w, status, map[string]string{
		"code":    string(code),
		"message": errors.MessageOf(err),
	})
}
