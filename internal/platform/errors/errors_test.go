package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeOf(t *testing.T) {
	assert.Equal(t, ErrCodeNotFound, CodeOf(NotFound("approval", "7")))
	assert.Equal(t, ErrCodeConflict, CodeOf(New(ErrCodeConflict, "duplicate number")))

	// Wrapped typed errors keep their code through fmt chains.
	wrapped := fmt.Errorf("transition failed: %w", New(ErrCodeAlreadyProcessed, "approval is terminal"))
	assert.Equal(t, ErrCodeAlreadyProcessed, CodeOf(wrapped))

	assert.Equal(t, ErrCodeInternal, CodeOf(stderrors.New("pg: connection refused")))
	assert.Equal(t, ErrCodeInternal, CodeOf(nil))
}

func TestMessageOf(t *testing.T) {
	assert.Equal(t, `approval "7" not found`, MessageOf(NotFound("approval", "7")))
	assert.Equal(t, "approver_ids: at least one approver is required",
		MessageOf(InvalidInput("approver_ids", "at least one approver is required")))

	// Untyped errors never leak their text to clients.
	assert.Equal(t, "internal server error", MessageOf(stderrors.New("pg: connection refused")))
}

func TestWrapUnwrap(t *testing.T) {
	cause := stderrors.New("dial tcp: refused")
	err := Wrap(cause, ErrCodeInternal, "user directory unavailable")

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "INTERNAL")
	assert.Contains(t, err.Error(), "user directory unavailable")
	assert.Contains(t, err.Error(), "dial tcp: refused")
}

func TestHTTPStatus(t *testing.T) {
	cases := map[Code]int{
		ErrCodeNotFound:         http.StatusNotFound,
		ErrCodeNotAuthorized:    http.StatusForbidden,
		ErrCodeAlreadyProcessed: http.StatusConflict,
		ErrCodeConflict:         http.StatusConflict,
		ErrCodeInvalidInput:     http.StatusBadRequest,
		ErrCodeUnauthorized:     http.StatusUnauthorized,
		ErrCodeInvalidStep:      http.StatusInternalServerError,
		ErrCodeInternal:         http.StatusInternalServerError,
	}
	for code, want := range cases {
		assert.Equal(t, want, HTTPStatus(code), string(code))
	}
}
