package errs

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestApiErr_SentinelsMatch(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		check  func(error) bool
		status int
	}{
		{"not found", NewNotFoundError("task missing"), IsNotFound, http.StatusNotFound},
		{"not found entity", NewNotFound("task", "t1"), IsNotFound, http.StatusNotFound},
		{"forbidden", NewForbiddenError("admins only"), IsForbidden, http.StatusForbidden},
		{"bad request", NewBadRequestError("empty batch"), IsBadRequest, http.StatusBadRequest},
		{"missing field", NewMissingRequiredFieldError("statusId"), IsBadRequest, http.StatusBadRequest},
		{"conflict", NewConflictError("last column"), IsConflict, http.StatusConflict},
		{"exists", NewAlreadyExists("user"), IsConflict, http.StatusConflict},
		{"unauthorized", NewUnauthorizedError("no token"), IsUnauthorized, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !tt.check(tt.err) {
				t.Fatalf("sentinel check failed for %v", tt.err)
			}
			wrapped := fmt.Errorf("outer: %w", tt.err)
			if got := StatusCode(wrapped); got != tt.status {
				t.Fatalf("expected status %d; got %d", tt.status, got)
			}
		})
	}
}

func TestStatusCode_PlainErrorIsInternal(t *testing.T) {
	if got := StatusCode(errors.New("boom")); got != http.StatusInternalServerError {
		t.Fatalf("expected 500; got %d", got)
	}
}

func TestNewDatabaseError_KeepsApiErrCause(t *testing.T) {
	nf := NewNotFound("task", "t9")
	err := NewDatabaseError("reorder", "tasks", fmt.Errorf("apply: %w", nf))
	if err.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 to survive wrapping; got %d", err.StatusCode)
	}
}

func TestNewDatabaseError_ClassifiesConstraints(t *testing.T) {
	unique := NewDatabaseError("create", "user", errors.New("UNIQUE constraint failed: users.email"))
	if unique.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409; got %d", unique.StatusCode)
	}
	fk := NewDatabaseError("create", "task", errors.New("FOREIGN KEY constraint failed"))
	if fk.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400; got %d", fk.StatusCode)
	}
	generic := NewDatabaseError("create", "task", errors.New("disk I/O error"))
	if generic.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500; got %d", generic.StatusCode)
	}
	if generic.GetFullError() != "database query failed: failed to create task -> disk I/O error" {
		t.Fatalf("unexpected full error %q", generic.GetFullError())
	}
}
