package apperr

import (
	"errors"
	"net/http"
	"testing"
)

func TestStorageKeepsSentinels(t *testing.T) {
	err := Storage("msgRepo.Get", ErrNotFound)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if errors.Is(err, ErrStorage) {
		t.Fatalf("not found must not be classified as storage failure")
	}

	err = Storage("msgRepo.Get", errors.New("connection reset"))
	if !errors.Is(err, ErrStorage) {
		t.Fatalf("expected ErrStorage, got %v", err)
	}
	if Storage("op", nil) != nil {
		t.Fatalf("nil must stay nil")
	}
}

func TestHTTPStatusAndCode(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
		public string
	}{
		{ErrUnauthorized, http.StatusUnauthorized, "unauthorized", "unauthorized"},
		{Forbidden("not the sender"), http.StatusForbidden, "forbidden", "forbidden: not the sender"},
		{Invalid("empty body"), http.StatusBadRequest, "invalid", "invalid input: empty body"},
		{Storage("op", errors.New("boom")), http.StatusInternalServerError, "internal", "internal error"},
		{errors.New("unknown"), http.StatusInternalServerError, "internal", "internal error"},
	}
	for _, tt := range tests {
		if got := HTTPStatus(tt.err); got != tt.status {
			t.Errorf("HTTPStatus(%v) = %d, want %d", tt.err, got, tt.status)
		}
		if got := Code(tt.err); got != tt.code {
			t.Errorf("Code(%v) = %q, want %q", tt.err, got, tt.code)
		}
		if got := Public(tt.err); got != tt.public {
			t.Errorf("Public(%v) = %q, want %q", tt.err, got, tt.public)
		}
	}
}
