package validator

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/chatrelay/internal/apperr"
)

type sendRequest struct {
	ConversationID string `json:"conversationId" validate:"required"`
	Text           string `json:"text" validate:"max=8"`
	Limit          int    `json:"limit" validate:"gte=0,lte=100"`
}

func TestValidator_ValidateStruct(t *testing.T) {
	v := New()

	tests := []struct {
		name  string
		input sendRequest
		want  []ValidationError
	}{
		{
			name:  "valid",
			input: sendRequest{ConversationID: "c1", Text: "hi", Limit: 20},
		},
		{
			name:  "missing conversation",
			input: sendRequest{Text: "hi"},
			want:  []ValidationError{{Field: "conversationId", Message: "required"}},
		},
		{
			name:  "limits",
			input: sendRequest{ConversationID: "c1", Text: "way too long", Limit: 500},
			want: []ValidationError{
				{Field: "text", Message: "max=8"},
				{Field: "limit", Message: "lte=100"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := v.ValidateStruct(tt.input)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("ValidateStruct() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestCheck(t *testing.T) {
	if err := Check(sendRequest{ConversationID: "c1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := Check(sendRequest{})
	if !errors.Is(err, apperr.ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
}
