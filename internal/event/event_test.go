package event

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/chatrelay/internal/apperr"
	"github.com/chatrelay/internal/model"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		wantKind Kind
		want     Inbound
		wantErr  error
	}{
		{
			name:     "send message",
			raw:      `{"type":"send-message","payload":{"receiverId":"u2","text":"hello"}}`,
			wantKind: KindSendMessage,
			want:     &SendMessage{ReceiverID: "u2", Text: "hello"},
		},
		{
			name:     "seen",
			raw:      `{"type":"message-seen","payload":{"messageId":"m1"}}`,
			wantKind: KindMessageSeen,
			want:     &MessageSeen{MessageID: "m1"},
		},
		{
			name:     "history without payload",
			raw:      `{"type":"fetch-message-history"}`,
			wantKind: KindFetchHistory,
			want:     &FetchHistory{},
		},
		{
			name:     "fetch all users with null payload",
			raw:      `{"type":"fetch-all-users","payload":null}`,
			wantKind: KindFetchAllUsers,
			want:     &FetchAllUsers{},
		},
		{
			name:     "unknown kind",
			raw:      `{"type":"dance","payload":{}}`,
			wantKind: "dance",
			wantErr:  ErrUnknownKind,
		},
		{
			name:     "missing required field",
			raw:      `{"type":"message-delivered","payload":{}}`,
			wantKind: KindMessageDelivered,
			wantErr:  apperr.ErrInvalid,
		},
		{
			name:    "not json",
			raw:     `{{`,
			wantErr: apperr.ErrInvalid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kind, got, err := Decode([]byte(tt.raw))
			if kind != tt.wantKind {
				t.Errorf("kind = %q, want %q", kind, tt.wantKind)
			}
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Decode() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestEncode(t *testing.T) {
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		ev   Outbound
		want string
	}{
		{
			name: "status update",
			ev:   MessageStatusUpdate{MessageID: "m1", UserID: "u2", Type: model.StateSeen, Timestamp: ts},
			want: `{"type":"message-status-update","payload":{"messageId":"m1","userId":"u2","type":"seen","timestamp":"2024-05-01T12:00:00Z"}}`,
		},
		{
			name: "superseded",
			ev:   SessionSuperseded{},
			want: `{"type":"session-superseded","payload":{}}`,
		},
		{
			name: "online users is a list",
			ev:   OnlineUsers{{Profile: model.Profile{ID: "u1", FirstName: "Ann"}}},
			want: `{"type":"onlineUsers","payload":[{"userId":"u1","firstName":"Ann","lastName":""}]}`,
		},
		{
			name: "typing",
			ev:   UserTyping{UserID: "u1", Typing: true},
			want: `{"type":"userTyping","payload":{"userId":"u1","typing":true}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := Encode(tt.ev)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			var got, want any
			if err := json.Unmarshal(raw, &got); err != nil {
				t.Fatalf("unmarshal got: %v", err)
			}
			if err := json.Unmarshal([]byte(tt.want), &want); err != nil {
				t.Fatalf("unmarshal want: %v", err)
			}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("Encode() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestErrorFor(t *testing.T) {
	got := ErrorFor(KindUpdateMessage, apperr.Forbidden("only the sender can edit"))
	want := Error{Request: KindUpdateMessage, Code: "forbidden", Message: "forbidden: only the sender can edit"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ErrorFor() mismatch (-want +got):\n%s", diff)
	}
}
