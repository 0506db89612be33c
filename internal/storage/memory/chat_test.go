package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/chatrelay/internal/apperr"
	"github.com/chatrelay/internal/model"
)

func seedConversation(t *testing.T, s *ChatStore, id string, participants ...string) {
	t.Helper()
	c := &model.Conversation{ID: id, Participants: participants, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	if err := s.CreateDirect(context.Background(), c, model.PairKey(participants[0], participants[1])); err != nil {
		t.Fatalf("CreateDirect: %v", err)
	}
}

func appendText(t *testing.T, s *ChatStore, id, conv, sender string, at time.Time, recipients ...string) {
	t.Helper()
	m := &model.Message{ID: id, ConversationID: conv, SenderID: sender, Body: model.Body{Text: id}, CreatedAt: at, UpdatedAt: at}
	for _, r := range recipients {
		m.Statuses = append(m.Statuses, model.RecipientStatus{RecipientID: r})
	}
	if err := s.AppendMessage(context.Background(), m); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
}

func TestCreateDirectRejectsSecondConversationForPair(t *testing.T) {
	s := NewChatStore()
	ctx := context.Background()
	seedConversation(t, s, "c1", "alice", "bob")

	err := s.CreateDirect(ctx, &model.Conversation{ID: "c2", Participants: []string{"bob", "alice"}}, model.PairKey("bob", "alice"))
	if !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	got, err := s.FindDirect(ctx, model.PairKey("bob", "alice"))
	if err != nil {
		t.Fatalf("FindDirect: %v", err)
	}
	if got.ID != "c1" {
		t.Fatalf("FindDirect returned %s, want c1", got.ID)
	}
}

func TestDeleteMessageRecomputesLastMessage(t *testing.T) {
	s := NewChatStore()
	ctx := context.Background()
	seedConversation(t, s, "c1", "alice", "bob")
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	appendText(t, s, "m1", "c1", "alice", base, "bob")
	appendText(t, s, "m2", "c1", "bob", base.Add(time.Second), "alice")

	if err := s.DeleteMessage(ctx, "m2"); err != nil {
		t.Fatalf("DeleteMessage: %v", err)
	}
	c, _ := s.GetConversation(ctx, "c1")
	if c.LastMessageID == nil || *c.LastMessageID != "m1" {
		t.Fatalf("last message = %v, want m1", c.LastMessageID)
	}

	if err := s.DeleteMessage(ctx, "m1"); err != nil {
		t.Fatalf("DeleteMessage: %v", err)
	}
	c, _ = s.GetConversation(ctx, "c1")
	if c.LastMessageID != nil {
		t.Fatalf("last message = %v, want nil", *c.LastMessageID)
	}
}

func TestSetSeenAlsoSetsDelivered(t *testing.T) {
	s := NewChatStore()
	ctx := context.Background()
	seedConversation(t, s, "c1", "alice", "bob")
	appendText(t, s, "m1", "c1", "alice", time.Now(), "bob")
	at := time.Date(2024, 2, 2, 10, 0, 0, 0, time.UTC)

	ch, err := s.SetSeen(ctx, "m1", "bob", at)
	if err != nil {
		t.Fatalf("SetSeen: %v", err)
	}
	if !ch.Seen || !ch.Delivered {
		t.Fatalf("expected both timestamps set, got %+v", ch)
	}
	if ch.SenderID != "alice" {
		t.Fatalf("sender = %q, want alice", ch.SenderID)
	}

	again, err := s.SetSeen(ctx, "m1", "bob", at.Add(time.Hour))
	if err != nil {
		t.Fatalf("SetSeen: %v", err)
	}
	if again.Changed() {
		t.Fatalf("second SetSeen must not change anything, got %+v", again)
	}
	if !again.Status.SeenAt.Equal(at) {
		t.Fatalf("seenAt rewound to %v", again.Status.SeenAt)
	}

	if _, err := s.SetDelivered(ctx, "m1", "alice", at); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("sender has no status row, expected ErrNotFound, got %v", err)
	}
}

func TestListMessagesPagesNewestFirst(t *testing.T) {
	s := NewChatStore()
	ctx := context.Background()
	seedConversation(t, s, "c1", "alice", "bob")
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"m1", "m2", "m3"} {
		appendText(t, s, id, "c1", "alice", base.Add(time.Duration(i)*time.Minute), "bob")
	}

	page, total, err := s.ListMessages(ctx, "c1", 2, 0)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if total != 3 {
		t.Fatalf("total = %d, want 3", total)
	}
	var ids []string
	for _, m := range page {
		ids = append(ids, m.ID)
	}
	if diff := cmp.Diff([]string{"m3", "m2"}, ids); diff != "" {
		t.Errorf("page mismatch (-want +got):\n%s", diff)
	}
}

func TestDeleteConversationCascades(t *testing.T) {
	s := NewChatStore()
	ctx := context.Background()
	seedConversation(t, s, "c1", "alice", "bob")
	appendText(t, s, "m1", "c1", "alice", time.Now(), "bob")

	if err := s.DeleteConversation(ctx, "c1"); err != nil {
		t.Fatalf("DeleteConversation: %v", err)
	}
	if _, err := s.GetMessage(ctx, "m1"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("message survived conversation delete: %v", err)
	}
	if _, err := s.FindDirect(ctx, model.PairKey("alice", "bob")); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("pair key survived conversation delete: %v", err)
	}
}

func TestTokenStore(t *testing.T) {
	c := New()
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	if err := c.RevokeToken(ctx, "jti-1", time.Minute); err != nil {
		t.Fatalf("RevokeToken: %v", err)
	}
	if ok, _ := c.IsRevoked(ctx, "jti-1"); !ok {
		t.Fatalf("token should be revoked")
	}
	now = now.Add(2 * time.Minute)
	if ok, _ := c.IsRevoked(ctx, "jti-1"); ok {
		t.Fatalf("revocation should expire with the token")
	}

	for i := 0; i < connectRateMax; i++ {
		if ok, _ := c.AllowConnect(ctx, "alice"); !ok {
			t.Fatalf("connect %d rejected", i)
		}
	}
	if ok, _ := c.AllowConnect(ctx, "alice"); ok {
		t.Fatalf("connect over the limit accepted")
	}
	if ok, _ := c.AllowConnect(ctx, "bob"); !ok {
		t.Fatalf("limit must be per user")
	}
}
