package delivery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/chatrelay/internal/apperr"
	"github.com/chatrelay/internal/event"
	"github.com/chatrelay/internal/model"
	"github.com/chatrelay/internal/storage/memory"
)

type sent struct {
	to string
	ev event.Outbound
}

type recorder struct {
	mu     sync.Mutex
	online map[string]bool
	got    []sent
}

func (r *recorder) Notify(userID string, ev event.Outbound) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.online[userID] {
		return false
	}
	r.got = append(r.got, sent{to: userID, ev: ev})
	return true
}

func (r *recorder) updates() []event.MessageStatusUpdate {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []event.MessageStatusUpdate
	for _, s := range r.got {
		if u, ok := s.ev.(event.MessageStatusUpdate); ok {
			out = append(out, u)
		}
	}
	return out
}

var t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func setup(t *testing.T) (*Service, *memory.ChatStore, *recorder) {
	t.Helper()
	store := memory.NewChatStore()
	ctx := context.Background()
	group := &model.Conversation{ID: "g1", IsGroup: true, Participants: []string{"alice", "bob", "carol"}, GroupAdmin: "alice"}
	if err := store.CreateGroup(ctx, group); err != nil {
		t.Fatal(err)
	}
	for i, id := range []string{"m1", "m2"} {
		m := &model.Message{
			ID: id, ConversationID: "g1", SenderID: "alice", Body: model.Body{Text: id},
			CreatedAt: t0.Add(time.Duration(i) * time.Second),
			Statuses:  []model.RecipientStatus{{RecipientID: "bob"}, {RecipientID: "carol"}},
		}
		if err := store.AppendMessage(ctx, m); err != nil {
			t.Fatal(err)
		}
	}
	rec := &recorder{online: map[string]bool{"alice": true}}
	s := New(store, store, rec)
	s.now = func() time.Time { return t0.Add(time.Minute) }
	return s, store, rec
}

func TestMarkDeliveredIsIdempotent(t *testing.T) {
	s, _, rec := setup(t)
	ctx := context.Background()

	changed, err := s.MarkDelivered(ctx, "m1", "bob")
	if err != nil || !changed {
		t.Fatalf("first MarkDelivered: changed=%v err=%v", changed, err)
	}
	changed, err = s.MarkDelivered(ctx, "m1", "bob")
	if err != nil || changed {
		t.Fatalf("second MarkDelivered: changed=%v err=%v", changed, err)
	}

	want := []event.MessageStatusUpdate{{MessageID: "m1", UserID: "bob", Type: model.StateDelivered, Timestamp: t0.Add(time.Minute)}}
	if diff := cmp.Diff(want, rec.updates()); diff != "" {
		t.Errorf("updates (-want +got):\n%s", diff)
	}
}

func TestMarkSeenImpliesDelivered(t *testing.T) {
	s, store, rec := setup(t)
	ctx := context.Background()

	changed, err := s.MarkSeen(ctx, "m1", "carol")
	if err != nil || !changed {
		t.Fatalf("MarkSeen: changed=%v err=%v", changed, err)
	}
	m, _ := store.GetMessage(ctx, "m1")
	st, _ := m.StatusFor("carol")
	if st.State() != model.StateSeen || st.DeliveredAt == nil || st.DeliveredAt.After(*st.SeenAt) {
		t.Fatalf("status = %+v, want seen with deliveredAt <= seenAt", st)
	}

	var kinds []model.DeliveryState
	for _, u := range rec.updates() {
		kinds = append(kinds, u.Type)
	}
	if diff := cmp.Diff([]model.DeliveryState{model.StateDelivered, model.StateSeen}, kinds); diff != "" {
		t.Errorf("update order (-want +got):\n%s", diff)
	}

	changed, err = s.MarkDelivered(ctx, "m1", "carol")
	if err != nil || changed {
		t.Fatalf("MarkDelivered after seen: changed=%v err=%v", changed, err)
	}
	if len(rec.updates()) != 2 {
		t.Errorf("no-op transition notified the sender")
	}
}

func TestTransitionErrors(t *testing.T) {
	s, _, rec := setup(t)
	ctx := context.Background()

	if _, err := s.MarkDelivered(ctx, "nope", "bob"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("unknown message: got %v", err)
	}
	if _, err := s.MarkSeen(ctx, "m1", "mallory"); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("outsider: got %v", err)
	}
	changed, err := s.MarkSeen(ctx, "m1", "alice")
	if err != nil || changed {
		t.Errorf("sender marking own message: changed=%v err=%v", changed, err)
	}
	if len(rec.updates()) != 0 {
		t.Errorf("failed transitions notified the sender")
	}
}

func TestBulkMarkDelivered(t *testing.T) {
	s, _, rec := setup(t)
	ctx := context.Background()

	if _, err := s.MarkDelivered(ctx, "m1", "bob"); err != nil {
		t.Fatal(err)
	}
	n, err := s.BulkMarkDelivered(ctx, "g1", "bob")
	if err != nil {
		t.Fatalf("BulkMarkDelivered: %v", err)
	}
	if n != 1 {
		t.Errorf("changed = %d, want 1 (m1 was already delivered)", n)
	}
	n, _ = s.BulkMarkDelivered(ctx, "g1", "bob")
	if n != 0 {
		t.Errorf("second bulk changed %d", n)
	}
	if len(rec.updates()) != 2 {
		t.Errorf("updates = %d, want 2", len(rec.updates()))
	}

	if _, err := s.BulkMarkDelivered(ctx, "g1", "mallory"); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("outsider bulk: got %v", err)
	}
	if n, _ := s.BulkMarkDelivered(ctx, "g1", "alice"); n != 0 {
		t.Errorf("sender's own messages changed %d statuses", n)
	}
}

func TestBulkMarkSeenAndStatusOf(t *testing.T) {
	s, _, _ := setup(t)
	ctx := context.Background()

	n, err := s.BulkMarkSeen(ctx, "g1", "carol")
	if err != nil || n != 2 {
		t.Fatalf("BulkMarkSeen: n=%d err=%v", n, err)
	}

	got, err := s.StatusOf(ctx, "m2", "bob")
	if err != nil {
		t.Fatalf("StatusOf: %v", err)
	}
	at := t0.Add(time.Minute)
	want := []model.RecipientStatus{
		{RecipientID: "bob"},
		{RecipientID: "carol", DeliveredAt: &at, SeenAt: &at},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("StatusOf (-want +got):\n%s", diff)
	}

	if _, err := s.StatusOf(ctx, "m2", "mallory"); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("outsider StatusOf: got %v", err)
	}
}

func TestOfflineSenderStillPersists(t *testing.T) {
	s, store, rec := setup(t)
	rec.online = map[string]bool{}
	ctx := context.Background()

	changed, err := s.MarkDelivered(ctx, "m2", "bob")
	if err != nil || !changed {
		t.Fatalf("MarkDelivered: changed=%v err=%v", changed, err)
	}
	m, _ := store.GetMessage(ctx, "m2")
	if st, _ := m.StatusFor("bob"); st.State() != model.StateDelivered {
		t.Errorf("state = %s, want delivered", st.State())
	}
}
