package repository

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chatrelay/internal/apperr"
	"github.com/chatrelay/internal/model"
	"github.com/chatrelay/internal/startup"
)

// newTestStore подключается к TEST_DATABASE_URL, накатывает миграции и чистит таблицы.
// Без переменной тесты пропускаются.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)
	if err := startup.Migrate(ctx, pool); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if _, err := pool.Exec(ctx, `TRUNCATE users, conversations, conversation_participants, messages, recipient_statuses CASCADE`); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	s := New(pool)
	for _, id := range []string{"alice", "bob", "carol"} {
		if err := s.CreateUser(ctx, &model.User{ID: id, FirstName: id, Email: id + "@example.com"}); err != nil {
			t.Fatalf("create user %s: %v", id, err)
		}
	}
	return s
}

func createDirect(t *testing.T, s *Store, id, a, b string) *model.Conversation {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Microsecond)
	c := &model.Conversation{ID: id, Participants: []string{a, b}, CreatedAt: now, UpdatedAt: now}
	if err := s.CreateDirect(context.Background(), c, model.PairKey(a, b)); err != nil {
		t.Fatalf("CreateDirect: %v", err)
	}
	return c
}

func appendMessage(t *testing.T, s *Store, id, conv, sender string, at time.Time, recipients ...string) {
	t.Helper()
	m := &model.Message{ID: id, ConversationID: conv, SenderID: sender, Body: model.Body{Text: id}, CreatedAt: at, UpdatedAt: at}
	for _, r := range recipients {
		m.Statuses = append(m.Statuses, model.RecipientStatus{RecipientID: r})
	}
	if err := s.AppendMessage(context.Background(), m); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
}

func TestUserRoundTripAndSearch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.CreateUser(ctx, &model.User{ID: "alice2", Email: "ALICE@example.com"})
	if !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("duplicate email: got %v, want ErrConflict", err)
	}

	status := "away"
	u, err := s.UpdateProfile(ctx, "bob", model.ProfileUpdate{StatusMessage: &status, SocialProfiles: map[string]string{"gh": "bob"}})
	if err != nil {
		t.Fatal(err)
	}
	if u.StatusMessage != "away" || u.FirstName != "bob" || u.SocialProfiles["gh"] != "bob" {
		t.Fatalf("updated user = %+v", u)
	}

	found, err := s.SearchUsers(ctx, "CAR", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(found) != 1 || found[0].ID != "carol" {
		t.Fatalf("search = %+v", found)
	}
	if _, err := s.GetUser(ctx, "nobody"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("GetUser missing: %v", err)
	}
}

func TestCreateDirectConflictsOnPair(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	createDirect(t, s, "c1", "alice", "bob")

	now := time.Now().UTC()
	err := s.CreateDirect(ctx, &model.Conversation{ID: "c2", Participants: []string{"bob", "alice"}, CreatedAt: now, UpdatedAt: now}, model.PairKey("bob", "alice"))
	if !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("second CreateDirect: got %v, want ErrConflict", err)
	}
	c, err := s.FindDirect(ctx, model.PairKey("alice", "bob"))
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"alice", "bob"}, c.Participants); c.ID != "c1" || diff != "" {
		t.Fatalf("FindDirect = %+v (%s)", c, diff)
	}
}

func TestAppendDeleteRecomputesLastMessage(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	createDirect(t, s, "c1", "alice", "bob")
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	appendMessage(t, s, "m1", "c1", "alice", base, "bob")
	appendMessage(t, s, "m2", "c1", "bob", base.Add(time.Second), "alice")

	c, err := s.GetConversation(ctx, "c1")
	if err != nil {
		t.Fatal(err)
	}
	if c.LastMessageID == nil || *c.LastMessageID != "m2" {
		t.Fatalf("last message = %v, want m2", c.LastMessageID)
	}

	if err := s.DeleteMessage(ctx, "m2"); err != nil {
		t.Fatal(err)
	}
	c, _ = s.GetConversation(ctx, "c1")
	if c.LastMessageID == nil || *c.LastMessageID != "m1" {
		t.Fatalf("last message after delete = %v, want m1", c.LastMessageID)
	}

	msgs, total, err := s.ListMessages(ctx, "c1", 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if total != 1 || len(msgs) != 1 || len(msgs[0].Statuses) != 1 {
		t.Fatalf("list = %+v total=%d", msgs, total)
	}
}

func TestSetSeenImpliesDeliveredOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	createDirect(t, s, "c1", "alice", "bob")
	appendMessage(t, s, "m1", "c1", "alice", time.Now().UTC(), "bob")

	at := time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC)
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		changes []model.StatusChange
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ch, err := s.SetSeen(ctx, "m1", "bob", at)
			if err != nil {
				t.Error(err)
				return
			}
			mu.Lock()
			changes = append(changes, ch)
			mu.Unlock()
		}()
	}
	wg.Wait()

	seen := 0
	for _, ch := range changes {
		if ch.Seen {
			seen++
			if !ch.Delivered || ch.SenderID != "alice" {
				t.Fatalf("first seen change = %+v", ch)
			}
		}
	}
	if seen != 1 {
		t.Fatalf("seen transitions = %d, want exactly 1", seen)
	}

	ch, err := s.SetDelivered(ctx, "m1", "bob", at.Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if ch.Changed() {
		t.Fatalf("delivered after seen changed state: %+v", ch)
	}
	if _, err := s.SetSeen(ctx, "m1", "carol", at); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("non-recipient: got %v, want ErrNotFound", err)
	}
}

func TestPendingIDsAndCascade(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	createDirect(t, s, "c1", "alice", "bob")
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	appendMessage(t, s, "m1", "c1", "alice", base, "bob")
	appendMessage(t, s, "m2", "c1", "alice", base.Add(time.Second), "bob")
	appendMessage(t, s, "m3", "c1", "bob", base.Add(2*time.Second), "alice")

	if _, err := s.SetDelivered(ctx, "m1", "bob", base); err != nil {
		t.Fatal(err)
	}
	ids, err := s.UndeliveredIDs(ctx, "c1", "bob")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"m2"}, ids); diff != "" {
		t.Fatalf("undelivered mismatch (-want +got):\n%s", diff)
	}
	ids, _ = s.UnseenIDs(ctx, "c1", "bob")
	if diff := cmp.Diff([]string{"m1", "m2"}, ids); diff != "" {
		t.Fatalf("unseen mismatch (-want +got):\n%s", diff)
	}

	hist, err := s.History(ctx, "bob", 2, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(hist) != 2 || hist[0].ID != "m3" || hist[1].ID != "m2" {
		t.Fatalf("history = %+v", hist)
	}

	if err := s.DeleteConversation(ctx, "c1"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetMessage(ctx, "m1"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("message survived conversation delete: %v", err)
	}
	if err := s.DeleteConversation(ctx, "c1"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("second delete: %v", err)
	}
}
