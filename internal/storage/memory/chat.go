package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/chatrelay/internal/apperr"
	"github.com/chatrelay/internal/model"
	"github.com/chatrelay/internal/storage"
)

var _ storage.ChatStore = (*ChatStore)(nil)

// ChatStore keeps users, conversations and messages in process memory.
// It enforces the same constraints as the Postgres schema: one two-party
// conversation per pair key and one status row per recipient.
type ChatStore struct {
	mu            sync.RWMutex
	users         map[string]*model.User
	conversations map[string]*model.Conversation
	pairs         map[string]string
	messages      map[string]*storedMessage
	seq           int64
}

type storedMessage struct {
	msg model.Message
	seq int64
}

func NewChatStore() *ChatStore {
	return &ChatStore{
		users:         make(map[string]*model.User),
		conversations: make(map[string]*model.Conversation),
		pairs:         make(map[string]string),
		messages:      make(map[string]*storedMessage),
	}
}

func (s *ChatStore) CreateUser(ctx context.Context, u *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[u.ID]; ok {
		return apperr.ErrConflict
	}
	for _, existing := range s.users {
		if u.Email != "" && strings.EqualFold(existing.Email, u.Email) {
			return apperr.ErrConflict
		}
	}
	cp := cloneUser(u)
	s.users[u.ID] = cp
	return nil
}

func (s *ChatStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	return cloneUser(u), nil
}

func (s *ChatStore) GetUsers(ctx context.Context, ids []string) ([]model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.User, 0, len(ids))
	for _, id := range ids {
		if u, ok := s.users[id]; ok {
			out = append(out, *cloneUser(u))
		}
	}
	return out, nil
}

func (s *ChatStore) ListUsers(ctx context.Context, limit, offset int) ([]model.User, error) {
	s.mu.RLock()
	all := make([]model.User, 0, len(s.users))
	for _, u := range s.users {
		all = append(all, *cloneUser(u))
	}
	s.mu.RUnlock()
	sortUsers(all)
	return window(all, limit, offset), nil
}

func (s *ChatStore) SearchUsers(ctx context.Context, query string, limit int) ([]model.User, error) {
	q := strings.ToLower(strings.TrimSpace(query))
	s.mu.RLock()
	var found []model.User
	for _, u := range s.users {
		if strings.Contains(strings.ToLower(u.FirstName), q) ||
			strings.Contains(strings.ToLower(u.LastName), q) ||
			strings.Contains(strings.ToLower(u.Email), q) {
			found = append(found, *cloneUser(u))
		}
	}
	s.mu.RUnlock()
	sortUsers(found)
	return window(found, limit, 0), nil
}

func (s *ChatStore) UpdateProfile(ctx context.Context, id string, upd model.ProfileUpdate) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	if upd.FirstName != nil {
		u.FirstName = *upd.FirstName
	}
	if upd.LastName != nil {
		u.LastName = *upd.LastName
	}
	if upd.Picture != nil {
		u.Picture = *upd.Picture
	}
	if upd.StatusMessage != nil {
		u.StatusMessage = *upd.StatusMessage
	}
	if upd.Phone != nil {
		u.Phone = *upd.Phone
	}
	if upd.SocialProfiles != nil {
		u.SocialProfiles = make(map[string]string, len(upd.SocialProfiles))
		for k, v := range upd.SocialProfiles {
			u.SocialProfiles[k] = v
		}
	}
	u.UpdatedAt = time.Now().UTC()
	return cloneUser(u), nil
}

func (s *ChatStore) FindDirect(ctx context.Context, pairKey string) (*model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.pairs[pairKey]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	return cloneConversation(s.conversations[id]), nil
}

func (s *ChatStore) CreateDirect(ctx context.Context, c *model.Conversation, pairKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pairs[pairKey]; ok {
		return apperr.ErrConflict
	}
	s.pairs[pairKey] = c.ID
	s.conversations[c.ID] = cloneConversation(c)
	return nil
}

func (s *ChatStore) CreateGroup(ctx context.Context, c *model.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[c.ID]; ok {
		return apperr.ErrConflict
	}
	s.conversations[c.ID] = cloneConversation(c)
	return nil
}

func (s *ChatStore) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversations[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	return cloneConversation(c), nil
}

func (s *ChatStore) ListConversations(ctx context.Context, userID string) ([]model.Conversation, error) {
	s.mu.RLock()
	var out []model.Conversation
	for _, c := range s.conversations {
		if c.HasParticipant(userID) {
			out = append(out, *cloneConversation(c))
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (s *ChatStore) DeleteConversation(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok {
		return apperr.ErrNotFound
	}
	if !c.IsGroup && len(c.Participants) == 2 {
		delete(s.pairs, model.PairKey(c.Participants[0], c.Participants[1]))
	}
	delete(s.conversations, id)
	for mid, sm := range s.messages {
		if sm.msg.ConversationID == id {
			delete(s.messages, mid)
		}
	}
	return nil
}

func (s *ChatStore) AppendMessage(ctx context.Context, m *model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[m.ConversationID]
	if !ok {
		return apperr.ErrNotFound
	}
	if _, ok := s.messages[m.ID]; ok {
		return apperr.ErrConflict
	}
	s.seq++
	s.messages[m.ID] = &storedMessage{msg: cloneMessage(*m), seq: s.seq}
	id := m.ID
	c.LastMessageID = &id
	c.UpdatedAt = m.CreatedAt
	return nil
}

func (s *ChatStore) GetMessage(ctx context.Context, id string) (*model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sm, ok := s.messages[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	m := cloneMessage(sm.msg)
	return &m, nil
}

func (s *ChatStore) ListMessages(ctx context.Context, conversationID string, limit, offset int) ([]model.Message, int, error) {
	s.mu.RLock()
	all := s.newestFirst(func(m *model.Message) bool { return m.ConversationID == conversationID })
	s.mu.RUnlock()
	return window(all, limit, offset), len(all), nil
}

func (s *ChatStore) History(ctx context.Context, userID string, limit, offset int) ([]model.Message, error) {
	s.mu.RLock()
	direct := make(map[string]struct{})
	for _, c := range s.conversations {
		if !c.IsGroup && c.HasParticipant(userID) {
			direct[c.ID] = struct{}{}
		}
	}
	all := s.newestFirst(func(m *model.Message) bool {
		_, ok := direct[m.ConversationID]
		return ok
	})
	s.mu.RUnlock()
	return window(all, limit, offset), nil
}

func (s *ChatStore) UpdateText(ctx context.Context, id, text string, at time.Time) (*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sm, ok := s.messages[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	sm.msg.Body.Text = text
	sm.msg.Edited = true
	sm.msg.UpdatedAt = at
	m := cloneMessage(sm.msg)
	return &m, nil
}

func (s *ChatStore) DeleteMessage(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sm, ok := s.messages[id]
	if !ok {
		return apperr.ErrNotFound
	}
	delete(s.messages, id)
	c, ok := s.conversations[sm.msg.ConversationID]
	if !ok || c.LastMessageID == nil || *c.LastMessageID != id {
		return nil
	}
	c.LastMessageID = nil
	var latest *storedMessage
	for _, other := range s.messages {
		if other.msg.ConversationID != c.ID {
			continue
		}
		if latest == nil || newer(other, latest) {
			latest = other
		}
	}
	if latest != nil {
		lid := latest.msg.ID
		c.LastMessageID = &lid
	}
	return nil
}

func (s *ChatStore) SetDelivered(ctx context.Context, messageID, recipientID string, at time.Time) (model.StatusChange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sm, st, err := s.statusRow(messageID, recipientID)
	if err != nil {
		return model.StatusChange{}, err
	}
	ch := model.StatusChange{MessageID: messageID, SenderID: sm.msg.SenderID}
	if st.DeliveredAt == nil {
		t := at
		st.DeliveredAt = &t
		ch.Delivered = true
	}
	ch.Status = cloneStatus(*st)
	return ch, nil
}

func (s *ChatStore) SetSeen(ctx context.Context, messageID, recipientID string, at time.Time) (model.StatusChange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sm, st, err := s.statusRow(messageID, recipientID)
	if err != nil {
		return model.StatusChange{}, err
	}
	ch := model.StatusChange{MessageID: messageID, SenderID: sm.msg.SenderID}
	if st.SeenAt == nil {
		if st.DeliveredAt == nil {
			d := at
			st.DeliveredAt = &d
			ch.Delivered = true
		}
		t := at
		st.SeenAt = &t
		ch.Seen = true
	}
	ch.Status = cloneStatus(*st)
	return ch, nil
}

func (s *ChatStore) UndeliveredIDs(ctx context.Context, conversationID, recipientID string) ([]string, error) {
	return s.pendingIDs(conversationID, recipientID, func(st model.RecipientStatus) bool { return st.DeliveredAt == nil }), nil
}

func (s *ChatStore) UnseenIDs(ctx context.Context, conversationID, recipientID string) ([]string, error) {
	return s.pendingIDs(conversationID, recipientID, func(st model.RecipientStatus) bool { return st.SeenAt == nil }), nil
}

func (s *ChatStore) Statuses(ctx context.Context, messageID string) ([]model.RecipientStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sm, ok := s.messages[messageID]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	return cloneMessage(sm.msg).Statuses, nil
}

func (s *ChatStore) pendingIDs(conversationID, recipientID string, pending func(model.RecipientStatus) bool) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var rows []*storedMessage
	for _, sm := range s.messages {
		if sm.msg.ConversationID != conversationID || sm.msg.SenderID == recipientID {
			continue
		}
		if st, ok := sm.msg.StatusFor(recipientID); ok && pending(st) {
			rows = append(rows, sm)
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].seq < rows[j].seq })
	ids := make([]string, len(rows))
	for i, sm := range rows {
		ids[i] = sm.msg.ID
	}
	return ids
}

// statusRow must be called with s.mu held for writing.
func (s *ChatStore) statusRow(messageID, recipientID string) (*storedMessage, *model.RecipientStatus, error) {
	sm, ok := s.messages[messageID]
	if !ok {
		return nil, nil, apperr.ErrNotFound
	}
	for i := range sm.msg.Statuses {
		if sm.msg.Statuses[i].RecipientID == recipientID {
			return sm, &sm.msg.Statuses[i], nil
		}
	}
	return nil, nil, apperr.ErrNotFound
}

// newestFirst must be called with s.mu held.
func (s *ChatStore) newestFirst(keep func(*model.Message) bool) []model.Message {
	var rows []*storedMessage
	for _, sm := range s.messages {
		if keep(&sm.msg) {
			rows = append(rows, sm)
		}
	}
	sort.Slice(rows, func(i, j int) bool { return newer(rows[i], rows[j]) })
	out := make([]model.Message, len(rows))
	for i, sm := range rows {
		out[i] = cloneMessage(sm.msg)
	}
	return out
}

func newer(a, b *storedMessage) bool {
	if !a.msg.CreatedAt.Equal(b.msg.CreatedAt) {
		return a.msg.CreatedAt.After(b.msg.CreatedAt)
	}
	return a.seq > b.seq
}

func window[T any](rows []T, limit, offset int) []T {
	if offset >= len(rows) {
		return []T{}
	}
	rows = rows[offset:]
	if limit > 0 && limit < len(rows) {
		rows = rows[:limit]
	}
	return rows
}

func sortUsers(us []model.User) {
	sort.Slice(us, func(i, j int) bool {
		if us[i].FirstName != us[j].FirstName {
			return us[i].FirstName < us[j].FirstName
		}
		return us[i].ID < us[j].ID
	})
}

func cloneUser(u *model.User) *model.User {
	cp := *u
	if u.SocialProfiles != nil {
		cp.SocialProfiles = make(map[string]string, len(u.SocialProfiles))
		for k, v := range u.SocialProfiles {
			cp.SocialProfiles[k] = v
		}
	}
	return &cp
}

func cloneConversation(c *model.Conversation) *model.Conversation {
	cp := *c
	cp.Participants = append([]string(nil), c.Participants...)
	if c.LastMessageID != nil {
		id := *c.LastMessageID
		cp.LastMessageID = &id
	}
	return &cp
}

func cloneMessage(m model.Message) model.Message {
	cp := m
	cp.Statuses = make([]model.RecipientStatus, len(m.Statuses))
	for i, st := range m.Statuses {
		cp.Statuses[i] = cloneStatus(st)
	}
	return cp
}

func cloneStatus(st model.RecipientStatus) model.RecipientStatus {
	if st.DeliveredAt != nil {
		t := *st.DeliveredAt
		st.DeliveredAt = &t
	}
	if st.SeenAt != nil {
		t := *st.SeenAt
		st.SeenAt = &t
	}
	return st
}
