// Package messaging implements the message send path and the edit, delete and read
// operations built on it.
//
// Sending persists the message with one pending status per recipient and updates the
// conversation's last message, then pushes new-message to every recipient that is
// online. Offline recipients find the message in storage when they come back.
package messaging

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/chatrelay/internal/apperr"
	"github.com/chatrelay/internal/event"
	"github.com/chatrelay/internal/logger"
	"github.com/chatrelay/internal/metrics"
	"github.com/chatrelay/internal/model"
	"github.com/chatrelay/internal/storage"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 100
)

type Notifier interface {
	Notify(userID string, ev event.Outbound) bool
}

// Conversations is the part of the conversation service the send path needs.
type Conversations interface {
	ResolveOrCreate(ctx context.Context, a, b string) (*model.Conversation, error)
	Get(ctx context.Context, actorID, id string) (*model.Conversation, error)
}

type Service struct {
	convs    Conversations
	msgs     storage.MessageStore
	notifier Notifier
	now      func() time.Time
}

func New(convs Conversations, msgs storage.MessageStore, notifier Notifier) *Service {
	return &Service{convs: convs, msgs: msgs, notifier: notifier, now: time.Now}
}

// Sent is the outcome of a send.
type Sent struct {
	Message      model.Message
	Conversation model.Conversation
	// Pushed is the number of recipients that received new-message live.
	Pushed int
}

// Ack is the acknowledgment owed to the sender.
func (s *Sent) Ack() event.MessageSent {
	return event.MessageSent{Message: s.Message, ConversationID: s.Conversation.ID}
}

// SendDirect sends body from senderID to receiverID, creating their conversation on first use.
func (s *Service) SendDirect(ctx context.Context, senderID, receiverID string, body model.Body) (*Sent, error) {
	defer logger.DeferLogDuration("messaging.SendDirect", time.Now())()
	if body.IsEmpty() {
		return nil, apperr.Invalid("message body is empty")
	}
	c, err := s.convs.ResolveOrCreate(ctx, senderID, receiverID)
	if err != nil {
		return nil, err
	}
	return s.send(ctx, senderID, c, body)
}

// SendToConversation sends body into an existing conversation senderID belongs to.
func (s *Service) SendToConversation(ctx context.Context, senderID, conversationID string, body model.Body) (*Sent, error) {
	defer logger.DeferLogDuration("messaging.SendToConversation", time.Now())()
	if body.IsEmpty() {
		return nil, apperr.Invalid("message body is empty")
	}
	c, err := s.convs.Get(ctx, senderID, conversationID)
	if err != nil {
		return nil, err
	}
	return s.send(ctx, senderID, c, body)
}

func (s *Service) send(ctx context.Context, senderID string, c *model.Conversation, body model.Body) (*Sent, error) {
	recipients := c.Recipients(senderID)
	now := s.now().UTC()
	m := model.Message{
		ID:             uuid.NewString(),
		SenderID:       senderID,
		ConversationID: c.ID,
		Body:           body,
		CreatedAt:      now,
		UpdatedAt:      now,
		Statuses:       make([]model.RecipientStatus, 0, len(recipients)),
	}
	for _, r := range recipients {
		m.Statuses = append(m.Statuses, model.RecipientStatus{RecipientID: r})
	}
	if err := s.msgs.AppendMessage(ctx, &m); err != nil {
		return nil, err
	}
	metrics.MessagesSent.Inc()

	id := m.ID
	c.LastMessageID = &id
	c.UpdatedAt = now
	ev := event.NewMessage{Message: m, ConversationID: c.ID}
	pushed := 0
	for _, r := range recipients {
		if s.notifier.Notify(r, ev) {
			pushed++
		}
	}
	logger.Debugf("messaging: sent id=%s conv=%s recipients=%d pushed=%d", m.ID, c.ID, len(recipients), pushed)
	return &Sent{Message: m, Conversation: *c, Pushed: pushed}, nil
}

// Edit replaces the text of a message. Only its sender may edit it.
func (s *Service) Edit(ctx context.Context, actorID, messageID, text string) (*model.Message, error) {
	defer logger.DeferLogDuration("messaging.Edit", time.Now())()
	m, err := s.msgs.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if m.SenderID != actorID {
		return nil, apperr.Forbidden("only the sender can edit a message")
	}
	updated, err := s.msgs.UpdateText(ctx, messageID, text, s.now().UTC())
	if err != nil {
		return nil, err
	}
	s.notifyConversation(ctx, actorID, updated.ConversationID, event.MessageUpdated{Message: *updated})
	return updated, nil
}

// Delete removes a message and lets the store recompute the conversation's last
// message. Only its sender may delete it.
func (s *Service) Delete(ctx context.Context, actorID, messageID string) error {
	defer logger.DeferLogDuration("messaging.Delete", time.Now())()
	m, err := s.msgs.GetMessage(ctx, messageID)
	if err != nil {
		return err
	}
	if m.SenderID != actorID {
		return apperr.Forbidden("only the sender can delete a message")
	}
	if err := s.msgs.DeleteMessage(ctx, messageID); err != nil {
		return err
	}
	s.notifyConversation(ctx, actorID, m.ConversationID, event.MessageDeleted{MessageID: m.ID, ConversationID: m.ConversationID})
	return nil
}

// notifyConversation pushes ev to every participant, the actor included.
func (s *Service) notifyConversation(ctx context.Context, actorID, conversationID string, ev event.Outbound) {
	c, err := s.convs.Get(ctx, actorID, conversationID)
	if err != nil {
		logger.Errorf("messaging: notify conv=%s: %v", conversationID, err)
		return
	}
	for _, p := range c.Participants {
		s.notifier.Notify(p, ev)
	}
}

// History returns userID's most recent messages across their two-party
// conversations, oldest first within the page.
func (s *Service) History(ctx context.Context, userID string, page, limit int) ([]model.Message, int, int, error) {
	defer logger.DeferLogDuration("messaging.History", time.Now())()
	page, limit = normalizePage(page, limit)
	msgs, err := s.msgs.History(ctx, userID, limit, (page-1)*limit)
	if err != nil {
		return nil, 0, 0, err
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, page, limit, nil
}

// Page returns one page of a conversation, newest first, to a participant.
func (s *Service) Page(ctx context.Context, actorID, conversationID string, page, limit int) (*model.MessagePage, error) {
	defer logger.DeferLogDuration("messaging.Page", time.Now())()
	if _, err := s.convs.Get(ctx, actorID, conversationID); err != nil {
		return nil, err
	}
	page, limit = normalizePage(page, limit)
	msgs, total, err := s.msgs.ListMessages(ctx, conversationID, limit, (page-1)*limit)
	if err != nil {
		return nil, err
	}
	return &model.MessagePage{
		Messages:    msgs,
		TotalPages:  (total + limit - 1) / limit,
		CurrentPage: page,
	}, nil
}

func normalizePage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	return page, limit
}
