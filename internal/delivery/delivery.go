// Package delivery implements the per-recipient Pending → Delivered → Seen state
// machine. Transitions are idempotent: a timestamp is written only while it is unset,
// and the sender is notified only when a write actually happened. Marking a message
// seen also marks it delivered if that had not happened yet.
package delivery

import (
	"context"
	"errors"
	"time"

	"github.com/chatrelay/internal/apperr"
	"github.com/chatrelay/internal/event"
	"github.com/chatrelay/internal/logger"
	"github.com/chatrelay/internal/metrics"
	"github.com/chatrelay/internal/model"
	"github.com/chatrelay/internal/storage"
)

type Notifier interface {
	Notify(userID string, ev event.Outbound) bool
}

type Service struct {
	msgs     storage.MessageStore
	convs    storage.ConversationStore
	notifier Notifier
	now      func() time.Time
}

func New(msgs storage.MessageStore, convs storage.ConversationStore, notifier Notifier) *Service {
	return &Service{msgs: msgs, convs: convs, notifier: notifier, now: time.Now}
}

type setFunc func(ctx context.Context, messageID, recipientID string, at time.Time) (model.StatusChange, error)

// MarkDelivered sets deliveredAt for recipientID on messageID if it is unset.
func (s *Service) MarkDelivered(ctx context.Context, messageID, recipientID string) (bool, error) {
	defer logger.DeferLogDuration("delivery.MarkDelivered", time.Now())()
	ch, err := s.transition(ctx, messageID, recipientID, s.msgs.SetDelivered)
	return ch.Changed(), err
}

// MarkSeen sets seenAt, and deliveredAt when still unset, for recipientID on messageID.
func (s *Service) MarkSeen(ctx context.Context, messageID, recipientID string) (bool, error) {
	defer logger.DeferLogDuration("delivery.MarkSeen", time.Now())()
	ch, err := s.transition(ctx, messageID, recipientID, s.msgs.SetSeen)
	return ch.Changed(), err
}

func (s *Service) transition(ctx context.Context, messageID, recipientID string, set setFunc) (model.StatusChange, error) {
	ch, err := set(ctx, messageID, recipientID, s.now().UTC())
	if errors.Is(err, apperr.ErrNotFound) {
		// Either the message is gone or recipientID has no status row on it.
		m, gerr := s.msgs.GetMessage(ctx, messageID)
		if gerr != nil {
			return model.StatusChange{}, gerr
		}
		if m.SenderID == recipientID {
			return model.StatusChange{}, nil
		}
		return model.StatusChange{}, apperr.Forbidden("not a recipient of this message")
	}
	if err != nil {
		return model.StatusChange{}, err
	}
	s.publish(ch)
	return ch, nil
}

// BulkMarkDelivered marks every message of the conversation still pending delivery
// to recipientID, and returns how many changed.
func (s *Service) BulkMarkDelivered(ctx context.Context, conversationID, recipientID string) (int, error) {
	defer logger.DeferLogDuration("delivery.BulkMarkDelivered", time.Now())()
	if err := s.checkParticipant(ctx, conversationID, recipientID); err != nil {
		return 0, err
	}
	ids, err := s.msgs.UndeliveredIDs(ctx, conversationID, recipientID)
	if err != nil {
		return 0, err
	}
	return s.applyAll(ctx, ids, recipientID, s.msgs.SetDelivered)
}

// BulkMarkSeen marks every message of the conversation not yet seen by recipientID.
func (s *Service) BulkMarkSeen(ctx context.Context, conversationID, recipientID string) (int, error) {
	defer logger.DeferLogDuration("delivery.BulkMarkSeen", time.Now())()
	if err := s.checkParticipant(ctx, conversationID, recipientID); err != nil {
		return 0, err
	}
	ids, err := s.msgs.UnseenIDs(ctx, conversationID, recipientID)
	if err != nil {
		return 0, err
	}
	return s.applyAll(ctx, ids, recipientID, s.msgs.SetSeen)
}

func (s *Service) applyAll(ctx context.Context, ids []string, recipientID string, set setFunc) (int, error) {
	at := s.now().UTC()
	n := 0
	for _, id := range ids {
		ch, err := set(ctx, id, recipientID, at)
		if errors.Is(err, apperr.ErrNotFound) {
			// deleted since the listing
			continue
		}
		if err != nil {
			return n, err
		}
		if ch.Changed() {
			n++
			s.publish(ch)
		}
	}
	return n, nil
}

// StatusOf returns the recipient statuses of a message to one of its conversation's participants.
func (s *Service) StatusOf(ctx context.Context, messageID, actorID string) ([]model.RecipientStatus, error) {
	m, err := s.msgs.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if err := s.checkParticipant(ctx, m.ConversationID, actorID); err != nil {
		return nil, err
	}
	return s.msgs.Statuses(ctx, messageID)
}

func (s *Service) checkParticipant(ctx context.Context, conversationID, userID string) error {
	c, err := s.convs.GetConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	if !c.HasParticipant(userID) {
		return apperr.Forbidden("not a participant of this conversation")
	}
	return nil
}

// publish tells the sender about each timestamp the change set, delivered before seen.
func (s *Service) publish(ch model.StatusChange) {
	if ch.Delivered && ch.Status.DeliveredAt != nil {
		metrics.StatusTransitions.WithLabelValues(string(model.StateDelivered)).Inc()
		s.notifier.Notify(ch.SenderID, event.MessageStatusUpdate{
			MessageID: ch.MessageID,
			UserID:    ch.Status.RecipientID,
			Type:      model.StateDelivered,
			Timestamp: *ch.Status.DeliveredAt,
		})
	}
	if ch.Seen && ch.Status.SeenAt != nil {
		metrics.StatusTransitions.WithLabelValues(string(model.StateSeen)).Inc()
		s.notifier.Notify(ch.SenderID, event.MessageStatusUpdate{
			MessageID: ch.MessageID,
			UserID:    ch.Status.RecipientID,
			Type:      model.StateSeen,
			Timestamp: *ch.Status.SeenAt,
		})
	}
}
