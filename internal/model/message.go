package model

import "time"

type Body struct {
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"imageUrl,omitempty"`
	VideoURL string `json:"videoUrl,omitempty"`
}

func (b Body) IsEmpty() bool {
	return b.Text == "" && b.ImageURL == "" && b.VideoURL == ""
}

type Message struct {
	ID             string            `json:"id"`
	SenderID       string            `json:"senderId"`
	ConversationID string            `json:"conversationId"`
	Body           Body              `json:"body"`
	Edited         bool              `json:"edited"`
	CreatedAt      time.Time         `json:"createdAt"`
	UpdatedAt      time.Time         `json:"updatedAt"`
	Statuses       []RecipientStatus `json:"statuses"`
}

// StatusFor returns the status row of a recipient, if the message has one.
func (m *Message) StatusFor(recipientID string) (RecipientStatus, bool) {
	for _, s := range m.Statuses {
		if s.RecipientID == recipientID {
			return s, true
		}
	}
	return RecipientStatus{}, false
}

type DeliveryState string

const (
	StatePending   DeliveryState = "pending"
	StateDelivered DeliveryState = "delivered"
	StateSeen      DeliveryState = "seen"
)

// RecipientStatus tracks one recipient of one message.
// Timestamps only move from nil to set, and SeenAt != nil implies DeliveredAt != nil.
type RecipientStatus struct {
	RecipientID string     `json:"recipientId"`
	DeliveredAt *time.Time `json:"deliveredAt"`
	SeenAt      *time.Time `json:"seenAt"`
}

func (s RecipientStatus) State() DeliveryState {
	switch {
	case s.SeenAt != nil:
		return StateSeen
	case s.DeliveredAt != nil:
		return StateDelivered
	default:
		return StatePending
	}
}

// StatusChange reports which timestamps a conditional update actually set.
type StatusChange struct {
	MessageID string
	SenderID  string
	Status    RecipientStatus
	Delivered bool
	Seen      bool
}

func (c StatusChange) Changed() bool {
	return c.Delivered || c.Seen
}

// MessagePage is one page of a conversation's messages, newest first.
type MessagePage struct {
	Messages    []Message `json:"messages"`
	TotalPages  int       `json:"totalPages"`
	CurrentPage int       `json:"currentPage"`
}
