package model

import (
	"strconv"
	"time"
)

type Conversation struct {
	ID            string    `json:"id"`
	Participants  []string  `json:"participants"`
	IsGroup       bool      `json:"isGroup"`
	Name          string    `json:"name,omitempty"`
	GroupAdmin    string    `json:"groupAdmin,omitempty"`
	LastMessageID *string   `json:"lastMessageId,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// ConversationSummary is a conversation as listed for one of its participants.
type ConversationSummary struct {
	Conversation
	Members     []Profile `json:"members"`
	LastMessage *Message  `json:"lastMessage,omitempty"`
}

// HasParticipant reports whether userID belongs to the conversation.
func (c *Conversation) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// Recipients returns every participant except the sender.
func (c *Conversation) Recipients(senderID string) []string {
	out := make([]string, 0, len(c.Participants))
	for _, p := range c.Participants {
		if p != senderID {
			out = append(out, p)
		}
	}
	return out
}

// PairKey returns the order independent key of a two-party conversation.
// PairKey(a, b) == PairKey(b, a) for every a and b, and distinct pairs never share a
// key: the first id is length-prefixed, so ids containing ':' cannot shift the boundary.
func PairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return strconv.Itoa(len(a)) + ":" + a + ":" + b
}
