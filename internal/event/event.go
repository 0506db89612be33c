// Package event defines the realtime wire protocol: the inbound and outbound
// event variants and their JSON framing.
package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/chatrelay/internal/apperr"
	"github.com/chatrelay/internal/model"
	"github.com/chatrelay/internal/validator"
)

type Kind string

// Inbound kinds.
const (
	KindSendMessage      Kind = "send-message"
	KindMessageDelivered Kind = "message-delivered"
	KindMessageSeen      Kind = "message-seen"
	KindTyping           Kind = "typing"
	KindStopTyping       Kind = "stop-typing"
	KindFetchHistory     Kind = "fetch-message-history"
	KindUpdateMessage    Kind = "update-message"
	KindDeleteMessage    Kind = "delete-message"
	KindCreateGroup      Kind = "create-group"
	KindSetStatus        Kind = "userStatus"
	KindGetUserDetails   Kind = "get-user-details"
	KindFetchAllUsers    Kind = "fetch-all-users"
)

// Outbound kinds.
const (
	KindOnlineUsers         Kind = "onlineUsers"
	KindNewMessage          Kind = "new-message"
	KindMessageSent         Kind = "message-sent"
	KindMessageStatusUpdate Kind = "message-status-update"
	KindUserTyping          Kind = "userTyping"
	KindSessionSuperseded   Kind = "session-superseded"
	KindMessageHistory      Kind = "message-history"
	KindMessageUpdated      Kind = "message-updated"
	KindMessageDeleted      Kind = "message-deleted"
	KindGroupCreated        Kind = "new-group-created"
	KindUserDetails         Kind = "user-details"
	KindAllUsers            Kind = "all-users"
	KindError               Kind = "error"
)

// Inbound is an event received from a client. The set of implementations is closed.
type Inbound interface {
	Kind() Kind
	inbound()
}

// Outbound is an event pushed to a client. The set of implementations is closed.
type Outbound interface {
	Kind() Kind
	outbound()
}

// Frame is the JSON envelope of every event on the wire.
type Frame struct {
	Type    Kind            `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

var ErrUnknownKind = errors.New("unknown event type")

var inboundKinds = map[Kind]func() Inbound{
	KindSendMessage:      func() Inbound { return &SendMessage{} },
	KindMessageDelivered: func() Inbound { return &MessageDelivered{} },
	KindMessageSeen:      func() Inbound { return &MessageSeen{} },
	KindTyping:           func() Inbound { return &Typing{} },
	KindStopTyping:       func() Inbound { return &StopTyping{} },
	KindFetchHistory:     func() Inbound { return &FetchHistory{} },
	KindUpdateMessage:    func() Inbound { return &UpdateMessage{} },
	KindDeleteMessage:    func() Inbound { return &DeleteMessage{} },
	KindCreateGroup:      func() Inbound { return &CreateGroup{} },
	KindSetStatus:        func() Inbound { return &SetStatus{} },
	KindGetUserDetails:   func() Inbound { return &GetUserDetails{} },
	KindFetchAllUsers:    func() Inbound { return &FetchAllUsers{} },
}

// Decode parses one frame into its inbound variant and validates the payload.
// The returned Kind is set whenever the frame's type could be read, so callers
// can name the failing request in an error reply.
func Decode(raw []byte) (Kind, Inbound, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return "", nil, fmt.Errorf("%w: malformed frame", apperr.ErrInvalid)
	}
	newEvent, ok := inboundKinds[f.Type]
	if !ok {
		return f.Type, nil, fmt.Errorf("%w: %w %q", apperr.ErrInvalid, ErrUnknownKind, f.Type)
	}
	ev := newEvent()
	if len(f.Payload) > 0 && string(f.Payload) != "null" {
		if err := json.Unmarshal(f.Payload, ev); err != nil {
			return f.Type, nil, fmt.Errorf("%w: malformed %s payload", apperr.ErrInvalid, f.Type)
		}
	}
	if err := validator.Check(ev); err != nil {
		return f.Type, nil, err
	}
	return f.Type, ev, nil
}

// Encode frames an outbound event.
func Encode(ev Outbound) ([]byte, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("event.Encode %s: %w", ev.Kind(), err)
	}
	return json.Marshal(Frame{Type: ev.Kind(), Payload: payload})
}

type SendMessage struct {
	ReceiverID string `json:"receiverId" validate:"required"`
	Text       string `json:"text" validate:"max=10000"`
	ImageURL   string `json:"imageUrl" validate:"omitempty,max=2048"`
	VideoURL   string `json:"videoUrl" validate:"omitempty,max=2048"`
}

func (e *SendMessage) Body() model.Body {
	return model.Body{Text: e.Text, ImageURL: e.ImageURL, VideoURL: e.VideoURL}
}

type MessageDelivered struct {
	MessageID string `json:"messageId" validate:"required"`
}

type MessageSeen struct {
	MessageID string `json:"messageId" validate:"required"`
}

type Typing struct {
	ReceiverID string `json:"receiverId" validate:"required"`
}

type StopTyping struct {
	ReceiverID string `json:"receiverId" validate:"required"`
}

type FetchHistory struct {
	Page  int `json:"page" validate:"gte=0"`
	Limit int `json:"limit" validate:"gte=0,lte=100"`
}

type UpdateMessage struct {
	MessageID string `json:"messageId" validate:"required"`
	Text      string `json:"text" validate:"required,max=10000"`
}

type DeleteMessage struct {
	MessageID string `json:"messageId" validate:"required"`
}

type CreateGroup struct {
	Name         string   `json:"name" validate:"required,max=128"`
	Participants []string `json:"participants" validate:"required,min=1,dive,required"`
}

type SetStatus struct {
	Status string `json:"status" validate:"max=64"`
}

type GetUserDetails struct {
	UserID string `json:"userId" validate:"required"`
}

type FetchAllUsers struct{}

func (*SendMessage) Kind() Kind      { return KindSendMessage }
func (*MessageDelivered) Kind() Kind { return KindMessageDelivered }
func (*MessageSeen) Kind() Kind      { return KindMessageSeen }
func (*Typing) Kind() Kind           { return KindTyping }
func (*StopTyping) Kind() Kind       { return KindStopTyping }
func (*FetchHistory) Kind() Kind     { return KindFetchHistory }
func (*UpdateMessage) Kind() Kind    { return KindUpdateMessage }
func (*DeleteMessage) Kind() Kind    { return KindDeleteMessage }
func (*CreateGroup) Kind() Kind      { return KindCreateGroup }
func (*SetStatus) Kind() Kind        { return KindSetStatus }
func (*GetUserDetails) Kind() Kind   { return KindGetUserDetails }
func (*FetchAllUsers) Kind() Kind    { return KindFetchAllUsers }

func (*SendMessage) inbound()      {}
func (*MessageDelivered) inbound() {}
func (*MessageSeen) inbound()      {}
func (*Typing) inbound()           {}
func (*StopTyping) inbound()       {}
func (*FetchHistory) inbound()     {}
func (*UpdateMessage) inbound()    {}
func (*DeleteMessage) inbound()    {}
func (*CreateGroup) inbound()      {}
func (*SetStatus) inbound()        {}
func (*GetUserDetails) inbound()   {}
func (*FetchAllUsers) inbound()    {}

// OnlineUsers is the full presence snapshot, sent to every connected user on each membership change.
type OnlineUsers []model.OnlineUser

type NewMessage struct {
	Message        model.Message `json:"message"`
	ConversationID string        `json:"conversationId"`
}

type MessageSent struct {
	Message        model.Message `json:"message"`
	ConversationID string        `json:"conversationId"`
}

type MessageStatusUpdate struct {
	MessageID string              `json:"messageId"`
	UserID    string              `json:"userId"`
	Type      model.DeliveryState `json:"type"`
	Timestamp time.Time           `json:"timestamp"`
}

type UserTyping struct {
	UserID string `json:"userId"`
	Typing bool   `json:"typing"`
}

// SessionSuperseded tells a connection that a newer one took over its presence entry.
type SessionSuperseded struct{}

type MessageHistory struct {
	Messages []model.Message `json:"messages"`
	Page     int             `json:"page"`
	Limit    int             `json:"limit"`
}

type MessageUpdated struct {
	Message model.Message `json:"message"`
}

type MessageDeleted struct {
	MessageID      string `json:"messageId"`
	ConversationID string `json:"conversationId"`
}

type GroupCreated struct {
	Conversation model.Conversation `json:"conversation"`
}

type UserDetails struct {
	User   model.User `json:"user"`
	Online bool       `json:"online"`
}

type AllUsers []model.User

type Error struct {
	Request Kind   `json:"request,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorFor builds the error reply to a failed request.
func ErrorFor(req Kind, err error) Error {
	return Error{Request: req, Code: apperr.Code(err), Message: apperr.Public(err)}
}

func (OnlineUsers) Kind() Kind         { return KindOnlineUsers }
func (NewMessage) Kind() Kind          { return KindNewMessage }
func (MessageSent) Kind() Kind         { return KindMessageSent }
func (MessageStatusUpdate) Kind() Kind { return KindMessageStatusUpdate }
func (UserTyping) Kind() Kind          { return KindUserTyping }
func (SessionSuperseded) Kind() Kind   { return KindSessionSuperseded }
func (MessageHistory) Kind() Kind      { return KindMessageHistory }
func (MessageUpdated) Kind() Kind      { return KindMessageUpdated }
func (MessageDeleted) Kind() Kind      { return KindMessageDeleted }
func (GroupCreated) Kind() Kind        { return KindGroupCreated }
func (UserDetails) Kind() Kind         { return KindUserDetails }
func (AllUsers) Kind() Kind            { return KindAllUsers }
func (Error) Kind() Kind               { return KindError }

func (OnlineUsers) outbound()         {}
func (NewMessage) outbound()          {}
func (MessageSent) outbound()         {}
func (MessageStatusUpdate) outbound() {}
func (UserTyping) outbound()          {}
func (SessionSuperseded) outbound()   {}
func (MessageHistory) outbound()      {}
func (MessageUpdated) outbound()      {}
func (MessageDeleted) outbound()      {}
func (GroupCreated) outbound()        {}
func (UserDetails) outbound()         {}
func (AllUsers) outbound()            {}
func (Error) outbound()               {}
