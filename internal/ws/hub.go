// Package ws terminates client WebSocket connections and routes their events to the
// presence registry and the chat services.
package ws

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chatrelay/internal/apperr"
	"github.com/chatrelay/internal/conversation"
	"github.com/chatrelay/internal/delivery"
	"github.com/chatrelay/internal/dispatch"
	"github.com/chatrelay/internal/event"
	"github.com/chatrelay/internal/logger"
	"github.com/chatrelay/internal/messaging"
	"github.com/chatrelay/internal/metrics"
	"github.com/chatrelay/internal/presence"
	"github.com/chatrelay/internal/storage"
)

const (
	handlerTimeout = 5 * time.Second
	// allUsersLimit caps fetch-all-users.
	allUsersLimit = 500
)

// Services are the collaborators the hub routes events to.
type Services struct {
	Registry      *presence.Registry
	Dispatcher    *dispatch.Dispatcher
	Conversations *conversation.Service
	Messages      *messaging.Service
	Delivery      *delivery.Service
	Users         storage.UserStore
}

type Hub struct {
	mu      sync.Mutex
	clients map[*Client]struct{}

	// pending holds clients handed to Register that Run has not added yet.
	pending  map[*Client]struct{}
	closed   bool
	settings Settings

	registry   *presence.Registry
	dispatcher *dispatch.Dispatcher
	convs      *conversation.Service
	msgs       *messaging.Service
	delivery   *delivery.Service
	users      storage.UserStore

	register   chan *Client
	unregister chan *Client
	done       chan struct{}
}

func NewHub(svc Services, settings Settings) *Hub {
	if settings.MaxConns <= 0 {
		settings.MaxConns = DefaultSettings().MaxConns
	}
	return &Hub{
		clients:    make(map[*Client]struct{}),
		pending:    make(map[*Client]struct{}),
		settings:   settings,
		registry:   svc.Registry,
		dispatcher: svc.Dispatcher,
		convs:      svc.Conversations,
		msgs:       svc.Messages,
		delivery:   svc.Delivery,
		users:      svc.Users,
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		done:       make(chan struct{}),
	}
}

// Run owns client registration until ctx is cancelled, then drains presence and
// closes every socket before returning.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			// Pumps exiting during shutdown must not block on unregister.
			close(h.done)
			h.shutdown()
			return
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		}
	}
}

func (h *Hub) shutdown() {
	h.registry.Drain()

	h.mu.Lock()
	h.closed = true
	all := make([]*Client, 0, len(h.clients)+len(h.pending))
	for c := range h.clients {
		all = append(all, c)
	}
	for c := range h.pending {
		all = append(all, c)
	}
	h.clients = make(map[*Client]struct{})
	h.pending = make(map[*Client]struct{})
	h.mu.Unlock()

	// Close connections outside the lock (network I/O).
	for _, c := range all {
		c.Close()
	}
	for _, c := range all {
		c.Wait()
	}
}

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	delete(h.pending, c)
	if len(h.clients) >= h.settings.MaxConns {
		h.mu.Unlock()
		logger.Errorf("ws connection limit reached (%d), rejecting user=%s", h.settings.MaxConns, c.userID)
		c.Close()
		return
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	h.registry.Register(c.userID, c, c.profile)
	logger.Infof("ws connected user=%s conn=%s", c.userID, c.id)
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	h.mu.Unlock()

	c.Close()
	// A superseded or already reaped connection no longer owns the entry; this is a no-op then.
	if h.registry.Deregister(c.userID, c.id) {
		logger.Infof("ws disconnected user=%s conn=%s", c.userID, c.id)
	}
}

// Connections returns the number of open sockets, superseded ones included.
func (h *Hub) Connections() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) touch(c *Client) {
	h.registry.Touch(c.userID, c.id)
}

// HandleFrame decodes one raw frame from c and routes it. Failures are answered with
// an error event on c; they never tear the connection down.
func (h *Hub) HandleFrame(ctx context.Context, c *Client, raw []byte) {
	h.touch(c)
	if !c.limiter.Allow() {
		metrics.InboundEvents.WithLabelValues("any", "rate_limited").Inc()
		c.Send(event.Error{Code: "rate_limited", Message: "too many events"})
		return
	}
	kind, ev, err := event.Decode(raw)
	if err != nil {
		metrics.InboundEvents.WithLabelValues("invalid", "error").Inc()
		c.Send(event.ErrorFor(kind, err))
		return
	}

	ctx, cancel := context.WithTimeout(ctx, handlerTimeout)
	defer cancel()
	if err := h.HandleEvent(ctx, c, ev); err != nil {
		metrics.InboundEvents.WithLabelValues(string(kind), "error").Inc()
		if apperr.HTTPStatus(err) >= http.StatusInternalServerError {
			logger.Errorf("ws %s user=%s: %v", kind, c.userID, err)
		}
		c.Send(event.ErrorFor(kind, err))
		return
	}
	metrics.InboundEvents.WithLabelValues(string(kind), "ok").Inc()
}

// HandleEvent routes a decoded event. Every inbound kind has a case.
func (h *Hub) HandleEvent(ctx context.Context, c *Client, ev event.Inbound) error {
	switch ev := ev.(type) {
	case *event.SendMessage:
		return h.handleSendMessage(ctx, c, ev)
	case *event.MessageDelivered:
		_, err := h.delivery.MarkDelivered(ctx, ev.MessageID, c.userID)
		return err
	case *event.MessageSeen:
		_, err := h.delivery.MarkSeen(ctx, ev.MessageID, c.userID)
		return err
	case *event.Typing:
		return h.handleTyping(c, ev.ReceiverID, true)
	case *event.StopTyping:
		return h.handleTyping(c, ev.ReceiverID, false)
	case *event.FetchHistory:
		msgs, page, limit, err := h.msgs.History(ctx, c.userID, ev.Page, ev.Limit)
		if err != nil {
			return err
		}
		c.Send(event.MessageHistory{Messages: msgs, Page: page, Limit: limit})
		return nil
	case *event.UpdateMessage:
		_, err := h.msgs.Edit(ctx, c.userID, ev.MessageID, ev.Text)
		return err
	case *event.DeleteMessage:
		return h.msgs.Delete(ctx, c.userID, ev.MessageID)
	case *event.CreateGroup:
		g, err := h.convs.CreateGroup(ctx, c.userID, ev.Name, ev.Participants)
		if err != nil {
			return err
		}
		h.registry.Join(c.userID, c.id, g.ID)
		return nil
	case *event.SetStatus:
		if !h.registry.SetStatus(c.userID, c.id, ev.Status) {
			return apperr.Forbidden("connection no longer holds the session")
		}
		return nil
	case *event.GetUserDetails:
		return h.handleUserDetails(ctx, c, ev.UserID)
	case *event.FetchAllUsers:
		users, err := h.users.ListUsers(ctx, allUsersLimit, 0)
		if err != nil {
			return err
		}
		c.Send(event.AllUsers(users))
		return nil
	default:
		return fmt.Errorf("%w: unhandled event %s", apperr.ErrInvalid, ev.Kind())
	}
}

func (h *Hub) handleSendMessage(ctx context.Context, c *Client, ev *event.SendMessage) error {
	defer logger.DeferLogDuration("ws.handleSendMessage", time.Now())()
	sent, err := h.msgs.SendDirect(ctx, c.userID, ev.ReceiverID, ev.Body())
	if err != nil {
		return err
	}
	h.registry.Join(c.userID, c.id, sent.Conversation.ID)
	c.Send(sent.Ack())
	return nil
}

func (h *Hub) handleTyping(c *Client, receiverID string, typing bool) error {
	if receiverID == c.userID {
		return apperr.Invalid("cannot signal typing to yourself")
	}
	h.dispatcher.Notify(receiverID, event.UserTyping{UserID: c.userID, Typing: typing})
	return nil
}

func (h *Hub) handleUserDetails(ctx context.Context, c *Client, userID string) error {
	u, err := h.users.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	_, online := h.registry.Lookup(userID)
	c.Send(event.UserDetails{User: *u, Online: online})
	return nil
}

// Register hands c to Run. After shutdown has begun c is closed instead; a client
// still queued when shutdown starts is closed and awaited by shutdown.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		c.Close()
		return
	}
	h.pending[c] = struct{}{}
	h.mu.Unlock()

	select {
	case h.register <- c:
	case <-h.done:
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}
