// Package conversation resolves and manages conversations.
//
// Two-party conversations are identified by the order independent pair key of their
// participants. The store holds a uniqueness constraint on that key, and
// ResolveOrCreate turns a lost creation race into a lookup. Concurrent resolves for the
// same pair inside this process are collapsed into one store round trip.
package conversation

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/chatrelay/internal/apperr"
	"github.com/chatrelay/internal/event"
	"github.com/chatrelay/internal/logger"
	"github.com/chatrelay/internal/model"
	"github.com/chatrelay/internal/storage"
)

// resolveTimeout bounds one shared find-or-create round trip.
const resolveTimeout = 10 * time.Second

type Notifier interface {
	Notify(userID string, ev event.Outbound) bool
}

type Service struct {
	convs    storage.ConversationStore
	users    storage.UserStore
	msgs     storage.MessageStore
	notifier Notifier
	inflight singleflight.Group
	now      func() time.Time
}

func New(convs storage.ConversationStore, users storage.UserStore, msgs storage.MessageStore, notifier Notifier) *Service {
	return &Service{convs: convs, users: users, msgs: msgs, notifier: notifier, now: time.Now}
}

// ResolveOrCreate returns the two-party conversation between a and b, creating it
// on first use. It never creates a second conversation for the same pair.
func (s *Service) ResolveOrCreate(ctx context.Context, a, b string) (*model.Conversation, error) {
	defer logger.DeferLogDuration("conversation.ResolveOrCreate", time.Now())()
	if a == "" || b == "" {
		return nil, apperr.Invalid("both participants are required")
	}
	if a == b {
		return nil, apperr.Invalid("cannot start a conversation with yourself")
	}
	key := model.PairKey(a, b)
	// The shared resolve is detached from each caller's cancellation.
	ch := s.inflight.DoChan(key, func() (any, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), resolveTimeout)
		defer cancel()
		return s.resolve(rctx, a, b, key)
	})
	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if res.Err != nil {
		return nil, res.Err
	}
	c := *res.Val.(*model.Conversation)
	c.Participants = append([]string(nil), c.Participants...)
	return &c, nil
}

func (s *Service) resolve(ctx context.Context, a, b, key string) (*model.Conversation, error) {
	c, err := s.convs.FindDirect(ctx, key)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, apperr.ErrNotFound) {
		return nil, err
	}
	if _, err := s.users.GetUser(ctx, b); err != nil {
		return nil, err
	}

	participants := []string{a, b}
	sort.Strings(participants)
	now := s.now().UTC()
	c = &model.Conversation{
		ID:           uuid.NewString(),
		Participants: participants,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	err = s.convs.CreateDirect(ctx, c, key)
	if errors.Is(err, apperr.ErrConflict) {
		logger.Debugf("conversation: lost create race pair=%s, reading winner", key)
		return s.convs.FindDirect(ctx, key)
	}
	if err != nil {
		return nil, err
	}
	logger.Infof("conversation: created id=%s pair=%s", c.ID, key)
	return c, nil
}

// CreateGroup creates a group conversation administered by adminID and tells every
// online participant about it.
func (s *Service) CreateGroup(ctx context.Context, adminID, name string, participants []string) (*model.Conversation, error) {
	defer logger.DeferLogDuration("conversation.CreateGroup", time.Now())()
	seen := map[string]struct{}{adminID: {}}
	members := []string{adminID}
	for _, p := range participants {
		if _, dup := seen[p]; dup || p == "" {
			continue
		}
		seen[p] = struct{}{}
		members = append(members, p)
	}
	if len(members) < 2 {
		return nil, apperr.Invalid("a group needs at least one other participant")
	}
	found, err := s.users.GetUsers(ctx, members)
	if err != nil {
		return nil, err
	}
	if len(found) != len(members) {
		return nil, apperr.ErrNotFound
	}

	now := s.now().UTC()
	c := &model.Conversation{
		ID:           uuid.NewString(),
		Participants: members,
		IsGroup:      true,
		Name:         name,
		GroupAdmin:   adminID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.convs.CreateGroup(ctx, c); err != nil {
		return nil, err
	}
	for _, p := range members {
		s.notifier.Notify(p, event.GroupCreated{Conversation: *c})
	}
	return c, nil
}

// Get returns a conversation to one of its participants.
func (s *Service) Get(ctx context.Context, actorID, id string) (*model.Conversation, error) {
	c, err := s.convs.GetConversation(ctx, id)
	if err != nil {
		return nil, err
	}
	if !c.HasParticipant(actorID) {
		return nil, apperr.Forbidden("not a participant of this conversation")
	}
	return c, nil
}

// List returns actorID's conversations, most recently active first, with member
// profiles and the last message filled in.
func (s *Service) List(ctx context.Context, actorID string) ([]model.ConversationSummary, error) {
	defer logger.DeferLogDuration("conversation.List", time.Now())()
	convs, err := s.convs.ListConversations(ctx, actorID)
	if err != nil {
		return nil, err
	}
	out := make([]model.ConversationSummary, 0, len(convs))
	for _, c := range convs {
		sum := model.ConversationSummary{Conversation: c, Members: []model.Profile{}}
		users, err := s.users.GetUsers(ctx, c.Participants)
		if err != nil {
			return nil, err
		}
		for i := range users {
			sum.Members = append(sum.Members, users[i].Profile())
		}
		if c.LastMessageID != nil {
			m, err := s.msgs.GetMessage(ctx, *c.LastMessageID)
			switch {
			case err == nil:
				sum.LastMessage = m
			case !errors.Is(err, apperr.ErrNotFound):
				return nil, err
			}
		}
		out = append(out, sum)
	}
	return out, nil
}

// Delete removes a conversation with its messages. Any participant may delete it.
func (s *Service) Delete(ctx context.Context, actorID, id string) error {
	if _, err := s.Get(ctx, actorID, id); err != nil {
		return err
	}
	if err := s.convs.DeleteConversation(ctx, id); err != nil {
		return err
	}
	logger.Infof("conversation: deleted id=%s by=%s", id, actorID)
	return nil
}
