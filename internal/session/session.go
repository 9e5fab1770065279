// Package session implements the client-side conversation session:
// the currently selected conversation, its reconciled message
// history, and its single active push subscription.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"palaver/internal/models"
)

type State string

const (
	Unselected State = "unselected"
	Loading    State = "loading"
	Subscribed State = "subscribed"
)

// Fetcher loads the persisted history for a conversation, ascending
// by sequence.
type Fetcher interface {
	FetchHistory(ctx context.Context, conv models.Conversation) ([]models.Message, error)
}

// Sender issues a send and returns the canonical persisted message.
type Sender interface {
	Send(ctx context.Context, conv models.Conversation, p models.MessagePayload) (models.Message, error)
}

// Subscription is a live push subscription handle. Release must be
// idempotent.
type Subscription interface {
	Release()
}

// Subscriber opens a push subscription delivering messages to fn.
// fn must not be invoked synchronously from Subscribe.
type Subscriber interface {
	Subscribe(conv models.Conversation, fn func(models.Message)) (Subscription, error)
}

// Session owns one selected conversation at a time. At most one
// subscription is live; selecting a new conversation always releases
// the previous subscription before anything else. A fetch that
// completes after the user has moved on is discarded via the epoch
// guard, so a slow fetch for conversation A can never clobber state
// after a switch to conversation B.
type Session struct {
	selfID     string
	fetcher    Fetcher
	sender     Sender
	subscriber Subscriber
	log        *slog.Logger

	mu       sync.Mutex
	state    State
	selected models.Conversation
	epoch    uint64
	history  []models.Message
	seen     map[string]struct{}
	sub      Subscription
}

func New(selfID string, fetcher Fetcher, sender Sender, subscriber Subscriber) *Session {
	return &Session{
		selfID:     selfID,
		fetcher:    fetcher,
		sender:     sender,
		subscriber: subscriber,
		log:        slog.Default(),
		state:      Unselected,
	}
}

// Select switches the session to conv: release the old subscription,
// fetch history, then open a subscription filtered to conv. On error
// the session stays in Loading with no subscription; a later Select
// recovers.
func (s *Session) Select(ctx context.Context, conv models.Conversation) error {
	if err := conv.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	s.releaseLocked()
	s.epoch++
	epoch := s.epoch
	s.state = Loading
	s.selected = conv
	s.history = nil
	s.seen = make(map[string]struct{})
	s.mu.Unlock()

	messages, err := s.fetcher.FetchHistory(ctx, conv)

	s.mu.Lock()
	defer s.mu.Unlock()

	if epoch != s.epoch {
		// The selection changed while the fetch was in flight; this
		// response no longer matches the session's target.
		s.log.Debug("discarding stale history fetch", "conversation", conv.ID)
		return nil
	}

	if err != nil {
		return fmt.Errorf("failed to fetch history: %w", err)
	}

	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].Seq < messages[j].Seq
	})
	s.history = messages
	for _, m := range messages {
		s.seen[m.ID] = struct{}{}
	}

	sub, err := s.subscriber.Subscribe(conv, s.handlePush)
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	s.sub = sub
	s.state = Subscribed
	return nil
}

// Deselect returns the session to Unselected, releasing any active
// subscription.
func (s *Session) Deselect() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.releaseLocked()
	s.epoch++
	s.state = Unselected
	s.selected = models.Conversation{}
	s.history = nil
	s.seen = nil
}

func (s *Session) releaseLocked() {
	if s.sub != nil {
		s.sub.Release()
		s.sub = nil
	}
}

// handlePush appends a pushed message if it belongs to the active
// selection and has not been seen through fetch or the send
// acknowledgment path.
func (s *Session) handlePush(m models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Subscribed {
		return
	}
	if !m.InConversation(s.selected, s.selfID) {
		return
	}
	if _, dup := s.seen[m.ID]; dup {
		return
	}
	s.seen[m.ID] = struct{}{}
	s.history = insertOrdered(s.history, m)
}

// Send issues a send for the selected conversation and appends the
// canonical result to the history. This is the only way the sender
// observes their own message; the push channel targets the other
// participants.
func (s *Session) Send(ctx context.Context, p models.MessagePayload) (models.Message, error) {
	s.mu.Lock()
	if s.state == Unselected {
		s.mu.Unlock()
		return models.Message{}, fmt.Errorf("%w: no conversation selected", models.ErrValidation)
	}
	conv := s.selected
	s.mu.Unlock()

	msg, err := s.sender.Send(ctx, conv, p)
	if err != nil {
		return models.Message{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.selected == conv && s.state != Unselected {
		if _, dup := s.seen[msg.ID]; !dup {
			s.seen[msg.ID] = struct{}{}
			s.history = insertOrdered(s.history, msg)
		}
	}
	return msg, nil
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Selected returns the active conversation, if any.
func (s *Session) Selected() (models.Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selected, s.state != Unselected
}

// History returns a copy of the reconciled message history in
// ascending order.
func (s *Session) History() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Message(nil), s.history...)
}

// insertOrdered inserts m keeping ascending Seq order. Messages
// usually arrive in order, so scan from the tail.
func insertOrdered(history []models.Message, m models.Message) []models.Message {
	i := len(history)
	for i > 0 && history[i-1].Seq > m.Seq {
		i--
	}
	history = append(history, models.Message{})
	copy(history[i+1:], history[i:])
	history[i] = m
	return history
}
