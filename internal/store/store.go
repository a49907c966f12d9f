package store

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/cenkalti/backoff/v4"

	"messaging-service/internal/models"
	"messaging-service/internal/observability"
	"messaging-service/internal/repositories"
)

var (
	ErrSelfMessage    = errors.New("message to self is not allowed")
	ErrEmptyContent   = errors.New("message content is empty")
	ErrContentTooLong = errors.New("message content exceeds the allowed length")
)

// MessageStore is the contract conversation views depend on: persist plus
// broadcast on submit, full-snapshot redelivery on subscribe.
type MessageStore interface {
	Submit(ctx context.Context, draft models.MessageDraft) (models.Message, error)
	Subscribe(selfID string, onSnapshot func([]models.Message)) (unsubscribe func())
}

// Store implements MessageStore over a message repository. Every accepted
// write wakes the subscribers of both participants; each subscriber then
// reloads its full snapshot, so deliveries are at-least-once and never stale
// after fresh within one subscription.
type Store struct {
	repo     repositories.MessageRepository
	maxRunes int

	// AcceptHook, when set, runs after a write is accepted and before
	// subscribers are woken. Used to publish platform events.
	AcceptHook func(ctx context.Context, msg models.Message)

	mu   sync.RWMutex
	subs map[*subscription]struct{}
}

type subscription struct {
	selfID     string
	onSnapshot func([]models.Message)
	notify     chan struct{}
	ctx        context.Context
	cancel     context.CancelFunc
	once       sync.Once
}

// NewStore constructs a Store. maxRunes bounds message content length in
// code points.
func NewStore(repo repositories.MessageRepository, maxRunes int) *Store {
	return &Store{
		repo:     repo,
		maxRunes: maxRunes,
		subs:     make(map[*subscription]struct{}),
	}
}

// Submit validates the draft, persists it and wakes matching subscribers.
// Rejected drafts make no repository call.
func (s *Store) Submit(ctx context.Context, draft models.MessageDraft) (models.Message, error) {
	draft.Content = strings.TrimSpace(draft.Content)

	if draft.SenderID == draft.ReceiverID {
		observability.IncMessageRejected("self_message")
		return models.Message{}, ErrSelfMessage
	}
	if draft.Content == "" {
		observability.IncMessageRejected("empty_content")
		return models.Message{}, ErrEmptyContent
	}
	if utf8.RuneCountInString(draft.Content) > s.maxRunes {
		observability.IncMessageRejected("content_too_long")
		return models.Message{}, ErrContentTooLong
	}

	msg, err := s.repo.Insert(ctx, draft)
	if err != nil {
		return models.Message{}, fmt.Errorf("store message: %w", err)
	}
	observability.IncMessageAccepted()

	if s.AcceptHook != nil {
		s.AcceptHook(ctx, msg)
	}

	s.wake(msg.SenderID)
	s.wake(msg.ReceiverID)
	return msg, nil
}

// Subscribe registers a snapshot consumer for every message touching selfID.
// The full current set is delivered immediately, then again after every
// accepted write, until the returned unsubscribe function is called.
// Unsubscribing is idempotent.
func (s *Store) Subscribe(selfID string, onSnapshot func([]models.Message)) func() {
	ctx, cancel := context.WithCancel(context.Background())
	sub := &subscription{
		selfID:     selfID,
		onSnapshot: onSnapshot,
		notify:     make(chan struct{}, 1),
		ctx:        ctx,
		cancel:     cancel,
	}

	s.mu.Lock()
	s.subs[sub] = struct{}{}
	s.mu.Unlock()

	sub.notify <- struct{}{}
	go s.deliver(sub)
	observability.IncWSEvent("store", "subscribe")

	return func() {
		sub.once.Do(func() {
			sub.cancel()
			s.mu.Lock()
			delete(s.subs, sub)
			s.mu.Unlock()
			observability.IncWSEvent("store", "unsubscribe")
		})
	}
}

// wake signals every subscriber whose selfID matches. The notify channel is
// buffered with capacity one: pending wakes coalesce, which is safe because
// a later snapshot contains every earlier accepted write.
func (s *Store) wake(userID string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for sub := range s.subs {
		if sub.selfID != userID {
			continue
		}
		select {
		case sub.notify <- struct{}{}:
		default:
		}
	}
}

// deliver is the per-subscription worker. A single goroutine per subscriber
// serializes callbacks, so snapshots arrive in increasing recency.
func (s *Store) deliver(sub *subscription) {
	for {
		select {
		case <-sub.ctx.Done():
			return
		case <-sub.notify:
			msgs, err := s.loadSnapshot(sub)
			if err != nil {
				// Only happens when the subscription was cancelled mid-retry.
				return
			}
			select {
			case <-sub.ctx.Done():
				return
			default:
			}
			sub.onSnapshot(msgs)
			observability.IncSnapshotDelivered()
		}
	}
}

// loadSnapshot reads the subscriber's full message set, retrying transient
// failures with capped exponential backoff until the subscription is closed.
func (s *Store) loadSnapshot(sub *subscription) ([]models.Message, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 100 * time.Millisecond
	policy.MaxInterval = 5 * time.Second
	policy.MaxElapsedTime = 0

	var msgs []models.Message
	operation := func() error {
		var err error
		msgs, err = s.repo.ListTouchingUser(sub.ctx, sub.selfID)
		if err != nil {
			observability.IncSnapshotReloadError()
			log.Printf("snapshot reload failed for user %s: %v", sub.selfID, err)
		}
		return err
	}
	if err := backoff.Retry(operation, backoff.WithContext(policy, sub.ctx)); err != nil {
		return nil, err
	}
	return msgs, nil
}
