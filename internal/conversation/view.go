package conversation

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"messaging-service/internal/models"
)

var (
	ErrNoPeer       = errors.New("no peer selected")
	ErrSelfPeer     = errors.New("cannot open a conversation with yourself")
	ErrBlankMessage = errors.New("message is blank")
)

// Store is the subset of the message store a view depends on.
type Store interface {
	Submit(ctx context.Context, draft models.MessageDraft) (models.Message, error)
	Subscribe(selfID string, onSnapshot func([]models.Message)) (unsubscribe func())
}

// OnChange is invoked with the projected conversation whenever it changes.
// appended is true only when the message count grew, which is the signal a
// client uses to scroll to the newest entry.
type OnChange func(messages []models.Message, appended bool)

// View owns the ordered message history between a signed-in user and a
// selected peer. It holds at most one live store subscription at a time and
// never mutates the authoritative record locally.
type View struct {
	selfID   string
	store    Store
	onChange OnChange

	mu          sync.Mutex
	peer        *models.User
	messages    []models.Message
	draft       string
	unsubscribe func()
	generation  uint64
}

// NewView constructs a View for the signed-in user.
func NewView(selfID string, store Store, onChange OnChange) *View {
	return &View{selfID: selfID, store: store, onChange: onChange}
}

// SelectPeer switches the conversation to the given peer. Selecting the
// already-active peer is a no-op: the live subscription is kept so the
// message list never flickers. Otherwise the previous subscription is closed
// before the new one opens.
func (v *View) SelectPeer(peer models.User) error {
	if peer.ID == v.selfID {
		return ErrSelfPeer
	}

	v.mu.Lock()
	if v.peer != nil && v.peer.ID == peer.ID {
		v.mu.Unlock()
		return nil
	}
	if v.unsubscribe != nil {
		v.unsubscribe()
		v.unsubscribe = nil
	}
	v.peer = &peer
	v.messages = nil
	v.generation++
	gen := v.generation
	peerID := peer.ID
	v.mu.Unlock()

	// Subscribe outside the lock: some stores deliver the first snapshot
	// synchronously from Subscribe.
	unsub := v.store.Subscribe(v.selfID, func(all []models.Message) {
		v.applySnapshot(gen, peerID, all)
	})

	v.mu.Lock()
	if v.generation != gen {
		// The peer changed again while we were subscribing.
		v.mu.Unlock()
		unsub()
		return nil
	}
	v.unsubscribe = unsub
	v.mu.Unlock()
	return nil
}

// applySnapshot is a pure projection of the broad snapshot onto the active
// pair: filter, order, replace. Re-applying an identical snapshot yields an
// identical list. Deliveries from a superseded subscription are discarded.
func (v *View) applySnapshot(gen uint64, peerID string, all []models.Message) {
	projected := Project(all, v.selfID, peerID)

	v.mu.Lock()
	if v.generation != gen {
		v.mu.Unlock()
		return
	}
	appended := len(projected) > len(v.messages)
	v.messages = projected
	onChange := v.onChange
	v.mu.Unlock()

	if onChange != nil {
		onChange(projected, appended)
	}
}

// SendMessage submits trimmed text to the store. Blank input is rejected
// before any store call. The view never appends optimistically: the message
// becomes visible once the subscription redelivers it. On failure the draft
// is preserved for retry; on acceptance it is cleared.
func (v *View) SendMessage(ctx context.Context, text string) (models.Message, error) {
	v.mu.Lock()
	if v.peer == nil {
		v.mu.Unlock()
		return models.Message{}, ErrNoPeer
	}
	peerID := v.peer.ID
	v.draft = text
	v.mu.Unlock()

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return models.Message{}, ErrBlankMessage
	}

	msg, err := v.store.Submit(ctx, models.MessageDraft{
		SenderID:   v.selfID,
		ReceiverID: peerID,
		Content:    trimmed,
	})
	if err != nil {
		return models.Message{}, err
	}

	v.mu.Lock()
	v.draft = ""
	v.mu.Unlock()
	return msg, nil
}

// Close tears down the active subscription. Safe to call more than once.
func (v *View) Close() {
	v.mu.Lock()
	unsub := v.unsubscribe
	v.unsubscribe = nil
	v.peer = nil
	v.messages = nil
	v.generation++
	v.mu.Unlock()

	if unsub != nil {
		unsub()
	}
}

// Peer returns the currently selected peer, if any.
func (v *View) Peer() *models.User {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.peer == nil {
		return nil
	}
	peer := *v.peer
	return &peer
}

// Draft returns the preserved draft text.
func (v *View) Draft() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.draft
}

// Messages returns a copy of the projected conversation.
func (v *View) Messages() []models.Message {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]models.Message, len(v.messages))
	copy(out, v.messages)
	return out
}

// Project filters a broad snapshot down to the messages exchanged between
// self and peer and orders them ascending by (created_at, id). The id
// tie-break makes the order a deterministic total order even when store
// timestamps collide.
func Project(all []models.Message, selfID, peerID string) []models.Message {
	projected := make([]models.Message, 0, len(all))
	for _, msg := range all {
		if msg.Between(selfID, peerID) {
			projected = append(projected, msg)
		}
	}
	sort.SliceStable(projected, func(i, j int) bool {
		if projected[i].CreatedAt.Equal(projected[j].CreatedAt) {
			return projected[i].ID < projected[j].ID
		}
		return projected[i].CreatedAt.Before(projected[j].CreatedAt)
	})
	return projected
}
