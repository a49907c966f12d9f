package models

import (
	"sort"
	"time"

	"github.com/lib/pq"
)

// Message is a one-to-one message between two users. The id and created_at
// fields are assigned by the store at accept time; clients never invent them.
type Message struct {
	ID           string         `db:"id" json:"id"`
	SenderID     string         `db:"sender_id" json:"sender_id"`
	ReceiverID   string         `db:"receiver_id" json:"receiver_id"`
	Content      string         `db:"content" json:"content"`
	Participants pq.StringArray `db:"participants" json:"participants"`
	IsRead       bool           `db:"is_read" json:"is_read"`
	CreatedAt    time.Time      `db:"created_at" json:"created_at"`
}

// MessageDraft is the client-supplied payload before the store assigns
// id and created_at.
type MessageDraft struct {
	SenderID   string `json:"sender_id"`
	ReceiverID string `json:"receiver_id"`
	Content    string `json:"content"`
}

// Touches reports whether the user is a participant of the message.
func (m Message) Touches(userID string) bool {
	return m.SenderID == userID || m.ReceiverID == userID
}

// Between reports whether the message belongs to the conversation of
// exactly the two given users, in either direction.
func (m Message) Between(userA, userB string) bool {
	return (m.SenderID == userA && m.ReceiverID == userB) ||
		(m.SenderID == userB && m.ReceiverID == userA)
}

// ParticipantPair returns the normalized (sorted) participant pair for a
// sender/receiver combination. The store persists this pair so "all messages
// touching user X" is a single array-membership query.
func ParticipantPair(senderID, receiverID string) pq.StringArray {
	pair := []string{senderID, receiverID}
	sort.Strings(pair)
	return pq.StringArray(pair)
}

// ConversationSummary is the sidebar view of a conversation: the peer, the
// most recent message and the caller's unread count.
type ConversationSummary struct {
	PeerID      string    `db:"peer_id" json:"peer_id"`
	LastContent string    `db:"last_content" json:"last_content"`
	LastAt      time.Time `db:"last_at" json:"last_at"`
	UnreadCount int       `db:"unread_count" json:"unread_count"`
}
