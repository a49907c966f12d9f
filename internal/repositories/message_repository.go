package repositories

import (
	"context"
	"errors"
	"sort"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"messaging-service/internal/models"
)

var ErrMessageNotFound = errors.New("message not found")

// MessageRepository defines persistence for one-to-one messages.
type MessageRepository interface {
	Insert(ctx context.Context, draft models.MessageDraft) (models.Message, error)
	ListTouchingUser(ctx context.Context, userID string) ([]models.Message, error)
	ListConversation(ctx context.Context, userID, peerID string) ([]models.Message, error)
	ConversationSummaries(ctx context.Context, userID string) ([]models.ConversationSummary, error)
	MarkConversationRead(ctx context.Context, userID, peerID string) (int64, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// Insert stores a message. The id is assigned here and created_at by the
// database at accept time; the caller's clock is never trusted.
func (r *MessageRepo) Insert(ctx context.Context, draft models.MessageDraft) (models.Message, error) {
	var msg models.Message
	err := r.db.QueryRowxContext(ctx,
		`INSERT INTO messages (id, sender_id, receiver_id, content, participants)
         VALUES ($1, $2, $3, $4, $5)
         RETURNING id, sender_id, receiver_id, content, participants, is_read, created_at`,
		uuid.NewString(), draft.SenderID, draft.ReceiverID, draft.Content,
		models.ParticipantPair(draft.SenderID, draft.ReceiverID)).
		StructScan(&msg)
	return msg, err
}

// ListTouchingUser returns every message the user sent or received, in the
// conversation total order.
func (r *MessageRepo) ListTouchingUser(ctx context.Context, userID string) ([]models.Message, error) {
	var msgs []models.Message
	err := r.db.SelectContext(ctx, &msgs,
		`SELECT id, sender_id, receiver_id, content, participants, is_read, created_at
         FROM messages
         WHERE $1 = ANY(participants)
         ORDER BY created_at ASC, id ASC`, userID)
	return msgs, err
}

// ListConversation returns the messages exchanged between exactly two users.
// Ties on created_at are broken by id so the order is a deterministic total
// order.
func (r *MessageRepo) ListConversation(ctx context.Context, userID, peerID string) ([]models.Message, error) {
	var msgs []models.Message
	err := r.db.SelectContext(ctx, &msgs,
		`SELECT id, sender_id, receiver_id, content, participants, is_read, created_at
         FROM messages
         WHERE participants = $1
         ORDER BY created_at ASC, id ASC`,
		models.ParticipantPair(userID, peerID))
	return msgs, err
}

// ConversationSummaries returns, per peer, the latest message and the caller's
// unread count, most recent conversation first.
func (r *MessageRepo) ConversationSummaries(ctx context.Context, userID string) ([]models.ConversationSummary, error) {
	var summaries []models.ConversationSummary
	err := r.db.SelectContext(ctx, &summaries,
		`SELECT DISTINCT ON (peer_id) peer_id, content AS last_content, created_at AS last_at,
            (SELECT COUNT(*) FROM messages u
             WHERE u.receiver_id = $1 AND u.sender_id = peers.peer_id AND u.is_read = FALSE) AS unread_count
         FROM (
            SELECT *, CASE WHEN sender_id = $1 THEN receiver_id ELSE sender_id END AS peer_id
            FROM messages WHERE $1 = ANY(participants)
         ) peers
         ORDER BY peer_id, created_at DESC, id DESC`, userID)
	if err != nil {
		return nil, err
	}
	// DISTINCT ON forces peer_id ordering; re-sort by recency for the sidebar.
	sortSummariesByRecency(summaries)
	return summaries, nil
}

func sortSummariesByRecency(summaries []models.ConversationSummary) {
	sort.SliceStable(summaries, func(i, j int) bool {
		return summaries[i].LastAt.After(summaries[j].LastAt)
	})
}

// MarkConversationRead flags every message the peer sent to the user as read
// and reports how many rows changed.
func (r *MessageRepo) MarkConversationRead(ctx context.Context, userID, peerID string) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE messages SET is_read = TRUE
         WHERE receiver_id = $1 AND sender_id = $2 AND is_read = FALSE`, userID, peerID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
