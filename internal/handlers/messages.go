package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"

	"messaging-service/internal/models"
	"messaging-service/internal/presence"
	"messaging-service/internal/repositories"
	"messaging-service/internal/store"
)

// MessageHandler serves the REST surface: directory, conversation summaries,
// history, send and mark-read.
type MessageHandler struct {
	messageStore  store.MessageStore
	messageRepo   repositories.MessageRepository
	directoryRepo repositories.DirectoryRepository
	tracker       presence.Tracker
}

// NewMessageHandler builds a MessageHandler.
func NewMessageHandler(messageStore store.MessageStore, messageRepo repositories.MessageRepository, directoryRepo repositories.DirectoryRepository, tracker presence.Tracker) *MessageHandler {
	return &MessageHandler{
		messageStore:  messageStore,
		messageRepo:   messageRepo,
		directoryRepo: directoryRepo,
		tracker:       tracker,
	}
}

// ListDirectory returns every other user, annotated with presence.
func (h *MessageHandler) ListDirectory(c *gin.Context) {
	userID := c.GetString("userID")

	users, err := h.directoryRepo.ListOtherUsers(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load users"})
		return
	}

	ids := lo.Map(users, func(u models.User, _ int) string { return u.ID })
	online, err := h.tracker.OnlineSet(c.Request.Context(), ids)
	if err != nil {
		// Presence is ornamental; a tracker outage must not break the list.
		online = map[string]bool{}
	}

	entries := lo.Map(users, func(u models.User, _ int) models.DirectoryEntry {
		return models.DirectoryEntry{User: u, IsOnline: online[u.ID]}
	})
	c.JSON(http.StatusOK, gin.H{"users": entries})
}

// ListConversations returns the caller's conversation sidebar: one entry per
// peer with the latest message, unread count and the peer's name.
func (h *MessageHandler) ListConversations(c *gin.Context) {
	userID := c.GetString("userID")

	summaries, err := h.messageRepo.ConversationSummaries(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load conversations"})
		return
	}

	peerIDs := lo.Uniq(lo.Map(summaries, func(s models.ConversationSummary, _ int) string { return s.PeerID }))
	peers, err := h.directoryRepo.BulkUsers(c.Request.Context(), peerIDs)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load peer info"})
		return
	}
	nameByID := lo.SliceToMap(peers, func(u models.User) (string, string) { return u.ID, u.Name })

	type conversationResponse struct {
		models.ConversationSummary
		PeerName string `json:"peer_name,omitempty"`
	}
	responses := lo.Map(summaries, func(s models.ConversationSummary, _ int) conversationResponse {
		return conversationResponse{ConversationSummary: s, PeerName: nameByID[s.PeerID]}
	})

	c.JSON(http.StatusOK, gin.H{"conversations": responses})
}

// GetConversationMessages returns the full ordered history with a peer.
func (h *MessageHandler) GetConversationMessages(c *gin.Context) {
	userID := c.GetString("userID")
	peerID := c.Param("peer_id")

	if _, err := h.directoryRepo.GetUser(c.Request.Context(), peerID); err != nil {
		if errors.Is(err, repositories.ErrUserNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "peer not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to resolve peer"})
		}
		return
	}

	msgs, err := h.messageRepo.ListConversation(c.Request.Context(), userID, peerID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load messages"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// PostConversationMessage submits a message to the peer via the store.
func (h *MessageHandler) PostConversationMessage(c *gin.Context) {
	userID := c.GetString("userID")
	peerID := c.Param("peer_id")

	if _, err := h.directoryRepo.GetUser(c.Request.Context(), peerID); err != nil {
		if errors.Is(err, repositories.ErrUserNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "peer not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to resolve peer"})
		}
		return
	}

	var req struct {
		Content string `json:"content" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg, err := h.messageStore.Submit(c.Request.Context(), models.MessageDraft{
		SenderID:   userID,
		ReceiverID: peerID,
		Content:    req.Content,
	})
	if err != nil {
		switch {
		case errors.Is(err, store.ErrSelfMessage),
			errors.Is(err, store.ErrEmptyContent),
			errors.Is(err, store.ErrContentTooLong):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store message"})
		}
		return
	}

	c.JSON(http.StatusCreated, msg)
}

// MarkConversationRead flags every message from the peer as read.
func (h *MessageHandler) MarkConversationRead(c *gin.Context) {
	userID := c.GetString("userID")
	peerID := c.Param("peer_id")

	updated, err := h.messageRepo.MarkConversationRead(c.Request.Context(), userID, peerID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to mark conversation read"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"updated": updated})
}

// Healthz reports liveness.
func (h *MessageHandler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
