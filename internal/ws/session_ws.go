package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"

	"messaging-service/internal/conversation"
	"messaging-service/internal/models"
	"messaging-service/internal/observability"
	"messaging-service/internal/presence"
	"messaging-service/internal/repositories"
	"messaging-service/internal/store"
)

// TokenValidator resolves a bearer token to a user id.
type TokenValidator func(ctx context.Context, token string) (string, error)

// ClientCommand is the inbound websocket protocol: select a peer, then send.
type ClientCommand struct {
	Type    string `json:"type"`
	PeerID  string `json:"peer_id,omitempty"`
	Content string `json:"content,omitempty"`
}

// Event is the outbound websocket protocol.
type Event struct {
	Type     string                  `json:"type"`
	PeerID   string                  `json:"peer_id,omitempty"`
	Messages []conversation.Rendered `json:"messages,omitempty"`
	Appended bool                    `json:"appended,omitempty"`
	Message  *models.Message         `json:"message,omitempty"`
	Error    string                  `json:"error,omitempty"`
}

// SessionHandler upgrades websocket connections into conversation sessions.
// Each session holds one server-side conversation view subscribed to the
// message store on the client's behalf.
type SessionHandler struct {
	hub             *Hub
	messageStore    store.MessageStore
	directoryRepo   repositories.DirectoryRepository
	tracker         presence.Tracker
	refreshInterval time.Duration
	validateToken   TokenValidator
}

// NewSessionHandler constructs a SessionHandler. refreshInterval sets how often
// a live session re-asserts its presence; zero disables refreshing.
func NewSessionHandler(hub *Hub, messageStore store.MessageStore, directoryRepo repositories.DirectoryRepository, tracker presence.Tracker, refreshInterval time.Duration, validateToken TokenValidator) *SessionHandler {
	return &SessionHandler{
		hub:             hub,
		messageStore:    messageStore,
		directoryRepo:   directoryRepo,
		tracker:         tracker,
		refreshInterval: refreshInterval,
		validateToken:   validateToken,
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handle authenticates, upgrades and runs the session until the client
// disconnects. The view's subscription is closed exactly once on teardown.
func (h *SessionHandler) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("messaging-service/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	token := c.GetHeader("Authorization")
	if token == "" {
		token = c.Query("token")
		if token != "" {
			token = "Bearer " + token
		}
	}

	userID, err := h.resolveUser(c.Request.Context(), token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	traceID := span.SpanContext().TraceID().String()
	requestID := observability.RequestIDFromRequest(c.Request)
	info := ConnInfo{
		ConnID:      newConnID(),
		UserID:      userID,
		DeviceID:    observability.DeviceIDFromRequest(c.Request),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   requestID,
		TraceID:     traceID,
		ConnectedAt: time.Now(),
	}
	h.hub.AddSession(userID, conn, info)
	if err := h.tracker.MarkOnline(ctx, userID); err != nil {
		log.Printf("presence mark online failed for %s: %v", userID, err)
	}

	observability.IncWSActive("session")
	observability.IncWSEvent("session", "ws_connect")
	publishSessionEvent(ctx, "ws_connect", info, 0, "")

	session := &session{
		conn:   conn,
		info:   info,
		selfID: userID,
		done:   make(chan struct{}),
	}
	session.view = conversation.NewView(userID, h.messageStore, session.pushConversation)

	// net/http cancels the request context as soon as this handler returns;
	// the session outlives it, so every command runs on a detached context.
	sessionCtx := context.WithoutCancel(ctx)
	if h.refreshInterval > 0 {
		go h.refreshPresence(sessionCtx, session)
	}
	go h.readLoop(sessionCtx, session)
}

type session struct {
	conn   *websocket.Conn
	info   ConnInfo
	selfID string
	view   *conversation.View
	done   chan struct{}

	writeMu sync.Mutex
}

// pushConversation forwards each projected snapshot to the client. appended
// signals the client to scroll to the newest message; it is false on
// unchanged-length redeliveries so unrelated re-renders cause no scroll jank.
func (s *session) pushConversation(msgs []models.Message, appended bool) {
	peer := s.view.Peer()
	if peer == nil {
		return
	}
	s.send(Event{
		Type:     "conversation",
		PeerID:   peer.ID,
		Messages: conversation.RenderAll(msgs, s.selfID, nil),
		Appended: appended,
	})
}

func (s *session) send(event Event) {
	payload, _ := json.Marshal(event)
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		log.Printf("websocket write error: %v", err)
	}
}

// refreshPresence keeps the tracker's TTL entry alive for sessions that
// outlast it.
func (h *SessionHandler) refreshPresence(ctx context.Context, s *session) {
	ticker := time.NewTicker(h.refreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if err := h.tracker.Refresh(ctx, s.selfID); err != nil {
				log.Printf("presence refresh failed for %s: %v", s.selfID, err)
			}
		}
	}
}

func (h *SessionHandler) readLoop(ctx context.Context, s *session) {
	var closeReason string
	defer func() {
		close(s.done)
		s.view.Close()
		h.hub.RemoveSession(s.selfID, s.conn)
		if err := h.tracker.MarkOffline(context.Background(), s.selfID); err != nil {
			log.Printf("presence mark offline failed for %s: %v", s.selfID, err)
		}
		observability.DecWSActive("session")
		observability.IncWSEvent("session", "ws_disconnect")
		publishSessionEvent(ctx, "ws_disconnect", s.info, time.Since(s.info.ConnectedAt), closeReason)
		s.conn.Close()
	}()

	for {
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			closeReason = err.Error()
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				observability.IncWSEvent("session", "ws_error")
				publishSessionEvent(ctx, "ws_error", s.info, time.Since(s.info.ConnectedAt), closeReason)
			}
			return
		}

		var cmd ClientCommand
		if err := json.Unmarshal(payload, &cmd); err != nil {
			s.send(Event{Type: "error", Error: "malformed command"})
			continue
		}
		h.handleCommand(ctx, s, cmd)
	}
}

func (h *SessionHandler) handleCommand(ctx context.Context, s *session, cmd ClientCommand) {
	switch cmd.Type {
	case "select_peer":
		peer, err := h.directoryRepo.GetUser(ctx, cmd.PeerID)
		if err != nil {
			// A failed peer switch reverts the session to the no-peer state;
			// the previous peer's subscription must not stay live.
			s.view.Close()
			if errors.Is(err, repositories.ErrUserNotFound) {
				s.send(Event{Type: "error", PeerID: cmd.PeerID, Error: "unknown peer"})
				return
			}
			s.send(Event{Type: "error", PeerID: cmd.PeerID, Error: "failed to resolve peer"})
			return
		}
		if err := s.view.SelectPeer(peer); err != nil {
			s.send(Event{Type: "error", PeerID: cmd.PeerID, Error: err.Error()})
			return
		}
		s.send(Event{Type: "peer_selected", PeerID: peer.ID})
	case "send":
		msg, err := s.view.SendMessage(ctx, cmd.Content)
		if err != nil {
			// The draft stays on the view; the client may retry.
			s.send(Event{Type: "error", Error: sendErrorReason(err)})
			return
		}
		s.send(Event{Type: "accepted", Message: &msg})
	default:
		s.send(Event{Type: "error", Error: fmt.Sprintf("unknown command %q", cmd.Type)})
	}
}

func sendErrorReason(err error) string {
	switch {
	case errors.Is(err, conversation.ErrNoPeer),
		errors.Is(err, conversation.ErrBlankMessage),
		errors.Is(err, store.ErrSelfMessage),
		errors.Is(err, store.ErrEmptyContent),
		errors.Is(err, store.ErrContentTooLong):
		return err.Error()
	default:
		return "failed to send message"
	}
}

func (h *SessionHandler) resolveUser(ctx context.Context, header string) (string, error) {
	parts := strings.Split(header, " ")
	if len(parts) == 2 {
		return h.validateToken(ctx, parts[1])
	}
	return "", fmt.Errorf("invalid token")
}

func publishSessionEvent(ctx context.Context, event string, info ConnInfo, duration time.Duration, reason string) {
	payload := map[string]interface{}{
		"ws": map[string]interface{}{
			"event":       event,
			"conn_id":     info.ConnID,
			"duration_ms": duration.Milliseconds(),
			"reason":      reason,
		},
		"identity": map[string]interface{}{
			"user_id":   info.UserID,
			"device_id": info.DeviceID,
			"ip":        info.IP,
		},
	}

	headers := observability.BuildHeaders(info.RequestID, info.TraceID)
	_ = observability.PublishEvent(ctx, "ws_events.sessions", observability.EventEnvelope{
		EventType: "ws_events",
		EventName: event,
		Payload:   payload,
	}, headers)
}
