package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"messaging-service/internal/mocks"
	"messaging-service/internal/models"
	"messaging-service/internal/repositories"
	"messaging-service/internal/store"
)

func setupRouter(handler *MessageHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("userID", "u1")
		c.Next()
	})
	r.GET("/users", handler.ListDirectory)
	r.GET("/conversations", handler.ListConversations)
	r.GET("/conversations/:peer_id/messages", handler.GetConversationMessages)
	r.POST("/conversations/:peer_id/messages", handler.PostConversationMessage)
	r.POST("/conversations/:peer_id/read", handler.MarkConversationRead)
	return r
}

func TestListDirectoryAnnotatesPresence(t *testing.T) {
	directoryRepo := new(mocks.DirectoryRepositoryMock)
	tracker := new(mocks.TrackerMock)
	handler := NewMessageHandler(nil, nil, directoryRepo, tracker)
	router := setupRouter(handler)

	directoryRepo.On("ListOtherUsers", mock.Anything, "u1").
		Return([]models.User{{ID: "u2", Name: "bob"}, {ID: "u3", Name: "carol"}}, nil).Once()
	tracker.On("OnlineSet", mock.Anything, []string{"u2", "u3"}).
		Return(map[string]bool{"u2": true, "u3": false}, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/users", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Users []models.DirectoryEntry `json:"users"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Users, 2)
	assert.True(t, resp.Users[0].IsOnline)
	assert.False(t, resp.Users[1].IsOnline)

	directoryRepo.AssertExpectations(t)
	tracker.AssertExpectations(t)
}

func TestListDirectoryToleratesTrackerOutage(t *testing.T) {
	directoryRepo := new(mocks.DirectoryRepositoryMock)
	tracker := new(mocks.TrackerMock)
	handler := NewMessageHandler(nil, nil, directoryRepo, tracker)
	router := setupRouter(handler)

	directoryRepo.On("ListOtherUsers", mock.Anything, "u1").
		Return([]models.User{{ID: "u2", Name: "bob"}}, nil).Once()
	tracker.On("OnlineSet", mock.Anything, []string{"u2"}).
		Return((map[string]bool)(nil), assert.AnError).Once()

	req := httptest.NewRequest(http.MethodGet, "/users", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestListDirectoryRepoError(t *testing.T) {
	directoryRepo := new(mocks.DirectoryRepositoryMock)
	handler := NewMessageHandler(nil, nil, directoryRepo, new(mocks.TrackerMock))
	router := setupRouter(handler)

	directoryRepo.On("ListOtherUsers", mock.Anything, "u1").
		Return(([]models.User)(nil), assert.AnError).Once()

	req := httptest.NewRequest(http.MethodGet, "/users", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	directoryRepo.AssertExpectations(t)
}

func TestListConversationsJoinsPeerNames(t *testing.T) {
	messageRepo := new(mocks.MessageRepositoryMock)
	directoryRepo := new(mocks.DirectoryRepositoryMock)
	handler := NewMessageHandler(nil, messageRepo, directoryRepo, new(mocks.TrackerMock))
	router := setupRouter(handler)

	messageRepo.On("ConversationSummaries", mock.Anything, "u1").
		Return([]models.ConversationSummary{{PeerID: "u2", LastContent: "hi", UnreadCount: 3}}, nil).Once()
	directoryRepo.On("BulkUsers", mock.Anything, []string{"u2"}).
		Return([]models.User{{ID: "u2", Name: "bob"}}, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/conversations", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Conversations []struct {
			PeerID      string `json:"peer_id"`
			PeerName    string `json:"peer_name"`
			UnreadCount int    `json:"unread_count"`
		} `json:"conversations"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Conversations, 1)
	assert.Equal(t, "bob", resp.Conversations[0].PeerName)
	assert.Equal(t, 3, resp.Conversations[0].UnreadCount)

	messageRepo.AssertExpectations(t)
	directoryRepo.AssertExpectations(t)
}

func TestGetConversationMessagesSuccess(t *testing.T) {
	messageRepo := new(mocks.MessageRepositoryMock)
	directoryRepo := new(mocks.DirectoryRepositoryMock)
	handler := NewMessageHandler(nil, messageRepo, directoryRepo, new(mocks.TrackerMock))
	router := setupRouter(handler)

	directoryRepo.On("GetUser", mock.Anything, "u2").Return(models.User{ID: "u2"}, nil).Once()
	messageRepo.On("ListConversation", mock.Anything, "u1", "u2").
		Return([]models.Message{{ID: "m1", SenderID: "u1", ReceiverID: "u2", Content: "hello"}}, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/conversations/u2/messages", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	messageRepo.AssertExpectations(t)
	directoryRepo.AssertExpectations(t)
}

func TestGetConversationMessagesUnknownPeer(t *testing.T) {
	directoryRepo := new(mocks.DirectoryRepositoryMock)
	handler := NewMessageHandler(nil, new(mocks.MessageRepositoryMock), directoryRepo, new(mocks.TrackerMock))
	router := setupRouter(handler)

	directoryRepo.On("GetUser", mock.Anything, "ghost").
		Return(models.User{}, repositories.ErrUserNotFound).Once()

	req := httptest.NewRequest(http.MethodGet, "/conversations/ghost/messages", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetConversationMessagesPeerLookupFailure(t *testing.T) {
	directoryRepo := new(mocks.DirectoryRepositoryMock)
	handler := NewMessageHandler(nil, new(mocks.MessageRepositoryMock), directoryRepo, new(mocks.TrackerMock))
	router := setupRouter(handler)

	directoryRepo.On("GetUser", mock.Anything, "u2").Return(models.User{}, assert.AnError).Once()

	req := httptest.NewRequest(http.MethodGet, "/conversations/u2/messages", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "failed to resolve peer")
}

func TestPostConversationMessageSuccess(t *testing.T) {
	messageStore := new(mocks.MessageStoreMock)
	directoryRepo := new(mocks.DirectoryRepositoryMock)
	handler := NewMessageHandler(messageStore, new(mocks.MessageRepositoryMock), directoryRepo, new(mocks.TrackerMock))
	router := setupRouter(handler)

	directoryRepo.On("GetUser", mock.Anything, "u2").Return(models.User{ID: "u2"}, nil).Once()
	messageStore.On("Submit", mock.Anything, models.MessageDraft{SenderID: "u1", ReceiverID: "u2", Content: "hello"}).
		Return(models.Message{ID: "m1", SenderID: "u1", ReceiverID: "u2", Content: "hello"}, nil).Once()

	req := httptest.NewRequest(http.MethodPost, "/conversations/u2/messages", bytes.NewBufferString(`{"content":"hello"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	messageStore.AssertExpectations(t)
	directoryRepo.AssertExpectations(t)
}

func TestPostConversationMessageValidationError(t *testing.T) {
	messageStore := new(mocks.MessageStoreMock)
	directoryRepo := new(mocks.DirectoryRepositoryMock)
	handler := NewMessageHandler(messageStore, new(mocks.MessageRepositoryMock), directoryRepo, new(mocks.TrackerMock))
	router := setupRouter(handler)

	directoryRepo.On("GetUser", mock.Anything, "u2").Return(models.User{ID: "u2"}, nil).Once()
	messageStore.On("Submit", mock.Anything, mock.Anything).
		Return(models.Message{}, store.ErrEmptyContent).Once()

	req := httptest.NewRequest(http.MethodPost, "/conversations/u2/messages", bytes.NewBufferString(`{"content":"   "}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPostConversationMessageMissingBody(t *testing.T) {
	messageStore := new(mocks.MessageStoreMock)
	directoryRepo := new(mocks.DirectoryRepositoryMock)
	handler := NewMessageHandler(messageStore, new(mocks.MessageRepositoryMock), directoryRepo, new(mocks.TrackerMock))
	router := setupRouter(handler)

	directoryRepo.On("GetUser", mock.Anything, "u2").Return(models.User{ID: "u2"}, nil).Once()

	req := httptest.NewRequest(http.MethodPost, "/conversations/u2/messages", bytes.NewBufferString(`{}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	messageStore.AssertNotCalled(t, "Submit", mock.Anything, mock.Anything)
}

func TestMarkConversationRead(t *testing.T) {
	messageRepo := new(mocks.MessageRepositoryMock)
	handler := NewMessageHandler(nil, messageRepo, new(mocks.DirectoryRepositoryMock), new(mocks.TrackerMock))
	router := setupRouter(handler)

	messageRepo.On("MarkConversationRead", mock.Anything, "u1", "u2").Return(int64(2), nil).Once()

	req := httptest.NewRequest(http.MethodPost, "/conversations/u2/read", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]int64
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, int64(2), resp["updated"])
	messageRepo.AssertExpectations(t)
}
