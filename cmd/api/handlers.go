package main

import (
	"errors"
	"log"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sharathr123/restochat/internal/auth"
	"github.com/sharathr123/restochat/internal/chat"
	"github.com/sharathr123/restochat/internal/data"
	"github.com/sharathr123/restochat/internal/normalize"
)

const (
	minPasswordLen    = 6
	defaultPageSize   = 50
	maxPageSize       = 200
	searchResultLimit = 20
	minSearchQueryLen = 2
)

func respondData(c *gin.Context, status int, data any) {
	c.JSON(status, gin.H{"success": true, "data": data})
}

func respondError(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"success": false, "message": message})
}

// respondServiceError maps core errors onto HTTP statuses. Unknown errors
// are logged and reported as 500 without leaking internals.
func respondServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, chat.ErrNotParticipant):
		respondError(c, http.StatusForbidden, "not a participant of this chat")
	case errors.Is(err, chat.ErrChatNotFound),
		errors.Is(err, chat.ErrMessageNotFound),
		errors.Is(err, chat.ErrUserNotFound):
		respondError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, chat.ErrInvalidChat), errors.Is(err, chat.ErrEmptyMessage):
		respondError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, data.ErrDuplicateUser):
		respondError(c, http.StatusConflict, "email already registered")
	default:
		log.Printf("handler error: %v", err)
		respondError(c, http.StatusInternalServerError, "internal error")
	}
}

type registerRequest struct {
	Name     string `json:"name" binding:"required"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

func (s *Server) handleRegister(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "name, email and password are required")
		return
	}
	if len(req.Password) < minPasswordLen {
		respondError(c, http.StatusBadRequest, "password must be at least 6 characters")
		return
	}

	email := normalize.Email(req.Email)

	exists, err := s.users.UserExists(c.Request.Context(), email)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	if exists {
		respondError(c, http.StatusConflict, "email already registered")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	user, err := s.users.CreateUser(c.Request.Context(), req.Name, email, hash)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	token, expiresAt, err := s.auth.GenerateToken(user.ID, user.Email)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	respondData(c, http.StatusCreated, gin.H{
		"token":      token,
		"expires_at": expiresAt,
		"user":       user,
	})
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (s *Server) handleLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "email and password are required")
		return
	}

	user, err := s.users.GetUserByEmail(c.Request.Context(), normalize.Email(req.Email))
	if err != nil {
		if errors.Is(err, data.ErrUserNotFound) {
			respondError(c, http.StatusUnauthorized, "invalid credentials")
			return
		}
		respondServiceError(c, err)
		return
	}

	if err := auth.CheckPassword(user.Password, req.Password); err != nil {
		respondError(c, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, expiresAt, err := s.auth.GenerateToken(user.ID, user.Email)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	respondData(c, http.StatusOK, gin.H{
		"token":      token,
		"expires_at": expiresAt,
		"user":       user,
	})
}

func (s *Server) handleMe(c *gin.Context) {
	user, err := s.users.GetUserByID(c.Request.Context(), currentUserID(c))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondData(c, http.StatusOK, user)
}

// chatView is a conversation as seen by one participant: the shared document
// plus that participant's own unread/pin/mute state lifted to the top level.
// For direct chats the peer's live presence comes straight from the hub, not
// from the cached user document.
type chatView struct {
	*data.Chat
	UnreadCount int        `json:"unread_count"`
	IsPinned    bool       `json:"is_pinned"`
	MutedUntil  *time.Time `json:"muted_until,omitempty"`
	PeerID      string     `json:"peer_id,omitempty"`
	PeerOnline  bool       `json:"peer_online,omitempty"`
}

func (s *Server) viewFor(ch *data.Chat, userID string) chatView {
	v := chatView{Chat: ch}
	if p, ok := ch.ParticipantByHex(userID); ok {
		v.UnreadCount = p.UnreadCount
		v.IsPinned = p.IsPinned
		v.MutedUntil = p.MutedUntil
	}
	if ch.Kind == data.ChatDirect {
		if others := ch.OtherParticipantHexIDs(userID); len(others) == 1 {
			v.PeerID = others[0]
			v.PeerOnline = s.hub.IsOnline(others[0])
		}
	}
	return v
}

func (s *Server) handleListChats(c *gin.Context) {
	userID := currentUserID(c)

	chats, err := s.chats.ListUserChats(c.Request.Context(), userID)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	views := make([]chatView, 0, len(chats))
	for _, ch := range chats {
		views = append(views, s.viewFor(ch, userID))
	}
	// Pinned conversations float to the top; within each group the store's
	// recency order is kept.
	sort.SliceStable(views, func(i, j int) bool {
		return views[i].IsPinned && !views[j].IsPinned
	})
	respondData(c, http.StatusOK, views)
}

type createChatRequest struct {
	ParticipantIDs []string `json:"participant_ids" binding:"required"`
	Kind           string   `json:"kind"`
	Name           string   `json:"name"`
}

func (s *Server) handleCreateChat(c *gin.Context) {
	var req createChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "participant_ids is required")
		return
	}

	ch, existing, err := s.svc.CreateChat(c.Request.Context(), chat.CreateChatInput{
		CreatorID:      currentUserID(c),
		ParticipantIDs: req.ParticipantIDs,
		Kind:           req.Kind,
		Name:           req.Name,
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}

	status := http.StatusCreated
	if existing {
		status = http.StatusOK
	}
	respondData(c, status, s.viewFor(ch, currentUserID(c)))
}

// handleGetChat returns a full conversation and, as a side effect, marks it
// read for the caller; opening a conversation from the list is what clears
// its unread badge.
func (s *Server) handleGetChat(c *gin.Context) {
	userID := currentUserID(c)
	chatID := c.Param("id")

	if err := s.svc.MarkRead(c.Request.Context(), userID, chatID); err != nil {
		respondServiceError(c, err)
		return
	}

	ch, err := s.chats.GetChat(c.Request.Context(), chatID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondData(c, http.StatusOK, s.viewFor(ch, userID))
}

// handleListMessages pages through a conversation's messages. The optional
// "after" cursor (RFC 3339) is how reconnecting clients catch up on anything
// pushed while they were offline.
func (s *Server) handleListMessages(c *gin.Context) {
	userID := currentUserID(c)
	chatID := c.Param("id")

	meta, err := s.chats.GetChatMeta(c.Request.Context(), chatID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	if !meta.HasParticipantHex(userID) {
		respondServiceError(c, chat.ErrNotParticipant)
		return
	}

	var after time.Time
	if raw := c.Query("after"); raw != "" {
		after, err = time.Parse(time.RFC3339, raw)
		if err != nil {
			respondError(c, http.StatusBadRequest, "after must be an RFC 3339 timestamp")
			return
		}
	}

	limit := int64(defaultPageSize)
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n < 1 {
			respondError(c, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		if n > maxPageSize {
			n = maxPageSize
		}
		limit = n
	}

	msgs, err := s.chats.ListMessagesAfter(c.Request.Context(), chatID, after, limit)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondData(c, http.StatusOK, msgs)
}

type sendMessageRequest struct {
	Content  string `json:"content"`
	Type     string `json:"type"`
	ReplyTo  string `json:"reply_to"`
	FileURL  string `json:"file_url"`
	FileName string `json:"file_name"`
	FileSize int64  `json:"file_size"`
}

func (s *Server) handleSendMessage(c *gin.Context) {
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid message body")
		return
	}

	msg, err := s.svc.SendMessage(c.Request.Context(), chat.SendMessageInput{
		ChatID:   c.Param("id"),
		SenderID: currentUserID(c),
		Content:  req.Content,
		Type:     req.Type,
		ReplyTo:  req.ReplyTo,
		FileURL:  req.FileURL,
		FileName: req.FileName,
		FileSize: req.FileSize,
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondData(c, http.StatusCreated, msg)
}

type pinRequest struct {
	Pinned *bool `json:"pinned" binding:"required"`
}

func (s *Server) handlePinChat(c *gin.Context) {
	var req pinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "pinned is required")
		return
	}

	userID := currentUserID(c)
	chatID := c.Param("id")

	if err := s.requireMembership(c, chatID, userID); err != nil {
		return
	}
	if err := s.chats.SetPinned(c.Request.Context(), chatID, userID, *req.Pinned); err != nil {
		respondServiceError(c, err)
		return
	}
	respondData(c, http.StatusOK, gin.H{"pinned": *req.Pinned})
}

type muteRequest struct {
	// Hours to mute for; zero or negative unmutes.
	Hours int `json:"hours"`
}

func (s *Server) handleMuteChat(c *gin.Context) {
	var req muteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid mute body")
		return
	}

	userID := currentUserID(c)
	chatID := c.Param("id")

	if err := s.requireMembership(c, chatID, userID); err != nil {
		return
	}

	var until *time.Time
	if req.Hours > 0 {
		t := time.Now().Add(time.Duration(req.Hours) * time.Hour)
		until = &t
	}
	if err := s.chats.SetMuted(c.Request.Context(), chatID, userID, until); err != nil {
		respondServiceError(c, err)
		return
	}
	respondData(c, http.StatusOK, gin.H{"muted_until": until})
}

// handleDeleteMessage soft-deletes a message the caller authored: the
// document stays in place with its content blanked so ordering and reply
// references survive.
func (s *Server) handleDeleteMessage(c *gin.Context) {
	err := s.chats.SoftDeleteMessage(
		c.Request.Context(),
		c.Param("id"),
		c.Param("messageID"),
		currentUserID(c),
		time.Now().UTC(),
	)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondData(c, http.StatusOK, gin.H{"deleted": true})
}

func (s *Server) handleOnlineUsers(c *gin.Context) {
	users, err := s.users.OnlineUsers(c.Request.Context(), currentUserID(c))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondData(c, http.StatusOK, users)
}

func (s *Server) handleSearchUsers(c *gin.Context) {
	query := normalize.Query(c.Query("q"))
	if len(query) < minSearchQueryLen {
		respondError(c, http.StatusBadRequest, "query must be at least 2 characters")
		return
	}

	users, err := s.users.SearchUsers(c.Request.Context(), query, currentUserID(c), searchResultLimit)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondData(c, http.StatusOK, users)
}

// requireMembership loads the conversation metadata and rejects callers who
// are not participants. It writes the error response itself; a non-nil
// return just tells the handler to stop.
func (s *Server) requireMembership(c *gin.Context, chatID, userID string) error {
	meta, err := s.chats.GetChatMeta(c.Request.Context(), chatID)
	if err != nil {
		respondServiceError(c, err)
		return err
	}
	if !meta.HasParticipantHex(userID) {
		respondServiceError(c, chat.ErrNotParticipant)
		return chat.ErrNotParticipant
	}
	return nil
}
