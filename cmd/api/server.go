package main

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sharathr123/restochat/internal/auth"
	"github.com/sharathr123/restochat/internal/chat"
	"github.com/sharathr123/restochat/internal/data"
	"github.com/sharathr123/restochat/internal/middleware"
	"github.com/sharathr123/restochat/internal/realtime"
)

// userStore is the subset of data.UsersStore the HTTP handlers use.
type userStore interface {
	CreateUser(ctx context.Context, name, email, hashedPassword string) (*data.User, error)
	GetUserByEmail(ctx context.Context, email string) (*data.User, error)
	GetUserByID(ctx context.Context, userID string) (*data.User, error)
	UserExists(ctx context.Context, email string) (bool, error)
	OnlineUsers(ctx context.Context, excludeUserID string) ([]*data.User, error)
	SearchUsers(ctx context.Context, query, excludeUserID string, limit int64) ([]*data.User, error)
}

// chatStore is the subset of data.ChatsStore the HTTP handlers use directly;
// everything that needs fan-out goes through the chat.Service instead.
type chatStore interface {
	GetChat(ctx context.Context, chatID string) (*data.Chat, error)
	GetChatMeta(ctx context.Context, chatID string) (*data.Chat, error)
	ListUserChats(ctx context.Context, userID string) ([]*data.Chat, error)
	ListMessagesAfter(ctx context.Context, chatID string, after time.Time, limit int64) ([]data.Message, error)
	SetPinned(ctx context.Context, chatID, userID string, pinned bool) error
	SetMuted(ctx context.Context, chatID, userID string, until *time.Time) error
	SoftDeleteMessage(ctx context.Context, chatID, messageID, senderID string, at time.Time) error
}

var (
	_ userStore = (*data.UsersStore)(nil)
	_ chatStore = (*data.ChatsStore)(nil)
)

// Server holds the handler dependencies: stores for reads, the chat service
// for anything that must fan out to connected clients, and the hub for the
// websocket endpoint itself.
type Server struct {
	users   userStore
	chats   chatStore
	svc     *chat.Service
	hub     *realtime.Hub
	auth    *auth.JWTManager
	limiter *middleware.LimiterStore
}

// newServer returns a ready-to-use Server wired with stores, the chat
// service, the connection hub, and the auth manager.
func newServer(users userStore, chats chatStore, svc *chat.Service, hub *realtime.Hub, authMgr *auth.JWTManager, limiter *middleware.LimiterStore) *Server {
	return &Server{users: users, chats: chats, svc: svc, hub: hub, auth: authMgr, limiter: limiter}
}

// routes registers every endpoint on the given engine.
func (s *Server) routes(r *gin.Engine) {
	api := r.Group("/api")

	public := api.Group("/auth")
	if s.limiter != nil {
		public.Use(middleware.RateLimit(s.limiter))
	}
	public.POST("/register", s.handleRegister)
	public.POST("/login", s.handleLogin)

	authed := api.Group("")
	authed.Use(s.requireAuth())
	authed.GET("/me", s.handleMe)

	authed.GET("/chats", s.handleListChats)
	authed.POST("/chats", s.handleCreateChat)
	authed.GET("/chats/:id", s.handleGetChat)
	authed.GET("/chats/:id/messages", s.handleListMessages)
	authed.POST("/chats/:id/messages", s.handleSendMessage)
	authed.PUT("/chats/:id/pin", s.handlePinChat)
	authed.PUT("/chats/:id/mute", s.handleMuteChat)
	authed.DELETE("/chats/:id/messages/:messageID", s.handleDeleteMessage)

	authed.GET("/users/online", s.handleOnlineUsers)
	authed.GET("/users/search", s.handleSearchUsers)

	r.GET("/ws", s.handleSocket)
}
