package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/sharathr123/restochat/internal/chat"
	"github.com/sharathr123/restochat/internal/realtime"
)

const (
	// pongWait must exceed the connection's ping period or healthy clients
	// would be dropped between pings.
	pongWait      = 60 * time.Second
	maxFrameBytes = 64 << 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Browser clients connect from the restaurant front-end on a different
	// origin; token auth is what gates the socket.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// inboundFrame is what clients send over the socket: a type tag plus a
// type-specific payload, mirroring the server-to-client envelope.
type inboundFrame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type chatRef struct {
	ChatID string `json:"chat_id"`
}

type typingFrame struct {
	ChatID   string `json:"chat_id"`
	IsTyping bool   `json:"is_typing"`
}

type messageRef struct {
	ChatID    string `json:"chat_id"`
	MessageID string `json:"message_id"`
}

type sendFrame struct {
	ChatID   string `json:"chat_id"`
	Content  string `json:"content"`
	Type     string `json:"type"`
	ReplyTo  string `json:"reply_to"`
	FileURL  string `json:"file_url"`
	FileName string `json:"file_name"`
	FileSize int64  `json:"file_size"`
}

// handleSocket authenticates the websocket handshake, registers the
// connection with the hub, and pumps inbound frames until the client goes
// away. Everything pushed to the client flows through the hub, never
// directly through this handler.
func (s *Server) handleSocket(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		token, _ = strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
	}
	claims, err := s.auth.VerifyToken(token)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"success": false,
			"message": "invalid or expired token",
		})
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		log.Printf("websocket upgrade failed for user %s: %v", claims.UserID, err)
		return
	}

	conn := realtime.NewConnection(claims.UserID, ws)
	conn.Start()
	s.hub.Attach(conn.ID, conn.UserID, conn)

	// The connection outlives the upgrade request, so its work runs under a
	// fresh context rather than the request's.
	ctx := context.Background()
	s.svc.HandleConnect(ctx, conn.UserID, conn.ID)
	defer func() {
		s.svc.HandleDisconnect(ctx, conn.ID)
		conn.Close(websocket.CloseNormalClosure, "")
	}()

	// Handshake frame: tells the client its connection id so reconnect
	// logic can tell sessions apart.
	if payload, err := json.Marshal(map[string]any{
		"type": "connected",
		"data": map[string]string{"connection_id": conn.ID},
	}); err == nil {
		_ = conn.Send(payload)
	}

	ws.SetReadLimit(maxFrameBytes)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("websocket read error for user %s: %v", conn.UserID, err)
			}
			return
		}

		var frame inboundFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			s.sendSocketError(conn, "malformed frame")
			continue
		}

		if err := s.dispatchFrame(ctx, conn.UserID, frame); err != nil {
			s.sendSocketError(conn, err.Error())
		}
	}
}

// dispatchFrame routes one inbound frame to the chat service. Returned
// errors are reported to the client; they never tear the connection down.
func (s *Server) dispatchFrame(ctx context.Context, userID string, frame inboundFrame) error {
	switch frame.Type {
	case "enter-chat":
		var p chatRef
		if err := json.Unmarshal(frame.Data, &p); err != nil {
			return fmt.Errorf("malformed %s frame", frame.Type)
		}
		return s.svc.EnterChat(ctx, userID, p.ChatID)

	case "leave-chat":
		var p chatRef
		if err := json.Unmarshal(frame.Data, &p); err != nil {
			return fmt.Errorf("malformed %s frame", frame.Type)
		}
		return s.svc.LeaveChat(ctx, userID, p.ChatID)

	case "typing":
		var p typingFrame
		if err := json.Unmarshal(frame.Data, &p); err != nil {
			return fmt.Errorf("malformed %s frame", frame.Type)
		}
		return s.svc.SetTyping(ctx, userID, p.ChatID, p.IsTyping)

	case "send-message":
		var p sendFrame
		if err := json.Unmarshal(frame.Data, &p); err != nil {
			return fmt.Errorf("malformed %s frame", frame.Type)
		}
		// The service pushes message-sent back to this connection; no
		// direct reply is needed here.
		_, err := s.svc.SendMessage(ctx, chat.SendMessageInput{
			ChatID:   p.ChatID,
			SenderID: userID,
			Content:  p.Content,
			Type:     p.Type,
			ReplyTo:  p.ReplyTo,
			FileURL:  p.FileURL,
			FileName: p.FileName,
			FileSize: p.FileSize,
		})
		return err

	case "message-delivered":
		var p messageRef
		if err := json.Unmarshal(frame.Data, &p); err != nil {
			return fmt.Errorf("malformed %s frame", frame.Type)
		}
		return s.svc.AckDelivered(ctx, p.ChatID, p.MessageID, userID)

	case "message-seen":
		var p messageRef
		if err := json.Unmarshal(frame.Data, &p); err != nil {
			return fmt.Errorf("malformed %s frame", frame.Type)
		}
		return s.svc.AckSeen(ctx, p.ChatID, p.MessageID, userID)

	default:
		return fmt.Errorf("unknown frame type %q", frame.Type)
	}
}

func (s *Server) sendSocketError(conn *realtime.Connection, message string) {
	payload, err := json.Marshal(map[string]any{
		"type": "error",
		"data": map[string]string{"message": message},
	})
	if err != nil {
		return
	}
	_ = conn.Send(payload)
}
