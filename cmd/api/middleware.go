package main

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const ctxUserIDKey = "auth.user_id"

// requireAuth validates the Bearer token and stores the caller's user id in
// the request context for handlers downstream.
func (s *Server) requireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"message": "missing bearer token",
			})
			return
		}

		claims, err := s.auth.VerifyToken(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"message": "invalid or expired token",
			})
			return
		}

		c.Set(ctxUserIDKey, claims.UserID)
		c.Next()
	}
}

// currentUserID returns the authenticated user id stored by requireAuth.
func currentUserID(c *gin.Context) string {
	return c.GetString(ctxUserIDKey)
}
