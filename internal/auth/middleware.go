// Package auth — Gin middleware for JWT validation and role checks.
//
// Middleware accepts the token either as "Authorization: Bearer <token>"
// or, for WebSocket upgrade requests (browsers cannot set custom headers
// during the handshake), as the "token" query parameter. On a WebSocket
// upgrade, auth failures abort with a bare status code rather than a JSON
// body, since the gorilla/websocket upgrader expects a clean response to
// complete (or refuse) the handshake.
package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/octahive/octabot/internal/db"
)

const (
	ctxUserID   = "userID"
	ctxUsername = "username"
	ctxUserRole = "userRole"
)

// Middleware requires a valid token and an existing user account.
func Middleware(jwtManager *JWTManager, users *db.UserStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		isWebSocket := isWebSocketUpgrade(c)

		tokenString := ""
		if isWebSocket {
			tokenString = c.Query("token")
		}
		if tokenString == "" {
			authHeader := c.GetHeader("Authorization")
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				abortUnauthorized(c, isWebSocket, "authorization header required")
				return
			}
			tokenString = parts[1]
		}

		claims, err := jwtManager.ValidateToken(tokenString)
		if err != nil {
			abortUnauthorized(c, isWebSocket, "invalid or expired token")
			return
		}

		if _, err := users.Get(c.Request.Context(), claims.UserID); err != nil {
			abortUnauthorized(c, isWebSocket, "user not found")
			return
		}

		c.Set(ctxUserID, claims.UserID)
		c.Set(ctxUsername, claims.Username)
		c.Set(ctxUserRole, claims.Role)
		c.Next()
	}
}

// RequireRole aborts with 403 unless the authenticated user has the role.
func RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		got, ok := GetUserRole(c)
		if !ok || got != role {
			c.JSON(http.StatusForbidden, gin.H{"error": "insufficient permissions"})
			c.Abort()
			return
		}
		c.Next()
	}
}

func GetUserID(c *gin.Context) (string, bool) {
	v, ok := c.Get(ctxUserID)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func GetUserRole(c *gin.Context) (string, bool) {
	v, ok := c.Get(ctxUserRole)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func IsAdmin(c *gin.Context) bool {
	role, ok := GetUserRole(c)
	return ok && role == "admin"
}

func isWebSocketUpgrade(c *gin.Context) bool {
	upgrade := strings.ToLower(c.GetHeader("Upgrade"))
	connection := strings.ToLower(c.GetHeader("Connection"))
	return upgrade == "websocket" && strings.Contains(connection, "upgrade")
}

func abortUnauthorized(c *gin.Context, isWebSocket bool, message string) {
	if isWebSocket {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}
	c.JSON(http.StatusUnauthorized, gin.H{"error": message})
	c.Abort()
}
