package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const SessionKey = "sessionID"

// SessionValidator resolves a bearer token to a session id.
type SessionValidator interface {
	ValidateSessionToken(token string) (string, error)
}

// SessionAuth requires a session token whose subject matches the :id path parameter.
func SessionAuth(tokens SessionValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		sessionID, err := tokens.ValidateSessionToken(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			return
		}
		if id := c.Param("id"); id != "" && id != sessionID {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Token does not belong to this session"})
			return
		}
		c.Set(SessionKey, sessionID)
		c.Next()
	}
}

func GetSessionID(c *gin.Context) string {
	if val, exists := c.Get(SessionKey); exists {
		return val.(string)
	}
	return ""
}
