package http

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

const (
	ctxOperatorID = "operator_id"
	ctxRole       = "role"
)

type operatorClaims struct {
	OperatorID int64  `json:"operator_id"`
	Role       string `json:"role"`
	jwt.RegisteredClaims
}

// JWTAuth validates the bearer token issued by the authentication collaborator
// and exposes the acting operator to handlers.
func JWTAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse("missing bearer token"))
			return
		}

		claims := &operatorClaims{}
		token, err := jwt.ParseWithClaims(strings.TrimPrefix(header, "Bearer "), claims,
			func(t *jwt.Token) (interface{}, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
				}
				return []byte(secret), nil
			})
		if err != nil || !token.Valid || claims.OperatorID == 0 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse("invalid token"))
			return
		}

		c.Set(ctxOperatorID, claims.OperatorID)
		c.Set(ctxRole, claims.Role)
		c.Next()
	}
}

// WebhookAuth checks the shared camera token on push ingestion.
func WebhookAuth(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" || c.GetHeader("X-Camera-Token") != token {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse("invalid camera token"))
			return
		}
		c.Next()
	}
}

// RequestLogger writes one structured line per request.
func RequestLogger(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Msg("request")
	}
}

func operatorID(c *gin.Context) int64 {
	if v, ok := c.Get(ctxOperatorID); ok {
		if id, ok := v.(int64); ok {
			return id
		}
	}
	return 0
}

func isAdmin(c *gin.Context) bool {
	if v, ok := c.Get(ctxRole); ok {
		if role, ok := v.(string); ok {
			return role == "admin"
		}
	}
	return false
}
