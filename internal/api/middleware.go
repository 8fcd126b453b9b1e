package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/dreamdiary/coin-market/internal/models"
	"github.com/dreamdiary/coin-market/internal/service"
)

const userIDKey = "userId"

// AuthMiddleware rejects requests without a valid bearer token
func AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, message := authenticate(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, models.ErrorResponse{
				Status:  "error",
				Code:    string(service.CodeUnauthenticated),
				Message: message,
			})
			c.Abort()
			return
		}

		// Set user ID in the context
		c.Set(userIDKey, userID)
		c.Next()
	}
}

// OptionalAuthMiddleware sets the caller's user ID when a valid token is
// present and lets anonymous requests through
func OptionalAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if userID, _ := authenticate(c); userID != "" {
			c.Set(userIDKey, userID)
		}
		c.Next()
	}
}

// authenticate returns the token subject, or an empty ID and the reason
func authenticate(c *gin.Context) (string, string) {
	// Get the JWT token from the Authorization header
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return "", service.ErrUnauthenticated.Message
	}

	// Check if the Authorization header starts with "Bearer "
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return "", "Invalid token format"
	}

	// Parse the JWT token
	jwtSecret := c.MustGet("jwtSecret").([]byte)
	token, err := jwt.Parse(parts[1], func(token *jwt.Token) (interface{}, error) {
		// Validate the signing method
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return jwtSecret, nil
	})
	if err != nil || !token.Valid {
		return "", "Invalid token"
	}

	// Get user ID from the token claims
	userID, err := token.Claims.GetSubject()
	if err != nil || userID == "" {
		return "", "Invalid user ID in token"
	}
	return userID, ""
}

func currentUserID(c *gin.Context) string {
	return c.GetString(userIDKey)
}
