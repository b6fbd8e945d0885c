package middleware

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"telecare/internal/core/domain"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// ConsultationClaims is the token payload minted when a consultation room is
// created. A token is scoped to one room and one role.
type ConsultationClaims struct {
	UserID   domain.UserID `json:"user_id"`
	UserType domain.Role   `json:"user_type"`
	RoomID   domain.RoomID `json:"room_id"`
	jwt.RegisteredClaims
}

// TokenValidator issues and validates consultation tokens.
type TokenValidator struct {
	secret []byte
	ttl    time.Duration
}

func NewTokenValidator(secret string, ttl time.Duration) *TokenValidator {
	if ttl <= 0 {
		ttl = 4 * time.Hour
	}
	return &TokenValidator{secret: []byte(secret), ttl: ttl}
}

// Issue mints a token for one participant of one room.
func (v *TokenValidator) Issue(userID domain.UserID, role domain.Role, roomID domain.RoomID) (string, error) {
	now := time.Now()
	claims := ConsultationClaims{
		UserID:   userID,
		UserType: role,
		RoomID:   roomID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(v.ttl)),
			Subject:   string(userID),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// Validate parses and verifies a token.
func (v *TokenValidator) Validate(tokenString string) (*ConsultationClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &ConsultationClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	claims, ok := token.Claims.(*ConsultationClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	return claims, nil
}

// extractToken supports both the Authorization header and a token query
// parameter. Browser WebSocket clients cannot set headers on the upgrade
// request, so the query form is accepted there.
func extractToken(c *gin.Context) string {
	if header := c.GetHeader("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && parts[0] == "Bearer" {
			return parts[1]
		}
		return ""
	}
	return c.Query("token")
}

// AuthMiddleware rejects requests without a valid consultation token and
// stores the claims for downstream handlers.
func AuthMiddleware(validator *TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := extractToken(c)
		if tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
			return
		}

		claims, err := validator.Validate(tokenString)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			return
		}

		setClaims(c, claims)
		c.Next()
	}
}

// setClaims stores claim values as plain strings so downstream readers can
// use gin's GetString accessors.
func setClaims(c *gin.Context, claims *ConsultationClaims) {
	c.Set("user_id", string(claims.UserID))
	c.Set("user_type", string(claims.UserType))
	c.Set("room_id", string(claims.RoomID))
}

// OptionalAuthMiddleware attaches claims when a valid token is present but
// never rejects. Used when auth is disabled in configuration.
func OptionalAuthMiddleware(validator *TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if tokenString := extractToken(c); tokenString != "" {
			if claims, err := validator.Validate(tokenString); err == nil {
				setClaims(c, claims)
			}
		}
		c.Next()
	}
}
