package identity

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const ctxSessionClaims = "warden_session_claims"

// SessionClaims are the JWT claims of an edit-session ticket. A ticket is
// handed to the caller whose modify request was granted and must accompany
// the completion or cancellation of that session.
type SessionClaims struct {
	jwt.RegisteredClaims
	Path    string `json:"path"`
	Address string `json:"address"`
}

// SessionIssuer issues and verifies HS256 edit-session tickets.
type SessionIssuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

// NewSessionIssuer creates a SessionIssuer.
//
//	secret: HMAC key; must be non-empty.
//	ttl:    ticket lifetime (default: 30 minutes).
func NewSessionIssuer(secret []byte, issuer string, ttl time.Duration) (*SessionIssuer, error) {
	if len(secret) == 0 {
		return nil, errors.New("session ticket secret is empty")
	}
	if ttl == 0 {
		ttl = 30 * time.Minute
	}
	return &SessionIssuer{secret: secret, issuer: issuer, ttl: ttl}, nil
}

// Issue signs a ticket for the session identified by sessionID.
func (s *SessionIssuer) Issue(sessionID, path, address string) (string, time.Time, error) {
	now := time.Now().UTC()
	expires := now.Add(s.ttl)
	if sessionID == "" {
		sessionID = uuid.New().String()
	}
	claims := SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   address,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
			ID:        sessionID,
		},
		Path:    path,
		Address: address,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign session ticket: %w", err)
	}
	return signed, expires, nil
}

// Verify parses and validates a ticket, returning its claims on success.
func (s *SessionIssuer) Verify(ticket string) (*SessionClaims, error) {
	token, err := jwt.ParseWithClaims(
		ticket,
		&SessionClaims{},
		func(tok *jwt.Token) (any, error) {
			if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", tok.Header["alg"])
			}
			return s.secret, nil
		},
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("verify session ticket: %w", err)
	}

	claims, ok := token.Claims.(*SessionClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid session ticket claims")
	}
	return claims, nil
}

// TTL returns the configured ticket lifetime.
func (s *SessionIssuer) TTL() time.Duration { return s.ttl }

// RequireTicket returns a Gin middleware that enforces a valid Bearer session
// ticket. The verified claims are available via SessionClaimsFromCtx.
func RequireTicket(sessions *SessionIssuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Bearer session ticket required",
			})
			return
		}

		claims, err := sessions.Verify(strings.TrimPrefix(authHeader, "Bearer "))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid session ticket: " + err.Error(),
			})
			return
		}

		c.Set(ctxSessionClaims, claims)
		c.Next()
	}
}

// SessionClaimsFromCtx retrieves the claims injected by RequireTicket.
// Returns nil if no ticket was verified for this request.
func SessionClaimsFromCtx(c *gin.Context) *SessionClaims {
	v, _ := c.Get(ctxSessionClaims)
	claims, _ := v.(*SessionClaims)
	return claims
}
