// Package auth issues and checks the operator tokens that guard export and
// other privileged research ledger endpoints.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Scopes granted to operator tokens.
const (
	ScopeExport = "sessions:export"
	ScopeRecord = "sessions:record"
	ScopeRead   = "sessions:read"
)

const ctxOperatorClaims = "rl_operator_claims"

// ErrShortSecret is returned when the signing secret is too weak for HS256.
var ErrShortSecret = errors.New("auth: signing secret must be at least 32 bytes")

// OperatorClaims are the JWT claims of a study operator token.
type OperatorClaims struct {
	jwt.RegisteredClaims
	Operator string   `json:"operator"`
	Scopes   []string `json:"scopes"`
}

// HasScope reports whether the claims grant scope.
func (c *OperatorClaims) HasScope(scope string) bool {
	return c != nil && slices.Contains(c.Scopes, scope)
}

// Issuer issues and verifies HS256 operator tokens.
type Issuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewIssuer creates an Issuer. ttl defaults to 8 hours.
func NewIssuer(secret, issuer string, ttl time.Duration) (*Issuer, error) {
	if len(secret) < 32 {
		return nil, ErrShortSecret
	}
	if ttl == 0 {
		ttl = 8 * time.Hour
	}
	return &Issuer{secret: []byte(secret), issuer: issuer, ttl: ttl, now: time.Now}, nil
}

// Issue creates a signed token for operator carrying scopes.
func (i *Issuer) Issue(operator string, scopes ...string) (string, error) {
	now := i.now().UTC()
	claims := OperatorClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   operator,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
			ID:        uuid.New().String(),
		},
		Operator: operator,
		Scopes:   scopes,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign operator token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates an operator token, returning its claims.
func (i *Issuer) Verify(tokenStr string) (*OperatorClaims, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&OperatorClaims{},
		func(tok *jwt.Token) (any, error) {
			if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", tok.Header["alg"])
			}
			return i.secret, nil
		},
		jwt.WithIssuer(i.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return nil, fmt.Errorf("verify operator token: %w", err)
	}
	claims, ok := token.Claims.(*OperatorClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid operator token claims")
	}
	return claims, nil
}

// RequireScope returns a Gin middleware that enforces a valid operator Bearer
// token carrying scope. A nil issuer disables enforcement (open mode).
func RequireScope(i *Issuer, scope string) gin.HandlerFunc {
	if i == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Bearer operator token required",
			})
			return
		}

		claims, err := i.Verify(strings.TrimPrefix(authHeader, "Bearer "))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid operator token: " + err.Error(),
			})
			return
		}
		if !claims.HasScope(scope) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "token lacks scope " + scope,
			})
			return
		}

		c.Set(ctxOperatorClaims, claims)
		c.Next()
	}
}

// ClaimsFromCtx returns the operator claims stored by RequireScope, or nil.
func ClaimsFromCtx(c *gin.Context) *OperatorClaims {
	v, _ := c.Get(ctxOperatorClaims)
	claims, _ := v.(*OperatorClaims)
	return claims
}
