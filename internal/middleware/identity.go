package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"workspace-realtime/internal/domain"
	"workspace-realtime/internal/logger"
	"workspace-realtime/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// UserIDKey é a chave do usuário autenticado no gin.Context
const UserIDKey = "user_id"

// Claims são as claims do token de acesso
type Claims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// TokenIssuer emite e valida tokens HS256
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenIssuer cria o emissor de tokens
func NewTokenIssuer(secret string, ttl time.Duration) *TokenIssuer {
	return &TokenIssuer{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

// Issue emite um token para o usuário e retorna sua expiração
func (i *TokenIssuer) Issue(userID string) (string, time.Time, error) {
	now := i.now()
	expiresAt := now.Add(i.ttl)

	claims := Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return token, expiresAt, nil
}

// Parse valida o token e retorna o id do usuário
func (i *TokenIssuer) Parse(tokenString string) (string, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return i.secret, nil
	}, jwt.WithTimeFunc(i.now))
	if err != nil {
		return "", fmt.Errorf("invalid token: %w", err)
	}
	if !token.Valid || claims.UserID == "" {
		return "", errors.New("invalid token: missing user")
	}
	return claims.UserID, nil
}

// NewIdentityMiddleware lê o bearer token quando presente e publica o usuário no contexto.
// Sem header a requisição segue anônima; token inválido é rejeitado com 401.
func NewIdentityMiddleware(issuer *TokenIssuer, alerts domain.AlertDispatcher, log domain.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.Next()
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			rejectUnauthorized(c, alerts, log, "invalid authorization format")
			return
		}

		userID, err := issuer.Parse(strings.TrimSpace(parts[1]))
		if err != nil {
			rejectUnauthorized(c, alerts, log, err.Error())
			return
		}

		c.Set(UserIDKey, userID)
		ctx := logger.ContextWithRequestInfo(c.Request.Context(), GetRequestID(c), ClientIP(c), userID)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// RequireIdentity exige um usuário autenticado
func RequireIdentity() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString(UserIDKey) == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"code":    domain.CodeUnauthorized,
				"message": "authentication required",
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

// UserID retorna o usuário autenticado, se houver
func UserID(c *gin.Context) string {
	return c.GetString(UserIDKey)
}

func rejectUnauthorized(c *gin.Context, alerts domain.AlertDispatcher, log domain.Logger, reason string) {
	ip := ClientIP(c)
	log.WithContext(c.Request.Context()).Info("Rejected bearer token", map[string]interface{}{
		"client_ip": ip,
		"path":      c.Request.URL.Path,
		"reason":    reason,
	})
	if alerts != nil {
		service.UnauthorizedAccess(c.Request.Context(), alerts, "", c.Request.URL.Path, ip)
	}

	c.JSON(http.StatusUnauthorized, gin.H{
		"error":   "unauthorized",
		"code":    domain.CodeUnauthorized,
		"message": "invalid or expired token",
	})
	c.Abort()
}
