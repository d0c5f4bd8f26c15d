package http

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/couchcryptid/alertify-service/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	callerKey    = "caller"
	requestIDKey = "request_id"

	headerRequestID   = "X-Request-ID"
	headerCitizenName = "X-Citizen-Name"
	headerOperator    = "X-Operator-Name"

	// EventSource and browser websockets cannot set headers.
	tokenQueryParam = "access_token"
)

func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(headerRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(headerRequestID, id)
		c.Next()
	}
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		caller := callerFrom(c)
		logger.Info("http request",
			"status", c.Writer.Status(),
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"latency", time.Since(start),
			"client_ip", c.ClientIP(),
			"role", caller.Role,
			"request_id", c.GetString(requestIDKey),
		)
	}
}

func recovery(logger *slog.Logger) gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(nil, func(c *gin.Context, err any) {
		logger.Error("request handler panic",
			"error", err,
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"request_id", c.GetString(requestIDKey),
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	})
}

// resolveCaller turns request credentials into a domain.Caller. A bearer
// token that does not match adminToken is rejected outright rather than
// downgraded, so a misconfigured dashboard fails loudly.
func resolveCaller(adminToken string) gin.HandlerFunc {
	return func(c *gin.Context) {
		caller := domain.Anonymous()

		if token, ok := credential(c); ok {
			if adminToken == "" || subtle.ConstantTimeCompare([]byte(token), []byte(adminToken)) != 1 {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
				return
			}
			name := strings.TrimSpace(c.GetHeader(headerOperator))
			if name == "" {
				name = "admin"
			}
			caller = domain.Admin(name)
		} else if name := strings.TrimSpace(c.GetHeader(headerCitizenName)); name != "" {
			caller = domain.Citizen(name)
		}

		c.Set(callerKey, caller)
		c.Next()
	}
}

func credential(c *gin.Context) (string, bool) {
	if h := c.GetHeader("Authorization"); h != "" {
		parts := strings.SplitN(h, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			if token := strings.TrimSpace(parts[1]); token != "" {
				return token, true
			}
		}
		return "", false
	}
	if token := c.Query(tokenQueryParam); token != "" {
		return token, true
	}
	return "", false
}

func callerFrom(c *gin.Context) domain.Caller {
	if v, ok := c.Get(callerKey); ok {
		if caller, ok := v.(domain.Caller); ok {
			return caller
		}
	}
	return domain.Anonymous()
}
