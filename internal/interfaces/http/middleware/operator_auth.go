package middleware

import (
	"net/http"
	"strings"

	"github.com/erp/reconciler/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const (
	// OperatorSubjectKey holds the subject of the validated operator token
	OperatorSubjectKey = "operator_subject"
	bearerPrefix       = "Bearer "
)

// TokenValidator checks a bearer token and returns its claims
type TokenValidator interface {
	Validate(token string) (*jwt.RegisteredClaims, error)
}

// OperatorAuth requires a valid bearer token on state-changing requests.
// GET, HEAD and OPTIONS pass through.
func OperatorAuth(tokens TokenValidator, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		switch c.Request.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			c.Next()
			return
		}

		token, ok := strings.CutPrefix(c.GetHeader("Authorization"), bearerPrefix)
		if !ok || token == "" {
			rejectOperator(c, "Missing bearer token")
			return
		}

		claims, err := tokens.Validate(token)
		if err != nil {
			log.Warn("Rejected operator token",
				zap.String("path", c.Request.URL.Path),
				zap.Error(err))
			rejectOperator(c, "Invalid operator token")
			return
		}

		c.Set(OperatorSubjectKey, claims.Subject)
		c.Next()
	}
}

func rejectOperator(c *gin.Context, message string) {
	c.Header("WWW-Authenticate", `Bearer realm="operator"`)
	c.AbortWithStatusJSON(http.StatusUnauthorized, dto.NewErrorResponse(dto.ErrCodeUnauthorized, message))
}
