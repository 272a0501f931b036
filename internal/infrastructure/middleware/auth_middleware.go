package middleware

import (
	"net/http"
	"strings"

	"medea/internal/core/services"
	"medea/pkg/errors"

	"github.com/gin-gonic/gin"
)

// OperatorKey is the gin context key holding the authenticated operator.
const OperatorKey = "operator"

// AuthMiddleware requires a valid control bearer token.
func AuthMiddleware(authService services.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			abort(c, errors.NewUnauthorizedError("authorization header required"))
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			abort(c, errors.NewUnauthorizedError("invalid authorization header format"))
			return
		}

		claims, err := authService.ValidateToken(parts[1])
		if err != nil {
			abort(c, errors.WrapError(err, errors.ErrCodeUnauthorized, err.Error(), http.StatusUnauthorized))
			return
		}

		c.Set(OperatorKey, claims.Operator)
		c.Next()
	}
}

func abort(c *gin.Context, appErr *errors.AppError) {
	c.AbortWithStatusJSON(appErr.HTTPStatus, appErr.Response())
}
