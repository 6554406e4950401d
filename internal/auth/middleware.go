package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"qrgate/internal/errs"
)

const claimsKey = "claims"

// Bearer parses an optional HS256 bearer token. Requests without one pass
// through anonymous; a present but invalid token is rejected with 401.
func Bearer(signingKey, issuer string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authz := c.GetHeader("Authorization")
		if authz == "" {
			c.Next()
			return
		}
		if !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			reject(c, "Encabezado de autorización inválido")
			return
		}
		tokenStr := strings.TrimSpace(authz[len("bearer "):])
		claims, err := Parse(tokenStr, signingKey, issuer)
		if err != nil {
			reject(c, "Sesión expirada o inválida")
			return
		}
		c.Set(claimsKey, claims)
		c.Next()
	}
}

// reject answers in the action envelope so clients can branch on the code.
func reject(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"status":  "error",
		"code":    errs.Code(errs.ErrUnauthorized),
		"message": message,
	})
}

// FromContext returns the claims stored by Bearer.
func FromContext(c *gin.Context) (Claims, bool) {
	v, ok := c.Get(claimsKey)
	if !ok {
		return Claims{}, false
	}
	claims, ok := v.(Claims)
	return claims, ok
}
