package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"tutorflow/internal/model"
)

const (
	identityKey = "identity"
	tokenKey    = "token"
)

// IdentityAuth enforces bearer JWT tokens signed with HS256 and stores the
// caller's identity and raw token in the gin context.
func IdentityAuth(signingKey, issuer string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authz := c.GetHeader("Authorization")
		if len(authz) < len("bearer ") || !strings.EqualFold(authz[:len("bearer ")], "bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		tokenStr := strings.TrimSpace(authz[len("bearer "):])
		claims, err := Parse(tokenStr, signingKey, issuer)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		id, err := claims.Identity()
		if err != nil {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": err.Error()})
			return
		}
		c.Set(identityKey, id)
		c.Set(tokenKey, tokenStr)
		c.Next()
	}
}

// IdentityFrom returns the identity stored by IdentityAuth.
func IdentityFrom(c *gin.Context) (model.Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return model.Identity{}, false
	}
	id, ok := v.(model.Identity)
	return id, ok
}

// TokenFrom returns the bearer token stored by IdentityAuth.
func TokenFrom(c *gin.Context) string {
	return c.GetString(tokenKey)
}
