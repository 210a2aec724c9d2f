package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const claimsKey = "claims"

// InstructorAuth enforces bearer JWT tokens signed with HS256 and the
// instructor role.
func InstructorAuth(signingKey, issuer string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authz := c.GetHeader("Authorization")
		if authz == "" || !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		tokenStr := strings.TrimSpace(authz[len("bearer "):])
		claims, err := Parse(tokenStr, signingKey, issuer)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		if claims.Role != RoleInstructor {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "instructor role required"})
			return
		}
		c.Set(claimsKey, claims)
		c.Next()
	}
}

// InstructorID returns the authenticated instructor's id from the context.
func InstructorID(c *gin.Context) string {
	claimsAny, ok := c.Get(claimsKey)
	if !ok {
		return ""
	}
	claims, _ := claimsAny.(Claims)
	return claims.Subject
}
