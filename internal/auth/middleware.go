package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const claimsKey = "claims"

// BootstrapHeader carries the operator bootstrap key.
const BootstrapHeader = "X-Bootstrap-Key"

// DeviceAuth enforces bearer access tokens issued by signer.
func DeviceAuth(signer *Signer) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := authenticate(c, signer)
		if !ok {
			return
		}
		c.Set(claimsKey, claims)
		c.Next()
	}
}

// OperatorOrBootstrap admits an operator access token or, when key is not
// empty, a request whose BootstrapHeader matches key.
func OperatorOrBootstrap(signer *Signer, key string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if got := c.GetHeader(BootstrapHeader); key != "" && got != "" &&
			subtle.ConstantTimeCompare([]byte(got), []byte(key)) == 1 {
			c.Next()
			return
		}
		claims, ok := authenticate(c, signer)
		if !ok {
			return
		}
		if claims.Role != RoleOperator {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden", "message": "role not permitted"})
			return
		}
		c.Set(claimsKey, claims)
		c.Next()
	}
}

// authenticate parses the bearer token and aborts with 401 when it is
// missing or invalid.
func authenticate(c *gin.Context, signer *Signer) (Claims, bool) {
	authz := c.GetHeader("Authorization")
	if len(authz) < len("bearer ") || !strings.EqualFold(authz[:len("bearer ")], "bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "message": "missing bearer token"})
		return Claims{}, false
	}
	claims, err := signer.ParseAccess(strings.TrimSpace(authz[len("bearer "):]))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "message": "invalid token"})
		return Claims{}, false
	}
	return claims, true
}

// RequireRole rejects requests whose token role is not one of roles.
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := ClaimsFrom(c)
		if ok {
			for _, r := range roles {
				if claims.Role == r {
					c.Next()
					return
				}
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden", "message": "role not permitted"})
	}
}

// ClaimsFrom returns the claims DeviceAuth stored on c.
func ClaimsFrom(c *gin.Context) (Claims, bool) {
	v, ok := c.Get(claimsKey)
	if !ok {
		return Claims{}, false
	}
	claims, ok := v.(Claims)
	return claims, ok
}
