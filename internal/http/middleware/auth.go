package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	gojwt "github.com/go-jose/go-jose/v4/jwt"

	"github.com/martiola68/studio-manager-pro-sub002/internal/jwt"
)

const (
	sessionClaimsKey = "sessionClaims"
	stdClaimsKey     = "stdClaims"
)

// Auth validates Authorization header and attaches claims.
type Auth struct {
	Verifier *jwt.Verifier
}

// ValidateJWT ensures the request carries a valid platform session token
// for the resolved tenant.
func (m *Auth) ValidateJWT(c *gin.Context) {
	tenantCtx, ok := GetTenantContext(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_tenant", "error_description": "Tenant missing."})
		return
	}
	header := c.GetHeader("Authorization")
	if header == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "error_description": "Authorization header required."})
		return
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "error_description": "Bearer token required."})
		return
	}
	std, session, err := m.Verifier.Validate(parts[1])
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "error_description": "Invalid session token."})
		return
	}
	if session.TenantID != tenantCtx.Tenant.ID {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "tenant_mismatch", "error_description": "Session does not belong to this tenant."})
		return
	}
	c.Set(stdClaimsKey, std)
	c.Set(sessionClaimsKey, session)
	c.Next()
}

// RequireAdmin aborts unless the session has an administrative role. It
// must run after ValidateJWT.
func RequireAdmin(c *gin.Context) {
	session, ok := GetSessionClaims(c)
	if !ok || !session.IsAdmin() {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden", "error_description": "Administrator role required."})
		return
	}
	c.Next()
}

// GetSessionClaims exposes platform session claims to handlers.
func GetSessionClaims(c *gin.Context) (*jwt.SessionClaims, bool) {
	value, ok := c.Get(sessionClaimsKey)
	if !ok {
		return nil, false
	}
	claims, ok := value.(*jwt.SessionClaims)
	return claims, ok
}

// GetStdClaims returns standard JWT claims set.
func GetStdClaims(c *gin.Context) (*gojwt.Claims, bool) {
	value, ok := c.Get(stdClaimsKey)
	if !ok {
		return nil, false
	}
	claims, ok := value.(*gojwt.Claims)
	return claims, ok
}
