// Package middleware wires authentication output into the request scope every
// handler operates under.
package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sitesafe/ptwcore/internal/auth"
	"github.com/sitesafe/ptwcore/internal/scope"
)

// ScopeContextKey is the key used to store the resolved scope in the Gin context
const ScopeContextKey = "scope"

// ResolveScope builds the request scope from the authenticated identity. A
// collaboration_project_id query parameter switches safe-method requests onto
// a shared project in another tenant; mutating methods never cross tenants.
func ResolveScope(resolver *scope.Resolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, err := auth.IdentityFromContext(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}

		s, err := resolver.Resolve(identity)
		if err != nil {
			c.JSON(http.StatusForbidden, gin.H{"error": "scope_error"})
			c.Abort()
			return
		}

		// Client-set correlation IDs let mobile apps tie a replayed request to
		// its first attempt; anything unparsable keeps the generated one.
		if raw := c.GetHeader("X-Correlation-ID"); raw != "" {
			if id, err := uuid.Parse(raw); err == nil {
				s.CorrelationID = id
			}
		}
		s.IP = c.ClientIP()
		s.UserAgent = c.Request.UserAgent()

		if raw := c.Query("collaboration_project_id"); raw != "" {
			if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
				c.JSON(http.StatusForbidden, gin.H{
					"error":   "collaboration_denied",
					"message": "cross-tenant scope permits reads only",
				})
				c.Abort()
				return
			}
			projectID, err := uuid.Parse(raw)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error",
					"message": "invalid collaboration_project_id"})
				c.Abort()
				return
			}
			s, err = resolver.ResolveCollaboration(s, projectID)
			if err != nil {
				c.JSON(http.StatusForbidden, gin.H{"error": "collaboration_denied"})
				c.Abort()
				return
			}
		}

		c.Set(ScopeContextKey, s)
		c.Header("X-Correlation-ID", s.CorrelationID.String())
		c.Next()
	}
}

// ScopeFromContext extracts the resolved scope. It panics if ResolveScope did
// not run; routes without scope must not call it.
func ScopeFromContext(c *gin.Context) scope.Scope {
	return c.MustGet(ScopeContextKey).(scope.Scope)
}

// RequireAdmin restricts a route group to admin identities.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, err := auth.IdentityFromContext(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}
		if identity.Role != "admin" {
			c.JSON(http.StatusForbidden, gin.H{"error": "scope_error",
				"message": "admin access required"})
			c.Abort()
			return
		}
		c.Next()
	}
}
