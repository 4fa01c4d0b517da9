// README: Bearer token auth middleware; resolves the caller's id and role.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"foodrun/internal/infra"
	"foodrun/internal/modules/order"
	"foodrun/internal/types"
)

const (
	ctxUID   = "caller_uid"
	ctxRole  = "caller_role"
	ctxToken = "caller_token"
)

// Auth verifies the Authorization bearer token. Browsers cannot set headers
// on a WebSocket handshake, so access_token in the query is accepted too.
func Auth(verifier infra.TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := bearer(c.GetHeader("Authorization"))
		if raw == "" && c.GetHeader("Authorization") == "" {
			raw = c.Query("access_token")
		}
		if raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		token, err := verifier.VerifyIDToken(c.Request.Context(), raw)
		if err != nil || token == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set(ctxUID, token.UID)
		c.Set(ctxRole, token.Role())
		c.Set(ctxToken, token)
		c.Next()
	}
}

func bearer(header string) string {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

func CallerUID(c *gin.Context) string  { return c.GetString(ctxUID) }
func CallerRole(c *gin.Context) string { return c.GetString(ctxRole) }

// CallerActor returns the authenticated caller as an order actor. The role
// is empty when the token carries no known role claim.
func CallerActor(c *gin.Context) order.Actor {
	role := order.Role(CallerRole(c))
	if !role.Valid() {
		role = ""
	}
	return order.Actor{ID: types.ID(CallerUID(c)), Role: role}
}

// CallerCourier builds the courier summary shown to customers and owners.
func CallerCourier(c *gin.Context) order.Courier {
	courier := order.Courier{ID: types.ID(CallerUID(c))}
	if v, ok := c.Get(ctxToken); ok {
		tok := v.(*infra.FirebaseToken)
		courier.Name = tok.Claim("name")
		courier.Mobile = tok.Claim("phone_number")
	}
	return courier
}

// RequireRole rejects callers whose role claim is not one of roles.
func RequireRole(roles ...order.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := CallerActor(c)
		for _, r := range roles {
			if actor.Role == r {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	}
}
