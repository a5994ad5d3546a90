package api

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/unclesp1d3r/cipherswarm-coordinator/internal/corekit"
)

const agentIDContextKey = "agent_id"
const controlUserContextKey = "control_user_id"

// agentAuth resolves the "csa_<agent_id>_<secret>" bearer token via the
// Registry and stores the authenticated agent_id in the request context.
func (s *Server) agentAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c.GetHeader("Authorization"))
		if token == "" {
			writeAgentError(c, corekit.New(corekit.KindUnauthorized, "missing bearer token"))
			c.Abort()
			return
		}
		agentID, err := s.registry.Authenticate(c.Request.Context(), token)
		if err != nil {
			writeAgentError(c, err)
			c.Abort()
			return
		}
		c.Set(agentIDContextKey, agentID)
		c.Next()
	}
}

func currentAgentID(c *gin.Context) string {
	v, _ := c.Get(agentIDContextKey)
	id, _ := v.(string)
	return id
}

// controlAuth accepts a "cst_<user_id>_<secret>" bearer token. Secret
// verification lives with the external token service; this surface only
// needs the caller's user_id for audit/attribution.
func (s *Server) controlAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c.GetHeader("Authorization"))
		userID, ok := splitControlToken(token)
		if !ok {
			writeControlError(c, corekit.New(corekit.KindUnauthorized, "missing or malformed control token"))
			c.Abort()
			return
		}
		c.Set(controlUserContextKey, userID)
		c.Next()
	}
}

// webAuth accepts a JWT via cookie or header. Verifying/parsing the JWT
// itself is out of scope; this surface only needs a present
// credential to distinguish authenticated callers, same as controlAuth.
func (s *Server) webAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c.GetHeader("Authorization"))
		if token == "" {
			if cookie, err := c.Cookie("session"); err == nil {
				token = cookie
			}
		}
		if token == "" {
			writeWebError(c, corekit.New(corekit.KindUnauthorized, "not authenticated"))
			c.Abort()
			return
		}
		c.Next()
	}
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimPrefix(header, prefix)
}

func splitControlToken(token string) (userID string, ok bool) {
	const prefix = "cst_"
	if !strings.HasPrefix(token, prefix) {
		return "", false
	}
	rest := strings.TrimPrefix(token, prefix)
	idx := strings.LastIndex(rest, "_")
	if idx <= 0 || idx == len(rest)-1 {
		return "", false
	}
	return rest[:idx], true
}

// securityHeaders sets the baseline hardening headers on every response.
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Next()
	}
}
