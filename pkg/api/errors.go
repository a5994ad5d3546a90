package api

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/unclesp1d3r/cipherswarm-coordinator/internal/corekit"
	"github.com/unclesp1d3r/cipherswarm-coordinator/pkg/masking"
)

// redactor strips agent bearer tokens and recovered plaintext fields before
// an internal error ever reaches a log line.
var redactor = masking.NewService()

// agentErrorBody is the legacy agent-surface error wire shape, preserved
// exactly for client compatibility.
type agentErrorBody struct {
	Error string `json:"error"`
}

// agentStatusFor maps a corekit.Kind to its agent-surface HTTP status.
func agentStatusFor(kind corekit.Kind) int {
	switch kind {
	case corekit.KindNotFound:
		return http.StatusNotFound
	case corekit.KindUnauthorized:
		return http.StatusUnauthorized
	case corekit.KindForbidden:
		return http.StatusForbidden
	case corekit.KindConflict:
		return http.StatusUnprocessableEntity
	case corekit.KindStale:
		return http.StatusAccepted
	case corekit.KindPreempted:
		return http.StatusGone
	case corekit.KindMalformed:
		return http.StatusUnprocessableEntity
	case corekit.KindTooManyRequests:
		return http.StatusTooManyRequests
	case corekit.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// writeAgentError renders err in the legacy {"error": ...} shape.
func writeAgentError(c *gin.Context, err error) {
	kind := corekit.KindOf(err)
	status := agentStatusFor(kind)
	if kind == corekit.KindTooManyRequests {
		c.Header("Retry-After", "15")
	}
	if kind == corekit.KindInternal {
		slog.Error("agent surface internal error", "error", redactor.Redact(err.Error()), "path", c.Request.URL.Path)
		c.JSON(status, agentErrorBody{Error: "internal server error"})
		return
	}
	c.JSON(status, agentErrorBody{Error: err.Error()})
}

// webErrorBody mirrors FastAPI's {"detail": ...} error shape.
type webErrorBody struct {
	Detail string `json:"detail"`
}

func webStatusFor(kind corekit.Kind) int {
	switch kind {
	case corekit.KindNotFound:
		return http.StatusNotFound
	case corekit.KindUnauthorized:
		return http.StatusUnauthorized
	case corekit.KindForbidden:
		return http.StatusForbidden
	case corekit.KindConflict, corekit.KindStale:
		return http.StatusConflict
	case corekit.KindMalformed:
		return http.StatusUnprocessableEntity
	case corekit.KindTooManyRequests:
		return http.StatusTooManyRequests
	case corekit.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeWebError(c *gin.Context, err error) {
	kind := corekit.KindOf(err)
	status := webStatusFor(kind)
	if kind == corekit.KindInternal {
		slog.Error("web surface internal error", "error", redactor.Redact(err.Error()), "path", c.Request.URL.Path)
		c.JSON(status, webErrorBody{Detail: "internal server error"})
		return
	}
	c.JSON(status, webErrorBody{Detail: err.Error()})
}

// controlProblem is an RFC9457 application/problem+json body.
type controlProblem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}

func controlStatusFor(kind corekit.Kind) int {
	switch kind {
	case corekit.KindNotFound:
		return http.StatusNotFound
	case corekit.KindUnauthorized:
		return http.StatusUnauthorized
	case corekit.KindForbidden:
		return http.StatusForbidden
	case corekit.KindConflict, corekit.KindStale:
		return http.StatusConflict
	case corekit.KindMalformed:
		return http.StatusUnprocessableEntity
	case corekit.KindTooManyRequests:
		return http.StatusTooManyRequests
	case corekit.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeControlError(c *gin.Context, err error) {
	kind := corekit.KindOf(err)
	status := controlStatusFor(kind)
	detail := err.Error()
	if kind == corekit.KindInternal {
		slog.Error("control surface internal error", "error", redactor.Redact(err.Error()), "path", c.Request.URL.Path)
		detail = "internal server error"
	}
	c.Data(status, "application/problem+json", mustJSON(controlProblem{
		Type:     "about:blank",
		Title:    string(kind),
		Status:   status,
		Detail:   detail,
		Instance: c.Request.URL.Path,
	}))
}
