package responses

import (
	"net/http"
	"time"

	"github.com/Aidin1998/pincex_arbfinder/pkg/errors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"
)

// StandardResponse represents a standard API response format
type StandardResponse struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Message   string      `json:"message,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	TraceID   string      `json:"trace_id,omitempty"`
}

// Success sends a successful response
func Success(c *gin.Context, data interface{}, message ...string) {
	msg := ""
	if len(message) > 0 {
		msg = message[0]
	}
	c.JSON(http.StatusOK, StandardResponse{
		Success:   true,
		Data:      data,
		Message:   msg,
		Timestamp: time.Now().UTC(),
		TraceID:   getTraceID(c),
	})
}

// Error renders err as an RFC 7807 problem document.
func Error(c *gin.Context, err error) {
	p := errors.NewProblem(err, c.Request.URL.Path)
	c.Header("Content-Type", "application/problem+json")
	if id := getTraceID(c); id != "" {
		c.Header("X-Trace-ID", id)
	}
	c.AbortWithStatusJSON(p.Status, p)
}

// BadRequest reports an invalid request parameter.
func BadRequest(c *gin.Context, field, detail string) {
	Error(c, errors.Invalid.Explain("invalid %s: %s", field, detail).WithField(errors.KindInvalidInput, field, detail))
}

// getTraceID extracts trace ID from context
func getTraceID(c *gin.Context) string {
	if sc := trace.SpanContextFromContext(c.Request.Context()); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return c.GetHeader("X-Trace-ID")
}
