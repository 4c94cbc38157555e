package errors

import (
	"net/http"
	"time"
)

// Problem type URIs
const (
	TypeValidationError  = "https://api.arbfinder.io/problems/validation-error"
	TypeNotFound         = "https://api.arbfinder.io/problems/not-found"
	TypeChecksumMismatch = "https://api.arbfinder.io/problems/checksum-mismatch"
	TypeSequenceGap      = "https://api.arbfinder.io/problems/sequence-gap"
	TypeInternalError    = "https://api.arbfinder.io/problems/internal-error"
)

// ProblemDetails represents an RFC 7807 error response.
type ProblemDetails struct {
	Type      string       `json:"type"`
	Title     string       `json:"title"`
	Status    int          `json:"status"`
	Detail    string       `json:"detail"`
	Instance  string       `json:"instance,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
	Errors    []FieldError `json:"errors,omitempty"`
}

func (p *ProblemDetails) Error() string {
	return p.Title + ": " + p.Detail
}

// NewProblem maps err onto a problem document for the given request path.
func NewProblem(err error, instance string) *ProblemDetails {
	p := &ProblemDetails{
		Type:      TypeInternalError,
		Title:     "Internal Server Error",
		Status:    http.StatusInternalServerError,
		Detail:    err.Error(),
		Instance:  instance,
		Timestamp: time.Now().UTC(),
	}

	var e *Error
	if !As(err, &e) {
		return p
	}
	if e.Message != "" {
		p.Detail = e.Message
	}
	p.Errors = e.Fields

	switch e.Kind {
	case KindInvalidInput:
		p.Type, p.Title, p.Status = TypeValidationError, "Validation Error", http.StatusBadRequest
	case KindNotFound:
		p.Type, p.Title, p.Status = TypeNotFound, "Not Found", http.StatusNotFound
	case KindChecksumMismatch:
		p.Type, p.Title, p.Status = TypeChecksumMismatch, "Checksum Mismatch", http.StatusConflict
	case KindSequenceGap:
		p.Type, p.Title, p.Status = TypeSequenceGap, "Sequence Gap", http.StatusConflict
	}
	return p
}
