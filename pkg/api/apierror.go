// Package api is the HTTP surface of the supply-chain core: JSON routes over
// the event bus, reputation ledger, risk engine, registry and escalations,
// with RFC 7807 problem responses.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
)

// ProblemTypeBase prefixes the status code in ProblemDetail.Type.
const ProblemTypeBase = "https://supply-chainer.dev/problems/"

// ProblemDetail is an RFC 7807 error body. Every error response uses it.
type ProblemDetail struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"` // request path
	TraceID  string `json:"trace_id,omitempty"` // X-Request-ID
}

func (p *ProblemDetail) Error() string {
	return p.Title + ": " + p.Detail
}

// NewProblem builds the problem for status. Title is the status text;
// Instance and TraceID come from r when it is non-nil.
func NewProblem(r *http.Request, status int, detail string) *ProblemDetail {
	p := &ProblemDetail{
		Type:   ProblemTypeBase + strconv.Itoa(status),
		Title:  http.StatusText(status),
		Status: status,
		Detail: detail,
	}
	if r != nil {
		p.Instance = r.URL.Path
		p.TraceID = GetRequestID(r.Context())
	}
	return p
}

// WriteProblem writes p as application/problem+json.
func WriteProblem(w http.ResponseWriter, p *ProblemDetail) {
	if p.TraceID == "" {
		p.TraceID = w.Header().Get(RequestIDHeader)
	}
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

// WriteError writes a problem response for status.
func WriteError(w http.ResponseWriter, r *http.Request, status int, detail string) {
	WriteProblem(w, NewProblem(r, status, detail))
}

func WriteBadRequest(w http.ResponseWriter, r *http.Request, detail string) {
	WriteError(w, r, http.StatusBadRequest, detail)
}

// WriteUnauthorized defaults the detail to "Authentication required".
func WriteUnauthorized(w http.ResponseWriter, r *http.Request, detail string) {
	if detail == "" {
		detail = "Authentication required"
	}
	WriteError(w, r, http.StatusUnauthorized, detail)
}

func WriteNotFound(w http.ResponseWriter, r *http.Request, detail string) {
	WriteError(w, r, http.StatusNotFound, detail)
}

// WriteTooManyRequests sets Retry-After in seconds.
func WriteTooManyRequests(w http.ResponseWriter, r *http.Request, retryAfterSecs int) {
	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSecs))
	WriteError(w, r, http.StatusTooManyRequests, "Rate limit exceeded. Retry after the specified interval.")
}

// WriteInternal logs err and answers with a generic 500. err never reaches
// the client.
func WriteInternal(w http.ResponseWriter, r *http.Request, err error) {
	p := NewProblem(r, http.StatusInternalServerError, "An unexpected error occurred. Please try again later.")
	slog.Default().With("component", "api").Error("internal server error",
		"error", err, "instance", p.Instance, "request_id", p.TraceID)
	WriteProblem(w, p)
}
