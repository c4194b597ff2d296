package ratelimit

import (
	"encoding/json"
	"net/http"
	"strconv"

	"lms-gateway/middleware/ratelimit/domain"
)

// TooManyRequestsBody is the JSON payload of a 429 answer.
type TooManyRequestsBody struct {
	Message    string `json:"message"`
	RetryAfter int    `json:"retryAfter"`
}

func writeTooManyRequests(w http.ResponseWriter, p domain.Policy) {
	retryAfter := p.RetryAfterSeconds()

	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(TooManyRequestsBody{
		Message:    p.Message,
		RetryAfter: retryAfter,
	})
}

// statusRecorder captures the status written by the downstream handler.
type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (rw *statusRecorder) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.status = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *statusRecorder) Write(b []byte) (int, error) {
	if !rw.wroteHeader {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.ResponseWriter.Write(b)
}

func (rw *statusRecorder) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *statusRecorder) Unwrap() http.ResponseWriter { return rw.ResponseWriter }
