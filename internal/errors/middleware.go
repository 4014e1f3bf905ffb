package errors

import (
	"net/http"
	"regexp"
)

const (
	RequestIDHeader = "X-Request-ID"
	TraceIDHeader   = "X-Trace-ID"
)

// Client-supplied ids end up in every log line, so only short opaque
// tokens are accepted.
var safeID = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,64}$`)

// ValidID reports whether a client-supplied request or trace id is usable
func ValidID(id string) bool {
	return safeID.MatchString(id)
}

// RequestIDMiddleware puts a request ID (the client's, when valid) into the
// context and echoes it in the response headers
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(RequestIDHeader)
		if !ValidID(requestID) {
			requestID = GenerateRequestID()
		}

		ctx := WithRequestID(r.Context(), requestID)
		if traceID := r.Header.Get(TraceIDHeader); ValidID(traceID) {
			ctx = WithTraceID(ctx, traceID)
		}

		w.Header().Set(RequestIDHeader, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Handler is an http handler that reports failures by returning them
type Handler func(w http.ResponseWriter, r *http.Request) error

// HandleFunc adapts a Handler, writing any returned error with WriteError
func HandleFunc(h Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := h(w, r); err != nil {
			WriteError(w, GetRequestID(r.Context()), err)
		}
	}
}
