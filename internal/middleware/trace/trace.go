// Package trace tags each HTTP request with an id and logs its outcome.
package trace

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"eduitraya/internal/log"
)

type contextKey string

const requestIDKey contextKey = "request_id"

// Middleware logs one line per completed request. Successful requests log
// at debug so scrapes do not flood the output.
type Middleware struct {
	logger *log.Logger
}

func New(logger *log.Logger) *Middleware {
	return &Middleware{logger: log.OrDiscard(logger).WithComponent(log.ComponentHTTP)}
}

// Wrap returns next with request tracing applied.
func (m *Middleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := GenerateRequestID()
		ctx := context.WithValue(r.Context(), requestIDKey, requestID)
		r = r.WithContext(ctx)

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)

		level := slog.LevelDebug
		switch {
		case rw.statusCode >= 500:
			level = slog.LevelError
		case rw.statusCode >= 400:
			level = slog.LevelWarn
		}
		m.logger.Log(ctx, level, "HTTP request completed",
			"request_id", requestID,
			"method", r.Method,
			log.FieldPath, r.URL.Path,
			"status_code", rw.statusCode,
			log.FieldDuration, time.Since(start).Milliseconds())
	})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// GenerateRequestID returns a random id such as "req_3f9a0c1d2b4e5f60".
func GenerateRequestID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("req_%d", time.Now().UnixNano())
	}
	return "req_" + hex.EncodeToString(b)
}

// RequestID extracts the id set by Wrap, or "" outside a traced request.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}
