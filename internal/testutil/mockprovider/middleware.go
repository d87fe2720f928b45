package mockprovider

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sipico/freesub/internal/logging"
)

// LoggingMiddleware logs all HTTP requests and responses to the mock.
// Only active when logger is provided (non-nil).
func LoggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if logger == nil {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()

			// Read and log request body
			var reqBody []byte
			if r.Body != nil {
				var err error
				reqBody, err = io.ReadAll(r.Body)
				if err != nil {
					logger.Error("Failed to read request body", "error", err)
					http.Error(w, "Failed to read request body", http.StatusInternalServerError)
					return
				}
				// Restore body for handler
				r.Body = io.NopCloser(bytes.NewReader(reqBody))
			}

			reqHeaders := make(map[string]string, len(r.Header))
			for k, v := range r.Header {
				reqHeaders[k] = logging.MaskHeader(k, strings.Join(v, ", "))
			}
			logger.Info("mockprovider received request",
				"method", r.Method,
				"url", r.URL.String(),
				"headers", reqHeaders,
				"body", string(reqBody),
			)

			// Capture response
			rec := &responseRecorder{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
				body:           new(bytes.Buffer),
			}

			next.ServeHTTP(rec, r)

			logger.Info("mockprovider sent response",
				"method", r.Method,
				"url", r.URL.String(),
				"status_code", rec.statusCode,
				"duration_ms", time.Since(start).Milliseconds(),
				"body", rec.body.String(),
			)
		})
	}
}

// responseRecorder captures response details for logging.
type responseRecorder struct {
	http.ResponseWriter
	statusCode int
	body       *bytes.Buffer
}

// WriteHeader captures the status code and writes it to the response.
func (r *responseRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

// Write captures the response body and writes it to the response.
func (r *responseRecorder) Write(b []byte) (int, error) {
	r.body.Write(b) // Capture for logging
	return r.ResponseWriter.Write(b)
}
