package provider

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sipico/freesub/internal/logging"
)

// LoggingTransport wraps an http.RoundTripper and logs all HTTP interactions
// at debug level. Credential headers are masked.
type LoggingTransport struct {
	Transport http.RoundTripper
	Logger    *slog.Logger
}

// RoundTrip implements http.RoundTripper interface
func (t *LoggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if !t.Logger.Enabled(req.Context(), slog.LevelDebug) {
		return t.transport().RoundTrip(req)
	}

	start := time.Now()

	// Read request body
	var reqBodyBytes []byte
	if req.Body != nil {
		var err error
		reqBodyBytes, err = io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}
		// Restore body for transport
		req.Body = io.NopCloser(bytes.NewReader(reqBodyBytes))
	}

	t.Logger.Debug("provider request",
		"method", req.Method,
		"url", req.URL.String(),
		"headers", maskHeaders(req.Header),
		"body", string(reqBodyBytes),
	)

	resp, err := t.transport().RoundTrip(req)
	duration := time.Since(start)

	if err != nil {
		t.Logger.Debug("provider request failed",
			"method", req.Method,
			"url", req.URL.String(),
			"duration_ms", duration.Milliseconds(),
			"error", err,
		)
		return nil, err
	}

	// Read response body
	respBodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	// Restore body for caller
	resp.Body = io.NopCloser(bytes.NewReader(respBodyBytes))

	t.Logger.Debug("provider response",
		"status_code", resp.StatusCode,
		"duration_ms", duration.Milliseconds(),
		"ray_id", resp.Header.Get("Cf-Ray"),
		"body", string(respBodyBytes),
	)

	return resp, nil
}

// transport returns the underlying transport or DefaultTransport if nil
func (t *LoggingTransport) transport() http.RoundTripper {
	if t.Transport != nil {
		return t.Transport
	}
	return http.DefaultTransport
}

func maskHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = logging.MaskHeader(k, strings.Join(v, ", "))
	}
	return out
}
