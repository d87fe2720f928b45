package validation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/sipico/freesub/internal/record"
)

// ErrMalformedRequest is returned when a request file cannot be decoded.
var ErrMalformedRequest = errors.New("malformed request")

// DecodeRequest reads one JSON request. Unknown fields, trailing data and
// values of the wrong JSON type are rejected.
func DecodeRequest(r io.Reader) (*record.Request, error) {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()

	var req record.Request
	if err := dec.Decode(&req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRequest, err)
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: unexpected data after request object", ErrMalformedRequest)
	}
	return &req, nil
}

// LoadRequestFile decodes the request stored at path.
func LoadRequestFile(path string) (*record.Request, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read request file: %w", err)
	}
	req, err := DecodeRequest(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return req, nil
}

// ValidateFile loads the request at path and validates it.
func (e *Engine) ValidateFile(path string, existing []*record.Registered) (*record.Request, Result, error) {
	req, err := LoadRequestFile(path)
	if err != nil {
		return nil, Result{}, err
	}
	return req, e.Validate(req, existing), nil
}
