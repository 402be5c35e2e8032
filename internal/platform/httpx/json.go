package httpx

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// DefaultBodyLimit caps JSON request bodies when a handler does not set its own limit.
const DefaultBodyLimit int64 = 64 * 1024

var (
	// ErrEmptyBody is returned by DecodeJSON when the request carries no payload.
	ErrEmptyBody = errors.New("request body is empty")
	// ErrBodyTooLarge is returned by DecodeJSON when the payload exceeds the limit.
	ErrBodyTooLarge = errors.New("request body too large")
)

// WriteJSON encodes payload with the given status.
func WriteJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

// ReadBody reads at most limit bytes from the request body.
func ReadBody(r *http.Request, limit int64) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, ErrEmptyBody
	}
	if limit <= 0 {
		limit = DefaultBodyLimit
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, ErrBodyTooLarge
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, ErrEmptyBody
	}
	return data, nil
}

// DecodeJSON reads the request body into dst, rejecting unknown fields and trailing data.
func DecodeJSON(r *http.Request, limit int64, dst any) error {
	data, err := ReadBody(r, limit)
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid JSON payload: %w", err)
	}
	if dec.More() {
		return errors.New("invalid JSON payload: unexpected trailing data")
	}
	return nil
}

// BodyError converts a DecodeJSON failure into the matching envelope.
func BodyError(err error) Error {
	switch {
	case errors.Is(err, ErrBodyTooLarge):
		return NewError("payload_too_large", err.Error(), http.StatusRequestEntityTooLarge)
	default:
		return NewError("invalid_request", err.Error(), http.StatusBadRequest)
	}
}
