package utils

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrEmptyPayload is returned when there is nothing to decode
var ErrEmptyPayload = errors.New("encoded payload is empty")

// Encode marshals value to JSON and wraps it in standard base64, the form
// session descriptions take in the signalling store
func Encode[T any](value T) (string, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("failed to marshal value: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// Decode reverses Encode
func Decode[T any](encoded string) (T, error) {
	var out T
	if encoded == "" {
		return out, ErrEmptyPayload
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return out, fmt.Errorf("failed to decode base64: %w", err)
	}
	if len(raw) == 0 {
		return out, ErrEmptyPayload
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("failed to unmarshal %d byte payload: %w", len(raw), err)
	}
	return out, nil
}
