package utils

import (
	"bytes"
	"encoding/json"
	"fmt"
)

func singleKey(obj map[string]json.RawMessage) (string, json.RawMessage, bool) {
	if len(obj) != 1 {
		return "", nil, false
	}

	for k, v := range obj {
		return k, v, true
	}

	return "", nil, false
}

func isEmpty(v json.RawMessage) bool {
	s := string(v)
	return s == "null" || s == "\"null\"" || s == "\"\""
}

// ParseEnvelope unwraps responses shaped {"orders": {"order": ...}} where the
// inner value is a single object, a list of objects or null.
func ParseEnvelope[T any](response []byte) ([]T, error) {
	header := make(map[string]json.RawMessage)
	if err := json.Unmarshal(response, &header); err != nil {
		return nil, fmt.Errorf("ParseEnvelope: failed to unmarshal header in response: %w", err)
	}

	_, v, ok := singleKey(header)
	if !ok {
		return nil, fmt.Errorf("ParseEnvelope: expected 1 key in header, got %v", len(header))
	}

	if isEmpty(v) {
		return []T{}, nil
	}

	data := make(map[string]json.RawMessage)
	if err := json.Unmarshal(v, &data); err != nil {
		return nil, fmt.Errorf("ParseEnvelope: failed to unmarshal data in response: %w", err)
	}

	_, v, ok = singleKey(data)
	if !ok {
		return nil, fmt.Errorf("ParseEnvelope: expected 1 key in data, got %v", len(data))
	}

	if isEmpty(v) {
		return []T{}, nil
	}

	var dtos []T
	if bytes.HasPrefix(bytes.TrimSpace(v), []byte("[")) {
		if err := json.Unmarshal(v, &dtos); err != nil {
			return nil, fmt.Errorf("ParseEnvelope: failed to unmarshal dtos in response: %w", err)
		}

		return dtos, nil
	}

	var single T
	if err := json.Unmarshal(v, &single); err != nil {
		return nil, fmt.Errorf("ParseEnvelope: failed to unmarshal dto in response: %w", err)
	}

	return append(dtos, single), nil
}

// ParseEnvelopeOne is ParseEnvelope for endpoints that answer with exactly one object.
func ParseEnvelopeOne[T any](response []byte) (T, error) {
	var zero T

	dtos, err := ParseEnvelope[T](response)
	if err != nil {
		return zero, err
	}

	if len(dtos) != 1 {
		return zero, fmt.Errorf("ParseEnvelopeOne: expected 1 object, got %d", len(dtos))
	}

	return dtos[0], nil
}
