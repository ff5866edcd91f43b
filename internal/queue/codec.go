package queue

import (
	"encoding/json"
	"fmt"
)

// Codec turns payloads into row content and back.
type Codec interface {
	Marshal(v any) (string, error)
	Unmarshal(content string, v any) error
}

// JSON encodes payloads as compact JSON. It is the default codec.
type JSON struct{}

func (JSON) Marshal(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}
	return string(b), nil
}

func (JSON) Unmarshal(content string, v any) error {
	if err := json.Unmarshal([]byte(content), v); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}

// Raw stores strings and byte slices as they are.
type Raw struct{}

func (Raw) Marshal(v any) (string, error) {
	switch p := v.(type) {
	case string:
		return p, nil
	case []byte:
		return string(p), nil
	case json.RawMessage:
		return string(p), nil
	case fmt.Stringer:
		return p.String(), nil
	}
	return "", fmt.Errorf("raw codec: unsupported payload type %T", v)
}

func (Raw) Unmarshal(content string, v any) error {
	switch p := v.(type) {
	case *string:
		*p = content
	case *[]byte:
		*p = []byte(content)
	case *json.RawMessage:
		*p = json.RawMessage(content)
	default:
		return fmt.Errorf("raw codec: unsupported target type %T", v)
	}
	return nil
}

// CodecByName resolves the QUEUE_CODEC setting.
func CodecByName(name string) (Codec, error) {
	switch name {
	case "", "json":
		return JSON{}, nil
	case "raw":
		return Raw{}, nil
	}
	return nil, fmt.Errorf("unknown codec %q", name)
}
