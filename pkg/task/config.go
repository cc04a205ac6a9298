package task

import (
	"fmt"
	"strconv"
)

// Well known per-task configuration keys.
const (
	KeyReadonly       = "readonly"
	KeyIncludePayload = "include_payload"
)

// Config is the per-task configuration taken from the execution plan.
type Config map[string]any

// Bool returns the boolean value stored under key. Missing or unparsable values are false.
func (c Config) Bool(key string) bool {
	switch v := c[key].(type) {
	case bool:
		return v
	case string:
		b, err := strconv.ParseBool(v)

		return err == nil && b
	case int:
		return v != 0
	case int64:
		return v != 0
	default:
		return false
	}
}

// String returns the string form of the value stored under key.
func (c Config) String(key string) string {
	v, ok := c[key]
	if !ok || v == nil {
		return ""
	}

	if s, ok := v.(string); ok {
		return s
	}

	return fmt.Sprint(v)
}

// Readonly reports whether the task must only look rows up instead of inserting them.
func (c Config) Readonly() bool {
	return c.Bool(KeyReadonly)
}

// IncludePayload reports whether raw CBOR payloads are stored alongside rows.
func (c Config) IncludePayload() bool {
	return c.Bool(KeyIncludePayload)
}

// Clone returns a shallow copy of the config.
func (c Config) Clone() Config {
	out := make(Config, len(c)+1)
	for k, v := range c {
		out[k] = v
	}

	return out
}

// With returns a copy of the config with key set to value.
func (c Config) With(key string, value any) Config {
	out := c.Clone()
	out[key] = value

	return out
}
