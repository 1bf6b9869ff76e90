// Package serialization defines the serializer contract used to persist opaque
// execution-context payloads, plus helpers for JobParameters masking. The wire
// format is an injected concern: repositories receive an
// ExecutionContextSerializer and never assume JSON directly.
package serialization

import (
	"encoding/json"

	config "github.com/tigerroll/reef/pkg/batch/core/config"
	"github.com/tigerroll/reef/pkg/batch/support/util/exception"
)

// ExecutionContextSerializer converts an execution-context map to and from its
// persisted byte representation. Implementations must round-trip every key:
// a failure surfaces as an error, never as silently dropped entries.
type ExecutionContextSerializer interface {
	// Serialize converts the context map into bytes.
	Serialize(ctx map[string]interface{}) ([]byte, error)
	// Deserialize converts persisted bytes back into a context map.
	Deserialize(data []byte) (map[string]interface{}, error)
}

// JSONSerializer is the default ExecutionContextSerializer, encoding the
// context as a JSON object.
type JSONSerializer struct{}

// NewJSONSerializer creates a new JSONSerializer.
func NewJSONSerializer() *JSONSerializer {
	return &JSONSerializer{}
}

// Serialize implements ExecutionContextSerializer.
// A nil map serializes to an empty JSON object.
func (s *JSONSerializer) Serialize(ctx map[string]interface{}) ([]byte, error) {
	if ctx == nil {
		return []byte("{}"), nil
	}
	data, err := json.Marshal(ctx)
	if err != nil {
		return nil, exception.NewBatchError("serialization", "Failed to serialize ExecutionContext", err, false, false)
	}
	return data, nil
}

// Deserialize implements ExecutionContextSerializer.
// Empty or absent data deserializes to an empty map.
func (s *JSONSerializer) Deserialize(data []byte) (map[string]interface{}, error) {
	result := make(map[string]interface{})
	if len(data) == 0 || string(data) == "null" {
		return result, nil
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, exception.NewBatchError("serialization", "Failed to deserialize ExecutionContext", err, false, false)
	}
	return result, nil
}

var _ ExecutionContextSerializer = (*JSONSerializer)(nil)

// GetMaskedJobParametersMap creates a copy of the raw parameter map and masks
// sensitive values based on configuration. Used when parameters are logged or
// stringified, never when they are persisted.
func GetMaskedJobParametersMap(params map[string]interface{}) map[string]interface{} {
	if len(params) == 0 {
		return map[string]interface{}{}
	}

	maskedParams := make(map[string]interface{}, len(params))
	for k, v := range params {
		maskedParams[k] = v
	}

	for _, key := range config.GetMaskedParameterKeys() {
		if _, ok := maskedParams[key]; ok {
			maskedParams[key] = "********"
		}
	}
	return maskedParams
}
