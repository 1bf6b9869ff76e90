package model

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/tigerroll/reef/pkg/batch/support/util/exception"
	"github.com/tigerroll/reef/pkg/batch/support/util/serialization"
)

// ParameterType identifies the value kind held by a JobParameter.
type ParameterType int

const (
	ParameterTypeString ParameterType = iota
	ParameterTypeLong
	ParameterTypeDouble
	ParameterTypeDate
)

// String returns the type name used in logs and persisted type tags.
func (t ParameterType) String() string {
	switch t {
	case ParameterTypeString:
		return "STRING"
	case ParameterTypeLong:
		return "LONG"
	case ParameterTypeDouble:
		return "DOUBLE"
	case ParameterTypeDate:
		return "DATE"
	default:
		return "UNKNOWN"
	}
}

// JobParameter is a single typed job parameter value. The value set is closed:
// string, int64, float64, or time.Time. Construct instances through the
// New*Parameter functions so the type tag and value always agree.
type JobParameter struct {
	typ         ParameterType
	stringValue string
	longValue   int64
	doubleValue float64
	dateValue   time.Time
}

// NewStringParameter creates a string-valued JobParameter.
func NewStringParameter(value string) JobParameter {
	return JobParameter{typ: ParameterTypeString, stringValue: value}
}

// NewLongParameter creates an int64-valued JobParameter.
func NewLongParameter(value int64) JobParameter {
	return JobParameter{typ: ParameterTypeLong, longValue: value}
}

// NewDoubleParameter creates a float64-valued JobParameter.
func NewDoubleParameter(value float64) JobParameter {
	return JobParameter{typ: ParameterTypeDouble, doubleValue: value}
}

// NewDateParameter creates a time-valued JobParameter. The value is stored in
// UTC so that fingerprints do not depend on the producer's timezone.
func NewDateParameter(value time.Time) JobParameter {
	return JobParameter{typ: ParameterTypeDate, dateValue: value.UTC()}
}

// Type returns the parameter's value kind.
func (p JobParameter) Type() ParameterType {
	return p.typ
}

// Value returns the parameter's value as an untyped interface. The dynamic
// type is string, int64, float64, or time.Time according to Type.
func (p JobParameter) Value() interface{} {
	switch p.typ {
	case ParameterTypeString:
		return p.stringValue
	case ParameterTypeLong:
		return p.longValue
	case ParameterTypeDouble:
		return p.doubleValue
	case ParameterTypeDate:
		return p.dateValue
	default:
		return nil
	}
}

// StringValue returns the canonical string form of the value. Dates render in
// RFC 3339 with nanoseconds so distinct instants never collide.
func (p JobParameter) StringValue() string {
	switch p.typ {
	case ParameterTypeString:
		return p.stringValue
	case ParameterTypeLong:
		return fmt.Sprintf("%d", p.longValue)
	case ParameterTypeDouble:
		return strconv.FormatFloat(p.doubleValue, 'g', -1, 64)
	case ParameterTypeDate:
		return p.dateValue.Format(time.RFC3339Nano)
	default:
		return ""
	}
}

// Equal reports whether two parameters hold the same type and value.
func (p JobParameter) Equal(other JobParameter) bool {
	if p.typ != other.typ {
		return false
	}
	switch p.typ {
	case ParameterTypeDate:
		return p.dateValue.Equal(other.dateValue)
	default:
		return p == other
	}
}

// JobParameters is the full set of typed parameters identifying a job run.
type JobParameters struct {
	Params map[string]JobParameter
}

// NewJobParameters creates an empty JobParameters.
func NewJobParameters() JobParameters {
	return JobParameters{Params: make(map[string]JobParameter)}
}

// Put sets a parameter, replacing any existing value under the same key.
func (jp *JobParameters) Put(key string, value JobParameter) {
	if jp.Params == nil {
		jp.Params = make(map[string]JobParameter)
	}
	jp.Params[key] = value
}

// Get returns the parameter under key and whether it exists.
func (jp JobParameters) Get(key string) (JobParameter, bool) {
	p, ok := jp.Params[key]
	return p, ok
}

// GetString returns the string value under key, or "" when absent or not a string.
func (jp JobParameters) GetString(key string) string {
	if p, ok := jp.Params[key]; ok && p.typ == ParameterTypeString {
		return p.stringValue
	}
	return ""
}

// GetLong returns the int64 value under key, or 0 when absent or not a long.
func (jp JobParameters) GetLong(key string) int64 {
	if p, ok := jp.Params[key]; ok && p.typ == ParameterTypeLong {
		return p.longValue
	}
	return 0
}

// IsEmpty reports whether no parameters are set.
func (jp JobParameters) IsEmpty() bool {
	return len(jp.Params) == 0
}

// Equal reports whether two parameter sets are identical in keys, types, and values.
func (jp JobParameters) Equal(other JobParameters) bool {
	if len(jp.Params) != len(other.Params) {
		return false
	}
	for k, p := range jp.Params {
		op, ok := other.Params[k]
		if !ok || !p.Equal(op) {
			return false
		}
	}
	return true
}

// JobKey computes the deterministic fingerprint identifying a parameter set.
// The empty set maps to the empty string. Otherwise the key is the SHA-256 hex
// digest of the sorted "key=value;" concatenation, so equal parameter sets
// always yield equal keys regardless of insertion order.
func (jp JobParameters) JobKey() string {
	if len(jp.Params) == 0 {
		return ""
	}

	keys := make([]string, 0, len(jp.Params))
	for k := range jp.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, k := range keys {
		sb.WriteString(k)
		sb.WriteString("=")
		sb.WriteString(jp.Params[k].StringValue())
		sb.WriteString(";")
	}

	sum := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(sum[:])
}

// ToMap converts the parameters to a plain map of Go values, suitable for
// persistence or logging.
func (jp JobParameters) ToMap() map[string]interface{} {
	result := make(map[string]interface{}, len(jp.Params))
	for k, p := range jp.Params {
		result[k] = p.Value()
	}
	return result
}

// JobParametersFromMap builds JobParameters from a map of raw Go values.
// Integer kinds widen to int64 and float32 widens to float64. Any other value
// type is rejected with an error rather than coerced through a string detour.
func JobParametersFromMap(raw map[string]interface{}) (JobParameters, error) {
	params := NewJobParameters()
	for k, v := range raw {
		switch val := v.(type) {
		case string:
			params.Put(k, NewStringParameter(val))
		case int:
			params.Put(k, NewLongParameter(int64(val)))
		case int32:
			params.Put(k, NewLongParameter(int64(val)))
		case int64:
			params.Put(k, NewLongParameter(val))
		case float32:
			params.Put(k, NewDoubleParameter(float64(val)))
		case float64:
			params.Put(k, NewDoubleParameter(val))
		case time.Time:
			params.Put(k, NewDateParameter(val))
		default:
			return JobParameters{}, exception.NewValidationError(
				"model", fmt.Sprintf("unsupported job parameter type %T for key '%s'", v, k))
		}
	}
	return params, nil
}

// String renders the parameters as JSON with configured sensitive keys masked.
// Intended for logs only; persistence goes through ToMap.
func (jp JobParameters) String() string {
	masked := serialization.GetMaskedJobParametersMap(jp.ToMap())
	data, err := json.Marshal(masked)
	if err != nil {
		return fmt.Sprintf("%v", masked)
	}
	return string(data)
}
