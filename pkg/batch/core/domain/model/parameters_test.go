package model_test

import (
	"testing"
	"time"

	model "github.com/tigerroll/reef/pkg/batch/core/domain/model"
	"github.com/tigerroll/reef/pkg/batch/support/util/exception"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobParameterConstructors(t *testing.T) {
	s := model.NewStringParameter("hello")
	assert.Equal(t, model.ParameterTypeString, s.Type())
	assert.Equal(t, "hello", s.Value())
	assert.Equal(t, "hello", s.StringValue())

	l := model.NewLongParameter(42)
	assert.Equal(t, model.ParameterTypeLong, l.Type())
	assert.Equal(t, int64(42), l.Value())
	assert.Equal(t, "42", l.StringValue())

	d := model.NewDoubleParameter(2.5)
	assert.Equal(t, model.ParameterTypeDouble, d.Type())
	assert.Equal(t, 2.5, d.Value())
	assert.Equal(t, "2.5", d.StringValue())

	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	dt := model.NewDateParameter(at)
	assert.Equal(t, model.ParameterTypeDate, dt.Type())
	assert.Equal(t, at, dt.Value())
}

func TestJobParameterEqual(t *testing.T) {
	assert.True(t, model.NewLongParameter(1).Equal(model.NewLongParameter(1)))
	assert.False(t, model.NewLongParameter(1).Equal(model.NewLongParameter(2)))

	// Same rendered value, different type.
	assert.False(t, model.NewStringParameter("1").Equal(model.NewLongParameter(1)))

	// Dates compare by instant, not by location.
	utc := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	tokyo := utc.In(time.FixedZone("JST", 9*3600))
	assert.True(t, model.NewDateParameter(utc).Equal(model.NewDateParameter(tokyo)))
}

func TestJobParametersJobKeyDeterminism(t *testing.T) {
	a := model.NewJobParameters()
	a.Put("input", model.NewStringParameter("file.csv"))
	a.Put("chunk", model.NewLongParameter(100))

	b := model.NewJobParameters()
	b.Put("chunk", model.NewLongParameter(100))
	b.Put("input", model.NewStringParameter("file.csv"))

	// Insertion order must not affect the fingerprint.
	assert.Equal(t, a.JobKey(), b.JobKey())
	assert.Len(t, a.JobKey(), 64)

	// Any value change produces a different fingerprint.
	b.Put("chunk", model.NewLongParameter(101))
	assert.NotEqual(t, a.JobKey(), b.JobKey())
}

func TestJobParametersJobKeyEmpty(t *testing.T) {
	empty := model.NewJobParameters()
	assert.Equal(t, "", empty.JobKey())
	assert.True(t, empty.IsEmpty())
}

func TestJobParametersEqual(t *testing.T) {
	a := model.NewJobParameters()
	a.Put("k", model.NewStringParameter("v"))

	b := model.NewJobParameters()
	b.Put("k", model.NewStringParameter("v"))
	assert.True(t, a.Equal(b))

	b.Put("extra", model.NewLongParameter(1))
	assert.False(t, a.Equal(b))
}

func TestJobParametersFromMap(t *testing.T) {
	at := time.Date(2024, 6, 15, 8, 30, 0, 0, time.UTC)
	params, err := model.JobParametersFromMap(map[string]interface{}{
		"name":  "daily-load",
		"count": 7,
		"wide":  int64(1 << 40),
		"ratio": 0.25,
		"runAt": at,
	})
	require.NoError(t, err)

	assert.Equal(t, "daily-load", params.GetString("name"))
	assert.Equal(t, int64(7), params.GetLong("count"))
	assert.Equal(t, int64(1<<40), params.GetLong("wide"))

	p, ok := params.Get("ratio")
	require.True(t, ok)
	assert.Equal(t, 0.25, p.Value())

	p, ok = params.Get("runAt")
	require.True(t, ok)
	assert.Equal(t, at, p.Value())
}

func TestJobParametersFromMapRejectsUnsupportedType(t *testing.T) {
	_, err := model.JobParametersFromMap(map[string]interface{}{
		"flag": true,
	})
	require.Error(t, err)
	assert.True(t, exception.IsValidationError(err))
	assert.Contains(t, err.Error(), "flag")
}

func TestJobParametersToMapRoundTrip(t *testing.T) {
	params := model.NewJobParameters()
	params.Put("name", model.NewStringParameter("x"))
	params.Put("n", model.NewLongParameter(3))

	raw := params.ToMap()
	rebuilt, err := model.JobParametersFromMap(raw)
	require.NoError(t, err)
	assert.True(t, params.Equal(rebuilt))
	assert.Equal(t, params.JobKey(), rebuilt.JobKey())
}
