package model_test

import (
	"testing"

	model "github.com/tigerroll/reef/pkg/batch/core/domain/model"

	"github.com/stretchr/testify/assert"
)

func TestJobStatusUpgradeTo(t *testing.T) {
	// A more severe status always wins, regardless of which side holds it.
	assert.Equal(t, model.BatchStatusFailed, model.BatchStatusStarted.UpgradeTo(model.BatchStatusFailed))
	assert.Equal(t, model.BatchStatusFailed, model.BatchStatusFailed.UpgradeTo(model.BatchStatusStarted))

	// COMPLETED survives a merge with any in-flight status: a finished
	// execution is never regressed by a stale STARTING/STARTED observation.
	assert.Equal(t, model.BatchStatusCompleted, model.BatchStatusCompleted.UpgradeTo(model.BatchStatusStarting))
	assert.Equal(t, model.BatchStatusCompleted, model.BatchStatusCompleted.UpgradeTo(model.BatchStatusStarted))
	assert.Equal(t, model.BatchStatusCompleted, model.BatchStatusStarted.UpgradeTo(model.BatchStatusCompleted))

	// A terminal abnormal outcome still overrides COMPLETED.
	assert.Equal(t, model.BatchStatusAbandoned, model.BatchStatusCompleted.UpgradeTo(model.BatchStatusAbandoned))
	assert.Equal(t, model.BatchStatusFailed, model.BatchStatusCompleted.UpgradeTo(model.BatchStatusFailed))
	assert.Equal(t, model.BatchStatusStopped, model.BatchStatusCompleted.UpgradeTo(model.BatchStatusStopped))

	// Equal statuses are stable.
	assert.Equal(t, model.BatchStatusStopped, model.BatchStatusStopped.UpgradeTo(model.BatchStatusStopped))

	// An unrecognized status on either side degrades to UNKNOWN.
	assert.Equal(t, model.BatchStatusUnknown, model.BatchStatusStarted.UpgradeTo(model.JobStatus("BOGUS")))
	assert.Equal(t, model.BatchStatusUnknown, model.JobStatus("BOGUS").UpgradeTo(model.BatchStatusStarted))
}

func TestJobStatusPredicates(t *testing.T) {
	assert.True(t, model.BatchStatusStarting.IsRunning())
	assert.True(t, model.BatchStatusStarted.IsRunning())
	assert.True(t, model.BatchStatusStopping.IsRunning())
	assert.False(t, model.BatchStatusCompleted.IsRunning())
	assert.False(t, model.BatchStatusFailed.IsRunning())

	assert.True(t, model.BatchStatusCompleted.IsFinished())
	assert.True(t, model.BatchStatusFailed.IsFinished())
	assert.True(t, model.BatchStatusStopped.IsFinished())
	assert.True(t, model.BatchStatusAbandoned.IsFinished())
	assert.False(t, model.BatchStatusStarted.IsFinished())

	assert.True(t, model.BatchStatusFailed.IsUnsuccessful())
	assert.True(t, model.BatchStatusAbandoned.IsUnsuccessful())
	assert.False(t, model.BatchStatusCompleted.IsUnsuccessful())

	assert.True(t, model.IsValidJobStatus(model.BatchStatusStopping))
	assert.False(t, model.IsValidJobStatus(model.JobStatus("NOPE")))
}

func TestJobStatusToExitStatus(t *testing.T) {
	assert.Equal(t, model.ExitStatusCompleted, model.BatchStatusCompleted.ToExitStatus())
	assert.Equal(t, model.ExitStatusFailed, model.BatchStatusFailed.ToExitStatus())
	assert.Equal(t, model.ExitStatusStopped, model.BatchStatusStopped.ToExitStatus())
	assert.Equal(t, model.ExitStatusExecuting, model.BatchStatusStarted.ToExitStatus())
	assert.Equal(t, model.ExitStatusUnknown, model.BatchStatusAbandoned.ToExitStatus())
}

func TestExitStatusWithDescription(t *testing.T) {
	es := model.ExitStatusFailed.WithDescription("boom")
	assert.Equal(t, "FAILED", es.ExitCode)
	assert.Equal(t, "boom", es.ExitDescription)

	// The original constant is unchanged.
	assert.Empty(t, model.ExitStatusFailed.ExitDescription)
	assert.Equal(t, "FAILED", model.ExitStatusFailed.String())
}
