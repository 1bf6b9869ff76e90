package mongo

import (
	"time"
)

// Persistence entities. Field names follow the wire schema constants defined
// in repository.go; the identifier doubles as the document key.

// jobParameterDoc is the persisted form of one typed parameter: the type tag
// plus the raw value. Parameter keys are dot-escaped before use as field names.
type jobParameterDoc struct {
	Type  string      `bson:"type"`
	Value interface{} `bson:"value"`
}

type jobInstanceDoc struct {
	ID            int64                      `bson:"_id"`
	JobName       string                     `bson:"jobName"`
	JobKey        string                     `bson:"jobKey"`
	Version       int                        `bson:"version"`
	JobParameters map[string]jobParameterDoc `bson:"jobParameters"`
}

type jobExecutionDoc struct {
	ID            int64      `bson:"_id"`
	JobInstanceID int64      `bson:"jobInstanceId"`
	Version       int        `bson:"version"`
	Status        string     `bson:"status"`
	ExitCode      string     `bson:"exitCode"`
	ExitMessage   string     `bson:"exitMessage,omitempty"`
	CreateTime    time.Time  `bson:"createTime"`
	StartTime     *time.Time `bson:"startTime,omitempty"`
	EndTime       *time.Time `bson:"endTime,omitempty"`
	LastUpdated   *time.Time                 `bson:"lastUpdated,omitempty"`
	JobParameters map[string]jobParameterDoc `bson:"jobParameters"`
}

type stepExecutionDoc struct {
	ID             int64      `bson:"_id"`
	JobExecutionID int64      `bson:"jobExecutionId"`
	StepName       string     `bson:"stepName"`
	Version        int        `bson:"version"`
	Status         string     `bson:"status"`
	ExitCode       string     `bson:"exitCode"`
	ExitMessage    string     `bson:"exitMessage,omitempty"`
	StartTime      time.Time  `bson:"startTime"`
	EndTime        *time.Time `bson:"endTime,omitempty"`
	LastUpdated    *time.Time `bson:"lastUpdated,omitempty"`

	CommitCount      int `bson:"commitCount"`
	ReadCount        int `bson:"readCount"`
	FilterCount      int `bson:"filterCount"`
	WriteCount       int `bson:"writeCount"`
	ReadSkipCount    int `bson:"readSkipCount"`
	WriteSkipCount   int `bson:"writeSkipCount"`
	ProcessSkipCount int `bson:"processSkipCount"`
	RollbackCount    int `bson:"rollbackCount"`
}

// Context type discriminators for the ExecutionContext collection.
const (
	contextTypeJob  = "JOB"
	contextTypeStep = "STEP"
)

type executionContextDoc struct {
	ExecutionID       int64  `bson:"executionId"`
	Type              string `bson:"type"`
	SerializedContext []byte `bson:"serializedContext"`
}
