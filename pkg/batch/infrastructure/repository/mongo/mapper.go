package mongo

import (
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	model "github.com/tigerroll/reef/pkg/batch/core/domain/model"
	"github.com/tigerroll/reef/pkg/batch/support/util/exception"
)

// fullwidthDot replaces '.' in parameter keys. MongoDB rejects dots in field
// names; U+FF0E is visually close and the substitution is reversible.
const fullwidthDot = "．"

// escapeFieldName makes a parameter key safe for use as a document field name.
func escapeFieldName(key string) string {
	return strings.ReplaceAll(key, ".", fullwidthDot)
}

// unescapeFieldName reverses escapeFieldName.
func unescapeFieldName(key string) string {
	return strings.ReplaceAll(key, fullwidthDot, ".")
}

// toParameterDocs converts typed parameters to their persisted form.
func toParameterDocs(params model.JobParameters) map[string]jobParameterDoc {
	docs := make(map[string]jobParameterDoc, len(params.Params))
	for key, p := range params.Params {
		docs[escapeFieldName(key)] = jobParameterDoc{
			Type:  p.Type().String(),
			Value: p.Value(),
		}
	}
	return docs
}

// fromParameterDocs rebuilds typed parameters from their persisted form.
// Numeric widths are normalized back through the type tag, so an int64 that
// the store narrowed to int32 still surfaces as a long parameter.
func fromParameterDocs(docs map[string]jobParameterDoc) (model.JobParameters, error) {
	params := model.NewJobParameters()
	for key, doc := range docs {
		name := unescapeFieldName(key)
		switch doc.Type {
		case "STRING":
			s, ok := doc.Value.(string)
			if !ok {
				return model.JobParameters{}, corruptParameter(name, doc)
			}
			params.Put(name, model.NewStringParameter(s))
		case "LONG":
			switch v := doc.Value.(type) {
			case int64:
				params.Put(name, model.NewLongParameter(v))
			case int32:
				params.Put(name, model.NewLongParameter(int64(v)))
			case int:
				params.Put(name, model.NewLongParameter(int64(v)))
			default:
				return model.JobParameters{}, corruptParameter(name, doc)
			}
		case "DOUBLE":
			switch v := doc.Value.(type) {
			case float64:
				params.Put(name, model.NewDoubleParameter(v))
			case float32:
				params.Put(name, model.NewDoubleParameter(float64(v)))
			default:
				return model.JobParameters{}, corruptParameter(name, doc)
			}
		case "DATE":
			switch v := doc.Value.(type) {
			case time.Time:
				params.Put(name, model.NewDateParameter(v))
			case bson.DateTime:
				params.Put(name, model.NewDateParameter(v.Time()))
			default:
				return model.JobParameters{}, corruptParameter(name, doc)
			}
		default:
			return model.JobParameters{}, corruptParameter(name, doc)
		}
	}
	return params, nil
}

func corruptParameter(name string, doc jobParameterDoc) error {
	return exception.NewBatchError(moduleName,
		fmt.Sprintf("corrupt job parameter '%s': type=%q value=%T", name, doc.Type, doc.Value), nil, false, false)
}

// --- JobInstance ---

func toJobInstanceDoc(instance *model.JobInstance) jobInstanceDoc {
	return jobInstanceDoc{
		ID:            instance.InstanceID,
		JobName:       instance.JobName,
		JobKey:        instance.JobKey,
		Version:       instance.Version,
		JobParameters: toParameterDocs(instance.Parameters),
	}
}

func fromJobInstanceDoc(doc jobInstanceDoc) (*model.JobInstance, error) {
	params, err := fromParameterDocs(doc.JobParameters)
	if err != nil {
		return nil, err
	}
	return &model.JobInstance{
		InstanceID: doc.ID,
		JobName:    doc.JobName,
		JobKey:     doc.JobKey,
		Version:    doc.Version,
		Parameters: params,
	}, nil
}

// --- JobExecution ---

func toJobExecutionDoc(je *model.JobExecution) jobExecutionDoc {
	return jobExecutionDoc{
		ID:            je.ExecutionID,
		JobInstanceID: je.JobInstanceID,
		Version:       je.Version,
		Status:        je.Status.String(),
		ExitCode:      je.ExitStatus.ExitCode,
		ExitMessage:   je.ExitStatus.ExitDescription,
		CreateTime:    je.CreateTime,
		StartTime:     je.StartTime,
		EndTime:       je.EndTime,
		LastUpdated:   je.LastUpdated,
		JobParameters: toParameterDocs(je.Parameters),
	}
}

func fromJobExecutionDoc(doc jobExecutionDoc) (*model.JobExecution, error) {
	params, err := fromParameterDocs(doc.JobParameters)
	if err != nil {
		return nil, err
	}
	return &model.JobExecution{
		ExecutionID:      doc.ID,
		JobInstanceID:    doc.JobInstanceID,
		Version:          doc.Version,
		Status:           model.JobStatus(doc.Status),
		ExitStatus:       model.ExitStatus{ExitCode: doc.ExitCode, ExitDescription: doc.ExitMessage},
		CreateTime:       doc.CreateTime,
		StartTime:        doc.StartTime,
		EndTime:          doc.EndTime,
		LastUpdated:      doc.LastUpdated,
		Parameters:       params,
		ExecutionContext: model.NewExecutionContext(),
	}, nil
}

// buildJobExecutionUpdate builds the update document persisting the
// execution's mutable state. Absent nullable fields (times, exit message) are
// removed from the stored document rather than written as nulls or empty
// strings, and the version always advances to the caller's held version plus
// one.
func buildJobExecutionUpdate(je *model.JobExecution, lastUpdated time.Time) bson.M {
	set := bson.M{
		fieldStatus:      je.Status.String(),
		fieldExitCode:    je.ExitStatus.ExitCode,
		fieldCreateTime:  je.CreateTime,
		fieldLastUpdated: lastUpdated,
		fieldVersion:     je.Version + 1,
	}
	unset := bson.M{}

	if je.ExitStatus.ExitDescription != "" {
		set[fieldExitMessage] = je.ExitStatus.ExitDescription
	} else {
		unset[fieldExitMessage] = ""
	}
	if je.StartTime != nil {
		set[fieldStartTime] = *je.StartTime
	} else {
		unset[fieldStartTime] = ""
	}
	if je.EndTime != nil {
		set[fieldEndTime] = *je.EndTime
	} else {
		unset[fieldEndTime] = ""
	}

	update := bson.M{"$set": set}
	if len(unset) > 0 {
		update["$unset"] = unset
	}
	return update
}

// --- StepExecution ---

func toStepExecutionDoc(se *model.StepExecution) stepExecutionDoc {
	return stepExecutionDoc{
		ID:             se.StepExecutionID,
		JobExecutionID: se.JobExecutionID,
		StepName:       se.StepName,
		Version:        se.Version,
		Status:         se.Status.String(),
		ExitCode:       se.ExitStatus.ExitCode,
		ExitMessage:    se.ExitStatus.ExitDescription,
		StartTime:      se.StartTime,
		EndTime:        se.EndTime,
		LastUpdated:    se.LastUpdated,

		CommitCount:      se.CommitCount,
		ReadCount:        se.ReadCount,
		FilterCount:      se.FilterCount,
		WriteCount:       se.WriteCount,
		ReadSkipCount:    se.ReadSkipCount,
		WriteSkipCount:   se.WriteSkipCount,
		ProcessSkipCount: se.ProcessSkipCount,
		RollbackCount:    se.RollbackCount,
	}
}

func fromStepExecutionDoc(doc stepExecutionDoc) *model.StepExecution {
	return &model.StepExecution{
		StepExecutionID: doc.ID,
		JobExecutionID:  doc.JobExecutionID,
		StepName:        doc.StepName,
		Version:         doc.Version,
		Status:          model.JobStatus(doc.Status),
		ExitStatus:      model.ExitStatus{ExitCode: doc.ExitCode, ExitDescription: doc.ExitMessage},
		StartTime:       doc.StartTime,
		EndTime:         doc.EndTime,
		LastUpdated:     doc.LastUpdated,

		CommitCount:      doc.CommitCount,
		ReadCount:        doc.ReadCount,
		FilterCount:      doc.FilterCount,
		WriteCount:       doc.WriteCount,
		ReadSkipCount:    doc.ReadSkipCount,
		WriteSkipCount:   doc.WriteSkipCount,
		ProcessSkipCount: doc.ProcessSkipCount,
		RollbackCount:    doc.RollbackCount,

		ExecutionContext: model.NewExecutionContext(),
	}
}

// buildStepExecutionUpdate builds the update document persisting the step's
// mutable state, including all progress counters. Absent nullable fields
// (end time, exit message) are removed rather than written as nulls or empty
// strings.
func buildStepExecutionUpdate(se *model.StepExecution, lastUpdated time.Time) bson.M {
	set := bson.M{
		fieldStatus:      se.Status.String(),
		fieldExitCode:    se.ExitStatus.ExitCode,
		fieldStartTime:   se.StartTime,
		fieldLastUpdated: lastUpdated,
		fieldVersion:     se.Version + 1,

		fieldCommitCount:      se.CommitCount,
		fieldReadCount:        se.ReadCount,
		fieldFilterCount:      se.FilterCount,
		fieldWriteCount:       se.WriteCount,
		fieldReadSkipCount:    se.ReadSkipCount,
		fieldWriteSkipCount:   se.WriteSkipCount,
		fieldProcessSkipCount: se.ProcessSkipCount,
		fieldRollbackCount:    se.RollbackCount,
	}
	unset := bson.M{}

	if se.ExitStatus.ExitDescription != "" {
		set[fieldExitMessage] = se.ExitStatus.ExitDescription
	} else {
		unset[fieldExitMessage] = ""
	}
	if se.EndTime != nil {
		set[fieldEndTime] = *se.EndTime
	} else {
		unset[fieldEndTime] = ""
	}

	update := bson.M{"$set": set}
	if len(unset) > 0 {
		update["$unset"] = unset
	}
	return update
}
