package metrics

import (
	"context"
)

// Tracer is an abstract interface for distributed tracing of repository
// operations. It enables integration with tracing systems like OpenTelemetry
// without coupling the repository layer to a specific SDK.
type Tracer interface {
	// StartOperationSpan starts a Span covering one repository operation.
	//
	// ctx: The parent context.
	// operation: The repository method name (e.g., "SaveJobExecution").
	//
	// Returns: A context carrying the new Span, and a function ending it.
	//          Call the returned function in a defer statement.
	StartOperationSpan(ctx context.Context, operation string) (context.Context, func())

	// RecordError records an error on the current Span.
	//
	// ctx: The context carrying the current Span.
	// module: The component where the error occurred (e.g., "repository").
	// err: The error to record.
	RecordError(ctx context.Context, module string, err error)

	// RecordEvent records a point-in-time event on the current Span.
	//
	// ctx: The context carrying the current Span.
	// name: The event name (e.g., "sequence_allocated").
	// attributes: Additional attributes to associate with the event.
	RecordEvent(ctx context.Context, name string, attributes map[string]interface{})
}
