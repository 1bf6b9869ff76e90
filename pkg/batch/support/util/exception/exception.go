// Package exception provides custom error types and error handling utilities for
// the Reef batch metadata store. It standardizes errors raised by the repository
// layer so that callers can classify them (validation, lock conflict, missing
// record, data corruption) and decide between retrying and aborting.
package exception

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"runtime"
	"strings"
	"sync"
)

// errorRegistry maps error names to concrete Go error instances.
// It holds error instances (singletons) for comparison using errors.Is.
var errorRegistry = make(map[string]error)

// registryMutex protects access to errorRegistry.
var registryMutex sync.RWMutex

// RegisterErrorType registers an error type in the registry.
// Registered error types are used by IsErrorOfType for error classification.
//
// name: A unique identifier for the error type.
// prototype: An instance of the error to be registered. Used for comparison with errors.Is.
//
// If prototype is nil or name is empty, this function will panic.
func RegisterErrorType(name string, prototype error) {
	registryMutex.Lock()
	defer registryMutex.Unlock()

	if name == "" {
		panic("Error type name cannot be empty")
	}
	if prototype == nil {
		panic(fmt.Sprintf("Cannot register nil prototype for name: %s", name))
	}

	errorRegistry[name] = prototype
}

// IsErrorTypeRegistered checks if the specified error type name is registered in the registry.
func IsErrorTypeRegistered(name string) bool {
	registryMutex.RLock()
	defer registryMutex.RUnlock()
	_, ok := errorRegistry[name]
	return ok
}

// BatchError is a custom error type raised by the metadata store.
// It holds the module where the error occurred, a message, the wrapped original
// error, and flags indicating whether it is retryable or skippable.
type BatchError struct {
	// Module indicates the module where the error occurred (e.g., "repository", "serialization").
	Module string
	// Message is a concise description of the error.
	Message string
	// OriginalErr is the wrapped original error.
	OriginalErr error
	// isRetryable indicates whether this error is retryable.
	isRetryable bool
	// isSkippable indicates whether this error is skippable.
	isSkippable bool
	// StackTrace is the stack trace at the time of the error (for debugging).
	StackTrace string
}

// NewBatchError creates a new BatchError instance.
// module: The module where the error occurred.
// message: The error message.
// originalErr: The original error to wrap.
// isSkippable: Whether this error is skippable.
// isRetryable: Whether this error is retryable.
func NewBatchError(module, message string, originalErr error, isSkippable, isRetryable bool) *BatchError {
	buf := make([]byte, 2048)
	n := runtime.Stack(buf, false)

	return &BatchError{
		Module:      module,
		Message:     message,
		OriginalErr: originalErr,
		isRetryable: isRetryable,
		isSkippable: isSkippable,
		StackTrace:  string(buf[:n]),
	}
}

// OptimisticLockingFailureException is a constant naming an optimistic locking failure.
const OptimisticLockingFailureException = "OptimisticLockingFailureException"

// ErrOptimisticLockingFailure is a sentinel error indicating an optimistic locking failure.
var ErrOptimisticLockingFailure = errors.New(OptimisticLockingFailureException)

// ErrValidation is a sentinel error indicating a precondition failure on a
// repository operation (required field missing, id already assigned, and so on).
// Validation failures are fatal to the caller's current attempt and are never
// retried internally.
var ErrValidation = errors.New("ValidationException")

// VersionConflictError reports a failed conditional update: the caller's held
// version no longer matches the persisted one. It carries both versions so the
// caller can decide whether to reload and retry or abort.
type VersionConflictError struct {
	// Entity names the record kind ("JobExecution", "StepExecution").
	Entity string
	// ID is the identifier of the record the update targeted.
	ID int64
	// Attempted is the version the caller held when submitting the update.
	Attempted int
	// Current is the version found persisted after the update matched nothing.
	Current int
}

// Error implements the error interface.
func (e *VersionConflictError) Error() string {
	return fmt.Sprintf(
		"Attempt to update %s id=%d with wrong version (%d), where current version is %d",
		e.Entity, e.ID, e.Attempted, e.Current,
	)
}

// Unwrap makes errors.Is(err, ErrOptimisticLockingFailure) hold for conflict errors.
func (e *VersionConflictError) Unwrap() error {
	return ErrOptimisticLockingFailure
}

// NewOptimisticLockingFailureException creates a BatchError wrapping a version
// conflict. Lock conflicts are neither retryable nor skippable at this layer;
// the caller owns the retry decision.
func NewOptimisticLockingFailureException(module string, conflict *VersionConflictError) *BatchError {
	return NewBatchError(module, conflict.Error(), conflict, false, false)
}

// NewValidationError creates a BatchError for a failed repository precondition.
// Validation errors are fatal: neither retryable nor skippable.
func NewValidationError(module, message string) *BatchError {
	return NewBatchError(module, message, ErrValidation, false, false)
}

// Error implements the error interface.
// It returns the error's module, message, and the string representation of the original error.
func (e *BatchError) Error() string {
	if e.OriginalErr != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Module, e.Message, e.OriginalErr)
	}
	return fmt.Sprintf("[%s] %s", e.Module, e.Message)
}

// Unwrap returns the original error for errors.Unwrap.
func (e *BatchError) Unwrap() error {
	return e.OriginalErr
}

// IsRetryable returns whether this error is retryable.
func (e *BatchError) IsRetryable() bool {
	return e.isRetryable
}

// IsSkippable returns whether this error is skippable.
func (e *BatchError) IsSkippable() bool {
	return e.isSkippable
}

// IsBatchError determines if the given error is of type BatchError.
func IsBatchError(err error) bool {
	if err == nil {
		return false
	}
	var be *BatchError
	return errors.As(err, &be)
}

// IsTemporary determines if an error is temporary (e.g., network error,
// temporary store connection issue). If it's a BatchError, its IsRetryable
// flag takes precedence.
func IsTemporary(err error) bool {
	if err == nil {
		return false
	}
	var be *BatchError
	if errors.As(err, &be) {
		return be.IsRetryable()
	}
	errStr := err.Error()
	return strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "EOF")
}

// IsErrorOfType checks if an error matches a specified type name (string).
// errorTypeName can be a Go error type name (e.g., "*net.OpError") or a substring
// of an error message. It checks in order: registered sentinel errors (errors.Is),
// substring of error message, and type name comparison using reflection.
func IsErrorOfType(err error, errorTypeName string) bool {
	if err == nil {
		return false
	}

	registryMutex.RLock()
	targetError, ok := errorRegistry[errorTypeName]
	registryMutex.RUnlock()

	if ok {
		if errors.Is(err, targetError) {
			return true
		}
	}

	currentErr := err
	for currentErr != nil {
		if strings.Contains(currentErr.Error(), errorTypeName) {
			return true
		}

		errType := reflect.TypeOf(currentErr)
		if errType != nil {
			if errType.String() == errorTypeName || (errType.Kind() == reflect.Ptr && errType.Elem().String() == errorTypeName) {
				return true
			}
		}

		currentErr = errors.Unwrap(currentErr)
	}

	return false
}

func init() {
	// Register sentinel errors so that errors.Is can detect them by constant name.
	RegisterErrorType(OptimisticLockingFailureException, ErrOptimisticLockingFailure)
	RegisterErrorType("ValidationException", ErrValidation)

	RegisterErrorType("context.DeadlineExceeded", context.DeadlineExceeded)
	RegisterErrorType("context.Canceled", context.Canceled)
}

// IsOptimisticLockingFailure determines if an error indicates an optimistic locking failure.
func IsOptimisticLockingFailure(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrOptimisticLockingFailure)
}

// IsValidationError determines if an error indicates a failed repository precondition.
func IsValidationError(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrValidation)
}

// ExtractErrorMessage extracts the error message string from an error.
// For BatchError, it returns the cleaner Message field.
func ExtractErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	var be *BatchError
	if errors.As(err, &be) {
		return be.Message
	}
	return err.Error()
}
