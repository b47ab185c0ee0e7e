package strata

import (
	"errors"
	"fmt"
)

// ErrorType represents the category of error
type ErrorType string

const (
	ErrorTypeConfiguration ErrorType = "configuration"
	ErrorTypeValidation    ErrorType = "validation"
	ErrorTypeProbe         ErrorType = "probe"
	ErrorTypeBootstrap     ErrorType = "bootstrap"
	ErrorTypeTransaction   ErrorType = "transaction"
	ErrorTypeLoad          ErrorType = "load"
	ErrorTypeExecution     ErrorType = "execution"
	ErrorTypeNotFound      ErrorType = "not_found"
)

// StoreError is the error type surfaced by store operations.
type StoreError struct {
	Type       ErrorType      `json:"type"`
	Code       string         `json:"code"`
	Message    string         `json:"message"`
	EntityGuid string         `json:"entityGuid,omitempty"`
	EntityID   int64          `json:"entityId,omitempty"`
	FieldID    int64          `json:"fieldId,omitempty"`
	Object     string         `json:"object,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
	Cause      error          `json:"-"`
}

func (e *StoreError) Error() string {
	msg := e.Message
	if e.Cause != nil {
		msg = msg + ": " + e.Cause.Error()
	}
	switch {
	case e.Object != "":
		return fmt.Sprintf("[%s:%s] object %s: %s", e.Type, e.Code, e.Object, msg)
	case e.EntityGuid != "":
		return fmt.Sprintf("[%s:%s] entity %s: %s", e.Type, e.Code, e.EntityGuid, msg)
	case e.FieldID != 0:
		return fmt.Sprintf("[%s:%s] field %d: %s", e.Type, e.Code, e.FieldID, msg)
	case e.EntityID != 0:
		return fmt.Sprintf("[%s:%s] entity type %d: %s", e.Type, e.Code, e.EntityID, msg)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Type, e.Code, msg)
}

func (e *StoreError) Unwrap() error {
	return e.Cause
}

// WithDetail adds a single detail to a StoreError
func (e *StoreError) WithDetail(key string, value any) *StoreError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// WithCause adds a cause to a StoreError
func (e *StoreError) WithCause(cause error) *StoreError {
	e.Cause = cause
	return e
}

func (e *StoreError) WithEntityGuid(guid string) *StoreError {
	e.EntityGuid = guid
	return e
}

func (e *StoreError) WithEntityID(id int64) *StoreError {
	e.EntityID = id
	return e
}

func (e *StoreError) WithFieldID(id int64) *StoreError {
	e.FieldID = id
	return e
}

func (e *StoreError) WithObject(name string) *StoreError {
	e.Object = name
	return e
}

const (
	ErrCodeUnregisteredEntity = "UNREGISTERED_ENTITY"
	ErrCodeUnregisteredField  = "UNREGISTERED_FIELD"
	ErrCodeFieldNotBound      = "FIELD_NOT_BOUND"
	ErrCodeCategoryMismatch   = "CATEGORY_MISMATCH"
	ErrCodeInvalidDefinition  = "INVALID_DEFINITION"
	ErrCodeUnsupportedDialect = "UNSUPPORTED_DIALECT"

	ErrCodeTypeMismatch       = "TYPE_MISMATCH"
	ErrCodeUnknownEnumLiteral = "UNKNOWN_ENUM_LITERAL"
	ErrCodeInvalidGuid        = "INVALID_GUID"
	ErrCodeQueryBuildFailed   = "QUERY_BUILD_FAILED"

	ErrCodeProbeFailed        = "PROBE_FAILED"
	ErrCodeObjectFailed       = "OBJECT_FAILED"
	ErrCodeDefinitionNotFound = "DEFINITION_NOT_FOUND"

	ErrCodeSaveFailed   = "SAVE_FAILED"
	ErrCodeDeleteFailed = "DELETE_FAILED"

	ErrCodeRowUndecodable = "ROW_UNDECODABLE"
	ErrCodeLoadFailed     = "LOAD_FAILED"
)

// NewStoreError creates a new StoreError
func NewStoreError(errorType ErrorType, code, message string) *StoreError {
	return &StoreError{
		Type:    errorType,
		Code:    code,
		Message: message,
	}
}

// NewConfigurationError reports an unregistered or inconsistent definition. Never retried.
func NewConfigurationError(code, message string) *StoreError {
	return NewStoreError(ErrorTypeConfiguration, code, message)
}

func NewUnregisteredEntityError(entityID int64) *StoreError {
	return NewConfigurationError(ErrCodeUnregisteredEntity, "entity type is not registered").WithEntityID(entityID)
}

func NewUnregisteredFieldError(fieldID int64) *StoreError {
	return NewConfigurationError(ErrCodeUnregisteredField, "field is not registered").WithFieldID(fieldID)
}

// NewValidationError reports a value that does not fit its declared category.
func NewValidationError(fieldID int64, message string) *StoreError {
	return NewStoreError(ErrorTypeValidation, ErrCodeTypeMismatch, message).WithFieldID(fieldID)
}

// NewProbeError reports a failed catalog probe.
func NewProbeError(object string, cause error) *StoreError {
	return NewStoreError(ErrorTypeProbe, ErrCodeProbeFailed, "existence probe failed").WithObject(object).WithCause(cause)
}

// NewBootstrapObjectError reports a schema object that could not be applied.
func NewBootstrapObjectError(object string, cause error) *StoreError {
	return NewStoreError(ErrorTypeBootstrap, ErrCodeObjectFailed, "schema object not applied").WithObject(object).WithCause(cause)
}

// NewTransactionError reports a failed save or delete batch.
func NewTransactionError(code, message string, cause error) *StoreError {
	return NewStoreError(ErrorTypeTransaction, code, message).WithCause(cause)
}

// NewLoadRowError reports a stored row that could not be decoded.
func NewLoadRowError(guid string, fieldID int64, cause error) *StoreError {
	return NewStoreError(ErrorTypeLoad, ErrCodeRowUndecodable, "attribute row skipped").WithEntityGuid(guid).WithFieldID(fieldID).WithCause(cause)
}

// IsConfigurationError reports whether err carries a configuration StoreError.
func IsConfigurationError(err error) bool {
	return hasType(err, ErrorTypeConfiguration)
}

// IsValidationError reports whether err carries a validation StoreError.
func IsValidationError(err error) bool {
	return hasType(err, ErrorTypeValidation)
}

func hasType(err error, t ErrorType) bool {
	var se *StoreError
	if errors.As(err, &se) {
		return se.Type == t
	}
	return false
}
