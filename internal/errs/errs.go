package errs

import (
	"errors"
	"fmt"
	"strings"
)

// Code is a stable machine-readable error code surfaced to callers.
type Code string

const (
	CodeValidation         Code = "VALIDATION_ERROR"
	CodeFileParsing        Code = "FILE_PARSING_ERROR"
	CodeDatasetNotFound    Code = "DATASET_NOT_FOUND"
	CodeEDANotFound        Code = "EDA_RESULT_NOT_FOUND"
	CodeJobNotFound        Code = "TRAINING_JOB_NOT_FOUND"
	CodeModelNotFound      Code = "MODEL_NOT_FOUND"
	CodePredictionNotFound Code = "PREDICTION_JOB_NOT_FOUND"
	CodeEDA                Code = "EDA_ERROR"
	CodeTraining           Code = "TRAINING_ERROR"
	CodePrediction         Code = "PREDICTION_ERROR"
	CodeSchemaValidation   Code = "SCHEMA_VALIDATION_ERROR"
	CodeEmptyInput         Code = "EMPTY_INPUT"
	CodeMissingColumns     Code = "MISSING_COLUMNS"
	CodeExternal           Code = "EXTERNAL_SERVICE_ERROR"
	CodeTimeout            Code = "TIMEOUT"
	CodeUnknown            Code = "INTERNAL_ERROR"
)

// Kind groups codes into the four handling classes.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindComputation
	KindExternal
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindComputation:
		return "computation"
	case KindExternal:
		return "external"
	default:
		return "internal"
	}
}

// Error is the typed error carried across service boundaries.
type Error struct {
	Code   Code
	Detail string
	Meta   map[string]any
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Detail == "" {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Detail)
}

func (e *Error) Unwrap() error { return e.Err }

// Kind maps the code to its handling class.
func (e *Error) Kind() Kind {
	switch e.Code {
	case CodeValidation, CodeFileParsing, CodeSchemaValidation, CodeEmptyInput, CodeMissingColumns:
		return KindValidation
	case CodeDatasetNotFound, CodeEDANotFound, CodeJobNotFound, CodeModelNotFound, CodePredictionNotFound:
		return KindNotFound
	case CodeEDA, CodeTraining, CodePrediction, CodeTimeout:
		return KindComputation
	case CodeExternal:
		return KindExternal
	default:
		return KindInternal
	}
}

// WithMeta attaches a key/value pair and returns the same error.
func (e *Error) WithMeta(key string, value any) *Error {
	if e.Meta == nil {
		e.Meta = map[string]any{}
	}
	e.Meta[key] = value
	return e
}

func New(code Code, detail string) *Error {
	return &Error{Code: code, Detail: detail}
}

func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Detail: fmt.Sprintf(format, args...)}
}

func Wrap(code Code, err error, detail string) *Error {
	return &Error{Code: code, Detail: detail, Err: err}
}

func Validation(format string, args ...any) *Error {
	return Newf(CodeValidation, format, args...)
}

// NotFound builds a not-found error for the named entity.
func NotFound(code Code, entity, id string) *Error {
	return Newf(code, "%s %s not found", entity, id).WithMeta("id", id)
}

// MissingColumns names the columns absent from a prediction input.
func MissingColumns(cols []string) *Error {
	return Newf(CodeMissingColumns, "missing required columns: %s", strings.Join(cols, ", ")).
		WithMeta("missing_columns", cols)
}

// CodeOf returns the code of the first *Error in the chain, or CodeUnknown.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}

// KindOf returns the handling class of err.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind()
	}
	return KindInternal
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	return CodeOf(err) == code
}
