package genquota

import (
	"errors"
	"fmt"

	"github.com/xraph/genquota/generation"
)

// Sentinel errors. Store backends wrap driver failures around these so the
// engine can classify them while the original error stays in the chain.
var (
	// Store outcomes the engine knows how to handle.
	ErrNotFound = errors.New("genquota: not found")
	ErrConflict = errors.New("genquota: already exists")

	// Validation errors, raised before any store call.
	ErrInvalidInput = errors.New("genquota: invalid input")
	ErrInvalidType  = errors.New("genquota: unknown generation type")

	// ErrCountOverflow is returned by a store when an increment would push a
	// counter past the int64 range.
	ErrCountOverflow = errors.New("genquota: usage count overflow")

	// Store lifecycle errors.
	ErrStoreClosed = errors.New("genquota: store is closed")
)

// ErrorKind is the classification of a store or engine error.
type ErrorKind int

// Error kinds.
const (
	KindOther ErrorKind = iota
	KindNotFound
	KindConflict
	KindValidation
)

func (k ErrorKind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindValidation:
		return "validation"
	default:
		return "other"
	}
}

// Classify maps err onto an ErrorKind. Anything unrecognised, including
// timeouts and network failures, is KindOther.
func Classify(err error) ErrorKind {
	switch {
	case err == nil:
		return KindOther
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrConflict):
		return KindConflict
	case IsValidation(err):
		return KindValidation
	default:
		return KindOther
	}
}

// IsNotFound returns true if the error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict returns true if the error reports an existing document.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsValidation returns true if the input was rejected before reaching the store,
// including a failed generation.Parse.
func IsValidation(err error) bool {
	var ve ValidationError
	return errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrInvalidType) ||
		errors.Is(err, generation.ErrUnknownType) ||
		errors.As(err, &ve)
}

// ValidationError represents a validation failure with details.
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("genquota: validation failed for %s: %s", e.Field, e.Message)
}

func (e ValidationError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrInvalidInput
}

// Op names an engine operation in an OpError.
type Op string

// Engine operations.
const (
	OpCheckQuota       Op = "check_quota"
	OpIncrementUsage   Op = "increment_usage"
	OpRecordGeneration Op = "record_generation"
	OpGetUsage         Op = "get_usage"
	OpGetGeneration    Op = "get_generation"
	OpListGenerations  Op = "list_generations"
)

// OpError reports which engine operation failed for which user. Err is the
// unmodified store or validation error.
type OpError struct {
	Op     Op
	UserID string
	Err    error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("genquota: %s user=%s: %v", e.Op, e.UserID, e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Err
}

func opError(op Op, userID string, err error) error {
	return &OpError{Op: op, UserID: userID, Err: err}
}

func isOp(err error, op Op) bool {
	var oe *OpError
	return errors.As(err, &oe) && oe.Op == op
}

// IsQuotaCheckFailure reports that the quota could not be confirmed. Callers
// must neither allow nor deny on this error; they should ask the user to retry.
func IsQuotaCheckFailure(err error) bool {
	return isOp(err, OpCheckQuota)
}

// IsUsageUpdateFailure reports that recording usage failed. When the billable
// operation already ran, the action succeeded but its count was not updated.
func IsUsageUpdateFailure(err error) bool {
	return isOp(err, OpIncrementUsage)
}

// IsHistoryFailure reports that the generation record was not persisted.
func IsHistoryFailure(err error) bool {
	return isOp(err, OpRecordGeneration)
}
