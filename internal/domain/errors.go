package domain

import (
	"errors"
	"fmt"
)

// Category sentinels.
var (
	ErrNotFound      = fmt.Errorf("not found")
	ErrTimeout       = fmt.Errorf("operation timed out")
	ErrInvalidInput  = fmt.Errorf("invalid input")
	ErrProviderError = fmt.Errorf("provider error")
)

// Sentinel errors for the domain layer.
var (
	ErrToolNotFound        = fmt.Errorf("tool not found")
	ErrUnresolvedPathParam = fmt.Errorf("unresolved path parameter")
	ErrCompile             = fmt.Errorf("openapi compilation failed")
	ErrConfigLoad          = fmt.Errorf("failed to load configuration")
	ErrDecryption          = fmt.Errorf("decryption failed")
	ErrEmptyMessage        = fmt.Errorf("message must not be empty")
	ErrMaxToolRounds       = fmt.Errorf("tool round limit reached")
	ErrToolArguments       = fmt.Errorf("malformed tool arguments")

	// Resilience errors.
	ErrRateLimit   = fmt.Errorf("rate limit exceeded")
	ErrAuthInvalid = fmt.Errorf("authentication failed")
	ErrCircuitOpen = fmt.Errorf("%w: circuit open", ErrProviderError)
	ErrUpstream    = fmt.Errorf("upstream server error")
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op     string // operation name (e.g., "Engine.Execute")
	Err    error  // underlying sentinel or wrapped error
	Detail string // human-readable detail
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// ErrorCode is a machine-parseable error category carried in error events and
// HTTP error bodies.
type ErrorCode string

const (
	CodeUnknown        ErrorCode = "UNKNOWN"
	CodeNotFound       ErrorCode = "NOT_FOUND"
	CodeTimeout        ErrorCode = "TIMEOUT"
	CodeInvalidInput   ErrorCode = "INVALID_INPUT"
	CodeProviderError  ErrorCode = "PROVIDER_ERROR"
	CodeToolNotFound   ErrorCode = "TOOL_NOT_FOUND"
	CodeUnresolvedPath ErrorCode = "UNRESOLVED_PATH_PARAM"
	CodeCompile        ErrorCode = "COMPILE"
	CodeConfigLoad     ErrorCode = "CONFIG_LOAD"
	CodeDecryption     ErrorCode = "DECRYPTION"
	CodeEmptyMessage   ErrorCode = "EMPTY_MESSAGE"
	CodeMaxToolRounds  ErrorCode = "MAX_TOOL_ROUNDS"
	CodeToolArguments  ErrorCode = "TOOL_ARGUMENTS"
	CodeRateLimit      ErrorCode = "RATE_LIMIT"
	CodeAuthInvalid    ErrorCode = "AUTH_INVALID"
	CodeCircuitOpen    ErrorCode = "CIRCUIT_OPEN"
	CodeUpstream       ErrorCode = "UPSTREAM"
	CodeAuditWrite     ErrorCode = "AUDIT_WRITE"
)

// errorCodeMap maps sentinel errors to their machine-parseable codes.
// Specific sentinels are listed before the categories they wrap so that
// the ordered walk in ErrorCodeOf prefers them.
var errorCodeMap = []struct {
	err  error
	code ErrorCode
}{
	{ErrToolNotFound, CodeToolNotFound},
	{ErrUnresolvedPathParam, CodeUnresolvedPath},
	{ErrCompile, CodeCompile},
	{ErrConfigLoad, CodeConfigLoad},
	{ErrDecryption, CodeDecryption},
	{ErrEmptyMessage, CodeEmptyMessage},
	{ErrMaxToolRounds, CodeMaxToolRounds},
	{ErrToolArguments, CodeToolArguments},
	{ErrRateLimit, CodeRateLimit},
	{ErrAuthInvalid, CodeAuthInvalid},
	{ErrCircuitOpen, CodeCircuitOpen},
	{ErrUpstream, CodeUpstream},
	{ErrAuditWrite, CodeAuditWrite},

	{ErrNotFound, CodeNotFound},
	{ErrTimeout, CodeTimeout},
	{ErrInvalidInput, CodeInvalidInput},
	{ErrProviderError, CodeProviderError},
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// It walks the error chain with errors.Is, so DomainError and %w wrapping
// both resolve to the innermost known sentinel.
// Returns CodeUnknown if no matching sentinel is found.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}
	for _, entry := range errorCodeMap {
		if errors.Is(err, entry.err) {
			return entry.code
		}
	}
	return CodeUnknown
}

// Code returns the ErrorCode for this DomainError's underlying sentinel.
func (e *DomainError) Code() ErrorCode {
	return ErrorCodeOf(e.Err)
}
