package errors

// ErrorCode identifies an error class; stable codes let callers match
// shell, parse, and session failures without string comparison
type ErrorCode string

// Error carries a code plus optional context such as the bundle id,
// pid, or command that failed
type Error interface {
	error
	Code() ErrorCode
	WithMessage(msg string) Error
	WithData(data any) Error
	GetData() any
	Unwrap() error
}

// Factory builds coded errors, wrapping causes from the shell layer
// and remote parsers
type Factory interface {
	New(code ErrorCode) Error
	Wrap(code ErrorCode, err error) Error
	WithMessage(code ErrorCode, msg string) Error
	WithData(code ErrorCode, data any) Error
}
