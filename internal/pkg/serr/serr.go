package serr

import (
	"fmt"
	"runtime/debug"
)

// ServiceError is an error that carries the HTTP status and the public message the transport layer should
// respond with. Err keeps the underlying cause for logging and errors.Is/As matching.
type ServiceError struct {
	Err        error
	Msg        string
	StackTrace string
	StatusCode int
	Env        map[string]string
}

func NewServiceError(err error, statusCode int, msg string, args ...any) *ServiceError {
	return &ServiceError{
		Err:        err,
		Msg:        fmt.Sprintf(msg, args...),
		StatusCode: statusCode,
		StackTrace: string(debug.Stack()),
		Env:        make(map[string]string),
	}
}

func (e *ServiceError) Error() string {
	if e.Err == nil {
		return e.Msg
	}
	return fmt.Sprintf("%s: %v", e.Msg, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// With attaches a key/value pair to the error environment and returns the error for chaining.
func (e *ServiceError) With(key, val string) *ServiceError {
	e.Env[key] = val
	return e
}
