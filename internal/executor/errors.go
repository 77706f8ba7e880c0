package executor

import (
	"errors"
	"fmt"
)

var (
	// ErrJobNotFound indicates the job doesn't exist in the execution service
	ErrJobNotFound = errors.New("job not found in execution service")

	// ErrUnauthorized indicates service authentication failed
	ErrUnauthorized = errors.New("execution service authentication failed")

	// ErrServiceUnavailable indicates the service is temporarily unavailable
	ErrServiceUnavailable = errors.New("execution service temporarily unavailable")
)

// ServiceError represents a service-specific error
type ServiceError struct {
	Code    int
	Message string
	Err     error
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("execution service error %d: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("execution service error %d: %s", e.Code, e.Message)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}
