package specvalidator

import (
	"errors"
	"strings"
)

// ErrInvalidSpecification is wrapped by every specification rejection.
var ErrInvalidSpecification = errors.New("invalid specification")

// ValidationError aggregates validation issues.
type ValidationError struct {
	Subject string
	Issues  []string
}

func (e *ValidationError) Error() string {
	subject := e.Subject
	if subject == "" {
		subject = "specification"
	}
	if len(e.Issues) == 0 {
		return subject + " validation failed"
	}
	return subject + " validation failed: " + strings.Join(e.Issues, "; ")
}

// Unwrap ties specification failures to ErrInvalidSpecification.
func (e *ValidationError) Unwrap() error {
	if e.Subject == "" || e.Subject == "specification" {
		return ErrInvalidSpecification
	}
	return nil
}

func (e *ValidationError) Add(issue string) {
	if strings.TrimSpace(issue) == "" {
		return
	}
	e.Issues = append(e.Issues, issue)
}

func (e *ValidationError) OrNil() error {
	if e == nil || len(e.Issues) == 0 {
		return nil
	}
	return e
}
