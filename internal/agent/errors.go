package agent

import (
	"errors"
	"fmt"
)

// ErrCyclicDependency is the kind of ConfigurationError raised for cyclic relations
var ErrCyclicDependency = errors.New("cyclic dependency")

// ErrInvalidRelation is the kind raised for relations on unknown channels
var ErrInvalidRelation = errors.New("invalid relation")

// ErrDuplicateAgent is the kind raised when names or channels collide
var ErrDuplicateAgent = errors.New("duplicate agent")

// ConfigurationError is a fatal team construction error. It is never retried.
type ConfigurationError struct {
	Kind    error
	Message string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("team configuration error: %s: %s", e.Kind, e.Message)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Kind
}

// ValidationError reports a malformed execution plan
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	msg := fmt.Sprintf("invalid execution plan: %s: %s", e.Field, e.Message)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}
