package types

import "fmt"

// FilterError attributes an error to the stage of the filter that produced it.
type FilterError struct {
	Stage string
	Err   error
}

func (e *FilterError) Error() string {
	return fmt.Sprintf("filter error at stage %s: %v", e.Stage, e.Err)
}

func (e *FilterError) Unwrap() error {
	return e.Err
}

func NewFilterError(stage string, err error) error {
	return &FilterError{Stage: stage, Err: err}
}
