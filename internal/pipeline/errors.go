package pipeline

import "fmt"

// ConstructionError reports a required element that could not be instantiated
// or linked. This signals a missing capability/module, not a transient
// condition: startup aborts and nothing is left running.
type ConstructionError struct {
	Element string
	Err     error
}

func (e *ConstructionError) Error() string {
	return fmt.Sprintf("pipeline: required element %q unavailable: %v", e.Element, e.Err)
}

func (e *ConstructionError) Unwrap() error {
	return e.Err
}
