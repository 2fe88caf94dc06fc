package broker

import "fmt"

// ValidationError reports missing or invalid fields on a submitted order,
// deposit or query.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return "validation: " + e.Msg }

func validationf(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// NotFoundError reports a cancel or amendment referencing an unknown
// order_ref.
type NotFoundError struct {
	OrderRef string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("order %q not found", e.OrderRef)
}

// StateError reports an order in a state the engine cannot act on, e.g. an
// unsupported order type reaching the fill engine.
type StateError struct {
	Msg string
}

func (e *StateError) Error() string { return "state: " + e.Msg }

func statef(format string, args ...any) error {
	return &StateError{Msg: fmt.Sprintf(format, args...)}
}
