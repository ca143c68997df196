package domain

import "errors"

var (
	ErrNotFound = errors.New("not found")

	// ErrNoPlace is returned by sync paths when no upstream place is configured.
	ErrNoPlace = errors.New("no upstream place configured")
)

// AdmissionError is an expected, user-facing refusal from the cooldown or
// quota gates. It is not a fault: the caller should show Reason and back off.
type AdmissionError struct {
	Reason string
}

func (e *AdmissionError) Error() string { return e.Reason }

// Denied reports whether err is an admission refusal.
func Denied(err error) bool {
	var ae *AdmissionError
	return errors.As(err, &ae)
}
