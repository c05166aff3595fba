package tracker

import (
	"errors"
	"fmt"
)

// ErrorKind classifies why an event did not reach the sink.
type ErrorKind int

const (
	KindDisabled ErrorKind = iota + 1
	KindInvalid
	KindSink
	KindPanic
)

func (k ErrorKind) String() string {
	switch k {
	case KindDisabled:
		return "disabled"
	case KindInvalid:
		return "invalid"
	case KindSink:
		return "sink"
	case KindPanic:
		return "panic"
	}
	return "unknown"
}

var (
	ErrDisabled     = errors.New("tracking disabled")
	ErrInvalidEvent = errors.New("invalid event")
	ErrMissingUser  = errors.New("user id is required")
)

// TrackingError is the failure result of the internal emit path. Public
// tracking methods never return it; they log it and carry on.
type TrackingError struct {
	Op   string
	Kind ErrorKind
	Err  error
}

func (e *TrackingError) Error() string {
	return fmt.Sprintf("tracker %s (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *TrackingError) Unwrap() error { return e.Err }

func disabled(op string) error {
	return &TrackingError{Op: op, Kind: KindDisabled, Err: ErrDisabled}
}

func invalid(op string, err error) error {
	return &TrackingError{Op: op, Kind: KindInvalid, Err: fmt.Errorf("%w: %w", ErrInvalidEvent, err)}
}

func sinkFailure(op string, err error) error {
	return &TrackingError{Op: op, Kind: KindSink, Err: err}
}

// KindOf extracts the ErrorKind from err, or 0 if err is not a TrackingError.
func KindOf(err error) ErrorKind {
	var te *TrackingError
	if errors.As(err, &te) {
		return te.Kind
	}
	return 0
}
