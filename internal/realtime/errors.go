package realtime

import (
	"errors"
	"fmt"
)

// FailureKind classifies failures at the real-time boundary.
type FailureKind string

const (
	AuthFailure       FailureKind = "auth_failure"
	RateLimited       FailureKind = "rate_limited"
	ValidationFailure FailureKind = "validation_failure"
	UpstreamFailure   FailureKind = "upstream_failure"
	TransportFailure  FailureKind = "transport_failure"
)

// Failure is the typed error surfaced to a single connection as an "error"
// notice. Ref carries the client's correlation value when there is one.
type Failure struct {
	Kind    FailureKind
	Message string
	Ref     string
	Err     error
}

func (f *Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s: %s: %v", f.Kind, f.Message, f.Err)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

func (f *Failure) Unwrap() error { return f.Err }

// Is matches any *Failure of the same kind.
func (f *Failure) Is(target error) bool {
	t, ok := target.(*Failure)
	if !ok {
		return false
	}
	return f.Kind == t.Kind
}

// Sentinels for errors.Is checks.
var (
	ErrAuthFailure       = &Failure{Kind: AuthFailure}
	ErrRateLimited       = &Failure{Kind: RateLimited}
	ErrValidationFailure = &Failure{Kind: ValidationFailure}
	ErrUpstreamFailure   = &Failure{Kind: UpstreamFailure}
	ErrTransportFailure  = &Failure{Kind: TransportFailure}
)

func newFailure(kind FailureKind, msg string, err error) *Failure {
	return &Failure{Kind: kind, Message: msg, Err: err}
}

// KindOf returns the failure kind of err, or UpstreamFailure for errors that
// did not originate at the boundary.
func KindOf(err error) FailureKind {
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind
	}
	return UpstreamFailure
}
