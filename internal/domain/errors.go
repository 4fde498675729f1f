package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrTokenNotFound means no token file exists yet (operator must log in).
	ErrTokenNotFound = errors.New("token set not found")
	// ErrTokenCorrupt means the token file exists but cannot be used.
	ErrTokenCorrupt = errors.New("token set corrupt")
	// ErrAuthRejected is returned by auth adapters when the venue refuses a credential.
	ErrAuthRejected = errors.New("credential rejected by venue")

	// ErrStaleSnapshot is the ledger inconsistency case: a snapshot arrived with
	// an as_of older than the last applied one. The newer snapshot is kept.
	ErrStaleSnapshot = errors.New("snapshot older than last applied snapshot")
	// ErrNoSnapshot means no broker snapshot has ever been stored.
	ErrNoSnapshot = errors.New("no broker snapshot available")

	// ErrUnitFailed is returned by the supervisor when a fatal unit exits.
	ErrUnitFailed = errors.New("supervised unit failed")
	// ErrCycleActive is returned when a cycle is started while another is running.
	ErrCycleActive = errors.New("trading cycle already active")
)

// AuthErrorKind classifies credential failures.
type AuthErrorKind int

const (
	// AuthTransient covers network-level failures; retried with bounded backoff.
	AuthTransient AuthErrorKind = iota
	// AuthInvalid requires operator intervention and halts all startup.
	AuthInvalid
)

func (k AuthErrorKind) String() string {
	switch k {
	case AuthTransient:
		return "transient"
	case AuthInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// AuthError is the typed failure returned by the credential manager.
type AuthError struct {
	Kind     AuthErrorKind
	Op       string
	Attempts int
	Err      error
}

func (e *AuthError) Error() string {
	if e.Attempts > 1 {
		return fmt.Sprintf("auth %s (%s, %d attempts): %v", e.Op, e.Kind, e.Attempts, e.Err)
	}
	return fmt.Sprintf("auth %s (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// IsAuthInvalid reports whether err carries an AuthInvalid classification.
func IsAuthInvalid(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae) && ae.Kind == AuthInvalid
}
