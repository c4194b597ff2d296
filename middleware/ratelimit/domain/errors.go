package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrQuotaExceeded marks a routine denial. It is answered with 429 and
	// is not an error condition for logging purposes.
	ErrQuotaExceeded = errors.New("rate limit quota exceeded")

	// ErrStoreUnavailable wraps any failure of the shared counter backend.
	ErrStoreUnavailable = errors.New("rate limit store unavailable")

	// ErrInvalidPolicy is returned for bad policy or TryConsume arguments.
	ErrInvalidPolicy = errors.New("invalid rate limit policy")
)

// StoreUnavailable wraps err so that errors.Is(_, ErrStoreUnavailable) holds
// and the backend cause is preserved.
func StoreUnavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, err)
}

func IsStoreUnavailable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}

func errorf(sentinel error, format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{sentinel}, args...)...)
}
