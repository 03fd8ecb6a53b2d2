package hub

import (
	"errors"

	"github.com/Omezi42/anokoro-tcg-backend/internal/store"
)

// retryOnce re-runs a side-effect-free store call once when it fails with
// store.ErrTransient, per spec §4.A/§7's retry-once policy: reads with no
// side effect get one automatic retry before the failure is surfaced to the
// caller as a transient error.
func retryOnce[T any](fn func() (T, error)) (T, error) {
	v, err := fn()
	if err != nil && errors.Is(err, store.ErrTransient) {
		v, err = fn()
	}
	return v, err
}
