package health

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/voxtutor/internal/resilience"
)

// ErrNotConnected is reported by [Connected] while no client is attached.
var ErrNotConnected = errors.New("no client connected")

// Connected passes while connected reports true, e.g. while a browser page
// holds the relay connection.
func Connected(name string, connected func() bool) Checker {
	return Checker{
		Name: name,
		Check: func(context.Context) error {
			if !connected() {
				return ErrNotConnected
			}
			return nil
		},
	}
}

// Breaker passes unless cb is open. A half-open breaker is ready to probe and
// counts as healthy.
func Breaker(name string, cb *resilience.CircuitBreaker) Checker {
	return Checker{
		Name: name,
		Check: func(context.Context) error {
			if s := cb.State(); s == resilience.StateOpen {
				return fmt.Errorf("circuit %q is %s", cb.Name(), s)
			}
			return nil
		},
	}
}
