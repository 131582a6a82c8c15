// Package ipaddr discovers the public address of the running process.
//
// Discovery is an ordered list of strategies, each bounded by its own
// timeout, tried in sequence until one yields an address. The result is
// resolved once and cached by a Resolver.
package ipaddr

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const (
	// Unknown is recorded when every strategy failed.
	Unknown = "Unknown"

	// LoopbackMarker is the fixed address used on a developer machine.
	LoopbackMarker = "127.0.0.1"
)

// ErrNoStrategies is returned by a Sequential chain with no steps.
var ErrNoStrategies = errors.New("no address strategies configured")

// Strategy resolves an address or returns an error.
type Strategy func(ctx context.Context) (string, error)

// Step is one named strategy in a chain.
type Step struct {
	Name     string
	Strategy Strategy

	// Timeout bounds this step only. Zero means no extra bound.
	Timeout time.Duration
}

// Sequential tries the steps in order and returns the first address found.
// When every step fails the returned error joins the individual failures.
func Sequential(steps ...Step) Strategy {
	return func(ctx context.Context) (string, error) {
		if len(steps) == 0 {
			return "", ErrNoStrategies
		}

		var errs []error
		for _, step := range steps {
			if err := ctx.Err(); err != nil {
				errs = append(errs, err)
				break
			}

			addr, err := runStep(ctx, step)
			if err == nil && addr != "" {
				return addr, nil
			}
			if err == nil {
				err = errors.New("empty address")
			}
			errs = append(errs, fmt.Errorf("%s: %w", step.Name, err))
		}
		return "", errors.Join(errs...)
	}
}

func runStep(ctx context.Context, step Step) (string, error) {
	if step.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, step.Timeout)
		defer cancel()
	}
	return step.Strategy(ctx)
}

// Loopback always yields LoopbackMarker.
func Loopback() Strategy {
	return func(context.Context) (string, error) {
		return LoopbackMarker, nil
	}
}
