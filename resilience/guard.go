package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/maternify/backend/telemetry"
	"github.com/sony/gobreaker"
)

// ErrUnavailable is returned while the breaker is open or saturated.
var ErrUnavailable = errors.New("service temporarily unavailable")

// StatusError is a non-2xx answer from an upstream API.
type StatusError struct {
	Service    string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s API error: %d", e.Service, e.StatusCode)
	}
	return fmt.Sprintf("%s API error: %d - %s", e.Service, e.StatusCode, e.Body)
}

// countsAsSuccess reports whether err leaves the breaker counts untouched:
// caller cancellation and 4xx answers other than 429.
func countsAsSuccess(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return true
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode >= 400 && se.StatusCode < 500 && se.StatusCode != http.StatusTooManyRequests
	}
	return false
}

// Guard wraps calls to one external dependency with a per-call timeout and
// a circuit breaker, and counts every call.
type Guard struct {
	service string
	cb      *gobreaker.CircuitBreaker
	timeout time.Duration
}

func NewGuard(service string, timeout time.Duration) *Guard {
	st := gobreaker.Settings{
		Name:         service,
		MaxRequests:  5,
		Interval:     10 * time.Second,
		Timeout:      30 * time.Second,
		IsSuccessful: countsAsSuccess,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= 5 && float64(counts.TotalFailures)/float64(counts.Requests) >= 0.5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			slog.Warn("Circuit breaker state changed", "service", name, "from", from.String(), "to", to.String())
		},
	}

	return &Guard{
		service: service,
		cb:      gobreaker.NewCircuitBreaker(st),
		timeout: timeout,
	}
}

// Do runs fn under the guard. fn must consume any response body before
// returning since its context is cancelled afterwards.
func (g *Guard) Do(ctx context.Context, fn func(ctx context.Context) (interface{}, error)) (interface{}, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	res, err := g.cb.Execute(func() (interface{}, error) {
		return fn(ctx)
	})

	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		telemetry.RecordCall(ctx, g.service, "rejected")
		return nil, ErrUnavailable
	case err != nil:
		telemetry.RecordCall(ctx, g.service, "error")
		return nil, err
	}

	telemetry.RecordCall(ctx, g.service, "success")
	return res, nil
}

// State reports the breaker state for health output.
func (g *Guard) State() string {
	return g.cb.State().String()
}
