package broker

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

// API defines the brokerage operations the order pipeline needs. Session
// implements it directly; CircuitBreakerAPI wraps any implementation with
// failure isolation.
type API interface {
	// Account
	GetBalance(ctx context.Context) (float64, error)

	// Instruments
	ResolveContract(ctx context.Context, underlying string, optType OptionType, strike float64, expiry time.Time) (ContractReference, error)

	// Orders
	SubmitOrder(ctx context.Context, payload OrderPayload) (int, error)
	CancelOrder(ctx context.Context, orderID int) error
	LiveOrders(ctx context.Context) ([]LiveOrder, error)
}

// Ensure Session implements API at compile time.
var _ API = (*Session)(nil)

// IsPermanentAPIError reports whether err is a 4xx brokerage error (other
// than 429) that will not succeed on retry.
func IsPermanentAPIError(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status >= 400 && apiErr.Status < 500 && apiErr.Status != 429
	}
	return false
}

// CircuitBreakerSettings configures circuit breaker behavior.
type CircuitBreakerSettings struct {
	MaxRequests  uint32        // Max requests when half-open
	Interval     time.Duration // Reset counts interval
	Timeout      time.Duration // Open circuit duration
	MinRequests  uint32        // Min requests before tripping
	FailureRatio float64       // Failure ratio threshold
}

// CircuitBreakerAPI wraps an API with circuit breaker functionality so a
// failing brokerage stops receiving traffic for a cooldown period.
type CircuitBreakerAPI struct {
	api     API
	breaker *gobreaker.CircuitBreaker
}

// Ensure CircuitBreakerAPI implements API at compile time.
var _ API = (*CircuitBreakerAPI)(nil)

// NewCircuitBreakerAPI wraps api with sensible defaults.
func NewCircuitBreakerAPI(api API, logger *logrus.Logger) *CircuitBreakerAPI {
	return NewCircuitBreakerAPIWithSettings(api, logger, CircuitBreakerSettings{
		MaxRequests:  3,                // Allow 3 requests when half-open
		Interval:     60 * time.Second, // Reset counts every minute
		Timeout:      30 * time.Second, // Open circuit for 30 seconds
		MinRequests:  5,                // Minimum requests before tripping
		FailureRatio: 0.6,              // Trip if 60% failure rate
	})
}

// NewCircuitBreakerAPIWithSettings wraps api with custom settings.
func NewCircuitBreakerAPIWithSettings(api API, logger *logrus.Logger, settings CircuitBreakerSettings) *CircuitBreakerAPI {
	if logger == nil {
		logger = logrus.New()
	}

	gbSettings := gobreaker.Settings{
		Name:        "BrokerageCircuitBreaker",
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests == 0 || counts.Requests < settings.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= settings.FailureRatio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warnf("Circuit breaker %s state changed from %s to %s", name, from, to)
		},
	}

	return &CircuitBreakerAPI{
		api:     api,
		breaker: gobreaker.NewCircuitBreaker(gbSettings),
	}
}

// execBreaker is a generic helper for circuit breaker wrapper methods.
func execBreaker[T any](breaker *gobreaker.CircuitBreaker, api API, fn func(API) (T, error)) (T, error) {
	var zero T
	res, err := breaker.Execute(func() (interface{}, error) { return fn(api) })
	if err != nil {
		return zero, err
	}
	if res == nil {
		return zero, nil
	}
	v, ok := res.(T)
	if !ok {
		return zero, errors.New("circuit breaker: type assertion failed")
	}
	return v, nil
}

// GetBalance wraps the underlying call with the circuit breaker.
func (c *CircuitBreakerAPI) GetBalance(ctx context.Context) (float64, error) {
	return execBreaker(c.breaker, c.api, func(a API) (float64, error) { return a.GetBalance(ctx) })
}

// ResolveContract wraps the underlying call with the circuit breaker.
func (c *CircuitBreakerAPI) ResolveContract(ctx context.Context, underlying string, optType OptionType, strike float64, expiry time.Time) (ContractReference, error) {
	return execBreaker(c.breaker, c.api, func(a API) (ContractReference, error) {
		return a.ResolveContract(ctx, underlying, optType, strike, expiry)
	})
}

// SubmitOrder wraps the underlying call with the circuit breaker.
func (c *CircuitBreakerAPI) SubmitOrder(ctx context.Context, payload OrderPayload) (int, error) {
	return execBreaker(c.breaker, c.api, func(a API) (int, error) { return a.SubmitOrder(ctx, payload) })
}

// CancelOrder wraps the underlying call with the circuit breaker.
func (c *CircuitBreakerAPI) CancelOrder(ctx context.Context, orderID int) error {
	_, err := execBreaker(c.breaker, c.api, func(a API) (struct{}, error) {
		return struct{}{}, a.CancelOrder(ctx, orderID)
	})
	return err
}

// LiveOrders wraps the underlying call with the circuit breaker.
func (c *CircuitBreakerAPI) LiveOrders(ctx context.Context) ([]LiveOrder, error) {
	return execBreaker(c.breaker, c.api, func(a API) ([]LiveOrder, error) { return a.LiveOrders(ctx) })
}
