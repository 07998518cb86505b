package broker

import (
	"errors"
	"fmt"
)

// noResponseBody is the sentinel recorded in place of an error body whenever
// the brokerage responds with something that is not JSON.
const noResponseBody = "no response"

// AuthError is returned when the session endpoint rejects the credentials.
type AuthError struct {
	Status int
	Body   string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed %d: %s", e.Status, e.Body)
}

// APIError represents a brokerage API error with status code and response body.
// Body is the verbatim JSON error payload, or noResponseBody for non-JSON
// responses.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error %d: %s", e.Status, e.Body)
}

// ContractNotFoundError is returned when the instrument catalog has no listing
// for a derived option symbol. It wraps the underlying APIError.
type ContractNotFoundError struct {
	Symbol string
	Err    error
}

func (e *ContractNotFoundError) Error() string {
	return fmt.Sprintf("no listed contract for %q: %v", e.Symbol, e.Err)
}

func (e *ContractNotFoundError) Unwrap() error { return e.Err }

var (
	// ErrMalformedResponse indicates a 2xx response missing an expected field
	// or carrying a wrongly-typed value.
	ErrMalformedResponse = errors.New("malformed brokerage response")

	// ErrInvalidOptionType is returned for option types outside call/put.
	ErrInvalidOptionType = errors.New("option type must be 'call' or 'put'")

	// ErrInvalidStrike is returned when a strike cannot be encoded as an
	// 8-digit OCC fixed-point value.
	ErrInvalidStrike = errors.New("strike price does not fit OCC encoding")

	// ErrInvalidPriceEffect is returned for price effects outside credit/debit.
	ErrInvalidPriceEffect = errors.New("price effect must be 'credit' or 'debit'")

	// ErrAlreadySubmitted guards against re-submitting an order that already
	// carries a broker-assigned id.
	ErrAlreadySubmitted = errors.New("order already submitted")

	// ErrNotSubmitted is returned when cancelling an order that was never
	// accepted by the brokerage.
	ErrNotSubmitted = errors.New("order not submitted")
)
