package broker

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// OptionType represents the type of option contract.
type OptionType string

const (
	// OptionTypeCall represents a call option contract.
	OptionTypeCall OptionType = "call"
	// OptionTypePut represents a put option contract.
	OptionTypePut OptionType = "put"
)

// ParseOptionType normalizes a user-supplied option type. Accepted spellings
// are "call"/"c" and "put"/"p", case-insensitively.
func ParseOptionType(s string) (OptionType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "call", "c":
		return OptionTypeCall, nil
	case "put", "p":
		return OptionTypePut, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidOptionType, s)
	}
}

// occCode returns the single-letter OCC type code.
func (t OptionType) occCode() (byte, error) {
	switch t {
	case OptionTypeCall:
		return 'C', nil
	case OptionTypePut:
		return 'P', nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidOptionType, string(t))
	}
}

// ContractReference is one resolved leg of a spread: the four inputs that
// determine the contract plus the canonical symbol the instrument catalog
// returned for it. Immutable once resolved.
type ContractReference struct {
	Underlying string
	Type       OptionType
	Strike     float64
	Expiration time.Time
	// Symbol is the brokerage's canonical identifier for the contract.
	Symbol string
}

// formatOCCExpiry renders a calendar date as YYMMDD. It reads only the date
// components, so the result is independent of locale and of the time.Time's
// location.
func formatOCCExpiry(t time.Time) string {
	year, month, day := t.Date()
	return fmt.Sprintf("%02d%02d%02d", year%100, int(month), day)
}

// formatOCCStrike encodes a strike as the OCC 8-digit fixed-point field:
// price*1000 truncated toward zero, zero-padded. Values that scale outside
// (0, 10^8) cannot be encoded.
func formatOCCStrike(strike float64) (string, error) {
	if math.IsNaN(strike) || math.IsInf(strike, 0) {
		return "", fmt.Errorf("%w: %v", ErrInvalidStrike, strike)
	}
	scaled := int64(strike * 1000)
	if scaled <= 0 || scaled >= 100000000 {
		return "", fmt.Errorf("%w: %.3f scales to %d", ErrInvalidStrike, strike, scaled)
	}
	return fmt.Sprintf("%08d", scaled), nil
}

// OCCSymbol derives the brokerage's option symbol: underlying, two literal
// spaces, YYMMDD expiry, C/P code, 8-digit strike. Any deviation in padding
// or spacing names a nonexistent instrument, so the pieces are encoded
// exactly as the catalog expects.
//
// Example: OCCSymbol("NDXP", OptionTypePut, 15700, July 17 2023) ->
// "NDXP  230717P15700000".
func OCCSymbol(underlying string, optType OptionType, strike float64, expiry time.Time) (string, error) {
	code, err := optType.occCode()
	if err != nil {
		return "", err
	}
	strikeField, err := formatOCCStrike(strike)
	if err != nil {
		return "", err
	}
	return underlying + "  " + formatOCCExpiry(expiry) + string(code) + strikeField, nil
}

// ResolveContract builds the OCC symbol for the given leg and resolves it
// against the instrument catalog. A non-success status — commonly "no such
// listed instrument" — surfaces as *ContractNotFoundError wrapping the
// underlying APIError.
func (s *Session) ResolveContract(ctx context.Context, underlying string, optType OptionType, strike float64, expiry time.Time) (ContractReference, error) {
	occ, err := OCCSymbol(underlying, optType, strike, expiry)
	if err != nil {
		return ContractReference{}, err
	}

	var resp struct {
		Data struct {
			Symbol string `json:"symbol"`
		} `json:"data"`
	}
	if err := s.request(ctx, http.MethodGet, "/instruments/equity-options/"+url.PathEscape(occ), nil, &resp); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			return ContractReference{}, &ContractNotFoundError{Symbol: occ, Err: err}
		}
		return ContractReference{}, err
	}
	if resp.Data.Symbol == "" {
		return ContractReference{}, fmt.Errorf("%w: data.symbol missing for %q", ErrMalformedResponse, occ)
	}

	return ContractReference{
		Underlying: underlying,
		Type:       optType,
		Strike:     strike,
		Expiration: expiry,
		Symbol:     resp.Data.Symbol,
	}, nil
}
