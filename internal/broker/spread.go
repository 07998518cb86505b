package broker

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// PriceEffect states whether opening the position collects premium (Credit)
// or pays it (Debit). The values are capitalized exactly as the order schema
// requires.
type PriceEffect string

const (
	// PriceEffectCredit means net premium is received on open.
	PriceEffectCredit PriceEffect = "Credit"
	// PriceEffectDebit means net premium is paid on open.
	PriceEffectDebit PriceEffect = "Debit"
)

// ParsePriceEffect normalizes a user-supplied price effect case-insensitively.
func ParsePriceEffect(s string) (PriceEffect, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "credit":
		return PriceEffectCredit, nil
	case "debit":
		return PriceEffectDebit, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidPriceEffect, s)
	}
}

// OrderLeg is one leg of a multi-leg order payload.
type OrderLeg struct {
	InstrumentType string `json:"instrument-type"`
	Symbol         string `json:"symbol"`
	Quantity       int    `json:"quantity"`
	Action         string `json:"action"`
}

// OrderPayload is the wire form of a two-leg limit order. Leg order is a
// fixed contract with the brokerage's multi-leg schema: buy leg first, sell
// leg second.
type OrderPayload struct {
	TimeInForce string     `json:"time-in-force"`
	OrderType   string     `json:"order-type"`
	Price       float64    `json:"price"`
	PriceEffect string     `json:"price-effect"`
	Legs        []OrderLeg `json:"legs"`
}

// OrderState tracks where a spread order is in its lifecycle.
type OrderState string

const (
	// OrderStateUnsubmitted is the initial state; submit failures return here
	// so the caller may retry.
	OrderStateUnsubmitted OrderState = "unsubmitted"
	// OrderStateSubmitted means the brokerage accepted the order and assigned
	// an id.
	OrderStateSubmitted OrderState = "submitted"
	// OrderStateCanceled is terminal.
	OrderStateCanceled OrderState = "canceled"
)

// SpreadParams describes a vertical spread before its legs are resolved.
// Both legs share the underlying, option type, expiration, and quantity.
type SpreadParams struct {
	Underlying string
	Type       OptionType
	Expiration time.Time
	BuyStrike  float64
	SellStrike float64
	Quantity   int
	Limit      float64
	Effect     PriceEffect
}

// VerticalSpread is a fully-resolved two-leg order bound to the session that
// will submit and cancel it. It is created fully formed: construction fails
// unless both legs resolve, so a partial multi-leg order is never sent.
//
// A VerticalSpread is not safe for concurrent use; each pipeline invocation
// owns its own instance.
type VerticalSpread struct {
	api     API
	params  SpreadParams
	buyLeg  ContractReference
	sellLeg ContractReference
	orderID int
	state   OrderState
}

// NewVerticalSpread validates the order terms and resolves both legs, buy leg
// first. If the sell leg fails after the buy leg resolved, no order is built
// and nothing is submitted.
func NewVerticalSpread(ctx context.Context, api API, p SpreadParams) (*VerticalSpread, error) {
	if p.Effect != PriceEffectCredit && p.Effect != PriceEffectDebit {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPriceEffect, string(p.Effect))
	}
	if p.Quantity <= 0 {
		return nil, fmt.Errorf("invalid quantity %d: must be a positive integer", p.Quantity)
	}
	if p.Limit <= 0 {
		return nil, fmt.Errorf("invalid limit price %.2f: must be > 0", p.Limit)
	}
	if p.BuyStrike == p.SellStrike {
		return nil, fmt.Errorf("buy and sell strikes must differ, both are %.2f", p.BuyStrike)
	}

	buyLeg, err := api.ResolveContract(ctx, p.Underlying, p.Type, p.BuyStrike, p.Expiration)
	if err != nil {
		return nil, fmt.Errorf("resolving buy leg: %w", err)
	}
	sellLeg, err := api.ResolveContract(ctx, p.Underlying, p.Type, p.SellStrike, p.Expiration)
	if err != nil {
		return nil, fmt.Errorf("resolving sell leg: %w", err)
	}

	return &VerticalSpread{
		api:     api,
		params:  p,
		buyLeg:  buyLeg,
		sellLeg: sellLeg,
		state:   OrderStateUnsubmitted,
	}, nil
}

// Payload assembles the order payload: Day / Limit, capitalized price effect,
// and exactly two legs with the buy leg ("Buy to Open") before the sell leg
// ("Sell to Open").
func (v *VerticalSpread) Payload() OrderPayload {
	return OrderPayload{
		TimeInForce: "Day",
		OrderType:   "Limit",
		Price:       v.params.Limit,
		PriceEffect: string(v.params.Effect),
		Legs: []OrderLeg{
			{
				InstrumentType: "Equity Option",
				Symbol:         v.buyLeg.Symbol,
				Quantity:       v.params.Quantity,
				Action:         "Buy to Open",
			},
			{
				InstrumentType: "Equity Option",
				Symbol:         v.sellLeg.Symbol,
				Quantity:       v.params.Quantity,
				Action:         "Sell to Open",
			},
		},
	}
}

// Submit sends the order and binds the broker-assigned id, exactly once.
// Calling Submit on an already-submitted order is a programming error and
// fails with ErrAlreadySubmitted before any network call. A failed submit
// leaves the order unsubmitted, so the caller may retry.
func (v *VerticalSpread) Submit(ctx context.Context) (int, error) {
	if v.state != OrderStateUnsubmitted {
		return 0, fmt.Errorf("%w: order %d is %s", ErrAlreadySubmitted, v.orderID, v.state)
	}

	id, err := v.api.SubmitOrder(ctx, v.Payload())
	if err != nil {
		return 0, err
	}
	v.orderID = id
	v.state = OrderStateSubmitted
	return id, nil
}

// Cancel cancels a submitted order. It fails with ErrNotSubmitted, without a
// network call, when no broker id has been bound. A failed cancel leaves the
// order submitted, so the caller may retry.
func (v *VerticalSpread) Cancel(ctx context.Context) error {
	switch v.state {
	case OrderStateUnsubmitted:
		return ErrNotSubmitted
	case OrderStateCanceled:
		return fmt.Errorf("order %d already canceled", v.orderID)
	}

	if err := v.api.CancelOrder(ctx, v.orderID); err != nil {
		return err
	}
	v.state = OrderStateCanceled
	return nil
}

// ID returns the broker-assigned order id; ok is false until Submit succeeds.
func (v *VerticalSpread) ID() (id int, ok bool) {
	return v.orderID, v.state != OrderStateUnsubmitted
}

// State returns the order's lifecycle state.
func (v *VerticalSpread) State() OrderState { return v.state }

// BuyLeg returns the resolved long leg.
func (v *VerticalSpread) BuyLeg() ContractReference { return v.buyLeg }

// SellLeg returns the resolved short leg.
func (v *VerticalSpread) SellLeg() ContractReference { return v.sellLeg }
