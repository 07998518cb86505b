package orders

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/cverity/spreadbot/internal/broker"
)

// ErrNoOpenOrder is returned by CancelCurrent when no order has gone through
// the pipeline yet.
var ErrNoOpenOrder = errors.New("no open order")

// Config contains configuration for the order pipeline.
type Config struct {
	// Order terms shared by every signal.
	Underlying  string
	OptionType  broker.OptionType
	Quantity    int
	Limit       float64
	PriceEffect broker.PriceEffect

	// ExpiryLocation determines which calendar day "today" is when picking
	// the expiration for a signal.
	ExpiryLocation *time.Location

	// PipelineTimeout bounds one full signal-to-submission run.
	PipelineTimeout time.Duration
}

// DefaultPipelineTimeout bounds a pipeline run when Config leaves it unset.
const DefaultPipelineTimeout = 30 * time.Second

// Result summarizes one completed pipeline run.
type Result struct {
	SignalID   string
	OrderID    int
	Price      float64
	Strikes    StrikePair
	BuySymbol  string
	SellSymbol string
	Expiration time.Time
}

// Manager runs the signal pipeline. Pipelines are serialized: concurrent
// signals queue on an internal mutex so at most one order is in construction
// or flight per account at a time.
type Manager struct {
	api    broker.API
	logger *logrus.Logger
	cfg    Config

	mu      sync.Mutex
	current *broker.VerticalSpread
}

// NewManager creates a new order pipeline manager.
func NewManager(api broker.API, logger *logrus.Logger, cfg Config) *Manager {
	if api == nil {
		panic("orders.NewManager: api must not be nil")
	}
	if logger == nil {
		logger = logrus.New()
	}
	if cfg.ExpiryLocation == nil {
		cfg.ExpiryLocation = time.UTC
	}
	if cfg.PipelineTimeout <= 0 {
		cfg.PipelineTimeout = DefaultPipelineTimeout
	}

	return &Manager{
		api:    api,
		logger: logger,
		cfg:    cfg,
	}
}

// HandlePrice runs the full pipeline for one price signal: strike selection,
// leg resolution, order construction, and submission. Every failure is
// reported to the caller; nothing is retried here.
func (m *Manager) HandlePrice(ctx context.Context, price float64) (*Result, error) {
	signalID := uuid.NewString()
	log := m.logger.WithFields(logrus.Fields{
		"signal_id": signalID,
		"price":     price,
	})
	log.Info("Received price signal")

	strikes, err := SelectStrikes(price)
	if err != nil {
		return nil, err
	}
	// Expiration is "today" in the configured zone, the contract actually
	// traded on same-day signals.
	expiry := time.Now().In(m.cfg.ExpiryLocation)

	log.WithFields(logrus.Fields{
		"buy_strike":  strikes.Buy,
		"sell_strike": strikes.Sell,
		"expiration":  expiry.Format("2006-01-02"),
	}).Infof("Setting a vertical %s spread of %.0f/%.0f", m.cfg.OptionType, strikes.Buy, strikes.Sell)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil && m.current.State() == broker.OrderStateSubmitted {
		if id, ok := m.current.ID(); ok {
			log.Warnf("Order %d is still live and will no longer be tracked", id)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, m.cfg.PipelineTimeout)
	defer cancel()

	spread, err := broker.NewVerticalSpread(ctx, m.api, broker.SpreadParams{
		Underlying: m.cfg.Underlying,
		Type:       m.cfg.OptionType,
		Expiration: expiry,
		BuyStrike:  strikes.Buy,
		SellStrike: strikes.Sell,
		Quantity:   m.cfg.Quantity,
		Limit:      m.cfg.Limit,
		Effect:     m.cfg.PriceEffect,
	})
	if err != nil {
		log.WithError(err).Error("Failed to build spread order")
		return nil, err
	}

	orderID, err := spread.Submit(ctx)
	if err != nil {
		log.WithError(err).Error("Failed to submit spread order")
		return nil, err
	}
	m.current = spread

	log.WithField("order_id", orderID).Info("Order submitted")
	return &Result{
		SignalID:   signalID,
		OrderID:    orderID,
		Price:      price,
		Strikes:    strikes,
		BuySymbol:  spread.BuyLeg().Symbol,
		SellSymbol: spread.SellLeg().Symbol,
		Expiration: expiry,
	}, nil
}

// CancelCurrent cancels the most recently submitted order. Cancel failures
// leave the order submitted so the caller may retry.
func (m *Manager) CancelCurrent(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil {
		return ErrNoOpenOrder
	}

	ctx, cancel := context.WithTimeout(ctx, m.cfg.PipelineTimeout)
	defer cancel()

	if err := m.current.Cancel(ctx); err != nil {
		return err
	}
	if id, ok := m.current.ID(); ok {
		m.logger.WithField("order_id", id).Info("Order canceled")
	}
	return nil
}

// LiveOrders lists the account's live orders straight from the brokerage.
func (m *Manager) LiveOrders(ctx context.Context) ([]broker.LiveOrder, error) {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.PipelineTimeout)
	defer cancel()
	return m.api.LiveOrders(ctx)
}
