package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/cverity/spreadbot/internal/broker"
	"github.com/cverity/spreadbot/internal/orders"
)

// Handler consumes normalized price signals. The orders.Manager satisfies it;
// tests substitute their own.
type Handler interface {
	HandlePrice(ctx context.Context, price float64) (*orders.Result, error)
	CancelCurrent(ctx context.Context) error
	LiveOrders(ctx context.Context) ([]broker.LiveOrder, error)
}

// Config configures the signal server.
type Config struct {
	Port int
	// AuthToken, when set, is required on every request except /health.
	AuthToken string
	// Filter applies to relayed chat messages only.
	Filter Filter
}

// Server exposes the webhook surface: direct price notifications, relayed
// chat messages, live-order listing, and cancellation.
type Server struct {
	router    *chi.Mux
	server    *http.Server
	handler   Handler
	filter    Filter
	logger    *logrus.Logger
	port      int
	authToken string
}

// NewServer creates the signal server and wires its routes.
func NewServer(cfg Config, handler Handler, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.New()
	}
	s := &Server{
		router:    chi.NewRouter(),
		handler:   handler,
		filter:    cfg.Filter,
		logger:    logger,
		port:      cfg.Port,
		authToken: cfg.AuthToken,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(60 * time.Second))

	if s.authToken != "" {
		s.router.Use(s.authMiddleware)
	}

	s.router.Post("/notify", s.handleNotify)
	s.router.Post("/message", s.handleMessage)
	s.router.Get("/orders/live", s.handleLiveOrders)
	s.router.Delete("/order", s.handleCancel)
	s.router.Get("/health", s.handleHealth)
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		token := r.Header.Get("X-Auth-Token")
		if token == "" {
			token = r.URL.Query().Get("token")
		}

		if token != s.authToken {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Start runs the server until Shutdown or failure.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.logger.Infof("Starting signal server on port %d", s.port)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// notifyRequest is the JSON body form of a direct price notification; the
// price may alternatively arrive as a ?price= query parameter.
type notifyRequest struct {
	Price float64 `json:"price"`
}

// messageRequest is a relayed chat message.
type messageRequest struct {
	Channel string `json:"channel"`
	Author  string `json:"author"`
	Content string `json:"content"`
}

func (s *Server) handleNotify(w http.ResponseWriter, r *http.Request) {
	price, err := notifyPrice(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.runPipeline(w, r, price)
}

// notifyPrice pulls the price out of the query string or, failing that, the
// JSON body.
func notifyPrice(r *http.Request) (float64, error) {
	if raw := r.URL.Query().Get("price"); raw != "" {
		price, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid price parameter %q", raw)
		}
		return price, nil
	}

	var req notifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return 0, errors.New("missing price: provide ?price= or a JSON body")
	}
	if req.Price == 0 {
		return 0, errors.New("missing price: provide ?price= or a JSON body")
	}
	return req.Price, nil
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid message body", http.StatusBadRequest)
		return
	}

	if !s.filter.Match(req.Channel, req.Author, req.Content) {
		s.logger.WithFields(logrus.Fields{
			"channel": req.Channel,
			"author":  req.Author,
		}).Debug("Message ignored by filter")
		w.WriteHeader(http.StatusNoContent)
		return
	}

	price, ok := ExtractPrice(req.Content)
	if !ok {
		http.Error(w, "no price found in message", http.StatusBadRequest)
		return
	}

	s.runPipeline(w, r, price)
}

func (s *Server) runPipeline(w http.ResponseWriter, r *http.Request, price float64) {
	result, err := s.handler.HandlePrice(r.Context(), price)
	if err != nil {
		if errors.Is(err, orders.ErrInvalidPrice) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.logger.WithError(err).Error("Pipeline failed")
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(result); err != nil {
		s.logger.WithError(err).Error("Failed to encode pipeline result")
	}
}

func (s *Server) handleLiveOrders(w http.ResponseWriter, r *http.Request) {
	liveOrders, err := s.handler.LiveOrders(r.Context())
	if err != nil {
		s.logger.WithError(err).Error("Failed to list live orders")
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(liveOrders); err != nil {
		s.logger.WithError(err).Error("Failed to encode live orders")
	}
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	err := s.handler.CancelCurrent(r.Context())
	switch {
	case err == nil:
		w.WriteHeader(http.StatusOK)
	case errors.Is(err, orders.ErrNoOpenOrder), errors.Is(err, broker.ErrNotSubmitted):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		s.logger.WithError(err).Error("Failed to cancel order")
		http.Error(w, err.Error(), http.StatusBadGateway)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]string{"status": "ok"}); err != nil {
		s.logger.WithError(err).Error("Failed to encode health response")
	}
}
