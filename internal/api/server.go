package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"tpsl_monitor/internal/domain"
	"tpsl_monitor/internal/infra"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/shopspring/decimal"
)

const (
	defaultTriggerLimit = 50
	maxTriggerLimit     = 500
	maxBodyBytes        = 1 << 20
)

// OrderService is the monitor surface used by the HTTP layer
type OrderService interface {
	AddOrder(spec domain.OrderSpec) domain.ConditionalOrder
	GetOrders(wallet string) []domain.ConditionalOrder
	UpdateOrder(wallet, id string, patch domain.OrderPatch) (domain.ConditionalOrder, error)
	RemoveOrder(wallet, id string) bool
	WatchTicker(ticker string)
	FeedState() domain.FeedState
}

// Server handles the TP/SL REST API
type Server struct {
	orders     OrderService
	journal    domain.TriggerJournal
	metrics    *infra.Metrics
	router     *mux.Router
	handler    http.Handler
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates the API server. journal may be nil when storage is disabled.
func NewServer(cfg *infra.Config, orders OrderService, journal domain.TriggerJournal, metrics *infra.Metrics) *Server {
	s := &Server{
		orders:  orders,
		journal: journal,
		metrics: metrics,
		router:  mux.NewRouter(),
		logger:  slog.Default().With("module", "api"),
	}
	s.setupRoutes()

	c := cors.New(cors.Options{
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	})
	s.handler = c.Handler(s.router)

	s.httpServer = &http.Server{
		Addr:              cfg.ListenAddr(),
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(s.logRequests)

	tpsl := s.router.PathPrefix("/tpsl").Subrouter()
	tpsl.HandleFunc("/orders", s.handleCreateOrder).Methods("POST")
	tpsl.HandleFunc("/orders", s.handleGetOrders).Methods("GET")
	tpsl.HandleFunc("/orders/{id}", s.handleUpdateOrder).Methods("PUT")
	tpsl.HandleFunc("/orders/{id}", s.handleDeleteOrder).Methods("DELETE")
	tpsl.HandleFunc("/triggers", s.handleGetTriggers).Methods("GET")

	// Health check
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Handler returns the routed, CORS-wrapped handler
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start serves until Shutdown is called
func (s *Server) Start() error {
	s.logger.Info("🌐 HTTP server listening", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ==============================
// TP/SL Handlers
// ==============================

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.WalletAddress == "" || req.Ticker == "" || req.Side == "" || req.PositionID == "" {
		respondError(w, http.StatusBadRequest, "walletAddress, ticker, side, and positionId are required.")
		return
	}
	side, err := domain.ParseSide(req.Side)
	if err != nil {
		respondError(w, http.StatusBadRequest, "side must be long or short.")
		return
	}

	leverage := decimal.NewFromInt(1)
	if req.Leverage != nil && !req.Leverage.IsZero() {
		leverage = *req.Leverage
	}
	amount := req.Amount
	if amount == "" {
		amount = "0"
	}

	order := s.orders.AddOrder(domain.OrderSpec{
		WalletAddress:   req.WalletAddress,
		Ticker:          req.Ticker,
		Side:            side,
		EntryPrice:      req.EntryPrice,
		TakeProfitPrice: req.TakeProfitPrice,
		StopLossPrice:   req.StopLossPrice,
		Leverage:        leverage,
		Amount:          amount,
		PositionID:      req.PositionID,
	})

	// Start watching this ticker if TP or SL is set
	if order.HasCondition() {
		s.orders.WatchTicker(order.Ticker)
	}

	respondJSON(w, http.StatusOK, orderResponse{Response: Response{Success: true}, Order: order})
}

func (s *Server) handleGetOrders(w http.ResponseWriter, r *http.Request) {
	wallet := r.URL.Query().Get("wallet")
	if wallet == "" {
		respondError(w, http.StatusBadRequest, "wallet query parameter is required.")
		return
	}
	respondJSON(w, http.StatusOK, ordersResponse{Response: Response{Success: true}, Orders: s.orders.GetOrders(wallet)})
}

func (s *Server) handleUpdateOrder(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req updateOrderRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.WalletAddress == "" {
		respondError(w, http.StatusBadRequest, "walletAddress is required.")
		return
	}

	order, err := s.orders.UpdateOrder(req.WalletAddress, id, domain.OrderPatch{
		TakeProfitPrice: req.TakeProfitPrice,
		StopLossPrice:   req.StopLossPrice,
	})
	if errors.Is(err, domain.ErrOrderNotFound) {
		respondError(w, http.StatusNotFound, "Order not found or not active.")
		return
	}
	if err != nil {
		s.logger.Error("Failed to update TP/SL order", slog.String("id", id), slog.Any("error", err))
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	// Start watching this ticker if TP or SL is now set
	if order.HasCondition() {
		s.orders.WatchTicker(order.Ticker)
	}

	respondJSON(w, http.StatusOK, orderResponse{Response: Response{Success: true}, Order: order})
}

func (s *Server) handleDeleteOrder(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	wallet := r.URL.Query().Get("wallet")
	if wallet == "" {
		respondError(w, http.StatusBadRequest, "wallet query parameter is required.")
		return
	}
	if !s.orders.RemoveOrder(wallet, id) {
		respondError(w, http.StatusNotFound, "Order not found.")
		return
	}
	respondJSON(w, http.StatusOK, Response{Success: true})
}

func (s *Server) handleGetTriggers(w http.ResponseWriter, r *http.Request) {
	wallet := r.URL.Query().Get("wallet")
	if wallet == "" {
		respondError(w, http.StatusBadRequest, "wallet query parameter is required.")
		return
	}
	if s.journal == nil {
		respondError(w, http.StatusServiceUnavailable, "Trigger journal is disabled.")
		return
	}

	limit := defaultTriggerLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer.")
			return
		}
		limit = min(n, maxTriggerLimit)
	}

	triggers, err := s.journal.ListTriggers(wallet, limit)
	if err != nil {
		s.logger.Error("Failed to list triggers", slog.String("wallet", wallet), slog.Any("error", err))
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if triggers == nil {
		triggers = []domain.TriggerRecord{}
	}
	respondJSON(w, http.StatusOK, triggersResponse{Response: Response{Success: true}, Triggers: triggers})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Response:  Response{Success: true},
		Status:    "ok",
		Timestamp: time.Now().UTC(),
		Feed:      s.orders.FeedState(),
	}
	if s.metrics != nil {
		resp.Metrics = s.metrics.Snapshot()
	}
	respondJSON(w, http.StatusOK, resp)
}

// ==============================
// Helper Functions
// ==============================

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("HTTP request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Duration("elapsed", time.Since(start)),
		)
	})
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dst)
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, Response{Success: false, Error: message})
}
