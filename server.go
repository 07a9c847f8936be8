package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"runtime/debug"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"paygate/internal/gateway"
	"paygate/internal/orders"
	"paygate/internal/subs"
)

// Prometheus metrics for the HTTP surface.
var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paygate_http_requests_total",
			Help: "Total number of HTTP requests by endpoint, method and status",
		},
		[]string{"endpoint", "method", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "paygate_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint", "method"},
	)

	rateLimitRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paygate_rate_limit_rejected_total",
			Help: "Total number of requests rejected due to rate limiting",
		},
		[]string{"endpoint"},
	)

	panicsRecovered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "paygate_panics_recovered_total",
			Help: "Total number of panics recovered by the server",
		},
	)
)

// Server exposes the gateway core over HTTP.
type Server struct {
	config  *Config
	store   gateway.Store
	engine  *gateway.Engine
	repo    *orders.Repository
	limiter *keyedLimiter
	logger  *zap.Logger
}

func NewServer(cfg *Config, store gateway.Store, engine *gateway.Engine, repo *orders.Repository, logger *zap.Logger) *Server {
	return &Server{
		config:  cfg,
		store:   store,
		engine:  engine,
		repo:    repo,
		limiter: newKeyedLimiter(cfg.CreateRateLimit, cfg.CreateBurstLimit),
		logger:  logger,
	}
}

// Handler assembles the route table with the middleware chain.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("POST /gateways/{hashedID}/orders", s.panicRecovery(
		metricsMiddleware("create_order", s.rateLimitMiddleware(http.HandlerFunc(s.handleCreateOrder)))))
	mux.Handle("POST /orders/{orderID}/status", s.panicRecovery(
		metricsMiddleware("status_changed", http.HandlerFunc(s.handleStatusChanged))))
	mux.Handle("GET /gateways/{hashedID}/orders/{orderID}/ws", s.panicRecovery(
		http.HandlerFunc(s.handleSubscribe)))
	mux.Handle("GET /health", s.panicRecovery(http.HandlerFunc(handleHealth)))
	mux.Handle("/metrics", promhttp.Handler())

	return mux
}

// panicRecovery catches panics in HTTP handlers and logs them.
func (s *Server) panicRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				panicsRecovered.Inc()
				if s.logger != nil {
					s.logger.Error("panic recovered in HTTP handler",
						zap.Any("error", err),
						zap.String("path", r.URL.Path),
						zap.String("method", r.Method),
						zap.String("stack", string(debug.Stack())),
					)
				} else {
					log.Printf("PANIC: %v\nStack: %s", err, debug.Stack())
				}
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// metricsMiddleware wraps HTTP handlers with request metrics.
func metricsMiddleware(endpoint string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)

		duration := time.Since(start).Seconds()
		status := fmt.Sprintf("%d", rw.statusCode)

		httpRequestsTotal.WithLabelValues(endpoint, r.Method, status).Inc()
		httpRequestDuration.WithLabelValues(endpoint, r.Method).Observe(duration)
	})
}

// rateLimitMiddleware applies per-gateway token-bucket rate limiting to order
// creation. Returns 429 when the gateway's budget is exhausted.
func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.PathValue("hashedID")
		if !s.limiter.get(key).Allow() {
			rateLimitRejected.WithLabelValues(r.URL.Path).Inc()
			s.logger.Warn("per-gateway rate limit exceeded",
				zap.String("hashed_id", key),
				zap.String("endpoint", r.URL.Path),
			)
			http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
}

type createOrderBody struct {
	Amount    float64 `json:"amount"`
	Currency  string  `json:"currency"`
	Signature string  `json:"signature"`
	OrderID   string  `json:"id"`
	Data      string  `json:"data"`
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	g, err := s.store.FindByHashedID(ctx, r.PathValue("hashedID"))
	if errors.Is(err, gateway.ErrNotFound) {
		http.Error(w, "Gateway not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.logger.Error("gateway lookup failed", zap.Error(err))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	var body createOrderBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if body.Amount <= 0 {
		http.Error(w, "Amount must be positive", http.StatusBadRequest)
		return
	}

	order, err := s.engine.CreateOrder(ctx, g, gateway.CreateOrderRequest{
		Amount:    body.Amount,
		Currency:  body.Currency,
		Signature: body.Signature,
		OrderID:   body.OrderID,
		Data:      body.Data,
	})
	if err != nil {
		s.writeCreateError(w, g, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(order)
}

func (s *Server) writeCreateError(w http.ResponseWriter, g *gateway.Gateway, err error) {
	switch {
	case errors.Is(err, gateway.ErrGatewayInactive):
		http.Error(w, "Gateway is inactive", http.StatusServiceUnavailable)
	case errors.Is(err, gateway.ErrInvalidOrderID):
		http.Error(w, "Order id is missing or empty", http.StatusBadRequest)
	case errors.Is(err, gateway.ErrInvalidSignature):
		http.Error(w, "Invalid signature", http.StatusForbidden)
	default:
		s.logger.Error("order creation failed",
			zap.Uint64("gateway_id", g.ID),
			zap.Error(err),
		)
		http.Error(w, "Order creation failed", http.StatusInternalServerError)
	}
}

type statusChangedBody struct {
	Status int    `json:"status"`
	TID    string `json:"tid"`
}

// handleStatusChanged is the re-entry point for the external component that
// decides status transitions: it persists the new status and hands the event
// to the dispatcher.
func (s *Server) handleStatusChanged(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	orderID, err := strconv.ParseUint(r.PathValue("orderID"), 10, 64)
	if err != nil {
		http.Error(w, "Invalid order id", http.StatusBadRequest)
		return
	}

	var body statusChangedBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	status := orders.Status(body.Status)
	if !status.Valid() {
		http.Error(w, "Unknown status", http.StatusBadRequest)
		return
	}

	order, err := s.repo.FindByID(ctx, orderID)
	if errors.Is(err, orders.ErrNotFound) {
		http.Error(w, "Order not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.logger.Error("order lookup failed", zap.Error(err))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	g, err := s.store.FindByID(ctx, order.GatewayID)
	if err != nil {
		s.logger.Error("gateway lookup for status change failed",
			zap.Uint64("order_id", orderID),
			zap.Uint64("gateway_id", order.GatewayID),
			zap.Error(err),
		)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	previous := order.Status
	if err := s.repo.UpdateStatus(ctx, order, status, body.TID); err != nil {
		s.logger.Error("status update failed", zap.Error(err))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	s.engine.OrderStatusChanged(ctx, g, order, &previous)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"id":     order.ID,
		"status": order.Status,
	})
}

// wsStream adapts a websocket connection onto the subscription Stream
// interface.
type wsStream struct {
	conn      *websocket.Conn
	closeOnce sync.Once
}

func (s *wsStream) Send(ctx context.Context, v any) error {
	return wsjson.Write(ctx, s.conn, v)
}

func (s *wsStream) Close() error {
	s.closeOnce.Do(func() {
		_ = s.conn.Close(websocket.StatusNormalClosure, "order finalized")
	})
	return nil
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	g, err := s.store.FindByHashedID(ctx, r.PathValue("hashedID"))
	if errors.Is(err, gateway.ErrNotFound) {
		http.Error(w, "Gateway not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.logger.Error("gateway lookup failed", zap.Error(err))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	orderID, err := strconv.ParseUint(r.PathValue("orderID"), 10, 64)
	if err != nil {
		http.Error(w, "Invalid order id", http.StatusBadRequest)
		return
	}
	order, err := s.repo.FindByID(ctx, orderID)
	if errors.Is(err, orders.ErrNotFound) || (err == nil && order.GatewayID != g.ID) {
		http.Error(w, "Order not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.logger.Error("order lookup failed", zap.Error(err))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket accept failed", zap.Error(err))
		return
	}
	stream := &wsStream{conn: conn}

	detach, err := s.engine.AddSubscription(g, order, stream)
	if err != nil {
		reason := "subscription rejected"
		switch {
		case errors.Is(err, subs.ErrCompletedOrder):
			reason = "order already completed"
		case errors.Is(err, subs.ErrExists):
			reason = "subscription already exists"
		}
		_ = conn.Close(websocket.StatusPolicyViolation, reason)
		return
	}
	defer detach()

	s.logger.Info("subscription opened",
		zap.Uint64("gateway_id", g.ID),
		zap.Uint64("order_id", order.ID),
	)

	// Hold the connection open until the client goes away or the dispatcher
	// closes it after a final status push.
	for {
		if _, _, err := conn.Read(ctx); err != nil {
			return
		}
	}
}
