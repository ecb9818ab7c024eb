package api

import (
	"net/http"
	"time"

	"crypto-trading-bot-go/internal/bot"
	"crypto-trading-bot-go/internal/events"
	"crypto-trading-bot-go/internal/logger"
	"crypto-trading-bot-go/internal/service"
	"crypto-trading-bot-go/internal/stream"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Deps are the components the HTTP API serves.
type Deps struct {
	DB             *gorm.DB
	Trades         *service.TradeService
	Settings       *service.SettingsService
	Exchange       *service.ExchangeService
	Bot            *bot.Controller
	Hub            *stream.Hub
	Bus            *events.Bus
	Logs           *logger.Buffer
	AllowedOrigins []string
	Version        string
}

// Server holds dependencies for the API endpoints.
type Server struct {
	Deps
	allowedOrigins []string
	logger         *zap.Logger
	startedAt      time.Time
}

// NewServer creates a new API server.
func NewServer(deps Deps, logger *zap.Logger) *Server {
	return &Server{
		Deps:           deps,
		allowedOrigins: deps.AllowedOrigins,
		logger:         logger.Named("api"),
		startedAt:      time.Now().UTC(),
	}
}

// Handler builds the router with every route and middleware attached.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.writeJSON(w, http.StatusNotFound, errorResponse{Error: "route not found"})
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
	})

	api := r.PathPrefix("/api").Subrouter()

	api.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	api.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	api.HandleFunc("/logs", s.handleLogs).Methods(http.MethodGet)

	api.HandleFunc("/bot/settings", s.handleGetSettings).Methods(http.MethodGet)
	api.HandleFunc("/bot/settings", s.handleUpdateSettings).Methods(http.MethodPut)
	api.HandleFunc("/bot/settings/reset", s.handleResetSettings).Methods(http.MethodPost)
	api.HandleFunc("/bot/start", s.handleBotStart).Methods(http.MethodPost)
	api.HandleFunc("/bot/stop", s.handleBotStop).Methods(http.MethodPost)
	api.HandleFunc("/bot/status", s.handleBotStatus).Methods(http.MethodGet)

	api.HandleFunc("/trades", s.handleListTrades).Methods(http.MethodGet)
	api.HandleFunc("/trades", s.handleCreateTrade).Methods(http.MethodPost)
	api.HandleFunc("/trades/stats", s.handleTradeStats).Methods(http.MethodGet)
	api.HandleFunc("/trades/export", s.handleExportTrades).Methods(http.MethodGet)
	api.HandleFunc("/trades/{id:[0-9]+}", s.handleGetTrade).Methods(http.MethodGet)
	api.HandleFunc("/trades/{id:[0-9]+}", s.handleUpdateTrade).Methods(http.MethodPut)
	api.HandleFunc("/trades/{id:[0-9]+}", s.handleDeleteTrade).Methods(http.MethodDelete)

	api.HandleFunc("/exchange/account", s.handleAccount).Methods(http.MethodGet)
	api.HandleFunc("/exchange/symbols", s.handleSymbols).Methods(http.MethodGet)
	api.HandleFunc("/exchange/ticker/{symbol}", s.handleTicker).Methods(http.MethodGet)
	api.HandleFunc("/exchange/klines/{symbol}", s.handleKlines).Methods(http.MethodGet)
	api.HandleFunc("/exchange/orders", s.handlePlaceOrder).Methods(http.MethodPost)

	if s.Hub != nil {
		r.Handle("/ws", s.Hub).Methods(http.MethodGet)
	}

	return s.cors(s.recoverPanics(s.logRequests(r)))
}
