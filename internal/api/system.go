package api

import (
	"context"
	"net/http"
	"time"

	"crypto-trading-bot-go/internal/bot"
	"crypto-trading-bot-go/internal/database"
	"crypto-trading-bot-go/internal/events"
	"crypto-trading-bot-go/internal/logger"

	"go.uber.org/zap/zapcore"
)

const (
	defaultLogLimit = 100
	maxLogLimit     = 1000
	healthTimeout   = 2 * time.Second
)

type healthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
	Error    string `json:"error,omitempty"`
}

type statusResponse struct {
	Version   string        `json:"version"`
	StartedAt time.Time     `json:"started_at"`
	Uptime    string        `json:"uptime"`
	Bot       bot.Status    `json:"bot"`
	Clients   int           `json:"websocket_clients"`
	Events    *events.Stats `json:"events,omitempty"`
	Logs      logStats      `json:"logs"`
}

type logStats struct {
	Total   uint64 `json:"total"`
	Spilled uint64 `json:"spilled"`
}

type logsResponse struct {
	Logs  []logger.Entry `json:"logs"`
	Count int            `json:"count"`
	logStats
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	if err := database.Ping(ctx, s.DB); err != nil {
		s.writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "unavailable", Database: "down", Error: err.Error()})
		return
	}
	s.writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Database: "up"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Version:   s.Version,
		StartedAt: s.startedAt,
		Uptime:    time.Since(s.startedAt).Round(time.Second).String(),
		Bot:       s.Bot.Status(r.Context()),
	}
	if s.Hub != nil {
		resp.Clients = s.Hub.Clients()
	}
	if s.Bus != nil {
		stats := s.Bus.Stats()
		resp.Events = &stats
	}
	if s.Logs != nil {
		resp.Logs.Total, resp.Logs.Spilled = s.Logs.Stats()
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// handleLogs returns the newest buffered server log entries, oldest first.
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", defaultLogLimit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if limit == 0 || limit > maxLogLimit {
		limit = maxLogLimit
	}

	level := zapcore.DebugLevel
	if raw := r.URL.Query().Get("level"); raw != "" {
		if level, err = zapcore.ParseLevel(raw); err != nil {
			s.writeError(w, r, badRequest("unknown log level %q", raw))
			return
		}
	}

	resp := logsResponse{Logs: []logger.Entry{}}
	if s.Logs != nil {
		resp.Logs = s.Logs.Recent(limit, level)
		resp.Total, resp.Spilled = s.Logs.Stats()
	}
	resp.Count = len(resp.Logs)
	s.writeJSON(w, http.StatusOK, resp)
}
