package api

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"crypto-trading-bot-go/internal/repository"
	"crypto-trading-bot-go/internal/service"
)

func tradeFilter(r *http.Request) (repository.TradeFilter, error) {
	q := r.URL.Query()
	filter := repository.TradeFilter{
		Symbol: q.Get("symbol"),
		Side:   strings.ToUpper(q.Get("side")),
		Status: strings.ToUpper(q.Get("status")),
	}

	var err error
	if filter.Since, err = queryTime(r, "since"); err != nil {
		return filter, err
	}
	if filter.Until, err = queryTime(r, "until"); err != nil {
		return filter, err
	}
	if filter.Limit, err = queryInt(r, "limit", 0); err != nil {
		return filter, err
	}
	if filter.Offset, err = queryInt(r, "offset", 0); err != nil {
		return filter, err
	}
	return filter, nil
}

// handleListTrades returns one page of trades, most recent first.
func (s *Server) handleListTrades(w http.ResponseWriter, r *http.Request) {
	filter, err := tradeFilter(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	list, err := s.Trades.List(r.Context(), filter)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleCreateTrade(w http.ResponseWriter, r *http.Request) {
	var req service.CreateTradeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	trade, err := s.Trades.Create(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, trade)
}

func (s *Server) handleGetTrade(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	trade, err := s.Trades.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, trade)
}

func (s *Server) handleUpdateTrade(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req service.UpdateTradeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	trade, err := s.Trades.Update(r.Context(), id, req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, trade)
}

func (s *Server) handleDeleteTrade(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.Trades.Delete(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleTradeStats calculates and returns trading statistics.
func (s *Server) handleTradeStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.Trades.Stats(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleExportTrades(w http.ResponseWriter, r *http.Request) {
	format := strings.ToLower(r.URL.Query().Get("format"))
	if format == "" {
		format = service.ExportCSV
	}
	if format != service.ExportCSV && format != service.ExportJSON {
		s.writeError(w, r, badRequest("format must be csv or json"))
		return
	}
	filter, err := tradeFilter(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	contentType := "text/csv"
	if format == service.ExportJSON {
		contentType = "application/json"
	}
	name := fmt.Sprintf("trades-%s.%s", time.Now().UTC().Format("20060102-150405"), format)
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))

	if err := s.Trades.Export(r.Context(), w, format, filter); err != nil {
		s.writeError(w, r, err)
	}
}
