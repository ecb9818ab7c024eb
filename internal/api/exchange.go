package api

import (
	"net/http"

	"crypto-trading-bot-go/internal/service"

	"github.com/gorilla/mux"
)

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	account, err := s.Exchange.Account(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, account)
}

// handleSymbols lists tradable symbols, optionally narrowed to one quote asset.
func (s *Server) handleSymbols(w http.ResponseWriter, r *http.Request) {
	symbols, err := s.Exchange.Symbols(r.Context(), r.URL.Query().Get("quote"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, symbols)
}

func (s *Server) handleTicker(w http.ResponseWriter, r *http.Request) {
	ticker, err := s.Exchange.Ticker(r.Context(), mux.Vars(r)["symbol"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ticker)
}

func (s *Server) handleKlines(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	klines, err := s.Exchange.Klines(r.Context(), mux.Vars(r)["symbol"], r.URL.Query().Get("interval"), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, klines)
}

func (s *Server) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req service.PlaceOrderRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	result, err := s.Exchange.PlaceOrder(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, result)
}
