package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/Veraticus/tally/internal/common"
	"github.com/Veraticus/tally/internal/matching"
	"github.com/Veraticus/tally/internal/model"
)

func (s *Server) listMatches(w http.ResponseWriter, r *http.Request) {
	scope, err := scopeFromQuery(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	matches, err := s.deps.Store.ListMatched(r.Context(), scope)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	resp := make([]MatchResponse, 0, len(matches))
	for i := range matches {
		resp = append(resp, toMatchResponse(&matches[i]))
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) createMatch(w http.ResponseWriter, r *http.Request) {
	who, err := actor(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req CreateMatchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.TransactionID) == "" || strings.TrimSpace(req.EntryID) == "" {
		s.writeError(w, r, common.Validationf("transaction_id and entry_id are required"))
		return
	}

	client := clientID(r)
	txn, err := s.deps.Store.GetBankTransaction(r.Context(), req.TransactionID)
	if err == nil && txn.ClientID != client {
		err = notFound("bank transaction", req.TransactionID)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	entry, err := s.deps.Store.GetLedgerEntry(r.Context(), req.EntryID)
	if err == nil && entry.ClientID != client {
		err = notFound("ledger entry", req.EntryID)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	rec, err := s.deps.Store.CreateMatch(r.Context(), model.NewMatch{
		BankTransactionID: txn.ID,
		LedgerEntryID:     entry.ID,
		Type:              model.MatchTypeManual,
		Actor:             who,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, toMatchResponse(rec))
}

func (s *Server) getMatch(w http.ResponseWriter, r *http.Request) {
	rec, err := s.clientMatch(r, chi.URLParam(r, "matchID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toMatchResponse(rec))
}

func (s *Server) unmatch(w http.ResponseWriter, r *http.Request) {
	who, err := actor(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	matchID := chi.URLParam(r, "matchID")
	if _, err := s.clientMatch(r, matchID); err != nil {
		s.writeError(w, r, err)
		return
	}

	rec, err := s.deps.Store.Unmatch(r.Context(), matchID, who)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toMatchResponse(rec))
}

func (s *Server) clientMatch(r *http.Request, matchID string) (*model.MatchRecord, error) {
	rec, err := s.deps.Store.GetMatch(r.Context(), matchID)
	if err != nil {
		return nil, err
	}
	if rec.ClientID != clientID(r) {
		return nil, notFound("match", matchID)
	}
	return rec, nil
}

func (s *Server) listUnmatched(w http.ResponseWriter, r *http.Request) {
	scope, err := scopeFromQuery(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	set, err := s.deps.Store.ListUnmatched(r.Context(), scope)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	resp := UnmatchedResponse{
		Transactions: make([]TransactionResponse, 0, len(set.Transactions)),
		Entries:      make([]EntryResponse, 0, len(set.Entries)),
	}
	for _, t := range set.Transactions {
		resp.Transactions = append(resp.Transactions, toTransactionResponse(t))
	}
	for _, e := range set.Entries {
		resp.Entries = append(resp.Entries, toEntryResponse(e))
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) reconcile(w http.ResponseWriter, r *http.Request) {
	var req ReconcileRequest
	if r.ContentLength > 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	period, err := parsePeriod(req.From, req.To)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	scope := model.Scope{ClientID: clientID(r), AccountID: req.AccountID, Period: period}

	var report *matching.Report
	if req.DryRun {
		report, err = s.deps.Matching.Preview(r.Context(), scope)
	} else {
		report, err = s.deps.Matching.Run(r.Context(), scope, nil)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}
