package api

import (
	"net/http"

	"github.com/Veraticus/tally/internal/common"
	"github.com/Veraticus/tally/internal/feedback"
	"github.com/Veraticus/tally/internal/service"
)

func (s *Server) accuracy(w http.ResponseWriter, r *http.Request) {
	period, err := parsePeriod(r.URL.Query().Get("from"), r.URL.Query().Get("to"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	summary, err := s.deps.Feedback.AggregateAccuracy(r.Context(), clientID(r), period)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, summary)
}

func (s *Server) exportTraining(w http.ResponseWriter, r *http.Request) {
	limit, err := parseIntParam(r, "limit", 0)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	format := feedback.Format(r.URL.Query().Get("format"))
	var contentType string
	switch format {
	case "", feedback.FormatJSONL:
		format = feedback.FormatJSONL
		contentType = "application/x-ndjson"
	case feedback.FormatCSV:
		contentType = "text/csv"
	default:
		s.writeError(w, r, common.Validationf("unknown format %q", format))
		return
	}

	rows, err := s.deps.Feedback.ExportTrainingData(r.Context(), clientID(r), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	if err := feedback.Write(w, format, rows); err != nil {
		s.logger.Warn("Failed to stream training export", "client_id", clientID(r), "error", err)
	}
}

func (s *Server) listAudit(w http.ResponseWriter, r *http.Request) {
	limit, err := parseIntParam(r, "limit", defaultPageSize)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	events, err := s.deps.Store.ListAuditEvents(r.Context(), service.AuditFilter{
		ClientID:  clientID(r),
		SubjectID: r.URL.Query().Get("subject"),
		Limit:     limit,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	resp := make([]AuditEventResponse, 0, len(events))
	for _, e := range events {
		resp = append(resp, AuditEventResponse{
			CreatedAt: e.CreatedAt,
			Action:    e.Action,
			SubjectID: e.SubjectID,
			Actor:     e.Actor,
			Detail:    e.Detail,
			ID:        e.ID,
		})
	}
	s.writeJSON(w, http.StatusOK, resp)
}
