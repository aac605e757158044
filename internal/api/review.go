package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/Veraticus/tally/internal/common"
	"github.com/Veraticus/tally/internal/model"
	"github.com/Veraticus/tally/internal/service"
)

const defaultPageSize = 100

func (s *Server) listReviewItems(w http.ResponseWriter, r *http.Request) {
	limit, err := parseIntParam(r, "limit", defaultPageSize)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	status := model.ReviewStatus(strings.ToUpper(r.URL.Query().Get("status")))
	switch status {
	case "", model.ReviewPending, model.ReviewApproved, model.ReviewCorrected, model.ReviewRejected:
	default:
		s.writeError(w, r, common.Validationf("unknown status %q", status))
		return
	}

	items, err := s.deps.Store.ListReviewItems(r.Context(), service.ReviewFilter{
		ClientID: clientID(r),
		Status:   status,
		Limit:    limit,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	resp := ReviewListResponse{Items: make([]ReviewItemResponse, 0, len(items)), Count: len(items)}
	for i := range items {
		resp.Items = append(resp.Items, toReviewItemResponse(&items[i]))
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) submitSuggestion(w http.ResponseWriter, r *http.Request) {
	var sug model.Suggestion
	if err := decodeJSON(w, r, &sug); err != nil {
		s.writeError(w, r, err)
		return
	}
	if sug.ClientID != "" && sug.ClientID != clientID(r) {
		s.writeError(w, r, common.Validationf("client_id %q does not match path", sug.ClientID))
		return
	}
	sug.ClientID = clientID(r)

	decision, err := s.deps.Review.SubmitForClient(r.Context(), sug)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	resp := SubmitResponse{Outcome: string(decision.Outcome), VoucherID: decision.VoucherID}
	status := http.StatusOK
	if decision.Item != nil {
		item := toReviewItemResponse(decision.Item)
		resp.Item = &item
		status = http.StatusAccepted
	}
	s.writeJSON(w, status, resp)
}

func (s *Server) getReviewItem(w http.ResponseWriter, r *http.Request) {
	item, err := s.clientReviewItem(r.Context(), clientID(r), chi.URLParam(r, "itemID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toReviewItemResponse(item))
}

func (s *Server) approveReviewItem(w http.ResponseWriter, r *http.Request) {
	s.resolveReviewItem(w, r, func(ctx context.Context, itemID, who string, _ CorrectionRequest) (*model.ReviewQueueItem, error) {
		return s.deps.Review.Approve(ctx, itemID, who)
	}, false)
}

func (s *Server) correctReviewItem(w http.ResponseWriter, r *http.Request) {
	s.resolveReviewItem(w, r, func(ctx context.Context, itemID, who string, req CorrectionRequest) (*model.ReviewQueueItem, error) {
		return s.deps.Review.Correct(ctx, itemID, who, model.Correction{
			AccountCode: req.AccountCode,
			VATCode:     req.VATCode,
			Notes:       req.Notes,
		})
	}, true)
}

func (s *Server) rejectReviewItem(w http.ResponseWriter, r *http.Request) {
	s.resolveReviewItem(w, r, func(ctx context.Context, itemID, who string, req CorrectionRequest) (*model.ReviewQueueItem, error) {
		return s.deps.Review.Reject(ctx, itemID, who, req.Notes)
	}, false)
}

type resolveFunc func(ctx context.Context, itemID, actor string, req CorrectionRequest) (*model.ReviewQueueItem, error)

// resolveReviewItem runs one terminal transition. A body is optional unless
// requireBody is set.
func (s *Server) resolveReviewItem(w http.ResponseWriter, r *http.Request, fn resolveFunc, requireBody bool) {
	who, err := actor(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var req CorrectionRequest
	if requireBody || r.ContentLength > 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
	}

	itemID := chi.URLParam(r, "itemID")
	if _, err := s.clientReviewItem(r.Context(), clientID(r), itemID); err != nil {
		s.writeError(w, r, err)
		return
	}

	item, err := fn(r.Context(), itemID, who, req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toReviewItemResponse(item))
}

func (s *Server) reviseReviewItem(w http.ResponseWriter, r *http.Request) {
	who, err := actor(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req CorrectionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	itemID := chi.URLParam(r, "itemID")
	if _, err := s.clientReviewItem(r.Context(), clientID(r), itemID); err != nil {
		s.writeError(w, r, err)
		return
	}

	rec, err := s.deps.Review.Revise(r.Context(), itemID, who, model.Correction{
		AccountCode: req.AccountCode,
		VATCode:     req.VATCode,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, toFeedbackResponse(rec))
}

// clientReviewItem loads an item and hides it when it belongs to another client.
func (s *Server) clientReviewItem(ctx context.Context, client, itemID string) (*model.ReviewQueueItem, error) {
	item, err := s.deps.Store.GetReviewItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if item.ClientID != client {
		return nil, notFound("review item", itemID)
	}
	return item, nil
}

func (s *Server) getThresholds(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.deps.Store.GetThresholds(r.Context(), clientID(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) putThresholds(w http.ResponseWriter, r *http.Request) {
	who, err := actor(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req ThresholdsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	cfg := model.ThresholdConfig{
		ClientID: clientID(r),
		Account:  req.Account,
		VAT:      req.VAT,
		Global:   req.Global,
	}
	if err := s.deps.Store.SaveThresholds(r.Context(), cfg, who); err != nil {
		s.writeError(w, r, err)
		return
	}

	saved, err := s.deps.Store.GetThresholds(r.Context(), cfg.ClientID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, saved)
}
