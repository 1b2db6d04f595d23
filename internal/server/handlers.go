package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"time"

	"github.com/Veraticus/flowmatch/internal/common"
	"github.com/Veraticus/flowmatch/internal/index"
	"github.com/Veraticus/flowmatch/internal/model"
)

// maxUploadBytes bounds multipart receipt uploads.
const maxUploadBytes = 10 << 20

// receiptRequest is the JSON wire form of a receipt. Dates are calendar
// dates, RFC3339 accepted for compatibility.
type receiptRequest struct {
	Merchant string  `json:"merchant"`
	Date     string  `json:"date"`
	Category string  `json:"category"`
	Notes    string  `json:"notes"`
	Total    float64 `json:"total"`
}

func (r receiptRequest) toRecord() (model.ReceiptRecord, error) {
	date, err := time.Parse("2006-01-02", r.Date)
	if err != nil {
		date, err = time.Parse(time.RFC3339, r.Date)
	}
	if err != nil {
		return model.ReceiptRecord{}, fmt.Errorf("invalid date %q: expected YYYY-MM-DD", r.Date)
	}

	record := model.ReceiptRecord{
		Merchant: r.Merchant,
		Date:     date,
		Category: model.Category(r.Category),
		Notes:    r.Notes,
		Total:    r.Total,
	}
	if err := record.Validate(); err != nil {
		return model.ReceiptRecord{}, err
	}
	return record, nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.deps.Logger.Error("failed to write response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// receiptFromRequest resolves the receipt from either a JSON body or a
// multipart upload routed through the extraction collaborator. The
// uploaded artifact is deleted on every path.
func (s *Server) receiptFromRequest(w http.ResponseWriter, r *http.Request) (model.ReceiptRecord, bool) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		var req receiptRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
			return model.ReceiptRecord{}, false
		}
		record, err := req.toRecord()
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return model.ReceiptRecord{}, false
		}
		return record, true
	}

	if s.deps.Extractor == nil {
		s.writeError(w, http.StatusBadRequest, "document upload is not enabled")
		return model.ReceiptRecord{}, false
	}

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid multipart request: %v", err))
		return model.ReceiptRecord{}, false
	}
	file, _, err := r.FormFile("receipt")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "multipart field \"receipt\" is required")
		return model.ReceiptRecord{}, false
	}
	defer func() { _ = file.Close() }()

	tmp, err := os.CreateTemp("", "flowmatch-receipt-*")
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to stage upload")
		return model.ReceiptRecord{}, false
	}
	path := tmp.Name()
	defer func() { _ = os.Remove(path) }()

	if _, err := io.Copy(tmp, file); err != nil {
		_ = tmp.Close()
		s.writeError(w, http.StatusInternalServerError, "failed to stage upload")
		return model.ReceiptRecord{}, false
	}
	if err := tmp.Close(); err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to stage upload")
		return model.ReceiptRecord{}, false
	}

	record, err := s.deps.Extractor.Extract(r.Context(), path)
	if err != nil {
		if common.IsRejection(err) {
			s.writeError(w, http.StatusUnprocessableEntity, err.Error())
		} else {
			s.deps.Logger.Error("extraction failed", "error", err)
			s.writeError(w, http.StatusBadGateway, "extraction failed")
		}
		return model.ReceiptRecord{}, false
	}
	return record, true
}

// handleMatch runs the fixed pipeline and returns the MatchResult as a
// single JSON object.
func (s *Server) handleMatch(w http.ResponseWriter, r *http.Request) {
	receipt, ok := s.receiptFromRequest(w, r)
	if !ok {
		s.metrics.observeMatch("pipeline", outcomeError)
		return
	}

	result, err := s.deps.Pipeline.Match(r.Context(), receipt)
	if err != nil {
		s.deps.Logger.Error("match failed", "merchant", receipt.Merchant, "error", err)
		s.metrics.observeMatch("pipeline", outcomeError)
		s.writeError(w, http.StatusBadGateway, "matching failed")
		return
	}

	s.metrics.observeMatch("pipeline", outcomeOf(result))
	s.writeJSON(w, http.StatusOK, result)
}

// handleMatchStream runs the agentic orchestrator and streams its
// events as SSE frames. Headers are flushed before any work starts so
// the client observes progress live.
func (s *Server) handleMatchStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	receipt, ok := s.receiptFromRequest(w, r)
	if !ok {
		s.metrics.observeMatch("agent", outcomeError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	events := make(chan model.PipelineEvent)
	done := make(chan struct{})

	go func() {
		defer close(done)
		result, err := s.deps.Agent.Run(r.Context(), receipt, events)
		switch {
		case errors.Is(err, common.ErrStepBudgetExceeded):
			// The stream already completed with a null match.
			s.metrics.observeMatch("agent", outcomeNull)
		case err != nil:
			s.metrics.observeMatch("agent", outcomeError)
		default:
			s.metrics.observeMatch("agent", outcomeOf(result))
		}
	}()

	for event := range events {
		s.metrics.StreamEventsTotal.WithLabelValues(string(event.Type)).Inc()
		if err := writeSSE(w, event); err != nil {
			// Client went away; the orchestrator notices via r.Context().
			s.deps.Logger.Info("stream client disconnected", "error", err)
			break
		}
		flusher.Flush()
	}
	<-done
}

// writeSSE emits one event:/data: frame.
func writeSSE(w io.Writer, event model.PipelineEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
	return err
}

// handleCatalogReload rebuilds the index from the catalog store and
// swaps it in atomically.
func (s *Server) handleCatalogReload(w http.ResponseWriter, r *http.Request) {
	if s.deps.Store == nil || s.deps.Embedder == nil {
		s.writeError(w, http.StatusBadRequest, "catalog reload is not enabled")
		return
	}

	candidates, err := s.deps.Store.ListCandidates(r.Context())
	if err != nil {
		s.deps.Logger.Error("catalog reload failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to load catalog")
		return
	}

	idx, err := index.Build(r.Context(), s.deps.Embedder, candidates)
	if err != nil {
		s.deps.Logger.Error("catalog reload failed", "error", err)
		s.writeError(w, http.StatusBadGateway, "failed to rebuild index")
		return
	}

	s.deps.Catalog.Swap(idx)
	s.metrics.CatalogSize.Set(float64(idx.Len()))
	s.deps.Logger.Info("catalog reloaded", "candidates", idx.Len())
	s.writeJSON(w, http.StatusOK, map[string]int{"candidates": idx.Len()})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func outcomeOf(result model.MatchResult) matchOutcome {
	switch {
	case result.Degraded:
		return outcomeDegraded
	case result.Candidate == nil:
		return outcomeNull
	default:
		return outcomeMatched
	}
}
