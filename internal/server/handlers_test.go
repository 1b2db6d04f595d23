package server

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/flowmatch/internal/agent"
	"github.com/Veraticus/flowmatch/internal/common"
	"github.com/Veraticus/flowmatch/internal/index"
	"github.com/Veraticus/flowmatch/internal/llm"
	"github.com/Veraticus/flowmatch/internal/match"
	"github.com/Veraticus/flowmatch/internal/model"
)

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

type stubSearcher struct {
	results []index.Result
}

func (s *stubSearcher) Search(_ context.Context, _ string, _ int) ([]index.Result, error) {
	return s.results, nil
}

type stubAdjudicator struct {
	result model.MatchResult
}

func (s *stubAdjudicator) Adjudicate(_ context.Context, _ model.ReceiptRecord, _ model.RankedCandidates, _ int) (model.MatchResult, error) {
	return s.result, nil
}

type stubChat struct {
	turns []llm.ChatTurn
	calls int
}

func (s *stubChat) ToolTurn(_ context.Context, _ llm.ChatRequest) (llm.ChatTurn, error) {
	i := s.calls
	s.calls++
	if i < len(s.turns) {
		return s.turns[i], nil
	}
	return llm.ChatTurn{Content: `{"candidateId": null, "confidence": 50, "reasoning": "nothing fits"}`}, nil
}

type stubExtractor struct {
	record model.ReceiptRecord
	err    error
}

func (s *stubExtractor) Extract(_ context.Context, _ string) (model.ReceiptRecord, error) {
	return s.record, s.err
}

func matchedItem() model.CandidateItem {
	return model.CandidateItem{
		ID:          "offsite",
		Title:       "Team offsite",
		WindowStart: day("2024-03-01"),
		WindowEnd:   day("2024-03-31"),
		Budget:      500,
	}
}

func searchHits() []index.Result {
	return []index.Result{{Item: matchedItem(), Score: 0.9}}
}

func newTestServer(t *testing.T, deps Deps) *Server {
	t.Helper()
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return New(deps)
}

func receiptBody(t *testing.T) *bytes.Buffer {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"merchant": "Cloud Cafe",
		"date":     "2024-03-15",
		"total":    42.50,
		"category": "food",
		"notes":    "team lunch",
	})
	require.NoError(t, err)
	return bytes.NewBuffer(body)
}

func TestHandleMatch(t *testing.T) {
	item := matchedItem()
	srv := newTestServer(t, Deps{
		Pipeline: match.New(
			&stubSearcher{results: searchHits()},
			&stubAdjudicator{result: model.MatchResult{Candidate: &item, Confidence: 85, Reasoning: "fits"}},
			slog.Default(),
		),
	})

	req := httptest.NewRequest(http.MethodPost, "/v1/match", receiptBody(t))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))

	var result model.MatchResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	require.NotNil(t, result.Candidate)
	assert.Equal(t, "offsite", result.Candidate.ID)
	assert.InDelta(t, 85, result.Confidence, 0.001)
}

func TestHandleMatchRejectsInvalidReceipt(t *testing.T) {
	srv := newTestServer(t, Deps{
		Pipeline: match.New(&stubSearcher{}, &stubAdjudicator{}, slog.Default()),
	})

	body := bytes.NewBufferString(`{"merchant": "", "date": "2024-03-15", "total": 10, "category": "food"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/match", body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleMatchRejectsBadDate(t *testing.T) {
	srv := newTestServer(t, Deps{
		Pipeline: match.New(&stubSearcher{}, &stubAdjudicator{}, slog.Default()),
	})

	body := bytes.NewBufferString(`{"merchant": "Cafe", "date": "03/15/2024", "total": 10, "category": "food"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/match", body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func multipartBody(t *testing.T) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("receipt", "receipt.txt")
	require.NoError(t, err)
	_, err = part.Write([]byte("CLOUD CAFE\n2024-03-15\nTOTAL $42.50"))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func TestHandleMatchMultipartUsesExtractor(t *testing.T) {
	item := matchedItem()
	srv := newTestServer(t, Deps{
		Pipeline: match.New(
			&stubSearcher{results: searchHits()},
			&stubAdjudicator{result: model.MatchResult{Candidate: &item, Confidence: 70, Reasoning: "fits"}},
			slog.Default(),
		),
		Extractor: &stubExtractor{record: model.ReceiptRecord{
			Merchant: "Cloud Cafe",
			Date:     day("2024-03-15"),
			Total:    42.50,
			Category: model.CategoryFood,
		}},
	})

	body, contentType := multipartBody(t)
	req := httptest.NewRequest(http.MethodPost, "/v1/match", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var result model.MatchResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	require.NotNil(t, result.Candidate)
	assert.Equal(t, "offsite", result.Candidate.ID)
}

func TestHandleMatchMultipartRejection(t *testing.T) {
	srv := newTestServer(t, Deps{
		Pipeline:  match.New(&stubSearcher{}, &stubAdjudicator{}, slog.Default()),
		Extractor: &stubExtractor{err: common.ErrNotAReceipt},
	})

	body, contentType := multipartBody(t)
	req := httptest.NewRequest(http.MethodPost, "/v1/match", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestHandleMatchStream(t *testing.T) {
	chat := &stubChat{turns: []llm.ChatTurn{
		{ToolCalls: []llm.ToolCall{{
			ID:        "1",
			Name:      agent.ToolSearchCandidates,
			Arguments: json.RawMessage(`{"query": "team lunch"}`),
		}}},
		{Content: `{"candidateId": "offsite", "confidence": 80, "reasoning": "the offsite covers it"}`},
	}}

	srv := newTestServer(t, Deps{
		Agent: agent.New(chat, &stubSearcher{results: searchHits()}, slog.Default()),
	})

	req := httptest.NewRequest(http.MethodPost, "/v1/match/stream", receiptBody(t))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	body := rec.Body.String()

	// Frames arrive in orchestration order, terminated by complete.
	progressAt := strings.Index(body, "event: progress")
	toolCallAt := strings.Index(body, "event: tool_call")
	toolResultAt := strings.Index(body, "event: tool_result")
	completeAt := strings.Index(body, "event: complete")
	require.GreaterOrEqual(t, progressAt, 0)
	require.Greater(t, toolCallAt, progressAt)
	require.Greater(t, toolResultAt, toolCallAt)
	require.Greater(t, completeAt, toolResultAt)

	assert.Equal(t, 1, strings.Count(body, "event: complete"))
	assert.Zero(t, strings.Count(body, "event: error"))

	// Every frame carries a data payload.
	for _, line := range strings.Split(body, "\n") {
		if strings.HasPrefix(line, "data: ") {
			var ev model.PipelineEvent
			require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev))
		}
	}
}

type stubStore struct {
	candidates []model.CandidateItem
}

func (s *stubStore) SaveCandidates(_ context.Context, _ []model.CandidateItem) error { return nil }
func (s *stubStore) ListCandidates(_ context.Context) ([]model.CandidateItem, error) {
	return s.candidates, nil
}
func (s *stubStore) GetCandidate(_ context.Context, _ string) (*model.CandidateItem, error) {
	return nil, nil
}
func (s *stubStore) Migrate(_ context.Context) error { return nil }
func (s *stubStore) Close() error                    { return nil }

type stubEmbedder struct{}

func (s *stubEmbedder) Embed(_ context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i := range texts {
		out[i] = []float64{1, 0}
	}
	return out, nil
}

func TestHandleCatalogReload(t *testing.T) {
	embedder := &stubEmbedder{}
	empty, err := index.Build(context.Background(), embedder, nil)
	require.NoError(t, err)
	catalog := index.NewSwappable(empty)

	srv := newTestServer(t, Deps{
		Store:    &stubStore{candidates: []model.CandidateItem{matchedItem()}},
		Embedder: embedder,
		Catalog:  catalog,
	})

	req := httptest.NewRequest(http.MethodPost, "/v1/catalog/reload", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, catalog.Len())

	var resp map[string]int
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp["candidates"])
}

func TestHandleHealthz(t *testing.T) {
	srv := newTestServer(t, Deps{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status": "ok"}`, rec.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t, Deps{})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}
