package llm

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/flowmatch/internal/model"
)

// mockClient scripts Complete responses; Embed and ChatWithTools are
// unused in these tests.
type mockClient struct {
	responses []string
	errs      []error
	calls     int
	chatTurns []ChatTurn
	chatErr   error
	chatCalls int
}

func (m *mockClient) Complete(_ context.Context, _, _ string) (string, error) {
	i := m.calls
	m.calls++
	if i < len(m.errs) && m.errs[i] != nil {
		return "", m.errs[i]
	}
	if i < len(m.responses) {
		return m.responses[i], nil
	}
	return "", nil
}

func (m *mockClient) ChatWithTools(_ context.Context, _ ChatRequest) (ChatTurn, error) {
	i := m.chatCalls
	m.chatCalls++
	if m.chatErr != nil {
		return ChatTurn{}, m.chatErr
	}
	if i < len(m.chatTurns) {
		return m.chatTurns[i], nil
	}
	return ChatTurn{}, nil
}

func (m *mockClient) Embed(_ context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i := range texts {
		out[i] = []float64{1, 0}
	}
	return out, nil
}

func newTestAdjudicator(client Client) *Adjudicator {
	return NewAdjudicatorWithClient(client, Config{
		MaxRetries: 1,
		RetryDelay: time.Millisecond,
		RateLimit:  100000,
	}, slog.Default())
}

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func testShortlist() model.RankedCandidates {
	return model.RankedCandidates{
		{
			Item: model.CandidateItem{
				ID:          "offsite",
				Title:       "Team offsite",
				WindowStart: day("2024-03-01"),
				WindowEnd:   day("2024-03-31"),
				Budget:      500,
			},
			Similarity:      0.9,
			Utilization:     8.5,
			RemainingBudget: 457.50,
		},
		{
			Item: model.CandidateItem{
				ID:          "training",
				Title:       "Training budget",
				WindowStart: day("2024-01-01"),
				WindowEnd:   day("2024-12-31"),
				Budget:      2000,
			},
			Similarity:      0.7,
			Utilization:     2.1,
			RemainingBudget: 1957.50,
		},
	}
}

func testReceipt() model.ReceiptRecord {
	return model.ReceiptRecord{
		Merchant: "Cloud Cafe",
		Date:     day("2024-03-15"),
		Total:    42.50,
		Category: model.CategoryFood,
	}
}

func TestAdjudicateSelectsCandidate(t *testing.T) {
	client := &mockClient{responses: []string{
		`{"candidateId": "training", "confidence": 80, "reasons": ["fits the training budget"], "reasoning": "training expense"}`,
	}}
	a := newTestAdjudicator(client)
	defer func() { _ = a.Close() }()

	result, err := a.Adjudicate(context.Background(), testReceipt(), testShortlist(), 3)

	require.NoError(t, err)
	require.NotNil(t, result.Candidate)
	assert.Equal(t, "training", result.Candidate.ID)
	assert.InDelta(t, 80, result.Confidence, 0.001)
	assert.False(t, result.Degraded)
}

func TestAdjudicateNullDecision(t *testing.T) {
	client := &mockClient{responses: []string{
		`{"candidateId": null, "confidence": 95, "reasons": ["no plausible fit"], "reasoning": "nothing matches"}`,
	}}
	a := newTestAdjudicator(client)
	defer func() { _ = a.Close() }()

	result, err := a.Adjudicate(context.Background(), testReceipt(), testShortlist(), 3)

	require.NoError(t, err)
	assert.Nil(t, result.Candidate)
	assert.Equal(t, "nothing matches", result.Reasoning)
}

func TestAdjudicateFallsBackOnUnparseableOutput(t *testing.T) {
	client := &mockClient{responses: []string{
		"I cannot decide between these options, sorry.",
	}}
	a := newTestAdjudicator(client)
	defer func() { _ = a.Close() }()

	result, err := a.Adjudicate(context.Background(), testReceipt(), testShortlist(), 3)

	require.NoError(t, err)
	require.NotNil(t, result.Candidate)
	assert.Equal(t, "offsite", result.Candidate.ID) // top of the shortlist
	assert.InDelta(t, 25, result.Confidence, 0.001)
	assert.Equal(t, []string{"automatic selection after adjudication parse failure"}, result.Reasons)
	assert.True(t, result.Degraded)
}

func TestAdjudicateFallsBackOnUnknownCandidate(t *testing.T) {
	client := &mockClient{responses: []string{
		`{"candidateId": "never-heard-of-it", "confidence": 99, "reasoning": "made it up"}`,
	}}
	a := newTestAdjudicator(client)
	defer func() { _ = a.Close() }()

	result, err := a.Adjudicate(context.Background(), testReceipt(), testShortlist(), 3)

	require.NoError(t, err)
	require.NotNil(t, result.Candidate)
	assert.Equal(t, "offsite", result.Candidate.ID)
	assert.True(t, result.Degraded)
}

func TestAdjudicateClampsConfidence(t *testing.T) {
	client := &mockClient{responses: []string{
		`{"candidateId": "offsite", "confidence": 250, "reasoning": "very sure"}`,
	}}
	a := newTestAdjudicator(client)
	defer func() { _ = a.Close() }()

	result, err := a.Adjudicate(context.Background(), testReceipt(), testShortlist(), 3)

	require.NoError(t, err)
	assert.InDelta(t, 100, result.Confidence, 0.001)
}

func TestAdjudicateRejectsEmptyShortlist(t *testing.T) {
	a := newTestAdjudicator(&mockClient{})
	defer func() { _ = a.Close() }()

	_, err := a.Adjudicate(context.Background(), testReceipt(), model.RankedCandidates{}, 3)
	require.Error(t, err)
}

func TestAdjudicateTruncatesShortlist(t *testing.T) {
	client := &mockClient{responses: []string{
		`{"candidateId": "offsite", "confidence": 80, "reasoning": "fits"}`,
	}}
	a := newTestAdjudicator(client)
	defer func() { _ = a.Close() }()

	shortlist := testShortlist()
	for _, id := range []string{"extra-1", "extra-2", "extra-3"} {
		shortlist = append(shortlist, model.RankedCandidate{
			Item: model.CandidateItem{
				ID:          id,
				Title:       id,
				WindowStart: day("2024-01-01"),
				WindowEnd:   day("2024-12-31"),
				Budget:      100,
			},
		})
	}

	result, err := a.Adjudicate(context.Background(), testReceipt(), shortlist, 3)

	require.NoError(t, err)
	require.NotNil(t, result.Candidate)
	assert.Equal(t, 1, client.calls)
}

func TestToolTurnPassesThrough(t *testing.T) {
	client := &mockClient{chatTurns: []ChatTurn{
		{Content: "thinking", ToolCalls: []ToolCall{{ID: "1", Name: "search_candidates"}}},
	}}
	a := newTestAdjudicator(client)
	defer func() { _ = a.Close() }()

	turn, err := a.ToolTurn(context.Background(), ChatRequest{})

	require.NoError(t, err)
	assert.Equal(t, "thinking", turn.Content)
	require.Len(t, turn.ToolCalls, 1)
	assert.Equal(t, "search_candidates", turn.ToolCalls[0].Name)
}
