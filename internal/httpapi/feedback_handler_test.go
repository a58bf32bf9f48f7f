package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/openlearn-ai/bookbrain/internal/analytics"
	"github.com/openlearn-ai/bookbrain/internal/db"
)

type fakeFeedbackStore struct {
	saved *db.FeedbackRecord
	err   error
}

func (f *fakeFeedbackStore) SaveFeedback(_ context.Context, rec *db.FeedbackRecord) error {
	f.saved = rec
	return f.err
}

func postFeedback(t *testing.T, h http.Handler, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/v1/feedback", bytes.NewReader(raw))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestFeedbackStored(t *testing.T) {
	store := &fakeFeedbackStore{}
	h := NewFeedbackHandler(store, zaptest.NewLogger(t))

	rec := postFeedback(t, h, FeedbackRequest{
		ResponseID: "r-1",
		Rating:     "helpful",
		Comment:    "clear explanation",
		UserID:     "u-hash",
	})

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, store.saved)
	assert.Equal(t, "r-1", store.saved.ResponseID)
	assert.Equal(t, db.RatingHelpful, store.saved.Rating)
	require.NotNil(t, store.saved.Comment)
	assert.Equal(t, "clear explanation", *store.saved.Comment)

	var resp FeedbackResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.FeedbackID)
	assert.Equal(t, "Feedback submitted successfully", resp.Message)
	assert.False(t, resp.Timestamp.IsZero())
}

func TestFeedbackValidation(t *testing.T) {
	store := &fakeFeedbackStore{}
	h := NewFeedbackHandler(store, zaptest.NewLogger(t))

	rec := postFeedback(t, h, FeedbackRequest{Rating: "amazing"})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Nil(t, store.saved)

	var env errorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Contains(t, env.Details, "response_id")
	assert.Contains(t, env.Details, "rating")
}

type fakeSummarizer struct {
	gotStart, gotEnd time.Time
	gotBook          string
	sum              *analytics.Summary
	err              error
}

func (f *fakeSummarizer) Summarize(_ context.Context, start, end time.Time, bookID string) (*analytics.Summary, error) {
	f.gotStart, f.gotEnd, f.gotBook = start, end, bookID
	return f.sum, f.err
}

func getSummary(t *testing.T, h http.Handler, query string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/v1/analytics/summary?"+query, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAnalyticsSummary(t *testing.T) {
	fs := &fakeSummarizer{sum: &analytics.Summary{TotalQueries: 40, MinutesSaved: 100}}
	h := NewAnalyticsHandler(fs, zaptest.NewLogger(t))
	h.now = func() time.Time { return time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC) }

	rec := getSummary(t, h, "start_date=2025-03-01&end_date=2025-03-10&book_id=physics-101")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "physics-101", fs.gotBook)

	var sum analytics.Summary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sum))
	assert.EqualValues(t, 40, sum.TotalQueries)
	assert.InDelta(t, 100, sum.MinutesSaved, 1e-9)
}

func TestAnalyticsDateValidation(t *testing.T) {
	fs := &fakeSummarizer{sum: &analytics.Summary{}}
	h := NewAnalyticsHandler(fs, zaptest.NewLogger(t))
	h.now = func() time.Time { return time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC) }

	cases := []struct {
		name  string
		query string
	}{
		{"missing dates", ""},
		{"end before start", "start_date=2025-03-10&end_date=2025-03-01"},
		{"future range", "start_date=2025-07-01&end_date=2025-07-02"},
		{"garbage", "start_date=yesterday&end_date=today"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := getSummary(t, h, tc.query)
			require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
			assert.Contains(t, rec.Body.String(), "VALIDATION_ERROR")
		})
	}
}
