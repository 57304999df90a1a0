// SPDX-License-Identifier: Apache-2.0

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kusari-oss/remedy/internal/core/models"
	"github.com/kusari-oss/remedy/internal/remedy/attemptlog"
)

var epoch = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

func seedLog(t *testing.T) *attemptlog.MemoryLog {
	t.Helper()
	log := attemptlog.NewMemoryLog()
	seed := []struct {
		target   string
		category models.Category
		outcome  models.OutcomeKind
	}{
		{"pkg", models.CategoryLint, models.OutcomeFailed},
		{"pkg", models.CategoryLint, models.OutcomeFixed},
		{"web", models.CategoryDeploy, models.OutcomeFailed},
		{"web", models.CategoryDeploy, models.OutcomeFailed},
		{"web", models.CategoryDeploy, models.OutcomeNoChange},
	}
	for i, s := range seed {
		a := &models.Attempt{
			BatchID:      "b1",
			TargetID:     s.target,
			Category:     s.category,
			StrategyName: "s",
			Outcome:      s.outcome,
			StartedAt:    epoch.Add(time.Duration(i) * time.Minute),
		}
		if s.outcome == models.OutcomeFailed {
			a.Reason = "boom"
		}
		require.NoError(t, log.Append(context.Background(), a))
	}
	return log
}

func get(t *testing.T, s *Server, path string, query url.Values) (*httptest.ResponseRecorder, AttemptsResponse) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path+"?"+query.Encode(), nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	var resp AttemptsResponse
	if rec.Code == http.StatusOK && path == "/api/v1/attempts" {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	}
	return rec, resp
}

func seqs(attempts []models.Attempt) []uint64 {
	out := make([]uint64, 0, len(attempts))
	for _, a := range attempts {
		out = append(out, a.Seq)
	}
	return out
}

func TestHandleAttempts(t *testing.T) {
	s, err := NewServer(seedLog(t), "127.0.0.1:0", nil)
	require.NoError(t, err)

	tests := []struct {
		name      string
		query     url.Values
		wantSeqs  []uint64
		wantAfter uint64
	}{
		{"all", url.Values{}, []uint64{1, 2, 3, 4, 5}, 0},
		{"by target", url.Values{"target": {"pkg"}}, []uint64{1, 2}, 0},
		{"by category", url.Values{"category": {"Deploy"}}, []uint64{3, 4, 5}, 0},
		{"by status", url.Values{"status": {"failed"}}, []uint64{1, 3, 4}, 0},
		{"since", url.Values{"since": {epoch.Add(3 * time.Minute).Format(time.RFC3339)}}, []uint64{4, 5}, 0},
		{"until", url.Values{"until": {epoch.Add(2 * time.Minute).Format(time.RFC3339)}}, []uint64{1, 2}, 0},
		{"first page", url.Values{"limit": {"2"}}, []uint64{1, 2}, 2},
		{"second page", url.Values{"limit": {"2"}, "after": {"2"}}, []uint64{3, 4}, 4},
		{"last page", url.Values{"limit": {"2"}, "after": {"4"}}, []uint64{5}, 0},
		{"no match", url.Values{"target": {"nope"}}, []uint64{}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, resp := get(t, s, "/api/v1/attempts", tt.query)
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			assert.Equal(t, tt.wantSeqs, seqs(resp.Attempts))
			assert.Equal(t, tt.wantAfter, resp.NextAfter)
		})
	}
}

func TestHandleAttemptsEmptyListIsArray(t *testing.T) {
	s, err := NewServer(attemptlog.NewMemoryLog(), "127.0.0.1:0", nil)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/attempts", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"attempts": [], "next_after": 0}`, rec.Body.String())
}

func TestHandleAttemptsBadRequest(t *testing.T) {
	s, err := NewServer(attemptlog.NewMemoryLog(), "127.0.0.1:0", nil)
	require.NoError(t, err)

	for _, q := range []url.Values{
		{"category": {"payments"}},
		{"status": {"escalated"}},
		{"since": {"yesterday"}},
		{"after": {"-1"}},
		{"limit": {"0"}},
	} {
		rec, _ := get(t, s, "/api/v1/attempts", q)
		assert.Equal(t, http.StatusBadRequest, rec.Code, q.Encode())
	}
}

func TestParseFilterLimit(t *testing.T) {
	f, err := ParseFilter(url.Values{}.Get)
	require.NoError(t, err)
	assert.Equal(t, DefaultLimit, f.Limit)

	f, err = ParseFilter(url.Values{"limit": {"5000"}}.Get)
	require.NoError(t, err)
	assert.Equal(t, MaxLimit, f.Limit)
}

func TestHealthAndMetrics(t *testing.T) {
	log := attemptlog.NewMemoryLog()
	s, err := NewServer(log, "127.0.0.1:0", nil)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status": "ok"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestRunShutsDownOnCancel(t *testing.T) {
	s, err := NewServer(attemptlog.NewMemoryLog(), "127.0.0.1:0", nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, time.Second) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestNewServerRequiresLog(t *testing.T) {
	_, err := NewServer(nil, ":0", nil)
	assert.Error(t, err)
}
