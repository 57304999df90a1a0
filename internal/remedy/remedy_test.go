// SPDX-License-Identifier: Apache-2.0

package remedy

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kusari-oss/remedy/internal/core/config"
	"github.com/kusari-oss/remedy/internal/core/models"
	"github.com/kusari-oss/remedy/internal/remedy/api"
	"github.com/kusari-oss/remedy/internal/remedy/attemptlog"
	"github.com/kusari-oss/remedy/internal/remedy/escalation"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	t.Setenv("REMEDY_HOME", t.TempDir())
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestAppRemediate(t *testing.T) {
	events := make(chan escalation.Event, 4)
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var e escalation.Event
		if err := json.NewDecoder(r.Body).Decode(&e); err == nil {
			events <- e
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer hook.Close()

	path := writeConfig(t, `
orchestrator:
  workers: 2
  max_retries: 0
log:
  in_memory: true
escalation:
  webhook:
    url: `+hook.URL+`
strategies:
  - name: commas
    type: builtin
    builtin: json-trailing-commas
    applies_to: [lint]
chains:
  lint: [commas]
`)
	strategiesDir := filepath.Join(filepath.Dir(path), "strategies")
	require.NoError(t, os.MkdirAll(strategiesDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(strategiesDir, "newline.yaml"),
		[]byte("type: builtin\nbuiltin: ensure-final-newline\napplies_to: [config]\n"), 0644))

	var logs bytes.Buffer
	ctx := context.Background()
	app, err := New(ctx, Options{ConfigPath: path, LogOutput: &logs})
	require.NoError(t, err)

	assert.Contains(t, app.Strategies, "newline", "strategy dir definitions are loaded")
	assert.Equal(t, []models.Category{models.CategoryLint}, app.Registry.Categories())
	assert.True(t, app.Registry.Sealed())

	report, err := app.Remediate(ctx, []models.Target{
		{ID: "ok", Category: models.CategoryLint, Payload: []byte(`{"a": 1,}`)},
		{ID: "broken", Category: models.CategoryLint, Payload: []byte(`{"a": `)},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, report.FixedCount)
	assert.Equal(t, 1, report.EscalatedCount)
	assert.Equal(t, models.ExitUnresolved, report.ExitCode())
	assert.Equal(t, []byte(`{"a": 1}`), report.Sessions[0].Payload)

	select {
	case e := <-events:
		assert.Equal(t, "broken", e.TargetID)
		assert.Equal(t, 1, e.AttemptCount)
	case <-time.After(5 * time.Second):
		t.Fatal("escalation not delivered")
	}

	attempts, err := attemptlog.Collect(app.Log.Query(ctx, attemptlog.Filter{}))
	require.NoError(t, err)
	assert.Len(t, attempts, 2)

	require.NoError(t, app.Close(ctx))
	assert.Contains(t, logs.String(), "Remediation batch finished")
}

func TestNewRejectsBadChains(t *testing.T) {
	path := writeConfig(t, `
log:
  in_memory: true
chains:
  lint: [missing]
`)
	_, err := New(context.Background(), Options{ConfigPath: path, LogOutput: &bytes.Buffer{}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown strategy "missing"`)
}

func TestWorkersOverride(t *testing.T) {
	path := writeConfig(t, "log:\n  in_memory: true\n")

	cfg, _, err := LoadConfig(Options{ConfigPath: path, Workers: 7, LogOutput: &bytes.Buffer{}})
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Orchestrator.Workers)

	_, _, err = LoadConfig(Options{ConfigPath: path, Workers: 500, LogOutput: &bytes.Buffer{}})
	assert.Error(t, err)
}

func TestOpenLog(t *testing.T) {
	cfg := config.NewDefaultConfig()
	cfg.BaseDir = t.TempDir()

	log, err := OpenLog(cfg, nil)
	require.NoError(t, err)
	assert.IsType(t, &attemptlog.BadgerLog{}, log)
	require.NoError(t, log.Close())
	assert.DirExists(t, filepath.Join(cfg.BaseDir, config.DefaultLogDirName))

	cfg.Log.InMemory = true
	cfg.Log.Policy = config.LogPolicyBuffer
	log, err = OpenLog(cfg, nil)
	require.NoError(t, err)
	assert.IsType(t, &attemptlog.BufferedLog{}, log)
	require.NoError(t, log.Close())
}

func TestOrchestratorConfig(t *testing.T) {
	oc := OrchestratorConfig(config.OrchestratorConfig{
		Workers:         3,
		StrategyTimeout: time.Second,
		MaxRetries:      0,
		BackoffBase:     time.Millisecond,
		BackoffCap:      time.Second,
	})
	assert.Equal(t, 3, oc.Workers)
	assert.Equal(t, 0, oc.MaxRetriesPerStrategy)
	assert.Equal(t, time.Millisecond, oc.BackoffBase)
}

func TestAPIServesLogWhileWriting(t *testing.T) {
	path := writeConfig(t, `
orchestrator:
  max_retries: 0
strategies:
  - name: commas
    type: builtin
    builtin: json-trailing-commas
    applies_to: [lint]
chains:
  lint: [commas]
`)
	ctx := context.Background()
	app, err := New(ctx, Options{ConfigPath: path, LogOutput: &bytes.Buffer{}})
	require.NoError(t, err)
	assert.IsType(t, &attemptlog.BadgerLog{}, app.Log)

	server, err := app.NewAPIServer("")
	require.NoError(t, err)
	handler := server.Handler()

	list := func() api.AttemptsResponse {
		t.Helper()
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/attempts", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		var resp api.AttemptsResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		return resp
	}
	assert.Empty(t, list().Attempts)

	for i, id := range []string{"first", "second"} {
		_, err := app.Remediate(ctx, []models.Target{{ID: id, Category: models.CategoryLint, Payload: []byte(`[1,]`)}})
		require.NoError(t, err)

		attempts := list().Attempts
		require.Len(t, attempts, i+1, "attempts are visible as soon as they are written")
		assert.Equal(t, id, attempts[i].TargetID)
	}

	_, err = OpenReader(app.Config, nil)
	assert.Error(t, err, "the writer holds the log exclusively")

	require.NoError(t, app.Close(ctx))

	r1, err := OpenReader(app.Config, nil)
	require.NoError(t, err)
	defer r1.Close()
	r2, err := OpenReader(app.Config, nil)
	require.NoError(t, err)
	defer r2.Close()

	for _, r := range []attemptlog.Log{r1, r2} {
		attempts, err := attemptlog.Collect(r.Query(ctx, attemptlog.Filter{}))
		require.NoError(t, err)
		assert.Len(t, attempts, 2)
	}
}

func TestOpenReader(t *testing.T) {
	cfg := config.NewDefaultConfig()
	cfg.BaseDir = t.TempDir()

	_, err := OpenReader(cfg, nil)
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.NoDirExists(t, cfg.LogPath(), "readers never create the log")

	cfg.Log.InMemory = true
	log, err := OpenReader(cfg, nil)
	require.NoError(t, err)
	assert.IsType(t, &attemptlog.MemoryLog{}, log)
	require.NoError(t, log.Close())
}
