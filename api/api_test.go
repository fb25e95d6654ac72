package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gatekeeper/config"
	"gatekeeper/core"
	"gatekeeper/detect"
	"gatekeeper/ingest"
	"gatekeeper/storage"
	"gatekeeper/util/goroutine"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.API = config.APIConfig{
		Host:         "127.0.0.1",
		Port:         8090,
		MaxBodyBytes: 1 << 20,
		RateLimit:    config.RateLimitConfig{RequestsPerSecond: 1000, Burst: 1000},
	}
	cfg.Snippets.CacheSize = 16
	cfg.Ingest.MaxPayloadBytes = 1 << 20
	return cfg
}

type testEnv struct {
	api   *API
	runs  *storage.SQLiteTestResultStorage
	dedup *storage.AlertDeduplicator
	redis *miniredis.Miniredis
}

// setupTestAPI wires the API to real SQLite, miniredis and an inline-only resolver
func setupTestAPI(t *testing.T) *testEnv {
	t.Helper()
	logger := zaptest.NewLogger(t).Sugar()

	cache, err := detect.NewSnippetCache(16)
	require.NoError(t, err)

	db, err := storage.NewSQLite(filepath.Join(t.TempDir(), "api.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	runs := storage.NewSQLiteTestResultStorage(db, logger)

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	dedup := storage.NewAlertDeduplicator(storage.NewRedisClient(storage.RedisConfig{Addr: mr.Addr()}), "", logger)
	t.Cleanup(func() { _ = dedup.Close() })

	a := NewAPI(Dependencies{
		Snippets: cache,
		Batch:    detect.NewBatchInterpreter(4, logger),
		Runs:     runs,
		Dedup:    dedup,
		Resolver: ingest.NewS3Resolver(nil, 0, logger),
		Health:   map[string]HealthChecker{"sqlite": db, "redis": dedup},
	}, testConfig(), logger)
	t.Cleanup(func() { _ = a.Stop(context.Background()) })

	return &testEnv{api: a, runs: runs, dedup: dedup, redis: mr}
}

func doJSON(t *testing.T, a *API, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var payload []byte
	switch b := body.(type) {
	case nil:
	case string:
		payload = []byte(b)
	default:
		var err error
		payload, err = json.Marshal(b)
		require.NoError(t, err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	a.Handler().ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), dst), rr.Body.String())
}

const ruleMatchOutput = `{
	"input_id": "t1",
	"match": {"alert_type": "RULE", "detection_id": "AWS.Root.Login", "dedup_string": "123456789012", "dedup_period_mins": 15},
	"details": {
		"primary_functions": {"detection": {"output": true, "error": null}},
		"aux_functions": {"title": {"defined": true, "output": "Root login", "error": null}}
	}
}`

func TestPrefilter(t *testing.T) {
	env := setupTestAPI(t)

	rr := doJSON(t, env.api, "POST", "/api/v1/prefilter", `{
		"snippet": {"id": "aws-root", "type": "snippet", "when": {"key": "userType", "condition": "Equals", "value": "Root"}},
		"events": [
			{"userType": "Root"},
			{"userType": "IAMUser"},
			{}
		]
	}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var resp PrefilterResponse
	decodeBody(t, rr, &resp)
	assert.Equal(t, "aws-root", resp.SnippetID)
	assert.Equal(t, []bool{true, false, false}, resp.Results)
	assert.Equal(t, 1, resp.Passed)
	assert.Equal(t, 1, env.api.deps.Snippets.Len())
}

func TestPrefilter_BadRequests(t *testing.T) {
	env := setupTestAPI(t)

	tests := []struct {
		name string
		body string
		want int
	}{
		{name: "snippet without id", body: `{"snippet": {"type": "snippet"}, "events": []}`, want: http.StatusBadRequest},
		{name: "missing snippet", body: `{"events": []}`, want: http.StatusBadRequest},
		{name: "unknown field", body: `{"snippet": {"id": "x", "type": "y"}, "events": [], "extra": 1}`, want: http.StatusBadRequest},
		{name: "syntax error", body: `{"snippet": `, want: http.StatusBadRequest},
		{name: "empty body", body: ``, want: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := doJSON(t, env.api, "POST", "/api/v1/prefilter", tt.body)
			assert.Equal(t, tt.want, rr.Code, rr.Body.String())

			var resp ErrorResponse
			decodeBody(t, rr, &resp)
			assert.NotEmpty(t, resp.Error)
		})
	}
}

func TestPrefilter_BodyTooLarge(t *testing.T) {
	env := setupTestAPI(t)
	env.api.config.API.MaxBodyBytes = 64

	rr := doJSON(t, env.api, "POST", "/api/v1/prefilter", `{"snippet": {"id": "x", "type": "y"}, "events": [`+strings.Repeat(`{},`, 100)+`{}]}`)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
}

func TestInterpret(t *testing.T) {
	env := setupTestAPI(t)

	rr := doJSON(t, env.api, "POST", "/api/v1/interpret", `{
		"detection_kind": "rule",
		"spec": {"id": "t1", "name": "root login", "expectations": {"detection": true}},
		"output": `+ruleMatchOutput+`
	}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var result core.TestResult
	decodeBody(t, rr, &result)
	assert.Equal(t, "t1", result.ID)
	assert.Equal(t, "AWS.Root.Login", result.DetectionID)
	assert.True(t, result.Passed)
	assert.False(t, result.Errored)
	assert.True(t, result.TriggerAlert)
	require.NotNil(t, result.Functions.DetectionFunction)
	require.NotNil(t, result.Functions.TitleFunction)
	assert.Equal(t, "Root login", *result.Functions.TitleFunction.Output)
}

func TestInterpret_Validation(t *testing.T) {
	env := setupTestAPI(t)

	rr := doJSON(t, env.api, "POST", "/api/v1/interpret", `{"detection_kind": "correlation", "spec": {"id": "t1", "name": "n"}, "output": {"input_id": "t1"}}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = doJSON(t, env.api, "POST", "/api/v1/interpret", `{"detection_kind": "rule", "spec": {"name": "n"}, "output": {"input_id": "t1"}}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "ID")
}

func TestInterpretBatch_StoresRun(t *testing.T) {
	env := setupTestAPI(t)

	passing := json.RawMessage(ruleMatchOutput)
	failing := json.RawMessage(`{"input_id": "t2", "match": null, "details": {"primary_functions": {"detection": {"output": false}}}}`)
	errored := json.RawMessage(`{"input_id": "t3", "match": null, "details": {"input_exception": "KeyError: 'p_log_type'"}}`)

	body := map[string]interface{}{
		"detection_kind": "RULE",
		"cases": []map[string]interface{}{
			{"spec": map[string]interface{}{"id": "t1", "name": "match", "expectations": map[string]bool{"detection": true}}, "output": passing},
			{"spec": map[string]interface{}{"id": "t2", "name": "no match", "expectations": map[string]bool{"detection": true}}, "output": failing},
			{"spec": map[string]interface{}{"id": "t3", "name": "bad event", "expectations": map[string]bool{"detection": false}}, "output": errored},
		},
	}
	rr := doJSON(t, env.api, "POST", "/api/v1/interpret/batch", body)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var resp BatchInterpretResponse
	decodeBody(t, rr, &resp)
	assert.True(t, resp.Stored)
	assert.Equal(t, 1, resp.Passed)
	assert.Equal(t, 1, resp.Failed)
	assert.Equal(t, 1, resp.Errored)
	require.Len(t, resp.Results, 3)
	assert.Equal(t, []string{"t1", "t2", "t3"}, []string{resp.Results[0].ID, resp.Results[1].ID, resp.Results[2].ID})

	rr = doJSON(t, env.api, "GET", "/api/v1/runs/"+resp.RunID, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var run storage.TestRun
	decodeBody(t, rr, &run)
	assert.Equal(t, resp.RunID, run.ID)
	assert.Equal(t, core.KindRule, run.Kind)
	assert.Len(t, run.Results, 3)

	rr = doJSON(t, env.api, "GET", "/api/v1/runs?limit=10", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var runs []storage.TestRunSummary
	decodeBody(t, rr, &runs)
	require.Len(t, runs, 1)
	assert.Equal(t, 3, runs[0].Total)
}

func TestInterpretBatch_RejectsEmpty(t *testing.T) {
	env := setupTestAPI(t)

	rr := doJSON(t, env.api, "POST", "/api/v1/interpret/batch", `{"detection_kind": "policy", "cases": []}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestGetRun_Errors(t *testing.T) {
	env := setupTestAPI(t)

	rr := doJSON(t, env.api, "GET", "/api/v1/runs/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = doJSON(t, env.api, "GET", "/api/v1/runs/0b6c7c36-9a4a-4d0e-9a65-0d0c1f0b8a11", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = doJSON(t, env.api, "GET", "/api/v1/runs?limit=0", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestRuns_StorageDisabled(t *testing.T) {
	env := setupTestAPI(t)
	env.api.deps.Runs = nil

	rr := doJSON(t, env.api, "GET", "/api/v1/runs", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestDecideAlert_Dedup(t *testing.T) {
	env := setupTestAPI(t)
	body := `{"output": ` + ruleMatchOutput + `}`

	rr := doJSON(t, env.api, "POST", "/api/v1/alerts/decide", body)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var first AlertDecisionResponse
	decodeBody(t, rr, &first)
	assert.True(t, first.TriggerAlert)
	assert.Equal(t, "AWS.Root.Login:123456789012", first.DedupKey)
	assert.Equal(t, 15, first.DedupPeriodMins)
	var raw map[string]any
	decodeBody(t, rr, &raw)
	assert.Equal(t, float64(15), raw["dedup_period_mins"], "period is reported in minutes")
	assert.True(t, first.DedupChecked)
	assert.False(t, first.Suppressed)

	rr = doJSON(t, env.api, "POST", "/api/v1/alerts/decide", body)
	var second AlertDecisionResponse
	decodeBody(t, rr, &second)
	assert.True(t, second.Suppressed)

	env.redis.FastForward(16 * time.Minute)
	rr = doJSON(t, env.api, "POST", "/api/v1/alerts/decide", body)
	var third AlertDecisionResponse
	decodeBody(t, rr, &third)
	assert.False(t, third.Suppressed)
}

func TestDecideAlert_NoMatch(t *testing.T) {
	env := setupTestAPI(t)

	rr := doJSON(t, env.api, "POST", "/api/v1/alerts/decide", `{"output": {"input_id": "r1", "match": null, "details": {}}}`)
	require.Equal(t, http.StatusOK, rr.Code)
	var resp AlertDecisionResponse
	decodeBody(t, rr, &resp)
	assert.False(t, resp.TriggerAlert)
	assert.False(t, resp.DedupChecked)
}

type failingSuppressor struct{}

func (failingSuppressor) ShouldSuppress(context.Context, string, time.Duration) (bool, error) {
	return false, errors.New("connection refused")
}

func TestDecideAlert_DedupFailureEmits(t *testing.T) {
	env := setupTestAPI(t)
	env.api.deps.Dedup = failingSuppressor{}

	rr := doJSON(t, env.api, "POST", "/api/v1/alerts/decide", `{"output": `+ruleMatchOutput+`}`)
	require.Equal(t, http.StatusOK, rr.Code)
	var resp AlertDecisionResponse
	decodeBody(t, rr, &resp)
	assert.True(t, resp.TriggerAlert)
	assert.False(t, resp.DedupChecked)
	assert.False(t, resp.Suppressed)
}

func TestResolveResult(t *testing.T) {
	env := setupTestAPI(t)

	rr := doJSON(t, env.api, "POST", "/api/v1/results/resolve", `{"output_mode": "INLINE", "url": null, "data": [`+ruleMatchOutput+`]}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var resp ResolveResponse
	decodeBody(t, rr, &resp)
	assert.Equal(t, core.ModeInline, resp.OutputMode)
	require.Len(t, resp.Outputs, 1)
	assert.Equal(t, "t1", resp.Outputs[0].InputID)

	rr = doJSON(t, env.api, "POST", "/api/v1/results/resolve", `{"output_mode": "NONE", "url": null, "data": null}`)
	require.Equal(t, http.StatusOK, rr.Code)
	decodeBody(t, rr, &resp)
	assert.Empty(t, resp.Outputs)
}

func TestResolveResult_Msgpack(t *testing.T) {
	env := setupTestAPI(t)

	var out core.ExecutionOutput
	require.NoError(t, json.Unmarshal([]byte(ruleMatchOutput), &out))
	payload, err := ingest.EncodeResult(&core.ExecutionResult{OutputMode: core.ModeInline, Data: []core.ExecutionOutput{out}}, ingest.CodecMsgpack)
	require.NoError(t, err)

	req := httptest.NewRequest("POST", "/api/v1/results/resolve", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/msgpack")
	rr := httptest.NewRecorder()
	env.api.Handler().ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var resp ResolveResponse
	decodeBody(t, rr, &resp)
	require.Len(t, resp.Outputs, 1)
	assert.Equal(t, "AWS.Root.Login", resp.Outputs[0].Match.DetectionID)
}

func TestResolveResult_Invalid(t *testing.T) {
	env := setupTestAPI(t)

	tests := []struct {
		name string
		body string
		want int
	}{
		{name: "unknown mode", body: `{"output_mode": "FTP", "data": null}`, want: http.StatusBadRequest},
		{name: "schema violation", body: `{"output_mode": "INLINE", "data": [{"input_id": 7}]}`, want: http.StatusBadRequest},
		{name: "s3 without client", body: `{"output_mode": "S3", "url": "s3://bucket/key.json", "data": null}`, want: http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := doJSON(t, env.api, "POST", "/api/v1/results/resolve", tt.body)
			assert.Equal(t, tt.want, rr.Code, rr.Body.String())
		})
	}
}

func TestHealthCheck(t *testing.T) {
	env := setupTestAPI(t)

	rr := doJSON(t, env.api, "GET", "/health", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var raw map[string]any
	decodeBody(t, rr, &raw)
	assert.Contains(t, raw, "snippets")
	assert.Contains(t, raw, "components")

	var resp HealthResponse
	decodeBody(t, rr, &resp)
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "healthy", resp.Components["redis"])
	assert.Equal(t, "healthy", resp.Components["sqlite"])

	env.redis.Close()
	rr = doJSON(t, env.api, "GET", "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	decodeBody(t, rr, &resp)
	assert.Equal(t, "degraded", resp.Status)
	assert.Equal(t, "unhealthy", resp.Components["redis"])
}

func TestMetricsEndpoint(t *testing.T) {
	env := setupTestAPI(t)
	doJSON(t, env.api, "GET", "/health", nil)

	rr := doJSON(t, env.api, "GET", "/metrics", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "gatekeeper_http_request_duration_seconds")
}

func TestLoadedSnippets(t *testing.T) {
	env := setupTestAPI(t)
	snippet, err := detect.NewSnippet(map[string]any{
		"id":   "console-login",
		"type": "prefilter",
		"when": map[string]any{"key": "eventName", "condition": "Equals", "value": "ConsoleLogin"},
	})
	require.NoError(t, err)
	env.api.deps.Loaded = detect.IndexSnippets([]*detect.Snippet{snippet})

	rr := doJSON(t, env.api, "GET", "/api/v1/snippets", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var summaries []SnippetSummary
	decodeBody(t, rr, &summaries)
	assert.Equal(t, []SnippetSummary{{ID: "console-login", Type: "prefilter"}}, summaries)

	rr = doJSON(t, env.api, "POST", "/api/v1/snippets/console-login/prefilter", `{"events": [{"eventName": "ConsoleLogin"}, {"eventName": "GetObject"}]}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var resp PrefilterResponse
	decodeBody(t, rr, &resp)
	assert.Equal(t, []bool{true, false}, resp.Results)

	rr = doJSON(t, env.api, "POST", "/api/v1/snippets/missing/prefilter", `{"events": []}`)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestStop_ReleasesCleanupGoroutine(t *testing.T) {
	snapshot := goroutine.TakeSnapshot()
	a := NewAPI(Dependencies{}, testConfig(), zaptest.NewLogger(t).Sugar())

	require.NoError(t, a.Stop(context.Background()))
	snapshot.AssertNoLeak(t, 2*time.Second)

	assert.ErrorIs(t, a.Start("127.0.0.1:0"), http.ErrServerClosed, "a stopped API cannot be restarted")
}
