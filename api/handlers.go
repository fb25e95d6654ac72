package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sort"
	"strconv"
	"time"

	"gatekeeper/core"
	"gatekeeper/detect"
	"gatekeeper/ingest"
	"gatekeeper/metrics"
	"gatekeeper/storage"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

const (
	batchTimeout       = 60 * time.Second
	healthCheckTimeout = 2 * time.Second
	defaultRunsLimit   = 50
	maxRunsLimit       = 500
)

// PrefilterRequest gates a batch of events through one snippet definition
type PrefilterRequest struct {
	Snippet map[string]any   `json:"snippet" validate:"required"`
	Events  []map[string]any `json:"events" validate:"required,max=10000"`
}

// PrefilterResponse carries one gate verdict per event, in request order
type PrefilterResponse struct {
	SnippetID string `json:"snippet_id"`
	Results   []bool `json:"results"`
	Passed    int    `json:"passed"`
}

// InterpretRequest interprets a single execution record against a unit test
type InterpretRequest struct {
	DetectionKind string                 `json:"detection_kind" validate:"required"`
	Spec          core.TestSpecification `json:"spec"`
	Output        core.ExecutionOutput   `json:"output"`
}

// BatchInterpretRequest interprets many test cases of one detection kind
type BatchInterpretRequest struct {
	DetectionKind string            `json:"detection_kind" validate:"required"`
	Cases         []detect.TestCase `json:"cases" validate:"required,min=1,max=10000,dive"`
}

// BatchInterpretResponse is the outcome of a batch, optionally persisted as a run
type BatchInterpretResponse struct {
	RunID   string            `json:"run_id"`
	Results []core.TestResult `json:"results"`
	Passed  int               `json:"passed"`
	Failed  int               `json:"failed"`
	Errored int               `json:"errored"`
	Stored  bool              `json:"stored"`
}

// ResolveResponse lists the execution outputs behind an execution result envelope
type ResolveResponse struct {
	OutputMode core.ExecutionMode     `json:"output_mode"`
	Outputs    []core.ExecutionOutput `json:"outputs"`
}

// AlertDecisionRequest asks whether an execution record must produce an alert
type AlertDecisionRequest struct {
	Output core.ExecutionOutput `json:"output"`
}

// AlertDecisionResponse extends the decision with the dedup window outcome
type AlertDecisionResponse struct {
	detect.AlertDecision
	Suppressed   bool `json:"suppressed"`
	DedupChecked bool `json:"dedup_checked"`
}

func (a *API) prefilter(w http.ResponseWriter, r *http.Request) {
	var req PrefilterRequest
	if err := a.decodeJSONBody(w, r, &req); err != nil {
		return
	}

	snippet, err := a.deps.Snippets.GetOrCompile(req.Snippet)
	if err != nil {
		if errors.Is(err, detect.ErrInvalidSnippet) {
			writeError(w, http.StatusBadRequest, err.Error(), err, a.logger)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to compile snippet", err, a.logger)
		return
	}

	a.respondJSON(w, gate(snippet, req.Events), http.StatusOK)
}

// LoadedPrefilterRequest gates events through a preloaded snippet
type LoadedPrefilterRequest struct {
	Events []map[string]any `json:"events" validate:"required,max=10000"`
}

// SnippetSummary describes a preloaded snippet
type SnippetSummary struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

func (a *API) listSnippets(w http.ResponseWriter, r *http.Request) {
	summaries := make([]SnippetSummary, 0, len(a.deps.Loaded))
	for _, s := range a.deps.Loaded {
		summaries = append(summaries, SnippetSummary{ID: s.ID, Type: s.Type})
	}
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].ID < summaries[j].ID })
	a.respondJSON(w, summaries, http.StatusOK)
}

func (a *API) prefilterLoaded(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	snippet, ok := a.deps.Loaded[id]
	if !ok {
		writeError(w, http.StatusNotFound, "Snippet not found", nil, a.logger)
		return
	}

	var req LoadedPrefilterRequest
	if err := a.decodeJSONBody(w, r, &req); err != nil {
		return
	}
	a.respondJSON(w, gate(snippet, req.Events), http.StatusOK)
}

// gate runs every event through the snippet and records per-event metrics
func gate(snippet *detect.Snippet, events []map[string]any) PrefilterResponse {
	resp := PrefilterResponse{
		SnippetID: snippet.ID,
		Results:   snippet.PrefilterAll(events),
	}
	for _, passed := range resp.Results {
		metrics.RecordPrefilter(snippet.ID, passed)
		if passed {
			resp.Passed++
		}
	}
	return resp
}

func (a *API) interpret(w http.ResponseWriter, r *http.Request) {
	var req InterpretRequest
	if err := a.decodeJSONBody(w, r, &req); err != nil {
		return
	}

	kind, err := core.ParseDetectionKind(req.DetectionKind)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), err, a.logger)
		return
	}

	evaluator := detect.ForKind(kind, req.Spec, req.Output)
	result := evaluator.Interpret()
	metrics.RecordInterpretation(string(kind), string(evaluator.State()), result.Status())
	a.respondJSON(w, result, http.StatusOK)
}

func (a *API) interpretBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchInterpretRequest
	if err := a.decodeJSONBody(w, r, &req); err != nil {
		return
	}

	kind, err := core.ParseDetectionKind(req.DetectionKind)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), err, a.logger)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), batchTimeout)
	defer cancel()

	results, err := a.deps.Batch.Interpret(ctx, kind, req.Cases)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "Batch interpretation did not complete", err, a.logger)
		return
	}

	run := storage.NewTestRun(kind, results)
	resp := BatchInterpretResponse{
		RunID:   run.ID,
		Results: results,
		Passed:  run.Passed,
		Failed:  run.Failed,
		Errored: run.Errored,
	}

	if a.deps.Runs != nil {
		if err := a.deps.Runs.SaveRun(r.Context(), run); err != nil {
			a.logger.Errorw("Failed to store test run",
				"run_id", run.ID,
				"error", err)
		} else {
			resp.Stored = true
		}
	}

	a.logger.Debugw("Batch interpreted",
		"run_id", run.ID,
		"kind", kind,
		"total", run.Total,
		"passed", run.Passed,
		"failed", run.Failed,
		"errored", run.Errored)
	a.respondJSON(w, resp, http.StatusOK)
}

// resolveResult accepts a JSON or msgpack ExecutionResult and returns its outputs,
// fetching them from S3 when the envelope points there
func (a *API) resolveResult(w http.ResponseWriter, r *http.Request) {
	if a.deps.Resolver == nil {
		writeError(w, http.StatusServiceUnavailable, "Result resolution is not configured", nil, a.logger)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, a.config.Ingest.MaxPayloadBytes))
	if err != nil {
		var maxBytesError *http.MaxBytesError
		if errors.As(err, &maxBytesError) {
			writeError(w, http.StatusRequestEntityTooLarge, "Request body too large", err, a.logger)
			return
		}
		writeError(w, http.StatusBadRequest, "Failed to read request body", err, a.logger)
		return
	}

	codec := ingest.CodecForContentType(r.Header.Get("Content-Type"))
	if codec == ingest.CodecJSON {
		var envelope struct {
			Data json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(body, &envelope); err == nil && len(envelope.Data) > 0 && string(envelope.Data) != "null" {
			if err := ingest.ValidateOutputs(envelope.Data); err != nil {
				writeError(w, http.StatusBadRequest, err.Error(), err, a.logger)
				return
			}
		}
	}

	result, err := ingest.DecodeResult(body, codec, a.config.Ingest.MaxPayloadBytes)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), err, a.logger)
		return
	}

	outputs, err := a.deps.Resolver.Resolve(r.Context(), result)
	if err != nil {
		writeError(w, http.StatusBadGateway, "Failed to resolve execution outputs", err, a.logger)
		return
	}
	if outputs == nil {
		outputs = []core.ExecutionOutput{}
	}
	a.respondJSON(w, ResolveResponse{OutputMode: result.OutputMode, Outputs: outputs}, http.StatusOK)
}

func (a *API) decideAlert(w http.ResponseWriter, r *http.Request) {
	var req AlertDecisionRequest
	if err := a.decodeJSONBody(w, r, &req); err != nil {
		return
	}

	resp := AlertDecisionResponse{AlertDecision: detect.DecideAlert(req.Output)}

	// Errors without a match have no dedup key and always alert
	if resp.TriggerAlert && resp.DedupKey != "" && a.deps.Dedup != nil {
		suppressed, err := a.deps.Dedup.ShouldSuppress(r.Context(), resp.DedupKey, resp.DedupPeriod())
		if err != nil {
			// Fail open: a lost dedup check must not lose an alert
			a.logger.Warnw("Dedup check failed, emitting alert",
				"dedup_key", resp.DedupKey,
				"error", err)
		} else {
			resp.DedupChecked = true
			resp.Suppressed = suppressed
		}
	}

	switch {
	case !resp.TriggerAlert:
		metrics.AlertDecisions.WithLabelValues("no_alert").Inc()
	case resp.Suppressed:
		metrics.AlertDecisions.WithLabelValues("suppressed").Inc()
	default:
		metrics.AlertDecisions.WithLabelValues("emitted").Inc()
	}
	a.respondJSON(w, resp, http.StatusOK)
}

func (a *API) listRuns(w http.ResponseWriter, r *http.Request) {
	if a.deps.Runs == nil {
		writeError(w, http.StatusServiceUnavailable, "Test run storage is not enabled", nil, a.logger)
		return
	}

	limit := defaultRunsLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > maxRunsLimit {
			writeError(w, http.StatusBadRequest, "limit must be an integer between 1 and 500", err, a.logger)
			return
		}
		limit = parsed
	}

	runs, err := a.deps.Runs.ListRuns(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list test runs", err, a.logger)
		return
	}
	if runs == nil {
		runs = []storage.TestRunSummary{}
	}
	a.respondJSON(w, runs, http.StatusOK)
}

func (a *API) getRun(w http.ResponseWriter, r *http.Request) {
	if a.deps.Runs == nil {
		writeError(w, http.StatusServiceUnavailable, "Test run storage is not enabled", nil, a.logger)
		return
	}

	id := mux.Vars(r)["id"]
	if _, err := uuid.Parse(id); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid run id", err, a.logger)
		return
	}

	run, err := a.deps.Runs.GetRun(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrResultNotFound) {
			writeError(w, http.StatusNotFound, "Test run not found", err, a.logger)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to load test run", err, a.logger)
		return
	}
	a.respondJSON(w, run, http.StatusOK)
}

// HealthResponse reports overall and per-component health
type HealthResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components,omitempty"`
	Snippets   int               `json:"snippets"`
}

func (a *API) healthCheck(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:     "healthy",
		Components: make(map[string]string, len(a.deps.Health)),
		Snippets:   a.deps.Snippets.Len(),
	}

	for name, checker := range a.deps.Health {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		err := checker.HealthCheck(ctx)
		cancel()
		if err != nil {
			a.logger.Warnw("Health check failed", "component", name, "error", err)
			resp.Components[name] = "unhealthy"
			resp.Status = "degraded"
			continue
		}
		resp.Components[name] = "healthy"
	}

	status := http.StatusOK
	if resp.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}
	a.respondJSON(w, resp, status)
}
