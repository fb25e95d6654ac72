package detect

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"gatekeeper/core"
	"gatekeeper/metrics"
	"gatekeeper/util/goroutine"

	"go.uber.org/zap"
)

// TestCase pairs a unit test with the execution record produced for it
type TestCase struct {
	Spec   core.TestSpecification `json:"spec"`
	Output core.ExecutionOutput   `json:"output"`
}

// BatchSummary counts verdicts in a batch
type BatchSummary struct {
	Passed  int `json:"passed"`
	Failed  int `json:"failed"`
	Errored int `json:"errored"`
}

// Summarize counts results by status
func Summarize(results []core.TestResult) BatchSummary {
	var s BatchSummary
	for _, r := range results {
		switch r.Status() {
		case "PASS":
			s.Passed++
		case "ERROR":
			s.Errored++
		default:
			s.Failed++
		}
	}
	return s
}

// BatchInterpreter interprets many test cases on a bounded worker pool
type BatchInterpreter struct {
	workers int
	logger  *zap.SugaredLogger

	// evaluate is swapped in tests to exercise panic recovery
	evaluate func(core.DetectionKind, TestCase) (core.TestResult, EvaluationState)
}

// NewBatchInterpreter creates an interpreter with the given pool size; non-positive uses GOMAXPROCS
func NewBatchInterpreter(workers int, logger *zap.SugaredLogger) *BatchInterpreter {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &BatchInterpreter{workers: workers, logger: logger, evaluate: evaluateCase}
}

func evaluateCase(kind core.DetectionKind, tc TestCase) (core.TestResult, EvaluationState) {
	evaluator := ForKind(kind, tc.Spec, tc.Output)
	return evaluator.Interpret(), evaluator.State()
}

// Workers returns the pool size
func (b *BatchInterpreter) Workers() int {
	return b.workers
}

type batchJob struct {
	index int
	tc    TestCase
}

// Interpret returns one result per case, in input order. A panicking case becomes an
// errored result. When ctx is cancelled no further cases are dispatched and ctx.Err()
// is returned together with the results computed so far.
func (b *BatchInterpreter) Interpret(ctx context.Context, kind core.DetectionKind, cases []TestCase) ([]core.TestResult, error) {
	start := time.Now()
	defer func() {
		metrics.RecordBatchDuration(time.Since(start).Seconds())
	}()

	results := make([]core.TestResult, len(cases))
	if len(cases) == 0 {
		return results, nil
	}

	workers := b.workers
	if workers > len(cases) {
		workers = len(cases)
	}

	jobs := make(chan batchJob)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			defer goroutine.Recover(fmt.Sprintf("batch-interpreter-%d", id), b.logger)
			for job := range jobs {
				results[job.index] = b.interpretOne(kind, job.tc)
			}
		}(w)
	}

	var dispatchErr error
dispatch:
	for i, tc := range cases {
		select {
		case <-ctx.Done():
			dispatchErr = ctx.Err()
			break dispatch
		case jobs <- batchJob{index: i, tc: tc}:
		}
	}
	close(jobs)
	wg.Wait()

	if dispatchErr != nil {
		b.logger.Warnw("Batch interpretation cancelled",
			"kind", kind,
			"cases", len(cases),
			"error", dispatchErr)
	}
	return results, dispatchErr
}

// interpretOne shields the pool from a panic in a single case
func (b *BatchInterpreter) interpretOne(kind core.DetectionKind, tc TestCase) (result core.TestResult) {
	defer goroutine.RecoverWith("interpret-"+tc.Spec.ID, b.logger, func(r any) {
		metrics.RecordInterpreterPanic()
		result = panicResult(tc.Spec, r)
	})

	var state EvaluationState
	result, state = b.evaluate(kind, tc)
	metrics.RecordInterpretation(string(kind), string(state), result.Status())
	return result
}

func panicResult(spec core.TestSpecification, r any) core.TestResult {
	message := fmt.Sprintf("internal error interpreting test: %v", r)
	return core.TestResult{
		ID:           spec.ID,
		Name:         spec.Name,
		GenericError: &message,
		Error:        &core.TestError{Message: message},
		Errored:      true,
		Passed:       false,
		TriggerAlert: false,
	}
}
