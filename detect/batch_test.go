package detect

import (
	"context"
	"fmt"
	"testing"

	"gatekeeper/core"
	"gatekeeper/util/goroutine"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

func makeCases(n int) []TestCase {
	cases := make([]TestCase, n)
	for i := range cases {
		id := fmt.Sprintf("case-%d", i)
		alert := i%2 == 0
		out := core.ExecutionOutput{InputID: id, Details: primaryDetails(boolPtr(alert), nil)}
		if alert {
			out.Match = &core.ExecutionMatch{AlertType: core.AlertTypeRule, DetectionID: "det"}
		}
		cases[i] = TestCase{
			Spec:   core.TestSpecification{ID: id, Name: id, Expectations: core.TestExpectations{Detection: true}},
			Output: out,
		}
	}
	return cases
}

func TestBatchInterpreter_PreservesOrder(t *testing.T) {
	b := NewBatchInterpreter(4, zaptest.NewLogger(t).Sugar())
	cases := makeCases(25)

	results, err := b.Interpret(context.Background(), core.KindRule, cases)
	require.NoError(t, err)
	require.Len(t, results, len(cases))

	for i, r := range results {
		assert.Equal(t, cases[i].Spec.ID, r.ID)
		assert.Equal(t, i%2 == 0, r.Passed)
	}

	summary := Summarize(results)
	assert.Equal(t, BatchSummary{Passed: 13, Failed: 12}, summary)
}

func TestBatchInterpreter_MatchesSequentialInterpretation(t *testing.T) {
	b := NewBatchInterpreter(3, zap.NewNop().Sugar())
	cases := makeCases(10)

	results, err := b.Interpret(context.Background(), core.KindPolicy, cases)
	require.NoError(t, err)
	for i, tc := range cases {
		assert.Equal(t, ForPolicies(tc.Spec, tc.Output).Interpret(), results[i])
	}
}

func TestBatchInterpreter_Empty(t *testing.T) {
	b := NewBatchInterpreter(0, zap.NewNop().Sugar())
	assert.Greater(t, b.Workers(), 0)

	results, err := b.Interpret(context.Background(), core.KindRule, nil)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestBatchInterpreter_PanicBecomesErroredResult(t *testing.T) {
	obsCore, logs := observer.New(zap.ErrorLevel)
	b := NewBatchInterpreter(2, zap.New(obsCore).Sugar())
	b.evaluate = func(kind core.DetectionKind, tc TestCase) (core.TestResult, EvaluationState) {
		if tc.Spec.ID == "case-1" {
			panic("boom")
		}
		return evaluateCase(kind, tc)
	}

	cases := makeCases(3)
	results, err := b.Interpret(context.Background(), core.KindRule, cases)
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, "case-0", results[0].ID)
	assert.True(t, results[0].Passed)

	assert.Equal(t, "case-1", results[1].ID)
	assert.True(t, results[1].Errored)
	assert.False(t, results[1].Passed)
	require.NotNil(t, results[1].GenericError)
	assert.Contains(t, *results[1].GenericError, "boom")

	assert.Equal(t, "case-2", results[2].ID)

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "Goroutine panic recovered", logs.All()[0].Message)
}

func TestBatchInterpreter_CancelledContext(t *testing.T) {
	goroutine.AssertNoLeaks(t)
	b := NewBatchInterpreter(2, zap.NewNop().Sugar())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results, err := b.Interpret(ctx, core.KindRule, makeCases(50))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, results, 50)
}

func TestBatchInterpreter_WorkersExit(t *testing.T) {
	goroutine.AssertNoLeaks(t)
	b := NewBatchInterpreter(8, zap.NewNop().Sugar())

	results, err := b.Interpret(context.Background(), core.KindRule, makeCases(200))
	require.NoError(t, err)
	assert.Len(t, results, 200)
}
