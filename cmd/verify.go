package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gatekeeper/bootstrap"
	"gatekeeper/core"
	"gatekeeper/detect"
	"gatekeeper/storage"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// MissingOutputMessage is reported for a test with no execution record
const MissingOutputMessage = "no execution output for test"

// VerifyReport is the --json output of verify
type VerifyReport struct {
	RunID   string              `json:"run_id"`
	Kind    core.DetectionKind  `json:"detection_kind"`
	Stored  bool                `json:"stored"`
	Summary detect.BatchSummary `json:"summary"`
	Results []core.TestResult   `json:"results"`
}

// newVerifyCmd creates the 'verify' subcommand
func newVerifyCmd(opts *rootOptions) *cobra.Command {
	var (
		kindName     string
		testsPath    string
		resultsPath  string
		store        bool
		showProgress bool
	)

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Interpret execution results against a detection's unit tests",
		Long: `Interpret each unit test against the execution record whose input_id equals the
test id. Results may be an execution result envelope (INLINE, NONE or S3 output mode)
or a bare list of execution outputs, as JSON, JSON lines or msgpack.

Exits non-zero when any test fails or errors.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := core.ParseDetectionKind(kindName)
			if err != nil {
				return err
			}

			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			logger := zap.NewNop().Sugar()

			ctx, cancel := context.WithTimeout(cmd.Context(), defaultTimeout)
			defer cancel()

			specs, err := detect.LoadTestSpecifications(testsPath, logger)
			if err != nil {
				return err
			}

			resolver := bootstrap.InitResolver(cfg, logger)
			outputs, err := loadExecutionOutputs(ctx, resultsPath, cfg.Ingest.MaxPayloadBytes, resolver)
			if err != nil {
				return err
			}

			var s *spinner.Spinner
			if showProgress && !opts.outputJSON && !opts.quiet {
				s = spinner.New(spinner.CharSets[14], 100*time.Millisecond)
				s.Writer = cmd.ErrOrStderr()
				s.Suffix = fmt.Sprintf(" Interpreting %d tests...", len(specs))
				s.Start()
			}

			batch := detect.NewBatchInterpreter(cfg.Batch.Workers, logger)
			results, err := interpretTests(ctx, batch, kind, specs, outputs)

			if s != nil {
				s.Stop()
			}
			if err != nil {
				return err
			}

			run := storage.NewTestRun(kind, results)
			report := VerifyReport{
				RunID:   run.ID,
				Kind:    kind,
				Summary: detect.Summarize(results),
				Results: results,
			}

			if store {
				if err := saveRun(ctx, cfg.Storage.SQLite.Path, run, logger); err != nil {
					return err
				}
				report.Stored = true
			}

			out := cmd.OutOrStdout()
			if opts.outputJSON {
				if err := outputAsJSON(out, report); err != nil {
					return err
				}
			} else {
				renderVerifyReport(out, report, opts.quiet)
			}

			if report.Summary.Failed > 0 || report.Summary.Errored > 0 {
				return ErrTestsFailed
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&kindName, "kind", "rule", "Detection kind: rule, scheduled_rule or policy")
	cmd.Flags().StringVar(&testsPath, "tests", "", "Unit tests file (YAML or JSON)")
	cmd.Flags().StringVar(&resultsPath, "results", "", "Execution results file")
	cmd.Flags().BoolVar(&store, "store", false, "Save the run to storage.sqlite.path")
	cmd.Flags().BoolVar(&showProgress, "progress", true, "Show progress indicator")
	_ = cmd.MarkFlagRequired("tests")
	_ = cmd.MarkFlagRequired("results")

	return cmd
}

// interpretTests pairs each test with the output whose input_id matches its id, in test order.
// A test without an output becomes an errored result instead of being skipped.
func interpretTests(ctx context.Context, batch *detect.BatchInterpreter, kind core.DetectionKind, specs []core.TestSpecification, outputs []core.ExecutionOutput) ([]core.TestResult, error) {
	byID := make(map[string]core.ExecutionOutput, len(outputs))
	for _, out := range outputs {
		byID[out.InputID] = out
	}

	results := make([]core.TestResult, len(specs))
	cases := make([]detect.TestCase, 0, len(specs))
	positions := make([]int, 0, len(specs))
	for i, spec := range specs {
		out, ok := byID[spec.ID]
		if !ok {
			results[i] = missingOutputResult(spec)
			continue
		}
		cases = append(cases, detect.TestCase{Spec: spec, Output: out})
		positions = append(positions, i)
	}

	interpreted, err := batch.Interpret(ctx, kind, cases)
	if err != nil {
		return nil, fmt.Errorf("interpretation interrupted: %w", err)
	}
	for j, result := range interpreted {
		results[positions[j]] = result
	}
	return results, nil
}

func missingOutputResult(spec core.TestSpecification) core.TestResult {
	message := MissingOutputMessage
	return core.TestResult{
		ID:           spec.ID,
		Name:         spec.Name,
		GenericError: &message,
		Error:        &core.TestError{Message: message},
		Errored:      true,
	}
}

func saveRun(ctx context.Context, path string, run *storage.TestRun, logger *zap.SugaredLogger) error {
	if path == "" {
		return errors.New("--store requires storage.sqlite.path")
	}
	sqlite, err := storage.NewSQLite(path, logger)
	if err != nil {
		return fmt.Errorf("failed to open run storage: %w", err)
	}
	defer sqlite.Close()

	if err := storage.NewSQLiteTestResultStorage(sqlite, logger).SaveRun(ctx, run); err != nil {
		return fmt.Errorf("failed to store run: %w", err)
	}
	return nil
}
