package orchestrator

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/fyrsmithlabs/genforge/internal/artifacts"
	"github.com/fyrsmithlabs/genforge/internal/logging"
	"github.com/fyrsmithlabs/genforge/internal/manifest"
	"github.com/fyrsmithlabs/genforge/internal/sandbox"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ExecutionReportFile is written next to the implementation file.
const ExecutionReportFile = "execution_result.txt"

// Fixer revises code using feedback. StageExecutor implements it.
type Fixer interface {
	Fix(ctx context.Context, code, feedback string) (string, error)
}

// ExecutionLoop runs the implementation and its tests once and, on failure,
// requests a single fix. The sandbox is not re-run after the fix; the next
// outer iteration does that.
type ExecutionLoop struct {
	fixer    Fixer
	sandbox  Sandbox
	judge    ExecutionJudge
	failures FailureRecorder
	logger   *logging.Logger
	inst     *instruments
}

// NewExecutionLoop creates an ExecutionLoop. A nil judge uses
// FailureSubstringJudge; failures may be nil.
func NewExecutionLoop(f Fixer, sb Sandbox, judge ExecutionJudge, failures FailureRecorder, logger *logging.Logger) *ExecutionLoop {
	if judge == nil {
		judge = FailureSubstringJudge{}
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &ExecutionLoop{fixer: f, sandbox: sb, judge: judge, failures: failures, logger: logger}
}

// Run executes the manifest's implementation and test files. attempt is the
// outer iteration number, used for the failure log.
func (l *ExecutionLoop) Run(ctx context.Context, m manifest.Manifest, code string, attempt int) (ExecutionOutcome, error) {
	ctx = logging.WithStage(ctx, string(StageExecute))
	out := ExecutionOutcome{Ran: true, Code: code}

	runReport := l.execute(ctx, m.Implementation(), false)
	testReport := l.execute(ctx, m.Test(), true)
	out.Report = runReport + "\n\n" + testReport

	reportPath := filepath.Join(filepath.Dir(m.Implementation()), ExecutionReportFile)
	if err := artifacts.WriteFile(reportPath, out.Report); err != nil {
		return out, &StageError{Stage: StageExecute, Err: fmt.Errorf("write %s: %w", reportPath, err)}
	}

	if l.judge.Passed(out.Report) {
		out.Passed = true
		l.logger.Info(ctx, "execution passed", zap.Int("attempt", attempt))
		if attempt > 1 && l.failures != nil {
			if err := l.failures.RecordSuccess(m.Implementation(), m.Test(), attempt); err != nil {
				l.logger.Warn(ctx, "failed to append to failure log", zap.Error(err))
			}
		}
		return out, nil
	}

	l.logger.Warn(ctx, "execution failed, requesting fix", zap.Int("attempt", attempt))
	l.logger.Debug(ctx, "execution report", zap.String("report", out.Report))
	if l.failures != nil {
		err := l.failures.Record(sandbox.FailureEntry{
			CodeFile: m.Implementation(),
			TestFile: m.Test(),
			Attempt:  attempt,
			Output:   out.Report,
		})
		if err != nil {
			l.logger.Warn(ctx, "failed to append to failure log", zap.Error(err))
		}
	}

	fixed, err := l.fixer.Fix(ctx, code, out.Report)
	if err != nil {
		return out, err
	}
	out.Fixes = 1
	l.inst.recordFix(ctx, "execution")

	if strings.TrimSpace(fixed) == "" {
		l.logger.Warn(ctx, "fix returned no code, keeping previous version")
		return out, nil
	}
	out.Code = fixed
	out.Changed = fixed != code
	return out, nil
}

func (l *ExecutionLoop) execute(ctx context.Context, path string, isTest bool) string {
	ctx, span := l.inst.start(ctx, "orchestrator.sandbox",
		attribute.String("path", path),
		attribute.Bool("test", isTest))
	defer span.End()

	report := l.sandbox.Execute(ctx, path, isTest)
	l.logger.Debug(ctx, "sandbox report", zap.String("path", path), zap.Bool("test", isTest), zap.String("report", report))
	return report
}
