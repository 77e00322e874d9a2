package orchestrator

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/fyrsmithlabs/genforge/internal/artifacts"
	"github.com/fyrsmithlabs/genforge/internal/extract"
	"github.com/fyrsmithlabs/genforge/internal/generation"
	"github.com/fyrsmithlabs/genforge/internal/logging"
	"github.com/fyrsmithlabs/genforge/internal/sandbox"
	"github.com/fyrsmithlabs/genforge/internal/specvalidator"
	"github.com/fyrsmithlabs/genforge/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	calculatorSpec = "The application must support addition and subtraction."

	calculatorManifest = `{
  "implementation_file": "src/calculator.py",
  "test_file": "tests/test_calculator.py",
  "docs_file": "docs/README.md",
  "interface_file": "src/calculator.idl",
  "run_script": "run.sh"
}`
	calculatorCode = "class Calculator:\n    def add(self, a, b):\n        return a + b\n\n    def subtract(self, a, b):\n        return a - b\n"
	calculatorTest = "from src.calculator import Calculator\n\ndef test_add():\n    assert Calculator().add(2, 3) == 5\n"
)

// pipelineEnv wires a Pipeline against mocks and a real FSStore in temp dirs.
type pipelineEnv struct {
	root   string
	output string
	gen    *MockGenerator
	sb     *MockSandbox
	store  *artifacts.FSStore
	logs   *logging.TestLogger
}

func newPipelineEnv(t *testing.T) *pipelineEnv {
	t.Helper()
	base := t.TempDir()
	env := &pipelineEnv{
		root:   filepath.Join(base, "src"),
		output: filepath.Join(base, "generated_projects"),
		gen:    new(MockGenerator),
		sb:     new(MockSandbox),
		logs:   logging.NewTestLogger(),
	}
	env.store = artifacts.NewFSStore(env.root, env.output, zap.NewNop())
	return env
}

func (e *pipelineEnv) config() Config {
	return Config{ProjectRoot: e.root}
}

func (e *pipelineEnv) pipeline(t *testing.T, opts ...Option) *Pipeline {
	t.Helper()
	opts = append([]Option{WithLogger(e.logs.Logger)}, opts...)
	p, err := New(calculatorSpec, e.gen, e.sb, e.store, e.config(), opts...)
	require.NoError(t, err)
	return p
}

// generateStages scripts every generation stage except review and fix.
func (e *pipelineEnv) generateStages(manifestText string) {
	e.gen.On("Generate", mock.Anything, role(generation.RoleManifest)).Return(extract.FromText(manifestText), nil)
	e.gen.On("Generate", mock.Anything, role(generation.RoleInterface)).Return(extract.FromText(validIDL), nil)
	e.gen.On("Generate", mock.Anything, role(generation.RoleCode)).Return(extract.FromText(calculatorCode), nil)
	e.gen.On("Generate", mock.Anything, role(generation.RoleTest)).Return(extract.FromText(calculatorTest), nil)
	e.gen.On("Generate", mock.Anything, role(generation.RoleDocs)).Return(extract.FromText("# Calculator\n"), nil)
	e.gen.On("Generate", mock.Anything, role(generation.RoleRunScript)).Return(extract.FromText("#!/bin/sh\npython src/calculator.py\n"), nil)
}

func (e *pipelineEnv) sandboxPasses() {
	e.sb.On("Execute", mock.Anything, mock.Anything, false).Return("Output from calculator.py (success):\n")
	e.sb.On("Execute", mock.Anything, mock.Anything, true).Return("Output from test_calculator.py (success):\n1 passed\n")
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestPipeline_Run_HappyPath(t *testing.T) {
	env := newPipelineEnv(t)
	env.generateStages(calculatorManifest)
	env.gen.On("Generate", mock.Anything, role(generation.RoleReview)).Return(extract.FromText("Approved. Clean and complete."), nil)
	env.sandboxPasses()

	res, err := env.pipeline(t).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StatusSucceeded, res.Status)
	assert.Equal(t, 1, res.Iterations)
	assert.Equal(t, ReviewApproved, res.Review.State)
	assert.Equal(t, 1, res.Review.Reviews)
	assert.Zero(t, res.Review.Fixes)
	assert.True(t, res.Execution.Passed)
	assert.Empty(t, res.Violations)
	assert.NotEmpty(t, res.RunID)
	env.gen.AssertNotCalled(t, "Generate", mock.Anything, role(generation.RoleFix))
	env.sb.AssertNumberOfCalls(t, "Execute", 2)

	require.Len(t, res.Files, 7)
	assert.Equal(t, calculatorCode, res.Files[filepath.Join(env.root, "src", "calculator.py")])
	assert.Equal(t, SourceInitContent, res.Files[filepath.Join(env.root, "src", "__init__.py")])
	assert.Equal(t, TestsInitContent, res.Files[filepath.Join(env.root, "tests", "__init__.py")])

	assert.Equal(t, env.output, filepath.Dir(res.Destination))
	assert.Equal(t, calculatorCode, readFile(t, filepath.Join(res.Destination, "src", "calculator.py")))
	assert.Equal(t, calculatorTest, readFile(t, filepath.Join(res.Destination, "tests", "test_calculator.py")))
	assert.Contains(t, readFile(t, filepath.Join(res.Destination, "src", ExecutionReportFile)), "1 passed")
	assert.Contains(t, readFile(t, filepath.Join(res.Destination, artifacts.SummaryFile)), "Generated files:")

	entries, err := os.ReadDir(env.root)
	if err == nil {
		assert.Empty(t, entries, "working tree is emptied after persisting")
	}
	_, err = os.Stat(env.root + ".lock")
	assert.True(t, os.IsNotExist(err), "lock file is released")

	env.logs.AssertLogged(t, zapcore.InfoLevel, "run finished")
	env.logs.AssertField(t, "run finished", "status", "succeeded")
}

func TestPipeline_Run_ReviewRejectedOnce(t *testing.T) {
	env := newPipelineEnv(t)
	env.generateStages(calculatorManifest)
	env.gen.On("Generate", mock.Anything, role(generation.RoleReview)).Return(extract.FromText("Missing input validation."), nil).Once()
	env.gen.On("Generate", mock.Anything, role(generation.RoleReview)).Return(extract.FromText("Approved"), nil).Once()
	fixed := calculatorCode + "\n    def validate(self, x):\n        return float(x)\n"
	env.gen.On("Generate", mock.Anything, mock.MatchedBy(func(r generation.Request) bool {
		return r.Role == generation.RoleFix && r.Feedback == "Missing input validation." && r.Code == calculatorCode
	})).Return(extract.FromText(fixed), nil).Once()

	var executed []string
	env.sb.On("Execute", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			if !args.Bool(2) {
				executed = append(executed, readFile(t, args.String(1)))
			}
		}).
		Return("Output (success):\nok\n")

	res, err := env.pipeline(t).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StatusSucceeded, res.Status)
	assert.Equal(t, ReviewApproved, res.Review.State)
	assert.Equal(t, 2, res.Review.Reviews)
	assert.Equal(t, 1, res.Review.Fixes)
	env.gen.AssertExpectations(t)

	require.Len(t, executed, 1)
	assert.Equal(t, fixed, executed[0], "sandbox runs the reviewed code")
	assert.Equal(t, fixed, readFile(t, filepath.Join(res.Destination, "src", "calculator.py")))
}

func TestPipeline_Run_ReviewNeverApproves(t *testing.T) {
	env := newPipelineEnv(t)
	env.generateStages(calculatorManifest)
	env.gen.On("Generate", mock.Anything, role(generation.RoleReview)).Return(extract.FromText("Still wrong."), nil)
	env.gen.On("Generate", mock.Anything, role(generation.RoleFix)).Return(extract.FromText(calculatorCode+"# v2\n"), nil)
	env.sandboxPasses()

	res, err := env.pipeline(t).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StatusDegraded, res.Status)
	assert.Equal(t, ReviewExhausted, res.Review.State)
	assert.Equal(t, DefaultMaxReviewIterations, res.Review.Reviews)
	assert.NotEmpty(t, res.Destination, "degraded runs are still persisted")
}

func TestPipeline_Run_UnusableManifestUsesDefaults(t *testing.T) {
	env := newPipelineEnv(t)
	env.generateStages("Sure! Here is the layout you asked for.")
	env.gen.On("Generate", mock.Anything, role(generation.RoleReview)).Return(extract.FromText("Approved"), nil)
	env.sandboxPasses()

	res, err := env.pipeline(t).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(env.root, "src", "app.py"), res.Manifest.Implementation())
	assert.Equal(t, filepath.Join(env.root, "tests", "test_app.py"), res.Manifest.Test())
	assert.Equal(t, filepath.Join(env.root, "docs", "README.md"), res.Manifest.Docs())
	assert.Equal(t, filepath.Join(env.root, "src", "app.idl"), res.Manifest.Interface())
	assert.Equal(t, filepath.Join(env.root, "build_and_run.sh"), res.Manifest.RunScript())
	assert.Equal(t, calculatorCode, readFile(t, filepath.Join(res.Destination, "src", "app.py")))
}

func TestPipeline_Run_ExecutionFailureFixedOnce(t *testing.T) {
	env := newPipelineEnv(t)
	env.generateStages(calculatorManifest)
	env.gen.On("Generate", mock.Anything, role(generation.RoleReview)).Return(extract.FromText("Approved"), nil)
	fixed := strings.Replace(calculatorCode, "a - b", "a - b  # fixed", 1)
	env.gen.On("Generate", mock.Anything, mock.MatchedBy(func(r generation.Request) bool {
		return r.Role == generation.RoleFix && strings.Contains(r.Feedback, "AssertionError")
	})).Return(extract.FromText(fixed), nil).Once()
	env.sb.On("Execute", mock.Anything, mock.Anything, false).Return("Output from calculator.py (success):\n")
	env.sb.On("Execute", mock.Anything, mock.Anything, true).Return("Error (exit code 1) running test_calculator.py:\n\nAssertionError: 1 failed\n")

	failures := new(MockFailureRecorder)
	failures.On("Record", mock.MatchedBy(func(e sandbox.FailureEntry) bool { return e.Attempt == 1 })).Return(nil).Once()

	res, err := env.pipeline(t, WithFailureRecorder(failures)).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StatusDegraded, res.Status)
	assert.False(t, res.Execution.Passed)
	assert.Equal(t, 1, res.Execution.Fixes)
	env.sb.AssertNumberOfCalls(t, "Execute", 2)
	failures.AssertExpectations(t)
	assert.Equal(t, fixed, readFile(t, filepath.Join(res.Destination, "src", "calculator.py")))
	env.logs.AssertLogged(t, zapcore.WarnLevel, "iteration budget exhausted")
}

func TestPipeline_Run_NonExecutableSkipsSandbox(t *testing.T) {
	env := newPipelineEnv(t)
	env.generateStages(`{"implementation_file": "src/app.js", "test_file": "tests/app.test.js"}`)
	env.gen.On("Generate", mock.Anything, role(generation.RoleReview)).Return(extract.FromText("Approved"), nil)

	res, err := env.pipeline(t).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StatusSucceeded, res.Status)
	assert.False(t, res.Execution.Ran)
	env.sb.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything, mock.Anything)
	assert.FileExists(t, filepath.Join(res.Destination, "src", "app.js"))
	env.logs.AssertLogged(t, zapcore.InfoLevel, "skipping execution")
}

func TestPipeline_Run_GenerationErrorAborts(t *testing.T) {
	env := newPipelineEnv(t)
	boom := errors.New("rate limited")
	env.gen.On("Generate", mock.Anything, role(generation.RoleManifest)).Return(extract.FromText(calculatorManifest), nil)
	env.gen.On("Generate", mock.Anything, role(generation.RoleInterface)).Return(extract.FromText(validIDL), nil)
	env.gen.On("Generate", mock.Anything, role(generation.RoleCode)).Return(extract.None(), boom)

	store := new(MockStore)
	p, err := New(calculatorSpec, env.gen, env.sb, store, env.config(), WithLogger(env.logs.Logger))
	require.NoError(t, err)

	res, err := p.Run(context.Background())
	require.Error(t, err)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, boom)

	var se *StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, StageCode, se.Stage)
	assert.Equal(t, "stage code: rate limited", err.Error())

	store.AssertNotCalled(t, "Persist", mock.Anything, mock.Anything)
	env.gen.AssertNotCalled(t, "Generate", mock.Anything, role(generation.RoleTest))
	env.logs.AssertLogged(t, zapcore.ErrorLevel, "run failed")
}

func TestPipeline_Run_StoreErrorFails(t *testing.T) {
	env := newPipelineEnv(t)
	env.generateStages(calculatorManifest)
	env.gen.On("Generate", mock.Anything, role(generation.RoleReview)).Return(extract.FromText("Approved"), nil)
	env.sandboxPasses()

	store := new(MockStore)
	store.On("Persist", mock.Anything, mock.Anything).Return("", errors.New("disk full"))

	p, err := New(calculatorSpec, env.gen, env.sb, store, env.config())
	require.NoError(t, err)

	_, err = p.Run(context.Background())
	var se *StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, StagePersist, se.Stage)
}

func TestPipeline_Run_LockContention(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"live owner", strconv.Itoa(os.Getpid()) + "\n"},
		{"unreadable owner", "not a pid\n"},
		{"empty", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newPipelineEnv(t)
			require.NoError(t, os.WriteFile(env.root+".lock", []byte(tt.content), 0o644))

			_, err := env.pipeline(t).Run(context.Background())
			require.ErrorIs(t, err, ErrRunInProgress)
			env.gen.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)

			assert.Equal(t, tt.content, readFile(t, env.root+".lock"), "a foreign lock is left in place")
		})
	}
}

func TestPipeline_Run_StaleLockIsReplaced(t *testing.T) {
	env := newPipelineEnv(t)
	env.generateStages(calculatorManifest)
	env.gen.On("Generate", mock.Anything, role(generation.RoleReview)).Return(extract.FromText("Approved"), nil)
	env.sandboxPasses()
	require.NoError(t, os.WriteFile(env.root+".lock", []byte(strconv.Itoa(math.MaxInt32)+"\n"), 0o644))

	res, err := env.pipeline(t).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StatusSucceeded, res.Status)
	env.logs.AssertLogged(t, zapcore.WarnLevel, "removing stale lock file")
	_, err = os.Stat(env.root + ".lock")
	assert.True(t, os.IsNotExist(err), "lock file is released")
}

func TestPipeline_Run_AbortedRunLeavesNothingBehind(t *testing.T) {
	env := newPipelineEnv(t)
	staleManifest := `{
  "implementation_file": "src/calculator.py",
  "test_file": "tests/test_calculator.py",
  "interface_file": "old/STALE.idl"
}`
	env.gen.On("Generate", mock.Anything, role(generation.RoleManifest)).Return(extract.FromText(staleManifest), nil)
	env.gen.On("Generate", mock.Anything, role(generation.RoleInterface)).Return(extract.FromText(validIDL), nil)
	env.gen.On("Generate", mock.Anything, role(generation.RoleCode)).Return(extract.None(), errors.New("upstream timeout"))

	_, err := env.pipeline(t).Run(context.Background())
	require.Error(t, err)
	assert.NoFileExists(t, filepath.Join(env.root, "old", "STALE.idl"), "failed runs clear their working tree")

	env.gen = new(MockGenerator)
	env.generateStages(calculatorManifest)
	env.gen.On("Generate", mock.Anything, role(generation.RoleReview)).Return(extract.FromText("Approved"), nil)
	env.sandboxPasses()

	res, err := env.pipeline(t).Run(context.Background())
	require.NoError(t, err)

	require.Len(t, res.Files, 7)
	assert.NotContains(t, res.Files, filepath.Join(env.root, "old", "STALE.idl"))
	assert.NoFileExists(t, filepath.Join(res.Destination, "old", "STALE.idl"))
	assert.NoDirExists(t, filepath.Join(res.Destination, "old"))
}

func TestPipeline_Run_SweepsLeftoverWorkingTree(t *testing.T) {
	env := newPipelineEnv(t)
	env.generateStages(calculatorManifest)
	env.gen.On("Generate", mock.Anything, role(generation.RoleReview)).Return(extract.FromText("Approved"), nil)
	env.sandboxPasses()

	leftover := filepath.Join(env.root, "scratch", "notes.txt")
	require.NoError(t, os.MkdirAll(filepath.Dir(leftover), 0o755))
	require.NoError(t, os.WriteFile(leftover, []byte("from a killed run"), 0o644))

	res, err := env.pipeline(t).Run(context.Background())
	require.NoError(t, err)

	assert.NoFileExists(t, filepath.Join(res.Destination, "scratch", "notes.txt"))
	assert.NoFileExists(t, leftover)
	env.logs.AssertLogged(t, zapcore.InfoLevel, "cleared working tree")
	env.logs.AssertField(t, "cleared working tree", "entries", int64(1))
}

func TestNew_RejectsUnsafeProjectRoot(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)

	tests := []struct {
		name string
		root string
	}{
		{"filesystem root", string(filepath.Separator)},
		{"working directory", "."},
		{"parent of working directory", ".."},
		{"absolute working directory", wd},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := New(calculatorSpec, new(MockGenerator), new(MockSandbox), new(MockStore), Config{ProjectRoot: tt.root})
			require.Error(t, err)
			assert.Nil(t, p)
		})
	}

	_, err = New(calculatorSpec, new(MockGenerator), new(MockSandbox), new(MockStore), Config{ProjectRoot: "src"})
	assert.NoError(t, err, "a subdirectory of the working directory is allowed")
}

func TestPipeline_Run_OuterLoopRetriesUntilPass(t *testing.T) {
	env := newPipelineEnv(t)
	env.gen.On("Generate", mock.Anything, role(generation.RoleManifest)).Return(extract.FromText(calculatorManifest), nil).Once()
	env.gen.On("Generate", mock.Anything, role(generation.RoleInterface)).Return(extract.FromText(validIDL), nil).Twice()
	env.gen.On("Generate", mock.Anything, role(generation.RoleCode)).Return(extract.FromText(calculatorCode), nil).Twice()
	env.gen.On("Generate", mock.Anything, role(generation.RoleTest)).Return(extract.FromText(calculatorTest), nil).Twice()
	env.gen.On("Generate", mock.Anything, role(generation.RoleDocs)).Return(extract.FromText("# Calculator\n"), nil).Twice()
	env.gen.On("Generate", mock.Anything, role(generation.RoleRunScript)).Return(extract.FromText("#!/bin/sh\npython src/calculator.py\n"), nil).Twice()
	env.gen.On("Generate", mock.Anything, role(generation.RoleReview)).Return(extract.FromText("Approved"), nil).Twice()
	env.gen.On("Generate", mock.Anything, role(generation.RoleFix)).Return(extract.FromText(calculatorCode+"# fixed\n"), nil).Once()

	env.sb.On("Execute", mock.Anything, mock.Anything, false).Return("Output from calculator.py (success):\n")
	env.sb.On("Execute", mock.Anything, mock.Anything, true).Return("Error (exit code 1) running test_calculator.py:\n\nAssertionError: 1 failed\n").Once()
	env.sb.On("Execute", mock.Anything, mock.Anything, true).Return("Output from test_calculator.py (success):\n1 passed\n").Once()

	p, err := New(calculatorSpec, env.gen, env.sb, env.store,
		Config{ProjectRoot: env.root, MaxIterations: 3}, WithLogger(env.logs.Logger))
	require.NoError(t, err)

	res, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StatusSucceeded, res.Status)
	assert.Equal(t, 2, res.Iterations)
	assert.True(t, res.Execution.Passed)
	env.sb.AssertNumberOfCalls(t, "Execute", 4)
	env.gen.AssertExpectations(t)
	env.logs.AssertNotLogged(t, zapcore.WarnLevel, "iteration budget exhausted without a passing execution")
	assert.Equal(t, calculatorCode, readFile(t, filepath.Join(res.Destination, "src", "calculator.py")))
}

func TestPipeline_Run_NilFailureLog(t *testing.T) {
	env := newPipelineEnv(t)
	env.generateStages(calculatorManifest)
	env.gen.On("Generate", mock.Anything, role(generation.RoleReview)).Return(extract.FromText("Approved"), nil)
	env.gen.On("Generate", mock.Anything, role(generation.RoleFix)).Return(extract.FromText(calculatorCode), nil)
	env.sb.On("Execute", mock.Anything, mock.Anything, false).Return("Output from calculator.py (success):\n")
	env.sb.On("Execute", mock.Anything, mock.Anything, true).Return("Error (exit code 1) running test_calculator.py:\n\nAssertionError\n")

	var failures *sandbox.FailureLog
	p := env.pipeline(t, WithFailureRecorder(failures))

	var res *RunResult
	require.NotPanics(t, func() {
		var err error
		res, err = p.Run(context.Background())
		require.NoError(t, err)
	})
	assert.Equal(t, StatusDegraded, res.Status)
}

func TestPipeline_Run_CollidingManifestPaths(t *testing.T) {
	env := newPipelineEnv(t)
	env.generateStages(`{"implementation_file": "src/app.py", "test_file": "src/app.py", "docs_file": "src/__init__.py"}`)
	env.gen.On("Generate", mock.Anything, role(generation.RoleReview)).Return(extract.FromText("Approved"), nil)
	env.sandboxPasses()

	res, err := env.pipeline(t).Run(context.Background())
	require.NoError(t, err)

	require.Len(t, res.Files, 7)
	assert.Equal(t, calculatorCode, res.Files[filepath.Join(env.root, "src", "app.py")])
	assert.Equal(t, calculatorTest, res.Files[filepath.Join(env.root, "tests", "test_app.py")])
	assert.Equal(t, SourceInitContent, res.Files[filepath.Join(env.root, "src", "__init__.py")])
	assert.Equal(t, "# Calculator\n", res.Files[filepath.Join(env.root, "docs", "README.md")])
}

func TestNew_RejectsInvalidSpecification(t *testing.T) {
	tests := []struct {
		name string
		spec string
	}{
		{"empty", "   "},
		{"too short", "must"},
		{"no requirement words", "A calculator program for numbers."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := new(MockGenerator)
			logs := logging.NewTestLogger()

			p, err := New(tt.spec, gen, new(MockSandbox), new(MockStore), DefaultConfig(), WithLogger(logs.Logger))
			require.Error(t, err)
			assert.Nil(t, p)
			assert.ErrorIs(t, err, specvalidator.ErrInvalidSpecification)
			gen.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)
			logs.AssertLogged(t, zapcore.ErrorLevel, "specification rejected")
		})
	}
}

func TestNew_RequiresDependencies(t *testing.T) {
	_, err := New(calculatorSpec, nil, new(MockSandbox), new(MockStore), DefaultConfig())
	assert.Error(t, err)
	_, err = New(calculatorSpec, new(MockGenerator), nil, new(MockStore), DefaultConfig())
	assert.Error(t, err)
	_, err = New(calculatorSpec, new(MockGenerator), new(MockSandbox), nil, DefaultConfig())
	assert.Error(t, err)
}

func TestPipeline_AddFeature(t *testing.T) {
	env := newPipelineEnv(t)
	env.generateStages(calculatorManifest)
	env.gen.On("Generate", mock.Anything, role(generation.RoleReview)).Return(extract.FromText("Approved"), nil)
	env.sandboxPasses()

	p := env.pipeline(t)

	_, err := p.AddFeature(context.Background(), "  ")
	require.Error(t, err)
	assert.Equal(t, Specification(calculatorSpec), p.Spec())

	res, err := p.AddFeature(context.Background(), "Support multiplication.")
	require.NoError(t, err)

	want := Specification(calculatorSpec + "\n\nAdditional feature: Support multiplication.")
	assert.Equal(t, want, p.Spec())
	assert.Equal(t, want, res.Spec)
	env.gen.AssertCalled(t, "Generate", mock.Anything, mock.MatchedBy(func(r generation.Request) bool {
		return r.Role == generation.RoleInterface && strings.HasSuffix(r.Spec, "Additional feature: Support multiplication.")
	}))
}

func TestPipeline_ProgressAndRunIDs(t *testing.T) {
	env := newPipelineEnv(t)
	env.generateStages(calculatorManifest)
	env.gen.On("Generate", mock.Anything, role(generation.RoleReview)).Return(extract.FromText("Approved"), nil)
	env.sandboxPasses()

	var stages []Stage
	p := env.pipeline(t,
		WithProgress(func(p Progress) { stages = append(stages, p.Stage) }),
		WithRunIDs(func() string { return "run-42" }),
	)

	res, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "run-42", res.RunID)
	require.NotEmpty(t, stages)
	assert.Equal(t, StageManifest, stages[0])
	assert.Equal(t, StagePersist, stages[len(stages)-1])
	assert.Contains(t, stages, StageExecute)
	env.logs.AssertField(t, "run started", "run.id", "run-42")
}

func TestPipeline_Telemetry(t *testing.T) {
	env := newPipelineEnv(t)
	env.generateStages(calculatorManifest)
	env.gen.On("Generate", mock.Anything, role(generation.RoleReview)).Return(extract.FromText("Approved"), nil)
	env.sandboxPasses()

	tel := telemetry.NewTestTelemetry()
	_, err := env.pipeline(t, WithTelemetry(tel.Telemetry)).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(1), tel.CounterValue(t, "genforge.pipeline.runs_total"))
	assert.Equal(t, int64(1), tel.CounterValue(t, "genforge.pipeline.reviews_total"))
	assert.Zero(t, tel.CounterValue(t, "genforge.pipeline.fixes_total"))
	tel.AssertSpanExists(t, "orchestrator.run")
	tel.AssertSpanExists(t, "orchestrator.stage")
	tel.AssertSpanExists(t, "orchestrator.sandbox")
	// manifest, the generation stages and one review
	assert.Len(t, tel.SpansByName("orchestrator.stage"), 1+len(GenerationStages())+1)
}

func TestConfig_WithDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.Equal(t, DefaultConfig(), cfg)

	cfg = Config{MaxIterations: 3, ProjectRoot: "out"}.withDefaults()
	assert.Equal(t, 3, cfg.MaxIterations)
	assert.Equal(t, "out", cfg.ProjectRoot)
	assert.Equal(t, ".py", cfg.ExecutableExtension)
}
