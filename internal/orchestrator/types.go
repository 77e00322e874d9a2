package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/fyrsmithlabs/genforge/internal/manifest"
	"github.com/fyrsmithlabs/genforge/internal/sandbox"
)

// Specification is the validated natural-language description of the
// project to generate. It is read-only once a Pipeline accepts it.
type Specification string

func (s Specification) String() string { return string(s) }

// Stage identifies one step of a run.
type Stage string

const (
	StageManifest  Stage = "manifest"
	StageInterface Stage = "interface"
	StageCode      Stage = "code"
	StageTest      Stage = "test"
	StageDocs      Stage = "docs"
	StageRunScript Stage = "run_script"
	StageReview    Stage = "review"
	StageFix       Stage = "fix"
	StageExecute   Stage = "execute"
	StagePersist   Stage = "persist"
)

// GenerationStages returns the artifact stages in the order a run executes them.
func GenerationStages() []Stage {
	return []Stage{StageInterface, StageCode, StageTest, StageDocs, StageRunScript}
}

// FileSet maps a root-anchored path to its content.
type FileSet map[string]string

// Paths returns the file paths in sorted order.
func (f FileSet) Paths() []string {
	paths := make([]string, 0, len(f))
	for p := range f {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Clone returns a shallow copy.
func (f FileSet) Clone() FileSet {
	out := make(FileSet, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// Status is the overall result of a run.
type Status string

const (
	// StatusSucceeded means the code was approved and, when executable, passed.
	StatusSucceeded Status = "succeeded"
	// StatusDegraded means a loop ran out of budget; the best effort was persisted.
	StatusDegraded Status = "degraded"
	// StatusFailed means the run aborted and nothing was persisted.
	StatusFailed Status = "failed"
)

// ReviewState is a state of the review-fix loop.
type ReviewState string

const (
	ReviewReviewing ReviewState = "reviewing"
	ReviewFixing    ReviewState = "fixing"
	ReviewApproved  ReviewState = "approved"
	ReviewExhausted ReviewState = "exhausted"
	ReviewSkipped   ReviewState = "skipped"
)

// ReviewOutcome reports how a review-fix loop ended.
type ReviewOutcome struct {
	State      ReviewState
	Iterations int
	Reviews    int
	Fixes      int
	Code       string
	Changed    bool
}

// ExecutionOutcome reports how an execution-fix pass ended.
type ExecutionOutcome struct {
	// Ran is false when the implementation is not executable.
	Ran     bool
	Passed  bool
	Report  string
	Fixes   int
	Code    string
	Changed bool
}

// RunResult is the outcome of Pipeline.Run.
type RunResult struct {
	RunID       string
	Spec        Specification
	Manifest    manifest.Manifest
	Files       FileSet
	Destination string
	Iterations  int
	Review      ReviewOutcome
	Execution   ExecutionOutcome
	Violations  []Violation
	Status      Status
	StartedAt   time.Time
	Duration    time.Duration
}

var (
	// ErrMissingDependency is returned when a stage runs before its inputs exist.
	ErrMissingDependency = errors.New("stage dependency has not run")
	// ErrRunInProgress is returned when the working directory is already in use.
	ErrRunInProgress = errors.New("a run is already in progress for this working directory")
)

// StageError wraps a failure of one stage.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func stageErr(stage Stage, err error) error {
	if err == nil {
		return nil
	}
	var se *StageError
	if errors.As(err, &se) {
		return err
	}
	return &StageError{Stage: stage, Err: err}
}

// SpecValidator accepts or rejects a specification.
type SpecValidator interface {
	Validate(spec string) error
}

// Sandbox executes a file and reports the outcome as text. It never fails;
// problems are described in the report.
type Sandbox interface {
	Execute(ctx context.Context, path string, isTest bool) string
}

// Store persists a finished file set and returns where it went.
type Store interface {
	Persist(ctx context.Context, files map[string]string) (string, error)
}

// FailureRecorder keeps a history of failed execution attempts.
type FailureRecorder interface {
	Record(entry sandbox.FailureEntry) error
	RecordSuccess(codeFile, testFile string, attempts int) error
}

// Progress is reported as a run moves through its stages.
type Progress struct {
	Stage     Stage
	Iteration int
	Message   string
}

// ProgressCallback receives progress updates during a run.
type ProgressCallback func(Progress)
