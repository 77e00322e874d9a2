package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/genforge/internal/artifacts"
	"github.com/fyrsmithlabs/genforge/internal/extract"
	"github.com/fyrsmithlabs/genforge/internal/generation"
	"github.com/fyrsmithlabs/genforge/internal/logging"
	"github.com/fyrsmithlabs/genforge/internal/manifest"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// Artifacts holds the extracted text of each generation stage.
type Artifacts struct {
	Interface string
	Code      string
	Test      string
	Docs      string
	RunScript string
}

// Get returns the artifact produced by stage.
func (a Artifacts) Get(stage Stage) string {
	switch stage {
	case StageInterface:
		return a.Interface
	case StageCode:
		return a.Code
	case StageTest:
		return a.Test
	case StageDocs:
		return a.Docs
	case StageRunScript:
		return a.RunScript
	default:
		return ""
	}
}

func (a *Artifacts) set(stage Stage, text string) {
	switch stage {
	case StageInterface:
		a.Interface = text
	case StageCode:
		a.Code = text
	case StageTest:
		a.Test = text
	case StageDocs:
		a.Docs = text
	case StageRunScript:
		a.RunScript = text
	}
}

// stageDependencies lists the stages whose artifacts feed each generation stage.
var stageDependencies = map[Stage][]Stage{
	StageInterface: nil,
	StageCode:      {StageInterface},
	StageTest:      {StageCode},
	StageDocs:      {StageCode, StageTest},
	StageRunScript: {StageInterface},
}

// stageRoles maps stages to generation roles.
var stageRoles = map[Stage]generation.Role{
	StageInterface: generation.RoleInterface,
	StageCode:      generation.RoleCode,
	StageTest:      generation.RoleTest,
	StageDocs:      generation.RoleDocs,
	StageRunScript: generation.RoleRunScript,
	StageReview:    generation.RoleReview,
	StageFix:       generation.RoleFix,
}

// StageExecutor runs the generation stages of one iteration. Each artifact
// is written to its manifest path in the working tree.
//
// A StageExecutor is not safe for concurrent use.
type StageExecutor struct {
	gen      generation.Generator
	spec     Specification
	manifest manifest.Manifest
	logger   *logging.Logger
	inst     *instruments
	progress ProgressCallback

	ran map[Stage]bool
	art Artifacts
}

// NewStageExecutor creates a StageExecutor writing under m.
func NewStageExecutor(gen generation.Generator, spec Specification, m manifest.Manifest, logger *logging.Logger) *StageExecutor {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &StageExecutor{
		gen:      gen,
		spec:     spec,
		manifest: m,
		logger:   logger,
		ran:      make(map[Stage]bool),
	}
}

// Artifacts returns the artifacts produced so far.
func (e *StageExecutor) Artifacts() Artifacts { return e.art }

// Ran reports whether stage has run since the last Reset. A stage that
// produced empty text still counts as run.
func (e *StageExecutor) Ran(stage Stage) bool { return e.ran[stage] }

// Reset forgets all artifacts before a new iteration.
func (e *StageExecutor) Reset() {
	e.ran = make(map[Stage]bool)
	e.art = Artifacts{}
}

// Run executes one generation stage. It fails with ErrMissingDependency when
// an upstream stage has not run yet.
func (e *StageExecutor) Run(ctx context.Context, stage Stage) (string, error) {
	deps, ok := stageDependencies[stage]
	if !ok {
		return "", &StageError{Stage: stage, Err: fmt.Errorf("%q is not a generation stage", stage)}
	}
	for _, dep := range deps {
		if !e.ran[dep] {
			return "", &StageError{Stage: stage, Err: fmt.Errorf("%w: %s needs %s", ErrMissingDependency, stage, dep)}
		}
	}

	text, err := e.call(ctx, stage, e.request(stage))
	if err != nil {
		return "", err
	}
	e.ran[stage] = true
	e.art.set(stage, text)

	if err := e.write(stage, text); err != nil {
		return "", err
	}
	return text, nil
}

// Review asks for a review of code.
func (e *StageExecutor) Review(ctx context.Context, code string) (string, error) {
	return e.call(ctx, StageReview, generation.Request{
		Role:     generation.RoleReview,
		Spec:     string(e.spec),
		Code:     code,
		CodeFile: e.manifest.Implementation(),
	})
}

// Fix asks for a revision of code addressing feedback.
func (e *StageExecutor) Fix(ctx context.Context, code, feedback string) (string, error) {
	return e.call(ctx, StageFix, generation.Request{
		Role:     generation.RoleFix,
		Spec:     string(e.spec),
		Code:     code,
		CodeFile: e.manifest.Implementation(),
		Feedback: feedback,
	})
}

// SetCode replaces the code artifact with an accepted fix.
func (e *StageExecutor) SetCode(code string) error {
	e.art.Code = code
	return e.write(StageCode, code)
}

func (e *StageExecutor) request(stage Stage) generation.Request {
	req := generation.Request{Role: stageRoles[stage]}
	switch stage {
	case StageInterface:
		req.Spec = string(e.spec)
	case StageCode:
		req.Spec = string(e.spec)
		req.Interface = e.art.Interface
	case StageTest:
		req.Code = e.art.Code
		req.CodeFile = e.manifest.Implementation()
	case StageDocs:
		req.Spec = string(e.spec)
		req.Code = e.art.Code
		req.Test = e.art.Test
	case StageRunScript:
		req.Spec = string(e.spec)
		req.Interface = e.art.Interface
	}
	return req
}

func (e *StageExecutor) write(stage Stage, text string) error {
	path := stagePath(e.manifest, stage)
	if text == "" || path == "" {
		return nil
	}
	if err := artifacts.WriteFile(path, text); err != nil {
		return &StageError{Stage: stage, Err: fmt.Errorf("write %s: %w", path, err)}
	}
	return nil
}

// call performs one generation request and extracts its text.
func (e *StageExecutor) call(ctx context.Context, stage Stage, req generation.Request) (string, error) {
	ctx = logging.WithStage(ctx, string(stage))
	ctx, span := e.inst.start(ctx, "orchestrator.stage", attribute.String("stage", string(stage)))
	defer span.End()

	if e.progress != nil {
		iteration, _ := logging.IterationFromContext(ctx)
		e.progress(Progress{Stage: stage, Iteration: iteration, Message: fmt.Sprintf("running %s", stage)})
	}

	start := time.Now()
	resp, err := e.gen.Generate(ctx, req)
	elapsed := time.Since(start)
	e.inst.recordStage(ctx, stage, elapsed, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.logger.Error(ctx, "stage failed", zap.Error(err), zap.Duration("duration", elapsed))
		return "", stageErr(stage, err)
	}

	text := extract.String(resp)
	span.SetAttributes(attribute.Int("output.bytes", len(text)))
	e.logger.Info(ctx, "stage complete",
		zap.String("response_kind", resp.Kind().String()),
		zap.Int("bytes", len(text)),
		zap.Duration("duration", elapsed))
	e.logger.Trace(ctx, "stage output", zap.String("output", text))
	if text == "" {
		e.logger.Warn(ctx, "stage produced no output")
	}
	return text, nil
}
