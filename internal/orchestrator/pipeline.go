package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fyrsmithlabs/genforge/internal/config"
	"github.com/fyrsmithlabs/genforge/internal/generation"
	"github.com/fyrsmithlabs/genforge/internal/logging"
	"github.com/fyrsmithlabs/genforge/internal/manifest"
	"github.com/fyrsmithlabs/genforge/internal/specvalidator"
	"github.com/fyrsmithlabs/genforge/internal/telemetry"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// Package initialization placeholders added to every file set.
const (
	SourceInitContent = "# Python package initialization"
	TestsInitContent  = "# Python tests package initialization"
)

// Config controls a Pipeline.
type Config struct {
	MaxIterations       int
	MaxReviewIterations int
	ProjectRoot         string
	ApprovalMarker      string
	ExecutableExtension string
}

// DefaultConfig returns the standard loop bounds and layout.
func DefaultConfig() Config {
	return Config{
		MaxIterations:       1,
		MaxReviewIterations: DefaultMaxReviewIterations,
		ProjectRoot:         "src",
		ApprovalMarker:      DefaultApprovalMarker,
		ExecutableExtension: ".py",
	}
}

// ConfigFrom maps the pipeline section onto a Config.
func ConfigFrom(c config.PipelineConfig) Config {
	return Config{
		MaxIterations:       c.MaxIterations,
		MaxReviewIterations: c.MaxReviewIterations,
		ProjectRoot:         c.ProjectRoot,
		ApprovalMarker:      c.ApprovalMarker,
		ExecutableExtension: c.ExecutableExtension,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.MaxIterations < 1 {
		c.MaxIterations = def.MaxIterations
	}
	if c.MaxReviewIterations < 1 {
		c.MaxReviewIterations = def.MaxReviewIterations
	}
	if c.ProjectRoot == "" {
		c.ProjectRoot = def.ProjectRoot
	}
	if c.ApprovalMarker == "" {
		c.ApprovalMarker = def.ApprovalMarker
	}
	if c.ExecutableExtension == "" {
		c.ExecutableExtension = def.ExecutableExtension
	}
	return c
}

// Pipeline turns a specification into a persisted project.
type Pipeline struct {
	cfg  Config
	spec Specification

	gen       generation.Generator
	sandbox   Sandbox
	store     Store
	validator SpecValidator
	failures  FailureRecorder
	reviewJ   ReviewJudge
	execJ     ExecutionJudge
	gates     []ArtifactGate

	logger   *logging.Logger
	tel      *telemetry.Telemetry
	inst     *instruments
	pusher   *telemetry.Pusher
	progress ProgressCallback
	newRunID func() string

	mu      sync.Mutex
	running bool
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithValidator replaces the specification validator.
func WithValidator(v SpecValidator) Option {
	return func(p *Pipeline) { p.validator = v }
}

// WithFailureRecorder records failed execution attempts.
func WithFailureRecorder(r FailureRecorder) Option {
	return func(p *Pipeline) { p.failures = r }
}

// WithReviewJudge replaces the approval-marker judge.
func WithReviewJudge(j ReviewJudge) Option {
	return func(p *Pipeline) { p.reviewJ = j }
}

// WithExecutionJudge replaces the failure-substring judge.
func WithExecutionJudge(j ExecutionJudge) Option {
	return func(p *Pipeline) { p.execJ = j }
}

// WithGates replaces the advisory artifact gates.
func WithGates(gates ...ArtifactGate) Option {
	return func(p *Pipeline) { p.gates = gates }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithTelemetry traces and meters runs.
func WithTelemetry(t *telemetry.Telemetry) Option {
	return func(p *Pipeline) { p.tel = t }
}

// WithPusher pushes a summary of every run to a Pushgateway.
func WithPusher(pusher *telemetry.Pusher) Option {
	return func(p *Pipeline) { p.pusher = pusher }
}

// WithProgress receives a callback before every stage call.
func WithProgress(cb ProgressCallback) Option {
	return func(p *Pipeline) { p.progress = cb }
}

// WithRunIDs overrides run ID generation.
func WithRunIDs(next func() string) Option {
	return func(p *Pipeline) { p.newRunID = next }
}

// New validates spec and creates a Pipeline. An invalid specification fails
// here, before any stage runs.
func New(spec string, gen generation.Generator, sb Sandbox, store Store, cfg Config, opts ...Option) (*Pipeline, error) {
	p := &Pipeline{
		cfg:       cfg.withDefaults(),
		spec:      Specification(spec),
		gen:       gen,
		sandbox:   sb,
		store:     store,
		validator: specvalidator.New(),
		newRunID:  func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = logging.NewNop()
	}
	if p.reviewJ == nil {
		p.reviewJ = MarkerJudge{Marker: p.cfg.ApprovalMarker}
	}
	if p.execJ == nil {
		p.execJ = FailureSubstringJudge{}
	}
	if p.gates == nil {
		p.gates = DefaultGates(specvalidator.New())
	}

	switch {
	case gen == nil:
		return nil, errors.New("generator is required")
	case sb == nil:
		return nil, errors.New("sandbox is required")
	case store == nil:
		return nil, errors.New("store is required")
	}
	if err := checkProjectRoot(p.cfg.ProjectRoot); err != nil {
		return nil, err
	}

	if err := p.validator.Validate(spec); err != nil {
		p.logger.Error(context.Background(), "specification rejected", zap.Error(err))
		return nil, err
	}

	p.inst = newInstruments(p.tel, p.logger.Underlying())
	return p, nil
}

// Spec returns the current specification.
func (p *Pipeline) Spec() Specification {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.spec
}

// Run executes the whole pipeline once and persists the result. Any stage,
// working-tree or store error aborts the run and nothing is persisted.
// Review rejection and execution failure only degrade the result.
func (p *Pipeline) Run(ctx context.Context) (*RunResult, error) {
	release, err := p.acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	runID := p.newRunID()
	ctx = logging.WithRunID(ctx, runID)
	ctx, span := p.inst.start(ctx, "orchestrator.run", attribute.String("run.id", runID))
	defer span.End()

	res := &RunResult{
		RunID:     runID,
		Spec:      p.Spec(),
		StartedAt: time.Now(),
	}
	p.logger.Info(ctx, "run started",
		zap.String("project_root", p.cfg.ProjectRoot),
		zap.Int("max_iterations", p.cfg.MaxIterations))
	p.logger.Debug(ctx, "specification", zap.String("spec", string(res.Spec)))

	err = p.run(ctx, res)
	res.Duration = time.Since(res.StartedAt)
	if err != nil {
		res.Status = StatusFailed
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.logger.Error(ctx, "run failed", zap.Error(err), zap.Duration("duration", res.Duration))
		if sweepErr := p.sweepWorkingTree(ctx); sweepErr != nil {
			p.logger.Warn(ctx, "failed to clear working tree after failed run", zap.Error(sweepErr))
		}
	} else {
		span.SetAttributes(attribute.String("status", string(res.Status)))
		p.logger.Info(ctx, "run finished",
			zap.String("status", string(res.Status)),
			zap.String("destination", res.Destination),
			zap.Int("files", len(res.Files)),
			zap.Int("iterations", res.Iterations),
			zap.Duration("duration", res.Duration))
	}

	p.inst.recordRun(ctx, res.Status)
	p.push(ctx, res)

	if err != nil {
		return nil, err
	}
	return res, nil
}

// AddFeature appends a feature description to the specification and runs
// the pipeline again. The extended specification is kept for later calls.
func (p *Pipeline) AddFeature(ctx context.Context, description string) (*RunResult, error) {
	description = strings.TrimSpace(description)
	if description == "" {
		return nil, errors.New("feature description is empty")
	}

	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return nil, ErrRunInProgress
	}
	extended := string(p.spec) + "\n\nAdditional feature: " + description
	if err := p.validator.Validate(extended); err != nil {
		p.mu.Unlock()
		return nil, err
	}
	p.spec = Specification(extended)
	p.mu.Unlock()

	p.logger.Info(ctx, "feature added", zap.String("feature", description))
	return p.Run(ctx)
}

func (p *Pipeline) run(ctx context.Context, res *RunResult) error {
	if err := p.sweepWorkingTree(ctx); err != nil {
		return err
	}

	m, err := p.resolveManifest(ctx, res.Spec)
	if err != nil {
		return err
	}
	res.Manifest = m

	stages := NewStageExecutor(p.gen, res.Spec, m, p.logger)
	stages.inst = p.inst
	stages.progress = p.progress

	review := NewReviewLoop(stages, p.reviewJ, p.cfg.MaxReviewIterations, p.logger)
	review.inst = p.inst
	execution := NewExecutionLoop(stages, p.sandbox, p.execJ, p.failures, p.logger)
	execution.inst = p.inst

	executable := strings.HasSuffix(m.Implementation(), p.cfg.ExecutableExtension)
	res.Status = StatusDegraded

	for iter := 1; iter <= p.cfg.MaxIterations; iter++ {
		res.Iterations = iter
		ictx := logging.WithIteration(ctx, iter)
		p.logger.Info(ictx, "iteration started")

		stages.Reset()
		for _, stage := range GenerationStages() {
			if _, err := stages.Run(ictx, stage); err != nil {
				return err
			}
		}
		res.Violations = p.checkGates(ictx, stages.Artifacts(), m)

		if err := p.writeInitFiles(m); err != nil {
			return err
		}

		p.report(StageReview, iter, "reviewing code")
		ro, err := review.Run(ictx, stages.Artifacts().Code)
		if err != nil {
			return stageErr(StageReview, err)
		}
		res.Review = ro
		if ro.Changed {
			if err := stages.SetCode(ro.Code); err != nil {
				return err
			}
		}

		if !executable {
			p.logger.Info(ictx, "implementation is not executable, skipping execution",
				zap.String("implementation", m.Implementation()))
			res.Execution = ExecutionOutcome{Code: stages.Artifacts().Code}
			if ro.State == ReviewApproved {
				res.Status = StatusSucceeded
			}
			break
		}

		p.report(StageExecute, iter, "running code and tests")
		eo, err := execution.Run(ictx, m, stages.Artifacts().Code, iter)
		if err != nil {
			return stageErr(StageExecute, err)
		}
		res.Execution = eo
		if eo.Changed {
			if err := stages.SetCode(eo.Code); err != nil {
				return err
			}
		}
		if eo.Passed {
			if ro.State == ReviewApproved {
				res.Status = StatusSucceeded
			}
			break
		}
		if iter == p.cfg.MaxIterations {
			p.logger.Warn(ictx, "iteration budget exhausted without a passing execution")
		}
	}

	res.Files = assemble(m, stages.Artifacts())

	p.report(StagePersist, res.Iterations, "persisting project")
	dest, err := p.store.Persist(ctx, res.Files)
	if err != nil {
		return stageErr(StagePersist, err)
	}
	res.Destination = dest
	return nil
}

func (p *Pipeline) resolveManifest(ctx context.Context, spec Specification) (manifest.Manifest, error) {
	ctx = logging.WithStage(ctx, string(StageManifest))
	ctx, span := p.inst.start(ctx, "orchestrator.stage", attribute.String("stage", string(StageManifest)))
	defer span.End()
	p.report(StageManifest, 0, "resolving manifest")

	start := time.Now()
	resolver := manifest.NewResolver(p.gen, p.cfg.ProjectRoot, p.logger.Underlying())
	m, err := resolver.Resolve(ctx, string(spec))
	p.inst.recordStage(ctx, StageManifest, time.Since(start), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return manifest.Manifest{}, stageErr(StageManifest, err)
	}
	return m, nil
}

func (p *Pipeline) checkGates(ctx context.Context, a Artifacts, m manifest.Manifest) []Violation {
	violations, failed := checkGates(ctx, p.gates, a, m)
	for name, err := range failed {
		p.logger.Warn(ctx, "artifact gate failed", zap.String("gate", name), zap.Error(err))
	}
	for _, v := range violations {
		p.logger.Warn(ctx, "artifact violation",
			zap.String("type", string(v.Type)),
			zap.String("stage", string(v.Stage)),
			zap.String("path", v.Path),
			zap.String("severity", string(v.Severity)),
			zap.String("description", v.Description))
	}
	return violations
}

// sweepWorkingTree empties the project root. Anything found there was left
// by an aborted run and must not be persisted with a later one.
func (p *Pipeline) sweepWorkingTree(ctx context.Context) error {
	root := p.cfg.ProjectRoot
	entries, err := os.ReadDir(root)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read working tree: %w", err)
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(root, e.Name())); err != nil {
			return fmt.Errorf("clear working tree: %w", err)
		}
	}
	if len(entries) > 0 {
		p.logger.Info(ctx, "cleared working tree", zap.String("root", root), zap.Int("entries", len(entries)))
	}
	return nil
}

// checkProjectRoot rejects roots whose sweep would reach outside genforge's
// scratch space: the filesystem root or any directory holding the current
// working directory.
func checkProjectRoot(root string) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("resolve project root: %w", err)
	}
	if filepath.Dir(abs) == abs {
		return fmt.Errorf("project root %q is the filesystem root", root)
	}
	wd, err := os.Getwd()
	if err != nil {
		return nil
	}
	rel, err := filepath.Rel(abs, wd)
	if err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("project root %q contains the working directory", root)
	}
	return nil
}

// initFiles returns the package placeholders for m.
func initFiles(m manifest.Manifest) map[string]string {
	return map[string]string{
		filepath.Join(m.Root, filepath.FromSlash(manifest.SourceInit)): SourceInitContent,
		filepath.Join(m.Root, filepath.FromSlash(manifest.TestsInit)):  TestsInitContent,
	}
}

// writeInitFiles puts the placeholders in the working tree so tests can
// import the implementation as a package.
func (p *Pipeline) writeInitFiles(m manifest.Manifest) error {
	for path, content := range initFiles(m) {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return &StageError{Stage: StageCode, Err: err}
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return &StageError{Stage: StageCode, Err: err}
		}
	}
	return nil
}

// assemble builds the file set from the non-empty artifacts plus the two
// package placeholders.
func assemble(m manifest.Manifest, a Artifacts) FileSet {
	files := make(FileSet, len(GenerationStages())+2)
	for _, stage := range GenerationStages() {
		if text := a.Get(stage); text != "" {
			files[stagePath(m, stage)] = text
		}
	}
	for path, content := range initFiles(m) {
		files[path] = content
	}
	return files
}

func (p *Pipeline) report(stage Stage, iteration int, msg string) {
	if p.progress != nil {
		p.progress(Progress{Stage: stage, Iteration: iteration, Message: msg})
	}
}

func (p *Pipeline) push(ctx context.Context, res *RunResult) {
	if !p.pusher.Enabled() {
		return
	}
	err := p.pusher.Push(ctx, telemetry.RunSummary{
		RunID:      res.RunID,
		Status:     string(res.Status),
		Iterations: res.Iterations,
		Reviews:    res.Review.Reviews,
		Fixes:      res.Review.Fixes + res.Execution.Fixes,
		Files:      len(res.Files),
		Duration:   res.Duration,
		Finished:   time.Now(),
	})
	if err != nil {
		p.logger.Warn(ctx, "failed to push run summary", zap.Error(err))
	}
}

// acquire takes the in-process guard and the lock file next to the project
// root. The returned func releases both.
func (p *Pipeline) acquire() (func(), error) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return nil, ErrRunInProgress
	}
	p.running = true
	p.mu.Unlock()

	unlockGuard := func() {
		p.mu.Lock()
		p.running = false
		p.mu.Unlock()
	}

	lockPath := filepath.Clean(p.cfg.ProjectRoot) + ".lock"
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		unlockGuard()
		return nil, fmt.Errorf("create lock directory: %w", err)
	}
	if err := p.createLock(lockPath); err != nil {
		unlockGuard()
		return nil, err
	}

	return func() {
		if err := os.Remove(lockPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			p.logger.Warn(context.Background(), "failed to remove lock file", zap.String("path", lockPath), zap.Error(err))
		}
		unlockGuard()
	}, nil
}

// createLock creates the lock file holding this process's PID. A lock whose
// PID no longer names a live process is stale and is replaced once.
func (p *Pipeline) createLock(lockPath string) error {
	for attempt := 0; ; attempt++ {
		f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			fmt.Fprintf(f, "%d\n", os.Getpid())
			return f.Close()
		}
		if !errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("create lock file: %w", err)
		}

		pid, ok := lockOwner(lockPath)
		if attempt > 0 || !ok || processAlive(pid) {
			return fmt.Errorf("%w (lock file %s)", ErrRunInProgress, lockPath)
		}
		p.logger.Warn(context.Background(), "removing stale lock file",
			zap.String("path", lockPath), zap.Int("pid", pid))
		if err := os.Remove(lockPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove stale lock file: %w", err)
		}
	}
}

// lockOwner reads the PID recorded in a lock file.
func lockOwner(lockPath string) (int, bool) {
	data, err := os.ReadFile(lockPath)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}

// processAlive reports whether pid names a running process. A process owned
// by another user still counts.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}
