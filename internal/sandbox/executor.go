// Package sandbox runs generated scripts and test files in a child process
// and folds the outcome into a plain-text report.
package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/fyrsmithlabs/genforge/internal/config"
	"go.uber.org/zap"
)

// Config controls how files are executed.
type Config struct {
	// Interpreter runs both plain and test executions.
	Interpreter string
	// TestArgs go between the interpreter and the test file, e.g. "-m pytest".
	TestArgs []string
	// ProjectDirName is the ancestor directory added to PYTHONPATH.
	ProjectDirName string
	RunTimeout     time.Duration
	TestTimeout    time.Duration
	MaxOutputBytes int64
}

// DefaultConfig returns a Python/pytest configuration.
func DefaultConfig() Config {
	return Config{
		Interpreter:    "python",
		TestArgs:       []string{"-m", "pytest"},
		ProjectDirName: "src",
		RunTimeout:     30 * time.Second,
		TestTimeout:    60 * time.Second,
		MaxOutputBytes: 1 << 20,
	}
}

// ConfigFrom maps the sandbox and pipeline sections onto a Config.
func ConfigFrom(sb config.SandboxConfig, projectRoot string) Config {
	return Config{
		Interpreter:    sb.Interpreter,
		TestArgs:       append([]string(nil), sb.TestArgs...),
		ProjectDirName: filepath.Base(projectRoot),
		RunTimeout:     sb.RunTimeout.Duration(),
		TestTimeout:    sb.TestTimeout.Duration(),
		MaxOutputBytes: int64(sb.MaxOutputBytes),
	}
}

// Executor runs files with the configured interpreter. It never returns an
// error: every failure mode is described in the report text.
type Executor struct {
	cfg    Config
	logger *zap.Logger
}

// New creates an Executor. Zero timeouts and output limits take the defaults.
func New(cfg Config, logger *zap.Logger) *Executor {
	def := DefaultConfig()
	if cfg.Interpreter == "" {
		cfg.Interpreter = def.Interpreter
	}
	if cfg.ProjectDirName == "" {
		cfg.ProjectDirName = def.ProjectDirName
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = def.RunTimeout
	}
	if cfg.TestTimeout <= 0 {
		cfg.TestTimeout = def.TestTimeout
	}
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = def.MaxOutputBytes
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{cfg: cfg, logger: logger}
}

// Execute runs path as a script, or as a test file when isTest is set, and
// returns a report in one of these shapes:
//
//	Error: File '<path>' does not exist.
//	Error (exit code N) running <path>:\n<stderr>\n<stdout>
//	Warning while running <path>:\n<stderr>\n\nOutput:\n<stdout>
//	Output from <path> (success):\n<stdout>
//	Error: Execution of '<path>' timed out.
//	Error running <path>: <cause>
func (e *Executor) Execute(ctx context.Context, path string, isTest bool) string {
	if _, err := os.Stat(path); err != nil {
		e.logger.Warn("sandbox target missing", zap.String("path", path), zap.Error(err))
		return fmt.Sprintf("Error: File '%s' does not exist.", path)
	}

	timeout := e.cfg.RunTimeout
	args := []string{path}
	if isTest {
		timeout = e.cfg.TestTimeout
		args = append(append(append([]string(nil), e.cfg.TestArgs...), path), "-v")
	}

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, e.cfg.Interpreter, args...)
	cmd.Env = e.environment(path)
	// Orphaned grandchildren can hold the pipes open after the kill.
	cmd.WaitDelay = time.Second

	var stdoutBuf, stderrBuf bytes.Buffer
	stdout := &limitedWriter{w: &stdoutBuf, max: e.cfg.MaxOutputBytes}
	stderr := &limitedWriter{w: &stderrBuf, max: e.cfg.MaxOutputBytes}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	if stdout.truncated || stderr.truncated {
		e.logger.Warn("sandbox output truncated",
			zap.String("path", path),
			zap.Int64("discarded_bytes", stdout.discarded+stderr.discarded))
		if stdout.truncated {
			fmt.Fprintf(&stdoutBuf, "\n[output truncated: %d bytes discarded]", stdout.discarded)
		}
		if stderr.truncated {
			fmt.Fprintf(&stderrBuf, "\n[output truncated: %d bytes discarded]", stderr.discarded)
		}
	}

	fields := []zap.Field{
		zap.String("path", path),
		zap.Bool("test", isTest),
		zap.Duration("duration", elapsed),
	}

	if err != nil {
		if errors.Is(execCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			e.logger.Warn("sandbox execution timed out", append(fields, zap.Duration("timeout", timeout))...)
			return fmt.Sprintf("Error: Execution of '%s' timed out.", path)
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && ctx.Err() == nil {
			e.logger.Info("sandbox execution exited non-zero", append(fields, zap.Int("exit_code", exitErr.ExitCode()))...)
			return fmt.Sprintf("Error (exit code %d) running %s:\n%s\n%s",
				exitErr.ExitCode(), path, stderrBuf.String(), stdoutBuf.String())
		}
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		e.logger.Error("sandbox execution failed", append(fields, zap.Error(err))...)
		return fmt.Sprintf("Error running %s: %v", path, err)
	}

	if stderrBuf.Len() > 0 {
		e.logger.Info("sandbox execution wrote to stderr", fields...)
		return fmt.Sprintf("Warning while running %s:\n%s\n\nOutput:\n%s", path, stderrBuf.String(), stdoutBuf.String())
	}

	e.logger.Info("sandbox execution succeeded", fields...)
	return fmt.Sprintf("Output from %s (success):\n%s", path, stdoutBuf.String())
}

// environment returns the parent environment with the project directory
// prepended to PYTHONPATH.
func (e *Executor) environment(path string) []string {
	root := ProjectDir(path, e.cfg.ProjectDirName)
	env := make([]string, 0, len(os.Environ())+1)
	pythonPath := root
	for _, kv := range os.Environ() {
		if v, ok := strings.CutPrefix(kv, "PYTHONPATH="); ok {
			if v != "" {
				pythonPath = root + string(os.PathListSeparator) + v
			}
			continue
		}
		env = append(env, kv)
	}
	return append(env, "PYTHONPATH="+pythonPath)
}

// ProjectDir returns the nearest ancestor of path named dirName, or the
// directory containing path when there is none. The result is absolute.
func ProjectDir(path, dirName string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	start := filepath.Dir(abs)
	for dir := start; ; {
		if filepath.Base(dir) == dirName {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return start
		}
		dir = parent
	}
}

// limitedWriter is an io.Writer that keeps at most max bytes.
type limitedWriter struct {
	w         io.Writer
	max       int64
	written   int64
	truncated bool
	discarded int64
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)

	if lw.written >= lw.max {
		lw.truncated = true
		lw.discarded += int64(n)
		return n, nil
	}

	remaining := lw.max - lw.written
	if int64(n) > remaining {
		lw.truncated = true
		lw.discarded += int64(n) - remaining
		written, err := lw.w.Write(p[:remaining])
		lw.written += int64(written)
		// Report the full length so exec does not fail with a short write.
		return n, err
	}

	written, err := lw.w.Write(p)
	lw.written += int64(written)
	return written, err
}
