package artifacts

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/genforge/internal/ignore"
)

// TimestampLayout names each persisted project directory.
const TimestampLayout = "2006-01-02_15-04-05"

// SummaryFile lists the generated files of a run.
const SummaryFile = "generation_summary.txt"

// Mirror receives a copy of a persisted project directory.
type Mirror interface {
	Upload(ctx context.Context, dir, prefix string) error
}

// FSStore persists generated files under OutputDir.
type FSStore struct {
	workRoot  string
	outputDir string
	mirror    Mirror
	fallback  []string
	logger    *zap.Logger
	now       func() time.Time
}

// Option configures an FSStore.
type Option func(*FSStore)

// WithMirror uploads every persisted directory to m. Upload failures are
// logged and never fail Persist.
func WithMirror(m Mirror) Option {
	return func(s *FSStore) { s.mirror = m }
}

// WithIgnorePatterns replaces the patterns used when OutputDir holds no
// ignore file.
func WithIgnorePatterns(patterns []string) Option {
	return func(s *FSStore) { s.fallback = patterns }
}

// WithClock overrides the clock used for directory names.
func WithClock(now func() time.Time) Option {
	return func(s *FSStore) { s.now = now }
}

// NewFSStore creates a store that drains workRoot into outputDir.
func NewFSStore(workRoot, outputDir string, logger *zap.Logger, opts ...Option) *FSStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &FSStore{
		workRoot:  workRoot,
		outputDir: outputDir,
		fallback:  ignore.DefaultPatterns,
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Persist writes files into a new timestamped directory and returns it.
//
// Paths under the working root are stored relative to it. Files still in the
// working tree that are not part of files are moved over, then the working
// tree is emptied. Each file lands through a temp file and a rename, so the
// destination never holds a partial file.
func (s *FSStore) Persist(ctx context.Context, files map[string]string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	stamp := s.now().Format(TimestampLayout)
	dest, err := s.createDest(stamp)
	if err != nil {
		return "", err
	}

	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	written := make(map[string]bool, len(paths))
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		rel, err := s.relative(p)
		if err != nil {
			return "", err
		}
		if err := writeAtomic(filepath.Join(dest, rel), []byte(files[p])); err != nil {
			return "", fmt.Errorf("persist %s: %w", p, err)
		}
		written[rel] = true
	}

	var summary strings.Builder
	fmt.Fprintf(&summary, "Project generated at: %s\nGenerated files:\n", stamp)
	for _, p := range paths {
		fmt.Fprintf(&summary, "- %s\n", p)
	}
	if err := writeAtomic(filepath.Join(dest, SummaryFile), []byte(summary.String())); err != nil {
		return "", fmt.Errorf("write summary: %w", err)
	}

	skip, err := ignore.Load(s.outputDir, s.fallback)
	if err != nil {
		return "", fmt.Errorf("load ignore patterns: %w", err)
	}
	moved, dropped, err := s.drain(dest, written, skip)
	if err != nil {
		return "", err
	}

	s.logger.Info("project persisted",
		zap.String("destination", dest),
		zap.Int("files", len(paths)),
		zap.Int("moved", moved),
		zap.Int("ignored", dropped))

	if s.mirror != nil {
		if err := s.mirror.Upload(ctx, dest, filepath.Base(dest)); err != nil {
			s.logger.Warn("project mirror upload failed", zap.String("destination", dest), zap.Error(err))
		}
	}
	return dest, nil
}

// createDest makes a fresh directory for stamp, adding a numeric suffix when
// a run in the same second already claimed it.
func (s *FSStore) createDest(stamp string) (string, error) {
	if err := os.MkdirAll(s.outputDir, 0o755); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}
	name := stamp
	for i := 1; ; i++ {
		dest := filepath.Join(s.outputDir, name)
		err := os.Mkdir(dest, 0o755)
		if err == nil {
			return dest, nil
		}
		if !errors.Is(err, fs.ErrExist) || i > 100 {
			return "", fmt.Errorf("create project directory: %w", err)
		}
		name = fmt.Sprintf("%s_%d", stamp, i)
	}
}

// relative maps a file-set path to its location inside the destination.
func (s *FSStore) relative(p string) (string, error) {
	clean := filepath.Clean(p)
	if rel, err := filepath.Rel(filepath.Clean(s.workRoot), clean); err == nil && !escapes(rel) && rel != "." {
		return rel, nil
	}
	if filepath.IsAbs(clean) || escapes(clean) || clean == "." {
		return "", fmt.Errorf("path %q is outside the working root %q", p, s.workRoot)
	}
	return clean, nil
}

func escapes(rel string) bool {
	return rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// drain moves remaining working-tree files into dest and empties the
// working tree. Files already written from the file set and files matched by
// skip are discarded.
func (s *FSStore) drain(dest string, written map[string]bool, skip *ignore.Matcher) (int, int, error) {
	moved, dropped := 0, 0
	err := filepath.WalkDir(s.workRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && path == s.workRoot {
				return fs.SkipAll
			}
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(s.workRoot, path)
		if err != nil {
			return err
		}
		if written[rel] {
			return nil
		}
		if skip.Match(rel) {
			dropped++
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if err := writeAtomic(filepath.Join(dest, rel), data); err != nil {
			return err
		}
		moved++
		s.logger.Debug("moved working file", zap.String("from", path), zap.String("to", filepath.Join(dest, rel)))
		return os.Remove(path)
	})
	if err != nil {
		return moved, dropped, fmt.Errorf("move working tree: %w", err)
	}

	entries, err := os.ReadDir(s.workRoot)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return moved, dropped, nil
		}
		return moved, dropped, fmt.Errorf("clean working tree: %w", err)
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(s.workRoot, e.Name())); err != nil {
			return moved, dropped, fmt.Errorf("clean working tree: %w", err)
		}
	}
	return moved, dropped, nil
}

// writeAtomic writes data to a temp file in the target directory and renames
// it into place.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".genforge-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return err
	}
	return nil
}

// WriteFile writes one working-tree file atomically.
func WriteFile(path, content string) error {
	return writeAtomic(path, []byte(content))
}
