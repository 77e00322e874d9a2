package manifest

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fyrsmithlabs/genforge/internal/extract"
	"github.com/fyrsmithlabs/genforge/internal/generation"
	"go.uber.org/zap"
)

// Resolver asks the generation service for a manifest and anchors it under Root.
type Resolver struct {
	gen    generation.Generator
	root   string
	logger *zap.Logger
}

// NewResolver creates a Resolver. A nil logger is replaced with a no-op.
func NewResolver(gen generation.Generator, root string, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{gen: gen, root: root, logger: logger}
}

// Resolve runs the manifest stage and creates the parent directory of every
// resolved path.
//
// An unusable manifest (empty, not JSON, not an object) is replaced with
// the defaults; individual bad entries fall back to their own default. Only
// a failing generation call or directory creation returns an error.
func (r *Resolver) Resolve(ctx context.Context, spec string) (Manifest, error) {
	resp, err := r.gen.Generate(ctx, generation.Request{Role: generation.RoleManifest, Spec: spec})
	if err != nil {
		return Manifest{}, fmt.Errorf("manifest generation: %w", err)
	}

	text := extract.String(resp)
	rel, issues, err := Parse(text)
	if err != nil {
		r.logger.Warn("manifest unusable, using default layout",
			zap.Error(err),
			zap.Int("output_bytes", len(text)))
		rel = Defaults
	}
	for _, issue := range issues {
		r.logger.Warn("manifest entry replaced with default", zap.String("issue", issue))
	}

	m, err := Rooted(r.root, rel)
	if err != nil {
		// Parse already filtered unusable paths.
		return Manifest{}, fmt.Errorf("anchor manifest: %w", err)
	}

	if err := EnsureDirs(m); err != nil {
		return Manifest{}, err
	}

	for _, k := range Keys {
		r.logger.Info("manifest path", zap.String("key", string(k)), zap.String("path", m.Path(k)))
	}
	return m, nil
}

// EnsureDirs creates the parent directory of every manifest path. It is idempotent.
func EnsureDirs(m Manifest) error {
	for _, k := range Keys {
		dir := filepath.Dir(m.Path(k))
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory for %s: %w", k, err)
		}
	}
	return nil
}

// Parse reads a manifest object from generated text. Surrounding prose or a
// markdown code fence is tolerated.
//
// It returns an error when no JSON object can be read. Otherwise every key is
// present in the result: usable entries as given, the rest as defaults, each
// replacement described in issues. A path may serve only one role and never a
// package placeholder; a repeat falls back to its key's default. When that
// default is itself taken the whole manifest is rejected.
func Parse(text string) (map[Key]string, []string, error) {
	body := stripFence(strings.TrimSpace(text))
	if body == "" {
		return nil, nil, fmt.Errorf("manifest output is empty")
	}

	var raw any
	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		start, end := strings.Index(body, "{"), strings.LastIndex(body, "}")
		if start < 0 || end <= start {
			return nil, nil, fmt.Errorf("manifest output is not JSON: %w", err)
		}
		if err := json.Unmarshal([]byte(body[start:end+1]), &raw); err != nil {
			return nil, nil, fmt.Errorf("manifest output is not JSON: %w", err)
		}
	}

	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, nil, fmt.Errorf("manifest output is %T, not a JSON object", raw)
	}

	out := make(map[Key]string, len(Keys))
	taken := map[string]string{
		filepath.FromSlash(SourceInit): "package placeholder",
		filepath.FromSlash(TestsInit):  "package placeholder",
	}
	var issues []string
	for _, k := range Keys {
		v, present := obj[string(k)]
		s, isString := v.(string)
		switch {
		case !present:
			issues = append(issues, fmt.Sprintf("%s missing", k))
		case !isString:
			issues = append(issues, fmt.Sprintf("%s is %T, not a string", k, v))
		default:
			clean, err := cleanRelative(s)
			if err != nil {
				issues = append(issues, fmt.Sprintf("%s: %v", k, err))
				break
			}
			if owner, dup := taken[clean]; dup {
				issues = append(issues, fmt.Sprintf("%s: path %q already used by %s", k, s, owner))
				break
			}
			taken[clean] = string(k)
			out[k] = s
			continue
		}

		def, _ := cleanRelative(Defaults[k])
		if owner, dup := taken[def]; dup {
			return nil, issues, fmt.Errorf("default path for %s is already used by %s", k, owner)
		}
		taken[def] = string(k)
		out[k] = Defaults[k]
	}
	return out, issues, nil
}

// stripFence removes a surrounding ``` or ```json fence.
func stripFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	} else {
		s = strings.TrimPrefix(s, "```")
	}
	s = strings.TrimSpace(s)
	return strings.TrimSpace(strings.TrimSuffix(s, "```"))
}
