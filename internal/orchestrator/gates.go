package orchestrator

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/fyrsmithlabs/genforge/internal/manifest"
)

// Violation is an advisory finding about generated artifacts. Violations
// are logged and reported in RunResult; they never stop a run.
type Violation struct {
	Type        ViolationType `json:"type"`
	Stage       Stage         `json:"stage"`
	Path        string        `json:"path,omitempty"`
	Description string        `json:"description"`
	Severity    Severity      `json:"severity"`
	DetectedAt  time.Time     `json:"detected_at"`
}

// ViolationType categorizes violations.
type ViolationType string

const (
	ViolationEmptyArtifact   ViolationType = "empty_artifact"
	ViolationCodeShape       ViolationType = "code_shape"
	ViolationInterfaceShape  ViolationType = "interface_shape"
	ViolationTestNotTargeted ViolationType = "test_not_targeted"
)

// Severity indicates how serious a violation is.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
)

// ArtifactGate inspects the artifacts of an iteration after generation.
type ArtifactGate interface {
	// Name returns the gate identifier
	Name() string

	// Check returns violations found in a
	Check(ctx context.Context, a Artifacts, m manifest.Manifest) ([]Violation, error)
}

// ArtifactChecker performs shape checks on generated text.
// specvalidator.Validator implements it.
type ArtifactChecker interface {
	CheckCode(code string) error
	CheckInterface(idl string) error
}

// DefaultGates returns the standard gates backed by checker.
func DefaultGates(checker ArtifactChecker) []ArtifactGate {
	return []ArtifactGate{
		NewCompletenessGate(),
		NewCodeShapeGate(checker),
		NewInterfaceShapeGate(checker),
		NewTestTargetGate(),
	}
}

// CompletenessGate flags stages that produced no text.
type CompletenessGate struct{}

// NewCompletenessGate creates a CompletenessGate.
func NewCompletenessGate() *CompletenessGate {
	return &CompletenessGate{}
}

// Name returns the gate identifier
func (g *CompletenessGate) Name() string {
	return "completeness"
}

// Check flags every empty artifact.
func (g *CompletenessGate) Check(ctx context.Context, a Artifacts, m manifest.Manifest) ([]Violation, error) {
	var violations []Violation
	for _, stage := range GenerationStages() {
		if strings.TrimSpace(a.Get(stage)) != "" {
			continue
		}
		violations = append(violations, Violation{
			Type:        ViolationEmptyArtifact,
			Stage:       stage,
			Path:        stagePath(m, stage),
			Description: fmt.Sprintf("%s stage produced no output; the file is left out of the project", stage),
			Severity:    SeverityWarning,
			DetectedAt:  time.Now(),
		})
	}
	return violations, nil
}

// CodeShapeGate checks that the implementation and tests look like source code.
type CodeShapeGate struct {
	checker ArtifactChecker
}

// NewCodeShapeGate creates a CodeShapeGate.
func NewCodeShapeGate(checker ArtifactChecker) *CodeShapeGate {
	return &CodeShapeGate{checker: checker}
}

// Name returns the gate identifier
func (g *CodeShapeGate) Name() string {
	return "code-shape"
}

// Check validates the code and test artifacts. Empty artifacts are left to
// CompletenessGate.
func (g *CodeShapeGate) Check(ctx context.Context, a Artifacts, m manifest.Manifest) ([]Violation, error) {
	var violations []Violation
	for _, stage := range []Stage{StageCode, StageTest} {
		text := a.Get(stage)
		if strings.TrimSpace(text) == "" {
			continue
		}
		if err := g.checker.CheckCode(text); err != nil {
			violations = append(violations, Violation{
				Type:        ViolationCodeShape,
				Stage:       stage,
				Path:        stagePath(m, stage),
				Description: err.Error(),
				Severity:    SeverityWarning,
				DetectedAt:  time.Now(),
			})
		}
	}
	return violations, nil
}

// InterfaceShapeGate checks that the interface artifact declares something.
type InterfaceShapeGate struct {
	checker ArtifactChecker
}

// NewInterfaceShapeGate creates an InterfaceShapeGate.
func NewInterfaceShapeGate(checker ArtifactChecker) *InterfaceShapeGate {
	return &InterfaceShapeGate{checker: checker}
}

// Name returns the gate identifier
func (g *InterfaceShapeGate) Name() string {
	return "interface-shape"
}

// Check validates the interface artifact.
func (g *InterfaceShapeGate) Check(ctx context.Context, a Artifacts, m manifest.Manifest) ([]Violation, error) {
	if strings.TrimSpace(a.Interface) == "" {
		return nil, nil
	}
	if err := g.checker.CheckInterface(a.Interface); err != nil {
		return []Violation{{
			Type:        ViolationInterfaceShape,
			Stage:       StageInterface,
			Path:        m.Interface(),
			Description: err.Error(),
			Severity:    SeverityWarning,
			DetectedAt:  time.Now(),
		}}, nil
	}
	return nil, nil
}

// TestTargetGate checks that the tests mention the implementation module.
type TestTargetGate struct{}

// NewTestTargetGate creates a TestTargetGate.
func NewTestTargetGate() *TestTargetGate {
	return &TestTargetGate{}
}

// Name returns the gate identifier
func (g *TestTargetGate) Name() string {
	return "test-target"
}

// Check reports tests that never reference the implementation module by name.
func (g *TestTargetGate) Check(ctx context.Context, a Artifacts, m manifest.Manifest) ([]Violation, error) {
	if strings.TrimSpace(a.Test) == "" || m.Implementation() == "" {
		return nil, nil
	}
	module := strings.TrimSuffix(filepath.Base(m.Implementation()), filepath.Ext(m.Implementation()))
	if module == "" || strings.Contains(a.Test, module) {
		return nil, nil
	}
	return []Violation{{
		Type:        ViolationTestNotTargeted,
		Stage:       StageTest,
		Path:        m.Test(),
		Description: fmt.Sprintf("tests never reference module %q", module),
		Severity:    SeverityInfo,
		DetectedAt:  time.Now(),
	}}, nil
}

func stagePath(m manifest.Manifest, stage Stage) string {
	switch stage {
	case StageInterface:
		return m.Interface()
	case StageCode:
		return m.Implementation()
	case StageTest:
		return m.Test()
	case StageDocs:
		return m.Docs()
	case StageRunScript:
		return m.RunScript()
	default:
		return ""
	}
}

// checkGates runs every gate and collects violations. A failing gate is
// logged by the caller and skipped.
func checkGates(ctx context.Context, gates []ArtifactGate, a Artifacts, m manifest.Manifest) ([]Violation, map[string]error) {
	var all []Violation
	var failed map[string]error
	for _, gate := range gates {
		violations, err := gate.Check(ctx, a, m)
		if err != nil {
			if failed == nil {
				failed = make(map[string]error)
			}
			failed[gate.Name()] = err
			continue
		}
		all = append(all, violations...)
	}
	return all, failed
}
