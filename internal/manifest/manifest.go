// Package manifest resolves where each generated artifact lives.
//
// A manifest maps five fixed roles to paths. The generation service proposes
// the paths; anything missing or unusable falls back to a default layout, and
// every path is anchored under one project root for the whole run.
package manifest

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Key names a manifest role.
type Key string

const (
	ImplementationFile Key = "implementation_file"
	TestFile           Key = "test_file"
	DocsFile           Key = "docs_file"
	InterfaceFile      Key = "interface_file"
	RunScript          Key = "run_script"
)

// Keys lists the manifest roles in a stable order.
var Keys = []Key{ImplementationFile, TestFile, DocsFile, InterfaceFile, RunScript}

// Defaults is the layout used when the proposed manifest is unusable.
var Defaults = map[Key]string{
	ImplementationFile: "src/app.py",
	TestFile:           "tests/test_app.py",
	DocsFile:           "docs/README.md",
	InterfaceFile:      "src/app.idl",
	RunScript:          "build_and_run.sh",
}

// Package placeholders written into every project, relative to the root.
// No role may resolve to either of them.
const (
	SourceInit = "src/__init__.py"
	TestsInit  = "tests/__init__.py"
)

// Manifest holds the resolved, root-anchored path for every key.
type Manifest struct {
	Root  string
	paths map[Key]string
}

// Path returns the root-anchored path for k.
func (m Manifest) Path(k Key) string { return m.paths[k] }

func (m Manifest) Implementation() string { return m.paths[ImplementationFile] }
func (m Manifest) Test() string           { return m.paths[TestFile] }
func (m Manifest) Docs() string           { return m.paths[DocsFile] }
func (m Manifest) Interface() string      { return m.paths[InterfaceFile] }
func (m Manifest) RunScript() string      { return m.paths[RunScript] }

// Paths returns a copy of the key to path mapping.
func (m Manifest) Paths() map[Key]string {
	out := make(map[Key]string, len(m.paths))
	for k, v := range m.paths {
		out[k] = v
	}
	return out
}

// Rooted builds a Manifest from relative paths. Keys absent from rel use
// their default. It fails on paths that are absolute or escape the root.
func Rooted(root string, rel map[Key]string) (Manifest, error) {
	m := Manifest{Root: root, paths: make(map[Key]string, len(Keys))}
	for _, k := range Keys {
		p, ok := rel[k]
		if !ok {
			p = Defaults[k]
		}
		clean, err := cleanRelative(p)
		if err != nil {
			return Manifest{}, fmt.Errorf("%s: %w", k, err)
		}
		m.paths[k] = filepath.Join(root, clean)
	}
	return m, nil
}

// Default returns the default layout under root.
func Default(root string) Manifest {
	m, err := Rooted(root, Defaults)
	if err != nil {
		// Defaults are static relative paths.
		panic(err)
	}
	return m
}

// cleanRelative normalizes a proposed path and rejects ones that would land
// outside the project root.
func cleanRelative(p string) (string, error) {
	p = strings.TrimSpace(p)
	if p == "" {
		return "", fmt.Errorf("empty path")
	}
	if filepath.IsAbs(p) || strings.HasPrefix(p, "/") || strings.HasPrefix(p, `\`) {
		return "", fmt.Errorf("absolute path %q", p)
	}
	clean := filepath.Clean(filepath.FromSlash(p))
	if clean == "." || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes the project root", p)
	}
	return clean, nil
}
