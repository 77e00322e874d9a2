package manifest

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	m := Default("src")

	assert.Equal(t, filepath.Join("src", "src", "app.py"), m.Implementation())
	assert.Equal(t, filepath.Join("src", "tests", "test_app.py"), m.Test())
	assert.Equal(t, filepath.Join("src", "docs", "README.md"), m.Docs())
	assert.Equal(t, filepath.Join("src", "src", "app.idl"), m.Interface())
	assert.Equal(t, filepath.Join("src", "build_and_run.sh"), m.RunScript())
	assert.Len(t, m.Paths(), 5)
}

func TestRooted_RejectsEscapes(t *testing.T) {
	tests := []struct {
		name string
		path string
	}{
		{"absolute", "/etc/passwd"},
		{"parent", "../outside.py"},
		{"nested parent", "pkg/../../outside.py"},
		{"empty", "  "},
		{"dot", "."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Rooted("root", map[Key]string{ImplementationFile: tt.path})
			assert.Error(t, err)
		})
	}
}

func TestRooted_CleansPaths(t *testing.T) {
	m, err := Rooted("root", map[Key]string{ImplementationFile: "./pkg//calc.py"})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("root", "pkg", "calc.py"), m.Implementation())
	assert.Equal(t, filepath.Join("root", "tests", "test_app.py"), m.Test(), "absent keys use defaults")
}

func TestManifest_PathsIsCopy(t *testing.T) {
	m := Default("src")
	p := m.Paths()
	p[ImplementationFile] = "mutated"
	assert.NotEqual(t, "mutated", m.Implementation())
}
