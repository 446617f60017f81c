package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeStack creates a temp stack directory holding one CUE file.
func writeStack(t *testing.T, src string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "stack.cue"), []byte(src), 0644))
	return dir
}

func TestLoadStackValid(t *testing.T) {
	dir := writeStack(t, `
package test

catalog: {
	models: {
		telemetry: {
			activation: periodic: "50ms"
			ports: stats: {dir: "output"}
		}
	}
	deployments: {
		"edge-a": {host: "rig-a", offers: ["telemetry"]}
	}
}

profile: {
	requirements: {
		tm: model: "telemetry"
	}
}
`)

	stack, err := LoadStack(dir)
	require.NoError(t, err)
	require.NotNil(t, stack.Catalog)
	assert.Equal(t, 1, stack.FileCount)
	assert.Equal(t, []string{"telemetry"}, stack.Catalog.ModelNames())
	require.Len(t, stack.Requirements, 1)
	assert.Equal(t, "tm", stack.Requirements[0].Name)
	assert.Equal(t, "telemetry", stack.Requirements[0].Model)
}

func TestLoadStackCatalogOnly(t *testing.T) {
	dir := writeStack(t, `
package test

catalog: {
	models: {
		telemetry: {
			activation: periodic: "50ms"
			ports: stats: {dir: "output"}
		}
	}
}
`)

	stack, err := LoadStack(dir)
	require.NoError(t, err)
	require.NotNil(t, stack.Catalog)
	assert.Empty(t, stack.Requirements)
}

func TestLoadStackSpansFiles(t *testing.T) {
	dir := t.TempDir()
	catalog := `
package test

catalog: {
	models: {
		telemetry: {
			activation: periodic: "50ms"
			ports: stats: {dir: "output"}
		}
	}
}
`
	profile := `
package test

profile: {
	requirements: {
		tm: model: "telemetry"
	}
}
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "catalog.cue"), []byte(catalog), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "profile.cue"), []byte(profile), 0644))

	stack, err := LoadStack(dir)
	require.NoError(t, err)
	assert.Equal(t, 2, stack.FileCount)
	require.Len(t, stack.Requirements, 1)
	assert.Equal(t, "tm", stack.Requirements[0].Name)
}

func TestLoadStackMissingDir(t *testing.T) {
	_, err := LoadStack("/nonexistent/directory/path")
	require.Error(t, err)

	var loadErr *LoadError
	require.ErrorAs(t, err, &loadErr)
	assert.Equal(t, ErrCodeNotFound, loadErr.Code)
	assert.Contains(t, loadErr.Message, "not found")
}

func TestLoadStackNotADirectory(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "stack.cue")
	require.NoError(t, os.WriteFile(file, []byte("catalog: {}"), 0644))

	_, err := LoadStack(file)
	require.Error(t, err)

	var loadErr *LoadError
	require.ErrorAs(t, err, &loadErr)
	assert.Equal(t, ErrCodeNotFound, loadErr.Code)
	assert.Contains(t, loadErr.Message, "not a directory")
}

func TestLoadStackEmptyDir(t *testing.T) {
	_, err := LoadStack(t.TempDir())
	require.Error(t, err)

	var loadErr *LoadError
	require.ErrorAs(t, err, &loadErr)
	assert.Equal(t, ErrCodeNoFiles, loadErr.Code)
}

func TestLoadStackParseError(t *testing.T) {
	dir := writeStack(t, `
package test

catalog: {
`)

	_, err := LoadStack(dir)
	require.Error(t, err)

	var loadErr *LoadError
	require.ErrorAs(t, err, &loadErr)
	assert.Equal(t, ErrCodeLoadFailed, loadErr.Code)
}

func TestLoadStackNoCatalog(t *testing.T) {
	dir := writeStack(t, `
package test

profile: {
	requirements: {}
}
`)

	_, err := LoadStack(dir)
	require.Error(t, err)

	var loadErr *LoadError
	require.ErrorAs(t, err, &loadErr)
	assert.Equal(t, ErrCodeCompile, loadErr.Code)
	assert.Contains(t, loadErr.Message, "no catalog struct found")
}

func TestLoadStackCompileError(t *testing.T) {
	dir := writeStack(t, `
package test

catalog: {
	models: {
		cam: {
			activation: periodic: "50ms"
			ports: frames: {dir: "sideways"}
		}
	}
}
`)

	_, err := LoadStack(dir)
	require.Error(t, err)

	var loadErr *LoadError
	require.ErrorAs(t, err, &loadErr)
	assert.Equal(t, ErrCodeCompile, loadErr.Code)
	assert.Contains(t, loadErr.Message, "dir")
	assert.True(t, loadErr.Pos.IsValid(), "compile errors should carry the CUE position")
	assert.Contains(t, err.Error(), "stack.cue")
}

func TestFindCUEFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.cue"), []byte("x: 1"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "b.cue"), []byte("y: 2"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("skip"), 0644))

	files, err := FindCUEFiles(dir)
	require.NoError(t, err)
	assert.Len(t, files, 2)
	for _, f := range files {
		assert.Equal(t, ".cue", filepath.Ext(f))
	}
}

func TestLoadErrorFormat(t *testing.T) {
	plain := &LoadError{Code: ErrCodeNoFiles, Message: "no CUE files found in ./stack"}
	assert.Equal(t, "E003: no CUE files found in ./stack", plain.Error())
}
