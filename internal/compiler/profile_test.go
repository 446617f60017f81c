package compiler

import (
	"testing"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cordage-io/cordage/internal/model"
)

func compileProfile(t *testing.T, src string) ([]model.Requirement, error) {
	t.Helper()
	ctx := cuecontext.New()
	v := ctx.CompileString(src)
	require.NoError(t, v.Err())
	return CompileProfile(v.LookupPath(cue.ParsePath("profile")))
}

func TestCompileProfileBasic(t *testing.T) {
	reqs, err := compileProfile(t, `
		profile: requirements: {
			vision: {model: "vision-composite"}
			radio:  {model: "radio-client", via: "bus"}
			bus:    {model: "bus-core", permanent: true}
			pinned: {model: "telemetry", instance: 7}
			cam:    {model: "camera-driver", deployment: "edge-a"}
			nav:    {model: "localization", deployments: ["edge-b", "edge-c"]}
		}
	`)
	require.NoError(t, err)

	want := []model.Requirement{
		{Name: "bus", Model: "bus-core", Permanent: true},
		{Name: "cam", Model: "camera-driver", Selection: model.NameSelection("edge-a")},
		{Name: "nav", Model: "localization", Selection: model.ListSelection("edge-b", "edge-c")},
		{Name: "pinned", Model: "telemetry", Selection: model.DirectSelection(7)},
		{Name: "radio", Model: "radio-client", Via: "bus"},
		{Name: "vision", Model: "vision-composite"},
	}
	assert.Equal(t, want, reqs)
}

func TestCompileProfileEmptyIsLegal(t *testing.T) {
	reqs, err := compileProfile(t, `profile: requirements: {}`)
	require.NoError(t, err)
	assert.Empty(t, reqs)
}

func TestCompileProfileRequiresStruct(t *testing.T) {
	_, err := compileProfile(t, `profile: {}`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "a profile requires a requirements struct")
}

func TestCompileProfileRequiresModel(t *testing.T) {
	_, err := compileProfile(t, `profile: requirements: ghost: {permanent: true}`)
	require.Error(t, err)
	var ce *CompileError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "ghost.model", ce.Field)
	assert.Equal(t, "required string is missing", ce.Message)
}

func TestCompileProfileRejectsConflictingSelections(t *testing.T) {
	_, err := compileProfile(t, `
		profile: requirements: nav: {
			model:      "localization"
			instance:   3
			deployment: "edge-a"
		}
	`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "instance, deployment and deployments are mutually exclusive")
}

func TestCompileProfileRejectsFloatPin(t *testing.T) {
	_, err := compileProfile(t, `
		profile: requirements: nav: {model: "localization", instance: 3.5}
	`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "float values are forbidden")
}

func TestCompileProfileRejectsNonPositivePin(t *testing.T) {
	_, err := compileProfile(t, `
		profile: requirements: nav: {model: "localization", instance: 0}
	`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "instance pins are positive ids")
}
