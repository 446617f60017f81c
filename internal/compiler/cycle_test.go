package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cordage-io/cordage/internal/model"
)

func composite(name string, children ...model.ChildSpec) *model.ModelSpec {
	return &model.ModelSpec{Name: name, Composite: true, Children: children}
}

func TestAnalyzeCompositesAcceptsTree(t *testing.T) {
	cat := makeCatalog(t,
		concrete("camera", outPort("frames")),
		concrete("tracker", inPort("frames")),
		composite("vision",
			model.ChildSpec{Name: "cam", Model: "camera"},
			model.ChildSpec{Name: "trk", Model: "tracker"},
		),
		composite("stack", model.ChildSpec{Name: "v", Model: "vision"}),
	)
	assert.Empty(t, AnalyzeComposites(cat))
}

func TestAnalyzeCompositesIgnoresSharedChildren(t *testing.T) {
	cat := makeCatalog(t,
		concrete("leaf", outPort("x")),
		composite("wing", model.ChildSpec{Name: "l", Model: "leaf"}),
		composite("root",
			model.ChildSpec{Name: "left", Model: "wing"},
			model.ChildSpec{Name: "right", Model: "wing"},
		),
	)
	assert.Empty(t, AnalyzeComposites(cat))
}

func TestAnalyzeCompositesFlagsSelfContainment(t *testing.T) {
	cat := makeCatalog(t, composite("ouro", model.ChildSpec{Name: "inner", Model: "ouro"}))

	cycles := AnalyzeComposites(cat)
	require.Len(t, cycles, 1)
	assert.Equal(t, []string{"ouro", "ouro"}, cycles[0].Path)
	assert.Equal(t, "composite containment cycle: ouro -> ouro", cycles[0].Message)
}

func TestAnalyzeCompositesFlagsMutualContainment(t *testing.T) {
	cat := makeCatalog(t,
		composite("loop-a", model.ChildSpec{Name: "x", Model: "loop-b"}),
		composite("loop-b", model.ChildSpec{Name: "y", Model: "loop-a"}),
	)

	cycles := AnalyzeComposites(cat)
	require.Len(t, cycles, 1)
	assert.Equal(t, []string{"loop-b", "loop-a", "loop-b"}, cycles[0].Path)
	assert.Contains(t, cycles[0].Message, "composite containment cycle")
}

func TestAnalyzeCompositesWalksLongerRings(t *testing.T) {
	cat := makeCatalog(t,
		composite("ring-a", model.ChildSpec{Name: "n", Model: "ring-b"}),
		composite("ring-b", model.ChildSpec{Name: "n", Model: "ring-c"}),
		composite("ring-c", model.ChildSpec{Name: "n", Model: "ring-a"}),
	)

	cycles := AnalyzeComposites(cat)
	require.Len(t, cycles, 1)
	assert.Equal(t, []string{"ring-c", "ring-a", "ring-b", "ring-c"}, cycles[0].Path)
}
