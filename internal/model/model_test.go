package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLifecycleStateFinished(t *testing.T) {
	assert.False(t, StatePending.Finished())
	assert.False(t, StateRunning.Finished())
	assert.True(t, StateFinishing.Finished())
	assert.True(t, StateFinished.Finished())
}

func TestInstanceLiveness(t *testing.T) {
	inst := &Instance{ID: 1, Model: "driver"}
	assert.False(t, inst.Deployed())
	assert.False(t, inst.Live())

	inst.Deployment = 7
	assert.True(t, inst.Deployed())
	assert.False(t, inst.Live(), "deployed but pending is not live")

	inst.State = StateRunning
	assert.True(t, inst.Live())

	inst.State = StateFinishing
	assert.False(t, inst.Live())
}

func TestInstanceCloneIsDeep(t *testing.T) {
	orig := &Instance{
		ID:    3,
		Name:  "cam",
		Model: "camera",
		Ports: []PortSpec{{Name: "frames", Dir: Output, TriggeredBy: []string{"in"}}},
		Children: []InstanceID{10, 11},
		Connections: []ConnSpec{
			{SrcPort: "frames", Sink: 4, SinkPort: "in", Policy: Buffer(2)},
		},
	}
	clone := orig.Clone()
	require.Equal(t, orig, clone)

	clone.Ports[0].TriggeredBy[0] = "other"
	clone.Children[0] = 99
	clone.Connections[0].Policy = Data()

	assert.Equal(t, "in", orig.Ports[0].TriggeredBy[0])
	assert.Equal(t, InstanceID(10), orig.Children[0])
	assert.Equal(t, Buffer(2), orig.Connections[0].Policy)
}

func TestPolicyString(t *testing.T) {
	cases := []struct {
		policy Policy
		want   string
	}{
		{Policy{}, "unset"},
		{Data(), "data"},
		{Policy{Kind: PolicyData, Reliable: true}, "data[reliable]"},
		{Buffer(4), "buffer[4]"},
		{Policy{Kind: PolicyBuffer, Size: 4, Reliable: true}, "buffer[4,reliable]"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, tc.policy.String())
	}
}

func TestCatalogRejectsDuplicates(t *testing.T) {
	cat := NewCatalog()
	require.NoError(t, cat.AddModel(&ModelSpec{Name: "camera"}))
	err := cat.AddModel(&ModelSpec{Name: "camera"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "camera")

	require.NoError(t, cat.AddDeployment(&DeploymentSpec{Name: "d0", Host: "h0"}))
	require.Error(t, cat.AddDeployment(&DeploymentSpec{Name: "d0", Host: "h1"}))
}

func TestCatalogFulfills(t *testing.T) {
	cat := NewCatalog()
	require.NoError(t, cat.AddModel(&ModelSpec{Name: "image_source"}))
	require.NoError(t, cat.AddModel(&ModelSpec{
		Name:     "camera",
		Fulfills: []string{"image_source"},
	}))

	assert.True(t, cat.Fulfills("camera", "camera"), "a model fulfills itself")
	assert.True(t, cat.Fulfills("camera", "image_source"))
	assert.False(t, cat.Fulfills("image_source", "camera"))
	assert.False(t, cat.Fulfills("unknown", "camera"))
}

func TestCatalogDeploymentsOfferingIsSorted(t *testing.T) {
	cat := NewCatalog()
	require.NoError(t, cat.AddModel(&ModelSpec{Name: "camera"}))
	require.NoError(t, cat.AddDeployment(&DeploymentSpec{Name: "zeta", Host: "h", Offers: []string{"camera"}}))
	require.NoError(t, cat.AddDeployment(&DeploymentSpec{Name: "alpha", Host: "h", Offers: []string{"camera"}}))
	require.NoError(t, cat.AddDeployment(&DeploymentSpec{Name: "mu", Host: "h", Offers: []string{"other"}}))

	names := []string{}
	for _, d := range cat.DeploymentsOffering("camera") {
		names = append(names, d.Name)
	}
	assert.Equal(t, []string{"alpha", "zeta"}, names)
}

func TestResolveSelection(t *testing.T) {
	pinned, hints := ResolveSelection(Selection{})
	assert.Equal(t, InstanceID(0), pinned)
	assert.Empty(t, hints)

	pinned, hints = ResolveSelection(DirectSelection(42))
	assert.Equal(t, InstanceID(42), pinned)
	assert.Empty(t, hints)

	pinned, hints = ResolveSelection(ListSelection("b", "a"))
	assert.Equal(t, InstanceID(0), pinned)
	assert.Equal(t, []string{"b", "a"}, hints)

	pinned, hints = ResolveSelection(NameSelection("front"))
	assert.Equal(t, InstanceID(0), pinned)
	assert.Equal(t, []string{"front"}, hints)
}
