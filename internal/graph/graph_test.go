package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cordage-io/cordage/internal/model"
)

func TestAddRemovePair(t *testing.T) {
	g := New()
	g.Add(1, "out", 2, "in", model.Data())
	g.Add(1, "aux", 2, "side", model.Buffer(3))

	key := EdgeKey{Src: 1, Sink: 2}
	require.Equal(t, 1, g.Len())
	assert.Equal(t, 2, g.PairCount())
	assert.True(t, g.Has(key, PortPair{"out", "in"}))

	p, ok := g.Policy(key, PortPair{"aux", "side"})
	require.True(t, ok)
	assert.Equal(t, model.Buffer(3), p)

	g.Remove(1, "out", 2, "in")
	assert.Equal(t, 1, g.Len(), "edge survives while a pair remains")
	g.Remove(1, "aux", 2, "side")
	assert.Equal(t, 0, g.Len(), "edge vanishes with its last pair")
	assert.False(t, g.HasInbound(2))
	assert.False(t, g.HasOutbound(1))
}

func TestRemoveMissingPairIsNoop(t *testing.T) {
	g := New()
	g.Remove(1, "out", 2, "in")
	g.Add(1, "out", 2, "in", model.Data())
	g.Remove(1, "other", 2, "in")
	assert.Equal(t, 1, g.PairCount())
}

func TestAdjacencyOrdering(t *testing.T) {
	g := New()
	g.Add(5, "o", 9, "i", model.Data())
	g.Add(5, "o", 3, "i", model.Data())
	g.Add(5, "o", 7, "i", model.Data())
	g.Add(2, "o", 5, "i", model.Data())
	g.Add(8, "o", 5, "i", model.Data())

	assert.Equal(t, []model.InstanceID{3, 7, 9}, g.Out(5))
	assert.Equal(t, []model.InstanceID{2, 8}, g.In(5))
	assert.Equal(t, []EdgeKey{
		{Src: 2, Sink: 5},
		{Src: 5, Sink: 3},
		{Src: 5, Sink: 7},
		{Src: 5, Sink: 9},
		{Src: 8, Sink: 5},
	}, g.Edges())
}

func TestRemoveInstance(t *testing.T) {
	g := New()
	g.Add(1, "o", 2, "i", model.Data())
	g.Add(2, "o", 3, "i", model.Data())
	g.Add(3, "o", 2, "i", model.Data())
	g.Add(1, "o", 3, "i", model.Data())

	g.RemoveInstance(2)

	assert.Equal(t, []EdgeKey{{Src: 1, Sink: 3}}, g.Edges())
	assert.False(t, g.HasInbound(2))
	assert.False(t, g.HasOutbound(2))
	assert.Equal(t, []model.InstanceID{3}, g.Out(1))
}

func TestMappingIsACopy(t *testing.T) {
	g := New()
	g.Add(1, "o", 2, "i", model.Data())
	key := EdgeKey{Src: 1, Sink: 2}

	m := g.Mapping(key)
	m[PortPair{"x", "y"}] = model.Buffer(9)

	assert.Equal(t, 1, g.PairCount(), "mutating the returned mapping must not touch the graph")
	assert.Nil(t, g.Mapping(EdgeKey{Src: 9, Sink: 9}))
}

func TestCloneIsIndependent(t *testing.T) {
	g := New()
	g.Add(1, "o", 2, "i", model.Buffer(2))
	c := g.Clone()

	c.Add(1, "o2", 2, "i2", model.Data())
	c.Remove(1, "o", 2, "i")

	assert.Equal(t, 1, g.PairCount())
	assert.True(t, g.Has(EdgeKey{Src: 1, Sink: 2}, PortPair{"o", "i"}))
	assert.Equal(t, 1, c.PairCount())
	assert.True(t, c.Has(EdgeKey{Src: 1, Sink: 2}, PortPair{"o2", "i2"}))
}

func TestPairsOrdering(t *testing.T) {
	g := New()
	g.Add(1, "b", 2, "z", model.Data())
	g.Add(1, "b", 2, "a", model.Data())
	g.Add(1, "a", 2, "m", model.Data())

	assert.Equal(t, []PortPair{
		{SrcPort: "a", SinkPort: "m"},
		{SrcPort: "b", SinkPort: "a"},
		{SrcPort: "b", SinkPort: "z"},
	}, g.Pairs(EdgeKey{Src: 1, Sink: 2}))
}

func TestStaticMarks(t *testing.T) {
	g := New()
	g.Add(1, "cmd", 2, "in", model.Data())
	g.MarkStatic(model.PortRef{Instance: 2, Port: "in"})

	assert.True(t, g.IsStatic(model.PortRef{Instance: 2, Port: "in"}))
	assert.False(t, g.IsStatic(model.PortRef{Instance: 1, Port: "cmd"}))

	c := g.Clone()
	assert.True(t, c.IsStatic(model.PortRef{Instance: 2, Port: "in"}))
	c.MarkStatic(model.PortRef{Instance: 3, Port: "x"})
	assert.False(t, g.IsStatic(model.PortRef{Instance: 3, Port: "x"}), "clone marks stay local")

	g.RemoveInstance(2)
	assert.False(t, g.IsStatic(model.PortRef{Instance: 2, Port: "in"}), "removal clears the instance's marks")
}

func TestHasInboundPort(t *testing.T) {
	g := New()
	g.Add(1, "out", 3, "video", model.Buffer(4))
	g.Add(2, "out", 3, "audio", model.Data())

	assert.True(t, g.HasInboundPort(3, "video"))
	assert.True(t, g.HasInboundPort(3, "audio"))
	assert.False(t, g.HasInboundPort(3, "telemetry"))
	assert.False(t, g.HasInboundPort(1, "out"))

	g.Remove(1, "out", 3, "video")
	assert.False(t, g.HasInboundPort(3, "video"))
}
