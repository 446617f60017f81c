package compiler

import (
	"testing"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cordage-io/cordage/internal/model"
)

func compileCatalog(t *testing.T, src string) (*model.Catalog, error) {
	t.Helper()
	ctx := cuecontext.New()
	v := ctx.CompileString(src)
	require.NoError(t, v.Err())
	return CompileCatalog(v.LookupPath(cue.ParsePath("catalog")))
}

func TestCompileCatalogBasic(t *testing.T) {
	cat, err := compileCatalog(t, `
		catalog: {
			models: {
				"camera-driver": {
					fulfills: ["imaging"]
					activation: periodic: "50ms"
					ports: frames: {dir: "output", type: "image", sampleSize: 2}
				}
				tracker: {
					activation: periodic: "100ms"
					triggerLatency: "2ms"
					ports: {
						frames: {dir: "input", triggersTask: true, reliable: true, static: true}
						targets: {dir: "output", triggeredBy: ["frames"], burst: {size: 4, period: "1s"}}
					}
				}
				vision: {
					composite: true
					children: {cam: "camera-driver", trk: "tracker"}
					wiring: [{from: "cam.frames", to: "trk.frames"}]
				}
				"bus-core": {
					activation: triggered: true
					bus: {in: "uplink", out: "downlink"}
					ports: {
						uplink:   {dir: "input", delivery: "minimal"}
						downlink: {dir: "output"}
					}
				}
				radio: {
					activation: periodic: "100ms"
					busClient: {tx: "tx", rx: "rx"}
					ports: {
						tx: {dir: "output"}
						rx: {dir: "input", delivery: "synchronous"}
					}
				}
			}
			deployments: {
				"edge-a": {host: "rig-a", offers: ["camera-driver", "tracker"]}
			}
		}
	`)
	require.NoError(t, err)

	cam, ok := cat.Model("camera-driver")
	require.True(t, ok)
	assert.Equal(t, []string{"imaging"}, cam.Fulfills)
	assert.Equal(t, model.Periodic(50*time.Millisecond), cam.Activation)
	require.Len(t, cam.Ports, 1)
	assert.Equal(t, model.PortSpec{
		Name: "frames", Dir: model.Output, Type: "image", SampleSize: 2,
	}, cam.Ports[0])

	trk, ok := cat.Model("tracker")
	require.True(t, ok)
	assert.Equal(t, 2*time.Millisecond, trk.TriggerLatency)
	require.Len(t, trk.Ports, 2)
	frames := trk.Ports[0]
	assert.Equal(t, "frames", frames.Name)
	assert.Equal(t, model.Input, frames.Dir)
	assert.Equal(t, model.DeliverSized, frames.Delivery)
	assert.True(t, frames.TriggersTask)
	assert.True(t, frames.RequiresReliable)
	assert.True(t, frames.Static)
	targets := trk.Ports[1]
	assert.Equal(t, []string{"frames"}, targets.TriggeredBy)
	assert.Equal(t, 4, targets.BurstSize)
	assert.Equal(t, time.Second, targets.BurstPeriod)

	vision, ok := cat.Model("vision")
	require.True(t, ok)
	assert.True(t, vision.Composite)
	assert.Equal(t, []model.ChildSpec{
		{Name: "cam", Model: "camera-driver"},
		{Name: "trk", Model: "tracker"},
	}, vision.Children)
	assert.Equal(t, []model.EdgeSpec{
		{SrcChild: "cam", SrcPort: "frames", SinkChild: "trk", SinkPort: "frames"},
	}, vision.Wiring)

	bus, ok := cat.Model("bus-core")
	require.True(t, ok)
	assert.Equal(t, model.Triggered(), bus.Activation)
	require.NotNil(t, bus.Bus)
	assert.Equal(t, model.BusRole{In: "uplink", Out: "downlink"}, *bus.Bus)

	radio, ok := cat.Model("radio")
	require.True(t, ok)
	require.NotNil(t, radio.BusClient)
	assert.Equal(t, model.BusClientRole{TX: "tx", RX: "rx"}, *radio.BusClient)
	assert.Equal(t, model.DeliverSynchronous, radio.Ports[1].Delivery)

	dep, ok := cat.Deployment("edge-a")
	require.True(t, ok)
	assert.Equal(t, "rig-a", dep.Host)
	assert.Equal(t, []string{"camera-driver", "tracker"}, dep.Offers)
}

func TestCompileCatalogRequiresModels(t *testing.T) {
	_, err := compileCatalog(t, `catalog: deployments: {}`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "a catalog requires a models struct")
}

func TestCompileCatalogRejectsFloatSampleSize(t *testing.T) {
	_, err := compileCatalog(t, `
		catalog: models: cam: {
			activation: periodic: "50ms"
			ports: frames: {dir: "output", sampleSize: 2.5}
		}
	`)
	require.Error(t, err)
	var ce *CompileError
	require.ErrorAs(t, err, &ce)
	assert.Contains(t, ce.Field, "sampleSize")
	assert.Contains(t, ce.Message, "float values are forbidden")
}

func TestCompileCatalogRejectsBadDuration(t *testing.T) {
	_, err := compileCatalog(t, `
		catalog: models: cam: {
			activation: periodic: "fast"
		}
	`)
	require.Error(t, err)
	var ce *CompileError
	require.ErrorAs(t, err, &ce)
	assert.Contains(t, ce.Field, "activation.periodic")
}

func TestCompileCatalogRejectsUnknownDirection(t *testing.T) {
	_, err := compileCatalog(t, `
		catalog: models: cam: {
			activation: periodic: "50ms"
			ports: frames: {dir: "sideways"}
		}
	`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown direction "sideways"`)
}

func TestCompileCatalogRequiresPortDirection(t *testing.T) {
	_, err := compileCatalog(t, `
		catalog: models: cam: {
			activation: periodic: "50ms"
			ports: frames: {type: "image"}
		}
	`)
	require.Error(t, err)
	var ce *CompileError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "cam.ports.frames.dir", ce.Field)
	assert.True(t, ce.Pos.IsValid(), "compile errors carry source positions")
}

func TestCompileCatalogRejectsAmbiguousActivation(t *testing.T) {
	_, err := compileCatalog(t, `
		catalog: models: cam: {
			activation: {periodic: "50ms", triggered: true}
		}
	`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mutually exclusive")
}

func TestCompileCatalogRejectsMalformedWiringRef(t *testing.T) {
	_, err := compileCatalog(t, `
		catalog: models: vision: {
			composite: true
			children: cam: "camera-driver"
			wiring: [{from: "camframes", to: "trk.frames"}]
		}
	`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"child.port" reference`)
}

func TestCompileCatalogRejectsNonConcreteDuration(t *testing.T) {
	_, err := compileCatalog(t, `catalog: models: cam: {activation: periodic: string}`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "durations are strings")
}

func TestCompileCatalogRejectsMalformedModels(t *testing.T) {
	_, err := compileCatalog(t, `catalog: models: 5`)
	require.Error(t, err)
}
