package scene

import (
	"encoding/binary"
	"math"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/raypath/engine/core"
)

func floatAt(b []byte, i int) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
}

func TestDefaultSpheresGrid(t *testing.T) {
	spheres := DefaultSpheres()
	require.Len(t, spheres, 16)
	assert.Equal(t, Sphere{Center: mgl32.Vec3{-4, 1, -4}, Radius: 1}, spheres[0])
	assert.Equal(t, Sphere{Center: mgl32.Vec3{2, 1, 2}, Radius: 1}, spheres[15])
}

func TestSnapshotLayouts(t *testing.T) {
	s := New(core.DefaultConfig().Scene, []Sphere{{Center: mgl32.Vec3{0, 0, 0}, Radius: 1}}, 1)
	snap := s.Snapshot()

	assert.Len(t, snap.Camera, CameraUniformSize)
	assert.Len(t, snap.Random, RandomUniformSize)
	assert.Len(t, snap.Settings, SettingsUniformSize)
	assert.Len(t, snap.Primitives, SphereStride)

	assert.Equal(t, float32(1), floatAt(snap.Primitives, 3))
	assert.Equal(t, uint32(8), binary.LittleEndian.Uint32(snap.Settings[0:]))
	assert.Equal(t, uint32(1), binary.LittleEndian.Uint32(snap.Settings[4:]))

	// eye position lives in the last column
	assert.Equal(t, float32(0), floatAt(snap.Camera, 12))
	assert.Equal(t, float32(2), floatAt(snap.Camera, 13))
	assert.Equal(t, float32(8), floatAt(snap.Camera, 14))
	assert.Equal(t, float32(1), floatAt(snap.Camera, 15))
}

func TestSnapshotDoesNotMutate(t *testing.T) {
	s := New(core.DefaultConfig().Scene, DefaultSpheres(), 1)
	a := s.Snapshot()
	b := s.Snapshot()
	assert.Equal(t, a, b)

	s.Update(16 * time.Millisecond)
	c := s.Snapshot()
	assert.NotEqual(t, a.Random, c.Random)
	assert.Equal(t, a.Primitives, c.Primitives)
}

func TestApplyReloadsSettingsAndCamera(t *testing.T) {
	cfg := core.DefaultConfig().Scene
	s := New(cfg, DefaultSpheres(), 1)

	cfg.MaxBounces = 2
	cfg.CameraPosition = [3]float32{1, 1, 1}
	s.Apply(cfg)

	assert.Equal(t, uint32(2), s.Settings.MaxBounces)
	assert.Equal(t, mgl32.Vec3{1, 1, 1}, s.Camera.Position)
	assert.Len(t, s.Spheres, 16)
}

func TestCameraBasisIsOrthogonal(t *testing.T) {
	c := NewCamera(mgl32.Vec3{0, 0, 5}, mgl32.Vec3{0, 0, 0}, 90, 2)
	m := c.Matrix()

	right, up, forward := m.Col(0).Vec3(), m.Col(1).Vec3(), m.Col(2).Vec3()
	assert.InDelta(t, 0, right.Dot(up), 1e-5)
	assert.InDelta(t, 0, right.Dot(forward), 1e-5)
	assert.InDelta(t, 1, forward.Len(), 1e-5)
	// tan(45deg) = 1, scaled by the aspect ratio horizontally
	assert.InDelta(t, 1, up.Len(), 1e-5)
	assert.InDelta(t, 2, right.Len(), 1e-5)
	assert.True(t, forward.ApproxEqual(mgl32.Vec3{0, 0, -1}))
}
