package scene

import (
	"encoding/binary"
	"math"
	"time"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/spaghettifunk/raypath/engine/core"
	rmath "github.com/spaghettifunk/raypath/engine/math"
	"github.com/spaghettifunk/raypath/engine/renderer/frame"
)

const (
	RandomTableSize = 1024

	CameraUniformSize   = 64
	RandomUniformSize   = RandomTableSize * 4
	SettingsUniformSize = 8
	SphereStride        = 16
)

type Sphere struct {
	Center mgl32.Vec3
	Radius float32
}

type RenderSettings struct {
	MaxBounces      uint32
	SamplesPerPixel uint32
}

// Scene is the host-side, authoritative copy of everything the ray tracer reads.
type Scene struct {
	Spheres  []Sphere
	Settings RenderSettings
	Camera   *Camera

	random *rmath.RandomTable
}

// DefaultSpheres lays out a 4x4 grid of unit spheres resting above the origin.
func DefaultSpheres() []Sphere {
	spheres := make([]Sphere, 0, 16)
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			spheres = append(spheres, Sphere{
				Center: mgl32.Vec3{2*float32(i) - 4, 1, 2*float32(j) - 4},
				Radius: 1,
			})
		}
	}
	return spheres
}

func New(cfg core.SceneConfig, spheres []Sphere, aspect float32) *Scene {
	s := &Scene{
		Spheres: spheres,
		Camera:  NewCamera(mgl32.Vec3(cfg.CameraPosition), mgl32.Vec3(cfg.CameraTarget), cfg.FovDegrees, aspect),
		random:  rmath.NewRandomTable(RandomTableSize, uint64(time.Now().UnixNano())),
	}
	s.Apply(cfg)
	return s
}

// Apply takes the tunable parts of a reloaded configuration. The sphere list is fixed.
func (s *Scene) Apply(cfg core.SceneConfig) {
	s.Settings = RenderSettings{
		MaxBounces:      cfg.MaxBounces,
		SamplesPerPixel: cfg.SamplesPerPixel,
	}
	s.Camera.Position = mgl32.Vec3(cfg.CameraPosition)
	s.Camera.Target = mgl32.Vec3(cfg.CameraTarget)
	s.Camera.Fov = cfg.FovDegrees
}

// Update refreshes the per-frame random table.
func (s *Scene) Update(delta time.Duration) {
	s.random.Regenerate()
}

// Snapshot encodes the current state into the byte layouts the compute shader expects.
func (s *Scene) Snapshot() frame.SceneSnapshot {
	return frame.SceneSnapshot{
		Camera:     EncodeCamera(s.Camera.Matrix()),
		Random:     EncodeFloats(s.random.Values()),
		Settings:   EncodeSettings(s.Settings),
		Primitives: EncodeSpheres(s.Spheres),
	}
}

func EncodeCamera(m mgl32.Mat4) []byte {
	return EncodeFloats(m[:])
}

func EncodeFloats(values []float32) []byte {
	buf := make([]byte, 0, len(values)*4)
	for _, v := range values {
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(v))
	}
	return buf
}

func EncodeSettings(rs RenderSettings) []byte {
	buf := make([]byte, 0, SettingsUniformSize)
	buf = binary.LittleEndian.AppendUint32(buf, rs.MaxBounces)
	buf = binary.LittleEndian.AppendUint32(buf, rs.SamplesPerPixel)
	return buf
}

// EncodeSpheres packs each sphere as a std430 vec4: center.xyz, radius.
func EncodeSpheres(spheres []Sphere) []byte {
	buf := make([]byte, 0, len(spheres)*SphereStride)
	for _, sp := range spheres {
		for _, v := range [4]float32{sp.Center.X(), sp.Center.Y(), sp.Center.Z(), sp.Radius} {
			buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(v))
		}
	}
	return buf
}
