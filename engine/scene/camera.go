package scene

import (
	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"
)

var worldUp = mgl32.Vec3{0, 1, 0}

// Camera is a pinhole camera. Its uniform is a 4x4 column-major matrix whose first
// three columns are the scaled right, up and forward axes and whose last column is
// the eye position.
type Camera struct {
	Position mgl32.Vec3
	Target   mgl32.Vec3
	// Vertical field of view in degrees.
	Fov    float32
	Aspect float32
}

func NewCamera(position, target mgl32.Vec3, fovDegrees, aspect float32) *Camera {
	return &Camera{
		Position: position,
		Target:   target,
		Fov:      fovDegrees,
		Aspect:   aspect,
	}
}

func (c *Camera) basis() (right, up, forward mgl32.Vec3) {
	forward = c.Target.Sub(c.Position)
	if forward.Len() == 0 {
		forward = mgl32.Vec3{0, 0, -1}
	}
	forward = forward.Normalize()
	right = forward.Cross(worldUp)
	if right.Len() == 0 {
		// looking straight up or down
		right = mgl32.Vec3{1, 0, 0}
	}
	right = right.Normalize()
	up = right.Cross(forward).Normalize()
	return right, up, forward
}

func (c *Camera) Matrix() mgl32.Mat4 {
	right, up, forward := c.basis()
	halfHeight := math32.Tan(mgl32.DegToRad(c.Fov) / 2)
	halfWidth := halfHeight * c.Aspect
	return mgl32.Mat4FromCols(
		right.Mul(halfWidth).Vec4(0),
		up.Mul(halfHeight).Vec4(0),
		forward.Vec4(0),
		c.Position.Vec4(1),
	)
}
