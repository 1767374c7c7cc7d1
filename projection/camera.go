// Package projection keeps the view/projection uniform in step with the viewer:
// head poses from the XR runtime in stereo mode, a keyboard and mouse driven
// camera in flat mode.
package projection

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/vkngwrapper/renderloop/config"
	"github.com/vkngwrapper/renderloop/events"
)

// Clip maps OpenGL-style clip space onto Vulkan's: Y points down and depth
// runs over [0, 1].
var Clip = mgl32.Mat4{1, 0, 0, 0, 0, -1, 0, 0, 0, 0, 0.5, 0, 0, 0, 0.5, 1}

var up = mgl32.Vec3{0, 1, 0}

// Camera is a fly camera. Yaw and Pitch are in degrees, Yaw -90 looks down -Z.
type Camera struct {
	Position mgl32.Vec3
	Yaw      float32
	Pitch    float32
	FovY     float32
	Aspect   float32
	Near     float32
	Far      float32

	MoveSpeed float32
	LookSpeed float32
}

func NewCamera(cfg config.Camera, aspect float32) *Camera {
	return &Camera{
		Position:  mgl32.Vec3(cfg.Eye),
		Yaw:       cfg.Yaw,
		Pitch:     cfg.Pitch,
		FovY:      cfg.FovY,
		Aspect:    aspect,
		Near:      cfg.Near,
		Far:       cfg.Far,
		MoveSpeed: cfg.MoveSpeed,
		LookSpeed: cfg.LookSpeed,
	}
}

func (c *Camera) Front() mgl32.Vec3 {
	yaw := float64(mgl32.DegToRad(c.Yaw))
	pitch := float64(mgl32.DegToRad(c.Pitch))
	return mgl32.Vec3{
		float32(math.Cos(yaw) * math.Cos(pitch)),
		float32(math.Sin(pitch)),
		float32(math.Sin(yaw) * math.Cos(pitch)),
	}.Normalize()
}

func (c *Camera) View() mgl32.Mat4 {
	return mgl32.LookAtV(c.Position, c.Position.Add(c.Front()), up)
}

func (c *Camera) Projection() mgl32.Mat4 {
	return Clip.Mul4(mgl32.Perspective(mgl32.DegToRad(c.FovY), c.Aspect, c.Near, c.Far))
}

// Move steps the camera one MoveSpeed along the direction key stands for.
// It reports false for keys that do not move the camera.
func (c *Camera) Move(key events.Key) bool {
	front := c.Front()
	right := front.Cross(up).Normalize()

	var dir mgl32.Vec3
	switch key {
	case events.KeyForward:
		dir = front
	case events.KeyBack:
		dir = front.Mul(-1)
	case events.KeyRight:
		dir = right
	case events.KeyLeft:
		dir = right.Mul(-1)
	case events.KeyUp:
		dir = up
	case events.KeyDown:
		dir = up.Mul(-1)
	default:
		return false
	}
	c.Position = c.Position.Add(dir.Mul(c.MoveSpeed))
	return true
}

// Look turns the camera by a mouse delta. Pitch stays within (-89, 89) so the
// view never flips over the pole.
func (c *Camera) Look(dx, dy float32) {
	c.Yaw += dx * c.LookSpeed
	c.Pitch -= dy * c.LookSpeed
	c.Pitch = mgl32.Clamp(c.Pitch, -89, 89)
}
