// Package events is the in-process bus that carries window, input, XR and asset
// notifications to the renderer.
package events

import (
	"github.com/go-gl/mathgl/mgl32"

	"github.com/vkngwrapper/renderloop/mesh"
)

// SurfaceResized reports a new drawable size. Stale is set when the presentation
// engine, rather than the window, reported the surface out of date.
type SurfaceResized struct {
	Width  int
	Height int
	Stale  bool
}

// HeadPoseUpdated carries per-eye view and projection matrices from the XR runtime.
// A well-formed pose has exactly two of each.
type HeadPoseUpdated struct {
	Views       []mgl32.Mat4
	Projections []mgl32.Mat4
}

type Key int

const (
	KeyUnknown Key = iota
	KeyForward
	KeyBack
	KeyLeft
	KeyRight
	KeyUp
	KeyDown
)

type KeyPressed struct {
	Key Key
}

type MouseMoved struct {
	DX float32
	DY float32
}

// MeshReady is published once per load request, in completion order. Seq is the
// order in which the request was submitted.
type MeshReady struct {
	Seq  uint64
	Mesh mesh.Data
}

type MeshLoadingFinished struct {
	Count int
}

type Bus struct {
	SurfaceResized      Topic[SurfaceResized]
	HeadPoseUpdated     Topic[HeadPoseUpdated]
	KeyPressed          Topic[KeyPressed]
	MouseMoved          Topic[MouseMoved]
	MeshReady           Topic[MeshReady]
	MeshLoadingFinished Topic[MeshLoadingFinished]
}

func NewBus() *Bus {
	return &Bus{}
}
