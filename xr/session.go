// Package xr describes the XR runtime session the renderer presents to in stereo
// mode. The runtime binding itself lives outside this module.
package xr

import (
	"fmt"
	"time"

	"github.com/vkngwrapper/core/v3/core1_0"
)

type SessionState int

const (
	SessionUnknown SessionState = iota
	SessionIdle
	SessionReady
	SessionSynchronized
	SessionVisible
	SessionFocused
	SessionStopping
	SessionLossPending
	SessionExiting
)

var sessionStateNames = map[SessionState]string{
	SessionUnknown:      "unknown",
	SessionIdle:         "idle",
	SessionReady:        "ready",
	SessionSynchronized: "synchronized",
	SessionVisible:      "visible",
	SessionFocused:      "focused",
	SessionStopping:     "stopping",
	SessionLossPending:  "loss-pending",
	SessionExiting:      "exiting",
}

func (s SessionState) String() string {
	if name, ok := sessionStateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("SessionState(%d)", int(s))
}

// Runnable reports whether the frame loop may run in this state.
func (s SessionState) Runnable() bool {
	switch s {
	case SessionReady, SessionSynchronized, SessionVisible, SessionFocused:
		return true
	}
	return false
}

type FrameState struct {
	ShouldRender         bool
	PredictedDisplayTime time.Duration
}

// ProjectionLayer submits one swapchain image with one array layer per eye.
type ProjectionLayer struct {
	ImageIndex int
	Extent     core1_0.Extent2D
	Layers     int
}

type Session interface {
	State() SessionState
	// RecommendedExtent is the per-eye image size the runtime asks for.
	RecommendedExtent() core1_0.Extent2D
	SwapchainFormats() ([]core1_0.Format, error)
	// CreateSwapchain returns the runtime-owned images; the caller never destroys them.
	CreateSwapchain(format core1_0.Format, extent core1_0.Extent2D, layers int, imageCount int) ([]core1_0.Image, error)
	DestroySwapchain() error

	WaitFrame() (FrameState, error)
	BeginFrame() error
	AcquireSwapchainImage() (int, error)
	WaitSwapchainImage() error
	ReleaseSwapchainImage() error
	EndFrame(frame FrameState, layers []ProjectionLayer) error
}
