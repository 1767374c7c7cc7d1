package fakegpu

import (
	"github.com/vkngwrapper/core/v3/core1_0"

	"github.com/vkngwrapper/renderloop/xr"
)

// Session is a scripted XR session that records the frame loop calls it sees.
type Session struct {
	StateValue   xr.SessionState
	Extent       core1_0.Extent2D
	Formats      []core1_0.Format
	ShouldRender bool
	Images       int

	Calls       []string
	EndedLayers [][]xr.ProjectionLayer
	Created     int
	Destroyed   int
}

func NewSession() *Session {
	return &Session{
		StateValue:   xr.SessionFocused,
		Extent:       core1_0.Extent2D{Width: 1832, Height: 1920},
		Formats:      []core1_0.Format{core1_0.FormatR8G8B8A8SRGB, core1_0.FormatB8G8R8A8SRGB},
		ShouldRender: true,
		Images:       3,
	}
}

func (s *Session) State() xr.SessionState { return s.StateValue }

func (s *Session) RecommendedExtent() core1_0.Extent2D { return s.Extent }

func (s *Session) SwapchainFormats() ([]core1_0.Format, error) { return s.Formats, nil }

func (s *Session) CreateSwapchain(format core1_0.Format, extent core1_0.Extent2D, layers int, imageCount int) ([]core1_0.Image, error) {
	s.Created++
	return make([]core1_0.Image, s.Images), nil
}

func (s *Session) DestroySwapchain() error {
	s.Destroyed++
	return nil
}

func (s *Session) WaitFrame() (xr.FrameState, error) {
	s.Calls = append(s.Calls, "WaitFrame")
	return xr.FrameState{ShouldRender: s.ShouldRender}, nil
}

func (s *Session) BeginFrame() error {
	s.Calls = append(s.Calls, "BeginFrame")
	return nil
}

func (s *Session) AcquireSwapchainImage() (int, error) {
	s.Calls = append(s.Calls, "AcquireSwapchainImage")
	return 0, nil
}

func (s *Session) WaitSwapchainImage() error {
	s.Calls = append(s.Calls, "WaitSwapchainImage")
	return nil
}

func (s *Session) ReleaseSwapchainImage() error {
	s.Calls = append(s.Calls, "ReleaseSwapchainImage")
	return nil
}

func (s *Session) EndFrame(frame xr.FrameState, layers []xr.ProjectionLayer) error {
	s.Calls = append(s.Calls, "EndFrame")
	s.EndedLayers = append(s.EndedLayers, layers)
	return nil
}
