package swapchain

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"

	"github.com/vkngwrapper/renderloop/gpu"
)

// FramebufferSet is one framebuffer per swapchain image, all bound to the same
// render pass. The chain rebuilds every registered set whenever its images
// change, so len(Framebuffers()) always equals len(chain.Images()).
type FramebufferSet struct {
	chain        *Chain
	renderPass   core1_0.RenderPass
	framebuffers []core1_0.Framebuffer
}

// NewFramebufferSet registers a set for renderPass and, if the chain already
// exists, builds it immediately.
func (c *Chain) NewFramebufferSet(renderPass core1_0.RenderPass) (*FramebufferSet, error) {
	set := &FramebufferSet{chain: c, renderPass: renderPass}
	if c.created {
		if err := set.build(); err != nil {
			return nil, err
		}
	}
	c.sets = append(c.sets, set)
	return set, nil
}

func (c *Chain) buildFramebuffers() error {
	for _, set := range c.sets {
		if err := set.build(); err != nil {
			return err
		}
	}
	return nil
}

func (s *FramebufferSet) build() error {
	c := s.chain
	framebuffers := make([]core1_0.Framebuffer, 0, len(c.views))
	for _, view := range c.views {
		// Multiview renders both eyes through the view mask, so the framebuffer
		// itself stays single-layer.
		framebuffer, err := c.dev.CreateFramebuffer(core1_0.FramebufferCreateInfo{
			RenderPass:  s.renderPass,
			Layers:      1,
			Attachments: []core1_0.ImageView{view, c.depth.View},
			Width:       c.extent.Width,
			Height:      c.extent.Height,
		})
		if err != nil {
			for _, built := range framebuffers {
				c.dev.DestroyFramebuffer(built)
			}
			return gpu.MarkFatal(err, "create framebuffer")
		}
		framebuffers = append(framebuffers, framebuffer)
	}
	s.framebuffers = framebuffers
	return nil
}

func (s *FramebufferSet) destroy() {
	for _, framebuffer := range s.framebuffers {
		s.chain.dev.DestroyFramebuffer(framebuffer)
	}
	s.framebuffers = nil
}

func (s *FramebufferSet) RenderPass() core1_0.RenderPass {
	return s.renderPass
}

func (s *FramebufferSet) Framebuffers() []core1_0.Framebuffer {
	return s.framebuffers
}

func (s *FramebufferSet) Framebuffer(imageIndex int) (core1_0.Framebuffer, error) {
	if imageIndex < 0 || imageIndex >= len(s.framebuffers) {
		return core1_0.Framebuffer{}, errors.Newf("image index %d outside %d framebuffers", imageIndex, len(s.framebuffers))
	}
	return s.framebuffers[imageIndex], nil
}

// Retarget points the set at a new render pass. Called from an OnRecreate
// listener it only records the pass; otherwise the framebuffers are rebuilt now.
func (s *FramebufferSet) Retarget(renderPass core1_0.RenderPass) error {
	s.destroy()
	s.renderPass = renderPass
	if s.chain.created && !s.chain.recreating {
		return s.build()
	}
	return nil
}

// Release destroys the set's framebuffers and unregisters it from the chain.
func (s *FramebufferSet) Release() {
	s.destroy()
	sets := s.chain.sets
	for i, set := range sets {
		if set == s {
			s.chain.sets = append(sets[:i:i], sets[i+1:]...)
			return
		}
	}
}
