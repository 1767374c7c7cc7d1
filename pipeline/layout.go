package pipeline

import (
	"github.com/vkngwrapper/core/v3/core1_0"
)

// SetBinding is a descriptor set bound to the pipeline, along with the push
// constant bytes whoever owns the set wants to push. Zero means none.
type SetBinding struct {
	Layout            core1_0.DescriptorSetLayout
	PushConstantBytes int
}

// PushConstantStages is where the aggregated push constant range is visible.
const PushConstantStages = core1_0.StageVertex | core1_0.StageFragment

// LayoutInfo aggregates the set layouts of every binding, in order, and a single
// push constant range as large as the largest request.
func LayoutInfo(sets []SetBinding) core1_0.PipelineLayoutCreateInfo {
	var info core1_0.PipelineLayoutCreateInfo
	pushSize := 0
	for _, set := range sets {
		info.SetLayouts = append(info.SetLayouts, set.Layout)
		if set.PushConstantBytes > pushSize {
			pushSize = set.PushConstantBytes
		}
	}

	if pushSize > 0 {
		info.PushConstantRanges = []core1_0.PushConstantRange{
			{
				StageFlags: PushConstantStages,
				Offset:     0,
				Size:       pushSize,
			},
		}
	}
	return info
}
