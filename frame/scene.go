package frame

import (
	"sort"
	"sync"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/vkngwrapper/core/v3/core1_0"

	"github.com/vkngwrapper/renderloop/events"
	"github.com/vkngwrapper/renderloop/gpu"
	"github.com/vkngwrapper/renderloop/mesh"
	"github.com/vkngwrapper/renderloop/recorder"
)

// registry collects meshes as the loader finishes them. Prepare snapshots it
// in submission order.
type registry struct {
	mu     sync.Mutex
	meshes map[uint64]mesh.Data
}

func (r *registry) add(e events.MeshReady) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.meshes == nil {
		r.meshes = make(map[uint64]mesh.Data)
	}
	r.meshes[e.Seq] = e.Mesh
}

func (r *registry) snapshot() []mesh.Data {
	r.mu.Lock()
	defer r.mu.Unlock()

	seqs := make([]uint64, 0, len(r.meshes))
	for seq := range r.meshes {
		seqs = append(seqs, seq)
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })

	out := make([]mesh.Data, 0, len(seqs))
	for _, seq := range seqs {
		out = append(out, r.meshes[seq])
	}
	return out
}

// scene is the per-Prepare GPU state: one buffer pair per mesh and the storage
// buffer of model transforms the push-constant index selects from.
type scene struct {
	draws       []recorder.Draw
	transforms  gpu.Buffer
	placeholder bool
}

// buildScene uploads the registered meshes and points the descriptor set at
// them. The previous scene is only released once the new one is complete, so a
// failed rebuild leaves the old scene drawable.
func (o *Orchestrator) buildScene() error {
	var release gpu.ReleaseStack
	s, err := o.newScene(&release)
	if err != nil {
		release.Release()
		return err
	}

	o.sceneRelease.Release()
	o.sceneRelease = *release.Take()
	o.scene = s
	o.diag.Info("scene prepared", "meshes", len(s.draws), "placeholder", s.placeholder)
	return nil
}

func (o *Orchestrator) newScene(release *gpu.ReleaseStack) (*scene, error) {
	meshes := o.registry.snapshot()
	s := &scene{}
	if len(meshes) == 0 {
		meshes = []mesh.Data{mesh.Placeholder("placeholder")}
		s.placeholder = true
	}

	transforms := make([]mgl32.Mat4, 0, len(meshes))
	for _, m := range meshes {
		transforms = append(transforms, m.Transform)

		if !m.HasGeometry() {
			s.draws = append(s.draws, recorder.Draw{})
			continue
		}
		vertices, err := o.dev.UploadBuffer(core1_0.BufferUsageVertexBuffer, mesh.VertexBytes(m.Vertices))
		if err != nil {
			return nil, gpu.MarkFatal(err, "upload vertex buffer for "+m.Name)
		}
		release.Push(func() { o.dev.DestroyBuffer(vertices) })

		indices, err := o.dev.UploadBuffer(core1_0.BufferUsageIndexBuffer, mesh.IndexBytes(m.Indices))
		if err != nil {
			return nil, gpu.MarkFatal(err, "upload index buffer for "+m.Name)
		}
		release.Push(func() { o.dev.DestroyBuffer(indices) })

		s.draws = append(s.draws, recorder.Draw{
			VertexBuffer: vertices.Handle,
			IndexBuffer:  indices.Handle,
			IndexCount:   m.IndexCount(),
		})
	}

	var err error
	s.transforms, err = o.dev.UploadBuffer(core1_0.BufferUsageStorageBuffer, mesh.MatrixBytes(transforms...))
	if err != nil {
		return nil, gpu.MarkFatal(err, "upload model transforms")
	}
	transformBuffer := s.transforms
	release.Push(func() { o.dev.DestroyBuffer(transformBuffer) })

	err = o.dev.UpdateDescriptorSets([]core1_0.WriteDescriptorSet{
		{
			DstSet:          o.descriptorSet,
			DstBinding:      0,
			DstArrayElement: 0,
			DescriptorType:  core1_0.DescriptorTypeUniformBuffer,
			BufferInfo: []core1_0.DescriptorBufferInfo{
				{Buffer: o.uniform.Handle, Offset: 0, Range: o.uniform.Size},
			},
		},
		{
			DstSet:          o.descriptorSet,
			DstBinding:      1,
			DstArrayElement: 0,
			DescriptorType:  core1_0.DescriptorTypeStorageBuffer,
			BufferInfo: []core1_0.DescriptorBufferInfo{
				{Buffer: s.transforms.Handle, Offset: 0, Range: s.transforms.Size},
			},
		},
	})
	if err != nil {
		return nil, gpu.MarkFatal(err, "update descriptor set")
	}
	return s, nil
}

func descriptorSetLayoutInfo() core1_0.DescriptorSetLayoutCreateInfo {
	return core1_0.DescriptorSetLayoutCreateInfo{
		Bindings: []core1_0.DescriptorSetLayoutBinding{
			{
				Binding:         0,
				DescriptorType:  core1_0.DescriptorTypeUniformBuffer,
				DescriptorCount: 1,
				StageFlags:      core1_0.StageVertex,
			},
			{
				Binding:         1,
				DescriptorType:  core1_0.DescriptorTypeStorageBuffer,
				DescriptorCount: 1,
				StageFlags:      core1_0.StageVertex,
			},
		},
	}
}

func descriptorPoolInfo() core1_0.DescriptorPoolCreateInfo {
	return core1_0.DescriptorPoolCreateInfo{
		MaxSets: 1,
		PoolSizes: []core1_0.DescriptorPoolSize{
			{Type: core1_0.DescriptorTypeUniformBuffer, DescriptorCount: 1},
			{Type: core1_0.DescriptorTypeStorageBuffer, DescriptorCount: 1},
		},
	}
}
