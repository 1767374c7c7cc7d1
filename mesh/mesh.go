package mesh

import (
	"unsafe"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/vkngwrapper/core/v3/core1_0"
)

type Vertex struct {
	Position mgl32.Vec3
	Color    mgl32.Vec3
	TexCoord mgl32.Vec2
}

// VertexSize is the stride of one Vertex in a vertex buffer.
const VertexSize = int(unsafe.Sizeof(Vertex{}))

func BindingDescriptions() []core1_0.VertexInputBindingDescription {
	return []core1_0.VertexInputBindingDescription{
		{
			Binding:   0,
			Stride:    VertexSize,
			InputRate: core1_0.VertexInputRateVertex,
		},
	}
}

func AttributeDescriptions() []core1_0.VertexInputAttributeDescription {
	v := Vertex{}
	return []core1_0.VertexInputAttributeDescription{
		{
			Binding:  0,
			Location: 0,
			Format:   core1_0.FormatR32G32B32SignedFloat,
			Offset:   int(unsafe.Offsetof(v.Position)),
		},
		{
			Binding:  0,
			Location: 1,
			Format:   core1_0.FormatR32G32B32SignedFloat,
			Offset:   int(unsafe.Offsetof(v.Color)),
		},
		{
			Binding:  0,
			Location: 2,
			Format:   core1_0.FormatR32G32SignedFloat,
			Offset:   int(unsafe.Offsetof(v.TexCoord)),
		},
	}
}

// Texture holds tightly packed RGBA8 pixels.
type Texture struct {
	Width  int
	Height int
	Pixels []byte
}

// PlaceholderTexture is a single opaque white texel.
func PlaceholderTexture() Texture {
	return Texture{Width: 1, Height: 1, Pixels: []byte{0xff, 0xff, 0xff, 0xff}}
}

type Data struct {
	Name        string
	Vertices    []Vertex
	Indices     []uint32
	Texture     Texture
	Transform   mgl32.Mat4
	Placeholder bool
}

// Placeholder stands in for a mesh that is missing or failed to decode. It draws
// nothing, sits at the origin and samples the placeholder texture.
func Placeholder(name string) Data {
	return Data{
		Name:        name,
		Texture:     PlaceholderTexture(),
		Transform:   mgl32.Ident4(),
		Placeholder: true,
	}
}

func (d Data) HasGeometry() bool {
	return len(d.Vertices) > 0 && len(d.Indices) > 0
}

func (d Data) IndexCount() int {
	if !d.HasGeometry() {
		return 0
	}
	return len(d.Indices)
}
