package assets

import (
	"image"
	"image/draw"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/g3n/engine/loader/obj"
	"github.com/go-gl/mathgl/mgl32"

	"github.com/vkngwrapper/renderloop/mesh"
)

// Decoder turns files on disk into CPU-side mesh data.
type Decoder interface {
	DecodeMesh(path string) ([]mesh.Vertex, []uint32, error)
	DecodeTexture(path string) (mesh.Texture, error)
}

// FileDecoder reads Wavefront OBJ meshes (with a sibling .mtl when present) and
// PNG or JPEG textures.
type FileDecoder struct{}

type vertexKey struct {
	position int
	uv       int
}

func (FileDecoder) DecodeMesh(path string) ([]mesh.Vertex, []uint32, error) {
	meshFile, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer meshFile.Close()

	var matReader io.Reader = strings.NewReader("")
	matFile, err := os.Open(strings.TrimSuffix(path, filepath.Ext(path)) + ".mtl")
	if err == nil {
		defer matFile.Close()
		matReader = matFile
	}

	decoder, err := obj.DecodeReader(meshFile, matReader)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "decode %s", path)
	}

	var vertices []mesh.Vertex
	var indices []uint32
	unique := make(map[vertexKey]uint32)

	addVertex := func(face obj.Face, corner int) {
		key := vertexKey{position: face.Vertices[corner], uv: -1}
		if corner < len(face.Uvs) {
			key.uv = face.Uvs[corner]
		}

		index, exists := unique[key]
		if !exists {
			p := key.position * 3
			vert := mesh.Vertex{
				Position: mgl32.Vec3{decoder.Vertices[p], decoder.Vertices[p+1], decoder.Vertices[p+2]},
				Color:    mgl32.Vec3{1, 1, 1},
			}
			if key.uv >= 0 {
				vert.TexCoord = mgl32.Vec2{decoder.Uvs[key.uv*2], 1.0 - decoder.Uvs[key.uv*2+1]}
			}

			index = uint32(len(vertices))
			vertices = append(vertices, vert)
			unique[key] = index
		}
		indices = append(indices, index)
	}

	for _, decodedObj := range decoder.Objects {
		for _, face := range decodedObj.Faces {
			// Fan-triangulate polygons
			for i := 2; i < len(face.Vertices); i++ {
				addVertex(face, 0)
				addVertex(face, i-1)
				addVertex(face, i)
			}
		}
	}

	if len(indices) == 0 {
		return nil, nil, errors.Newf("%s contains no faces", path)
	}
	return vertices, indices, nil
}

func (FileDecoder) DecodeTexture(path string) (mesh.Texture, error) {
	file, err := os.Open(path)
	if err != nil {
		return mesh.Texture{}, err
	}
	defer file.Close()

	decoded, _, err := image.Decode(file)
	if err != nil {
		return mesh.Texture{}, errors.Wrapf(err, "decode %s", path)
	}
	return textureFromImage(decoded), nil
}

func textureFromImage(img image.Image) mesh.Texture {
	bounds := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, bounds.Min, draw.Src)
	return mesh.Texture{
		Width:  bounds.Dx(),
		Height: bounds.Dy(),
		Pixels: rgba.Pix,
	}
}
