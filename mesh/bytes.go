package mesh

import (
	"bytes"
	"encoding/binary"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/vkngwrapper/core/v3/common"
)

func writeData(buf *bytes.Buffer, data interface{}) {
	// Writes into a bytes.Buffer only fail on unsupported types
	if err := binary.Write(buf, common.ByteOrder, data); err != nil {
		panic(err)
	}
}

func VertexBytes(vertices []Vertex) []byte {
	buf := &bytes.Buffer{}
	buf.Grow(len(vertices) * VertexSize)
	writeData(buf, vertices)
	return buf.Bytes()
}

func IndexBytes(indices []uint32) []byte {
	buf := &bytes.Buffer{}
	buf.Grow(len(indices) * 4)
	writeData(buf, indices)
	return buf.Bytes()
}

// MatrixBytes lays matrices out back to back in column-major order.
func MatrixBytes(matrices ...mgl32.Mat4) []byte {
	buf := &bytes.Buffer{}
	buf.Grow(len(matrices) * 64)
	writeData(buf, matrices)
	return buf.Bytes()
}
