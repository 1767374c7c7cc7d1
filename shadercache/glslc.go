package shadercache

import (
	"bytes"
	"context"
	"os/exec"

	"github.com/cockroachdb/errors"
)

// GLSLC compiles with the glslc binary from the Vulkan SDK, feeding the source
// on stdin and reading SPIR-V from stdout.
type GLSLC struct {
	Path string
	Args []string
}

func (g GLSLC) Compile(ctx context.Context, name string, stage Stage, source []byte) ([]byte, error) {
	path := g.Path
	if path == "" {
		path = "glslc"
	}

	args := append([]string{"-fshader-stage=" + string(stage), "--target-env=vulkan1.1", "-O"}, g.Args...)
	args = append(args, "-o", "-", "-")
	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Stdin = bytes.NewReader(source)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, errors.WithDetailf(errors.Wrapf(err, "glslc %s", name), "%s", stderr.String())
	}
	return stdout.Bytes(), nil
}
