// Package draco compresses meshes with the draco_encoder and draco_decoder
// command line tools, exchanging geometry as Wavefront OBJ.
package draco

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/google/uuid"

	"asset-packer/internal/proc"
	"asset-packer/internal/scene"
)

// Codec implements scene.MeshEncoder and scene.MeshDecoder.
type Codec struct {
	encoderPath string
	decoderPath string
	runner      proc.Runner
	tempDir     string
	keepTemp    bool
}

// Option customizes a Codec.
type Option func(*Codec)

// WithRunner replaces the process runner.
func WithRunner(r proc.Runner) Option {
	return func(c *Codec) { c.runner = r }
}

// WithTempDir sets the directory for intermediate files.
func WithTempDir(dir string) Option {
	return func(c *Codec) { c.tempDir = dir }
}

// WithKeepTempFiles leaves intermediate files on disk.
func WithKeepTempFiles(keep bool) Option {
	return func(c *Codec) { c.keepTemp = keep }
}

// NewCodec returns a codec invoking the given tool paths.
func NewCodec(encoderPath, decoderPath string, opts ...Option) *Codec {
	c := &Codec{
		encoderPath: encoderPath,
		decoderPath: decoderPath,
		runner:      proc.NewExecRunner(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.encoderPath == "" {
		c.encoderPath = "draco_encoder"
	}
	if c.decoderPath == "" {
		c.decoderPath = "draco_decoder"
	}
	return c
}

// EncodeMesh writes mesh as OBJ, runs draco_encoder and returns the stream.
// Attribute ids follow the order the encoder assigns for OBJ input.
func (c *Codec) EncodeMesh(ctx context.Context, mesh *scene.MeshData, opts scene.DracoOptions) (*scene.EncodedMesh, error) {
	if err := validateMesh(mesh); err != nil {
		return nil, err
	}
	dir, cleanup, err := c.workspace()
	if err != nil {
		return nil, err
	}
	defer cleanup()

	in := filepath.Join(dir, "mesh.obj")
	out := filepath.Join(dir, "mesh.drc")
	f, err := os.Create(in)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", in, err)
	}
	if err := WriteOBJ(f, mesh); err != nil {
		f.Close()
		return nil, fmt.Errorf("write %s: %w", in, err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("close %s: %w", in, err)
	}

	args := EncoderArgs(in, out, mesh, opts)
	res, err := c.runner.Run(ctx, c.encoderPath, args...)
	if err != nil {
		return nil, fmt.Errorf("run %s: %w", c.encoderPath, err)
	}
	if res.ExitCode != 0 {
		return nil, fmt.Errorf("%s exited with %d: %s", c.encoderPath, res.ExitCode, res.Stderr)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", out, err)
	}
	return &scene.EncodedMesh{Data: data, Attributes: attributeIDs(mesh)}, nil
}

// DecodeMesh runs draco_decoder on data and parses the OBJ it produces.
func (c *Codec) DecodeMesh(ctx context.Context, data []byte) (*scene.MeshData, error) {
	dir, cleanup, err := c.workspace()
	if err != nil {
		return nil, err
	}
	defer cleanup()

	in := filepath.Join(dir, "mesh.drc")
	out := filepath.Join(dir, "mesh.obj")
	if err := os.WriteFile(in, data, 0o644); err != nil {
		return nil, fmt.Errorf("write %s: %w", in, err)
	}
	res, err := c.runner.Run(ctx, c.decoderPath, "-i", in, "-o", out)
	if err != nil {
		return nil, fmt.Errorf("run %s: %w", c.decoderPath, err)
	}
	if res.ExitCode != 0 {
		return nil, fmt.Errorf("%s exited with %d: %s", c.decoderPath, res.ExitCode, res.Stderr)
	}
	f, err := os.Open(out)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", out, err)
	}
	defer f.Close()
	return ReadOBJ(f)
}

// workspace creates a unique directory for one codec call.
func (c *Codec) workspace() (string, func(), error) {
	dir, err := os.MkdirTemp(c.tempDir, "draco-"+uuid.NewString()[:8]+"-*")
	if err != nil {
		return "", nil, fmt.Errorf("create draco workspace: %w", err)
	}
	if c.keepTemp {
		return dir, func() {}, nil
	}
	return dir, func() { _ = os.RemoveAll(dir) }, nil
}

// validateMesh rejects attribute sets OBJ cannot carry one-to-one.
func validateMesh(mesh *scene.MeshData) error {
	if mesh == nil || len(mesh.Positions) == 0 {
		return fmt.Errorf("%w: empty mesh", scene.ErrUnsupportedPrimitive)
	}
	if len(mesh.Normals) > 0 && len(mesh.Normals) != len(mesh.Positions) {
		return fmt.Errorf("%w: %d normals for %d positions", scene.ErrUnsupportedPrimitive, len(mesh.Normals), len(mesh.Positions))
	}
	if len(mesh.TexCoords) > 0 && len(mesh.TexCoords) != len(mesh.Positions) {
		return fmt.Errorf("%w: %d texcoords for %d positions", scene.ErrUnsupportedPrimitive, len(mesh.TexCoords), len(mesh.Positions))
	}
	if len(mesh.Indices)%3 != 0 {
		return fmt.Errorf("%w: %d indices is not a triangle list", scene.ErrUnsupportedPrimitive, len(mesh.Indices))
	}
	for _, idx := range mesh.Indices {
		if int(idx) >= len(mesh.Positions) {
			return fmt.Errorf("%w: index %d out of range", scene.ErrUnsupportedPrimitive, idx)
		}
	}
	return nil
}

// attributeIDs mirrors the encoder's OBJ attribute order: position, then
// texture coordinates, then normals.
func attributeIDs(mesh *scene.MeshData) map[string]int {
	ids := map[string]int{"POSITION": 0}
	next := 1
	if len(mesh.TexCoords) > 0 {
		ids["TEXCOORD_0"] = next
		next++
	}
	if len(mesh.Normals) > 0 {
		ids["NORMAL"] = next
	}
	return ids
}

// EncoderArgs builds the draco_encoder command line. Sequential encoding
// uses compression level 0; edgebreaker maps encode speed onto the 0-10
// compression level scale.
func EncoderArgs(in, out string, mesh *scene.MeshData, opts scene.DracoOptions) []string {
	bits := opts.QuantizationBits
	args := []string{"-i", in, "-o", out}
	args = append(args, "-qp", strconv.Itoa(clamp(bits.Position, 0, 30)))
	if len(mesh.TexCoords) > 0 {
		args = append(args, "-qt", strconv.Itoa(clamp(bits.TexCoord, 0, 30)))
	}
	if len(mesh.Normals) > 0 {
		args = append(args, "-qn", strconv.Itoa(clamp(bits.Normal, 0, 30)))
	}
	args = append(args, "-qg", strconv.Itoa(clamp(bits.Generic, 0, 30)))

	level := 0
	if opts.Method == scene.DracoEdgebreaker {
		level = clamp(10-opts.EncodeSpeed, 1, 10)
	}
	args = append(args, "-cl", strconv.Itoa(level))
	return args
}

func clamp(v, lo, hi int) int {
	return min(max(v, lo), hi)
}
