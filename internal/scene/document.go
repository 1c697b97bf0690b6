// Package scene exposes the small document surface the pack pipeline needs
// and a glTF 2.0 adapter that implements it.
package scene

import (
	"context"
	"errors"
)

// Extension names understood by the adapter.
const (
	ExtDracoMeshCompression = "KHR_draco_mesh_compression"
	ExtTextureBasisu        = "KHR_texture_basisu"
	ExtLightsPunctual       = "KHR_lights_punctual"
	ExtMeshGPUInstancing    = "EXT_mesh_gpu_instancing"
	ExtTextureWebP          = "EXT_texture_webp"
)

// Dependency keys accepted by IO.RegisterDependencies.
const (
	DependencyDracoDecoder = "draco3d.decoder"
	DependencyDracoEncoder = "draco3d.encoder"
)

// MIME types of texture payloads.
const (
	MimePNG  = "image/png"
	MimeJPEG = "image/jpeg"
	MimeWebP = "image/webp"
	MimeKTX2 = "image/ktx2"
)

var (
	// ErrMissingDependency is returned when a codec is needed but was never
	// registered on the IO.
	ErrMissingDependency = errors.New("missing dependency")
	// ErrUnsupportedPrimitive marks geometry a mesh codec cannot represent.
	ErrUnsupportedPrimitive = errors.New("unsupported primitive")
	// ErrForeignDocument is returned when an IO receives a document it did
	// not create.
	ErrForeignDocument = errors.New("document was not created by this IO")
)

// Channel is a bitmask of the color channels a texture's data occupies.
type Channel uint32

const (
	ChannelR Channel = 0x1000
	ChannelG Channel = 0x0100
	ChannelB Channel = 0x0010
	ChannelA Channel = 0x0001
)

// Logger receives diagnostics from the document and its transforms.
type Logger interface {
	Debug(text string)
	Info(text string)
	Warn(text string)
	Error(text string)
}

// Texture is one image payload referenced by the document's materials.
type Texture interface {
	Name() string
	URI() string
	SetURI(uri string)
	MimeType() string
	SetMimeType(mime string)
	Image() []byte
	SetImage(data []byte)
	// Size returns pixel dimensions, or false when the payload cannot be
	// probed.
	Size() ([2]int, bool)
}

// Extension is an optional capability declared by the document.
type Extension interface {
	Name() string
	SetRequired(required bool) Extension
	Required() bool
	SetOptions(options any) Extension
	Options() any
	Dispose()
	Disposed() bool
}

// Document is an in-memory scene exclusively owned by one pack run.
type Document interface {
	ListTextures() []Texture
	Transform(ctx context.Context, transforms ...Transform) error
	CreateExtension(name string) Extension
	SetLogger(logger Logger)
	Logger() Logger
	TextureSlots(t Texture) []string
	TextureChannelMask(t Texture) Channel
}

// IO reads and serializes documents.
type IO interface {
	Read(path string) (Document, error)
	WriteBinary(doc Document) ([]byte, error)
	Write(path string, doc Document) error
	RegisterDependencies(deps map[string]any) error
}

// Transform is one named whole-document operation.
type Transform interface {
	Name() string
	apply(ctx context.Context, m *model) error
}

// QuantizationBits holds per-attribute quantization depths.
type QuantizationBits struct {
	Position int `json:"POSITION"`
	Normal   int `json:"NORMAL"`
	Color    int `json:"COLOR"`
	TexCoord int `json:"TEX_COORD"`
	Generic  int `json:"GENERIC"`
}

// DracoMethod selects the mesh connectivity encoding.
type DracoMethod int

const (
	DracoSequential  DracoMethod = 0
	DracoEdgebreaker DracoMethod = 1
)

// DracoOptions configures mesh compression on write.
type DracoOptions struct {
	DecodeSpeed        int              `json:"decodeSpeed"`
	EncodeSpeed        int              `json:"encodeSpeed"`
	Method             DracoMethod      `json:"method"`
	QuantizationVolume string           `json:"quantizationVolume"`
	QuantizationBits   QuantizationBits `json:"quantizationBits"`
}

// DefaultDracoOptions mirrors the reference encoder defaults.
func DefaultDracoOptions() DracoOptions {
	return DracoOptions{
		DecodeSpeed:        5,
		EncodeSpeed:        5,
		Method:             DracoEdgebreaker,
		QuantizationVolume: "mesh",
		QuantizationBits: QuantizationBits{
			Position: 14,
			Normal:   10,
			Color:    8,
			TexCoord: 12,
			Generic:  12,
		},
	}
}

// MeshData is a triangle list in the attribute set the mesh codecs carry.
type MeshData struct {
	Positions [][3]float32
	Normals   [][3]float32
	TexCoords [][2]float32
	Indices   []uint32
}

// EncodedMesh is a compressed mesh stream plus the attribute ids it assigns.
type EncodedMesh struct {
	Data       []byte
	Attributes map[string]int
}

// MeshEncoder compresses triangle meshes.
type MeshEncoder interface {
	EncodeMesh(ctx context.Context, mesh *MeshData, opts DracoOptions) (*EncodedMesh, error)
}

// MeshDecoder expands compressed mesh streams.
type MeshDecoder interface {
	DecodeMesh(ctx context.Context, data []byte) (*MeshData, error)
}
