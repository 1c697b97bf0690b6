package domain

// JobStatus tracks the lifecycle of a single pack job.
type JobStatus string

const (
	JobStatusIdle      JobStatus = "idle"
	JobStatusPacking   JobStatus = "packing"
	JobStatusDone      JobStatus = "done"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Basis compression methods accepted in PackOptions.BasisMethod.
const (
	BasisUASTC = "UASTC"
	BasisETC1S = "ETC1S"
	BasisPNG   = "PNG"
)

// Vertex compression methods accepted in PackOptions.VertexCompressionMethod.
const (
	VertexEdgebreaker = "edgebreaker"
	VertexSequential  = "sequential"
)

// PackOptions selects which stages run and how each one is configured.
type PackOptions struct {
	DoDedupe     bool `json:"doDedupe" yaml:"do_dedupe"`
	DoInstancing bool `json:"doInstancing" yaml:"do_instancing"`
	DoReorder    bool `json:"doReorder" yaml:"do_reorder"`
	DoWeld       bool `json:"doWeld" yaml:"do_weld"`

	DoResize                bool   `json:"doResize" yaml:"do_resize"`
	TextureResolutionWidth  int    `json:"textureResolutionWidth" yaml:"texture_resolution_width"`
	TextureResolutionHeight int    `json:"textureResolutionHeight" yaml:"texture_resolution_height"`
	ResamplingFilter        string `json:"resamplingFilter" yaml:"resampling_filter"`

	DoBasis         bool   `json:"doBasis" yaml:"do_basis"`
	BasisMethod     string `json:"basisMethod" yaml:"basis_method"`
	PNGFormatFilter string `json:"pngFormatFilter" yaml:"png_format_filter"`
	ETC1SQuality    int    `json:"etc1sQuality" yaml:"etc1s_quality"`
	ETC1SResizeNPOT bool   `json:"etc1sResizeNPOT" yaml:"etc1s_resize_npot"`
	UASTCLevel      int    `json:"uastcLevel" yaml:"uastc_level"`
	UASTCResizeNPOT bool   `json:"uastcResizeNPOT" yaml:"uastc_resize_npot"`

	DoDraco                 bool   `json:"doDraco" yaml:"do_draco"`
	VertexCompressionMethod string `json:"vertexCompressionMethod" yaml:"vertex_compression_method"`
	QuantizationVolume      string `json:"quantizationVolume" yaml:"quantization_volume"`
	QuantizationPosition    int    `json:"quantizationPosition" yaml:"quantization_position"`
	QuantizationNormal      int    `json:"quantizationNormal" yaml:"quantization_normal"`
	QuantizationColor       int    `json:"quantizationColor" yaml:"quantization_color"`
	QuantizationTexCoord    int    `json:"quantizationTexCoord" yaml:"quantization_tex_coord"`
	QuantizationGeneric     int    `json:"quantizationGeneric" yaml:"quantization_generic"`
	EncodeSpeed             int    `json:"encodeSpeed" yaml:"encode_speed"`
	DecodeSpeed             int    `json:"decodeSpeed" yaml:"decode_speed"`
}

// PackJob is the immutable descriptor of one pack run. Options are flattened
// into the same JSON object as the paths.
type PackJob struct {
	File       string `json:"file"`
	OutputPath string `json:"outputPath"`
	PackOptions
}

// Settings contains user-selectable desktop configuration.
type Settings struct {
	OutputDir string      `json:"outputDir" yaml:"output_dir"`
	Preset    string      `json:"preset,omitempty" yaml:"preset,omitempty"`
	Options   PackOptions `json:"options" yaml:"options"`
}

// Preset is a named, ready-made option set.
type Preset struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Options     PackOptions `json:"options"`
}

// Job stores the current job identity and lifecycle status.
type Job struct {
	ID     string    `json:"id"`
	Status JobStatus `json:"status"`
}
