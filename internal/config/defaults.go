package config

import (
	"os"
	"path/filepath"

	"asset-packer/internal/domain"
)

// DefaultPackOptions returns the option set used on first launch.
func DefaultPackOptions() domain.PackOptions {
	return domain.PackOptions{
		DoDedupe: true,
		DoWeld:   true,

		TextureResolutionWidth:  2048,
		TextureResolutionHeight: 2048,
		ResamplingFilter:        "lanczos4",

		BasisMethod:     domain.BasisETC1S,
		PNGFormatFilter: "*",
		ETC1SQuality:    128,
		UASTCLevel:      2,

		DoDraco:                 true,
		VertexCompressionMethod: domain.VertexEdgebreaker,
		QuantizationVolume:      "mesh",
		QuantizationPosition:    14,
		QuantizationNormal:      10,
		QuantizationColor:       8,
		QuantizationTexCoord:    12,
		QuantizationGeneric:     12,
		EncodeSpeed:             5,
		DecodeSpeed:             5,
	}
}

// DefaultSettings returns baseline local configuration for first launch.
func DefaultSettings() domain.Settings {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}

	return domain.Settings{
		OutputDir: filepath.Join(homeDir, "Documents", "Packed"),
		Options:   DefaultPackOptions(),
	}
}
