package bootstrap

import (
	"fmt"
	"strings"

	"asset-packer/internal/config"
	"asset-packer/internal/domain"
)

var presetCatalog = []domain.Preset{
	{
		ID:          "web",
		Name:        "Web",
		Description: "Smallest download for browsers: ETC1S textures capped at 2048 and Draco geometry.",
		Options: func() domain.PackOptions {
			o := config.DefaultPackOptions()
			o.DoInstancing = true
			o.DoReorder = true
			o.DoResize = true
			o.DoBasis = true
			o.BasisMethod = domain.BasisETC1S
			o.ETC1SResizeNPOT = true
			return o
		}(),
	},
	{
		ID:          "mobile",
		Name:        "Mobile",
		Description: "1024 UASTC textures for GPU memory savings, aggressive geometry quantization.",
		Options: func() domain.PackOptions {
			o := config.DefaultPackOptions()
			o.DoInstancing = true
			o.DoReorder = true
			o.DoResize = true
			o.TextureResolutionWidth = 1024
			o.TextureResolutionHeight = 1024
			o.DoBasis = true
			o.BasisMethod = domain.BasisUASTC
			o.UASTCLevel = 2
			o.UASTCResizeNPOT = true
			o.QuantizationPosition = 12
			o.QuantizationNormal = 8
			o.QuantizationTexCoord = 10
			return o
		}(),
	},
	{
		ID:          "lossless",
		Name:        "Lossless",
		Description: "Structural cleanup and PNG recompression only. Pixels and vertices are untouched.",
		Options: func() domain.PackOptions {
			o := config.DefaultPackOptions()
			o.DoReorder = true
			o.DoBasis = true
			o.BasisMethod = domain.BasisPNG
			o.DoDraco = false
			return o
		}(),
	},
}

// GetPresets returns the built-in option presets.
func (a *App) GetPresets() []domain.Preset {
	presets := make([]domain.Preset, len(presetCatalog))
	copy(presets, presetCatalog)
	return presets
}

// ApplyPreset replaces the saved pack options with a preset and keeps the
// output directory.
func (a *App) ApplyPreset(presetID string) (domain.Settings, error) {
	id := strings.TrimSpace(presetID)
	if id == "" {
		return domain.Settings{}, fmt.Errorf("preset id is required")
	}

	preset, found := getPresetByID(id)
	if !found {
		return domain.Settings{}, fmt.Errorf("unknown preset id: %s", id)
	}

	if a.Store == nil {
		return domain.Settings{}, fmt.Errorf("settings store is not configured")
	}

	settings, err := a.Store.Load()
	if err != nil {
		return domain.Settings{}, fmt.Errorf("load settings: %w", err)
	}

	settings.Preset = preset.ID
	settings.Options = preset.Options
	return a.SaveSettings(settings)
}

func getPresetByID(id string) (domain.Preset, bool) {
	for _, preset := range presetCatalog {
		if strings.EqualFold(preset.ID, id) {
			return preset, true
		}
	}
	return domain.Preset{}, false
}
