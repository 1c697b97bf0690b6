package pack

import (
	"context"
	"fmt"
	"strings"

	"asset-packer/internal/domain"
	"asset-packer/internal/scene"
)

// draco registers the mesh codec and marks geometry compression required.
// Primitives are encoded when the document is next serialized.
func (p *Packer) draco(_ context.Context, r *run) error {
	if p.codec == nil {
		return fmt.Errorf("%w: %s", scene.ErrMissingDependency, scene.DependencyDracoEncoder)
	}
	if err := p.io.RegisterDependencies(map[string]any{
		scene.DependencyDracoDecoder: p.codec,
		scene.DependencyDracoEncoder: p.codec,
	}); err != nil {
		return err
	}
	opts := DracoOptions(r.job.PackOptions)
	r.doc.CreateExtension(scene.ExtDracoMeshCompression).SetRequired(true).SetOptions(opts)
	r.logger.Debugf("draco: method=%d volume=%s bits=%+v", opts.Method, opts.QuantizationVolume, opts.QuantizationBits)
	return nil
}

// DracoOptions maps job fields onto encoder options. Unset bit depths and
// speeds keep the encoder defaults.
func DracoOptions(o domain.PackOptions) scene.DracoOptions {
	opts := scene.DefaultDracoOptions()
	if strings.EqualFold(o.VertexCompressionMethod, domain.VertexEdgebreaker) {
		opts.Method = scene.DracoEdgebreaker
	} else {
		opts.Method = scene.DracoSequential
	}
	if v := strings.ToLower(strings.TrimSpace(o.QuantizationVolume)); v == "mesh" || v == "scene" {
		opts.QuantizationVolume = v
	}
	set := func(dst *int, v int) {
		if v > 0 {
			*dst = v
		}
	}
	set(&opts.EncodeSpeed, o.EncodeSpeed)
	set(&opts.DecodeSpeed, o.DecodeSpeed)
	set(&opts.QuantizationBits.Position, o.QuantizationPosition)
	set(&opts.QuantizationBits.Normal, o.QuantizationNormal)
	set(&opts.QuantizationBits.Color, o.QuantizationColor)
	set(&opts.QuantizationBits.TexCoord, o.QuantizationTexCoord)
	set(&opts.QuantizationBits.Generic, o.QuantizationGeneric)
	return opts
}
