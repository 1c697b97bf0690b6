package pack

import (
	"context"

	"asset-packer/internal/domain"
	"asset-packer/internal/scene"
)

// stage is one pipeline step. The action doubles as the size report name and
// the output name suffix.
type stage struct {
	action  string
	enabled func(domain.PackOptions) bool
	apply   func(ctx context.Context, p *Packer, r *run) error
}

// pipeline lists every stage in the order it runs, whichever are enabled.
var pipeline = []stage{
	{
		action:  "dedupe",
		enabled: func(o domain.PackOptions) bool { return o.DoDedupe },
		apply:   transformStage(func(domain.PackOptions) scene.Transform { return scene.Dedupe{} }),
	},
	{
		action:  "instance",
		enabled: func(o domain.PackOptions) bool { return o.DoInstancing },
		apply:   transformStage(func(domain.PackOptions) scene.Transform { return scene.Instance{MinInstances: 2} }),
	},
	{
		action:  "reorder",
		enabled: func(o domain.PackOptions) bool { return o.DoReorder },
		apply:   transformStage(func(domain.PackOptions) scene.Transform { return scene.Reorder{} }),
	},
	{
		action:  "weld",
		enabled: func(o domain.PackOptions) bool { return o.DoWeld },
		apply:   transformStage(func(domain.PackOptions) scene.Transform { return scene.Weld{} }),
	},
	{
		action:  "resize",
		enabled: func(o domain.PackOptions) bool { return o.DoResize },
		apply: transformStage(func(o domain.PackOptions) scene.Transform {
			return scene.Resize{
				Width:  o.TextureResolutionWidth,
				Height: o.TextureResolutionHeight,
				Filter: o.ResamplingFilter,
			}
		}),
	},
	{
		action:  "basis",
		enabled: func(o domain.PackOptions) bool { return o.DoBasis },
		apply:   func(ctx context.Context, p *Packer, r *run) error { return p.basis(ctx, r) },
	},
	{
		action:  "draco",
		enabled: func(o domain.PackOptions) bool { return o.DoDraco },
		apply:   func(ctx context.Context, p *Packer, r *run) error { return p.draco(ctx, r) },
	},
}

// transformStage adapts a single document transform to a stage.
func transformStage(build func(domain.PackOptions) scene.Transform) func(context.Context, *Packer, *run) error {
	return func(ctx context.Context, _ *Packer, r *run) error {
		return r.doc.Transform(ctx, build(r.job.PackOptions))
	}
}

// Actions returns the stage names in pipeline order.
func Actions() []string {
	out := make([]string, len(pipeline))
	for i, s := range pipeline {
		out[i] = s.action
	}
	return out
}
