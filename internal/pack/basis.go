package pack

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"asset-packer/internal/domain"
	"asset-packer/internal/ktx"
	"asset-packer/internal/proc"
	"asset-packer/internal/scene"
)

// basis re-encodes textures. The PNG method recompresses in process; UASTC
// and ETC1S run toktx once per texture, concurrently.
func (p *Packer) basis(ctx context.Context, r *run) error {
	if strings.EqualFold(r.job.BasisMethod, domain.BasisPNG) {
		return r.doc.Transform(ctx, scene.PNG{Formats: r.job.PNGFormatFilter})
	}

	lights := r.doc.CreateExtension(scene.ExtLightsPunctual).SetRequired(true)
	basisu := r.doc.CreateExtension(scene.ExtTextureBasisu).SetRequired(true)

	dir, err := p.mkdirTemp(p.opts.TempDir, "asset-packer-basis-*")
	if err != nil {
		return fmt.Errorf("create temporary workspace: %w", err)
	}
	if !p.opts.KeepTempFiles {
		defer func() { _ = p.removeAll(dir) }()
	}

	textures := r.doc.ListTextures()
	opts := ktxOptions(r.job.PackOptions)
	var compressed atomic.Int32
	var g errgroup.Group
	if p.opts.BasisConcurrency > 0 {
		g.SetLimit(p.opts.BasisConcurrency)
	}
	for i, tex := range textures {
		i, tex := i, tex
		g.Go(func() error {
			// Failures are logged per texture and never cancel siblings.
			if p.encodeTexture(ctx, r, dir, tex, i, len(textures), opts) {
				compressed.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	if compressed.Load() == 0 {
		r.logger.Warn("toktx: No textures were found, or none were selected for compression.")
	}
	for _, tex := range r.doc.ListTextures() {
		if tex.MimeType() == scene.MimeKTX2 {
			return nil
		}
	}
	basisu.Dispose()
	lights.Dispose()
	return nil
}

// encodeTexture runs toktx for one texture and reports whether it was
// replaced with KTX2 output.
func (p *Packer) encodeTexture(ctx context.Context, r *run, dir string, tex scene.Texture, index, total int, opts ktx.Options) bool {
	log := r.logger
	label := tex.URI()
	if label == "" {
		label = tex.Name()
	}
	if label == "" {
		label = fmt.Sprintf("%d/%d", index+1, total)
	}
	prefix := fmt.Sprintf("toktx:texture(%s)", label)
	slots := r.doc.TextureSlots(tex)
	channels := r.doc.TextureChannelMask(tex)
	log.Debugf("%s: Slots -> [%s]", prefix, strings.Join(slots, ", "))

	switch mime := tex.MimeType(); mime {
	case scene.MimeKTX2:
		log.Debugf("%s: Skipping KTX2 texture", prefix)
		return false
	case scene.MimePNG, scene.MimeJPEG:
	default:
		log.Warnf("%s: Unsupported texture type: %s", prefix, mime)
		return false
	}

	image := tex.Image()
	size, ok := tex.Size()
	if len(image) == 0 || !ok {
		log.Warnf("%s: Skipping, unreadable texture", prefix)
		return false
	}

	id := uuid.NewString()
	inPath := filepath.Join(dir, id+"."+scene.ImageExtension(tex))
	outPath := filepath.Join(dir, id+".ktx2")
	if err := p.writeFile(inPath, image, 0o644); err != nil {
		log.Errorf("%s: Failed -> %v", prefix, err)
		return false
	}

	args := append(ktx.CreateParams(slots, channels, size, log, total, opts), outPath, inPath)
	log.Debugf("%s: Spawning -> %s", prefix, proc.CommandLine(p.opts.ToktxPath, args...))
	res, err := p.runner.Run(ctx, p.opts.ToktxPath, args...)
	if err != nil {
		log.Errorf("%s: Failed -> %v", prefix, err)
		return false
	}
	if res.ExitCode != 0 {
		log.Errorf("%s: Failed -> \n\n%s", prefix, res.Stderr)
		return false
	}
	data, err := p.readFile(outPath)
	if err != nil {
		log.Errorf("%s: Failed -> %v", prefix, err)
		return false
	}

	tex.SetImage(data)
	tex.SetMimeType(scene.MimeKTX2)
	if uri := tex.URI(); uri != "" {
		tex.SetURI(scene.BaseName(uri) + ".ktx2")
	}
	log.Debugf("%s: %d -> %d bytes", prefix, len(image), len(data))
	return true
}

// ktxOptions maps job fields onto toktx options for the selected mode.
func ktxOptions(o domain.PackOptions) ktx.Options {
	mode := ktx.ParseMode(o.BasisMethod)
	opts := ktx.DefaultOptions(mode)
	if o.ResamplingFilter != "" {
		opts.Filter = o.ResamplingFilter
	}
	if mode == ktx.ModeUASTC {
		opts.Level = o.UASTCLevel
		opts.PowerOfTwo = o.UASTCResizeNPOT
	} else {
		if o.ETC1SQuality > 0 {
			opts.Quality = o.ETC1SQuality
		}
		opts.PowerOfTwo = o.ETC1SResizeNPOT
	}
	return opts
}
