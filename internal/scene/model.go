package scene

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/qmuntal/gltf"
	_ "golang.org/x/image/webp"
)

// imageEntry holds one image payload outside the glTF buffers.
type imageEntry struct {
	data    []byte
	mime    string
	uri     string
	dropped bool
}

// model is the adapter's Document. Accessor and image payloads live in side
// tables so the glTF structure never references buffers until write time.
type model struct {
	mu           sync.Mutex
	doc          *gltf.Document
	accessorData [][]byte
	images       []*imageEntry
	extensions   []*extension
	logger       Logger
	// passthrough extension declarations from the source file
	used     []string
	required []string
}

// newModel wraps an exploded document.
func newModel(doc *gltf.Document) *model {
	return &model{doc: doc}
}

// ListTextures returns every live image payload.
func (m *model) ListTextures() []Texture {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Texture, 0, len(m.images))
	for i, img := range m.images {
		if img.dropped {
			continue
		}
		out = append(out, &texture{m: m, index: i})
	}
	return out
}

// Transform applies transforms in order. The document is locked for the
// duration of each one.
func (m *model) Transform(ctx context.Context, transforms ...Transform) error {
	for _, t := range transforms {
		if err := ctx.Err(); err != nil {
			return err
		}
		m.debugf("%s: start", t.Name())
		m.mu.Lock()
		err := t.apply(ctx, m)
		m.mu.Unlock()
		if err != nil {
			return fmt.Errorf("%s: %w", t.Name(), err)
		}
		m.debugf("%s: complete", t.Name())
	}
	return nil
}

// CreateExtension returns the live extension with name, creating it when
// absent.
func (m *model) CreateExtension(name string) Extension {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ext := m.liveExtension(name); ext != nil {
		return ext
	}
	ext := &extension{name: name, m: m}
	m.extensions = append(m.extensions, ext)
	return ext
}

// SetLogger installs the diagnostics sink.
func (m *model) SetLogger(logger Logger) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logger = logger
}

// Logger returns the installed diagnostics sink, if any.
func (m *model) Logger() Logger {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.logger
}

// TextureSlots lists the material slots that sample t.
func (m *model) TextureSlots(t Texture) []string {
	tex, ok := t.(*texture)
	if !ok || tex.m != m {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := map[string]bool{}
	m.visitTextureUses(tex.index, func(slot string, _ Channel) {
		seen[slot] = true
	})
	slots := make([]string, 0, len(seen))
	for slot := range seen {
		slots = append(slots, slot)
	}
	sort.Strings(slots)
	return slots
}

// TextureChannelMask unions the channels every material use of t reads.
func (m *model) TextureChannelMask(t Texture) Channel {
	tex, ok := t.(*texture)
	if !ok || tex.m != m {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var mask Channel
	m.visitTextureUses(tex.index, func(_ string, c Channel) {
		mask |= c
	})
	return mask
}

// visitTextureUses calls fn for each material slot bound to an image.
func (m *model) visitTextureUses(imageIndex int, fn func(slot string, channels Channel)) {
	uses := func(textureIndex int) bool {
		if textureIndex < 0 || textureIndex >= len(m.doc.Textures) {
			return false
		}
		src := m.doc.Textures[textureIndex].Source
		return src != nil && *src == imageIndex
	}
	for _, mat := range m.doc.Materials {
		if pbr := mat.PBRMetallicRoughness; pbr != nil {
			if pbr.BaseColorTexture != nil && uses(pbr.BaseColorTexture.Index) {
				fn("baseColorTexture", ChannelR|ChannelG|ChannelB|ChannelA)
			}
			if pbr.MetallicRoughnessTexture != nil && uses(pbr.MetallicRoughnessTexture.Index) {
				fn("metallicRoughnessTexture", ChannelG|ChannelB)
			}
		}
		if mat.EmissiveTexture != nil && uses(mat.EmissiveTexture.Index) {
			fn("emissiveTexture", ChannelR|ChannelG|ChannelB)
		}
		if mat.NormalTexture != nil && mat.NormalTexture.Index != nil && uses(*mat.NormalTexture.Index) {
			fn("normalTexture", ChannelR|ChannelG|ChannelB)
		}
		if mat.OcclusionTexture != nil && mat.OcclusionTexture.Index != nil && uses(*mat.OcclusionTexture.Index) {
			fn("occlusionTexture", ChannelR)
		}
	}
}

// liveExtension finds a created, undisposed extension. Caller holds mu.
func (m *model) liveExtension(name string) *extension {
	for _, ext := range m.extensions {
		if ext.name == name && !ext.disposed {
			return ext
		}
	}
	return nil
}

// addAccessor appends an accessor with its payload. Caller holds mu.
func (m *model) addAccessor(acc *gltf.Accessor, data []byte) int {
	acc.BufferView = nil
	acc.ByteOffset = 0
	m.doc.Accessors = append(m.doc.Accessors, acc)
	m.accessorData = append(m.accessorData, data)
	return len(m.doc.Accessors) - 1
}

func (m *model) debugf(format string, args ...any) {
	if l := m.logger; l != nil {
		l.Debug(fmt.Sprintf(format, args...))
	}
}

func (m *model) warnf(format string, args ...any) {
	if l := m.logger; l != nil {
		l.Warn(fmt.Sprintf(format, args...))
	}
}

// texture is a handle onto one image entry.
type texture struct {
	m     *model
	index int
}

func (t *texture) entry() *imageEntry {
	return t.m.images[t.index]
}

// Name returns the glTF image name.
func (t *texture) Name() string {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	return t.m.doc.Images[t.index].Name
}

// URI returns the source-relative URI, empty for embedded payloads.
func (t *texture) URI() string {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	return t.entry().uri
}

// SetURI replaces the URI.
func (t *texture) SetURI(uri string) {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	t.entry().uri = uri
}

// MimeType returns the payload type.
func (t *texture) MimeType() string {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	return t.entry().mime
}

// SetMimeType replaces the payload type.
func (t *texture) SetMimeType(mime string) {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	t.entry().mime = mime
}

// Image returns the payload bytes.
func (t *texture) Image() []byte {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	return t.entry().data
}

// SetImage replaces the payload bytes.
func (t *texture) SetImage(data []byte) {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	t.entry().data = data
}

// Size probes pixel dimensions from the payload header.
func (t *texture) Size() ([2]int, bool) {
	t.m.mu.Lock()
	e := t.entry()
	data, mime := e.data, e.mime
	t.m.mu.Unlock()
	return imageSize(data, mime)
}

// imageSize reads dimensions without decoding pixels.
func imageSize(data []byte, mime string) ([2]int, bool) {
	if len(data) == 0 {
		return [2]int{}, false
	}
	if mime == MimeKTX2 {
		return ktx2Size(data)
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil || cfg.Width <= 0 || cfg.Height <= 0 {
		return [2]int{}, false
	}
	return [2]int{cfg.Width, cfg.Height}, true
}

var ktx2Identifier = []byte{0xAB, 'K', 'T', 'X', ' ', '2', '0', 0xBB, '\r', '\n', 0x1A, '\n'}

// ktx2Size reads pixelWidth and pixelHeight from a KTX2 header.
func ktx2Size(data []byte) ([2]int, bool) {
	if len(data) < 28 || !bytes.Equal(data[:12], ktx2Identifier) {
		return [2]int{}, false
	}
	w := int(binary.LittleEndian.Uint32(data[20:24]))
	h := int(binary.LittleEndian.Uint32(data[24:28]))
	if w <= 0 {
		return [2]int{}, false
	}
	if h == 0 {
		h = 1
	}
	return [2]int{w, h}, true
}

// mimeExtension maps a MIME type to a file extension without the dot.
func mimeExtension(mime string) string {
	switch mime {
	case MimePNG:
		return "png"
	case MimeJPEG:
		return "jpg"
	case MimeWebP:
		return "webp"
	case MimeKTX2:
		return "ktx2"
	default:
		return "bin"
	}
}

// mimeFromURI guesses a MIME type from a file extension.
func mimeFromURI(uri string) string {
	switch strings.ToLower(path.Ext(uri)) {
	case ".png":
		return MimePNG
	case ".jpg", ".jpeg":
		return MimeJPEG
	case ".webp":
		return MimeWebP
	case ".ktx2":
		return MimeKTX2
	default:
		return ""
	}
}

// ImageExtension returns the file extension for a texture, preferring its
// URI and falling back to its MIME type.
func ImageExtension(t Texture) string {
	if uri := t.URI(); uri != "" {
		if ext := strings.TrimPrefix(path.Ext(uri), "."); ext != "" {
			return ext
		}
	}
	return mimeExtension(t.MimeType())
}

// BaseName strips directories and the extension from a URI.
func BaseName(uri string) string {
	base := path.Base(uri)
	return strings.TrimSuffix(base, path.Ext(base))
}

// extension is a document capability created by a stage.
type extension struct {
	m        *model
	name     string
	required bool
	options  any
	disposed bool
}

// Name returns the extension name.
func (e *extension) Name() string { return e.name }

// SetRequired marks the extension as required by readers.
func (e *extension) SetRequired(required bool) Extension {
	e.m.mu.Lock()
	defer e.m.mu.Unlock()
	e.required = required
	return e
}

// Required reports whether readers must support the extension.
func (e *extension) Required() bool {
	e.m.mu.Lock()
	defer e.m.mu.Unlock()
	return e.required
}

// SetOptions stores extension-specific configuration.
func (e *extension) SetOptions(options any) Extension {
	e.m.mu.Lock()
	defer e.m.mu.Unlock()
	e.options = options
	return e
}

// Options returns the stored configuration.
func (e *extension) Options() any {
	e.m.mu.Lock()
	defer e.m.mu.Unlock()
	return e.options
}

// Dispose removes the extension from the document.
func (e *extension) Dispose() {
	e.m.mu.Lock()
	defer e.m.mu.Unlock()
	e.disposed = true
}

// Disposed reports whether Dispose was called.
func (e *extension) Disposed() bool {
	e.m.mu.Lock()
	defer e.m.mu.Unlock()
	return e.disposed
}
