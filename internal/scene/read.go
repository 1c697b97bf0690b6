package scene

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/qmuntal/gltf"
)

// managedExtensions are declared by the writer from document state rather
// than passed through from the source.
var managedExtensions = map[string]bool{
	ExtDracoMeshCompression: true,
	ExtTextureBasisu:        true,
	ExtTextureWebP:          true,
	ExtMeshGPUInstancing:    true,
	ExtLightsPunctual:       true,
}

// explode moves every accessor and image payload out of the glTF buffers
// into the model's side tables and drops the buffers.
func explode(ctx context.Context, doc *gltf.Document, dir string, decoder MeshDecoder) (*model, error) {
	m := newModel(doc)

	for _, name := range doc.ExtensionsUsed {
		if !managedExtensions[name] {
			m.used = append(m.used, name)
		}
	}
	for _, name := range doc.ExtensionsRequired {
		if !managedExtensions[name] {
			m.required = append(m.required, name)
		}
	}
	if lightsDeclared(doc) {
		m.used = append(m.used, ExtLightsPunctual)
	}

	m.accessorData = make([][]byte, len(doc.Accessors))
	for i, acc := range doc.Accessors {
		data, err := accessorPayload(doc, acc)
		if err != nil {
			return nil, fmt.Errorf("accessor %d: %w", i, err)
		}
		m.accessorData[i] = data
	}

	m.images = make([]*imageEntry, len(doc.Images))
	for i, img := range doc.Images {
		entry, err := imagePayload(doc, img, dir)
		if err != nil {
			return nil, fmt.Errorf("image %d: %w", i, err)
		}
		m.images[i] = entry
		img.BufferView = nil
		img.URI = ""
	}

	if err := decodeDracoPrimitives(ctx, m, decoder); err != nil {
		return nil, err
	}

	for _, acc := range doc.Accessors {
		acc.BufferView = nil
		acc.ByteOffset = 0
	}
	for _, tex := range doc.Textures {
		resolveTextureSource(tex)
	}
	doc.Buffers = nil
	doc.BufferViews = nil
	doc.ExtensionsUsed = nil
	doc.ExtensionsRequired = nil
	return m, nil
}

// lightsDeclared reports whether the source carries punctual lights.
func lightsDeclared(doc *gltf.Document) bool {
	for _, name := range doc.ExtensionsUsed {
		if name == ExtLightsPunctual {
			return true
		}
	}
	return false
}

// bufferViewBytes returns the raw bytes behind a buffer view.
func bufferViewBytes(doc *gltf.Document, index int) ([]byte, *gltf.BufferView, error) {
	if index < 0 || index >= len(doc.BufferViews) {
		return nil, nil, fmt.Errorf("buffer view %d out of range", index)
	}
	view := doc.BufferViews[index]
	if view.Buffer < 0 || view.Buffer >= len(doc.Buffers) {
		return nil, nil, fmt.Errorf("buffer %d out of range", view.Buffer)
	}
	data := doc.Buffers[view.Buffer].Data
	end := view.ByteOffset + view.ByteLength
	if view.ByteOffset < 0 || end > len(data) {
		return nil, nil, fmt.Errorf("buffer view %d exceeds buffer %d", index, view.Buffer)
	}
	return data[view.ByteOffset:end], view, nil
}

// accessorPayload copies an accessor's elements into a tightly packed slice.
func accessorPayload(doc *gltf.Document, acc *gltf.Accessor) ([]byte, error) {
	if acc.Sparse != nil {
		return nil, fmt.Errorf("sparse accessors are not supported")
	}
	size := elementSize(acc)
	out := make([]byte, acc.Count*size)
	if acc.BufferView == nil {
		return out, nil
	}
	view, bv, err := bufferViewBytes(doc, *acc.BufferView)
	if err != nil {
		return nil, err
	}
	stride := bv.ByteStride
	if stride == 0 {
		stride = size
	}
	for e := 0; e < acc.Count; e++ {
		off := acc.ByteOffset + e*stride
		if off+size > len(view) {
			return nil, fmt.Errorf("element %d exceeds buffer view", e)
		}
		copy(out[e*size:], view[off:off+size])
	}
	return out, nil
}

// imagePayload loads an image from its buffer view, data URI, or file.
func imagePayload(doc *gltf.Document, img *gltf.Image, dir string) (*imageEntry, error) {
	entry := &imageEntry{mime: img.MimeType}
	switch {
	case img.BufferView != nil:
		data, _, err := bufferViewBytes(doc, *img.BufferView)
		if err != nil {
			return nil, err
		}
		entry.data = append([]byte(nil), data...)
	case img.IsEmbeddedResource():
		data, err := img.MarshalData()
		if err != nil {
			return nil, err
		}
		entry.data = data
		if entry.mime == "" {
			entry.mime = dataURIMime(img.URI)
		}
	case img.URI != "":
		entry.uri = img.URI
		name, err := url.PathUnescape(img.URI)
		if err != nil {
			name = img.URI
		}
		// Unreadable external images stay empty and are skipped later.
		if data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(name))); err == nil {
			entry.data = data
		}
		if entry.mime == "" {
			entry.mime = mimeFromURI(img.URI)
		}
	}
	if entry.mime == "" {
		entry.mime = sniffMime(entry.data)
	}
	return entry, nil
}

// sniffMime recognizes payloads by their magic bytes.
func sniffMime(data []byte) string {
	switch {
	case bytes.HasPrefix(data, []byte("\x89PNG\r\n\x1a\n")):
		return MimePNG
	case bytes.HasPrefix(data, []byte{0xFF, 0xD8, 0xFF}):
		return MimeJPEG
	case len(data) >= 12 && string(data[:4]) == "RIFF" && string(data[8:12]) == "WEBP":
		return MimeWebP
	case bytes.HasPrefix(data, ktx2Identifier):
		return MimeKTX2
	default:
		return ""
	}
}

// dataURIMime extracts the media type from a data URI.
func dataURIMime(uri string) string {
	rest, ok := strings.CutPrefix(uri, "data:")
	if !ok {
		return ""
	}
	mime, _, _ := strings.Cut(rest, ";")
	return mime
}

// resolveTextureSource moves KHR_texture_basisu and EXT_texture_webp sources
// into Texture.Source.
func resolveTextureSource(tex *gltf.Texture) {
	for _, name := range []string{ExtTextureBasisu, ExtTextureWebP} {
		raw, ok := tex.Extensions[name]
		if !ok {
			continue
		}
		var ext sourceExt
		if err := decodeExtension(raw, &ext); err == nil && ext.Source != nil {
			tex.Source = ext.Source
		}
		delete(tex.Extensions, name)
	}
}

// decodeDracoPrimitives expands KHR_draco_mesh_compression primitives into
// plain float attributes and 32-bit indices.
func decodeDracoPrimitives(ctx context.Context, m *model, decoder MeshDecoder) error {
	doc := m.doc
	for mi, mesh := range doc.Meshes {
		for pi, p := range mesh.Primitives {
			raw, ok := p.Extensions[ExtDracoMeshCompression]
			if !ok {
				continue
			}
			if decoder == nil {
				return fmt.Errorf("mesh %d primitive %d: %w: %s", mi, pi, ErrMissingDependency, DependencyDracoDecoder)
			}
			var ext dracoPrimitiveExt
			if err := decodeExtension(raw, &ext); err != nil {
				return fmt.Errorf("mesh %d primitive %d: %w", mi, pi, err)
			}
			stream, _, err := bufferViewBytes(doc, ext.BufferView)
			if err != nil {
				return fmt.Errorf("mesh %d primitive %d: %w", mi, pi, err)
			}
			decoded, err := decoder.DecodeMesh(ctx, stream)
			if err != nil {
				return fmt.Errorf("mesh %d primitive %d: decode: %w", mi, pi, err)
			}
			if err := applyDecodedMesh(m, p, decoded); err != nil {
				return fmt.Errorf("mesh %d primitive %d: %w", mi, pi, err)
			}
			delete(p.Extensions, ExtDracoMeshCompression)
		}
	}
	return nil
}

// applyDecodedMesh writes decoded geometry into the primitive's accessors.
func applyDecodedMesh(m *model, p *gltf.Primitive, mesh *MeshData) error {
	for name := range p.Attributes {
		switch name {
		case "POSITION", "NORMAL", "TEXCOORD_0":
		default:
			return fmt.Errorf("%w: compressed attribute %s", ErrUnsupportedPrimitive, name)
		}
	}
	set := func(name string, typ gltf.AccessorType, count int, data []byte) {
		idx, ok := p.Attributes[name]
		if !ok {
			return
		}
		acc := m.doc.Accessors[idx]
		acc.ComponentType = gltf.ComponentFloat
		acc.Type = typ
		acc.Normalized = false
		acc.Count = count
		m.accessorData[idx] = data
	}
	set("POSITION", gltf.AccessorVec3, len(mesh.Positions), vec3Bytes(mesh.Positions))
	set("NORMAL", gltf.AccessorVec3, len(mesh.Normals), vec3Bytes(mesh.Normals))
	set("TEXCOORD_0", gltf.AccessorVec2, len(mesh.TexCoords), vec2Bytes(mesh.TexCoords))

	comp, data := encodeIndices(mesh.Indices, len(mesh.Positions))
	if p.Indices == nil {
		p.Indices = intPtr(m.addAccessor(&gltf.Accessor{
			ComponentType: comp,
			Type:          gltf.AccessorScalar,
			Count:         len(mesh.Indices),
		}, data))
		return nil
	}
	acc := m.doc.Accessors[*p.Indices]
	acc.ComponentType = comp
	acc.Type = gltf.AccessorScalar
	acc.Count = len(mesh.Indices)
	m.accessorData[*p.Indices] = data
	return nil
}
