package scene

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/qmuntal/gltf"
)

// GLTFIO reads and writes glTF 2.0 JSON and GLB files.
type GLTFIO struct {
	mu      sync.Mutex
	decoder MeshDecoder
	encoder MeshEncoder
	// compressed streams keyed by mesh content and options
	dracoCache map[string]*dracoResult
}

type dracoResult struct {
	data        []byte
	attributes  map[string]int
	vertexCount int
	indexCount  int
}

// NewIO returns an IO without codec dependencies.
func NewIO() *GLTFIO {
	return &GLTFIO{dracoCache: map[string]*dracoResult{}}
}

// RegisterDependencies installs mesh codecs under their dependency keys.
func (io *GLTFIO) RegisterDependencies(deps map[string]any) error {
	io.mu.Lock()
	defer io.mu.Unlock()
	for key, dep := range deps {
		switch key {
		case DependencyDracoDecoder:
			dec, ok := dep.(MeshDecoder)
			if !ok {
				return fmt.Errorf("%s: %T does not decode meshes", key, dep)
			}
			io.decoder = dec
		case DependencyDracoEncoder:
			enc, ok := dep.(MeshEncoder)
			if !ok {
				return fmt.Errorf("%s: %T does not encode meshes", key, dep)
			}
			io.encoder = enc
		default:
			return fmt.Errorf("unknown dependency %q", key)
		}
	}
	return nil
}

func (io *GLTFIO) codecs() (MeshDecoder, MeshEncoder) {
	io.mu.Lock()
	defer io.mu.Unlock()
	return io.decoder, io.encoder
}

// Read loads a .glb or .gltf file with its external resources.
func (io *GLTFIO) Read(path string) (Document, error) {
	doc, err := gltf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	decoder, _ := io.codecs()
	m, err := explode(context.Background(), doc, filepath.Dir(path), decoder)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return m, nil
}

// WriteBinary serializes doc as GLB.
func (io *GLTFIO) WriteBinary(doc Document) ([]byte, error) {
	m, ok := doc.(*model)
	if !ok {
		return nil, ErrForeignDocument
	}
	return io.encode(m, true)
}

// Write serializes doc to path. A .gltf extension produces JSON with an
// embedded buffer; anything else produces GLB.
func (io *GLTFIO) Write(path string, doc Document) error {
	m, ok := doc.(*model)
	if !ok {
		return ErrForeignDocument
	}
	binary := !strings.EqualFold(filepath.Ext(path), ".gltf")
	data, err := io.encode(m, binary)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// bufferBuilder accumulates buffer views into one buffer.
type bufferBuilder struct {
	data  []byte
	views []*gltf.BufferView
}

// add appends a 4-byte aligned view and returns its index.
func (b *bufferBuilder) add(data []byte, stride int, target gltf.Target) int {
	for len(b.data)%4 != 0 {
		b.data = append(b.data, 0)
	}
	b.views = append(b.views, &gltf.BufferView{
		Buffer:     0,
		ByteOffset: len(b.data),
		ByteLength: len(data),
		ByteStride: stride,
		Target:     target,
	})
	b.data = append(b.data, data...)
	return len(b.views) - 1
}

// encode builds a compacted copy of the document and serializes it.
func (io *GLTFIO) encode(m *model, binary bool) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out, err := cloneStructure(m.doc)
	if err != nil {
		return nil, fmt.Errorf("clone document: %w", err)
	}
	payloads := append([][]byte(nil), m.accessorData...)
	b := &bufferBuilder{}

	if ext := m.liveExtension(ExtDracoMeshCompression); ext != nil {
		if payloads, err = io.compressMeshes(m, out, payloads, ext, b); err != nil {
			return nil, err
		}
	}

	if err := writeImages(m, out, b); err != nil {
		return nil, err
	}
	if err := writeAccessors(out, payloads, b); err != nil {
		return nil, err
	}
	mapTextureSources(m, out)

	if len(b.data) > 0 {
		for len(b.data)%4 != 0 {
			b.data = append(b.data, 0)
		}
		buf := &gltf.Buffer{ByteLength: len(b.data), Data: b.data}
		if !binary {
			buf.EmbeddedResource()
		}
		out.Buffers = []*gltf.Buffer{buf}
		out.BufferViews = b.views
	}
	out.ExtensionsUsed, out.ExtensionsRequired = declaredExtensions(m, out)

	var w bytes.Buffer
	enc := gltf.NewEncoder(&w)
	enc.AsBinary = binary
	if err := enc.Encode(out); err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return w.Bytes(), nil
}

// cloneStructure deep-copies the JSON structure of a buffer-less document.
func cloneStructure(doc *gltf.Document) (*gltf.Document, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	out := new(gltf.Document)
	if err := json.Unmarshal(data, out); err != nil {
		return nil, err
	}
	return out, nil
}

// writeImages embeds live images into buffer views and drops the rest.
func writeImages(m *model, out *gltf.Document, b *bufferBuilder) error {
	keep := make([]bool, len(out.Images))
	for i := range out.Images {
		keep[i] = !m.images[i].dropped
	}
	plan := planCompaction(keep)
	images := make([]*gltf.Image, 0, plan.kept)
	for i, img := range out.Images {
		if !keep[i] {
			continue
		}
		entry := m.images[i]
		img.MimeType = entry.mime
		img.BufferView = nil
		img.URI = ""
		switch {
		case len(entry.data) > 0:
			img.BufferView = intPtr(b.add(entry.data, 0, 0))
		case entry.uri != "":
			img.URI = entry.uri
			img.MimeType = ""
		}
		images = append(images, img)
	}
	out.Images = images
	for _, tex := range out.Textures {
		if tex.Source == nil {
			continue
		}
		if *tex.Source < 0 || *tex.Source >= len(plan.remap) || plan.remap[*tex.Source] < 0 {
			tex.Source = nil
			continue
		}
		tex.Source = intPtr(plan.remap[*tex.Source])
	}
	return nil
}

// mapTextureSources moves KTX2 and WebP sources into their extensions.
func mapTextureSources(m *model, out *gltf.Document) {
	for _, tex := range out.Textures {
		if tex.Source == nil || *tex.Source >= len(out.Images) {
			continue
		}
		var name string
		switch out.Images[*tex.Source].MimeType {
		case MimeKTX2:
			name = ExtTextureBasisu
		case MimeWebP:
			name = ExtTextureWebP
		default:
			continue
		}
		if tex.Extensions == nil {
			tex.Extensions = gltf.Extensions{}
		}
		tex.Extensions[name] = sourceExt{Source: tex.Source}
		tex.Source = nil
	}
}

// writeAccessors drops unreferenced accessors, packs the rest into buffer
// views and rewrites every reference.
func writeAccessors(out *gltf.Document, payloads [][]byte, b *bufferBuilder) error {
	keep := make([]bool, len(out.Accessors))
	vertex := make([]bool, len(out.Accessors))
	index := make([]bool, len(out.Accessors))
	if err := accessorRefs(out, func(i int) int {
		if i >= 0 && i < len(keep) {
			keep[i] = true
		}
		return i
	}); err != nil {
		return err
	}
	for _, mesh := range out.Meshes {
		for _, p := range mesh.Primitives {
			if p.Indices != nil && *p.Indices < len(index) {
				index[*p.Indices] = true
			}
			for _, idx := range p.Attributes {
				if idx < len(vertex) {
					vertex[idx] = true
				}
			}
			for _, target := range p.Targets {
				for _, idx := range target {
					if idx < len(vertex) {
						vertex[idx] = true
					}
				}
			}
		}
	}

	plan := planCompaction(keep)
	accessors := make([]*gltf.Accessor, 0, plan.kept)
	for i, acc := range out.Accessors {
		if !keep[i] {
			continue
		}
		acc.BufferView = nil
		acc.ByteOffset = 0
		if data := payloads[i]; data != nil && acc.Count > 0 {
			var target gltf.Target
			stride := 0
			switch {
			case index[i]:
				target = gltf.TargetElementArrayBuffer
			case vertex[i]:
				target = gltf.TargetArrayBuffer
				size := elementSize(acc)
				if size%4 != 0 {
					stride = (size + 3) &^ 3
					data = padElements(data, size, stride)
				}
			}
			acc.BufferView = intPtr(b.add(data, stride, target))
		}
		accessors = append(accessors, acc)
	}
	out.Accessors = accessors
	return accessorRefs(out, func(i int) int {
		if i < 0 || i >= len(plan.remap) {
			return i
		}
		return plan.remap[i]
	})
}

// padElements spreads tightly packed elements out to stride bytes each.
func padElements(data []byte, size, stride int) []byte {
	count := len(data) / size
	out := make([]byte, count*stride)
	for e := 0; e < count; e++ {
		copy(out[e*stride:], data[e*size:(e+1)*size])
	}
	return out
}

// declaredExtensions lists extensionsUsed and extensionsRequired from the
// source declarations and the live document state.
func declaredExtensions(m *model, out *gltf.Document) (used, required []string) {
	usedSet := map[string]bool{}
	requiredSet := map[string]bool{}
	for _, name := range m.used {
		usedSet[name] = true
	}
	for _, name := range m.required {
		requiredSet[name] = true
	}
	for _, ext := range m.extensions {
		if ext.disposed {
			continue
		}
		usedSet[ext.name] = true
		if ext.required {
			requiredSet[ext.name] = true
		}
	}
	for _, tex := range out.Textures {
		if _, ok := tex.Extensions[ExtTextureBasisu]; ok {
			usedSet[ExtTextureBasisu] = true
			requiredSet[ExtTextureBasisu] = true
		}
		if _, ok := tex.Extensions[ExtTextureWebP]; ok {
			usedSet[ExtTextureWebP] = true
			requiredSet[ExtTextureWebP] = true
		}
	}
	for _, node := range out.Nodes {
		if _, ok := node.Extensions[ExtMeshGPUInstancing]; ok {
			usedSet[ExtMeshGPUInstancing] = true
		}
	}
	for name := range requiredSet {
		usedSet[name] = true
	}
	return sortedKeys(usedSet), sortedKeys(requiredSet)
}

func sortedKeys(set map[string]bool) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// compressMeshes replaces eligible primitives with Draco streams. Encoded
// primitives point at fresh payload-less accessors so shared source
// accessors stay intact for other users.
func (io *GLTFIO) compressMeshes(m *model, out *gltf.Document, payloads [][]byte, ext *extension, b *bufferBuilder) ([][]byte, error) {
	decoder, encoder := io.codecs()
	if encoder == nil {
		return nil, fmt.Errorf("%s: %w: %s", ExtDracoMeshCompression, ErrMissingDependency, DependencyDracoEncoder)
	}
	opts := DefaultDracoOptions()
	if o, ok := ext.options.(DracoOptions); ok {
		opts = o
	}
	if opts.QuantizationVolume == "scene" {
		m.debugf("%s: scene quantization volume is not supported by the mesh encoder, using mesh", ExtDracoMeshCompression)
	}

	for mi, mesh := range out.Meshes {
		for pi, p := range mesh.Primitives {
			data, err := primitiveMeshData(out, payloads, p)
			if errors.Is(err, ErrUnsupportedPrimitive) {
				m.warnf("%s: mesh %d primitive %d left uncompressed: %v", ExtDracoMeshCompression, mi, pi, err)
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("mesh %d primitive %d: %w", mi, pi, err)
			}
			res, err := io.encodeMesh(encoder, decoder, data, opts)
			if errors.Is(err, ErrUnsupportedPrimitive) {
				m.warnf("%s: mesh %d primitive %d left uncompressed: %v", ExtDracoMeshCompression, mi, pi, err)
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("mesh %d primitive %d: %s: %w", mi, pi, ExtDracoMeshCompression, err)
			}

			view := b.add(res.data, 0, 0)
			attrs := make(map[string]int, len(p.Attributes))
			for name, idx := range p.Attributes {
				acc := *out.Accessors[idx]
				acc.Count = res.vertexCount
				out.Accessors = append(out.Accessors, &acc)
				payloads = append(payloads, nil)
				attrs[name] = len(out.Accessors) - 1
			}
			comp := gltf.ComponentUint
			if res.vertexCount < 65535 {
				comp = gltf.ComponentUshort
			}
			out.Accessors = append(out.Accessors, &gltf.Accessor{
				ComponentType: comp,
				Type:          gltf.AccessorScalar,
				Count:         res.indexCount,
			})
			payloads = append(payloads, nil)
			p.Indices = intPtr(len(out.Accessors) - 1)
			p.Attributes = attrs
			if p.Extensions == nil {
				p.Extensions = gltf.Extensions{}
			}
			p.Extensions[ExtDracoMeshCompression] = dracoPrimitiveExt{BufferView: view, Attributes: res.attributes}
		}
	}
	return payloads, nil
}

// primitiveMeshData extracts the codec attribute set from a primitive.
func primitiveMeshData(doc *gltf.Document, payloads [][]byte, p *gltf.Primitive) (*MeshData, error) {
	if p.Mode != gltf.PrimitiveTriangles {
		return nil, fmt.Errorf("%w: mode %v", ErrUnsupportedPrimitive, p.Mode)
	}
	if len(p.Targets) > 0 {
		return nil, fmt.Errorf("%w: morph targets", ErrUnsupportedPrimitive)
	}
	if _, ok := p.Attributes["POSITION"]; !ok {
		return nil, fmt.Errorf("%w: no POSITION attribute", ErrUnsupportedPrimitive)
	}
	mesh := &MeshData{}
	for name, idx := range p.Attributes {
		acc := doc.Accessors[idx]
		var err error
		switch name {
		case "POSITION":
			mesh.Positions, err = readVec3(acc, payloads[idx])
		case "NORMAL":
			mesh.Normals, err = readVec3(acc, payloads[idx])
		case "TEXCOORD_0":
			mesh.TexCoords, err = readVec2(acc, payloads[idx])
		default:
			err = fmt.Errorf("%w: attribute %s", ErrUnsupportedPrimitive, name)
		}
		if err != nil {
			return nil, err
		}
	}
	if p.Indices != nil {
		idx := *p.Indices
		indices, err := readIndices(doc.Accessors[idx], payloads[idx])
		if err != nil {
			return nil, err
		}
		mesh.Indices = indices
	} else {
		mesh.Indices = sequentialIndices(len(mesh.Positions))
	}
	if len(mesh.Indices) == 0 || len(mesh.Indices)%3 != 0 {
		return nil, fmt.Errorf("%w: %d indices is not a triangle list", ErrUnsupportedPrimitive, len(mesh.Indices))
	}
	return mesh, nil
}

// encodeMesh compresses one mesh, reusing earlier results for identical
// input. When a decoder is registered the stream is decoded once to learn
// the element counts a reader will see.
func (io *GLTFIO) encodeMesh(encoder MeshEncoder, decoder MeshDecoder, mesh *MeshData, opts DracoOptions) (*dracoResult, error) {
	key, err := meshKey(mesh, opts)
	if err != nil {
		return nil, err
	}
	io.mu.Lock()
	cached, ok := io.dracoCache[key]
	io.mu.Unlock()
	if ok {
		return cached, nil
	}

	ctx := context.Background()
	encoded, err := encoder.EncodeMesh(ctx, mesh, opts)
	if err != nil {
		return nil, err
	}
	res := &dracoResult{
		data:        encoded.Data,
		attributes:  encoded.Attributes,
		vertexCount: len(mesh.Positions),
		indexCount:  len(mesh.Indices),
	}
	if decoder != nil {
		decoded, err := decoder.DecodeMesh(ctx, encoded.Data)
		if err != nil {
			return nil, fmt.Errorf("verify encoded mesh: %w", err)
		}
		res.vertexCount = len(decoded.Positions)
		res.indexCount = len(decoded.Indices)
	}

	io.mu.Lock()
	io.dracoCache[key] = res
	io.mu.Unlock()
	return res, nil
}

// meshKey fingerprints a mesh and its encoder options.
func meshKey(mesh *MeshData, opts DracoOptions) (string, error) {
	h := sha256.New()
	optData, err := json.Marshal(opts)
	if err != nil {
		return "", err
	}
	h.Write(optData)
	h.Write(vec3Bytes(mesh.Positions))
	h.Write([]byte{0})
	h.Write(vec3Bytes(mesh.Normals))
	h.Write([]byte{0})
	h.Write(vec2Bytes(mesh.TexCoords))
	h.Write([]byte{0})
	for _, idx := range mesh.Indices {
		h.Write([]byte{byte(idx), byte(idx >> 8), byte(idx >> 16), byte(idx >> 24)})
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
