package scene

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/qmuntal/gltf"
)

// elementSize is the packed byte size of one accessor element.
func elementSize(acc *gltf.Accessor) int {
	return gltf.SizeOfElement(acc.ComponentType, acc.Type)
}

// readIndices decodes an index accessor payload.
func readIndices(acc *gltf.Accessor, data []byte) ([]uint32, error) {
	out := make([]uint32, acc.Count)
	switch acc.ComponentType {
	case gltf.ComponentUbyte:
		if len(data) < acc.Count {
			return nil, fmt.Errorf("index data truncated")
		}
		for i := range out {
			out[i] = uint32(data[i])
		}
	case gltf.ComponentUshort:
		if len(data) < acc.Count*2 {
			return nil, fmt.Errorf("index data truncated")
		}
		for i := range out {
			out[i] = uint32(binary.LittleEndian.Uint16(data[i*2:]))
		}
	case gltf.ComponentUint:
		if len(data) < acc.Count*4 {
			return nil, fmt.Errorf("index data truncated")
		}
		for i := range out {
			out[i] = binary.LittleEndian.Uint32(data[i*4:])
		}
	default:
		return nil, fmt.Errorf("invalid index component type %v", acc.ComponentType)
	}
	return out, nil
}

// encodeIndices packs indices with the narrowest type able to address
// vertexCount vertices.
func encodeIndices(indices []uint32, vertexCount int) (gltf.ComponentType, []byte) {
	if vertexCount < math.MaxUint16 {
		out := make([]byte, len(indices)*2)
		for i, v := range indices {
			binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
		}
		return gltf.ComponentUshort, out
	}
	out := make([]byte, len(indices)*4)
	for i, v := range indices {
		binary.LittleEndian.PutUint32(out[i*4:], v)
	}
	return gltf.ComponentUint, out
}

// sequentialIndices returns 0..count-1.
func sequentialIndices(count int) []uint32 {
	out := make([]uint32, count)
	for i := range out {
		out[i] = uint32(i)
	}
	return out
}

// gatherElements builds a new payload from the elements at order.
func gatherElements(data []byte, size int, order []uint32) []byte {
	out := make([]byte, len(order)*size)
	for i, src := range order {
		copy(out[i*size:(i+1)*size], data[int(src)*size:int(src+1)*size])
	}
	return out
}

// readVec3 decodes a float VEC3 payload.
func readVec3(acc *gltf.Accessor, data []byte) ([][3]float32, error) {
	if acc.ComponentType != gltf.ComponentFloat || acc.Type != gltf.AccessorVec3 {
		return nil, fmt.Errorf("%w: expected float VEC3 accessor", ErrUnsupportedPrimitive)
	}
	if len(data) < acc.Count*12 {
		return nil, fmt.Errorf("accessor data truncated")
	}
	out := make([][3]float32, acc.Count)
	for i := range out {
		for c := 0; c < 3; c++ {
			out[i][c] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*12+c*4:]))
		}
	}
	return out, nil
}

// readVec2 decodes a float VEC2 payload.
func readVec2(acc *gltf.Accessor, data []byte) ([][2]float32, error) {
	if acc.ComponentType != gltf.ComponentFloat || acc.Type != gltf.AccessorVec2 {
		return nil, fmt.Errorf("%w: expected float VEC2 accessor", ErrUnsupportedPrimitive)
	}
	if len(data) < acc.Count*8 {
		return nil, fmt.Errorf("accessor data truncated")
	}
	out := make([][2]float32, acc.Count)
	for i := range out {
		for c := 0; c < 2; c++ {
			out[i][c] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*8+c*4:]))
		}
	}
	return out, nil
}

// floatBytes packs float32 components little-endian.
func floatBytes(values ...float32) []byte {
	out := make([]byte, len(values)*4)
	for i, v := range values {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(v))
	}
	return out
}

// vec3Bytes packs VEC3 rows.
func vec3Bytes(rows [][3]float32) []byte {
	out := make([]byte, 0, len(rows)*12)
	for _, r := range rows {
		out = append(out, floatBytes(r[0], r[1], r[2])...)
	}
	return out
}

// vec2Bytes packs VEC2 rows.
func vec2Bytes(rows [][2]float32) []byte {
	out := make([]byte, 0, len(rows)*8)
	for _, r := range rows {
		out = append(out, floatBytes(r[0], r[1])...)
	}
	return out
}

// vec3Bounds returns component-wise min and max.
func vec3Bounds(rows [][3]float32) (lo, hi [3]float32) {
	for i, r := range rows {
		for c := 0; c < 3; c++ {
			if i == 0 || r[c] < lo[c] {
				lo[c] = r[c]
			}
			if i == 0 || r[c] > hi[c] {
				hi[c] = r[c]
			}
		}
	}
	return lo, hi
}

// primitiveAccessors lists every accessor index a primitive reads.
func primitiveAccessors(p *gltf.Primitive) []int {
	var out []int
	if p.Indices != nil {
		out = append(out, *p.Indices)
	}
	for _, idx := range p.Attributes {
		out = append(out, idx)
	}
	for _, target := range p.Targets {
		for _, idx := range target {
			out = append(out, idx)
		}
	}
	return out
}

// vertexCount returns the shared element count of a primitive's attributes.
func vertexCount(doc *gltf.Document, p *gltf.Primitive) (int, error) {
	count := -1
	for name, idx := range p.Attributes {
		if idx < 0 || idx >= len(doc.Accessors) {
			return 0, fmt.Errorf("attribute %s references missing accessor %d", name, idx)
		}
		c := doc.Accessors[idx].Count
		if count >= 0 && c != count {
			return 0, fmt.Errorf("attribute %s has %d elements, want %d", name, c, count)
		}
		count = c
	}
	if count < 0 {
		return 0, nil
	}
	return count, nil
}

func intPtr(v int) *int {
	return &v
}
