package scene

import (
	"context"
	"fmt"

	"github.com/qmuntal/gltf"
)

// Weld merges vertices whose attribute and morph target bytes are identical
// and indexes primitives that had no index buffer.
type Weld struct{}

// Name returns "weld".
func (Weld) Name() string { return "weld" }

func (Weld) apply(_ context.Context, m *model) error {
	merged := 0
	for mi, mesh := range m.doc.Meshes {
		for pi, p := range mesh.Primitives {
			n, err := weldPrimitive(m, p)
			if err != nil {
				return fmt.Errorf("mesh %d primitive %d: %w", mi, pi, err)
			}
			merged += n
		}
	}
	m.debugf("weld: %d vertices merged", merged)
	return nil
}

// weldPrimitive rewrites p onto fresh accessors and returns the number of
// vertices removed.
func weldPrimitive(m *model, p *gltf.Primitive) (int, error) {
	count, err := vertexCount(m.doc, p)
	if err != nil {
		return 0, err
	}
	if count == 0 {
		return 0, nil
	}
	var indices []uint32
	if p.Indices != nil {
		if indices, err = readIndices(m.doc.Accessors[*p.Indices], m.accessorData[*p.Indices]); err != nil {
			return 0, err
		}
	} else {
		indices = sequentialIndices(count)
	}

	streams := primitiveAccessors(p)
	if p.Indices != nil {
		streams = streams[1:]
	}
	first := make(map[string]uint32, count)
	remap := make([]uint32, count)
	order := make([]uint32, 0, count)
	key := make([]byte, 0, 64)
	for v := 0; v < count; v++ {
		key = key[:0]
		for _, idx := range streams {
			size := elementSize(m.doc.Accessors[idx])
			key = append(key, m.accessorData[idx][v*size:(v+1)*size]...)
		}
		if prev, ok := first[string(key)]; ok {
			remap[v] = prev
			continue
		}
		remap[v] = uint32(len(order))
		first[string(key)] = remap[v]
		order = append(order, uint32(v))
	}

	newIndices := make([]uint32, len(indices))
	for i, v := range indices {
		if int(v) >= count {
			return 0, fmt.Errorf("index %d out of range for %d vertices", v, count)
		}
		newIndices[i] = remap[v]
	}
	comp, data := encodeIndices(newIndices, len(order))
	indexAcc := &gltf.Accessor{Type: gltf.AccessorScalar}
	if p.Indices != nil {
		cp := *m.doc.Accessors[*p.Indices]
		indexAcc = &cp
	}
	indexAcc.ComponentType = comp
	indexAcc.Count = len(newIndices)
	indexAcc.Min = nil
	indexAcc.Max = nil
	p.Indices = intPtr(m.addAccessor(indexAcc, data))

	if len(order) < count {
		remapStreams(m, p, order)
	}
	return count - len(order), nil
}
