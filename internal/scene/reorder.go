package scene

import (
	"context"
	"fmt"

	"github.com/qmuntal/gltf"
)

// Reorder rewrites vertex streams of indexed primitives into the order the
// index buffer first fetches them, improving vertex cache locality and
// compressibility. Unreferenced vertices keep their relative order after
// all referenced ones.
type Reorder struct{}

// Name returns "reorder".
func (Reorder) Name() string { return "reorder" }

func (Reorder) apply(_ context.Context, m *model) error {
	users := accessorUsers(m.doc)
	reordered := 0
	for mi, mesh := range m.doc.Meshes {
		for pi, p := range mesh.Primitives {
			if p.Indices == nil {
				continue
			}
			ok, err := reorderPrimitive(m, p, users)
			if err != nil {
				return fmt.Errorf("mesh %d primitive %d: %w", mi, pi, err)
			}
			if ok {
				reordered++
			}
		}
	}
	m.debugf("reorder: %d primitives reordered", reordered)
	return nil
}

// accessorUsers counts primitive references per accessor.
func accessorUsers(doc *gltf.Document) map[int]int {
	users := map[int]int{}
	for _, mesh := range doc.Meshes {
		for _, p := range mesh.Primitives {
			for _, idx := range primitiveAccessors(p) {
				users[idx]++
			}
		}
	}
	return users
}

// reorderPrimitive remaps one primitive. Primitives sharing accessors with
// others are left alone.
func reorderPrimitive(m *model, p *gltf.Primitive, users map[int]int) (bool, error) {
	for _, idx := range primitiveAccessors(p) {
		if users[idx] > 1 {
			return false, nil
		}
	}
	count, err := vertexCount(m.doc, p)
	if err != nil {
		return false, err
	}
	indexAcc := m.doc.Accessors[*p.Indices]
	indices, err := readIndices(indexAcc, m.accessorData[*p.Indices])
	if err != nil {
		return false, err
	}

	order := make([]uint32, 0, count)
	remap := make([]int64, count)
	for i := range remap {
		remap[i] = -1
	}
	for _, v := range indices {
		if int(v) >= count {
			return false, fmt.Errorf("index %d out of range for %d vertices", v, count)
		}
		if remap[v] < 0 {
			remap[v] = int64(len(order))
			order = append(order, v)
		}
	}
	for v := 0; v < count; v++ {
		if remap[v] < 0 {
			remap[v] = int64(len(order))
			order = append(order, uint32(v))
		}
	}

	newIndices := make([]uint32, len(indices))
	for i, v := range indices {
		newIndices[i] = uint32(remap[v])
	}
	comp, data := encodeIndices(newIndices, count)
	acc := *indexAcc
	acc.ComponentType = comp
	p.Indices = intPtr(m.addAccessor(&acc, data))

	remapStreams(m, p, order)
	return true, nil
}

// remapStreams rebuilds every vertex attribute and morph target of p in
// order.
func remapStreams(m *model, p *gltf.Primitive, order []uint32) {
	rebuild := func(idx int) int {
		src := m.doc.Accessors[idx]
		acc := *src
		acc.Count = len(order)
		return m.addAccessor(&acc, gatherElements(m.accessorData[idx], elementSize(src), order))
	}
	attrs := make(map[string]int, len(p.Attributes))
	for name, idx := range p.Attributes {
		attrs[name] = rebuild(idx)
	}
	p.Attributes = attrs
	for ti, target := range p.Targets {
		rebuilt := make(map[string]int, len(target))
		for name, idx := range target {
			rebuilt[name] = rebuild(idx)
		}
		p.Targets[ti] = rebuilt
	}
}
