package scene

import (
	"context"
	"fmt"

	"github.com/qmuntal/gltf"
)

var (
	identityMatrix   = [16]float64{1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1}
	identityRotation = [4]float64{0, 0, 0, 1}
	unitScale        = [3]float64{1, 1, 1}
)

// Instance replaces sibling leaf nodes that share a mesh with a single node
// carrying EXT_mesh_gpu_instancing transforms.
type Instance struct {
	// MinInstances is the smallest group worth batching. Values below 2 use 2.
	MinInstances int
}

// Name returns "instance".
func (Instance) Name() string { return "instance" }

func (t Instance) apply(_ context.Context, m *model) error {
	minInstances := t.MinInstances
	if minInstances < 2 {
		minInstances = 2
	}
	animated, err := animatedNodes(m.doc)
	if err != nil {
		return fmt.Errorf("animations: %w", err)
	}

	// Parent lists: scene roots and node children.
	var parents [][]int
	for _, scene := range m.doc.Scenes {
		parents = append(parents, scene.Nodes)
	}
	owners := make([]*gltf.Node, 0, len(parents))
	for range parents {
		owners = append(owners, nil)
	}
	for _, node := range m.doc.Nodes {
		if len(node.Children) > 0 {
			parents = append(parents, node.Children)
			owners = append(owners, node)
		}
	}

	batched := 0
	for pi, siblings := range parents {
		groups := map[int][]int{}
		var order []int
		for _, ni := range siblings {
			if ni < 0 || ni >= len(m.doc.Nodes) || !instanceable(m.doc.Nodes[ni], animated[ni]) {
				continue
			}
			mesh := *m.doc.Nodes[ni].Mesh
			if _, ok := groups[mesh]; !ok {
				order = append(order, mesh)
			}
			groups[mesh] = append(groups[mesh], ni)
		}
		for _, mesh := range order {
			members := groups[mesh]
			if len(members) < minInstances {
				continue
			}
			node := m.instanceNode(mesh, members)
			m.doc.Nodes = append(m.doc.Nodes, node)
			idx := len(m.doc.Nodes) - 1
			if owner := owners[pi]; owner != nil {
				owner.Children = append(owner.Children, idx)
			} else {
				m.doc.Scenes[pi].Nodes = append(m.doc.Scenes[pi].Nodes, idx)
			}
			for _, ni := range members {
				m.doc.Nodes[ni].Mesh = nil
			}
			batched += len(members)
			m.debugf("instance: mesh %d batched into %d instances", mesh, len(members))
		}
	}
	if batched == 0 {
		m.debugf("instance: no repeated meshes found")
	}
	return nil
}

// instanceable reports whether a node can become one instance of a batch.
func instanceable(n *gltf.Node, animated bool) bool {
	if n.Mesh == nil || animated || len(n.Children) > 0 || n.Skin != nil || n.Camera != nil || len(n.Weights) > 0 {
		return false
	}
	if n.Matrix != identityMatrix && n.Matrix != ([16]float64{}) {
		return false
	}
	_, has := n.Extensions[ExtMeshGPUInstancing]
	return !has
}

// instanceNode builds the batch node and its transform accessors, omitting
// attributes whose values are all default.
func (m *model) instanceNode(mesh int, members []int) *gltf.Node {
	var translations, scales []byte
	var rotations []byte
	needT, needR, needS := false, false, false
	for _, ni := range members {
		n := m.doc.Nodes[ni]
		t := n.Translation
		r := n.Rotation
		if r == ([4]float64{}) {
			r = identityRotation
		}
		s := n.Scale
		if s == ([3]float64{}) {
			s = unitScale
		}
		needT = needT || t != [3]float64{}
		needR = needR || r != identityRotation
		needS = needS || s != unitScale
		translations = append(translations, floatBytes(float32(t[0]), float32(t[1]), float32(t[2]))...)
		rotations = append(rotations, floatBytes(float32(r[0]), float32(r[1]), float32(r[2]), float32(r[3]))...)
		scales = append(scales, floatBytes(float32(s[0]), float32(s[1]), float32(s[2]))...)
	}
	attrs := map[string]int{}
	if needT {
		attrs["TRANSLATION"] = m.addAccessor(&gltf.Accessor{ComponentType: gltf.ComponentFloat, Type: gltf.AccessorVec3, Count: len(members)}, translations)
	}
	if needR {
		attrs["ROTATION"] = m.addAccessor(&gltf.Accessor{ComponentType: gltf.ComponentFloat, Type: gltf.AccessorVec4, Count: len(members)}, rotations)
	}
	if needS {
		attrs["SCALE"] = m.addAccessor(&gltf.Accessor{ComponentType: gltf.ComponentFloat, Type: gltf.AccessorVec3, Count: len(members)}, scales)
	}
	if len(attrs) == 0 {
		attrs["TRANSLATION"] = m.addAccessor(&gltf.Accessor{ComponentType: gltf.ComponentFloat, Type: gltf.AccessorVec3, Count: len(members)}, translations)
	}
	name := m.doc.Meshes[mesh].Name
	if name == "" {
		name = fmt.Sprintf("mesh_%d", mesh)
	}
	return &gltf.Node{
		Name:        name + "_instances",
		Mesh:        intPtr(mesh),
		Matrix:      identityMatrix,
		Rotation:    identityRotation,
		Scale:       unitScale,
		Translation: [3]float64{},
		Extensions:  gltf.Extensions{ExtMeshGPUInstancing: instancingExt{Attributes: attrs}},
	}
}
