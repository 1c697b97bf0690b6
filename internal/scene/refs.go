package scene

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/qmuntal/gltf"
)

// dracoPrimitiveExt is the per-primitive KHR_draco_mesh_compression payload.
type dracoPrimitiveExt struct {
	BufferView int            `json:"bufferView"`
	Attributes map[string]int `json:"attributes"`
}

// instancingExt is the per-node EXT_mesh_gpu_instancing payload.
type instancingExt struct {
	Attributes map[string]int `json:"attributes"`
}

// sourceExt is the per-texture payload of KHR_texture_basisu and
// EXT_texture_webp.
type sourceExt struct {
	Source *int `json:"source,omitempty"`
}

// decodeExtension converts a raw or typed extension value into out.
func decodeExtension(value any, out any) error {
	var data []byte
	switch v := value.(type) {
	case json.RawMessage:
		data = v
	case []byte:
		data = v
	default:
		var err error
		if data, err = json.Marshal(v); err != nil {
			return err
		}
	}
	return json.Unmarshal(data, out)
}

// rewriteJSONInts walks the JSON form of *target and replaces integer values
// stored under any of keys with fn(value). The rewritten JSON is decoded back
// into a fresh value at target.
func rewriteJSONInts[T any](target *T, keys []string, fn func(int) int) error {
	data, err := json.Marshal(*target)
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var tree any
	if err := dec.Decode(&tree); err != nil {
		return err
	}
	want := make(map[string]bool, len(keys))
	for _, k := range keys {
		want[k] = true
	}
	if err := walkJSONInts(tree, want, fn); err != nil {
		return err
	}
	if data, err = json.Marshal(tree); err != nil {
		return err
	}
	var fresh T
	if err := json.Unmarshal(data, &fresh); err != nil {
		return err
	}
	*target = fresh
	return nil
}

// walkJSONInts applies fn in place on a decoded JSON tree.
func walkJSONInts(node any, keys map[string]bool, fn func(int) int) error {
	switch v := node.(type) {
	case map[string]any:
		for k, child := range v {
			if num, ok := child.(json.Number); ok && keys[k] {
				n, err := num.Int64()
				if err != nil {
					return fmt.Errorf("%s: %w", k, err)
				}
				v[k] = fn(int(n))
				continue
			}
			if err := walkJSONInts(child, keys, fn); err != nil {
				return err
			}
		}
	case []any:
		for _, child := range v {
			if err := walkJSONInts(child, keys, fn); err != nil {
				return err
			}
		}
	}
	return nil
}

// collectJSONInts returns every integer stored under keys in v.
func collectJSONInts[T any](v T, keys ...string) ([]int, error) {
	var out []int
	err := rewriteJSONInts(&v, keys, func(n int) int {
		out = append(out, n)
		return n
	})
	return out, err
}

// compactionPlan maps old indices to new ones for a filtered list.
type compactionPlan struct {
	remap []int
	kept  int
}

// planCompaction keeps entries where keep[i] is true.
func planCompaction(keep []bool) compactionPlan {
	plan := compactionPlan{remap: make([]int, len(keep))}
	for i, k := range keep {
		if !k {
			plan.remap[i] = -1
			continue
		}
		plan.remap[i] = plan.kept
		plan.kept++
	}
	return plan
}

// accessorRefs applies fn to every accessor reference in doc. Animation and
// skin references are rewritten through their JSON form.
func accessorRefs(doc *gltf.Document, fn func(int) int) error {
	for _, mesh := range doc.Meshes {
		for _, p := range mesh.Primitives {
			if p.Indices != nil {
				p.Indices = intPtr(fn(*p.Indices))
			}
			for name, idx := range p.Attributes {
				p.Attributes[name] = fn(idx)
			}
			for _, target := range p.Targets {
				for name, idx := range target {
					target[name] = fn(idx)
				}
			}
		}
	}
	for i, node := range doc.Nodes {
		raw, ok := node.Extensions[ExtMeshGPUInstancing]
		if !ok {
			continue
		}
		var ext instancingExt
		if err := decodeExtension(raw, &ext); err != nil {
			return fmt.Errorf("node %d %s: %w", i, ExtMeshGPUInstancing, err)
		}
		for name, idx := range ext.Attributes {
			ext.Attributes[name] = fn(idx)
		}
		node.Extensions[ExtMeshGPUInstancing] = ext
	}
	if len(doc.Skins) > 0 {
		if err := rewriteJSONInts(&doc.Skins, []string{"inverseBindMatrices"}, fn); err != nil {
			return fmt.Errorf("skins: %w", err)
		}
	}
	if len(doc.Animations) > 0 {
		if err := rewriteJSONInts(&doc.Animations, []string{"input", "output"}, fn); err != nil {
			return fmt.Errorf("animations: %w", err)
		}
	}
	return nil
}

// animatedNodes returns the set of nodes targeted by any animation channel.
func animatedNodes(doc *gltf.Document) (map[int]bool, error) {
	out := map[int]bool{}
	if len(doc.Animations) == 0 {
		return out, nil
	}
	nodes, err := collectJSONInts(doc.Animations, "node")
	if err != nil {
		return nil, err
	}
	for _, n := range nodes {
		out[n] = true
	}
	return out, nil
}
