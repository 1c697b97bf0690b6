package scene

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"

	"github.com/qmuntal/gltf"
)

// Dedupe merges accessors, images, materials and meshes with identical
// content.
type Dedupe struct{}

// Name returns "dedupe".
func (Dedupe) Name() string { return "dedupe" }

func (Dedupe) apply(_ context.Context, m *model) error {
	accessors := dedupeAccessors(m)
	images := dedupeImages(m)
	materials, err := dedupeMaterials(m)
	if err != nil {
		return err
	}
	meshes, err := dedupeMeshes(m)
	if err != nil {
		return err
	}
	m.debugf("dedupe: merged %d accessors, %d images, %d materials, %d meshes", accessors, images, materials, meshes)
	return nil
}

// dedupeAccessors points primitives at the first of each set of identical
// accessors. Index and vertex data are keyed separately.
func dedupeAccessors(m *model) int {
	first := map[string]int{}
	merged := map[int]bool{}
	key := func(kind string, idx int) string {
		acc := m.doc.Accessors[idx]
		sum := sha256.Sum256(m.accessorData[idx])
		return fmt.Sprintf("%s|%d|%d|%t|%d|%x", kind, acc.ComponentType, acc.Type, acc.Normalized, acc.Count, sum)
	}
	canonical := func(kind string, idx int) int {
		if idx < 0 || idx >= len(m.doc.Accessors) {
			return idx
		}
		k := key(kind, idx)
		if prev, ok := first[k]; ok {
			if prev != idx {
				merged[idx] = true
			}
			return prev
		}
		first[k] = idx
		return idx
	}
	for _, mesh := range m.doc.Meshes {
		for _, p := range mesh.Primitives {
			if p.Indices != nil {
				p.Indices = intPtr(canonical("index", *p.Indices))
			}
			for name, idx := range p.Attributes {
				p.Attributes[name] = canonical("vertex", idx)
			}
			for _, target := range p.Targets {
				for name, idx := range target {
					target[name] = canonical("vertex", idx)
				}
			}
		}
	}
	return len(merged)
}

// dedupeImages drops images whose type and payload repeat an earlier one.
func dedupeImages(m *model) int {
	first := map[string]int{}
	remap := make([]int, len(m.images))
	merged := 0
	for i, img := range m.images {
		remap[i] = i
		if img.dropped || len(img.data) == 0 {
			continue
		}
		k := fmt.Sprintf("%s|%x", img.mime, sha256.Sum256(img.data))
		if prev, ok := first[k]; ok {
			remap[i] = prev
			img.dropped = true
			merged++
			continue
		}
		first[k] = i
	}
	for _, tex := range m.doc.Textures {
		if tex.Source != nil && *tex.Source >= 0 && *tex.Source < len(remap) {
			tex.Source = intPtr(remap[*tex.Source])
		}
	}
	return merged
}

// dedupeMaterials removes materials equal in everything but name.
func dedupeMaterials(m *model) (int, error) {
	keep := make([]bool, len(m.doc.Materials))
	canonical := make([]int, len(m.doc.Materials))
	first := map[string]int{}
	for i, mat := range m.doc.Materials {
		named := *mat
		named.Name = ""
		data, err := json.Marshal(&named)
		if err != nil {
			return 0, fmt.Errorf("material %d: %w", i, err)
		}
		k := string(data)
		if prev, ok := first[k]; ok {
			canonical[i] = prev
			continue
		}
		first[k] = i
		canonical[i] = i
		keep[i] = true
	}
	plan := planCompaction(keep)
	if plan.kept == len(keep) {
		return 0, nil
	}
	materials := make([]*gltf.Material, 0, plan.kept)
	for i, mat := range m.doc.Materials {
		if keep[i] {
			materials = append(materials, mat)
		}
	}
	m.doc.Materials = materials
	for _, mesh := range m.doc.Meshes {
		for _, p := range mesh.Primitives {
			if p.Material != nil && *p.Material >= 0 && *p.Material < len(canonical) {
				p.Material = intPtr(plan.remap[canonical[*p.Material]])
			}
		}
	}
	return len(keep) - plan.kept, nil
}

// dedupeMeshes removes meshes equal in everything but name.
func dedupeMeshes(m *model) (int, error) {
	keep := make([]bool, len(m.doc.Meshes))
	canonical := make([]int, len(m.doc.Meshes))
	first := map[string]int{}
	for i, mesh := range m.doc.Meshes {
		named := *mesh
		named.Name = ""
		data, err := json.Marshal(&named)
		if err != nil {
			return 0, fmt.Errorf("mesh %d: %w", i, err)
		}
		k := string(data)
		if prev, ok := first[k]; ok {
			canonical[i] = prev
			continue
		}
		first[k] = i
		canonical[i] = i
		keep[i] = true
	}
	plan := planCompaction(keep)
	if plan.kept == len(keep) {
		return 0, nil
	}
	meshes := make([]*gltf.Mesh, 0, plan.kept)
	for i, mesh := range m.doc.Meshes {
		if keep[i] {
			meshes = append(meshes, mesh)
		}
	}
	m.doc.Meshes = meshes
	for _, node := range m.doc.Nodes {
		if node.Mesh != nil && *node.Mesh >= 0 && *node.Mesh < len(canonical) {
			node.Mesh = intPtr(plan.remap[canonical[*node.Mesh]])
		}
	}
	return len(keep) - plan.kept, nil
}
