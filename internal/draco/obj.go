package draco

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"asset-packer/internal/scene"
)

// WriteOBJ writes mesh as a Wavefront OBJ with one v/vt/vn per vertex.
func WriteOBJ(w io.Writer, mesh *scene.MeshData) error {
	bw := bufio.NewWriter(w)
	for _, p := range mesh.Positions {
		fmt.Fprintf(bw, "v %s %s %s\n", ftoa(p[0]), ftoa(p[1]), ftoa(p[2]))
	}
	for _, t := range mesh.TexCoords {
		fmt.Fprintf(bw, "vt %s %s\n", ftoa(t[0]), ftoa(t[1]))
	}
	for _, n := range mesh.Normals {
		fmt.Fprintf(bw, "vn %s %s %s\n", ftoa(n[0]), ftoa(n[1]), ftoa(n[2]))
	}
	hasT, hasN := len(mesh.TexCoords) > 0, len(mesh.Normals) > 0
	corner := func(i uint32) string {
		n := strconv.Itoa(int(i) + 1)
		switch {
		case hasT && hasN:
			return n + "/" + n + "/" + n
		case hasT:
			return n + "/" + n
		case hasN:
			return n + "//" + n
		default:
			return n
		}
	}
	for i := 0; i+2 < len(mesh.Indices); i += 3 {
		fmt.Fprintf(bw, "f %s %s %s\n", corner(mesh.Indices[i]), corner(mesh.Indices[i+1]), corner(mesh.Indices[i+2]))
	}
	return bw.Flush()
}

func ftoa(v float32) string {
	return strconv.FormatFloat(float64(v), 'g', -1, 32)
}

// ReadOBJ parses positions, texture coordinates, normals and faces. Each
// distinct v/vt/vn corner becomes one vertex; polygons are fan triangulated.
func ReadOBJ(r io.Reader) (*scene.MeshData, error) {
	var positions, normals [][3]float32
	var texcoords [][2]float32
	mesh := &scene.MeshData{}
	vertices := map[[3]int]uint32{}
	hasT, hasN := false, false

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 || strings.HasPrefix(fields[0], "#") {
			continue
		}
		switch fields[0] {
		case "v":
			v, err := parseFloats(fields[1:], 3)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
			positions = append(positions, [3]float32{v[0], v[1], v[2]})
		case "vt":
			v, err := parseFloats(fields[1:], 2)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
			texcoords = append(texcoords, [2]float32{v[0], v[1]})
		case "vn":
			v, err := parseFloats(fields[1:], 3)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
			normals = append(normals, [3]float32{v[0], v[1], v[2]})
		case "f":
			if len(fields) < 4 {
				return nil, fmt.Errorf("line %d: face needs at least 3 corners", line)
			}
			corners := make([]uint32, 0, len(fields)-1)
			for _, tok := range fields[1:] {
				ref, err := parseCorner(tok, len(positions), len(texcoords), len(normals))
				if err != nil {
					return nil, fmt.Errorf("line %d: %w", line, err)
				}
				idx, ok := vertices[ref]
				if !ok {
					idx = uint32(len(mesh.Positions))
					vertices[ref] = idx
					mesh.Positions = append(mesh.Positions, positions[ref[0]])
					var t [2]float32
					if ref[1] >= 0 {
						t = texcoords[ref[1]]
						hasT = true
					}
					mesh.TexCoords = append(mesh.TexCoords, t)
					var n [3]float32
					if ref[2] >= 0 {
						n = normals[ref[2]]
						hasN = true
					}
					mesh.Normals = append(mesh.Normals, n)
				}
				corners = append(corners, idx)
			}
			for i := 1; i+1 < len(corners); i++ {
				mesh.Indices = append(mesh.Indices, corners[0], corners[i], corners[i+1])
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if !hasT {
		mesh.TexCoords = nil
	}
	if !hasN {
		mesh.Normals = nil
	}
	return mesh, nil
}

// parseFloats reads the first n fields as float32.
func parseFloats(fields []string, n int) ([]float32, error) {
	if len(fields) < n {
		return nil, fmt.Errorf("want %d values, got %d", n, len(fields))
	}
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		v, err := strconv.ParseFloat(fields[i], 32)
		if err != nil {
			return nil, err
		}
		out[i] = float32(v)
	}
	return out, nil
}

// parseCorner resolves a v[/vt][/vn] token into zero-based indices, -1 for
// absent components. Negative OBJ indices count back from the end.
func parseCorner(tok string, nv, nt, nn int) ([3]int, error) {
	ref := [3]int{-1, -1, -1}
	parts := strings.Split(tok, "/")
	limits := [3]int{nv, nt, nn}
	for i := 0; i < len(parts) && i < 3; i++ {
		if parts[i] == "" {
			continue
		}
		v, err := strconv.Atoi(parts[i])
		if err != nil {
			return ref, fmt.Errorf("corner %q: %w", tok, err)
		}
		switch {
		case v > 0:
			v--
		case v < 0:
			v += limits[i]
		default:
			return ref, fmt.Errorf("corner %q: zero index", tok)
		}
		if v < 0 || v >= limits[i] {
			return ref, fmt.Errorf("corner %q: index out of range", tok)
		}
		ref[i] = v
	}
	if ref[0] < 0 {
		return ref, fmt.Errorf("corner %q: missing position", tok)
	}
	return ref, nil
}
