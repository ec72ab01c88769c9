// Package meshio inspects mesh files without loading full geometry. It
// answers one question for the result viewer: what does this artifact
// contain, and does it carry a UV channel.
package meshio

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// UVTypePerVertex marks a per-vertex texture coordinate channel.
const UVTypePerVertex = "per-vertex"

// Geometry summarizes one mesh or point-cloud file.
type Geometry struct {
	VertexCount int    `json:"vertexCount"`
	FaceCount   int    `json:"faceCount"`
	HasUV       bool   `json:"hasUV"`
	UVType      string `json:"uvType,omitempty"`
}

// Probe reads enough of an .obj or .ply file to summarize it. It is a pure
// inspection with no retained state.
func Probe(path string) (Geometry, error) {
	file, err := os.Open(path)
	if err != nil {
		return Geometry{}, err
	}
	defer file.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".obj":
		return probeOBJ(file)
	case ".ply":
		return probePLY(file)
	default:
		return Geometry{}, fmt.Errorf("unsupported mesh format: %s", filepath.Ext(path))
	}
}

// probeOBJ counts vertex, face, and texture-coordinate records.
func probeOBJ(file *os.File) (Geometry, error) {
	var geo Geometry
	uvCount := 0

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "v "):
			geo.VertexCount++
		case strings.HasPrefix(line, "f "):
			geo.FaceCount++
		case strings.HasPrefix(line, "vt "):
			uvCount++
		}
	}
	if err := scanner.Err(); err != nil {
		return Geometry{}, err
	}

	if uvCount > 0 {
		geo.HasUV = true
		geo.UVType = UVTypePerVertex
	}
	return geo, nil
}

// uvPropertyNames are PLY vertex property names that indicate stored texture
// coordinates.
var uvPropertyNames = map[string]bool{
	"s": true, "t": true,
	"u": true, "v": true,
	"texture_u": true, "texture_v": true,
}

// probePLY parses only the header, which is text in both the ascii and
// binary encodings.
func probePLY(file *os.File) (Geometry, error) {
	scanner := bufio.NewScanner(file)
	if !scanner.Scan() || strings.TrimSpace(scanner.Text()) != "ply" {
		return Geometry{}, fmt.Errorf("not a ply file")
	}

	var geo Geometry
	currentElement := ""
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "end_header":
			if geo.HasUV {
				geo.UVType = UVTypePerVertex
			}
			return geo, nil
		case "element":
			if len(fields) < 3 {
				return Geometry{}, fmt.Errorf("malformed element declaration")
			}
			count, err := strconv.Atoi(fields[2])
			if err != nil {
				return Geometry{}, fmt.Errorf("malformed element count: %w", err)
			}
			currentElement = fields[1]
			switch currentElement {
			case "vertex":
				geo.VertexCount = count
			case "face":
				geo.FaceCount = count
			}
		case "property":
			if currentElement == "vertex" && len(fields) >= 3 && uvPropertyNames[fields[len(fields)-1]] {
				geo.HasUV = true
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return Geometry{}, err
	}
	return Geometry{}, fmt.Errorf("ply header not terminated")
}
