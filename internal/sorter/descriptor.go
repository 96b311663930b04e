package sorter

import (
	"encoding/json"
	"os"

	"github.com/oocpc/engine/internal/octdim"
	"github.com/oocpc/engine/internal/point"
	"github.com/oocpc/engine/pkg/occerr"
)

// descriptorVersion is the wire version tag for Descriptor.
const descriptorVersion = "v1"

// vec3JSON is the JSON shape of an octdim.Vec3.
type vec3JSON struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Descriptor is the sidecar document written alongside a sorted point
// stream: the OctreeDim that maps it to Morton codes, plus the total
// point count. Read back by the CLI's serve command.
type Descriptor struct {
	Version    string   `json:"version"`
	Points     string   `json:"points"`
	Database   string   `json:"database"`
	Size       vec3JSON `json:"size"`
	Origin     vec3JSON `json:"origin"`
	Scale      float64  `json:"scale"`
	Depth      uint8    `json:"depth"`
	Attributes string   `json:"attributes"`
	Count      uint64   `json:"count"`
}

// buildDescriptor assembles the descriptor for one sorter run. origin
// is always the zero vector: the sorter rewrites every position into
// [0, size) before anything is written to disk.
func buildDescriptor(pointsPath, databasePath string, dim octdim.Dim, scale float64, layout point.Layout, count uint64) Descriptor {
	return Descriptor{
		Version:    descriptorVersion,
		Points:     pointsPath,
		Database:   databasePath,
		Size:       vec3JSON{X: dim.Size.X, Y: dim.Size.Y, Z: dim.Size.Z},
		Origin:     vec3JSON{X: dim.Origin.X, Y: dim.Origin.Y, Z: dim.Origin.Z},
		Scale:      scale,
		Depth:      dim.MaxLevel,
		Attributes: layout.String(),
		Count:      count,
	}
}

// WriteDescriptor writes d as JSON to path.
func WriteDescriptor(path string, d Descriptor) error {
	buf, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return occerr.Wrap(occerr.CodeStoreIO, "marshaling octree descriptor", err)
	}
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		return occerr.Wrap(occerr.CodeStoreIO, "writing octree descriptor", err)
	}
	return nil
}

// ReadDescriptor reads and parses a descriptor previously written by
// WriteDescriptor.
func ReadDescriptor(path string) (Descriptor, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return Descriptor{}, occerr.Wrap(occerr.CodeCorruptInput, "reading octree descriptor", err)
	}
	var d Descriptor
	if err := json.Unmarshal(buf, &d); err != nil {
		return Descriptor{}, occerr.Wrap(occerr.CodeCorruptInput, "parsing octree descriptor", err)
	}
	return d, nil
}
