// Package pointio implements the streaming point source contract: a
// callback reader over ASCII PLY point files, the common interchange
// format for point cloud vertex data (x, y, z plus optional normal and
// color vertex properties).
package pointio

import (
	"bufio"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/oocpc/engine/internal/point"
	"github.com/oocpc/engine/pkg/occerr"
)

// OnPoint is called once per point decoded from a stream.
type OnPoint func(p point.Point)

// property describes one vertex property column in a PLY header.
type property struct {
	name string
}

// Read streams every vertex in the PLY file at path to onPoint. x, y, z
// are required; nx, ny, nz and red, green, blue are optional and
// zero-filled when the file's vertex element does not declare them.
// Color channels are 0-255 integers scaled to 0-1 floats. Only the
// ASCII PLY encoding is supported.
func Read(path string, onPoint OnPoint) error {
	f, err := os.Open(path)
	if err != nil {
		return occerr.Wrap(occerr.CodeCorruptInput, "opening point file", err)
	}
	defer f.Close()
	return ReadFrom(f, onPoint)
}

// ReadFrom streams every vertex from r, in the same format as Read.
func ReadFrom(r io.Reader, onPoint OnPoint) error {
	br := bufio.NewReaderSize(r, 1<<20)

	props, vertexCount, err := readHeader(br)
	if err != nil {
		return err
	}

	colIdx := make(map[string]int, len(props))
	for i, p := range props {
		colIdx[p.name] = i
	}
	xi, xok := colIdx["x"]
	yi, yok := colIdx["y"]
	zi, zok := colIdx["z"]
	if !xok || !yok || !zok {
		return occerr.New(occerr.CodeCorruptInput, "ply vertex element missing required x/y/z properties")
	}
	nxi, hasNormal := colIdx["nx"]
	ri, hasColor := colIdx["red"]

	for i := uint64(0); i < vertexCount; i++ {
		line, err := br.ReadString('\n')
		if err != nil && line == "" {
			if err == io.EOF {
				return occerr.Newf(occerr.CodeCorruptInput, "ply truncated: expected %d vertices, got %d", vertexCount, i)
			}
			return occerr.Wrap(occerr.CodeCorruptInput, "reading ply vertex line", err)
		}
		fields := strings.Fields(line)
		if len(fields) < len(props) {
			return occerr.Newf(occerr.CodeCorruptInput, "ply vertex %d has %d fields, expected %d", i, len(fields), len(props))
		}

		var p point.Point
		p.X, err = parseFloat(fields[xi])
		if err != nil {
			return err
		}
		p.Y, err = parseFloat(fields[yi])
		if err != nil {
			return err
		}
		p.Z, err = parseFloat(fields[zi])
		if err != nil {
			return err
		}

		if hasNormal {
			if p.NX, err = parseFloat(fields[nxi]); err != nil {
				return err
			}
			if p.NY, err = parseFloat(fields[colIdx["ny"]]); err != nil {
				return err
			}
			if p.NZ, err = parseFloat(fields[colIdx["nz"]]); err != nil {
				return err
			}
		}

		if hasColor {
			rv, err := parseByteAsUnit(fields[ri])
			if err != nil {
				return err
			}
			gv, err := parseByteAsUnit(fields[colIdx["green"]])
			if err != nil {
				return err
			}
			bv, err := parseByteAsUnit(fields[colIdx["blue"]])
			if err != nil {
				return err
			}
			p.R, p.G, p.B = rv, gv, bv
		}

		onPoint(p)
	}

	return nil
}

func parseFloat(s string) (float32, error) {
	v, err := strconv.ParseFloat(s, 32)
	if err != nil {
		return 0, occerr.Wrap(occerr.CodeCorruptInput, "parsing ply numeric field", err)
	}
	return float32(v), nil
}

func parseByteAsUnit(s string) (float32, error) {
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, occerr.Wrap(occerr.CodeCorruptInput, "parsing ply color channel", err)
	}
	if v < 0 || v > 255 {
		return 0, occerr.Newf(occerr.CodeCorruptInput, "color channel %d out of range [0,255]", v)
	}
	return float32(v) / 255.0, nil
}

// readHeader parses the PLY header up to and including end_header,
// returning the declared vertex properties in column order and the
// vertex element count.
func readHeader(br *bufio.Reader) ([]property, uint64, error) {
	line, err := br.ReadString('\n')
	if err != nil || strings.TrimSpace(line) != "ply" {
		return nil, 0, occerr.New(occerr.CodeCorruptInput, "not a ply file: missing magic header")
	}

	var props []property
	var vertexCount uint64
	inVertexElement := false

	for {
		line, err := br.ReadString('\n')
		if err != nil {
			return nil, 0, occerr.Wrap(occerr.CodeCorruptInput, "reading ply header", err)
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "format":
			if len(fields) < 2 || fields[1] != "ascii" {
				return nil, 0, occerr.New(occerr.CodeCorruptInput, "only ascii ply format is supported")
			}
		case "comment":
			continue
		case "element":
			if len(fields) < 3 {
				return nil, 0, occerr.New(occerr.CodeCorruptInput, "malformed ply element line")
			}
			inVertexElement = fields[1] == "vertex"
			if inVertexElement {
				n, err := strconv.ParseUint(fields[2], 10, 64)
				if err != nil {
					return nil, 0, occerr.Wrap(occerr.CodeCorruptInput, "parsing ply vertex count", err)
				}
				vertexCount = n
			}
		case "property":
			if inVertexElement && len(fields) >= 3 {
				props = append(props, property{name: fields[len(fields)-1]})
			}
		case "end_header":
			return props, vertexCount, nil
		}
	}
}
