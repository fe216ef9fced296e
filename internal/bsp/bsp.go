// Package bsp decodes Quake 2 IBSP version 38 level containers into
// the lump data the viewer needs: vertices, edge/face topology,
// texture info and the entity text block.
package bsp

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/golang/geo/r3"
)

var ibspMagic = []byte("IBSP")

const (
	ibspVersion = 38
	numLumps    = 19
	headerSize  = 8 + numLumps*8
)

// Lump directory indices.
const (
	lumpEntities  = 0
	lumpPlanes    = 1
	lumpVertices  = 2
	lumpTexInfo   = 5
	lumpFaces     = 6
	lumpEdges     = 11
	lumpSurfEdges = 12
)

// Record sizes on disk.
const (
	planeSize   = 20
	vertexSize  = 12
	texInfoSize = 76
	faceSize    = 20
	edgeSize    = 4
)

// ErrFormat matches any level rejection via errors.Is.
var ErrFormat = errors.New("unrecognized level format")

// FormatError rejects a level outright: unlike demo truncation there is
// no partial-geometry recovery, since rendering a garbled map is worse
// than refusing.
type FormatError struct {
	Msg string
}

func (e *FormatError) Error() string { return "bsp format: " + e.Msg }

func (e *FormatError) Is(target error) bool { return target == ErrFormat }

func formatErrf(format string, args ...any) error {
	return &FormatError{Msg: fmt.Sprintf(format, args...)}
}

// Plane is one splitting plane. Normal length is 1 in well-formed maps.
type Plane struct {
	Normal r3.Vector
	Dist   float64
}

// TexInfo carries the surface flags and texture name for a face.
type TexInfo struct {
	Flags uint32
	Name  string
}

// Face references its plane, a run of surfedges, and a texinfo record.
// Side set means the face normal is the plane normal flipped.
type Face struct {
	Plane     uint16
	Side      uint16
	FirstEdge int32
	NumEdges  uint16
	TexInfo   uint16
}

// Edge is a vertex index pair. Edge 0 is the engine's dummy record.
type Edge [2]uint16

// File is a fully decoded level. Immutable once loaded.
type File struct {
	Vertices   []r3.Vector
	Planes     []Plane
	TexInfos   []TexInfo
	Faces      []Face
	Edges      []Edge
	SurfEdges  []int32
	EntityText string
}

type lump struct {
	off, length int
}

// Load decodes raw IBSP bytes. Any header, version or lump-directory
// defect is a FormatError; there is no partial result.
func Load(raw []byte) (*File, error) {
	if len(raw) < headerSize {
		return nil, formatErrf("file too short for header (%d bytes)", len(raw))
	}
	if !bytes.Equal(raw[:4], ibspMagic) {
		return nil, formatErrf("bad magic %q", raw[:4])
	}
	if v := int32(binary.LittleEndian.Uint32(raw[4:])); v != ibspVersion {
		return nil, formatErrf("unsupported version %d, want %d", v, ibspVersion)
	}

	var lumps [numLumps]lump
	for i := range lumps {
		off := int(int32(binary.LittleEndian.Uint32(raw[8+i*8:])))
		length := int(int32(binary.LittleEndian.Uint32(raw[12+i*8:])))
		if off < 0 || length < 0 || off+length > len(raw) {
			return nil, formatErrf("lump %d out of range (off %d len %d of %d)", i, off, length, len(raw))
		}
		lumps[i] = lump{off: off, length: length}
	}

	f := &File{}
	f.Vertices = readVertices(raw, lumps[lumpVertices])
	f.Planes = readPlanes(raw, lumps[lumpPlanes])
	f.TexInfos = readTexInfos(raw, lumps[lumpTexInfo])
	f.Faces = readFaces(raw, lumps[lumpFaces])
	f.Edges = readEdges(raw, lumps[lumpEdges])
	f.SurfEdges = readSurfEdges(raw, lumps[lumpSurfEdges])

	ent := raw[lumps[lumpEntities].off : lumps[lumpEntities].off+lumps[lumpEntities].length]
	f.EntityText = strings.TrimRight(string(ent), "\x00")

	return f, nil
}

func readVertices(raw []byte, l lump) []r3.Vector {
	n := l.length / vertexSize
	out := make([]r3.Vector, n)
	for i := 0; i < n; i++ {
		p := l.off + i*vertexSize
		out[i] = r3.Vector{
			X: f32(raw, p),
			Y: f32(raw, p+4),
			Z: f32(raw, p+8),
		}
	}
	return out
}

func readPlanes(raw []byte, l lump) []Plane {
	n := l.length / planeSize
	out := make([]Plane, n)
	for i := 0; i < n; i++ {
		p := l.off + i*planeSize
		out[i] = Plane{
			Normal: r3.Vector{X: f32(raw, p), Y: f32(raw, p+4), Z: f32(raw, p+8)},
			Dist:   f32(raw, p+12),
		}
	}
	return out
}

func readTexInfos(raw []byte, l lump) []TexInfo {
	n := l.length / texInfoSize
	out := make([]TexInfo, n)
	for i := 0; i < n; i++ {
		p := l.off + i*texInfoSize
		name := raw[p+40 : p+72]
		if j := bytes.IndexByte(name, 0); j >= 0 {
			name = name[:j]
		}
		out[i] = TexInfo{
			Flags: binary.LittleEndian.Uint32(raw[p+32:]),
			Name:  string(name),
		}
	}
	return out
}

func readFaces(raw []byte, l lump) []Face {
	n := l.length / faceSize
	out := make([]Face, n)
	for i := 0; i < n; i++ {
		p := l.off + i*faceSize
		out[i] = Face{
			Plane:     binary.LittleEndian.Uint16(raw[p:]),
			Side:      binary.LittleEndian.Uint16(raw[p+2:]),
			FirstEdge: int32(binary.LittleEndian.Uint32(raw[p+4:])),
			NumEdges:  binary.LittleEndian.Uint16(raw[p+8:]),
			TexInfo:   binary.LittleEndian.Uint16(raw[p+10:]),
		}
	}
	return out
}

func readEdges(raw []byte, l lump) []Edge {
	n := l.length / edgeSize
	out := make([]Edge, n)
	for i := 0; i < n; i++ {
		p := l.off + i*edgeSize
		out[i] = Edge{
			binary.LittleEndian.Uint16(raw[p:]),
			binary.LittleEndian.Uint16(raw[p+2:]),
		}
	}
	return out
}

func readSurfEdges(raw []byte, l lump) []int32 {
	n := l.length / 4
	out := make([]int32, n)
	for i := 0; i < n; i++ {
		out[i] = int32(binary.LittleEndian.Uint32(raw[l.off+i*4:]))
	}
	return out
}

// FacePolygon gathers the ordered vertex loop for a face. Out-of-range
// surfedge or vertex indices are skipped rather than failing the face.
func (f *File) FacePolygon(face Face) []r3.Vector {
	poly := make([]r3.Vector, 0, face.NumEdges)
	for k := 0; k < int(face.NumEdges); k++ {
		i := int(face.FirstEdge) + k
		if i < 0 || i >= len(f.SurfEdges) {
			continue
		}
		se := f.SurfEdges[i]
		var v uint16
		if se >= 0 {
			if int(se) >= len(f.Edges) {
				continue
			}
			v = f.Edges[se][0]
		} else {
			if int(-se) >= len(f.Edges) {
				continue
			}
			v = f.Edges[-se][1]
		}
		if int(v) >= len(f.Vertices) {
			continue
		}
		poly = append(poly, f.Vertices[v])
	}
	return poly
}

// FaceNormalZ returns the vertical component of the face normal with
// the side flip applied. ok is false when the plane index is invalid.
func (f *File) FaceNormalZ(face Face) (float64, bool) {
	if int(face.Plane) >= len(f.Planes) {
		return 0, false
	}
	nz := f.Planes[face.Plane].Normal.Z
	if face.Side != 0 {
		nz = -nz
	}
	return nz, true
}

func f32(raw []byte, off int) float64 {
	return float64(math.Float32frombits(binary.LittleEndian.Uint32(raw[off:])))
}
