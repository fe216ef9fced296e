package bsp

import (
	"math"
	"strconv"
	"strings"
)

// Segment is one deduplicated 2D edge in world coordinates
// (X = east, Y = north), endpoints rounded to 0.1.
type Segment struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// Spawn is one player start point. Team is 1 or 2 for the teamplay
// starts and 0 for neutral spawns.
type Spawn struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Z     float64 `json:"z"`
	Team  int     `json:"team"`
	Class string  `json:"class"`
}

// Bounds is the axis-aligned world bounding box.
type Bounds struct {
	MinX float64 `json:"min_x"`
	MaxX float64 `json:"max_x"`
	MinY float64 `json:"min_y"`
	MaxY float64 `json:"max_y"`
	MinZ float64 `json:"min_z"`
	MaxZ float64 `json:"max_z"`
}

// Geometry is the simplified 2D wireframe model of a level. Immutable
// once built; the bounding box contains every segment endpoint and
// every spawn point.
type Geometry struct {
	Bounds   Bounds    `json:"bounds"`
	Segments []Segment `json:"edges"`
	Spawns   []Spawn   `json:"spawns"`
}

var spawnClasses = map[string]int{
	"info_player_start":      0,
	"info_player_deathmatch": 0,
	"info_player_team1":      1,
	"info_player_team2":      2,
}

// Geometry projects the edge topology onto the XY plane, deduplicating
// shared and coincident edges, and extracts spawn points from the
// entity block.
func (f *File) Geometry() *Geometry {
	g := &Geometry{}

	type coordKey [4]int64
	seenIdx := make(map[Edge]struct{}, len(f.Edges))
	seenPos := make(map[coordKey]struct{}, len(f.Edges))

	// Edge 0 is the engine's dummy record.
	for _, e := range f.Edges[min(1, len(f.Edges)):] {
		v0, v1 := e[0], e[1]
		if int(v0) >= len(f.Vertices) || int(v1) >= len(f.Vertices) {
			continue
		}
		if v0 > v1 {
			v0, v1 = v1, v0
		}
		if _, dup := seenIdx[Edge{v0, v1}]; dup {
			continue
		}
		seenIdx[Edge{v0, v1}] = struct{}{}

		a, b := f.Vertices[v0], f.Vertices[v1]
		seg := Segment{
			X1: round1(a.X), Y1: round1(a.Y),
			X2: round1(b.X), Y2: round1(b.Y),
		}
		if seg.X1 == seg.X2 && seg.Y1 == seg.Y2 {
			continue // projects to a point
		}
		// Distinct index pairs can still land on the same 2D segment
		// (stacked brushes); collapse them by quantized endpoints.
		k := coordKey{quant(seg.X1), quant(seg.Y1), quant(seg.X2), quant(seg.Y2)}
		if k[0] > k[2] || (k[0] == k[2] && k[1] > k[3]) {
			k = coordKey{k[2], k[3], k[0], k[1]}
		}
		if _, dup := seenPos[k]; dup {
			continue
		}
		seenPos[k] = struct{}{}
		g.Segments = append(g.Segments, seg)
	}

	g.Spawns = parseSpawns(f.EntityText)
	g.Bounds = f.bounds(g.Spawns)
	return g
}

func (f *File) bounds(spawns []Spawn) Bounds {
	b := Bounds{
		MinX: math.Inf(1), MaxX: math.Inf(-1),
		MinY: math.Inf(1), MaxY: math.Inf(-1),
		MinZ: math.Inf(1), MaxZ: math.Inf(-1),
	}
	grow := func(x, y, z float64) {
		b.MinX = math.Min(b.MinX, x)
		b.MaxX = math.Max(b.MaxX, x)
		b.MinY = math.Min(b.MinY, y)
		b.MaxY = math.Max(b.MaxY, y)
		b.MinZ = math.Min(b.MinZ, z)
		b.MaxZ = math.Max(b.MaxZ, z)
	}
	for _, v := range f.Vertices {
		grow(v.X, v.Y, v.Z)
	}
	for _, s := range spawns {
		grow(s.X, s.Y, s.Z)
	}
	if len(f.Vertices) == 0 && len(spawns) == 0 {
		return Bounds{}
	}
	return b
}

// parseSpawns walks the entity text block: brace-delimited records of
// "key" "value" lines.
func parseSpawns(text string) []Spawn {
	var spawns []Spawn
	current := map[string]string{}
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case line == "{":
			current = map[string]string{}
		case line == "}":
			if team, ok := spawnClasses[current["classname"]]; ok {
				if s, valid := spawnFrom(current, team); valid {
					spawns = append(spawns, s)
				}
			}
			current = map[string]string{}
		case strings.HasPrefix(line, `"`):
			parts := strings.Split(line, `"`)
			if len(parts) >= 4 {
				current[parts[1]] = parts[3]
			}
		}
	}
	return spawns
}

func spawnFrom(ent map[string]string, team int) (Spawn, bool) {
	fields := strings.Fields(ent["origin"])
	if len(fields) < 3 {
		return Spawn{}, false
	}
	var xyz [3]float64
	for i, fs := range fields[:3] {
		v, err := strconv.ParseFloat(fs, 64)
		if err != nil {
			return Spawn{}, false
		}
		xyz[i] = v
	}
	return Spawn{X: xyz[0], Y: xyz[1], Z: xyz[2], Team: team, Class: ent["classname"]}, true
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }

// quant buckets a coordinate to 1/8 unit for epsilon dedup.
func quant(v float64) int64 { return int64(math.Round(v * 8)) }
