// Package topview rasterizes a top-down textured view of a decoded
// level: every floor and ceiling face painted with its texture's
// average color, aligned to the same world projection the replay
// frames use.
package topview

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"sort"

	"github.com/gogpu/gg"
	"github.com/rs/zerolog/log"

	"aq2-replay-viewer/internal/bsp"
)

// RendererVersion participates in cache keys so that stored images are
// regenerated when the rasterization rules change.
const RendererVersion = 1

// Surface flags that exclude a face from the topview.
const (
	surfSky    = 0x0004
	surfNoDraw = 0x0080
	surfHint   = 0x0100
	surfSkip   = 0x0200

	skipFlags = surfSky | surfNoDraw | surfHint | surfSkip
)

var (
	backgroundColor = color.RGBA{R: 11, G: 14, B: 22, A: 255}
	missingTexColor = color.RGBA{R: 60, G: 65, B: 75, A: 255}
	badTexColor     = color.RGBA{R: 80, G: 80, B: 80, A: 255}
)

const ceilingDarken = 30

// Options control one raster pass. The zero value is not usable; start
// from DefaultOptions.
type Options struct {
	Size int // square output edge in pixels

	// FloorThreshold is the minimum |normal.z| for a face to count as
	// floor/ceiling; anything flatter is a wall and is skipped.
	FloorThreshold float64
}

func DefaultOptions() Options {
	return Options{Size: 1024, FloorThreshold: 0.7}
}

// Alignment maps world coordinates to image pixels. Applying Project
// to any world point inside the bounding box lands within the image
// (±1 px of rounding at the border).
type Alignment struct {
	ImgSize int     `json:"img_size"`
	Scale   float64 `json:"scale"`
	OffX    float64 `json:"off_x"`
	OffY    float64 `json:"off_y"`
	MinX    float64 `json:"min_x"`
	MaxX    float64 `json:"max_x"`
	MinY    float64 `json:"min_y"`
	MaxY    float64 `json:"max_y"`
}

// Project maps a world coordinate to image pixels. North (+Y) is up,
// so the pixel Y axis is flipped.
func (a Alignment) Project(wx, wy float64) (px, py float64) {
	return a.OffX + (wx-a.MinX)*a.Scale, a.OffY + (a.MaxY-wy)*a.Scale
}

// Topview is one finished raster. Immutable; cacheable under CacheKey.
type Topview struct {
	Image     image.Image
	PNG       []byte
	Alignment Alignment
}

// CacheKey identifies a raster by level and renderer revision, for use
// by an external store.
func CacheKey(mapName string, opts Options) string {
	return fmt.Sprintf("%s-v%d-s%d", mapName, RendererVersion, opts.Size)
}

// Render paints the level's horizontal faces into a square image.
// Missing or undecodable assets degrade individual faces to flat
// fills; only an empty level is an error.
func Render(f *bsp.File, assets AssetStore, opts Options) (*Topview, error) {
	if opts.Size <= 0 {
		opts = DefaultOptions()
	}
	if len(f.Vertices) == 0 {
		return nil, errors.New("level has no vertices to project")
	}

	a := computeAlignment(f, opts.Size)
	dc := gg.NewContext(opts.Size, opts.Size)
	dc.SetColor(backgroundColor)
	dc.DrawRectangle(0, 0, float64(opts.Size), float64(opts.Size))
	dc.Fill()
	dc.ClearPath()

	colors := newColorCache(assets)
	for _, face := range sortedFaces(f, opts.FloorThreshold) {
		c := colors.lookup(face.texture)
		if face.nz < 0 {
			c = darken(c, ceilingDarken)
		}
		dc.SetColor(c)
		dc.MoveTo(a.Project(face.poly[0].X, face.poly[0].Y))
		for _, v := range face.poly[1:] {
			dc.LineTo(a.Project(v.X, v.Y))
		}
		dc.ClosePath()
		dc.Fill()
		dc.ClearPath()
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, dc.Image()); err != nil {
		return nil, fmt.Errorf("encode topview: %w", err)
	}
	return &Topview{Image: dc.Image(), PNG: buf.Bytes(), Alignment: a}, nil
}

// computeAlignment fits the world bounding box into the square image
// with a single uniform scale and centering offsets.
func computeAlignment(f *bsp.File, size int) Alignment {
	a := Alignment{ImgSize: size}
	a.MinX, a.MaxX = f.Vertices[0].X, f.Vertices[0].X
	a.MinY, a.MaxY = f.Vertices[0].Y, f.Vertices[0].Y
	for _, v := range f.Vertices[1:] {
		a.MinX = min(a.MinX, v.X)
		a.MaxX = max(a.MaxX, v.X)
		a.MinY = min(a.MinY, v.Y)
		a.MaxY = max(a.MaxY, v.Y)
	}

	rangeX := a.MaxX - a.MinX
	rangeY := a.MaxY - a.MinY
	if rangeX == 0 {
		rangeX = 1
	}
	if rangeY == 0 {
		rangeY = 1
	}
	a.Scale = min(float64(size)/rangeX, float64(size)/rangeY)
	a.OffX = (float64(size) - rangeX*a.Scale) / 2
	a.OffY = (float64(size) - rangeY*a.Scale) / 2
	return a
}

type paintFace struct {
	avgZ    float64
	nz      float64
	texture string
	poly    []faceVertex
}

type faceVertex struct {
	X, Y float64
}

// sortedFaces collects the paintable floor/ceiling faces ordered by
// ascending average height, so upper floors paint over lower ceilings.
func sortedFaces(f *bsp.File, threshold float64) []paintFace {
	var out []paintFace
	for _, face := range f.Faces {
		if int(face.TexInfo) >= len(f.TexInfos) {
			continue
		}
		ti := f.TexInfos[face.TexInfo]
		if ti.Flags&skipFlags != 0 {
			continue
		}
		if ti.Name == "" || ti.Name == "trigger" || len(ti.Name) >= 2 && ti.Name[:2] == "__" {
			continue
		}
		nz, ok := f.FaceNormalZ(face)
		if !ok || nz > -threshold && nz < threshold {
			continue // wall
		}
		poly := f.FacePolygon(face)
		if len(poly) < 3 {
			continue
		}

		pf := paintFace{nz: nz, texture: ti.Name, poly: make([]faceVertex, len(poly))}
		for i, v := range poly {
			pf.poly[i] = faceVertex{X: v.X, Y: v.Y}
			pf.avgZ += v.Z
		}
		pf.avgZ /= float64(len(poly))
		out = append(out, pf)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].avgZ < out[j].avgZ })
	return out
}

// colorCache memoizes per-texture average colors for one raster pass.
// The palette is loaded lazily on the first WAL decode.
type colorCache struct {
	assets AssetStore
	colors map[string]color.RGBA
	pal    *Palette
	palErr bool
}

func newColorCache(assets AssetStore) *colorCache {
	return &colorCache{assets: assets, colors: make(map[string]color.RGBA)}
}

func (cc *colorCache) lookup(name string) color.RGBA {
	if c, ok := cc.colors[name]; ok {
		return c
	}
	c := cc.resolve(name)
	cc.colors[name] = c
	return c
}

func (cc *colorCache) resolve(name string) color.RGBA {
	if cc.assets == nil {
		return missingTexColor
	}
	raw, err := cc.assets.Texture(name)
	if err != nil {
		var miss *AssetMissingError
		if !errors.As(err, &miss) {
			log.Warn().Err(err).Str("texture", name).Msg("texture read failed")
		}
		return missingTexColor
	}
	pal, ok := cc.palette()
	if !ok {
		return missingTexColor
	}
	c, err := walAverageColor(raw, pal)
	if err != nil {
		log.Warn().Err(err).Str("texture", name).Msg("bad wal texture")
		return badTexColor
	}
	return c
}

func (cc *colorCache) palette() (*Palette, bool) {
	if cc.pal != nil {
		return cc.pal, true
	}
	if cc.palErr {
		return nil, false
	}
	raw, err := cc.assets.Palette()
	if err == nil {
		cc.pal, err = ParsePalette(raw)
	}
	if err != nil {
		log.Warn().Err(err).Msg("palette unavailable, using flat fills")
		cc.palErr = true
		return nil, false
	}
	return cc.pal, true
}

func darken(c color.RGBA, by uint8) color.RGBA {
	sub := func(v uint8) uint8 {
		if v < by {
			return 0
		}
		return v - by
	}
	return color.RGBA{R: sub(c.R), G: sub(c.G), B: sub(c.B), A: c.A}
}
