package topview

import (
	"encoding/binary"
	"image/color"
	"testing"

	"github.com/golang/geo/r3"

	"aq2-replay-viewer/internal/bsp"
)

// fakeStore serves synthetic assets from memory.
type fakeStore struct {
	textures map[string][]byte
	palette  []byte
}

func (s *fakeStore) Texture(name string) ([]byte, error) {
	if raw, ok := s.textures[name]; ok {
		return raw, nil
	}
	return nil, &AssetMissingError{Name: name}
}

func (s *fakeStore) Palette() ([]byte, error) {
	if s.palette == nil {
		return nil, &AssetMissingError{Name: "colormap.pcx"}
	}
	return s.palette, nil
}

// testPalette maps index i to gray i, except index 5 = (200, 100, 50).
func testPalette() []byte {
	raw := make([]byte, 10+pcxPaletteSize) // arbitrary pcx body before the tail
	tail := raw[10:]
	tail[0] = 0x0c
	for i := 0; i < 256; i++ {
		tail[1+i*3], tail[2+i*3], tail[3+i*3] = uint8(i), uint8(i), uint8(i)
	}
	tail[1+5*3], tail[2+5*3], tail[3+5*3] = 200, 100, 50
	return raw
}

// testWAL builds a w×h texture with every pixel at one palette index.
func testWAL(w, h int, index uint8) []byte {
	raw := make([]byte, walHeaderSize+w*h)
	copy(raw, "e1u1/floor")
	binary.LittleEndian.PutUint32(raw[32:], uint32(w))
	binary.LittleEndian.PutUint32(raw[36:], uint32(h))
	binary.LittleEndian.PutUint32(raw[40:], walHeaderSize)
	for i := 0; i < w*h; i++ {
		raw[walHeaderSize+i] = index
	}
	return raw
}

// floorLevel is a single 100×100 horizontal face at z=0.
func floorLevel(side uint16, texName string, flags uint32) *bsp.File {
	return &bsp.File{
		Vertices: []r3.Vector{
			{X: 0, Y: 0}, {X: 100, Y: 0}, {X: 100, Y: 100}, {X: 0, Y: 100},
		},
		Planes:    []bsp.Plane{{Normal: r3.Vector{Z: 1}}},
		TexInfos:  []bsp.TexInfo{{Name: texName, Flags: flags}},
		Faces:     []bsp.Face{{Plane: 0, Side: side, FirstEdge: 0, NumEdges: 4, TexInfo: 0}},
		Edges:     []bsp.Edge{{0, 0}, {0, 1}, {1, 2}, {2, 3}, {3, 0}},
		SurfEdges: []int32{1, 2, 3, 4},
	}
}

func centerColor(t *testing.T, tv *Topview) color.RGBA {
	t.Helper()
	r, g, b, a := tv.Image.At(tv.Alignment.ImgSize/2, tv.Alignment.ImgSize/2).RGBA()
	return color.RGBA{R: uint8(r >> 8), G: uint8(g >> 8), B: uint8(b >> 8), A: uint8(a >> 8)}
}

func render(t *testing.T, f *bsp.File, assets AssetStore) *Topview {
	t.Helper()
	tv, err := Render(f, assets, Options{Size: 64, FloorThreshold: 0.7})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	return tv
}

func TestParsePalette(t *testing.T) {
	pal, err := ParsePalette(testPalette())
	if err != nil {
		t.Fatalf("ParsePalette: %v", err)
	}
	if pal[5] != (color.RGBA{R: 200, G: 100, B: 50, A: 255}) {
		t.Errorf("pal[5] = %+v", pal[5])
	}
	if pal[17] != (color.RGBA{R: 17, G: 17, B: 17, A: 255}) {
		t.Errorf("pal[17] = %+v", pal[17])
	}

	if _, err := ParsePalette([]byte{1, 2, 3}); err == nil {
		t.Error("short pcx accepted")
	}
	bad := testPalette()
	bad[10] = 0x0b
	if _, err := ParsePalette(bad); err == nil {
		t.Error("bad marker accepted")
	}
}

func TestWalAverageColor(t *testing.T) {
	pal, _ := ParsePalette(testPalette())

	c, err := walAverageColor(testWAL(2, 2, 5), pal)
	if err != nil {
		t.Fatalf("walAverageColor: %v", err)
	}
	if c != (color.RGBA{R: 200, G: 100, B: 50, A: 255}) {
		t.Errorf("uniform average = %+v", c)
	}

	// Half index 10 (gray 10), half index 20 (gray 20) → gray 15.
	mixed := testWAL(2, 1, 10)
	mixed[walHeaderSize+1] = 20
	c, err = walAverageColor(mixed, pal)
	if err != nil {
		t.Fatalf("walAverageColor mixed: %v", err)
	}
	if c.R != 15 || c.G != 15 || c.B != 15 {
		t.Errorf("mixed average = %+v", c)
	}

	if _, err := walAverageColor([]byte{1, 2}, pal); err == nil {
		t.Error("short wal accepted")
	}
	truncated := testWAL(4, 4, 5)[:walHeaderSize+3]
	if _, err := walAverageColor(truncated, pal); err == nil {
		t.Error("wal with missing mip data accepted")
	}
}

func TestRenderFloorTexture(t *testing.T) {
	assets := &fakeStore{
		textures: map[string][]byte{"e1u1/floor": testWAL(4, 4, 5)},
		palette:  testPalette(),
	}
	tv := render(t, floorLevel(0, "e1u1/floor", 0), assets)

	want := color.RGBA{R: 200, G: 100, B: 50, A: 255}
	if got := centerColor(t, tv); got != want {
		t.Errorf("center = %+v, want texture average %+v", got, want)
	}
	if len(tv.PNG) == 0 {
		t.Error("no png bytes emitted")
	}
}

func TestRenderCeilingDarkened(t *testing.T) {
	assets := &fakeStore{
		textures: map[string][]byte{"e1u1/floor": testWAL(4, 4, 5)},
		palette:  testPalette(),
	}
	tv := render(t, floorLevel(1, "e1u1/floor", 0), assets) // side=1 flips the normal down

	want := color.RGBA{R: 170, G: 70, B: 20, A: 255}
	if got := centerColor(t, tv); got != want {
		t.Errorf("center = %+v, want darkened %+v", got, want)
	}
}

func TestRenderMissingAssetsFallBack(t *testing.T) {
	tv := render(t, floorLevel(0, "e1u1/floor", 0), &fakeStore{})
	if got := centerColor(t, tv); got != missingTexColor {
		t.Errorf("center = %+v, want missing-texture fill %+v", got, missingTexColor)
	}

	// Nil store behaves the same; assets never fail a render.
	tv = render(t, floorLevel(0, "e1u1/floor", 0), nil)
	if got := centerColor(t, tv); got != missingTexColor {
		t.Errorf("nil store center = %+v", got)
	}
}

func TestRenderSkipsNonPaintableFaces(t *testing.T) {
	assets := &fakeStore{palette: testPalette()}
	for name, f := range map[string]*bsp.File{
		"sky flag":     floorLevel(0, "e1u1/sky1", surfSky),
		"nodraw flag":  floorLevel(0, "e1u1/x", surfNoDraw),
		"trigger":      floorLevel(0, "trigger", 0),
		"empty name":   floorLevel(0, "", 0),
		"dummy prefix": floorLevel(0, "__tb_empty", 0),
	} {
		tv := render(t, f, assets)
		if got := centerColor(t, tv); got != backgroundColor {
			t.Errorf("%s: center = %+v, want untouched background", name, got)
		}
	}

	// A wall (|nz| below the threshold) is skipped too.
	wall := floorLevel(0, "e1u1/wall", 0)
	wall.Planes[0].Normal = r3.Vector{X: 1}
	tv := render(t, wall, assets)
	if got := centerColor(t, tv); got != backgroundColor {
		t.Errorf("wall painted: center = %+v", got)
	}
}

// Any world coordinate inside the bounding box must project into the
// image, within a pixel of rounding at the border.
func TestAlignmentProjection(t *testing.T) {
	f := floorLevel(0, "e1u1/floor", 0)
	f.Vertices = append(f.Vertices, r3.Vector{X: -40, Y: 220}) // stretch bounds asymmetrically
	tv := render(t, f, nil)
	a := tv.Alignment

	pts := [][2]float64{
		{a.MinX, a.MinY}, {a.MaxX, a.MaxY}, {a.MinX, a.MaxY}, {a.MaxX, a.MinY},
		{(a.MinX + a.MaxX) / 2, (a.MinY + a.MaxY) / 2},
		{a.MinX + 1, a.MaxY - 1},
	}
	for _, p := range pts {
		px, py := a.Project(p[0], p[1])
		if px < -1 || px > float64(a.ImgSize)+1 || py < -1 || py > float64(a.ImgSize)+1 {
			t.Errorf("world (%v,%v) → pixel (%v,%v) outside %dpx image", p[0], p[1], px, py, a.ImgSize)
		}
	}

	// North is up: a larger world Y lands at a smaller pixel Y.
	_, top := a.Project(0, a.MaxY)
	_, bottom := a.Project(0, a.MinY)
	if top >= bottom {
		t.Errorf("y axis not flipped: maxY→%v, minY→%v", top, bottom)
	}
}

func TestCacheKey(t *testing.T) {
	a := CacheKey("urban2", Options{Size: 1024})
	b := CacheKey("urban2", Options{Size: 512})
	c := CacheKey("teamjungle", Options{Size: 1024})
	if a == b || a == c {
		t.Errorf("cache keys collide: %q %q %q", a, b, c)
	}
}

func TestRenderEmptyLevel(t *testing.T) {
	if _, err := Render(&bsp.File{}, nil, DefaultOptions()); err == nil {
		t.Error("empty level accepted")
	}
}
