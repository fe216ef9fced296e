package topview

import (
	"encoding/binary"
	"errors"
	"fmt"
	"image/color"
)

// Palette is the 256-color lookup shared by every WAL texture,
// extracted from the game's colormap.pcx.
type Palette [256]color.RGBA

const pcxPaletteSize = 769 // 0x0C marker + 256 × RGB

// ParsePalette reads the palette from the tail of a PCX colormap. The
// palette sits in the last 769 bytes, marker first.
func ParsePalette(pcx []byte) (*Palette, error) {
	if len(pcx) < pcxPaletteSize {
		return nil, fmt.Errorf("pcx too short for a palette (%d bytes)", len(pcx))
	}
	tail := pcx[len(pcx)-pcxPaletteSize:]
	if tail[0] != 0x0c {
		return nil, fmt.Errorf("bad pcx palette marker 0x%02x", tail[0])
	}
	var p Palette
	for i := 0; i < 256; i++ {
		p[i] = color.RGBA{R: tail[1+i*3], G: tail[2+i*3], B: tail[3+i*3], A: 255}
	}
	return &p, nil
}

const walHeaderSize = 100 // name[32], w, h, offsets[4], animname[32], flags, contents, value

// walAverageColor decodes the mip-0 pixels of a WAL texture and
// averages them through the palette. The full bitmap is never needed;
// the topview paints each face with one flat color.
func walAverageColor(data []byte, pal *Palette) (color.RGBA, error) {
	if len(data) < walHeaderSize {
		return color.RGBA{}, errors.New("wal too short for header")
	}
	w := int(binary.LittleEndian.Uint32(data[32:]))
	h := int(binary.LittleEndian.Uint32(data[36:]))
	off := int(binary.LittleEndian.Uint32(data[40:])) // mip level 0
	if w <= 0 || h <= 0 || w > 4096 || h > 4096 {
		return color.RGBA{}, fmt.Errorf("implausible wal dimensions %dx%d", w, h)
	}
	if off < 0 || off+w*h > len(data) {
		return color.RGBA{}, errors.New("wal mip 0 out of range")
	}

	var rs, gs, bs uint64
	pixels := data[off : off+w*h]
	for _, idx := range pixels {
		c := pal[idx]
		rs += uint64(c.R)
		gs += uint64(c.G)
		bs += uint64(c.B)
	}
	n := uint64(len(pixels))
	return color.RGBA{R: uint8(rs / n), G: uint8(gs / n), B: uint8(bs / n), A: 255}, nil
}
