package topview

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// AssetMissingError reports a texture or palette lookup miss. It never
// crosses the renderer boundary; the caller of a lookup substitutes a
// fallback fill and carries on.
type AssetMissingError struct {
	Name string
}

func (e *AssetMissingError) Error() string { return "asset missing: " + e.Name }

// AssetStore supplies the raw texture and palette bytes the renderer
// samples. Implementations must be safe for concurrent readers; the
// renderer never writes through it.
type AssetStore interface {
	// Texture returns raw WAL bytes for a texture path as named in the
	// level (e.g. "e1u1/floor1"). A miss is an *AssetMissingError.
	Texture(name string) ([]byte, error)

	// Palette returns the raw colormap.pcx bytes.
	Palette() ([]byte, error)
}

// DirStore reads assets from an extracted game directory.
type DirStore struct {
	TexturesDir string // root containing <name>.wal under texture subdirs
	PalettePath string // colormap.pcx
}

func (s DirStore) Texture(name string) ([]byte, error) {
	clean := filepath.Clean(strings.ReplaceAll(name, "\\", "/"))
	if strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return nil, &AssetMissingError{Name: name}
	}
	raw, err := os.ReadFile(filepath.Join(s.TexturesDir, clean+".wal"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &AssetMissingError{Name: name}
		}
		return nil, fmt.Errorf("read texture %s: %w", name, err)
	}
	return raw, nil
}

func (s DirStore) Palette() ([]byte, error) {
	raw, err := os.ReadFile(s.PalettePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &AssetMissingError{Name: s.PalettePath}
		}
		return nil, fmt.Errorf("read palette: %w", err)
	}
	return raw, nil
}
