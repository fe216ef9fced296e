package demo

import (
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog/log"
)

// ByteSource holds the raw demo bytes after transparent decompression.
// Truncated is set when the compressed stream ended early; the bytes
// recovered up to that point are still usable.
type ByteSource struct {
	Data      []byte
	Truncated bool
}

var gzipMagic = []byte{0x1f, 0x8b}

const decompressChunk = 64 * 1024

// NewByteSource wraps raw demo bytes, decompressing them when the gzip
// magic is present. A corrupt trailer or incomplete final block yields
// whatever decompressed cleanly plus Truncated=true. It fails only when
// the stream produces zero usable bytes.
func NewByteSource(raw []byte) (*ByteSource, error) {
	if !bytes.HasPrefix(raw, gzipMagic) {
		return &ByteSource{Data: raw}, nil
	}

	zr, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("invalid gzip header: %w", err)
	}
	defer zr.Close()

	var out bytes.Buffer
	buf := make([]byte, decompressChunk)
	truncated := false
	for {
		n, rerr := zr.Read(buf)
		out.Write(buf[:n])
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			// Truncated archive: keep what decompressed so far.
			truncated = true
			log.Warn().Err(rerr).Int("recovered_bytes", out.Len()).Msg("gzip stream ended early")
			break
		}
	}

	if out.Len() == 0 {
		return nil, errors.New("gzip stream is empty or fully corrupt")
	}
	return &ByteSource{Data: out.Bytes(), Truncated: truncated}, nil
}
