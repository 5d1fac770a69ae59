//go:build !arm && !amd

package source

import (
	"bytes"
	"io"
	"path/filepath"
	"testing"

	"github.com/ulikunitz/xz"
	"github.com/ulikunitz/xz/lzma"
	"gotest.tools/v3/assert"
)

func TestOpenXzLzma(t *testing.T) {
	content := testImage(200 * 1024)
	tests := []struct {
		name string
		wrap func(io.Writer) (io.WriteCloser, error)
		want Compression
	}{
		{"GAME.ISO.xz", func(w io.Writer) (io.WriteCloser, error) {
			return xz.NewWriterConfig(w, xz.WriterConfig{Workers: 2})
		}, Xz},
		{"GAME.ISO.lzma", func(w io.Writer) (io.WriteCloser, error) { return lzma.NewWriter(w) }, Lzma},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := filepath.Join(t.TempDir(), tt.name)
			writeCompressed(t, p, content, tt.wrap)
			s, got := readSource(t, p)
			assert.Equal(t, s.Name, "GAME.ISO")
			assert.Equal(t, s.Compression, tt.want)
			assert.Equal(t, s.Size, int64(len(content)))
			assert.Assert(t, bytes.Equal(got, content))
		})
	}
}
