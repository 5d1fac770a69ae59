//go:build arm || amd

// lzma and xz do not compile for 32bit systems
package source

import (
	"fmt"
	"io"
)

func xzReader(_ io.Reader) (io.Reader, error) {
	return nil, fmt.Errorf("%w: xz not supported on 32 bit systems", ErrUnsupported)
}

func lzmaReader(_ io.Reader) (io.Reader, error) {
	return nil, fmt.Errorf("%w: lzma not supported on 32 bit systems", ErrUnsupported)
}
