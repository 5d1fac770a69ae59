package pfs

import (
	"fmt"

	"github.com/elliotwutingfeng/asciiset"
)

// MaxNameLength longest name a directory entry can hold
const MaxNameLength = 255

var nameCharset, _ = asciiset.MakeASCIISet(
	" !\"#$%&'()*+,-.0123456789:;<=>?@ABCDEFGHIJKLMNOPQRSTUVWXYZ[\\]^_`abcdefghijklmnopqrstuvwxyz{|}~")

func validateName(name string) error {
	if name == "" || name == "." || name == ".." {
		return fmt.Errorf("%w: %q is reserved", ErrInvalidName, name)
	}
	if len(name) > MaxNameLength {
		return fmt.Errorf("%w: %q is longer than %d bytes", ErrInvalidName, name, MaxNameLength)
	}
	for i := 0; i < len(name); i++ {
		if !nameCharset.Contains(name[i]) {
			return fmt.Errorf("%w: %q contains unsupported character %q", ErrInvalidName, name, name[i])
		}
	}
	return nil
}
