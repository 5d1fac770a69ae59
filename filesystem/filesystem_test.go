package filesystem_test

import (
	"testing"

	"github.com/diskfs/go-ps2hdd/filesystem"
)

func TestTypeString(t *testing.T) {
	if s := filesystem.TypePFS.String(); s != "pfs" {
		t.Errorf("TypePFS.String() = %q", s)
	}
	if s := filesystem.Type(42).String(); s != "unknown" {
		t.Errorf("Type(42).String() = %q", s)
	}
}
