package ps2hdd

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"gotest.tools/v3/assert"

	"github.com/diskfs/go-ps2hdd/backend"
	"github.com/diskfs/go-ps2hdd/filesystem/pfs"
	"github.com/diskfs/go-ps2hdd/partition/apa"
)

var testTree = []struct {
	path string
	size int
}{
	{"/GAME.ISO", 10000},
	{"/SAVES/A.BIN", 1},
	{"/SAVES/DEEP/B.BIN", 3*4096 + 5},
	{"/EMPTY.DAT", 0},
}

func populatedDevice(t *testing.T) (*backend.Device, map[string][]byte) {
	t.Helper()
	dev := formattedDevice(t)
	contents := map[string][]byte{}
	for i, f := range testTree {
		content := randomBytes(f.size + i)[:f.size]
		_, err := WriteFile(dev, DefaultPartitionName, bytes.NewReader(content), int64(f.size), f.path, &WriteOptions{Parents: true, Modified: testTime})
		assert.NilError(t, err, f.path)
		contents[f.path] = content
	}
	return dev, contents
}

func TestExtractDirectory(t *testing.T) {
	dev, contents := populatedDevice(t)
	dir := t.TempDir()
	sink, err := NewDirSink(dir)
	assert.NilError(t, err)

	report, err := Extract(context.Background(), dev, DefaultPartitionName, "/", sink, &ExtractOptions{Workers: 2})
	assert.NilError(t, err)
	assert.Equal(t, report.Directories, 2)
	var names []string
	for _, f := range report.Files {
		names = append(names, f.Name)
		assert.NilError(t, f.Err, f.Name)
		assert.Assert(t, !f.Truncated, f.Name)
		assert.Equal(t, f.Written, f.Size, f.Name)
	}
	// on-disk order, directories expanded where they appear
	if diff := cmp.Diff([]string{"GAME.ISO", "SAVES/A.BIN", "SAVES/DEEP/B.BIN", "EMPTY.DAT"}, names); diff != "" {
		t.Errorf("extracted files (-want +got):\n%s", diff)
	}
	assert.Equal(t, len(report.Failed()), 0)
	assert.Equal(t, len(report.Truncated()), 0)

	var total int64
	for p, want := range contents {
		host := filepath.Join(dir, filepath.FromSlash(p[1:]))
		got, err := os.ReadFile(host)
		assert.NilError(t, err, p)
		assert.Assert(t, bytes.Equal(got, want), p)
		fi, err := os.Stat(host)
		assert.NilError(t, err)
		assert.Assert(t, fi.ModTime().Equal(testTime), "%s modified %v", p, fi.ModTime())
		total += int64(len(want))
	}
	assert.Equal(t, report.Written(), total)
}

func TestExtractSingleFile(t *testing.T) {
	dev, contents := populatedDevice(t)
	dir := t.TempDir()
	sink, err := NewDirSink(dir)
	assert.NilError(t, err)
	report, err := Extract(context.Background(), dev, "0", "SAVES/DEEP/B.BIN", sink, nil)
	assert.NilError(t, err)
	assert.Equal(t, len(report.Files), 1)
	assert.Equal(t, report.Files[0].Name, "B.BIN")
	got, err := os.ReadFile(filepath.Join(dir, "B.BIN"))
	assert.NilError(t, err)
	assert.Assert(t, bytes.Equal(got, contents["/SAVES/DEEP/B.BIN"]))
}

func TestExtractErrors(t *testing.T) {
	dev, _ := populatedDevice(t)
	sink, err := NewDirSink(t.TempDir())
	assert.NilError(t, err)

	_, err = Extract(context.Background(), dev, DefaultPartitionName, "/MISSING", sink, nil)
	assert.ErrorIs(t, err, pfs.ErrNotFound)
	_, err = Extract(context.Background(), dev, "NOPE", "/", sink, nil)
	assert.ErrorIs(t, err, apa.ErrPartitionNotFound)
	_, err = Extract(context.Background(), testDevice(t), DefaultPartitionName, "/", sink, nil)
	assert.ErrorIs(t, err, apa.ErrInvalidTable)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report, err := Extract(ctx, dev, DefaultPartitionName, "/", sink, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, len(report.Files), 0)
}

// failingSink refuses to create one file and keeps the rest in memory
type failingSink struct {
	fail  string
	files map[string]*bytes.Buffer
}

func (s *failingSink) Mkdir(string, os.FileInfo) error {
	return nil
}

func (s *failingSink) Create(name string, _ os.FileInfo) (io.WriteCloser, error) {
	if name == s.fail {
		return nil, fmt.Errorf("no room for %s", name)
	}
	b := &bytes.Buffer{}
	s.files[name] = b
	return nopCloser{b}, nil
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }

func TestExtractContinuesAfterFailure(t *testing.T) {
	dev, contents := populatedDevice(t)
	sink := &failingSink{fail: "SAVES/A.BIN", files: map[string]*bytes.Buffer{}}
	report, err := Extract(context.Background(), dev, DefaultPartitionName, "/", sink, &ExtractOptions{Workers: 1})
	assert.NilError(t, err)
	failed := report.Failed()
	assert.Equal(t, len(failed), 1)
	assert.Equal(t, failed[0].Name, "SAVES/A.BIN")
	assert.ErrorContains(t, failed[0].Err, "no room")
	assert.Equal(t, len(sink.files), 3)
	assert.Assert(t, bytes.Equal(sink.files["GAME.ISO"].Bytes(), contents["/GAME.ISO"]))
}

func TestDirSinkRejectsEscape(t *testing.T) {
	sink, err := NewDirSink(t.TempDir())
	assert.NilError(t, err)
	_, err = sink.Create("../outside", nil)
	assert.Assert(t, err != nil)
	assert.Assert(t, sink.Mkdir("/abs", nil) != nil)
}

func TestExtractDirectoryCycle(t *testing.T) {
	dev, contents := populatedDevice(t)
	fs, _, err := OpenFileSystem(dev, DefaultPartitionName, nil)
	assert.NilError(t, err)
	saves, err := fs.ResolvePath("/SAVES")
	assert.NilError(t, err)
	deep, err := fs.ResolvePath("/SAVES/DEEP")
	assert.NilError(t, err)
	assert.NilError(t, fs.CreateEntry(deep, "LOOP", saves.Number, pfs.FileTypeDirectory))
	assert.NilError(t, fs.CreateEntry(deep, "UP", 1, pfs.FileTypeDirectory))

	sink := &failingSink{files: map[string]*bytes.Buffer{}}
	report, err := Extract(context.Background(), dev, DefaultPartitionName, "/", sink, &ExtractOptions{Workers: 1})
	assert.NilError(t, err)
	assert.Equal(t, report.Directories, 2)
	var failed []string
	for _, f := range report.Failed() {
		failed = append(failed, f.Name)
		assert.ErrorIs(t, f.Err, pfs.ErrCorrupt)
	}
	assert.DeepEqual(t, failed, []string{"SAVES/DEEP/LOOP", "SAVES/DEEP/UP"})
	assert.Equal(t, len(sink.files), len(contents))
	assert.Assert(t, bytes.Equal(sink.files["SAVES/DEEP/B.BIN"].Bytes(), contents["/SAVES/DEEP/B.BIN"]))
}
