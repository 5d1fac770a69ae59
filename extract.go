package ps2hdd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/diskfs/go-ps2hdd/backend"
	"github.com/diskfs/go-ps2hdd/filesystem/pfs"
)

// DefaultWorkers files extracted concurrently when ExtractOptions does not say
const DefaultWorkers = 4

// Sink receives extracted files. Names are slash separated and relative to the extracted path.
type Sink interface {
	// Mkdir creates a directory, parents first
	Mkdir(name string, info os.FileInfo) error
	// Create opens a file for writing; Close publishes it
	Create(name string, info os.FileInfo) (io.WriteCloser, error)
}

// ExtractOptions options for Extract, the zero value is usable
type ExtractOptions struct {
	// Workers files read concurrently, 0 means DefaultWorkers
	Workers int
	Logger  *log.Entry
}

// ExtractedFile outcome of extracting a single file
type ExtractedFile struct {
	// Name relative to the extracted path
	Name string
	// Size recorded in the inode
	Size int64
	// Written bytes handed to the sink
	Written   int64
	Truncated bool
	// Reason why the content was truncated
	Reason error
	// Err the file could not be extracted
	Err error
}

// ExtractReport what Extract did, one entry per file in on-disk order
type ExtractReport struct {
	Directories int
	Files       []*ExtractedFile
}

// Written total bytes written to the sink
func (r *ExtractReport) Written() int64 {
	var n int64
	for _, f := range r.Files {
		n += f.Written
	}
	return n
}

// Failed files that could not be extracted
func (r *ExtractReport) Failed() []*ExtractedFile {
	var failed []*ExtractedFile
	for _, f := range r.Files {
		if f.Err != nil {
			failed = append(failed, f)
		}
	}
	return failed
}

// Truncated files whose content ended before their recorded size
func (r *ExtractReport) Truncated() []*ExtractedFile {
	var truncated []*ExtractedFile
	for _, f := range r.Files {
		if f.Truncated {
			truncated = append(truncated, f)
		}
	}
	return truncated
}

type extractJob struct {
	name  string
	info  os.FileInfo
	inode *pfs.Inode
	// err fails the job without reading anything
	err error
}

// Extract copies the file or directory at p in the partition into sink. Directories are walked
// recursively in on-disk order. A file that fails or is truncated is recorded in the report and
// does not stop the others. Cancelling ctx stops before the next file, returning the report so far
// along with the context error.
func Extract(ctx context.Context, dev *backend.Device, partition, p string, sink Sink, opts *ExtractOptions) (*ExtractReport, error) {
	if opts == nil {
		opts = &ExtractOptions{}
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	fs, part, err := OpenFileSystem(dev, partition, opts.Logger)
	if err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	logger = logger.WithFields(log.Fields{"component": "extract", "partition": part.Name})

	p = cleanPath(p)
	fi, err := fs.Stat(p)
	if err != nil {
		return nil, err
	}
	report := &ExtractReport{}
	var jobs []*extractJob
	if fi.IsDir() {
		visited := map[uint32]bool{fi.Sys().(*pfs.Inode).Number: true}
		if jobs, err = collect(ctx, fs, sink, p, "", visited, report); err != nil {
			return report, err
		}
	} else {
		jobs = []*extractJob{{name: fi.Name(), info: fi, inode: fi.Sys().(*pfs.Inode)}}
	}

	report.Files = make([]*ExtractedFile, len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, job := range jobs {
		if gctx.Err() != nil {
			break
		}
		i, job := i, job
		g.Go(func() error {
			// each file is a checkpoint
			if err := gctx.Err(); err != nil {
				return err
			}
			report.Files[i] = extractFile(fs, sink, job, logger)
			return nil
		})
	}
	err = g.Wait()
	if err == nil {
		err = ctx.Err()
	}
	files := report.Files[:0]
	for _, f := range report.Files {
		if f != nil {
			files = append(files, f)
		}
	}
	report.Files = files
	logger.WithFields(log.Fields{
		"path":      p,
		"files":     len(report.Files),
		"failed":    len(report.Failed()),
		"truncated": len(report.Truncated()),
		"bytes":     report.Written(),
	}).Debug("extracted")
	return report, err
}

// collect creates the directories below dir in sink and lists the files to extract. A directory
// already visited is not entered again; it is listed as a failed job instead.
func collect(ctx context.Context, fs *pfs.FileSystem, sink Sink, dir, prefix string, visited map[uint32]bool, report *ExtractReport) ([]*extractJob, error) {
	infos, err := fs.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("could not list %s: %w", dir, err)
	}
	var jobs []*extractJob
	for _, fi := range infos {
		if err := ctx.Err(); err != nil {
			return jobs, err
		}
		name := path.Join(prefix, fi.Name())
		if !fi.IsDir() {
			jobs = append(jobs, &extractJob{name: name, info: fi, inode: fi.Sys().(*pfs.Inode)})
			continue
		}
		number := fi.Sys().(*pfs.Inode).Number
		if visited[number] {
			jobs = append(jobs, &extractJob{name: name, info: fi, err: fmt.Errorf("%w: directory %s refers back to inode %d", pfs.ErrCorrupt, name, number)})
			continue
		}
		visited[number] = true
		if err := sink.Mkdir(name, fi); err != nil {
			return jobs, fmt.Errorf("could not create directory %s: %w", name, err)
		}
		report.Directories++
		sub, err := collect(ctx, fs, sink, path.Join(dir, fi.Name()), name, visited, report)
		jobs = append(jobs, sub...)
		if err != nil {
			return jobs, err
		}
	}
	return jobs, nil
}

func extractFile(fs *pfs.FileSystem, sink Sink, job *extractJob, logger *log.Entry) *ExtractedFile {
	out := &ExtractedFile{Name: job.name, Size: job.info.Size()}
	if job.err != nil {
		out.Err = job.err
		logger.WithFields(log.Fields{"file": job.name, "error": job.err}).Warn("could not extract file")
		return out
	}
	w, err := sink.Create(job.name, job.info)
	if err != nil {
		out.Err = err
		return out
	}
	cw := &countingWriter{w: w}
	res, err := fs.CopyFile(cw, job.inode)
	out.Written = cw.n
	if cerr := w.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		out.Err = err
		logger.WithFields(log.Fields{"file": job.name, "error": err}).Warn("could not extract file")
		return out
	}
	out.Truncated, out.Reason = res.Truncated, res.Reason
	return out
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(b []byte) (int, error) {
	n, err := c.w.Write(b)
	c.n += int64(n)
	return n, err
}
