package pfs

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidFilesystem the partition does not hold a usable PFS superblock
	ErrInvalidFilesystem = errors.New("invalid PFS filesystem")
	// ErrOutOfSpace not enough free zones or inode slots
	ErrOutOfSpace = errors.New("not enough free space")
	// ErrNotFound no entry with the requested name
	ErrNotFound = errors.New("file not found")
	// ErrNotADirectory a path component is not a directory
	ErrNotADirectory = errors.New("not a directory")
	// ErrIsDirectory a file operation was attempted on a directory
	ErrIsDirectory = errors.New("is a directory")
	// ErrExist an entry with the name already exists
	ErrExist = errors.New("file already exists")
	// ErrInvalidName the name cannot be stored in a directory entry
	ErrInvalidName = errors.New("invalid file name")
	// ErrCorrupt an on-disk record failed validation
	ErrCorrupt = errors.New("corrupt filesystem record")
	// ErrTruncated content stopped before the recorded size
	ErrTruncated = errors.New("file content truncated")
)

// Step a stage of creating a filesystem
type Step string

const (
	StepBitmap        Step = "bitmap"
	StepRootDirectory Step = "root-directory"
	StepSuperblock    Step = "superblock"
	StepFlush         Step = "flush"
)

// StepError reports the stage at which Create failed
type StepError struct {
	Step Step
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("create filesystem failed at step %s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// flushError marks failures that may have left the on-disk bitmap ahead of memory
type flushError struct {
	err error
}

func (e *flushError) Error() string {
	return fmt.Sprintf("flush failed: %v", e.err)
}

func (e *flushError) Unwrap() error {
	return e.err
}
