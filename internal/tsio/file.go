// Package tsio provides the byte-stream plumbing of the pipelines: the file
// abstraction, the resynchronizing packet source, the packet/JSONL sink
// contracts, the buffered stdout sink and the ring file sink.
package tsio

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// Exit codes reported by terminal sinks. ExitRetry tells the caller that the
// target program had not started before the filter gave up and the command
// may be re-dispatched.
const (
	ExitSuccess = 0
	ExitFailure = 1
	ExitRetry   = 222
)

// File is the polymorphic byte-stream handle the sources and sinks operate
// on: stdin/stdout, a regular file, or a test double.
type File interface {
	Path() string
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Sync() error
	Trunc(size int64) error
	Seek(offset int64, whence int) (int64, error)
}

var errNotSeekable = errors.New("stream is not seekable")

// StdFile wraps one of the standard streams. Seek, Sync and Trunc are not
// available.
type StdFile struct {
	f    *os.File
	path string
}

// Stdin returns the stdin File.
func Stdin() *StdFile { return &StdFile{f: os.Stdin, path: "<stdin>"} }

// Stdout returns the stdout File.
func Stdout() *StdFile { return &StdFile{f: os.Stdout, path: "<stdout>"} }

func (s *StdFile) Path() string                { return s.path }
func (s *StdFile) Read(p []byte) (int, error)  { return s.f.Read(p) }
func (s *StdFile) Write(p []byte) (int, error) { return s.f.Write(p) }
func (s *StdFile) Sync() error                 { return nil }
func (s *StdFile) Trunc(int64) error           { return errNotSeekable }
func (s *StdFile) Seek(int64, int) (int64, error) {
	return 0, errNotSeekable
}

// OSFile is a regular file.
type OSFile struct {
	f    *os.File
	path string
}

// OpenRead opens path for reading. An empty path means stdin.
func OpenRead(path string) (File, error) {
	if path == "" {
		return Stdin(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return &OSFile{f: f, path: path}, nil
}

// OpenRing opens (creating if necessary) the ring file at path for writing.
func OpenRing(path string) (File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return &OSFile{f: f, path: path}, nil
}

func (o *OSFile) Path() string                { return o.path }
func (o *OSFile) Read(p []byte) (int, error)  { return o.f.Read(p) }
func (o *OSFile) Write(p []byte) (int, error) { return o.f.Write(p) }
func (o *OSFile) Sync() error                 { return o.f.Sync() }
func (o *OSFile) Trunc(size int64) error      { return o.f.Truncate(size) }
func (o *OSFile) Seek(offset int64, whence int) (int64, error) {
	return o.f.Seek(offset, whence)
}

// Close closes the underlying descriptor.
func (o *OSFile) Close() error { return o.f.Close() }

// ReaderFile adapts any io.Reader into a read-only File. Tests feed
// synthetic streams through it.
type ReaderFile struct {
	R    io.Reader
	Name string
}

func (r *ReaderFile) Path() string {
	if r.Name == "" {
		return "<reader>"
	}
	return r.Name
}
func (r *ReaderFile) Read(p []byte) (int, error)  { return r.R.Read(p) }
func (r *ReaderFile) Write([]byte) (int, error)   { return 0, errNotSeekable }
func (r *ReaderFile) Sync() error                 { return nil }
func (r *ReaderFile) Trunc(int64) error           { return errNotSeekable }
func (r *ReaderFile) Seek(int64, int) (int64, error) {
	return 0, errNotSeekable
}
