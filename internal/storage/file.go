// Package storage persists downloaded pieces to the single output file
// named by the torrent (spec.md §4.6, §6). There is no resume support: the
// file is created (or truncated) fresh at the torrent's total length on
// open, matching the Non-goals in spec.md §1.
package storage

import (
	"os"

	"github.com/derinil/bittorrent/internal/bterrors"
)

// File is a fixed-length output file addressed by byte offset. Concurrent
// WriteAt/ReadAt calls at disjoint offsets are safe because *os.File's
// positional methods don't share a cursor.
type File struct {
	f *os.File
}

// Create opens path for read/write, truncating it to empty and then
// sparsely extending it to length bytes. On most filesystems this allocates no disk blocks for the
// unwritten tail, so a half-downloaded torrent costs only the space of the
// pieces actually written.
func Create(path string, length int64) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, bterrors.New(bterrors.Fatal, err)
	}
	if err := f.Truncate(length); err != nil {
		f.Close()
		return nil, bterrors.New(bterrors.Fatal, err)
	}
	return &File{f: f}, nil
}

// WriteAt writes data at the given byte offset (spec.md §4.6: a verified
// piece is written at PieceOffset(index)).
func (s *File) WriteAt(data []byte, offset int64) error {
	if _, err := s.f.WriteAt(data, offset); err != nil {
		return bterrors.New(bterrors.Fatal, err)
	}
	return nil
}

// ReadAt reads len(buf) bytes starting at the given byte offset, used to
// serve upload Requests for pieces we already own.
func (s *File) ReadAt(buf []byte, offset int64) error {
	if _, err := s.f.ReadAt(buf, offset); err != nil {
		return bterrors.New(bterrors.Fatal, err)
	}
	return nil
}

// Close closes the underlying file.
func (s *File) Close() error {
	return s.f.Close()
}

// Sync flushes the file to stable storage.
func (s *File) Sync() error {
	if err := s.f.Sync(); err != nil {
		return bterrors.New(bterrors.Fatal, err)
	}
	return nil
}
