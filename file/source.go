package file

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Source reads a local file in fixed-size chunks for sending.
type Source struct {
	Path string
	f    *os.File
	size int64
}

// OpenSource opens path for chunked reading.
func OpenSource(path string) (*Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if !info.Mode().IsRegular() {
		f.Close()
		return nil, fmt.Errorf("%s is not a regular file", path)
	}
	return &Source{Path: path, f: f, size: info.Size()}, nil
}

// Size returns the file size at open time.
func (s *Source) Size() int64 { return s.size }

// ReadChunk reads up to size bytes at offset.
func (s *Source) ReadChunk(offset int64, size int) ([]byte, error) {
	if size > MaxChunkSize {
		logrus.WithFields(logrus.Fields{
			"function":       "ReadChunk",
			"chunk_size":     size,
			"max_chunk_size": MaxChunkSize,
		}).Error("Chunk size exceeds maximum allowed")
		return nil, ErrChunkTooLarge
	}
	buf := make([]byte, size)
	n, err := s.f.ReadAt(buf, offset)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read %s at %d: %w", s.Path, offset, err)
	}
	return buf[:n], nil
}

// PrefixHash returns the MD5 of the first n bytes of the file.
func (s *Source) PrefixHash(n int64) ([16]byte, error) {
	return HashPrefix(io.NewSectionReader(s.f, 0, s.size), n)
}

// Close releases the file.
func (s *Source) Close() error {
	return s.f.Close()
}
