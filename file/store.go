package file

import (
	"crypto/md5"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// PartSuffix is appended to a destination path while it is being received.
const PartSuffix = ".part"

// ErrAbsolutePath indicates a remote path that tries to name an absolute location.
var ErrAbsolutePath = errors.New("remote path must be relative")

// Store places received files under a root directory.
//
// Data is written into "<path>.part" at the offsets the sender announces;
// the part file is renamed to its final name once verified.
type Store struct {
	Root string
}

// NewStore creates a store rooted at dir.
func NewStore(dir string) *Store {
	return &Store{Root: dir}
}

// Resolve maps a remote path to a local path under the store root.
func (s *Store) Resolve(remote string) (string, error) {
	if filepath.IsAbs(remote) || (len(remote) > 0 && remote[0] == '/') {
		return "", fmt.Errorf("%w: %q", ErrAbsolutePath, remote)
	}
	clean, err := ValidatePath(remote)
	if err != nil {
		return "", fmt.Errorf("%w: %q", err, remote)
	}
	if clean == "." {
		return "", fmt.Errorf("%w: %q", ErrDirectoryTraversal, remote)
	}
	return filepath.Join(s.Root, clean), nil
}

// WriteChunk writes data into the part file of remote at offset. A chunk at
// offset zero starts the file over.
func (s *Store) WriteChunk(remote string, offset int64, data []byte) error {
	final, err := s.Resolve(remote)
	if err != nil {
		return err
	}
	part := final + PartSuffix

	if err := os.MkdirAll(filepath.Dir(part), 0o755); err != nil {
		return fmt.Errorf("create directory for %s: %w", part, err)
	}

	flags := os.O_WRONLY | os.O_CREATE
	if offset == 0 {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(part, flags, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", part, err)
	}
	defer f.Close()

	if _, err := f.WriteAt(data, offset); err != nil {
		return fmt.Errorf("write %s at %d: %w", part, offset, err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "Store.WriteChunk",
		"path":     part,
		"offset":   offset,
		"size":     len(data),
	}).Debug("Chunk written")
	return nil
}

// PrefixHash hashes the first n bytes of the received file, preferring the
// part file and falling back to an already finalized file.
func (s *Store) PrefixHash(remote string, n int64) ([16]byte, error) {
	final, err := s.Resolve(remote)
	if err != nil {
		return [16]byte{}, err
	}
	sum, err := HashFilePrefix(final+PartSuffix, n)
	if errors.Is(err, os.ErrNotExist) {
		return HashFilePrefix(final, n)
	}
	return sum, err
}

// Finalize renames the part file of remote to its final name. A file that
// is already final is left alone.
func (s *Store) Finalize(remote string) (string, error) {
	final, err := s.Resolve(remote)
	if err != nil {
		return "", err
	}
	err = os.Rename(final+PartSuffix, final)
	if errors.Is(err, os.ErrNotExist) {
		if _, statErr := os.Stat(final); statErr == nil {
			return final, nil
		}
	}
	if err != nil {
		return "", fmt.Errorf("finalize %s: %w", final, err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "Store.Finalize",
		"path":     final,
	}).Info("File received")
	return final, nil
}

// Discard removes the part file of remote.
func (s *Store) Discard(remote string) error {
	final, err := s.Resolve(remote)
	if err != nil {
		return err
	}
	if err := os.Remove(final + PartSuffix); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("discard %s: %w", final, err)
	}
	return nil
}

// HashPrefix returns the MD5 of the first n bytes read from r.
func HashPrefix(r io.Reader, n int64) ([16]byte, error) {
	h := md5.New()
	if _, err := io.Copy(h, io.LimitReader(r, n)); err != nil {
		return [16]byte{}, err
	}
	var sum [16]byte
	copy(sum[:], h.Sum(nil))
	return sum, nil
}

// HashFilePrefix returns the MD5 of the first n bytes of the file at path.
func HashFilePrefix(path string, n int64) ([16]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return [16]byte{}, err
	}
	defer f.Close()
	return HashPrefix(f, n)
}
