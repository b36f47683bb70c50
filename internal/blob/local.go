package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"syscall"

	"github.com/google/uuid"
)

// LocalStore keeps objects as files below a root directory.
type LocalStore struct {
	root string
}

// NewLocalStore creates the root directory when missing.
func NewLocalStore(root string) (*LocalStore, error) {
	if err := os.MkdirAll(filepath.Join(root, stagingPrefix), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create storage root %s: %w", root, err)
	}
	return &LocalStore{root: root}, nil
}

func (s *LocalStore) path(key string) (string, error) {
	if err := validateKey(key); err != nil {
		return "", err
	}
	return filepath.Join(s.root, filepath.FromSlash(key)), nil
}

// WriteStaged writes to a temp file, fsyncs, then renames into place.
func (s *LocalStore) WriteStaged(ctx context.Context, name string, r io.Reader) (StagedObject, error) {
	key := StagingKey(name)
	dst, err := s.path(key)
	if err != nil {
		return StagedObject{}, err
	}

	size, err := writeAtomic(ctx, dst, r)
	if err != nil {
		return StagedObject{}, fmt.Errorf("failed to stage %s: %w", name, err)
	}

	return StagedObject{Key: key, Size: size}, nil
}

func (s *LocalStore) Stat(ctx context.Context, key string) (Info, error) {
	p, err := s.path(key)
	if err != nil {
		return Info{}, err
	}

	fi, err := os.Stat(p)
	if err != nil {
		return Info{}, classify(err, key)
	}
	if fi.IsDir() {
		return Info{}, fmt.Errorf("%w: %q is a directory", ErrInvalidKey, key)
	}

	return Info{Key: key, Size: fi.Size(), ModTime: fi.ModTime()}, nil
}

// Move renames within the root. When source and destination sit on
// different devices it copies to a temp name beside the destination,
// renames that into place, then removes the source.
func (s *LocalStore) Move(ctx context.Context, from, to string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	src, err := s.path(from)
	if err != nil {
		return err
	}
	dst, err := s.path(to)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return classify(err, to)
	}

	err = os.Rename(src, dst)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, fs.ErrNotExist):
		return s.alreadyMoved(src, dst, from)
	case errors.Is(err, syscall.EXDEV):
		return copyMove(ctx, src, dst)
	default:
		return classify(err, from)
	}
}

// alreadyMoved treats a missing source as success when the destination
// holds the object, which happens when a move is redelivered.
func (s *LocalStore) alreadyMoved(src, dst, from string) error {
	if _, err := os.Stat(src); err == nil || !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to move %s: source present but rename reported it missing", from)
	}
	if fi, err := os.Stat(dst); err == nil && !fi.IsDir() {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrNotFound, from)
}

func (s *LocalStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	p, err := s.path(key)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(p)
	if err != nil {
		return nil, classify(err, key)
	}
	return f, nil
}

func (s *LocalStore) Delete(ctx context.Context, key string) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}

	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return classify(err, key)
	}
	return nil
}

func copyMove(ctx context.Context, src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return classify(err, src)
	}
	defer in.Close()

	if _, err := writeAtomic(ctx, dst, in); err != nil {
		return err
	}

	if err := os.Remove(src); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove source after copy: %w", err)
	}
	return nil
}

// writeAtomic copies r into a temp file next to dst, fsyncs it and renames
// it over dst. The temp file is removed on any failure.
func writeAtomic(ctx context.Context, dst string, r io.Reader) (int64, error) {
	tmp := filepath.Join(filepath.Dir(dst), "."+filepath.Base(dst)+"."+uuid.NewString()+".tmp")

	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640)
	if err != nil {
		return 0, classify(err, dst)
	}

	size, err := io.Copy(f, &ctxReader{ctx: ctx, r: r})
	if err != nil {
		f.Close()
		os.Remove(tmp)
		return 0, fmt.Errorf("failed to write data: %w", err)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return 0, fmt.Errorf("failed to fsync: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return 0, fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return 0, classify(err, dst)
	}

	return size, nil
}

func classify(err error, key string) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	case errors.Is(err, fs.ErrPermission), errors.Is(err, syscall.EROFS):
		return fmt.Errorf("%w: %s: %v", ErrPermission, key, err)
	default:
		return fmt.Errorf("blob %s: %w", key, err)
	}
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
