// Package blob stores uploaded bytes: a staging area written on upload and
// permanent keys the worker pool moves them to.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

const stagingPrefix = "staging"

var (
	// ErrNotFound is returned when the key holds no object
	ErrNotFound = errors.New("blob not found")

	// ErrInvalidKey is returned for empty, absolute or escaping keys
	ErrInvalidKey = errors.New("invalid blob key")

	// ErrPermission is returned when the backend refuses access to the key
	ErrPermission = errors.New("blob access denied")
)

// Store is the byte storage behind the upload pipeline.
type Store interface {
	// WriteStaged stores r under a fresh staging key derived from name.
	WriteStaged(ctx context.Context, name string, r io.Reader) (StagedObject, error)
	// Stat reports the size of the object at key.
	Stat(ctx context.Context, key string) (Info, error)
	// Move relocates the object at from to to. It creates whatever
	// destination structure is needed and never exposes a partial object
	// at to. Moving an object that already arrived at to succeeds.
	Move(ctx context.Context, from, to string) error
	// Open streams the object at key; the caller closes the reader.
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	// Delete removes the object at key; a missing object is not an error.
	Delete(ctx context.Context, key string) error
}

// StagedObject describes bytes written by WriteStaged.
type StagedObject struct {
	Key  string
	Size int64
}

// Info describes a stored object.
type Info struct {
	Key     string
	Size    int64
	ModTime time.Time
}

// IsPermanent reports whether retrying the failed operation cannot help.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidKey) || errors.Is(err, ErrPermission)
}

// StagingKey returns a fresh staging key keeping the extension of name.
func StagingKey(name string) string {
	return path.Join(stagingPrefix, uuid.NewString()+Ext(name))
}

// FinalKey returns the permanent key of a file within its owner's job.
func FinalKey(ownerID, jobID, fileID, name string) string {
	return path.Join("files", ownerID, jobID, fileID+Ext(name))
}

// Ext returns the lower-cased extension of name, or "" when it has none or
// it contains anything but letters and digits.
func Ext(name string) string {
	ext := strings.ToLower(path.Ext(filepath.Base(name)))
	if len(ext) < 2 || len(ext) > 10 {
		return ""
	}
	for _, r := range ext[1:] {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return ""
		}
	}
	return ext
}

// validateKey rejects keys that could escape the store root.
func validateKey(key string) error {
	if key == "" || strings.Contains(key, `\`) || !filepath.IsLocal(filepath.FromSlash(key)) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}
