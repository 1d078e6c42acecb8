package docstore

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Filesystem stores documents below a base folder. Each key becomes a
// directory holding the document and a content type sidecar.
type Filesystem struct {
	baseFolder string
}

// ErrNoDocument is returned by Get when there is no document for the key.
var ErrNoDocument = errors.New("no such document")

// NewFilesystem returns a filesystem docstore rooted at baseFolder.
func NewFilesystem(baseFolder string) (*Filesystem, error) {
	if err := os.MkdirAll(baseFolder, 0700); err != nil {
		return nil, err
	}
	return &Filesystem{baseFolder: baseFolder}, nil
}

func (f *Filesystem) path(key string) (string, error) {
	if strings.Contains(key, "..") {
		return "", errors.New("'..' is not allowed in a key")
	}
	return filepath.Join(f.baseFolder, key), nil
}

// Put stores the document and its content type.
func (f *Filesystem) Put(ctx context.Context, key, contentType string, body io.Reader) error {
	dir, err := f.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}
	dst, err := os.Create(filepath.Join(dir, "document"))
	if err != nil {
		return err
	}
	defer dst.Close()
	if _, err := io.Copy(dst, body); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "content_type"), []byte(contentType), 0600)
}

// Get returns the document and its content type.
func (f *Filesystem) Get(ctx context.Context, key string) (io.ReadCloser, string, error) {
	dir, err := f.path(key)
	if err != nil {
		return nil, "", err
	}
	file, err := os.Open(filepath.Join(dir, "document"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", ErrNoDocument
		}
		return nil, "", err
	}
	contentType, _ := os.ReadFile(filepath.Join(dir, "content_type"))
	return file, string(contentType), nil
}

// Delete removes the document of the key.
func (f *Filesystem) Delete(ctx context.Context, key string) error {
	dir, err := f.path(key)
	if err != nil {
		return err
	}
	return os.RemoveAll(dir)
}

// DeleteAllWithPrefix removes all documents below the prefix.
func (f *Filesystem) DeleteAllWithPrefix(ctx context.Context, prefix string) error {
	return f.Delete(ctx, prefix)
}
