// Package storage provides the blob store used for card images.
package storage

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// BlobStore uploads an opaque byte stream and returns a URL where it
// can be fetched.  The suggested name is only consulted for its file
// extension; stored names are random so uploads cannot collide or be
// guessed.
type BlobStore interface {
	Upload(ctx context.Context, r io.Reader, suggestedName string) (string, error)
}

// DiskStore is a BlobStore backed by a local directory that the HTTP
// server exposes statically under BaseURL.
type DiskStore struct {
	Dir     string // filesystem directory for uploads
	BaseURL string // URL prefix the directory is served under, e.g. "/uploads"
}

// NewDiskStore creates the upload directory if needed and returns a
// DiskStore over it.
func NewDiskStore(dir, baseURL string) (*DiskStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", dir, err)
	}
	return &DiskStore{Dir: dir, BaseURL: strings.TrimRight(baseURL, "/")}, nil
}

// Upload writes the stream to a randomly named file, keeping the
// extension of the suggested name, and returns its public URL.
func (s *DiskStore) Upload(ctx context.Context, r io.Reader, suggestedName string) (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	name := hex.EncodeToString(buf) + sanitizeExt(suggestedName)

	f, err := os.Create(filepath.Join(s.Dir, name))
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := io.Copy(f, r); err != nil {
		return "", err
	}
	return s.BaseURL + "/" + name, nil
}

// sanitizeExt returns a safe lowercase file extension, or empty when
// the name carries none or an implausible one.
func sanitizeExt(name string) string {
	ext := strings.ToLower(filepath.Ext(filepath.Base(name)))
	if len(ext) < 2 || len(ext) > 8 {
		return ""
	}
	for _, r := range ext[1:] {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return ""
		}
	}
	return ext
}
