// Package blobstore persists binary objects and issues token-protected download URLs.
package blobstore

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

const (
	metaSuffix   = ".meta.json"
	uploadPrefix = ".upload-"
)

var (
	ErrNotFound      = errors.New("object not found")
	ErrInvalidPath   = errors.New("invalid object path")
	ErrTokenMismatch = errors.New("download token does not match")
)

// Store saves objects under a bucket
type Store interface {
	Save(ctx context.Context, path string, data []byte, contentType, token string) error
	Open(ctx context.Context, path string) (*Object, error)
	Bucket() string
}

// Object is a stored blob with its metadata
type Object struct {
	Data        []byte
	ContentType string
	Token       string
}

// Authorize checks a caller-supplied download token
func (o *Object) Authorize(token string) error {
	if token == "" || subtle.ConstantTimeCompare([]byte(o.Token), []byte(token)) != 1 {
		return ErrTokenMismatch
	}
	return nil
}

// PublicURL builds {baseURL}/{bucket}/o/{urlEncodedPath}?alt=media&token={token}
func PublicURL(baseURL, bucket, path, token string) string {
	return fmt.Sprintf("%s/%s/o/%s?alt=media&token=%s",
		baseURL, bucket, url.PathEscape(path), url.QueryEscape(token))
}

type metadata struct {
	ContentType    string `json:"contentType"`
	DownloadTokens string `json:"downloadTokens"`
}

// LocalStore keeps objects on the local filesystem, one directory per bucket
type LocalStore struct {
	root   string
	bucket string
}

// NewLocalStore creates the bucket directory if needed
func NewLocalStore(root, bucket string) (*LocalStore, error) {
	dir := filepath.Join(root, bucket)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create bucket dir: %w", err)
	}
	return &LocalStore{root: dir, bucket: bucket}, nil
}

func (s *LocalStore) Bucket() string {
	return s.bucket
}

func (s *LocalStore) resolve(path string) (string, error) {
	clean := filepath.FromSlash(path)
	if !filepath.IsLocal(clean) {
		return "", ErrInvalidPath
	}
	// sidecar and temp files are never objects
	base := filepath.Base(clean)
	if strings.HasSuffix(base, metaSuffix) || strings.HasPrefix(base, uploadPrefix) {
		return "", ErrInvalidPath
	}
	return filepath.Join(s.root, clean), nil
}

// Save writes data and its metadata. The object file is renamed into place
// last, so a failed write never leaves a readable partial object.
func (s *LocalStore) Save(ctx context.Context, path string, data []byte, contentType, token string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	target, err := s.resolve(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create object dir: %w", err)
	}

	meta, err := json.Marshal(metadata{ContentType: contentType, DownloadTokens: token})
	if err != nil {
		return err
	}
	if err := writeAtomic(target+metaSuffix, meta); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}
	if err := writeAtomic(target, data); err != nil {
		os.Remove(target + metaSuffix)
		return fmt.Errorf("write object: %w", err)
	}
	return nil
}

// Open reads an object and its metadata
func (s *LocalStore) Open(ctx context.Context, path string) (*Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	target, err := s.resolve(path)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(target)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if !info.Mode().IsRegular() {
		return nil, ErrNotFound
	}

	data, err := os.ReadFile(target)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	// an object without metadata was not saved through this store
	raw, err := os.ReadFile(target + metaSuffix)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read metadata: %w", err)
	}
	var meta metadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}

	return &Object{Data: data, ContentType: meta.ContentType, Token: meta.DownloadTokens}, nil
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), uploadPrefix+"*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
