// Package filestore keeps uploaded files on the local disk, under the media root.
package filestore

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/bhorti/core"
)

const photosDir = "photos"

var (
	ErrUnsupportedType = errors.New("only JPEG and PNG images are accepted")
	ErrTooLarge        = errors.New("file is too large")
	ErrInvalidPath     = errors.New("invalid file path")
	ErrNotFound        = errors.New("file not found")

	extensions = map[string]string{
		"image/jpeg": ".jpg",
		"image/png":  ".png",
	}
)

type LocalStore struct {
	root    string
	baseURL string
	maxSize int64
}

var _ core.FileStore = (*LocalStore)(nil) // interface compliance check

func NewLocalStore(conf *core.Config) *LocalStore {
	root := conf.Media.Root
	if !filepath.IsAbs(root) {
		root = filepath.Join(conf.WorkDir, root)
	}
	return &LocalStore{
		root:    root,
		baseURL: strings.TrimSuffix(conf.Media.URL, "/"),
		maxSize: conf.Media.MaxPhotoSize,
	}
}

// Save stores a photo under `photos/<uuid>.<ext>`. The type is sniffed from the content, not from `filename`.
func (s LocalStore) Save(_ context.Context, r io.Reader, _ string) (core.StoredFile, error) {
	// read one byte more than allowed to detect oversized files
	data, err := io.ReadAll(io.LimitReader(r, s.maxSize+1))
	if err != nil {
		return core.StoredFile{}, errors.Wrap(err, "reading upload")
	}
	if int64(len(data)) > s.maxSize {
		return core.StoredFile{}, ErrTooLarge
	}

	ct := http.DetectContentType(data)
	ext, ok := extensions[ct]
	if !ok {
		return core.StoredFile{}, ErrUnsupportedType
	}

	rel := path.Join(photosDir, uuid.NewString()+ext)
	dst := filepath.Join(s.root, filepath.FromSlash(rel))
	if err = os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return core.StoredFile{}, errors.Wrap(err, "creating media directory")
	}

	f, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return core.StoredFile{}, errors.Wrap(err, "creating file")
	}
	if _, err = io.Copy(f, bytes.NewReader(data)); err != nil {
		_ = f.Close()
		_ = os.Remove(dst)
		return core.StoredFile{}, errors.Wrap(err, "writing file")
	}
	if err = f.Close(); err != nil {
		return core.StoredFile{}, errors.Wrap(err, "writing file")
	}

	return core.StoredFile{
		Path:        rel,
		URL:         s.URL(rel),
		ContentType: ct,
		Size:        int64(len(data)),
	}, nil
}

func (s LocalStore) Open(_ context.Context, rel string) (io.ReadCloser, error) {
	fp, err := s.resolve(rel)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(fp)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "opening file")
	}
	return f, nil
}

func (s LocalStore) Delete(_ context.Context, rel string) error {
	fp, err := s.resolve(rel)
	if err != nil {
		return err
	}
	if err = os.Remove(fp); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "deleting file")
	}
	return nil
}

// Root is the directory served under the media URL.
func (s LocalStore) Root() string {
	return s.root
}

func (s LocalStore) URL(rel string) string {
	return s.baseURL + "/" + rel
}

func (s LocalStore) resolve(rel string) (string, error) {
	clean := path.Clean("/" + rel)[1:]
	if clean == "" || clean != rel {
		return "", ErrInvalidPath
	}
	return filepath.Join(s.root, filepath.FromSlash(clean)), nil
}
