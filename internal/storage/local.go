package storage

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// LocalProvider writes objects below RootPath. The API server exposes that
// directory under PublicURL.
type LocalProvider struct {
	RootPath  string
	PublicURL string
}

func NewLocalProvider(root, publicURL string) (*LocalProvider, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create storage dir %s", root)
	}
	return &LocalProvider{RootPath: root, PublicURL: publicURL}, nil
}

func (l *LocalProvider) Put(ctx context.Context, key string, body io.ReadSeeker, _ string) (string, error) {
	key, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	p := filepath.Join(l.RootPath, filepath.FromSlash(key))

	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return "", errors.Wrap(err, "create object dir")
	}
	f, err := os.Create(p)
	if err != nil {
		return "", errors.Wrap(err, "create object")
	}
	if _, err := io.Copy(f, body); err != nil {
		f.Close()
		_ = os.Remove(p)
		return "", errors.Wrap(err, "write object")
	}
	if err := f.Close(); err != nil {
		return "", errors.Wrap(err, "close object")
	}
	if err := ctx.Err(); err != nil {
		_ = os.Remove(p)
		return "", err
	}
	return joinURL(l.PublicURL, key), nil
}

// Delete removes the object and any directories left empty by it. A missing
// object is not an error.
func (l *LocalProvider) Delete(_ context.Context, key string) error {
	key, err := cleanKey(key)
	if err != nil {
		return err
	}
	p := filepath.Join(l.RootPath, filepath.FromSlash(key))
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "delete object")
	}

	root := filepath.Clean(l.RootPath)
	for dir := filepath.Dir(p); dir != root && len(dir) > len(root); dir = filepath.Dir(dir) {
		if os.Remove(dir) != nil {
			break
		}
	}
	return nil
}

// FileServer serves stored objects by exact key. Directories read as missing
// so object keys cannot be enumerated.
func (l *LocalProvider) FileServer() http.Handler {
	return http.FileServer(objectsOnly{http.Dir(l.RootPath)})
}

type objectsOnly struct {
	fs http.FileSystem
}

func (o objectsOnly) Open(name string) (http.File, error) {
	f, err := o.fs.Open(name)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if st.IsDir() {
		f.Close()
		return nil, os.ErrNotExist
	}
	return f, nil
}
