// Package assets loads the robot model, its animation clips and the ambient
// track, reporting byte progress per asset.
package assets

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// ErrNotFound is returned for a missing asset.
var ErrNotFound = errors.New("asset not found")

// Source opens assets by relative name. size is -1 when unknown.
type Source interface {
	Open(ctx context.Context, name string) (rc io.ReadCloser, size int64, err error)
}

// NewSource returns an HTTP source for http(s) URLs and a directory source
// otherwise.
func NewSource(base string, client *http.Client) (Source, error) {
	if strings.HasPrefix(base, "http://") || strings.HasPrefix(base, "https://") {
		u, err := url.Parse(base)
		if err != nil {
			return nil, fmt.Errorf("parse base url: %w", err)
		}
		if client == nil {
			client = http.DefaultClient
		}
		return &HTTPSource{base: u, client: client}, nil
	}
	return DirSource(base), nil
}

// HTTPSource fetches assets relative to a base URL.
type HTTPSource struct {
	base   *url.URL
	client *http.Client
}

// Open implements Source.
func (s *HTTPSource) Open(ctx context.Context, name string) (io.ReadCloser, int64, error) {
	u := *s.base
	u.Path = path.Join(u.Path, name)
	if strings.HasSuffix(name, "/") {
		u.Path += "/"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("fetch %s: %w", name, err)
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		resp.Body.Close()
		return nil, 0, fmt.Errorf("%w: %s", ErrNotFound, name)
	case resp.StatusCode != http.StatusOK:
		resp.Body.Close()
		return nil, 0, fmt.Errorf("fetch %s: status %d", name, resp.StatusCode)
	}
	return resp.Body, resp.ContentLength, nil
}

// DirSource reads assets from a local directory.
type DirSource string

// Open implements Source.
func (d DirSource) Open(_ context.Context, name string) (io.ReadCloser, int64, error) {
	f, err := os.Open(filepath.Join(string(d), filepath.FromSlash(name)))
	if errors.Is(err, os.ErrNotExist) {
		return nil, 0, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, 0, err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, err
	}
	return f, st.Size(), nil
}
