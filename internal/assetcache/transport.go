package assetcache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// HeaderCache marks responses served from the store.
const HeaderCache = "X-Robot-Cache"

// Option configures a Transport.
type Option func(*Transport)

// WithBase sets the network transport.
func WithBase(rt http.RoundTripper) Option {
	return func(t *Transport) { t.base = rt }
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(t *Transport) { t.logger = logger.With().Str("component", "assetcache").Logger() }
}

// Transport is a stale-while-revalidate http.RoundTripper for GET requests.
// Every request goes to the network; a 200 answer replaces the stored entry.
// A stored entry is returned without waiting for the network. When the store
// fails the transport is network only.
type Transport struct {
	base    http.RoundTripper
	store   Store
	logger  zerolog.Logger
	pending sync.WaitGroup
	now     func() time.Time
}

// New creates a caching transport over store.
func New(store Store, opts ...Option) *Transport {
	t := &Transport{
		base:   http.DefaultTransport,
		store:  store,
		logger: zerolog.Nop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Client returns an http.Client using t.
func (t *Transport) Client(timeout time.Duration) *http.Client {
	return &http.Client{Transport: t, Timeout: timeout}
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Method != http.MethodGet || t.store == nil {
		return t.base.RoundTrip(req)
	}
	key := req.URL.String()

	cached, err := t.store.Get(key)
	switch {
	case errors.Is(err, ErrMiss):
	case err != nil:
		t.logger.Warn().Err(err).Str("url", key).Msg("Cache unavailable, using network")
		return t.base.RoundTrip(req)
	}

	if cached != nil {
		t.pending.Add(1)
		go func() {
			defer t.pending.Done()
			t.refresh(req.Clone(context.WithoutCancel(req.Context())), key)
		}()
		t.logger.Debug().Str("url", key).Msg("Served from cache")
		return cached.response(req), nil
	}

	resp, err := t.base.RoundTrip(req)
	if err != nil || resp.StatusCode != http.StatusOK {
		return resp, err
	}
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	t.put(key, resp, body)
	resp.Body = io.NopCloser(bytes.NewReader(body))
	resp.ContentLength = int64(len(body))
	return resp, nil
}

// Wait blocks until background refreshes have finished.
func (t *Transport) Wait() {
	t.pending.Wait()
}

func (t *Transport) refresh(req *http.Request, key string) {
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		t.logger.Debug().Err(err).Str("url", key).Msg("Refresh failed")
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return
	}
	t.put(key, resp, body)
}

func (t *Transport) put(key string, resp *http.Response, body []byte) {
	e := &Entry{
		Status:   resp.StatusCode,
		Header:   resp.Header.Clone(),
		Body:     body,
		StoredAt: t.now(),
	}
	if err := t.store.Put(key, e); err != nil {
		t.logger.Warn().Err(err).Str("url", key).Msg("Failed to store response")
	}
}

func (e *Entry) response(req *http.Request) *http.Response {
	h := e.Header.Clone()
	if h == nil {
		h = make(http.Header)
	}
	h.Set(HeaderCache, "hit")
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", e.Status, http.StatusText(e.Status)),
		StatusCode:    e.Status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        h,
		Body:          io.NopCloser(bytes.NewReader(e.Body)),
		ContentLength: int64(len(e.Body)),
		Request:       req,
	}
}
