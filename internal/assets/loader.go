package assets

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/elfolz/robot/internal/animation"
	"github.com/elfolz/robot/internal/audio"
	"github.com/elfolz/robot/internal/loop"
	"github.com/elfolz/robot/internal/progress"
	"github.com/rs/zerolog"
)

// maxByteFraction caps byte progress. An asset only reports a full fraction
// once it decoded and its result was posted.
const maxByteFraction = 0.99

// Handlers receive load results on the event loop. Nil fields are skipped.
type Handlers struct {
	Progress func(key string, fraction float64)
	Model    func(m *Model)
	Clip     func(clip animation.Clip)
	Failed   func(key string, err error)
}

// Option configures a Loader.
type Option func(*Loader)

// WithAnimationExt sets the file extension of animation assets. An empty
// extension keeps the default.
func WithAnimationExt(ext string) Option {
	return func(l *Loader) {
		if ext != "" {
			l.animExt = ext
		}
	}
}

// WithTimeout bounds each asset fetch.
func WithTimeout(d time.Duration) Option {
	return func(l *Loader) { l.timeout = d }
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(l *Loader) { l.logger = logger.With().Str("component", "assets").Logger() }
}

// Loader fetches assets from a Source off the event loop.
type Loader struct {
	source   Source
	sched    loop.Scheduler
	handlers Handlers
	animExt  string
	timeout  time.Duration
	logger   zerolog.Logger
}

// NewLoader creates a loader.
func NewLoader(source Source, sched loop.Scheduler, handlers Handlers, opts ...Option) *Loader {
	l := &Loader{
		source:   source,
		sched:    sched,
		handlers: handlers,
		animExt:  ".glb",
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// ModelKey is the progress key of a model file: its base name without
// extension.
func ModelKey(model string) string {
	base := path.Base(model)
	return strings.TrimSuffix(base, path.Ext(base))
}

// Load fetches the model, then every animation concurrently. Failures are
// reported per asset and leave that asset's progress where it stopped. The
// first error is returned once all loads finished. Load blocks.
func (l *Loader) Load(ctx context.Context, model string, animations []string) error {
	key := ModelKey(model)
	data, err := l.fetch(ctx, key, model)
	if err != nil {
		l.fail(key, err)
		return err
	}
	m, err := DecodeModel(key, data)
	if err != nil {
		l.fail(key, err)
		return err
	}
	l.logger.Info().Str("model", model).Int("nodes", m.Nodes).Int("clips", len(m.Clips)).Msg("Model loaded")
	if l.handlers.Model != nil {
		l.sched.Post(func() { l.handlers.Model(m) })
	}
	l.complete(key)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	for _, name := range animations {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			if err := l.loadAnimation(ctx, name); err != nil {
				l.fail(name, err)
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			}
		}(name)
	}
	wg.Wait()
	return firstErr
}

func (l *Loader) loadAnimation(ctx context.Context, name string) error {
	data, err := l.fetch(ctx, name, name+l.animExt)
	if err != nil {
		return err
	}
	m, err := DecodeModel(name, data)
	if err != nil {
		return err
	}
	if len(m.Clips) == 0 {
		return fmt.Errorf("animation %s: no clips", name)
	}

	// The clip takes the asset's name, whatever the file called it.
	clip := m.Clips[0]
	clip.Name = name
	l.logger.Debug().Str("clip", name).Float32("duration", clip.Duration).Msg("Animation loaded")
	if l.handlers.Clip != nil {
		l.sched.Post(func() { l.handlers.Clip(clip) })
	}
	l.complete(name)
	return nil
}

func (l *Loader) complete(key string) {
	if l.handlers.Progress != nil {
		l.sched.Post(func() { l.handlers.Progress(key, 1) })
	}
}

// LoadAmbient fetches and decodes an audio asset without reporting progress.
func (l *Loader) LoadAmbient(ctx context.Context, name string) (*audio.Buffer, error) {
	data, err := l.fetch(ctx, "", name)
	if err != nil {
		return nil, err
	}
	buf, err := audio.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}
	return buf, nil
}

// fetch reads one asset, posting byte progress under key when key is set.
func (l *Loader) fetch(ctx context.Context, key, name string) ([]byte, error) {
	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	rc, size, err := l.source.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	var r io.Reader = rc
	if key != "" && l.handlers.Progress != nil {
		r = &countingReader{r: rc, total: size, report: func(loaded, total int64) {
			f := math.Min(progress.FromBytes(loaded, total), maxByteFraction)
			l.sched.Post(func() { l.handlers.Progress(key, f) })
		}}
	}

	var buf bytes.Buffer
	if size > 0 {
		buf.Grow(int(size))
	}
	if _, err := io.Copy(&buf, r); err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return buf.Bytes(), nil
}

func (l *Loader) fail(key string, err error) {
	l.logger.Error().Err(err).Str("asset", key).Msg("Asset failed to load")
	if l.handlers.Failed != nil {
		l.sched.Post(func() { l.handlers.Failed(key, err) })
	}
}

// countingReader reports cumulative bytes after every read and once more at
// EOF, so an unknown total still ends at the full byte count.
type countingReader struct {
	r      io.Reader
	loaded int64
	total  int64
	report func(loaded, total int64)
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.loaded += int64(n)
	switch {
	case err == io.EOF:
		total := c.total
		if total <= 0 {
			total = c.loaded
		}
		c.report(c.loaded, total)
	case n > 0:
		c.report(c.loaded, c.total)
	}
	return n, err
}
