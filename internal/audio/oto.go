package audio

import (
	"bytes"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
	"github.com/rs/zerolog"
)

const pollInterval = 10 * time.Millisecond

// OtoSink plays sources on the system audio device.
type OtoSink struct {
	ctx        *oto.Context
	sampleRate int
	channels   int
	logger     zerolog.Logger
}

// NewOtoSink opens the audio device. Returns ErrDeviceNotFound wrapped with
// the driver error if it is unavailable.
func NewOtoSink(sampleRate, channels int, logger zerolog.Logger) (*OtoSink, error) {
	op := &oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: channels,
		Format:       oto.FormatSignedInt16LE,
	}

	ctx, readyChan, err := oto.NewContext(op)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceNotFound, err)
	}
	<-readyChan

	s := &OtoSink{
		ctx:        ctx,
		sampleRate: sampleRate,
		channels:   channels,
		logger:     logger.With().Str("component", "oto").Logger(),
	}
	s.logger.Debug().Int("rate", sampleRate).Int("channels", channels).Msg("Audio device initialized")
	return s, nil
}

// Start converts buf to the device format and plays it.
func (s *OtoSink) Start(buf *Buffer, opts PlayOptions, onEnded func()) (Source, error) {
	pcm, err := Convert(buf, s.sampleRate, s.channels)
	if err != nil {
		return nil, err
	}

	var r io.Reader = bytes.NewReader(pcm.Data)
	if opts.Loop {
		r = &loopReader{data: pcm.Data}
	}

	player := s.ctx.NewPlayer(r)
	player.SetVolume(opts.Gain)
	player.Play()

	src := &otoSource{player: player, done: make(chan struct{}), onEnded: onEnded}
	go src.watch()
	return src, nil
}

type otoSource struct {
	player  *oto.Player
	done    chan struct{}
	once    sync.Once
	onEnded func()
}

func (s *otoSource) watch() {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if !s.player.IsPlaying() {
				s.finish(true)
				return
			}
		}
	}
}

func (s *otoSource) finish(notify bool) {
	s.once.Do(func() {
		close(s.done)
		s.player.Pause()
		_ = s.player.Close()
		if notify && s.onEnded != nil {
			s.onEnded()
		}
	})
}

// Disconnect stops playback without notifying.
func (s *otoSource) Disconnect() { s.finish(false) }

// SetGain changes the player volume.
func (s *otoSource) SetGain(gain float64) { s.player.SetVolume(gain) }

// loopReader replays data forever.
type loopReader struct {
	data []byte
	pos  int
}

func (l *loopReader) Read(p []byte) (int, error) {
	if len(l.data) == 0 {
		return 0, io.EOF
	}
	n := 0
	for n < len(p) {
		c := copy(p[n:], l.data[l.pos:])
		n += c
		l.pos = (l.pos + c) % len(l.data)
	}
	return n, nil
}
