package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/hajimehoshi/go-mp3"
)

// DetectFormat guesses the container of data from its leading bytes.
func DetectFormat(data []byte) AudioFormat {
	switch {
	case len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE":
		return FormatWAV
	case len(data) >= 3 && string(data[0:3]) == "ID3":
		return FormatMP3
	case len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0:
		return FormatMP3
	default:
		return FormatPCM
	}
}

// Decode turns a WAV or MP3 payload into a PCM buffer.
func Decode(data []byte) (*Buffer, error) {
	switch DetectFormat(data) {
	case FormatWAV:
		return decodeWAV(data)
	case FormatMP3:
		return decodeMP3(data)
	default:
		return nil, fmt.Errorf("%w: unrecognized container", ErrInvalidFormat)
	}
}

func decodeMP3(data []byte) (*Buffer, error) {
	dec, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: mp3: %v", ErrInvalidFormat, err)
	}
	pcm, err := io.ReadAll(dec)
	if err != nil {
		return nil, fmt.Errorf("decode mp3: %w", err)
	}
	if len(pcm) == 0 {
		return nil, ErrEmptyBuffer
	}
	// go-mp3 always yields 16-bit stereo.
	return &Buffer{Data: pcm, SampleRate: dec.SampleRate(), Channels: 2}, nil
}

// decodeWAV walks the RIFF chunks for fmt and data.
func decodeWAV(wav []byte) (*Buffer, error) {
	if len(wav) < 44 {
		return nil, fmt.Errorf("%w: wav data too short", ErrInvalidFormat)
	}

	var (
		buf     Buffer
		haveFmt bool
		pcm     []byte
	)
	pos := 12
	for pos+8 <= len(wav) {
		chunkID := string(wav[pos : pos+4])
		chunkSize := int(binary.LittleEndian.Uint32(wav[pos+4 : pos+8]))
		start := pos + 8
		end := start + chunkSize
		if end > len(wav) || end < start {
			end = len(wav)
		}

		switch chunkID {
		case "fmt ":
			if end-start < 16 {
				return nil, fmt.Errorf("%w: short fmt chunk", ErrInvalidFormat)
			}
			format := binary.LittleEndian.Uint16(wav[start:])
			bits := binary.LittleEndian.Uint16(wav[start+14:])
			if format != 1 || bits != 16 {
				return nil, fmt.Errorf("%w: only 16-bit PCM wav is supported (format=%d bits=%d)", ErrInvalidFormat, format, bits)
			}
			buf.Channels = int(binary.LittleEndian.Uint16(wav[start+2:]))
			buf.SampleRate = int(binary.LittleEndian.Uint32(wav[start+4:]))
			haveFmt = true
		case "data":
			pcm = wav[start:end]
		}

		pos = end
		// Chunks are word-aligned.
		if chunkSize%2 != 0 {
			pos++
		}
		if haveFmt && pcm != nil {
			break
		}
	}

	if !haveFmt {
		return nil, fmt.Errorf("%w: fmt chunk not found", ErrInvalidFormat)
	}
	if pcm == nil {
		return nil, fmt.Errorf("%w: data chunk not found", ErrInvalidFormat)
	}
	if len(pcm) == 0 {
		return nil, ErrEmptyBuffer
	}
	buf.Data = pcm
	return &buf, nil
}

// Convert resamples and remixes buf to the given rate and channel count.
// The input is returned unchanged when it already matches.
func Convert(buf *Buffer, sampleRate, channels int) (*Buffer, error) {
	if buf == nil || buf.SampleRate <= 0 || buf.Channels <= 0 {
		return nil, ErrInvalidFormat
	}
	if buf.SampleRate == sampleRate && buf.Channels == channels {
		return buf, nil
	}

	in := buf.Frames()
	out := in
	if buf.SampleRate != sampleRate {
		out = int(int64(in) * int64(sampleRate) / int64(buf.SampleRate))
	}

	sample := func(frame, ch int) float64 {
		if frame >= in {
			frame = in - 1
		}
		off := (frame*buf.Channels + ch) * 2
		return float64(int16(binary.LittleEndian.Uint16(buf.Data[off:])))
	}
	// mixed reads frame as the target channel ch.
	mixed := func(frame, ch int) float64 {
		switch {
		case buf.Channels == channels:
			return sample(frame, ch)
		case channels == 1:
			var sum float64
			for c := 0; c < buf.Channels; c++ {
				sum += sample(frame, c)
			}
			return sum / float64(buf.Channels)
		case buf.Channels == 1:
			return sample(frame, 0)
		default:
			return sample(frame, ch%buf.Channels)
		}
	}

	data := make([]byte, out*channels*2)
	ratio := float64(buf.SampleRate) / float64(sampleRate)
	for i := 0; i < out; i++ {
		pos := float64(i) * ratio
		i0 := int(pos)
		frac := pos - float64(i0)
		for ch := 0; ch < channels; ch++ {
			v := mixed(i0, ch)
			if frac > 0 {
				v += (mixed(i0+1, ch) - v) * frac
			}
			if v > 32767 {
				v = 32767
			} else if v < -32768 {
				v = -32768
			}
			binary.LittleEndian.PutUint16(data[(i*channels+ch)*2:], uint16(int16(v)))
		}
	}
	return &Buffer{Data: data, SampleRate: sampleRate, Channels: channels}, nil
}
