package myaudio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/tphakala/vinyl-go/internal/conf"
)

// seekableBuffer extends bytes.Buffer with a Seek method, making it
// compatible with io.WriteSeeker so the WAV encoder can patch headers.
type seekableBuffer struct {
	buf []byte
	pos int
}

func (b *seekableBuffer) Write(p []byte) (int, error) {
	if b.pos+len(p) > len(b.buf) {
		grown := make([]byte, b.pos+len(p))
		copy(grown, b.buf)
		b.buf = grown
	}
	n := copy(b.buf[b.pos:], p)
	b.pos += n
	return n, nil
}

func (b *seekableBuffer) Seek(offset int64, whence int) (int64, error) {
	var next int
	switch whence {
	case io.SeekStart:
		next = int(offset)
	case io.SeekCurrent:
		next = b.pos + int(offset)
	case io.SeekEnd:
		next = len(b.buf) + int(offset)
	default:
		return 0, fmt.Errorf("invalid whence: %d", whence)
	}
	if next < 0 {
		return 0, fmt.Errorf("negative seek position: %d", next)
	}
	b.pos = next
	return int64(next), nil
}

// EncodeWAV wraps raw S16LE PCM data in a WAV container in memory, ready
// for upload to a recognition provider.
func EncodeWAV(pcmData []byte) ([]byte, error) {
	out := &seekableBuffer{}

	enc := wav.NewEncoder(out, conf.SampleRate, conf.BitDepth, conf.NumChannels, 1)

	intSamples := byteSliceToInts(pcmData)
	ib := &audio.IntBuffer{
		Data:   intSamples,
		Format: &audio.Format{SampleRate: conf.SampleRate, NumChannels: conf.NumChannels},
	}

	if err := enc.Write(ib); err != nil {
		return nil, fmt.Errorf("failed to write to WAV encoder: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize WAV encoding: %w", err)
	}

	return out.buf, nil
}

// byteSliceToInts converts a byte slice to a slice of integers.
// Each pair of bytes is treated as a single 16-bit sample.
func byteSliceToInts(pcmData []byte) []int {
	var samples []int
	buf := bytes.NewBuffer(pcmData)

	for {
		var sample int16
		if err := binary.Read(buf, binary.LittleEndian, &sample); err != nil {
			break
		}
		samples = append(samples, int(sample))
	}

	return samples
}
