package myaudio

import (
	"encoding/binary"
	"math"
	"time"
)

// Frame is a timestamped block of raw S16LE PCM samples as delivered by the
// capture device. Frames are ephemeral: they are consumed by the segmenter
// and never persisted.
type Frame struct {
	Timestamp time.Time
	PCM       []byte
}

// LevelSample is the loudness metric derived from a single frame.
type LevelSample struct {
	Timestamp time.Time
	RMS       float64 // normalized 0.0-1.0
}

// AudioLevelData holds scaled audio level data for the UI.
type AudioLevelData struct {
	Level    int  `json:"level"`    // 0-100
	Clipping bool `json:"clipping"` // true if clipping is detected
}

// CalculateRMS computes the root-mean-square amplitude of 16-bit
// little-endian PCM samples, normalized to 0.0-1.0. It is pure and
// stateless. An odd trailing byte is truncated.
func CalculateRMS(samples []byte) float64 {
	if len(samples) < 2 {
		return 0
	}
	if len(samples)%2 != 0 {
		samples = samples[:len(samples)-1]
	}

	var sum float64
	sampleCount := len(samples) / 2

	for i := 0; i < len(samples); i += 2 {
		sample := int16(binary.LittleEndian.Uint16(samples[i : i+2]))
		f := float64(sample)
		sum += f * f
	}

	rms := math.Sqrt(sum / float64(sampleCount))
	return rms / 32768.0
}

// CalculateAudioLevel calculates the RMS of the audio samples and returns
// an AudioLevelData struct with a 0-100 level and clipping status.
func CalculateAudioLevel(samples []byte) AudioLevelData {
	if len(samples) == 0 {
		return AudioLevelData{Level: 0, Clipping: false}
	}
	if len(samples)%2 != 0 {
		samples = samples[:len(samples)-1]
	}

	var sum float64
	sampleCount := len(samples) / 2
	isClipping := false

	for i := 0; i < len(samples); i += 2 {
		sample := int16(binary.LittleEndian.Uint16(samples[i : i+2]))
		sampleAbs := math.Abs(float64(sample))
		sum += sampleAbs * sampleAbs

		// Check for clipping (maximum positive or negative 16-bit value)
		if sample == 32767 || sample == -32768 {
			isClipping = true
		}
	}

	if sampleCount == 0 {
		return AudioLevelData{Level: 0, Clipping: false}
	}

	rms := math.Sqrt(sum / float64(sampleCount))

	// Convert RMS to decibels. 32768 is max value for 16-bit audio.
	db := 20 * math.Log10(rms/32768.0)

	// Scale decibels to 0-100 range
	scaledLevel := (db + 60) * (100.0 / 50.0)

	// If the audio is clipping, ensure the level is at or near 100
	if isClipping {
		scaledLevel = math.Max(scaledLevel, 95)
	}

	if scaledLevel < 0 {
		scaledLevel = 0
	} else if scaledLevel > 100 {
		scaledLevel = 100
	}

	return AudioLevelData{
		Level:    int(scaledLevel),
		Clipping: isClipping,
	}
}
