// Package audio provides the capture pipeline: live microphone capture via
// malgo, or a WAV file substitute for deterministic runs. Both produce mono
// float32 samples in the range [-1, 1] at the configured rate.
package audio

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"

	gaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// Source supplies recorded samples. Start begins accumulation, Stop halts it
// and hands over everything captured since Start. A Source is owned by a
// single session and is not safe for concurrent Start/Stop.
type Source interface {
	Start() error
	Stop() ([]float32, error)
}

// FileSource reads pre-recorded samples from a WAV file instead of a live
// device. Used for testing, benchmarking, and the --audio-file override.
type FileSource struct {
	Path string
}

// Start verifies the file is readable.
func (f *FileSource) Start() error {
	if _, err := os.Stat(f.Path); err != nil {
		return fmt.Errorf("audio: open %s: %w", f.Path, err)
	}
	return nil
}

// Stop decodes the file into samples.
func (f *FileSource) Stop() ([]float32, error) {
	return ReadWAV(f.Path)
}

// ReadWAV decodes a mono 16-bit PCM WAV file into float32 samples.
func ReadWAV(path string) ([]float32, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("audio: open %s: %w", path, err)
	}
	defer file.Close()

	dec := wav.NewDecoder(file)
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("audio: decode %s: %w", path, err)
	}
	if buf == nil || buf.Format == nil {
		return nil, fmt.Errorf("audio: decode %s: no PCM data", path)
	}
	if dec.BitDepth != 16 || buf.Format.NumChannels != 1 {
		return nil, fmt.Errorf("audio: %s: want mono 16-bit PCM, got %d-bit %dch",
			path, dec.BitDepth, buf.Format.NumChannels)
	}

	samples := make([]float32, len(buf.Data))
	for i, v := range buf.Data {
		samples[i] = float32(v) / 32768
	}
	return samples, nil
}

// WriteWAV encodes float32 samples as a mono 16-bit PCM WAV file.
func WriteWAV(path string, samples []float32, sampleRate int) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("audio: create %s: %w", path, err)
	}
	defer file.Close()

	buf := &gaudio.IntBuffer{
		Format:         &gaudio.Format{NumChannels: 1, SampleRate: sampleRate},
		SourceBitDepth: 16,
		Data:           make([]int, len(samples)),
	}
	for i, s := range samples {
		v := int(math.Round(float64(s) * 32767))
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		buf.Data[i] = v
	}

	enc := wav.NewEncoder(file, sampleRate, 16, 1, 1)
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("audio: write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("audio: close wav encoder: %w", err)
	}
	return nil
}

// pcm16ToFloat32 converts raw little-endian signed 16-bit PCM bytes
// to float32 samples.
func pcm16ToFloat32(data []byte, sampleCount uint32) []float32 {
	samples := make([]float32, 0, sampleCount)
	for i := uint32(0); i < sampleCount; i++ {
		offset := i * 2
		if offset+2 > uint32(len(data)) {
			break
		}
		v := int16(binary.LittleEndian.Uint16(data[offset : offset+2]))
		samples = append(samples, float32(v)/32768)
	}
	return samples
}
