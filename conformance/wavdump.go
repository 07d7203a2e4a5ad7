package conformance

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/kv2019i/cros-audiotest/alsa"
)

// wavSink writes captured interleaved frames to a WAV file. Only the little
// endian signed formats the capture path produces are supported.
type wavSink struct {
	file     *os.File
	encoder  *wav.Encoder
	format   alsa.PcmFormat
	channels int
	rate     int
}

func newWavSink(path string, rate, channels uint32, format alsa.PcmFormat) (*wavSink, error) {
	var bitDepth int
	switch format {
	case alsa.SNDRV_PCM_FORMAT_S16_LE:
		bitDepth = 16
	case alsa.SNDRV_PCM_FORMAT_S32_LE:
		bitDepth = 32
	default:
		return nil, fmt.Errorf("cannot dump format %v to WAV, use S16_LE or S32_LE", format)
	}

	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create WAV file: %w", err)
	}

	// 1 = PCM audio format
	encoder := wav.NewEncoder(file, int(rate), bitDepth, int(channels), 1)

	return &wavSink{
		file:     file,
		encoder:  encoder,
		format:   format,
		channels: int(channels),
		rate:     int(rate),
	}, nil
}

// Write appends frames from buf to the WAV file.
func (s *wavSink) Write(buf []byte, frames uint32) error {
	samples := int(frames) * s.channels

	intBuf := &audio.IntBuffer{
		Format: &audio.Format{
			NumChannels: s.channels,
			SampleRate:  s.rate,
		},
		Data: make([]int, samples),
	}

	switch s.format {
	case alsa.SNDRV_PCM_FORMAT_S16_LE:
		intBuf.SourceBitDepth = 16
		for i := 0; i < samples; i++ {
			intBuf.Data[i] = int(int16(binary.LittleEndian.Uint16(buf[i*2:])))
		}
	case alsa.SNDRV_PCM_FORMAT_S32_LE:
		intBuf.SourceBitDepth = 32
		for i := 0; i < samples; i++ {
			intBuf.Data[i] = int(int32(binary.LittleEndian.Uint32(buf[i*4:])))
		}
	}

	if err := s.encoder.Write(intBuf); err != nil {
		return fmt.Errorf("failed to write WAV data: %w", err)
	}

	return nil
}

// Close finalizes the WAV header and closes the file.
func (s *wavSink) Close() error {
	if err := s.encoder.Close(); err != nil {
		_ = s.file.Close()

		return fmt.Errorf("failed to finalize WAV file: %w", err)
	}

	return s.file.Close()
}
