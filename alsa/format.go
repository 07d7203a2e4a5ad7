package alsa

import (
	"errors"
	"fmt"
	"sort"
)

// ErrInvalidFormat is returned when a format string does not name a known
// PCM sample format.
var ErrInvalidFormat = errors.New("invalid PCM format")

// formatNames maps PCM formats to the names used by ALSA tooling (aplay -f,
// /proc/asound). FormatValue accepts exactly these spellings.
var formatNames = map[PcmFormat]string{
	SNDRV_PCM_FORMAT_S8:         "S8",
	SNDRV_PCM_FORMAT_U8:         "U8",
	SNDRV_PCM_FORMAT_S16_LE:     "S16_LE",
	SNDRV_PCM_FORMAT_S16_BE:     "S16_BE",
	SNDRV_PCM_FORMAT_U16_LE:     "U16_LE",
	SNDRV_PCM_FORMAT_U16_BE:     "U16_BE",
	SNDRV_PCM_FORMAT_S24_LE:     "S24_LE",
	SNDRV_PCM_FORMAT_S24_BE:     "S24_BE",
	SNDRV_PCM_FORMAT_U24_LE:     "U24_LE",
	SNDRV_PCM_FORMAT_U24_BE:     "U24_BE",
	SNDRV_PCM_FORMAT_S32_LE:     "S32_LE",
	SNDRV_PCM_FORMAT_S32_BE:     "S32_BE",
	SNDRV_PCM_FORMAT_U32_LE:     "U32_LE",
	SNDRV_PCM_FORMAT_U32_BE:     "U32_BE",
	SNDRV_PCM_FORMAT_FLOAT_LE:   "FLOAT_LE",
	SNDRV_PCM_FORMAT_FLOAT_BE:   "FLOAT_BE",
	SNDRV_PCM_FORMAT_FLOAT64_LE: "FLOAT64_LE",
	SNDRV_PCM_FORMAT_FLOAT64_BE: "FLOAT64_BE",
	SNDRV_PCM_FORMAT_S24_3LE:    "S24_3LE",
	SNDRV_PCM_FORMAT_S24_3BE:    "S24_3BE",
	SNDRV_PCM_FORMAT_U24_3LE:    "U24_3LE",
	SNDRV_PCM_FORMAT_U24_3BE:    "U24_3BE",
}

var formatValues = func() map[string]PcmFormat {
	m := make(map[string]PcmFormat, len(formatNames))
	for f, name := range formatNames {
		m[name] = f
	}

	return m
}()

// String returns the canonical ALSA name of a format, e.g. "S16_LE".
func (f PcmFormat) String() string {
	if name, ok := formatNames[f]; ok {
		return name
	}

	return fmt.Sprintf("UNKNOWN(%d)", int32(f))
}

// FormatValue parses a format name such as "S16_LE" into a PcmFormat.
// Unknown names return SNDRV_PCM_FORMAT_INVALID and an error wrapping
// ErrInvalidFormat.
func FormatValue(name string) (PcmFormat, error) {
	if f, ok := formatValues[name]; ok {
		return f, nil
	}

	return SNDRV_PCM_FORMAT_INVALID, fmt.Errorf("%w: %q", ErrInvalidFormat, name)
}

// FormatToBits returns the number of bits per sample occupied in memory for a
// given format, so 24-bit formats in 32-bit containers return 32.
func FormatToBits(f PcmFormat) uint32 {
	switch f {
	case SNDRV_PCM_FORMAT_FLOAT64_LE, SNDRV_PCM_FORMAT_FLOAT64_BE:
		return 64
	case SNDRV_PCM_FORMAT_S32_LE, SNDRV_PCM_FORMAT_S32_BE, SNDRV_PCM_FORMAT_U32_LE, SNDRV_PCM_FORMAT_U32_BE,
		SNDRV_PCM_FORMAT_FLOAT_LE, SNDRV_PCM_FORMAT_FLOAT_BE,
		SNDRV_PCM_FORMAT_S24_LE, SNDRV_PCM_FORMAT_S24_BE, SNDRV_PCM_FORMAT_U24_LE, SNDRV_PCM_FORMAT_U24_BE:
		return 32
	case SNDRV_PCM_FORMAT_S24_3LE, SNDRV_PCM_FORMAT_S24_3BE, SNDRV_PCM_FORMAT_U24_3LE, SNDRV_PCM_FORMAT_U24_3BE:
		return 24
	case SNDRV_PCM_FORMAT_S16_LE, SNDRV_PCM_FORMAT_S16_BE, SNDRV_PCM_FORMAT_U16_LE, SNDRV_PCM_FORMAT_U16_BE:
		return 16
	case SNDRV_PCM_FORMAT_S8, SNDRV_PCM_FORMAT_U8:
		return 8
	default:
		return 0
	}
}

// SupportedFormats lists every format FormatValue understands, in ascending
// kernel enum order.
func SupportedFormats() []PcmFormat {
	out := make([]PcmFormat, 0, len(formatNames))
	for f := range formatNames {
		out = append(out, f)
	}

	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })

	return out
}
