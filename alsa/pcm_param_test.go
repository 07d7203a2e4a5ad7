package alsa

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParamInitOpensEverything(t *testing.T) {
	var hw sndPcmHwParams
	paramInit(&hw)

	for n := range hw.Masks {
		for i := range hw.Masks[n].Bits {
			assert.Equal(t, ^uint32(0), hw.Masks[n].Bits[i])
		}
	}

	for n := range hw.Intervals {
		assert.Equal(t, uint32(0), hw.Intervals[n].MinVal)
		assert.Equal(t, ^uint32(0), hw.Intervals[n].MaxVal)
	}

	assert.Equal(t, ^uint32(0), hw.Rmask)
	assert.Equal(t, uint32(0), hw.Cmask)
}

func TestParamSetInt(t *testing.T) {
	var hw sndPcmHwParams
	paramInit(&hw)

	paramSetInt(&hw, SNDRV_PCM_HW_PARAM_RATE, 48000)

	iv := paramToInterval(&hw, SNDRV_PCM_HW_PARAM_RATE)
	assert.Equal(t, uint32(48000), iv.MinVal)
	assert.Equal(t, uint32(48000), iv.MaxVal)
	assert.Equal(t, uint32(SNDRV_PCM_INTERVAL_INTEGER), iv.Flags)
	assert.Equal(t, uint32(48000), paramGetInt(&hw, SNDRV_PCM_HW_PARAM_RATE))

	// Mask parameters must be rejected.
	paramSetInt(&hw, SNDRV_PCM_HW_PARAM_FORMAT, 1)
	assert.Equal(t, uint32(0), paramGetInt(&hw, SNDRV_PCM_HW_PARAM_FORMAT))
}

func TestParamSetMin(t *testing.T) {
	var hw sndPcmHwParams
	paramInit(&hw)

	paramSetMin(&hw, SNDRV_PCM_HW_PARAM_PERIOD_SIZE, 240)

	iv := paramToInterval(&hw, SNDRV_PCM_HW_PARAM_PERIOD_SIZE)
	assert.Equal(t, uint32(240), iv.MinVal)
	assert.Equal(t, ^uint32(0), iv.MaxVal)
}

func TestParamSetMask(t *testing.T) {
	var hw sndPcmHwParams
	paramInit(&hw)

	paramSetMask(&hw, SNDRV_PCM_HW_PARAM_FORMAT, uint32(SNDRV_PCM_FORMAT_S32_LE))

	m := paramToMask(&hw, SNDRV_PCM_HW_PARAM_FORMAT)
	for bit := uint(0); bit < 256; bit++ {
		want := bit == uint(SNDRV_PCM_FORMAT_S32_LE)
		got := (m.Bits[bit>>5] & (1 << (bit & 31))) != 0
		require.Equal(t, want, got, "bit %d", bit)
	}
}
