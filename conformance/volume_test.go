package conformance

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCardFromDeviceName(t *testing.T) {
	card, err := cardFromDeviceName("hw:2,0")
	require.NoError(t, err)
	assert.Equal(t, uint(2), card)

	card, err = cardFromDeviceName("hw:0,3")
	require.NoError(t, err)
	assert.Equal(t, uint(0), card)

	for _, name := range []string{"", "default", "hw:", "hw:x,0", "plughw:0,0"} {
		_, err := cardFromDeviceName(name)
		assert.Error(t, err, "cardFromDeviceName(%q)", name)
	}
}

func TestVolumeControlNames(t *testing.T) {
	playback := volumeControlNames(Playback)
	assert.Contains(t, playback, "Master Playback Volume")
	assert.Contains(t, playback, "Speaker Playback Volume")

	capture := volumeControlNames(Capture)
	assert.Contains(t, capture, "Mic Capture Volume")
	assert.Contains(t, capture, "Capture Volume")

	for _, name := range playback {
		assert.NotContains(t, capture, name)
	}
}
