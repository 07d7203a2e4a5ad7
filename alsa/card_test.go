package alsa

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleCards = ` 0 [PCH            ]: HDA-Intel - HDA Intel PCH
                      HDA Intel PCH at 0xf7f30000 irq 31
 1 [Loopback       ]: Loopback - Loopback
                      Loopback 1
29 [Dummy          ]: Dummy - Dummy
                      Dummy 1
`

const samplePcm = `00-00: ALC892 Analog : ALC892 Analog : playback 1 : capture 1
00-03: HDMI 0 : HDMI 0 : playback 1
01-00: Loopback PCM : Loopback PCM : playback 8 : capture 8
01-01: Loopback PCM : Loopback PCM : playback 8 : capture 8
`

func TestParseCards(t *testing.T) {
	cards, err := parseCards(strings.NewReader(sampleCards))
	require.NoError(t, err)
	require.Len(t, cards, 3)

	assert.Equal(t, Card{Number: 0, ID: "PCH", Driver: "HDA-Intel", Name: "HDA Intel PCH"}, cards[0])
	assert.Equal(t, Card{Number: 1, ID: "Loopback", Driver: "Loopback", Name: "Loopback"}, cards[1])
	assert.Equal(t, Card{Number: 29, ID: "Dummy", Driver: "Dummy", Name: "Dummy"}, cards[2])
}

func TestParseCardsEmpty(t *testing.T) {
	cards, err := parseCards(strings.NewReader("--- no soundcards ---\n"))
	require.NoError(t, err)
	assert.Empty(t, cards)
}

func TestParsePcmDevices(t *testing.T) {
	devices, err := parsePcmDevices(strings.NewReader(samplePcm))
	require.NoError(t, err)
	require.Len(t, devices, 4)

	analog := devices[0]
	assert.Equal(t, 0, analog.Card)
	assert.Equal(t, 0, analog.Device)
	assert.Equal(t, "ALC892 Analog", analog.ID)
	assert.True(t, analog.Playback)
	assert.True(t, analog.Capture)
	assert.Equal(t, "hw:0,0", analog.String())

	hdmi := devices[1]
	assert.True(t, hdmi.Playback)
	assert.False(t, hdmi.Capture)

	loop := devices[2]
	assert.Equal(t, 1, loop.Card)
	assert.Equal(t, 0, loop.Device)
	assert.Equal(t, "hw:1,0", loop.String())
}
