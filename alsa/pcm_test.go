package alsa_test

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kv2019i/cros-audiotest/alsa"
)

// These tests exercise real kernel PCM devices and need the snd-aloop
// loopback card:
//
// sudo modprobe snd-aloop

var defaultConfig = alsa.Config{
	Channels:    2,
	Rate:        48000,
	PeriodSize:  1024,
	PeriodCount: 4,
	Format:      alsa.SNDRV_PCM_FORMAT_S16_LE,
}

func TestPcmOpenClose(t *testing.T) {
	card := requireLoopback(t)

	config := defaultConfig
	pcm, err := alsa.PcmOpen(uint(card), 0, alsa.PCM_OUT, &config)
	require.NoError(t, err)
	require.True(t, pcm.IsReady())

	granted := pcm.Config()
	assert.Equal(t, uint32(2), granted.Channels)
	assert.Equal(t, uint32(48000), granted.Rate)
	assert.NotZero(t, granted.PeriodSize)
	assert.NotZero(t, granted.PeriodCount)
	assert.Equal(t, granted.PeriodSize*granted.PeriodCount, pcm.BufferSize())
	assert.Equal(t, uint32(4), pcm.FrameSize())
	assert.Equal(t, fmt.Sprintf("hw:%d,0", card), pcm.Name())

	require.NoError(t, pcm.Close())
	assert.False(t, pcm.IsReady())
	assert.NoError(t, pcm.Close(), "closing twice should be harmless")
}

func TestPcmOpenByNameInvalid(t *testing.T) {
	for _, name := range []string{"", "default", "hw:", "hw:0", "hw:a,b", "plughw:0,0"} {
		_, err := alsa.PcmOpenByName(name, alsa.PCM_OUT, nil)
		assert.Error(t, err, "PcmOpenByName(%q)", name)
	}
}

func TestPcmDeferredConfig(t *testing.T) {
	card := requireLoopback(t)

	// Opening with a nil config postpones parameter negotiation.
	pcm, err := alsa.PcmOpen(uint(card), 0, alsa.PCM_OUT, nil)
	require.NoError(t, err)
	defer pcm.Close()

	buf := make([]byte, 1024*4)
	_, err = pcm.WriteFrames(buf, 1024)
	require.Error(t, err, "I/O before SetConfig must fail")

	config := defaultConfig
	require.NoError(t, pcm.SetConfig(&config))

	n, err := pcm.WriteFrames(buf, 1024)
	require.NoError(t, err)
	assert.Equal(t, 1024, n)
}

func TestPcmPlayback(t *testing.T) {
	card := requireLoopback(t)

	config := defaultConfig
	pcm, err := alsa.PcmOpen(uint(card), 0, alsa.PCM_OUT, &config)
	require.NoError(t, err)
	defer pcm.Close()

	granted := pcm.Config()
	silence := make([]byte, pcm.FramesToBytes(granted.PeriodSize))

	var total int
	for i := uint32(0); i < granted.PeriodCount*2; i++ {
		n, err := pcm.WriteFrames(silence, granted.PeriodSize)
		require.NoError(t, err)
		total += n
	}
	assert.Equal(t, int(granted.PeriodSize*granted.PeriodCount*2), total)

	// Writing more than the start threshold must have started the stream.
	assert.Equal(t, alsa.SNDRV_PCM_STATE_RUNNING, pcm.State())

	delay, err := pcm.Delay()
	require.NoError(t, err)
	assert.Greater(t, delay, 0)

	avail, err := pcm.Avail()
	require.NoError(t, err)
	assert.LessOrEqual(t, avail, int(pcm.BufferSize()))

	require.NoError(t, pcm.Stop())
	assert.Equal(t, alsa.SNDRV_PCM_STATE_SETUP, pcm.State())
}

func TestPcmLoopbackTransfer(t *testing.T) {
	card := requireLoopback(t)

	playConfig := defaultConfig
	out, err := alsa.PcmOpen(uint(card), 0, alsa.PCM_OUT, &playConfig)
	require.NoError(t, err)
	defer out.Close()

	capConfig := defaultConfig
	in, err := alsa.PcmOpen(uint(card), 1, alsa.PCM_IN, &capConfig)
	require.NoError(t, err)
	defer in.Close()

	granted := out.Config()
	periods := granted.PeriodCount * 4

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()

		buf := make([]byte, out.FramesToBytes(granted.PeriodSize))
		for i := range buf {
			buf[i] = byte(i) // Arbitrary non-silent pattern
		}

		for i := uint32(0); i < periods; i++ {
			if _, err := out.WriteFrames(buf, granted.PeriodSize); err != nil {
				t.Errorf("WriteFrames: %v", err)

				return
			}
		}
		_ = out.Drain()
	}()

	readBuf := make([]byte, in.FramesToBytes(granted.PeriodSize))
	var got int
	deadline := time.Now().Add(5 * time.Second)
	for uint32(got) < periods*granted.PeriodSize/2 && time.Now().Before(deadline) {
		n, err := in.ReadFrames(readBuf, granted.PeriodSize)
		require.NoError(t, err)
		got += n
	}

	wg.Wait()
	assert.GreaterOrEqual(t, uint32(got), periods*granted.PeriodSize/2)
}

func TestPcmParamsGet(t *testing.T) {
	card := requireLoopback(t)

	params, err := alsa.PcmParamsGet(uint(card), 0, alsa.PCM_OUT)
	require.NoError(t, err)

	assert.LessOrEqual(t, params.RangeMin(alsa.SNDRV_PCM_HW_PARAM_RATE), uint32(48000))
	assert.GreaterOrEqual(t, params.RangeMax(alsa.SNDRV_PCM_HW_PARAM_RATE), uint32(48000))
	assert.True(t, params.FormatIsSupported(alsa.SNDRV_PCM_FORMAT_S16_LE))
	assert.NotEmpty(t, params.SupportedFormats())
	assert.Contains(t, params.String(), "Rate")
}

func TestMixerOpen(t *testing.T) {
	card := requireLoopback(t)

	mixer, err := alsa.MixerOpen(uint(card))
	require.NoError(t, err)
	defer mixer.Close()

	assert.Contains(t, mixer.CardName(), "Loopback")
	require.NotEmpty(t, mixer.Ctls())

	for _, ctl := range mixer.Ctls() {
		assert.NotEmpty(t, ctl.Name())

		if ctl.Type() != alsa.SNDRV_CTL_ELEM_TYPE_INTEGER || ctl.NumValues() == 0 {
			continue
		}

		v, err := ctl.Value(0)
		require.NoError(t, err, "reading %q", ctl.Name())
		assert.GreaterOrEqual(t, v, ctl.RangeMin(), "%q", ctl.Name())
		assert.LessOrEqual(t, v, ctl.RangeMax(), "%q", ctl.Name())
	}
}
