package conformance

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kv2019i/cros-audiotest/alsa"
)

// fakeClock is a manual clock shared by the worker and the fake device.
type fakeClock struct {
	now time.Duration
}

func (c *fakeClock) Now() time.Duration {
	return c.now
}

// fakePcm simulates a PCM device whose hardware pointer advances with the
// fake clock at the configured rate. Every Avail call moves the clock one
// millisecond forward so poll loops always make progress.
type fakePcm struct {
	name  string
	flags alsa.PcmFlag
	clock *fakeClock

	config     alsa.Config
	configured bool
	bufferSize uint32

	started   bool
	startTime time.Duration

	written uint64
	read    uint64

	// availErrs is returned from Avail, one per call, before the normal
	// pointer arithmetic resumes.
	availErrs []error

	writeCalls   int
	readCalls    int
	prepareCalls int
	closed       bool
}

func (f *fakePcm) SetConfig(config *alsa.Config) error {
	f.config = *config
	if f.config.PeriodCount == 0 {
		f.config.PeriodCount = 4
	}
	f.bufferSize = f.config.PeriodSize * f.config.PeriodCount
	f.configured = true

	return nil
}

func (f *fakePcm) Config() alsa.Config { return f.config }

func (f *fakePcm) BufferSize() uint32 { return f.bufferSize }

func (f *fakePcm) FrameSize() uint32 {
	return f.config.Channels * (alsa.FormatToBits(f.config.Format) / 8)
}

func (f *fakePcm) FramesToBytes(frames uint32) uint32 { return frames * f.FrameSize() }

func (f *fakePcm) Params() (*alsa.PcmParams, error) { return &alsa.PcmParams{}, nil }

func (f *fakePcm) Prepare() error {
	f.prepareCalls++
	f.started = false

	return nil
}

func (f *fakePcm) Start() error {
	f.started = true
	f.startTime = f.clock.now

	return nil
}

func (f *fakePcm) Stop() error {
	f.started = false

	return nil
}

// consumed returns the frames moved by the fake hardware since Start.
func (f *fakePcm) consumed() uint64 {
	if !f.started {
		return 0
	}

	elapsed := f.clock.now - f.startTime

	return uint64(elapsed.Seconds() * float64(f.config.Rate))
}

func (f *fakePcm) Avail() (int, error) {
	f.clock.now += time.Millisecond

	if len(f.availErrs) > 0 {
		err := f.availErrs[0]
		f.availErrs = f.availErrs[1:]

		return 0, err
	}

	if (f.flags & alsa.PCM_IN) != 0 {
		c := f.consumed()
		if c < f.read {
			return 0, nil
		}

		return int(c - f.read), nil
	}

	var queued uint64
	if f.written > f.consumed() {
		queued = f.written - f.consumed()
	}
	if queued > uint64(f.bufferSize) {
		queued = uint64(f.bufferSize)
	}

	return int(uint64(f.bufferSize) - queued), nil
}

func (f *fakePcm) WriteFrames(buf []byte, frames uint32) (int, error) {
	if !f.configured {
		return 0, fmt.Errorf("not configured")
	}

	if !f.started {
		f.started = true
		f.startTime = f.clock.now
	}

	f.writeCalls++
	f.written += uint64(frames)

	return int(frames), nil
}

func (f *fakePcm) ReadFrames(buf []byte, frames uint32) (int, error) {
	if !f.configured {
		return 0, fmt.Errorf("not configured")
	}

	if !f.started {
		f.started = true
		f.startTime = f.clock.now
	}

	f.readCalls++
	f.read += uint64(frames)

	return int(frames), nil
}

func (f *fakePcm) Xruns() int { return 0 }

func (f *fakePcm) Name() string { return f.name }

func (f *fakePcm) Close() error {
	f.closed = true

	return nil
}

// fakeOpener hands out fake devices and remembers every one it opened.
type fakeOpener struct {
	clock     *fakeClock
	pcms      []*fakePcm
	failOpen  bool
	availErrs []error
}

func (o *fakeOpener) open(name string, flags alsa.PcmFlag, config *alsa.Config) (Pcm, error) {
	if o.failOpen {
		return nil, fmt.Errorf("no such device %s", name)
	}

	pcm := &fakePcm{name: name, flags: flags, clock: o.clock, availErrs: o.availErrs}
	if config != nil {
		if err := pcm.SetConfig(config); err != nil {
			return nil, err
		}
	}
	o.pcms = append(o.pcms, pcm)

	return pcm, nil
}

func newTestThread(stream Direction) (*DeviceThread, *fakeOpener, *fakeClock) {
	clock := &fakeClock{now: time.Second}
	opener := &fakeOpener{clock: clock}

	d := NewDeviceThread()
	d.open = opener.open
	d.now = clock.Now
	d.SetWriter(io.Discard)
	d.SetStream(stream)
	d.SetDeviceName("hw:0,0")
	d.SetDuration(0.05)

	return d, opener, clock
}

func TestDeviceThreadDefaults(t *testing.T) {
	d := NewDeviceThread()

	assert.Equal(t, Playback, d.stream)
	assert.Equal(t, uint32(DefaultChannels), d.channels)
	assert.Equal(t, alsa.SNDRV_PCM_FORMAT_S16_LE, d.format)
	assert.Equal(t, uint32(DefaultRate), d.rate)
	assert.Equal(t, uint32(DefaultPeriodSize), d.periodSize)
	assert.Equal(t, uint32(DefaultBlockSize), d.blockSize)
	assert.Equal(t, DefaultDuration, d.duration)
	assert.Equal(t, DefaultIterations, d.iterations)
	assert.Equal(t, DefaultMergeThresholdT, d.mergeThresholdT)
	assert.Zero(t, d.mergeThresholdSz, "size threshold defaults to the period size at run time")
}

func TestSetFormatFromStringMatchesSetFormat(t *testing.T) {
	for _, format := range alsa.SupportedFormats() {
		byEnum := NewDeviceThread()
		byEnum.SetFormat(format)

		byName := NewDeviceThread()
		require.NoError(t, byName.SetFormatFromString(format.String()))

		assert.Equal(t, byEnum.format, byName.format, "format %v", format)
	}
}

func TestSetFormatFromStringInvalid(t *testing.T) {
	d := NewDeviceThread()
	d.SetFormat(alsa.SNDRV_PCM_FORMAT_S32_LE)

	err := d.SetFormatFromString("bogus")
	require.ErrorIs(t, err, alsa.ErrInvalidFormat)
	assert.Equal(t, alsa.SNDRV_PCM_FORMAT_S32_LE, d.format, "failed parse must not change the format")
}

func TestOpenCloseLifecycle(t *testing.T) {
	d, opener, _ := newTestThread(Playback)

	require.Error(t, d.SetParams(), "set_params before open must fail")
	_, err := d.Params()
	require.Error(t, err)

	require.NoError(t, d.OpenDevice())
	require.Error(t, d.OpenDevice(), "double open must fail")

	require.NoError(t, d.SetParams())

	granted, err := d.Params()
	require.NoError(t, err)
	assert.Equal(t, uint32(DefaultRate), granted.Rate)
	assert.Equal(t, uint32(DefaultPeriodSize), granted.PeriodSize)

	require.NoError(t, d.CloseDevice())
	assert.True(t, opener.pcms[0].closed)
	require.NoError(t, d.CloseDevice(), "closing twice must be harmless")
}

func TestRunIterationsExactCycles(t *testing.T) {
	const iterations = 3

	d, opener, _ := newTestThread(Playback)
	d.SetIterations(iterations)

	require.NoError(t, d.RunIterations(context.Background()))

	require.Len(t, opener.pcms, iterations, "each iteration opens the device once")
	for i, pcm := range opener.pcms {
		assert.True(t, pcm.closed, "device of iteration %d left open", i)
		assert.NotZero(t, pcm.written, "iteration %d streamed nothing", i)
	}
	assert.Equal(t, iterations, d.recorders.Len())
	assert.Equal(t, uint64(iterations), d.timer.Calls(OpPcmOpen))
	assert.Equal(t, uint64(iterations), d.timer.Calls(OpClose))
}

func TestRunIterationsNoWork(t *testing.T) {
	d, opener, _ := newTestThread(Playback)
	d.SetIterations(0)

	require.NoError(t, d.RunIterations(context.Background()))
	assert.Empty(t, opener.pcms)
	assert.Zero(t, d.recorders.Len())
}

func TestRunIterationsPlaybackStreamsDuration(t *testing.T) {
	d, opener, _ := newTestThread(Playback)
	d.SetRate(48000)
	d.SetDuration(0.05)

	require.NoError(t, d.RunIterations(context.Background()))

	require.Len(t, opener.pcms, 1)
	pcm := opener.pcms[0]
	assert.GreaterOrEqual(t, pcm.written, uint64(0.05*48000), "must stream at least duration*rate frames")
	assert.Greater(t, pcm.writeCalls, 1)
}

func TestRunIterationsCaptureStreamsDuration(t *testing.T) {
	d, opener, _ := newTestThread(Capture)
	d.SetRate(48000)
	d.SetDuration(0.05)

	require.NoError(t, d.RunIterations(context.Background()))

	require.Len(t, opener.pcms, 1)
	pcm := opener.pcms[0]
	assert.GreaterOrEqual(t, pcm.read, uint64(0.05*48000))
	assert.Greater(t, pcm.readCalls, 1)
}

func TestRunIterationsRecordsUsefulPoints(t *testing.T) {
	d, _, _ := newTestThread(Playback)

	require.NoError(t, d.RunIterations(context.Background()))

	var buf bytes.Buffer
	d.SetWriter(&buf)
	require.NoError(t, d.PrintResult())

	out := buf.String()
	assert.Contains(t, out, "number of recorders: 1")
	assert.Contains(t, out, "number of underruns: 0")
}

func TestRunIterationsCountsAvailUnderrun(t *testing.T) {
	d, opener, _ := newTestThread(Playback)
	opener.availErrs = []error{syscall.EPIPE}

	require.NoError(t, d.RunIterations(context.Background()))

	assert.Equal(t, 1, d.Xruns())
	require.Len(t, opener.pcms, 1)
	assert.Greater(t, opener.pcms[0].prepareCalls, 1, "recovery must re-prepare the stream")

	var buf bytes.Buffer
	d.SetWriter(&buf)
	require.NoError(t, d.PrintResult())
	assert.Contains(t, buf.String(), "number of underruns: 1")
}

func TestRunIterationsCountsAvailOverrun(t *testing.T) {
	d, opener, _ := newTestThread(Capture)
	opener.availErrs = []error{syscall.EPIPE}

	require.NoError(t, d.RunIterations(context.Background()))

	assert.Equal(t, 1, d.Xruns())
	require.Len(t, opener.pcms, 1)
	assert.Greater(t, opener.pcms[0].prepareCalls, 1, "recovery must re-prepare the stream")

	var buf bytes.Buffer
	d.SetWriter(&buf)
	require.NoError(t, d.PrintResult())
	assert.Contains(t, buf.String(), "number of overruns: 1")
}

func TestRunIterationsCancelled(t *testing.T) {
	d, opener, _ := newTestThread(Playback)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := d.RunIterations(ctx)
	require.ErrorIs(t, err, context.Canceled)

	require.Len(t, opener.pcms, 1)
	assert.True(t, opener.pcms[0].closed, "cancelled run must close the device")
}

func TestRunIterationsOpenFailure(t *testing.T) {
	d, opener, _ := newTestThread(Playback)
	opener.failOpen = true

	require.Error(t, d.RunIterations(context.Background()))
	assert.Empty(t, opener.pcms)
}

func TestRunIterationsConsumesPreopenedHandle(t *testing.T) {
	d, opener, _ := newTestThread(Playback)

	require.NoError(t, d.OpenDevice())
	require.NoError(t, d.SetParams())

	require.NoError(t, d.RunIterations(context.Background()))

	require.Len(t, opener.pcms, 1, "first cycle reuses the open handle")
	assert.True(t, opener.pcms[0].closed)
}

func TestPrintParams(t *testing.T) {
	d, _, _ := newTestThread(Playback)

	require.Error(t, d.PrintParams(), "needs an open device")

	require.NoError(t, d.OpenDevice())
	require.NoError(t, d.SetParams())

	var buf bytes.Buffer
	d.SetWriter(&buf)
	require.NoError(t, d.PrintParams())

	out := buf.String()
	assert.Contains(t, out, "PCM name: hw:0,0")
	assert.Contains(t, out, "stream: PLAYBACK")
	assert.Contains(t, out, "format: S16_LE")
	assert.Contains(t, out, "rate: 48000 fps")
	assert.Contains(t, out, "period size: 240 frames")

	require.NoError(t, d.CloseDevice())
}

func TestPrintResultShowsTimerTable(t *testing.T) {
	d, _, _ := newTestThread(Playback)
	require.NoError(t, d.RunIterations(context.Background()))

	var buf bytes.Buffer
	d.SetWriter(&buf)
	require.NoError(t, d.PrintResult())

	out := buf.String()
	assert.Contains(t, out, "---------TIMER RESULT---------")
	assert.Contains(t, out, "pcm_open")
	assert.Contains(t, out, "set_config")
	assert.Contains(t, out, "----------RUN RESULT----------")
}

func TestPrintResultCaptureCountsOverruns(t *testing.T) {
	d, _, _ := newTestThread(Capture)
	require.NoError(t, d.RunIterations(context.Background()))

	var buf bytes.Buffer
	d.SetWriter(&buf)
	require.NoError(t, d.PrintResult())

	assert.Contains(t, buf.String(), "number of overruns: 0")
}
