package conformance

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kv2019i/cros-audiotest/alsa"
)

// Direction selects the stream type of a device thread.
type Direction int

const (
	Playback Direction = iota
	Capture
)

func (d Direction) String() string {
	if d == Capture {
		return "CAPTURE"
	}

	return "PLAYBACK"
}

// Worker defaults, used when the corresponding setter is never called.
const (
	DefaultChannels        = 2
	DefaultRate            = 48000
	DefaultPeriodSize      = 240
	DefaultBlockSize       = 240
	DefaultDuration        = 1.0
	DefaultIterations      = 1
	DefaultMergeThresholdT = 0.0001
)

// DeviceThread drives one PCM device through open/stream/close cycles and
// collects conformance statistics. It is configured through setters, then
// opened, run and finally asked to print its results.
//
// A DeviceThread is owned by a single goroutine. Multiple instances may run
// concurrently; they share no state. Setters take effect on the next
// OpenDevice/SetParams, and the handle must be closed with CloseDevice
// before the thread is discarded.
type DeviceThread struct {
	deviceName       string
	stream           Direction
	channels         uint32
	format           alsa.PcmFormat
	rate             uint32
	periodSize       uint32
	blockSize        uint32
	duration         float64
	iterations       int
	mergeThresholdT  float64
	mergeThresholdSz int64
	strict           bool
	captureFile      string

	open OpenFunc
	now  func() time.Duration
	out  io.Writer

	handle    Pcm
	timer     *Timer
	recorders RecorderList
	xruns     int
}

// NewDeviceThread creates a playback device thread with default parameters.
func NewDeviceThread() *DeviceThread {
	return &DeviceThread{
		stream:          Playback,
		channels:        DefaultChannels,
		format:          alsa.SNDRV_PCM_FORMAT_S16_LE,
		rate:            DefaultRate,
		periodSize:      DefaultPeriodSize,
		blockSize:       DefaultBlockSize,
		duration:        DefaultDuration,
		iterations:      DefaultIterations,
		mergeThresholdT: DefaultMergeThresholdT,

		open:  openAlsaPcm,
		now:   rawNow,
		out:   os.Stdout,
		timer: NewTimer(),
	}
}

// SetStream sets the stream direction.
func (d *DeviceThread) SetStream(stream Direction) {
	d.stream = stream
}

// SetDeviceName sets the "hw:C,D" name of the device under test.
func (d *DeviceThread) SetDeviceName(name string) {
	d.deviceName = name
}

// SetChannels sets the channel count.
func (d *DeviceThread) SetChannels(channels uint32) {
	d.channels = channels
}

// SetFormat sets the sample format.
func (d *DeviceThread) SetFormat(format alsa.PcmFormat) {
	d.format = format
}

// SetFormatFromString parses a format name such as "S16_LE" and sets it.
// An unrecognized name returns an error wrapping alsa.ErrInvalidFormat and
// leaves the previously configured format unchanged.
func (d *DeviceThread) SetFormatFromString(name string) error {
	format, err := alsa.FormatValue(name)
	if err != nil {
		return err
	}
	d.format = format

	return nil
}

// SetRate sets the sample rate in Hz.
func (d *DeviceThread) SetRate(rate uint32) {
	d.rate = rate
}

// SetPeriodSize sets the period size in frames.
func (d *DeviceThread) SetPeriodSize(periodSize uint32) {
	d.periodSize = periodSize
}

// SetBlockSize sets the number of frames moved per write or read.
func (d *DeviceThread) SetBlockSize(blockSize uint32) {
	d.blockSize = blockSize
}

// SetDuration sets how long each iteration streams, in seconds.
func (d *DeviceThread) SetDuration(duration float64) {
	d.duration = duration
}

// SetIterations sets how many open/stream/close cycles RunIterations
// performs.
func (d *DeviceThread) SetIterations(iterations int) {
	d.iterations = iterations
}

// SetMergeThreshold sets the time threshold in seconds below which adjacent
// timing points are merged.
func (d *DeviceThread) SetMergeThreshold(seconds float64) {
	d.mergeThresholdT = seconds
}

// SetMergeThresholdSize sets the frame threshold below which adjacent
// timing points are merged. When never set, the negotiated period size is
// used.
func (d *DeviceThread) SetMergeThresholdSize(frames int64) {
	d.mergeThresholdSz = frames
}

// SetStrict makes parameter negotiation demand the exact requested period
// size instead of treating it as a lower bound.
func (d *DeviceThread) SetStrict(strict bool) {
	d.strict = strict
}

// SetCaptureFile makes a capture thread dump the captured frames to a WAV
// file.
func (d *DeviceThread) SetCaptureFile(path string) {
	d.captureFile = path
}

// SetWriter redirects the Print* diagnostics; the default is stdout.
func (d *DeviceThread) SetWriter(w io.Writer) {
	d.out = w
}

// SetupVolume sets the volume controls of the device's card for this
// thread's stream direction to a percentage of their range.
func (d *DeviceThread) SetupVolume(percent int) error {
	return SetupVolume(d.deviceName, d.stream, percent)
}

// Xruns returns the number of underruns (playback) or overruns (capture)
// accumulated over all iterations.
func (d *DeviceThread) Xruns() int {
	return d.xruns
}

// Timer returns the worker's PCM call timer.
func (d *DeviceThread) Timer() *Timer {
	return d.timer
}

func (d *DeviceThread) log() *logrus.Entry {
	return logrus.WithFields(logrus.Fields{
		"device": d.deviceName,
		"stream": d.stream.String(),
	})
}

// OpenDevice acquires the native device handle for the configured name and
// direction. Parameters are not negotiated until SetParams.
func (d *DeviceThread) OpenDevice() error {
	if d.handle != nil {
		return fmt.Errorf("device %s is already open", d.deviceName)
	}

	if d.deviceName == "" {
		return fmt.Errorf("no device name configured")
	}

	flags := alsa.PCM_OUT
	if d.stream == Capture {
		flags = alsa.PCM_IN
	}

	var handle Pcm
	err := d.timer.Measure(OpPcmOpen, func() error {
		var oerr error
		handle, oerr = d.open(d.deviceName, flags, nil)

		return oerr
	})
	if err != nil {
		return fmt.Errorf("failed to open %s for %v: %w", d.deviceName, d.stream, err)
	}

	d.handle = handle
	d.log().Debug("device opened")

	return nil
}

// SetParams negotiates hardware and software parameters from the configured
// values. The granted values are retrievable through Params afterwards,
// also when negotiation partially succeeded.
func (d *DeviceThread) SetParams() error {
	if d.handle == nil {
		return fmt.Errorf("device is not open")
	}

	config := &alsa.Config{
		Channels:        d.channels,
		Rate:            d.rate,
		PeriodSize:      d.periodSize,
		Format:          d.format,
		ExactPeriodSize: d.strict,
	}

	err := d.timer.Measure(OpSetConfig, func() error {
		return d.handle.SetConfig(config)
	})
	if err != nil {
		return fmt.Errorf("failed to set params on %s: %w", d.deviceName, err)
	}

	d.log().WithFields(logrus.Fields{
		"rate":        d.handle.Config().Rate,
		"period_size": d.handle.Config().PeriodSize,
	}).Debug("params set")

	return nil
}

// Params returns the negotiated device configuration for reporting.
func (d *DeviceThread) Params() (alsa.Config, error) {
	if d.handle == nil {
		return alsa.Config{}, fmt.Errorf("device is not open")
	}

	return d.handle.Config(), nil
}

// CloseDevice releases the native device handle. Closing an already closed
// thread is harmless.
func (d *DeviceThread) CloseDevice() error {
	if d.handle == nil {
		return nil
	}

	handle := d.handle
	d.handle = nil

	err := d.timer.Measure(OpClose, handle.Close)
	if err != nil {
		return fmt.Errorf("failed to close %s: %w", d.deviceName, err)
	}

	d.log().Debug("device closed")

	return nil
}

// RunIterations performs the configured number of open/stream/close cycles,
// each streaming for the configured duration and feeding one recorder.
// An already open device is consumed by the first cycle. Cancelling the
// context stops the run between blocks.
func (d *DeviceThread) RunIterations(ctx context.Context) error {
	var sink *wavSink
	if d.stream == Capture && d.captureFile != "" {
		defer func() {
			if sink != nil {
				_ = sink.Close()
			}
		}()
	}

	for i := 0; i < d.iterations; i++ {
		if d.handle == nil {
			if err := d.OpenDevice(); err != nil {
				return err
			}
			if err := d.SetParams(); err != nil {
				_ = d.CloseDevice()

				return err
			}
		}

		config := d.handle.Config()

		if d.stream == Capture && d.captureFile != "" && sink == nil {
			var err error
			sink, err = newWavSink(d.captureFile, config.Rate, config.Channels, config.Format)
			if err != nil {
				_ = d.CloseDevice()

				return err
			}
		}

		// An unset size threshold merges points closer than one period.
		mergeSz := d.mergeThresholdSz
		if mergeSz <= 0 {
			mergeSz = int64(config.PeriodSize)
		}
		recorder := NewRecorder(d.mergeThresholdT, mergeSz)

		d.log().WithField("iteration", i).Debug("starting run")

		var err error
		if d.stream == Capture {
			err = d.runCapture(ctx, recorder, sink)
		} else {
			err = d.runPlayback(ctx, recorder)
		}

		d.recorders.Add(recorder)
		d.xruns += d.handle.Xruns()

		if cerr := d.CloseDevice(); err == nil {
			err = cerr
		}
		if err != nil {
			return err
		}
	}

	return nil
}

// runPlayback streams silence for the configured duration, recording the
// hardware frame position each time around the poll loop.
func (d *DeviceThread) runPlayback(ctx context.Context, recorder *Recorder) error {
	h := d.handle
	config := h.Config()

	block := d.blockSize
	if block == 0 {
		block = config.PeriodSize
	}

	target := uint64(d.duration * float64(config.Rate))
	bufferSize := uint64(h.BufferSize())
	silence := make([]byte, h.FramesToBytes(block))

	if err := d.timer.Measure(OpPrepare, h.Prepare); err != nil {
		return err
	}

	// Preload one block so the stream does not underrun right after start.
	var written uint64
	n, err := d.writeBlock(silence, block)
	if err != nil {
		return err
	}
	written += uint64(n)

	if err := d.timer.Measure(OpStart, h.Start); err != nil {
		return err
	}

	for written < target {
		select {
		case <-ctx.Done():
			_ = d.timer.Measure(OpStop, h.Stop)

			return ctx.Err()
		default:
		}

		var avail int
		err := d.timer.Measure(OpAvail, func() error {
			var aerr error
			avail, aerr = h.Avail()

			return aerr
		})
		if err != nil {
			if errors.Is(err, syscall.EPIPE) {
				// Underrun; re-prepare so the next write restarts the
				// stream.
				d.log().Debug("underrun detected")
				d.xruns++
				if perr := d.timer.Measure(OpPrepare, h.Prepare); perr != nil {
					return perr
				}

				continue
			}

			return fmt.Errorf("avail failed on %s: %w", d.deviceName, err)
		}

		now := d.now()

		// Frames consumed by the hardware so far.
		var queued uint64
		if uint64(avail) < bufferSize {
			queued = bufferSize - uint64(avail)
		}
		var played uint64
		if written > queued {
			played = written - queued
		}
		recorder.Add(now, played)

		if uint64(avail) >= uint64(block) {
			n, err := d.writeBlock(silence, block)
			if err != nil {
				return err
			}
			written += uint64(n)
		}
	}

	return d.timer.Measure(OpStop, h.Stop)
}

func (d *DeviceThread) writeBlock(buf []byte, frames uint32) (int, error) {
	var n int
	err := d.timer.Measure(OpWrite, func() error {
		var werr error
		n, werr = d.handle.WriteFrames(buf, frames)

		return werr
	})
	if err != nil {
		return n, fmt.Errorf("write failed on %s: %w", d.deviceName, err)
	}

	return n, nil
}

// runCapture streams from the device for the configured duration, recording
// the hardware frame position each time around the poll loop.
func (d *DeviceThread) runCapture(ctx context.Context, recorder *Recorder, sink *wavSink) error {
	h := d.handle
	config := h.Config()

	block := d.blockSize
	if block == 0 {
		block = config.PeriodSize
	}

	target := uint64(d.duration * float64(config.Rate))
	buf := make([]byte, h.FramesToBytes(block))

	if err := d.timer.Measure(OpPrepare, h.Prepare); err != nil {
		return err
	}
	if err := d.timer.Measure(OpStart, h.Start); err != nil {
		return err
	}

	var read uint64
	for read < target {
		select {
		case <-ctx.Done():
			_ = d.timer.Measure(OpStop, h.Stop)

			return ctx.Err()
		default:
		}

		var avail int
		err := d.timer.Measure(OpAvail, func() error {
			var aerr error
			avail, aerr = h.Avail()

			return aerr
		})
		if err != nil {
			if errors.Is(err, syscall.EPIPE) {
				// Overrun; a capture stream does not fill while merely
				// prepared, so restart it explicitly.
				d.log().Debug("overrun detected")
				d.xruns++
				if perr := d.timer.Measure(OpPrepare, h.Prepare); perr != nil {
					return perr
				}
				if serr := d.timer.Measure(OpStart, h.Start); serr != nil {
					return serr
				}

				continue
			}

			return fmt.Errorf("avail failed on %s: %w", d.deviceName, err)
		}

		now := d.now()

		// Frames captured by the hardware so far.
		recorder.Add(now, read+uint64(avail))

		if uint64(avail) >= uint64(block) {
			var n int
			err := d.timer.Measure(OpRead, func() error {
				var rerr error
				n, rerr = h.ReadFrames(buf, block)

				return rerr
			})
			if err != nil {
				return fmt.Errorf("read failed on %s: %w", d.deviceName, err)
			}

			if sink != nil {
				if err := sink.Write(buf, uint32(n)); err != nil {
					return err
				}
			}

			read += uint64(n)
		}
	}

	return d.timer.Measure(OpStop, h.Stop)
}

// PrintDeviceInformation writes the device's capability ranges. The device
// must be open.
func (d *DeviceThread) PrintDeviceInformation() error {
	if d.handle == nil {
		return fmt.Errorf("device is not open")
	}

	params, err := d.handle.Params()
	if err != nil {
		return fmt.Errorf("failed to query capabilities of %s: %w", d.deviceName, err)
	}

	fmt.Fprintf(d.out, "PCM handle name: %s\n", d.handle.Name())
	fmt.Fprintf(d.out, "PCM type: HW\n")
	fmt.Fprintf(d.out, "stream: %v\n", d.stream)
	fmt.Fprintf(d.out, "channels range: [%d, %d]\n",
		params.RangeMin(alsa.SNDRV_PCM_HW_PARAM_CHANNELS),
		params.RangeMax(alsa.SNDRV_PCM_HW_PARAM_CHANNELS))

	fmt.Fprintf(d.out, "available formats:")
	for _, f := range params.SupportedFormats() {
		fmt.Fprintf(d.out, " %v", f)
	}
	fmt.Fprintln(d.out)

	fmt.Fprintf(d.out, "rate range: [%d, %d]\n",
		params.RangeMin(alsa.SNDRV_PCM_HW_PARAM_RATE),
		params.RangeMax(alsa.SNDRV_PCM_HW_PARAM_RATE))
	fmt.Fprintf(d.out, "available number of periods: [%d, %d]\n",
		params.RangeMin(alsa.SNDRV_PCM_HW_PARAM_PERIODS),
		params.RangeMax(alsa.SNDRV_PCM_HW_PARAM_PERIODS))
	fmt.Fprintf(d.out, "period size range: [%d, %d]\n",
		params.RangeMin(alsa.SNDRV_PCM_HW_PARAM_PERIOD_SIZE),
		params.RangeMax(alsa.SNDRV_PCM_HW_PARAM_PERIOD_SIZE))
	fmt.Fprintf(d.out, "buffer size range: [%d, %d]\n",
		params.RangeMin(alsa.SNDRV_PCM_HW_PARAM_BUFFER_SIZE),
		params.RangeMax(alsa.SNDRV_PCM_HW_PARAM_BUFFER_SIZE))

	return nil
}

// PrintParams writes the negotiated parameters. The device must be open and
// configured.
func (d *DeviceThread) PrintParams() error {
	config, err := d.Params()
	if err != nil {
		return err
	}

	fmt.Fprintln(d.out, "---------PRINT PARAMS---------")
	fmt.Fprintf(d.out, "PCM name: %s\n", d.handle.Name())
	fmt.Fprintf(d.out, "stream: %v\n", d.stream)
	fmt.Fprintf(d.out, "access type: RW_INTERLEAVED\n")
	fmt.Fprintf(d.out, "format: %v\n", config.Format)
	fmt.Fprintf(d.out, "channels: %d\n", config.Channels)
	fmt.Fprintf(d.out, "rate: %d fps\n", config.Rate)
	fmt.Fprintf(d.out, "period size: %d frames\n", config.PeriodSize)
	fmt.Fprintf(d.out, "buffer size: %d frames\n", d.handle.BufferSize())
	fmt.Fprintln(d.out, "------------------------------")

	return nil
}

// PrintResult writes the timing table and the aggregated run statistics.
func (d *DeviceThread) PrintResult() error {
	fmt.Fprintln(d.out, "---------TIMER RESULT---------")
	d.timer.PrintResult(d.out)

	fmt.Fprintln(d.out, "----------RUN RESULT----------")
	if d.stream == Capture {
		fmt.Fprintf(d.out, "number of overruns: %d\n", d.xruns)
	} else {
		fmt.Fprintf(d.out, "number of underruns: %d\n", d.xruns)
	}

	return d.recorders.PrintResult(d.out)
}
