package alsa

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Config encapsulates the hardware and software parameters of a PCM stream.
type Config struct {
	Channels    uint32
	Rate        uint32
	PeriodSize  uint32
	PeriodCount uint32
	Format      PcmFormat

	// ExactPeriodSize forces the driver to honor PeriodSize exactly instead of
	// treating it as a lower bound.
	ExactPeriodSize bool

	StartThreshold uint32
	StopThreshold  uint32
	AvailMin       uint32
}

// PCM represents an open ALSA PCM device handle.
//
// A PCM is owned by a single goroutine; it carries no internal locking.
type PCM struct {
	file        *os.File
	name        string
	config      Config
	flags       PcmFlag
	configured  bool
	bufferSize  uint32 // In frames
	subdevice   uint32
	syncPointer *sndPcmSyncPtr
	boundary    SndPcmUframesT
	xruns       int // Counter for overruns/underruns
}

// PcmOpenByName opens a PCM by its name, in the format "hw:C,D".
func PcmOpenByName(name string, flags PcmFlag, config *Config) (*PCM, error) {
	if !strings.HasPrefix(name, "hw:") {
		return nil, fmt.Errorf("invalid PCM name %q: missing 'hw:' prefix", name)
	}

	parts := strings.Split(strings.TrimPrefix(name, "hw:"), ",")
	if len(parts) != 2 {
		return nil, fmt.Errorf("invalid PCM name %q: expected 'hw:card,device'", name)
	}

	card, err := strconv.ParseUint(parts[0], 10, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid card number %q: %w", parts[0], err)
	}

	device, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid device number %q: %w", parts[1], err)
	}

	return PcmOpen(uint(card), uint(device), flags, config)
}

// PcmOpen opens an ALSA hardware PCM device (e.g. /dev/snd/pcmC0D0p).
//
// If config is nil the device is opened without negotiating parameters;
// SetConfig must be called before any I/O. The alsa-lib plugin layer is not
// supported, only direct hardware devices can be opened.
func PcmOpen(card, device uint, flags PcmFlag, config *Config) (*PCM, error) {
	var streamChar byte
	if (flags & PCM_IN) != 0 {
		streamChar = 'c' // Capture
	} else {
		streamChar = 'p' // Playback
	}

	path := fmt.Sprintf("/dev/snd/pcmC%dD%d%c", card, device, streamChar)

	// Always open non-blocking to avoid getting stuck if the device is in
	// use, then clear the flag if blocking I/O was requested.
	file, err := os.OpenFile(path, os.O_RDWR|syscall.O_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open PCM device %s: %w", path, err)
	}

	if (flags & PCM_NONBLOCK) == 0 {
		currentFlags, err := unix.FcntlInt(file.Fd(), unix.F_GETFL, 0)
		if err != nil {
			_ = file.Close()

			return nil, fmt.Errorf("fcntl F_GETFL for %s failed: %w", path, err)
		}
		if _, err = unix.FcntlInt(file.Fd(), unix.F_SETFL, currentFlags&^syscall.O_NONBLOCK); err != nil {
			_ = file.Close()

			return nil, fmt.Errorf("failed to set blocking mode on %s: %w", path, err)
		}
	}

	var info sndPcmInfo
	if err := ioctl(file.Fd(), SNDRV_PCM_IOCTL_INFO, uintptr(unsafe.Pointer(&info))); err != nil {
		_ = file.Close()

		return nil, fmt.Errorf("ioctl INFO failed: %w", err)
	}

	pcm := &PCM{
		file:      file,
		name:      fmt.Sprintf("hw:%d,%d", card, device),
		flags:     flags,
		subdevice: info.Subdevice,
		// The sync_ptr struct backs all state and pointer queries.
		syncPointer: &sndPcmSyncPtr{},
	}

	// Set timestamp type if requested.
	if (flags & PCM_MONOTONIC) != 0 {
		// SNDRV_PCM_TSTAMP_TYPE_MONOTONIC = 1
		var arg int32 = 1
		if err := ioctl(pcm.file.Fd(), SNDRV_PCM_IOCTL_TTSTAMP, uintptr(unsafe.Pointer(&arg))); err != nil {
			_ = pcm.Close()

			return nil, fmt.Errorf("ioctl TTSTAMP failed: %w", err)
		}
	}

	if config != nil {
		if err := pcm.SetConfig(config); err != nil {
			_ = pcm.Close()

			return nil, fmt.Errorf("failed to set PCM config: %w", err)
		}
	}

	return pcm, nil
}

// IsReady checks if the PCM handle is valid.
func (p *PCM) IsReady() bool {
	return p != nil && p.file != nil
}

// Close closes the PCM device handle and releases all associated resources.
func (p *PCM) Close() error {
	if !p.IsReady() {
		return nil
	}

	err := p.file.Close()
	p.bufferSize = 0
	p.configured = false
	p.file = nil

	return err
}

// Name returns the "hw:C,D" name the device was opened with.
func (p *PCM) Name() string {
	return p.name
}

// Config returns a copy of the PCM's current configuration. After a
// successful SetConfig this holds the values the driver actually granted.
func (p *PCM) Config() Config {
	return p.config
}

// BufferSize returns the PCM's total buffer size in frames.
func (p *PCM) BufferSize() uint32 {
	return p.bufferSize
}

// Flags returns the stream flags of the PCM.
func (p *PCM) Flags() PcmFlag {
	return p.flags
}

// Subdevice returns the subdevice number of the PCM stream.
func (p *PCM) Subdevice() uint32 {
	return p.subdevice
}

// Xruns returns the number of buffer underruns (for playback) or overruns
// (for capture) that have occurred since the device was opened.
func (p *PCM) Xruns() int {
	return p.xruns
}

// FrameSize returns the size of a single frame in bytes.
// A frame contains one sample for each channel.
func (p *PCM) FrameSize() uint32 {
	bitsPerSample := FormatToBits(p.config.Format)
	if bitsPerSample == 0 {
		return 0
	}

	return p.config.Channels * (bitsPerSample / 8)
}

// FramesToBytes converts a number of frames to the corresponding number of bytes.
func (p *PCM) FramesToBytes(frames uint32) uint32 {
	return frames * p.FrameSize()
}

// BytesToFrames converts a number of bytes to the corresponding number of frames.
func (p *PCM) BytesToFrames(bytes uint32) uint32 {
	frameSize := p.FrameSize()
	if frameSize == 0 {
		return 0
	}

	return bytes / frameSize
}

// PeriodTime returns the duration of a single period.
func (p *PCM) PeriodTime() time.Duration {
	if p.config.Rate == 0 {
		return 0
	}

	ns := (1e9 * float64(p.config.PeriodSize)) / float64(p.config.Rate)

	return time.Duration(ns)
}

// SetConfig negotiates the hardware and software parameters for the PCM
// device. It must be called before the stream is started. The driver may
// refine the requested values; the granted configuration is readable through
// Config afterwards.
func (p *PCM) SetConfig(config *Config) error {
	if !p.IsReady() {
		return fmt.Errorf("PCM handle is not valid")
	}

	if config == nil {
		config = &Config{
			Channels:    2,
			Rate:        48000,
			PeriodSize:  1024,
			PeriodCount: 4,
			Format:      SNDRV_PCM_FORMAT_S16_LE,
		}
	}
	p.config = *config

	if p.config.PeriodCount == 0 {
		p.config.PeriodCount = 4
	}

	hwParams := &sndPcmHwParams{}
	paramInit(hwParams)

	paramSetMask(hwParams, SNDRV_PCM_HW_PARAM_FORMAT, uint32(p.config.Format))
	paramSetMask(hwParams, SNDRV_PCM_HW_PARAM_ACCESS, SNDRV_PCM_ACCESS_RW_INTERLEAVED)
	paramSetInt(hwParams, SNDRV_PCM_HW_PARAM_CHANNELS, p.config.Channels)
	paramSetInt(hwParams, SNDRV_PCM_HW_PARAM_RATE, p.config.Rate)
	paramSetInt(hwParams, SNDRV_PCM_HW_PARAM_PERIODS, p.config.PeriodCount)

	if p.config.PeriodSize > 0 {
		if p.config.ExactPeriodSize {
			paramSetInt(hwParams, SNDRV_PCM_HW_PARAM_PERIOD_SIZE, p.config.PeriodSize)
		} else {
			paramSetMin(hwParams, SNDRV_PCM_HW_PARAM_PERIOD_SIZE, p.config.PeriodSize)
		}
	}

	if err := ioctl(p.file.Fd(), SNDRV_PCM_IOCTL_HW_PARAMS, uintptr(unsafe.Pointer(hwParams))); err != nil {
		return fmt.Errorf("ioctl HW_PARAMS failed: %w", err)
	}

	// Update our config with the refined parameters from the driver.
	p.config.PeriodSize = paramGetInt(hwParams, SNDRV_PCM_HW_PARAM_PERIOD_SIZE)
	p.config.PeriodCount = paramGetInt(hwParams, SNDRV_PCM_HW_PARAM_PERIODS)
	p.config.Channels = paramGetInt(hwParams, SNDRV_PCM_HW_PARAM_CHANNELS)
	p.config.Rate = paramGetInt(hwParams, SNDRV_PCM_HW_PARAM_RATE)
	p.bufferSize = p.config.PeriodSize * p.config.PeriodCount

	if p.config.Channels == 0 || p.config.Rate == 0 || p.config.PeriodSize == 0 || p.config.PeriodCount == 0 {
		return fmt.Errorf("driver finalized invalid PCM configuration (Channels=%d, Rate=%d, PeriodSize=%d, PeriodCount=%d)",
			p.config.Channels, p.config.Rate, p.config.PeriodSize, p.config.PeriodCount)
	}

	swParams := &sndPcmSwParams{}
	swParams.TstampMode = 1 // SNDRV_PCM_TSTAMP_ENABLE
	swParams.PeriodStep = 1

	if p.config.AvailMin == 0 {
		p.config.AvailMin = p.config.PeriodSize
	}
	swParams.AvailMin = SndPcmUframesT(p.config.AvailMin)

	if p.config.StartThreshold == 0 {
		if (p.flags & PCM_IN) != 0 {
			swParams.StartThreshold = 1
		} else {
			swParams.StartThreshold = SndPcmUframesT(p.bufferSize / 2)
		}
		p.config.StartThreshold = uint32(swParams.StartThreshold)
	} else {
		swParams.StartThreshold = SndPcmUframesT(p.config.StartThreshold)
	}

	if p.config.StopThreshold == 0 {
		if (p.flags & PCM_IN) != 0 {
			swParams.StopThreshold = SndPcmUframesT(p.bufferSize * 10)
		} else {
			swParams.StopThreshold = SndPcmUframesT(p.bufferSize)
		}
		p.config.StopThreshold = uint32(swParams.StopThreshold)
	} else {
		swParams.StopThreshold = SndPcmUframesT(p.config.StopThreshold)
	}

	swParams.XferAlign = SndPcmUframesT(p.config.PeriodSize / 2) // Needed for old kernels

	if err := ioctl(p.file.Fd(), SNDRV_PCM_IOCTL_SW_PARAMS, uintptr(unsafe.Pointer(swParams))); err != nil {
		return fmt.Errorf("ioctl SW_PARAMS failed: %w", err)
	}

	p.boundary = swParams.Boundary
	p.configured = true

	return nil
}

// Prepare readies the PCM device for I/O operations.
// This is also used to recover from an XRUN.
func (p *PCM) Prepare() error {
	if err := ioctl(p.file.Fd(), SNDRV_PCM_IOCTL_PREPARE, 0); err != nil {
		return fmt.Errorf("ioctl PREPARE failed: %w", err)
	}

	return p.syncPtr(SNDRV_PCM_SYNC_PTR_APPL | SNDRV_PCM_SYNC_PTR_AVAIL_MIN)
}

// Start explicitly starts the PCM stream, preparing it first if needed.
func (p *PCM) Start() error {
	if p.State() == SNDRV_PCM_STATE_SETUP {
		if err := p.Prepare(); err != nil {
			return err
		}
	}

	if err := p.syncPtr(0); err != nil {
		return err
	}

	if PcmState(p.syncPointer.S.State) != SNDRV_PCM_STATE_RUNNING {
		if err := ioctl(p.file.Fd(), SNDRV_PCM_IOCTL_START, 0); err != nil {
			return fmt.Errorf("ioctl START failed: %w", err)
		}
	}

	return nil
}

// Stop abruptly stops the PCM stream, dropping any pending frames.
func (p *PCM) Stop() error {
	if err := ioctl(p.file.Fd(), SNDRV_PCM_IOCTL_DROP, 0); err != nil {
		return fmt.Errorf("ioctl DROP failed: %w", err)
	}

	return nil
}

// Drain waits for all pending frames in the buffer to be played.
// This is a blocking call and only applies to playback streams.
func (p *PCM) Drain() error {
	if !p.IsReady() {
		return fmt.Errorf("PCM handle is not valid")
	}

	if err := ioctl(p.file.Fd(), SNDRV_PCM_IOCTL_DRAIN, 0); err != nil {
		return fmt.Errorf("ioctl DRAIN failed: %w", err)
	}

	return nil
}

// Delay returns the delay of the PCM stream in frames. For playback this is
// the number of frames queued ahead of the hardware pointer; for capture the
// number of frames captured but not yet read.
func (p *PCM) Delay() (int, error) {
	if !p.IsReady() {
		return 0, fmt.Errorf("PCM handle is not valid")
	}

	var delay SndPcmSframesT
	if err := ioctl(p.file.Fd(), SNDRV_PCM_IOCTL_DELAY, uintptr(unsafe.Pointer(&delay))); err != nil {
		return 0, fmt.Errorf("ioctl DELAY failed: %w", err)
	}

	return int(delay), nil
}

// Avail synchronizes with the kernel and returns the number of available
// frames: writable space for playback, readable frames for capture.
func (p *PCM) Avail() (int, error) {
	if !p.configured {
		return 0, fmt.Errorf("PCM is not configured")
	}

	if err := p.syncPtr(SNDRV_PCM_SYNC_PTR_HWSYNC); err != nil {
		if p.State() == SNDRV_PCM_STATE_XRUN {
			if (p.flags & PCM_IN) != 0 {
				return 0, syscall.EPIPE // Capture: no frames available
			}

			return int(p.bufferSize), syscall.EPIPE // Playback: full buffer available
		}

		return 0, err
	}

	applPtr := p.syncPointer.C.ApplPtr
	hwPtr := p.syncPointer.S.HwPtr

	var avail int
	if (p.flags & PCM_IN) != 0 {
		// For capture, avail is the number of frames ready to be read.
		avail = int(hwPtr) - int(applPtr)
		if avail < 0 {
			avail += int(p.boundary)
		}
	} else {
		// For playback, avail is the free space.
		used := int(applPtr) - int(hwPtr)
		if used < 0 {
			used += int(p.boundary)
		}
		avail = int(p.bufferSize) - used
	}

	return avail, nil
}

// Wait waits for the PCM to become ready for I/O or until a timeout occurs.
// Returns true if the device is ready, false on timeout.
func (p *PCM) Wait(timeoutMs int) (bool, error) {
	if !p.IsReady() {
		return false, fmt.Errorf("PCM handle is not valid")
	}

	pfd := []unix.PollFd{
		{
			Fd:     int32(p.file.Fd()),
			Events: unix.POLLIN | unix.POLLOUT | unix.POLLERR | unix.POLLNVAL,
		},
	}

	var n int
	var err error

	// Loop to handle EINTR (interrupted system call)
	for {
		n, err = unix.Poll(pfd, timeoutMs)
		if !errors.Is(err, syscall.EINTR) {
			break
		}
	}

	if err != nil {
		return false, err
	}

	if n == 0 {
		// Timeout occurred
		return false, nil
	}

	revents := pfd[0].Revents
	if (revents & (unix.POLLERR | unix.POLLNVAL)) != 0 {
		switch p.State() {
		case SNDRV_PCM_STATE_XRUN:
			return false, fmt.Errorf("stream xrun: %w", syscall.EPIPE)
		case SNDRV_PCM_STATE_SUSPENDED:
			return false, fmt.Errorf("stream suspended: %w", unix.ESTRPIPE)
		case SNDRV_PCM_STATE_DISCONNECTED:
			return false, fmt.Errorf("device disconnected: %w", syscall.ENODEV)
		default:
			return false, fmt.Errorf("input/output error: %w", syscall.EIO)
		}
	}

	return true, nil
}

// State returns the current state of the PCM stream.
func (p *PCM) State() PcmState {
	// Fast path: sync pointers and read the state from the sync_ptr struct.
	if err := p.syncPtr(SNDRV_PCM_SYNC_PTR_HWSYNC); err == nil {
		return PcmState(atomic.LoadInt32(&p.syncPointer.S.State))
	}

	// Fall back to the more robust but slower STATUS ioctl, e.g. before the
	// stream has a setup.
	var status sndPcmStatus
	if ioctlErr := ioctl(p.file.Fd(), SNDRV_PCM_IOCTL_STATUS, uintptr(unsafe.Pointer(&status))); ioctlErr != nil {
		return SNDRV_PCM_STATE_DISCONNECTED
	}

	return status.State
}

// xrunRecover is an internal helper to recover from an XRUN.
func (p *PCM) xrunRecover(err error) error {
	isEPIPE := errors.Is(err, syscall.EPIPE)
	isESTRPIPE := errors.Is(err, unix.ESTRPIPE)

	if !isEPIPE && !isESTRPIPE {
		return err // Not an XRUN or recoverable bad state
	}

	if isEPIPE {
		p.xruns++
	}

	if (p.flags & PCM_NORESTART) != 0 {
		return fmt.Errorf("xrun or bad state occurred with PCM_NORESTART: %w", err)
	}

	if prepErr := p.Prepare(); prepErr != nil {
		return fmt.Errorf("recovery failed: could not prepare stream: %w", prepErr)
	}

	return nil
}

// syncPtr synchronizes the application and hardware pointers through the
// SYNC_PTR ioctl.
func (p *PCM) syncPtr(flags uint32) error {
	if p.syncPointer == nil {
		return fmt.Errorf("sync pointer not initialized")
	}

	p.syncPointer.Flags = flags

	return ioctl(p.file.Fd(), SNDRV_PCM_IOCTL_SYNC_PTR, uintptr(unsafe.Pointer(p.syncPointer)))
}
