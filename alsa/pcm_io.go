package alsa

import (
	"errors"
	"fmt"
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"
)

// WriteFrames writes interleaved frames from buf to a playback stream. It
// blocks until all requested frames are queued (unless the PCM was opened
// with PCM_NONBLOCK) and returns the number of frames written.
//
// On an underrun the stream is prepared again and the write is retried,
// unless PCM_NORESTART was set.
func (p *PCM) WriteFrames(buf []byte, frames uint32) (int, error) {
	if (p.flags & PCM_IN) != 0 {
		return 0, fmt.Errorf("cannot write to a capture device")
	}

	return p.transferFrames(buf, frames, false)
}

// ReadFrames reads interleaved frames from a capture stream into buf,
// returning the number of frames read. The stream is started on demand.
func (p *PCM) ReadFrames(buf []byte, frames uint32) (int, error) {
	if (p.flags & PCM_IN) == 0 {
		return 0, fmt.Errorf("cannot read from a playback device")
	}

	return p.transferFrames(buf, frames, true)
}

func (p *PCM) transferFrames(buf []byte, frames uint32, isRead bool) (int, error) {
	if !p.configured {
		return 0, fmt.Errorf("PCM is not configured")
	}

	if need := p.FramesToBytes(frames); uint32(len(buf)) < need {
		return 0, fmt.Errorf("buffer too small: have %d bytes, need %d", len(buf), need)
	}

	if frames == 0 {
		return 0, nil
	}

	switch p.State() {
	case SNDRV_PCM_STATE_SETUP:
		if err := p.Prepare(); err != nil {
			return 0, err
		}
	case SNDRV_PCM_STATE_XRUN:
		if err := p.xrunRecover(syscall.EPIPE); err != nil {
			return 0, err
		}
	}

	// A capture stream delivers nothing until it runs; playback auto-starts
	// once the start threshold is queued.
	if isRead && p.State() == SNDRV_PCM_STATE_PREPARED {
		if err := p.Start(); err != nil {
			return 0, err
		}
	}

	xfer := sndXferi{
		Buf:    uintptr(unsafe.Pointer(&buf[0])),
		Frames: SndPcmUframesT(frames),
	}

	req := SNDRV_PCM_IOCTL_WRITEI_FRAMES
	if isRead {
		req = SNDRV_PCM_IOCTL_READI_FRAMES
	}

	total := 0
	for xfer.Frames > 0 {
		err := ioctl(p.file.Fd(), req, uintptr(unsafe.Pointer(&xfer)))
		if err == nil {
			total += int(xfer.Result)
			if uint32(total) >= frames {
				break
			}
			xfer.Buf = uintptr(unsafe.Pointer(&buf[p.FramesToBytes(uint32(total))]))
			xfer.Frames = SndPcmUframesT(frames) - SndPcmUframesT(total)
			xfer.Result = 0

			continue
		}

		switch {
		case errors.Is(err, syscall.EAGAIN):
			if (p.flags & PCM_NONBLOCK) != 0 {
				if total > 0 {
					return total, nil
				}

				return 0, syscall.EAGAIN
			}
			// Blocking mode should not see EAGAIN, but retry anyway.
			continue

		case errors.Is(err, syscall.EPIPE), errors.Is(err, unix.ESTRPIPE):
			if recErr := p.xrunRecover(err); recErr != nil {
				return total, recErr
			}
			// Restart the transfer from where it stopped.
			continue

		case errors.Is(err, syscall.EINTR):
			continue

		default:
			return total, fmt.Errorf("frame transfer failed: %w", err)
		}
	}

	return total, nil
}
