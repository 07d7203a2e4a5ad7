package conformance

import (
	"github.com/kv2019i/cros-audiotest/alsa"
)

// Pcm is the slice of the PCM device surface the worker streams through.
// *alsa.PCM satisfies it; tests substitute a scripted fake.
type Pcm interface {
	SetConfig(config *alsa.Config) error
	Config() alsa.Config
	BufferSize() uint32
	FrameSize() uint32
	FramesToBytes(frames uint32) uint32
	Params() (*alsa.PcmParams, error)
	Prepare() error
	Start() error
	Stop() error
	Avail() (int, error)
	WriteFrames(buf []byte, frames uint32) (int, error)
	ReadFrames(buf []byte, frames uint32) (int, error)
	Xruns() int
	Name() string
	Close() error
}

// OpenFunc opens a PCM device by its "hw:C,D" name.
type OpenFunc func(name string, flags alsa.PcmFlag, config *alsa.Config) (Pcm, error)

// openAlsaPcm is the production opener backed by /dev/snd.
func openAlsaPcm(name string, flags alsa.PcmFlag, config *alsa.Config) (Pcm, error) {
	return alsa.PcmOpenByName(name, flags, config)
}
