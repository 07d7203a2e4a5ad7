package alsa

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// The no-transfer requests carry no size or direction bits, so their values
// are fixed across architectures and can be checked against the kernel's.
func TestIoctlRequestCodes(t *testing.T) {
	assert.Equal(t, uintptr(0x4122), SNDRV_PCM_IOCTL_HWSYNC)
	assert.Equal(t, uintptr(0x4140), SNDRV_PCM_IOCTL_PREPARE)
	assert.Equal(t, uintptr(0x4142), SNDRV_PCM_IOCTL_START)
	assert.Equal(t, uintptr(0x4143), SNDRV_PCM_IOCTL_DROP)
	assert.Equal(t, uintptr(0x4144), SNDRV_PCM_IOCTL_DRAIN)
}

func TestIoctlDirectionBits(t *testing.T) {
	assert.Zero(t, SNDRV_PCM_IOCTL_PREPARE>>iocDirshift)
	assert.EqualValues(t, iocWrite, SNDRV_PCM_IOCTL_WRITEI_FRAMES>>iocDirshift)
	assert.EqualValues(t, iocRead, SNDRV_PCM_IOCTL_READI_FRAMES>>iocDirshift)
	assert.EqualValues(t, iocRead|iocWrite, SNDRV_PCM_IOCTL_SYNC_PTR>>iocDirshift)
}
