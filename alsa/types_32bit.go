//go:build linux && (386 || arm)

package alsa

import (
	"golang.org/x/sys/unix"
)

// SndPcmUframesT is an unsigned long in the ALSA headers.
// On 32-bit architectures, this is a 32-bit unsigned integer.
type SndPcmUframesT = uint32

// SndPcmSframesT is a signed long in the ALSA headers.
type SndPcmSframesT = int32

// clong is a type alias for the C `long` type on 32-bit systems.
type clong = int32

// sndXferi is for interleaved read/write operations.
type sndXferi struct {
	Result int32   // Corresponds to C ssize_t
	Buf    uintptr // void*
	Frames SndPcmUframesT
}

// sndPcmHwParams contains hardware parameters for a PCM device.
type sndPcmHwParams struct {
	Flags     uint32
	Masks     [3]sndMask
	Mres      [5]sndMask // reserved for future use
	Intervals [12]sndInterval
	Ires      [9]sndInterval // reserved for future use
	Rmask     uint32
	Cmask     uint32
	Info      uint32
	Msbits    uint32
	RateNum   uint32
	RateDen   uint32
	FifoSize  SndPcmUframesT
	Reserved  [64]byte
}

// sndPcmMmapStatus contains the kernel-maintained status of a PCM stream.
type sndPcmMmapStatus struct {
	State          int32 // PcmState
	Pad1           int32
	HwPtr          SndPcmUframesT
	Tstamp         unix.Timespec
	SuspendedState int32 // PcmState
	AudioTstamp    unix.Timespec
}

// sndPcmMmapControl contains the application-maintained pointers of a PCM stream.
type sndPcmMmapControl struct {
	ApplPtr  SndPcmUframesT
	AvailMin SndPcmUframesT
}

// sndPcmStatus contains the full status of a PCM stream for the STATUS ioctl.
type sndPcmStatus struct {
	State          PcmState
	TriggerTstamp  unix.Timespec
	Tstamp         unix.Timespec
	ApplPtr        SndPcmUframesT
	HwPtr          SndPcmUframesT
	Delay          SndPcmSframesT
	Avail          SndPcmUframesT
	AvailMax       SndPcmUframesT
	Overrange      SndPcmUframesT
	SuspendedState PcmState
	_              [60]byte // audio/driver tstamp fields and reserved tail
}

// sndPcmSyncPtr is used to synchronize hardware and application pointers via ioctl.
// The field order must match the C struct exactly. This definition is for 32-bit systems.
type sndPcmSyncPtr struct {
	Flags uint32
	// Padding (4 bytes) required to align the unions to 8 bytes.
	_ [4]byte
	S struct {
		sndPcmMmapStatus
		_ [24]byte // Padding to make the union 64 bytes
	}
	C struct {
		sndPcmMmapControl
		_ [56]byte // Padding to make the union 64 bytes
	}
}

// sndPcmSwParams contains software parameters for a PCM device for 32-bit systems.
type sndPcmSwParams struct {
	TstampMode       uint32
	PeriodStep       uint32
	SleepMin         uint32
	AvailMin         SndPcmUframesT
	XferAlign        SndPcmUframesT
	StartThreshold   SndPcmUframesT
	StopThreshold    SndPcmUframesT
	SilenceThreshold SndPcmUframesT
	SilenceSize      SndPcmUframesT
	Boundary         SndPcmUframesT
	Reserved         [64]byte
}

// sndCtlElemValue holds the value of a control element.
type sndCtlElemValue struct {
	Id sndCtlElemId
	_  [4]byte
	// Represents a C union. The largest member on 32-bit is 'long long value[64]' (512 bytes).
	Value    [512]byte
	Reserved [128]byte
}

// sndCtlElemList is used to enumerate control elements.
type sndCtlElemList struct {
	Offset   uint32
	Space    uint32
	Used     uint32
	Count    uint32
	Pids     uintptr // *sndCtlElemId
	Reserved [50]byte
}
