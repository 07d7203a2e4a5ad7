package alsa

import (
	"fmt"
	"strings"
	"unsafe"
)

func paramIsMask(param PcmParam) bool {
	return param >= SNDRV_PCM_HW_PARAM_ACCESS && param <= SNDRV_PCM_HW_PARAM_SUBFORMAT
}

func paramIsInterval(param PcmParam) bool {
	return param >= SNDRV_PCM_HW_PARAM_SAMPLE_BITS && param <= SNDRV_PCM_HW_PARAM_TICK_TIME
}

func paramToMask(p *sndPcmHwParams, param PcmParam) *sndMask {
	return &p.Masks[param-SNDRV_PCM_HW_PARAM_ACCESS]
}

func paramToInterval(p *sndPcmHwParams, param PcmParam) *sndInterval {
	return &p.Intervals[param-SNDRV_PCM_HW_PARAM_SAMPLE_BITS]
}

// paramInit fills the hw_params struct so that every parameter is left fully
// open, letting the driver refine each one.
func paramInit(p *sndPcmHwParams) {
	for n := range p.Masks {
		for i := range p.Masks[n].Bits {
			p.Masks[n].Bits[i] = ^uint32(0)
		}
	}

	for n := range p.Intervals {
		p.Intervals[n].MinVal = 0
		p.Intervals[n].MaxVal = ^uint32(0)
		p.Intervals[n].Flags = 0
	}

	p.Rmask = ^uint32(0)
	p.Cmask = 0
	p.Info = ^uint32(0)
}

// paramSetMask restricts a mask parameter to a single bit value.
func paramSetMask(p *sndPcmHwParams, param PcmParam, bit uint32) {
	if !paramIsMask(param) || bit >= 256 {
		return
	}

	m := paramToMask(p, param)
	for i := range m.Bits {
		m.Bits[i] = 0
	}
	m.Bits[bit>>5] |= 1 << (bit & 31)
}

// paramSetInt restricts an interval parameter to an exact value.
func paramSetInt(p *sndPcmHwParams, param PcmParam, val uint32) {
	if !paramIsInterval(param) {
		return
	}

	i := paramToInterval(p, param)
	i.MinVal = val
	i.MaxVal = val
	i.Flags = SNDRV_PCM_INTERVAL_INTEGER
}

// paramSetMin restricts an interval parameter to a lower bound.
func paramSetMin(p *sndPcmHwParams, param PcmParam, val uint32) {
	if !paramIsInterval(param) {
		return
	}

	paramToInterval(p, param).MinVal = val
}

// paramGetInt reads back the (refined) value of an interval parameter.
func paramGetInt(p *sndPcmHwParams, param PcmParam) uint32 {
	if !paramIsInterval(param) {
		return 0
	}

	return paramToInterval(p, param).MinVal
}

// PcmParams holds the refined hardware capabilities of a PCM device, as
// reported by the driver before any configuration is committed.
type PcmParams struct {
	hw sndPcmHwParams
}

// Params queries the capability ranges of an open PCM device. The device
// configuration is not modified.
func (p *PCM) Params() (*PcmParams, error) {
	if !p.IsReady() {
		return nil, fmt.Errorf("PCM handle is not valid")
	}

	params := &PcmParams{}
	paramInit(&params.hw)

	if err := ioctl(p.file.Fd(), SNDRV_PCM_IOCTL_HW_REFINE, uintptr(unsafe.Pointer(&params.hw))); err != nil {
		return nil, fmt.Errorf("ioctl HW_REFINE failed: %w", err)
	}

	return params, nil
}

// PcmParamsGet opens a PCM device just long enough to query its capability
// ranges, then closes it again.
func PcmParamsGet(card, device uint, flags PcmFlag) (*PcmParams, error) {
	pcm, err := PcmOpen(card, device, flags|PCM_NONBLOCK, nil)
	if err != nil {
		return nil, err
	}
	defer pcm.Close()

	return pcm.Params()
}

// RangeMin returns the minimum value of an interval parameter.
func (pp *PcmParams) RangeMin(param PcmParam) uint32 {
	if !paramIsInterval(param) {
		return 0
	}

	return paramToInterval(&pp.hw, param).MinVal
}

// RangeMax returns the maximum value of an interval parameter.
func (pp *PcmParams) RangeMax(param PcmParam) uint32 {
	if !paramIsInterval(param) {
		return 0
	}

	return paramToInterval(&pp.hw, param).MaxVal
}

// Mask returns the bitmask of a mask parameter, or nil if param is not a
// mask parameter.
func (pp *PcmParams) Mask(param PcmParam) *PcmParamMask {
	if !paramIsMask(param) {
		return nil
	}

	return (*PcmParamMask)(unsafe.Pointer(paramToMask(&pp.hw, param)))
}

// FormatIsSupported reports whether the device can be configured with the
// given sample format.
func (pp *PcmParams) FormatIsSupported(format PcmFormat) bool {
	m := pp.Mask(SNDRV_PCM_HW_PARAM_FORMAT)
	if m == nil || format < 0 {
		return false
	}

	return m.Test(uint(format))
}

// SupportedFormats returns the device's supported sample formats, limited to
// the formats this package knows by name.
func (pp *PcmParams) SupportedFormats() []PcmFormat {
	var formats []PcmFormat
	for _, f := range SupportedFormats() {
		if pp.FormatIsSupported(f) {
			formats = append(formats, f)
		}
	}

	return formats
}

// String formats the capability ranges the way alsa-lib dumps hw_params.
func (pp *PcmParams) String() string {
	var sb strings.Builder

	if m := pp.Mask(SNDRV_PCM_HW_PARAM_ACCESS); m != nil {
		sb.WriteString("        Access:\t")
		for bit, name := range PcmParamAccessNames {
			if m.Test(uint(bit)) {
				sb.WriteString(" " + name)
			}
		}
		sb.WriteString("\n")
	}

	sb.WriteString("        Format:\t")
	for _, f := range pp.SupportedFormats() {
		sb.WriteString(" " + f.String())
	}
	sb.WriteString("\n")

	intervalLine := func(name string, param PcmParam, unit string) {
		fmt.Fprintf(&sb, "        %s:\tmin=%d\tmax=%d\t%s\n",
			name, pp.RangeMin(param), pp.RangeMax(param), unit)
	}

	intervalLine("Channels", SNDRV_PCM_HW_PARAM_CHANNELS, "")
	intervalLine("Rate", SNDRV_PCM_HW_PARAM_RATE, "Hz")
	intervalLine("Sample bits", SNDRV_PCM_HW_PARAM_SAMPLE_BITS, "")
	intervalLine("Period size", SNDRV_PCM_HW_PARAM_PERIOD_SIZE, "frames")
	intervalLine("Period count", SNDRV_PCM_HW_PARAM_PERIODS, "periods")
	intervalLine("Buffer size", SNDRV_PCM_HW_PARAM_BUFFER_SIZE, "frames")

	return sb.String()
}
