package alsa

import (
	"bytes"
	"fmt"
	"os"
	"unsafe"
)

// cstr converts a NUL-terminated byte array to a Go string.
func cstr(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		return string(b[:i])
	}

	return string(b)
}

// Mixer provides access to the control elements of a sound card through its
// /dev/snd/controlC* device.
type Mixer struct {
	file     *os.File
	card     uint
	cardInfo sndCtlCardInfo
	ctls     []*MixerCtl
}

// MixerCtl represents a single control element of a mixer.
type MixerCtl struct {
	mixer *Mixer
	info  sndCtlElemInfo
}

// MixerOpen opens the control device of the given card and enumerates all of
// its control elements.
func MixerOpen(card uint) (*Mixer, error) {
	path := fmt.Sprintf("/dev/snd/controlC%d", card)

	file, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open control device %s: %w", path, err)
	}

	m := &Mixer{file: file, card: card}

	if err := ioctl(file.Fd(), SNDRV_CTL_IOCTL_CARD_INFO, uintptr(unsafe.Pointer(&m.cardInfo))); err != nil {
		_ = file.Close()

		return nil, fmt.Errorf("ioctl CARD_INFO failed: %w", err)
	}

	if err := m.loadElements(); err != nil {
		_ = file.Close()

		return nil, err
	}

	return m, nil
}

// loadElements enumerates the card's control elements. The ELEM_LIST ioctl
// is called twice: once to learn the count, once to fetch the IDs.
func (m *Mixer) loadElements() error {
	var list sndCtlElemList
	if err := ioctl(m.file.Fd(), SNDRV_CTL_IOCTL_ELEM_LIST, uintptr(unsafe.Pointer(&list))); err != nil {
		return fmt.Errorf("ioctl ELEM_LIST (count) failed: %w", err)
	}

	if list.Count == 0 {
		return nil
	}

	ids := make([]sndCtlElemId, list.Count)
	list.Space = list.Count
	list.Pids = uintptr(unsafe.Pointer(&ids[0]))

	if err := ioctl(m.file.Fd(), SNDRV_CTL_IOCTL_ELEM_LIST, uintptr(unsafe.Pointer(&list))); err != nil {
		return fmt.Errorf("ioctl ELEM_LIST failed: %w", err)
	}

	m.ctls = make([]*MixerCtl, 0, list.Used)
	for i := uint32(0); i < list.Used; i++ {
		ctl := &MixerCtl{mixer: m}
		ctl.info.Id = ids[i]

		if err := ioctl(m.file.Fd(), SNDRV_CTL_IOCTL_ELEM_INFO, uintptr(unsafe.Pointer(&ctl.info))); err != nil {
			return fmt.Errorf("ioctl ELEM_INFO for %q failed: %w", cstr(ids[i].Name[:]), err)
		}

		m.ctls = append(m.ctls, ctl)
	}

	return nil
}

// Close closes the mixer's control device.
func (m *Mixer) Close() error {
	if m == nil || m.file == nil {
		return nil
	}

	err := m.file.Close()
	m.file = nil
	m.ctls = nil

	return err
}

// CardName returns the name of the sound card.
func (m *Mixer) CardName() string {
	return cstr(m.cardInfo.Name[:])
}

// MixerName returns the name of the card's mixer.
func (m *Mixer) MixerName() string {
	return cstr(m.cardInfo.Mixername[:])
}

// Ctls returns all control elements of the mixer.
func (m *Mixer) Ctls() []*MixerCtl {
	return m.ctls
}

// CtlByName returns the first control element with the given name, or nil if
// no such element exists.
func (m *Mixer) CtlByName(name string) *MixerCtl {
	for _, ctl := range m.ctls {
		if ctl.Name() == name {
			return ctl
		}
	}

	return nil
}

// ID returns the numeric identifier of the control element.
func (c *MixerCtl) ID() uint32 {
	return c.info.Id.Numid
}

// Name returns the name of the control element.
func (c *MixerCtl) Name() string {
	return cstr(c.info.Id.Name[:])
}

// Type returns the value type of the control element.
func (c *MixerCtl) Type() MixerCtlType {
	return MixerCtlType(c.info.Typ)
}

// NumValues returns the number of values the control element holds,
// typically one per channel.
func (c *MixerCtl) NumValues() uint32 {
	return c.info.Count
}

// RangeMin returns the minimum value of an INTEGER control.
func (c *MixerCtl) RangeMin() int {
	if c.Type() != SNDRV_CTL_ELEM_TYPE_INTEGER {
		return 0
	}

	return int((*ctlElemInteger)(unsafe.Pointer(&c.info.Value[0])).Min)
}

// RangeMax returns the maximum value of an INTEGER control.
func (c *MixerCtl) RangeMax() int {
	if c.Type() != SNDRV_CTL_ELEM_TYPE_INTEGER {
		return 0
	}

	return int((*ctlElemInteger)(unsafe.Pointer(&c.info.Value[0])).Max)
}

func (c *MixerCtl) read() (*sndCtlElemValue, error) {
	ev := &sndCtlElemValue{}
	ev.Id = c.info.Id

	if err := ioctl(c.mixer.file.Fd(), SNDRV_CTL_IOCTL_ELEM_READ, uintptr(unsafe.Pointer(ev))); err != nil {
		return nil, fmt.Errorf("ioctl ELEM_READ for %q failed: %w", c.Name(), err)
	}

	return ev, nil
}

func (c *MixerCtl) write(ev *sndCtlElemValue) error {
	if err := ioctl(c.mixer.file.Fd(), SNDRV_CTL_IOCTL_ELEM_WRITE, uintptr(unsafe.Pointer(ev))); err != nil {
		return fmt.Errorf("ioctl ELEM_WRITE for %q failed: %w", c.Name(), err)
	}

	return nil
}

// Value returns the value with the given index of the control element.
func (c *MixerCtl) Value(idx uint32) (int, error) {
	if idx >= c.NumValues() {
		return 0, fmt.Errorf("value index %d out of range for %q (count %d)", idx, c.Name(), c.NumValues())
	}

	ev, err := c.read()
	if err != nil {
		return 0, err
	}

	switch c.Type() {
	case SNDRV_CTL_ELEM_TYPE_BOOLEAN, SNDRV_CTL_ELEM_TYPE_INTEGER:
		return int((*[128]clong)(unsafe.Pointer(&ev.Value[0]))[idx]), nil
	case SNDRV_CTL_ELEM_TYPE_ENUMERATED:
		return int((*[128]uint32)(unsafe.Pointer(&ev.Value[0]))[idx]), nil
	case SNDRV_CTL_ELEM_TYPE_BYTES:
		return int(ev.Value[idx]), nil
	default:
		return 0, fmt.Errorf("unsupported control type %d for %q", c.Type(), c.Name())
	}
}

// SetValue sets the value with the given index of the control element. All
// other value slots are preserved.
func (c *MixerCtl) SetValue(idx uint32, value int) error {
	if idx >= c.NumValues() {
		return fmt.Errorf("value index %d out of range for %q (count %d)", idx, c.Name(), c.NumValues())
	}

	ev, err := c.read()
	if err != nil {
		return err
	}

	switch c.Type() {
	case SNDRV_CTL_ELEM_TYPE_BOOLEAN, SNDRV_CTL_ELEM_TYPE_INTEGER:
		(*[128]clong)(unsafe.Pointer(&ev.Value[0]))[idx] = clong(value)
	case SNDRV_CTL_ELEM_TYPE_ENUMERATED:
		(*[128]uint32)(unsafe.Pointer(&ev.Value[0]))[idx] = uint32(value)
	case SNDRV_CTL_ELEM_TYPE_BYTES:
		ev.Value[idx] = byte(value)
	default:
		return fmt.Errorf("unsupported control type %d for %q", c.Type(), c.Name())
	}

	return c.write(ev)
}

// Percent returns the value of an INTEGER control scaled to 0-100.
func (c *MixerCtl) Percent(idx uint32) (int, error) {
	v, err := c.Value(idx)
	if err != nil {
		return 0, err
	}

	min, max := c.RangeMin(), c.RangeMax()
	if max <= min {
		return 0, fmt.Errorf("control %q has an empty range", c.Name())
	}

	return (v - min) * 100 / (max - min), nil
}

// SetPercent sets the value of an INTEGER control from a 0-100 scale,
// applied to every value slot of the element.
func (c *MixerCtl) SetPercent(percent int) error {
	if c.Type() != SNDRV_CTL_ELEM_TYPE_INTEGER {
		return fmt.Errorf("control %q is not an integer control", c.Name())
	}

	if percent < 0 {
		percent = 0
	} else if percent > 100 {
		percent = 100
	}

	min, max := c.RangeMin(), c.RangeMax()
	if max <= min {
		return fmt.Errorf("control %q has an empty range", c.Name())
	}

	value := min + (max-min)*percent/100

	for idx := uint32(0); idx < c.NumValues(); idx++ {
		if err := c.SetValue(idx, value); err != nil {
			return err
		}
	}

	return nil
}
