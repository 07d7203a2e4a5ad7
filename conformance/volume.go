package conformance

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/kv2019i/cros-audiotest/alsa"
)

// Simple mixer element names commonly controlling stream volume, matched
// against the card's raw volume controls.
var (
	playbackVolumeNames = []string{
		"Headphone", "Headset", "Headset Earphone", "Speaker",
		"PCM", "Master", "Digital", "Speaker Volume",
	}

	captureVolumeNames = []string{
		"Capture", "Digital Capture", "Mic", "Microphone",
		"Headset", "Mic Volume",
	}
)

// cardFromDeviceName extracts the card number from a "hw:C,D" device name.
func cardFromDeviceName(name string) (uint, error) {
	if !strings.HasPrefix(name, "hw:") {
		return 0, fmt.Errorf("invalid device name %q: missing 'hw:' prefix", name)
	}

	cardStr, _, _ := strings.Cut(strings.TrimPrefix(name, "hw:"), ",")
	card, err := strconv.ParseUint(cardStr, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid card number in %q: %w", name, err)
	}

	return uint(card), nil
}

// volumeControlNames returns the raw control element names to try for a
// stream direction, e.g. "Master Playback Volume" for the "Master" element.
func volumeControlNames(stream Direction) []string {
	var names []string

	switch stream {
	case Playback:
		for _, n := range playbackVolumeNames {
			names = append(names, n+" Playback Volume")
		}
	case Capture:
		for _, n := range captureVolumeNames {
			names = append(names, n+" Capture Volume")
		}
		// Plain capture control of USB headsets.
		names = append(names, "Capture Volume")
	}

	return names
}

// SetupVolume sets every known volume control of the device's card for the
// given stream direction to a percentage of its range. It fails when the
// card exposes no matching integer control.
func SetupVolume(deviceName string, stream Direction, percent int) error {
	card, err := cardFromDeviceName(deviceName)
	if err != nil {
		return err
	}

	mixer, err := alsa.MixerOpen(card)
	if err != nil {
		return fmt.Errorf("failed to open mixer of %s: %w", deviceName, err)
	}
	defer mixer.Close()

	applied := 0
	for _, name := range volumeControlNames(stream) {
		ctl := mixer.CtlByName(name)
		if ctl == nil || ctl.Type() != alsa.SNDRV_CTL_ELEM_TYPE_INTEGER {
			continue
		}

		if err := ctl.SetPercent(percent); err != nil {
			return fmt.Errorf("failed to set %q: %w", name, err)
		}

		logrus.WithFields(logrus.Fields{
			"card":    card,
			"control": name,
			"percent": percent,
		}).Debug("volume control set")
		applied++
	}

	if applied == 0 {
		return fmt.Errorf("no %v volume control found on card %d", stream, card)
	}

	return nil
}
