package alsa

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"
)

// Card describes a sound card registered with the kernel.
type Card struct {
	Number int
	ID     string
	Name   string
	Driver string
}

// PcmDevice describes a PCM device belonging to a card, including which
// stream directions it supports.
type PcmDevice struct {
	Card     int
	Device   int
	ID       string
	Name     string
	Playback bool
	Capture  bool
}

// String returns the "hw:C,D" name of the device.
func (d PcmDevice) String() string {
	return fmt.Sprintf("hw:%d,%d", d.Card, d.Device)
}

var (
	// " 0 [PCH            ]: HDA-Intel - HDA Intel PCH"
	cardLineRe = regexp.MustCompile(`^\s*(\d+)\s+\[(\S+)\s*\]:\s+(\S+)\s+-\s+(.*)$`)

	// "00-00: Loopback PCM : Loopback PCM : playback 8 : capture 8"
	pcmLineRe = regexp.MustCompile(`^(\d+)-(\d+):\s+([^:]*?)\s*:\s+([^:]*?)\s*((?::\s+\w+ \d+\s*)*)$`)
)

// parseCards reads the /proc/asound/cards format.
func parseCards(r io.Reader) ([]Card, error) {
	var cards []Card

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		m := cardLineRe.FindStringSubmatch(scanner.Text())
		if m == nil {
			continue
		}

		number, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}

		cards = append(cards, Card{
			Number: number,
			ID:     m[2],
			Driver: m[3],
			Name:   strings.TrimSpace(m[4]),
		})
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read card list: %w", err)
	}

	return cards, nil
}

// parsePcmDevices reads the /proc/asound/pcm format.
func parsePcmDevices(r io.Reader) ([]PcmDevice, error) {
	var devices []PcmDevice

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()

		m := pcmLineRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}

		card, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}

		device, err := strconv.Atoi(m[2])
		if err != nil {
			continue
		}

		devices = append(devices, PcmDevice{
			Card:     card,
			Device:   device,
			ID:       m[3],
			Name:     m[4],
			Playback: strings.Contains(m[5], "playback"),
			Capture:  strings.Contains(m[5], "capture"),
		})
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read PCM device list: %w", err)
	}

	return devices, nil
}

// EnumerateCards lists the sound cards known to the kernel, in card number
// order.
func EnumerateCards() ([]Card, error) {
	f, err := os.Open("/proc/asound/cards")
	if err != nil {
		return nil, fmt.Errorf("failed to open card list: %w", err)
	}
	defer f.Close()

	return parseCards(f)
}

// EnumeratePcmDevices lists all PCM devices across all cards.
func EnumeratePcmDevices() ([]PcmDevice, error) {
	f, err := os.Open("/proc/asound/pcm")
	if err != nil {
		return nil, fmt.Errorf("failed to open PCM device list: %w", err)
	}
	defer f.Close()

	return parsePcmDevices(f)
}
