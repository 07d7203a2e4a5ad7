package alsa_test

import (
	"fmt"
	"os"
	"strings"
	"testing"
)

// loopbackCard holds the dynamically found card number of the snd-aloop
// loopback device, or -1 if the module is not loaded.
var loopbackCard = -1

// findCard searches /proc/asound/cards for the passed device name and returns its card number. Returns -1 if not found.
func findCard(name string) int {
	content, err := os.ReadFile("/proc/asound/cards")
	if err != nil {
		return -1
	}

	for _, line := range strings.Split(string(content), "\n") {
		if strings.Contains(line, name) {
			var card int
			// The format is " 0 [Loopback       ]: Loopback - Loopback"
			_, err := fmt.Sscanf(line, " %d", &card)
			if err == nil {
				return card
			}
		}
	}

	return -1
}

func TestMain(m *testing.M) {
	loopbackCard = findCard("Loopback")
	if loopbackCard == -1 {
		fmt.Println("ALSA loopback device not found, hardware tests will be skipped.")
		fmt.Println("To enable them run: sudo modprobe snd-aloop")
	}

	os.Exit(m.Run())
}

// requireLoopback skips a test when the snd-aloop device is not available.
func requireLoopback(t *testing.T) int {
	t.Helper()

	if loopbackCard == -1 {
		t.Skip("snd-aloop not loaded")
	}

	return loopbackCard
}
