// Command alsa_conformance_test verifies the correctness and performance of
// ALSA audio drivers by streaming against PCM devices and reporting timing
// statistics.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/kv2019i/cros-audiotest/alsa"
	"github.com/kv2019i/cros-audiotest/conformance"
)

func main() {
	var (
		playbackDev      string
		captureDev       string
		channels         uint
		formatStr        string
		rate             uint
		period           uint
		blockSize        uint
		durations        float64
		iterations       int
		mergeThresholdT  float64
		mergeThresholdSz int64
		deviceFile       string
		captureFile      string
		setVolume        int
		devInfoOnly      bool
		strict           bool
		debug            bool
		listDevices      bool
	)

	flag.StringVar(&playbackDev, "playback_dev", "", "PCM device for playback, e.g. hw:0,0")
	flag.StringVar(&captureDev, "capture_dev", "", "PCM device for capture, e.g. hw:0,0")
	flag.UintVar(&channels, "channels", conformance.DefaultChannels, "Channel count")
	flag.StringVar(&formatStr, "format", "S16_LE", "Sample format")
	flag.UintVar(&rate, "rate", conformance.DefaultRate, "Sample rate in Hz")
	flag.UintVar(&period, "period", conformance.DefaultPeriodSize, "Period size in frames")
	flag.UintVar(&blockSize, "block_size", conformance.DefaultBlockSize, "Frames per write or read")
	flag.Float64Var(&durations, "durations", conformance.DefaultDuration, "Seconds each iteration streams")
	flag.IntVar(&iterations, "iterations", conformance.DefaultIterations, "Number of open/stream/close cycles")
	flag.Float64Var(&mergeThresholdT, "merge_threshold_t", conformance.DefaultMergeThresholdT,
		"Merge timing points closer than this many seconds")
	flag.Int64Var(&mergeThresholdSz, "merge_threshold_sz", 0,
		"Merge timing points closer than this many frames (0 = period size)")
	flag.StringVar(&deviceFile, "device_file", "", "Load devices from a file instead of flags")
	flag.StringVar(&captureFile, "capture_file", "", "Dump captured audio to a WAV file")
	flag.IntVar(&setVolume, "set_volume", -1, "Set the volume controls of the card to this percentage before streaming")
	flag.BoolVar(&devInfoOnly, "dev_info_only", false, "Show device information without streaming")
	flag.BoolVar(&strict, "strict", false, "Demand the exact requested period size")
	flag.BoolVar(&debug, "debug", false, "Enable debug logging")
	flag.BoolVar(&listDevices, "list_devices", false, "List the PCM devices of all cards and exit")
	flag.Parse()

	logrus.SetOutput(os.Stderr)
	if debug {
		logrus.SetLevel(logrus.DebugLevel)
	}

	if listDevices {
		if err := printDeviceList(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		return
	}

	var threads []*conformance.DeviceThread

	newThread := func(name string, stream conformance.Direction) *conformance.DeviceThread {
		thread := conformance.NewDeviceThread()
		thread.SetDeviceName(name)
		thread.SetStream(stream)
		thread.SetChannels(uint32(channels))
		thread.SetRate(uint32(rate))
		thread.SetPeriodSize(uint32(period))
		thread.SetBlockSize(uint32(blockSize))
		thread.SetDuration(durations)
		thread.SetIterations(iterations)
		thread.SetMergeThreshold(mergeThresholdT)
		thread.SetMergeThresholdSize(mergeThresholdSz)
		thread.SetStrict(strict)

		if err := thread.SetFormatFromString(formatStr); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		return thread
	}

	if deviceFile != "" {
		var err error
		threads, err = parseDeviceFile(deviceFile, iterations)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	} else {
		if playbackDev != "" {
			threads = append(threads, newThread(playbackDev, conformance.Playback))
		}
		if captureDev != "" {
			capture := newThread(captureDev, conformance.Capture)
			capture.SetCaptureFile(captureFile)
			threads = append(threads, capture)
		}
	}

	if len(threads) == 0 {
		fmt.Println("No device selected.")
		flag.Usage()

		return
	}

	if devInfoOnly {
		for _, thread := range threads {
			fmt.Println("------DEVICE INFORMATION------")
			if err := showDeviceInfo(thread); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			fmt.Println("------------------------------")
		}

		return
	}

	if setVolume >= 0 {
		for _, thread := range threads {
			if err := thread.SetupVolume(setVolume); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
		}
	}

	// Interrupting the run stops the threads between blocks so partial
	// results can still be printed.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errs := make([]error, len(threads))

	var wg sync.WaitGroup
	for i, thread := range threads {
		wg.Add(1)
		go func(i int, thread *conformance.DeviceThread) {
			defer wg.Done()
			errs[i] = thread.RunIterations(ctx)
		}(i, thread)
	}
	wg.Wait()

	failed := false
	multi := len(threads) > 1
	for i, thread := range threads {
		if multi {
			fmt.Println("=============================================")
		}
		if errs[i] != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", errs[i])
			failed = true
		}
		if err := thread.PrintResult(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			failed = true
		}
		if multi {
			fmt.Println("=============================================")
		}
	}

	if failed {
		os.Exit(1)
	}
}

// showDeviceInfo opens a device just to print its capability ranges.
func showDeviceInfo(thread *conformance.DeviceThread) error {
	if err := thread.OpenDevice(); err != nil {
		return err
	}

	if err := thread.PrintDeviceInformation(); err != nil {
		_ = thread.CloseDevice()

		return err
	}

	return thread.CloseDevice()
}

// printDeviceList prints every card and its PCM devices.
func printDeviceList() error {
	cards, err := alsa.EnumerateCards()
	if err != nil {
		return err
	}

	devices, err := alsa.EnumeratePcmDevices()
	if err != nil {
		return err
	}

	for _, card := range cards {
		fmt.Printf("card %d [%s]: %s\n", card.Number, card.ID, card.Name)
		for _, dev := range devices {
			if dev.Card != card.Number {
				continue
			}

			var streams []string
			if dev.Playback {
				streams = append(streams, "playback")
			}
			if dev.Capture {
				streams = append(streams, "capture")
			}

			fmt.Printf("  %s: %s (%s)\n", dev.String(), dev.ID, strings.Join(streams, ", "))
		}
	}

	return nil
}

// parseDeviceFile loads one DeviceThread per line of a device file. Line
// format:
//
//	[name] [type] [channels] [format] [rate] [period] [block] [duration] # comment
//
// where [type] is PLAYBACK or CAPTURE. Lines with fewer fields are skipped.
func parseDeviceFile(path string, iterations int) ([]*conformance.DeviceThread, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open device file: %w", err)
	}
	defer f.Close()

	var threads []*conformance.DeviceThread

	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++

		text := scanner.Text()
		if i := strings.IndexByte(text, '#'); i >= 0 {
			text = text[:i]
		}

		fields := strings.Fields(text)
		if len(fields) < 8 {
			continue
		}

		thread := conformance.NewDeviceThread()
		thread.SetDeviceName(fields[0])

		switch fields[1] {
		case "PLAYBACK":
			thread.SetStream(conformance.Playback)
		case "CAPTURE":
			thread.SetStream(conformance.Capture)
		default:
			return nil, fmt.Errorf("%s:%d: unknown stream type %q", path, line, fields[1])
		}

		channels, err := strconv.ParseUint(fields[2], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: invalid channels: %w", path, line, err)
		}
		thread.SetChannels(uint32(channels))

		if err := thread.SetFormatFromString(fields[3]); err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, line, err)
		}

		rate, err := strconv.ParseUint(fields[4], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: invalid rate: %w", path, line, err)
		}
		thread.SetRate(uint32(rate))

		period, err := strconv.ParseUint(fields[5], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: invalid period size: %w", path, line, err)
		}
		thread.SetPeriodSize(uint32(period))

		block, err := strconv.ParseUint(fields[6], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: invalid block size: %w", path, line, err)
		}
		thread.SetBlockSize(uint32(block))

		duration, err := strconv.ParseFloat(fields[7], 64)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: invalid duration: %w", path, line, err)
		}
		thread.SetDuration(duration)

		thread.SetIterations(iterations)

		threads = append(threads, thread)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read device file: %w", err)
	}

	return threads, nil
}
