// Package conformance implements a conformance-test worker for ALSA PCM
// devices. A DeviceThread opens a device, negotiates parameters, streams
// audio for a configured duration over N iterations and records timing
// statistics about hardware pointer movement and per-call latency.
package conformance

import (
	"fmt"
	"io"
	"time"

	"golang.org/x/sys/unix"
)

// PcmOp identifies a PCM API call measured by the Timer.
type PcmOp int

const (
	OpPcmOpen PcmOp = iota
	OpSetConfig
	OpPrepare
	OpStart
	OpAvail
	OpWrite
	OpRead
	OpStop
	OpClose

	opCount
)

var opNames = [opCount]string{
	"pcm_open",
	"set_config",
	"prepare",
	"start",
	"avail",
	"write",
	"read",
	"stop",
	"close",
}

// String returns the lower-case API name the result table uses.
func (op PcmOp) String() string {
	if op < 0 || op >= opCount {
		return "unknown"
	}

	return opNames[op]
}

type opTimer struct {
	total   time.Duration
	started time.Duration
	running bool
	calls   uint64
}

// Timer accumulates wall-clock time spent inside each PCM API call, using
// CLOCK_MONOTONIC_RAW so NTP adjustments cannot skew the measurement.
//
// A Timer belongs to a single DeviceThread and is not safe for concurrent
// use.
type Timer struct {
	ops     [opCount]opTimer
	enabled bool
	now     func() time.Duration
}

// rawNow reads CLOCK_MONOTONIC_RAW as a duration since an arbitrary epoch.
func rawNow() time.Duration {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC_RAW, &ts); err != nil {
		// The raw clock exists on every kernel this tool targets.
		panic(fmt.Sprintf("clock_gettime(CLOCK_MONOTONIC_RAW): %v", err))
	}

	return time.Duration(ts.Nano())
}

// NewTimer returns an enabled Timer backed by CLOCK_MONOTONIC_RAW.
func NewTimer() *Timer {
	return &Timer{enabled: true, now: rawNow}
}

// Enable turns measurement on.
func (t *Timer) Enable() {
	t.enabled = true
}

// Disable turns measurement off; Start/Stop/Measure become no-ops.
func (t *Timer) Disable() {
	t.enabled = false
}

// Start begins timing one call of the given API.
func (t *Timer) Start(op PcmOp) {
	if !t.enabled {
		return
	}

	ot := &t.ops[op]
	if ot.running {
		panic(fmt.Sprintf("timer for %v started twice", op))
	}
	ot.running = true
	ot.started = t.now()
}

// Stop ends timing one call of the given API and accumulates the elapsed
// time.
func (t *Timer) Stop(op PcmOp) {
	if !t.enabled {
		return
	}

	end := t.now()
	ot := &t.ops[op]
	if !ot.running {
		panic(fmt.Sprintf("timer for %v stopped without start", op))
	}
	ot.running = false
	ot.calls++
	ot.total += end - ot.started
}

// Measure runs fn with the given API timed around it.
func (t *Timer) Measure(op PcmOp, fn func() error) error {
	t.Start(op)
	err := fn()
	t.Stop(op)

	return err
}

// Total returns the accumulated time spent in an API.
func (t *Timer) Total(op PcmOp) time.Duration {
	return t.ops[op].total
}

// Calls returns the number of measured calls of an API.
func (t *Timer) Calls(op PcmOp) uint64 {
	return t.ops[op].calls
}

// PrintResult writes the per-API timing table, one row per PCM call type,
// followed by the clock precision.
func (t *Timer) PrintResult(w io.Writer) {
	fmt.Fprintf(w, "%-25s %20s %20s %20s\n", "", "Total_time(s)", "Counts", "Averages(s)")

	for op := PcmOp(0); op < opCount; op++ {
		ot := &t.ops[op]

		average := -1.0
		if ot.calls > 0 {
			average = ot.total.Seconds() / float64(ot.calls)
		}

		fmt.Fprintf(w, "%-25s %20.9f %20d %20f\n", op.String(), ot.total.Seconds(), ot.calls, average)
	}

	var res unix.Timespec
	if err := unix.ClockGetres(unix.CLOCK_MONOTONIC_RAW, &res); err == nil {
		fmt.Fprintf(w, "precision: %d.%09d\n", res.Sec, res.Nsec)
	}
}
