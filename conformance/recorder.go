package conformance

import (
	"fmt"
	"io"
	"math"
	"time"

	"github.com/sirupsen/logrus"
)

// stepBuckets is the largest frame step tracked by the median counter.
const stepBuckets = 4096

// recorderState holds everything Add mutates, so a merge can roll the
// recorder back to the state before the previous point by a plain copy.
type recorderState struct {
	count  uint64
	frames uint64
	time   float64 // seconds of the last point

	timeSum       float64 // sum(time)
	timeSquareSum float64 // sum(time * time)
	framesSum     float64 // sum(frames)
	framesSqSum   float64 // sum(frames * frames)
	timeFramesSum float64 // sum(time * frames)
	diffSum       float64 // sum(frames - old_frames)
	diffSquareSum float64 // sum((frames - old_frames) ^ 2)

	stepMin     uint64
	stepMax     uint64
	stepCounter [stepBuckets]uint64
}

// Recorder accumulates (time, frame position) points from one streaming run
// and derives step statistics and a least-squares fit of frames over time.
//
// Two consecutive points closer than both merge thresholds are considered
// one observation: adding the second point first undoes the first one, so
// bursts of identical hardware positions produced by busy polling do not
// dominate the statistics.
type Recorder struct {
	mergeThresholdT  float64 // seconds
	mergeThresholdSz int64   // frames

	state recorderState
	prev  recorderState

	stepAverage  float64
	stepStandard float64
	stepMedian   uint64

	rate   float64
	offset float64
	err    float64
}

// NewRecorder creates a Recorder with the given merge thresholds. A
// non-positive size threshold disables frame-based merging.
func NewRecorder(mergeThresholdT float64, mergeThresholdSz int64) *Recorder {
	r := &Recorder{
		mergeThresholdT:  mergeThresholdT,
		mergeThresholdSz: mergeThresholdSz,
		rate:             -1,
		offset:           -1,
		err:              -1,
	}
	r.state.stepMin = math.MaxUint32
	r.prev.stepMin = math.MaxUint32

	return r
}

func (r *Recorder) shouldMerge(timeS float64, diff uint64) bool {
	if r.mergeThresholdSz <= 0 {
		return false
	}

	return timeS-r.state.time < r.mergeThresholdT && diff < uint64(r.mergeThresholdSz)
}

// Add records a new (time, frame position) point. It reports whether the
// point was merged with the previous one.
func (r *Recorder) Add(t time.Duration, frames uint64) bool {
	timeS := t.Seconds()

	diff := frames
	if r.state.count >= 2 {
		diff = frames - r.state.frames
	}

	merged := false
	if r.shouldMerge(timeS, diff) {
		merged = true
		r.state = r.prev
	} else {
		r.prev = r.state
	}

	r.state.count++
	r.state.timeSum += timeS
	r.state.timeSquareSum += timeS * timeS
	r.state.framesSum += float64(frames)
	r.state.framesSqSum += float64(frames) * float64(frames)
	r.state.timeFramesSum += timeS * float64(frames)

	if r.state.count >= 2 {
		diff = frames - r.state.frames
		if diff < r.state.stepMin {
			r.state.stepMin = diff
		}
		if diff > r.state.stepMax {
			r.state.stepMax = diff
		}
		r.state.diffSum += float64(diff)
		r.state.diffSquareSum += float64(diff) * float64(diff)
	}

	if diff < stepBuckets {
		r.state.stepCounter[diff]++
	} else {
		logrus.WithFields(logrus.Fields{
			"frame_diff": diff,
			"limit":      stepBuckets,
		}).Warn("frame step too large for median counter")
	}

	r.state.frames = frames
	r.state.time = timeS

	return merged
}

// Count returns the number of recorded points after merging.
func (r *Recorder) Count() uint64 {
	return r.state.count
}

// Compute derives the step statistics, the step median and the linear
// regression from the recorded points. It needs at least two points.
func (r *Recorder) Compute() error {
	if r.state.count <= 1 {
		return fmt.Errorf("cannot compute statistics from %d points", r.state.count)
	}

	n := float64(r.state.count)

	r.stepAverage = r.state.diffSum / (n - 1)
	r.stepStandard = math.Sqrt(r.state.diffSquareSum/(n-1) - r.stepAverage*r.stepAverage)

	// Median from the bucket counter: walk buckets until half the points
	// are consumed. Steps beyond the last bucket are not counted, so the
	// walk saturates at the top bucket instead of running off the array.
	cnt := int64(r.state.count / 2)
	i := 0
	for cnt > 0 && i < stepBuckets {
		cnt -= int64(r.state.stepCounter[i])
		i++
	}
	if cnt > 0 {
		r.stepMedian = stepBuckets
	} else {
		r.stepMedian = uint64(i - 1)
	}

	// Least squares fit frames = rate * time + offset.
	timeAverage := r.state.timeSum / n
	rate := r.state.timeFramesSum - timeAverage*r.state.framesSum
	rate /= r.state.timeSquareSum - timeAverage*r.state.timeSum
	offset := r.state.framesSum/n - timeAverage*rate

	// Root mean square of the residuals.
	tmp1 := r.state.framesSqSum
	tmp2 := offset*r.state.framesSum + rate*r.state.timeFramesSum
	tmp3 := offset*offset*n + 2*offset*rate*r.state.timeSum + rate*rate*r.state.timeSquareSum

	r.rate = rate
	r.offset = offset
	r.err = math.Sqrt((tmp1 - 2*tmp2 + tmp3) / n)

	return nil
}

// StepMin returns the smallest observed frame step.
func (r *Recorder) StepMin() uint64 { return r.state.stepMin }

// StepMax returns the largest observed frame step.
func (r *Recorder) StepMax() uint64 { return r.state.stepMax }

// StepAverage returns the mean frame step. Valid after Compute.
func (r *Recorder) StepAverage() float64 { return r.stepAverage }

// StepStandard returns the standard deviation of the frame steps. Valid
// after Compute.
func (r *Recorder) StepStandard() float64 { return r.stepStandard }

// StepMedian returns the median frame step. Valid after Compute.
func (r *Recorder) StepMedian() uint64 { return r.stepMedian }

// Rate returns the measured sample rate from the regression. Valid after
// Compute.
func (r *Recorder) Rate() float64 { return r.rate }

// Offset returns the frame offset at time zero from the regression. Valid
// after Compute.
func (r *Recorder) Offset() float64 { return r.offset }

// RMSError returns the root mean square of the regression residuals. Valid
// after Compute.
func (r *Recorder) RMSError() float64 { return r.err }

// RecorderList aggregates the recorders of all iterations of a run.
type RecorderList struct {
	recorders []*Recorder
}

// Add appends a finished recorder to the list.
func (l *RecorderList) Add(r *Recorder) {
	l.recorders = append(l.recorders, r)
}

// Len returns the number of recorders in the list.
func (l *RecorderList) Len() int {
	return len(l.recorders)
}

// PrintResult computes the statistics of every recorder and writes the
// aggregate report. A single-iteration run prints per-run detail, multiple
// iterations print averages with min/max spreads.
func (l *RecorderList) PrintResult(w io.Writer) error {
	if len(l.recorders) == 0 {
		fmt.Fprintln(w, "No record found.")

		return nil
	}

	var (
		rate, rateMin, rateMax float64
		err, errMin, errMax    float64
		step                   float64
		stepMin                uint64 = math.MaxUint32
		stepMax                uint64
		points                 uint64
	)

	for i, r := range l.recorders {
		if cerr := r.Compute(); cerr != nil {
			return cerr
		}

		points += r.Count()
		step += r.StepAverage()
		rate += r.Rate()
		err += r.RMSError()

		if i == 0 {
			stepMin, stepMax = r.StepMin(), r.StepMax()
			rateMin, rateMax = r.Rate(), r.Rate()
			errMin, errMax = r.RMSError(), r.RMSError()

			continue
		}

		stepMin = min(stepMin, r.StepMin())
		stepMax = max(stepMax, r.StepMax())
		rateMin = min(rateMin, r.Rate())
		rateMax = max(rateMax, r.Rate())
		errMin = min(errMin, r.RMSError())
		errMax = max(errMax, r.RMSError())
	}

	n := float64(len(l.recorders))

	fmt.Fprintf(w, "number of recorders: %d\n", len(l.recorders))
	fmt.Fprintf(w, "number of points: %d\n", points)

	if len(l.recorders) == 1 {
		r := l.recorders[0]
		fmt.Fprintf(w, "step average: %f\n", step)
		fmt.Fprintf(w, "step min: %d\n", stepMin)
		fmt.Fprintf(w, "step max: %d\n", stepMax)
		fmt.Fprintf(w, "step median: %d\n", r.StepMedian())
		fmt.Fprintf(w, "step standard deviation: %f\n", r.StepStandard())
		fmt.Fprintf(w, "rate: %f\n", rate)
		fmt.Fprintf(w, "rate error: %f\n", err)
	} else {
		fmt.Fprintf(w, "step average: %f\n", step/n)
		fmt.Fprintf(w, "step min: %d\n", stepMin)
		fmt.Fprintf(w, "step max: %d\n", stepMax)
		fmt.Fprintf(w, "rate average: %f\n", rate/n)
		fmt.Fprintf(w, "rate min: %f\n", rateMin)
		fmt.Fprintf(w, "rate max: %f\n", rateMax)
		fmt.Fprintf(w, "rate error average: %f\n", err/n)
		fmt.Fprintf(w, "rate error min: %f\n", errMin)
		fmt.Fprintf(w, "rate error max: %f\n", errMax)
	}

	return nil
}
