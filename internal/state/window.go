package state

import (
	"math"
	"time"

	"gonum.org/v1/gonum/stat"
)

// PressureSample is one relative-pressure reading in the rolling window.
type PressureSample struct {
	At  time.Time `msgpack:"at"`
	HPa float64   `msgpack:"hpa"`
}

// PressureWindow keeps the trailing three hours of relative pressure,
// capacity-bounded by the send interval.  Oldest sample is evicted on
// overflow.
type PressureWindow struct {
	samples []PressureSample
	cap     int
}

// NewPressureWindow sizes the window for a send interval in seconds.
func NewPressureWindow(intervalSeconds int) *PressureWindow {
	if intervalSeconds <= 0 {
		intervalSeconds = 60
	}
	c := int(math.Ceil(3 * 3600 / float64(intervalSeconds)))
	return &PressureWindow{cap: c}
}

// Cap returns the window capacity.
func (w *PressureWindow) Cap() int { return w.cap }

// Len returns the number of held samples.
func (w *PressureWindow) Len() int { return len(w.samples) }

// Append adds a sample, evicting the oldest when full.
func (w *PressureWindow) Append(at time.Time, hpa float64) {
	w.samples = append(w.samples, PressureSample{At: at, HPa: hpa})
	if len(w.samples) > w.cap {
		w.samples = w.samples[1:]
	}
}

// Samples returns a copy of the held samples, oldest first.
func (w *PressureWindow) Samples() []PressureSample {
	out := make([]PressureSample, len(w.samples))
	copy(out, w.samples)
	return out
}

// Restore replaces the window contents from a snapshot, trimming to
// capacity from the oldest end.
func (w *PressureWindow) Restore(samples []PressureSample) {
	if len(samples) > w.cap {
		samples = samples[len(samples)-w.cap:]
	}
	w.samples = append([]PressureSample(nil), samples...)
}

// Delta returns the pressure change between the newest sample and the
// oldest sample no older than span.  The second return is false when the
// window does not yet reach back far enough to cover span within one
// send interval of slack.
func (w *PressureWindow) Delta(span time.Duration, slack time.Duration) (float64, bool) {
	if len(w.samples) < 2 {
		return 0, false
	}
	newest := w.samples[len(w.samples)-1]
	cutoff := newest.At.Add(-span)
	for _, s := range w.samples {
		if !s.At.Before(cutoff) {
			if newest.At.Sub(s.At) < span-slack {
				return 0, false
			}
			return newest.HPa - s.HPa, true
		}
	}
	return 0, false
}

// Majority counts how many samples within span sit above and below the
// oldest sample in that span.
func (w *PressureWindow) Majority(span time.Duration) (above, below int) {
	if len(w.samples) == 0 {
		return 0, 0
	}
	cutoff := w.samples[len(w.samples)-1].At.Add(-span)
	var first float64
	started := false
	for _, s := range w.samples {
		if s.At.Before(cutoff) {
			continue
		}
		if !started {
			first = s.HPa
			started = true
			continue
		}
		if s.HPa > first {
			above++
		} else if s.HPa < first {
			below++
		}
	}
	return above, below
}

// WindSample is one wind reading in the ten-minute window.
type WindSample struct {
	At       time.Time `msgpack:"at"`
	SpeedMph float64   `msgpack:"speed"`
	Dir      float64   `msgpack:"dir"`
	GustMph  float64   `msgpack:"gust"`
}

// WindWindow keeps the trailing ten minutes of wind readings for the
// average and gust-maximum fields.
type WindWindow struct {
	samples []WindSample
	span    time.Duration
}

// NewWindWindow creates a window covering the trailing ten minutes.
func NewWindWindow() *WindWindow {
	return &WindWindow{span: 10 * time.Minute}
}

// Append adds a reading and drops samples older than the span.
func (w *WindWindow) Append(at time.Time, speedMph, dir, gustMph float64) {
	w.samples = append(w.samples, WindSample{At: at, SpeedMph: speedMph, Dir: dir, GustMph: gustMph})
	cutoff := at.Add(-w.span)
	for len(w.samples) > 0 && w.samples[0].At.Before(cutoff) {
		w.samples = w.samples[1:]
	}
}

// Samples returns a copy of the held samples, oldest first.
func (w *WindWindow) Samples() []WindSample {
	out := make([]WindSample, len(w.samples))
	copy(out, w.samples)
	return out
}

// Restore replaces the window contents from a snapshot.
func (w *WindWindow) Restore(samples []WindSample) {
	w.samples = append([]WindSample(nil), samples...)
}

// Stats returns the mean speed, circular mean direction and maximum gust
// over the window.  ok is false when the window is empty.
func (w *WindWindow) Stats() (avgMph, avgDir, maxGustMph float64, ok bool) {
	if len(w.samples) == 0 {
		return 0, 0, 0, false
	}
	speeds := make([]float64, len(w.samples))
	dirs := make([]float64, len(w.samples))
	for i, s := range w.samples {
		speeds[i] = s.SpeedMph
		dirs[i] = s.Dir * math.Pi / 180
		if s.GustMph > maxGustMph {
			maxGustMph = s.GustMph
		}
	}
	avgMph = stat.Mean(speeds, nil)
	avgDir = stat.CircularMean(dirs, nil) * 180 / math.Pi
	if avgDir < 0 {
		avgDir += 360
	}
	return avgMph, avgDir, maxGustMph, true
}
