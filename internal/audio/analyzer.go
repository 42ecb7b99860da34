package audio

import (
	"math"
	"time"

	"blaulicht/internal/logger"
)

const (
	BassFrames       = 10000
	BassPeakFrames   = 800
	BeatVolumeFrames = 100
	VolumeFrames     = BeatVolumeFrames / 2

	DefaultBassModifier    = 65
	DefaultPublishInterval = 50 * time.Millisecond

	peakFloor     = 30.0
	peakDebounce  = 300 * time.Millisecond
	minBpm        = 90.0
	maxBpm        = 200.0
	shortHold     = 100 * time.Millisecond
	shortFloor    = 40.0
	noPeakElapsed = 10000 * time.Millisecond
)

// Analyzer consumes spectrum frames. Every frame updates the Collector;
// publication on the signal channel is throttled per family.
type Analyzer struct {
	log       *logger.Log
	out       chan<- Signal
	collector *Collector

	modifier float64
	interval time.Duration

	volumeSamples *ring
	bassSamples   *ring
	beatSamples   *ring
	peaks         []time.Time
	lastBeatIndex uint8

	lastVolumePublish time.Time
	lastBassPublish   time.Time
	lastBeatPublish   time.Time
}

// NewAnalyzer creates an analyzer. modifier is the peak threshold in percent,
// out may be nil when only the Collector is of interest.
func NewAnalyzer(log logger.Logger, out chan<- Signal, collector *Collector, modifier uint8, interval time.Duration) *Analyzer {
	if modifier == 0 {
		modifier = DefaultBassModifier
	}
	if interval <= 0 {
		interval = DefaultPublishInterval
	}
	return &Analyzer{
		log:           log.With(logger.Fields{"module": "analyzer"}),
		out:           out,
		collector:     collector,
		modifier:      float64(modifier) / 100,
		interval:      interval,
		volumeSamples: newRing(VolumeFrames),
		bassSamples:   newRing(BassFrames),
		beatSamples:   newRing(BeatVolumeFrames),
		peaks:         make([]time.Time, 0, BassPeakFrames),
	}
}

// Collector returns the latest-value collector fed by this analyzer.
func (a *Analyzer) Collector() *Collector { return a.collector }

// Process analyzes one frame captured at now. Empty frames are ignored.
func (a *Analyzer) Process(now time.Time, bins []Frequency) {
	if len(bins) == 0 {
		return
	}
	maxBin := float64(bins[0].Volume)
	var sum float64
	for _, b := range bins {
		v := float64(b.Volume)
		sum += v
		if v > maxBin {
			maxBin = v
		}
	}

	a.volume(now, maxBin)
	a.bass(now, sum/float64(len(bins)))
	a.beatVolume(now, maxBin)
}

func (a *Analyzer) volume(now time.Time, maxBin float64) {
	a.volumeSamples.push(maxBin)
	a.emit(now, &a.lastVolumePublish, Volume(sat8(a.volumeSamples.mean()*10)))
}

func (a *Analyzer) bass(now time.Time, mean float64) {
	sig := sat8(mean * 100)

	a.bassSamples.push(float64(sig))
	if a.bassSamples.len() >= BassFrames {
		a.bassSamples.popFront()
	}
	// Divided by the capacity: the average ramps up after start.
	avg := a.bassSamples.total() / BassFrames

	elapsed := noPeakElapsed
	if n := len(a.peaks); n > 0 {
		elapsed = now.Sub(a.peaks[n-1])
	}

	peaked := false
	if avg >= peakFloor {
		threshold := sat8(avg * 2 * a.modifier)
		if sig >= threshold && elapsed >= peakDebounce {
			a.peaks = append(a.peaks, now)
			peaked = true
		}
	}
	if len(a.peaks) >= BassPeakFrames {
		a.peaks = append(a.peaks[:0], a.peaks[1:]...)
	}

	bpm, between := a.tempo()
	if avg <= peakFloor {
		bpm = 0
	}

	var short uint8
	switch {
	case peaked || elapsed < shortHold:
		short = math.MaxUint8
	case avg > shortFloor:
		short = sat8(float64(elapsed.Milliseconds() / 10))
	}

	a.emit(now, &a.lastBassPublish,
		Bass(sig),
		Bpm(bpm, between),
		BassAvgShort(short),
		BassAvg(sat8(avg)),
	)
}

// tempo averages the peak intervals that fall inside the plausible band.
func (a *Analyzer) tempo() (bpm uint8, betweenMs uint16) {
	const (
		minDelta = 60 / maxBpm
		maxDelta = 60 / minBpm
	)
	var sum float64
	var n int
	for i := 1; i < len(a.peaks); i++ {
		d := a.peaks[i].Sub(a.peaks[i-1]).Seconds()
		if d >= minDelta && d <= maxDelta {
			sum += d
			n++
		}
	}
	if n == 0 {
		return 0, 0
	}
	avg := sum / float64(n)
	return sat8(math.Round(60 / avg)), uint16(math.Round(avg * 1000))
}

func (a *Analyzer) beatVolume(now time.Time, maxBin float64) {
	a.beatSamples.push(maxBin)
	min, max := a.beatSamples.minMax()

	var index uint8
	if max > min {
		index = sat8((maxBin - min) * math.MaxUint8 / (max - min))
	}
	if index == a.lastBeatIndex {
		return
	}
	a.lastBeatIndex = index
	a.emit(now, &a.lastBeatPublish, BeatVolume(index))
}

// emit applies signals to the collector and publishes them at most once per interval.
func (a *Analyzer) emit(now time.Time, last *time.Time, signals ...Signal) {
	for _, s := range signals {
		a.collector.Apply(s)
	}
	if a.out == nil || now.Sub(*last) <= a.interval {
		return
	}
	*last = now
	for _, s := range signals {
		select {
		case a.out <- s:
		default:
			a.log.Debugf("signal channel full, dropped %s", s)
		}
	}
}

// Reset forgets all history. The collector keeps its last values.
func (a *Analyzer) Reset() {
	a.volumeSamples.reset()
	a.bassSamples.reset()
	a.beatSamples.reset()
	a.peaks = a.peaks[:0]
	a.lastBeatIndex = 0
}

func sat8(v float64) uint8 {
	switch {
	case math.IsNaN(v) || v <= 0:
		return 0
	case v >= math.MaxUint8:
		return math.MaxUint8
	}
	return uint8(v)
}
