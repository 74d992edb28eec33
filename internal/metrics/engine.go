// Package metrics collects fleet-level statistics: sweep latency, packet
// cadence, and bot counts.
package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// Engine aggregates fleet metrics using HDR histograms.
//
// Key features:
// - HDR histogram of sweep durations (how long one scheduler tick takes)
// - HDR histogram of per-bot gaps between pose packets
// - Lock-free counters for packets, ticks and lifecycle events
//
// # Thread Safety
//
// Engine is safe for concurrent use. Counters use atomic operations and
// histograms are guarded by their own mutex, since RecordValue is not
// thread-safe.
type Engine struct {
	sweepHist   *hdrhistogram.Histogram
	sweepHistMu sync.Mutex

	gapHist   *hdrhistogram.Histogram
	gapHistMu sync.Mutex

	ticks         atomic.Int64
	botsTicked    atomic.Int64
	posesSent     atomic.Int64
	posesFailed   atomic.Int64
	chatsSent     atomic.Int64
	chatsFailed   atomic.Int64
	connects      atomic.Int64
	disconnects   atomic.Int64
	pendingBots   atomic.Int32
	connectedBots atomic.Int32

	startTime time.Time
	config    EngineConfig
}

// EngineConfig contains configuration for the metrics engine.
type EngineConfig struct {
	// HistogramMin is the minimum recordable value in microseconds (default: 1)
	HistogramMin int64

	// HistogramMax is the maximum recordable value in microseconds (default: 60s)
	HistogramMax int64

	// HistogramSigFigs is the number of significant figures (default: 3)
	HistogramSigFigs int
}

// DefaultEngineConfig returns the default configuration.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		HistogramMin:     1,
		HistogramMax:     60_000_000,
		HistogramSigFigs: 3,
	}
}

// NewEngine creates a metrics engine with the default configuration.
func NewEngine() *Engine {
	return NewEngineWithConfig(DefaultEngineConfig())
}

// NewEngineWithConfig creates a metrics engine with a custom configuration.
func NewEngineWithConfig(config EngineConfig) *Engine {
	return &Engine{
		sweepHist: hdrhistogram.New(config.HistogramMin, config.HistogramMax, config.HistogramSigFigs),
		gapHist:   hdrhistogram.New(config.HistogramMin, config.HistogramMax, config.HistogramSigFigs),
		startTime: time.Now(),
		config:    config,
	}
}

func (e *Engine) clamp(d time.Duration) int64 {
	v := d.Microseconds()
	if v < e.config.HistogramMin {
		v = e.config.HistogramMin
	}
	if v > e.config.HistogramMax {
		v = e.config.HistogramMax
	}
	return v
}

// RecordSweep records one scheduler tick that ran ticked automatons.
func (e *Engine) RecordSweep(d time.Duration, ticked int) {
	e.sweepHistMu.Lock()
	_ = e.sweepHist.RecordValue(e.clamp(d))
	e.sweepHistMu.Unlock()

	e.ticks.Add(1)
	e.botsTicked.Add(int64(ticked))
}

// RecordPose records a pose packet handed to the transport.
// gap is the time since the same bot's previous packet, or 0 for its first.
func (e *Engine) RecordPose(ok bool, gap time.Duration) {
	if !ok {
		e.posesFailed.Add(1)
		return
	}
	e.posesSent.Add(1)

	if gap > 0 {
		e.gapHistMu.Lock()
		_ = e.gapHist.RecordValue(e.clamp(gap))
		e.gapHistMu.Unlock()
	}
}

// RecordChat records a chat packet handed to the transport.
func (e *Engine) RecordChat(ok bool) {
	if ok {
		e.chatsSent.Add(1)
	} else {
		e.chatsFailed.Add(1)
	}
}

// RecordConnect counts a bot reaching Connected.
func (e *Engine) RecordConnect() { e.connects.Add(1) }

// RecordDisconnect counts a bot leaving the fleet.
func (e *Engine) RecordDisconnect() { e.disconnects.Add(1) }

// SetBots updates the bot gauges.
func (e *Engine) SetBots(pending, connected int) {
	e.pendingBots.Store(int32(pending))
	e.connectedBots.Store(int32(connected))
}

func statsOf(h *hdrhistogram.Histogram) LatencyStats {
	return LatencyStats{
		Min:    time.Duration(h.Min()) * time.Microsecond,
		Max:    time.Duration(h.Max()) * time.Microsecond,
		Mean:   time.Duration(h.Mean()) * time.Microsecond,
		StdDev: time.Duration(h.StdDev()) * time.Microsecond,
		P50:    time.Duration(h.ValueAtQuantile(50)) * time.Microsecond,
		P90:    time.Duration(h.ValueAtQuantile(90)) * time.Microsecond,
		P95:    time.Duration(h.ValueAtQuantile(95)) * time.Microsecond,
		P99:    time.Duration(h.ValueAtQuantile(99)) * time.Microsecond,
		Count:  h.TotalCount(),
	}
}

// Snapshot returns a point-in-time view of all metrics.
func (e *Engine) Snapshot() *Snapshot {
	e.sweepHistMu.Lock()
	sweep := statsOf(e.sweepHist)
	e.sweepHistMu.Unlock()

	e.gapHistMu.Lock()
	gap := statsOf(e.gapHist)
	e.gapHistMu.Unlock()

	elapsed := time.Since(e.startTime)
	sent := e.posesSent.Load()

	pps := 0.0
	if elapsed.Seconds() > 0 {
		pps = float64(sent) / elapsed.Seconds()
	}

	return &Snapshot{
		Ticks:         e.ticks.Load(),
		BotsTicked:    e.botsTicked.Load(),
		PosesSent:     sent,
		PosesFailed:   e.posesFailed.Load(),
		ChatsSent:     e.chatsSent.Load(),
		ChatsFailed:   e.chatsFailed.Load(),
		Connects:      e.connects.Load(),
		Disconnects:   e.disconnects.Load(),
		PendingBots:   int(e.pendingBots.Load()),
		ConnectedBots: int(e.connectedBots.Load()),
		PosesPerSec:   pps,
		Sweep:         sweep,
		PoseGap:       gap,
		Elapsed:       elapsed,
		StartTime:     e.startTime,
		Timestamp:     time.Now(),
	}
}

// Reset clears all metrics.
func (e *Engine) Reset() {
	e.sweepHistMu.Lock()
	e.sweepHist.Reset()
	e.sweepHistMu.Unlock()

	e.gapHistMu.Lock()
	e.gapHist.Reset()
	e.gapHistMu.Unlock()

	for _, c := range []*atomic.Int64{
		&e.ticks, &e.botsTicked, &e.posesSent, &e.posesFailed,
		&e.chatsSent, &e.chatsFailed, &e.connects, &e.disconnects,
	} {
		c.Store(0)
	}
	e.pendingBots.Store(0)
	e.connectedBots.Store(0)
	e.startTime = time.Now()
}

// Snapshot contains a point-in-time view of all metrics.
type Snapshot struct {
	Ticks         int64         `json:"ticks"`
	BotsTicked    int64         `json:"botsTicked"`
	PosesSent     int64         `json:"posesSent"`
	PosesFailed   int64         `json:"posesFailed"`
	ChatsSent     int64         `json:"chatsSent"`
	ChatsFailed   int64         `json:"chatsFailed"`
	Connects      int64         `json:"connects"`
	Disconnects   int64         `json:"disconnects"`
	PendingBots   int           `json:"pendingBots"`
	ConnectedBots int           `json:"connectedBots"`
	PosesPerSec   float64       `json:"posesPerSec"`
	Sweep         LatencyStats  `json:"sweep"`
	PoseGap       LatencyStats  `json:"poseGap"`
	Elapsed       time.Duration `json:"elapsed"`
	StartTime     time.Time     `json:"startTime"`
	Timestamp     time.Time     `json:"timestamp"`
}

// LatencyStats contains duration distribution statistics.
type LatencyStats struct {
	Min    time.Duration `json:"min"`
	Max    time.Duration `json:"max"`
	Mean   time.Duration `json:"mean"`
	StdDev time.Duration `json:"stdDev"`
	P50    time.Duration `json:"p50"`
	P90    time.Duration `json:"p90"`
	P95    time.Duration `json:"p95"`
	P99    time.Duration `json:"p99"`
	Count  int64         `json:"count"`
}
