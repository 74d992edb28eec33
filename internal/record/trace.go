// Package record persists fleet activity: a compressed JSONL trace of every
// packet and lifecycle event, and a SQLite index of lifecycle events.
package record

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/wesleyorama2/botswarm/internal/fleet"
)

const traceQueueSize = 65536

// TraceRecord is one line of a trace file.
type TraceRecord struct {
	Type      string                `json:"type"` // "lifecycle" or "packet"
	Lifecycle *fleet.LifecycleEvent `json:"lifecycle,omitempty"`
	Packet    *fleet.PacketEvent    `json:"packet,omitempty"`
}

func (r TraceRecord) at() time.Time {
	if r.Packet != nil {
		return r.Packet.At
	}
	if r.Lifecycle != nil {
		return r.Lifecycle.At
	}
	return time.Time{}
}

// TraceWriter appends events to hourly zstd-compressed JSONL files named
// <prefix>-YYYY-MM-DD-HH.jsonl.zst. The hour comes from the event time.
//
// Record calls enqueue and never block; events that do not fit in the
// queue are counted in Dropped.
type TraceWriter struct {
	dir    string
	prefix string
	logger *slog.Logger

	mu      sync.RWMutex
	closed  bool
	ch      chan TraceRecord
	wg      sync.WaitGroup
	dropped atomic.Uint64
	written atomic.Uint64

	// Owned by the writer goroutine.
	curHour string
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
	err     error
}

// NewTraceWriter starts a writer for dir.
func NewTraceWriter(dir, prefix string, logger *slog.Logger) (*TraceWriter, error) {
	if dir == "" {
		return nil, fmt.Errorf("empty trace dir")
	}
	if prefix == "" {
		prefix = "trace"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	tw := &TraceWriter{
		dir:    dir,
		prefix: prefix,
		logger: logger.With("component", "trace"),
		ch:     make(chan TraceRecord, traceQueueSize),
	}
	tw.wg.Add(1)
	go func() {
		defer tw.wg.Done()
		tw.loop()
	}()
	return tw, nil
}

// RecordLifecycle implements fleet.Recorder.
func (tw *TraceWriter) RecordLifecycle(ev fleet.LifecycleEvent) {
	tw.enqueue(TraceRecord{Type: "lifecycle", Lifecycle: &ev})
}

// RecordPacket implements fleet.Recorder.
func (tw *TraceWriter) RecordPacket(ev fleet.PacketEvent) {
	tw.enqueue(TraceRecord{Type: "packet", Packet: &ev})
}

func (tw *TraceWriter) enqueue(rec TraceRecord) {
	tw.mu.RLock()
	defer tw.mu.RUnlock()
	if tw.closed {
		tw.dropped.Add(1)
		return
	}
	select {
	case tw.ch <- rec:
	default:
		tw.dropped.Add(1)
	}
}

// Dropped returns the number of events discarded because the queue was
// full or the writer was closed.
func (tw *TraceWriter) Dropped() uint64 { return tw.dropped.Load() }

// Written returns the number of records written so far.
func (tw *TraceWriter) Written() uint64 { return tw.written.Load() }

// Close drains the queue, flushes the current file and stops the writer.
func (tw *TraceWriter) Close() error {
	tw.mu.Lock()
	if tw.closed {
		tw.mu.Unlock()
		return nil
	}
	tw.closed = true
	close(tw.ch)
	tw.mu.Unlock()

	tw.wg.Wait()
	return errors.Join(tw.err, tw.closeFile())
}

func (tw *TraceWriter) loop() {
	for rec := range tw.ch {
		if err := tw.write(rec); err != nil {
			if tw.err == nil {
				tw.logger.Error("trace write failed", "error", err)
			}
			tw.err = err
			continue
		}
		tw.written.Add(1)

		// Flush once the burst is drained.
		if len(tw.ch) == 0 && tw.w != nil {
			if err := tw.w.Flush(); err != nil {
				tw.err = err
			}
		}
	}
}

func (tw *TraceWriter) write(rec TraceRecord) error {
	hour := rec.at().UTC().Format("2006-01-02-15")
	if hour != tw.curHour || tw.w == nil {
		if err := tw.rotate(hour); err != nil {
			return err
		}
	}

	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if _, err := tw.w.Write(b); err != nil {
		return err
	}
	return tw.w.WriteByte('\n')
}

func (tw *TraceWriter) rotate(hour string) error {
	if err := tw.closeFile(); err != nil {
		return err
	}
	f, err := os.OpenFile(tw.pathForHour(hour), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	tw.f = f
	tw.enc = enc
	tw.w = bufio.NewWriterSize(enc, 128*1024)
	tw.curHour = hour
	return nil
}

func (tw *TraceWriter) closeFile() error {
	var err error
	if tw.w != nil {
		err = tw.w.Flush()
	}
	if tw.enc != nil {
		err = errors.Join(err, tw.enc.Close())
		tw.enc = nil
	}
	if tw.f != nil {
		err = errors.Join(err, tw.f.Close())
		tw.f = nil
	}
	tw.w = nil
	return err
}

func (tw *TraceWriter) pathForHour(hour string) string {
	return filepath.Join(tw.dir, fmt.Sprintf("%s-%s.jsonl.zst", tw.prefix, hour))
}

// ReadTrace decodes every record in a trace file.
func ReadTrace(path string) ([]TraceRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	var out []TraceRecord
	jd := json.NewDecoder(dec)
	for {
		var rec TraceRecord
		if err := jd.Decode(&rec); err != nil {
			if errors.Is(err, io.EOF) {
				return out, nil
			}
			return out, fmt.Errorf("decode %s: %w", path, err)
		}
		out = append(out, rec)
	}
}
