package output

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/wesleyorama2/botswarm/internal/metrics"
)

func sampleSnapshot() *metrics.Snapshot {
	return &metrics.Snapshot{
		Ticks:         400,
		PosesSent:     12345,
		PosesFailed:   3,
		ChatsSent:     2,
		Connects:      10,
		Disconnects:   10,
		PendingBots:   2,
		ConnectedBots: 8,
		PosesPerSec:   617.25,
		Elapsed:       20 * time.Second,
		Sweep:         metrics.LatencyStats{Count: 400, P50: 80 * time.Microsecond, P95: 250 * time.Microsecond, Max: 2 * time.Millisecond},
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		duration time.Duration
		expected string
	}{
		{500 * time.Millisecond, "500ms"},
		{1 * time.Second, "1.0s"},
		{1*time.Minute + 30*time.Second, "1m 30s"},
		{1*time.Hour + 2*time.Minute + 3*time.Second, "1h 02m 03s"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, formatDuration(tt.duration))
		})
	}
}

func TestFormatDurationShort(t *testing.T) {
	tests := []struct {
		duration time.Duration
		expected string
	}{
		{0, "0ms"},
		{500 * time.Microsecond, "500µs"},
		{50 * time.Millisecond, "50ms"},
		{1500 * time.Millisecond, "1.50s"},
		{90 * time.Second, "1.5m"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, formatDurationShort(tt.duration))
		})
	}
}

func TestFormatNumber(t *testing.T) {
	tests := []struct {
		number   int64
		expected string
	}{
		{0, "0"},
		{999, "999"},
		{1000, "1,000"},
		{1234567, "1,234,567"},
		{-4500, "-4,500"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, formatNumber(tt.number))
		})
	}
}

func TestStripANSI(t *testing.T) {
	colored := DefaultColorScheme().EnableColor().Bot.Sprint("Alice")
	assert.NotEqual(t, "Alice", colored)
	assert.Equal(t, "Alice", stripANSI(colored))
	assert.Equal(t, 5, visibleLen(colored))
	assert.Equal(t, 1, visibleLen("∞"))
}

func TestNoColorScheme(t *testing.T) {
	s := NoColorScheme()
	assert.Equal(t, "Alice", s.Bot.Sprint("Alice"))
	assert.Equal(t, "ok", s.Success.Sprint("ok"))
	assert.Equal(t, "✓", SuccessIcon(true))
	assert.Equal(t, "✗", ErrorIcon(true))
}

func TestStatsFromSnapshot(t *testing.T) {
	snap := sampleSnapshot()

	stats := StatsFromSnapshot(snap, 400, 50, 40*time.Second)
	assert.Equal(t, 0.5, stats.Progress)
	assert.Equal(t, 20*time.Second, stats.Remaining)
	assert.Equal(t, 8, stats.Connected)
	assert.Equal(t, 2, stats.Pending)
	assert.Equal(t, 50, stats.Limit)
	assert.Equal(t, 250*time.Microsecond, stats.SweepP95)

	open := StatsFromSnapshot(snap, 400, 0, 0)
	assert.Zero(t, open.Progress)
	assert.Zero(t, open.Remaining)

	over := StatsFromSnapshot(snap, 400, 0, 10*time.Second)
	assert.Equal(t, 1.0, over.Progress)

	empty := StatsFromSnapshot(nil, 3, 5, 0)
	assert.Equal(t, uint64(3), empty.Tick)
}

func TestConsoleNonInteractive(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(ConsoleConfig{Name: "soak", URL: "ws://localhost:8080", Writer: &buf})
	assert.False(t, c.IsTTY())

	c.PrintHeader()
	c.Report(StatsFromSnapshot(sampleSnapshot(), 400, 50, 0))

	out := buf.String()
	assert.Contains(t, out, "soak - Running until interrupted")
	assert.Contains(t, out, "Server: ws://localhost:8080")
	assert.Contains(t, out, "tick 400 | bots 8 connected, 2 pending")
	assert.Contains(t, out, "(3 failed)")
	assert.NotContains(t, out, "\033[")
}

func TestConsoleLiveRedraw(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(ConsoleConfig{Name: "soak", Duration: time.Minute, Writer: &buf, ForceTTY: true})
	require.True(t, c.IsTTY())

	stats := StatsFromSnapshot(sampleSnapshot(), 400, 50, time.Minute)
	c.Update(stats)
	first := buf.Len()
	assert.Contains(t, buf.String(), "Bots:    8 / 50")
	assert.Contains(t, buf.String(), "Progress: [")

	c.Update(stats)
	assert.Contains(t, buf.String()[first:], "\033[", "second frame moves the cursor up")

	c.Println("reply line")
	assert.True(t, strings.HasSuffix(buf.String(), "reply line\n"))
}

func TestConsoleQuiet(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(ConsoleConfig{Name: "soak", Writer: &buf, Quiet: true, ForceTTY: true})

	c.PrintHeader()
	c.Report(StatsFromSnapshot(sampleSnapshot(), 1, 0, 0))
	assert.Empty(t, buf.String())

	c.PrintSummary(&Summary{Name: "soak", Metrics: sampleSnapshot()})
	assert.Equal(t, "soak poses=12345 failed=3 connects=10 disconnects=10\n", buf.String())
}

func TestPrintSummary(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(ConsoleConfig{Writer: &buf})

	c.PrintSummary(&Summary{Name: "soak", Ticks: 400, Metrics: sampleSnapshot(), TraceWritten: 1200, TraceDropped: 7})

	out := buf.String()
	assert.Contains(t, out, "soak - Finished")
	assert.Contains(t, out, "Poses sent:    12,345 (617.2/s)")
	assert.Contains(t, out, "Poses failed:  3")
	assert.Contains(t, out, "Trace records: 1,200")
	assert.Contains(t, out, "Trace dropped: 7")
	assert.Contains(t, out, "Sweep Duration:")
	assert.Contains(t, out, "P95:       250µs")
	assert.NotContains(t, out, "Pose Spacing:", "empty histograms are skipped")
}

func TestWriteSummaryFormats(t *testing.T) {
	sum := &Summary{Name: "soak", Ticks: 400, Metrics: sampleSnapshot()}

	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, WriteSummary(&buf, nil, sum, FormatJSON))

		var decoded map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
		assert.Equal(t, "soak", decoded["name"])
		assert.Equal(t, 400.0, decoded["ticks"])
		m := decoded["metrics"].(map[string]any)
		assert.Equal(t, 12345.0, m["posesSent"])
	})

	t.Run("yaml", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, WriteSummary(&buf, nil, sum, FormatYAML))

		var decoded map[string]any
		require.NoError(t, yaml.Unmarshal(buf.Bytes(), &decoded))
		assert.Equal(t, "soak", decoded["name"])
		assert.Equal(t, 400, decoded["ticks"])
	})

	t.Run("text", func(t *testing.T) {
		var buf bytes.Buffer
		c := NewConsole(ConsoleConfig{Writer: &buf})
		require.NoError(t, WriteSummary(&buf, c, sum, FormatText))
		assert.Contains(t, buf.String(), "Finished")
	})
}

func TestParseFormat(t *testing.T) {
	for name, want := range map[string]Format{"": FormatText, "TEXT": FormatText, "json": FormatJSON, "yaml": FormatYAML} {
		got, err := ParseFormat(name)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseFormat("junit")
	assert.Error(t, err)
}
