package output

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"

	"github.com/wesleyorama2/botswarm/internal/metrics"
)

// ANSI escape codes for cursor control
const (
	cursorUp  = "\033[%dA"
	clearLine = "\033[2K"

	boxHorizontal  = "━"
	boxVertical    = "│"
	boxTopLeft     = "┌"
	boxTopRight    = "┐"
	boxBottomLeft  = "└"
	boxBottomRight = "┘"

	progressFilled = "█"
	progressEmpty  = "░"
)

// LiveStats contains real-time fleet statistics for display.
type LiveStats struct {
	Elapsed   time.Duration
	Remaining time.Duration // zero when the run has no deadline
	Progress  float64       // 0.0 to 1.0, zero when the run has no deadline

	Tick      uint64
	Pending   int
	Connected int
	Limit     int // zero means unbounded

	PosesPerSec float64
	PosesSent   int64
	PosesFailed int64
	Chats       int64

	SweepP95   time.Duration
	PoseGapP95 time.Duration
}

// StatsFromSnapshot builds LiveStats from a metrics snapshot.
func StatsFromSnapshot(snap *metrics.Snapshot, tick uint64, limit int, total time.Duration) *LiveStats {
	if snap == nil {
		return &LiveStats{Tick: tick, Limit: limit}
	}

	stats := &LiveStats{
		Elapsed:     snap.Elapsed,
		Tick:        tick,
		Pending:     snap.PendingBots,
		Connected:   snap.ConnectedBots,
		Limit:       limit,
		PosesPerSec: snap.PosesPerSec,
		PosesSent:   snap.PosesSent,
		PosesFailed: snap.PosesFailed,
		Chats:       snap.ChatsSent,
		SweepP95:    snap.Sweep.P95,
		PoseGapP95:  snap.PoseGap.P95,
	}
	if total > 0 {
		stats.Progress = float64(snap.Elapsed) / float64(total)
		if stats.Progress > 1 {
			stats.Progress = 1
		}
		if snap.Elapsed < total {
			stats.Remaining = total - snap.Elapsed
		}
	}
	return stats
}

// Console manages live console output during a run.
type Console struct {
	name      string
	url       string
	duration  time.Duration
	writer    io.Writer
	isTTY     bool
	useColors bool
	quiet     bool
	scheme    *ColorScheme

	mu          sync.Mutex
	linesOutput int // lines of the live display currently on screen
}

// ConsoleConfig contains configuration for Console.
type ConsoleConfig struct {
	Name        string
	URL         string
	Duration    time.Duration // zero runs until interrupted
	Writer      io.Writer
	Quiet       bool
	ForceColors bool
	ForceTTY    bool
	NoLive      bool // never redraw in place, even on a terminal
}

// NewConsole creates a console writer.
func NewConsole(cfg ConsoleConfig) *Console {
	if cfg.Writer == nil {
		cfg.Writer = os.Stdout
	}

	isTTY := !cfg.NoLive && (cfg.ForceTTY || isTerminal(cfg.Writer))
	useColors := cfg.ForceColors || (isTerminal(cfg.Writer) && supportsColors())

	scheme := NoColorScheme()
	if useColors {
		scheme = DefaultColorScheme().EnableColor()
	}

	return &Console{
		name:      cfg.Name,
		url:       cfg.URL,
		duration:  cfg.Duration,
		writer:    cfg.Writer,
		isTTY:     isTTY,
		useColors: useColors,
		quiet:     cfg.Quiet,
		scheme:    scheme,
	}
}

// Scheme returns the colors the console renders with.
func (c *Console) Scheme() *ColorScheme { return c.scheme }

// IsTTY returns whether the live display redraws in place.
func (c *Console) IsTTY() bool { return c.isTTY }

func isTerminal(w io.Writer) bool {
	if f, ok := w.(*os.File); ok && (f == os.Stdout || f == os.Stderr) {
		return checkIsTerminal(f)
	}
	return false
}

func supportsColors() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	if os.Getenv("FORCE_COLOR") != "" {
		return true
	}
	term := os.Getenv("TERM")
	return term != "" && term != "dumb"
}

// PrintHeader prints the run header.
func (c *Console) PrintHeader() {
	if c.quiet {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	line := strings.Repeat(boxHorizontal, 56)
	runFor := "until interrupted"
	if c.duration > 0 {
		runFor = "for " + formatDuration(c.duration)
	}

	c.writeln(c.scheme.Dim.Sprint(line))
	c.writeln(fmt.Sprintf("%s - Running %s", c.scheme.Highlight.Sprint(c.name), runFor))
	if c.url != "" {
		c.writeln(fmt.Sprintf("Server: %s", c.scheme.Value.Sprint(c.url)))
	}
	c.writeln(c.scheme.Dim.Sprint(line))
	c.writeln("")
}

// Report shows stats, redrawing in place on a terminal and appending a
// status line otherwise.
func (c *Console) Report(stats *LiveStats) {
	if c.isTTY {
		c.Update(stats)
		return
	}
	c.PrintNonInteractiveUpdate(stats)
}

// Update redraws the live display.
func (c *Console) Update(stats *LiveStats) {
	if c.quiet || !c.isTTY {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.clearLiveLocked()
	lines := c.renderLiveStats(stats)
	c.linesOutput = len(lines)
	for _, line := range lines {
		c.writeln(line)
	}
}

func (c *Console) clearLiveLocked() {
	if c.linesOutput == 0 {
		return
	}
	c.write(fmt.Sprintf(cursorUp, c.linesOutput))
	for i := 0; i < c.linesOutput; i++ {
		c.write(clearLine + "\n")
	}
	c.write(fmt.Sprintf(cursorUp, c.linesOutput))
	c.linesOutput = 0
}

func (c *Console) renderLiveStats(stats *LiveStats) []string {
	var lines []string
	s := c.scheme

	if c.duration > 0 {
		lines = append(lines, fmt.Sprintf("Progress: %s %s | %s",
			s.Success.Sprint(renderProgressBar(stats.Progress, 40)),
			fmt.Sprintf("%.0f%%", stats.Progress*100),
			s.Dim.Sprintf("%s / %s", formatDuration(stats.Elapsed), formatDuration(c.duration))))
	} else {
		lines = append(lines, fmt.Sprintf("Elapsed:  %s", s.Dim.Sprint(formatDuration(stats.Elapsed))))
	}
	lines = append(lines, "")

	boxWidth := 55
	lines = append(lines, s.Dim.Sprint(boxTopLeft+strings.Repeat(boxHorizontal, boxWidth-2)+boxTopRight))

	limit := "∞"
	if stats.Limit > 0 {
		limit = fmt.Sprintf("%d", stats.Limit)
	}
	lines = append(lines, c.formatBoxRow(
		fmt.Sprintf("Bots:    %s / %s", s.Connected.Sprint(stats.Connected), limit),
		fmt.Sprintf("Pending:     %s", s.Pending.Sprint(stats.Pending)),
		boxWidth))

	failColor := s.Success
	if stats.PosesFailed > 0 {
		failColor = s.Warn
	}
	lines = append(lines, c.formatBoxRow(
		fmt.Sprintf("Poses/s: %s", s.Success.Sprintf("%.1f", stats.PosesPerSec)),
		fmt.Sprintf("Failed:      %s", failColor.Sprint(formatNumber(stats.PosesFailed))),
		boxWidth))
	lines = append(lines, c.formatBoxRow(
		fmt.Sprintf("Tick:    %s", s.Value.Sprint(stats.Tick)),
		fmt.Sprintf("Sweep P95:   %s", s.Moving.Sprint(formatDurationShort(stats.SweepP95))),
		boxWidth))

	lines = append(lines, s.Dim.Sprint(boxBottomLeft+strings.Repeat(boxHorizontal, boxWidth-2)+boxBottomRight))
	return lines
}

func (c *Console) formatBoxRow(left, right string, boxWidth int) string {
	colWidth := (boxWidth - 4) / 2

	leftPadding := max(colWidth-visibleLen(left), 0)
	rightPadding := max(colWidth-visibleLen(right), 0)

	bar := c.scheme.Dim.Sprint(boxVertical)
	return fmt.Sprintf("%s %s%s%s %s%s %s",
		bar, left, strings.Repeat(" ", leftPadding),
		bar, right, strings.Repeat(" ", rightPadding),
		bar)
}

func renderProgressBar(progress float64, width int) string {
	progress = min(max(progress, 0), 1)
	filled := int(progress * float64(width))
	return "[" + strings.Repeat(progressFilled, filled) + strings.Repeat(progressEmpty, width-filled) + "]"
}

// PrintNonInteractiveUpdate prints a one-line status update, for output
// that is piped to a file or CI log.
func (c *Console) PrintNonInteractiveUpdate(stats *LiveStats) {
	if c.quiet {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.writeln(fmt.Sprintf("[%s] tick %d | bots %d connected, %d pending | poses %.1f/s (%d failed) | sweep p95 %s",
		formatDuration(stats.Elapsed),
		stats.Tick,
		stats.Connected,
		stats.Pending,
		stats.PosesPerSec,
		stats.PosesFailed,
		formatDurationShort(stats.SweepP95)))
}

// Println writes a line above the live display.
func (c *Console) Println(line string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clearLiveLocked()
	c.writeln(line)
}

// Summary is the end-of-run report.
type Summary struct {
	Name         string            `json:"name" yaml:"name"`
	URL          string            `json:"url,omitempty" yaml:"url,omitempty"`
	Ticks        uint64            `json:"ticks" yaml:"ticks"`
	Metrics      *metrics.Snapshot `json:"metrics" yaml:"metrics"`
	TraceWritten uint64            `json:"traceWritten,omitempty" yaml:"traceWritten,omitempty"`
	TraceDropped uint64            `json:"traceDropped,omitempty" yaml:"traceDropped,omitempty"`
}

// PrintSummary prints the final run summary.
func (c *Console) PrintSummary(sum *Summary) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.quiet {
		if sum.Metrics != nil {
			c.writeln(fmt.Sprintf("%s poses=%d failed=%d connects=%d disconnects=%d",
				sum.Name, sum.Metrics.PosesSent, sum.Metrics.PosesFailed,
				sum.Metrics.Connects, sum.Metrics.Disconnects))
		}
		return
	}

	c.clearLiveLocked()

	s := c.scheme
	line := strings.Repeat(boxHorizontal, 56)
	c.writeln("")
	c.writeln(s.Dim.Sprint(line))
	c.writeln(fmt.Sprintf("%s - %s", s.Highlight.Sprint(sum.Name), s.Success.Sprint("Finished ✓")))
	c.writeln(s.Dim.Sprint(line))
	c.writeln("")

	m := sum.Metrics
	if m == nil {
		return
	}

	c.writeln(fmt.Sprintf("Duration:      %s", s.Value.Sprint(formatDuration(m.Elapsed))))
	c.writeln(fmt.Sprintf("Ticks:         %s", s.Value.Sprint(formatNumber(int64(sum.Ticks)))))
	c.writeln(fmt.Sprintf("Connects:      %s", s.Value.Sprint(formatNumber(m.Connects))))
	c.writeln(fmt.Sprintf("Disconnects:   %s", s.Value.Sprint(formatNumber(m.Disconnects))))
	c.writeln(fmt.Sprintf("Poses sent:    %s (%.1f/s)", s.Value.Sprint(formatNumber(m.PosesSent)), m.PosesPerSec))
	c.writeln(fmt.Sprintf("Poses failed:  %s", failureColor(s, m.PosesFailed).Sprint(formatNumber(m.PosesFailed))))
	c.writeln(fmt.Sprintf("Chats sent:    %s", s.Value.Sprint(formatNumber(m.ChatsSent))))
	if sum.TraceWritten > 0 {
		c.writeln(fmt.Sprintf("Trace records: %s", s.Value.Sprint(formatNumber(int64(sum.TraceWritten)))))
	}
	if sum.TraceDropped > 0 {
		c.writeln(fmt.Sprintf("Trace dropped: %s", s.Warn.Sprint(formatNumber(int64(sum.TraceDropped)))))
	}
	c.writeln("")

	c.writeLatency("Sweep Duration:", m.Sweep)
	c.writeLatency("Pose Spacing:", m.PoseGap)
}

func (c *Console) writeLatency(title string, l metrics.LatencyStats) {
	if l.Count == 0 {
		return
	}
	c.writeln(c.scheme.Label.Sprint(title))
	c.writeln(fmt.Sprintf("  Min:       %s", formatDurationShort(l.Min)))
	c.writeln(fmt.Sprintf("  P50:       %s", formatDurationShort(l.P50)))
	c.writeln(fmt.Sprintf("  P95:       %s", formatDurationShort(l.P95)))
	c.writeln(fmt.Sprintf("  P99:       %s", formatDurationShort(l.P99)))
	c.writeln(fmt.Sprintf("  Max:       %s", formatDurationShort(l.Max)))
	c.writeln("")
}

func failureColor(s *ColorScheme, failed int64) *color.Color {
	if failed > 0 {
		return s.Error
	}
	return s.Success
}

func (c *Console) write(s string) {
	fmt.Fprint(c.writer, s)
}

func (c *Console) writeln(s string) {
	fmt.Fprintln(c.writer, s)
}
