package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/wesleyorama2/botswarm/internal/admin"
	"github.com/wesleyorama2/botswarm/internal/config"
	"github.com/wesleyorama2/botswarm/internal/fleet"
	"github.com/wesleyorama2/botswarm/internal/logging"
	"github.com/wesleyorama2/botswarm/internal/metrics"
	"github.com/wesleyorama2/botswarm/internal/output"
	"github.com/wesleyorama2/botswarm/internal/record"
	"github.com/wesleyorama2/botswarm/internal/transport/ws"
)

// runOptions are the flags that shape a run but are not part of the
// configuration file.
type runOptions struct {
	Duration       time.Duration
	Interactive    bool
	Quiet          bool
	NoLive         bool
	Output         output.Format
	StatusInterval time.Duration
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Connect a swarm of bots and keep them walking",
		Long: `Connect bots to a game server and drive them until the duration elapses
or the process is interrupted.

Config file mode:
  botswarm run --config swarm.yaml

Quick CLI mode:
  botswarm run --url ws://localhost:8080/v1/ws --bots 50 --delay 20 --duration 10m

Interactive mode reads admin commands from stdin (type "help"):
  botswarm run --url ws://localhost:8080/v1/ws --bots 5 --interactive`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := buildConfig(cmd)
			if err != nil {
				return err
			}
			opts, err := runOptionsFromFlags(cmd)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runSwarm(ctx, cfg, opts, cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	f := cmd.Flags()
	f.StringP("config", "c", "", "configuration file (YAML or JSON)")
	f.StringP("url", "u", "", "game server websocket URL")
	f.IntP("bots", "n", 0, "number of bots with generated names to spawn")
	f.Int("delay", config.DefaultDelayTicks, "ticks between consecutive bot connections")
	f.Int("max-bots", 0, "maximum number of live bots")
	f.Float64("tick-rate", 0, "scheduler ticks per second")
	f.Uint64("seed", 0, "random seed for names and walks (0 = time based)")
	f.String("codec", "", "wire codec: json or cbor")
	f.String("name-prefix", "", "prefix for generated bot names")
	f.Bool("no-move", false, "spawn bots with movement disabled")
	f.String("trace-dir", "", "write a compressed JSONL packet trace to this directory")
	f.String("index", "", "record lifecycle events in this SQLite database")
	f.String("log-level", "", "log level: debug, info, warn or error")
	f.String("log-format", "", "log format: text or json")
	f.DurationP("duration", "d", 0, "stop after this long (0 = until interrupted)")
	f.BoolP("interactive", "i", false, "read admin commands from stdin")
	f.BoolP("quiet", "q", false, "only print the final summary")
	f.Bool("no-live", false, "print status lines instead of redrawing in place")
	f.StringP("output", "o", "text", "summary format: text, json or yaml")
	f.Duration("status-interval", time.Second, "time between status updates")

	return cmd
}

func runOptionsFromFlags(cmd *cobra.Command) (runOptions, error) {
	f := cmd.Flags()
	var opts runOptions

	opts.Duration, _ = f.GetDuration("duration")
	opts.Interactive, _ = f.GetBool("interactive")
	opts.Quiet, _ = f.GetBool("quiet")
	opts.NoLive, _ = f.GetBool("no-live")
	opts.StatusInterval, _ = f.GetDuration("status-interval")

	format, _ := f.GetString("output")
	var err error
	if opts.Output, err = output.ParseFormat(format); err != nil {
		return opts, err
	}
	if opts.Duration < 0 {
		return opts, fmt.Errorf("--duration must not be negative")
	}
	if opts.StatusInterval <= 0 {
		opts.StatusInterval = time.Second
	}
	return opts, nil
}

// buildConfig loads --config if given and applies every explicitly set
// flag on top of it.
func buildConfig(cmd *cobra.Command) (*config.FleetConfig, error) {
	f := cmd.Flags()
	path, _ := f.GetString("config")
	url, _ := f.GetString("url")

	var cfg *config.FleetConfig
	switch {
	case path != "":
		loaded, err := config.LoadConfig(path)
		if err != nil {
			return nil, fmt.Errorf("error loading config: %w", err)
		}
		cfg = loaded
	case url != "":
		cfg = &config.FleetConfig{Name: "CLI Swarm"}
	default:
		return nil, fmt.Errorf("either --config or --url is required")
	}

	if f.Changed("url") {
		cfg.Server.URL = url
	}
	if f.Changed("bots") {
		cfg.Spawn.Count, _ = f.GetInt("bots")
	}
	if f.Changed("delay") {
		delay, _ := f.GetInt("delay")
		cfg.Spawn.DelayTicks = config.IntPtr(delay)
	}
	if f.Changed("max-bots") {
		cfg.Fleet.MaxBots, _ = f.GetInt("max-bots")
	}
	if f.Changed("tick-rate") {
		cfg.Fleet.TickRate, _ = f.GetFloat64("tick-rate")
	}
	if f.Changed("seed") {
		cfg.Fleet.Seed, _ = f.GetUint64("seed")
	}
	if f.Changed("codec") {
		cfg.Server.Codec, _ = f.GetString("codec")
	}
	if f.Changed("name-prefix") {
		cfg.Fleet.NamePrefix, _ = f.GetString("name-prefix")
	}
	if noMove, _ := f.GetBool("no-move"); noMove {
		disabled := false
		cfg.Fleet.MoveByDefault = &disabled
	}
	if f.Changed("trace-dir") {
		cfg.Record.TraceDir, _ = f.GetString("trace-dir")
	}
	if f.Changed("index") {
		cfg.Record.IndexPath, _ = f.GetString("index")
	}
	if f.Changed("log-level") {
		cfg.Logging.Level, _ = f.GetString("log-level")
	}
	if f.Changed("log-format") {
		cfg.Logging.Format, _ = f.GetString("log-format")
	}

	if cfg.Name == "" {
		cfg.Name = "Swarm"
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// runSwarm connects the configured fleet and drives it until ctx is done
// or opts.Duration elapses, then prints the summary to stdout.
func runSwarm(ctx context.Context, cfg *config.FleetConfig, opts runOptions, stdin io.Reader, stdout, stderr io.Writer) error {
	logger, err := logging.New(logging.Options{Level: cfg.Logging.Level, Format: cfg.Logging.Format}, stderr)
	if err != nil {
		return err
	}

	client, err := ws.NewClient(ws.ClientConfig{
		URL:              cfg.Server.URL,
		Codec:            cfg.Server.Codec,
		HandshakeTimeout: time.Duration(cfg.Server.HandshakeTimeout),
		SendBuffer:       cfg.Server.SendBuffer,
	}, logger)
	if err != nil {
		return err
	}
	defer client.Close()

	sinks, closeSinks, err := openRecorders(cfg.Record, logger)
	if err != nil {
		return err
	}
	defer closeSinks()

	engine := metrics.NewEngine()
	sup := fleet.New(client,
		fleet.WithLogger(logger),
		fleet.WithMetrics(engine),
		fleet.WithRecorder(sinks.recorder()),
		fleet.WithMaxBots(cfg.Fleet.MaxBots),
		fleet.WithCapacity(client.Capacity),
		fleet.WithMovementConfig(cfg.MovementConfig()),
		fleet.WithSeed(cfg.Fleet.Seed),
		fleet.WithNamePrefix(cfg.Fleet.NamePrefix),
		fleet.WithMoveByDefault(cfg.MoveByDefaultEnabled()),
		fleet.WithTickRate(cfg.Fleet.TickRate),
	)

	console := output.NewConsole(output.ConsoleConfig{
		Name:     cfg.Name,
		URL:      cfg.Server.URL,
		Duration: opts.Duration,
		Writer:   stdout,
		Quiet:    opts.Quiet || opts.Output != output.FormatText,
		NoLive:   opts.NoLive || opts.Interactive,
	})
	console.PrintHeader()

	created, wanted := spawnInitial(sup, cfg.Spawn)
	if created < wanted {
		logger.Warn("not every bot was created", "created", created, "wanted", wanted)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if opts.Duration > 0 {
		runCtx, cancel = context.WithTimeout(runCtx, opts.Duration)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() { done <- sup.Run(runCtx) }()

	if opts.Interactive {
		var history admin.History
		if sinks.index != nil {
			history = sinks.index
		}
		shell := admin.NewConsole(sup,
			admin.WithHistory(history),
			admin.WithScheme(console.Scheme()),
			admin.WithLogger(logger),
		)
		go readCommands(runCtx, stdin, shell, console, cancel)
	}

	ticker := time.NewTicker(opts.StatusInterval)
	defer ticker.Stop()

	var runErr error
loop:
	for {
		select {
		case runErr = <-done:
			break loop
		case <-ticker.C:
			console.Report(output.StatsFromSnapshot(engine.Snapshot(), sup.CurrentTick(), sup.Capacity(), opts.Duration))
		}
	}

	logger.Debug("closing transport", "sessions", client.Sessions())
	if err := client.Close(); err != nil {
		logger.Debug("closing transport", "error", err)
	}
	// Drain the recorders so the trace counts are final.
	closeSinks()

	sum := &output.Summary{
		Name:    cfg.Name,
		URL:     cfg.Server.URL,
		Ticks:   sup.CurrentTick(),
		Metrics: engine.Snapshot(),
	}
	if sinks.trace != nil {
		sum.TraceWritten = sinks.trace.Written()
		sum.TraceDropped = sinks.trace.Dropped()
	}
	if err := output.WriteSummary(stdout, console, sum, opts.Output); err != nil {
		return err
	}
	return runErr
}

// spawnInitial creates the named bots and then the generated ones, all on
// one stagger. It returns how many were created out of how many wanted.
func spawnInitial(sup *fleet.Supervisor, spawn config.SpawnConfig) (created, wanted int) {
	delay := uint64(spawn.Delay())
	wanted = len(spawn.Names) + spawn.Count

	for i := 0; i < wanted; i++ {
		name := ""
		if i < len(spawn.Names) {
			name = spawn.Names[i]
		}
		if _, err := sup.CreateBot(name, delay*uint64(i)); err != nil {
			continue
		}
		created++
	}
	return created, wanted
}

type recorders struct {
	trace *record.TraceWriter
	index *record.Index
}

func (r recorders) recorder() fleet.Recorder {
	var out fleet.MultiRecorder
	if r.trace != nil {
		out = append(out, r.trace)
	}
	if r.index != nil {
		out = append(out, r.index)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func openRecorders(cfg config.RecordConfig, logger *slog.Logger) (recorders, func(), error) {
	var r recorders
	closeAll := func() {
		if r.trace != nil {
			if err := r.trace.Close(); err != nil {
				logger.Error("closing trace", "error", err)
			}
		}
		if r.index != nil {
			if err := r.index.Close(); err != nil {
				logger.Error("closing index", "error", err)
			}
		}
	}

	if cfg.TraceDir != "" {
		tw, err := record.NewTraceWriter(cfg.TraceDir, "trace", logger)
		if err != nil {
			return r, closeAll, fmt.Errorf("open trace: %w", err)
		}
		r.trace = tw
	}
	if cfg.IndexPath != "" {
		idx, err := record.OpenIndex(cfg.IndexPath, logger)
		if err != nil {
			closeAll()
			return recorders{}, func() {}, fmt.Errorf("open index: %w", err)
		}
		r.index = idx
	}
	return r, closeAll, nil
}

// readCommands feeds stdin lines to the admin console until EOF, "quit",
// or the end of the run.
func readCommands(ctx context.Context, in io.Reader, shell *admin.Console, console *output.Console, stop context.CancelFunc) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		switch strings.ToLower(line) {
		case "":
			continue
		case "quit", "exit", "stop":
			console.Println("Stopping...")
			stop()
			return
		}
		for _, reply := range shell.ExecContext(ctx, line) {
			console.Println(reply.Render(console.Scheme()))
		}
	}
}
