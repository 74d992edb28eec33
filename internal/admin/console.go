// Package admin interprets operator commands against a running fleet.
//
//	info <bots>                          describe bots
//	create named <name>                  create one bot
//	create random [amount] [delay-ticks] create a staggered batch
//	remove <bots>                        disconnect bots
//	move <bots> <true|false>             toggle random walking
//	chat <bots> <message...>             send chat or a /command
//	list                                 list every live bot
//	history <name|id>                    show recorded lifecycle events
//	help                                 show this list
//
// <bots> is "*" for every live bot or a comma-separated list of nicknames.
package admin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wesleyorama2/botswarm/internal/bot"
	"github.com/wesleyorama2/botswarm/internal/fleet"
	"github.com/wesleyorama2/botswarm/internal/output"
)

// DefaultRandomDelay is the stagger used by "create random" without an
// explicit delay, one second at 20 ticks per second.
const DefaultRandomDelay = 20

const historyTimeout = 2 * time.Second

// Fleet is the part of the supervisor the console drives.
type Fleet interface {
	CreateBot(name string, delayTicks uint64) (*bot.Bot, error)
	CreateBatch(n int, delayTicks uint64) ([]*bot.Bot, error)
	FindBotByName(name string) (*bot.Bot, error)
	ListBots() []*bot.Bot
	DisconnectBot(b *bot.Bot) error
	Capacity() int
	Stats() fleet.Stats
}

// History looks up recorded lifecycle events.
type History interface {
	Events(ctx context.Context, botID string) ([]fleet.LifecycleEvent, error)
	EventsByName(ctx context.Context, nickname string) ([]fleet.LifecycleEvent, error)
}

// Reply is one line of command output.
type Reply struct {
	Ok   bool
	Text string
}

// Render formats the reply for a terminal.
func (r Reply) Render(scheme *output.ColorScheme) string {
	if r.Ok {
		return r.Text
	}
	return scheme.Error.Sprint(r.Text)
}

// Console executes command lines.
type Console struct {
	fleet   Fleet
	history History
	scheme  *output.ColorScheme
	logger  *slog.Logger
}

// Option configures a Console.
type Option func(*Console)

// WithHistory enables the history command.
func WithHistory(h History) Option {
	return func(c *Console) { c.history = h }
}

// WithScheme sets the colors used in replies.
func WithScheme(s *output.ColorScheme) Option {
	return func(c *Console) {
		if s != nil {
			c.scheme = s
		}
	}
}

// WithLogger sets the logger used to audit commands.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Console) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewConsole returns a console bound to f.
func NewConsole(f Fleet, opts ...Option) *Console {
	c := &Console{
		fleet:  f,
		scheme: output.NoColorScheme(),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Exec runs one command line.
func (c *Console) Exec(line string) []Reply {
	return c.ExecContext(context.Background(), line)
}

// ExecContext runs one command line; ctx bounds history lookups.
func (c *Console) ExecContext(ctx context.Context, line string) []Reply {
	args := strings.Fields(line)
	if len(args) == 0 {
		return nil
	}
	c.logger.Debug("admin command", "line", strings.TrimSpace(line))

	switch strings.ToLower(args[0]) {
	case "help", "?":
		return c.help()
	case "info":
		return c.info(args[1:])
	case "create":
		return c.create(args[1:])
	case "remove":
		return c.remove(args[1:])
	case "move":
		return c.move(args[1:])
	case "chat":
		return c.chat(line, args[1:])
	case "list":
		return c.list()
	case "history":
		return c.historyOf(ctx, args[1:])
	default:
		return fail("Unknown command '%s', try 'help'", args[0])
	}
}

func (c *Console) help() []Reply {
	lines := []string{
		"info <bots>",
		"create named <name>",
		"create random [amount] [delay-ticks]",
		"remove <bots>",
		"move <bots> <true|false>",
		"chat <bots> <message...>",
		"list",
		"history <name|id>",
		`<bots> is "*" or a comma-separated list of names`,
	}
	out := make([]Reply, 0, len(lines))
	for _, l := range lines {
		out = append(out, Reply{Ok: true, Text: l})
	}
	return out
}

func (c *Console) info(args []string) []Reply {
	if len(args) != 1 {
		return fail("Usage: info <bots>")
	}
	bots, out := c.selectBots(args[0])
	for _, b := range bots {
		out = append(out, ok("BotInfo: %s", b))
	}
	return out
}

func (c *Console) create(args []string) []Reply {
	if len(args) == 0 {
		return fail("Usage: create named <name> | create random [amount] [delay-ticks]")
	}

	switch strings.ToLower(args[0]) {
	case "named":
		if len(args) != 2 {
			return fail("Usage: create named <name>")
		}
		b, err := c.fleet.CreateBot(args[1], 0)
		if err != nil {
			return fail("Failed to create bot '%s': %v", c.name(args[1]), cause(err))
		}
		return []Reply{ok("Created new bot '%s'", c.name(b.Nickname()))}

	case "random":
		return c.createRandom(args[1:])

	default:
		return fail("Unknown create mode '%s'", args[0])
	}
}

func (c *Console) createRandom(args []string) []Reply {
	if len(args) > 2 {
		return fail("Usage: create random [amount] [delay-ticks]")
	}

	amount, delay := 1, DefaultRandomDelay
	var err error
	if len(args) > 0 {
		if amount, err = strconv.Atoi(args[0]); err != nil {
			return fail("Amount must be a number, got '%s'", args[0])
		}
	}
	if len(args) > 1 {
		if delay, err = strconv.Atoi(args[1]); err != nil || delay < 0 {
			return fail("Delay must be a non-negative number of ticks, got '%s'", args[1])
		}
	}

	limit := c.fleet.Capacity()
	if amount < 1 || (limit > 0 && amount > limit) {
		if limit > 0 {
			return fail("Amount must be between 1 and %d", limit)
		}
		return fail("Amount must be at least 1")
	}

	bots, err := c.fleet.CreateBatch(amount, uint64(delay))
	out := make([]Reply, 0, len(bots)+1)
	for _, b := range bots {
		out = append(out, ok("Created new bot '%s'", c.name(b.Nickname())))
	}
	if err != nil {
		out = append(out, fail("Failed to create random bot: %v", cause(err))...)
	}
	return out
}

func (c *Console) remove(args []string) []Reply {
	if len(args) != 1 {
		return fail("Usage: remove <bots>")
	}
	bots, out := c.selectBots(args[0])
	for _, b := range bots {
		err := c.fleet.DisconnectBot(b)
		switch {
		case err == nil, errors.Is(err, fleet.ErrAlreadyDisconnected):
			out = append(out, ok("Removed bot '%s'", c.name(b.Nickname())))
		default:
			out = append(out, fail("Failed to remove bot '%s': %v", c.name(b.Nickname()), cause(err))...)
		}
	}
	return out
}

func (c *Console) move(args []string) []Reply {
	if len(args) != 2 {
		return fail("Usage: move <bots> <true|false>")
	}
	enabled, err := strconv.ParseBool(args[1])
	if err != nil {
		return fail("Expected true or false, got '%s'", args[1])
	}

	bots, out := c.selectBots(args[0])
	for _, b := range bots {
		b.SetShouldMove(enabled)
	}

	status := c.scheme.Error.Sprint("disabled")
	if enabled {
		status = c.scheme.Success.Sprint("enabled")
	}
	return append(out, ok("Movement %s for %s %s", status, c.scheme.Bot.Sprint(len(bots)), plural(len(bots), "bot")))
}

func (c *Console) chat(line string, args []string) []Reply {
	message := rest(line, 2)
	if len(args) < 2 || message == "" {
		return fail("Usage: chat <bots> <message...>")
	}

	bots, out := c.selectBots(args[0])
	sent := 0
	for _, b := range bots {
		if err := b.SendChat(message); err != nil {
			out = append(out, fail("Bot '%s' could not chat: %v", c.name(b.Nickname()), err)...)
			continue
		}
		sent++
	}
	return append(out, ok("Sent message from %s %s", c.scheme.Bot.Sprint(sent), plural(sent, "bot")))
}

func (c *Console) list() []Reply {
	st := c.fleet.Stats()
	limit := "unbounded"
	if st.Limit > 0 {
		limit = strconv.Itoa(st.Limit)
	}

	out := []Reply{ok("%d %s (%d connected, %d pending), limit %s, tick %d",
		st.Total, plural(st.Total, "bot"), st.Connected, st.Pending, limit, st.Tick)}
	for _, b := range c.fleet.ListBots() {
		state := b.State().String()
		switch b.State() {
		case bot.StateConnected:
			state = c.scheme.Connected.Sprint(state)
		case bot.StatePending:
			state = c.scheme.Pending.Sprint(state)
		}
		walk := "still"
		if b.ShouldMove() {
			walk = c.scheme.Moving.Sprint("walking")
		}
		out = append(out, ok("  %s %s %s", c.name(b.Nickname()), state, walk))
	}
	return out
}

func (c *Console) historyOf(ctx context.Context, args []string) []Reply {
	if len(args) != 1 {
		return fail("Usage: history <name|id>")
	}
	if c.history == nil {
		return fail("History is not recorded, set record.indexPath")
	}

	ctx, cancel := context.WithTimeout(ctx, historyTimeout)
	defer cancel()

	var (
		events []fleet.LifecycleEvent
		err    error
	)
	// Nicknames are reused across reconnects; ids name one bot.
	if _, perr := uuid.Parse(args[0]); perr == nil {
		events, err = c.history.Events(ctx, args[0])
	} else {
		events, err = c.history.EventsByName(ctx, args[0])
	}
	if err != nil {
		return fail("History lookup failed: %v", err)
	}
	if len(events) == 0 {
		return fail("No history for '%s'", c.name(args[0]))
	}

	out := make([]Reply, 0, len(events))
	for _, ev := range events {
		text := fmt.Sprintf("tick %d %s %s", ev.Tick, c.name(ev.Nickname), ev.Kind)
		if ev.Detail != "" {
			text += " (" + ev.Detail + ")"
		}
		out = append(out, Reply{Ok: true, Text: text})
	}
	return out
}

// selectBots resolves a selector. Unknown names produce failure replies;
// each bot appears at most once.
func (c *Console) selectBots(selector string) ([]*bot.Bot, []Reply) {
	if selector == "*" {
		bots := c.fleet.ListBots()
		if len(bots) == 0 {
			return nil, fail("No bots are running")
		}
		return bots, nil
	}

	var (
		bots []*bot.Bot
		out  []Reply
		seen = make(map[*bot.Bot]bool)
	)
	for _, name := range strings.Split(selector, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		b, err := c.fleet.FindBotByName(name)
		if err != nil {
			out = append(out, fail("Unknown bot '%s'", name)...)
			continue
		}
		if !seen[b] {
			seen[b] = true
			bots = append(bots, b)
		}
	}
	return bots, out
}

func (c *Console) name(n string) string {
	return c.scheme.Bot.Sprint(n)
}

func ok(format string, args ...any) Reply {
	return Reply{Ok: true, Text: fmt.Sprintf(format, args...)}
}

func fail(format string, args ...any) []Reply {
	return []Reply{{Ok: false, Text: fmt.Sprintf(format, args...)}}
}

// cause strips the fleet.Error wrapper, whose text repeats the bot name.
func cause(err error) error {
	var ferr *fleet.Error
	if errors.As(err, &ferr) {
		return ferr.Err
	}
	return err
}

func plural(n int, word string) string {
	if n == 1 {
		return word
	}
	return word + "s"
}

// rest returns line with its first n fields removed.
func rest(line string, n int) string {
	s := strings.TrimSpace(line)
	for i := 0; i < n; i++ {
		idx := strings.IndexFunc(s, isSpace)
		if idx < 0 {
			return ""
		}
		s = strings.TrimLeftFunc(s[idx:], isSpace)
	}
	return s
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t'
}
