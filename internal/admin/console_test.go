package admin

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/botswarm/internal/bot"
	"github.com/wesleyorama2/botswarm/internal/fleet"
)

type chatLink struct {
	mu    sync.Mutex
	chats []string
	done  chan struct{}
}

func (l *chatLink) EmitPose(bot.Pose) error { return nil }

func (l *chatLink) EmitChat(message string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.chats = append(l.chats, message)
	return nil
}

func (l *chatLink) TakeTeleport() (bot.Pose, bool) { return bot.Pose{}, false }
func (l *chatLink) Done() <-chan struct{}          { return l.done }
func (l *chatLink) Close() error                   { return nil }

type memTransport struct {
	mu    sync.Mutex
	links map[string]*chatLink
}

func (t *memTransport) Open(id, nickname string) bot.Link {
	t.mu.Lock()
	defer t.mu.Unlock()
	l := &chatLink{done: make(chan struct{})}
	t.links[nickname] = l
	return l
}

func (t *memTransport) chats(nickname string) []string {
	t.mu.Lock()
	l := t.links[nickname]
	t.mu.Unlock()
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.chats...)
}

func newTestConsole(t *testing.T, opts ...fleet.Option) (*Console, *fleet.Supervisor, *memTransport) {
	t.Helper()
	tr := &memTransport{links: make(map[string]*chatLink)}
	sup := fleet.New(tr, append([]fleet.Option{fleet.WithSeed(11), fleet.WithMoveByDefault(false)}, opts...)...)
	return NewConsole(sup), sup, tr
}

func texts(replies []Reply) []string {
	out := make([]string, 0, len(replies))
	for _, r := range replies {
		out = append(out, r.Text)
	}
	return out
}

func allOk(replies []Reply) bool {
	for _, r := range replies {
		if !r.Ok {
			return false
		}
	}
	return true
}

func TestCreateNamed(t *testing.T) {
	c, sup, _ := newTestConsole(t)

	replies := c.Exec("create named Alice")
	require.True(t, allOk(replies))
	assert.Equal(t, []string{"Created new bot 'Alice'"}, texts(replies))

	b, err := sup.FindBotByName("alice")
	require.NoError(t, err)
	assert.True(t, b.IsConnected())

	replies = c.Exec("create named ALICE")
	require.Len(t, replies, 1)
	assert.False(t, replies[0].Ok)
	assert.Equal(t, "Failed to create bot 'ALICE': name already in use", replies[0].Text)

	replies = c.Exec("create named x")
	assert.False(t, replies[0].Ok)
	assert.Contains(t, replies[0].Text, "invalid bot name")
}

func TestCreateRandom(t *testing.T) {
	tests := []struct {
		name      string
		line      string
		created   int
		ok        bool
		wantDelay uint64
	}{
		{"defaults", "create random", 1, true, DefaultRandomDelay},
		{"amount", "create random 3", 3, true, DefaultRandomDelay},
		{"amount and delay", "create random 3 5", 3, true, 5},
		{"zero amount", "create random 0", 0, false, 0},
		{"over capacity", "create random 11", 0, false, 0},
		{"not a number", "create random many", 0, false, 0},
		{"negative delay", "create random 2 -1", 0, false, 0},
		{"too many args", "create random 1 2 3", 0, false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, sup, _ := newTestConsole(t, fleet.WithMaxBots(10))

			replies := c.Exec(tt.line)
			assert.Equal(t, tt.ok, allOk(replies), texts(replies))

			bots := sup.ListBots()
			require.Len(t, bots, tt.created)
			for i, b := range bots {
				assert.Equal(t, tt.wantDelay*uint64(i), b.ConnectAt())
			}
		})
	}
}

func TestCreateRandomStopsAtCapacity(t *testing.T) {
	c, sup, _ := newTestConsole(t, fleet.WithMaxBots(3))
	c.Exec("create named Alice")

	replies := c.Exec("create random 3 0")
	require.Len(t, replies, 3)
	assert.True(t, replies[0].Ok)
	assert.True(t, replies[1].Ok)
	assert.False(t, replies[2].Ok)
	assert.Equal(t, "Failed to create random bot: fleet is at capacity", replies[2].Text)
	assert.Len(t, sup.ListBots(), 3)
}

func TestInfo(t *testing.T) {
	c, _, _ := newTestConsole(t)
	c.Exec("create named Alice")
	c.Exec("create named Bob")

	replies := c.Exec("info Alice,ghost")
	require.Len(t, replies, 2)
	assert.False(t, replies[0].Ok)
	assert.Equal(t, "Unknown bot 'ghost'", replies[0].Text)
	assert.True(t, strings.HasPrefix(replies[1].Text, "BotInfo: Bot{name=Alice"))

	replies = c.Exec("info *")
	assert.Len(t, replies, 2)
	assert.True(t, allOk(replies))

	replies = c.Exec("info bob,BOB")
	assert.Len(t, replies, 1, "duplicates resolve once")
}

func TestRemove(t *testing.T) {
	c, sup, _ := newTestConsole(t)
	c.Exec("create named Alice")
	c.Exec("create named Bob")
	c.Exec("create named Carol")

	replies := c.Exec("remove Alice,Carol")
	assert.Equal(t, []string{"Removed bot 'Alice'", "Removed bot 'Carol'"}, texts(replies))
	assert.Len(t, sup.ListBots(), 1)

	replies = c.Exec("remove Alice")
	assert.False(t, allOk(replies))

	c.Exec("remove *")
	assert.Empty(t, sup.ListBots())

	replies = c.Exec("remove *")
	assert.Equal(t, []string{"No bots are running"}, texts(replies))
}

func TestMove(t *testing.T) {
	c, sup, _ := newTestConsole(t)
	c.Exec("create named Alice")
	c.Exec("create named Bob")

	replies := c.Exec("move * true")
	assert.Equal(t, []string{"Movement enabled for 2 bots"}, texts(replies))
	for _, b := range sup.ListBots() {
		assert.True(t, b.ShouldMove())
	}

	replies = c.Exec("move Bob false")
	assert.Equal(t, []string{"Movement disabled for 1 bot"}, texts(replies))
	bob, _ := sup.FindBotByName("Bob")
	assert.False(t, bob.ShouldMove())

	replies = c.Exec("move Bob maybe")
	assert.False(t, allOk(replies))
}

func TestChat(t *testing.T) {
	c, _, tr := newTestConsole(t)
	c.Exec("create named Alice")
	c.Exec("create named Bob")

	replies := c.Exec("chat Alice,Bob   /say  hello   there")
	assert.Equal(t, []string{"Sent message from 2 bots"}, texts(replies))
	assert.Equal(t, []string{"/say  hello   there"}, tr.chats("Alice"))
	assert.Equal(t, []string{"/say  hello   there"}, tr.chats("Bob"))

	replies = c.Exec("chat Alice")
	assert.False(t, allOk(replies))
}

func TestChatPendingBot(t *testing.T) {
	c, sup, _ := newTestConsole(t)
	_, err := sup.CreateBot("Later", 100)
	require.NoError(t, err)

	replies := c.Exec("chat Later hi")
	require.Len(t, replies, 2)
	assert.False(t, replies[0].Ok)
	assert.Contains(t, replies[0].Text, "not connected")
	assert.Equal(t, "Sent message from 0 bots", replies[1].Text)
}

func TestList(t *testing.T) {
	c, _, _ := newTestConsole(t, fleet.WithMaxBots(5))
	c.Exec("create named Alice")
	c.Exec("move Alice true")
	c.Exec("create random 2 50")

	replies := c.Exec("list")
	require.Len(t, replies, 4)
	assert.Equal(t, "3 bots (2 connected, 1 pending), limit 5, tick 0", replies[0].Text)
	assert.Equal(t, "  Alice connected walking", replies[1].Text)
	assert.True(t, strings.HasSuffix(replies[3].Text, "pending still"))
}

type fakeHistory struct {
	events []fleet.LifecycleEvent
	err    error
}

func (h fakeHistory) Events(_ context.Context, botID string) ([]fleet.LifecycleEvent, error) {
	var out []fleet.LifecycleEvent
	for _, ev := range h.events {
		if ev.BotID == botID {
			out = append(out, ev)
		}
	}
	return out, h.err
}

func (h fakeHistory) EventsByName(_ context.Context, _ string) ([]fleet.LifecycleEvent, error) {
	return h.events, h.err
}

func TestHistory(t *testing.T) {
	c, _, _ := newTestConsole(t)
	assert.False(t, allOk(c.Exec("history Alice")), "disabled without an index")

	c.history = fakeHistory{events: []fleet.LifecycleEvent{
		{Tick: 0, Nickname: "Alice", Kind: fleet.EventCreated},
		{Tick: 40, Nickname: "Alice", Kind: fleet.EventDisconnected, Detail: "removed"},
	}}
	assert.Equal(t, []string{
		"tick 0 Alice created",
		"tick 40 Alice disconnected (removed)",
	}, texts(c.Exec("history Alice")))

	c.history = fakeHistory{}
	assert.Equal(t, []string{"No history for 'Bob'"}, texts(c.Exec("history Bob")))

	c.history = fakeHistory{err: errors.New("db closed")}
	assert.Equal(t, []string{"History lookup failed: db closed"}, texts(c.Exec("history Bob")))
}

func TestHistoryByID(t *testing.T) {
	c, _, _ := newTestConsole(t)
	first := "5f1c7a8e-2b1d-4c3e-9a4f-0d2e6b7c8a91"
	c.history = fakeHistory{events: []fleet.LifecycleEvent{
		{Tick: 0, BotID: first, Nickname: "Alice", Kind: fleet.EventCreated},
		{Tick: 12, BotID: first, Nickname: "Alice", Kind: fleet.EventDisconnected, Detail: "removed"},
		{Tick: 30, BotID: "0b9d3f42-6e1a-4f7c-8d25-3c4b5a6e7f80", Nickname: "Alice", Kind: fleet.EventCreated},
	}}

	assert.Equal(t, []string{
		"tick 0 Alice created",
		"tick 12 Alice disconnected (removed)",
	}, texts(c.Exec("history "+first)))
	assert.Len(t, c.Exec("history Alice"), 3)
}

func TestUnknownAndEmpty(t *testing.T) {
	c, _, _ := newTestConsole(t)
	assert.Nil(t, c.Exec("   "))
	assert.Equal(t, []string{"Unknown command 'fly', try 'help'"}, texts(c.Exec("fly away")))
	assert.True(t, allOk(c.Exec("help")))
}

func TestRest(t *testing.T) {
	assert.Equal(t, "a  b", rest("chat x a  b", 2))
	assert.Equal(t, "", rest("chat x", 2))
	assert.Equal(t, "x", rest("  chat\tx", 1))
}
