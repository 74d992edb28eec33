package fleet

import (
	"sync"
	"time"

	"github.com/wesleyorama2/botswarm/internal/bot"
)

// fakeLink records packets and lets tests simulate server behaviour.
type fakeLink struct {
	mu       sync.Mutex
	poses    []bot.Pose
	chats    []string
	teleport *bot.Pose
	closed   bool
	done     chan struct{}
	dropOnce sync.Once
}

func newFakeLink() *fakeLink {
	return &fakeLink{done: make(chan struct{})}
}

func (l *fakeLink) EmitPose(p bot.Pose) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.poses = append(l.poses, p)
	return nil
}

func (l *fakeLink) EmitChat(message string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.chats = append(l.chats, message)
	return nil
}

func (l *fakeLink) TakeTeleport() (bot.Pose, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.teleport == nil {
		return bot.Pose{}, false
	}
	p := *l.teleport
	l.teleport = nil
	return p, true
}

func (l *fakeLink) Done() <-chan struct{} { return l.done }

func (l *fakeLink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

// Kick simulates the server dropping the connection.
func (l *fakeLink) Kick() {
	l.dropOnce.Do(func() { close(l.done) })
}

func (l *fakeLink) SetTeleport(p bot.Pose) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.teleport = &p
}

func (l *fakeLink) PoseCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.poses)
}

func (l *fakeLink) Chats() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.chats...)
}

func (l *fakeLink) Closed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// fakeTransport hands out fakeLinks keyed by nickname.
type fakeTransport struct {
	mu     sync.Mutex
	links  map[string]*fakeLink
	opened []string
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{links: make(map[string]*fakeLink)}
}

func (t *fakeTransport) Open(id, nickname string) bot.Link {
	t.mu.Lock()
	defer t.mu.Unlock()
	l := newFakeLink()
	t.links[nickname] = l
	t.opened = append(t.opened, nickname)
	return l
}

func (t *fakeTransport) Link(nickname string) *fakeLink {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.links[nickname]
}

func (t *fakeTransport) Opened() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.opened...)
}

// stepClock advances by a fixed step every time it is read.
type stepClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func newStepClock(step time.Duration) *stepClock {
	return &stepClock{now: time.Unix(1_700_000_000, 0), step: step}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(c.step)
	return c.now
}

// memRecorder keeps every event in memory.
type memRecorder struct {
	mu        sync.Mutex
	lifecycle []LifecycleEvent
	packets   []PacketEvent
}

func (r *memRecorder) RecordLifecycle(ev LifecycleEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lifecycle = append(r.lifecycle, ev)
}

func (r *memRecorder) RecordPacket(ev PacketEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.packets = append(r.packets, ev)
}

func (r *memRecorder) Kinds(nickname string) []EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	var kinds []EventKind
	for _, ev := range r.lifecycle {
		if ev.Nickname == nickname {
			kinds = append(kinds, ev.Kind)
		}
	}
	return kinds
}
