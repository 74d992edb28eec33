package fleet

import (
	"sync"
	"time"

	"github.com/wesleyorama2/botswarm/internal/bot"
)

// instrumentedLink wraps a transport link so every packet feeds the
// metrics engine and the recorder.
type instrumentedLink struct {
	bot.Link

	s        *Supervisor
	botID    string
	nickname string

	mu       sync.Mutex
	lastPose time.Time
}

func (s *Supervisor) instrument(b *bot.Bot, link bot.Link) bot.Link {
	return &instrumentedLink{
		Link:     link,
		s:        s,
		botID:    b.ID(),
		nickname: b.Nickname(),
	}
}

func (l *instrumentedLink) EmitPose(p bot.Pose) error {
	err := l.Link.EmitPose(p)
	now := l.s.clock()

	l.mu.Lock()
	var gap time.Duration
	if !l.lastPose.IsZero() {
		gap = now.Sub(l.lastPose)
	}
	if err == nil {
		l.lastPose = now
	}
	l.mu.Unlock()

	l.s.metrics.RecordPose(err == nil, gap)
	if err != nil {
		l.s.logger.Debug("pose not sent", "bot", l.nickname, "error", err)
	}

	l.s.recorder.RecordPacket(PacketEvent{
		Tick:     l.s.tick.Load(),
		At:       now,
		BotID:    l.botID,
		Nickname: l.nickname,
		Kind:     PacketPose,
		Pose:     &p,
		Failed:   err != nil,
	})
	return err
}

func (l *instrumentedLink) EmitChat(message string) error {
	err := l.Link.EmitChat(message)

	l.s.metrics.RecordChat(err == nil)
	if err != nil {
		l.s.logger.Debug("chat not sent", "bot", l.nickname, "error", err)
	}

	l.s.recorder.RecordPacket(PacketEvent{
		Tick:     l.s.tick.Load(),
		At:       l.s.clock(),
		BotID:    l.botID,
		Nickname: l.nickname,
		Kind:     PacketChat,
		Message:  message,
		Failed:   err != nil,
	})
	return err
}
