package record

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/botswarm/internal/bot"
	"github.com/wesleyorama2/botswarm/internal/fleet"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestTraceWriterWritesRecords(t *testing.T) {
	dir := t.TempDir()
	tw, err := NewTraceWriter(dir, "swarm", quietLogger())
	require.NoError(t, err)

	at := time.Date(2026, 3, 4, 10, 15, 0, 0, time.UTC)
	pose := bot.Pose{X: 1, Y: 64, Z: 2, Yaw: -90}

	tw.RecordLifecycle(fleet.LifecycleEvent{Tick: 1, At: at, BotID: "b1", Nickname: "Alice", Kind: fleet.EventConnected})
	tw.RecordPacket(fleet.PacketEvent{Tick: 2, At: at.Add(time.Second), BotID: "b1", Nickname: "Alice", Kind: fleet.PacketPose, Pose: &pose})
	tw.RecordPacket(fleet.PacketEvent{Tick: 3, At: at.Add(2 * time.Second), BotID: "b1", Nickname: "Alice", Kind: fleet.PacketChat, Message: "hi"})

	require.NoError(t, tw.Close())
	assert.Equal(t, uint64(3), tw.Written())
	assert.Zero(t, tw.Dropped())

	recs, err := ReadTrace(filepath.Join(dir, "swarm-2026-03-04-10.jsonl.zst"))
	require.NoError(t, err)
	require.Len(t, recs, 3)

	assert.Equal(t, "lifecycle", recs[0].Type)
	require.NotNil(t, recs[0].Lifecycle)
	assert.Equal(t, fleet.EventConnected, recs[0].Lifecycle.Kind)

	assert.Equal(t, "packet", recs[1].Type)
	require.NotNil(t, recs[1].Packet)
	require.NotNil(t, recs[1].Packet.Pose)
	assert.Equal(t, pose, *recs[1].Packet.Pose)

	assert.Equal(t, "hi", recs[2].Packet.Message)
}

func TestTraceWriterRotatesHourly(t *testing.T) {
	dir := t.TempDir()
	tw, err := NewTraceWriter(dir, "", quietLogger())
	require.NoError(t, err)

	first := time.Date(2026, 3, 4, 10, 59, 59, 0, time.UTC)
	second := first.Add(2 * time.Second)

	tw.RecordPacket(fleet.PacketEvent{At: first, Nickname: "A", Kind: fleet.PacketChat, Message: "one"})
	tw.RecordPacket(fleet.PacketEvent{At: second, Nickname: "A", Kind: fleet.PacketChat, Message: "two"})
	require.NoError(t, tw.Close())

	files, err := filepath.Glob(filepath.Join(dir, "trace-*.jsonl.zst"))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		filepath.Join(dir, "trace-2026-03-04-10.jsonl.zst"),
		filepath.Join(dir, "trace-2026-03-04-11.jsonl.zst"),
	}, files)

	recs, err := ReadTrace(filepath.Join(dir, "trace-2026-03-04-11.jsonl.zst"))
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "two", recs[0].Packet.Message)
}

func TestTraceWriterDropsAfterClose(t *testing.T) {
	tw, err := NewTraceWriter(t.TempDir(), "x", quietLogger())
	require.NoError(t, err)
	require.NoError(t, tw.Close())
	require.NoError(t, tw.Close())

	tw.RecordPacket(fleet.PacketEvent{At: time.Now(), Kind: fleet.PacketChat})
	assert.Equal(t, uint64(1), tw.Dropped())
}

func TestNewTraceWriterRequiresDir(t *testing.T) {
	_, err := NewTraceWriter("", "x", nil)
	assert.Error(t, err)
}
