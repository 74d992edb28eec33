package ws

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/botswarm/internal/bot"
)

// gameServer is a minimal server: it answers hello with welcome and
// forwards every decoded client packet to received.
type gameServer struct {
	t        *testing.T
	codec    Codec
	welcome  map[string]any
	received chan map[string]any
	conns    chan *websocket.Conn
	upgrader websocket.Upgrader
}

func newGameServer(t *testing.T, codecName string, welcome map[string]any) (*gameServer, *httptest.Server) {
	t.Helper()
	codec, err := CodecByName(codecName)
	require.NoError(t, err)

	gs := &gameServer{
		t:        t,
		codec:    codec,
		welcome:  welcome,
		received: make(chan map[string]any, 64),
		conns:    make(chan *websocket.Conn, 1),
	}
	srv := httptest.NewServer(http.HandlerFunc(gs.handle))
	t.Cleanup(srv.Close)
	return gs, srv
}

func (gs *gameServer) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := gs.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	_, data, err := conn.ReadMessage()
	if err != nil {
		return
	}
	gs.received <- gs.decode(data)

	if gs.welcome != nil {
		if err := gs.send(conn, gs.welcome); err != nil {
			return
		}
	}
	gs.conns <- conn

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		gs.received <- gs.decode(data)
	}
}

func (gs *gameServer) decode(data []byte) map[string]any {
	out := map[string]any{}
	if gs.codec.Name() == "cbor" {
		_ = cbor.Unmarshal(data, &out)
	} else {
		_ = json.Unmarshal(data, &out)
	}
	return out
}

func (gs *gameServer) send(conn *websocket.Conn, msg map[string]any) error {
	b, err := gs.codec.Encode(msg)
	if err != nil {
		return err
	}
	return conn.WriteMessage(gs.codec.FrameType(), b)
}

func (gs *gameServer) next(t *testing.T) map[string]any {
	t.Helper()
	select {
	case msg := <-gs.received:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for client packet")
		return nil
	}
}

func (gs *gameServer) conn(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case c := <-gs.conns:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for connection")
		return nil
	}
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(t *testing.T, cfg ClientConfig) *Client {
	t.Helper()
	c, err := NewClient(cfg, quietLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestNewClientValidation(t *testing.T) {
	_, err := NewClient(ClientConfig{}, nil)
	assert.Error(t, err)

	_, err = NewClient(ClientConfig{URL: "ws://localhost:1", Codec: "xml"}, nil)
	assert.Error(t, err)
}

func TestSessionHandshakeAndPackets(t *testing.T) {
	for _, codec := range []string{"json", "cbor"} {
		t.Run(codec, func(t *testing.T) {
			gs, srv := newGameServer(t, codec, map[string]any{
				"type":        TypeWelcome,
				"x":           10.5,
				"y":           64.0,
				"z":           -3.5,
				"max_players": 50,
			})
			client := newTestClient(t, ClientConfig{URL: wsURL(srv), Codec: codec})

			link := client.Open("id-1", "Alice")

			// Queued before the dial completes.
			require.NoError(t, link.EmitPose(bot.Pose{X: 1, Y: 64, Z: 2, Yaw: -90}))

			hello := gs.next(t)
			assert.Equal(t, TypeHello, hello["type"])
			assert.Equal(t, "Alice", hello["name"])
			assert.Equal(t, "id-1", hello["bot_id"])

			pose := gs.next(t)
			assert.Equal(t, TypePose, pose["type"])
			assert.Equal(t, 1.0, pose["x"])
			assert.Equal(t, 2.0, pose["z"])
			assert.Equal(t, -90.0, pose["yaw"])

			require.NoError(t, link.EmitChat("hello world"))
			chat := gs.next(t)
			assert.Equal(t, TypeChat, chat["type"])
			assert.Equal(t, "hello world", chat["message"])

			var spawn bot.Pose
			require.Eventually(t, func() bool {
				p, ok := link.TakeTeleport()
				if ok {
					spawn = p
				}
				return ok
			}, 2*time.Second, 5*time.Millisecond)
			assert.Equal(t, bot.Pose{X: 10.5, Y: 64, Z: -3.5}, spawn)

			_, again := link.TakeTeleport()
			assert.False(t, again, "teleport is consumed once")
			assert.Equal(t, 50, client.Capacity())
		})
	}
}

func TestSessionServerTeleport(t *testing.T) {
	gs, srv := newGameServer(t, "json", map[string]any{"type": TypeWelcome})
	client := newTestClient(t, ClientConfig{URL: wsURL(srv)})

	link := client.Open("id-1", "Bob")
	gs.next(t)
	conn := gs.conn(t)

	require.NoError(t, gs.send(conn, map[string]any{"type": TypeTeleport, "x": 5.0, "y": 80.0, "z": 6.0}))

	require.Eventually(t, func() bool {
		p, ok := link.TakeTeleport()
		return ok && p.X == 5 && p.Y == 80 && p.Z == 6
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, client.Capacity(), "welcome without max_players leaves capacity unknown")
}

func TestSessionKick(t *testing.T) {
	gs, srv := newGameServer(t, "json", map[string]any{"type": TypeWelcome})
	client := newTestClient(t, ClientConfig{URL: wsURL(srv)})

	link := client.Open("id-1", "Carol")
	session := link.(*Session)
	gs.next(t)
	conn := gs.conn(t)

	require.NoError(t, gs.send(conn, map[string]any{"type": TypeKick, "reason": "spam"}))

	select {
	case <-link.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not end after kick")
	}
	assert.ErrorIs(t, session.Err(), ErrKicked)
	assert.Contains(t, session.Err().Error(), "spam")
	assert.ErrorIs(t, link.EmitPose(bot.Pose{}), ErrSessionClosed)
	assert.ErrorIs(t, link.EmitChat("hi"), ErrSessionClosed)
}

func TestSessionDialFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := wsURL(srv)
	srv.Close()

	client := newTestClient(t, ClientConfig{URL: url, HandshakeTimeout: time.Second})
	link := client.Open("id-1", "Dave")

	select {
	case <-link.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("session did not end after failed dial")
	}
	assert.Error(t, link.(*Session).Err())
}

func TestSessionBacklogFull(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	client, err := NewClient(ClientConfig{URL: wsURL(srv), SendBuffer: 1, HandshakeTimeout: 5 * time.Second}, quietLogger())
	require.NoError(t, err)
	defer client.Close()

	link := client.Open("id-1", "Erin")
	require.NoError(t, link.EmitPose(bot.Pose{X: 1}))
	assert.ErrorIs(t, link.EmitPose(bot.Pose{X: 2}), ErrBacklogFull)
}

func TestSessionCloseIsLocal(t *testing.T) {
	gs, srv := newGameServer(t, "json", map[string]any{"type": TypeWelcome})
	client := newTestClient(t, ClientConfig{URL: wsURL(srv)})

	link := client.Open("id-1", "Frank")
	gs.next(t)
	gs.conn(t)

	require.NoError(t, link.Close())
	require.NoError(t, link.Close())

	<-link.Done()
	assert.NoError(t, link.(*Session).Err())
	assert.ErrorIs(t, link.EmitPose(bot.Pose{}), ErrSessionClosed)
	require.Eventually(t, func() bool { return client.Sessions() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestSessionCloseDoesNotLogConnectionLost(t *testing.T) {
	gs, srv := newGameServer(t, "json", map[string]any{"type": TypeWelcome})
	var logs bytes.Buffer
	client, err := NewClient(ClientConfig{URL: wsURL(srv)}, slog.New(slog.NewTextHandler(&logs, nil)))
	require.NoError(t, err)

	link := client.Open("id-1", "Hana")
	gs.next(t)
	gs.conn(t)

	require.NoError(t, link.Close())
	require.NoError(t, client.Close())
	assert.NotContains(t, logs.String(), "connection lost")
}

func TestSessionCloseDoesNotWaitForStalledServer(t *testing.T) {
	release := make(chan struct{})
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		<-release
	}))
	defer srv.Close()

	client, err := NewClient(ClientConfig{URL: wsURL(srv), SendBuffer: 4, WriteTimeout: 2 * time.Second}, quietLogger())
	require.NoError(t, err)
	defer client.Close()
	defer close(release)

	link := client.Open("id-1", "Ivan")
	big := strings.Repeat("x", 1<<20)
	require.Eventually(t, func() bool {
		return errors.Is(link.EmitChat(big), ErrBacklogFull)
	}, 5*time.Second, time.Millisecond, "writer never stalled")

	start := time.Now()
	require.NoError(t, link.Close())
	assert.Less(t, time.Since(start), 200*time.Millisecond)

	select {
	case <-link.Done():
	default:
		t.Fatal("session still open after close")
	}
	assert.NoError(t, link.(*Session).Err())
}

func TestClientCloseEndsSessions(t *testing.T) {
	gs, srv := newGameServer(t, "json", map[string]any{"type": TypeWelcome})
	client, err := NewClient(ClientConfig{URL: wsURL(srv)}, quietLogger())
	require.NoError(t, err)

	a := client.Open("id-a", "Gina")
	gs.next(t)
	gs.conn(t)

	require.NoError(t, client.Close())
	select {
	case <-a.Done():
	default:
		t.Fatal("session still open after client close")
	}
	assert.Equal(t, 0, client.Sessions())
}
