// Package ws connects bots to a game server over websockets.
package ws

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wesleyorama2/botswarm/internal/bot"
)

const (
	defaultHandshakeTimeout = 5 * time.Second
	defaultWriteTimeout     = 5 * time.Second
	defaultSendBuffer       = 64
)

// ClientConfig configures a Client.
type ClientConfig struct {
	URL              string
	Codec            string // "json" (default) or "cbor"
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	SendBuffer       int // outbound packets queued per session
}

// Client opens one websocket session per bot.
type Client struct {
	cfg    ClientConfig
	codec  Codec
	dialer *websocket.Dialer
	logger *slog.Logger

	maxPlayers atomic.Int64

	mu       sync.Mutex
	sessions map[*Session]struct{}
	wg       sync.WaitGroup
}

// NewClient validates cfg and returns a Client.
func NewClient(cfg ClientConfig, logger *slog.Logger) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("server url is required")
	}
	codec, err := CodecByName(cfg.Codec)
	if err != nil {
		return nil, err
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = defaultSendBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		cfg:   cfg,
		codec: codec,
		dialer: &websocket.Dialer{
			HandshakeTimeout: cfg.HandshakeTimeout,
			ReadBufferSize:   16 * 1024,
			WriteBufferSize:  16 * 1024,
		},
		logger:   logger.With("component", "ws"),
		sessions: make(map[*Session]struct{}),
	}, nil
}

// Open starts a session for the bot and returns without waiting for the
// dial. Packets emitted before the handshake completes are queued.
func (c *Client) Open(id, nickname string) bot.Link {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		client:   c,
		botID:    id,
		nickname: nickname,
		ctx:      ctx,
		cancel:   cancel,
		out:      make(chan []byte, c.cfg.SendBuffer),
		done:     make(chan struct{}),
	}

	c.mu.Lock()
	c.sessions[s] = struct{}{}
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		s.run()
		c.mu.Lock()
		delete(c.sessions, s)
		c.mu.Unlock()
	}()
	return s
}

// Capacity returns the player limit most recently advertised by the
// server, or 0 if none was seen.
func (c *Client) Capacity() int {
	return int(c.maxPlayers.Load())
}

// Sessions returns the number of sessions that have not finished yet.
func (c *Client) Sessions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sessions)
}

// Close closes every open session and waits for their goroutines.
func (c *Client) Close() error {
	c.mu.Lock()
	open := make([]*Session, 0, len(c.sessions))
	for s := range c.sessions {
		open = append(open, s)
	}
	c.mu.Unlock()

	for _, s := range open {
		_ = s.Close()
	}
	c.wg.Wait()
	return nil
}
