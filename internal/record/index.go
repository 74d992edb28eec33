package record

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"github.com/wesleyorama2/botswarm/internal/fleet"
)

const (
	indexQueueSize = 16384
	indexBatchSize = 256
)

// Index stores lifecycle events in SQLite for later lookup.
//
// A single goroutine owns all writes; RecordLifecycle only enqueues.
type Index struct {
	db     *sql.DB
	logger *slog.Logger

	mu      sync.RWMutex
	closed  bool
	ch      chan indexReq
	wg      sync.WaitGroup
	dropped atomic.Uint64
}

type indexReq struct {
	ev    *fleet.LifecycleEvent
	flush chan struct{}
}

// OpenIndex opens or creates the database at path.
func OpenIndex(path string, logger *slog.Logger) (*Index, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	idx := &Index{
		db:     db,
		logger: logger.With("component", "index"),
		ch:     make(chan indexReq, indexQueueSize),
	}
	idx.wg.Add(1)
	go func() {
		defer idx.wg.Done()
		idx.loop()
	}()
	return idx, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS bot_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			tick INTEGER NOT NULL,
			at TEXT NOT NULL,
			bot_id TEXT NOT NULL,
			nickname TEXT NOT NULL,
			kind TEXT NOT NULL,
			detail TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_bot_events_bot ON bot_events(bot_id, id);`,
		`CREATE INDEX IF NOT EXISTS idx_bot_events_nickname ON bot_events(nickname COLLATE NOCASE, id);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

// RecordLifecycle implements fleet.Recorder.
func (idx *Index) RecordLifecycle(ev fleet.LifecycleEvent) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if idx.closed {
		idx.dropped.Add(1)
		return
	}
	select {
	case idx.ch <- indexReq{ev: &ev}:
	default:
		idx.dropped.Add(1)
	}
}

// RecordPacket implements fleet.Recorder. Packets are not indexed.
func (idx *Index) RecordPacket(fleet.PacketEvent) {}

// Dropped returns the number of events that were not queued.
func (idx *Index) Dropped() uint64 { return idx.dropped.Load() }

// Sync blocks until every event queued before the call is written.
func (idx *Index) Sync(ctx context.Context) error {
	done := make(chan struct{})

	idx.mu.RLock()
	if idx.closed {
		idx.mu.RUnlock()
		return fmt.Errorf("index closed")
	}
	select {
	case idx.ch <- indexReq{flush: done}:
	case <-ctx.Done():
		idx.mu.RUnlock()
		return ctx.Err()
	}
	idx.mu.RUnlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Events returns the recorded events of one bot, oldest first.
func (idx *Index) Events(ctx context.Context, botID string) ([]fleet.LifecycleEvent, error) {
	return idx.query(ctx, `SELECT tick, at, bot_id, nickname, kind, detail
		FROM bot_events WHERE bot_id = ? ORDER BY id`, botID)
}

// EventsByName returns every recorded event for a nickname, ignoring case,
// across all bots that used it.
func (idx *Index) EventsByName(ctx context.Context, nickname string) ([]fleet.LifecycleEvent, error) {
	return idx.query(ctx, `SELECT tick, at, bot_id, nickname, kind, detail
		FROM bot_events WHERE nickname = ? COLLATE NOCASE ORDER BY id`, nickname)
}

func (idx *Index) query(ctx context.Context, q string, arg string) ([]fleet.LifecycleEvent, error) {
	rows, err := idx.db.QueryContext(ctx, q, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []fleet.LifecycleEvent
	for rows.Next() {
		var (
			ev   fleet.LifecycleEvent
			at   string
			kind string
		)
		if err := rows.Scan(&ev.Tick, &at, &ev.BotID, &ev.Nickname, &kind, &ev.Detail); err != nil {
			return nil, err
		}
		ev.Kind = fleet.EventKind(kind)
		if ev.At, err = time.Parse(time.RFC3339Nano, at); err != nil {
			return nil, fmt.Errorf("bad timestamp %q: %w", at, err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// Close drains pending writes and closes the database.
func (idx *Index) Close() error {
	idx.mu.Lock()
	if idx.closed {
		idx.mu.Unlock()
		return nil
	}
	idx.closed = true
	close(idx.ch)
	idx.mu.Unlock()

	idx.wg.Wait()
	return idx.db.Close()
}

func (idx *Index) loop() {
	batch := make([]*fleet.LifecycleEvent, 0, indexBatchSize)
	var waiters []chan struct{}

	for req := range idx.ch {
		batch, waiters = batch[:0], waiters[:0]
		add := func(r indexReq) {
			if r.ev != nil {
				batch = append(batch, r.ev)
			}
			if r.flush != nil {
				waiters = append(waiters, r.flush)
			}
		}
		add(req)

	drain:
		for len(batch) < indexBatchSize {
			select {
			case r, ok := <-idx.ch:
				if !ok {
					break drain
				}
				add(r)
			default:
				break drain
			}
		}

		if err := idx.insert(batch); err != nil {
			idx.logger.Error("index write failed", "events", len(batch), "error", err)
		}
		for _, w := range waiters {
			close(w)
		}
	}
}

func (idx *Index) insert(batch []*fleet.LifecycleEvent) error {
	if len(batch) == 0 {
		return nil
	}
	tx, err := idx.db.Begin()
	if err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT INTO bot_events (tick, at, bot_id, nickname, kind, detail) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, ev := range batch {
		if _, err := stmt.Exec(int64(ev.Tick), ev.At.UTC().Format(time.RFC3339Nano), ev.BotID, ev.Nickname, string(ev.Kind), ev.Detail); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}
