// Package archive implements the bounded, batching, transactional
// writer that durably records every inbound and outbound message into
// a TimescaleDB/PostgreSQL hypertable (C1 Archive Writer).
package archive

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "github.com/lib/pq"
	"golang.org/x/sync/semaphore"
)

// MessageRecord is one archival row: an inbound or outbound message
// passing through the bridge.
type MessageRecord struct {
	Timestamp                time.Time   // DataMessage.timestamp, ms → UTC
	SignalReceivedTimestamp  time.Time   // envelope.serverReceivedTimestamp
	SignalDeliveredTimestamp *time.Time  // nullable
	Target                   string      // account for inbound; recipient for outbound
	Source                   string      // sender for inbound; account for outbound
	GroupChat                *string     // resolved public group id, or nil
	Mentions                 *string     // opaque text blob, or nil
	Content                  *string     // text, or nil
	CreatedAt                time.Time   // wall-clock at record construction
}

// Config bounds the writer's queue depth, batching thresholds, and
// concurrent database connections.
type Config struct {
	QueueCapacity       int           // default 10000
	BatchSize           int           // default 100
	BatchTimeout        time.Duration // default 5s
	MaxConcurrentWrites int64         // default 5
}

// DefaultConfig returns the spec's default bounds.
func DefaultConfig() Config {
	return Config{
		QueueCapacity:       10000,
		BatchSize:           100,
		BatchTimeout:        5 * time.Second,
		MaxConcurrentWrites: 5,
	}
}

// Writer is the bounded MPSC queue plus batching consumer described in
// spec §4.1. Enqueue may be called from any goroutine; exactly one
// internal consumer goroutine drains the queue.
type Writer struct {
	db     *sql.DB
	cfg    Config
	logger *slog.Logger

	queue chan MessageRecord
	sem   *semaphore.Weighted

	done   chan struct{}
	closed chan struct{}

	depthMu sync.Mutex
	lastFlush time.Time
}

// New opens a database handle for dsn and builds a Writer. The caller
// must call EnsureSchema before Start on a freshly provisioned
// database, and Start before the first Enqueue.
func New(dsn string, cfg Config, logger *slog.Logger) (*Writer, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	return newWithDB(db, cfg, logger), nil
}

// newWithDB builds a Writer around an already-open database handle.
// Split out from New so tests can inject a sqlmock-backed *sql.DB
// without a real network dial.
func newWithDB(db *sql.DB, cfg Config, logger *slog.Logger) *Writer {
	return &Writer{
		db:     db,
		cfg:    cfg,
		logger: logger,
		queue:  make(chan MessageRecord, cfg.QueueCapacity),
		sem:    semaphore.NewWeighted(cfg.MaxConcurrentWrites),
		done:   make(chan struct{}),
		closed: make(chan struct{}),
	}
}

// Enqueue adds record to the queue. It blocks (backpressure) if the
// queue is full, and returns after the record has a slot. It fails
// only if the writer has already been stopped.
func (w *Writer) Enqueue(ctx context.Context, record MessageRecord) error {
	select {
	case <-w.done:
		return fmt.Errorf("archive writer is shut down")
	default:
	}

	select {
	case w.queue <- record:
		return nil
	case <-w.done:
		return fmt.Errorf("archive writer is shut down")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// QueueDepth reports the number of records currently queued, for the
// status endpoint.
func (w *Writer) QueueDepth() int {
	return len(w.queue)
}

// LastFlush reports the wall-clock time of the most recent batch
// flush attempt (successful or not), for the status endpoint.
func (w *Writer) LastFlush() time.Time {
	w.depthMu.Lock()
	defer w.depthMu.Unlock()
	return w.lastFlush
}

// Start launches the batching consumer goroutine. It returns
// immediately; the consumer runs until Stop is called.
func (w *Writer) Start(ctx context.Context) {
	go w.consume(ctx)
}

// Stop closes the queue to new writes, drains whatever remains,
// flushes a final partial batch, and returns once that flush
// completes.
func (w *Writer) Stop(ctx context.Context) {
	close(w.done)
	<-w.closed
	_ = ctx
}

// consume accumulates records until batchSize is reached or
// batchTimeout elapses since the last flush, whichever comes first,
// then commits the batch. On Stop, it drains the queue and flushes a
// final partial batch before exiting.
func (w *Writer) consume(ctx context.Context) {
	defer close(w.closed)

	timer := time.NewTimer(w.cfg.BatchTimeout)
	defer timer.Stop()

	batch := make([]MessageRecord, 0, w.cfg.BatchSize)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		w.commit(ctx, batch)
		batch = batch[:0]
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(w.cfg.BatchTimeout)
	}

	for {
		select {
		case record, ok := <-w.queue:
			if !ok {
				flush()
				return
			}
			batch = append(batch, record)
			if len(batch) >= w.cfg.BatchSize {
				flush()
			}

		case <-timer.C:
			flush()
			timer.Reset(w.cfg.BatchTimeout)

		case <-w.done:
			// Drain whatever is already queued, then flush and exit.
			for {
				select {
				case record := <-w.queue:
					batch = append(batch, record)
					if len(batch) >= w.cfg.BatchSize {
						flush()
					}
				default:
					flush()
					return
				}
			}
		}
	}
}

// commit acquires a connection permit, opens a transaction, inserts
// every record, and commits. Any SQL error rolls back, logs, and
// discards the whole batch — the at-least-once guarantee is not
// strengthened here; see spec §7.
func (w *Writer) commit(ctx context.Context, batch []MessageRecord) {
	w.depthMu.Lock()
	w.lastFlush = time.Now()
	w.depthMu.Unlock()

	if err := w.sem.Acquire(ctx, 1); err != nil {
		w.logger.Error("archive: failed to acquire write permit", "error", err, "batchSize", len(batch))
		return
	}
	defer w.sem.Release(1)

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		w.logger.Error("archive: begin transaction failed", "error", err, "batchSize", len(batch))
		return
	}

	stmt, err := tx.PrepareContext(ctx, insertSQL)
	if err != nil {
		w.logger.Error("archive: prepare insert failed", "error", err)
		tx.Rollback()
		return
	}
	defer stmt.Close()

	for _, r := range batch {
		if _, err := stmt.ExecContext(ctx,
			r.Timestamp, r.SignalReceivedTimestamp, r.SignalDeliveredTimestamp,
			r.Target, r.Source, r.GroupChat, r.Mentions, r.Content, r.CreatedAt,
		); err != nil {
			w.logger.Error("archive: batch insert failed, discarding batch", "error", err, "batchSize", len(batch))
			tx.Rollback()
			return
		}
	}

	if err := tx.Commit(); err != nil {
		w.logger.Error("archive: commit failed, discarding batch", "error", err, "batchSize", len(batch))
		return
	}

	w.logger.Debug("archive: batch committed", "batchSize", len(batch))
}

const insertSQL = `INSERT INTO signal_messages
	(timestamp, signal_received_timestamp, signal_delivered_timestamp, target, source, group_chat, mentions, content, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

const schemaSQL = `CREATE TABLE IF NOT EXISTS signal_messages (
	id BIGSERIAL,
	timestamp TIMESTAMPTZ NOT NULL,
	signal_received_timestamp TIMESTAMPTZ NOT NULL,
	signal_delivered_timestamp TIMESTAMPTZ,
	target VARCHAR(255) NOT NULL,
	source VARCHAR(255) NOT NULL,
	group_chat VARCHAR(255),
	mentions TEXT,
	content TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

const pkSQL = `ALTER TABLE signal_messages ADD CONSTRAINT signal_messages_pk PRIMARY KEY (id, timestamp)`

const hypertableSQL = `SELECT create_hypertable('signal_messages', 'timestamp', if_not_exists => TRUE, migrate_data => TRUE)`

var indexSQL = []string{
	`CREATE INDEX IF NOT EXISTS signal_messages_timestamp_idx ON signal_messages (timestamp)`,
	`CREATE INDEX IF NOT EXISTS signal_messages_source_idx ON signal_messages (source)`,
	`CREATE INDEX IF NOT EXISTS signal_messages_target_idx ON signal_messages (target)`,
	`CREATE INDEX IF NOT EXISTS signal_messages_created_at_idx ON signal_messages (created_at)`,
}

// EnsureSchema idempotently creates the signal_messages table, its
// hypertable partitioning, composite primary key, and secondary
// indexes. Missing the TimescaleDB extension is tolerated: a failed
// hypertable step logs a warning and a failed composite-PK step logs at
// debug level, and both continue rather than failing startup.
func (w *Writer) EnsureSchema(ctx context.Context) error {
	if _, err := w.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create table: %w", err)
	}

	if _, err := w.db.ExecContext(ctx, hypertableSQL); err != nil {
		w.logger.Warn("archive: create_hypertable failed (TimescaleDB extension may be absent); continuing with a plain table", "error", err)
	}

	if _, err := w.db.ExecContext(ctx, pkSQL); err != nil {
		w.logger.Debug("archive: composite primary key not created (may already exist)", "error", err)
	}

	for _, stmt := range indexSQL {
		if _, err := w.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create index: %w", err)
		}
	}

	return nil
}

// Close releases the underlying database handle. Call after Stop.
func (w *Writer) Close() error {
	return w.db.Close()
}
