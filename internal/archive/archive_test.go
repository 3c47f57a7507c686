package archive

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestWriter(t *testing.T, cfg Config) (*Writer, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return newWithDB(db, cfg, discardLogger()), mock
}

func sampleRecord(content string) MessageRecord {
	now := time.Now()
	return MessageRecord{
		Timestamp:               now,
		SignalReceivedTimestamp: now,
		Target:                  "+15550000",
		Source:                  "+15550001",
		Content:                 &content,
		CreatedAt:               now,
	}
}

func TestWriter_FlushesOnBatchSize(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BatchSize = 2
	cfg.BatchTimeout = time.Hour // effectively disabled for this test

	w, mock := newTestWriter(t, cfg)

	mock.ExpectBegin()
	prep := mock.ExpectPrepare("INSERT INTO signal_messages")
	prep.ExpectExec().WillReturnResult(sqlmock.NewResult(1, 1))
	prep.ExpectExec().WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectCommit()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)

	if err := w.Enqueue(ctx, sampleRecord("one")); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := w.Enqueue(ctx, sampleRecord("two")); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	waitForExpectations(t, mock, time.Second)
	w.Stop(ctx)
}

func TestWriter_FlushesOnTimeout(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BatchSize = 100
	cfg.BatchTimeout = 50 * time.Millisecond

	w, mock := newTestWriter(t, cfg)

	mock.ExpectBegin()
	prep := mock.ExpectPrepare("INSERT INTO signal_messages")
	prep.ExpectExec().WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)

	if err := w.Enqueue(ctx, sampleRecord("lonely")); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	waitForExpectations(t, mock, time.Second)
	w.Stop(ctx)
}

func TestWriter_StopFlushesPartialBatch(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BatchSize = 100
	cfg.BatchTimeout = time.Hour

	w, mock := newTestWriter(t, cfg)

	mock.ExpectBegin()
	prep := mock.ExpectPrepare("INSERT INTO signal_messages")
	prep.ExpectExec().WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	ctx := context.Background()
	w.Start(ctx)

	if err := w.Enqueue(ctx, sampleRecord("partial")); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	w.Stop(ctx) // should flush the partial batch before returning

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestWriter_EnqueueAfterStopFails(t *testing.T) {
	cfg := DefaultConfig()
	w, mock := newTestWriter(t, cfg)
	_ = mock

	ctx := context.Background()
	w.Start(ctx)
	w.Stop(ctx)

	if err := w.Enqueue(ctx, sampleRecord("too late")); err == nil {
		t.Fatal("Enqueue after Stop: expected error")
	}
}

func TestWriter_BatchCommitFailureDiscardsBatch(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BatchSize = 1
	cfg.BatchTimeout = time.Hour

	w, mock := newTestWriter(t, cfg)

	mock.ExpectBegin()
	prep := mock.ExpectPrepare("INSERT INTO signal_messages")
	prep.ExpectExec().WillReturnError(errDBDown)
	mock.ExpectRollback()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)

	if err := w.Enqueue(ctx, sampleRecord("doomed")); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	waitForExpectations(t, mock, time.Second)
	w.Stop(ctx)
}

func TestEnsureSchema_Idempotent(t *testing.T) {
	w, mock := newTestWriter(t, DefaultConfig())

	for i := 0; i < 2; i++ {
		mock.ExpectExec("CREATE TABLE IF NOT EXISTS signal_messages").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec("create_hypertable").WillReturnError(errNoExtension)
		mock.ExpectExec("ALTER TABLE signal_messages ADD CONSTRAINT").WillReturnError(errAlreadyExists)
		for range indexSQL {
			mock.ExpectExec("CREATE INDEX IF NOT EXISTS").WillReturnResult(sqlmock.NewResult(0, 0))
		}

		if err := w.EnsureSchema(context.Background()); err != nil {
			t.Fatalf("EnsureSchema (pass %d): %v", i, err)
		}
	}
}

func waitForExpectations(t *testing.T, mock sqlmock.Sqlmock, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if mock.ExpectationsWereMet() == nil {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

var errDBDown = sqlmockError("database is down")
var errNoExtension = sqlmockError("extension \"timescaledb\" is not available")
var errAlreadyExists = sqlmockError("constraint already exists")

type sqlmockError string

func (e sqlmockError) Error() string { return string(e) }
