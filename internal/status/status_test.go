package status

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type fakeArchive struct {
	depth     int
	lastFlush time.Time
}

func (f fakeArchive) QueueDepth() int      { return f.depth }
func (f fakeArchive) LastFlush() time.Time { return f.lastFlush }

type fakeGroupCache int

func (f fakeGroupCache) Len() int { return int(f) }

func TestHandler_ServesDocument(t *testing.T) {
	flushTime := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	handler := Handler(
		func() string { return "receiving" },
		fakeArchive{depth: 7, lastFlush: flushTime},
		fakeGroupCache(3),
		nil,
	)

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	handler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status code = %d, want 200", rec.Code)
	}

	var doc Document
	if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}

	if doc.ReceiveLoopState != "receiving" {
		t.Errorf("ReceiveLoopState = %q, want receiving", doc.ReceiveLoopState)
	}
	if doc.ArchiveQueueDepth != 7 {
		t.Errorf("ArchiveQueueDepth = %d, want 7", doc.ArchiveQueueDepth)
	}
	if doc.GroupCacheSize != 3 {
		t.Errorf("GroupCacheSize = %d, want 3", doc.GroupCacheSize)
	}
	if !doc.ArchiveLastFlush.Equal(flushTime) {
		t.Errorf("ArchiveLastFlush = %v, want %v", doc.ArchiveLastFlush, flushTime)
	}
	if doc.Reachability != nil {
		t.Errorf("Reachability = %v, want nil", doc.Reachability)
	}
}
