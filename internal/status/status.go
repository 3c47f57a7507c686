// Package status exposes a small read-only JSON status document
// summarizing the receive loop's state, the archive writer's queue
// depth, and the group cache's occupancy. It has no write path and
// does not affect any invariant of the bridge.
package status

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/nugget/signalbridge/internal/connwatch"
)

// ArchiveWriter reports the archive writer's queue occupancy.
type ArchiveWriter interface {
	QueueDepth() int
	LastFlush() time.Time
}

// GroupCache reports the group resolver's cache occupancy.
type GroupCache interface {
	Len() int
}

// Document is the JSON shape served by Handler.
type Document struct {
	ReceiveLoopState  string                             `json:"receiveLoopState"`
	ArchiveQueueDepth int                                `json:"archiveQueueDepth"`
	ArchiveLastFlush  time.Time                          `json:"archiveLastFlush"`
	GroupCacheSize    int                                `json:"groupCacheSize"`
	Reachability      map[string]connwatch.ServiceStatus `json:"reachability,omitempty"`
}

// Handler builds an http.Handler serving a JSON Document on every
// request, modeled on connwatch.Manager.Status() in spirit: read-only,
// cheap, safe to poll frequently. receiveLoopState reads the receive
// loop's current state-machine state (gateway.Receiver.State().String,
// typically); reachability may be nil if no connwatch.Manager is in
// use.
func Handler(receiveLoopState func() string, archiveWriter ArchiveWriter, groups GroupCache, reachability *connwatch.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doc := Document{
			ReceiveLoopState:  receiveLoopState(),
			ArchiveQueueDepth: archiveWriter.QueueDepth(),
			ArchiveLastFlush:  archiveWriter.LastFlush(),
			GroupCacheSize:    groups.Len(),
		}
		if reachability != nil {
			doc.Reachability = reachability.Status()
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(doc)
	}
}
