package events

import (
	"log/slog"
	"sync"

	"github.com/issuebot/issuebot/internal/logging"
	"github.com/issuebot/issuebot/internal/store"
)

// Recorder appends workflow events to the store and publishes them to live
// subscribers. Persistence failures are logged, never propagated: the event
// log must not take a workflow down.
type Recorder struct {
	store  *store.Store
	logger *slog.Logger

	mu     sync.RWMutex
	subs   map[uint64]chan *store.Event
	nextID uint64
}

// NewRecorder creates a Recorder backed by the given store.
func NewRecorder(st *store.Store) *Recorder {
	return &Recorder{
		store:  st,
		logger: logging.WithComponent("events"),
		subs:   make(map[uint64]chan *store.Event),
	}
}

// Record appends an event and fans it out. repoID, issueID, and issueNumber
// may be zero when the event is not tied to a repo or issue.
func (r *Recorder) Record(eventType string, repoID, issueID int64, issueNumber int, message string) {
	e := &store.Event{
		EventType:   eventType,
		RepoID:      repoID,
		IssueID:     issueID,
		IssueNumber: issueNumber,
		Message:     message,
	}
	if err := r.store.AppendEvent(e); err != nil {
		r.logger.Error("failed to append event",
			slog.String("type", eventType),
			slog.String("error", err.Error()),
		)
		return
	}

	r.logger.Debug("event recorded",
		slog.String("type", eventType),
		slog.Int("issue", issueNumber),
		slog.String("message", message),
	)

	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, ch := range r.subs {
		select {
		case ch <- e:
		default:
			// Slow subscriber; drop rather than stall the workflow.
		}
	}
}

// Subscribe registers a live event feed. The returned cancel function must
// be called to release the subscription; the channel is closed by cancel.
func (r *Recorder) Subscribe(buffer int) (<-chan *store.Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan *store.Event, buffer)

	r.mu.Lock()
	id := r.nextID
	r.nextID++
	r.subs[id] = ch
	r.mu.Unlock()

	cancel := func() {
		r.mu.Lock()
		if _, ok := r.subs[id]; ok {
			delete(r.subs, id)
			close(ch)
		}
		r.mu.Unlock()
	}
	return ch, cancel
}

// Recent returns the newest events for backfill, up to limit.
func (r *Recorder) Recent(limit int) ([]*store.Event, error) {
	return r.store.ListRecentEvents(limit)
}
