package session

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/doc-extract/backend/internal/aggregate"
	"github.com/doc-extract/backend/internal/ledger"
	"github.com/doc-extract/backend/internal/models"
	"github.com/doc-extract/backend/internal/review"
	"github.com/doc-extract/backend/internal/sorting"
)

// MessageType discriminates run updates pushed to subscribers.
type MessageType string

const (
	MessageEvent  MessageType = "event"
	MessageReview MessageType = "review"
	MessageClosed MessageType = "closed"
)

// Message is one update pushed to run subscribers.
type Message struct {
	Type  MessageType `json:"type"`
	RunID string      `json:"runId"`
	Data  any         `json:"data,omitempty"`
}

// EventUpdate is the payload of an event message: the applied event and the
// run counters after it.
type EventUpdate struct {
	Event       models.ProtocolEvent `json:"event"`
	Progress    models.Progress      `json:"progress"`
	State       models.RunState      `json:"state"`
	ResultCount int                  `json:"resultCount"`
}

// Run is one batch's extraction and review state. All fields are guarded by
// mu.
type Run struct {
	id  string
	gen uint64
	mu  sync.Mutex
	agg *aggregate.Aggregator
	// ledger is created with the run and later shared with the review store.
	ledger    *ledger.Ledger
	review    *review.Store
	sortState sorting.State
	sorter    *sorting.Sorter
	info      models.RunInfo

	cancel       context.CancelFunc
	done         chan struct{}
	finalized    bool
	subs         map[int]chan Message
	nextSub      int
	lastAccessed time.Time
}

func newRun(id string, agg *aggregate.Aggregator, locale string) *Run {
	return &Run{
		id:           id,
		agg:          agg,
		ledger:       ledger.New(),
		sorter:       sorting.NewSorter(locale),
		done:         make(chan struct{}),
		subs:         make(map[int]chan Message),
		lastAccessed: time.Now(),
	}
}

// Info returns a copy of the run info.
func (r *Run) Info() models.RunInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.infoLocked()
}

func (r *Run) infoLocked() models.RunInfo {
	info := r.info
	info.FileIDs = append([]string(nil), r.info.FileIDs...)
	if r.info.FinishedAt != nil {
		t := *r.info.FinishedAt
		info.FinishedAt = &t
	}
	return info
}

// refresh copies the aggregator's counters into the run info.
func (r *Run) refresh() {
	r.info.Status = r.agg.State()
	r.info.Progress = r.agg.Progress()
	r.info.ResultCount = r.agg.Len()
	r.info.Error = r.agg.Failure()
}

func (r *Run) subscribe(buffer int) (<-chan Message, func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch := make(chan Message, buffer)
	if r.subs == nil {
		close(ch)
		return ch, func() {}
	}
	id := r.nextSub
	r.nextSub++
	r.subs[id] = ch
	if r.finalized {
		ch <- Message{Type: MessageClosed, RunID: r.id, Data: r.infoLocked()}
	}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			if sub, ok := r.subs[id]; ok {
				delete(r.subs, id)
				close(sub)
			}
		})
	}
}

// broadcast delivers msg without blocking; a subscriber whose buffer is full
// misses the message.
func (r *Run) broadcast(msg Message, log *zap.Logger) {
	for id, ch := range r.subs {
		select {
		case ch <- msg:
		default:
			log.Warn("subscriber buffer full, dropping message",
				zap.String("run", r.id),
				zap.Int("subscriber", id),
				zap.String("type", string(msg.Type)))
		}
	}
}

func (r *Run) closeSubscribers() {
	for id, ch := range r.subs {
		delete(r.subs, id)
		close(ch)
	}
	r.subs = nil
}
