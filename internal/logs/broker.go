// Package logs provides real-time build log streaming.
package logs

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"sync"
	"time"

	"github.com/crestline/release-plane/internal/models"
)

const (
	// tailInterval is how often a run tail polls the source for new entries.
	tailInterval = 500 * time.Millisecond
	// tailBatch bounds one tail poll.
	tailBatch = 500
)

// Source supplies persisted log entries for tailing. Build workers run out
// of process, so their output reaches the broker through the log store.
type Source interface {
	ListByRunSince(ctx context.Context, runID string, since time.Time, limit int) ([]*models.LogEntry, error)
}

// Subscriber represents one live log stream consumer.
type Subscriber struct {
	ID    string
	RunID string
	// StageID narrows the stream to a single stage; empty means the whole run.
	StageID   string
	Ch        chan *models.LogEntry
	CreatedAt time.Time
}

// Broker fans build log entries out to live subscribers. While a run has at
// least one subscriber, the broker tails the source for that run and
// publishes whatever the workers persist; entries published in process are
// fanned out directly.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[string]*Subscriber
	tails       map[string]*runTail
	source      Source
	interval    time.Duration
	logger      *slog.Logger
}

// runTail is one polling loop, shared by every subscriber of the run.
type runTail struct {
	refs   int
	cancel context.CancelFunc
}

// NewBroker creates a new log broker. source may be nil to disable tailing;
// the broker then only carries entries published in process.
func NewBroker(source Source, logger *slog.Logger) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broker{
		subscribers: make(map[string]*Subscriber),
		tails:       make(map[string]*runTail),
		source:      source,
		interval:    tailInterval,
		logger:      logger,
	}
}

// Subscribe creates a subscription for a run's log entries, optionally
// narrowed to one stage. The first subscriber of a run starts its tail.
func (b *Broker) Subscribe(runID, stageID string) *Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &Subscriber{
		ID:        generateSubscriberID(),
		RunID:     runID,
		StageID:   stageID,
		Ch:        make(chan *models.LogEntry, 100),
		CreatedAt: time.Now(),
	}

	b.subscribers[sub.ID] = sub
	b.retainTail(runID)
	b.logger.Debug("subscriber added",
		"subscriber_id", sub.ID,
		"run_id", runID,
		"stage_id", stageID,
	)
	return sub
}

// Unsubscribe removes a subscription and closes its channel. The last
// subscriber of a run stops its tail.
func (b *Broker) Unsubscribe(sub *Subscriber) {
	if sub == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.subscribers[sub.ID]; exists {
		close(sub.Ch)
		delete(b.subscribers, sub.ID)
		b.releaseTail(sub.RunID)
		b.logger.Debug("subscriber removed", "subscriber_id", sub.ID)
	}
}

// retainTail starts or refcounts the tail loop for a run. Caller holds b.mu.
func (b *Broker) retainTail(runID string) {
	if b.source == nil {
		return
	}
	if tail, ok := b.tails[runID]; ok {
		tail.refs++
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	b.tails[runID] = &runTail{refs: 1, cancel: cancel}
	go b.tailRun(ctx, runID)
}

// releaseTail drops one tail reference for a run. Caller holds b.mu.
func (b *Broker) releaseTail(runID string) {
	tail, ok := b.tails[runID]
	if !ok {
		return
	}
	tail.refs--
	if tail.refs <= 0 {
		tail.cancel()
		delete(b.tails, runID)
	}
}

// tailRun polls the source for entries persisted after the subscription
// started and publishes them. Ordering follows the store's timestamp order.
func (b *Broker) tailRun(ctx context.Context, runID string) {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	since := time.Now().UTC()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			entries, err := b.source.ListByRunSince(ctx, runID, since, tailBatch)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				b.logger.Error("log tail query failed", "run_id", runID, "error", err)
				continue
			}
			for _, entry := range entries {
				b.Publish(entry)
				if entry.Timestamp.After(since) {
					since = entry.Timestamp
				}
			}
		}
	}
}

// Publish sends a log entry to every matching subscriber. Slow subscribers
// miss entries rather than block the publisher.
func (b *Broker) Publish(entry *models.LogEntry) {
	if entry == nil {
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subscribers {
		if !matches(sub, entry) {
			continue
		}
		select {
		case sub.Ch <- entry:
		default:
			b.logger.Warn("subscriber channel full, dropping log entry",
				"subscriber_id", sub.ID,
				"run_id", entry.RunID,
			)
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

func matches(sub *Subscriber, entry *models.LogEntry) bool {
	if sub.RunID != "" && sub.RunID != entry.RunID {
		return false
	}
	if sub.StageID != "" && sub.StageID != entry.StageID {
		return false
	}
	return true
}

func generateSubscriberID() string {
	b := make([]byte, 8)
	rand.Read(b)
	return hex.EncodeToString(b)
}
