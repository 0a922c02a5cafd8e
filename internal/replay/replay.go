// Package replay drains the durable write queue against the remote API
// whenever the host platform signals restored connectivity. A drain
// pass is strictly sequential over records and never aborts early; a
// record that fails to submit simply waits for the next signal.
package replay

import (
	"context"
	"errors"
	"sync"
	"time"

	platformerrors "github.com/jmgilman/go/errors"

	"github.com/Ashour158/Desk-sub003/internal/api"
	"github.com/Ashour158/Desk-sub003/internal/logging"
	"github.com/Ashour158/Desk-sub003/internal/outbox"
)

// State is the coordinator's drain state.
type State string

// The coordinator is either idle or mid-pass.
const (
	StateIdle     State = "idle"
	StateDraining State = "draining"
)

// The sync tags the coordinator recognizes. Each maps to one queue
// store; anything else is ignored.
const (
	TagTicketSync  = "ticket-sync"
	TagCommentSync = "comment-sync"
)

var tagStores = map[string]outbox.Store{
	TagTicketSync:  outbox.StoreTickets,
	TagCommentSync: outbox.StoreComments,
}

// Queue is the durable-queue surface the coordinator drains.
type Queue interface {
	ListAll(ctx context.Context, store outbox.Store) ([]outbox.Record, error)
	Remove(ctx context.Context, store outbox.Store, id string) error
}

// Stats is a point-in-time snapshot of drain counters.
type Stats struct {
	// Passes counts completed drain passes, successful or not.
	Passes int64 `json:"passes"`
	// Replayed counts records confirmed by the backend and removed.
	Replayed int64 `json:"replayed"`
	// Failed counts records left in place for a later signal.
	Failed int64 `json:"failed"`
}

// Coordinator replays queued mutations. Safe for concurrent use; only
// one drain pass runs at a time.
type Coordinator struct {
	queue     Queue
	submitter api.Submitter
	logger    *logging.Logger

	mu    sync.Mutex
	state State
	stats Stats
}

// NewCoordinator wires a coordinator over the queue and submitter.
func NewCoordinator(queue Queue, submitter api.Submitter, logger *logging.Logger) (*Coordinator, error) {
	if queue == nil {
		return nil, platformerrors.New(platformerrors.CodeInvalidConfig,
			"replay coordinator requires a queue")
	}
	if submitter == nil {
		return nil, platformerrors.New(platformerrors.CodeInvalidConfig,
			"replay coordinator requires a submitter")
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	return &Coordinator{
		queue:     queue,
		submitter: submitter,
		logger:    logger,
		state:     StateIdle,
	}, nil
}

// State returns the current drain state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Stats returns the drain counters.
func (c *Coordinator) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Drain handles one sync signal. Unknown tags are ignored; a signal
// arriving while a pass is in flight is covered by that pass and
// returns immediately. The error return is reserved for the queue
// itself failing; per-record submission failures only log.
func (c *Coordinator) Drain(ctx context.Context, tag string) error {
	store, ok := tagStores[tag]
	if !ok {
		c.logger.Debug(ctx, "ignoring unknown sync tag", "tag", tag)
		return nil
	}

	logger := c.logger.WithOperation(logging.OpDrain).WithStore(string(store))
	if !c.begin() {
		logger.Debug(ctx, "drain already in flight, signal absorbed", "tag", tag)
		return nil
	}

	start := time.Now()
	attempted, replayed, err := c.drainStore(ctx, logger, store)
	c.finish(attempted, replayed)

	logging.LogDrainPass(ctx, c.logger, string(store),
		attempted, replayed, attempted-replayed, time.Since(start))

	return err
}

// begin claims the draining state, reporting whether it succeeded.
func (c *Coordinator) begin() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateDraining {
		return false
	}
	c.state = StateDraining
	return true
}

// finish returns to idle unconditionally and folds the pass outcome
// into the counters.
func (c *Coordinator) finish(attempted, replayed int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = StateIdle
	c.stats.Passes++
	c.stats.Replayed += int64(replayed)
	c.stats.Failed += int64(attempted - replayed)
}

// drainStore visits every record in submission order. The pass runs to
// completion once started; a cancelled context fails the remaining
// submissions but does not skip them.
func (c *Coordinator) drainStore(ctx context.Context, logger *logging.Logger, store outbox.Store) (attempted, replayed int, err error) {
	records, err := c.queue.ListAll(ctx, store)
	if err != nil {
		logger.Error(ctx, "queue listing failed, pass aborted", "error", err.Error())
		return 0, 0, err
	}

	for _, record := range records {
		attempted++
		if c.replayRecord(ctx, logger.With("id", record.ID), store, record) {
			replayed++
		}
	}

	return attempted, replayed, nil
}

// replayRecord submits one record and removes it on success. Reports
// whether the record left the queue.
func (c *Coordinator) replayRecord(ctx context.Context, logger *logging.Logger, store outbox.Store, record outbox.Record) bool {
	if err := c.submitter.Submit(ctx, record); err != nil {
		logger.Warn(ctx, "replay submission failed, record retained",
			"code", string(platformerrors.GetCode(err)),
			"retryable", platformerrors.IsRetryable(err),
			"error", err.Error())
		return false
	}

	if err := c.queue.Remove(ctx, store, record.ID); err != nil && !errors.Is(err, outbox.ErrRecordNotFound) {
		// The write landed but the record lingers; the next pass will
		// submit it again.
		logger.Warn(ctx, "failed to remove replayed record", "error", err.Error())
		return false
	}

	logger.Debug(ctx, "record replayed")
	return true
}
