// Package outbox persists mutations made while offline in a durable
// write queue, distinct from the response cache. Records survive process
// restarts and remain enumerable until explicitly removed after a
// confirmed replay.
package outbox

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	platformerrors "github.com/jmgilman/go/errors"
	"github.com/vmihailenco/msgpack/v5"
	_ "modernc.org/sqlite"

	"github.com/Ashour158/Desk-sub003/internal/logging"
)

// queryTimeout bounds every individual database operation.
const queryTimeout = 5 * time.Second

// Store names a queue collection of pending mutation records. Each sync
// tag drains exactly one store.
type Store string

// The stores managed by the queue.
const (
	StoreTickets  Store = "tickets"
	StoreComments Store = "comments"
)

// Stores returns all managed store names.
func Stores() []Store {
	return []Store{StoreTickets, StoreComments}
}

// Valid reports whether the store is one the queue manages.
func (s Store) Valid() bool {
	switch s {
	case StoreTickets, StoreComments:
		return true
	}
	return false
}

// Resource identifies what kind of mutation a record carries.
type Resource string

// The mutation resource types the remote API accepts.
const (
	ResourceTicket  Resource = "ticket"
	ResourceComment Resource = "comment"
)

// Valid reports whether the resource type is recognized.
func (r Resource) Valid() bool {
	switch r {
	case ResourceTicket, ResourceComment:
		return true
	}
	return false
}

// Record is one deferred write awaiting replay.
type Record struct {
	// ID uniquely identifies the record. Generated when left empty.
	ID string

	// Resource selects the remote endpoint the record replays against.
	Resource Resource

	// Payload is the JSON request body captured at enqueue time.
	Payload json.RawMessage

	// Token is the bearer token the replay submits with.
	Token string

	// CreatedAt orders records within a store. Filled when left zero.
	CreatedAt time.Time
}

// envelope is the msgpack wire form of the non-indexed record fields.
type envelope struct {
	Resource string `msgpack:"resource"`
	Payload  []byte `msgpack:"payload"`
	Token    string `msgpack:"token"`
}

// Queue is a SQLite-backed durable write queue. It is safe for
// concurrent use.
type Queue struct {
	db     *sql.DB
	logger *logging.Logger
}

// NewQueue opens (creating if necessary) the queue database at path and
// brings its schema up to date.
func NewQueue(ctx context.Context, path string, logger *logging.Logger) (*Queue, error) {
	if path == "" {
		return nil, platformerrors.New(platformerrors.CodeInvalidConfig,
			"queue database path is required")
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, platformerrors.Wrap(err, platformerrors.CodeDatabase,
				"failed to create queue directory")
		}
	}

	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, platformerrors.Wrap(err, platformerrors.CodeDatabase,
			"failed to open queue database")
	}

	// A single connection sidesteps SQLITE_BUSY between pooled writers;
	// queue traffic is light and the drain is sequential anyway.
	db.SetMaxOpenConns(1)

	if err := migrate(ctx, db); err != nil {
		db.Close() //nolint:errcheck
		return nil, err
	}

	logger.Debug(ctx, "outbox queue opened", "path", path)

	return &Queue{db: db, logger: logger}, nil
}

// dsn builds the sqlite connection string. WAL keeps readers unblocked
// during the drain's deletes.
func dsn(path string) string {
	return "file:" + path +
		"?_pragma=busy_timeout(5000)" +
		"&_pragma=journal_mode(WAL)" +
		"&_pragma=synchronous(NORMAL)"
}

// Enqueue durably persists a record in the named store and returns its
// id. A record without an id gets a generated UUID; re-enqueueing an
// existing id overwrites the stored record.
func (q *Queue) Enqueue(ctx context.Context, store Store, record Record) (string, error) {
	start := time.Now()

	if !store.Valid() {
		return "", platformerrors.Wrapf(ErrUnknownStore, platformerrors.CodeInvalidInput,
			"cannot enqueue into store %q", store)
	}
	if !record.Resource.Valid() {
		return "", platformerrors.Wrapf(ErrUnknownResource, platformerrors.CodeInvalidInput,
			"cannot enqueue resource %q", record.Resource)
	}

	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	blob, err := msgpack.Marshal(envelope{
		Resource: string(record.Resource),
		Payload:  record.Payload,
		Token:    record.Token,
	})
	if err != nil {
		return "", platformerrors.Wrap(err, platformerrors.CodeInternal,
			"failed to encode outbox record")
	}

	opCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	_, err = q.db.ExecContext(opCtx, `
		INSERT INTO mutations (id, store, created_at, record)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			store      = excluded.store,
			created_at = excluded.created_at,
			record     = excluded.record`,
		record.ID, string(store), record.CreatedAt.UnixMilli(), blob)
	if err != nil {
		err = platformerrors.Wrap(err, platformerrors.CodeDatabase,
			"failed to enqueue outbox record")
	}

	logging.LogOperation(ctx, q.logger, logging.OpEnqueue, time.Since(start), err == nil, err,
		"store", string(store), "id", record.ID)

	if err != nil {
		return "", err
	}
	return record.ID, nil
}

// ListAll returns every pending record in the named store, ordered by
// creation time then id. Records that can no longer be decoded are
// logged and skipped; they stay in the store.
func (q *Queue) ListAll(ctx context.Context, store Store) ([]Record, error) {
	start := time.Now()

	if !store.Valid() {
		return nil, platformerrors.Wrapf(ErrUnknownStore, platformerrors.CodeInvalidInput,
			"cannot list store %q", store)
	}

	opCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := q.db.QueryContext(opCtx, `
		SELECT id, created_at, record
		FROM mutations
		WHERE store = ?
		ORDER BY created_at ASC, id ASC`,
		string(store))
	if err != nil {
		return nil, platformerrors.Wrap(err, platformerrors.CodeDatabase,
			"failed to list outbox records")
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			id      string
			created int64
			blob    []byte
		)
		if err := rows.Scan(&id, &created, &blob); err != nil {
			return nil, platformerrors.Wrap(err, platformerrors.CodeDatabase,
				"failed to scan outbox record")
		}

		var env envelope
		if err := msgpack.Unmarshal(blob, &env); err != nil {
			q.logger.Warn(ctx, "skipping undecodable outbox record",
				"store", string(store), "id", id, "error", err.Error())
			continue
		}

		records = append(records, Record{
			ID:        id,
			Resource:  Resource(env.Resource),
			Payload:   env.Payload,
			Token:     env.Token,
			CreatedAt: time.UnixMilli(created).UTC(),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, platformerrors.Wrap(err, platformerrors.CodeDatabase,
			"failed to iterate outbox records")
	}

	logging.LogOperation(ctx, q.logger, logging.OpList, time.Since(start), true, nil,
		"store", string(store), "records", len(records))

	return records, nil
}

// Remove deletes one record by id. Removing an id that is not queued
// returns ErrRecordNotFound; callers that only care about the record
// being gone may ignore it.
func (q *Queue) Remove(ctx context.Context, store Store, id string) error {
	start := time.Now()

	if !store.Valid() {
		return platformerrors.Wrapf(ErrUnknownStore, platformerrors.CodeInvalidInput,
			"cannot remove from store %q", store)
	}

	opCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	res, err := q.db.ExecContext(opCtx,
		`DELETE FROM mutations WHERE store = ? AND id = ?`,
		string(store), id)
	if err != nil {
		err = platformerrors.Wrap(err, platformerrors.CodeDatabase,
			"failed to remove outbox record")
		logging.LogOperation(ctx, q.logger, logging.OpRemove, time.Since(start), false, err,
			"store", string(store), "id", id)
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return platformerrors.Wrap(err, platformerrors.CodeDatabase,
			"failed to confirm outbox removal")
	}

	logging.LogOperation(ctx, q.logger, logging.OpRemove, time.Since(start), true, nil,
		"store", string(store), "id", id, "removed", affected > 0)

	if affected == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// Len returns the number of pending records in the named store.
func (q *Queue) Len(ctx context.Context, store Store) (int, error) {
	if !store.Valid() {
		return 0, platformerrors.Wrapf(ErrUnknownStore, platformerrors.CodeInvalidInput,
			"cannot count store %q", store)
	}

	opCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var count int
	err := q.db.QueryRowContext(opCtx,
		`SELECT COUNT(*) FROM mutations WHERE store = ?`,
		string(store)).Scan(&count)
	if err != nil {
		return 0, platformerrors.Wrap(err, platformerrors.CodeDatabase,
			"failed to count outbox records")
	}

	return count, nil
}

// Close releases the database handle. The queue must not be used after.
func (q *Queue) Close() error {
	if err := q.db.Close(); err != nil {
		return platformerrors.Wrap(err, platformerrors.CodeDatabase,
			"failed to close queue database")
	}
	return nil
}
