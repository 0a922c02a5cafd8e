package outbox

import (
	"context"
	"database/sql"
	"fmt"

	platformerrors "github.com/jmgilman/go/errors"
)

// migrations is the forward-only schema history. PRAGMA user_version
// records how many entries have been applied; entries are applied in
// order, each inside its own transaction.
var migrations = []string{
	`CREATE TABLE mutations (
		id         TEXT PRIMARY KEY,
		store      TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		record     BLOB NOT NULL
	);
	CREATE INDEX idx_mutations_store_created_at ON mutations(store, created_at);`,
}

// migrate brings the database schema up to the current version.
func migrate(ctx context.Context, db *sql.DB) error {
	var version int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return platformerrors.Wrap(err, platformerrors.CodeDatabase,
			"failed to read queue schema version")
	}

	if version > len(migrations) {
		return platformerrors.Newf(platformerrors.CodeDatabase,
			"queue schema version %d is newer than this build supports", version)
	}

	for i := version; i < len(migrations); i++ {
		if err := applyMigration(ctx, db, i); err != nil {
			return err
		}
	}

	return nil
}

func applyMigration(ctx context.Context, db *sql.DB, index int) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return platformerrors.Wrap(err, platformerrors.CodeDatabase,
			"failed to begin queue migration")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, migrations[index]); err != nil {
		return platformerrors.Wrapf(err, platformerrors.CodeDatabase,
			"failed to apply queue migration %d", index+1)
	}

	// PRAGMA does not accept bound parameters.
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", index+1)); err != nil {
		return platformerrors.Wrapf(err, platformerrors.CodeDatabase,
			"failed to record queue migration %d", index+1)
	}

	if err := tx.Commit(); err != nil {
		return platformerrors.Wrapf(err, platformerrors.CodeDatabase,
			"failed to commit queue migration %d", index+1)
	}

	return nil
}
