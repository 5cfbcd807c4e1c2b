// Package buffer is the durable SQLite event buffer (events.db) sitting
// between the delivery worker and the network. Rows are deleted only after a
// sender acknowledged them, so the file can be shipped elsewhere and replayed.
package buffer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// FileName is the buffer database name inside the spool directory.
const FileName = "events.db"

// busyTimeoutMS is how long a writer waits for a competing lock.
const busyTimeoutMS = 5000

// schema is the table layout of the python-logstash-async DatabaseCache.
// pending_delete marks rows handed to a sender and not yet acknowledged.
const schema = `CREATE TABLE IF NOT EXISTS event (
	event_id INTEGER PRIMARY KEY AUTOINCREMENT NOT NULL,
	event_text TEXT NOT NULL,
	pending_delete INTEGER NOT NULL,
	entry_date TEXT NOT NULL
)`

// defaultKey is the primary key column created by schema. Buffers written
// by early e2elog builds name it id.
const defaultKey = "event_id"

// Row is one buffered document.
type Row struct {
	ID        int64
	Text      string
	EntryDate time.Time
}

// DB is an open buffer database.
type DB struct {
	db   *sql.DB
	path string
	// key is the primary key column of the event table.
	key string
}

// Open opens or creates the buffer at path.
// The journal stays in DELETE mode so the database is always a single file.
func Open(path string) (*DB, error) {
	if path == "" {
		return nil, fmt.Errorf("buffer path is required")
	}
	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("open buffer %s: %w", path, err)
	}
	// One writer per file.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create buffer schema %s: %w", path, err)
	}
	key, err := keyColumn(db)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("inspect buffer schema %s: %w", path, err)
	}
	return &DB{db: db, path: path, key: key}, nil
}

// keyColumn returns the name of the event table's primary key.
func keyColumn(db *sql.DB) (string, error) {
	var name string
	err := db.QueryRow(`SELECT name FROM pragma_table_info('event') WHERE pk = 1`).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("event table has no primary key")
	}
	if err != nil {
		return "", err
	}
	switch name {
	case defaultKey, "id":
		return name, nil
	default:
		return "", fmt.Errorf("unexpected event primary key %q", name)
	}
}

// OpenExisting opens a buffer that must already exist, e.g. a shipped file
// being replayed. It returns an error satisfying errors.Is(err, fs.ErrNotExist)
// when path is missing.
func OpenExisting(path string) (*DB, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	return Open(path)
}

func dsn(path string) string {
	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busyTimeoutMS))
	q.Add("_pragma", "journal_mode(DELETE)")
	q.Add("_pragma", "synchronous(FULL)")
	return "file:" + escapeDSNPath(path) + "?" + q.Encode()
}

// escapeDSNPath escapes characters that would end the path part of the DSN.
func escapeDSNPath(path string) string {
	return strings.NewReplacer("?", "%3f", "#", "%23").Replace(path)
}

// Path returns the database file path.
func (b *DB) Path() string { return b.path }

// entryDateLayout is the UTC form SQLite's datetime('now') produces, which
// python-logstash-async compares against when expiring rows.
const entryDateLayout = "2006-01-02 15:04:05"

// Append stores one document.
func (b *DB) Append(ctx context.Context, text string) error {
	_, err := b.db.ExecContext(ctx,
		`INSERT INTO event (event_text, pending_delete, entry_date) VALUES (?, 0, ?)`,
		text, time.Now().UTC().Format(entryDateLayout))
	if err != nil {
		return fmt.Errorf("buffer append: %w", err)
	}
	return nil
}

// Pending returns up to limit rows in insertion order. limit <= 0 means all.
// Rows still flagged pending_delete were in flight when their sender stopped
// without an acknowledgement; they are returned too and sent again.
func (b *DB) Pending(ctx context.Context, limit int) ([]Row, error) {
	q := fmt.Sprintf(`SELECT %[1]s, event_text, entry_date FROM event ORDER BY %[1]s`, b.key)
	var args []any
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := b.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("buffer query: %w", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var r Row
		var entry string
		if err := rows.Scan(&r.ID, &r.Text, &entry); err != nil {
			return nil, fmt.Errorf("buffer scan: %w", err)
		}
		r.EntryDate = parseEntryDate(entry)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("buffer rows: %w", err)
	}
	return out, nil
}

// parseEntryDate accepts the SQLite datetime form, with or without
// fractional seconds, and RFC 3339 written by early e2elog builds.
// Unparseable values yield the zero time.
func parseEntryDate(s string) time.Time {
	for _, layout := range []string{entryDateLayout, "2006-01-02 15:04:05.999999", time.RFC3339Nano} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// Delete removes the given rows in one transaction.
func (b *DB) Delete(ctx context.Context, ids []int64) error {
	return b.exec(ctx, "delete", fmt.Sprintf(`DELETE FROM event WHERE %s = ?`, b.key), ids)
}

// markPending sets pending_delete on ids; a sender holds them.
func (b *DB) markPending(ctx context.Context, ids []int64, pending bool) error {
	flag := 0
	if pending {
		flag = 1
	}
	return b.exec(ctx, "mark", fmt.Sprintf(`UPDATE event SET pending_delete = %d WHERE %s = ?`, flag, b.key), ids)
}

// exec runs query once per id in one transaction.
func (b *DB) exec(ctx context.Context, op, query string, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("buffer %s: %w", op, err)
	}
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("buffer %s: %w", op, err)
	}
	defer stmt.Close()
	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, id); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("buffer %s %d: %w", op, id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("buffer %s commit: %w", op, err)
	}
	return nil
}

// Count returns the number of buffered rows.
func (b *DB) Count(ctx context.Context) (int, error) {
	var n int
	if err := b.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM event`).Scan(&n); err != nil {
		return 0, fmt.Errorf("buffer count: %w", err)
	}
	return n, nil
}

// Close closes the database.
func (b *DB) Close() error {
	return b.db.Close()
}

// Drain sends every buffered row through send in batches of batchSize and
// deletes each batch once send returned nil. A batch is flagged
// pending_delete while send runs and unflagged when it fails. Drain stops at
// the first failed batch; rows of that batch and later stay buffered. It
// returns the number of rows sent.
func (b *DB) Drain(ctx context.Context, batchSize int, send func(ctx context.Context, docs [][]byte) error) (int, error) {
	if batchSize <= 0 {
		batchSize = 100
	}
	sent := 0
	for {
		rows, err := b.Pending(ctx, batchSize)
		if err != nil {
			return sent, err
		}
		if len(rows) == 0 {
			return sent, nil
		}

		docs := make([][]byte, len(rows))
		ids := make([]int64, len(rows))
		for i, r := range rows {
			docs[i] = []byte(r.Text)
			ids[i] = r.ID
		}
		if err := b.markPending(ctx, ids, true); err != nil {
			return sent, err
		}
		if err := send(ctx, docs); err != nil {
			sendErr := fmt.Errorf("send batch: %w", err)
			if err := b.markPending(context.WithoutCancel(ctx), ids, false); err != nil {
				return sent, errors.Join(sendErr, err)
			}
			return sent, sendErr
		}
		if err := b.Delete(ctx, ids); err != nil {
			return sent, err
		}
		sent += len(rows)
		if err := ctx.Err(); err != nil {
			return sent, err
		}
	}
}
