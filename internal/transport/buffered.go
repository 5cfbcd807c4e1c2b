package transport

import (
	"context"
	"errors"

	"github.com/ppiankov/e2elog/internal/buffer"
)

// flushBatch is the number of documents handed to a sender at once.
const flushBatch = 100

// Buffered writes every entry to the buffer database and, when it has a
// sender, drains the database on Flush.
type Buffered struct {
	db     *buffer.DB
	sender Sender
	opts   DocumentOptions
}

// NewBuffered wraps db. sender may be nil (relay mode).
func NewBuffered(db *buffer.DB, sender Sender, opts DocumentOptions) *Buffered {
	return &Buffered{db: db, sender: sender, opts: opts}
}

// Emit renders e and appends it to the buffer.
func (b *Buffered) Emit(ctx context.Context, e Entry) error {
	doc, err := Document(e, b.opts)
	if err != nil {
		return err
	}
	return b.db.Append(ctx, string(doc))
}

// Flush sends all buffered documents. Documents stay buffered until the
// sender acknowledged their batch.
func (b *Buffered) Flush(ctx context.Context) (int, error) {
	if b.sender == nil {
		return 0, nil
	}
	return b.db.Drain(ctx, flushBatch, b.sender.Send)
}

// Pending returns the number of buffered documents.
func (b *Buffered) Pending(ctx context.Context) (int, error) {
	return b.db.Count(ctx)
}

// Close closes the sender and the buffer.
func (b *Buffered) Close() error {
	var errs []error
	if b.sender != nil {
		errs = append(errs, b.sender.Close())
	}
	errs = append(errs, b.db.Close())
	return errors.Join(errs...)
}
