package store

import "context"

// Cursor walks a conversation's messages in seq order, fetching one batch at
// a time so large histories can be exported without loading everything.
type Cursor struct {
	fetch     func(ctx context.Context, afterSeq int64, limit int) ([]Message, error)
	batchSize int

	afterSeq int64
	buf      []Message
	pos      int
	done     bool
	err      error
}

func newCursor(batchSize int, fetch func(ctx context.Context, afterSeq int64, limit int) ([]Message, error)) *Cursor {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Cursor{fetch: fetch, batchSize: batchSize}
}

// Next advances to the next message, fetching the next batch when the current
// one is exhausted. It returns false at the end of history or on error.
func (c *Cursor) Next(ctx context.Context) bool {
	if c.err != nil {
		return false
	}
	if c.pos < len(c.buf) {
		c.afterSeq = c.buf[c.pos].Seq
		c.pos++
		return true
	}
	if c.done {
		return false
	}
	batch, err := c.fetch(ctx, c.afterSeq, c.batchSize)
	if err != nil {
		c.err = err
		return false
	}
	if len(batch) == 0 {
		c.done = true
		return false
	}
	if len(batch) < c.batchSize {
		c.done = true
	}
	c.buf = batch
	c.pos = 1
	c.afterSeq = batch[0].Seq
	return true
}

// Message returns the message Next advanced to.
func (c *Cursor) Message() Message {
	if c.pos == 0 || c.pos > len(c.buf) {
		return Message{}
	}
	return c.buf[c.pos-1]
}

func (c *Cursor) Err() error { return c.err }

// Seek restarts iteration just after the given sequence id. Seek(0) rewinds
// to the beginning.
func (c *Cursor) Seek(afterSeq int64) {
	c.afterSeq = afterSeq
	c.buf = nil
	c.pos = 0
	c.done = false
	c.err = nil
}
