package wire

import (
	"context"
	"sync"
)

// Sink accepts whole writes; transport.Transport satisfies it.
type Sink interface {
	Write(ctx context.Context, p []byte) error
}

// Writer serializes writes to a Sink. Writes are shipped in FIFO order with
// at most one in flight; a caller arriving while the queue drains waits for
// its own write to complete.
type Writer struct {
	sink Sink

	mu       sync.Mutex
	queue    []*writeRequest
	draining bool
}

type writeRequest struct {
	ctx  context.Context
	data []byte
	done chan error
}

// NewWriter returns a Writer over sink.
func NewWriter(sink Sink) *Writer {
	return &Writer{sink: sink}
}

// Write queues p and returns once it was written or failed. A request whose
// context ended before its turn is not written.
func (w *Writer) Write(ctx context.Context, p []byte) error {
	req := &writeRequest{ctx: ctx, data: p, done: make(chan error, 1)}

	w.mu.Lock()
	w.queue = append(w.queue, req)
	if w.draining {
		w.mu.Unlock()
		return <-req.done
	}
	w.draining = true
	w.mu.Unlock()

	w.drain()
	return <-req.done
}

func (w *Writer) drain() {
	for {
		w.mu.Lock()
		if len(w.queue) == 0 {
			w.draining = false
			w.mu.Unlock()
			return
		}
		req := w.queue[0]
		w.queue[0] = nil
		w.queue = w.queue[1:]
		w.mu.Unlock()

		err := req.ctx.Err()
		if err == nil {
			err = w.sink.Write(req.ctx, req.data)
		}
		req.done <- err
	}
}

// WriteString is a convenience wrapper around Write.
func (w *Writer) WriteString(ctx context.Context, s string) error {
	return w.Write(ctx, []byte(s))
}
