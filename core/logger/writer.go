package logger

import (
	"bufio"
	"errors"
	"io"
	"sync"
)

// lineWriter decouples log emission from sink latency: Handle hands each
// formatted line over a channel and a single goroutine owns every sink.
type lineWriter struct {
	lines    chan []byte
	syncReq  chan chan error
	stopped  chan struct{}
	stopOnce sync.Once

	mu   sync.Mutex
	outs []*bufio.Writer
	fail error
}

func newLineWriter(dsts []io.Writer, bufSize int) *lineWriter {
	if bufSize <= 0 {
		bufSize = 64 * 1024
	}
	w := &lineWriter{
		lines:   make(chan []byte, 256),
		syncReq: make(chan chan error),
		stopped: make(chan struct{}),
	}
	for _, d := range dsts {
		if d == nil {
			continue
		}
		w.outs = append(w.outs, bufio.NewWriterSize(d, bufSize))
	}
	go w.run()
	return w
}

func (w *lineWriter) run() {
	for {
		select {
		case line, ok := <-w.lines:
			if !ok {
				w.noteErr(w.sync())
				close(w.stopped)
				return
			}
			if len(line) > 0 {
				w.noteErr(w.emit(line))
			}
		case ack := <-w.syncReq:
			ack <- w.sync()
		}
	}
}

// Write queues one formatted line. It blocks when the queue is full so
// lines are never dropped.
func (w *lineWriter) Write(p []byte) error {
	if err := w.err(); err != nil {
		return err
	}
	if len(p) == 0 {
		return nil
	}
	w.lines <- append([]byte(nil), p...)
	return nil
}

// Flush blocks until everything queued so far has reached the sinks.
func (w *lineWriter) Flush() error {
	if err := w.err(); err != nil {
		return err
	}
	ack := make(chan error, 1)
	w.syncReq <- ack
	return <-ack
}

// Close drains the queue, flushes the sinks and reports the first write
// error seen over the writer's lifetime.
func (w *lineWriter) Close() error {
	w.stopOnce.Do(func() { close(w.lines) })
	<-w.stopped
	return w.err()
}

func (w *lineWriter) emit(line []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, out := range w.outs {
		if _, err := out.Write(line); err != nil {
			return err
		}
		if err := out.Flush(); err != nil {
			return err
		}
	}
	return nil
}

func (w *lineWriter) sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	var errs []error
	for _, out := range w.outs {
		if err := out.Flush(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (w *lineWriter) err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.fail
}

func (w *lineWriter) noteErr(err error) {
	if err == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fail == nil {
		w.fail = err
	}
}
