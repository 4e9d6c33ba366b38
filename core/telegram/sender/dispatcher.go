// Package sender executes outbound Telegram calls on a bounded worker pool
// so slow Bot API responses never block update handling.
package sender

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/m3rciful/charmbot/core/logger"
	"github.com/m3rciful/charmbot/core/telegram/netutil"

	tele "gopkg.in/telebot.v4"
)

var (
	// ErrQueueClosed is returned when enqueue is attempted after Close.
	ErrQueueClosed = errors.New("telegram sender: queue closed")
	// ErrQueueFull means the queue is saturated; callers fall back to a
	// synchronous send.
	ErrQueueFull = errors.New("telegram sender: queue full")

	tokenRe = regexp.MustCompile(`bot[0-9]+:[A-Za-z0-9_-]+`)
)

// Options controls queue depth, concurrency and the retry policy.
type Options struct {
	QueueSize    int
	Workers      int
	MaxRetries   int
	RetryBackoff time.Duration
	// MaxDuration bounds the total time spent on one task, retries included.
	MaxDuration time.Duration
}

func (o Options) withDefaults() Options {
	if o.QueueSize <= 0 {
		o.QueueSize = 256
	}
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = 2 * time.Second
	}
	if o.MaxDuration <= 0 {
		o.MaxDuration = 12 * time.Second
	}
	return o
}

type task struct {
	ctx      context.Context
	action   string
	endpoint string
	run      func() error
}

// Dispatcher runs outbound Telegram calls asynchronously with bounded
// retries on transient failures.
type Dispatcher struct {
	opts  Options
	tasks chan task
	stop  chan struct{}
	once  sync.Once
	wg    sync.WaitGroup
	errs  atomic.Uint64
}

// NewDispatcher starts the worker pool. Zeroed options get defaults.
func NewDispatcher(opts Options) *Dispatcher {
	d := &Dispatcher{
		opts: opts.withDefaults(),
	}
	d.tasks = make(chan task, d.opts.QueueSize)
	d.stop = make(chan struct{})

	d.wg.Add(d.opts.Workers)
	for i := 0; i < d.opts.Workers; i++ {
		go func() {
			defer d.wg.Done()
			for t := range d.tasks {
				d.process(t)
			}
		}()
	}
	return d
}

// Enqueue schedules run for asynchronous execution. The closure must be
// idempotent when retries are enabled.
func (d *Dispatcher) Enqueue(ctx context.Context, action, endpoint string, run func() error) error {
	if run == nil {
		return errors.New("telegram sender: nil run function")
	}
	select {
	case <-d.stop:
		return ErrQueueClosed
	default:
	}

	t := task{ctx: ctx, action: action, endpoint: endpoint, run: run}
	select {
	case d.tasks <- t:
		return nil
	default:
		return ErrQueueFull
	}
}

// ErrorCount returns how many tasks ultimately failed.
func (d *Dispatcher) ErrorCount() uint64 {
	return d.errs.Load()
}

// Close stops accepting tasks and waits for queued work to drain.
func (d *Dispatcher) Close() {
	d.once.Do(func() {
		close(d.stop)
		close(d.tasks)
		d.wg.Wait()
	})
}

func (d *Dispatcher) process(t task) {
	ctx := t.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	budget, cancel := context.WithTimeout(ctx, d.opts.MaxDuration)
	defer cancel()

	start := time.Now()
	logger.Debug(ctx, "tg.sender", "send.start", d.taskAttrs(ctx, t)...)

	attempts := d.opts.MaxRetries + 1
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := budget.Err(); err != nil {
			lastErr = err
			break
		}

		err := t.run()
		if err == nil {
			attrs := d.taskAttrs(ctx, t)
			if attempt > 1 {
				attrs = append(attrs, slog.Int("attempt", attempt))
			}
			attrs = append(attrs, slog.Duration("duration", time.Since(start)))
			logger.Debug(ctx, "tg.sender", "send.success", attrs...)
			return
		}
		lastErr = err

		if !netutil.ShouldRetry(err) || attempt == attempts {
			break
		}

		delay := d.opts.RetryBackoff * time.Duration(attempt)
		logger.Debug(ctx, "tg.sender", "send.retry.backoff",
			append(d.taskAttrs(ctx, t),
				slog.Int("attempt", attempt),
				slog.Duration("delay", delay),
			)...,
		)
		timer := time.NewTimer(delay)
		select {
		case <-budget.Done():
			timer.Stop()
			lastErr = budget.Err()
		case <-timer.C:
			continue
		}
		break
	}

	d.errs.Add(1)
	attrs := d.taskAttrs(ctx, t)
	attrs = append(attrs,
		slog.String("err", redactToken(lastErr)),
		slog.String("err_code", classifyError(lastErr)),
		slog.Int("attempts", attempts),
		slog.Duration("duration", time.Since(start)),
	)
	logger.Error(ctx, "tg.sender", "send.fail", attrs...)
}

func (d *Dispatcher) taskAttrs(ctx context.Context, t task) []slog.Attr {
	attrs := []slog.Attr{
		slog.String("action", t.action),
	}
	if t.endpoint != "" {
		attrs = append(attrs, slog.String("endpoint", t.endpoint))
	}
	if rid := logger.RIDFrom(ctx); rid != "" {
		attrs = append(attrs, slog.String("rid", rid))
	}
	if chatID := logger.ChatIDFrom(ctx); chatID != 0 {
		attrs = append(attrs, slog.Int64("chat_id", chatID))
	}
	if userID := logger.UserIDFrom(ctx); userID != 0 {
		attrs = append(attrs, slog.Int64("user_id", userID))
	}
	return attrs
}

func classifyError(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsTimeout {
			return "timeout"
		}
		return "dns"
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout"
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if opErr.Timeout() {
			return "timeout"
		}
		if opErr.Op == "dial" {
			return "dial"
		}
		if opErr.Op == "read" || opErr.Op == "write" {
			if kind := classifyError(opErr.Err); kind != "" && kind != "unknown" {
				return kind
			}
		}
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if urlErr.Timeout() {
			return "timeout"
		}
		if urlErr.Err != nil && !errors.Is(urlErr.Err, err) {
			if kind := classifyError(urlErr.Err); kind != "" && kind != "unknown" {
				return kind
			}
		}
	}

	switch status := statusFromError(err); {
	case status >= 500:
		return "http_5xx"
	case status >= 400:
		return "http_4xx"
	}
	return "unknown"
}

// redactToken keeps Telegram bot tokens out of error logs.
func redactToken(err error) string {
	if err == nil {
		return ""
	}
	return tokenRe.ReplaceAllString(err.Error(), "bot<redacted>")
}

func statusFromError(err error) int {
	if err == nil {
		return 0
	}

	var apiErr *tele.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	var floodErr tele.FloodError
	if errors.As(err, &floodErr) {
		return http.StatusTooManyRequests
	}
	var groupErr tele.GroupError
	if errors.As(err, &groupErr) {
		return http.StatusBadRequest
	}

	// telebot formats unknown API errors as "... (code)".
	msg := err.Error()
	open := strings.LastIndex(msg, "(")
	closing := strings.LastIndex(msg, ")")
	if open >= 0 && closing > open+1 {
		if code, convErr := strconv.Atoi(strings.TrimSpace(msg[open+1 : closing])); convErr == nil {
			return code
		}
	}
	return 0
}
