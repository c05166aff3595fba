package tracker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrQueueFull is returned when a sink's buffer cannot take another item.
var ErrQueueFull = errors.New("sink queue full")

// ErrClosed is returned when adding to a closed sink.
var ErrClosed = errors.New("sink closed")

const deliveryTimeout = 15 * time.Second

// batcher buffers items and hands them to flush in batches, from a single
// goroutine, whenever the batch fills, the interval ticks, or Flush is called.
type batcher[T any] struct {
	name     string
	size     int
	interval time.Duration
	deliver  func(ctx context.Context, items []T) error
	logger   *slog.Logger

	mu       sync.RWMutex
	closed   bool
	items    chan T
	flushReq chan chan error
	done     chan struct{}
}

func newBatcher[T any](name string, size, queue int, interval time.Duration, deliver func(context.Context, []T) error, logger *slog.Logger) *batcher[T] {
	b := &batcher[T]{
		name:     name,
		size:     size,
		interval: interval,
		deliver:  deliver,
		logger:   logger,
		items:    make(chan T, queue),
		flushReq: make(chan chan error),
		done:     make(chan struct{}),
	}
	go b.run()
	return b
}

// add enqueues without blocking.
func (b *batcher[T]) add(item T) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	select {
	case b.items <- item:
		return nil
	default:
		return ErrQueueFull
	}
}

func (b *batcher[T]) flush(ctx context.Context) error {
	reply := make(chan error, 1)
	select {
	case b.flushReq <- reply:
	case <-b.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// close stops accepting items, delivers what is buffered and waits for the
// worker to exit or ctx to expire.
func (b *batcher[T]) close(ctx context.Context) error {
	b.mu.Lock()
	if !b.closed {
		b.closed = true
		close(b.items)
	}
	b.mu.Unlock()

	select {
	case <-b.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *batcher[T]) run() {
	defer close(b.done)

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	buf := make([]T, 0, b.size)
	send := func() error {
		if len(buf) == 0 {
			return nil
		}
		batch := buf
		buf = make([]T, 0, b.size)

		ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
		defer cancel()
		err := b.deliver(ctx, batch)
		if err != nil {
			b.logger.Error("sink delivery failed", "sink", b.name, "batch", len(batch), "error", err)
		}
		return err
	}

	for {
		select {
		case item, ok := <-b.items:
			if !ok {
				send()
				return
			}
			buf = append(buf, item)
			if len(buf) >= b.size {
				send()
			}
		case <-ticker.C:
			send()
		case reply := <-b.flushReq:
		drain:
			for {
				select {
				case item, ok := <-b.items:
					if !ok {
						break drain
					}
					buf = append(buf, item)
				default:
					break drain
				}
			}
			reply <- send()
		}
	}
}
