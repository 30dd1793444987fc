package infra

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

var (
	// ErrUnavailable reports that the shared store could not be reached.
	ErrUnavailable = errors.New("store unavailable")

	// ErrClosed is returned by Acquire after the handle has been released.
	ErrClosed = fmt.Errorf("%w: handle closed", ErrUnavailable)
)

const (
	dialTimeout  = 5 * time.Second
	checkTimeout = 2 * time.Second
)

// DialFunc establishes a new store connection.
type DialFunc[C any] func(ctx context.Context) (C, error)

// PingFunc round-trips a store connection.
type PingFunc[C any] func(ctx context.Context, conn C) error

// CloseFunc releases a store connection.
type CloseFunc[C any] func(C) error

// generation is one dialed connection and the callers still using it.
type generation[C any] struct {
	conn  C
	users sync.WaitGroup
}

// Handle owns a lazily dialed, process-wide store connection. The connection is
// created on the first Acquire and reused until a failed ping retires it or the
// handle is closed. A retired connection is closed only after every caller that
// acquired it has released it.
type Handle[C any] struct {
	name  string
	dial  DialFunc[C]
	ping  PingFunc[C]
	close CloseFunc[C]

	flight singleflight.Group

	mu     sync.Mutex
	cur    *generation[C]
	closed bool
	dials  int
}

// NewHandle builds a handle; nothing is dialed until the first Acquire. ping and
// closeFn may be nil.
func NewHandle[C any](name string, dial DialFunc[C], ping PingFunc[C], closeFn CloseFunc[C]) *Handle[C] {
	return &Handle[C]{name: name, dial: dial, ping: ping, close: closeFn}
}

// Name identifies the store behind the handle in logs and health output.
func (h *Handle[C]) Name() string {
	return h.name
}

// Acquire returns the shared connection, dialing it if needed. The caller must
// call release once it no longer uses the connection. Callers arriving during a
// dial wait for that dial, bounded by their own context.
func (h *Handle[C]) Acquire(ctx context.Context) (C, func(), error) {
	gen, err := h.acquire(ctx)
	if err != nil {
		var zero C
		return zero, nil, err
	}
	var once sync.Once
	return gen.conn, func() { once.Do(gen.users.Done) }, nil
}

func (h *Handle[C]) acquire(ctx context.Context) (*generation[C], error) {
	for {
		h.mu.Lock()
		if h.closed {
			h.mu.Unlock()
			return nil, ErrClosed
		}
		if gen := h.cur; gen != nil {
			gen.users.Add(1)
			h.mu.Unlock()
			return gen, nil
		}
		h.mu.Unlock()

		ch := h.flight.DoChan("dial", func() (any, error) {
			dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), dialTimeout)
			defer cancel()
			return nil, h.connect(dctx)
		})
		select {
		case res := <-ch:
			if res.Err != nil {
				return nil, res.Err
			}
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: dial %s: %w", ErrUnavailable, h.name, ctx.Err())
		}
	}
}

func (h *Handle[C]) connect(ctx context.Context) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return ErrClosed
	}
	if h.cur != nil {
		h.mu.Unlock()
		return nil
	}
	h.dials++
	h.mu.Unlock()

	conn, err := h.dial(ctx)
	if err != nil {
		return fmt.Errorf("%w: dial %s: %w", ErrUnavailable, h.name, err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		if h.close != nil {
			_ = h.close(conn)
		}
		return ErrClosed
	}
	h.cur = &generation[C]{conn: conn}
	return nil
}

// Check pings the shared connection. When the ping fails the connection is
// retired so the next Acquire dials a fresh one.
func (h *Handle[C]) Check(ctx context.Context) error {
	gen, err := h.acquire(ctx)
	if err != nil {
		return err
	}
	defer gen.users.Done()

	if h.ping == nil {
		return nil
	}
	if err := h.ping(ctx, gen.conn); err != nil {
		if !errors.Is(err, context.Canceled) {
			h.retireIfCurrent(gen)
		}
		return fmt.Errorf("%w: ping %s: %w", ErrUnavailable, h.name, err)
	}
	return nil
}

// Suspect schedules a background Check after a caller saw a connection-level
// failure. Concurrent calls share one check.
func (h *Handle[C]) Suspect() {
	go h.flight.Do("check", func() (any, error) {
		ctx, cancel := context.WithTimeout(context.Background(), checkTimeout)
		defer cancel()
		return nil, h.Check(ctx)
	})
}

// Close releases the connection, waiting for outstanding users. Later calls to
// Acquire fail with ErrClosed.
func (h *Handle[C]) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	gen := h.cur
	h.cur = nil
	h.mu.Unlock()

	if gen == nil {
		return nil
	}
	return h.retire(gen)
}

// Dials reports how many times a connection was dialed.
func (h *Handle[C]) Dials() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dials
}

func (h *Handle[C]) retireIfCurrent(gen *generation[C]) {
	h.mu.Lock()
	if h.cur != gen {
		h.mu.Unlock()
		return
	}
	h.cur = nil
	h.mu.Unlock()
	go h.retire(gen)
}

func (h *Handle[C]) retire(gen *generation[C]) error {
	gen.users.Wait()
	if h.close == nil {
		return nil
	}
	return h.close(gen.conn)
}
