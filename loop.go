package sntray

import (
	"context"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
	"go.uber.org/zap"
)

// DefaultCallTimeout bounds every asynchronous method call issued by the
// package.
const DefaultCallTimeout = 5 * time.Second

// Loop is a single-threaded reactor. All state of [Watcher], [Host], [Tray],
// [Item] and [MenuModel] is owned by the loop: it is only read and written
// from callbacks executed by [Loop.Run] or [Loop.Flush].
//
// Remote calls never block the loop. A call is issued, and its continuation
// is posted back to the loop once the reply arrives.
type Loop struct {
	mu      sync.Mutex
	queue   []func()
	wake    chan struct{}
	timeout time.Duration
	log     *zap.Logger
}

// NewLoop returns an idle [Loop]. Recognized options are [WithLogger] and
// [WithCallTimeout].
func NewLoop(opts ...Option) *Loop {
	o := newOptions(opts)

	return &Loop{
		wake:    make(chan struct{}, 1),
		timeout: o.callTimeout,
		log:     o.logger.Named("loop"),
	}
}

// Post schedules fn to run on the loop. It never blocks and is safe to call
// from any goroutine, including from within a loop callback.
func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Flush runs queued callbacks on the calling goroutine until the queue is
// empty, including callbacks queued while flushing.
//
// Flush must not be called concurrently with [Loop.Run]. It is intended for
// embedding the loop into a toolkit main loop.
func (l *Loop) Flush() {
	for {
		l.mu.Lock()
		batch := l.queue
		l.queue = nil
		l.mu.Unlock()

		if len(batch) == 0 {
			return
		}

		for _, fn := range batch {
			fn()
		}
	}
}

// Run executes posted callbacks until ctx is done.
func (l *Loop) Run(ctx context.Context) error {
	for {
		l.Flush()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.wake:
		}
	}
}

// invoke calls method on obj asynchronously. When the reply (or an error)
// arrives, cont is run on the loop. cont may be nil.
func (l *Loop) invoke(obj dbus.BusObject, method string, cont func(*dbus.Call), args ...any) {
	ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
	call := obj.GoWithContext(ctx, method, 0, make(chan *dbus.Call, 1), args...)

	complete := func(reply *dbus.Call) {
		cancel()

		if reply.Err != nil {
			l.log.Debug("call failed",
				zap.String("destination", obj.Destination()),
				zap.String("method", method),
				zap.Error(reply.Err),
			)
		}

		if cont != nil {
			l.Post(func() { cont(reply) })
		}
	}

	// Replies that are already available are queued right away, so the
	// order of continuations follows the order of calls.
	select {
	case reply := <-call.Done:
		complete(reply)
		return
	default:
	}

	go func() {
		complete(<-call.Done)
	}()
}

// forward drains signals and posts handle for each of them to the loop. It
// returns when signals is closed.
func (l *Loop) forward(signals <-chan *dbus.Signal, handle func(*dbus.Signal)) {
	go func() {
		for signal := range signals {
			l.Post(func() { handle(signal) })
		}
	}()
}
