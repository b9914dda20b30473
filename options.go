package sntray

import (
	"time"

	"go.uber.org/zap"
)

// DefaultScrollThreshold is the accumulated smooth scroll delta that produces
// a Scroll call on the item.
const DefaultScrollThreshold = 5.0

// Option configures [Loop], [Watcher], [Host], [Tray] and [Item]. Options
// that do not apply to a component are ignored by it.
type Option func(*options)

type options struct {
	logger          *zap.Logger
	metrics         *Metrics
	callTimeout     time.Duration
	scrollThreshold float64
	watcherSuffix   string
	iconTheme       IconTheme
	menuPopup       MenuPopup
}

func newOptions(opts []Option) *options {
	o := &options{
		logger:          zap.NewNop(),
		callTimeout:     DefaultCallTimeout,
		scrollThreshold: DefaultScrollThreshold,
	}

	for _, opt := range opts {
		opt(o)
	}

	return o
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics enables metrics collection.
func WithMetrics(m *Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithCallTimeout bounds asynchronous method calls issued by a [Loop].
func WithCallTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.callTimeout = d
		}
	}
}

// WithScrollThreshold sets the smooth scroll threshold of items.
func WithScrollThreshold(threshold float64) Option {
	return func(o *options) {
		if threshold > 0 {
			o.scrollThreshold = threshold
		}
	}
}

// WithWatcherSuffix appends "-suffix" to the well-known name of the
// watcher. Both [Watcher] and [Host] honor it, so a test watcher and its hosts
// do not collide with the session's watcher.
func WithWatcherSuffix(suffix string) Option {
	return func(o *options) {
		o.watcherSuffix = suffix
	}
}

// WithIconTheme sets the collaborator used to resolve icon names.
func WithIconTheme(theme IconTheme) Option {
	return func(o *options) {
		o.iconTheme = theme
	}
}

// WithMenuPopup sets the collaborator that shows local menus of items.
func WithMenuPopup(popup MenuPopup) Option {
	return func(o *options) {
		o.menuPopup = popup
	}
}

// watcherName returns the well-known name of the watcher.
func (o *options) watcherName() string {
	if o.watcherSuffix == "" {
		return StatusNotifierWatcherInterface
	}

	return StatusNotifierWatcherInterface + "-" + o.watcherSuffix
}
