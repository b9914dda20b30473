package sntray

import (
	"fmt"
	"os"
	"sync/atomic"

	"github.com/godbus/dbus/v5"
	"go.uber.org/zap"
)

// Consumer receives items announced by the watcher. [Tray] implements it.
type Consumer interface {
	AddItem(id ServiceID)
	RemoveItem(id ServiceID)
}

var hostCounter atomic.Uint64

// Host implements [StatusNotifierHost]. It registers itself in the watcher
// and forwards items announced by the watcher to its [Consumer].
//
// The watcher may come and go: the host follows its well-known name and
// attaches to every new instance. While no watcher is present, the host
// stays idle.
//
// All methods must be called from the [Loop] goroutine, or before the loop
// is started.
//
// [StatusNotifierHost]: https://www.freedesktop.org/wiki/Specifications/StatusNotifierItem/StatusNotifierHost/
type Host struct {
	name        string
	watcherName string
	conn        Conn
	loop        *Loop
	log         *zap.Logger
	consumer    Consumer
	closed      bool
	listening   bool
	signals     chan *dbus.Signal

	// watcherOwner is the unique name of the attached watcher, empty while
	// detached. epoch changes on every attach and detach.
	watcherOwner string
	epoch        uint64
}

// NewHost returns a new [Host] forwarding items to consumer.
//
// The name of the host is unique within the process, so several hosts (e.g.
// one per panel) may coexist.
func NewHost(conn Conn, loop *Loop, consumer Consumer, opts ...Option) *Host {
	o := newOptions(opts)
	name := fmt.Sprintf("org.kde.StatusNotifierHost-%d-%d", os.Getpid(), hostCounter.Add(1))

	return &Host{
		name:        name,
		watcherName: o.watcherName(),
		conn:        conn,
		loop:        loop,
		log:         o.logger.Named("host").With(zap.String("host", name)),
		consumer:    consumer,
	}
}

// Name returns name of the host service.
func (h *Host) Name() string {
	return h.name
}

// Attached reports whether the host is attached to a watcher.
func (h *Host) Attached() bool {
	return h.watcherOwner != ""
}

// Listen requests name of the host on D-Bus and starts following the
// watcher.
//
// If Listen is called after [Host.Close], an error is returned.
func (h *Host) Listen() error {
	if h.closed {
		return fmt.Errorf("listen: host is closed")
	}

	if h.listening {
		return nil
	}

	reply, err := h.conn.RequestName(h.name, dbus.NameFlagDoNotQueue)
	if err != nil {
		return fmt.Errorf("listen: failed to request name %s: %w", h.name, err)
	}

	if reply != dbus.RequestNameReplyPrimaryOwner {
		return fmt.Errorf("listen: name %s already taken", h.name)
	}

	if err := h.conn.AddMatchSignal(ownerMatch(h.watcherName)...); err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	h.signals = make(chan *dbus.Signal, 64)
	h.conn.Signal(h.signals)
	h.loop.forward(h.signals, h.handleSignal)

	h.listening = true
	h.resolveWatcher()

	return nil
}

// Close releases name of the host from D-Bus and unsubscribes from signals.
// Items already passed to the consumer are left to it.
//
// Host cannot be reused after Close was called.
func (h *Host) Close() error {
	if h.closed {
		return nil
	}

	h.closed = true

	if !h.listening {
		return nil
	}

	h.detach()
	h.conn.RemoveMatchSignal(ownerMatch(h.watcherName)...)
	h.conn.RemoveSignal(h.signals)
	close(h.signals)

	if _, err := h.conn.ReleaseName(h.name); err != nil {
		return fmt.Errorf("close: failed to release name %s: %w", h.name, err)
	}

	return nil
}

// resolveWatcher attaches to the watcher if its name currently has an owner.
func (h *Host) resolveWatcher() {
	epoch := h.epoch

	h.loop.invoke(h.conn.BusObject(), getNameOwner, func(call *dbus.Call) {
		if h.closed || epoch != h.epoch {
			return
		}

		var owner string
		if call.Err != nil || call.Store(&owner) != nil {
			h.log.Info("watcher is not running, waiting for it", zap.String("watcher", h.watcherName))
			return
		}

		h.attach(owner)
	}, h.watcherName)
}

// attach registers the host in the watcher owned by owner, subscribes to
// its item signals and adds items that are already registered.
func (h *Host) attach(owner string) {
	h.detach()

	h.watcherOwner = owner
	h.epoch++
	epoch := h.epoch

	for _, match := range h.itemMatches() {
		if err := h.conn.AddMatchSignal(match...); err != nil {
			h.log.Warn("failed to subscribe to watcher signals", zap.Error(err))
		}
	}

	watcher := h.conn.Object(h.watcherName, StatusNotifierWatcherPath)

	h.loop.invoke(watcher, StatusNotifierWatcherInterface+".RegisterStatusNotifierHost", func(call *dbus.Call) {
		if call.Err != nil {
			h.log.Warn("failed to register host", zap.Error(call.Err))
			return
		}

		h.log.Info("host registered", zap.String("watcher", owner))
	}, h.name)

	h.loop.invoke(watcher, getProperty, func(call *dbus.Call) {
		if h.closed || epoch != h.epoch || call.Err != nil {
			return
		}

		var value dbus.Variant
		if err := call.Store(&value); err != nil {
			return
		}

		registered, ok := value.Value().([]string)
		if !ok {
			return
		}

		for _, s := range registered {
			id, err := ParseServiceID(s)
			if err != nil {
				continue
			}

			h.consumer.AddItem(id)
		}
	}, StatusNotifierWatcherInterface, propRegisteredItems.String())
}

// detach stops listening to the current watcher, if any. Registration of
// the host dies together with the watcher.
func (h *Host) detach() {
	if h.watcherOwner == "" {
		return
	}

	for _, match := range h.itemMatches() {
		h.conn.RemoveMatchSignal(match...)
	}

	h.watcherOwner = ""
	h.epoch++
}

func (h *Host) itemMatches() [][]dbus.MatchOption {
	matches := make([][]dbus.MatchOption, 0, 2)

	for _, member := range []string{"StatusNotifierItemRegistered", "StatusNotifierItemUnregistered"} {
		matches = append(matches, []dbus.MatchOption{
			dbus.WithMatchInterface(StatusNotifierWatcherInterface),
			dbus.WithMatchMember(member),
			dbus.WithMatchSender(h.watcherOwner),
		})
	}

	return matches
}

func (h *Host) handleSignal(signal *dbus.Signal) {
	if h.closed {
		return
	}

	if name, _, newOwner, ok := ownerChange(signal); ok {
		if name != h.watcherName {
			return
		}

		if newOwner == "" {
			h.log.Info("watcher disappeared", zap.String("watcher", h.watcherName))
			h.detach()
			return
		}

		h.attach(newOwner)
		return
	}

	if h.watcherOwner == "" || signal.Sender != h.watcherOwner {
		return
	}

	switch signal.Name {
	case ItemRegisteredSignal:
		if id, err := serviceIDFromSignal(signal); err == nil {
			h.consumer.AddItem(id)
		}
	case ItemUnregisteredSignal:
		if id, err := serviceIDFromSignal(signal); err == nil {
			h.consumer.RemoveItem(id)
		}
	}
}
