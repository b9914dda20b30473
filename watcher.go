package sntray

import (
	"fmt"
	"slices"
	"sync/atomic"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
	"go.uber.org/zap"
)

const (
	StatusNotifierWatcherInterface                 = "org.kde.StatusNotifierWatcher"
	StatusNotifierWatcherPath      dbus.ObjectPath = "/StatusNotifierWatcher"

	// ProtocolVersion is the only protocol version served by [Watcher].
	ProtocolVersion int32 = 0
)

// Watcher signals.
const (
	ItemRegisteredSignal   = StatusNotifierWatcherInterface + ".StatusNotifierItemRegistered"
	ItemUnregisteredSignal = StatusNotifierWatcherInterface + ".StatusNotifierItemUnregistered"
	HostRegisteredSignal   = StatusNotifierWatcherInterface + ".StatusNotifierHostRegistered"
	HostUnregisteredSignal = StatusNotifierWatcherInterface + ".StatusNotifierHostUnregistered"
)

// Watcher implements [StatusNotifierWatcher]. It keeps track of registered
// items and hosts and removes them as soon as their bus connection is gone.
//
// One watcher should be launched per session. All methods must be called
// from the [Loop] goroutine, or before the loop is started.
//
// [StatusNotifierWatcher]: https://www.freedesktop.org/wiki/Specifications/StatusNotifierItem/StatusNotifierWatcher/
type Watcher struct {
	conn    Conn
	loop    *Loop
	log     *zap.Logger
	metrics *Metrics
	name    string

	launched bool
	epoch    uint64
	signals  chan *dbus.Signal

	items        []ServiceID
	hosts        []ServiceID
	pendingItems map[ServiceID]struct{}
	pendingHosts map[ServiceID]struct{}

	// state is the snapshot served to property reads, which arrive on
	// goroutines of the bus connection.
	state atomic.Pointer[watcherState]
}

// NewWatcher returns a new [Watcher]. It does not touch the bus until
// [Watcher.Launch] is called.
func NewWatcher(conn Conn, loop *Loop, opts ...Option) *Watcher {
	o := newOptions(opts)

	w := &Watcher{
		conn:         conn,
		loop:         loop,
		log:          o.logger.Named("watcher"),
		metrics:      o.metrics,
		name:         o.watcherName(),
		pendingItems: make(map[ServiceID]struct{}),
		pendingHosts: make(map[ServiceID]struct{}),
	}
	w.state.Store(&watcherState{items: []string{}})

	return w
}

// Name returns the well-known bus name of the watcher.
func (w *Watcher) Name() string {
	return w.name
}

// Launch requests the well-known name of the watcher and starts serving
// [StatusNotifierWatcherInterface]. Launching a running watcher is a no-op.
func (w *Watcher) Launch() error {
	if w.launched {
		return nil
	}

	reply, err := w.conn.RequestName(w.name, dbus.NameFlagDoNotQueue)
	if err != nil {
		return fmt.Errorf("launch: failed to request name %s: %w", w.name, err)
	}

	if reply != dbus.RequestNameReplyPrimaryOwner {
		return fmt.Errorf("launch: name %s already taken", w.name)
	}

	exports := []struct {
		v     any
		iface string
	}{
		{watcherObject{w}, StatusNotifierWatcherInterface},
		{watcherProperties{w}, propertiesInterface},
		{introspect.NewIntrospectable(watcherIntrospection), "org.freedesktop.DBus.Introspectable"},
	}

	for _, e := range exports {
		if err := w.conn.Export(e.v, StatusNotifierWatcherPath, e.iface); err != nil {
			w.conn.ReleaseName(w.name)
			return fmt.Errorf("launch: failed to export %s: %w", e.iface, err)
		}
	}

	w.signals = make(chan *dbus.Signal, 64)
	w.conn.Signal(w.signals)
	w.loop.forward(w.signals, w.handleSignal)

	w.launched = true
	w.publish()

	w.log.Info("watcher launched", zap.String("name", w.name))

	return nil
}

// Shutdown releases the name of the watcher and forgets every registered
// service. Registrations that are still being validated are discarded.
func (w *Watcher) Shutdown() error {
	if !w.launched {
		return nil
	}

	for _, e := range []string{StatusNotifierWatcherInterface, propertiesInterface, "org.freedesktop.DBus.Introspectable"} {
		w.conn.Export(nil, StatusNotifierWatcherPath, e)
	}

	for _, id := range slices.Concat(w.items, w.hosts) {
		w.conn.RemoveMatchSignal(ownerMatch(id.BusName())...)
	}

	w.conn.RemoveSignal(w.signals)
	close(w.signals)

	w.items = nil
	w.hosts = nil
	clear(w.pendingItems)
	clear(w.pendingHosts)

	w.launched = false
	w.epoch++
	w.publish()

	if _, err := w.conn.ReleaseName(w.name); err != nil {
		return fmt.Errorf("shutdown: failed to release name %s: %w", w.name, err)
	}

	w.log.Info("watcher shut down", zap.String("name", w.name))

	return nil
}

// RegisteredItems returns registered items in registration order.
func (w *Watcher) RegisteredItems() []ServiceID {
	return slices.Clone(w.items)
}

// IsHostRegistered reports whether at least one host is registered.
func (w *Watcher) IsHostRegistered() bool {
	return len(w.hosts) > 0
}

// registerItem validates that the bus name of service has an owner and adds
// it to the registered items.
func (w *Watcher) registerItem(service string, sender dbus.Sender) {
	if !w.launched {
		return
	}

	id, err := registrationID(service, sender, true)
	if err != nil {
		w.log.Debug("rejected item", zap.String("service", service), zap.Error(err))
		w.metrics.registration("item", "rejected")
		return
	}

	if _, pending := w.pendingItems[id]; pending || slices.Contains(w.items, id) {
		w.metrics.registration("item", "duplicate")
		return
	}

	w.pendingItems[id] = struct{}{}
	epoch := w.epoch

	w.loop.invoke(w.conn.BusObject(), getNameOwner, func(call *dbus.Call) {
		if epoch != w.epoch {
			return
		}

		delete(w.pendingItems, id)

		if call.Err != nil {
			w.log.Debug("item is not reachable", zap.String("id", string(id)), zap.Error(call.Err))
			w.metrics.registration("item", "rejected")
			return
		}

		w.addItem(id)
	}, id.BusName())
}

// registerHost validates that the bus name of service has an owner and adds
// it to the registered hosts.
func (w *Watcher) registerHost(service string, sender dbus.Sender) {
	if !w.launched {
		return
	}

	id, err := registrationID(service, sender, false)
	if err != nil {
		w.log.Debug("rejected host", zap.String("service", service), zap.Error(err))
		w.metrics.registration("host", "rejected")
		return
	}

	if _, pending := w.pendingHosts[id]; pending || slices.Contains(w.hosts, id) {
		w.metrics.registration("host", "duplicate")
		return
	}

	w.pendingHosts[id] = struct{}{}
	epoch := w.epoch

	w.loop.invoke(w.conn.BusObject(), getNameOwner, func(call *dbus.Call) {
		if epoch != w.epoch {
			return
		}

		delete(w.pendingHosts, id)

		if call.Err != nil {
			w.log.Debug("host is not reachable", zap.String("id", string(id)), zap.Error(call.Err))
			w.metrics.registration("host", "rejected")
			return
		}

		w.addHost(id)
	}, id.BusName())
}

func (w *Watcher) addItem(id ServiceID) {
	if slices.Contains(w.items, id) {
		return
	}

	w.items = append(w.items, id)
	w.conn.AddMatchSignal(ownerMatch(id.BusName())...)

	w.emit(ItemRegisteredSignal, string(id))
	w.publish(propRegisteredItems)
	w.metrics.registration("item", "accepted")

	w.log.Debug("item registered", zap.String("id", string(id)))
}

func (w *Watcher) addHost(id ServiceID) {
	if slices.Contains(w.hosts, id) {
		return
	}

	w.hosts = append(w.hosts, id)
	w.conn.AddMatchSignal(ownerMatch(id.BusName())...)

	if len(w.hosts) == 1 {
		w.emit(HostRegisteredSignal)
		w.publish(propHostRegistered)
	}

	w.metrics.registration("host", "accepted")

	w.log.Debug("host registered", zap.String("id", string(id)))
}

// handleSignal removes services whose bus name lost its owner.
func (w *Watcher) handleSignal(signal *dbus.Signal) {
	if !w.launched {
		return
	}

	name, _, newOwner, ok := ownerChange(signal)
	if !ok || newOwner != "" {
		return
	}

	w.removeBusName(name)
}

// removeBusName unregisters every item and host on busName.
func (w *Watcher) removeBusName(busName string) {
	var removedItems []ServiceID

	w.items = slices.DeleteFunc(w.items, func(id ServiceID) bool {
		if id.BusName() != busName {
			return false
		}

		removedItems = append(removedItems, id)
		return true
	})

	for _, id := range removedItems {
		w.conn.RemoveMatchSignal(ownerMatch(busName)...)
		w.emit(ItemUnregisteredSignal, string(id))
		w.metrics.unregistration("item")

		w.log.Debug("item unregistered", zap.String("id", string(id)))
	}

	if len(removedItems) > 0 {
		w.publish(propRegisteredItems)
	}

	hadHosts := len(w.hosts) > 0

	w.hosts = slices.DeleteFunc(w.hosts, func(id ServiceID) bool {
		if id.BusName() != busName {
			return false
		}

		w.conn.RemoveMatchSignal(ownerMatch(busName)...)
		w.metrics.unregistration("host")
		w.log.Debug("host unregistered", zap.String("id", string(id)))

		return true
	})

	if hadHosts && len(w.hosts) == 0 {
		w.emit(HostUnregisteredSignal)
		w.publish(propHostRegistered)
	}
}

func (w *Watcher) emit(name string, values ...any) {
	if err := w.conn.Emit(StatusNotifierWatcherPath, name, values...); err != nil {
		w.log.Warn("failed to emit signal", zap.String("signal", name), zap.Error(err))
	}
}

// publish stores a new property snapshot and announces changed properties.
func (w *Watcher) publish(changed ...watcherProperty) {
	items := make([]string, len(w.items))
	for i, id := range w.items {
		items[i] = string(id)
	}

	state := &watcherState{
		items:          items,
		hostRegistered: len(w.hosts) > 0,
	}
	w.state.Store(state)
	w.metrics.watcherSize(len(w.items), len(w.hosts))

	if len(changed) == 0 {
		return
	}

	values := make(map[string]dbus.Variant, len(changed))
	for _, p := range changed {
		values[p.String()] = state.value(p)
	}

	w.emit(propertiesChanged, StatusNotifierWatcherInterface, values, []string{})
}

// watcherObject is exported on the bus. Its methods are invoked on
// goroutines of the connection and only hand the call over to the loop.
type watcherObject struct {
	w *Watcher
}

func (o watcherObject) RegisterStatusNotifierItem(service string, sender dbus.Sender) *dbus.Error {
	o.w.loop.Post(func() { o.w.registerItem(service, sender) })
	return nil
}

func (o watcherObject) RegisterStatusNotifierHost(service string, sender dbus.Sender) *dbus.Error {
	o.w.loop.Post(func() { o.w.registerHost(service, sender) })
	return nil
}

var watcherIntrospection = &introspect.Node{
	Name: string(StatusNotifierWatcherPath),
	Interfaces: []introspect.Interface{
		introspect.IntrospectData,
		{
			Name: propertiesInterface,
			Methods: []introspect.Method{
				{Name: "Get", Args: []introspect.Arg{
					{Name: "interface", Type: "s", Direction: "in"},
					{Name: "property", Type: "s", Direction: "in"},
					{Name: "value", Type: "v", Direction: "out"},
				}},
				{Name: "GetAll", Args: []introspect.Arg{
					{Name: "interface", Type: "s", Direction: "in"},
					{Name: "props", Type: "a{sv}", Direction: "out"},
				}},
				{Name: "Set", Args: []introspect.Arg{
					{Name: "interface", Type: "s", Direction: "in"},
					{Name: "property", Type: "s", Direction: "in"},
					{Name: "value", Type: "v", Direction: "in"},
				}},
			},
			Signals: []introspect.Signal{
				{Name: "PropertiesChanged", Args: []introspect.Arg{
					{Name: "interface", Type: "s"},
					{Name: "changed_properties", Type: "a{sv}"},
					{Name: "invalidates_properties", Type: "as"},
				}},
			},
		},
		{
			Name: StatusNotifierWatcherInterface,
			Methods: []introspect.Method{
				{Name: "RegisterStatusNotifierItem", Args: []introspect.Arg{{Name: "service", Type: "s", Direction: "in"}}},
				{Name: "RegisterStatusNotifierHost", Args: []introspect.Arg{{Name: "service", Type: "s", Direction: "in"}}},
			},
			Signals: []introspect.Signal{
				{Name: "StatusNotifierItemRegistered", Args: []introspect.Arg{{Name: "service", Type: "s"}}},
				{Name: "StatusNotifierItemUnregistered", Args: []introspect.Arg{{Name: "service", Type: "s"}}},
				{Name: "StatusNotifierHostRegistered"},
				{Name: "StatusNotifierHostUnregistered"},
			},
			Properties: []introspect.Property{
				{Name: propRegisteredItems.String(), Type: "as", Access: "read"},
				{Name: propHostRegistered.String(), Type: "b", Access: "read"},
				{Name: propProtocolVersion.String(), Type: "i", Access: "read"},
			},
		},
	},
}
