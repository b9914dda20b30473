package sntray

import (
	"github.com/godbus/dbus/v5"
)

// Property errors, as defined by org.freedesktop.DBus.Properties.
const (
	errUnknownInterface = "org.freedesktop.DBus.Error.UnknownInterface"
	errUnknownProperty  = "org.freedesktop.DBus.Error.UnknownProperty"
	errPropertyReadOnly = "org.freedesktop.DBus.Error.PropertyReadOnly"
)

// watcherProperty enumerates properties of [StatusNotifierWatcherInterface].
type watcherProperty int

const (
	propRegisteredItems watcherProperty = iota
	propHostRegistered
	propProtocolVersion
)

var watcherPropertyNames = [...]string{
	propRegisteredItems: "RegisteredStatusNotifierItems",
	propHostRegistered:  "IsStatusNotifierHostRegistered",
	propProtocolVersion: "ProtocolVersion",
}

func (p watcherProperty) String() string {
	return watcherPropertyNames[p]
}

func lookupWatcherProperty(name string) (watcherProperty, bool) {
	for p, n := range watcherPropertyNames {
		if n == name {
			return watcherProperty(p), true
		}
	}

	return 0, false
}

// watcherState is an immutable snapshot of the watcher membership.
type watcherState struct {
	items          []string
	hostRegistered bool
}

func (s *watcherState) value(p watcherProperty) dbus.Variant {
	switch p {
	case propRegisteredItems:
		return dbus.MakeVariant(s.items)
	case propHostRegistered:
		return dbus.MakeVariant(s.hostRegistered)
	case propProtocolVersion:
		return dbus.MakeVariant(ProtocolVersion)
	default:
		panic("sntray: unknown watcher property")
	}
}

// watcherProperties serves org.freedesktop.DBus.Properties for the watcher
// object. Reads are answered from the latest snapshot.
type watcherProperties struct {
	w *Watcher
}

func (o watcherProperties) Get(iface, name string) (dbus.Variant, *dbus.Error) {
	if iface != StatusNotifierWatcherInterface {
		return dbus.Variant{}, unknownInterface(iface)
	}

	p, ok := lookupWatcherProperty(name)
	if !ok {
		return dbus.Variant{}, unknownProperty(name)
	}

	return o.w.state.Load().value(p), nil
}

func (o watcherProperties) GetAll(iface string) (map[string]dbus.Variant, *dbus.Error) {
	if iface != StatusNotifierWatcherInterface {
		return nil, unknownInterface(iface)
	}

	state := o.w.state.Load()
	values := make(map[string]dbus.Variant, len(watcherPropertyNames))

	for p, name := range watcherPropertyNames {
		values[name] = state.value(watcherProperty(p))
	}

	return values, nil
}

func (o watcherProperties) Set(iface, name string, _ dbus.Variant) *dbus.Error {
	if iface != StatusNotifierWatcherInterface {
		return unknownInterface(iface)
	}

	if _, ok := lookupWatcherProperty(name); !ok {
		return unknownProperty(name)
	}

	return dbus.NewError(errPropertyReadOnly, []any{"property " + name + " is read-only"})
}

func unknownInterface(iface string) *dbus.Error {
	return dbus.NewError(errUnknownInterface, []any{"unknown interface " + iface})
}

func unknownProperty(name string) *dbus.Error {
	return dbus.NewError(errUnknownProperty, []any{"unknown property " + name})
}
