package sntray

import "github.com/godbus/dbus/v5"

// Well-known interfaces and members of the message bus itself.
const (
	busInterface        = "org.freedesktop.DBus"
	propertiesInterface = "org.freedesktop.DBus.Properties"

	getNameOwner     = busInterface + ".GetNameOwner"
	nameOwnerChanged = busInterface + ".NameOwnerChanged"

	getProperty       = propertiesInterface + ".Get"
	getAllProperties  = propertiesInterface + ".GetAll"
	propertiesChanged = propertiesInterface + ".PropertiesChanged"
)

// Conn is the part of [dbus.Conn] used by this package. A session bus
// connection obtained with [dbus.ConnectSessionBus] satisfies it.
type Conn interface {
	RequestName(name string, flags dbus.RequestNameFlags) (dbus.RequestNameReply, error)
	ReleaseName(name string) (dbus.ReleaseNameReply, error)
	Export(v any, path dbus.ObjectPath, iface string) error
	Emit(path dbus.ObjectPath, name string, values ...any) error
	AddMatchSignal(options ...dbus.MatchOption) error
	RemoveMatchSignal(options ...dbus.MatchOption) error
	Signal(ch chan<- *dbus.Signal)
	RemoveSignal(ch chan<- *dbus.Signal)
	Object(dest string, path dbus.ObjectPath) dbus.BusObject
	BusObject() dbus.BusObject
}

var _ Conn = (*dbus.Conn)(nil)

// ownerMatch returns match options for NameOwnerChanged signals of name.
//
// Whenever name disappears, D-Bus sends NameOwnerChanged with an empty
// NewOwner argument.
func ownerMatch(name string) []dbus.MatchOption {
	return []dbus.MatchOption{
		dbus.WithMatchInterface(busInterface),
		dbus.WithMatchSender(busInterface),
		dbus.WithMatchMember("NameOwnerChanged"),
		dbus.WithMatchArg(0, name),
	}
}

// ownerChange decodes the body of a NameOwnerChanged signal.
func ownerChange(signal *dbus.Signal) (name, oldOwner, newOwner string, ok bool) {
	if signal.Name != nameOwnerChanged || len(signal.Body) < 3 {
		return "", "", "", false
	}

	name, ok1 := signal.Body[0].(string)
	oldOwner, ok2 := signal.Body[1].(string)
	newOwner, ok3 := signal.Body[2].(string)

	return name, oldOwner, newOwner, ok1 && ok2 && ok3
}
