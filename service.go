package sntray

import (
	"fmt"
	"strings"

	"github.com/godbus/dbus/v5"
)

// ServiceID identifies an item or a host on the bus. Its format is
//
//	<busName>[/<objectPath>]
//
// e.g. ":1.185/StatusNotifierItem" or "org.example.App". If the object path
// is omitted, [StatusNotifierItemPath] is implied.
type ServiceID string

// NewServiceID returns a [ServiceID] for object path on busName.
func NewServiceID(busName string, path dbus.ObjectPath) ServiceID {
	if path == "" || path == "/" {
		return ServiceID(busName)
	}

	return ServiceID(busName + string(path))
}

// ParseServiceID parses s. The returned id always carries an object path.
func ParseServiceID(s string) (ServiceID, error) {
	id := ServiceID(s)
	busName, path := id.Split()

	if busName == "" {
		return "", fmt.Errorf("service id %q: empty bus name", s)
	}

	if !path.IsValid() {
		return "", fmt.Errorf("service id %q: invalid object path", s)
	}

	return NewServiceID(busName, path), nil
}

// Split returns the bus name and the object path of id. The returned object
// path starts with /.
func (id ServiceID) Split() (string, dbus.ObjectPath) {
	busName, objectPath, ok := strings.Cut(string(id), "/")
	if !ok || objectPath == "" {
		return busName, StatusNotifierItemPath
	}

	return busName, dbus.ObjectPath("/" + objectPath)
}

// BusName returns the bus name part of id.
func (id ServiceID) BusName() string {
	busName, _ := id.Split()
	return busName
}

// registrationID resolves the argument of a registration call. Applications
// may register either a bus name (optionally followed by a path) or a bare
// object path on their own connection.
//
// Item ids are normalized to carry an object path. Host ids are kept as
// given, since hosts are only ever addressed by bus name.
func registrationID(service string, sender dbus.Sender, normalize bool) (ServiceID, error) {
	if strings.HasPrefix(service, "/") {
		if sender == "" {
			return "", fmt.Errorf("service id %q: object path without sender", service)
		}

		service = string(sender) + service
	}

	if normalize {
		return ParseServiceID(service)
	}

	if ServiceID(service).BusName() == "" {
		return "", fmt.Errorf("service id %q: empty bus name", service)
	}

	return ServiceID(service), nil
}

// serviceIDFromSignal retrieves the [ServiceID] carried by the first argument
// of a watcher signal.
func serviceIDFromSignal(signal *dbus.Signal) (ServiceID, error) {
	if len(signal.Body) < 1 {
		return "", fmt.Errorf("signal body is empty")
	}

	s, ok := signal.Body[0].(string)
	if !ok {
		return "", fmt.Errorf("invalid format of signal body")
	}

	return ParseServiceID(s)
}
