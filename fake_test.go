package sntray

import (
	"context"
	"fmt"

	"github.com/godbus/dbus/v5"
)

const busPath dbus.ObjectPath = "/org/freedesktop/DBus"

type fakeCall struct {
	dest   string
	path   dbus.ObjectPath
	method string
	args   []any
}

type fakeEmit struct {
	path   dbus.ObjectPath
	name   string
	values []any
}

type fakeHandler func(path dbus.ObjectPath, args []any) ([]any, error)

// fakeConn is an in-memory [Conn]. Every call completes immediately, so
// continuations are queued in call order and run by [Loop.Flush].
type fakeConn struct {
	names    map[string]bool
	owners   map[string]string
	exported map[string]any
	handlers map[string]fakeHandler
	channels []chan<- *dbus.Signal

	calls         []fakeCall
	emitted       []fakeEmit
	addMatches    int
	removeMatches int

	// failMatch makes the AddMatchSignal call with this 1-based number fail.
	failMatch  int
	matchCalls int
}

func newFakeConn() *fakeConn {
	c := &fakeConn{
		names:    map[string]bool{},
		owners:   map[string]string{},
		exported: map[string]any{},
		handlers: map[string]fakeHandler{},
	}

	c.handle(busInterface, getNameOwner, func(_ dbus.ObjectPath, args []any) ([]any, error) {
		name, _ := args[0].(string)

		if owner, ok := c.owners[name]; ok {
			return []any{owner}, nil
		}

		return nil, dbus.NewError("org.freedesktop.DBus.Error.NameHasNoOwner", []any{"no owner for " + name})
	})

	return c
}

// handle installs a handler for method calls on dest.
func (c *fakeConn) handle(dest, method string, h fakeHandler) {
	c.handlers[dest+" "+method] = h
}

// own makes name owned by the unique name owner.
func (c *fakeConn) own(name, owner string) {
	c.owners[name] = owner
}

func (c *fakeConn) callsTo(method string) []fakeCall {
	var calls []fakeCall

	for _, call := range c.calls {
		if call.method == method {
			calls = append(calls, call)
		}
	}

	return calls
}

func (c *fakeConn) emits(name string) []fakeEmit {
	var emits []fakeEmit

	for _, e := range c.emitted {
		if e.name == name {
			emits = append(emits, e)
		}
	}

	return emits
}

func (c *fakeConn) RequestName(name string, _ dbus.RequestNameFlags) (dbus.RequestNameReply, error) {
	if c.names[name] {
		return dbus.RequestNameReplyExists, nil
	}

	c.names[name] = true

	return dbus.RequestNameReplyPrimaryOwner, nil
}

func (c *fakeConn) ReleaseName(name string) (dbus.ReleaseNameReply, error) {
	if !c.names[name] {
		return dbus.ReleaseNameReplyNotOwner, nil
	}

	delete(c.names, name)

	return dbus.ReleaseNameReplyReleased, nil
}

func (c *fakeConn) Export(v any, path dbus.ObjectPath, iface string) error {
	key := string(path) + " " + iface

	if v == nil {
		delete(c.exported, key)
		return nil
	}

	c.exported[key] = v

	return nil
}

func (c *fakeConn) Emit(path dbus.ObjectPath, name string, values ...any) error {
	c.emitted = append(c.emitted, fakeEmit{path: path, name: name, values: values})
	return nil
}

func (c *fakeConn) AddMatchSignal(...dbus.MatchOption) error {
	c.matchCalls++
	if c.matchCalls == c.failMatch {
		return fmt.Errorf("fake: AddMatchSignal %d failed", c.matchCalls)
	}

	c.addMatches++

	return nil
}

func (c *fakeConn) RemoveMatchSignal(...dbus.MatchOption) error {
	c.removeMatches++
	return nil
}

func (c *fakeConn) Signal(ch chan<- *dbus.Signal) {
	c.channels = append(c.channels, ch)
}

func (c *fakeConn) RemoveSignal(ch chan<- *dbus.Signal) {
	for i, other := range c.channels {
		if other == ch {
			c.channels = append(c.channels[:i], c.channels[i+1:]...)
			return
		}
	}
}

func (c *fakeConn) Object(dest string, path dbus.ObjectPath) dbus.BusObject {
	return &fakeObject{conn: c, dest: dest, path: path}
}

func (c *fakeConn) BusObject() dbus.BusObject {
	return c.Object(busInterface, busPath)
}

type fakeObject struct {
	conn *fakeConn
	dest string
	path dbus.ObjectPath
}

func (o *fakeObject) Call(method string, flags dbus.Flags, args ...any) *dbus.Call {
	return <-o.Go(method, flags, nil, args...).Done
}

func (o *fakeObject) CallWithContext(ctx context.Context, method string, flags dbus.Flags, args ...any) *dbus.Call {
	return <-o.GoWithContext(ctx, method, flags, nil, args...).Done
}

func (o *fakeObject) Go(method string, flags dbus.Flags, ch chan *dbus.Call, args ...any) *dbus.Call {
	return o.GoWithContext(context.Background(), method, flags, ch, args...)
}

func (o *fakeObject) GoWithContext(_ context.Context, method string, _ dbus.Flags, ch chan *dbus.Call, args ...any) *dbus.Call {
	o.conn.calls = append(o.conn.calls, fakeCall{dest: o.dest, path: o.path, method: method, args: args})

	if ch == nil {
		ch = make(chan *dbus.Call, 1)
	}

	call := &dbus.Call{
		Destination: o.dest,
		Path:        o.path,
		Method:      method,
		Args:        args,
		Done:        ch,
	}

	if h, ok := o.conn.handlers[o.dest+" "+method]; ok {
		call.Body, call.Err = h(o.path, args)
	}

	ch <- call

	return call
}

func (o *fakeObject) AddMatchSignal(iface, member string, options ...dbus.MatchOption) *dbus.Call {
	o.conn.addMatches++
	return &dbus.Call{}
}

func (o *fakeObject) RemoveMatchSignal(iface, member string, options ...dbus.MatchOption) *dbus.Call {
	o.conn.removeMatches++
	return &dbus.Call{}
}

func (o *fakeObject) GetProperty(p string) (dbus.Variant, error) {
	return dbus.Variant{}, fmt.Errorf("fake: GetProperty %s is not supported", p)
}

func (o *fakeObject) StoreProperty(p string, _ any) error {
	return fmt.Errorf("fake: StoreProperty %s is not supported", p)
}

func (o *fakeObject) SetProperty(p string, _ any) error {
	return fmt.Errorf("fake: SetProperty %s is not supported", p)
}

func (o *fakeObject) Destination() string {
	return o.dest
}

func (o *fakeObject) Path() dbus.ObjectPath {
	return o.path
}

// ownerLost returns a NameOwnerChanged signal announcing that name has no
// owner anymore.
func ownerLost(name, oldOwner string) *dbus.Signal {
	return &dbus.Signal{
		Sender: busInterface,
		Path:   busPath,
		Name:   nameOwnerChanged,
		Body:   []any{name, oldOwner, ""},
	}
}

// ownerGained returns a NameOwnerChanged signal announcing a new owner.
func ownerGained(name, newOwner string) *dbus.Signal {
	return &dbus.Signal{
		Sender: busInterface,
		Path:   busPath,
		Name:   nameOwnerChanged,
		Body:   []any{name, "", newOwner},
	}
}
