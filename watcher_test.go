package sntray

import (
	"testing"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWatcher(t *testing.T, opts ...Option) (*Watcher, *fakeConn, *Loop) {
	t.Helper()

	conn := newFakeConn()
	loop := NewLoop()
	w := NewWatcher(conn, loop, opts...)
	require.NoError(t, w.Launch())

	return w, conn, loop
}

func registeredItems(t *testing.T, w *Watcher) []string {
	t.Helper()

	v, err := watcherProperties{w}.Get(StatusNotifierWatcherInterface, "RegisteredStatusNotifierItems")
	require.Nil(t, err)

	items, ok := v.Value().([]string)
	require.True(t, ok)

	return items
}

func TestWatcherLaunch(t *testing.T) {
	w, conn, _ := newTestWatcher(t)

	assert.True(t, conn.names[StatusNotifierWatcherInterface])
	assert.Contains(t, conn.exported, string(StatusNotifierWatcherPath)+" "+StatusNotifierWatcherInterface)
	assert.Contains(t, conn.exported, string(StatusNotifierWatcherPath)+" "+propertiesInterface)
	assert.Contains(t, conn.exported, string(StatusNotifierWatcherPath)+" org.freedesktop.DBus.Introspectable")

	// Launching again is a no-op.
	require.NoError(t, w.Launch())
	assert.Len(t, conn.channels, 1)
}

func TestWatcherLaunchNameTaken(t *testing.T) {
	conn := newFakeConn()
	conn.names[StatusNotifierWatcherInterface] = true

	w := NewWatcher(conn, NewLoop())
	assert.Error(t, w.Launch())
}

func TestWatcherSuffix(t *testing.T) {
	w, conn, _ := newTestWatcher(t, WithWatcherSuffix("test"))

	assert.Equal(t, "org.kde.StatusNotifierWatcher-test", w.Name())
	assert.True(t, conn.names["org.kde.StatusNotifierWatcher-test"])
	assert.False(t, conn.names[StatusNotifierWatcherInterface])
}

func TestWatcherRegisterItemTwice(t *testing.T) {
	w, conn, loop := newTestWatcher(t)
	conn.own(":1.5", ":1.5")

	obj := watcherObject{w}
	assert.Nil(t, obj.RegisterStatusNotifierItem(":1.5", ":1.5"))
	assert.Nil(t, obj.RegisterStatusNotifierItem(":1.5", ":1.5"))
	loop.Flush()
	assert.Nil(t, obj.RegisterStatusNotifierItem(":1.5/StatusNotifierItem", ":1.5"))
	loop.Flush()

	assert.Equal(t, []string{":1.5/StatusNotifierItem"}, registeredItems(t, w))
	require.Len(t, conn.emits(ItemRegisteredSignal), 1)
	assert.Equal(t, []any{":1.5/StatusNotifierItem"}, conn.emits(ItemRegisteredSignal)[0].values)
}

func TestWatcherRegisterObjectPath(t *testing.T) {
	w, conn, loop := newTestWatcher(t)
	conn.own(":1.7", ":1.7")

	watcherObject{w}.RegisterStatusNotifierItem("/org/ayatana/NotificationItem/app", ":1.7")
	loop.Flush()

	assert.Equal(t, []ServiceID{":1.7/org/ayatana/NotificationItem/app"}, w.RegisteredItems())
}

func TestWatcherRegisterUnreachableItem(t *testing.T) {
	w, conn, loop := newTestWatcher(t)

	watcherObject{w}.RegisterStatusNotifierItem("org.example.Gone", ":1.9")
	loop.Flush()

	assert.Empty(t, registeredItems(t, w))
	assert.Empty(t, conn.emits(ItemRegisteredSignal))
}

func TestWatcherRegisterInvalidItem(t *testing.T) {
	w, conn, loop := newTestWatcher(t)

	watcherObject{w}.RegisterStatusNotifierItem("/not a path", ":1.9")
	watcherObject{w}.RegisterStatusNotifierItem("", ":1.9")
	loop.Flush()

	assert.Empty(t, w.RegisteredItems())
	assert.Empty(t, conn.callsTo(getNameOwner))
}

func TestWatcherConnectionLoss(t *testing.T) {
	w, conn, loop := newTestWatcher(t)
	conn.own(":1.5", ":1.5")
	conn.own("org.example.App", ":1.6")

	watcherObject{w}.RegisterStatusNotifierItem(":1.5", ":1.5")
	watcherObject{w}.RegisterStatusNotifierItem("org.example.App", ":1.6")
	loop.Flush()
	require.Len(t, w.RegisteredItems(), 2)

	w.handleSignal(ownerLost(":1.5", ":1.5"))

	assert.Equal(t, []string{"org.example.App/StatusNotifierItem"}, registeredItems(t, w))
	require.Len(t, conn.emits(ItemUnregisteredSignal), 1)
	assert.Equal(t, []any{":1.5/StatusNotifierItem"}, conn.emits(ItemUnregisteredSignal)[0].values)

	// Losing an unknown or already removed name is a no-op.
	w.handleSignal(ownerLost(":1.5", ":1.5"))
	w.handleSignal(ownerLost(":1.42", ":1.42"))
	assert.Len(t, conn.emits(ItemUnregisteredSignal), 1)

	// Owner changes that keep the name alive are ignored.
	w.handleSignal(ownerGained("org.example.App", ":1.8"))
	assert.Len(t, w.RegisteredItems(), 1)
}

func TestWatcherHostRegistered(t *testing.T) {
	w, conn, loop := newTestWatcher(t)
	conn.own("org.kde.StatusNotifierHost-1-1", ":1.20")
	conn.own("org.kde.StatusNotifierHost-2-1", ":1.21")

	v, err := watcherProperties{w}.Get(StatusNotifierWatcherInterface, "IsStatusNotifierHostRegistered")
	require.Nil(t, err)
	assert.Equal(t, false, v.Value())

	obj := watcherObject{w}
	obj.RegisterStatusNotifierHost("org.kde.StatusNotifierHost-1-1", ":1.20")
	obj.RegisterStatusNotifierHost("org.kde.StatusNotifierHost-1-1", ":1.20")
	obj.RegisterStatusNotifierHost("org.kde.StatusNotifierHost-2-1", ":1.21")
	loop.Flush()

	assert.True(t, w.IsHostRegistered())
	require.Len(t, conn.emits(HostRegisteredSignal), 1)
	assert.Empty(t, conn.emits(HostRegisteredSignal)[0].values)

	v, err = watcherProperties{w}.Get(StatusNotifierWatcherInterface, "IsStatusNotifierHostRegistered")
	require.Nil(t, err)
	assert.Equal(t, true, v.Value())

	w.handleSignal(ownerLost("org.kde.StatusNotifierHost-1-1", ":1.20"))
	assert.True(t, w.IsHostRegistered())
	assert.Empty(t, conn.emits(HostUnregisteredSignal))

	w.handleSignal(ownerLost("org.kde.StatusNotifierHost-2-1", ":1.21"))
	assert.False(t, w.IsHostRegistered())
	assert.Len(t, conn.emits(HostUnregisteredSignal), 1)

	// The next first host is announced again.
	obj.RegisterStatusNotifierHost("org.kde.StatusNotifierHost-1-1", ":1.20")
	loop.Flush()
	assert.Len(t, conn.emits(HostRegisteredSignal), 2)
}

func TestWatcherProperties(t *testing.T) {
	w, conn, loop := newTestWatcher(t)
	conn.own(":1.5", ":1.5")
	props := watcherProperties{w}

	v, err := props.Get(StatusNotifierWatcherInterface, "ProtocolVersion")
	require.Nil(t, err)
	assert.Equal(t, ProtocolVersion, v.Value())

	_, err = props.Get(StatusNotifierWatcherInterface, "NoSuchProperty")
	require.NotNil(t, err)
	assert.Equal(t, errUnknownProperty, err.Name)

	_, err = props.Get("org.example.Nope", "ProtocolVersion")
	require.NotNil(t, err)
	assert.Equal(t, errUnknownInterface, err.Name)

	err = props.Set(StatusNotifierWatcherInterface, "ProtocolVersion", dbus.MakeVariant(int32(2)))
	require.NotNil(t, err)
	assert.Equal(t, errPropertyReadOnly, err.Name)

	err = props.Set(StatusNotifierWatcherInterface, "Bogus", dbus.MakeVariant(int32(2)))
	require.NotNil(t, err)
	assert.Equal(t, errUnknownProperty, err.Name)

	watcherObject{w}.RegisterStatusNotifierItem(":1.5", ":1.5")
	loop.Flush()

	all, err := props.GetAll(StatusNotifierWatcherInterface)
	require.Nil(t, err)
	assert.Len(t, all, 3)
	assert.Equal(t, []string{":1.5/StatusNotifierItem"}, all["RegisteredStatusNotifierItems"].Value())
	assert.Equal(t, false, all["IsStatusNotifierHostRegistered"].Value())

	changed := conn.emits(propertiesChanged)
	require.NotEmpty(t, changed)
	last := changed[len(changed)-1]
	assert.Equal(t, StatusNotifierWatcherInterface, last.values[0])
	assert.Contains(t, last.values[1], "RegisteredStatusNotifierItems")
}

func TestWatcherShutdown(t *testing.T) {
	w, conn, loop := newTestWatcher(t)
	conn.own(":1.5", ":1.5")
	conn.own(":1.6", ":1.6")

	watcherObject{w}.RegisterStatusNotifierItem(":1.5", ":1.5")
	loop.Flush()

	// A registration still being validated is discarded on shutdown.
	w.registerItem(":1.6", ":1.6")
	require.NoError(t, w.Shutdown())
	loop.Flush()

	assert.False(t, conn.names[StatusNotifierWatcherInterface])
	assert.Empty(t, conn.exported)
	assert.Empty(t, conn.channels)
	assert.Empty(t, w.RegisteredItems())
	assert.Empty(t, registeredItems(t, w))
	assert.Equal(t, conn.addMatches, conn.removeMatches)
	assert.Len(t, conn.emits(ItemRegisteredSignal), 1)

	// Shutting down twice is a no-op, and the watcher can be launched again.
	require.NoError(t, w.Shutdown())
	require.NoError(t, w.Launch())
	assert.True(t, conn.names[StatusNotifierWatcherInterface])
}
