package sntray

import (
	"testing"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingConsumer struct {
	added   []ServiceID
	removed []ServiceID
}

func (c *recordingConsumer) AddItem(id ServiceID) {
	c.added = append(c.added, id)
}

func (c *recordingConsumer) RemoveItem(id ServiceID) {
	c.removed = append(c.removed, id)
}

// serveWatcher answers watcher calls on conn as if a watcher owned by owner
// had items registered.
func serveWatcher(conn *fakeConn, owner string, items ...string) {
	conn.own(StatusNotifierWatcherInterface, owner)

	conn.handle(StatusNotifierWatcherInterface, getProperty, func(_ dbus.ObjectPath, args []any) ([]any, error) {
		return []any{dbus.MakeVariant(append([]string{}, items...))}, nil
	})
}

func watcherSignal(sender, member, id string) *dbus.Signal {
	return &dbus.Signal{
		Sender: sender,
		Path:   StatusNotifierWatcherPath,
		Name:   StatusNotifierWatcherInterface + "." + member,
		Body:   []any{id},
	}
}

func TestHostUniqueNames(t *testing.T) {
	conn := newFakeConn()
	loop := NewLoop()

	a := NewHost(conn, loop, &recordingConsumer{})
	b := NewHost(conn, loop, &recordingConsumer{})

	assert.NotEqual(t, a.Name(), b.Name())
	assert.Regexp(t, `^org\.kde\.StatusNotifierHost-\d+-\d+$`, a.Name())

	require.NoError(t, a.Listen())
	require.NoError(t, b.Listen())
}

func TestHostListen(t *testing.T) {
	conn := newFakeConn()
	loop := NewLoop()
	serveWatcher(conn, ":1.1", ":1.5/StatusNotifierItem", "org.example.App")

	consumer := &recordingConsumer{}
	h := NewHost(conn, loop, consumer)
	require.NoError(t, h.Listen())
	loop.Flush()

	assert.True(t, h.Attached())
	assert.True(t, conn.names[h.Name()])

	register := conn.callsTo(StatusNotifierWatcherInterface + ".RegisterStatusNotifierHost")
	require.Len(t, register, 1)
	assert.Equal(t, StatusNotifierWatcherInterface, register[0].dest)
	assert.Equal(t, []any{h.Name()}, register[0].args)

	assert.Equal(t, []ServiceID{":1.5/StatusNotifierItem", "org.example.App/StatusNotifierItem"}, consumer.added)
}

func TestHostSignals(t *testing.T) {
	conn := newFakeConn()
	loop := NewLoop()
	serveWatcher(conn, ":1.1")

	consumer := &recordingConsumer{}
	h := NewHost(conn, loop, consumer)
	require.NoError(t, h.Listen())
	loop.Flush()

	h.handleSignal(watcherSignal(":1.1", "StatusNotifierItemRegistered", ":1.5/StatusNotifierItem"))
	h.handleSignal(watcherSignal(":1.99", "StatusNotifierItemRegistered", ":1.6/StatusNotifierItem"))
	h.handleSignal(watcherSignal(":1.1", "StatusNotifierItemUnregistered", ":1.5/StatusNotifierItem"))

	assert.Equal(t, []ServiceID{":1.5/StatusNotifierItem"}, consumer.added)
	assert.Equal(t, []ServiceID{":1.5/StatusNotifierItem"}, consumer.removed)
}

func TestHostFollowsWatcher(t *testing.T) {
	conn := newFakeConn()
	loop := NewLoop()

	consumer := &recordingConsumer{}
	h := NewHost(conn, loop, consumer)
	require.NoError(t, h.Listen())
	loop.Flush()

	// No watcher yet: the host waits.
	assert.False(t, h.Attached())
	assert.Empty(t, conn.callsTo(StatusNotifierWatcherInterface+".RegisterStatusNotifierHost"))

	serveWatcher(conn, ":1.1", ":1.5/StatusNotifierItem")
	h.handleSignal(ownerGained(StatusNotifierWatcherInterface, ":1.1"))
	loop.Flush()

	assert.True(t, h.Attached())
	assert.Len(t, conn.callsTo(StatusNotifierWatcherInterface+".RegisterStatusNotifierHost"), 1)
	assert.Equal(t, []ServiceID{":1.5/StatusNotifierItem"}, consumer.added)

	// The watcher goes away: its signals are no longer followed.
	h.handleSignal(ownerLost(StatusNotifierWatcherInterface, ":1.1"))
	loop.Flush()

	assert.False(t, h.Attached())
	h.handleSignal(watcherSignal(":1.1", "StatusNotifierItemRegistered", ":1.6/StatusNotifierItem"))
	assert.Len(t, consumer.added, 1)

	// Other names are not the watcher.
	h.handleSignal(ownerGained("org.example.App", ":1.7"))
	assert.False(t, h.Attached())
}

func TestHostClose(t *testing.T) {
	conn := newFakeConn()
	loop := NewLoop()
	serveWatcher(conn, ":1.1")

	h := NewHost(conn, loop, &recordingConsumer{})
	require.NoError(t, h.Listen())
	loop.Flush()

	require.NoError(t, h.Close())

	assert.False(t, conn.names[h.Name()])
	assert.Empty(t, conn.channels)
	assert.Equal(t, conn.addMatches, conn.removeMatches)
	assert.Error(t, h.Listen())
}
