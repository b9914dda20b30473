package sntray

import (
	"slices"

	"go.uber.org/zap"
)

// Tray holds the items of a host, at most one per [ServiceID], in the order
// they were added. It implements [Consumer].
//
// All methods must be called from the [Loop] goroutine.
type Tray struct {
	conn     Conn
	loop     *Loop
	log      *zap.Logger
	metrics  *Metrics
	opts     []Option
	items    map[ServiceID]*Item
	order    []ServiceID
	onChange func()
}

// NewTray returns an empty [Tray]. Options are passed down to its items.
func NewTray(conn Conn, loop *Loop, opts ...Option) *Tray {
	o := newOptions(opts)

	return &Tray{
		conn:    conn,
		loop:    loop,
		log:     o.logger.Named("tray"),
		metrics: o.metrics,
		opts:    opts,
		items:   make(map[ServiceID]*Item),
	}
}

// OnChange registers callback that runs whenever the set of items or any
// item changes.
//
// Graphical tray hosts should lay out items again when OnChange callback is
// called.
func (t *Tray) OnChange(callback func()) {
	t.onChange = callback
}

// AddItem creates an item for id unless the tray already has one.
func (t *Tray) AddItem(id ServiceID) {
	if _, exists := t.items[id]; exists {
		return
	}

	item := newItem(t.conn, t.loop, id, t.Lookup, t.RemoveItem, t.opts)
	item.OnUpdate(t.changed)

	t.items[id] = item
	t.order = append(t.order, id)
	t.metrics.traySize(len(t.items))

	t.log.Debug("item added", zap.String("id", string(id)))

	item.resolve()
	t.changed()
}

// RemoveItem closes and removes the item of id, if any.
func (t *Tray) RemoveItem(id ServiceID) {
	item, exists := t.items[id]
	if !exists {
		return
	}

	delete(t.items, id)
	t.order = slices.DeleteFunc(t.order, func(other ServiceID) bool {
		return other == id
	})
	t.metrics.traySize(len(t.items))

	item.Close()

	t.log.Debug("item removed", zap.String("id", string(id)))

	t.changed()
}

// Lookup returns the item of id, or nil.
func (t *Tray) Lookup(id ServiceID) *Item {
	return t.items[id]
}

// Items returns items in the order they were added. Items that are still
// resolving are included; renderers may skip them until they are ready.
func (t *Tray) Items() []*Item {
	items := make([]*Item, len(t.order))
	for i, id := range t.order {
		items[i] = t.items[id]
	}

	return items
}

// Len returns the number of items.
func (t *Tray) Len() int {
	return len(t.items)
}

// Close closes all items.
func (t *Tray) Close() {
	for _, id := range slices.Clone(t.order) {
		t.RemoveItem(id)
	}
}

func (t *Tray) changed() {
	if t.onChange != nil {
		t.onChange()
	}
}
