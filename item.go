package sntray

import (
	"weak"

	"github.com/godbus/dbus/v5"
	"go.uber.org/zap"
)

const (
	StatusNotifierItemInterface                 = "org.kde.StatusNotifierItem"
	StatusNotifierItemPath      dbus.ObjectPath = "/StatusNotifierItem"
)

// ItemActionPrefix prefixes action names of item menus.
const ItemActionPrefix = "item"

type ItemCategory string

// StatusNotifierItem categories.
const (
	// The item describes the status of a generic application, for instance the
	// current state of a media player.
	ItemCategoryApplicationStatus ItemCategory = "ApplicationStatus"

	// The item describes the status of communication oriented applications, like
	// an instant messenger or an email client.
	ItemCategoryCommunications ItemCategory = "Communications"

	// The item describes services of the system not seen as a stand alone
	// application by the user, such as an indicator for the activity of a disk
	// indexing service.
	ItemCategorySystemServices ItemCategory = "SystemServices"

	// The item describes the state and control of a particular hardware, such as
	// an indicator of the battery charge or sound card volume control.
	ItemCategoryHardware ItemCategory = "Hardware"
)

type ItemStatus string

// StatusNotifierItem statuses.
const (
	// The item doesn't convey important information to the user, it can be
	// considered an "idle" status and is likely that visualizations will choose
	// to hide it.
	ItemStatusPassive ItemStatus = "Passive"

	// The item is active, is more important that the item will be shown in some
	// way to the user.
	ItemStatusActive ItemStatus = "Active"

	// The item carries really important information for the user, such as battery
	// charge running out and is wants to incentive the direct user intervention.
	// Visualizations should emphasize in some way the items with NeedsAttention
	// status.
	ItemStatusNeedsAttention ItemStatus = "NeedsAttention"
)

// State is the lifecycle state of [Item] and [MenuModel].
type State int

const (
	// StateResolving is the initial state, before the remote object answered.
	StateResolving State = iota

	// StateReady means the published state has been fetched at least once.
	StateReady

	// StateStale is terminal: the remote is gone or the object was closed.
	StateStale
)

func (s State) String() string {
	switch s {
	case StateResolving:
		return "resolving"
	case StateReady:
		return "ready"
	default:
		return "stale"
	}
}

// Button is a pointer button pressed over an item.
type Button int

const (
	ButtonPrimary Button = iota + 1
	ButtonMiddle
	ButtonSecondary
)

// MenuPopup shows the local menu of an item. It is implemented by the
// graphical toolkit.
type MenuPopup interface {
	PopupMenu(item *Item, menu *MenuModel, x, y int32)
}

// itemSignals are the StatusNotifierItem signals that invalidate the
// property snapshot.
var itemSignals = []string{
	"NewTitle",
	"NewIcon",
	"NewAttentionIcon",
	"NewOverlayIcon",
	"NewToolTip",
	"NewStatus",
	"NewMenu",
}

// Item is the client side of a [StatusNotifierItem]: a snapshot of the
// properties it publishes, its decoded icon and its menu model.
//
// All methods must be called from the [Loop] goroutine.
//
// [StatusNotifierItem]: https://www.freedesktop.org/wiki/Specifications/StatusNotifierItem/StatusNotifierItem/
type Item struct {
	id      ServiceID
	busName string
	path    dbus.ObjectPath
	owner   string
	conn    Conn
	loop    *Loop
	log     *zap.Logger
	opts    []Option
	theme   IconTheme
	popup   MenuPopup
	signals chan *dbus.Signal
	object  dbus.BusObject

	state State
	gen   uint64
	props map[string]dbus.Variant

	icon    *Icon
	tooltip string
	menu    *MenuModel
	scroll  scrollAccumulator

	// lookup returns the live item of the owning collection; onLost removes
	// the item from it.
	lookup   func(ServiceID) *Item
	onLost   func(ServiceID)
	onUpdate func()
}

// NewItem returns an [Item] for id and starts resolving it.
//
// An item that cannot be resolved, or whose connection closes, becomes
// stale; an item owned by a [Tray] is removed from it as well.
func NewItem(conn Conn, loop *Loop, id ServiceID, opts ...Option) *Item {
	item := newItem(conn, loop, id, nil, nil, opts)
	item.resolve()

	return item
}

func newItem(conn Conn, loop *Loop, id ServiceID, lookup func(ServiceID) *Item, onLost func(ServiceID), opts []Option) *Item {
	o := newOptions(opts)
	busName, path := id.Split()

	return &Item{
		id:      id,
		busName: busName,
		path:    path,
		conn:    conn,
		loop:    loop,
		log:     o.logger.Named("item").With(zap.String("id", string(id))),
		opts:    opts,
		theme:   o.iconTheme,
		popup:   o.menuPopup,
		props:   map[string]dbus.Variant{},
		scroll:  scrollAccumulator{threshold: o.scrollThreshold},
		lookup:  lookup,
		onLost:  onLost,
	}
}

// ServiceID returns the id the item was registered with.
func (item *Item) ServiceID() ServiceID {
	return item.id
}

// State returns the lifecycle state of the item.
func (item *Item) State() State {
	return item.state
}

// OnUpdate registers callback that runs whenever the snapshot, the icon or
// the menu of the item changes.
//
// Graphical tray hosts should redraw representation of the item when its
// OnUpdate callback is called.
func (item *Item) OnUpdate(callback func()) {
	item.onUpdate = callback
}

// Icon returns the icon to show, or nil if the item has no icon.
func (item *Item) Icon() *Icon {
	return item.icon
}

// Tooltip returns the tooltip text of the item.
func (item *Item) Tooltip() string {
	return item.tooltip
}

// Menu returns the menu model of the item, or nil if it has no menu.
func (item *Item) Menu() *MenuModel {
	return item.menu
}

// Property returns a raw property from the snapshot.
func (item *Item) Property(name string) (dbus.Variant, bool) {
	v, ok := item.props[name]
	return v, ok
}

// ID returns the application identifier, such as the application name.
func (item *Item) ID() string {
	return item.stringProperty("Id")
}

// Title returns the name that describes the application.
func (item *Item) Title() string {
	return item.stringProperty("Title")
}

// Status returns status of the item or of the associated application.
func (item *Item) Status() ItemStatus {
	switch item.stringProperty("Status") {
	case "Passive":
		return ItemStatusPassive
	case "NeedsAttention":
		return ItemStatusNeedsAttention
	default:
		return ItemStatusActive
	}
}

// Category returns category of the item.
func (item *Item) Category() ItemCategory {
	switch item.stringProperty("Category") {
	case "Communications":
		return ItemCategoryCommunications
	case "SystemServices":
		return ItemCategorySystemServices
	case "Hardware":
		return ItemCategoryHardware
	default:
		return ItemCategoryApplicationStatus
	}
}

// IsMenu reports whether the item only supports the context menu.
func (item *Item) IsMenu() bool {
	isMenu, _ := item.props["ItemIsMenu"].Value().(bool)
	return isMenu
}

// MenuPath returns the path of the com.canonical.dbusmenu object of the item,
// or an empty string.
func (item *Item) MenuPath() dbus.ObjectPath {
	switch v := item.props["Menu"].Value().(type) {
	case dbus.ObjectPath:
		return v
	case string:
		return dbus.ObjectPath(v)
	default:
		return ""
	}
}

// Press maps a button press at screen coordinates x and y to the item:
//   - primary button: Activate
//   - secondary button: SecondaryActivate, or the menu if the item is a menu
//   - middle button: the menu
//
// The menu is shown through [MenuPopup] if the item has a menu model,
// otherwise the item is asked to show its own context menu.
func (item *Item) Press(button Button, x, y int32) {
	if item.state != StateReady {
		return
	}

	switch {
	case button == ButtonMiddle, button == ButtonSecondary && item.IsMenu():
		item.openMenu(x, y)
	case button == ButtonPrimary:
		item.call("Activate", x, y)
	case button == ButtonSecondary:
		item.call("SecondaryActivate", x, y)
	}
}

// ScrollDiscrete sends one Scroll call for a wheel notch.
func (item *Item) ScrollDiscrete(direction ScrollDirection) {
	if item.state != StateReady {
		return
	}

	delta, orientation := direction.delta()
	item.call("Scroll", delta, orientation)
}

// ScrollSmooth accumulates a smooth scroll delta and sends Scroll calls once
// the accumulated delta crosses the scroll threshold.
func (item *Item) ScrollSmooth(dx, dy float64) {
	if item.state != StateReady {
		return
	}

	for _, step := range item.scroll.add(dx, dy) {
		item.call("Scroll", step.delta, step.orientation)
	}
}

// Close unsubscribes from item signals and closes the menu model.
//
// This method must be called when item is being unregistered from the
// system tray.
func (item *Item) Close() {
	if item.state == StateStale {
		return
	}

	item.state = StateStale
	item.onUpdate = nil

	if item.menu != nil {
		item.menu.Close()
		item.menu = nil
	}

	if item.signals == nil {
		return
	}

	for _, match := range item.matches() {
		item.conn.RemoveMatchSignal(match...)
	}

	item.conn.RemoveSignal(item.signals)
	close(item.signals)
}

func (item *Item) openMenu(x, y int32) {
	if item.menu != nil && item.menu.State() == StateReady && item.popup != nil {
		item.menu.AboutToShow()
		item.popup.PopupMenu(item, item.menu, x, y)
		return
	}

	item.call("ContextMenu", x, y)
}

func (item *Item) call(method string, args ...any) {
	item.loop.invoke(item.object, StatusNotifierItemInterface+"."+method, nil, args...)
}

// continuation wraps fn so that it only runs while the item is alive and
// still the live entry of its collection.
func (item *Item) continuation(fn func(it *Item, call *dbus.Call)) func(*dbus.Call) {
	ref := weak.Make(item)
	id := item.id
	lookup := item.lookup

	return func(call *dbus.Call) {
		it := ref.Value()
		if it == nil || it.state == StateStale {
			return
		}

		if lookup != nil && lookup(id) != it {
			return
		}

		fn(it, call)
	}
}

// resolve finds the connection owning the bus name of the item, subscribes
// to its signals and fetches the initial snapshot.
func (item *Item) resolve() {
	item.loop.invoke(item.conn.BusObject(), getNameOwner, item.continuation(func(it *Item, call *dbus.Call) {
		var owner string
		if call.Err != nil || call.Store(&owner) != nil {
			it.log.Debug("failed to resolve item", zap.Error(call.Err))
			it.lost()
			return
		}

		it.owner = owner
		it.object = it.conn.Object(owner, it.path)

		for _, match := range it.matches() {
			if err := it.conn.AddMatchSignal(match...); err != nil {
				it.log.Warn("failed to subscribe to item signals", zap.Error(err))
			}
		}

		it.signals = make(chan *dbus.Signal, 32)
		it.conn.Signal(it.signals)
		it.loop.forward(it.signals, it.handleSignal)

		it.refresh()
	}), item.busName)
}

// refresh fetches a new property snapshot. Only the reply to the latest
// request is applied.
func (item *Item) refresh() {
	item.gen++
	gen := item.gen

	item.loop.invoke(item.object, getAllProperties, item.continuation(func(it *Item, call *dbus.Call) {
		if gen != it.gen {
			return
		}

		var props map[string]dbus.Variant
		if call.Err != nil || call.Store(&props) != nil {
			it.log.Debug("failed to fetch properties", zap.Error(call.Err))

			// An item that never answered is dropped; a ready item keeps its
			// last snapshot.
			if it.state == StateResolving {
				it.lost()
			}

			return
		}

		it.apply(props)
	}), StatusNotifierItemInterface)
}

// apply replaces the snapshot and everything derived from it.
func (item *Item) apply(props map[string]dbus.Variant) {
	item.props = props
	item.state = StateReady

	iconName, iconPixmap := "IconName", "IconPixmap"
	if item.Status() == ItemStatusNeedsAttention {
		iconName, iconPixmap = "AttentionIconName", "AttentionIconPixmap"
	}

	item.icon = decodeIcon(
		pixmapsFromDBus(props[iconPixmap].Value()),
		item.stringProperty(iconName),
		item.theme,
	)
	item.tooltip = tooltipText(props["ToolTip"].Value())
	item.updateMenu()

	item.notify()
}

// updateMenu attaches a menu model when the item publishes a menu path, and
// replaces it when the path changes.
func (item *Item) updateMenu() {
	path := item.MenuPath()

	if item.menu != nil && item.menu.Path() == path {
		return
	}

	if item.menu != nil {
		item.menu.Close()
		item.menu = nil
	}

	if path == "" || path == "/" || !path.IsValid() {
		return
	}

	menu := NewMenuModel(item.conn, item.loop, item.owner, path, ItemActionPrefix, item.opts...)
	menu.OnChange(item.notify)

	if err := menu.Attach(); err != nil {
		item.log.Warn("failed to attach menu", zap.Error(err))
		return
	}

	item.menu = menu
}

func (item *Item) notify() {
	if item.onUpdate != nil {
		item.onUpdate()
	}
}

// lost marks the item stale and removes it from its collection.
func (item *Item) lost() {
	if item.onLost != nil {
		item.onLost(item.id)
	}

	item.Close()
}

// rebind follows the bus name of the item to a new owning connection. The
// menu is bound to the previous owner and is attached again by the next
// snapshot.
func (item *Item) rebind(owner string) {
	for _, match := range item.matches()[1:] {
		item.conn.RemoveMatchSignal(match...)
	}

	item.owner = owner
	item.object = item.conn.Object(owner, item.path)

	for _, match := range item.matches()[1:] {
		if err := item.conn.AddMatchSignal(match...); err != nil {
			item.log.Warn("failed to subscribe to item signals", zap.Error(err))
		}
	}

	if item.menu != nil {
		item.menu.Close()
		item.menu = nil
	}

	item.refresh()
}

// matches returns the match rules of the item. The first one follows the
// owner of the bus name, the others select signals of the current owner.
func (item *Item) matches() [][]dbus.MatchOption {
	matches := [][]dbus.MatchOption{ownerMatch(item.busName)}

	for _, member := range itemSignals {
		matches = append(matches, []dbus.MatchOption{
			dbus.WithMatchInterface(StatusNotifierItemInterface),
			dbus.WithMatchMember(member),
			dbus.WithMatchSender(item.owner),
		})
	}

	return matches
}

func (item *Item) handleSignal(signal *dbus.Signal) {
	if item.state == StateStale {
		return
	}

	if name, _, newOwner, ok := ownerChange(signal); ok {
		switch {
		case name != item.busName:
		case newOwner == "":
			item.log.Debug("item connection closed")
			item.lost()
		case newOwner != item.owner:
			item.log.Debug("item moved to another connection", zap.String("owner", newOwner))
			item.rebind(newOwner)
		}

		return
	}

	if signal.Sender != item.owner || signal.Path != item.path {
		return
	}

	for _, member := range itemSignals {
		if signal.Name == StatusNotifierItemInterface+"."+member {
			item.refresh()
			return
		}
	}
}

func (item *Item) stringProperty(name string) string {
	s, _ := item.props[name].Value().(string)
	return s
}

// tooltipText extracts the text of a (sa(iiay)ss) tooltip. Format of tooltip
// is as follows
//
//	[<icon-name>, <icon>, <title>, <description>]
//
// The description is preferred, the title is used if it is empty.
func tooltipText(value any) string {
	tooltip, ok := value.([]any)
	if !ok || len(tooltip) < 4 {
		return ""
	}

	if text, ok := tooltip[3].(string); ok && text != "" {
		return text
	}

	title, _ := tooltip[2].(string)

	return title
}
