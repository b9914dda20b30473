package sntray

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"weak"

	"github.com/godbus/dbus/v5"
	"go.uber.org/zap"
)

// ErrUnknownAction is returned when activating an action that is not bound
// in the current menu model.
var ErrUnknownAction = errors.New("unknown action")

// EntryKind tells submenus from actions.
type EntryKind int

const (
	EntryAction EntryKind = iota
	EntrySubmenu
)

// ToggleKind is the interaction kind of an action entry.
type ToggleKind int

const (
	ToggleNone ToggleKind = iota
	ToggleRadio
	ToggleCheck
)

// MenuEntry is a visible entry of a menu section.
type MenuEntry struct {
	Kind     EntryKind
	Label    string
	IconName string
	Enabled  bool

	// Action is the name of the action bound to the entry. It is empty for
	// submenus and disabled entries.
	Action string

	Toggle ToggleKind

	// Group is the radio group of the entry. Entries of the same section
	// share a group.
	Group string

	// Checked is the toggle state published by the application.
	Checked bool

	// Sections of a submenu.
	Sections []Section

	node int32
}

// Section is a run of entries between two separators.
type Section []*MenuEntry

// menuAction binds an action name to its remote node.
type menuAction struct {
	node    int32
	toggle  ToggleKind
	group   string
	checked bool
}

// menuBuilder converts dbusmenu layouts into sections.
type menuBuilder struct {
	prefix string
}

// build converts nodes into sections. Action identifiers are numbered
// starting at counter; the returned value is the next free number.
func (b menuBuilder) build(nodes []*LayoutNode, counter int, scope string) ([]Section, int) {
	var (
		sections []Section
		current  Section
	)

	flush := func() {
		if len(current) > 0 {
			sections = append(sections, current)
			current = nil
		}
	}

	for _, node := range nodes {
		label, ok := node.Label()
		if !ok {
			flush()
			continue
		}

		entry := &MenuEntry{
			Label:    label,
			IconName: node.IconName(),
			Enabled:  node.Enabled(),
			node:     node.ID,
		}

		if node.IsSubmenu() {
			entry.Kind = EntrySubmenu
			entry.Sections, counter = b.build(
				node.Children,
				counter,
				scope+"-"+strconv.Itoa(len(sections))+"-"+strconv.Itoa(len(current)),
			)
			current = append(current, entry)
			continue
		}

		switch node.ToggleType() {
		case "radio":
			entry.Toggle = ToggleRadio
			entry.Group = b.prefix + ".group" + scope + "-" + strconv.Itoa(len(sections))
		case "checkmark":
			entry.Toggle = ToggleCheck
		}

		entry.Checked = node.ToggleState() == 1

		if entry.Enabled {
			entry.Action = b.prefix + "." + actionID(label, counter)
			counter++
		}

		current = append(current, entry)
	}

	flush()

	return sections, counter
}

// actionID returns the identifier of a leaf: the lower-cased ASCII letters of
// its label followed by n.
func actionID(label string, n int) string {
	var sb strings.Builder

	for _, r := range strings.ToLower(label) {
		if r >= 'a' && r <= 'z' {
			sb.WriteRune(r)
		}
	}

	sb.WriteString(strconv.Itoa(n))

	return sb.String()
}

// bindActions collects the action table of sections.
func bindActions(sections []Section, actions map[string]*menuAction, radio map[string]string) {
	for _, section := range sections {
		for _, entry := range section {
			if entry.Kind == EntrySubmenu {
				bindActions(entry.Sections, actions, radio)
				continue
			}

			if entry.Action == "" {
				continue
			}

			actions[entry.Action] = &menuAction{
				node:    entry.node,
				toggle:  entry.Toggle,
				group:   entry.Group,
				checked: entry.Checked,
			}

			if entry.Toggle == ToggleRadio && entry.Checked {
				radio[entry.Group] = entry.Action
			}
		}
	}
}

// MenuModel is the local model of a remote com.canonical.dbusmenu menu. It
// rebuilds itself whenever the application changes the menu.
//
// Action identifiers are regenerated from scratch on every rebuild and are
// only unique within one build.
//
// All methods must be called from the [Loop] goroutine.
type MenuModel struct {
	conn    Conn
	loop    *Loop
	log     *zap.Logger
	metrics *Metrics
	proxy   *menuProxy
	builder menuBuilder
	sender  string
	path    dbus.ObjectPath
	signals chan *dbus.Signal

	state    State
	gen      uint64
	revision uint32
	sections []Section
	actions  map[string]*menuAction
	radio    map[string]string
	onChange func()
}

// NewMenuModel returns a detached model of the menu exported at path by
// busName. Action names of the model start with prefix followed by a dot.
func NewMenuModel(conn Conn, loop *Loop, busName string, path dbus.ObjectPath, prefix string, opts ...Option) *MenuModel {
	o := newOptions(opts)

	return &MenuModel{
		conn:    conn,
		loop:    loop,
		log:     o.logger.Named("menu").With(zap.String("bus", busName), zap.String("path", string(path))),
		metrics: o.metrics,
		proxy:   &menuProxy{loop: loop, object: conn.Object(busName, path)},
		builder: menuBuilder{prefix: prefix},
		sender:  busName,
		path:    path,
		actions: map[string]*menuAction{},
		radio:   map[string]string{},
	}
}

// Attach subscribes to layout changes of the remote menu and requests the
// initial layout.
func (m *MenuModel) Attach() error {
	if m.state == StateStale {
		return fmt.Errorf("attach: menu is closed")
	}

	if m.signals != nil {
		return nil
	}

	matches := m.proxy.matches(m.sender)
	for i, match := range matches {
		if err := m.conn.AddMatchSignal(match...); err != nil {
			for _, added := range matches[:i] {
				m.conn.RemoveMatchSignal(added...)
			}

			return fmt.Errorf("attach: %w", err)
		}
	}

	m.signals = make(chan *dbus.Signal, 16)
	m.conn.Signal(m.signals)
	m.loop.forward(m.signals, m.handleSignal)

	m.rebuild()

	return nil
}

// Close detaches the model. It cannot be reused afterwards.
func (m *MenuModel) Close() {
	if m.state == StateStale {
		return
	}

	m.state = StateStale
	m.onChange = nil

	if m.signals == nil {
		return
	}

	for _, match := range m.proxy.matches(m.sender) {
		m.conn.RemoveMatchSignal(match...)
	}

	m.conn.RemoveSignal(m.signals)
	close(m.signals)
}

// State returns the lifecycle state of the model.
func (m *MenuModel) State() State {
	return m.state
}

// Path returns the object path of the remote menu.
func (m *MenuModel) Path() dbus.ObjectPath {
	return m.path
}

// Revision returns the layout revision reported by the application.
func (m *MenuModel) Revision() uint32 {
	return m.revision
}

// Sections returns the top-level sections of the menu.
func (m *MenuModel) Sections() []Section {
	return m.sections
}

// Actions returns names of all bound actions, sorted.
func (m *MenuModel) Actions() []string {
	names := make([]string, 0, len(m.actions))
	for name := range m.actions {
		names = append(names, name)
	}

	slices.Sort(names)

	return names
}

// Checked returns the state of a checkbox action.
func (m *MenuModel) Checked(action string) bool {
	a, ok := m.actions[action]
	return ok && a.toggle == ToggleCheck && a.checked
}

// Selected returns the selected action of a radio group.
func (m *MenuModel) Selected(group string) string {
	return m.radio[group]
}

// OnChange registers callback that runs after every rebuild.
func (m *MenuModel) OnChange(callback func()) {
	m.onChange = callback
}

// Activate runs the action bound to name and sends a "clicked" event to the
// application.
func (m *MenuModel) Activate(name string) error {
	if m.state == StateStale {
		return fmt.Errorf("activate %s: menu is closed", name)
	}

	a, ok := m.actions[name]
	if !ok {
		return fmt.Errorf("activate %s: %w", name, ErrUnknownAction)
	}

	switch a.toggle {
	case ToggleRadio:
		m.radio[a.group] = name
	case ToggleCheck:
		a.checked = !a.checked
	}

	m.proxy.event(a.node, "clicked")

	return nil
}

// AboutToShow notifies the application that the menu is about to be shown,
// and rebuilds the model if the application asks for it.
func (m *MenuModel) AboutToShow() {
	if m.state == StateStale {
		return
	}

	ref := weak.Make(m)

	m.proxy.aboutToShow(0, func(needUpdate bool) {
		model := ref.Value()
		if model == nil || model.state == StateStale || !needUpdate {
			return
		}

		model.rebuild()
	})
}

// rebuild requests the layout. Replies to older requests are discarded.
func (m *MenuModel) rebuild() {
	m.gen++
	gen := m.gen
	ref := weak.Make(m)

	m.proxy.getLayout(func(revision uint32, root *LayoutNode, err error) {
		model := ref.Value()
		if model == nil || model.state == StateStale || gen != model.gen {
			return
		}

		if err != nil {
			model.log.Debug("failed to fetch menu layout", zap.Error(err))
			return
		}

		model.apply(revision, root)
	})
}

// apply replaces the tree and the action table.
func (m *MenuModel) apply(revision uint32, root *LayoutNode) {
	sections, _ := m.builder.build(root.Children, 0, "")

	actions := make(map[string]*menuAction)
	radio := make(map[string]string)
	bindActions(sections, actions, radio)

	m.revision = revision
	m.sections = sections
	m.actions = actions
	m.radio = radio
	m.state = StateReady
	m.metrics.menuRebuild()

	m.log.Debug("menu rebuilt", zap.Uint32("revision", revision), zap.Int("actions", len(actions)))

	if m.onChange != nil {
		m.onChange()
	}
}

func (m *MenuModel) handleSignal(signal *dbus.Signal) {
	if m.state == StateStale || signal.Sender != m.sender || signal.Path != m.path {
		return
	}

	switch signal.Name {
	case menuLayoutUpdated, menuPropertiesUpdated:
		m.rebuild()
	}
}
