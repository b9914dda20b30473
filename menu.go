package sntray

import (
	"fmt"
	"time"

	"github.com/godbus/dbus/v5"
)

const MenuInterface = "com.canonical.dbusmenu"

// Menu signals that invalidate the local model.
const (
	menuLayoutUpdated     = MenuInterface + ".LayoutUpdated"
	menuPropertiesUpdated = MenuInterface + ".ItemsPropertiesUpdated"
)

// menuProxy issues com.canonical.dbusmenu calls on the remote menu object.
type menuProxy struct {
	loop   *Loop
	object dbus.BusObject
}

// getLayout requests the whole layout of the menu. cont runs on the loop.
func (m *menuProxy) getLayout(cont func(revision uint32, root *LayoutNode, err error)) {
	m.loop.invoke(m.object, MenuInterface+".GetLayout", func(call *dbus.Call) {
		if call.Err != nil {
			cont(0, nil, fmt.Errorf("layout: %w", call.Err))
			return
		}

		if len(call.Body) != 2 {
			cont(0, nil, fmt.Errorf("layout: invalid response body format"))
			return
		}

		revision, ok := call.Body[0].(uint32)
		if !ok {
			cont(0, nil, fmt.Errorf("layout: invalid revision type"))
			return
		}

		root, err := NewLayoutNode(call.Body[1])
		if err != nil {
			cont(revision, nil, fmt.Errorf("layout: %w", err))
			return
		}

		cont(revision, root, nil)
	}, int32(0), int32(-1), []string{})
}

// event tells the application that an event happened to the node with the
// given ID.
//
// Possible values for eventID are:
//   - clicked
//   - hovered
//   - opened
//   - closed
//
// Vendor-specific events can be sent by prefixing eventID with "x-<vendor>-".
func (m *menuProxy) event(targetID int32, eventID string) {
	m.loop.invoke(m.object, MenuInterface+".Event", nil,
		targetID,
		eventID,
		dbus.MakeVariant(int32(0)),
		uint32(time.Now().Unix()),
	)
}

// aboutToShow tells the application that the node is about to be shown. cont
// receives whether the layout has to be fetched again.
func (m *menuProxy) aboutToShow(targetID int32, cont func(needUpdate bool)) {
	m.loop.invoke(m.object, MenuInterface+".AboutToShow", func(call *dbus.Call) {
		var needUpdate bool
		if call.Err != nil || call.Store(&needUpdate) != nil {
			return
		}

		cont(needUpdate)
	}, targetID)
}

// matches returns match options for menu signals emitted by sender.
func (m *menuProxy) matches(sender string) [][]dbus.MatchOption {
	matches := make([][]dbus.MatchOption, 0, 2)

	for _, member := range []string{"LayoutUpdated", "ItemsPropertiesUpdated"} {
		matches = append(matches, []dbus.MatchOption{
			dbus.WithMatchInterface(MenuInterface),
			dbus.WithMatchMember(member),
			dbus.WithMatchSender(sender),
			dbus.WithMatchObjectPath(m.object.Path()),
		})
	}

	return matches
}
