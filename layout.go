package sntray

import (
	"errors"
	"fmt"

	"github.com/godbus/dbus/v5"
)

// ErrMalformedLayout is returned when a layout value is not a (ia{sv}av)
// tuple.
var ErrMalformedLayout = errors.New("malformed menu layout")

// maxLayoutDepth bounds the nesting of decoded layouts.
const maxLayoutDepth = 32

// LayoutNode is a node of a com.canonical.dbusmenu layout.
type LayoutNode struct {
	ID         int32
	Properties map[string]any
	Children   []*LayoutNode
}

// NewLayoutNode decodes a (ia{sv}av) layout value as returned by GetLayout.
// Children that cannot be decoded are skipped.
func NewLayoutNode(data any) (*LayoutNode, error) {
	return decodeLayout(data, 0)
}

func decodeLayout(data any, depth int) (*LayoutNode, error) {
	if depth > maxLayoutDepth {
		return nil, fmt.Errorf("%w: nested deeper than %d", ErrMalformedLayout, maxLayoutDepth)
	}

	tuple, ok := data.([]any)
	if !ok || len(tuple) != 3 {
		return nil, fmt.Errorf("%w: %T is not a 3-tuple", ErrMalformedLayout, data)
	}

	node := &LayoutNode{}

	if node.ID, ok = tuple[0].(int32); !ok {
		return nil, fmt.Errorf("%w: id is %T", ErrMalformedLayout, tuple[0])
	}

	props, ok := tuple[1].(map[string]dbus.Variant)
	if !ok {
		return nil, fmt.Errorf("%w: node %d: properties are %T", ErrMalformedLayout, node.ID, tuple[1])
	}

	children, ok := tuple[2].([]dbus.Variant)
	if !ok {
		return nil, fmt.Errorf("%w: node %d: children are %T", ErrMalformedLayout, node.ID, tuple[2])
	}

	node.Properties = make(map[string]any, len(props))
	for name, v := range props {
		node.Properties[name] = v.Value()
	}

	for _, v := range children {
		if child, err := decodeLayout(v.Value(), depth+1); err == nil {
			node.Children = append(node.Children, child)
		}
	}

	return node, nil
}

// Label returns the label of the node. A node without label is a separator.
func (n *LayoutNode) Label() (string, bool) {
	label, ok := n.Properties["label"].(string)
	return label, ok
}

// Enabled reports whether the node can be activated. Nodes are enabled
// unless they say otherwise.
func (n *LayoutNode) Enabled() bool {
	enabled, ok := n.Properties["enabled"].(bool)
	return !ok || enabled
}

// IconName returns the themed icon name of the node.
func (n *LayoutNode) IconName() string {
	name, _ := n.Properties["icon-name"].(string)
	return name
}

// ToggleType returns "checkmark", "radio" or an empty string.
func (n *LayoutNode) ToggleType() string {
	toggle, _ := n.Properties["toggle-type"].(string)
	return toggle
}

// ToggleState returns 1 for checked, 0 for unchecked and -1 for
// indeterminate toggles.
func (n *LayoutNode) ToggleState() int32 {
	state, ok := n.Properties["toggle-state"].(int32)
	if !ok {
		return -1
	}

	return state
}

// IsSubmenu reports whether the node opens a submenu.
func (n *LayoutNode) IsSubmenu() bool {
	if display, _ := n.Properties["children-display"].(string); display == "submenu" {
		return true
	}

	return len(n.Children) > 0
}
