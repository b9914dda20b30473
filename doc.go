// Package sntray is a toolkit-agnostic implementation of the
// [StatusNotifierItem] specification for system tray hosts. It provides the
// watcher service, the host side of the protocol, and a renderable model of
// every item, including its com.canonical.dbusmenu menu.
//
// # Usage
//
// System tray consists of [Watcher], [Host], [Tray] and multiple [Item]
// instances:
//   - [Watcher] keeps track of tray items and hosts. One watcher must be
//     present on a D-Bus at a time.
//   - [Host] registers itself in the watcher (either [Watcher] or an
//     external implementation) and forwards announced items to a [Consumer].
//   - [Tray] is a [Consumer] that keeps one [Item] per registered service.
//   - [Item] is the application running in the system tray. Its menu is
//     exposed as a [MenuModel] of sections and named actions.
//
// # Concurrency
//
// Everything runs on a [Loop]. Remote calls are asynchronous and their
// results are applied on the loop, after checking that the target is still
// alive. Methods of the types above must only be called from the loop
// goroutine, e.g. through [Loop.Post].
//
// [StatusNotifierItem]: https://www.freedesktop.org/wiki/Specifications/StatusNotifierItem/
package sntray
