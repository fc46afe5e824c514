package plugman

import "errors"

// Guard rejections. These come back synchronously from Install/Uninstall/
// Refresh; nothing remote has happened when one of them is returned.
var (
	ErrBusy         = errors.New("another operation is already in progress")
	ErrNotFound     = errors.New("no such plugin")
	ErrNotConnected = errors.New("device not connected")
	ErrNotLocal     = errors.New("plugin has no local artifact")
	ErrNotInstalled = errors.New("plugin not installed on device")
)
