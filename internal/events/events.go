package events

import "github.com/asaskevich/EventBus"

// GlobalBus is the shared event bus for the entire application
var GlobalBus EventBus.Bus

func init() {
	GlobalBus = EventBus.New()
}

// Event types for application-wide coordination
const (
	// Shutdown events
	EventShutdownRequested = "app:shutdown:requested"
	EventShutdownComplete  = "app:shutdown:complete"

	// Connectivity events
	EventDeviceConnected    = "device:connected"
	EventDeviceDisconnected = "device:disconnected"

	// Operation events
	EventOperationStarted  = "operation:started"
	EventOperationFinished = "operation:finished"

	// Inventory events
	EventInventoryRefreshed = "inventory:refreshed"
	EventRefreshRequested   = "inventory:refresh:requested"

	// Watcher events
	EventWatcherStarted = "watcher:started"
	EventWatcherStopped = "watcher:stopped"
)
