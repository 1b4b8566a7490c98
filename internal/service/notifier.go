package service

// Notifier pushes events to connected clients (avoids an import cycle
// with the websocket transport, which implements it).
type Notifier interface {
	NotifyHost(roomID string, event string, payload interface{})
	NotifyRoom(roomID string, event string, payload interface{})
}

// NopNotifier discards everything; the default until a hub is attached.
type NopNotifier struct{}

func (NopNotifier) NotifyHost(string, string, interface{}) {}
func (NopNotifier) NotifyRoom(string, string, interface{}) {}
