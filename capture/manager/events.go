package manager

import "github.com/flyingcys/pico-logicanalyzer-sub009/capture"

// EventKind enumerates the driver manager's event stream, per spec.md §4.5.
// Grounded on the teacher's callbacks.go pattern of a plain Go value naming
// a callback hook, generalized here from a single override variable to a
// subscriber list carrying a tagged event.
type EventKind int

const (
	EventDriverRegistered EventKind = iota
	EventDriverUnregistered
	EventDevicesDetected
	EventDriverCreated
	EventMultiDriverCreated
	EventDeviceConnected
	EventDeviceDisconnected
)

func (k EventKind) String() string {
	switch k {
	case EventDriverRegistered:
		return "driver_registered"
	case EventDriverUnregistered:
		return "driver_unregistered"
	case EventDevicesDetected:
		return "devices_detected"
	case EventDriverCreated:
		return "driver_created"
	case EventMultiDriverCreated:
		return "multi_driver_created"
	case EventDeviceConnected:
		return "device_connected"
	case EventDeviceDisconnected:
		return "device_disconnected"
	default:
		return "unknown"
	}
}

// Event is delivered to every subscriber registered via Manager.Subscribe.
// Only the fields relevant to Kind are populated.
type Event struct {
	Kind     EventKind
	DriverID string
	Device   *capture.DetectedDevice
	Devices  []capture.DetectedDevice
}

// Subscribe registers fn to receive every event the manager emits from this
// point forward. It returns an unsubscribe function.
func (m *Manager) Subscribe(fn func(Event)) (unsubscribe func()) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	id := len(m.subscribers)
	m.subscribers = append(m.subscribers, fn)
	return func() {
		m.subMu.Lock()
		defer m.subMu.Unlock()
		if id < len(m.subscribers) {
			m.subscribers[id] = nil
		}
	}
}

func (m *Manager) emit(e Event) {
	m.subMu.Lock()
	subs := make([]func(Event), len(m.subscribers))
	copy(subs, m.subscribers)
	m.subMu.Unlock()

	for _, fn := range subs {
		if fn != nil {
			fn(e)
		}
	}
}
