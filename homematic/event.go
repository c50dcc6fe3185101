package homematic

import (
	"strings"
	"sync"
	"time"
)

// Event types of the system event bus.
const (
	EventTypeKeypress    = "KEYPRESS"
	EventTypeImpulse     = "IMPULSE"
	EventTypeDeviceError = "DEVICE_ERROR"
	EventTypeInterface   = "INTERFACE"
)

// Interface event sub types.
const (
	InterfaceEventProxy            = "PROXY"
	InterfaceEventCallback         = "CALLBACK"
	InterfaceEventPingPongMismatch = "PINGPONG"
	InterfaceEventPendingPong      = "PENDING_PONG"
	InterfaceEventUnknownPong      = "UNKNOWN_PONG"
)

// SystemEvent is the tagged record delivered to the host.
type SystemEvent struct {
	Type string
	Data map[string]interface{}
}

// SystemEventFunc receives system events. Implementations must not block.
type SystemEventFunc func(SystemEvent)

// parameters that fire a KEYPRESS event instead of becoming entities
var clickParameters = map[string]bool{
	"PRESS":              true,
	"PRESS_CONT":         true,
	"PRESS_LOCK":         true,
	"PRESS_LONG":         true,
	"PRESS_LONG_RELEASE": true,
	"PRESS_LONG_START":   true,
	"PRESS_SHORT":        true,
	"PRESS_UNLOCK":       true,
}

// parameters that fire an IMPULSE event
var impulseParameters = map[string]bool{
	"SEQUENCE_OK": true,
}

// EventTypeForParameter classifies a parameter as event-bearing. An empty
// result means the parameter becomes a regular entity.
func EventTypeForParameter(parameter string) string {
	switch {
	case clickParameters[parameter]:
		return EventTypeKeypress
	case impulseParameters[parameter]:
		return EventTypeImpulse
	case strings.HasPrefix(parameter, "ERROR_") || parameter == "ERROR":
		return EventTypeDeviceError
	}
	return ""
}

// Event is a value-less entity. It fires a system event on each backend event
// and retains only the time of the last one.
type Event struct {
	eventType   string
	interfaceID string
	deviceType  string
	key         EntityKey
	channelNo   int
	uniqueID    string
	fire        SystemEventFunc

	mtx        sync.Mutex
	lastUpdate time.Time
}

// NewEvent creates an Event for a classified parameter.
func NewEvent(centralName, interfaceID, deviceType string, key EntityKey, channelNo int, fire SystemEventFunc) *Event {
	return &Event{
		eventType:   EventTypeForParameter(key.Parameter),
		interfaceID: interfaceID,
		deviceType:  deviceType,
		key:         key,
		channelNo:   channelNo,
		uniqueID:    UniqueID(centralName, key.ChannelAddress, key.Parameter),
		fire:        fire,
	}
}

// Key returns the entity key.
func (e *Event) Key() EntityKey { return e.key }

// UniqueID returns the stable identifier.
func (e *Event) UniqueID() string { return e.uniqueID }

// EventType returns KEYPRESS, IMPULSE or DEVICE_ERROR.
func (e *Event) EventType() string { return e.eventType }

// LastUpdate returns the time of the last fired event.
func (e *Event) LastUpdate() time.Time {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	return e.lastUpdate
}

// ReceiveEvent fires the system event with the payload of the backend event.
func (e *Event) ReceiveEvent(value interface{}) {
	e.mtx.Lock()
	e.lastUpdate = time.Now()
	e.mtx.Unlock()
	if e.fire == nil {
		return
	}
	e.fire(SystemEvent{
		Type: e.eventType,
		Data: map[string]interface{}{
			"address":      e.key.ChannelAddress,
			"channel_no":   e.channelNo,
			"device_type":  e.deviceType,
			"interface_id": e.interfaceID,
			"parameter":    e.key.Parameter,
			"value":        value,
		},
	})
}
