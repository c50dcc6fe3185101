package homematic

import (
	"fmt"
	"sync"
	"time"

	"github.com/mdzio/go-hmcentral/itf"

	"github.com/mdzio/go-logging"
)

var log = logging.Get("homematic")

// A Gateway executes parameter reads and writes for entities. It is
// implemented by the central.
type Gateway interface {
	// CentralName returns the configured name of the central.
	CentralName() string
	// SetValue writes a single VALUES parameter.
	SetValue(interfaceID, channelAddress, parameter string, value interface{}) error
	// PutParamset writes a parameter set atomically.
	PutParamset(interfaceID, channelAddress, paramsetKey string, values map[string]interface{}) error
	// GetValue reads a single VALUES parameter.
	GetValue(interfaceID, channelAddress, parameter string) (interface{}, error)
}

// EntityKey identifies an entity within a device.
type EntityKey struct {
	ChannelAddress string
	ParamsetKey    string
	Parameter      string
}

func (k EntityKey) String() string {
	return k.ChannelAddress + "/" + k.ParamsetKey + "/" + k.Parameter
}

// Entity kinds, derived from the parameter type.
const (
	KindBinary = "binary"
	KindButton = "button"
	KindNumber = "number"
	KindSelect = "select"
	KindText   = "text"
)

// GenericEntity is the handle on one exposed parameter of a channel. It holds
// the last received value and notifies subscribers on change events.
type GenericEntity struct {
	gateway     Gateway
	interfaceID string
	deviceType  string
	key         EntityKey
	description *itf.ParameterDescription
	uniqueID    string
	hidden      bool

	mtx            sync.Mutex
	value          interface{}
	lastUpdate     time.Time
	stateUncertain bool
	subscribers    []*subscription
	nextSubID      int
}

type subscription struct {
	id int
	cb func(*GenericEntity)
}

// NewGenericEntity creates a GenericEntity. The value is unknown until the
// first event or load; stateUncertain starts true.
func NewGenericEntity(gw Gateway, interfaceID, deviceType string, key EntityKey, pd *itf.ParameterDescription, hidden bool) *GenericEntity {
	return &GenericEntity{
		gateway:        gw,
		interfaceID:    interfaceID,
		deviceType:     deviceType,
		key:            key,
		description:    pd,
		uniqueID:       UniqueID(gw.CentralName(), key.ChannelAddress, key.Parameter),
		hidden:         hidden,
		stateUncertain: true,
	}
}

// Key returns the entity key.
func (e *GenericEntity) Key() EntityKey { return e.key }

// UniqueID returns the stable identifier of the entity.
func (e *GenericEntity) UniqueID() string { return e.uniqueID }

// AddressPath returns the external handle of the entity.
func (e *GenericEntity) AddressPath() string {
	return e.Kind() + "/" + e.interfaceID + "/" + e.uniqueID + "/"
}

// Description returns the parameter description.
func (e *GenericEntity) Description() *itf.ParameterDescription { return e.description }

// Hidden reports whether the entity starts as non-default-visible.
func (e *GenericEntity) Hidden() bool { return e.hidden }

// InterfaceID returns the owning interface.
func (e *GenericEntity) InterfaceID() string { return e.interfaceID }

// Kind returns the entity kind derived from the parameter type. An ENUM with a
// two entry value list behaves like a binary select, an ACTION is a button.
func (e *GenericEntity) Kind() string {
	switch e.description.Type {
	case itf.ParameterTypeBool:
		return KindBinary
	case itf.ParameterTypeAction:
		return KindButton
	case itf.ParameterTypeFloat, itf.ParameterTypeInteger:
		return KindNumber
	case itf.ParameterTypeEnum:
		if len(e.description.ValueList) == 2 {
			return KindBinary
		}
		return KindSelect
	default:
		return KindText
	}
}

// Value returns the last received value, or nil when unknown.
func (e *GenericEntity) Value() interface{} {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	return e.value
}

// LastUpdate returns the time of the last received event.
func (e *GenericEntity) LastUpdate() time.Time {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	return e.lastUpdate
}

// StateUncertain reports whether the value may be stale, e.g. before the first
// event or after a lost connection.
func (e *GenericEntity) StateUncertain() bool {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	return e.stateUncertain
}

// MarkUncertain flags the value as possibly stale.
func (e *GenericEntity) MarkUncertain() {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	e.stateUncertain = true
}

// Subscribe registers a change callback. The returned function cancels the
// subscription. Callbacks are invoked in registration order.
func (e *GenericEntity) Subscribe(cb func(*GenericEntity)) func() {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	e.nextSubID++
	id := e.nextSubID
	e.subscribers = append(e.subscribers, &subscription{id: id, cb: cb})
	return func() {
		e.mtx.Lock()
		defer e.mtx.Unlock()
		for i, s := range e.subscribers {
			if s.id == id {
				e.subscribers = append(e.subscribers[:i], e.subscribers[i+1:]...)
				return
			}
		}
	}
}

// ReceiveEvent takes a value pushed by the backend, converts it and notifies
// all subscribers. A panicking subscriber does not block the rest.
func (e *GenericEntity) ReceiveEvent(raw interface{}) {
	value, err := ConvertValue(raw, e.description)
	if err != nil {
		log.Warningf("Dropping invalid event value for %s: %v", e.key, err)
		return
	}
	e.mtx.Lock()
	e.value = value
	e.lastUpdate = time.Now()
	e.stateUncertain = false
	subs := make([]*subscription, len(e.subscribers))
	copy(subs, e.subscribers)
	e.mtx.Unlock()
	for _, s := range subs {
		notify(s.cb, e)
	}
}

func notify(cb func(*GenericEntity), e *GenericEntity) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("Subscriber of %s failed: %v", e.key, r)
		}
	}()
	cb(e)
}

// LoadValue sets the value from a cache without notifying subscribers. The
// state stays uncertain; only a live event confirms it.
func (e *GenericEntity) LoadValue(raw interface{}) {
	value, err := ConvertValue(raw, e.description)
	if err != nil {
		return
	}
	e.mtx.Lock()
	defer e.mtx.Unlock()
	if e.value == nil {
		e.value = value
	}
}

// SetValue writes the parameter. VALUES parameters use setValue, MASTER
// parameters always use putParamset. The local value is not updated; the
// backend pushes a confirming event.
func (e *GenericEntity) SetValue(raw interface{}) error {
	if !e.description.Writeable() {
		return &itf.ClientError{Message: fmt.Sprintf("Parameter %s is not writeable", e.key)}
	}
	value, err := ConvertValue(raw, e.description)
	if err != nil {
		return err
	}
	if e.key.ParamsetKey == itf.ParamsetMaster {
		return e.gateway.PutParamset(e.interfaceID, e.key.ChannelAddress, itf.ParamsetMaster,
			map[string]interface{}{e.key.Parameter: value})
	}
	return e.gateway.SetValue(e.interfaceID, e.key.ChannelAddress, e.key.Parameter, value)
}

// ReadValue reads the parameter directly from the backend and updates the
// local value.
func (e *GenericEntity) ReadValue() (interface{}, error) {
	if !e.description.Readable() {
		return nil, &itf.ClientError{Message: fmt.Sprintf("Parameter %s is not readable", e.key)}
	}
	raw, err := e.gateway.GetValue(e.interfaceID, e.key.ChannelAddress, e.key.Parameter)
	if err != nil {
		return nil, err
	}
	value, err := ConvertValue(raw, e.description)
	if err != nil {
		return nil, err
	}
	e.mtx.Lock()
	e.value = value
	e.lastUpdate = time.Now()
	e.stateUncertain = false
	e.mtx.Unlock()
	return value, nil
}
