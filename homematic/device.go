package homematic

import (
	"sync"

	"github.com/mdzio/go-hmcentral/itf"
)

// DeviceResources bundles the lookups a device needs during construction. The
// central provides them; the device never holds a pointer back to the central
// beyond the Gateway.
type DeviceResources struct {
	Gateway     Gateway
	InterfaceID string

	// Paramset returns the cached paramset description of a channel, or nil.
	Paramset func(channelAddress, paramsetKey string) itf.ParamsetDescription
	// IsIgnored and IsHidden implement the visibility policy.
	IsIgnored func(deviceType string, channelNo int, paramsetKey, parameter string) bool
	IsHidden  func(deviceType string, channelNo int, paramsetKey, parameter string) bool
	// CachedValue returns a bulk-loaded value for cold entities, if known.
	CachedValue func(channelAddress, parameter string) (interface{}, bool)
	// FireSystemEvent delivers KEYPRESS/IMPULSE/DEVICE_ERROR events to the
	// host.
	FireSystemEvent SystemEventFunc
	// Name returns the ReGaHss display name of an address, or "".
	Name func(address string) string
}

// Device owns the channels, entities and events of one physical device.
type Device struct {
	res         DeviceResources
	description *itf.DeviceDescription
	// channel address -> description
	channels map[string]*itf.DeviceDescription

	entities map[EntityKey]*GenericEntity
	events   map[EntityKey]*Event
	customs  []*CustomEntity

	mtx sync.Mutex
	// availability is driven by UN_REACH and the forced override
	unreach           bool
	forcedUnavailable bool
}

// NewDevice builds a Device with its complete entity graph from the cached
// descriptions. channels must contain the channel descriptions of the device.
func NewDevice(res DeviceResources, dd *itf.DeviceDescription, channels []*itf.DeviceDescription) *Device {
	d := &Device{
		res:         res,
		description: dd,
		channels:    make(map[string]*itf.DeviceDescription, len(channels)),
		entities:    make(map[EntityKey]*GenericEntity),
		events:      make(map[EntityKey]*Event),
	}
	for _, ch := range channels {
		d.channels[ch.Address] = ch
	}
	d.createEntities()
	d.customs = createCustomEntities(d)
	return d
}

// createEntities walks all channels and paramset descriptions and creates a
// GenericEntity or Event per kept parameter.
func (d *Device) createEntities() {
	for chAddr := range d.channels {
		chNo, ok := itf.ChannelNo(chAddr)
		if !ok {
			continue
		}
		for _, psKey := range []string{itf.ParamsetValues, itf.ParamsetMaster} {
			psd := d.res.Paramset(chAddr, psKey)
			for param, pd := range psd {
				key := EntityKey{ChannelAddress: chAddr, ParamsetKey: psKey, Parameter: param}
				// event-bearing parameters never become entities
				if psKey == itf.ParamsetValues && EventTypeForParameter(param) != "" {
					if pd.Eventing() {
						d.events[key] = NewEvent(d.res.Gateway.CentralName(), d.res.InterfaceID,
							d.description.Type, key, chNo, d.res.FireSystemEvent)
					}
					continue
				}
				if d.res.IsIgnored(d.description.Type, chNo, psKey, param) {
					continue
				}
				hidden := d.res.IsHidden(d.description.Type, chNo, psKey, param)
				d.addEntity(key, pd, hidden)
			}
		}
	}
}

func (d *Device) addEntity(key EntityKey, pd *itf.ParameterDescription, hidden bool) *GenericEntity {
	e := NewGenericEntity(d.res.Gateway, d.res.InterfaceID, d.description.Type, key, pd, hidden)
	if d.res.CachedValue != nil {
		if v, ok := d.res.CachedValue(key.ChannelAddress, key.Parameter); ok {
			e.LoadValue(v)
		}
	}
	d.entities[key] = e
	return e
}

// Address returns the device address.
func (d *Device) Address() string { return d.description.Address }

// DeviceType returns the model string.
func (d *Device) DeviceType() string { return d.description.Type }

// InterfaceID returns the owning interface.
func (d *Device) InterfaceID() string { return d.res.InterfaceID }

// Description returns the device description.
func (d *Device) Description() *itf.DeviceDescription { return d.description }

// Name returns the ReGaHss display name, or the address when unknown.
func (d *Device) Name() string {
	if d.res.Name != nil {
		if n := d.res.Name(d.description.Address); n != "" {
			return n
		}
	}
	return d.description.Address
}

// Firmware returns the installed firmware version.
func (d *Device) Firmware() string { return d.description.Firmware }

// AvailableFirmware returns the offered firmware version.
func (d *Device) AvailableFirmware() string { return d.description.AvailableFirmware }

// Updatable reports whether a firmware update is supported.
func (d *Device) Updatable() bool { return d.description.Updatable != 0 }

// ChannelAddresses returns the addresses of all channels.
func (d *Device) ChannelAddresses() []string {
	addrs := make([]string, 0, len(d.channels))
	for a := range d.channels {
		addrs = append(addrs, a)
	}
	return addrs
}

// Channel returns the description of a channel, or nil.
func (d *Device) Channel(channelAddress string) *itf.DeviceDescription {
	return d.channels[channelAddress]
}

// Entities returns all generic entities of the device.
func (d *Device) Entities() map[EntityKey]*GenericEntity { return d.entities }

// Entity returns the entity for a key, or nil.
func (d *Device) Entity(key EntityKey) *GenericEntity { return d.entities[key] }

// EntityByChannelParameter looks up a VALUES entity.
func (d *Device) EntityByChannelParameter(channelNo int, parameter string) *GenericEntity {
	key := EntityKey{
		ChannelAddress: itf.ChannelAddress(d.description.Address, channelNo),
		ParamsetKey:    itf.ParamsetValues,
		Parameter:      parameter,
	}
	return d.entities[key]
}

// Events returns all event entities of the device.
func (d *Device) Events() map[EntityKey]*Event { return d.events }

// CustomEntities returns the composite entities built from the recipe table.
func (d *Device) CustomEntities() []*CustomEntity { return d.customs }

// Available reports whether the device is reachable. The forced override of
// the connection checker wins over UN_REACH.
func (d *Device) Available() bool {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	return !d.forcedUnavailable && !d.unreach
}

// SetForcedAvailability overrides the availability, e.g. when the interface
// connection is lost. Passing false restores UN_REACH driven availability.
func (d *Device) SetForcedAvailability(unavailable bool) {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	d.forcedUnavailable = unavailable
}

// MarkValuesUncertain flags all entity values as possibly stale.
func (d *Device) MarkValuesUncertain() {
	for _, e := range d.entities {
		e.MarkUncertain()
	}
}

// ReceiveEvent routes a backend event to the owning entity or event. Unknown
// parameters are dropped silently; the backend pushes more parameters than
// the visibility policy keeps.
func (d *Device) ReceiveEvent(channelAddress, parameter string, value interface{}) {
	if parameter == "UN_REACH" {
		if b, ok := value.(bool); ok {
			d.mtx.Lock()
			d.unreach = b
			d.mtx.Unlock()
		}
	}
	key := EntityKey{ChannelAddress: channelAddress, ParamsetKey: itf.ParamsetValues, Parameter: parameter}
	if e, ok := d.entities[key]; ok {
		e.ReceiveEvent(value)
		return
	}
	if ev, ok := d.events[key]; ok {
		ev.ReceiveEvent(value)
	}
}
