package homematic

import (
	"fmt"
	"strings"
	"sync"

	"github.com/mdzio/go-hmcentral/itf"
)

// Custom entity kinds.
const (
	CustomKindSwitch     = "switch"
	CustomKindDimmer     = "dimmer"
	CustomKindCover      = "cover"
	CustomKindBlind      = "blind"
	CustomKindThermostat = "thermostat"
)

// Logical field names of custom entities.
const (
	FieldState       = "state"
	FieldOnTime      = "on_time"
	FieldLevel       = "level"
	FieldLevelSlats  = "level_slats"
	FieldStop        = "stop"
	FieldActivity    = "activity"
	FieldSetpoint    = "setpoint"
	FieldTemperature = "temperature"
	FieldHumidity    = "humidity"
	FieldBoost       = "boost"
)

// FieldRef selects a parameter relative to the base channel of a recipe.
type FieldRef struct {
	ChannelOffset int
	Parameter     string
}

// Recipe describes how to build a CustomEntity for a device model. One
// CustomEntity is built per base channel. Optional fields may be missing on
// the device; required fields reject the whole entity when unresolved.
type Recipe struct {
	Kind         string
	BaseChannels []int
	Fields       map[string]FieldRef
	Optional     map[string]FieldRef
	// Additional entities promoted to visible even if the policy hides them.
	Additional []FieldRef
}

// recipes maps a device model prefix to its recipes. The longest matching
// prefix wins.
var recipes = map[string][]Recipe{
	"HmIP-BSM": {{
		Kind:         CustomKindSwitch,
		BaseChannels: []int{4},
		Fields:       map[string]FieldRef{FieldState: {0, "STATE"}},
		Optional:     map[string]FieldRef{FieldOnTime: {0, "ON_TIME"}},
		Additional:   []FieldRef{{3, "CURRENT"}, {3, "POWER"}, {3, "VOLTAGE"}, {3, "ENERGY_COUNTER"}},
	}},
	"HmIP-PS": {{
		Kind:         CustomKindSwitch,
		BaseChannels: []int{3},
		Fields:       map[string]FieldRef{FieldState: {0, "STATE"}},
		Optional:     map[string]FieldRef{FieldOnTime: {0, "ON_TIME"}},
	}},
	"HmIP-BDT": {{
		Kind:         CustomKindDimmer,
		BaseChannels: []int{4},
		Fields:       map[string]FieldRef{FieldLevel: {0, "LEVEL"}},
		Optional:     map[string]FieldRef{FieldOnTime: {0, "ON_TIME"}},
	}},
	"HmIP-BROLL": {{
		Kind:         CustomKindCover,
		BaseChannels: []int{4},
		Fields:       map[string]FieldRef{FieldLevel: {0, "LEVEL"}, FieldStop: {0, "STOP"}},
		Optional:     map[string]FieldRef{FieldActivity: {0, "ACTIVITY_STATE"}},
	}},
	"HmIP-FROLL": {{
		Kind:         CustomKindCover,
		BaseChannels: []int{4},
		Fields:       map[string]FieldRef{FieldLevel: {0, "LEVEL"}, FieldStop: {0, "STOP"}},
		Optional:     map[string]FieldRef{FieldActivity: {0, "ACTIVITY_STATE"}},
	}},
	"HmIP-BBL": {{
		Kind:         CustomKindBlind,
		BaseChannels: []int{4},
		Fields:       map[string]FieldRef{FieldLevel: {0, "LEVEL"}, FieldLevelSlats: {0, "LEVEL_2"}, FieldStop: {0, "STOP"}},
		Optional:     map[string]FieldRef{FieldActivity: {0, "ACTIVITY_STATE"}},
	}},
	"HmIP-eTRV": {{
		Kind:         CustomKindThermostat,
		BaseChannels: []int{1},
		Fields: map[string]FieldRef{
			FieldSetpoint:    {0, "SET_POINT_TEMPERATURE"},
			FieldTemperature: {0, "ACTUAL_TEMPERATURE"},
		},
		Optional: map[string]FieldRef{FieldBoost: {0, "BOOST_MODE"}, FieldLevel: {0, "LEVEL"}},
	}},
	"HmIP-WTH": {{
		Kind:         CustomKindThermostat,
		BaseChannels: []int{1},
		Fields: map[string]FieldRef{
			FieldSetpoint:    {0, "SET_POINT_TEMPERATURE"},
			FieldTemperature: {0, "ACTUAL_TEMPERATURE"},
		},
		Optional: map[string]FieldRef{FieldHumidity: {0, "HUMIDITY"}, FieldBoost: {0, "BOOST_MODE"}},
	}},
	"HmIP-BWTH": {{
		Kind:         CustomKindThermostat,
		BaseChannels: []int{1},
		Fields: map[string]FieldRef{
			FieldSetpoint:    {0, "SET_POINT_TEMPERATURE"},
			FieldTemperature: {0, "ACTUAL_TEMPERATURE"},
		},
		Optional: map[string]FieldRef{FieldHumidity: {0, "HUMIDITY"}, FieldBoost: {0, "BOOST_MODE"}},
	}},
	"HM-LC-Sw": {{
		Kind:         CustomKindSwitch,
		BaseChannels: []int{1},
		Fields:       map[string]FieldRef{FieldState: {0, "STATE"}},
		Optional:     map[string]FieldRef{FieldOnTime: {0, "ON_TIME"}},
	}},
	"HM-LC-Dim": {{
		Kind:         CustomKindDimmer,
		BaseChannels: []int{1},
		Fields:       map[string]FieldRef{FieldLevel: {0, "LEVEL"}},
		Optional:     map[string]FieldRef{FieldOnTime: {0, "ON_TIME"}},
	}},
	"HM-LC-Bl1": {{
		Kind:         CustomKindCover,
		BaseChannels: []int{1},
		Fields:       map[string]FieldRef{FieldLevel: {0, "LEVEL"}, FieldStop: {0, "STOP"}},
	}},
}

// parameters that must not be combined into one putParamset
var notBulkSafe = map[string]bool{
	"COMBINED_PARAMETER": true,
	"LEVEL_COMBINED":     true,
}

// RecipesFor returns the recipes of a device model. The longest matching
// prefix wins.
func RecipesFor(deviceType string) []Recipe {
	model := strings.ToUpper(deviceType)
	var best string
	for prefix := range recipes {
		if strings.HasPrefix(model, strings.ToUpper(prefix)) && len(prefix) > len(best) {
			best = prefix
		}
	}
	if best == "" {
		return nil
	}
	return recipes[best]
}

// CustomEntity is a composite view over the generic entities of one device,
// built from a recipe. It never subscribes to the backend itself; it observes
// its backing entities.
type CustomEntity struct {
	kind        string
	device      *Device
	baseChannel int
	uniqueID    string
	fields      map[string]*GenericEntity
	additional  []*GenericEntity
}

// createCustomEntities builds the composite entities of a device. A recipe
// whose required fields cannot all be resolved is rejected as a whole.
func createCustomEntities(d *Device) []*CustomEntity {
	var customs []*CustomEntity
	for _, r := range RecipesFor(d.DeviceType()) {
		for _, base := range r.BaseChannels {
			ce := buildCustomEntity(d, r, base)
			if ce != nil {
				customs = append(customs, ce)
			}
		}
	}
	return customs
}

func buildCustomEntity(d *Device, r Recipe, base int) *CustomEntity {
	fields := make(map[string]*GenericEntity, len(r.Fields)+len(r.Optional))
	for name, ref := range r.Fields {
		e := d.EntityByChannelParameter(base+ref.ChannelOffset, ref.Parameter)
		if e == nil {
			log.Warningf("Rejecting %s for %s: missing backing entity %s on channel %d",
				r.Kind, d.Address(), ref.Parameter, base+ref.ChannelOffset)
			return nil
		}
		fields[name] = e
	}
	for name, ref := range r.Optional {
		if e := d.EntityByChannelParameter(base+ref.ChannelOffset, ref.Parameter); e != nil {
			fields[name] = e
		}
	}
	// promote the additional entities, creating them if the visibility policy
	// skipped them
	var additional []*GenericEntity
	for _, ref := range r.Additional {
		chNo := base + ref.ChannelOffset
		e := d.EntityByChannelParameter(chNo, ref.Parameter)
		if e == nil {
			chAddr := itf.ChannelAddress(d.Address(), chNo)
			psd := d.res.Paramset(chAddr, itf.ParamsetValues)
			pd := psd[ref.Parameter]
			if pd == nil {
				continue
			}
			key := EntityKey{ChannelAddress: chAddr, ParamsetKey: itf.ParamsetValues, Parameter: ref.Parameter}
			e = d.addEntity(key, pd, false)
		}
		additional = append(additional, e)
	}
	primary := itf.ChannelAddress(d.Address(), base)
	return &CustomEntity{
		kind:        r.Kind,
		device:      d,
		baseChannel: base,
		uniqueID:    UniqueID(d.res.Gateway.CentralName(), primary, "custom_"+r.Kind),
		fields:      fields,
		additional:  additional,
	}
}

// Kind returns the custom entity kind.
func (c *CustomEntity) Kind() string { return c.kind }

// UniqueID returns the stable identifier.
func (c *CustomEntity) UniqueID() string { return c.uniqueID }

// BaseChannel returns the primary channel number.
func (c *CustomEntity) BaseChannel() int { return c.baseChannel }

// Field returns a backing entity by logical name, or nil.
func (c *CustomEntity) Field(name string) *GenericEntity { return c.fields[name] }

// AdditionalEntities returns the promoted extra entities of the recipe.
func (c *CustomEntity) AdditionalEntities() []*GenericEntity { return c.additional }

// Value returns the value of the main field (state, level or setpoint).
func (c *CustomEntity) Value() interface{} {
	for _, name := range []string{FieldState, FieldLevel, FieldSetpoint} {
		if e, ok := c.fields[name]; ok {
			return e.Value()
		}
	}
	return nil
}

// Subscribe registers a callback on all backing entities. The returned
// function cancels all subscriptions.
func (c *CustomEntity) Subscribe(cb func(*CustomEntity)) func() {
	var mtx sync.Mutex
	var cancels []func()
	for _, e := range c.fields {
		cancels = append(cancels, e.Subscribe(func(*GenericEntity) { cb(c) }))
	}
	return func() {
		mtx.Lock()
		defer mtx.Unlock()
		for _, cancel := range cancels {
			cancel()
		}
		cancels = nil
	}
}

// SetFieldValue writes one logical field.
func (c *CustomEntity) SetFieldValue(name string, value interface{}) error {
	e, ok := c.fields[name]
	if !ok {
		return &itf.ClientError{Message: fmt.Sprintf("Custom entity %s has no field %s", c.kind, name)}
	}
	return e.SetValue(value)
}

// SetFieldValues writes multiple logical fields in one logical operation.
// Fields on the same channel are combined into one putParamset, unless a
// parameter is not bulk safe; then it is written individually.
func (c *CustomEntity) SetFieldValues(values map[string]interface{}) error {
	// group by channel
	byChannel := make(map[string]map[string]interface{})
	for name, raw := range values {
		e, ok := c.fields[name]
		if !ok {
			return &itf.ClientError{Message: fmt.Sprintf("Custom entity %s has no field %s", c.kind, name)}
		}
		value, err := ConvertValue(raw, e.Description())
		if err != nil {
			return err
		}
		if notBulkSafe[e.Key().Parameter] {
			if err := e.SetValue(value); err != nil {
				return err
			}
			continue
		}
		ch := e.Key().ChannelAddress
		if byChannel[ch] == nil {
			byChannel[ch] = make(map[string]interface{})
		}
		byChannel[ch][e.Key().Parameter] = value
	}
	for ch, params := range byChannel {
		if len(params) == 1 {
			for p, v := range params {
				if err := c.device.res.Gateway.SetValue(c.device.InterfaceID(), ch, p, v); err != nil {
					return err
				}
			}
			continue
		}
		if err := c.device.res.Gateway.PutParamset(c.device.InterfaceID(), ch, itf.ParamsetValues, params); err != nil {
			return err
		}
	}
	return nil
}

// TurnOn switches a switch entity on.
func (c *CustomEntity) TurnOn() error { return c.SetFieldValue(FieldState, true) }

// TurnOff switches a switch entity off.
func (c *CustomEntity) TurnOff() error { return c.SetFieldValue(FieldState, false) }

// TurnOnTimer switches on with an automatic off after the given seconds.
func (c *CustomEntity) TurnOnTimer(seconds float64) error {
	if _, ok := c.fields[FieldOnTime]; !ok {
		return &itf.ClientError{Message: fmt.Sprintf("Custom entity %s has no on timer", c.kind)}
	}
	return c.SetFieldValues(map[string]interface{}{FieldOnTime: seconds, FieldState: true})
}

// SetLevel moves a dimmer, cover or valve to a position between 0.0 and 1.0.
func (c *CustomEntity) SetLevel(level float64) error {
	return c.SetFieldValue(FieldLevel, level)
}

// Stop halts the movement of a cover or blind.
func (c *CustomEntity) Stop() error { return c.SetFieldValue(FieldStop, true) }

// SetSetpoint changes the target temperature of a thermostat.
func (c *CustomEntity) SetSetpoint(temperature float64) error {
	return c.SetFieldValue(FieldSetpoint, temperature)
}
