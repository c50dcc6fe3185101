package homematic

import (
	"testing"

	"github.com/mdzio/go-hmcentral/itf"
)

// fakeGateway records parameter writes and serves reads.
type fakeGateway struct {
	setCalls []string
	setValue interface{}
	putCalls []string
	putValues map[string]interface{}
	getValue interface{}
	err      error
}

func (g *fakeGateway) CentralName() string { return "ccu" }

func (g *fakeGateway) SetValue(interfaceID, channelAddress, parameter string, value interface{}) error {
	g.setCalls = append(g.setCalls, channelAddress+"/"+parameter)
	g.setValue = value
	return g.err
}

func (g *fakeGateway) PutParamset(interfaceID, channelAddress, paramsetKey string, values map[string]interface{}) error {
	g.putCalls = append(g.putCalls, channelAddress+"/"+paramsetKey)
	g.putValues = values
	return g.err
}

func (g *fakeGateway) GetValue(interfaceID, channelAddress, parameter string) (interface{}, error) {
	return g.getValue, g.err
}

func switchEntity(gw Gateway) *GenericEntity {
	pd := &itf.ParameterDescription{
		Type:       itf.ParameterTypeBool,
		Operations: itf.ParameterOperationRead | itf.ParameterOperationWrite | itf.ParameterOperationEvent,
		ID:         "STATE",
	}
	key := EntityKey{ChannelAddress: "ABC0000001:3", ParamsetKey: itf.ParamsetValues, Parameter: "STATE"}
	return NewGenericEntity(gw, "HmIP-RF", "HmIP-PS", key, pd, false)
}

func TestEntityReceiveEvent(t *testing.T) {
	e := switchEntity(&fakeGateway{})
	if e.Value() != nil || !e.StateUncertain() {
		t.Fatal("value must start unknown and uncertain")
	}

	var notified []interface{}
	cancel := e.Subscribe(func(e *GenericEntity) { notified = append(notified, e.Value()) })

	e.ReceiveEvent(true)
	if e.Value() != true || e.StateUncertain() || e.LastUpdate().IsZero() {
		t.Error("event must update value and certainty")
	}
	if len(notified) != 1 || notified[0] != true {
		t.Errorf("subscriber not notified: %v", notified)
	}

	// invalid values are dropped
	e.ReceiveEvent("garbage")
	if e.Value() != true || len(notified) != 1 {
		t.Error("invalid event must be dropped")
	}

	cancel()
	e.ReceiveEvent(false)
	if len(notified) != 1 {
		t.Error("cancelled subscriber must not be notified")
	}
}

func TestEntityPanickingSubscriber(t *testing.T) {
	e := switchEntity(&fakeGateway{})
	e.Subscribe(func(*GenericEntity) { panic("boom") })
	var notified bool
	e.Subscribe(func(*GenericEntity) { notified = true })

	e.ReceiveEvent(true)
	if !notified {
		t.Error("a panicking subscriber must not block the rest")
	}
}

func TestEntityLoadValue(t *testing.T) {
	e := switchEntity(&fakeGateway{})
	var notified bool
	e.Subscribe(func(*GenericEntity) { notified = true })

	e.LoadValue(true)
	if e.Value() != true {
		t.Error("cached value must be loaded")
	}
	if notified {
		t.Error("loading must not notify subscribers")
	}
	if !e.StateUncertain() {
		t.Error("a cached value stays uncertain until a live event arrives")
	}
	// a live value is never overwritten by the cache
	e.ReceiveEvent(false)
	e.LoadValue(true)
	if e.Value() != false {
		t.Error("cache must not overwrite a live value")
	}
}

func TestEntitySetValue(t *testing.T) {
	gw := &fakeGateway{}
	e := switchEntity(gw)
	if err := e.SetValue(1); err != nil {
		t.Fatal(err)
	}
	if len(gw.setCalls) != 1 || gw.setCalls[0] != "ABC0000001:3/STATE" || gw.setValue != true {
		t.Errorf("setValue not routed: %v %v", gw.setCalls, gw.setValue)
	}
	// the local value waits for the confirming event
	if e.Value() != nil {
		t.Error("write must not update the local value")
	}

	// MASTER parameters go through putParamset
	pd := &itf.ParameterDescription{
		Type:       itf.ParameterTypeEnum,
		Operations: itf.ParameterOperationRead | itf.ParameterOperationWrite,
		ValueList:  []string{"INPUT", "OUTPUT"},
	}
	key := EntityKey{ChannelAddress: "ABC0000001:1", ParamsetKey: itf.ParamsetMaster, Parameter: "CHANNEL_OPERATION_MODE"}
	m := NewGenericEntity(gw, "HmIP-RF", "HmIP-DRSI1", key, pd, true)
	if err := m.SetValue("OUTPUT"); err != nil {
		t.Fatal(err)
	}
	if len(gw.putCalls) != 1 || gw.putCalls[0] != "ABC0000001:1/MASTER" || gw.putValues["CHANNEL_OPERATION_MODE"] != 1 {
		t.Errorf("putParamset not routed: %v %v", gw.putCalls, gw.putValues)
	}
}

func TestEntitySetValueNotWriteable(t *testing.T) {
	pd := &itf.ParameterDescription{
		Type:       itf.ParameterTypeFloat,
		Operations: itf.ParameterOperationRead | itf.ParameterOperationEvent,
	}
	key := EntityKey{ChannelAddress: "ABC0000001:7", ParamsetKey: itf.ParamsetValues, Parameter: "POWER"}
	e := NewGenericEntity(&fakeGateway{}, "HmIP-RF", "HmIP-PS", key, pd, false)
	if err := e.SetValue(1.0); err == nil {
		t.Error("writing a read only parameter must fail")
	}
}

func TestEntityReadValue(t *testing.T) {
	gw := &fakeGateway{getValue: true}
	e := switchEntity(gw)
	v, err := e.ReadValue()
	if err != nil || v != true {
		t.Fatalf("read failed: %v, %v", v, err)
	}
	if e.Value() != true || e.StateUncertain() {
		t.Error("read must update the local value")
	}

	e.MarkUncertain()
	if !e.StateUncertain() {
		t.Error("MarkUncertain must flag the value")
	}
}

func TestEntityKind(t *testing.T) {
	cases := []struct {
		pd   *itf.ParameterDescription
		kind string
	}{
		{&itf.ParameterDescription{Type: itf.ParameterTypeBool}, KindBinary},
		{&itf.ParameterDescription{Type: itf.ParameterTypeAction}, KindButton},
		{&itf.ParameterDescription{Type: itf.ParameterTypeFloat}, KindNumber},
		{&itf.ParameterDescription{Type: itf.ParameterTypeInteger}, KindNumber},
		{&itf.ParameterDescription{Type: itf.ParameterTypeEnum, ValueList: []string{"A", "B", "C"}}, KindSelect},
		{&itf.ParameterDescription{Type: itf.ParameterTypeEnum, ValueList: []string{"A", "B"}}, KindBinary},
		{&itf.ParameterDescription{Type: itf.ParameterTypeString}, KindText},
	}
	key := EntityKey{ChannelAddress: "ABC0000001:1", ParamsetKey: itf.ParamsetValues, Parameter: "X"}
	for _, c := range cases {
		e := NewGenericEntity(&fakeGateway{}, "HmIP-RF", "HmIP-PS", key, c.pd, false)
		if e.Kind() != c.kind {
			t.Errorf("%s: kind %s expected, got %s", c.pd.Type, c.kind, e.Kind())
		}
	}
}
