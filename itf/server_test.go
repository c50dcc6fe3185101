package itf

import (
	"testing"

	"github.com/mdzio/go-hmcentral/xmlrpc"
)

type recordingReceiver struct {
	events  []string
	devices []*DeviceDescription
	deleted []string
	errors  []string
	stubs   []*DeviceDescription
}

func (r *recordingReceiver) Event(interfaceID, address, valueKey string, value interface{}) error {
	r.events = append(r.events, address+"/"+valueKey)
	return nil
}
func (r *recordingReceiver) NewDevices(interfaceID string, dds []*DeviceDescription) error {
	r.devices = append(r.devices, dds...)
	return nil
}
func (r *recordingReceiver) DeleteDevices(interfaceID string, addresses []string) error {
	r.deleted = append(r.deleted, addresses...)
	return nil
}
func (r *recordingReceiver) UpdateDevice(interfaceID, address string, hint int) error  { return nil }
func (r *recordingReceiver) ReplaceDevice(interfaceID, o, n string) error              { return nil }
func (r *recordingReceiver) ReaddedDevice(interfaceID string, d []string) error        { return nil }
func (r *recordingReceiver) Error(interfaceID string, code int, message string) error {
	r.errors = append(r.errors, message)
	return nil
}
func (r *recordingReceiver) ListDevices(interfaceID string) ([]*DeviceDescription, error) {
	return r.stubs, nil
}

func startTestServer(t *testing.T) (*Server, *recordingReceiver, *xmlrpc.Client) {
	t.Helper()
	s := &Server{Addr: "127.0.0.1:0"}
	if err := s.Start(func(err error) { t.Error(err) }); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(s.Stop)
	r := &recordingReceiver{}
	s.Register("central-itf", r)
	c := &xmlrpc.Client{Addr: "http://" + s.BoundAddr().String()}
	return s, r, c
}

func TestServerEvent(t *testing.T) {
	_, r, c := startTestServer(t)

	res, err := c.Call("event", xmlrpc.Values{
		xmlrpc.NewString("central-itf"),
		xmlrpc.NewString("ABC0000001:3"),
		xmlrpc.NewString("STATE"),
		xmlrpc.NewBool(true),
	})
	if err != nil {
		t.Fatal(err)
	}
	if !xmlrpc.Q(res).IsEmpty() {
		t.Error("empty response expected")
	}
	if len(r.events) != 1 || r.events[0] != "ABC0000001:3/STATE" {
		t.Errorf("event not delivered: %v", r.events)
	}
}

func TestServerUnknownInterfaceID(t *testing.T) {
	_, r, c := startTestServer(t)

	// callbacks for unknown ids are dropped without a fault, the backend would
	// otherwise cancel the subscription
	_, err := c.Call("event", xmlrpc.Values{
		xmlrpc.NewString("unknown-id"),
		xmlrpc.NewString("ABC0000001:3"),
		xmlrpc.NewString("STATE"),
		xmlrpc.NewBool(true),
	})
	if err != nil {
		t.Errorf("unknown interface id must not fault: %v", err)
	}
	if len(r.events) != 0 {
		t.Error("event must not be delivered")
	}
}

func TestServerNewAndDeleteDevices(t *testing.T) {
	_, r, c := startTestServer(t)

	dd := &DeviceDescription{Type: "HmIP-PS", Address: "ABC0000002", Version: 10}
	_, err := c.Call("newDevices", xmlrpc.Values{
		xmlrpc.NewString("central-itf"),
		{Array: &xmlrpc.Array{Data: []*xmlrpc.Value{dd.ToValue()}}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(r.devices) != 1 || r.devices[0].Address != "ABC0000002" || r.devices[0].Type != "HmIP-PS" {
		t.Errorf("device not delivered: %+v", r.devices)
	}

	_, err = c.Call("deleteDevices", xmlrpc.Values{
		xmlrpc.NewString("central-itf"),
		xmlrpc.NewStrings([]string{"ABC0000002"}),
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(r.deleted) != 1 || r.deleted[0] != "ABC0000002" {
		t.Errorf("deletion not delivered: %v", r.deleted)
	}
}

func TestServerListDevices(t *testing.T) {
	_, r, c := startTestServer(t)
	r.stubs = []*DeviceDescription{{Address: "ABC0000003", Version: 12}}

	res, err := c.Call("listDevices", xmlrpc.Values{xmlrpc.NewString("central-itf")})
	if err != nil {
		t.Fatal(err)
	}
	q := xmlrpc.Q(res)
	if len(q.Slice()) != 1 {
		t.Fatalf("one stub expected: %v", res)
	}
	if q.Idx(0).Key("ADDRESS").String() != "ABC0000003" {
		t.Error("invalid stub address")
	}

	// unknown ids get an empty list
	res, err = c.Call("listDevices", xmlrpc.Values{xmlrpc.NewString("unknown-id")})
	if err != nil {
		t.Fatal(err)
	}
	if len(xmlrpc.Q(res).Slice()) != 0 {
		t.Error("empty list expected for unknown id")
	}
}

func TestServerError(t *testing.T) {
	_, r, c := startTestServer(t)

	// the interface id is the first positional argument, as for every
	// callback method
	_, err := c.Call("error", xmlrpc.Values{
		xmlrpc.NewString("central-itf"),
		xmlrpc.NewInt(2),
		xmlrpc.NewString("something failed"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(r.errors) != 1 || r.errors[0] != "something failed" {
		t.Errorf("error not delivered: %v", r.errors)
	}
}

func TestServerSystemMulticall(t *testing.T) {
	_, r, c := startTestServer(t)

	call := func(addr, key string, v *xmlrpc.Value) *xmlrpc.Value {
		return &xmlrpc.Value{Struct: &xmlrpc.Struct{Members: []*xmlrpc.Member{
			{Name: "methodName", Value: xmlrpc.NewString("event")},
			{Name: "params", Value: &xmlrpc.Value{Array: &xmlrpc.Array{Data: []*xmlrpc.Value{
				xmlrpc.NewString("central-itf"),
				xmlrpc.NewString(addr),
				xmlrpc.NewString(key),
				v,
			}}}},
		}}}
	}
	_, err := c.Call("system.multicall", xmlrpc.Values{
		{Array: &xmlrpc.Array{Data: []*xmlrpc.Value{
			call("ABC0000001:3", "STATE", xmlrpc.NewBool(true)),
			call("ABC0000001:7", "POWER", xmlrpc.NewFloat64(12.5)),
		}}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(r.events) != 2 {
		t.Errorf("multicall events not delivered: %v", r.events)
	}
}
