package homematic

import (
	"testing"

	"github.com/mdzio/go-hmcentral/itf"
)

func TestEventTypeForParameter(t *testing.T) {
	cases := []struct {
		parameter string
		eventType string
	}{
		{"PRESS_SHORT", EventTypeKeypress},
		{"PRESS_LONG_RELEASE", EventTypeKeypress},
		{"SEQUENCE_OK", EventTypeImpulse},
		{"ERROR", EventTypeDeviceError},
		{"ERROR_OVERHEAT", EventTypeDeviceError},
		{"STATE", ""},
		{"LEVEL", ""},
	}
	for _, c := range cases {
		if got := EventTypeForParameter(c.parameter); got != c.eventType {
			t.Errorf("%s: %q expected, got %q", c.parameter, c.eventType, got)
		}
	}
}

func TestEventFiresSystemEvent(t *testing.T) {
	var fired []SystemEvent
	key := EntityKey{ChannelAddress: "ABC0000001:1", ParamsetKey: itf.ParamsetValues, Parameter: "PRESS_SHORT"}
	e := NewEvent("ccu", "HmIP-RF", "HmIP-WRC2", key, 1, func(ev SystemEvent) { fired = append(fired, ev) })
	if e.EventType() != EventTypeKeypress {
		t.Fatalf("KEYPRESS expected: %s", e.EventType())
	}

	e.ReceiveEvent(true)
	if len(fired) != 1 {
		t.Fatal("system event not fired")
	}
	ev := fired[0]
	if ev.Type != EventTypeKeypress {
		t.Errorf("unexpected type: %s", ev.Type)
	}
	if ev.Data["address"] != "ABC0000001:1" || ev.Data["channel_no"] != 1 ||
		ev.Data["device_type"] != "HmIP-WRC2" || ev.Data["interface_id"] != "HmIP-RF" ||
		ev.Data["parameter"] != "PRESS_SHORT" || ev.Data["value"] != true {
		t.Errorf("unexpected payload: %+v", ev.Data)
	}
	if e.LastUpdate().IsZero() {
		t.Error("last update must be recorded")
	}
}

func TestEventWithoutSink(t *testing.T) {
	key := EntityKey{ChannelAddress: "ABC0000001:1", ParamsetKey: itf.ParamsetValues, Parameter: "PRESS_LONG"}
	e := NewEvent("ccu", "HmIP-RF", "HmIP-WRC2", key, 1, nil)
	// must not panic
	e.ReceiveEvent(true)
}
