package central

import (
	"errors"
	"testing"
	"time"

	"github.com/mdzio/go-hmcentral/itf"
	"github.com/mdzio/go-hmcentral/xmlrpc"
)

// fakeBackend answers the XML-RPC methods of one interface process.
type fakeBackend struct {
	calls   []string
	lastArg xmlrpc.Values
	// errors and canned responses per method
	fail    map[string]error
	results map[string]*xmlrpc.Value
}

func (f *fakeBackend) Call(method string, params xmlrpc.Values) (*xmlrpc.Value, error) {
	f.calls = append(f.calls, method)
	f.lastArg = params
	if err := f.fail[method]; err != nil {
		return nil, err
	}
	if v, ok := f.results[method]; ok {
		return v, nil
	}
	switch method {
	case "system.listMethods":
		return xmlrpc.NewStrings([]string{"init", "ping", "getVersion", "listDevices"}), nil
	case "getVersion":
		return xmlrpc.NewString("2.9"), nil
	case "ping":
		return xmlrpc.NewBool(true), nil
	}
	return &xmlrpc.Value{}, nil
}

func newTestClient(t *testing.T) (*Client, *fakeBackend) {
	t.Helper()
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
	cl := newClient(cfg, &cfg.Interfaces[0], itf.NewConnectionState())
	fb := &fakeBackend{fail: map[string]error{}}
	cl.Proxy.Caller = fb
	return cl, fb
}

func TestClientInitProxy(t *testing.T) {
	cl, fb := newTestClient(t)
	if cl.InitState() != InitNew {
		t.Fatal("client must start in NEW")
	}

	if err := cl.InitProxy("http://10.0.0.1:2123"); err != nil {
		t.Fatal(err)
	}
	if cl.InitState() != InitSuccess || cl.Version() != "2.9" {
		t.Errorf("unexpected state after init: %s, %s", cl.InitState(), cl.Version())
	}
	// the registration carries the interface id
	if q := xmlrpc.Q(fb.lastArg[1]); q.String() != "ccu-HmIP-RF" {
		t.Error("interface id not sent")
	}
	if !cl.IsConnected(time.Minute) {
		t.Error("client must be connected after init")
	}

	if state := cl.DeInitProxy(); state != DeInitSuccess {
		t.Errorf("DEINIT_SUCCESS expected: %s", state)
	}
	// nothing registered anymore, the backend is not contacted again
	calls := len(fb.calls)
	if state := cl.DeInitProxy(); state != DeInitSkipped || len(fb.calls) != calls {
		t.Error("second deinit must be skipped")
	}
}

func TestClientInitProxyFailure(t *testing.T) {
	cl, fb := newTestClient(t)
	fb.fail["system.listMethods"] = errors.New("connection refused")
	if err := cl.InitProxy("http://10.0.0.1:2123"); err == nil {
		t.Fatal("init must fail")
	}
	if cl.InitState() != InitFailed {
		t.Errorf("INIT_FAILED expected: %s", cl.InitState())
	}
	if cl.IsConnected(time.Minute) {
		t.Error("failed client must not be connected")
	}
}

func TestClientReInitProxy(t *testing.T) {
	cl, fb := newTestClient(t)
	if err := cl.InitProxy("http://10.0.0.1:2123"); err != nil {
		t.Fatal(err)
	}

	state, err := cl.ReInitProxy()
	if err != nil || state != InitSuccess {
		t.Fatalf("reinit failed: %s, %v", state, err)
	}

	// a failed deinit defers the renewal
	fb.fail["init"] = errors.New("timeout")
	state, err = cl.ReInitProxy()
	if err != nil || state != DeInitFailed {
		t.Errorf("DEINIT_FAILED expected: %s, %v", state, err)
	}

	// the next reinit skips the deinit and registers again
	delete(fb.fail, "init")
	state, err = cl.ReInitProxy()
	if err != nil || state != InitSuccess {
		t.Errorf("reinit after deferred deinit failed: %s, %v", state, err)
	}
}

func TestClientCheckFailures(t *testing.T) {
	cl, fb := newTestClient(t)
	if err := cl.InitProxy("http://10.0.0.1:2123"); err != nil {
		t.Fatal(err)
	}
	if cl.CheckFailures() != 0 {
		t.Fatal("no failures expected after init")
	}

	fb.fail["ping"] = errors.New("timeout")
	for i := 1; i <= 3; i++ {
		if err := cl.CheckConnectionAvailability(); err == nil {
			t.Fatal("check must fail")
		}
		if cl.CheckFailures() != i {
			t.Errorf("%d failures expected: %d", i, cl.CheckFailures())
		}
	}
	if cl.IsConnected(time.Minute) {
		t.Error("failing client must not be connected")
	}

	// a successful check resets the counter
	delete(fb.fail, "ping")
	if err := cl.CheckConnectionAvailability(); err != nil {
		t.Fatal(err)
	}
	if cl.CheckFailures() != 0 {
		t.Error("counter must reset on success")
	}
}

func TestClientCallbackLiveness(t *testing.T) {
	cl, _ := newTestClient(t)
	if err := cl.InitProxy("http://10.0.0.1:2123"); err != nil {
		t.Fatal(err)
	}
	if !cl.IsCallbackAlive(time.Minute) {
		t.Fatal("callback must be alive right after init")
	}
	// an incoming event refreshes the liveness
	before := cl.LastEvent()
	cl.EventReceived()
	if cl.LastEvent().Before(before) {
		t.Error("event time must advance")
	}
	if cl.IsCallbackAlive(0) {
		t.Error("elapsed warn interval must mark the callback dead")
	}
}

func TestClientAvailability(t *testing.T) {
	cl, _ := newTestClient(t)
	if !cl.Available() {
		t.Fatal("client must start available")
	}
	cl.SetAvailable(false)
	if cl.Available() || cl.IsConnected(time.Minute) {
		t.Error("unlisted interface must not be connected")
	}
}
