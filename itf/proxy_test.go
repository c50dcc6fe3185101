package itf

import (
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/mdzio/go-hmcentral/xmlrpc"
)

type fakeCaller struct {
	calls   []string
	lastArg xmlrpc.Values
	handler func(method string, params xmlrpc.Values) (*xmlrpc.Value, error)
}

func (f *fakeCaller) Call(method string, params xmlrpc.Values) (*xmlrpc.Value, error) {
	f.calls = append(f.calls, method)
	f.lastArg = params
	return f.handler(method, params)
}

func emptyResponse(string, xmlrpc.Values) (*xmlrpc.Value, error) {
	return &xmlrpc.Value{}, nil
}

func TestProxyGatesOnIssue(t *testing.T) {
	fc := &fakeCaller{handler: emptyResponse}
	p := &Proxy{InterfaceID: "itf", Caller: fc, State: NewConnectionState()}
	p.State.AddIssue("itf", IssueCall)

	_, err := p.Call("getValue", xmlrpc.Values{})
	var nce *NoConnectionError
	if !errors.As(err, &nce) {
		t.Errorf("NoConnectionError expected: %v", err)
	}
	if len(fc.calls) != 0 {
		t.Error("backend must not be contacted while an issue is outstanding")
	}

	// ping bypasses the gate
	fc.handler = func(string, xmlrpc.Values) (*xmlrpc.Value, error) {
		return xmlrpc.NewBool(true), nil
	}
	ok, err := p.Ping("itf#1")
	if err != nil || !ok {
		t.Errorf("ping must bypass the gate: %v", err)
	}
}

func TestProxyIssueLifecycle(t *testing.T) {
	fc := &fakeCaller{handler: func(string, xmlrpc.Values) (*xmlrpc.Value, error) {
		return nil, &net.OpError{Op: "dial", Err: errors.New("connection refused")}
	}}
	p := &Proxy{InterfaceID: "itf", Caller: fc, State: NewConnectionState()}

	_, err := p.Call("listDevices", xmlrpc.Values{})
	var nce *NoConnectionError
	if !errors.As(err, &nce) {
		t.Fatalf("NoConnectionError expected: %v", err)
	}
	if !p.State.HasIssue("itf") {
		t.Error("issue must be recorded")
	}

	// next non-exempt call short circuits
	calls := len(fc.calls)
	_, err = p.Call("listDevices", xmlrpc.Values{})
	if !errors.As(err, &nce) || len(fc.calls) != calls {
		t.Error("call must short circuit while the issue is outstanding")
	}

	// a successful exempt call clears the issue
	fc.handler = func(string, xmlrpc.Values) (*xmlrpc.Value, error) {
		return xmlrpc.NewBool(true), nil
	}
	if _, err = p.Ping("itf#2"); err != nil {
		t.Fatal(err)
	}
	if p.State.HasIssue("itf") {
		t.Error("issue must be cleared after a successful call")
	}
}

func TestProxySupportedMethods(t *testing.T) {
	fc := &fakeCaller{handler: func(method string, _ xmlrpc.Values) (*xmlrpc.Value, error) {
		if method == "system.listMethods" {
			return xmlrpc.NewStrings([]string{"init", "listDevices", "getValue"}), nil
		}
		return &xmlrpc.Value{}, nil
	}}
	p := &Proxy{InterfaceID: "itf", Caller: fc}
	if err := p.FetchSupportedMethods(); err != nil {
		t.Fatal(err)
	}

	_, err := p.Call("setValue", xmlrpc.Values{})
	var uerr *UnsupportedError
	if !errors.As(err, &uerr) || uerr.Method != "setValue" {
		t.Errorf("UnsupportedError expected: %v", err)
	}
	// ping is always assumed, some backends omit it from the list
	if !p.Supports("ping") {
		t.Error("ping must always be supported")
	}
	if _, err = p.Call("getValue", xmlrpc.Values{}); err != nil {
		t.Errorf("supported method failed: %v", err)
	}
}

func TestProxyPingArrayFallback(t *testing.T) {
	// BidCos-RF answers ping with an array containing one bool
	fc := &fakeCaller{handler: func(string, xmlrpc.Values) (*xmlrpc.Value, error) {
		return &xmlrpc.Value{Array: &xmlrpc.Array{Data: []*xmlrpc.Value{xmlrpc.NewBool(true)}}}, nil
	}}
	p := &Proxy{InterfaceID: "itf", Caller: fc}
	ok, err := p.Ping("itf#3")
	if err != nil || !ok {
		t.Errorf("array fallback failed: %v", err)
	}
}

func TestProxyInitDeinit(t *testing.T) {
	fc := &fakeCaller{handler: emptyResponse}
	p := &Proxy{InterfaceID: "central-itf", Caller: fc}

	if err := p.Init("http://10.0.0.2:2123"); err != nil {
		t.Fatal(err)
	}
	q := xmlrpc.Q(fc.lastArg[1])
	if q.String() != "central-itf" {
		t.Error("init must send the interface id")
	}

	if err := p.Deinit("http://10.0.0.2:2123"); err != nil {
		t.Fatal(err)
	}
	q = xmlrpc.Q(fc.lastArg[1])
	if q.String() != "" || q.Err() != nil {
		t.Error("deinit must send an empty interface id")
	}

	// an empty array response is accepted as well
	fc.handler = func(string, xmlrpc.Values) (*xmlrpc.Value, error) {
		return &xmlrpc.Value{Array: &xmlrpc.Array{}}, nil
	}
	if err := p.Init("http://10.0.0.2:2123"); err != nil {
		t.Errorf("empty array response rejected: %v", err)
	}
}

// countingCaller tracks how many calls run at the same time.
type countingCaller struct {
	mtx     sync.Mutex
	active  int
	maxSeen int
}

func (c *countingCaller) Call(string, xmlrpc.Values) (*xmlrpc.Value, error) {
	c.mtx.Lock()
	c.active++
	if c.active > c.maxSeen {
		c.maxSeen = c.active
	}
	c.mtx.Unlock()
	time.Sleep(time.Millisecond)
	c.mtx.Lock()
	c.active--
	c.mtx.Unlock()
	return xmlrpc.NewBool(true), nil
}

func TestProxyConcurrentCalls(t *testing.T) {
	// the first calls arrive concurrently on a fresh proxy, the pool must
	// still hold the worker bound
	cc := &countingCaller{}
	p := &Proxy{InterfaceID: "itf", Caller: cc, MaxWorkers: 2}
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := p.Call("ping", xmlrpc.Values{}); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()
	if cc.maxSeen > 2 {
		t.Errorf("worker bound exceeded: %d", cc.maxSeen)
	}
}

func TestProxySetInstallMode(t *testing.T) {
	fc := &fakeCaller{handler: emptyResponse}
	p := &Proxy{InterfaceID: "itf", Caller: fc}

	if err := p.SetInstallMode(true, 60); err != nil {
		t.Fatal(err)
	}
	if len(fc.lastArg) != 2 {
		t.Error("duration argument missing")
	}
	if err := p.SetInstallMode(false, 0); err != nil {
		t.Fatal(err)
	}
	if len(fc.lastArg) != 1 {
		t.Error("off must not send a duration")
	}
}
