package itf

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/mdzio/go-hmcentral/xmlrpc"

	"github.com/mdzio/go-logging"
)

var clnLog = logging.Get("itf-proxy")

// methods that bypass the connection state gate
var alwaysCallable = map[string]bool{
	"init":               true,
	"ping":               true,
	"getVersion":         true,
	"system.listMethods": true,
}

// Scalar is implemented by enum like argument types that must be sent as their
// scalar representation.
type Scalar interface {
	ScalarValue() interface{}
}

// Proxy provides access to the XML-RPC API of one backend interface process.
// Outgoing calls are bounded by a worker pool; while the interface has an
// outstanding connectivity issue, all methods except init, ping, getVersion
// and system.listMethods short circuit with a NoConnectionError.
type Proxy struct {
	// interface id used in callbacks, e.g. "hmcentral-HmIP-RF"
	InterfaceID string
	Caller      xmlrpc.Caller
	State       *ConnectionState

	// bounded worker pool; size is fixed on first use
	MaxWorkers int
	initPool   sync.Once
	workers    chan struct{}

	// populated from system.listMethods on init
	supported map[string]bool
}

// acquireWorker blocks until a pool slot is free. Call runs on caller
// goroutines and on the connection checker daemon concurrently, so the
// pool creation must be synchronized.
func (p *Proxy) acquireWorker() func() {
	p.initPool.Do(func() {
		n := p.MaxWorkers
		if n <= 0 {
			n = 1
		}
		p.workers = make(chan struct{}, n)
	})
	p.workers <- struct{}{}
	return func() { <-p.workers }
}

// Call executes a remote procedure call on the interface process. Transport
// errors are mapped to the error kinds of this package and recorded in the
// connection state.
func (p *Proxy) Call(method string, params xmlrpc.Values) (*xmlrpc.Value, error) {
	if !alwaysCallable[method] {
		if p.State != nil && p.State.HasIssue(p.InterfaceID) {
			return nil, &NoConnectionError{Interface: p.InterfaceID, Message: "Outstanding issue, skipping method " + method}
		}
		if p.supported != nil && !p.supported[method] {
			return nil, &UnsupportedError{Method: method}
		}
	}
	release := p.acquireWorker()
	defer release()

	v, err := p.Caller.Call(method, params)
	err = mapCallError(p.InterfaceID, err)
	if err != nil {
		var nce *NoConnectionError
		if errors.As(err, &nce) && p.State != nil {
			if p.State.AddIssue(p.InterfaceID, IssueCall) {
				clnLog.Errorf("Call of method %s failed on %s: %v", method, p.InterfaceID, err)
			} else {
				clnLog.Debugf("Call of method %s failed on %s: %v", method, p.InterfaceID, err)
			}
		}
		return nil, err
	}
	if p.State != nil && p.State.RemoveIssue(p.InterfaceID, IssueCall) {
		clnLog.Infof("Connection to %s restored", p.InterfaceID)
	}
	return v, nil
}

// CallArgs executes a generic call with native arguments. Enum like arguments
// are reduced to their scalar representation, nested maps are cleaned
// recursively. More than 2 arguments are rejected; operations with a longer
// argument list use the typed wrappers.
func (p *Proxy) CallArgs(method string, args ...interface{}) (*xmlrpc.Value, error) {
	if len(args) > 2 {
		return nil, &ClientError{Message: fmt.Sprintf("Too many arguments for generic call of %s: %d", method, len(args))}
	}
	params := make(xmlrpc.Values, len(args))
	for i, a := range args {
		v, err := xmlrpc.NewValue(cleanupArg(a))
		if err != nil {
			return nil, &ClientError{Message: err.Error()}
		}
		params[i] = v
	}
	return p.Call(method, params)
}

func cleanupArg(in interface{}) interface{} {
	switch v := in.(type) {
	case Scalar:
		return v.ScalarValue()
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for n, e := range v {
			out[n] = cleanupArg(e)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, e := range v {
			out[i] = cleanupArg(e)
		}
		return out
	default:
		return in
	}
}

// FetchSupportedMethods populates the supported method set from
// system.listMethods. Some backends omit ping from the list but accept it
// anyway, so ping is always added.
func (p *Proxy) FetchSupportedMethods() error {
	clnLog.Debugf("Calling method system.listMethods on %s", p.InterfaceID)
	v, err := p.Call("system.listMethods", xmlrpc.Values{})
	if err != nil {
		return err
	}
	q := xmlrpc.Q(v)
	names := q.Strings()
	if q.Err() != nil {
		return &ClientError{Message: fmt.Sprintf("Invalid response for system.listMethods: %v", q.Err())}
	}
	p.supported = make(map[string]bool, len(names)+1)
	for _, n := range names {
		p.supported[n] = true
	}
	p.supported["ping"] = true
	return nil
}

// Supports reports whether the backend offers the method. Before
// FetchSupportedMethods every method is assumed to be supported.
func (p *Proxy) Supports(method string) bool {
	return p.supported == nil || p.supported[method]
}

func (p *Proxy) assertEmptyResponse(v *xmlrpc.Value) error {
	eval := xmlrpc.Q(v)
	// test for empty string
	s := eval.String()
	if eval.Err() == nil && s == "" {
		return nil
	}
	// test for empty array (workaround for some interface processes)
	eval.SetErr(nil)
	ar := eval.Slice()
	if eval.Err() == nil && len(ar) == 0 {
		return nil
	}
	return &ClientError{Message: "Expected empty string/array as response"}
}

// Init registers the callback server at the interface process. The
// receiverAddress should have the format http://hostname[:port][/Path].
func (p *Proxy) Init(receiverAddress string) error {
	clnLog.Debugf("Calling method init(%s, %s)", receiverAddress, p.InterfaceID)
	resp, err := p.Call("init", xmlrpc.Values{
		xmlrpc.NewString(receiverAddress),
		xmlrpc.NewString(p.InterfaceID),
	})
	if err != nil {
		return err
	}
	if err = p.assertEmptyResponse(resp); err != nil {
		return fmt.Errorf("Invalid response for method init: %v", err)
	}
	return nil
}

// Deinit cancels the callback subscription. The receiverAddress must match the
// one used with Init.
func (p *Proxy) Deinit(receiverAddress string) error {
	clnLog.Debugf("Calling method init(%s) on %s", receiverAddress, p.InterfaceID)
	resp, err := p.Call("init", xmlrpc.Values{
		xmlrpc.NewString(receiverAddress),
		// empty id cancels the subscription
		xmlrpc.NewString(""),
	})
	if err != nil {
		return err
	}
	if err = p.assertEmptyResponse(resp); err != nil {
		return fmt.Errorf("Invalid response for method init: %v", err)
	}
	return nil
}

// Ping triggers a PONG event carrying callerID. Returns true on success.
func (p *Proxy) Ping(callerID string) (bool, error) {
	clnLog.Debugf("Calling method ping(%s) on %s", callerID, p.InterfaceID)
	resp, err := p.Call("ping", xmlrpc.Values{xmlrpc.NewString(callerID)})
	if err != nil {
		return false, err
	}
	q := xmlrpc.Q(resp)
	res := q.Bool()
	if q.Err() != nil {
		// BidCos-RF returns an array with one bool
		q2 := xmlrpc.Q(resp)
		res = q2.Idx(0).Bool()
		if q2.Err() != nil {
			return false, &ClientError{Message: fmt.Sprintf("Invalid response from method ping: %v, %v", q.Err(), q2.Err())}
		}
	}
	return res, nil
}

// GetVersion retrieves the version of the interface process.
func (p *Proxy) GetVersion() (string, error) {
	clnLog.Debugf("Calling method getVersion on %s", p.InterfaceID)
	resp, err := p.Call("getVersion", xmlrpc.Values{})
	if err != nil {
		return "", err
	}
	q := xmlrpc.Q(resp)
	v := q.String()
	if q.Err() != nil {
		return "", &ClientError{Message: fmt.Sprintf("Invalid response from method getVersion: %v", q.Err())}
	}
	return v, nil
}

// ListDevices retrieves the device descriptions of all devices.
func (p *Proxy) ListDevices() ([]*DeviceDescription, error) {
	clnLog.Debugf("Calling method listDevices on %s", p.InterfaceID)
	v, err := p.Call("listDevices", xmlrpc.Values{})
	if err != nil {
		return nil, err
	}
	e := xmlrpc.Q(v)
	var r []*DeviceDescription
	for _, av := range e.Slice() {
		d := &DeviceDescription{}
		d.ReadFrom(av)
		r = append(r, d)
	}
	if e.Err() != nil {
		return nil, &ClientError{Message: fmt.Sprintf("Invalid response for listDevices: %v", e.Err())}
	}
	return r, nil
}

// GetDeviceDescription retrieves the device description for the specified
// device or channel.
func (p *Proxy) GetDeviceDescription(address string) (*DeviceDescription, error) {
	clnLog.Debugf("Calling method getDeviceDescription(%s) on %s", address, p.InterfaceID)
	v, err := p.Call("getDeviceDescription", xmlrpc.Values{xmlrpc.NewString(address)})
	if err != nil {
		return nil, err
	}
	e := xmlrpc.Q(v)
	d := &DeviceDescription{}
	d.ReadFrom(e)
	if e.Err() != nil {
		return nil, &ClientError{Message: fmt.Sprintf("Invalid response for getDeviceDescription: %v", e.Err())}
	}
	return d, nil
}

// GetParamsetDescription retrieves the paramset description of a channel.
func (p *Proxy) GetParamsetDescription(address, paramsetKey string) (ParamsetDescription, error) {
	clnLog.Debugf("Calling method getParamsetDescription(%s, %s) on %s", address, paramsetKey, p.InterfaceID)
	v, err := p.Call("getParamsetDescription", xmlrpc.Values{
		xmlrpc.NewString(address),
		xmlrpc.NewString(paramsetKey),
	})
	if err != nil {
		return nil, err
	}
	e := xmlrpc.Q(v)
	r := make(ParamsetDescription)
	r.ReadFrom(e)
	if e.Err() != nil {
		return nil, &ClientError{Message: fmt.Sprintf("Invalid response for getParamsetDescription: %v", e.Err())}
	}
	return r, nil
}

// GetParamset reads a complete parameter set of a channel.
func (p *Proxy) GetParamset(address, paramsetKey string) (map[string]interface{}, error) {
	clnLog.Debugf("Calling method getParamset(%s, %s) on %s", address, paramsetKey, p.InterfaceID)
	v, err := p.Call("getParamset", xmlrpc.Values{
		xmlrpc.NewString(address),
		xmlrpc.NewString(paramsetKey),
	})
	if err != nil {
		return nil, err
	}
	e := xmlrpc.Q(v)
	r := make(map[string]interface{})
	for n, v := range e.Map() {
		vv := v.Any()
		if e.Err() != nil {
			break
		}
		r[n] = vv
	}
	if e.Err() != nil {
		return nil, &ClientError{Message: fmt.Sprintf("Invalid response for getParamset: %v", e.Err())}
	}
	return r, nil
}

// PutParamset writes a parameter set atomically. Members not present keep
// their old value.
func (p *Proxy) PutParamset(address, paramsetKey string, values map[string]interface{}) error {
	clnLog.Debugf("Calling method putParamset(%s, %s) on %s", address, paramsetKey, p.InterfaceID)
	ps, err := xmlrpc.NewValue(cleanupArg(values))
	if err != nil {
		return &ClientError{Message: err.Error()}
	}
	resp, err := p.Call("putParamset", xmlrpc.Values{
		xmlrpc.NewString(address),
		xmlrpc.NewString(paramsetKey),
		ps,
	})
	if err != nil {
		return err
	}
	if err = p.assertEmptyResponse(resp); err != nil {
		return fmt.Errorf("Invalid response for method putParamset: %v", err)
	}
	return nil
}

// SetValue writes a single value of the VALUES paramset.
func (p *Proxy) SetValue(address, valueName string, value interface{}) error {
	clnLog.Debugf("Calling method setValue(%s, %s, %v) on %s", address, valueName, value, p.InterfaceID)
	v, err := xmlrpc.NewValue(cleanupArg(value))
	if err != nil {
		return &ClientError{Message: err.Error()}
	}
	resp, err := p.Call("setValue", xmlrpc.Values{
		xmlrpc.NewString(address),
		xmlrpc.NewString(valueName),
		v,
	})
	if err != nil {
		return err
	}
	if err = p.assertEmptyResponse(resp); err != nil {
		return fmt.Errorf("Invalid response for method setValue: %v", err)
	}
	return nil
}

// GetValue reads a single value of the VALUES paramset.
func (p *Proxy) GetValue(address, valueName string) (interface{}, error) {
	clnLog.Debugf("Calling method getValue(%s, %s) on %s", address, valueName, p.InterfaceID)
	resp, err := p.Call("getValue", xmlrpc.Values{
		xmlrpc.NewString(address),
		xmlrpc.NewString(valueName),
	})
	if err != nil {
		return nil, err
	}
	q := xmlrpc.Q(resp)
	res := q.Any()
	if q.Err() != nil {
		return nil, &ClientError{Message: fmt.Sprintf("Invalid response from method getValue: %v", q.Err())}
	}
	return res, nil
}

// GetInstallMode reads the remaining install mode time in seconds.
func (p *Proxy) GetInstallMode() (int, error) {
	clnLog.Debugf("Calling method getInstallMode on %s", p.InterfaceID)
	resp, err := p.Call("getInstallMode", xmlrpc.Values{})
	if err != nil {
		return 0, err
	}
	q := xmlrpc.Q(resp)
	res := q.Int()
	if q.Err() != nil {
		return 0, &ClientError{Message: fmt.Sprintf("Invalid response from method getInstallMode: %v", q.Err())}
	}
	return res, nil
}

// SetInstallMode switches the pairing mode of the interface process on or off.
func (p *Proxy) SetInstallMode(on bool, duration int) error {
	clnLog.Debugf("Calling method setInstallMode(%t, %d) on %s", on, duration, p.InterfaceID)
	params := xmlrpc.Values{xmlrpc.NewBool(on)}
	if on && duration > 0 {
		params = append(params, xmlrpc.NewInt(duration))
	}
	resp, err := p.Call("setInstallMode", params)
	if err != nil {
		return err
	}
	if err = p.assertEmptyResponse(resp); err != nil {
		return fmt.Errorf("Invalid response for method setInstallMode: %v", err)
	}
	return nil
}

// UpdateFirmware triggers a firmware update of a classic BidCos device.
func (p *Proxy) UpdateFirmware(deviceAddress string) (bool, error) {
	clnLog.Debugf("Calling method updateFirmware(%s) on %s", deviceAddress, p.InterfaceID)
	resp, err := p.Call("updateFirmware", xmlrpc.Values{xmlrpc.NewString(deviceAddress)})
	if err != nil {
		return false, err
	}
	q := xmlrpc.Q(resp)
	// some backends answer with an array of bools
	if q.Value() != nil && q.Value().Array != nil {
		ok := true
		for _, e := range q.Slice() {
			ok = ok && e.Bool()
		}
		if q.Err() != nil {
			return false, &ClientError{Message: fmt.Sprintf("Invalid response from method updateFirmware: %v", q.Err())}
		}
		return ok, nil
	}
	res := q.Bool()
	if q.Err() != nil {
		return false, &ClientError{Message: fmt.Sprintf("Invalid response from method updateFirmware: %v", q.Err())}
	}
	return res, nil
}

// InstallFirmware triggers a firmware update of a HmIP device.
func (p *Proxy) InstallFirmware(deviceAddress string) (bool, error) {
	clnLog.Debugf("Calling method installFirmware(%s) on %s", deviceAddress, p.InterfaceID)
	resp, err := p.Call("installFirmware", xmlrpc.Values{xmlrpc.NewString(deviceAddress)})
	if err != nil {
		return false, err
	}
	q := xmlrpc.Q(resp)
	res := q.Bool()
	if q.Err() != nil {
		return false, &ClientError{Message: fmt.Sprintf("Invalid response from method installFirmware: %v", q.Err())}
	}
	return res, nil
}

// GetAllSystemVariables reads all system variables over XML-RPC (Homegear).
func (p *Proxy) GetAllSystemVariables() (map[string]interface{}, error) {
	clnLog.Debugf("Calling method getAllSystemVariables on %s", p.InterfaceID)
	resp, err := p.Call("getAllSystemVariables", xmlrpc.Values{})
	if err != nil {
		return nil, err
	}
	q := xmlrpc.Q(resp)
	r := make(map[string]interface{})
	for n, v := range q.Map() {
		r[n] = v.Any()
	}
	if q.Err() != nil {
		return nil, &ClientError{Message: fmt.Sprintf("Invalid response from method getAllSystemVariables: %v", q.Err())}
	}
	return r, nil
}

// GetSystemVariable reads a system variable over XML-RPC (Homegear).
func (p *Proxy) GetSystemVariable(name string) (interface{}, error) {
	resp, err := p.Call("getSystemVariable", xmlrpc.Values{xmlrpc.NewString(name)})
	if err != nil {
		return nil, err
	}
	q := xmlrpc.Q(resp)
	res := q.Any()
	if q.Err() != nil {
		return nil, &ClientError{Message: fmt.Sprintf("Invalid response from method getSystemVariable: %v", q.Err())}
	}
	return res, nil
}

// SetSystemVariable writes a system variable over XML-RPC (Homegear).
func (p *Proxy) SetSystemVariable(name string, value interface{}) error {
	v, err := xmlrpc.NewValue(cleanupArg(value))
	if err != nil {
		return &ClientError{Message: err.Error()}
	}
	_, err = p.Call("setSystemVariable", xmlrpc.Values{xmlrpc.NewString(name), v})
	return err
}

// DeleteSystemVariable removes a system variable over XML-RPC (Homegear).
func (p *Proxy) DeleteSystemVariable(name string) error {
	_, err := p.Call("deleteSystemVariable", xmlrpc.Values{xmlrpc.NewString(name)})
	return err
}

// ClientServerInitialized checks the registration state (Homegear).
func (p *Proxy) ClientServerInitialized(interfaceID string) (bool, error) {
	resp, err := p.Call("clientServerInitialized", xmlrpc.Values{xmlrpc.NewString(interfaceID)})
	if err != nil {
		return false, err
	}
	q := xmlrpc.Q(resp)
	res := q.Bool()
	if q.Err() != nil {
		return false, &ClientError{Message: fmt.Sprintf("Invalid response from method clientServerInitialized: %v", q.Err())}
	}
	return res, nil
}

// GetMetadata reads a metadata entry of an object (Homegear).
func (p *Proxy) GetMetadata(address, key string) (interface{}, error) {
	resp, err := p.Call("getMetadata", xmlrpc.Values{xmlrpc.NewString(address), xmlrpc.NewString(key)})
	if err != nil {
		return nil, err
	}
	q := xmlrpc.Q(resp)
	res := q.Any()
	if q.Err() != nil {
		return nil, &ClientError{Message: fmt.Sprintf("Invalid response from method getMetadata: %v", q.Err())}
	}
	return res, nil
}

// IsChannelAddress reports whether the address contains a channel part.
func IsChannelAddress(address string) bool {
	return strings.ContainsRune(address, ':')
}
