package central

import (
	"crypto/tls"
	"sync"
	"time"

	"github.com/mdzio/go-hmcentral/itf"
	"github.com/mdzio/go-hmcentral/xmlrpc"

	"github.com/mdzio/go-logging"
)

var log = logging.Get("central")

// InitState tracks the callback registration of one interface client.
type InitState int

const (
	// InitNew: init was never attempted.
	InitNew InitState = iota
	// InitSuccess: the backend accepted the callback registration.
	InitSuccess
	// InitFailed: the last init attempt failed.
	InitFailed
	// DeInitSuccess: the registration was cancelled.
	DeInitSuccess
	// DeInitFailed: the cancellation failed; a reinit is still possible when
	// explicitly requested.
	DeInitFailed
	// DeInitSkipped: there was nothing to cancel.
	DeInitSkipped
)

func (s InitState) String() string {
	switch s {
	case InitNew:
		return "NEW"
	case InitSuccess:
		return "INIT_SUCCESS"
	case InitFailed:
		return "INIT_FAILED"
	case DeInitSuccess:
		return "DEINIT_SUCCESS"
	case DeInitFailed:
		return "DEINIT_FAILED"
	case DeInitSkipped:
		return "DEINIT_SKIPPED"
	}
	return "UNKNOWN"
}

// Client handles one XML-RPC interface of the backend: the outgoing proxy,
// the callback registration and the liveness accounting.
type Client struct {
	// interface name, e.g. "HmIP-RF"
	Name string
	// registration id, e.g. "central-HmIP-RF"
	InterfaceID string

	Proxy    *itf.Proxy
	PingPong *itf.PingPongCache

	callbackURL string

	mtx sync.Mutex
	// callback registration state
	initState InitState
	// time of the last received callback of this interface
	lastEvent time.Time
	// consecutive availability check failures
	checkFailures int
	// the interface is listed by the backend
	available bool
	version   string
}

// newClient creates a Client for one configured interface.
func newClient(cfg *Config, ic *InterfaceConfig, state *itf.ConnectionState) *Client {
	interfaceID := cfg.InterfaceID(ic.Name)
	var tlsCfg *tls.Config
	if cfg.TLS && !cfg.VerifyTLS {
		tlsCfg = &tls.Config{InsecureSkipVerify: true}
	}
	return &Client{
		Name:        ic.Name,
		InterfaceID: interfaceID,
		Proxy: &itf.Proxy{
			InterfaceID: interfaceID,
			State:       state,
			MaxWorkers:  cfg.MaxWorkers,
			Caller: &xmlrpc.Client{
				Addr:      cfg.InterfaceURL(ic),
				Username:  cfg.Username,
				Password:  cfg.Password,
				TLSConfig: tlsCfg,
			},
		},
		PingPong:  itf.NewPingPongCache(interfaceID),
		available: true,
	}
}

// SetAvailable marks whether the backend lists this interface.
func (c *Client) SetAvailable(available bool) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	c.available = available
}

// Available reports whether the backend lists this interface.
func (c *Client) Available() bool {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.available
}

// InitState returns the callback registration state.
func (c *Client) InitState() InitState {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.initState
}

// Version returns the backend version reported on init.
func (c *Client) Version() string {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.version
}

// InitProxy registers the callback URL at the backend and populates the
// supported method set.
func (c *Client) InitProxy(callbackURL string) error {
	c.mtx.Lock()
	c.callbackURL = callbackURL
	c.mtx.Unlock()

	if err := c.Proxy.FetchSupportedMethods(); err != nil {
		c.setInitState(InitFailed)
		return err
	}
	version, err := c.Proxy.GetVersion()
	if err != nil {
		log.Debugf("Version query failed on %s: %v", c.InterfaceID, err)
	}
	if err := c.Proxy.Init(callbackURL); err != nil {
		c.setInitState(InitFailed)
		return err
	}
	c.mtx.Lock()
	c.initState = InitSuccess
	c.version = version
	c.lastEvent = time.Now()
	c.checkFailures = 0
	c.mtx.Unlock()
	c.PingPong.Reset()
	log.Infof("Interface %s initialized, backend version: %s", c.InterfaceID, version)
	return nil
}

// DeInitProxy cancels the callback registration. A proxy that was never
// initialized returns DeInitSkipped without contacting the backend.
func (c *Client) DeInitProxy() InitState {
	c.mtx.Lock()
	state := c.initState
	url := c.callbackURL
	c.mtx.Unlock()
	if state != InitSuccess {
		c.setInitState(DeInitSkipped)
		return DeInitSkipped
	}
	if err := c.Proxy.Deinit(url); err != nil {
		log.Warningf("Deinit of interface %s failed: %v", c.InterfaceID, err)
		c.setInitState(DeInitFailed)
		return DeInitFailed
	}
	c.setInitState(DeInitSuccess)
	return DeInitSuccess
}

// ReInitProxy cancels and renews the registration. A failed de-init is
// returned without attempting the init; the connection checker requests the
// init explicitly in the next tick.
func (c *Client) ReInitProxy() (InitState, error) {
	if state := c.DeInitProxy(); state == DeInitFailed {
		return DeInitFailed, nil
	}
	c.mtx.Lock()
	url := c.callbackURL
	c.mtx.Unlock()
	if err := c.InitProxy(url); err != nil {
		return InitFailed, err
	}
	return InitSuccess, nil
}

func (c *Client) setInitState(state InitState) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	c.initState = state
}

// EventReceived records an incoming callback of this interface.
func (c *Client) EventReceived() {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	c.lastEvent = time.Now()
	c.checkFailures = 0
}

// LastEvent returns the time of the last received callback.
func (c *Client) LastEvent() time.Time {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.lastEvent
}

// IsCallbackAlive reports whether an event arrived within warnInterval.
func (c *Client) IsCallbackAlive(warnInterval time.Duration) bool {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return time.Since(c.lastEvent) <= warnInterval
}

// CheckConnectionAvailability sends a synthetic ping. The caller id carries a
// millisecond timestamp that the PONG event echoes back.
func (c *Client) CheckConnectionAvailability() error {
	callerID := c.PingPong.CallerID(time.Now())
	_, err := c.Proxy.Ping(callerID)
	c.mtx.Lock()
	defer c.mtx.Unlock()
	if err != nil {
		c.checkFailures++
		return err
	}
	c.checkFailures = 0
	return nil
}

// CheckFailures returns the number of consecutive failed availability checks.
func (c *Client) CheckFailures() int {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.checkFailures
}

// IsConnected reports whether the interface is usable: listed by the backend,
// registered, the last check succeeded and callbacks are flowing.
func (c *Client) IsConnected(warnInterval time.Duration) bool {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.available &&
		c.initState == InitSuccess &&
		c.checkFailures == 0 &&
		time.Since(c.lastEvent) <= warnInterval
}
