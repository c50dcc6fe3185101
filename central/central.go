package central

import (
	"crypto/tls"
	"fmt"
	"sync"

	"github.com/mdzio/go-hmcentral/cache"
	"github.com/mdzio/go-hmcentral/homematic"
	"github.com/mdzio/go-hmcentral/itf"
	"github.com/mdzio/go-hmcentral/jsonrpc"
)

// State is the lifecycle state of a Central.
type State int

const (
	StateCreated State = iota
	StateStarting
	StateStarted
	StateReconnecting
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "CREATED"
	case StateStarting:
		return "STARTING"
	case StateStarted:
		return "STARTED"
	case StateReconnecting:
		return "RECONNECTING"
	case StateStopping:
		return "STOPPING"
	case StateStopped:
		return "STOPPED"
	}
	return "UNKNOWN"
}

// Central orchestrates the clients, the callback server, the caches and the
// entity graph of one backend.
type Central struct {
	cfg *Config

	Server    *itf.Server
	JSON      *jsonrpc.Client
	ConnState *itf.ConnectionState

	DeviceCache   *cache.DeviceDescriptionCache
	ParamsetCache *cache.ParamsetDescriptionCache
	DetailsCache  *cache.DeviceDetailsCache
	DataCache     *cache.DataCache
	Visibility    *cache.VisibilityCache

	mtx   sync.RWMutex
	state State
	// clients by interface id, clientOrder keeps the configuration order
	clients     map[string]*Client
	clientOrder []string
	// devices by device address
	devices map[string]*homematic.Device
	// event fan-out, keyed by channel address, paramset key and parameter
	subscriptions map[homematic.EntityKey][]func(interface{})

	sysvars  map[string]*homematic.SysVarEntity
	programs map[string]*homematic.ProgramButton

	systemHandlers []homematic.SystemEventFunc

	// serializes newDevices processing
	newDevMtx sync.Mutex

	callbackURL   string
	stopChecker   func()
	stopScheduler func()
}

// New creates a Central from a validated configuration.
func New(cfg *Config) (*Central, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &Central{
		cfg:           cfg,
		Server:        &itf.Server{Addr: cfg.ListenAddress + fmt.Sprintf(":%d", cfg.ListenPort)},
		ConnState:     itf.NewConnectionState(),
		DeviceCache:   cache.NewDeviceDescriptionCache(cfg.StorageFolder, cfg.Name),
		ParamsetCache: cache.NewParamsetDescriptionCache(cfg.StorageFolder, cfg.Name),
		DetailsCache:  cache.NewDeviceDetailsCache(),
		DataCache:     cache.NewDataCache(),
		Visibility:    cache.NewVisibilityCache(cfg.StorageFolder),
		clients:       make(map[string]*Client),
		devices:       make(map[string]*homematic.Device),
		subscriptions: make(map[homematic.EntityKey][]func(interface{})),
		sysvars:       make(map[string]*homematic.SysVarEntity),
		programs:      make(map[string]*homematic.ProgramButton),
	}
	c.JSON = &jsonrpc.Client{
		URL:      cfg.JSONURL(),
		Username: cfg.Username,
		Password: cfg.Password,
	}
	if cfg.TLS && !cfg.VerifyTLS {
		c.JSON.TLSConfig = &tls.Config{InsecureSkipVerify: true}
	}
	for i := range cfg.Interfaces {
		cl := newClient(cfg, &cfg.Interfaces[i], c.ConnState)
		c.clients[cl.InterfaceID] = cl
		c.clientOrder = append(c.clientOrder, cl.InterfaceID)
	}
	return c, nil
}

// Name returns the configured central name.
func (c *Central) Name() string { return c.cfg.Name }

// Config returns the configuration.
func (c *Central) Config() *Config { return c.cfg }

// State returns the lifecycle state.
func (c *Central) State() State {
	c.mtx.RLock()
	defer c.mtx.RUnlock()
	return c.state
}

func (c *Central) setState(s State) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	log.Debugf("Central %s: %s -> %s", c.cfg.Name, c.state, s)
	c.state = s
}

// AddSystemEventHandler registers a callback for KEYPRESS, IMPULSE,
// DEVICE_ERROR and INTERFACE events. Handlers must not block.
func (c *Central) AddSystemEventHandler(fn homematic.SystemEventFunc) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	c.systemHandlers = append(c.systemHandlers, fn)
}

func (c *Central) fireSystemEvent(ev homematic.SystemEvent) {
	c.mtx.RLock()
	handlers := make([]homematic.SystemEventFunc, len(c.systemHandlers))
	copy(handlers, c.systemHandlers)
	c.mtx.RUnlock()
	for _, fn := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Errorf("System event handler failed: %v", r)
				}
			}()
			fn(ev)
		}()
	}
}

func (c *Central) fireInterfaceEvent(interfaceID, subType string, data map[string]interface{}) {
	if data == nil {
		data = map[string]interface{}{}
	}
	data["interface_id"] = interfaceID
	data["interface_event_type"] = subType
	c.fireSystemEvent(homematic.SystemEvent{Type: homematic.EventTypeInterface, Data: data})
}

// Start brings the central up: callback server, caches, clients, entity graph
// and background daemons. A backend that is temporarily unreachable does not
// fail the start; the connection checker reconnects later.
func (c *Central) Start() error {
	if c.State() != StateCreated {
		return &itf.ConfigError{Message: "Central was already started"}
	}
	c.setState(StateStarting)

	// load persistent caches, clear them on parse failures
	if err := c.DeviceCache.Load(); err != nil {
		log.Warningf("Clearing invalid device cache: %v", err)
		c.DeviceCache.Clear()
	}
	if err := c.ParamsetCache.Load(); err != nil {
		log.Warningf("Clearing invalid paramset cache: %v", err)
		c.ParamsetCache.Clear()
	}
	if err := c.Visibility.Load(); err != nil {
		return err
	}

	// resolve the callback URL and start the callback server
	if !c.cfg.StartDirect {
		callbackHost := c.cfg.CallbackHost
		if callbackHost == "" {
			ip, err := itf.LocalAddrForPeer(c.cfg.Host)
			if err != nil {
				log.Warningf("Falling back to 127.0.0.1 as callback address: %v", err)
				ip = "127.0.0.1"
			}
			callbackHost = ip
		}
		c.callbackURL = fmt.Sprintf("http://%s:%d", callbackHost, c.cfg.CallbackPort)
		if err := c.Server.Start(func(err error) {
			log.Error(err)
		}); err != nil {
			c.setState(StateCreated)
			return err
		}
		for _, id := range c.clientOrder {
			c.Server.Register(id, c)
		}
	}

	// skip interfaces the backend does not offer
	if available, err := c.availableInterfaces(); err != nil {
		log.Warningf("Interface list not retrievable, assuming all configured interfaces: %v", err)
	} else {
		for _, id := range c.clientOrder {
			cl := c.clients[id]
			if !available[cl.Name] {
				log.Warningf("Interface %s is not available on the backend", cl.Name)
				cl.SetAvailable(false)
				c.fireInterfaceEvent(id, homematic.InterfaceEventProxy, map[string]interface{}{"available": false})
			}
		}
	}

	// register the callback URL at all available interfaces
	if !c.cfg.StartDirect {
		for _, id := range c.clientOrder {
			cl := c.clients[id]
			if !cl.Available() {
				continue
			}
			if err := cl.InitProxy(c.callbackURL); err != nil {
				log.Errorf("Init of interface %s failed: %v", id, err)
			}
		}
	}

	// materialize devices from the caches and the backend
	c.materializeDevices()

	c.setState(StateStarted)

	// background daemons
	if !c.cfg.StartDirect {
		c.stopChecker = c.startChecker()
		c.stopScheduler = c.startScheduler()
	}
	return nil
}

// Stop tears the central down: daemons, registrations, server and caches.
func (c *Central) Stop() {
	c.setState(StateStopping)
	if c.stopChecker != nil {
		c.stopChecker()
		c.stopChecker = nil
	}
	if c.stopScheduler != nil {
		c.stopScheduler()
		c.stopScheduler = nil
	}
	for _, id := range c.clientOrder {
		c.clients[id].DeInitProxy()
	}
	if !c.cfg.StartDirect {
		for _, id := range c.clientOrder {
			c.Server.Unregister(id)
		}
		c.Server.Stop()
	}
	if err := c.DeviceCache.Save(); err != nil {
		log.Error(err)
	}
	if err := c.ParamsetCache.Save(); err != nil {
		log.Error(err)
	}
	c.JSON.Logout()
	c.setState(StateStopped)
}

func (c *Central) availableInterfaces() (map[string]bool, error) {
	itfs, err := c.JSON.ListInterfaces()
	if err != nil {
		return nil, err
	}
	available := make(map[string]bool, len(itfs))
	for _, i := range itfs {
		available[i.Name] = true
	}
	return available, nil
}

// Client returns the client of an interface id, or nil.
func (c *Central) Client(interfaceID string) *Client {
	c.mtx.RLock()
	defer c.mtx.RUnlock()
	return c.clients[interfaceID]
}

// Clients returns all clients in configuration order.
func (c *Central) Clients() []*Client {
	c.mtx.RLock()
	defer c.mtx.RUnlock()
	cls := make([]*Client, 0, len(c.clientOrder))
	for _, id := range c.clientOrder {
		cls = append(cls, c.clients[id])
	}
	return cls
}

// PrimaryClient returns the client used for central wide queries: the first
// one that serves a radio interface with a virtual remote. When none
// qualifies, the last client in configuration order is returned; callers rely
// on this ordering.
func (c *Central) PrimaryClient() *Client {
	c.mtx.RLock()
	defer c.mtx.RUnlock()
	var last *Client
	for _, id := range c.clientOrder {
		cl := c.clients[id]
		last = cl
		if cl.Name == InterfaceHmIPRF || cl.Name == InterfaceBidCosRF {
			return cl
		}
	}
	return last
}

// Available reports whether every client is available, connected and receives
// callbacks.
func (c *Central) Available() bool {
	for _, cl := range c.Clients() {
		if !cl.Available() || !cl.IsConnected(c.cfg.CallbackWarnInterval) ||
			!cl.IsCallbackAlive(c.cfg.CallbackWarnInterval) {
			return false
		}
	}
	return true
}

// Devices returns all devices.
func (c *Central) Devices() []*homematic.Device {
	c.mtx.RLock()
	defer c.mtx.RUnlock()
	devs := make([]*homematic.Device, 0, len(c.devices))
	for _, d := range c.devices {
		devs = append(devs, d)
	}
	return devs
}

// Device returns the device of an address, or nil.
func (c *Central) Device(address string) *homematic.Device {
	c.mtx.RLock()
	defer c.mtx.RUnlock()
	return c.devices[itf.DeviceAddress(address)]
}

// CentralName implements homematic.Gateway.
func (c *Central) CentralName() string { return c.cfg.Name }

// SetValue implements homematic.Gateway.
func (c *Central) SetValue(interfaceID, channelAddress, parameter string, value interface{}) error {
	cl := c.Client(interfaceID)
	if cl == nil {
		return &itf.ConfigError{Message: "Unknown interface: " + interfaceID}
	}
	return cl.Proxy.SetValue(channelAddress, parameter, value)
}

// PutParamset implements homematic.Gateway.
func (c *Central) PutParamset(interfaceID, channelAddress, paramsetKey string, values map[string]interface{}) error {
	cl := c.Client(interfaceID)
	if cl == nil {
		return &itf.ConfigError{Message: "Unknown interface: " + interfaceID}
	}
	return cl.Proxy.PutParamset(channelAddress, paramsetKey, values)
}

// GetValue implements homematic.Gateway.
func (c *Central) GetValue(interfaceID, channelAddress, parameter string) (interface{}, error) {
	cl := c.Client(interfaceID)
	if cl == nil {
		return nil, &itf.ConfigError{Message: "Unknown interface: " + interfaceID}
	}
	return cl.Proxy.GetValue(channelAddress, parameter)
}

// Event implements itf.Receiver. PONG events feed the ping/pong accounting;
// all other events advance the callback liveness and fan out to the
// subscribers of (channel address, VALUES, parameter).
func (c *Central) Event(interfaceID, address, valueKey string, value interface{}) error {
	cl := c.Client(interfaceID)
	if cl == nil {
		// silent drop, see itf.Server
		return nil
	}
	cl.EventReceived()

	if valueKey == "PONG" {
		if payload, ok := value.(string); ok {
			cl.PingPong.HandlePongPayload(payload)
		}
		return nil
	}

	key := homematic.EntityKey{ChannelAddress: address, ParamsetKey: itf.ParamsetValues, Parameter: valueKey}
	c.mtx.RLock()
	subs := make([]func(interface{}), len(c.subscriptions[key]))
	copy(subs, c.subscriptions[key])
	c.mtx.RUnlock()

	// unsubscribed parameters are dropped silently, the backend pushes more
	// than the visibility policy keeps
	for _, fn := range subs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Errorf("Event subscriber of %s failed: %v", key, r)
				}
			}()
			fn(value)
		}()
	}
	return nil
}

// NewDevices implements itf.Receiver. Unknown devices are materialized with
// their paramset descriptions; the caches are saved once per call.
func (c *Central) NewDevices(interfaceID string, dds []*itf.DeviceDescription) error {
	cl := c.Client(interfaceID)
	if cl == nil {
		return nil
	}
	cl.EventReceived()

	c.newDevMtx.Lock()
	defer c.newDevMtx.Unlock()

	var created []string
	for _, dd := range dds {
		if c.DeviceCache.Get(interfaceID, dd.Address) == nil {
			if dd.IsDevice() {
				created = append(created, dd.Address)
			}
		}
		c.DeviceCache.Add(interfaceID, dd)
	}
	// fetch missing paramset descriptions
	for _, dd := range dds {
		if dd.IsDevice() || c.ParamsetCache.Has(interfaceID, dd.Address) {
			continue
		}
		c.fetchParamsetDescriptions(cl, dd)
	}
	for _, addr := range created {
		c.createDevice(interfaceID, addr)
	}
	if len(dds) > 0 {
		if err := c.DeviceCache.Save(); err != nil {
			log.Error(err)
		}
		if err := c.ParamsetCache.Save(); err != nil {
			log.Error(err)
		}
	}
	return nil
}

func (c *Central) fetchParamsetDescriptions(cl *Client, dd *itf.DeviceDescription) {
	for _, psKey := range dd.Paramsets {
		if psKey != itf.ParamsetValues && psKey != itf.ParamsetMaster {
			continue
		}
		psd, err := cl.Proxy.GetParamsetDescription(dd.Address, psKey)
		if err != nil {
			log.Warningf("Paramset description %s of %s not retrievable: %v", psKey, dd.Address, err)
			continue
		}
		c.ParamsetCache.Add(cl.InterfaceID, dd.Address, psKey, psd)
	}
}

// DeleteDevices implements itf.Receiver. Devices, their entities and all
// their subscriptions are removed; the caches are saved afterwards.
func (c *Central) DeleteDevices(interfaceID string, addresses []string) error {
	cl := c.Client(interfaceID)
	if cl == nil {
		return nil
	}
	cl.EventReceived()
	for _, addr := range addresses {
		c.removeDevice(interfaceID, itf.DeviceAddress(addr))
	}
	if err := c.DeviceCache.Save(); err != nil {
		log.Error(err)
	}
	if err := c.ParamsetCache.Save(); err != nil {
		log.Error(err)
	}
	return nil
}

// UpdateDevice implements itf.Receiver.
func (c *Central) UpdateDevice(interfaceID, address string, hint int) error {
	log.Infof("Device updated on %s: %s (hint %d)", interfaceID, address, hint)
	c.fireInterfaceEvent(interfaceID, homematic.InterfaceEventProxy,
		map[string]interface{}{"updated_device": address, "hint": hint})
	return nil
}

// ReplaceDevice implements itf.Receiver.
func (c *Central) ReplaceDevice(interfaceID, oldDeviceAddress, newDeviceAddress string) error {
	log.Infof("Device replaced on %s: %s -> %s", interfaceID, oldDeviceAddress, newDeviceAddress)
	c.fireInterfaceEvent(interfaceID, homematic.InterfaceEventProxy,
		map[string]interface{}{"replaced_device": oldDeviceAddress, "new_device": newDeviceAddress})
	return nil
}

// ReaddedDevice implements itf.Receiver.
func (c *Central) ReaddedDevice(interfaceID string, deletedAddresses []string) error {
	log.Infof("Device re-added on %s, deleted: %v", interfaceID, deletedAddresses)
	c.fireInterfaceEvent(interfaceID, homematic.InterfaceEventProxy,
		map[string]interface{}{"readded_device": deletedAddresses})
	return nil
}

// Error implements itf.Receiver.
func (c *Central) Error(interfaceID string, code int, message string) error {
	log.Warningf("Backend error on %s (code %d): %s", interfaceID, code, itf.RedactCredentials(message))
	c.fireInterfaceEvent(interfaceID, homematic.InterfaceEventProxy,
		map[string]interface{}{"error_code": code, "error": itf.RedactCredentials(message)})
	return nil
}

// ListDevices implements itf.Receiver. The backend delta-syncs against this
// list with newDevices and deleteDevices; ADDRESS and VERSION suffice.
func (c *Central) ListDevices(interfaceID string) ([]*itf.DeviceDescription, error) {
	var stubs []*itf.DeviceDescription
	for _, addr := range c.DeviceCache.Addresses(interfaceID) {
		dd := c.DeviceCache.Get(interfaceID, addr)
		if dd != nil {
			stubs = append(stubs, &itf.DeviceDescription{Address: dd.Address, Version: dd.Version})
		}
	}
	return stubs, nil
}

// materializeDevices creates the entity graph for every cached device that is
// not yet materialized, and asks each connected interface for devices missing
// in the cache.
func (c *Central) materializeDevices() {
	for _, id := range c.clientOrder {
		cl := c.clients[id]
		if cl.Available() && cl.InitState() == InitSuccess {
			dds, err := cl.Proxy.ListDevices()
			if err != nil {
				log.Warningf("Device list of %s not retrievable: %v", id, err)
			} else {
				for _, dd := range dds {
					c.DeviceCache.Add(id, dd)
					if !dd.IsDevice() && !c.ParamsetCache.Has(id, dd.Address) {
						c.fetchParamsetDescriptions(cl, dd)
					}
				}
			}
		}
		for _, dd := range c.DeviceCache.Devices(id) {
			c.mtx.RLock()
			_, exists := c.devices[dd.Address]
			c.mtx.RUnlock()
			if !exists {
				c.createDevice(id, dd.Address)
			}
		}
	}
	if err := c.DeviceCache.Save(); err != nil {
		log.Error(err)
	}
	if err := c.ParamsetCache.Save(); err != nil {
		log.Error(err)
	}
}

// createDevice builds the device and its entity graph and registers the event
// subscriptions.
func (c *Central) createDevice(interfaceID, deviceAddress string) {
	dd := c.DeviceCache.Get(interfaceID, deviceAddress)
	if dd == nil || !dd.IsDevice() {
		return
	}
	cl := c.clients[interfaceID]
	channels := c.DeviceCache.Channels(interfaceID, deviceAddress)
	res := homematic.DeviceResources{
		Gateway:     c,
		InterfaceID: interfaceID,
		Paramset: func(channelAddress, paramsetKey string) itf.ParamsetDescription {
			return c.ParamsetCache.Get(interfaceID, channelAddress, paramsetKey)
		},
		IsIgnored:       c.Visibility.ParameterIsIgnored,
		IsHidden:        c.Visibility.ParameterIsHidden,
		FireSystemEvent: c.fireSystemEvent,
		Name:            c.DetailsCache.Name,
		CachedValue: func(channelAddress, parameter string) (interface{}, bool) {
			if cl == nil {
				return nil, false
			}
			return c.DataCache.Value(cl.Name, channelAddress, parameter)
		},
	}
	device := homematic.NewDevice(res, dd, channels)

	c.mtx.Lock()
	c.devices[deviceAddress] = device
	// route events through the device, it maintains UN_REACH and dispatches
	// to the owning entity or event
	for key := range device.Entities() {
		if key.ParamsetKey != itf.ParamsetValues {
			continue
		}
		k := key
		c.subscriptions[k] = append(c.subscriptions[k], func(value interface{}) {
			device.ReceiveEvent(k.ChannelAddress, k.Parameter, value)
		})
	}
	for key := range device.Events() {
		k := key
		c.subscriptions[k] = append(c.subscriptions[k], func(value interface{}) {
			device.ReceiveEvent(k.ChannelAddress, k.Parameter, value)
		})
	}
	c.mtx.Unlock()
	log.Infof("Created device %s (%s) with %d entities", deviceAddress, dd.Type, len(device.Entities()))
}

// removeDevice drops a device, its cache entries and every subscription that
// references one of its entities.
func (c *Central) removeDevice(interfaceID, deviceAddress string) {
	c.mtx.Lock()
	device := c.devices[deviceAddress]
	if device != nil {
		for key := range device.Entities() {
			delete(c.subscriptions, key)
		}
		for key := range device.Events() {
			delete(c.subscriptions, key)
		}
		delete(c.devices, deviceAddress)
	}
	c.mtx.Unlock()

	for _, ch := range c.DeviceCache.Channels(interfaceID, deviceAddress) {
		c.ParamsetCache.Remove(interfaceID, ch.Address)
	}
	c.DeviceCache.Remove(interfaceID, deviceAddress)
	log.Infof("Removed device %s", deviceAddress)
}

// SubscriptionCount returns the number of subscription entries (for tests and
// diagnostics).
func (c *Central) SubscriptionCount() int {
	c.mtx.RLock()
	defer c.mtx.RUnlock()
	return len(c.subscriptions)
}

// markDevicesForcedUnavailable toggles the forced availability override of
// every device on an interface.
func (c *Central) markDevicesForcedUnavailable(interfaceID string, unavailable bool) {
	c.mtx.RLock()
	defer c.mtx.RUnlock()
	for _, d := range c.devices {
		if d.InterfaceID() == interfaceID {
			d.SetForcedAvailability(unavailable)
			if unavailable {
				d.MarkValuesUncertain()
			}
		}
	}
}
