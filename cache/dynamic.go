package cache

import (
	"sync"
	"time"

	"github.com/mdzio/go-hmcentral/itf"
	"github.com/mdzio/go-hmcentral/jsonrpc"
)

// DefaultMaxCacheAge limits how long dynamic cache content is used before a
// refresh.
const DefaultMaxCacheAge = 60 * time.Second

// DeviceDetailsCache holds the ReGaHss metadata of devices and channels:
// display names, room and function assignments. The content is fetched over
// JSON-RPC and refreshed on demand.
type DeviceDetailsCache struct {
	MaxAge time.Duration

	mtx         sync.RWMutex
	lastRefresh time.Time
	// address (device or channel) -> display name
	names map[string]string
	// channel address -> rooms / functions
	rooms     map[string][]string
	functions map[string][]string
	// device address -> room, set iff all channels agree on one room
	deviceRooms map[string]string
	// device address -> interface name
	interfaces map[string]string
}

// NewDeviceDetailsCache creates a DeviceDetailsCache.
func NewDeviceDetailsCache() *DeviceDetailsCache {
	return &DeviceDetailsCache{
		MaxAge:      DefaultMaxCacheAge,
		names:       make(map[string]string),
		rooms:       make(map[string][]string),
		functions:   make(map[string][]string),
		deviceRooms: make(map[string]string),
		interfaces:  make(map[string]string),
	}
}

// NeedsRefresh reports whether the content is older than half of MaxAge.
// Refreshing at half age keeps the content always within MaxAge.
func (c *DeviceDetailsCache) NeedsRefresh() bool {
	c.mtx.RLock()
	defer c.mtx.RUnlock()
	return time.Since(c.lastRefresh) > c.MaxAge/2
}

// Refresh fetches devices, rooms and functions from the CCU.
func (c *DeviceDetailsCache) Refresh(client *jsonrpc.Client) error {
	devs, err := client.DeviceListAllDetail()
	if err != nil {
		return err
	}
	rooms, err := client.RoomGetAll()
	if err != nil {
		return err
	}
	funcs, err := client.SubsectionGetAll()
	if err != nil {
		return err
	}

	names := make(map[string]string)
	interfaces := make(map[string]string)
	// ReGaHss channel id -> channel address, needed for the room/function
	// reverse lookup
	chnAddr := make(map[string]string)
	for _, d := range devs {
		names[d.Address] = d.Name
		interfaces[d.Address] = d.Interface
		for _, ch := range d.Channels {
			names[ch.Address] = ch.Name
			chnAddr[ch.ID] = ch.Address
		}
	}
	roomsByChn := make(map[string][]string)
	for _, r := range rooms {
		for _, id := range r.ChannelIDs {
			if addr, ok := chnAddr[id]; ok {
				roomsByChn[addr] = append(roomsByChn[addr], r.Name)
			}
		}
	}
	funcsByChn := make(map[string][]string)
	for _, f := range funcs {
		for _, id := range f.ChannelIDs {
			if addr, ok := chnAddr[id]; ok {
				funcsByChn[addr] = append(funcsByChn[addr], f.Name)
			}
		}
	}

	c.mtx.Lock()
	defer c.mtx.Unlock()
	c.names = names
	c.interfaces = interfaces
	c.rooms = roomsByChn
	c.functions = funcsByChn
	c.deviceRooms = singleRooms(roomsByChn)
	c.lastRefresh = time.Now()
	log.Debugf("Refreshed device details: %d names, %d rooms, %d functions", len(names), len(rooms), len(funcs))
	return nil
}

// Name returns the display name of a device or channel address.
func (c *DeviceDetailsCache) Name(address string) string {
	c.mtx.RLock()
	defer c.mtx.RUnlock()
	return c.names[address]
}

// Rooms returns the rooms of a channel address.
func (c *DeviceDetailsCache) Rooms(channelAddress string) []string {
	c.mtx.RLock()
	defer c.mtx.RUnlock()
	return c.rooms[channelAddress]
}

// Room returns the room of a device. A device is assigned to a room only
// when all its channels agree on exactly one distinct room; otherwise an
// empty string is returned.
func (c *DeviceDetailsCache) Room(deviceAddress string) string {
	c.mtx.RLock()
	defer c.mtx.RUnlock()
	return c.deviceRooms[deviceAddress]
}

// singleRooms derives the device room assignments from the channel rooms.
func singleRooms(roomsByChn map[string][]string) map[string]string {
	distinct := make(map[string]map[string]bool)
	for chn, rooms := range roomsByChn {
		dev := itf.DeviceAddress(chn)
		if distinct[dev] == nil {
			distinct[dev] = make(map[string]bool)
		}
		for _, r := range rooms {
			distinct[dev][r] = true
		}
	}
	single := make(map[string]string)
	for dev, rooms := range distinct {
		if len(rooms) == 1 {
			for r := range rooms {
				single[dev] = r
			}
		}
	}
	return single
}

// Functions returns the functions of a channel address.
func (c *DeviceDetailsCache) Functions(channelAddress string) []string {
	c.mtx.RLock()
	defer c.mtx.RUnlock()
	return c.functions[channelAddress]
}

// Interface returns the interface name of a device address.
func (c *DeviceDetailsCache) Interface(deviceAddress string) string {
	c.mtx.RLock()
	defer c.mtx.RUnlock()
	return c.interfaces[deviceAddress]
}

// Clear empties the cache.
func (c *DeviceDetailsCache) Clear() {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	c.names = make(map[string]string)
	c.rooms = make(map[string][]string)
	c.functions = make(map[string][]string)
	c.deviceRooms = make(map[string]string)
	c.interfaces = make(map[string]string)
	c.lastRefresh = time.Time{}
}

// DataCache holds the current values of all data points of one interface,
// fetched in bulk through a ReGa script. It avoids one getValue round trip per
// parameter during entity creation.
type DataCache struct {
	MaxAge time.Duration

	mtx         sync.RWMutex
	lastRefresh map[string]time.Time
	// interface name -> datapoint name -> value
	values map[string]map[string]interface{}
}

// NewDataCache creates a DataCache.
func NewDataCache() *DataCache {
	return &DataCache{
		MaxAge:      DefaultMaxCacheAge,
		lastRefresh: make(map[string]time.Time),
		values:      make(map[string]map[string]interface{}),
	}
}

// NeedsRefresh reports whether the content of an interface is older than
// MaxAge.
func (c *DataCache) NeedsRefresh(interfaceName string) bool {
	c.mtx.RLock()
	defer c.mtx.RUnlock()
	return time.Since(c.lastRefresh[interfaceName]) > c.MaxAge
}

// Refresh fetches the values of all data points of an interface.
func (c *DataCache) Refresh(client *jsonrpc.Client, interfaceName string) error {
	values, err := client.FetchAllDeviceData(interfaceName)
	if err != nil {
		return err
	}
	c.mtx.Lock()
	defer c.mtx.Unlock()
	c.values[interfaceName] = values
	c.lastRefresh[interfaceName] = time.Now()
	log.Debugf("Refreshed data cache of interface %s: %d values", interfaceName, len(values))
	return nil
}

// Value returns the cached value of a parameter, or nil. The datapoint name in
// the ReGaHss has the form <interface>.<channel_address>.<parameter>.
func (c *DataCache) Value(interfaceName, channelAddress, parameter string) (interface{}, bool) {
	c.mtx.RLock()
	defer c.mtx.RUnlock()
	v, ok := c.values[interfaceName][interfaceName+"."+channelAddress+"."+parameter]
	return v, ok
}

// Clear empties the cache.
func (c *DataCache) Clear() {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	c.lastRefresh = make(map[string]time.Time)
	c.values = make(map[string]map[string]interface{})
}
