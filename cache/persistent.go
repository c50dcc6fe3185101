package cache

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/mdzio/go-hmcentral/itf"

	"github.com/mdzio/go-logging"
)

var log = logging.Get("cache")

const cacheDirName = "cache"

// persistentStore saves a JSON serializable snapshot to disk. A save is
// skipped when the content hash is unchanged since the last save or load. The
// file is written atomically through a temporary file. Saves of one store are
// serialized.
type persistentStore struct {
	// <storage>/cache/<central name>_<suffix>.json
	storageDir  string
	centralName string
	suffix      string

	saveSem  chan struct{}
	hashMtx  sync.Mutex
	lastHash [sha256.Size]byte
}

func newPersistentStore(storageDir, centralName, suffix string) persistentStore {
	return persistentStore{
		storageDir:  storageDir,
		centralName: centralName,
		suffix:      suffix,
		saveSem:     make(chan struct{}, 1),
	}
}

func (s *persistentStore) path() string {
	return filepath.Join(s.storageDir, cacheDirName, s.centralName+"_"+s.suffix+".json")
}

func (s *persistentStore) save(snapshot interface{}) error {
	s.saveSem <- struct{}{}
	defer func() { <-s.saveSem }()

	buf, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("Marshalling of cache %s failed: %v", s.suffix, err)
	}
	hash := sha256.Sum256(buf)
	s.hashMtx.Lock()
	unchanged := hash == s.lastHash
	s.hashMtx.Unlock()
	if unchanged {
		log.Tracef("Skipping save of unchanged cache %s", s.suffix)
		return nil
	}

	path := s.path()
	if err = os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("Creating of cache directory failed: %v", err)
	}
	tmp := path + ".tmp"
	if err = os.WriteFile(tmp, buf, 0o644); err != nil {
		return fmt.Errorf("Writing of cache file %s failed: %v", tmp, err)
	}
	if err = os.Rename(tmp, path); err != nil {
		return fmt.Errorf("Renaming of cache file %s failed: %v", tmp, err)
	}
	s.hashMtx.Lock()
	s.lastHash = hash
	s.hashMtx.Unlock()
	log.Debugf("Saved cache file %s (%d bytes)", path, len(buf))
	return nil
}

func (s *persistentStore) load(snapshot interface{}) error {
	path := s.path()
	buf, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Debugf("No cache file found: %s", path)
			return nil
		}
		return fmt.Errorf("Reading of cache file %s failed: %v", path, err)
	}
	if err = json.Unmarshal(buf, snapshot); err != nil {
		return fmt.Errorf("Unmarshalling of cache file %s failed: %v", path, err)
	}
	s.hashMtx.Lock()
	s.lastHash = sha256.Sum256(buf)
	s.hashMtx.Unlock()
	log.Debugf("Loaded cache file %s (%d bytes)", path, len(buf))
	return nil
}

func (s *persistentStore) remove() error {
	err := os.Remove(s.path())
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("Removing of cache file %s failed: %v", s.path(), err)
	}
	s.hashMtx.Lock()
	s.lastHash = [sha256.Size]byte{}
	s.hashMtx.Unlock()
	return nil
}

// DeviceDescriptionCache holds the device descriptions of all interfaces and
// persists them between runs, so a start does not have to enumerate all
// devices again.
type DeviceDescriptionCache struct {
	store persistentStore

	mtx sync.RWMutex
	// interface id -> address -> description
	descriptions map[string]map[string]*itf.DeviceDescription
}

// NewDeviceDescriptionCache creates a DeviceDescriptionCache.
func NewDeviceDescriptionCache(storageDir, centralName string) *DeviceDescriptionCache {
	return &DeviceDescriptionCache{
		store:        newPersistentStore(storageDir, centralName, "devices"),
		descriptions: make(map[string]map[string]*itf.DeviceDescription),
	}
}

// Add puts a device or channel description into the cache.
func (c *DeviceDescriptionCache) Add(interfaceID string, dd *itf.DeviceDescription) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	m, ok := c.descriptions[interfaceID]
	if !ok {
		m = make(map[string]*itf.DeviceDescription)
		c.descriptions[interfaceID] = m
	}
	m[dd.Address] = dd
}

// AddAll puts multiple descriptions into the cache.
func (c *DeviceDescriptionCache) AddAll(interfaceID string, dds []*itf.DeviceDescription) {
	for _, dd := range dds {
		c.Add(interfaceID, dd)
	}
}

// Remove deletes a device and all its channels from the cache.
func (c *DeviceDescriptionCache) Remove(interfaceID, deviceAddress string) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	m := c.descriptions[interfaceID]
	if m == nil {
		return
	}
	dd := m[deviceAddress]
	if dd != nil {
		for _, ch := range dd.Children {
			delete(m, ch)
		}
	}
	delete(m, deviceAddress)
}

// Get returns the description for an address, or nil.
func (c *DeviceDescriptionCache) Get(interfaceID, address string) *itf.DeviceDescription {
	c.mtx.RLock()
	defer c.mtx.RUnlock()
	return c.descriptions[interfaceID][address]
}

// Addresses returns all known addresses (devices and channels) of an
// interface.
func (c *DeviceDescriptionCache) Addresses(interfaceID string) []string {
	c.mtx.RLock()
	defer c.mtx.RUnlock()
	m := c.descriptions[interfaceID]
	addrs := make([]string, 0, len(m))
	for a := range m {
		addrs = append(addrs, a)
	}
	return addrs
}

// Devices returns the descriptions of all devices (not channels) of an
// interface.
func (c *DeviceDescriptionCache) Devices(interfaceID string) []*itf.DeviceDescription {
	c.mtx.RLock()
	defer c.mtx.RUnlock()
	var dds []*itf.DeviceDescription
	for _, dd := range c.descriptions[interfaceID] {
		if dd.IsDevice() {
			dds = append(dds, dd)
		}
	}
	return dds
}

// Channels returns the channel descriptions of a device in the order of the
// CHILDREN member.
func (c *DeviceDescriptionCache) Channels(interfaceID, deviceAddress string) []*itf.DeviceDescription {
	c.mtx.RLock()
	defer c.mtx.RUnlock()
	m := c.descriptions[interfaceID]
	dd := m[deviceAddress]
	if dd == nil {
		return nil
	}
	var chs []*itf.DeviceDescription
	for _, a := range dd.Children {
		if ch := m[a]; ch != nil {
			chs = append(chs, ch)
		}
	}
	return chs
}

// Save persists the cache, if it has changed.
func (c *DeviceDescriptionCache) Save() error {
	c.mtx.RLock()
	snapshot := make(map[string]map[string]*itf.DeviceDescription, len(c.descriptions))
	for i, m := range c.descriptions {
		im := make(map[string]*itf.DeviceDescription, len(m))
		for a, dd := range m {
			im[a] = dd
		}
		snapshot[i] = im
	}
	c.mtx.RUnlock()
	return c.store.save(snapshot)
}

// Load reads a previously saved cache. A missing file is not an error.
func (c *DeviceDescriptionCache) Load() error {
	snapshot := make(map[string]map[string]*itf.DeviceDescription)
	if err := c.store.load(&snapshot); err != nil {
		return err
	}
	c.mtx.Lock()
	defer c.mtx.Unlock()
	if len(snapshot) > 0 {
		c.descriptions = snapshot
	}
	return nil
}

// Clear empties the cache and removes the cache file.
func (c *DeviceDescriptionCache) Clear() error {
	c.mtx.Lock()
	c.descriptions = make(map[string]map[string]*itf.DeviceDescription)
	c.mtx.Unlock()
	return c.store.remove()
}

// ParamsetDescriptionCache holds the paramset descriptions of all channels and
// persists them between runs. Fetching them from the backend is the most
// expensive part of a cold start.
type ParamsetDescriptionCache struct {
	store persistentStore

	mtx sync.RWMutex
	// interface id -> channel address -> paramset key -> description
	paramsets map[string]map[string]map[string]itf.ParamsetDescription
}

// NewParamsetDescriptionCache creates a ParamsetDescriptionCache.
func NewParamsetDescriptionCache(storageDir, centralName string) *ParamsetDescriptionCache {
	return &ParamsetDescriptionCache{
		store:     newPersistentStore(storageDir, centralName, "paramsets"),
		paramsets: make(map[string]map[string]map[string]itf.ParamsetDescription),
	}
}

// Add puts a paramset description into the cache.
func (c *ParamsetDescriptionCache) Add(interfaceID, channelAddress, paramsetKey string, psd itf.ParamsetDescription) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	im, ok := c.paramsets[interfaceID]
	if !ok {
		im = make(map[string]map[string]itf.ParamsetDescription)
		c.paramsets[interfaceID] = im
	}
	cm, ok := im[channelAddress]
	if !ok {
		cm = make(map[string]itf.ParamsetDescription)
		im[channelAddress] = cm
	}
	cm[paramsetKey] = psd
}

// Get returns the paramset description of a channel, or nil.
func (c *ParamsetDescriptionCache) Get(interfaceID, channelAddress, paramsetKey string) itf.ParamsetDescription {
	c.mtx.RLock()
	defer c.mtx.RUnlock()
	return c.paramsets[interfaceID][channelAddress][paramsetKey]
}

// Has reports whether descriptions for a channel are cached.
func (c *ParamsetDescriptionCache) Has(interfaceID, channelAddress string) bool {
	c.mtx.RLock()
	defer c.mtx.RUnlock()
	return len(c.paramsets[interfaceID][channelAddress]) > 0
}

// Parameter returns a single parameter description, or nil.
func (c *ParamsetDescriptionCache) Parameter(interfaceID, channelAddress, paramsetKey, parameter string) *itf.ParameterDescription {
	c.mtx.RLock()
	defer c.mtx.RUnlock()
	return c.paramsets[interfaceID][channelAddress][paramsetKey][parameter]
}

// Remove deletes the descriptions of a channel.
func (c *ParamsetDescriptionCache) Remove(interfaceID, channelAddress string) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	delete(c.paramsets[interfaceID], channelAddress)
}

// Save persists the cache, if it has changed.
func (c *ParamsetDescriptionCache) Save() error {
	c.mtx.RLock()
	snapshot := make(map[string]map[string]map[string]itf.ParamsetDescription, len(c.paramsets))
	for i, im := range c.paramsets {
		sim := make(map[string]map[string]itf.ParamsetDescription, len(im))
		for ch, cm := range im {
			scm := make(map[string]itf.ParamsetDescription, len(cm))
			for k, psd := range cm {
				scm[k] = psd
			}
			sim[ch] = scm
		}
		snapshot[i] = sim
	}
	c.mtx.RUnlock()
	return c.store.save(snapshot)
}

// Load reads a previously saved cache. A missing file is not an error.
func (c *ParamsetDescriptionCache) Load() error {
	snapshot := make(map[string]map[string]map[string]itf.ParamsetDescription)
	if err := c.store.load(&snapshot); err != nil {
		return err
	}
	c.mtx.Lock()
	defer c.mtx.Unlock()
	if len(snapshot) > 0 {
		c.paramsets = snapshot
	}
	return nil
}

// Clear empties the cache and removes the cache file.
func (c *ParamsetDescriptionCache) Clear() error {
	c.mtx.Lock()
	c.paramsets = make(map[string]map[string]map[string]itf.ParamsetDescription)
	c.mtx.Unlock()
	return c.store.remove()
}
