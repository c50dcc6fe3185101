package cache

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/mdzio/go-hmcentral/itf"
)

func deviceWithChannels(addr string, chs ...string) []*itf.DeviceDescription {
	dds := []*itf.DeviceDescription{{
		Type:     "HmIP-PS",
		Address:  addr,
		Children: chs,
		Version:  10,
	}}
	for _, ch := range chs {
		dds = append(dds, &itf.DeviceDescription{
			Type:    "SWITCH_VIRTUAL_RECEIVER",
			Address: ch,
			Parent:  addr,
			Version: 10,
		})
	}
	return dds
}

func TestDeviceDescriptionCachePersistence(t *testing.T) {
	dir := t.TempDir()
	c := NewDeviceDescriptionCache(dir, "ccu")
	c.AddAll("HmIP-RF", deviceWithChannels("ABC0000001", "ABC0000001:0", "ABC0000001:3"))
	if err := c.Save(); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "cache", "ccu_devices.json")
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("cache file missing: %v", err)
	}

	// an unchanged cache must not be written again
	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	if err := c.Save(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("save of unchanged cache must be skipped")
	}

	// a modification triggers the next save
	c.Add("HmIP-RF", &itf.DeviceDescription{Type: "HmIP-SWDO", Address: "ABC0000002", Version: 1})
	if err := c.Save(); err != nil {
		t.Fatal(err)
	}

	l := NewDeviceDescriptionCache(dir, "ccu")
	if err := l.Load(); err != nil {
		t.Fatal(err)
	}
	if dd := l.Get("HmIP-RF", "ABC0000001"); dd == nil || dd.Type != "HmIP-PS" {
		t.Errorf("device not loaded: %+v", dd)
	}
	chs := l.Channels("HmIP-RF", "ABC0000001")
	if len(chs) != 2 || chs[0].Address != "ABC0000001:0" || chs[1].Address != "ABC0000001:3" {
		t.Errorf("channels not in CHILDREN order: %+v", chs)
	}
	if len(l.Devices("HmIP-RF")) != 2 {
		t.Error("channels must not be listed as devices")
	}
}

func TestDeviceDescriptionCacheRemove(t *testing.T) {
	c := NewDeviceDescriptionCache(t.TempDir(), "ccu")
	c.AddAll("HmIP-RF", deviceWithChannels("ABC0000001", "ABC0000001:0", "ABC0000001:3"))
	c.AddAll("HmIP-RF", deviceWithChannels("ABC0000002", "ABC0000002:1"))

	c.Remove("HmIP-RF", "ABC0000001")
	for _, a := range []string{"ABC0000001", "ABC0000001:0", "ABC0000001:3"} {
		if c.Get("HmIP-RF", a) != nil {
			t.Errorf("address %s must be removed", a)
		}
	}
	if c.Get("HmIP-RF", "ABC0000002:1") == nil {
		t.Error("other devices must be untouched")
	}
	// removing an unknown device is not an error
	c.Remove("HmIP-RF", "ABC0000009")
	c.Remove("BidCos-RF", "ABC0000001")
}

func TestDeviceDescriptionCacheLoadMissing(t *testing.T) {
	c := NewDeviceDescriptionCache(t.TempDir(), "ccu")
	if err := c.Load(); err != nil {
		t.Errorf("missing cache file must not be an error: %v", err)
	}
}

func TestDeviceDescriptionCacheLoadCorrupt(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cache", "ccu_devices.json")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	c := NewDeviceDescriptionCache(dir, "ccu")
	if err := c.Load(); err == nil {
		t.Error("corrupt cache file must fail")
	}
	if err := c.Clear(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("clear must remove the cache file")
	}
}

func TestParamsetDescriptionCachePersistence(t *testing.T) {
	dir := t.TempDir()
	psd := itf.ParamsetDescription{
		"STATE": &itf.ParameterDescription{
			Type:       itf.ParameterTypeBool,
			Operations: itf.ParameterOperationRead | itf.ParameterOperationWrite | itf.ParameterOperationEvent,
			ID:         "STATE",
		},
	}
	c := NewParamsetDescriptionCache(dir, "ccu")
	c.Add("HmIP-RF", "ABC0000001:3", "VALUES", psd)
	if !c.Has("HmIP-RF", "ABC0000001:3") {
		t.Error("channel must be cached")
	}
	if c.Has("HmIP-RF", "ABC0000001:4") {
		t.Error("unknown channel must not be cached")
	}
	if err := c.Save(); err != nil {
		t.Fatal(err)
	}

	l := NewParamsetDescriptionCache(dir, "ccu")
	if err := l.Load(); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(l.Get("HmIP-RF", "ABC0000001:3", "VALUES"), psd) {
		t.Error("paramset description not loaded")
	}
	if p := l.Parameter("HmIP-RF", "ABC0000001:3", "VALUES", "STATE"); p == nil || p.Type != itf.ParameterTypeBool {
		t.Errorf("parameter lookup failed: %+v", p)
	}
	if l.Parameter("HmIP-RF", "ABC0000001:3", "VALUES", "LEVEL") != nil {
		t.Error("unknown parameter must be nil")
	}

	l.Remove("HmIP-RF", "ABC0000001:3")
	if l.Has("HmIP-RF", "ABC0000001:3") {
		t.Error("channel must be removed")
	}
}
