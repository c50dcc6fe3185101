package cache

import (
	"testing"
	"time"
)

func TestDeviceDetailsCacheNeedsRefresh(t *testing.T) {
	c := NewDeviceDetailsCache()
	if !c.NeedsRefresh() {
		t.Error("empty cache must need a refresh")
	}
	c.lastRefresh = time.Now()
	if c.NeedsRefresh() {
		t.Error("fresh cache must not need a refresh")
	}
	// the gate is half of MaxAge, the content never exceeds MaxAge
	c.lastRefresh = time.Now().Add(-DefaultMaxCacheAge/2 - time.Second)
	if !c.NeedsRefresh() {
		t.Error("half aged cache must need a refresh")
	}
	c.Clear()
	if !c.NeedsRefresh() {
		t.Error("cleared cache must need a refresh")
	}
}

func TestDeviceDetailsCacheLookups(t *testing.T) {
	c := NewDeviceDetailsCache()
	c.names = map[string]string{
		"ABC0000001":   "Power socket",
		"ABC0000001:3": "Power socket switch",
	}
	c.rooms = map[string][]string{"ABC0000001:3": {"Kitchen"}}
	c.functions = map[string][]string{"ABC0000001:3": {"Light"}}
	c.interfaces = map[string]string{"ABC0000001": "HmIP-RF"}

	if c.Name("ABC0000001:3") != "Power socket switch" {
		t.Error("channel name lookup failed")
	}
	if c.Name("ABC0000009") != "" {
		t.Error("unknown address must yield an empty name")
	}
	if rs := c.Rooms("ABC0000001:3"); len(rs) != 1 || rs[0] != "Kitchen" {
		t.Errorf("room lookup failed: %v", rs)
	}
	if fs := c.Functions("ABC0000001:3"); len(fs) != 1 || fs[0] != "Light" {
		t.Errorf("function lookup failed: %v", fs)
	}
	if c.Interface("ABC0000001") != "HmIP-RF" {
		t.Error("interface lookup failed")
	}
}

func TestDeviceRoom(t *testing.T) {
	c := NewDeviceDetailsCache()
	c.rooms = map[string][]string{
		// all channels in one room
		"ABC0000001:0": {"Kitchen"},
		"ABC0000001:3": {"Kitchen"},
		// channels spread over two rooms
		"ABC0000002:1": {"Hall"},
		"ABC0000002:2": {"Attic"},
		// one channel in two rooms
		"ABC0000003:1": {"Hall", "Attic"},
	}
	c.deviceRooms = singleRooms(c.rooms)

	if r := c.Room("ABC0000001"); r != "Kitchen" {
		t.Errorf("single room expected: %q", r)
	}
	if r := c.Room("ABC0000002"); r != "" {
		t.Errorf("multiple rooms must not be assigned: %q", r)
	}
	if r := c.Room("ABC0000003"); r != "" {
		t.Errorf("multiple rooms must not be assigned: %q", r)
	}
	if r := c.Room("ABC0000009"); r != "" {
		t.Errorf("unknown device must not be assigned: %q", r)
	}
}

func TestDataCacheValue(t *testing.T) {
	c := NewDataCache()
	c.values = map[string]map[string]interface{}{
		"HmIP-RF": {
			"HmIP-RF.ABC0000001:3.STATE": true,
			"HmIP-RF.ABC0000001:7.POWER": 12.5,
		},
	}

	v, ok := c.Value("HmIP-RF", "ABC0000001:3", "STATE")
	if !ok || v != true {
		t.Errorf("value lookup failed: %v", v)
	}
	if _, ok = c.Value("HmIP-RF", "ABC0000001:3", "LEVEL"); ok {
		t.Error("unknown parameter must not be found")
	}
	if _, ok = c.Value("BidCos-RF", "ABC0000001:3", "STATE"); ok {
		t.Error("unknown interface must not be found")
	}
}

func TestDataCacheNeedsRefreshPerInterface(t *testing.T) {
	c := NewDataCache()
	if !c.NeedsRefresh("HmIP-RF") {
		t.Error("empty cache must need a refresh")
	}
	c.lastRefresh["HmIP-RF"] = time.Now()
	if c.NeedsRefresh("HmIP-RF") {
		t.Error("fresh interface must not need a refresh")
	}
	if !c.NeedsRefresh("BidCos-RF") {
		t.Error("other interfaces are independent")
	}
	c.Clear()
	if !c.NeedsRefresh("HmIP-RF") {
		t.Error("cleared cache must need a refresh")
	}
}
