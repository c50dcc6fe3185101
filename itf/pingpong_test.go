package itf

import (
	"strconv"
	"testing"
	"time"
)

func TestPingPongCallerID(t *testing.T) {
	c := NewPingPongCache("central-HmIP-RF")
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	id := c.CallerID(now)
	want := "central-HmIP-RF#" + strconv.FormatInt(now.UnixMilli(), 10)
	if id != want {
		t.Errorf("unexpected caller id: %s", id)
	}
	if c.Counts().Pending != 1 {
		t.Error("ping not recorded")
	}
}

func TestPingPongAccounting(t *testing.T) {
	c := NewPingPongCache("itf")
	now := time.Now()
	// send 5 pings, answer 3
	var ids []string
	for i := 0; i < 5; i++ {
		ids = append(ids, c.CallerID(now.Add(time.Duration(i)*time.Second)))
	}
	for i := 0; i < 3; i++ {
		c.HandlePongPayload(ids[i])
	}
	counts := c.Counts()
	if counts.Pending != 2 {
		t.Errorf("unexpected pending count: %d", counts.Pending)
	}
	if counts.UnknownPong != 0 {
		t.Errorf("unexpected unknown pong count: %d", counts.UnknownPong)
	}

	// a pong for an unknown timestamp
	c.HandlePongPayload("itf#1234567")
	if c.Counts().UnknownPong != 1 {
		t.Error("unknown pong not counted")
	}

	// a bare heartbeat without '#' leaves the accounting untouched
	c.HandlePongPayload("itf-heartbeat")
	counts = c.Counts()
	if counts.Pending != 2 || counts.UnknownPong != 1 {
		t.Errorf("heartbeat changed accounting: %+v", counts)
	}
}

func TestPingPongDrainExpired(t *testing.T) {
	c := NewPingPongCache("itf")
	now := time.Now()
	c.CallerID(now.Add(-20 * time.Minute))
	c.CallerID(now.Add(-16 * time.Minute))
	c.CallerID(now)

	drained := c.DrainExpired(now)
	if drained != 2 {
		t.Errorf("unexpected drain count: %d", drained)
	}
	counts := c.Counts()
	if counts.Pending != 1 || counts.PendingPong != 2 {
		t.Errorf("unexpected counts: %+v", counts)
	}
}

func TestPingPongMismatchExceeded(t *testing.T) {
	c := NewPingPongCache("itf")
	c.MismatchThreshold = 3
	now := time.Now()
	for i := 0; i <= 3; i++ {
		c.CallerID(now.Add(time.Duration(i) * time.Millisecond))
	}
	if !c.MismatchExceeded() {
		t.Error("mismatch expected")
	}
	c.Reset()
	if c.MismatchExceeded() || c.Counts().Pending != 0 {
		t.Error("reset did not clear the cache")
	}
}
