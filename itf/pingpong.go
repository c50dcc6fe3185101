package itf

import (
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	// pings older than this are counted as lost
	DefaultMaxPendingAge = 15 * time.Minute
	// number of unanswered pings that triggers a mismatch notification
	DefaultMismatchThreshold = 15
)

// PingPongCounts is a snapshot of the ping/pong accounting of one interface.
type PingPongCounts struct {
	Pending     int
	PendingPong int
	UnknownPong int
}

// PingPongCache tracks outgoing ping timestamps and matches them against
// received PONG events of one interface. Every synthetic ping carries a
// millisecond timestamp as caller id; the backend echoes it in the PONG event.
type PingPongCache struct {
	mtx sync.Mutex
	// interface this cache belongs to
	interfaceID string
	// outgoing ping timestamps (ms) in send order
	pendingPings []int64
	// pings that timed out without a matching pong
	pendingPongEvents int
	// pongs without a matching ping
	unknownPongEvents int

	MaxPendingAge     time.Duration
	MismatchThreshold int
}

// NewPingPongCache creates a PingPongCache for the given interface.
func NewPingPongCache(interfaceID string) *PingPongCache {
	return &PingPongCache{
		interfaceID:       interfaceID,
		MaxPendingAge:     DefaultMaxPendingAge,
		MismatchThreshold: DefaultMismatchThreshold,
	}
}

// CallerID builds the caller id for a synthetic ping and records the pending
// timestamp.
func (c *PingPongCache) CallerID(now time.Time) string {
	ts := now.UnixMilli()
	c.HandleSendPing(ts)
	return c.interfaceID + "#" + strconv.FormatInt(ts, 10)
}

// HandleSendPing records a sent ping timestamp (ms).
func (c *PingPongCache) HandleSendPing(ts int64) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	c.pendingPings = append(c.pendingPings, ts)
}

// HandleReceivedPong matches a received pong timestamp (ms) against the
// pending pings. An unmatched pong is counted as unknown.
func (c *PingPongCache) HandleReceivedPong(ts int64) (matched bool) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	for i, p := range c.pendingPings {
		if p == ts {
			c.pendingPings = append(c.pendingPings[:i], c.pendingPings[i+1:]...)
			return true
		}
	}
	c.unknownPongEvents++
	return false
}

// HandlePongPayload decodes the value of a PONG event. The regular payload has
// the form "<interface_id>#<ms-timestamp>". A payload without '#' is a bare
// heartbeat of some backends and only confirms liveness; the pending set is
// left untouched.
func (c *PingPongCache) HandlePongPayload(payload string) {
	p := strings.LastIndex(payload, "#")
	if p == -1 {
		// bare heartbeat
		return
	}
	ts, err := strconv.ParseInt(payload[p+1:], 10, 64)
	if err != nil {
		c.mtx.Lock()
		c.unknownPongEvents++
		c.mtx.Unlock()
		return
	}
	c.HandleReceivedPong(ts)
}

// DrainExpired moves pings older than MaxPendingAge into the pending pong
// counter and returns the number of drained pings.
func (c *PingPongCache) DrainExpired(now time.Time) int {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	limit := now.Add(-c.MaxPendingAge).UnixMilli()
	drained := 0
	kept := c.pendingPings[:0]
	for _, p := range c.pendingPings {
		if p < limit {
			drained++
		} else {
			kept = append(kept, p)
		}
	}
	c.pendingPings = kept
	c.pendingPongEvents += drained
	return drained
}

// Counts returns a snapshot of the accounting.
func (c *PingPongCache) Counts() PingPongCounts {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return PingPongCounts{
		Pending:     len(c.pendingPings),
		PendingPong: c.pendingPongEvents,
		UnknownPong: c.unknownPongEvents,
	}
}

// MismatchExceeded reports whether the pending set has grown beyond the
// mismatch threshold. This only triggers a notification, never a disconnect;
// the liveness check of the connection checker decides about reconnects.
func (c *PingPongCache) MismatchExceeded() bool {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return len(c.pendingPings) > c.MismatchThreshold
}

// Reset clears the pending set and the counters, e.g. after a reconnect.
func (c *PingPongCache) Reset() {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	c.pendingPings = nil
	c.pendingPongEvents = 0
	c.unknownPongEvents = 0
}
