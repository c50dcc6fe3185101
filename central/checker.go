package central

import (
	"sync"
	"time"

	"github.com/mdzio/go-hmcentral/homematic"

	"github.com/mdzio/go-lib/conc"
)

// MaxCheckFailures forces the devices of an interface unavailable after this
// many consecutive failed availability checks.
const MaxCheckFailures = 3

// startChecker launches the connection checker daemon.
func (c *Central) startChecker() func() {
	return conc.DaemonFunc(c.runChecker)
}

func (c *Central) runChecker(ctx conc.Context) {
	log.Debugf("Starting connection checker, interval %s", c.cfg.ConnectionCheckerInterval)
	// per interface: devices are currently forced unavailable
	forced := make(map[string]bool)
	for {
		if err := ctx.Sleep(c.cfg.ConnectionCheckerInterval); err != nil {
			log.Debugf("Stopping connection checker")
			return
		}
		c.checkClients(ctx, forced)
	}
}

// checkClients pings every available interface, updates the forced
// availability of its devices and reconnects dead registrations.
func (c *Central) checkClients(ctx conc.Context, forced map[string]bool) {
	var reconnect []*Client
	for _, cl := range c.Clients() {
		if ctx.IsDone() {
			return
		}
		if !cl.Available() {
			continue
		}
		if err := cl.CheckConnectionAvailability(); err != nil {
			log.Debugf("Availability check of %s failed: %v", cl.InterfaceID, err)
		}

		// expired pings only notify, they never disconnect
		if drained := cl.PingPong.DrainExpired(time.Now()); drained > 0 {
			counts := cl.PingPong.Counts()
			c.fireInterfaceEvent(cl.InterfaceID, homematic.InterfaceEventPendingPong,
				map[string]interface{}{"pending_pongs": counts.PendingPong, "drained": drained})
		}
		if cl.PingPong.MismatchExceeded() {
			counts := cl.PingPong.Counts()
			c.fireInterfaceEvent(cl.InterfaceID, homematic.InterfaceEventPingPongMismatch,
				map[string]interface{}{"pending": counts.Pending, "unknown_pongs": counts.UnknownPong})
		}

		failed := cl.CheckFailures() >= MaxCheckFailures
		if failed != forced[cl.InterfaceID] {
			forced[cl.InterfaceID] = failed
			c.markDevicesForcedUnavailable(cl.InterfaceID, failed)
			c.fireInterfaceEvent(cl.InterfaceID, homematic.InterfaceEventProxy,
				map[string]interface{}{"available": !failed})
			if failed {
				log.Warningf("Interface %s is unavailable, devices are marked unavailable", cl.InterfaceID)
			} else {
				log.Infof("Interface %s is available again", cl.InterfaceID)
			}
		}

		if !cl.IsConnected(c.cfg.CallbackWarnInterval) || !cl.IsCallbackAlive(c.cfg.CallbackWarnInterval) {
			reconnect = append(reconnect, cl)
		}
	}
	if len(reconnect) == 0 {
		return
	}

	if c.State() == StateStarted {
		c.setState(StateReconnecting)
	}
	// reconnect dead interfaces concurrently, a single hanging backend must
	// not stall the others
	var wg sync.WaitGroup
	for _, cl := range reconnect {
		wg.Add(1)
		go func(cl *Client) {
			defer wg.Done()
			c.reconnectClient(cl)
		}(cl)
	}
	wg.Wait()
	if c.State() == StateReconnecting {
		c.setState(StateStarted)
	}
}

func (c *Central) reconnectClient(cl *Client) {
	log.Infof("Reconnecting interface %s", cl.InterfaceID)
	state, err := cl.ReInitProxy()
	if err != nil {
		log.Warningf("Reconnect of interface %s failed: %v", cl.InterfaceID, err)
		return
	}
	if state != InitSuccess {
		log.Debugf("Reconnect of interface %s deferred: %s", cl.InterfaceID, state)
		return
	}
	// values may have changed while the callback was dead
	c.mtx.RLock()
	for _, d := range c.devices {
		if d.InterfaceID() == cl.InterfaceID {
			d.MarkValuesUncertain()
		}
	}
	c.mtx.RUnlock()
	c.fireInterfaceEvent(cl.InterfaceID, homematic.InterfaceEventCallback,
		map[string]interface{}{"available": true})
}
