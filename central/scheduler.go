package central

import (
	"time"

	"github.com/mdzio/go-hmcentral/homematic"
	"github.com/mdzio/go-hmcentral/itf"

	"github.com/mdzio/go-lib/conc"
)

// startScheduler launches the background fetch daemon for the dynamic caches
// and the hub entities.
func (c *Central) startScheduler() func() {
	return conc.DaemonFunc(c.runScheduler)
}

func (c *Central) runScheduler(ctx conc.Context) {
	log.Debugf("Starting scheduler, interval %s", c.cfg.ScanInterval)
	for {
		if err := ctx.Sleep(c.cfg.ScanInterval); err != nil {
			log.Debugf("Stopping scheduler")
			return
		}
		err := c.scan(ctx)
		if err != nil {
			if c.ConnState.AddJSONIssue(itf.IssueJSON) {
				log.Warningf("JSON-RPC scan failed: %v", err)
			} else {
				log.Debugf("JSON-RPC scan failed: %v", err)
			}
		} else if c.ConnState.RemoveJSONIssue(itf.IssueJSON) {
			log.Infof("JSON-RPC scan succeeded again")
		}
	}
}

func (c *Central) scan(ctx conc.Context) error {
	if c.DetailsCache.NeedsRefresh() {
		if err := c.DetailsCache.Refresh(c.JSON); err != nil {
			return err
		}
	}
	if ctx.IsDone() {
		return nil
	}
	for _, cl := range c.Clients() {
		if !cl.Available() {
			continue
		}
		if c.DataCache.NeedsRefresh(cl.Name) {
			if err := c.DataCache.Refresh(c.JSON, cl.Name); err != nil {
				return err
			}
		}
		if ctx.IsDone() {
			return nil
		}
	}
	if c.cfg.SysVarScanEnabled {
		if err := c.scanSysVars(); err != nil {
			return err
		}
	}
	if ctx.IsDone() {
		return nil
	}
	if c.cfg.ProgramScanEnabled {
		if err := c.scanPrograms(); err != nil {
			return err
		}
	}
	return nil
}

// scanSysVars diffs the system variables of the backend against the hub
// entities and refreshes all values in one round trip.
func (c *Central) scanSysVars() error {
	defs, err := c.JSON.SysVarGetAll()
	if err != nil {
		return err
	}
	current := make(map[string]bool, len(defs))
	for _, def := range defs {
		if !def.Visible && !c.cfg.IncludeInternalSysVars {
			continue
		}
		current[def.ID] = true
		c.mtx.Lock()
		if _, ok := c.sysvars[def.ID]; !ok {
			c.sysvars[def.ID] = homematic.NewSysVarEntity(c.cfg.Name, c.JSON, def)
			log.Infof("Created system variable entity: %s", def.Name)
		}
		c.mtx.Unlock()
	}
	c.mtx.Lock()
	for id, sv := range c.sysvars {
		if !current[id] {
			delete(c.sysvars, id)
			log.Infof("Removed system variable entity: %s", sv.Name())
		}
	}
	c.mtx.Unlock()

	values, err := c.JSON.SysVarValues()
	if err != nil {
		return err
	}
	c.mtx.RLock()
	defer c.mtx.RUnlock()
	for _, v := range values {
		sv, ok := c.sysvars[v.ID]
		if !ok {
			continue
		}
		var ts time.Time
		if v.Timestamp != 0 {
			ts = time.Unix(v.Timestamp, 0)
		}
		sv.UpdateValue(v.Value, ts)
	}
	return nil
}

// scanPrograms diffs the programs of the backend against the hub entities.
func (c *Central) scanPrograms() error {
	defs, err := c.JSON.ProgramGetAll()
	if err != nil {
		return err
	}
	current := make(map[string]bool, len(defs))
	c.mtx.Lock()
	defer c.mtx.Unlock()
	for _, def := range defs {
		if !def.Visible && !c.cfg.IncludeInternalPrograms {
			continue
		}
		current[def.ID] = true
		if p, ok := c.programs[def.ID]; ok {
			p.UpdateDef(def)
		} else {
			c.programs[def.ID] = homematic.NewProgramButton(c.cfg.Name, c.JSON, def)
			log.Infof("Created program entity: %s", def.Name)
		}
	}
	for id, p := range c.programs {
		if !current[id] {
			delete(c.programs, id)
			log.Infof("Removed program entity: %s", p.Name())
		}
	}
	return nil
}

// SysVars returns all system variable entities.
func (c *Central) SysVars() []*homematic.SysVarEntity {
	c.mtx.RLock()
	defer c.mtx.RUnlock()
	svs := make([]*homematic.SysVarEntity, 0, len(c.sysvars))
	for _, sv := range c.sysvars {
		svs = append(svs, sv)
	}
	return svs
}

// SysVar returns the system variable entity of a name, or nil.
func (c *Central) SysVar(name string) *homematic.SysVarEntity {
	c.mtx.RLock()
	defer c.mtx.RUnlock()
	for _, sv := range c.sysvars {
		if sv.Name() == name {
			return sv
		}
	}
	return nil
}

// Programs returns all program entities.
func (c *Central) Programs() []*homematic.ProgramButton {
	c.mtx.RLock()
	defer c.mtx.RUnlock()
	ps := make([]*homematic.ProgramButton, 0, len(c.programs))
	for _, p := range c.programs {
		ps = append(ps, p)
	}
	return ps
}

// Program returns the program entity of a name, or nil.
func (c *Central) Program(name string) *homematic.ProgramButton {
	c.mtx.RLock()
	defer c.mtx.RUnlock()
	for _, p := range c.programs {
		if p.Name() == name {
			return p
		}
	}
	return nil
}
