package jsonrpc

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/mdzio/go-hmcentral/itf"
)

// System variable types as reported by the CCU.
const (
	SysVarTypeAlarm  = "ALARM"
	SysVarTypeLogic  = "LOGIC"
	SysVarTypeList   = "LIST"
	SysVarTypeNumber = "NUMBER"
	SysVarTypeString = "STRING"
)

// InterfaceDef describes one configured device interface of the CCU.
type InterfaceDef struct {
	Name string `json:"name"`
	Port string `json:"port"`
	Info string `json:"info"`
}

// ListInterfaces retrieves the configured device interfaces.
func (c *Client) ListInterfaces() ([]InterfaceDef, error) {
	log.Debug("Retrieving interface list")
	res, err := c.Call("Interface.listInterfaces", nil)
	if err != nil {
		return nil, err
	}
	var itfs []InterfaceDef
	if err = json.Unmarshal(res, &itfs); err != nil {
		return nil, &itf.ClientError{Message: fmt.Sprintf("Invalid result of Interface.listInterfaces: %v", err)}
	}
	return itfs, nil
}

// RoomDef describes a room of the CCU with its assigned channel ids.
type RoomDef struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	ChannelIDs  []string `json:"channelIds"`
}

// RoomGetAll retrieves all rooms.
func (c *Client) RoomGetAll() ([]RoomDef, error) {
	log.Debug("Retrieving rooms")
	res, err := c.Call("Room.getAll", nil)
	if err != nil {
		return nil, err
	}
	var rooms []RoomDef
	if err = json.Unmarshal(res, &rooms); err != nil {
		return nil, &itf.ClientError{Message: fmt.Sprintf("Invalid result of Room.getAll: %v", err)}
	}
	return rooms, nil
}

// SubsectionGetAll retrieves all functions (subsections).
func (c *Client) SubsectionGetAll() ([]RoomDef, error) {
	log.Debug("Retrieving functions")
	res, err := c.Call("Subsection.getAll", nil)
	if err != nil {
		return nil, err
	}
	var fns []RoomDef
	if err = json.Unmarshal(res, &fns); err != nil {
		return nil, &itf.ClientError{Message: fmt.Sprintf("Invalid result of Subsection.getAll: %v", err)}
	}
	return fns, nil
}

// ChannelDetail describes one channel of a device as known to the ReGaHss.
type ChannelDetail struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Address string `json:"address"`
}

// DeviceDetail describes a device as known to the ReGaHss, including display
// names.
type DeviceDetail struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Address   string          `json:"address"`
	Interface string          `json:"interface"`
	Channels  []ChannelDetail `json:"channels"`
}

// DeviceListAllDetail retrieves all devices with their channels and display
// names.
func (c *Client) DeviceListAllDetail() ([]DeviceDetail, error) {
	log.Debug("Retrieving device details")
	res, err := c.Call("Device.listAllDetail", nil)
	if err != nil {
		return nil, err
	}
	var devs []DeviceDetail
	if err = json.Unmarshal(res, &devs); err != nil {
		return nil, &itf.ClientError{Message: fmt.Sprintf("Invalid result of Device.listAllDetail: %v", err)}
	}
	return devs, nil
}

// ProgramDef describes a program of the ReGaHss.
type ProgramDef struct {
	ID          string
	Name        string
	Description string
	Active      bool
	Visible     bool
	LastExecute time.Time
}

// rawProgram is the wire representation; the CCU sends everything as strings.
type rawProgram struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	IsActive    bool   `json:"isActive"`
	IsInternal  bool   `json:"isInternal"`
	LastExecute string `json:"lastExecuteTime"`
}

// ProgramGetAll retrieves all programs.
func (c *Client) ProgramGetAll() ([]*ProgramDef, error) {
	log.Debug("Retrieving programs")
	res, err := c.Call("Program.getAll", nil)
	if err != nil {
		return nil, err
	}
	var raws []rawProgram
	if err = json.Unmarshal(res, &raws); err != nil {
		return nil, &itf.ClientError{Message: fmt.Sprintf("Invalid result of Program.getAll: %v", err)}
	}
	ps := make([]*ProgramDef, 0, len(raws))
	for _, r := range raws {
		p := &ProgramDef{
			ID:          r.ID,
			Name:        r.Name,
			Description: r.Description,
			Active:      r.IsActive,
			Visible:     !r.IsInternal,
		}
		if r.LastExecute != "" {
			if ts, err := time.ParseInLocation("2006-01-02 15:04:05", r.LastExecute, time.Local); err == nil {
				p.LastExecute = ts
			}
		}
		ps = append(ps, p)
	}
	sort.Slice(ps, func(i, j int) bool { return ps[i].Name < ps[j].Name })
	return ps, nil
}

// ProgramExecute runs a program. Programs are execute only; there is no way to
// write a program state.
func (c *Client) ProgramExecute(id string) error {
	log.Debugf("Executing program %s", id)
	_, err := c.Call("Program.execute", map[string]interface{}{"id": id})
	return err
}

// SysVarDef describes a system variable of the ReGaHss.
type SysVarDef struct {
	ID          string
	Name        string
	Description string
	Unit        string
	// ALARM, LOGIC, LIST, NUMBER or STRING
	Type string
	// false for internal variables of the ReGaHss
	Visible bool

	// type NUMBER
	Minimum float64
	Maximum float64

	// type ALARM or LOGIC
	ValueName0 string
	ValueName1 string

	// type LIST
	ValueList []string
}

// rawSysVar is the wire representation; the CCU sends everything as strings.
type rawSysVar struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	DPInfo     string `json:"dpInfo"`
	Unit       string `json:"unit"`
	Type       string `json:"type"`
	SubType    string `json:"subType"`
	IsInternal bool   `json:"isInternal"`
	MinValue   string `json:"minValue"`
	MaxValue   string `json:"maxValue"`
	ValueName0 string `json:"valueName0"`
	ValueName1 string `json:"valueName1"`
	ValueList  string `json:"valueList"`
}

// value/sub type ids of the ReGaHss
const (
	ivtBinary  = "2"
	ivtInteger = "16"
	ivtFloat   = "4"
	ivtString  = "20"

	istBool     = "2"
	istAlarm    = "6"
	istEnum     = "29"
	istGeneric  = "0"
	istChar8859 = "11"
)

func (r *rawSysVar) kind() string {
	switch {
	case r.Type == ivtBinary && r.SubType == istAlarm:
		return SysVarTypeAlarm
	case r.Type == ivtBinary && r.SubType == istBool:
		return SysVarTypeLogic
	case r.Type == ivtInteger && r.SubType == istEnum:
		return SysVarTypeList
	case r.Type == ivtFloat && r.SubType == istGeneric:
		return SysVarTypeNumber
	case r.Type == ivtString && r.SubType == istChar8859:
		return SysVarTypeString
	}
	return ""
}

// SysVarGetAll retrieves all system variables. Variables with an unsupported
// type are skipped with a warning. The result is sorted by name.
func (c *Client) SysVarGetAll() ([]*SysVarDef, error) {
	log.Debug("Retrieving system variables")
	res, err := c.Call("SysVar.getAll", nil)
	if err != nil {
		return nil, err
	}
	var raws []rawSysVar
	if err = json.Unmarshal(res, &raws); err != nil {
		return nil, &itf.ClientError{Message: fmt.Sprintf("Invalid result of SysVar.getAll: %v", err)}
	}
	var svs []*SysVarDef
	for i := range raws {
		r := &raws[i]
		kind := r.kind()
		if kind == "" {
			log.Warningf("Skipping system variable %s with unsupported type %s/%s", r.Name, r.Type, r.SubType)
			continue
		}
		sv := &SysVarDef{
			ID:          r.ID,
			Name:        r.Name,
			Description: r.DPInfo,
			Unit:        r.Unit,
			Type:        kind,
			Visible:     !r.IsInternal,
		}
		switch kind {
		case SysVarTypeNumber:
			sv.Minimum, _ = strconv.ParseFloat(r.MinValue, 64)
			sv.Maximum, _ = strconv.ParseFloat(r.MaxValue, 64)
		case SysVarTypeAlarm, SysVarTypeLogic:
			sv.ValueName0 = r.ValueName0
			sv.ValueName1 = r.ValueName1
		case SysVarTypeList:
			sv.ValueList = strings.Split(r.ValueList, ";")
		}
		svs = append(svs, sv)
	}
	sort.Slice(svs, func(i, j int) bool { return svs[i].Name < svs[j].Name })
	return svs, nil
}

// SysVarSetBool writes a LOGIC or ALARM system variable.
func (c *Client) SysVarSetBool(id string, value bool) error {
	log.Debugf("Setting system variable %s to %t", id, value)
	res, err := c.Call("SysVar.setBool", map[string]interface{}{"id": id, "value": value})
	if err != nil {
		return err
	}
	return checkWriteResult("SysVar.setBool", res)
}

// SysVarSetFloat writes a NUMBER or LIST system variable. LIST variables take
// the ordinal of the selected entry.
func (c *Client) SysVarSetFloat(id string, value float64) error {
	log.Debugf("Setting system variable %s to %g", id, value)
	res, err := c.Call("SysVar.setFloat", map[string]interface{}{"id": id, "value": value})
	if err != nil {
		return err
	}
	return checkWriteResult("SysVar.setFloat", res)
}

// SysVarDeleteByName removes a system variable.
func (c *Client) SysVarDeleteByName(name string) error {
	log.Debugf("Deleting system variable %s", name)
	_, err := c.Call("SysVar.deleteSysVarByName", map[string]interface{}{"name": name})
	return err
}

func checkWriteResult(method string, res json.RawMessage) error {
	var ok bool
	if err := json.Unmarshal(res, &ok); err != nil {
		// some firmware versions answer with null on success
		if string(res) == "null" {
			return nil
		}
		return &itf.ClientError{Message: fmt.Sprintf("Invalid result of %s: %v", method, err)}
	}
	if !ok {
		return &itf.ClientError{Message: fmt.Sprintf("Method %s signalled failure", method)}
	}
	return nil
}
