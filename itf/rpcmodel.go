package itf

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/mdzio/go-hmcentral/xmlrpc"
)

// Paramset keys of a channel.
const (
	ParamsetValues = "VALUES"
	ParamsetMaster = "MASTER"
	ParamsetLink   = "LINK"
)

const (
	ParameterTypeFloat   = "FLOAT"
	ParameterTypeInteger = "INTEGER"
	ParameterTypeBool    = "BOOL"
	ParameterTypeEnum    = "ENUM"
	ParameterTypeString  = "STRING"
	ParameterTypeAction  = "ACTION"
)

const (
	ParameterOperationRead = 1 << iota
	ParameterOperationWrite
	ParameterOperationEvent
)

const (
	ParameterFlagVisible = 1 << iota
	ParameterFlagInternal
	ParameterFlagTransform
	ParameterFlagService
	ParameterFlagSticky
)

// DeviceDescription describes a HomeMatic device or channel.
type DeviceDescription struct {
	Type              string
	Address           string
	Children          []string
	Parent            string
	ParentType        string
	Index             int
	AESActive         int
	Paramsets         []string
	Firmware          string
	AvailableFirmware string
	Updatable         int
	Version           int

	// UI presentation bit mask: 0x01 visible, 0x02 internal,
	// 0x08 not deleteable
	Flags int

	Interface string
	RXMode    int
}

// IsDevice reports whether the description belongs to a device (channel 0
// descriptions have a parent and are channels).
func (d *DeviceDescription) IsDevice() bool {
	return d.Parent == ""
}

// ReadFrom fills the description from a decoded getDeviceDescription
// result. All members are optional, the interface processes differ in
// what they send.
func (d *DeviceDescription) ReadFrom(e *xmlrpc.Query) {
	d.Type = e.TryKey("TYPE").String()
	d.Address = e.TryKey("ADDRESS").String()
	// VirtualDevices sends an empty value instead of an empty array for
	// devices without children
	if c := e.TryKey("CHILDREN"); c.IsNotEmpty() {
		d.Children = c.Strings()
	}
	d.Parent = e.TryKey("PARENT").String()
	d.ParentType = e.TryKey("PARENT_TYPE").String()
	d.Index = e.TryKey("INDEX").Int()
	d.AESActive = e.TryKey("AES_ACTIVE").Int()
	d.Paramsets = e.TryKey("PARAMSETS").Strings()
	d.Firmware = e.TryKey("FIRMWARE").String()
	d.AvailableFirmware = e.TryKey("AVAILABLE_FIRMWARE").String()
	d.Updatable = e.TryKey("UPDATABLE").Int()
	d.Version = e.TryKey("VERSION").Int()
	d.Flags = e.TryKey("FLAGS").Int()
	d.Interface = e.TryKey("INTERFACE").String()
	d.RXMode = e.TryKey("RX_MODE").Int()
}

// ToValue builds the wire form of the description.
func (d *DeviceDescription) ToValue() *xmlrpc.Value {
	return &xmlrpc.Value{
		Struct: &xmlrpc.Struct{Members: []*xmlrpc.Member{
			{Name: "TYPE", Value: xmlrpc.NewString(d.Type)},
			{Name: "ADDRESS", Value: xmlrpc.NewString(d.Address)},
			{Name: "CHILDREN", Value: xmlrpc.NewStrings(d.Children)},
			{Name: "PARENT", Value: xmlrpc.NewString(d.Parent)},
			{Name: "PARENT_TYPE", Value: xmlrpc.NewString(d.ParentType)},
			{Name: "INDEX", Value: xmlrpc.NewInt(d.Index)},
			{Name: "AES_ACTIVE", Value: xmlrpc.NewInt(d.AESActive)},
			{Name: "PARAMSETS", Value: xmlrpc.NewStrings(d.Paramsets)},
			{Name: "FIRMWARE", Value: xmlrpc.NewString(d.Firmware)},
			{Name: "AVAILABLE_FIRMWARE", Value: xmlrpc.NewString(d.AvailableFirmware)},
			{Name: "UPDATABLE", Value: xmlrpc.NewInt(d.Updatable)},
			{Name: "VERSION", Value: xmlrpc.NewInt(d.Version)},
			{Name: "FLAGS", Value: xmlrpc.NewInt(d.Flags)},
			{Name: "INTERFACE", Value: xmlrpc.NewString(d.Interface)},
			{Name: "RX_MODE", Value: xmlrpc.NewInt(d.RXMode)},
		}},
	}
}

// SpecialValue defines a named out of range value for an INTEGER or FLOAT
// parameter. Value must be of type int or float64.
type SpecialValue struct {
	ID    string
	Value interface{}
}

// ParameterDescription describes one parameter of a paramset.
type ParameterDescription struct {
	// one of the ParameterType constants
	Type string

	// combination of the ParameterOperation bits
	Operations int

	// combination of the ParameterFlag bits
	Flags int

	Default  interface{}
	Max      interface{}
	Min      interface{}
	Unit     string
	TabOrder int
	Control  string
	ID       string

	// Only for type FLOAT or INTEGER
	Special []SpecialValue

	// Only for type ENUM (and two-state BOOL variants of some devices)
	ValueList []string
}

// Readable reports whether the parameter supports getValue.
func (p *ParameterDescription) Readable() bool {
	return p.Operations&ParameterOperationRead != 0
}

// Writeable reports whether the parameter supports setValue/putParamset.
func (p *ParameterDescription) Writeable() bool {
	return p.Operations&ParameterOperationWrite != 0
}

// Eventing reports whether the backend pushes events for the parameter.
func (p *ParameterDescription) Eventing() bool {
	return p.Operations&ParameterOperationEvent != 0
}

// ReadFrom fills the description from a decoded getParamsetDescription
// entry.
func (p *ParameterDescription) ReadFrom(e *xmlrpc.Query) {
	p.Type = e.TryKey("TYPE").String()
	p.Operations = e.TryKey("OPERATIONS").Int()
	p.Flags = e.TryKey("FLAGS").Int()
	p.Default = e.TryKey("DEFAULT").Any()
	p.Min = e.TryKey("MIN").Any()
	p.Max = e.TryKey("MAX").Any()
	p.Unit = e.TryKey("UNIT").String()
	p.TabOrder = e.TryKey("TAB_ORDER").Int()
	p.Control = e.TryKey("CONTROL").String()
	p.ID = e.TryKey("ID").String()

	// read type specific properties
	switch p.Type {
	case ParameterTypeFloat:
		for _, s := range e.TryKey("SPECIAL").Slice() {
			id := s.Key("ID").String()
			val := s.Key("VALUE").Float64()
			p.Special = append(p.Special, SpecialValue{id, val})
		}
	case ParameterTypeInteger:
		for _, s := range e.TryKey("SPECIAL").Slice() {
			id := s.Key("ID").String()
			val := s.Key("VALUE").Int()
			p.Special = append(p.Special, SpecialValue{id, val})
		}
	case ParameterTypeEnum:
		p.ValueList = e.TryKey("VALUE_LIST").Strings()
	case ParameterTypeBool, ParameterTypeAction:
		v := e.TryKey("VALUE_LIST")
		if v.IsNotEmpty() {
			p.ValueList = v.Strings()
		}
	}
}

// ToValue returns an xmlrpc.Value for this parameter description.
func (p *ParameterDescription) ToValue() (*xmlrpc.Value, error) {
	dflt, err := xmlrpc.NewValue(p.Default)
	if err != nil {
		return nil, err
	}
	min, err := xmlrpc.NewValue(p.Min)
	if err != nil {
		return nil, err
	}
	max, err := xmlrpc.NewValue(p.Max)
	if err != nil {
		return nil, err
	}

	v := &xmlrpc.Value{
		Struct: &xmlrpc.Struct{Members: []*xmlrpc.Member{
			{Name: "TYPE", Value: xmlrpc.NewString(p.Type)},
			{Name: "OPERATIONS", Value: xmlrpc.NewInt(p.Operations)},
			{Name: "FLAGS", Value: xmlrpc.NewInt(p.Flags)},
			{Name: "DEFAULT", Value: dflt},
			{Name: "MIN", Value: min},
			{Name: "MAX", Value: max},
			{Name: "UNIT", Value: xmlrpc.NewString(p.Unit)},
			{Name: "TAB_ORDER", Value: xmlrpc.NewInt(p.TabOrder)},
			{Name: "CONTROL", Value: xmlrpc.NewString(p.Control)},
			{Name: "ID", Value: xmlrpc.NewString(p.ID)},
		}},
	}

	// write type specific properties
	switch p.Type {
	case ParameterTypeFloat, ParameterTypeInteger:
		es := make([]*xmlrpc.Value, len(p.Special))
		for i, sp := range p.Special {
			sv, err := xmlrpc.NewValue(sp.Value)
			if err != nil {
				return nil, fmt.Errorf("Invalid SPECIAL value of parameter description: %v", err)
			}
			es[i] = &xmlrpc.Value{Struct: &xmlrpc.Struct{Members: []*xmlrpc.Member{
				{Name: "ID", Value: xmlrpc.NewString(sp.ID)},
				{Name: "VALUE", Value: sv},
			}}}
		}
		v.Struct.Members = append(v.Struct.Members, &xmlrpc.Member{
			Name: "SPECIAL", Value: &xmlrpc.Value{Array: &xmlrpc.Array{Data: es}},
		})
	case ParameterTypeEnum:
		v.Struct.Members = append(v.Struct.Members, &xmlrpc.Member{
			Name: "VALUE_LIST", Value: xmlrpc.NewStrings(p.ValueList),
		})
	}
	return v, nil
}

// ParamsetDescription describes a parameter set (e.g. VALUES) of a channel.
type ParamsetDescription map[string]*ParameterDescription

// ReadFrom fills the paramset from a decoded getParamsetDescription
// result.
func (ps ParamsetDescription) ReadFrom(q *xmlrpc.Query) {
	for n, v := range q.Map() {
		p := &ParameterDescription{}
		p.ReadFrom(v)
		if q.Err() != nil {
			break
		}
		ps[n] = p
	}
}

// ToValue builds the wire form of the paramset description.
func (ps ParamsetDescription) ToValue() (*xmlrpc.Value, error) {
	ms := make([]*xmlrpc.Member, len(ps))
	i := 0
	for n, p := range ps {
		v, err := p.ToValue()
		if err != nil {
			return nil, err
		}
		ms[i] = &xmlrpc.Member{Name: n, Value: v}
		i++
	}
	return &xmlrpc.Value{Struct: &xmlrpc.Struct{Members: ms}}, nil
}

// DeviceAddress truncates a channel address at the first ':'. A device address
// is returned unchanged.
func DeviceAddress(address string) string {
	if p := strings.IndexRune(address, ':'); p != -1 {
		return address[:p]
	}
	return address
}

// ChannelNo extracts the channel number of a channel address. For a device
// address ok is false.
func ChannelNo(address string) (no int, ok bool) {
	p := strings.IndexRune(address, ':')
	if p == -1 {
		return 0, false
	}
	no, err := strconv.Atoi(address[p+1:])
	if err != nil || no < 0 {
		return 0, false
	}
	return no, true
}

// ChannelAddress builds a channel address from a device address and a channel
// number.
func ChannelAddress(deviceAddress string, channelNo int) string {
	return deviceAddress + ":" + strconv.Itoa(channelNo)
}
