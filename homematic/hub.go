package homematic

import (
	"fmt"
	"sync"
	"time"

	"github.com/mdzio/go-hmcentral/itf"
	"github.com/mdzio/go-hmcentral/jsonrpc"
)

// SysVarEntity is the hub entity of one system variable. It is not attached
// to a device; values are refreshed by the central's scheduler.
type SysVarEntity struct {
	client   *jsonrpc.Client
	def      *jsonrpc.SysVarDef
	uniqueID string

	mtx        sync.Mutex
	value      interface{}
	lastUpdate time.Time
}

// NewSysVarEntity creates a SysVarEntity.
func NewSysVarEntity(centralName string, client *jsonrpc.Client, def *jsonrpc.SysVarDef) *SysVarEntity {
	return &SysVarEntity{
		client:   client,
		def:      def,
		uniqueID: UniqueID(centralName, def.ID, def.Name),
	}
}

// Def returns the system variable definition.
func (s *SysVarEntity) Def() *jsonrpc.SysVarDef { return s.def }

// Name returns the variable name.
func (s *SysVarEntity) Name() string { return s.def.Name }

// UniqueID returns the stable identifier.
func (s *SysVarEntity) UniqueID() string { return s.uniqueID }

// Kind maps the variable type to an entity kind: LOGIC and ALARM behave like
// binary entities, LIST like a select, NUMBER like a number, STRING like a
// text.
func (s *SysVarEntity) Kind() string {
	switch s.def.Type {
	case jsonrpc.SysVarTypeLogic, jsonrpc.SysVarTypeAlarm:
		return KindBinary
	case jsonrpc.SysVarTypeList:
		return KindSelect
	case jsonrpc.SysVarTypeNumber:
		return KindNumber
	default:
		return KindText
	}
}

// Value returns the last fetched value.
func (s *SysVarEntity) Value() interface{} {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.value
}

// LastUpdate returns the time of the last value change on the CCU.
func (s *SysVarEntity) LastUpdate() time.Time {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.lastUpdate
}

// UpdateValue stores a value fetched by the scheduler.
func (s *SysVarEntity) UpdateValue(value interface{}, ts time.Time) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.value = value
	s.lastUpdate = ts
}

// SetValue writes the system variable. LIST variables accept the ordinal or a
// label of the value list; STRING variables are written through a ReGa
// script, the other types through the JSON-RPC API.
func (s *SysVarEntity) SetValue(value interface{}) error {
	switch s.def.Type {
	case jsonrpc.SysVarTypeLogic, jsonrpc.SysVarTypeAlarm:
		b, ok := value.(bool)
		if !ok {
			return &itf.ClientError{Message: fmt.Sprintf("Invalid value for system variable %s: %v", s.def.Name, value)}
		}
		return s.client.SysVarSetBool(s.def.ID, b)

	case jsonrpc.SysVarTypeList:
		if label, ok := value.(string); ok {
			for i, l := range s.def.ValueList {
				if l == label {
					return s.client.SysVarSetFloat(s.def.ID, float64(i))
				}
			}
			return &itf.ClientError{Message: fmt.Sprintf("Label not in value list of system variable %s: %s", s.def.Name, label)}
		}
		ord, ok := toInt(value)
		if !ok || ord < 0 || ord >= len(s.def.ValueList) {
			return &itf.ClientError{Message: fmt.Sprintf("Invalid ordinal for system variable %s: %v", s.def.Name, value)}
		}
		return s.client.SysVarSetFloat(s.def.ID, float64(ord))

	case jsonrpc.SysVarTypeNumber:
		f, ok := toFloat64(value)
		if !ok {
			return &itf.ClientError{Message: fmt.Sprintf("Invalid value for system variable %s: %v", s.def.Name, value)}
		}
		if f < s.def.Minimum || f > s.def.Maximum {
			return &itf.ClientError{Message: fmt.Sprintf("Value %g out of range [%g, %g] of system variable %s",
				f, s.def.Minimum, s.def.Maximum, s.def.Name)}
		}
		return s.client.SysVarSetFloat(s.def.ID, f)

	case jsonrpc.SysVarTypeString:
		str, ok := value.(string)
		if !ok {
			return &itf.ClientError{Message: fmt.Sprintf("Invalid value for system variable %s: %v", s.def.Name, value)}
		}
		return s.client.SysVarSetString(s.def.ID, str)
	}
	return &itf.ClientError{Message: "Unsupported system variable type: " + s.def.Type}
}

// ProgramButton is the hub entity of a stored program. Programs are execute
// only.
type ProgramButton struct {
	client   *jsonrpc.Client
	uniqueID string

	mtx sync.Mutex
	def *jsonrpc.ProgramDef
}

// NewProgramButton creates a ProgramButton.
func NewProgramButton(centralName string, client *jsonrpc.Client, def *jsonrpc.ProgramDef) *ProgramButton {
	return &ProgramButton{
		client:   client,
		uniqueID: UniqueID(centralName, def.ID, def.Name),
		def:      def,
	}
}

// Def returns the program definition.
func (p *ProgramButton) Def() *jsonrpc.ProgramDef {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	return p.def
}

// Name returns the program name.
func (p *ProgramButton) Name() string {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	return p.def.Name
}

// UniqueID returns the stable identifier.
func (p *ProgramButton) UniqueID() string { return p.uniqueID }

// UpdateDef stores a refreshed definition, e.g. a new last execution time.
func (p *ProgramButton) UpdateDef(def *jsonrpc.ProgramDef) {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	p.def = def
}

// Execute runs the program on the CCU. Fire and forget; the new program state
// arrives with the next refresh.
func (p *ProgramButton) Execute() error {
	return p.client.ProgramExecute(p.def.ID)
}
