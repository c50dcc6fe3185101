package xmlrpc

import (
	"encoding/xml"
	"fmt"
	"strconv"
)

// MethodCall is the wire form of an XML-RPC call.
type MethodCall struct {
	MethodName string   `xml:"methodName"`
	Params     *Params  `xml:"params"`
	XMLName    xml.Name `xml:"methodCall"`
}

// MethodResponse is the wire form of an XML-RPC response, either a
// result or a fault.
type MethodResponse struct {
	Params  *Params  `xml:"params"`
	Fault   *Value   `xml:"fault>value"`
	XMLName xml.Name `xml:"methodResponse"`
}

// Params wraps the parameter list of a call or response.
type Params struct {
	Param []*Param `xml:"param"`
}

// Param carries a single parameter value.
type Param struct {
	Value *Value
}

// Value is a single XML-RPC value. Exactly one of the type fields is
// set; plain character data doubles as a string value.
type Value struct {
	I4         string   `xml:"i4,omitempty"`
	Int        string   `xml:"int,omitempty"`
	Boolean    string   `xml:"boolean,omitempty"`
	String     string   `xml:"string,omitempty"`
	FlatString string   `xml:",chardata"`
	Double     string   `xml:"double,omitempty"`
	DateTime   string   `xml:"dateTime.iso8601,omitempty"`
	Base64     string   `xml:"base64,omitempty"`
	Struct     *Struct  `xml:"struct"`
	Array      *Array   `xml:"array"`
	XMLName    xml.Name `xml:"value"`
}

// Struct is an XML-RPC struct with named members.
type Struct struct {
	Members []*Member `xml:"member"`
}

// Member is a single named value of a struct.
type Member struct {
	Name  string `xml:"name"`
	Value *Value
}

// Array is an XML-RPC array.
type Array struct {
	Data []*Value `xml:"data>value"`
}

// Values is a list of XML-RPC values, e.g. the arguments of a method call.
type Values []*Value

// MethodError is a fault received from or sent to a remote peer.
type MethodError struct {
	Code    int
	Message string
}

func (f *MethodError) Error() string {
	return fmt.Sprintf("RPC fault (code: %d, message: %s)", f.Code, f.Message)
}

// NewBool creates an XML-RPC value of type boolean.
func NewBool(b bool) *Value {
	if b {
		return &Value{Boolean: "1"}
	}
	return &Value{Boolean: "0"}
}

// NewInt creates an XML-RPC value of type i4.
func NewInt(i int) *Value {
	return &Value{I4: strconv.Itoa(i)}
}

// NewFloat64 creates an XML-RPC value of type double.
func NewFloat64(f float64) *Value {
	return &Value{Double: strconv.FormatFloat(f, 'f', -1, 64)}
}

// NewString creates an XML-RPC value of type string.
func NewString(s string) *Value {
	return &Value{FlatString: s}
}

// NewStrings creates an XML-RPC array of strings.
func NewStrings(ss []string) *Value {
	data := make([]*Value, len(ss))
	for i, s := range ss {
		data[i] = &Value{FlatString: s}
	}
	return &Value{Array: &Array{Data: data}}
}

// NewValue converts a native Go value. Accepted are bool, int, float64,
// string, []string, []interface{} and map[string]interface{}.
func NewValue(in interface{}) (*Value, error) {
	switch val := in.(type) {
	case bool:
		return NewBool(val), nil
	case int:
		return NewInt(val), nil
	case float64:
		return NewFloat64(val), nil
	case string:
		return NewString(val), nil
	case []string:
		return NewStrings(val), nil
	case []interface{}:
		var es []*Value
		for _, e := range val {
			cv, err := NewValue(e)
			if err != nil {
				return nil, err
			}
			es = append(es, cv)
		}
		return &Value{Array: &Array{Data: es}}, nil
	case map[string]interface{}:
		var ms []*Member
		for n, v := range val {
			cv, err := NewValue(v)
			if err != nil {
				return nil, err
			}
			ms = append(ms, &Member{Name: n, Value: cv})
		}
		return &Value{Struct: &Struct{Members: ms}}, nil
	default:
		return nil, fmt.Errorf("Conversion of type %[1]T with value %[1]v is not supported", in)
	}
}

func newFaultResponse(err error) *MethodResponse {
	me, ok := err.(*MethodError)
	if !ok {
		me = &MethodError{Code: -1, Message: err.Error()}
	}
	return &MethodResponse{
		Fault: &Value{Struct: &Struct{Members: []*Member{
			{Name: "faultCode", Value: NewInt(me.Code)},
			{Name: "faultString", Value: NewString(me.Message)},
		}}},
	}
}

func newMethodResponse(value *Value) *MethodResponse {
	return &MethodResponse{
		Params: &Params{
			Param: []*Param{{Value: value}},
		},
	}
}
