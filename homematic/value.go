package homematic

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"

	"github.com/mdzio/go-hmcentral/itf"
)

// separator for the unique identifier hash input
const idSep = "\x1f"

// UniqueID builds the stable identifier of an entity: the first 16 hex digits
// of the SHA-256 over central name, address and parameter.
func UniqueID(centralName, address, parameter string) string {
	h := sha256.Sum256([]byte(centralName + idSep + address + idSep + parameter))
	return hex.EncodeToString(h[:])[:16]
}

// toFloat64 widens a numeric raw value.
func toFloat64(raw interface{}) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

func toInt(raw interface{}) (int, bool) {
	switch v := raw.(type) {
	case int:
		return v, true
	case float64:
		if v == math.Trunc(v) {
			return int(v), true
		}
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

// isSpecial reports whether value is one of the named out of range values of
// the parameter.
func isSpecial(pd *itf.ParameterDescription, value float64) bool {
	for _, s := range pd.Special {
		switch sv := s.Value.(type) {
		case float64:
			if sv == value {
				return true
			}
		case int:
			if float64(sv) == value {
				return true
			}
		}
	}
	return false
}

// ConvertValue converts a raw value to the native type of the parameter and
// validates it against the parameter description. ENUM parameters accept the
// ordinal or one of the labels. FLOAT and INTEGER values outside [MIN, MAX]
// are only accepted when they are listed as SPECIAL.
func ConvertValue(raw interface{}, pd *itf.ParameterDescription) (interface{}, error) {
	switch pd.Type {
	case itf.ParameterTypeBool, itf.ParameterTypeAction:
		switch v := raw.(type) {
		case bool:
			return v, nil
		case int:
			return v != 0, nil
		case float64:
			return v != 0, nil
		case string:
			// two-state BOOL variants carry a VALUE_LIST
			for i, l := range pd.ValueList {
				if l == v {
					return i != 0, nil
				}
			}
		}
		return nil, &itf.ClientError{Message: fmt.Sprintf("Invalid value for BOOL/ACTION parameter: %v", raw)}

	case itf.ParameterTypeEnum:
		switch v := raw.(type) {
		case string:
			for i, l := range pd.ValueList {
				if l == v {
					return i, nil
				}
			}
			return nil, &itf.ClientError{Message: fmt.Sprintf("Label not in value list of ENUM parameter: %s", v)}
		default:
			ord, ok := toInt(raw)
			if !ok {
				return nil, &itf.ClientError{Message: fmt.Sprintf("Invalid value for ENUM parameter: %v", raw)}
			}
			if len(pd.ValueList) > 0 && (ord < 0 || ord >= len(pd.ValueList)) {
				return nil, &itf.ClientError{Message: fmt.Sprintf("Ordinal out of range of ENUM parameter: %d", ord)}
			}
			return ord, nil
		}

	case itf.ParameterTypeInteger:
		v, ok := toInt(raw)
		if !ok {
			return nil, &itf.ClientError{Message: fmt.Sprintf("Invalid value for INTEGER parameter: %v", raw)}
		}
		min, minOK := toFloat64Opt(pd.Min)
		max, maxOK := toFloat64Opt(pd.Max)
		f := float64(v)
		if (minOK && f < min) || (maxOK && f > max) {
			if !isSpecial(pd, f) {
				return nil, &itf.ClientError{Message: fmt.Sprintf("Value %d out of range [%v, %v]", v, pd.Min, pd.Max)}
			}
		}
		return v, nil

	case itf.ParameterTypeFloat:
		v, ok := toFloat64(raw)
		if !ok {
			return nil, &itf.ClientError{Message: fmt.Sprintf("Invalid value for FLOAT parameter: %v", raw)}
		}
		min, minOK := toFloat64Opt(pd.Min)
		max, maxOK := toFloat64Opt(pd.Max)
		if (minOK && v < min) || (maxOK && v > max) {
			if !isSpecial(pd, v) {
				return nil, &itf.ClientError{Message: fmt.Sprintf("Value %g out of range [%v, %v]", v, pd.Min, pd.Max)}
			}
		}
		return v, nil

	case itf.ParameterTypeString:
		switch v := raw.(type) {
		case string:
			return v, nil
		default:
			return fmt.Sprint(raw), nil
		}
	}
	return nil, &itf.ClientError{Message: "Unsupported parameter type: " + pd.Type}
}

func toFloat64Opt(raw interface{}) (float64, bool) {
	if raw == nil {
		return 0, false
	}
	return toFloat64(raw)
}

// EnumLabel returns the label of an ENUM ordinal, or an empty string.
func EnumLabel(pd *itf.ParameterDescription, ordinal int) string {
	if ordinal >= 0 && ordinal < len(pd.ValueList) {
		return pd.ValueList[ordinal]
	}
	return ""
}
