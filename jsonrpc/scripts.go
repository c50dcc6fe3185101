package jsonrpc

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/mdzio/go-hmcentral/itf"
)

// fetchAllDeviceDataScript collects the current values of all data points of
// one interface in a single round trip and prints them as one JSON object.
// The key is the ReGaHss datapoint name (interface.address.parameter).
const fetchAllDeviceDataScript = `!# fetch all device data of one interface
string sDevId;
string sChnId;
string sDPId;
boolean bFirst = true;
Write("{");
foreach (sDevId, root.Devices().EnumIDs()) {
	object oDevice = dom.GetObject(sDevId);
	if ((oDevice) && (oDevice.ReadyConfig())) {
		string sInterface = dom.GetObject(oDevice.Interface()).Name();
		if (sInterface == "##interface##") {
			foreach (sChnId, oDevice.Channels().EnumIDs()) {
				object oChannel = dom.GetObject(sChnId);
				foreach (sDPId, oChannel.DPs().EnumIDs()) {
					object oDP = dom.GetObject(sDPId);
					if (oDP) {
						if (bFirst == false) { Write(","); } else { bFirst = false; }
						Write("\"" # oDP.Name() # "\":");
						integer iType = oDP.ValueType();
						if (iType == 20) {
							Write("\"" # oDP.Value().ToString().Replace("\\", "\\\\").Replace("\"", "\\\"") # "\"");
						} else {
							var vValue = oDP.Value();
							if (vValue == "") {
								if (iType == 2) { Write("false"); } else { Write("0"); }
							} else {
								Write(vValue);
							}
						}
					}
				}
			}
		}
	}
}
Write("}");`

// sysVarValuesScript reads the values and change timestamps of all system
// variables as one JSON array.
const sysVarValuesScript = `!# read values of all system variables
string sSysVarId;
boolean bFirst = true;
Write("[");
foreach (sSysVarId, dom.GetObject(ID_SYSTEM_VARIABLES).EnumIDs()) {
	object oSysVar = dom.GetObject(sSysVarId);
	if (oSysVar) {
		if (bFirst == false) { Write(","); } else { bFirst = false; }
		Write("{\"id\":\"" # sSysVarId # "\",\"ts\":" # oSysVar.Timestamp().ToInteger() # ",\"value\":");
		if (oSysVar.ValueType() == 20) {
			Write("\"" # oSysVar.Value().ToString().Replace("\\", "\\\\").Replace("\"", "\\\"") # "\"");
		} else {
			var vValue = oSysVar.Value();
			if (vValue == "") {
				if (oSysVar.ValueType() == 2) { Write("false"); } else { Write("0"); }
			} else {
				Write(vValue);
			}
		}
		Write("}");
	}
}
Write("]");`

// setSysVarStringScript writes a STRING system variable. The JSON-RPC API
// offers no method for this type.
const setSysVarStringScript = `!# write string system variable
object oSysVar = dom.GetObject(##id##);
if (oSysVar) {
	oSysVar.State("##value##");
	Write("{\"ok\":true}");
} else {
	Write("{\"ok\":false}");
}`

// FetchAllDeviceData reads the current values of all data points of one
// interface in a single round trip. The keys of the result have the form
// <interface>.<channel_address>.<parameter>.
func (c *Client) FetchAllDeviceData(interfaceName string) (map[string]interface{}, error) {
	log.Debugf("Fetching all device data of interface %s", interfaceName)
	res, err := c.ExecScript(fetchAllDeviceDataScript, map[string]string{"interface": interfaceName})
	if err != nil {
		return nil, err
	}
	values := make(map[string]interface{})
	if err = json.Unmarshal(res, &values); err != nil {
		return nil, &itf.ClientError{Message: fmt.Sprintf("Invalid result of device data script: %v", err)}
	}
	return values, nil
}

// SysVarValue is the current value of one system variable.
type SysVarValue struct {
	ID string `json:"id"`
	// seconds since epoch, 0 when the variable was never set
	Timestamp int64       `json:"ts"`
	Value     interface{} `json:"value"`
}

// SysVarValues reads the values of all system variables in a single round
// trip.
func (c *Client) SysVarValues() ([]SysVarValue, error) {
	log.Debug("Fetching system variable values")
	res, err := c.ExecScript(sysVarValuesScript, nil)
	if err != nil {
		return nil, err
	}
	var values []SysVarValue
	if err = json.Unmarshal(res, &values); err != nil {
		return nil, &itf.ClientError{Message: fmt.Sprintf("Invalid result of system variable script: %v", err)}
	}
	return values, nil
}

// SysVarSetString writes a STRING system variable through a ReGa script.
func (c *Client) SysVarSetString(id string, value string) error {
	log.Debugf("Setting system variable %s to %q", id, value)
	// quote for embedding in the script string literal
	quoted := strconv.Quote(value)
	res, err := c.ExecScript(setSysVarStringScript, map[string]string{
		"id":    id,
		"value": quoted[1 : len(quoted)-1],
	})
	if err != nil {
		return err
	}
	var out struct {
		OK bool `json:"ok"`
	}
	if err = json.Unmarshal(res, &out); err != nil {
		return &itf.ClientError{Message: fmt.Sprintf("Invalid result of write script: %v", err)}
	}
	if !out.OK {
		return &itf.ClientError{Message: "System variable not found: " + id}
	}
	return nil
}
