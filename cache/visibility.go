package cache

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/mdzio/go-hmcentral/itf"
)

// universalIgnore lists VALUES parameters that never become entities.
var universalIgnore = map[string]bool{
	"AES_KEY":                  true,
	"BOOT":                     true,
	"BURST_LIMIT_WARNING":      true,
	"CLEAR_WINDOW_OPEN_SYMBOL": true,
	"COMBINED_PARAMETER":       true,
	"DATE_TIME_UNKNOWN":        true,
	"DECISION_VALUE":           true,
	"DEVICE_IN_BOOTLOADER":     true,
	"EXTERNAL_TRANSMIT":        true,
	"FRAME_COUNTER":            true,
	"INSTALL_MODE":             true,
	"STATE_UNCERTAIN":          true,
	"TEST_COUNTER":             true,
}

// ignoreSuffixes and ignorePrefixes skip whole parameter families.
var ignoreSuffixes = []string{
	"_OVERFLOW",
	"_OVERRUN",
	"_REPORTING",
	"_RESULT",
	"_STATUS",
	"_SUBMIT",
}

var ignorePrefixes = []string{
	"ADJUSTING_",
	"ERR_TTM_",
	"HANDLE_",
	"IDENTIFY_",
	"PARTY_START_",
	"PARTY_STOP_",
	"STATUS_FLAG_",
	"WEEK_PROGRAM_",
}

// ignoreByDevice skips a parameter for the listed device model prefixes.
var ignoreByDevice = map[string][]string{
	"CURRENT_ILLUMINATION": {"HmIP-SMI", "HmIP-SMO", "HmIP-SPI"},
	"LOWBAT":               {"HM-LC-Sw", "HM-LC-Bl1", "HM-LC-Dim", "HM-MOD-Re-8"},
	"LOW_BAT":              {"HmIP-BWTH", "HmIP-PCBS"},
	"OPERATING_VOLTAGE": {
		"ELV-SH-BS2", "HmIP-BDT", "HmIP-BSL", "HmIP-BSM", "HmIP-DRD", "HmIP-DRS",
		"HmIP-FDT", "HmIP-FSM", "HmIP-MOD-OC8", "HmIP-PCBS", "HmIP-PDT",
		"HmIP-PMFS", "HmIP-PS", "HmIP-SFD",
	},
	"VALVE_STATE": {"HmIPW-FALMOT", "HmIP-FALMOT"},
}

// acceptOnlyOnChannel keeps a parameter only on one channel number.
var acceptOnlyOnChannel = map[string]int{
	"LOWBAT":            0,
	"LOW_BAT":           0,
	"OPERATING_VOLTAGE": 0,
	"RSSI_DEVICE":       0,
	"RSSI_PEER":         0,
	"SABOTAGE":          0,
	"DUTY_CYCLE":        0,
	"DUTYCYCLE":         0,
}

// unignoreByDevice promotes parameters that the rules above would skip, keyed
// by parameter with device model prefixes.
var unignoreByDevice = map[string][]string{
	"DEVICE_OPERATION_MODE": {"HmIP-DRBLI4", "HmIP-DRDI3", "HmIP-DRSI1", "HmIP-DRSI4"},
	"OPERATING_VOLTAGE":     {"HmIP-SWD", "HmIP-SCTH230"},
	"CURRENT_ILLUMINATION":  {"HmIP-SMI55"},
}

// relevantMasterParams lists MASTER parameters that become entities, keyed by
// parameter with (device model prefix, channel numbers).
type masterRule struct {
	devicePrefix string
	channels     []int
}

var relevantMasterParams = map[string][]masterRule{
	"CHANNEL_OPERATION_MODE": {
		{"HmIP-DRBLI4", []int{9, 13, 17, 21}},
		{"HmIP-DRDI3", []int{1, 2, 3}},
		{"HmIP-DRSI1", []int{1}},
		{"HmIP-DRSI4", []int{1, 2, 3, 4}},
		{"HmIP-DSD-PCB", []int{1}},
		{"HmIP-FCI1", []int{1}},
		{"HmIP-FCI6", []int{1, 2, 3, 4, 5, 6}},
		{"HmIP-FSI16", []int{1}},
		{"HmIP-MIO16-PCB", []int{13, 14, 15, 16}},
		{"HmIP-MOD-RC8", []int{1, 2, 3, 4, 5, 6, 7, 8}},
		{"HmIPW-DRBL4", []int{1, 5, 9, 13}},
		{"HmIPW-DRI16", []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}},
		{"HmIPW-DRI32", []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16,
			17, 18, 19, 20, 21, 22, 23, 24, 25, 26, 27, 28, 29, 30, 31, 32}},
		{"HmIPW-FIO6", []int{1, 2, 3, 4, 5, 6}},
	},
	"GLOBAL_BUTTON_LOCK": {
		{"HM-TC-IT-WM-W-EU", []int{0}},
		{"HmIP-BWTH", []int{0}},
		{"HmIP-eTRV", []int{0}},
		{"HmIP-WTH", []int{0}},
	},
	"TEMPERATURE_MAXIMUM": {
		{"HmIP-BWTH", []int{1}},
		{"HmIP-eTRV", []int{1}},
		{"HmIP-WTH", []int{1}},
		{"HmIPW-STH", []int{1}},
		{"HmIPW-WTH", []int{1}},
	},
	"TEMPERATURE_MINIMUM": {
		{"HmIP-BWTH", []int{1}},
		{"HmIP-eTRV", []int{1}},
		{"HmIP-WTH", []int{1}},
		{"HmIPW-STH", []int{1}},
		{"HmIPW-WTH", []int{1}},
	},
}

// hiddenParameters become entities but start as non-default-visible.
var hiddenParameters = map[string]bool{
	"CHANNEL_OPERATION_MODE": true,
	"CONFIG_PENDING":         true,
	"STICKY_UN_REACH":        true,
	"TEMPERATURE_MAXIMUM":    true,
	"TEMPERATURE_MINIMUM":    true,
	"UN_REACH":               true,
	"UPDATE_PENDING":         true,
}

// unignoreFileName is looked up in the storage directory.
const unignoreFileName = "unignore"

// unignoreRule is one parsed line of the un-ignore file. Empty fields act as
// wildcards.
type unignoreRule struct {
	parameter   string
	deviceType  string
	channelNo   int
	anyChannel  bool
	paramsetKey string
}

func (r *unignoreRule) matches(deviceType string, channelNo int, paramsetKey, parameter string) bool {
	if r.parameter != parameter {
		return false
	}
	if r.paramsetKey != "" && r.paramsetKey != paramsetKey {
		return false
	}
	if r.deviceType != "" && !strings.HasPrefix(strings.ToUpper(deviceType), strings.ToUpper(r.deviceType)) {
		return false
	}
	if !r.anyChannel && r.channelNo != channelNo {
		return false
	}
	return true
}

// parseUnignoreLine parses one line of the un-ignore file. Three syntaxes are
// supported, from most to least specific:
//
//	parameter@device_type:channel_no:paramset_key
//	paramset_key:parameter
//	parameter
func parseUnignoreLine(line string) (*unignoreRule, error) {
	if at := strings.IndexRune(line, '@'); at != -1 {
		parameter := line[:at]
		rest := strings.Split(line[at+1:], ":")
		if parameter == "" || len(rest) != 3 {
			return nil, fmt.Errorf("Invalid un-ignore line: %s", line)
		}
		r := &unignoreRule{parameter: parameter, deviceType: rest[0], paramsetKey: rest[2]}
		if rest[1] == "all" || rest[1] == "" {
			r.anyChannel = true
		} else {
			no, err := strconv.Atoi(rest[1])
			if err != nil || no < 0 {
				return nil, fmt.Errorf("Invalid channel number in un-ignore line: %s", line)
			}
			r.channelNo = no
		}
		if r.paramsetKey != itf.ParamsetValues && r.paramsetKey != itf.ParamsetMaster {
			return nil, fmt.Errorf("Invalid paramset key in un-ignore line: %s", line)
		}
		return r, nil
	}
	if colon := strings.IndexRune(line, ':'); colon != -1 {
		key := line[:colon]
		parameter := line[colon+1:]
		if parameter == "" || (key != itf.ParamsetValues && key != itf.ParamsetMaster) {
			return nil, fmt.Errorf("Invalid un-ignore line: %s", line)
		}
		return &unignoreRule{parameter: parameter, anyChannel: true, paramsetKey: key}, nil
	}
	if strings.ContainsAny(line, " \t") {
		return nil, fmt.Errorf("Invalid un-ignore line: %s", line)
	}
	return &unignoreRule{parameter: line, anyChannel: true, paramsetKey: itf.ParamsetValues}, nil
}

// VisibilityCache decides which parameters become entities. The built-in
// tables can be extended by a user supplied un-ignore file in the storage
// directory. All decisions are pure functions of the tables, so repeated calls
// always return the same result.
type VisibilityCache struct {
	storageDir string

	mtx      sync.RWMutex
	unignore []*unignoreRule
}

// NewVisibilityCache creates a VisibilityCache.
func NewVisibilityCache(storageDir string) *VisibilityCache {
	return &VisibilityCache{storageDir: storageDir}
}

// Load reads the un-ignore file. A missing file is not an error. An invalid
// line fails the load; visibility must not silently differ from the user's
// intent.
func (v *VisibilityCache) Load() error {
	path := filepath.Join(v.storageDir, unignoreFileName)
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return &itf.ConfigError{Message: fmt.Sprintf("Reading of un-ignore file %s failed: %v", path, err)}
	}
	defer file.Close()

	var rules []*unignoreRule
	scn := bufio.NewScanner(file)
	lineNo := 0
	for scn.Scan() {
		lineNo++
		line := strings.TrimSpace(scn.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		r, err := parseUnignoreLine(line)
		if err != nil {
			return &itf.ConfigError{Message: fmt.Sprintf("Un-ignore file %s, line %d: %v", path, lineNo, err)}
		}
		rules = append(rules, r)
	}
	if err = scn.Err(); err != nil {
		return &itf.ConfigError{Message: fmt.Sprintf("Reading of un-ignore file %s failed: %v", path, err)}
	}
	v.mtx.Lock()
	v.unignore = rules
	v.mtx.Unlock()
	log.Debugf("Loaded %d un-ignore rules from %s", len(rules), path)
	return nil
}

// isUnignored reports whether a user rule or the built-in un-ignore table
// promotes the parameter.
func (v *VisibilityCache) isUnignored(deviceType string, channelNo int, paramsetKey, parameter string) bool {
	v.mtx.RLock()
	defer v.mtx.RUnlock()
	for _, r := range v.unignore {
		if r.matches(deviceType, channelNo, paramsetKey, parameter) {
			return true
		}
	}
	if paramsetKey == itf.ParamsetValues {
		for _, prefix := range unignoreByDevice[parameter] {
			if strings.HasPrefix(strings.ToUpper(deviceType), strings.ToUpper(prefix)) {
				return true
			}
		}
	}
	return false
}

// ParameterIsIgnored decides whether no entity is created for the parameter.
// The rules are checked in a fixed order; the first match wins.
func (v *VisibilityCache) ParameterIsIgnored(deviceType string, channelNo int, paramsetKey, parameter string) bool {
	// 1. explicit un-ignore wins over everything
	if v.isUnignored(deviceType, channelNo, paramsetKey, parameter) {
		return false
	}
	if paramsetKey == itf.ParamsetValues {
		// 2. universal ignore set
		if universalIgnore[parameter] {
			return true
		}
		// 3. wildcard families
		for _, s := range ignoreSuffixes {
			if strings.HasSuffix(parameter, s) {
				return true
			}
		}
		for _, p := range ignorePrefixes {
			if strings.HasPrefix(parameter, p) {
				return true
			}
		}
		// 4. device specific ignore
		for _, prefix := range ignoreByDevice[parameter] {
			if strings.HasPrefix(strings.ToUpper(deviceType), strings.ToUpper(prefix)) {
				return true
			}
		}
		// 5. parameter is bound to one channel
		if no, ok := acceptOnlyOnChannel[parameter]; ok && no != channelNo {
			return true
		}
		return false
	}
	if paramsetKey == itf.ParamsetMaster {
		// 6. MASTER parameters need an explicit entry
		for _, r := range relevantMasterParams[parameter] {
			if !strings.HasPrefix(strings.ToUpper(deviceType), strings.ToUpper(r.devicePrefix)) {
				continue
			}
			for _, no := range r.channels {
				if no == channelNo {
					return false
				}
			}
		}
		return true
	}
	// LINK and unknown paramsets never become entities
	return true
}

// ParameterIsHidden reports whether the entity starts as non-default-visible.
// An un-ignored parameter is never hidden.
func (v *VisibilityCache) ParameterIsHidden(deviceType string, channelNo int, paramsetKey, parameter string) bool {
	if !hiddenParameters[parameter] {
		return false
	}
	return !v.isUnignored(deviceType, channelNo, paramsetKey, parameter)
}

// RelevantParamsets returns the paramset keys that are inspected for entity
// creation.
func RelevantParamsets() []string {
	return []string{itf.ParamsetValues, itf.ParamsetMaster}
}
