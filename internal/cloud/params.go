package cloud

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Vendor parameter codes carried in the params list of devices and hubs.
const (
	paramBattery         = 1101
	paramWifiRSSI        = 1142
	paramGuardMode       = 1224
	paramMotionDetection = 1011
	paramStatusLED       = 1013
	paramCharging        = 1138
)

// paramNames maps vendor parameter codes to bridge property names.
var paramNames = map[int]string{
	paramBattery:         "battery",
	paramWifiRSSI:        "wifi_rssi",
	paramGuardMode:       "guard_mode",
	paramMotionDetection: "motion_detection",
	paramStatusLED:       "status_led",
	paramCharging:        "charging",
}

// boolParams are reported as 0/1 integers but exposed as booleans.
var boolParams = map[int]bool{
	paramMotionDetection: true,
	paramStatusLED:       true,
	paramCharging:        true,
}

// guardModeDisarmed is the vendor guard mode meaning "disarmed".
const guardModeDisarmed = 63

// decodeParams converts a vendor params list to bridge properties.
// Unknown codes are ignored.
func decodeParams(params []param, firmware string) map[string]any {
	props := make(map[string]any, len(params)+1)
	for _, p := range params {
		name, ok := paramNames[p.ParamType]
		if !ok {
			continue
		}
		raw := strings.TrimSpace(p.ParamValue)
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			continue
		}
		if boolParams[p.ParamType] {
			props[name] = n != 0
			continue
		}
		props[name] = json.Number(raw)
		if p.ParamType == paramGuardMode {
			props["armed"] = n != guardModeDisarmed
		}
	}
	if firmware != "" {
		props["firmware"] = firmware
	}
	return props
}
