package device

import "strings"

// Kind classifies a device by what it does.
type Kind string

// Device kinds.
const (
	KindStation  Kind = "station"
	KindCamera   Kind = "camera"
	KindDoorbell Kind = "doorbell"
	KindSensor   Kind = "sensor"
	KindLock     Kind = "lock"
	KindUnknown  Kind = "unknown"
)

// Model describes a vendor hardware model.
type Model struct {
	Code      string
	Name      string
	Kind      Kind
	Supported bool
}

// modelCodeLength is the length of the vendor model prefix, e.g. "T8010"
// for a reported model "T8010N".
const modelCodeLength = 5

// catalog is the closed set of known models.
var catalog = map[string]Model{
	"T8010": {Code: "T8010", Name: "HomeBase", Kind: KindStation, Supported: true},
	"T8002": {Code: "T8002", Name: "HomeBase E", Kind: KindStation, Supported: true},
	"T8113": {Code: "T8113", Name: "eufyCam 2C", Kind: KindCamera, Supported: true},
	"T8114": {Code: "T8114", Name: "eufyCam 2", Kind: KindCamera, Supported: true},
	"T8400": {Code: "T8400", Name: "Indoor Cam", Kind: KindCamera, Supported: true},
	"T8200": {Code: "T8200", Name: "Video Doorbell", Kind: KindDoorbell, Supported: true},
	"T8900": {Code: "T8900", Name: "Entry Sensor", Kind: KindSensor, Supported: true},
	"T8910": {Code: "T8910", Name: "Motion Sensor", Kind: KindSensor, Supported: true},
	"T8520": {Code: "T8520", Name: "Smart Lock", Kind: KindLock, Supported: false},
}

// LookupModel resolves a reported model string to the catalog.
// Unknown models come back with KindUnknown, Supported=false and ok=false.
func LookupModel(reported string) (Model, bool) {
	code := strings.ToUpper(strings.TrimSpace(reported))
	if len(code) > modelCodeLength {
		code = code[:modelCodeLength]
	}
	if m, ok := catalog[code]; ok {
		return m, true
	}
	return Model{Code: reported, Name: "Unknown", Kind: KindUnknown}, false
}
