package device

import (
	"maps"
	"slices"
	"time"
)

// Source identifies where a property value came from.
type Source string

// Update sources.
const (
	SourcePoll       Source = "poll"
	SourcePush       Source = "push"
	SourceOptimistic Source = "optimistic"
)

// authoritative reports whether s is a real observation of the device.
func (s Source) authoritative() bool {
	return s == SourcePoll || s == SourcePush
}

// rank orders sources for exact timestamp ties. Push is real-time and
// wins over poll.
func (s Source) rank() int {
	switch s {
	case SourcePush:
		return 2
	case SourcePoll:
		return 1
	default:
		return 0
	}
}

// Standard property names.
const (
	PropBattery         = "battery"
	PropGuardMode       = "guard_mode"
	PropArmed           = "armed"
	PropOnline          = "online"
	PropMotion          = "motion"
	PropPersonDetected  = "person_detected"
	PropOpen            = "open"
	PropLocked          = "locked"
	PropCharging        = "charging"
	PropWifiRSSI        = "wifi_rssi"
	PropMotionDetection = "motion_detection"
	PropStatusLED       = "status_led"
	PropFirmware        = "firmware"
)

// propertySchema fixes the value type of the standard properties.
// Properties not listed take the type of their first observed value.
var propertySchema = map[string]ValueType{
	PropBattery:         TypeInt,
	PropGuardMode:       TypeInt,
	PropArmed:           TypeBool,
	PropOnline:          TypeBool,
	PropMotion:          TypeBool,
	PropPersonDetected:  TypeBool,
	PropOpen:            TypeBool,
	PropLocked:          TypeBool,
	PropCharging:        TypeBool,
	PropWifiRSSI:        TypeInt,
	PropMotionDetection: TypeBool,
	PropStatusLED:       TypeBool,
	PropFirmware:        TypeString,
}

// SchemaType returns the declared type of a standard property.
func SchemaType(name string) (ValueType, bool) {
	t, ok := propertySchema[name]
	return t, ok
}

// Property is one stored property value with its provenance.
type Property struct {
	Value     Value     `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
	Source    Source    `json:"source"`

	// ExpiresAt is set for optimistic values only.
	ExpiresAt time.Time `json:"expires_at,omitzero"`

	// prior is the authoritative value an optimistic value shadows.
	prior *Property
}

// Record is the Directory's view of one device.
type Record struct {
	Serial        string `json:"serial"`
	Name          string `json:"name"`
	Model         string `json:"model"`
	Kind          Kind   `json:"kind"`
	Supported     bool   `json:"supported"`
	StationSerial string `json:"station_serial,omitempty"`

	// Address is the LAN address used by the local command transport.
	Address string `json:"address,omitempty"`

	Properties map[string]Property `json:"properties"`

	// UpdatedAt never moves backwards.
	UpdatedAt time.Time `json:"updated_at"`
	Source    Source    `json:"source,omitempty"`

	// MissedPolls counts consecutive inventories that omitted the device.
	MissedPolls int `json:"missed_polls,omitempty"`
}

// Get returns the value of a property.
func (r *Record) Get(name string) (Value, bool) {
	p, ok := r.Properties[name]
	if !ok {
		return Value{}, false
	}
	return p.Value, true
}

// PropertyNames returns the record's property names in sorted order.
func (r *Record) PropertyNames() []string {
	return slices.Sorted(maps.Keys(r.Properties))
}

// Clone returns an independent copy of the record.
func (r *Record) Clone() Record {
	cpy := *r
	cpy.Properties = make(map[string]Property, len(r.Properties))
	for k, p := range r.Properties {
		if p.prior != nil {
			prior := *p.prior
			p.prior = &prior
		}
		cpy.Properties[k] = p
	}
	return cpy
}

// authoritative returns a copy with every optimistic value replaced by the
// value it shadows, or dropped when it shadows nothing.
func (r *Record) authoritative() Record {
	cpy := r.Clone()
	for k, p := range cpy.Properties {
		if p.Source != SourceOptimistic {
			continue
		}
		if p.prior != nil {
			cpy.Properties[k] = *p.prior
		} else {
			delete(cpy.Properties, k)
		}
	}
	return cpy
}

// InventoryItem is one device as reported by a full cloud inventory.
type InventoryItem struct {
	Serial        string
	Name          string
	Model         string
	StationSerial string
	Address       string
	Properties    map[string]Value
}

// MergeResult describes the effect of a single Merge call.
type MergeResult struct {
	Serial string

	// Changed lists, sorted, the properties whose value changed.
	Changed []string

	// Rejected holds per-property errors (wrapping ErrTypeMismatch).
	Rejected map[string]error
}

// HasChanges reports whether any property value changed.
func (m MergeResult) HasChanges() bool {
	return len(m.Changed) > 0
}

// InventoryResult summarises one UpsertFromInventory call.
type InventoryResult struct {
	Added         []string
	Updated       []string
	MarkedOffline []string
	Unsupported   []string
}

// ChangeEvent is emitted to subscribers after the Directory changes.
type ChangeEvent struct {
	Serial string

	// Changed lists the properties whose value changed. It is empty for
	// metadata-only changes (name, address).
	Changed []string

	// Added is set the first time a serial enters the Directory.
	Added bool

	// Source of the update that caused the event. Expiry of optimistic
	// values is reported as SourceOptimistic; the restored properties keep
	// their own Source.
	Source Source

	// Record is the device snapshot after the change.
	Record Record
}
