package publisher

import (
	"encoding/json"
	"strings"

	"github.com/nerrad567/eufy-bridge/internal/device"
	"github.com/nerrad567/eufy-bridge/internal/infrastructure/mqtt"
)

// Home Assistant entity components.
const (
	componentBinarySensor = "binary_sensor"
	componentSensor       = "sensor"
	componentSwitch       = "switch"
	componentSelect       = "select"
)

const manufacturer = "Eufy"

// guardModeOptions are the selectable guard modes, as published.
var guardModeOptions = []string{"0", "1", "2", "47", "63"}

// discoveryConfig is a Home Assistant MQTT discovery payload.
type discoveryConfig struct {
	Name              string          `json:"name"`
	UniqueID          string          `json:"unique_id"`
	StateTopic        string          `json:"state_topic"`
	CommandTopic      string          `json:"command_topic,omitempty"`
	AvailabilityTopic string          `json:"availability_topic"`
	PayloadAvailable  string          `json:"payload_available"`
	PayloadNotAvail   string          `json:"payload_not_available"`
	PayloadOn         string          `json:"payload_on,omitempty"`
	PayloadOff        string          `json:"payload_off,omitempty"`
	StateOn           string          `json:"state_on,omitempty"`
	StateOff          string          `json:"state_off,omitempty"`
	Options           []string        `json:"options,omitempty"`
	DeviceClass       string          `json:"device_class,omitempty"`
	UnitOfMeasurement string          `json:"unit_of_measurement,omitempty"`
	StateClass        string          `json:"state_class,omitempty"`
	EntityCategory    string          `json:"entity_category,omitempty"`
	Device            discoveryDevice `json:"device"`
}

type discoveryDevice struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Model        string   `json:"model,omitempty"`
	Manufacturer string   `json:"manufacturer"`
	SWVersion    string   `json:"sw_version,omitempty"`
	ViaDevice    string   `json:"via_device,omitempty"`
}

// entity describes how one property is exposed.
type entity struct {
	component   string
	deviceClass string
	unit        string
	stateClass  string
	category    string
	commandable bool
}

// entities maps standard properties to their Home Assistant entity.
// The online property is exposed as availability, not as an entity.
var entities = map[string]entity{
	device.PropBattery:         {component: componentSensor, deviceClass: "battery", unit: "%", stateClass: "measurement"},
	device.PropWifiRSSI:        {component: componentSensor, deviceClass: "signal_strength", unit: "dBm", stateClass: "measurement", category: "diagnostic"},
	device.PropFirmware:        {component: componentSensor, category: "diagnostic"},
	device.PropGuardMode:       {component: componentSelect, commandable: true},
	device.PropArmed:           {component: componentBinarySensor, deviceClass: "safety"},
	device.PropMotion:          {component: componentBinarySensor, deviceClass: "motion"},
	device.PropPersonDetected:  {component: componentBinarySensor, deviceClass: "occupancy"},
	device.PropOpen:            {component: componentBinarySensor, deviceClass: "door"},
	device.PropLocked:          {component: componentBinarySensor, deviceClass: "lock"},
	device.PropCharging:        {component: componentBinarySensor, deviceClass: "battery_charging"},
	device.PropMotionDetection: {component: componentSwitch, commandable: true, category: "config"},
	device.PropStatusLED:       {component: componentSwitch, commandable: true, category: "config"},
}

// entityFor returns the entity of a property. Properties outside the
// table are exposed read-only by their value type.
func entityFor(name string, v device.Value) (entity, bool) {
	if name == device.PropOnline {
		return entity{}, false
	}
	if e, ok := entities[name]; ok {
		return e, true
	}
	if v.Type() == device.TypeBool {
		return entity{component: componentBinarySensor}, true
	}
	return entity{component: componentSensor}, true
}

// nodeID is the discovery node of a device under this bridge.
func nodeID(bridgeID, serial string) string {
	return bridgeID + "_" + serial
}

// discoveryMessage is one discovery config topic and payload.
type discoveryMessage struct {
	topic   string
	payload []byte
}

// buildDiscovery returns the discovery messages of every property of rec.
func buildDiscovery(topics mqtt.Topics, bridgeID string, rec device.Record) ([]discoveryMessage, error) {
	dev := discoveryDevice{
		Identifiers:  []string{rec.Serial},
		Name:         rec.Name,
		Model:        rec.Model,
		Manufacturer: manufacturer,
	}
	if fw, ok := rec.Get(device.PropFirmware); ok {
		dev.SWVersion = fw.Str()
	}
	if rec.StationSerial != "" && rec.StationSerial != rec.Serial {
		dev.ViaDevice = rec.StationSerial
	}
	if dev.Name == "" {
		dev.Name = rec.Serial
	}

	node := nodeID(bridgeID, rec.Serial)
	var msgs []discoveryMessage
	for _, name := range rec.PropertyNames() {
		v, _ := rec.Get(name)
		e, ok := entityFor(name, v)
		if !ok {
			continue
		}

		cfg := discoveryConfig{
			Name:              humanize(name),
			UniqueID:          node + "_" + name,
			StateTopic:        topics.DeviceState(rec.Serial, name),
			AvailabilityTopic: topics.DeviceAvailability(rec.Serial),
			PayloadAvailable:  mqtt.PayloadOnline,
			PayloadNotAvail:   mqtt.PayloadOffline,
			DeviceClass:       e.deviceClass,
			UnitOfMeasurement: e.unit,
			StateClass:        e.stateClass,
			EntityCategory:    e.category,
			Device:            dev,
		}
		if e.commandable && rec.Supported {
			cfg.CommandTopic = topics.DeviceCommand(rec.Serial, name)
		}
		switch e.component {
		case componentBinarySensor:
			cfg.PayloadOn, cfg.PayloadOff = "true", "false"
		case componentSwitch:
			cfg.PayloadOn, cfg.PayloadOff = "1", "0"
			cfg.StateOn, cfg.StateOff = "true", "false"
		case componentSelect:
			cfg.Options = guardModeOptions
		}

		payload, err := json.Marshal(cfg)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, discoveryMessage{
			topic:   topics.Discovery(e.component, node, name),
			payload: payload,
		})
	}
	return msgs, nil
}

// humanize turns a property name into an entity name: "status_led" -> "Status led".
func humanize(name string) string {
	s := strings.ReplaceAll(name, "_", " ")
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
