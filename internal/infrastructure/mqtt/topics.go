package mqtt

import (
	"fmt"
	"strings"
)

// Default topic roots, used when the configuration leaves them empty.
const (
	DefaultPrefix          = "eufy"
	DefaultDiscoveryPrefix = "homeassistant"
)

// Status payloads published on the bridge status topic. The same strings
// are used as Home Assistant availability payloads.
const (
	PayloadOnline  = "online"
	PayloadOffline = "offline"
)

// Topics provides builders for the bridge's MQTT topics.
// Using these helpers keeps topic naming consistent across publisher,
// orchestrator and health reporter.
//
//	topics := mqtt.NewTopics("eufy", "homeassistant")
//	topics.DeviceState("T8010P1234", "guard_mode")
//	// Returns: "eufy/T8010P1234/guard_mode"
type Topics struct {
	Prefix          string
	DiscoveryPrefix string
}

// NewTopics returns a Topics builder, substituting defaults for empty roots.
func NewTopics(prefix, discoveryPrefix string) Topics {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if discoveryPrefix == "" {
		discoveryPrefix = DefaultDiscoveryPrefix
	}
	return Topics{
		Prefix:          strings.TrimSuffix(prefix, "/"),
		DiscoveryPrefix: strings.TrimSuffix(discoveryPrefix, "/"),
	}
}

// =============================================================================
// Device Topics
// =============================================================================

// DeviceState returns the retained state topic of one device property.
//
// Example: eufy/T8010P1234/guard_mode
func (t Topics) DeviceState(serial, property string) string {
	return fmt.Sprintf("%s/%s/%s", t.Prefix, serial, property)
}

// DeviceCommand returns the command topic of one device property.
//
// Example: eufy/T8010P1234/guard_mode/set
func (t Topics) DeviceCommand(serial, property string) string {
	return fmt.Sprintf("%s/%s/%s/set", t.Prefix, serial, property)
}

// DeviceAvailability returns the retained online/offline topic of a device.
//
// Example: eufy/T8010P1234/availability
func (t Topics) DeviceAvailability(serial string) string {
	return fmt.Sprintf("%s/%s/availability", t.Prefix, serial)
}

// ParseDeviceCommand extracts the serial and property from a command topic.
// It reports false when topic is not a command topic under this prefix.
func (t Topics) ParseDeviceCommand(topic string) (serial, property string, ok bool) {
	rest, found := strings.CutPrefix(topic, t.Prefix+"/")
	if !found {
		return "", "", false
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 3 || parts[2] != "set" || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	if parts[0] == bridgeSegment {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// =============================================================================
// Bridge Topics
// =============================================================================

// bridgeSegment is reserved under the prefix for the bridge's own topics.
const bridgeSegment = "bridge"

// BridgeStatus returns the retained online/offline topic. It doubles as the
// Last Will topic and as the availability topic of every discovered entity.
//
// Example: eufy/bridge/status
func (t Topics) BridgeStatus() string {
	return fmt.Sprintf("%s/%s/status", t.Prefix, bridgeSegment)
}

// BridgeHealth returns the retained health report topic.
//
// Example: eufy/bridge/health
func (t Topics) BridgeHealth() string {
	return fmt.Sprintf("%s/%s/health", t.Prefix, bridgeSegment)
}

// =============================================================================
// Discovery Topics
// =============================================================================

// Discovery returns the Home Assistant discovery config topic for one entity.
//
// Example: homeassistant/alarm_control_panel/eufy-bridge_T8010P1234/guard_mode/config
func (t Topics) Discovery(component, nodeID, objectID string) string {
	return fmt.Sprintf("%s/%s/%s/%s/config", t.DiscoveryPrefix, component, nodeID, objectID)
}

// HomeAssistantStatus returns the topic Home Assistant announces its
// own birth and will messages on.
//
// Example: homeassistant/status
func (t Topics) HomeAssistantStatus() string {
	return t.DiscoveryPrefix + "/status"
}

// =============================================================================
// Wildcard Patterns for Subscriptions
// =============================================================================

// AllDeviceCommands returns a pattern matching every device command topic.
//
// Pattern: eufy/+/+/set
func (t Topics) AllDeviceCommands() string {
	return t.Prefix + "/+/+/set"
}
