// Package publisher mirrors the Device Directory onto the MQTT bus.
//
// Each device property is exposed as a Home Assistant entity through
// retained discovery config, and its value is published retained on
// {prefix}/{serial}/{property}. The online property drives the
// {prefix}/{serial}/availability topic instead of an entity.
package publisher
