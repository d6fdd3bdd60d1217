package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// PropertyMeasurement is the measurement holding device property history.
const PropertyMeasurement = "device_properties"

// fieldValue converts a property value to the numeric "value" field.
// Booleans become 0/1 so they aggregate like any other series. Strings
// and other types have no numeric form.
func fieldValue(v any) (float64, bool) {
	switch x := v.(type) {
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case float64:
		return x, true
	default:
		return 0, false
	}
}

// PropertyPoint builds the point recording one property value at ts.
// It returns nil for values with no numeric representation.
//
// Parameters:
//   - serial: device serial (tag)
//   - model: device model (tag)
//   - property: property name (tag)
//   - value: bool, int, int64 or float64
//   - ts: the property's own timestamp
func PropertyPoint(serial, model, property string, value any, ts time.Time) *write.Point {
	f, ok := fieldValue(value)
	if !ok {
		return nil
	}
	return write.NewPoint(
		PropertyMeasurement,
		map[string]string{
			"serial":   serial,
			"model":    model,
			"property": property,
		},
		map[string]any{
			"value": f,
		},
		ts,
	)
}

// WriteProperty records one property value. Non-numeric values are
// ignored. The write is non-blocking; points are batched.
//
// Example:
//
//	client.WriteProperty("T8113C001", "T8113", "battery", int64(87), ts)
func (c *Client) WriteProperty(serial, model, property string, value any, ts time.Time) bool {
	if !c.IsConnected() {
		return false
	}
	point := PropertyPoint(serial, model, property, value, ts)
	if point == nil {
		return false
	}
	c.writeAPI.WritePoint(point)
	return true
}

// WritePointWithTime writes a custom point with a specific timestamp.
//
// Parameters:
//   - measurement: The measurement name
//   - tags: Key-value pairs for indexing
//   - fields: Key-value pairs for the data
//   - timestamp: The exact time for this data point
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]any, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, timestamp)
	c.writeAPI.WritePoint(point)
}
