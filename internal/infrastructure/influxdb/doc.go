// Package influxdb records device property history in InfluxDB.
//
// It wraps the official influxdb-client-go v2 library. Every numeric or
// boolean property change becomes one point in the device_properties
// measurement, tagged by serial, model and property, stamped with the
// property's own timestamp rather than the write time.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteProperty("T8113C001", "T8113", "battery", int64(87), ts)
//
// # Error Handling
//
// Writes are non-blocking and batched according to batch_size and
// flush_interval. Batch failures are delivered to the SetOnError callback;
// connection and health check errors are returned directly.
package influxdb
