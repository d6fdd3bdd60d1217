// Package mqtt provides the bridge's MQTT broker connectivity.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Publishing with a bounded acknowledgement wait
//   - Topic subscriptions, restored after every reconnect
//   - The bridge status topic and its Last Will
//
// # Topic layout
//
//	{prefix}/{serial}/{property}          retained device state
//	{prefix}/{serial}/{property}/set      device commands
//	{prefix}/bridge/status                online / offline (LWT)
//	{prefix}/bridge/health                retained health report
//	{discovery}/{component}/{node}/{object}/config
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	topics := mqtt.NewTopics(cfg.MQTT.Topics.Prefix, cfg.MQTT.Topics.DiscoveryPrefix)
//	err = client.PublishRetained(topics.DeviceState(serial, "battery"), []byte("87"))
package mqtt
