// Package mqtt provides MQTT connectivity for the Gray Logic Audioflow bridge.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) on the bridge health topic
//
// # Architecture
//
// The bridge talks to Gray Logic Core exclusively over MQTT:
//
//	Audioflow switch ↔ (HTTP/UDP) ↔ Audioflow bridge ↔ MQTT broker ↔ Core
//
// Zone events are published on graylogic/event/audioflow/{device}/{kind},
// the zone mirror is retained on graylogic/state/audioflow/{device}, and
// commands arrive on graylogic/command/audioflow/{device}.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.AllCommands(), 1, handleCommand)
//	err = client.PublishJSON(mqtt.Topics{}.State("AF0123456789"), state, true)
package mqtt
