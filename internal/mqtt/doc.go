// Package mqtt forwards agent lifecycle events to an MQTT broker.
//
// The forwarder uses Eclipse Paho v2's [autopaho] package for connection
// management with automatic reconnection. Each event from the bus is
// published as JSON to {topic}/{source}/{kind}. On every (re-)connect a
// retained "online" message is published to {topic}/availability; a will
// message flips it to "offline" on unexpected disconnects. Token usage
// for the current day is published, retained, to {topic}/tokens_today.
package mqtt
