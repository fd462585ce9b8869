// Package bridge connects a fleet of WeMo switches to an MQTT broker.
//
// State changes pushed by devices are published as retained messages and
// commands written to set topics drive the switches:
//
//	mosquitto_pub -t wemo/221517K0101769/set -m toggle
//	mosquitto_sub -t 'wemo/+/state' -v
//
// The broker connection uses paho with automatic reconnection. A will
// message flips wemo/bridge/status to offline if the process dies.
package bridge
