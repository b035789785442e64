// Package mqtt wraps the paho client with the connection handling the relay needs: a bounded
// exponential-backoff connect, subscriptions that survive reconnects, and publish calls that
// wait for the client's delivery token under a context.
//
// Topics used by the pump controllers:
//
//	<prefix>/<pump-id>/telemetry   controller -> relay, JSON reading
//	<prefix>/<pump-id>/control     relay -> controller, {"command":"START"|"STOP","timestamp":...}
//
// Example:
//
//	mosquitto_pub -t caracas/pumps/1/telemetry -m '{"water_level_percent":75.5,"current_amps":12.3,"current_inflow_rate":145.8,"street_flow_status":"FLOWING"}'
//	mosquitto_sub -t 'caracas/pumps/+/control'
package mqtt
