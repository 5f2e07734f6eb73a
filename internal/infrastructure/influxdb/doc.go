// Package influxdb records MQTT delivery telemetry in InfluxDB.
//
// It wraps the official influxdb-client-go v2 library. *Client implements
// iotclient.Recorder, so handing it to iotclient.WithRecorder records every
// publish outcome, inbound message and session state change.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB, influxdb.WithDefaultTag("client_id", id))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	iot := iotclient.New(conn, iotclient.WithRecorder(client))
//
// # Thread Safety
//
// All methods are safe for concurrent use. Writes are non-blocking and
// batched according to batch_size and flush_interval; write errors arrive
// through the SetOnError callback.
package influxdb
