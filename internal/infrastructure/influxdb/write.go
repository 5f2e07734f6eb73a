package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by the recorder methods.
const (
	MeasurementPublish  = "mqtt_publish"
	MeasurementDelivery = "mqtt_delivery"
	MeasurementStatus   = "mqtt_status"
)

// RecordPublish writes one publish outcome and its latency.
//
// Example line:
//
//	mqtt_publish,outcome=success,qos=qos1,topic=sensors/temp latency_ms=12.5
func (c *Client) RecordPublish(topic, qos, outcome string, latency time.Duration) {
	c.WritePoint(MeasurementPublish,
		map[string]string{
			"topic":   topic,
			"qos":     qos,
			"outcome": outcome,
		},
		map[string]interface{}{
			"latency_ms": float64(latency) / float64(time.Millisecond),
		},
	)
}

// RecordDelivery writes one inbound message and its payload size.
func (c *Client) RecordDelivery(topic, qos string, size int) {
	c.WritePoint(MeasurementDelivery,
		map[string]string{
			"topic": topic,
			"qos":   qos,
		},
		map[string]interface{}{
			"bytes": size,
		},
	)
}

// RecordStatus writes a session state change.
func (c *Client) RecordStatus(clientID, status string) {
	c.WritePoint(MeasurementStatus,
		map[string]string{
			"client_id": clientID,
		},
		map[string]interface{}{
			"status": status,
		},
	)
}

// WritePoint writes a custom point timestamped now. Points are dropped
// while the client is not connected.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	c.WritePointWithTime(measurement, tags, fields, time.Now())
}

// WritePointWithTime writes a custom point with a specific timestamp.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, timestamp)
	c.writeAPI.WritePoint(point)
}
