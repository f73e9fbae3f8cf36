package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteStateMetric records one numeric receiver state value.
//
// The write is non-blocking; data is batched and sent asynchronously.
//
// Example:
//
//	client.WriteStateMetric("volume", 35)
//	client.WriteStateMetric("bass_eq", -2)
func (c *Client) WriteStateMetric(field string, value float64) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"avr_state",
		map[string]string{
			"field": field,
		},
		map[string]interface{}{
			"value": value,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteConnectionEvent records a connection lifecycle transition
// (connected, disconnected, limited_control).
func (c *Client) WriteConnectionEvent(event string) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"avr_connection",
		map[string]string{
			"event": event,
		},
		map[string]interface{}{
			"value": 1,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteLinkStats records control channel counters for connection quality
// trending (frames, errors, retries, reconnects).
func (c *Client) WriteLinkStats(fields map[string]interface{}) {
	if !c.IsConnected() || len(fields) == 0 {
		return
	}

	point := write.NewPoint("avr_link", nil, fields, time.Now())
	c.writeAPI.WritePoint(point)
}
