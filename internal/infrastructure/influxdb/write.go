package influxdb

import (
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/offload-core/internal/events"
)

// Measurement names.
const (
	MeasurementDispatch  = "dispatch"
	MeasurementLifecycle = "lifecycle"
	MeasurementQueue     = "queue"
	MeasurementDevice    = "device_queue"
)

// Emit records a dispatch or lifecycle event. It implements events.Sink and
// never blocks: points are buffered and sent by the write API.
//
// Dispatch-type events go to the "dispatch" measurement, tagged by kind,
// device and worker, with duration_us and failed fields. Lifecycle events go
// to "lifecycle" tagged by state.
func (c *Client) Emit(ev events.Event) {
	if !c.IsConnected() {
		return
	}

	if ev.Kind == events.KindLifecycle {
		c.writeAPI.WritePoint(write.NewPoint(
			MeasurementLifecycle,
			map[string]string{"state": ev.State},
			map[string]interface{}{"value": 1},
			ev.Time,
		))
		return
	}

	tags := map[string]string{"kind": string(ev.Kind)}
	if ev.Device >= 0 {
		tags["device"] = strconv.Itoa(ev.Device)
	}
	if ev.Worker >= 0 {
		tags["worker"] = strconv.Itoa(ev.Worker)
	}

	c.writeAPI.WritePoint(write.NewPoint(
		MeasurementDispatch,
		tags,
		map[string]interface{}{
			"duration_us": ev.Duration.Microseconds(),
			"failed":      ev.Error != "",
		},
		ev.Time,
	))
}

// WriteQueueStats records message queue depth and the outstanding count of
// each device queue.
func (c *Client) WriteQueueStats(depth, waiting int, outstanding []int64) {
	if !c.IsConnected() {
		return
	}

	now := time.Now()
	c.writeAPI.WritePoint(write.NewPoint(
		MeasurementQueue,
		nil,
		map[string]interface{}{
			"depth":   depth,
			"waiting": waiting,
		},
		now,
	))
	for i, n := range outstanding {
		c.writeAPI.WritePoint(write.NewPoint(
			MeasurementDevice,
			map[string]string{"device": strconv.Itoa(i)},
			map[string]interface{}{"outstanding": n},
			now,
		))
	}
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Example:
//
//	client.WritePoint("host",
//	    map[string]string{"host": "node-01"},
//	    map[string]interface{}{"goroutines": 42})
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
