package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteSensorReading mirrors a single environmental reading.
//
// The write is non-blocking; data is batched and sent asynchronously.
//
// Example:
//
//	client.WriteSensorReading("temperature", 23.5, "C", reading.Timestamp)
func (c *Client) WriteSensorReading(sensorType string, value float64, unit string, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"sensor_readings",
		map[string]string{
			"sensor_type": sensorType,
			"unit":        unit,
		},
		map[string]interface{}{
			"value": value,
		},
		timestamp,
	)

	c.writeAPI.WritePoint(point)
}

// WriteResourceUsage mirrors a completed device operation's consumption.
//
// One point per operation, tagged by device name, stamped with the time
// the operation ended. Water is zero for non-irrigation devices.
func (c *Client) WriteResourceUsage(device string, energyKWh, waterLiters float64, endedAt time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"resource_usage",
		map[string]string{
			"device": device,
		},
		map[string]interface{}{
			"energy_kwh":   energyKWh,
			"water_liters": waterLiters,
		},
		endedAt,
	)

	c.writeAPI.WritePoint(point)
}

// WriteDeviceState mirrors a device state transition for on/off timelines.
func (c *Client) WriteDeviceState(device string, status bool, autoMode bool, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	statusValue := 0
	if status {
		statusValue = 1
	}

	point := write.NewPoint(
		"device_state",
		map[string]string{
			"device": device,
		},
		map[string]interface{}{
			"status":    statusValue,
			"auto_mode": autoMode,
		},
		timestamp,
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point for measurements that do not fit the
// helper methods.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, timestamp))
}
