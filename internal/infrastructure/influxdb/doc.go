// Package influxdb mirrors sensor readings and resource usage to InfluxDB
// for long-range analytics.
//
// SQLite remains the source of truth; this package is a best-effort sink.
// Writes are batched and asynchronous, and every write helper silently
// no-ops when the connection is down, so the control path never blocks on
// the time-series store.
package influxdb
