package automation

import "errors"

// Sentinel errors for the control loop.
var (
	// ErrDevicesMissing indicates the provisioning invariant is broken:
	// one or more of the four actuators has no registry row.
	ErrDevicesMissing = errors.New("automation: devices missing from registry")

	// ErrInvalidSensorData indicates a non-finite reading reached the
	// evaluation step. The cycle aborts; the next one proceeds normally.
	ErrInvalidSensorData = errors.New("automation: invalid sensor data")

	// ErrAlreadyRunning is returned by Start when the loop is active.
	ErrAlreadyRunning = errors.New("automation: controller already running")
)
