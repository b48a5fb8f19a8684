package device

import "errors"

// Sentinel errors for device operations.
var (
	// ErrDeviceNotFound indicates the named device does not exist.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrNotInAutoMode indicates a hardware field report arrived for a
	// device under manual control and was not applied.
	ErrNotInAutoMode = errors.New("device: not in auto mode")

	// ErrCommunication indicates the command could not be delivered to the
	// actuator. State has been rolled back to the pre-command values.
	ErrCommunication = errors.New("device: communication with actuator failed")

	// ErrIrrigationRunning blocks switching irrigation to manual while the
	// valve is open. The running cycle must finish under automation first.
	ErrIrrigationRunning = errors.New("device: irrigation cycle in progress")
)
