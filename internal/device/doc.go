// Package device is the authority over the four fixed actuators: fan,
// irrigation, lighting and fertilizer.
//
// Every state transition flows through the Registry, regardless of
// origin. Dashboard commands and automation decisions use Toggle, which
// persists first and commands the actuator second, rolling back on
// delivery failure. Hardware-originated state reports use
// ApplyFieldReport, which reconciles without re-commanding.
//
// A device's OperationStartTime is non-nil exactly while it runs; the
// off transition closes the run and charges its energy and water use to
// the resource accountant.
package device
