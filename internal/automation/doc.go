// Package automation runs the evaluation loop that drives the actuators.
//
// Two triggers feed the loop: a self-rescheduling timer, which fires a
// fixed delay after the previous cycle completes, and inbound telemetry,
// which requests an immediate cycle. A capacity-1 semaphore makes the
// cycle single-flight; a trigger arriving mid-cycle is dropped so event
// bursts coalesce rather than queue.
//
// A cycle evaluates each auto-mode device independently. The fan and
// irrigation follow hysteresis thresholds, lighting follows a daily
// window as an idempotent assertion, and the fertilizer fires a one-shot
// run once its next-due instant has elapsed. All decisions execute
// through the device registry; the controller never mutates device state
// directly and never dies over a cycle error.
package automation
