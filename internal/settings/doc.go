// Package settings holds the installation's automation preferences: the
// hysteresis thresholds, the lighting window and the fertilizer schedule.
//
// Preferences are a singleton row in SQLite, seeded with defaults by the
// initial migration. The automation controller reads them fresh at the
// start of every evaluation cycle, so an update takes effect on the next
// cycle without a restart.
package settings
