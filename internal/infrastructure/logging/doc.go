// Package logging provides structured logging for Verdant Core.
//
// It wraps log/slog with the configuration surface of the rest of the
// system: level filtering, JSON or text output, and default service/version
// attributes on every record.
//
// Components should accept their own minimal Logger interface and receive a
// *logging.Logger (or a With()-derived child) at construction time rather
// than importing this package directly, so they stay testable with fakes.
package logging
