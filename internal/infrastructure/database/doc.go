// Package database provides SQLite connectivity for Verdant Core.
//
// It wraps database/sql with WAL-mode configuration, a single-writer
// connection pool suited to SQLite, health checks, and embedded schema
// migrations applied at startup.
//
// # Usage
//
//	db, err := database.Open(ctx, database.Config{
//	    Path:        "./data/verdant.db",
//	    WALMode:     true,
//	    BusyTimeout: 5,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// Migrations are embedded by the top-level migrations package; importing it
// for side effects registers the SQL files with this package.
package database
