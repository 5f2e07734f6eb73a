// Package database provides the local SQLite database used to persist
// in-flight MQTT packets across restarts.
//
// This package manages:
//   - Database connection with optional WAL mode
//   - Forward-only schema migrations read from an fs.FS
//   - File permissions and lifecycle
//
// Security Considerations:
//   - All queries use parameterised statements
//   - Database file permissions are set to 0600 (owner read/write only)
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: cfg.Store.Path, WALMode: true})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrationsFS); err != nil {
//	    log.Fatal(err)
//	}
package database
