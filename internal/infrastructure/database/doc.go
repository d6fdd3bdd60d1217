// Package database provides SQLite connectivity and schema migrations
// for the bridge's durable device store.
//
// The database holds the last known directory snapshot so a restart can
// republish retained state before the first cloud fetch completes.
//
// Usage:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// Migrations are embedded by the top-level migrations package and applied
// one transaction per file pair (YYYYMMDD_HHMMSS_name.up.sql / .down.sql).
package database
