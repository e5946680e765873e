// Package database provides the SQLite connection used by the settings store.
//
// The bridge keeps no device state of its own on disk; the database only
// backs the platform settings store (address, zone labels, enabled flags,
// exclusive mode) so that paired switches survive a restart.
//
// # Usage
//
//	db, err := database.Open(ctx, database.Config{Path: "./data/audioflow.db", WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
package database
