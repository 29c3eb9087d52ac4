package parrot

import (
	"database/sql"
	"fmt"
	"os"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// checkpointThreadIDs reads the distinct thread ids from the external
// conversation-checkpoint database. The router uses them at startup to
// make sure session counters stay ahead of any thread suffix already on
// disk (e.g. after restoring from a backup). A missing database means no
// checkpoints yet.
func checkpointThreadIDs(dbPath string) ([]string, error) {
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		return nil, nil
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("checkpoints %s: %w", dbPath, err)
	}
	defer db.Close()

	rows, err := db.Query(`SELECT DISTINCT thread_id FROM checkpoints`)
	if err != nil {
		return nil, fmt.Errorf("checkpoints %s: %w", dbPath, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("checkpoints %s: %w", dbPath, err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
