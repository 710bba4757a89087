package backend

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"crmsync/backend/sqlite"
	"crmsync/internal/utils"

	_ "modernc.org/sqlite" // SQLite driver
)

// Database is the SQLite handle shared by the store and the queue.
type Database struct {
	*sql.DB
	path string
}

// InitDatabase opens (creating if needed) the database file and brings the
// schema up to date. An empty path selects $XDG_DATA_HOME/crmsync/crmsync.db.
func InitDatabase(customPath string) (*Database, error) {
	dbPath, err := getDatabasePath(customPath)
	if err != nil {
		return nil, fmt.Errorf("failed to get database path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection serializes writers; transactions must only use their tx.
	db.SetMaxOpenConns(1)

	database := &Database{DB: db, path: dbPath}
	if err := database.initializeSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return database, nil
}

func getDatabasePath(customPath string) (string, error) {
	if customPath != "" {
		return customPath, nil
	}
	dir, err := utils.DataDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(dir, "crmsync.db"), nil
}

// initializeSchema applies pragmas, then tables, then indexes. Every
// statement is idempotent so this runs on each open.
func (db *Database) initializeSchema() error {
	steps := []struct {
		what  string
		stmts []string
	}{
		{"execute pragma", sqlite.PragmaStatements()},
		{"create table", sqlite.AllTableSchemas()},
		{"create index", sqlite.AllIndexes()},
	}
	for _, step := range steps {
		for _, stmt := range step.stmts {
			if _, err := db.Exec(stmt); err != nil {
				return fmt.Errorf("failed to %s: %w", step.what, err)
			}
		}
	}

	if err := db.recordSchemaVersion(); err != nil {
		return fmt.Errorf("failed to record schema version: %w", err)
	}
	return nil
}

func (db *Database) recordSchemaVersion() error {
	_, err := db.Exec(
		"INSERT OR IGNORE INTO schema_version (version, applied_at) VALUES (?, ?)",
		sqlite.SchemaVersion,
		time.Now().Unix(),
	)
	return err
}

// GetSchemaVersion returns the current schema version from the database
func (db *Database) GetSchemaVersion() (int, error) {
	var version int
	err := db.QueryRow("SELECT MAX(version) FROM schema_version").Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to get schema version: %w", err)
	}
	return version, nil
}

// Path returns the filesystem path to the database file
func (db *Database) Path() string {
	return db.path
}

// Vacuum runs VACUUM to optimize the database
func (db *Database) Vacuum() error {
	_, err := db.Exec("VACUUM")
	return err
}

// GetStats returns basic database statistics
func (db *Database) GetStats() (DatabaseStats, error) {
	stats := DatabaseStats{
		Entities: make(map[Kind]int),
	}

	for _, kind := range AllKinds() {
		var count, pending int
		query := fmt.Sprintf("SELECT COUNT(*), COALESCE(SUM(sync_status != 'synced'), 0) FROM %s", collections[kind].table)
		if err := db.QueryRow(query).Scan(&count, &pending); err != nil {
			return stats, fmt.Errorf("failed to count %s: %w", collections[kind].table, err)
		}
		stats.Entities[kind] = count
		stats.PendingEntities += pending
	}

	err := db.QueryRow(`
		SELECT
			COALESCE(SUM(status = 'pending'), 0),
			COALESCE(SUM(status = 'processing'), 0),
			COALESCE(SUM(status = 'failed'), 0)
		FROM sync_queue
	`).Scan(&stats.Queue.Pending, &stats.Queue.Processing, &stats.Queue.Failed)
	if err != nil {
		return stats, fmt.Errorf("failed to count sync queue: %w", err)
	}

	fileInfo, err := os.Stat(db.path)
	if err != nil {
		return stats, fmt.Errorf("failed to stat database file: %w", err)
	}
	stats.DatabaseSize = fileInfo.Size()

	return stats, nil
}

// DatabaseStats holds statistics about the database
type DatabaseStats struct {
	Entities        map[Kind]int `json:"entities" yaml:"entities"`
	PendingEntities int          `json:"pendingEntities" yaml:"pendingEntities"`
	Queue           QueueCounts  `json:"queue" yaml:"queue"`
	DatabaseSize    int64        `json:"databaseSize" yaml:"databaseSize"` // in bytes
}

// String returns a human-readable representation of database statistics
func (s DatabaseStats) String() string {
	parts := make([]string, 0, len(s.Entities))
	for _, kind := range AllKinds() {
		parts = append(parts, fmt.Sprintf("%s: %d", collections[kind].table, s.Entities[kind]))
	}
	sizeMB := float64(s.DatabaseSize) / (1024 * 1024)
	return fmt.Sprintf(
		"%s | Queue: %d pending, %d failed | Size: %.2f MB",
		strings.Join(parts, " | "), s.Queue.Pending+s.Queue.Processing, s.Queue.Failed, sizeMB,
	)
}
