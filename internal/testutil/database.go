package testutil

import (
	"database/sql"
	"fmt"
	"os"
	"testing"
	"time"

	_ "github.com/lib/pq"
)

// SetupTestDB creates a connection to the test database and ensures the
// intake schema exists. Set TEST_DATABASE_URL to point at a different
// database than the local default.
func SetupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	connStr := os.Getenv("TEST_DATABASE_URL")
	if connStr == "" {
		connStr = "host=localhost port=5432 user=postgres password=postgres dbname=intake_test sslmode=disable"
	}

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}

	if err := db.Ping(); err != nil {
		t.Fatalf("Failed to ping test database: %v", err)
	}

	ensureIntakeSchema(t, db)
	return db
}

// ensureIntakeSchema creates the intake schema tables used by the cleanup
// job if they do not exist yet.
func ensureIntakeSchema(t *testing.T, db *sql.DB) {
	t.Helper()

	statements := []string{
		`CREATE SCHEMA IF NOT EXISTS intake`,
		`CREATE TABLE IF NOT EXISTS intake.entities (
			id TEXT PRIMARY KEY,
			profile JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS intake.form_tokens (
			id TEXT PRIMARY KEY,
			product_id TEXT NOT NULL,
			entity_id TEXT,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS intake.relations (
			id TEXT PRIMARY KEY,
			product_id TEXT NOT NULL,
			entity_id TEXT NOT NULL,
			status TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS intake.corpus_items (
			id TEXT PRIMARY KEY,
			entity_id TEXT NOT NULL REFERENCES intake.entities(id),
			content JSONB NOT NULL DEFAULT '{}'
		)`,
		`CREATE TABLE IF NOT EXISTS intake.job_runs (
			run_id TEXT PRIMARY KEY,
			job_name TEXT NOT NULL,
			status TEXT NOT NULL,
			candidates_seen INT NOT NULL DEFAULT 0,
			deleted INT NOT NULL DEFAULT 0,
			skipped_live INT NOT NULL DEFAULT 0,
			errors INT NOT NULL DEFAULT 0,
			message TEXT NOT NULL DEFAULT '',
			finished_at TIMESTAMPTZ NOT NULL
		)`,
	}

	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("Failed to ensure intake schema: %v", err)
		}
	}
}

// CleanupTestDB removes all test data from the intake schema.
func CleanupTestDB(t *testing.T, db *sql.DB) {
	t.Helper()

	_, err := db.Exec(`TRUNCATE TABLE intake.corpus_items, intake.relations, intake.form_tokens, intake.entities, intake.job_runs`)
	if err != nil {
		t.Logf("Warning: Failed to clean up intake tables: %v", err)
	}
}

// CreateTestEntity inserts an entity row.
func CreateTestEntity(t *testing.T, db *sql.DB, id string) {
	t.Helper()
	_, err := db.Exec(`INSERT INTO intake.entities (id) VALUES ($1)`, id)
	if err != nil {
		t.Fatalf("Failed to create test entity %s: %v", id, err)
	}
}

// CreateTestToken inserts a form token. entityID may be empty for a session
// that never created an entity.
func CreateTestToken(t *testing.T, db *sql.DB, id, productID, entityID string, createdAt time.Time) {
	t.Helper()
	var entity interface{}
	if entityID != "" {
		entity = entityID
	}
	_, err := db.Exec(
		`INSERT INTO intake.form_tokens (id, product_id, entity_id, created_at) VALUES ($1, $2, $3, $4)`,
		id, productID, entity, createdAt,
	)
	if err != nil {
		t.Fatalf("Failed to create test token %s: %v", id, err)
	}
}

// CreateTestRelationship inserts a relationship row.
func CreateTestRelationship(t *testing.T, db *sql.DB, id, productID, entityID, status string, createdAt time.Time) {
	t.Helper()
	_, err := db.Exec(
		`INSERT INTO intake.relations (id, product_id, entity_id, status, created_at) VALUES ($1, $2, $3, $4, $5)`,
		id, productID, entityID, status, createdAt,
	)
	if err != nil {
		t.Fatalf("Failed to create test relationship %s: %v", id, err)
	}
}

// CreateTestCorpusItem inserts a corpus item owned by the given entity.
func CreateTestCorpusItem(t *testing.T, db *sql.DB, id, entityID string) {
	t.Helper()
	_, err := db.Exec(
		`INSERT INTO intake.corpus_items (id, entity_id) VALUES ($1, $2)`,
		id, entityID,
	)
	if err != nil {
		t.Fatalf("Failed to create test corpus item %s: %v", id, err)
	}
}

// CountRows returns the number of rows in the given intake table matching
// the id column filter, or all rows when id is empty.
func CountRows(t *testing.T, db *sql.DB, table, idColumn, id string) int {
	t.Helper()
	var count int
	var err error
	if id == "" {
		err = db.QueryRow(fmt.Sprintf(`SELECT COUNT(*) FROM intake.%s`, table)).Scan(&count)
	} else {
		err = db.QueryRow(fmt.Sprintf(`SELECT COUNT(*) FROM intake.%s WHERE %s = $1`, table, idColumn), id).Scan(&count)
	}
	if err != nil {
		t.Fatalf("Failed to count rows in %s: %v", table, err)
	}
	return count
}
