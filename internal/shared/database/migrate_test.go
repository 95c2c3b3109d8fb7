package database

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestMigrationFilesOrdered(t *testing.T) {
	files, err := migrationFiles()
	if err != nil {
		t.Fatalf("migrationFiles failed: %v", err)
	}

	if len(files) < 2 {
		t.Fatalf("Expected at least 2 migrations, got %d", len(files))
	}
	if files[0] != "001_initial_schema.sql" {
		t.Errorf("Expected first migration 001_initial_schema.sql, got %s", files[0])
	}
	for i := 1; i < len(files); i++ {
		if files[i-1] >= files[i] {
			t.Errorf("Migrations out of order: %s before %s", files[i-1], files[i])
		}
	}
}

func TestInitialSchemaTables(t *testing.T) {
	content, err := fs.ReadFile(migrationsFS, "migrations/001_initial_schema.sql")
	if err != nil {
		t.Fatalf("failed to read migration: %v", err)
	}

	for _, table := range []string{"users", "students", "clinical_notes", "assessments", "appointments"} {
		if !strings.Contains(string(content), "CREATE TABLE IF NOT EXISTS "+table+" (") {
			t.Errorf("Expected table %s in initial schema", table)
		}
	}
}

func TestIsUniqueViolation(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"unique violation", &pgconn.PgError{Code: "23505"}, true},
		{"wrapped unique violation", fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"}), true},
		{"foreign key violation", &pgconn.PgError{Code: "23503"}, false},
		{"plain error", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsUniqueViolation(tt.err); got != tt.want {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}
}
