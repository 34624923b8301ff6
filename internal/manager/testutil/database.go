package testutil

import (
	"os"
	"strings"
	"testing"

	"github.com/knowledgeforge/kbsync/pkg/db"
)

// SetupTestDB creates a test registry database connection with the schema
// applied, or skips the test when no database is configured.
func SetupTestDB(t *testing.T) *db.DB {
	t.Helper()

	err := LoadEnvFromFile("../../../.env")
	if err != nil {
		t.Logf("Warning: Failed to load .env file: %v", err)
	}

	dbURL := os.Getenv("TURSO_DATABASE_URL")
	authToken := os.Getenv("TURSO_AUTH_TOKEN")
	if dbURL == "" || authToken == "" {
		t.Skip("Database environment variables not set - skipping integration test")
	}

	database, err := db.NewConnection()
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}

	cleanupTestData(t, database)
	return database
}

// CleanupTestDB performs cleanup after tests.
func CleanupTestDB(t *testing.T, database *db.DB) {
	t.Helper()
	if database == nil {
		return
	}

	cleanupTestData(t, database)
	database.Close()
}

func cleanupTestData(t *testing.T, database *db.DB) {
	t.Helper()
	if _, err := database.Exec("DELETE FROM sources"); err != nil {
		t.Logf("Warning: Failed to clean sources table: %v", err)
	}
}

// LoadEnvFromFile loads environment variables from a file of export
// statements.
func LoadEnvFromFile(filepath string) error {
	content, err := os.ReadFile(filepath)
	if err != nil {
		return err
	}

	const expectedParts = 2
	for _, line := range strings.Split(string(content), "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "export ") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")

		parts := strings.SplitN(line, "=", expectedParts)
		if len(parts) != expectedParts {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if strings.HasPrefix(value, "\"") && strings.HasSuffix(value, "\"") {
			value = value[1 : len(value)-1]
		}
		os.Setenv(key, value)
	}

	return nil
}
