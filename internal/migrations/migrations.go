package migrations

import (
	"fmt"
	"os"
	"path/filepath"
)

// MigrationsDir can be overridden in tests or by the application.
var MigrationsDir = "scripts/migrations"

const initialSchemaFile = "001_initial_schema.sql"

// GetInitialSchema loads the initial database schema. The schema file is
// searched relative to the working directory and the repository root so that
// both the binary and package tests can find it.
func GetInitialSchema() (string, error) {
	searchPaths := []string{
		filepath.Join(MigrationsDir, initialSchemaFile),
		filepath.Join("..", MigrationsDir, initialSchemaFile),
		filepath.Join("..", "..", MigrationsDir, initialSchemaFile),
	}

	for _, path := range searchPaths {
		schema, err := os.ReadFile(path) // #nosec G304 - fixed candidate list
		if err == nil {
			return string(schema), nil
		}
	}

	return "", fmt.Errorf("schema file %s not found in any of %v", initialSchemaFile, searchPaths)
}
