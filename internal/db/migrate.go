package db

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// RunMigrations applies the schema files in name order. A non-empty dir
// overrides the embedded set (useful for local experiments); statements are
// written to be re-runnable.
func RunMigrations(db *sql.DB, migrationsDir string) error {
	names, read, err := migrationSource(migrationsDir)
	if err != nil {
		return err
	}
	sort.Strings(names)
	for _, name := range names {
		data, err := read(name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if len(data) == 0 {
			continue
		}
		if _, err := db.Exec(string(data)); err != nil {
			return fmt.Errorf("exec migration %s: %w", name, err)
		}
	}
	return nil
}

func migrationSource(dir string) ([]string, func(string) ([]byte, error), error) {
	if dir != "" {
		entries, err := os.ReadDir(dir)
		if err == nil {
			names := sqlNames(entries)
			return names, func(name string) ([]byte, error) {
				return os.ReadFile(filepath.Join(dir, name))
			}, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return nil, nil, fmt.Errorf("read migrations dir: %w", err)
		}
	}
	entries, err := embeddedMigrations.ReadDir("migrations")
	if err != nil {
		return nil, nil, fmt.Errorf("read embedded migrations: %w", err)
	}
	names := sqlNames(entries)
	return names, func(name string) ([]byte, error) {
		return embeddedMigrations.ReadFile(filepath.Join("migrations", name))
	}, nil
}

func sqlNames(entries []fs.DirEntry) []string {
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".sql" {
			continue
		}
		names = append(names, e.Name())
	}
	return names
}
