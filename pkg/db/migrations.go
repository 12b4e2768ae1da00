package db

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"sort"

	"github.com/morezero/callcore/migrations"
)

const migrationsLogPrefix = "db:migrations"

// LoadMigrationFiles returns the contents of the .sql files in dir, sorted
// by name. An empty dir selects the migrations embedded in the binary.
func LoadMigrationFiles(dir string) ([]string, error) {
	if dir == "" {
		return LoadMigrationFS(migrations.FS, "embedded")
	}
	return LoadMigrationFS(os.DirFS(dir), dir)
}

// LoadMigrationFS returns the contents of the .sql files at the root of
// fsys, sorted by name. label names the source in logs and errors.
func LoadMigrationFS(fsys fs.FS, label string) ([]string, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("%s - failed to read migration dir %s: %w", migrationsLogPrefix, label, err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || path.Ext(e.Name()) != ".sql" {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	out := make([]string, 0, len(names))
	for _, name := range names {
		data, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("%s - failed to read %s/%s: %w", migrationsLogPrefix, label, name, err)
		}
		out = append(out, string(data))
	}
	slog.Info(fmt.Sprintf("%s - Loaded %d migration files from %s", migrationsLogPrefix, len(out), label))
	return out, nil
}
