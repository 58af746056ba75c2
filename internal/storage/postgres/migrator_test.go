package postgres

import (
	"strings"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sqlFile(body string) *fstest.MapFile {
	return &fstest.MapFile{Data: []byte(body)}
}

func TestLoadMigrationsFromFS_SortsByVersion(t *testing.T) {
	t.Parallel()

	fsys := fstest.MapFS{
		"sql/migrations/0010_audit.up.sql":    sqlFile("CREATE TABLE audit (id INT);"),
		"sql/migrations/0010_audit.down.sql":  sqlFile("DROP TABLE audit;"),
		"sql/migrations/0002_orders.up.sql":   sqlFile("CREATE TABLE orders (id INT);"),
		"sql/migrations/0002_orders.down.sql": sqlFile("DROP TABLE orders;"),
	}

	migrations, err := loadMigrationsFromFS(fsys)
	require.NoError(t, err)
	require.Len(t, migrations, 2)
	assert.Equal(t, int64(2), migrations[0].Version)
	assert.Equal(t, "orders", migrations[0].Name)
	assert.Equal(t, int64(10), migrations[1].Version)
	assert.Equal(t, "DROP TABLE audit;", migrations[1].body(migrationDown))
	assert.Equal(t, "CREATE TABLE audit (id INT);", migrations[1].body(migrationUp))
}

func TestLoadMigrationsFromFS_Rejects(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		files   fstest.MapFS
		wantErr string
	}{
		"no files": {
			files:   fstest.MapFS{"README.md": sqlFile("docs")},
			wantErr: "no migration files",
		},
		"missing down": {
			files:   fstest.MapFS{"sql/migrations/0001_init.up.sql": sqlFile("SELECT 1;")},
			wantErr: "both up and down",
		},
		"bad file name": {
			files:   fstest.MapFS{"sql/migrations/init.sql": sqlFile("SELECT 1;")},
			wantErr: "invalid migration file name",
		},
		"blank body": {
			files: fstest.MapFS{
				"sql/migrations/0001_init.up.sql":   sqlFile("  \n"),
				"sql/migrations/0001_init.down.sql": sqlFile("SELECT 1;"),
			},
			wantErr: "is empty",
		},
		"name mismatch": {
			files: fstest.MapFS{
				"sql/migrations/0001_init.up.sql":    sqlFile("SELECT 1;"),
				"sql/migrations/0001_other.down.sql": sqlFile("SELECT 1;"),
			},
			wantErr: "name mismatch",
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := loadMigrationsFromFS(tc.files)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestSelectMigrations(t *testing.T) {
	t.Parallel()

	all := []migration{{Version: 1, Name: "a"}, {Version: 2, Name: "b"}, {Version: 3, Name: "c"}}
	applied := map[int64]bool{1: true, 2: true}

	up := selectMigrations(all, applied, migrationUp, 0)
	if len(up) != 1 || up[0].Version != 3 {
		t.Fatalf("unexpected up selection: %+v", up)
	}

	down := selectMigrations(all, applied, migrationDown, 0)
	if len(down) != 2 || down[0].Version != 2 || down[1].Version != 1 {
		t.Fatalf("unexpected down selection: %+v", down)
	}

	limited := selectMigrations(all, applied, migrationDown, 1)
	if len(limited) != 1 || limited[0].Version != 2 {
		t.Fatalf("unexpected limited selection: %+v", limited)
	}
}

func TestEmbeddedMigrationsAreComplete(t *testing.T) {
	t.Parallel()

	migrations, err := loadMigrationsFromFS(migrationsFS)
	if err != nil {
		t.Fatalf("load embedded migrations: %v", err)
	}
	if len(migrations) != 2 {
		t.Fatalf("expected 2 embedded migrations, got %d", len(migrations))
	}
	if !strings.Contains(migrations[1].UpSQL, "provider_order_logs") {
		t.Fatalf("unexpected second migration: %s", migrations[1].Name)
	}
}

func TestParseMigrationFileName(t *testing.T) {
	t.Parallel()

	file, err := parseMigrationFileName("0002_provider_order_logs.down.sql")
	require.NoError(t, err)
	assert.Equal(t, migrationFile{version: 2, name: "provider_order_logs", direction: migrationDown}, file)

	for _, bad := range []string{"0002_logs.sideways.sql", "logs.up.sql", "0002-logs.up.sql"} {
		_, err := parseMigrationFileName(bad)
		assert.Error(t, err, bad)
	}
}
