package db

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ehr/clinic/migrations"
)

// migrationLockKey serialises concurrent `migrate up` runs.
const migrationLockKey = 7_246_001

// Migration is one numbered schema file, e.g. 003_billing.sql.
type Migration struct {
	Version  int
	Name     string
	SQL      string
	Checksum string
}

// Applied is a row of schema_migrations.
type Applied struct {
	At       time.Time
	Checksum string
}

type MigrationStatus struct {
	Version   int
	Name      string
	Applied   bool
	AppliedAt *time.Time
	// Modified is set when the file changed after it was applied.
	Modified bool
}

// MigrationDB is the part of *pgxpool.Pool the migrator uses.
type MigrationDB interface {
	Queryable
	TxBeginner
}

type Migrator struct {
	db   MigrationDB
	fsys fs.FS
}

// NewMigrator reads migrations from fsys, or from the schema embedded in the
// binary when fsys is nil.
func NewMigrator(conn MigrationDB, fsys fs.FS) *Migrator {
	if fsys == nil {
		fsys = migrations.FS
	}
	return &Migrator{db: conn, fsys: fsys}
}

func NewDirMigrator(conn MigrationDB, dir string) *Migrator {
	return NewMigrator(conn, os.DirFS(dir))
}

// LoadMigrations parses NNN_name.sql files in version order. Other files are
// ignored; two files with the same version are an error.
func LoadMigrations(fsys fs.FS) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("read migrations: %w", err)
	}

	seen := make(map[int]string)
	var out []Migration
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}
		prefix, _, ok := strings.Cut(name, "_")
		if !ok {
			continue
		}
		version, err := strconv.Atoi(prefix)
		if err != nil || version <= 0 {
			continue
		}
		if other, dup := seen[version]; dup {
			return nil, fmt.Errorf("migrations %s and %s share version %d", other, name, version)
		}
		seen[version] = name

		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		sum := sha256.Sum256(content)
		out = append(out, Migration{
			Version:  version,
			Name:     name,
			SQL:      string(content),
			Checksum: hex.EncodeToString(sum[:]),
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

func (m *Migrator) LoadMigrations() ([]Migration, error) {
	return LoadMigrations(m.fsys)
}

func (m *Migrator) ensureTable(ctx context.Context) error {
	_, err := m.db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version     INTEGER PRIMARY KEY,
			name        TEXT NOT NULL,
			checksum    CHAR(64) NOT NULL,
			applied_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`)
	if err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}
	return nil
}

func (m *Migrator) applied(ctx context.Context) (map[int]Applied, error) {
	rows, err := m.db.Query(ctx, `SELECT version, checksum, applied_at FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("query schema_migrations: %w", err)
	}
	defer rows.Close()

	out := make(map[int]Applied)
	for rows.Next() {
		var v int
		var a Applied
		if err := rows.Scan(&v, &a.Checksum, &a.At); err != nil {
			return nil, fmt.Errorf("scan schema_migrations: %w", err)
		}
		out[v] = a
	}
	return out, rows.Err()
}

func (m *Migrator) load(ctx context.Context) ([]Migration, map[int]Applied, error) {
	if err := m.ensureTable(ctx); err != nil {
		return nil, nil, err
	}
	all, err := m.LoadMigrations()
	if err != nil {
		return nil, nil, err
	}
	applied, err := m.applied(ctx)
	if err != nil {
		return nil, nil, err
	}
	return all, applied, nil
}

// Up applies pending migrations in order, each in its own transaction, and
// returns how many ran. It refuses to run when an applied file was edited.
func (m *Migrator) Up(ctx context.Context) (int, error) {
	all, applied, err := m.load(ctx)
	if err != nil {
		return 0, err
	}
	if err := CheckDrift(all, applied); err != nil {
		return 0, err
	}

	count := 0
	for _, mig := range Pending(all, applied) {
		ran, err := m.apply(ctx, mig)
		if err != nil {
			return count, fmt.Errorf("apply %s: %w", mig.Name, err)
		}
		if ran {
			count++
		}
	}
	return count, nil
}

// apply runs mig under the advisory lock. A concurrent migrator may have
// applied it first, in which case it is skipped.
func (m *Migrator) apply(ctx context.Context, mig Migration) (bool, error) {
	ran := false
	err := NewUnitOfWork(m.db).Do(ctx, pgx.ReadCommitted, func(ctx context.Context) error {
		tx := TxFromContext(ctx)
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, migrationLockKey); err != nil {
			return fmt.Errorf("lock: %w", err)
		}
		var done bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE version = $1)`, mig.Version).Scan(&done); err != nil {
			return fmt.Errorf("check version: %w", err)
		}
		if done {
			return nil
		}
		if _, err := tx.Exec(ctx, mig.SQL); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO schema_migrations (version, name, checksum) VALUES ($1, $2, $3)`,
			mig.Version, mig.Name, mig.Checksum); err != nil {
			return fmt.Errorf("record: %w", err)
		}
		ran = true
		return nil
	})
	return ran, err
}

func (m *Migrator) Status(ctx context.Context) ([]MigrationStatus, error) {
	all, applied, err := m.load(ctx)
	if err != nil {
		return nil, err
	}
	return BuildStatus(all, applied), nil
}

func Pending(all []Migration, applied map[int]Applied) []Migration {
	var out []Migration
	for _, mig := range all {
		if _, ok := applied[mig.Version]; !ok {
			out = append(out, mig)
		}
	}
	return out
}

// CheckDrift fails on the first applied migration whose file no longer
// matches the recorded checksum.
func CheckDrift(all []Migration, applied map[int]Applied) error {
	for _, mig := range all {
		a, ok := applied[mig.Version]
		if ok && a.Checksum != "" && a.Checksum != mig.Checksum {
			return fmt.Errorf("migration %s was modified after it was applied", mig.Name)
		}
	}
	return nil
}

func BuildStatus(all []Migration, applied map[int]Applied) []MigrationStatus {
	statuses := make([]MigrationStatus, 0, len(all))
	for _, mig := range all {
		st := MigrationStatus{Version: mig.Version, Name: mig.Name}
		if a, ok := applied[mig.Version]; ok {
			at := a.At
			st.Applied = true
			st.AppliedAt = &at
			st.Modified = a.Checksum != "" && a.Checksum != mig.Checksum
		}
		statuses = append(statuses, st)
	}
	return statuses
}
