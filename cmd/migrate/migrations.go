package main

import (
	"context"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
)

const (
	directionUp   = "up"
	directionDown = "down"
)

type migration struct {
	Version  string
	UpPath   string
	DownPath string
}

// loadMigrations pairs <version>.up.sql with <version>.down.sql, ordered by
// version. A version missing either half is an error.
func loadMigrations(fsys fs.FS) ([]migration, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, err
	}

	byVersion := map[string]*migration{}
	get := func(version string) *migration {
		m := byVersion[version]
		if m == nil {
			m = &migration{Version: version}
			byVersion[version] = m
		}
		return m
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			get(strings.TrimSuffix(name, ".up.sql")).UpPath = name
		case strings.HasSuffix(name, ".down.sql"):
			get(strings.TrimSuffix(name, ".down.sql")).DownPath = name
		}
	}

	out := make([]migration, 0, len(byVersion))
	for _, m := range byVersion {
		if m.UpPath == "" || m.DownPath == "" {
			return nil, fmt.Errorf("migration %q missing up or down file", m.Version)
		}
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// selectMigrations returns what to run: pending versions oldest first for
// up, applied versions newest first for down, capped at steps when > 0.
func selectMigrations(direction string, steps int, all []migration, applied map[string]bool) []migration {
	var selected []migration
	switch direction {
	case directionUp:
		for _, m := range all {
			if !applied[m.Version] {
				selected = append(selected, m)
			}
		}
	case directionDown:
		for i := len(all) - 1; i >= 0; i-- {
			if applied[all[i].Version] {
				selected = append(selected, all[i])
			}
		}
	}
	if steps > 0 && steps < len(selected) {
		selected = selected[:steps]
	}
	return selected
}

type migrator struct {
	conn   *pgx.Conn
	fsys   fs.FS
	logger zerolog.Logger
}

func (m *migrator) Run(ctx context.Context, direction string, steps int, all []migration) (int, error) {
	if _, err := m.conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`); err != nil {
		return 0, fmt.Errorf("ensure schema_migrations: %w", err)
	}

	applied, err := m.applied(ctx)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, mig := range selectMigrations(direction, steps, all, applied) {
		if err := m.apply(ctx, direction, mig); err != nil {
			return count, fmt.Errorf("%s %s: %w", direction, mig.Version, err)
		}
		m.logger.Info().Str("version", mig.Version).Str("direction", direction).Msg("applied migration")
		count++
	}
	return count, nil
}

func (m *migrator) applied(ctx context.Context) (map[string]bool, error) {
	rows, err := m.conn.Query(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := map[string]bool{}
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

// apply runs one file and records the version in the same transaction.
func (m *migrator) apply(ctx context.Context, direction string, mig migration) error {
	path := mig.UpPath
	record := `INSERT INTO schema_migrations (version) VALUES ($1)`
	if direction == directionDown {
		path = mig.DownPath
		record = `DELETE FROM schema_migrations WHERE version = $1`
	}

	body, err := fs.ReadFile(m.fsys, path)
	if err != nil {
		return err
	}

	tx, err := m.conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, string(body)); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, record, mig.Version); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
