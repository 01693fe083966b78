// Package store handles parameter value persistence in SQLite or PostgreSQL.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/verte-zerg/tsbatch/internal/model"
)

// Store wraps database access for entities and parameter values.
type Store struct {
	db      *sql.DB
	dialect dialect
}

// Open opens or creates the database at url and applies migrations.
func Open(url string) (*Store, error) {
	loc, err := ParseURL(url)
	if err != nil {
		return nil, err
	}
	if loc.Path != "" {
		if err := os.MkdirAll(filepath.Dir(loc.Path), 0o755); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open(loc.dialect.driver, loc.DSN)
	if err != nil {
		return nil, err
	}
	if loc.dialect == sqliteDialect {
		db.SetMaxOpenConns(1)
	}
	store := &Store{db: db, dialect: loc.dialect}
	if err := store.migrate(); err != nil {
		if cerr := db.Close(); cerr != nil {
			// Best-effort close on migration failure.
			_ = cerr
		}
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	pk := s.dialect.primaryKey
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS entity_class (
			id ` + pk + `,
			name TEXT NOT NULL UNIQUE,
			dimensions TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE TABLE IF NOT EXISTS entity (
			id ` + pk + `,
			class_id BIGINT NOT NULL REFERENCES entity_class(id),
			name TEXT NOT NULL,
			elements TEXT NOT NULL DEFAULT '',
			UNIQUE (class_id, name)
		);`,
		`CREATE TABLE IF NOT EXISTS parameter_definition (
			id ` + pk + `,
			class_id BIGINT NOT NULL REFERENCES entity_class(id),
			name TEXT NOT NULL,
			UNIQUE (class_id, name)
		);`,
		`CREATE TABLE IF NOT EXISTS alternative (
			id ` + pk + `,
			name TEXT NOT NULL UNIQUE
		);`,
		`CREATE TABLE IF NOT EXISTS parameter_value (
			id ` + pk + `,
			class_id BIGINT NOT NULL REFERENCES entity_class(id),
			entity_id BIGINT NOT NULL REFERENCES entity(id),
			parameter_id BIGINT NOT NULL REFERENCES parameter_definition(id),
			alternative_id BIGINT NOT NULL REFERENCES alternative(id),
			type TEXT NOT NULL,
			value TEXT NOT NULL,
			UNIQUE (entity_id, parameter_id, alternative_id)
		);`,
		`CREATE TABLE IF NOT EXISTS commits (
			id ` + pk + `,
			comment TEXT NOT NULL,
			date TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_parameter_value_parameter ON parameter_value(parameter_id);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Commit runs fn in one transaction and records comment as a commit.
// Any error from fn rolls the transaction back.
func (s *Store) Commit(ctx context.Context, comment string, fn func(tx *Tx) error) (err error) {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			if rerr := sqlTx.Rollback(); rerr != nil {
				// Best-effort rollback.
				_ = rerr
			}
		}
	}()

	tx := &Tx{tx: sqlTx, dialect: s.dialect}
	if err = fn(tx); err != nil {
		return err
	}
	if _, err = tx.exec(ctx, `INSERT INTO commits (comment, date) VALUES (?, ?)`,
		comment, time.Now().UTC().Format(time.RFC3339Nano)); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// ParameterValues lists every stored value with its class, entity,
// parameter and alternative names.
func (s *Store) ParameterValues(ctx context.Context) ([]model.ParameterValueRow, error) {
	query := `SELECT pv.id, ec.name, e.name, e.elements, pd.name, a.name, pv.type, pv.value
		FROM parameter_value pv
		JOIN entity_class ec ON ec.id = pv.class_id
		JOIN entity e ON e.id = pv.entity_id
		JOIN parameter_definition pd ON pd.id = pv.parameter_id
		JOIN alternative a ON a.id = pv.alternative_id
		ORDER BY pv.id ASC`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			// Best-effort rows close.
			_ = cerr
		}
	}()

	var result []model.ParameterValueRow
	for rows.Next() {
		var row model.ParameterValueRow
		var elements string
		var data string
		if err := rows.Scan(&row.ID, &row.ClassName, &row.EntityName, &elements, &row.ParameterName, &row.AlternativeName, &row.Type, &data); err != nil {
			return nil, err
		}
		row.ElementNames = splitList(elements)
		row.Value = []byte(data)
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Commits returns the recorded commits, oldest first.
func (s *Store) Commits(ctx context.Context) ([]model.Commit, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, comment, date FROM commits ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			// Best-effort rows close.
			_ = cerr
		}
	}()

	var commits []model.Commit
	for rows.Next() {
		var c model.Commit
		var date string
		if err := rows.Scan(&c.ID, &c.Comment, &date); err != nil {
			return nil, err
		}
		parsed, err := time.Parse(time.RFC3339Nano, date)
		if err != nil {
			return nil, err
		}
		c.Date = parsed
		commits = append(commits, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return commits, nil
}

// Tx is a write transaction opened by Store.Commit.
type Tx struct {
	tx      *sql.Tx
	dialect dialect
}

func (t *Tx) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return t.tx.ExecContext(ctx, t.dialect.rebind(query), args...)
}

func (t *Tx) queryID(ctx context.Context, query string, args ...any) (int64, error) {
	var id int64
	err := t.tx.QueryRowContext(ctx, t.dialect.rebind(query), args...).Scan(&id)
	return id, err
}

// ensure inserts a row unless it exists and returns its id and whether it was created.
func (t *Tx) ensure(ctx context.Context, insert string, insertArgs []any, lookup string, lookupArgs []any) (int64, bool, error) {
	id, err := t.queryID(ctx, insert+` ON CONFLICT DO NOTHING RETURNING id`, insertArgs...)
	if err == nil {
		return id, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, false, err
	}
	id, err = t.queryID(ctx, lookup, lookupArgs...)
	if err != nil {
		return 0, false, err
	}
	return id, false, nil
}

// AddEntityClass adds an object class (no dimensions) or a relationship
// class over the named object classes.
func (t *Tx) AddEntityClass(ctx context.Context, name string, dimensions []string) (bool, error) {
	_, created, err := t.ensure(ctx,
		`INSERT INTO entity_class (name, dimensions) VALUES (?, ?)`, []any{name, strings.Join(dimensions, ",")},
		`SELECT id FROM entity_class WHERE name = ?`, []any{name})
	return created, err
}

// AddParameterDefinition adds a parameter to a class.
func (t *Tx) AddParameterDefinition(ctx context.Context, class, name string) (bool, error) {
	classID, _, err := t.class(ctx, class)
	if err != nil {
		return false, err
	}
	_, created, err := t.ensure(ctx,
		`INSERT INTO parameter_definition (class_id, name) VALUES (?, ?)`, []any{classID, name},
		`SELECT id FROM parameter_definition WHERE class_id = ? AND name = ?`, []any{classID, name})
	return created, err
}

// AddAlternative adds an alternative.
func (t *Tx) AddAlternative(ctx context.Context, name string) (bool, error) {
	_, created, err := t.ensure(ctx,
		`INSERT INTO alternative (name) VALUES (?)`, []any{name},
		`SELECT id FROM alternative WHERE name = ?`, []any{name})
	return created, err
}

// AddEntity adds an object, or a relationship when elements are given.
// Relationships need one element per class dimension.
func (t *Tx) AddEntity(ctx context.Context, class, name string, elements []string) (bool, error) {
	classID, dimensions, err := t.class(ctx, class)
	if err != nil {
		return false, err
	}
	if len(elements) != len(dimensions) {
		return false, fmt.Errorf("class %q has %d dimensions, got %d elements", class, len(dimensions), len(elements))
	}
	for i, element := range elements {
		if _, err := t.entity(ctx, dimensions[i], element); err != nil {
			return false, err
		}
	}
	_, created, err := t.ensure(ctx,
		`INSERT INTO entity (class_id, name, elements) VALUES (?, ?, ?)`, []any{classID, name, strings.Join(elements, ",")},
		`SELECT id FROM entity WHERE class_id = ? AND name = ?`, []any{classID, name})
	return created, err
}

// SetParameterValue inserts a value or replaces an existing one and reports
// whether a new row was created.
func (t *Tx) SetParameterValue(ctx context.Context, v model.ParameterValue) (bool, error) {
	classID, _, err := t.class(ctx, v.ClassName)
	if err != nil {
		return false, err
	}
	entityID, err := t.entity(ctx, v.ClassName, v.EntityName)
	if err != nil {
		return false, err
	}
	parameterID, err := t.queryID(ctx, `SELECT id FROM parameter_definition WHERE class_id = ? AND name = ?`, classID, v.ParameterName)
	if err != nil {
		return false, notFound(err, "parameter", v.ClassName+"."+v.ParameterName)
	}
	alternativeID, err := t.queryID(ctx, `SELECT id FROM alternative WHERE name = ?`, v.AlternativeName)
	if err != nil {
		return false, notFound(err, "alternative", v.AlternativeName)
	}

	existing, err := t.queryID(ctx, `SELECT id FROM parameter_value WHERE entity_id = ? AND parameter_id = ? AND alternative_id = ?`,
		entityID, parameterID, alternativeID)
	switch {
	case err == nil:
		return false, t.UpdateParameterValue(ctx, model.ValueUpdate{ID: existing, Type: v.Type, Value: v.Value})
	case !errors.Is(err, sql.ErrNoRows):
		return false, err
	}
	if _, err := t.exec(ctx,
		`INSERT INTO parameter_value (class_id, entity_id, parameter_id, alternative_id, type, value) VALUES (?, ?, ?, ?, ?, ?)`,
		classID, entityID, parameterID, alternativeID, v.Type, string(v.Value)); err != nil {
		return false, err
	}
	return true, nil
}

// UpdateParameterValue replaces the type and blob of an existing value.
func (t *Tx) UpdateParameterValue(ctx context.Context, u model.ValueUpdate) error {
	res, err := t.exec(ctx, `UPDATE parameter_value SET type = ?, value = ? WHERE id = ?`, u.Type, string(u.Value), u.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != 1 {
		return fmt.Errorf("parameter value %d not found", u.ID)
	}
	return nil
}

func (t *Tx) class(ctx context.Context, name string) (int64, []string, error) {
	var id int64
	var dimensions string
	err := t.tx.QueryRowContext(ctx, t.dialect.rebind(`SELECT id, dimensions FROM entity_class WHERE name = ?`), name).Scan(&id, &dimensions)
	if err != nil {
		return 0, nil, notFound(err, "class", name)
	}
	return id, splitList(dimensions), nil
}

func (t *Tx) entity(ctx context.Context, class, name string) (int64, error) {
	id, err := t.queryID(ctx, `SELECT e.id FROM entity e JOIN entity_class ec ON ec.id = e.class_id
		WHERE ec.name = ? AND e.name = ?`, class, name)
	if err != nil {
		return 0, notFound(err, "entity", class+"."+name)
	}
	return id, nil
}

func notFound(err error, kind, name string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %q not found", kind, name)
	}
	return err
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}
