// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

// Package sqlite implements a persistent secure store with a SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"

	"github.com/fido-device-onboard/go-fcc/status"
	"github.com/fido-device-onboard/go-fcc/storage"
)

// DB implements a secure store.
type DB struct {
	// Log all SQL queries to this optional writer.
	DebugLog io.Writer

	db *sql.DB
}

// Compile-time check for interface implementation correctness
var _ interface {
	storage.Store
	storage.Checker
} = (*DB)(nil)

// New creates a DB. The expected tables must be created before the database
// is used as a store.
func New(db *sql.DB) *DB { return &DB{db: db} }

// Init ensures all tables are created. It does not recognize if tables have
// been created with invalid schemas.
//
// In most cases, Open should be used, which implicitly calls Init. However,
// Init can be useful for alternative SQLite connections that do not use a
// local file.
func Init(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS items
			( name TEXT PRIMARY KEY
			, data BLOB NOT NULL
			, write_once INTEGER NOT NULL
			)`,
	}
	for _, sql := range stmts {
		if _, err := db.Exec(sql); err != nil {
			_ = db.Close()
			if strings.Contains(err.Error(), "file is not a database") {
				return fmt.Errorf("%w: file is not a database: likely due to incorrect or missing database password", storage.ErrInit)
			}
			return fmt.Errorf("%w: error creating tables: %w", storage.ErrInit, err)
		}
	}
	return nil
}

// Close closes the database connection.
//
// If the database connection is associated with unfinalized prepared
// statements, open blob handles, and/or unfinished backup objects, Close will
// leave the database connection open and return [sqlite3.BUSY].
func (db *DB) Close() error { return db.db.Close() }

// DB returns the underlying database/sql DB.
func (db *DB) DB() *sql.DB { return db.db }

type debugLogKey struct{}

func (db *DB) debugCtx(parent context.Context) context.Context {
	return context.WithValue(parent, debugLogKey{}, db.DebugLog)
}

func debug(ctx context.Context, format string, a ...any) {
	w, ok := ctx.Value(debugLogKey{}).(io.Writer)
	if !ok || w == nil {
		return
	}
	msg := strings.TrimSpace(fmt.Sprintf(format, a...))
	_, _ = fmt.Fprintln(w, msg)
}

// Read returns the value stored under name.
func (db *DB) Read(name string) ([]byte, error) {
	ctx := db.debugCtx(context.Background())

	var data []byte
	if err := query(ctx, db.db, "items", []string{"data"}, map[string]any{
		"name": name,
	}, &data); err != nil {
		return nil, wrapErr("read", name, err)
	}
	if data == nil {
		data = []byte{}
	}
	return data, nil
}

// Write stores data under name. The existence check and the write happen
// in a single transaction.
func (db *DB) Write(name string, data []byte, writeOnce bool) error {
	ctx := db.debugCtx(context.Background())

	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapErr("write", name, err)
	}
	defer func() { _ = tx.Rollback() }()

	var existingWriteOnce bool
	switch err := query(ctx, tx, "items", []string{"write_once"}, map[string]any{
		"name": name,
	}, &existingWriteOnce); {
	case err == nil:
		if writeOnce || existingWriteOnce {
			return status.Errorf(status.ItemExists, "%q", name)
		}
	case status.Of(err) != status.ItemNotFound:
		return wrapErr("write", name, err)
	}

	if data == nil {
		data = []byte{}
	}
	if err := insert(ctx, tx, "items", map[string]any{
		"name":       name,
		"data":       data,
		"write_once": writeOnce,
	}, []string{"name"}); err != nil {
		return wrapErr("write", name, err)
	}
	if err := tx.Commit(); err != nil {
		return wrapErr("write", name, err)
	}
	return nil
}

// Delete removes the item stored under name.
func (db *DB) Delete(name string) error {
	ctx := db.debugCtx(context.Background())
	return wrapErr("delete", name, remove(ctx, db.db, "items", map[string]any{
		"name": name,
	}))
}

// Reset removes every item.
func (db *DB) Reset() error {
	ctx := db.debugCtx(context.Background())
	const query = `DELETE FROM items`
	debug(ctx, "sqlite: %s", query)
	if _, err := db.db.ExecContext(ctx, query); err != nil {
		return status.Errorf(status.StorageError, "reset: %w", err)
	}
	return nil
}

// Check runs an integrity check of the database file.
func (db *DB) Check() error {
	ctx := db.debugCtx(context.Background())
	const query = `PRAGMA quick_check`
	debug(ctx, "sqlite: %s", query)

	var result string
	if err := db.db.QueryRowContext(ctx, query).Scan(&result); err != nil {
		return fmt.Errorf("%w: %w", storage.ErrInit, err)
	}
	if result != "ok" {
		return fmt.Errorf("%w: integrity check: %s", storage.ErrInit, result)
	}
	return nil
}

// Names returns the names of all stored items in sorted order.
func (db *DB) Names() ([]string, error) {
	ctx := db.debugCtx(context.Background())
	const query = `SELECT name FROM items ORDER BY name`
	debug(ctx, "sqlite: %s", query)

	rows, err := db.db.QueryContext(ctx, query)
	if err != nil {
		return nil, status.Errorf(status.StorageError, "listing items: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, status.Errorf(status.StorageError, "listing items: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, status.Errorf(status.StorageError, "listing items: %w", err)
	}
	return names, nil
}

func wrapErr(op, name string, err error) error {
	switch status.Of(err) {
	case status.Success:
		return nil
	case status.Error:
		return status.Errorf(status.StorageError, "%s %q: %w", op, name, err)
	default:
		return err
	}
}

// Allows using *sql.DB or *sql.Tx
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Allows using *sql.DB or *sql.Tx
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// If upsertOnConflict is an empty slice (non-nil), then do an INSERT OR IGNORE
func insert(ctx context.Context, db execer, table string, kvs map[string]any, upsertOnConflict []string) error {
	var orIgnore string
	if upsertOnConflict != nil && len(upsertOnConflict) == 0 {
		orIgnore = "OR IGNORE "
	}

	columns := slices.Sorted(maps.Keys(kvs))
	args := make([]any, len(columns))
	for i, name := range columns {
		args[i] = kvs[name]
	}
	markers := slices.Repeat([]string{"?"}, len(columns))

	var upsert string
	if len(upsertOnConflict) > 0 {
		var updates []string
		for _, key := range columns {
			if !slices.Contains(upsertOnConflict, key) {
				updates = append(updates, fmt.Sprintf("`%s` = excluded.`%s`", key, key))
			}
		}

		upsert = fmt.Sprintf(" ON CONFLICT(`%s`) DO UPDATE SET ", strings.Join(upsertOnConflict, "`, `"))
		upsert += strings.Join(updates, ", ")
	}

	query := fmt.Sprintf(
		"INSERT %sINTO %s (%s) VALUES (%s)%s",
		orIgnore,
		table,
		"`"+strings.Join(columns, "`, `")+"`",
		strings.Join(markers, ", "),
		upsert,
	)
	debug(ctx, "sqlite: %s\n%+v", query, args)
	_, err := db.ExecContext(ctx, query, args...)
	return err
}

func query(ctx context.Context, db querier, table string, columns []string, where map[string]any, into ...any) error {
	if len(columns) != len(into) {
		panic("programming error - query must have the same number of columns and values")
	}

	whereKeys := slices.Sorted(maps.Keys(where))
	clauses := make([]string, len(whereKeys))
	for i, key := range whereKeys {
		clauses[i] = "`" + key + "` = ?"
	}
	whereVals := make([]any, len(whereKeys))
	for i, key := range whereKeys {
		whereVals[i] = where[key]
	}

	query := fmt.Sprintf(
		`SELECT %s FROM %s WHERE %s`,
		"`"+strings.Join(columns, "`, `")+"`",
		table,
		strings.Join(clauses, " AND "),
	)
	debug(ctx, "sqlite: %s\n%+v", query, where)

	row := db.QueryRowContext(ctx, query, whereVals...)
	if err := row.Scan(into...); errors.Is(err, sql.ErrNoRows) {
		return status.Errorf(status.ItemNotFound, "%v", whereVals)
	} else if err != nil {
		return fmt.Errorf("error querying DB: %w", err)
	}
	return nil
}

func remove(ctx context.Context, db execer, table string, where map[string]any) error {
	whereKeys := slices.Sorted(maps.Keys(where))
	clauses := make([]string, len(whereKeys))
	for i, key := range whereKeys {
		clauses[i] = "`" + key + "` = ?"
	}
	whereVals := make([]any, len(whereKeys))
	for i, key := range whereKeys {
		whereVals[i] = where[key]
	}

	query := fmt.Sprintf(
		`DELETE FROM %s WHERE %s`,
		table,
		strings.Join(clauses, " AND "),
	)
	debug(ctx, "sqlite: %s\n%+v", query, whereVals)

	result, err := db.ExecContext(ctx, query, whereVals...)
	if err != nil {
		return err
	}
	if n, err := result.RowsAffected(); err != nil {
		return err
	} else if n < 1 {
		return status.Errorf(status.ItemNotFound, "%v", whereVals)
	}
	return nil
}
