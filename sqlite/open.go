// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

package sqlite

import (
	"database/sql"
	"fmt"
	"path/filepath"

	"github.com/ncruces/go-sqlite3/driver"    // Load database/sql driver
	_ "github.com/ncruces/go-sqlite3/embed"   // Load sqlite WASM binary
	_ "github.com/ncruces/go-sqlite3/vfs/xts" // Encryption VFS

	"github.com/fido-device-onboard/go-fcc/storage"
)

// Open creates or opens a SQLite database file. If a password is specified,
// then the xts VFS will be used with a text key.
//
// Errors caused by an unreadable or undecryptable file wrap
// [storage.ErrInit].
func Open(filename, password string) (*DB, error) {
	query := "?_pragma=busy_timeout(5000)"
	if password != "" {
		query += fmt.Sprintf("&vfs=xts&_pragma=textkey(%q)&_pragma=temp_store(memory)", password)
	}
	connector, err := (&driver.SQLite{}).OpenConnector("file:" + filepath.Clean(filename) + query)
	if err != nil {
		return nil, fmt.Errorf("%w: error creating sqlite connector: %w", storage.ErrInit, err)
	}
	db := sql.OpenDB(connector)
	if err := Init(db); err != nil {
		return nil, err
	}
	return New(db), nil
}
