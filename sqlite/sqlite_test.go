// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

package sqlite_test

import (
	"bytes"
	"errors"
	"path/filepath"
	"slices"
	"testing"

	"github.com/fido-device-onboard/go-fcc/fcctest"
	"github.com/fido-device-onboard/go-fcc/sqlite"
	"github.com/fido-device-onboard/go-fcc/storage"
)

func TestStore(t *testing.T) {
	fcctest.RunStoreTestSuite(t, func(t *testing.T) storage.Store {
		db, _ := newDB(t, "test_password")
		return db
	})
}

func TestPersistence(t *testing.T) {
	db, path := newDB(t, "test_password")
	if err := db.Write("a", []byte("hello"), true); err != nil {
		t.Fatal(err)
	}
	if err := db.Write("b", []byte("world"), false); err != nil {
		t.Fatal(err)
	}
	if err := db.Close(); err != nil {
		t.Fatal(err)
	}

	db, err := sqlite.Open(path, "test_password")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = db.Close() }()
	db.DebugLog = fcctest.TestingLog(t)

	if err := db.Check(); err != nil {
		t.Fatal(err)
	}
	got, err := db.Read("a")
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, []byte("hello")) {
		t.Errorf("expected %q, got %q", "hello", got)
	}
	names, err := db.Names()
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(names, []string{"a", "b"}) {
		t.Errorf("unexpected names %v", names)
	}
}

func TestWrongPassword(t *testing.T) {
	db, path := newDB(t, "test_password")
	if err := db.Write("a", []byte("hello"), true); err != nil {
		t.Fatal(err)
	}
	if err := db.Close(); err != nil {
		t.Fatal(err)
	}

	db, err := sqlite.Open(path, "wrong_password")
	if err == nil {
		_ = db.Close()
		t.Fatal("expected error opening database with the wrong password")
	}
	if !errors.Is(err, storage.ErrInit) {
		t.Fatalf("expected init error, got %v", err)
	}
}

func newDB(t *testing.T, password string) (*sqlite.DB, string) {
	path := filepath.Join(t.TempDir(), "db.test")
	db, err := sqlite.Open(path, password)
	if err != nil {
		t.Fatal(err)
	}
	db.DebugLog = fcctest.TestingLog(t)
	t.Cleanup(func() { _ = db.Close() })
	return db, path
}
