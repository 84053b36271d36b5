// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

// Package fcctest contains conformance suites and fault injection helpers
// for testing stores, key slot backends and key storage.
package fcctest

import (
	"bytes"
	"testing"

	"github.com/fido-device-onboard/go-fcc/status"
	"github.com/fido-device-onboard/go-fcc/storage"
)

// RunStoreTestSuite tests the contract of a secure store implementation.
// newStore must return an empty store.
func RunStoreTestSuite(t *testing.T, newStore func(*testing.T) storage.Store) {
	t.Run("read missing", func(t *testing.T) {
		s := newStore(t)
		if _, err := s.Read("missing"); status.Of(err) != status.ItemNotFound {
			t.Fatalf("expected item not found, got %v", err)
		}
	})

	t.Run("write then read", func(t *testing.T) {
		s := newStore(t)
		expect := []byte("Hello world!")
		if err := s.Write("item", expect, false); err != nil {
			t.Fatal(err)
		}
		got, err := s.Read("item")
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(expect, got) {
			t.Fatalf("expected %x, got %x", expect, got)
		}

		got[0] = 'J'
		again, err := s.Read("item")
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(expect, again) {
			t.Fatal("modifying a read value changed the stored value")
		}
	})

	t.Run("overwrite", func(t *testing.T) {
		s := newStore(t)
		if err := s.Write("item", []byte("first"), false); err != nil {
			t.Fatal(err)
		}
		if err := s.Write("item", []byte("second"), false); err != nil {
			t.Fatal(err)
		}
		expectValue(t, s, "item", []byte("second"))
	})

	t.Run("write once", func(t *testing.T) {
		s := newStore(t)
		if err := s.Write("item", []byte("first"), true); err != nil {
			t.Fatal(err)
		}
		if err := s.Write("item", []byte("second"), true); status.Of(err) != status.ItemExists {
			t.Fatalf("expected item exists, got %v", err)
		}
		if err := s.Write("item", []byte("third"), false); status.Of(err) != status.ItemExists {
			t.Fatalf("expected item exists when overwriting a write once item, got %v", err)
		}
		expectValue(t, s, "item", []byte("first"))
	})

	t.Run("write once over mutable", func(t *testing.T) {
		s := newStore(t)
		if err := s.Write("item", []byte("first"), false); err != nil {
			t.Fatal(err)
		}
		if err := s.Write("item", []byte("second"), true); status.Of(err) != status.ItemExists {
			t.Fatalf("expected item exists, got %v", err)
		}
	})

	t.Run("delete", func(t *testing.T) {
		s := newStore(t)
		if err := s.Write("item", []byte("value"), true); err != nil {
			t.Fatal(err)
		}
		if err := s.Delete("item"); err != nil {
			t.Fatal(err)
		}
		if _, err := s.Read("item"); status.Of(err) != status.ItemNotFound {
			t.Fatalf("expected item not found after delete, got %v", err)
		}
		if err := s.Delete("item"); status.Of(err) != status.ItemNotFound {
			t.Fatalf("expected item not found deleting twice, got %v", err)
		}
		if err := s.Write("item", []byte("again"), true); err != nil {
			t.Fatalf("write once item could not be recreated after delete: %v", err)
		}
	})

	t.Run("reset", func(t *testing.T) {
		s := newStore(t)
		for _, name := range []string{"a", "b", "c"} {
			if err := s.Write(name, []byte(name), name == "b"); err != nil {
				t.Fatal(err)
			}
		}
		if err := s.Reset(); err != nil {
			t.Fatal(err)
		}
		for _, name := range []string{"a", "b", "c"} {
			if _, err := s.Read(name); status.Of(err) != status.ItemNotFound {
				t.Errorf("%s: expected item not found after reset, got %v", name, err)
			}
		}
	})
}

func expectValue(t *testing.T, s storage.Store, name string, expect []byte) {
	t.Helper()
	got, err := s.Read(name)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(expect, got) {
		t.Fatalf("%s: expected %q, got %q", name, expect, got)
	}
}
