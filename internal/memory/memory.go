// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

// Package memory implements a secure store using non-persistent memory. It
// is intended for tests and for devices whose credentials are provisioned
// into another store after verification.
package memory

import (
	"bytes"
	"fmt"
	"maps"
	"slices"

	"github.com/fido-device-onboard/go-fcc/status"
	"github.com/fido-device-onboard/go-fcc/storage"
)

type item struct {
	data      []byte
	writeOnce bool
}

// Store implements [storage.Store] in memory.
type Store struct {
	// Fail, if set, is called before every operation and a non-nil result
	// is returned as a storage error. Op is one of "read", "write",
	// "delete", "reset" or "check".
	Fail func(op, name string) error

	items map[string]item
}

var _ interface {
	storage.Store
	storage.Checker
} = (*Store)(nil)

// NewStore initializes an empty in-memory store.
func NewStore() *Store {
	return &Store{items: make(map[string]item)}
}

func (s *Store) fail(op, name string) error {
	if s.Fail == nil {
		return nil
	}
	if err := s.Fail(op, name); err != nil {
		if status.Of(err) != status.Error {
			return err
		}
		return status.Errorf(status.StorageError, "%s %q: %w", op, name, err)
	}
	return nil
}

// Read returns a copy of the value stored under name.
func (s *Store) Read(name string) ([]byte, error) {
	if err := s.fail("read", name); err != nil {
		return nil, err
	}
	it, ok := s.items[name]
	if !ok {
		return nil, status.Errorf(status.ItemNotFound, "%q", name)
	}
	return bytes.Clone(it.data), nil
}

// Write stores a copy of data under name.
func (s *Store) Write(name string, data []byte, writeOnce bool) error {
	if err := s.fail("write", name); err != nil {
		return err
	}
	if it, ok := s.items[name]; ok && (writeOnce || it.writeOnce) {
		return status.Errorf(status.ItemExists, "%q", name)
	}
	s.items[name] = item{data: bytes.Clone(data), writeOnce: writeOnce}
	return nil
}

// Delete removes the item stored under name.
func (s *Store) Delete(name string) error {
	if err := s.fail("delete", name); err != nil {
		return err
	}
	if _, ok := s.items[name]; !ok {
		return status.Errorf(status.ItemNotFound, "%q", name)
	}
	delete(s.items, name)
	return nil
}

// Reset removes every item.
func (s *Store) Reset() error {
	if err := s.fail("reset", ""); err != nil {
		return err
	}
	clear(s.items)
	return nil
}

// Check implements [storage.Checker].
func (s *Store) Check() error {
	if err := s.fail("check", ""); err != nil {
		return fmt.Errorf("%w: %w", storage.ErrInit, err)
	}
	return nil
}

// Names returns the names of all stored items in sorted order.
func (s *Store) Names() []string {
	return slices.Sorted(maps.Keys(s.items))
}
