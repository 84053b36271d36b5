// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

// Package storage defines the secure store the configurator persists
// credentials and internal records in.
package storage

import "errors"

// ErrInit is wrapped by errors reporting that a persisted store could not be
// opened or failed validation. It indicates a corrupt or incompatible store
// rather than a transient failure.
var ErrInit = errors.New("secure storage initialization failed")

// Store is a persistent name to value store.
//
// Implementations report a missing item with [status.ItemNotFound] and a
// rejected write to an occupied name with [status.ItemExists]. All other
// failures should be [status.StorageError].
//
// Stores are not safe for concurrent use unless the implementation says
// otherwise.
type Store interface {
	// Read returns the value stored under name.
	Read(name string) ([]byte, error)

	// Write stores data under name. If writeOnce is set, or the existing
	// item was itself written once, an existing item is not replaced and
	// ItemExists is returned.
	Write(name string, data []byte, writeOnce bool) error

	// Delete removes the item stored under name.
	Delete(name string) error

	// Reset removes every item.
	Reset() error
}

// Checker is optionally implemented by stores which can validate their
// persisted state.
type Checker interface {
	// Check returns an error wrapping ErrInit if the store is unusable.
	Check() error
}
