// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

// Package keyslot defines secure key slot backends. A backend holds key
// material by canonical name, never exports private keys, and hands out
// numeric handles for key use.
package keyslot

import "github.com/fido-device-onboard/go-fcc/naming"

// Handle refers to an opened key. Zero is never a valid handle.
type Handle uint32

// Scheme is a key generation scheme.
type Scheme uint8

// Schemes
const (
	SchemeNone Scheme = iota
	SchemeEC256
)

func (s Scheme) String() string {
	switch s {
	case SchemeEC256:
		return "EC-P256"
	default:
		return "none"
	}
}

// Backend is a secure key slot store.
//
// Methods other than Init return [status.NotInitialized] until Init has
// succeeded. Missing slots are [status.ItemNotFound] and occupied names are
// [status.ItemExists].
type Backend interface {
	// Init prepares the backend for use. It is safe to call Init again
	// after Finalize.
	Init() error

	// Finalize releases backend resources, including all open handles.
	Finalize() error

	// Exists reports whether a slot is bound to name.
	Exists(name string) (bool, error)

	// Import stores a raw key in a new slot. Only naming.PrivateKey and
	// naming.PublicKey kinds are valid.
	Import(name string, kind naming.Kind, raw []byte, factory bool) error

	// Generate creates a private key in a new slot.
	Generate(name string, scheme Scheme, factory bool) error

	// Public returns the raw public key of a slot. For private key slots it
	// is the public half of the key pair.
	Public(name string) ([]byte, error)

	// Destroy deletes a slot and its key material.
	Destroy(name string) error

	// Open returns a handle to the key in a slot.
	Open(name string) (Handle, error)

	// Close releases a handle. The slot is unaffected.
	Close(h Handle) error
}
