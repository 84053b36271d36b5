// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

// Package keys stores, fetches and generates key material by logical name.
//
// Two implementations of [Storage] exist: [SlotStorage] routes keys into a
// secure key slot backend and [StoreStorage] keeps DER encoded keys in a
// secure store. Which one a device uses is decided when it is constructed.
//
// Neither implementation is safe for concurrent use.
package keys

import (
	"github.com/fido-device-onboard/go-fcc/keyslot"
	"github.com/fido-device-onboard/go-fcc/naming"
	"github.com/fido-device-onboard/go-fcc/status"
)

// Handle refers to an opened key. The zero Handle is closed.
type Handle = keyslot.Handle

// Storage is the key storage abstraction.
//
// Keys are addressed by logical name, kind and origin. Payloads passed to
// Store and returned from Get are DER: PKCS#8 or SEC 1 for private keys and
// PKIX for public keys.
type Storage interface {
	// Init prepares the storage. Other methods initialize lazily, so
	// calling Init is only needed to surface errors early.
	Init() error

	// Finalize releases the underlying backend. The next operation
	// initializes it again.
	Finalize() error

	// Store creates a key. It never overwrites: an existing key is
	// status.ItemExists.
	Store(name string, kind naming.Kind, origin naming.Origin, data []byte, isFactory bool) error

	// Get returns a public key. Private keys cannot be fetched.
	Get(name string, kind naming.Kind, origin naming.Origin) ([]byte, error)

	// Size returns the size of the DER encoding Get would return. The
	// whole record is read from the backend before it is bounded, so the
	// cost follows the backend's own record size limit.
	Size(name string, kind naming.Kind, origin naming.Origin) (int, error)

	// Delete removes a key.
	Delete(name string, kind naming.Kind, origin naming.Origin) error

	// GenerateAndStore generates a private key and, if pubName is not
	// empty, stores its public half as a public key. On failure nothing is
	// left behind, unless removing the generated private key also failed.
	GenerateAndStore(scheme keyslot.Scheme, privName, pubName string, origin naming.Origin, isFactory bool) error

	// Handle opens a key. On error the returned handle is zero.
	Handle(name string, kind naming.Kind, origin naming.Origin) (Handle, error)

	// CloseHandle closes *h and sets it to zero. Closing a zero handle
	// does nothing.
	CloseHandle(h *Handle) error

	// Exists reports whether a key is stored.
	Exists(name string, kind naming.Kind, origin naming.Origin) (bool, error)

	// PublicOf returns the DER public half of a stored private key.
	PublicOf(privName string, origin naming.Origin) ([]byte, error)
}

func keyName(name string, kind naming.Kind, origin naming.Origin) (string, error) {
	if !kind.IsKey() {
		return "", status.Errorf(status.InvalidParameter, "unsupported item kind %s", kind)
	}
	return naming.Build(kind, origin, name)
}

func checkStore(name string, kind naming.Kind, origin naming.Origin, data []byte, isFactory bool) (string, error) {
	if len(data) == 0 {
		return "", status.Errorf(status.InvalidParameter, "empty key data for %q", name)
	}
	if origin == naming.User && isFactory {
		return "", status.Errorf(status.InvalidParameter, "user provisioned key %q cannot be a factory item", name)
	}
	return keyName(name, kind, origin)
}

func checkGenerate(privName, pubName string, origin naming.Origin, isFactory bool) (privKey, pubKey string, _ error) {
	if origin == naming.User && isFactory {
		return "", "", status.Errorf(status.InvalidParameter, "user provisioned key %q cannot be a factory item", privName)
	}
	privKey, err := naming.Build(naming.PrivateKey, origin, privName)
	if err != nil {
		return "", "", err
	}
	if pubName == "" {
		return privKey, "", nil
	}
	pubKey, err = naming.Build(naming.PublicKey, origin, pubName)
	if err != nil {
		return "", "", err
	}
	return privKey, pubKey, nil
}

// storageErr maps an error without a status to StorageError.
func storageErr(err error) error {
	if status.Of(err) == status.Error {
		return status.Wrap(status.StorageError, err)
	}
	return err
}
