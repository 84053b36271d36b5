// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

package keys_test

import (
	"crypto/rand"
	"strings"
	"testing"

	"github.com/fido-device-onboard/go-fcc/fcctest"
	"github.com/fido-device-onboard/go-fcc/internal/memory"
	"github.com/fido-device-onboard/go-fcc/keys"
	"github.com/fido-device-onboard/go-fcc/keyslot"
	"github.com/fido-device-onboard/go-fcc/naming"
	"github.com/fido-device-onboard/go-fcc/status"
)

func TestSlotStorage(t *testing.T) {
	fcctest.RunKeyStorageTestSuite(t, fcctest.KeyStorageConfig{
		New: func(t *testing.T, fail fcctest.FailFunc) keys.Storage {
			sw := keyslot.NewSoftware(memory.NewStore(), rand.Reader)
			return keys.NewSlotStorage(&fcctest.FaultyBackend{Backend: sw, Fail: fail})
		},
		ExportFaults: true,
	})
}

func TestStoreStorage(t *testing.T) {
	fcctest.RunKeyStorageTestSuite(t, fcctest.KeyStorageConfig{
		New: func(t *testing.T, fail fcctest.FailFunc) keys.Storage {
			store := memory.NewStore()
			if fail != nil {
				store.Fail = func(op, name string) error {
					switch {
					case op == "write" && strings.Contains(name, ".pub."):
						return fail(fcctest.OpImport, name)
					case op == "write":
						return fail(fcctest.OpGenerate, name)
					case op == "delete":
						return fail(fcctest.OpDestroy, name)
					}
					return nil
				}
			}
			return keys.NewStoreStorage(store, rand.Reader)
		},
	})
}

func TestStoreStorageNormalizesDER(t *testing.T) {
	store := memory.NewStore()
	s := keys.NewStoreStorage(store, rand.Reader)
	if err := s.GenerateAndStore(keyslot.SchemeEC256, "priv", "pub", naming.Factory, true); err != nil {
		t.Fatal(err)
	}
	pub, err := s.Get("pub", naming.PublicKey, naming.Factory)
	if err != nil {
		t.Fatal(err)
	}
	size, err := s.Size("pub", naming.PublicKey, naming.Factory)
	if err != nil {
		t.Fatal(err)
	}
	if size != len(pub) || size != 91 {
		t.Fatalf("expected a 91 byte P-256 SubjectPublicKeyInfo, got %d", size)
	}

	// Key items are write once
	name, err := naming.Build(naming.PrivateKey, naming.Factory, "priv")
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Write(name, []byte("replacement"), false); status.Of(err) != status.ItemExists {
		t.Fatalf("expected private key to be write once, got %v", err)
	}
}

func TestStoreStorageSizeOversized(t *testing.T) {
	store := memory.NewStore()
	name, err := naming.Build(naming.PublicKey, naming.Factory, "pub")
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Write(name, make([]byte, 4096), true); err != nil {
		t.Fatal(err)
	}
	s := keys.NewStoreStorage(store, rand.Reader)
	if _, err := s.Size("pub", naming.PublicKey, naming.Factory); status.Of(err) != status.StorageError {
		t.Fatalf("expected storage error for an oversized key, got %v", err)
	}
}

func TestSlotStorageUnsupportedScheme(t *testing.T) {
	s := keys.NewSlotStorage(keyslot.NewSoftware(memory.NewStore(), rand.Reader))
	err := s.GenerateAndStore(keyslot.SchemeNone, "priv", "pub", naming.Factory, false)
	if status.Of(err) != status.InvalidParameter {
		t.Fatalf("expected invalid parameter, got %v", err)
	}
	if ok, err := s.Exists("priv", naming.PrivateKey, naming.Factory); err != nil || ok {
		t.Fatalf("expected no key after a rejected generate: %t, %v", ok, err)
	}
}
