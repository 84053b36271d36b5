// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

package fcctest

import (
	"bytes"
	"crypto/ecdh"
	"crypto/rand"
	"testing"

	"github.com/fido-device-onboard/go-fcc/keyslot"
	"github.com/fido-device-onboard/go-fcc/naming"
	"github.com/fido-device-onboard/go-fcc/status"
)

// RunBackendTestSuite tests the contract of a key slot backend.
// newBackend must return an uninitialized backend with no slots.
//
//nolint:gocyclo
func RunBackendTestSuite(t *testing.T, newBackend func(*testing.T) keyslot.Backend) {
	SetDefaultLogger(t)

	open := func(t *testing.T) keyslot.Backend {
		t.Helper()
		b := newBackend(t)
		if err := b.Init(); err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() {
			if err := b.Finalize(); err != nil {
				t.Error(err)
			}
		})
		return b
	}

	t.Run("not initialized", func(t *testing.T) {
		b := newBackend(t)
		if _, err := b.Exists("key"); status.Of(err) != status.NotInitialized {
			t.Fatalf("expected not initialized, got %v", err)
		}
		if err := b.Generate("key", keyslot.SchemeEC256, false); status.Of(err) != status.NotInitialized {
			t.Fatalf("expected not initialized, got %v", err)
		}
	})

	t.Run("generate", func(t *testing.T) {
		b := open(t)
		if err := b.Generate("key", keyslot.SchemeEC256, true); err != nil {
			t.Fatal(err)
		}
		if ok, err := b.Exists("key"); err != nil {
			t.Fatal(err)
		} else if !ok {
			t.Fatal("expected generated key to exist")
		}
		pub, err := b.Public("key")
		if err != nil {
			t.Fatal(err)
		}
		if _, err := ecdh.P256().NewPublicKey(pub); err != nil {
			t.Fatalf("invalid public key %x: %v", pub, err)
		}
		if err := b.Generate("key", keyslot.SchemeEC256, true); status.Of(err) != status.ItemExists {
			t.Fatalf("expected item exists, got %v", err)
		}
		if err := b.Generate("other", keyslot.SchemeNone, true); status.Of(err) != status.InvalidParameter {
			t.Fatalf("expected invalid parameter for unsupported scheme, got %v", err)
		}
	})

	t.Run("import", func(t *testing.T) {
		b := open(t)
		key, err := ecdh.P256().GenerateKey(rand.Reader)
		if err != nil {
			t.Fatal(err)
		}

		if err := b.Import("priv", naming.PrivateKey, key.Bytes(), false); err != nil {
			t.Fatal(err)
		}
		if err := b.Import("pub", naming.PublicKey, key.PublicKey().Bytes(), false); err != nil {
			t.Fatal(err)
		}
		for _, name := range []string{"priv", "pub"} {
			got, err := b.Public(name)
			if err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(got, key.PublicKey().Bytes()) {
				t.Errorf("%s: expected public key %x, got %x", name, key.PublicKey().Bytes(), got)
			}
		}

		if err := b.Import("pub", naming.PublicKey, key.PublicKey().Bytes(), false); status.Of(err) != status.ItemExists {
			t.Fatalf("expected item exists, got %v", err)
		}
		if err := b.Import("cfg", naming.Config, []byte("value"), false); status.Of(err) != status.InvalidParameter {
			t.Fatalf("expected invalid parameter, got %v", err)
		}
		if err := b.Import("bad", naming.PublicKey, []byte{0x04, 0x01}, false); status.Of(err) != status.InvalidParameter {
			t.Fatalf("expected invalid parameter, got %v", err)
		}
	})

	t.Run("open and close", func(t *testing.T) {
		b := open(t)
		key, err := ecdh.P256().GenerateKey(rand.Reader)
		if err != nil {
			t.Fatal(err)
		}
		if err := b.Generate("generated", keyslot.SchemeEC256, false); err != nil {
			t.Fatal(err)
		}
		if err := b.Import("imported", naming.PrivateKey, key.Bytes(), false); err != nil {
			t.Fatal(err)
		}
		if err := b.Import("public", naming.PublicKey, key.PublicKey().Bytes(), false); err != nil {
			t.Fatal(err)
		}

		for _, name := range []string{"generated", "imported", "public"} {
			h, err := b.Open(name)
			if err != nil {
				t.Fatalf("%s: %v", name, err)
			}
			if h == 0 {
				t.Fatalf("%s: opened zero handle", name)
			}
			if err := b.Close(h); err != nil {
				t.Fatalf("%s: %v", name, err)
			}
			if err := b.Close(h); status.Of(err) != status.InvalidParameter {
				t.Fatalf("%s: expected invalid parameter closing twice, got %v", name, err)
			}
		}

		if _, err := b.Open("missing"); status.Of(err) != status.ItemNotFound {
			t.Fatalf("expected item not found, got %v", err)
		}
	})

	t.Run("destroy", func(t *testing.T) {
		b := open(t)
		if err := b.Generate("key", keyslot.SchemeEC256, false); err != nil {
			t.Fatal(err)
		}
		if err := b.Destroy("key"); err != nil {
			t.Fatal(err)
		}
		if ok, err := b.Exists("key"); err != nil {
			t.Fatal(err)
		} else if ok {
			t.Fatal("expected destroyed key to be gone")
		}
		if err := b.Destroy("key"); status.Of(err) != status.ItemNotFound {
			t.Fatalf("expected item not found, got %v", err)
		}
		if err := b.Generate("key", keyslot.SchemeEC256, false); err != nil {
			t.Fatalf("expected name to be reusable after destroy: %v", err)
		}
	})

	t.Run("reinitialize", func(t *testing.T) {
		b := newBackend(t)
		if err := b.Init(); err != nil {
			t.Fatal(err)
		}
		if err := b.Generate("key", keyslot.SchemeEC256, false); err != nil {
			t.Fatal(err)
		}
		pub, err := b.Public("key")
		if err != nil {
			t.Fatal(err)
		}
		if err := b.Finalize(); err != nil {
			t.Fatal(err)
		}
		if err := b.Init(); err != nil {
			t.Fatal(err)
		}
		defer func() { _ = b.Finalize() }()

		got, err := b.Public("key")
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(pub, got) {
			t.Fatal("public key changed across finalize")
		}
		h, err := b.Open("key")
		if err != nil {
			t.Fatalf("opening generated key after reinitializing: %v", err)
		}
		if err := b.Close(h); err != nil {
			t.Fatal(err)
		}
	})
}
