// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

package fcctest

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"errors"
	"strings"
	"testing"

	"github.com/fido-device-onboard/go-fcc/keys"
	"github.com/fido-device-onboard/go-fcc/keyslot"
	"github.com/fido-device-onboard/go-fcc/naming"
	"github.com/fido-device-onboard/go-fcc/status"
)

// KeyStorageConfig configures RunKeyStorageTestSuite.
type KeyStorageConfig struct {
	// New returns empty key storage whose backend consults fail before
	// each faultable operation. Names passed to fail are canonical names.
	New func(t *testing.T, fail FailFunc) keys.Storage

	// ExportFaults is set if the storage reads the public key back from
	// the backend when generating a key pair, so that OpPublic faults
	// are observable.
	ExportFaults bool
}

var (
	errInjected = errors.New("injected fault")
	errUndo     = errors.New("injected rollback fault")
)

// RunKeyStorageTestSuite tests the contract of a key storage
// implementation.
//
//nolint:gocyclo
func RunKeyStorageTestSuite(t *testing.T, conf KeyStorageConfig) {
	SetDefaultLogger(t)

	newStorage := func(t *testing.T) keys.Storage {
		return conf.New(t, nil)
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	privDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		t.Fatal(err)
	}
	pubDER, err := x509.MarshalPKIXPublicKey(key.Public())
	if err != nil {
		t.Fatal(err)
	}

	t.Run("store and get public key", func(t *testing.T) {
		s := newStorage(t)
		if err := s.Store("pub", naming.PublicKey, naming.Factory, pubDER, true); err != nil {
			t.Fatal(err)
		}
		got, err := s.Get("pub", naming.PublicKey, naming.Factory)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(pubDER, got) {
			t.Fatalf("expected %x, got %x", pubDER, got)
		}
		size, err := s.Size("pub", naming.PublicKey, naming.Factory)
		if err != nil {
			t.Fatal(err)
		}
		if size != len(pubDER) {
			t.Fatalf("expected size %d, got %d", len(pubDER), size)
		}
	})

	t.Run("store private key", func(t *testing.T) {
		s := newStorage(t)
		if err := s.Store("priv", naming.PrivateKey, naming.Factory, privDER, true); err != nil {
			t.Fatal(err)
		}
		if _, err := s.Get("priv", naming.PrivateKey, naming.Factory); status.Of(err) != status.InvalidParameter {
			t.Fatalf("expected private key export to be rejected, got %v", err)
		}
		if ok, err := s.Exists("priv", naming.PrivateKey, naming.Factory); err != nil || !ok {
			t.Fatalf("expected private key to exist: %t, %v", ok, err)
		}
		got, err := s.PublicOf("priv", naming.Factory)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(pubDER, got) {
			t.Fatalf("expected public half %x, got %x", pubDER, got)
		}
	})

	t.Run("store is create only", func(t *testing.T) {
		s := newStorage(t)
		if err := s.Store("pub", naming.PublicKey, naming.Factory, pubDER, false); err != nil {
			t.Fatal(err)
		}
		if err := s.Store("pub", naming.PublicKey, naming.Factory, pubDER, false); status.Of(err) != status.ItemExists {
			t.Fatalf("expected item exists, got %v", err)
		}
		if err := s.Store("pub", naming.PublicKey, naming.User, pubDER, false); err != nil {
			t.Fatalf("expected user origin not to collide with factory origin: %v", err)
		}
	})

	t.Run("store rejects", func(t *testing.T) {
		s := newStorage(t)
		for _, test := range []struct {
			name      string
			item      string
			kind      naming.Kind
			origin    naming.Origin
			data      []byte
			isFactory bool
		}{
			{name: "empty name", item: "", kind: naming.PublicKey, data: pubDER},
			{name: "empty payload", item: "pub", kind: naming.PublicKey, data: nil},
			{name: "config kind", item: "cfg", kind: naming.Config, data: []byte("value")},
			{name: "certificate kind", item: "crt", kind: naming.Certificate, data: pubDER},
			{name: "user factory item", item: "pub", kind: naming.PublicKey, origin: naming.User, data: pubDER, isFactory: true},
			{name: "malformed key", item: "pub", kind: naming.PublicKey, data: []byte("not a key")},
			{name: "kind mismatch", item: "priv", kind: naming.PrivateKey, data: pubDER},
		} {
			t.Run(test.name, func(t *testing.T) {
				err := s.Store(test.item, test.kind, test.origin, test.data, test.isFactory)
				if status.Of(err) != status.InvalidParameter {
					t.Fatalf("expected invalid parameter, got %v", err)
				}
			})
		}
	})

	t.Run("delete", func(t *testing.T) {
		s := newStorage(t)
		if err := s.Store("pub", naming.PublicKey, naming.User, pubDER, false); err != nil {
			t.Fatal(err)
		}
		if err := s.Delete("pub", naming.PublicKey, naming.User); err != nil {
			t.Fatal(err)
		}
		if err := s.Delete("pub", naming.PublicKey, naming.User); status.Of(err) != status.ItemNotFound {
			t.Fatalf("expected item not found, got %v", err)
		}
		if _, err := s.Get("pub", naming.PublicKey, naming.User); status.Of(err) != status.ItemNotFound {
			t.Fatalf("expected item not found, got %v", err)
		}
	})

	t.Run("generate and store", func(t *testing.T) {
		s := newStorage(t)
		if err := s.GenerateAndStore(keyslot.SchemeEC256, "priv1", "pub1", naming.Factory, true); err != nil {
			t.Fatal(err)
		}
		pub, err := s.Get("pub1", naming.PublicKey, naming.Factory)
		if err != nil {
			t.Fatal(err)
		}
		half, err := s.PublicOf("priv1", naming.Factory)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(pub, half) {
			t.Fatal("stored public key does not match generated private key")
		}

		if err := s.GenerateAndStore(keyslot.SchemeEC256, "priv2", "", naming.User, false); err != nil {
			t.Fatal(err)
		}
		if ok, err := s.Exists("priv2", naming.PrivateKey, naming.User); err != nil || !ok {
			t.Fatalf("expected private key without public pair to exist: %t, %v", ok, err)
		}
	})

	t.Run("generate existing", func(t *testing.T) {
		s := newStorage(t)
		if err := s.GenerateAndStore(keyslot.SchemeEC256, "priv1", "pub1", naming.Factory, false); err != nil {
			t.Fatal(err)
		}
		if err := s.GenerateAndStore(keyslot.SchemeEC256, "priv1", "pub2", naming.Factory, false); status.Of(err) != status.ItemExists {
			t.Fatalf("expected item exists for private key, got %v", err)
		}
		if err := s.GenerateAndStore(keyslot.SchemeEC256, "priv2", "pub1", naming.Factory, false); status.Of(err) != status.ItemExists {
			t.Fatalf("expected item exists for public key, got %v", err)
		}
		for _, item := range []struct {
			name string
			kind naming.Kind
		}{
			{"priv2", naming.PrivateKey},
			{"pub2", naming.PublicKey},
		} {
			if ok, err := s.Exists(item.name, item.kind, naming.Factory); err != nil {
				t.Fatal(err)
			} else if ok {
				t.Errorf("%s was created by a rejected generate", item.name)
			}
		}
	})

	t.Run("generate rejects", func(t *testing.T) {
		s := newStorage(t)
		if err := s.GenerateAndStore(keyslot.SchemeEC256, "priv", "pub", naming.User, true); status.Of(err) != status.InvalidParameter {
			t.Fatalf("expected invalid parameter, got %v", err)
		}
		if err := s.GenerateAndStore(keyslot.SchemeEC256, "priv", "bad name", naming.Factory, false); status.Of(err) != status.InvalidParameter {
			t.Fatalf("expected invalid parameter, got %v", err)
		}
		if ok, err := s.Exists("priv", naming.PrivateKey, naming.Factory); err != nil {
			t.Fatal(err)
		} else if ok {
			t.Fatal("private key created although public name was invalid")
		}
	})

	rollbackCases := []struct {
		name string
		op   Op
	}{
		{name: "public import fails", op: OpImport},
	}
	if conf.ExportFaults {
		rollbackCases = append(rollbackCases, struct {
			name string
			op   Op
		}{name: "public export fails", op: OpPublic})
	}
	for _, test := range rollbackCases {
		t.Run("rollback when "+test.name, func(t *testing.T) {
			s := conf.New(t, func(op Op, name string) error {
				if op != test.op {
					return nil
				}
				// Export reads the private key, import writes the public key
				if strings.HasSuffix(name, ".priv1") && op == OpPublic ||
					strings.HasSuffix(name, ".pub1") && op == OpImport {
					return errInjected
				}
				return nil
			})
			err := s.GenerateAndStore(keyslot.SchemeEC256, "priv1", "pub1", naming.Factory, false)
			if !errors.Is(err, errInjected) {
				t.Fatalf("expected injected error, got %v", err)
			}
			expectAbsent(t, s, "priv1", "pub1")
		})
	}

	t.Run("rollback failure preserves error", func(t *testing.T) {
		s := conf.New(t, func(op Op, name string) error {
			switch {
			case op == OpImport && strings.HasSuffix(name, ".pub1"):
				return errInjected
			case op == OpDestroy && strings.HasSuffix(name, ".priv1"):
				return errUndo
			}
			return nil
		})
		err := s.GenerateAndStore(keyslot.SchemeEC256, "priv1", "pub1", naming.Factory, false)
		if !errors.Is(err, errInjected) || errors.Is(err, errUndo) {
			t.Fatalf("expected only the injected error, got %v", err)
		}

		// The orphan is detected by the next attempt
		if ok, err := s.Exists("priv1", naming.PrivateKey, naming.Factory); err != nil || !ok {
			t.Fatalf("expected orphaned private key: %t, %v", ok, err)
		}
		err = s.GenerateAndStore(keyslot.SchemeEC256, "priv1", "pub1", naming.Factory, false)
		if status.Of(err) != status.ItemExists {
			t.Fatalf("expected item exists, got %v", err)
		}
	})

	t.Run("handles", func(t *testing.T) {
		s := newStorage(t)
		if h, err := s.Handle("missing", naming.PrivateKey, naming.Factory); status.Of(err) != status.ItemNotFound {
			t.Fatalf("expected item not found, got %v", err)
		} else if h != 0 {
			t.Fatalf("expected zero handle on failure, got %d", h)
		}

		if err := s.GenerateAndStore(keyslot.SchemeEC256, "priv1", "pub1", naming.Factory, false); err != nil {
			t.Fatal(err)
		}
		for _, item := range []struct {
			name string
			kind naming.Kind
		}{
			{"priv1", naming.PrivateKey},
			{"pub1", naming.PublicKey},
		} {
			h, err := s.Handle(item.name, item.kind, naming.Factory)
			if err != nil {
				t.Fatal(err)
			}
			if h == 0 {
				t.Fatal("expected a non-zero handle")
			}
			if err := s.CloseHandle(&h); err != nil {
				t.Fatal(err)
			}
			if h != 0 {
				t.Fatalf("expected handle to be reset to zero, got %d", h)
			}
			if err := s.CloseHandle(&h); err != nil {
				t.Fatalf("expected closing a zero handle to succeed, got %v", err)
			}
			if h != 0 {
				t.Fatalf("expected handle to stay zero, got %d", h)
			}
		}

		// Keys outlive their handles
		if ok, err := s.Exists("priv1", naming.PrivateKey, naming.Factory); err != nil || !ok {
			t.Fatalf("expected key to survive closing its handle: %t, %v", ok, err)
		}
	})

	t.Run("finalize and reinitialize", func(t *testing.T) {
		s := newStorage(t)
		if err := s.Init(); err != nil {
			t.Fatal(err)
		}
		if err := s.GenerateAndStore(keyslot.SchemeEC256, "priv1", "", naming.Factory, false); err != nil {
			t.Fatal(err)
		}
		if err := s.Finalize(); err != nil {
			t.Fatal(err)
		}
		if err := s.Finalize(); err != nil {
			t.Fatalf("expected finalizing twice to succeed, got %v", err)
		}

		// Handle lazily initializes the backend
		h, err := s.Handle("priv1", naming.PrivateKey, naming.Factory)
		if err != nil {
			t.Fatal(err)
		}
		if err := s.CloseHandle(&h); err != nil {
			t.Fatal(err)
		}
		if err := s.Finalize(); err != nil {
			t.Fatal(err)
		}
	})

	t.Run("close after finalize", func(t *testing.T) {
		s := newStorage(t)
		if err := s.GenerateAndStore(keyslot.SchemeEC256, "priv1", "pub1", naming.Factory, false); err != nil {
			t.Fatal(err)
		}
		stale, err := s.Handle("priv1", naming.PrivateKey, naming.Factory)
		if err != nil {
			t.Fatal(err)
		}
		if err := s.Finalize(); err != nil {
			t.Fatal(err)
		}

		// A handle opened after finalizing must not be closed by the stale one
		fresh, err := s.Handle("pub1", naming.PublicKey, naming.Factory)
		if err != nil {
			t.Fatal(err)
		}
		if fresh == stale {
			t.Fatalf("expected a new handle after finalize, got %d again", fresh)
		}
		if err := s.CloseHandle(&stale); err != nil {
			t.Fatalf("expected closing a finalized handle to succeed, got %v", err)
		}
		if stale != 0 {
			t.Fatalf("expected finalized handle to be reset to zero, got %d", stale)
		}
		if err := s.CloseHandle(&fresh); err != nil {
			t.Fatalf("expected the fresh handle to still be open, got %v", err)
		}
		if fresh != 0 {
			t.Fatalf("expected handle to be reset to zero, got %d", fresh)
		}

		unknown := keys.Handle(1 << 30)
		if err := s.CloseHandle(&unknown); status.Of(err) != status.InvalidParameter {
			t.Fatalf("expected invalid parameter for a handle never issued, got %v", err)
		}
		if err := s.Finalize(); err != nil {
			t.Fatal(err)
		}
	})
}

func expectAbsent(t *testing.T, s keys.Storage, privName, pubName string) {
	t.Helper()
	if ok, err := s.Exists(privName, naming.PrivateKey, naming.Factory); err != nil {
		t.Fatal(err)
	} else if ok {
		t.Errorf("orphaned private key %q left behind", privName)
	}
	if ok, err := s.Exists(pubName, naming.PublicKey, naming.Factory); err != nil {
		t.Fatal(err)
	} else if ok {
		t.Errorf("public key %q left behind", pubName)
	}
}
