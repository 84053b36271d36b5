// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

package keys

import (
	"crypto/ecdh"
	"io"

	"github.com/fido-device-onboard/go-fcc/keycodec"
	"github.com/fido-device-onboard/go-fcc/keyslot"
	"github.com/fido-device-onboard/go-fcc/naming"
	"github.com/fido-device-onboard/go-fcc/status"
	"github.com/fido-device-onboard/go-fcc/storage"
)

// StoreStorage keeps DER encoded keys directly in a secure store, for
// devices without a key slot backend. Private keys are normalized to PKCS#8
// and public keys to PKIX.
//
// Handles are only valid within the process. Finalize releases them, after
// which closing one only zeroes it.
type StoreStorage struct {
	store storage.Store
	rand  io.Reader

	handles map[Handle]string
	next    Handle
}

var _ Storage = (*StoreStorage)(nil)

// NewStoreStorage returns key storage backed by store, generating keys
// with entropy from rand.
func NewStoreStorage(store storage.Store, rand io.Reader) *StoreStorage {
	return &StoreStorage{store: store, rand: rand}
}

// Init implements Storage.
func (s *StoreStorage) Init() error {
	if s.handles == nil {
		s.handles = make(map[Handle]string)
	}
	return nil
}

// Finalize implements Storage.
func (s *StoreStorage) Finalize() error {
	s.handles = nil
	return nil
}

func (s *StoreStorage) exists(key string) (bool, error) {
	switch _, err := s.store.Read(key); status.Of(err) {
	case status.Success:
		return true, nil
	case status.ItemNotFound:
		return false, nil
	default:
		return false, storageErr(err)
	}
}

// Store implements Storage.
func (s *StoreStorage) Store(name string, kind naming.Kind, origin naming.Origin, data []byte, isFactory bool) error {
	key, err := checkStore(name, kind, origin, data, isFactory)
	if err != nil {
		return err
	}

	var der []byte
	if kind == naming.PrivateKey {
		var raw []byte
		if raw, err = keycodec.PrivateDERToRaw(data); err == nil {
			der, err = keycodec.PrivateRawToDER(raw)
		}
	} else {
		var raw []byte
		if raw, err = keycodec.PublicDERToRaw(data); err == nil {
			der, err = keycodec.PublicRawToDER(raw)
		}
	}
	if err != nil {
		return err
	}

	return storageErr(s.store.Write(key, der, true))
}

// Get implements Storage.
func (s *StoreStorage) Get(name string, kind naming.Kind, origin naming.Origin) ([]byte, error) {
	if kind != naming.PublicKey {
		return nil, status.Errorf(status.InvalidParameter, "only public keys can be fetched")
	}
	key, err := keyName(name, kind, origin)
	if err != nil {
		return nil, err
	}
	der, err := s.store.Read(key)
	return der, storageErr(err)
}

// Size implements Storage.
func (s *StoreStorage) Size(name string, kind naming.Kind, origin naming.Origin) (int, error) {
	return sizeOf(s.Get(name, kind, origin))
}

// Delete implements Storage.
func (s *StoreStorage) Delete(name string, kind naming.Kind, origin naming.Origin) error {
	key, err := keyName(name, kind, origin)
	if err != nil {
		return err
	}
	return storageErr(s.store.Delete(key))
}

// GenerateAndStore implements Storage.
func (s *StoreStorage) GenerateAndStore(scheme keyslot.Scheme, privName, pubName string, origin naming.Origin, isFactory bool) error {
	privKey, pubKey, err := checkGenerate(privName, pubName, origin, isFactory)
	if err != nil {
		return err
	}
	if scheme != keyslot.SchemeEC256 {
		return status.Errorf(status.InvalidParameter, "unsupported scheme %s", scheme)
	}
	for _, key := range []string{privKey, pubKey} {
		if key == "" {
			continue
		}
		if ok, err := s.exists(key); err != nil {
			return err
		} else if ok {
			return status.Errorf(status.ItemExists, "%q", key)
		}
	}

	key, err := ecdh.P256().GenerateKey(s.rand)
	if err != nil {
		return status.Errorf(status.EntropyError, "generating key: %w", err)
	}
	privDER, err := keycodec.PrivateRawToDER(key.Bytes())
	if err != nil {
		return err
	}

	var t tx
	defer t.rollback()

	if err := s.store.Write(privKey, privDER, true); err != nil {
		return storageErr(err)
	}
	t.onRollback("delete "+privKey, func() error { return s.store.Delete(privKey) })

	if pubKey != "" {
		pubDER, err := keycodec.PublicRawToDER(key.PublicKey().Bytes())
		if err != nil {
			return err
		}
		if err := s.store.Write(pubKey, pubDER, true); err != nil {
			return storageErr(err)
		}
	}

	t.commit()
	return nil
}

// Handle implements Storage.
func (s *StoreStorage) Handle(name string, kind naming.Kind, origin naming.Origin) (Handle, error) {
	key, err := keyName(name, kind, origin)
	if err != nil {
		return 0, err
	}
	if err := s.Init(); err != nil {
		return 0, err
	}
	if ok, err := s.exists(key); err != nil {
		return 0, err
	} else if !ok {
		return 0, status.Errorf(status.ItemNotFound, "%q", key)
	}
	s.next++
	if s.next == 0 {
		s.next++
	}
	s.handles[s.next] = key
	return s.next, nil
}

// CloseHandle implements Storage.
func (s *StoreStorage) CloseHandle(h *Handle) error {
	if h == nil {
		return status.Errorf(status.InvalidParameter, "nil key handle")
	}
	if *h == 0 {
		return nil
	}
	if *h > s.next {
		return status.Errorf(status.InvalidParameter, "unknown key handle %d", *h)
	}
	// A handle missing from the map was released by Finalize
	delete(s.handles, *h)
	*h = 0
	return nil
}

// Exists implements Storage.
func (s *StoreStorage) Exists(name string, kind naming.Kind, origin naming.Origin) (bool, error) {
	key, err := keyName(name, kind, origin)
	if err != nil {
		return false, err
	}
	return s.exists(key)
}

// PublicOf implements Storage.
func (s *StoreStorage) PublicOf(privName string, origin naming.Origin) ([]byte, error) {
	key, err := naming.Build(naming.PrivateKey, origin, privName)
	if err != nil {
		return nil, err
	}
	der, err := s.store.Read(key)
	if err != nil {
		return nil, storageErr(err)
	}
	return keycodec.PublicFromPrivateDER(der)
}
